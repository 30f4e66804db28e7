package testutil

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/BTreeMap/RecruitPipe/internal/genai"
)

func TestScriptedModel(t *testing.T) {
	m := NewScriptedModel(map[string]string{"opener": "Sveiki?"})
	out, err := m.Complete(context.Background(), genai.CompletionRequest{Operation: "opener"})
	if err != nil || out != "Sveiki?" {
		t.Fatalf("Complete(opener) = %q, %v", out, err)
	}
	if _, err := m.Complete(context.Background(), genai.CompletionRequest{Operation: "reply"}); !errors.Is(err, ErrNotScripted) {
		t.Fatalf("expected ErrNotScripted, got %v", err)
	}
	if err := m.CompleteStructured(context.Background(), genai.StructuredRequest{Operation: "analyze"}, nil); !errors.Is(err, ErrNotScripted) {
		t.Fatalf("expected ErrNotScripted, got %v", err)
	}
	if got := m.Calls(); len(got) != 3 || got[2] != "analyze" {
		t.Fatalf("unexpected calls %v", got)
	}
}

func TestNewStoreAndPlanner(t *testing.T) {
	st := NewStore(t)
	if _, err := st.EnsureContact(context.Background(), "+37060000000"); err != nil {
		t.Fatalf("EnsureContact: %v", err)
	}
	p := NewPlanner(t, nil)
	if p.PromptInfo() == "" {
		t.Fatal("expected prompt info")
	}
}

func TestJSONHelpers(t *testing.T) {
	req := JSONRequest(t, http.MethodPost, "/x", map[string]string{"a": "b"})
	if req.Header.Get("Content-Type") != "application/json" {
		t.Fatalf("missing content type")
	}
	rr := httptest.NewRecorder()
	rr.WriteString(`{"status":"ok","result":{"n":1}}`)
	out := AssertJSONStatus(t, rr, "ok")
	if _, ok := out["result"]; !ok {
		t.Fatalf("expected result in %v", out)
	}
}
