// Package testutil provides shared fixtures for RecruitPipe package tests: a
// throwaway SQLite store, a scripted language model and HTTP assertion helpers.
package testutil

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"sync"
	"testing"

	"github.com/BTreeMap/RecruitPipe/internal/conversation"
	"github.com/BTreeMap/RecruitPipe/internal/genai"
	"github.com/BTreeMap/RecruitPipe/internal/store"
)

// ErrNotScripted is returned by ScriptedModel for calls it has no answer for.
var ErrNotScripted = errors.New("no reply scripted")

// NewStore opens a fresh SQLite store under t.TempDir and closes it on cleanup.
func NewStore(t testing.TB) *store.SQLStore {
	t.Helper()
	st, err := store.NewSQLStore(store.WithSQLiteDSN(filepath.Join(t.TempDir(), "recruitpipe.db")))
	if err != nil {
		t.Fatalf("failed to open test store: %v", err)
	}
	t.Cleanup(func() { st.Close() })
	return st
}

// NewPlanner builds a planner over the default config, optionally backed by m.
func NewPlanner(t testing.TB, m genai.Model) *conversation.Planner {
	t.Helper()
	var opts []conversation.Option
	if m != nil {
		opts = append(opts, conversation.WithModel(m))
	}
	p, err := conversation.NewPlanner(conversation.DefaultConfig(), opts...)
	if err != nil {
		t.Fatalf("failed to build planner: %v", err)
	}
	return p
}

// ScriptedModel is a genai.Model answering Complete calls from a per-operation script.
// Operations without a script, and every structured call, fail with ErrNotScripted
// so the planner takes its deterministic path.
type ScriptedModel struct {
	mu      sync.Mutex
	replies map[string]string
	calls   []string
}

// NewScriptedModel returns a model answering op with replies[op].
func NewScriptedModel(replies map[string]string) *ScriptedModel {
	return &ScriptedModel{replies: replies}
}

// Name implements genai.Model.
func (m *ScriptedModel) Name() string { return "scripted-model" }

// Complete implements genai.Model.
func (m *ScriptedModel) Complete(_ context.Context, req genai.CompletionRequest) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls = append(m.calls, req.Operation)
	if r, ok := m.replies[req.Operation]; ok {
		return r, nil
	}
	return "", ErrNotScripted
}

// CompleteStructured implements genai.Model.
func (m *ScriptedModel) CompleteStructured(_ context.Context, req genai.StructuredRequest, _ any) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls = append(m.calls, req.Operation)
	return ErrNotScripted
}

// Calls returns the operations requested so far.
func (m *ScriptedModel) Calls() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]string(nil), m.calls...)
}

// AssertHTTPStatus fails the test when the status code differs.
func AssertHTTPStatus(t testing.TB, expected, actual int, context string) {
	t.Helper()
	if actual != expected {
		t.Errorf("%s: expected status %d, got %d", context, expected, actual)
	}
}

// DecodeJSON decodes a recorded response body into a generic map.
func DecodeJSON(t testing.TB, rr *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var out map[string]any
	if err := json.NewDecoder(rr.Body).Decode(&out); err != nil {
		t.Fatalf("failed to decode JSON response: %v (body %q)", err, rr.Body.String())
	}
	return out
}

// AssertJSONStatus decodes the APIResponse envelope and checks its status field.
func AssertJSONStatus(t testing.TB, rr *httptest.ResponseRecorder, expectedStatus string) map[string]any {
	t.Helper()
	out := DecodeJSON(t, rr)
	if status, _ := out["status"].(string); status != expectedStatus {
		t.Errorf("expected status %q, got %q (body %v)", expectedStatus, status, out)
	}
	return out
}

// JSONRequest builds a request with body marshalled as JSON.
func JSONRequest(t testing.TB, method, url string, body any) *http.Request {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatalf("failed to encode request body: %v", err)
		}
	}
	req := httptest.NewRequest(method, url, &buf)
	req.Header.Set("Content-Type", "application/json")
	return req
}
