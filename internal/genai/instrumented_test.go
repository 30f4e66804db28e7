package genai

import (
	"context"
	"errors"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"

	"github.com/BTreeMap/RecruitPipe/internal/metrics"
)

type stubModel struct {
	text string
	err  error
}

func (s stubModel) Complete(ctx context.Context, req CompletionRequest) (string, error) {
	return s.text, s.err
}

func (s stubModel) CompleteStructured(ctx context.Context, req StructuredRequest, out any) error {
	if s.err != nil {
		return s.err
	}
	return decodeJSON(s.text, out)
}

func (s stubModel) Name() string { return "stub" }

func TestInstrumentedCountsCalls(t *testing.T) {
	okBefore := testutil.ToFloat64(metrics.LLMRequestsTotal.WithLabelValues("generate", "ok"))
	errBefore := testutil.ToFloat64(metrics.LLMRequestsTotal.WithLabelValues("analyze", "error"))

	m := Instrument(stubModel{text: "Labas"})
	out, err := m.Complete(context.Background(), CompletionRequest{Operation: "generate"})
	if err != nil || out != "Labas" {
		t.Fatalf("unexpected result %q, %v", out, err)
	}
	failing := Instrument(stubModel{err: errors.New("timeout")})
	var v map[string]any
	if err := failing.CompleteStructured(context.Background(), StructuredRequest{Operation: "analyze"}, &v); err == nil {
		t.Fatal("expected error")
	}

	if got := testutil.ToFloat64(metrics.LLMRequestsTotal.WithLabelValues("generate", "ok")); got != okBefore+1 {
		t.Errorf("expected ok counter %v, got %v", okBefore+1, got)
	}
	if got := testutil.ToFloat64(metrics.LLMRequestsTotal.WithLabelValues("analyze", "error")); got != errBefore+1 {
		t.Errorf("expected error counter %v, got %v", errBefore+1, got)
	}
	if m.Name() != "stub" {
		t.Errorf("expected stub, got %s", m.Name())
	}
}
