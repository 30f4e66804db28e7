package metrics

import (
	"errors"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestObserveLLM(t *testing.T) {
	before := testutil.ToFloat64(LLMRequestsTotal.WithLabelValues("analyze", "error"))
	ObserveLLM("analyze", time.Now(), errors.New("boom"))
	ObserveLLM("analyze", time.Now(), nil)
	if got := testutil.ToFloat64(LLMRequestsTotal.WithLabelValues("analyze", "error")); got != before+1 {
		t.Errorf("expected error counter %v, got %v", before+1, got)
	}
}

func TestHandlerExposesCollectors(t *testing.T) {
	ClosesTotal.WithLabelValues("human").Inc()
	rec := httptest.NewRecorder()
	Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))
	if rec.Code != 200 {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), "recruitpipe_closes_total") {
		t.Error("expected recruitpipe_closes_total in exposition")
	}
}
