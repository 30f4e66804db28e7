package reporting

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/sendgrid/sendgrid-go/helpers/mail"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
	"google.golang.org/api/option"

	"github.com/BTreeMap/RecruitPipe/internal/metrics"
	"github.com/BTreeMap/RecruitPipe/internal/models"
)

func TestEventRow(t *testing.T) {
	years := 5
	sent := true
	e := Event{
		Time:           time.Date(2026, 3, 2, 10, 0, 0, 0, time.UTC),
		Phone:          "+37060000001",
		City:           "Kaunas",
		Specialty:      "elektrikas",
		Direction:      models.DirectionOut,
		Text:           "Kiek metų patirties turite?",
		Sent:           &sent,
		JobInterest:    models.InterestYes,
		FutureInterest: models.InterestUnknown,
		Intent:         models.IntentAccept,
		Years:          &years,
		Model:          "gpt-4o-mini",
		PromptSHA:      "abc123def456",
		ThreadID:       7,
	}
	want := []any{
		"2026-03-02T10:00:00Z", "", "+37060000001", "Kaunas", "elektrikas",
		"out", "Kiek metų patirties turite?", "TRUE",
		"", "yes", "unknown", "accept",
		"5", "",
		"gpt-4o-mini", "abc123def456", "7", "",
	}
	if diff := cmp.Diff(want, e.Row()); diff != "" {
		t.Fatalf("Row mismatch (-want +got):\n%s", diff)
	}
	if len(e.Row()) != len(Headers) {
		t.Fatalf("row has %d cells, headers %d", len(e.Row()), len(Headers))
	}

	in := Event{Direction: models.DirectionIn}
	row := in.Row()
	assert.Equal(t, "", row[7], "received messages have an empty msg_sent")
	assert.Equal(t, "", row[12])
	assert.Equal(t, "", row[16])
}

type recordingSink struct {
	mu     sync.Mutex
	events []Event
	err    error
	block  chan struct{}
}

func (r *recordingSink) Append(_ context.Context, e Event) error {
	if r.block != nil {
		<-r.block
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, e)
	return r.err
}

func TestAsyncSinkForwardsAndDrains(t *testing.T) {
	defer goleak.VerifyNone(t)

	next := &recordingSink{}
	a := NewAsyncSink(next, 4)
	for i := 1; i <= 3; i++ {
		require.NoError(t, a.Append(context.Background(), Event{ThreadID: int64(i)}))
	}
	require.NoError(t, a.Close(context.Background()))
	require.Len(t, next.events, 3)
	assert.Equal(t, int64(3), next.events[2].ThreadID)
}

func TestAsyncSinkDropsOnOverflow(t *testing.T) {
	defer goleak.VerifyNone(t)

	before := testutil.ToFloat64(metrics.ReportEventsTotal.WithLabelValues("dropped"))
	next := &recordingSink{block: make(chan struct{})}
	a := NewAsyncSink(next, 1)

	// The worker takes the first event and blocks; the second fills the buffer.
	require.NoError(t, a.Append(context.Background(), Event{ThreadID: 1}))
	require.Eventually(t, func() bool { return len(a.events) == 0 }, time.Second, time.Millisecond)
	require.NoError(t, a.Append(context.Background(), Event{ThreadID: 2}))
	require.NoError(t, a.Append(context.Background(), Event{ThreadID: 3}))

	assert.Equal(t, before+1, testutil.ToFloat64(metrics.ReportEventsTotal.WithLabelValues("dropped")))
	close(next.block)
	require.NoError(t, a.Close(context.Background()))
	assert.Len(t, next.events, 2)
}

func TestAsyncSinkCountsErrors(t *testing.T) {
	before := testutil.ToFloat64(metrics.ReportEventsTotal.WithLabelValues("error"))
	a := NewAsyncSink(&recordingSink{err: errors.New("sheet unavailable")}, 1)
	require.NoError(t, a.Append(context.Background(), Event{}))
	require.NoError(t, a.Close(context.Background()))
	assert.Equal(t, before+1, testutil.ToFloat64(metrics.ReportEventsTotal.WithLabelValues("error")))
}

func newSheetsTestSink(t *testing.T, h http.HandlerFunc) *SheetsSink {
	t.Helper()
	srv := httptest.NewServer(h)
	t.Cleanup(srv.Close)
	s, err := NewSheetsSink(context.Background(), "sheet-id",
		option.WithEndpoint(srv.URL+"/"), option.WithoutAuthentication(), option.WithHTTPClient(srv.Client()))
	require.NoError(t, err)
	s.sleep = func(context.Context, time.Duration) error { return nil }
	return s
}

func TestSheetsSinkAppendRetriesTransientErrors(t *testing.T) {
	var calls int32
	var body map[string]any
	s := newSheetsTestSink(t, func(w http.ResponseWriter, r *http.Request) {
		if !strings.Contains(r.URL.Path, ":append") {
			http.NotFound(w, r)
			return
		}
		if atomic.AddInt32(&calls, 1) < 3 {
			w.WriteHeader(http.StatusServiceUnavailable)
			io.WriteString(w, `{"error":{"code":503,"message":"backend error"}}`)
			return
		}
		json.NewDecoder(r.Body).Decode(&body)
		io.WriteString(w, `{"updates":{"updatedRange":"Leads!A2:R2"}}`)
	})

	err := s.Append(context.Background(), Event{Phone: "+37060000001", ThreadID: 1})
	require.NoError(t, err)
	assert.Equal(t, int32(3), atomic.LoadInt32(&calls))
	values := body["values"].([]any)
	row := values[0].([]any)
	assert.Equal(t, "+37060000001", row[2])
}

func TestSheetsSinkAppendStopsOnPermanentError(t *testing.T) {
	var calls int32
	s := newSheetsTestSink(t, func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		w.WriteHeader(http.StatusForbidden)
		io.WriteString(w, `{"error":{"code":403,"message":"forbidden"}}`)
	})
	err := s.Append(context.Background(), Event{})
	require.Error(t, err)
	assert.Equal(t, int32(1), atomic.LoadInt32(&calls))
}

func TestSheetsSinkEnsureHeadersCreatesSheet(t *testing.T) {
	var added, updated bool
	s := newSheetsTestSink(t, func(w http.ResponseWriter, r *http.Request) {
		switch {
		case strings.HasSuffix(r.URL.Path, ":batchUpdate"):
			added = true
			io.WriteString(w, `{}`)
		case strings.Contains(r.URL.Path, "/values/") && r.Method == http.MethodPut:
			updated = true
			io.WriteString(w, `{}`)
		case r.Method == http.MethodGet:
			io.WriteString(w, `{"sheets":[{"properties":{"title":"Sheet1"}}]}`)
		default:
			http.NotFound(w, r)
		}
	})
	require.NoError(t, s.EnsureHeaders(context.Background()))
	assert.True(t, added)
	assert.True(t, updated)
}

func TestHandoffNotifier(t *testing.T) {
	assert.Nil(t, NewHandoffNotifier("", "from@example.com", "to@example.com"))
	var nilNotifier *HandoffNotifier
	require.NoError(t, nilNotifier.Notify(context.Background(), Handoff{}))

	n := NewHandoffNotifier("key", "bot@example.com", "recruit@example.com")
	require.NotNil(t, n)
	var sent *mail.SGMailV3
	n.send = func(_ context.Context, m *mail.SGMailV3) (int, string, error) {
		sent = m
		return 202, "", nil
	}
	years := 6
	h := Handoff{
		Phone: "+37060000001", City: "Kaunas", Specialty: "elektrikas", Years: &years, ThreadID: 3,
		Transcript: []models.Message{
			{Direction: models.DirectionOut, Body: "Sveiki!"},
			{Direction: models.DirectionIn, Body: "paskambinkit"},
		},
	}
	require.NoError(t, n.Notify(context.Background(), h))
	require.NotNil(t, sent)
	assert.Contains(t, sent.Subject, "+37060000001")
	body := sent.Content[0].Value
	assert.Contains(t, body, "Years: 6")
	assert.Contains(t, body, "candidate: paskambinkit")
	assert.Contains(t, body, "Availability: -")

	n.send = func(context.Context, *mail.SGMailV3) (int, string, error) { return 401, "unauthorized", nil }
	require.Error(t, n.Notify(context.Background(), h))
}
