// Package reporting exports conversation events to the Leads sheet and notifies
// recruiters about hand-offs.
package reporting

import (
	"context"
	"log/slog"
	"strconv"
	"time"

	"github.com/BTreeMap/RecruitPipe/internal/models"
)

// LeadsSheet is the sheet title events are appended to.
const LeadsSheet = "Leads"

// Headers are the Leads sheet columns, in row order.
var Headers = []string{
	"ts_iso", "name", "phone", "city", "specialty",
	"msg_dir", "msg_text", "msg_sent",
	"outcome", "job_interest", "future_interest", "intent",
	"years", "availability_text",
	"model", "prompt_sha", "thread_id", "note",
}

// Event is one reported message.
type Event struct {
	Time           time.Time
	Name           string
	Phone          string
	City           string
	Specialty      string
	Direction      models.Direction
	Text           string
	Sent           *bool // nil for received messages
	Outcome        string
	JobInterest    models.Interest
	FutureInterest models.Interest
	Intent         models.Intent
	Years          *int
	Availability   string
	Model          string
	PromptSHA      string
	ThreadID       int64
	Note           string
}

// Row renders the event in Headers order.
func (e Event) Row() []any {
	ts := e.Time
	if ts.IsZero() {
		ts = time.Now()
	}
	sent := ""
	if e.Sent != nil {
		sent = "FALSE"
		if *e.Sent {
			sent = "TRUE"
		}
	}
	years := ""
	if e.Years != nil {
		years = strconv.Itoa(*e.Years)
	}
	thread := ""
	if e.ThreadID != 0 {
		thread = strconv.FormatInt(e.ThreadID, 10)
	}
	return []any{
		ts.UTC().Format(time.RFC3339), e.Name, e.Phone, e.City, e.Specialty,
		string(e.Direction), e.Text, sent,
		e.Outcome, string(e.JobInterest), string(e.FutureInterest), string(e.Intent),
		years, e.Availability,
		e.Model, e.PromptSHA, thread, e.Note,
	}
}

// Sink receives reported events.
type Sink interface {
	Append(ctx context.Context, e Event) error
}

// LogSink writes events to the structured log. It is used when no sheet is configured.
type LogSink struct{}

// Append implements Sink.
func (LogSink) Append(_ context.Context, e Event) error {
	slog.Debug("LogSink.Append: event", "thread_id", e.ThreadID, "dir", e.Direction, "intent", e.Intent,
		"job_interest", e.JobInterest, "outcome", e.Outcome, "note", e.Note)
	return nil
}
