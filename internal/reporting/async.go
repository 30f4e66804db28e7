package reporting

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/BTreeMap/RecruitPipe/internal/metrics"
)

// DefaultBuffer is the number of events an AsyncSink holds before dropping.
const DefaultBuffer = 256

// AsyncSink forwards events to another sink from a background goroutine. Append never
// blocks; events that do not fit in the buffer are dropped.
type AsyncSink struct {
	next    Sink
	events  chan Event
	timeout time.Duration
	done    chan struct{}
	once    sync.Once
}

// NewAsyncSink starts the forwarding goroutine. Call Close to drain and stop it.
func NewAsyncSink(next Sink, buffer int) *AsyncSink {
	if buffer <= 0 {
		buffer = DefaultBuffer
	}
	a := &AsyncSink{
		next:    next,
		events:  make(chan Event, buffer),
		timeout: 30 * time.Second,
		done:    make(chan struct{}),
	}
	go a.run()
	return a
}

// Append implements Sink.
func (a *AsyncSink) Append(_ context.Context, e Event) error {
	select {
	case a.events <- e:
	default:
		metrics.ReportEventsTotal.WithLabelValues("dropped").Inc()
		slog.Warn("AsyncSink.Append: buffer full, dropping event", "thread_id", e.ThreadID, "dir", e.Direction)
	}
	return nil
}

func (a *AsyncSink) run() {
	defer close(a.done)
	for e := range a.events {
		ctx, cancel := context.WithTimeout(context.Background(), a.timeout)
		err := a.next.Append(ctx, e)
		cancel()
		if err != nil {
			metrics.ReportEventsTotal.WithLabelValues("error").Inc()
			slog.Error("AsyncSink.run: append failed", "thread_id", e.ThreadID, "error", err)
			continue
		}
		metrics.ReportEventsTotal.WithLabelValues("ok").Inc()
	}
}

// Close stops accepting events and waits for the buffer to drain or ctx to end.
// Append must not be called after Close.
func (a *AsyncSink) Close(ctx context.Context) error {
	a.once.Do(func() { close(a.events) })
	select {
	case <-a.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
