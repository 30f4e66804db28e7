// Package flow runs conversation turns end to end: it serializes work per phone,
// loads the thread, asks the planner for a decision, persists the result in one
// transaction, queues the reply for delivery and reports the turn.
package flow

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/BTreeMap/RecruitPipe/internal/conversation"
	"github.com/BTreeMap/RecruitPipe/internal/lock"
	"github.com/BTreeMap/RecruitPipe/internal/reporting"
	"github.com/BTreeMap/RecruitPipe/internal/store"
)

// Outreach guard errors.
var (
	ErrContactDNC           = errors.New("contact is marked do-not-contact")
	ErrThrottled            = errors.New("contact was messaged too recently")
	ErrOutsideBusinessHours = errors.New("outside business hours")
	ErrInvalidRecipient     = errors.New("invalid recipient")
	ErrNoTransport          = errors.New("no sms transport configured")
)

// Defaults for outreach guards.
const (
	DefaultPerPersonMinInterval = 90 * time.Second
	DefaultBusinessHoursStart   = 9
	DefaultBusinessHoursEnd     = 18
	DefaultLockTimeout          = 20 * time.Second
	DefaultHandoffTimeout       = 15 * time.Second
)

// Notifier is told about threads handed to a recruiter.
type Notifier interface {
	Notify(ctx context.Context, h reporting.Handoff) error
}

// Transport sends one SMS and returns the provider message id.
type Transport interface {
	SendSMS(ctx context.Context, to, body, reference string) (string, error)
}

// Opts configures a Service.
type Opts struct {
	PerPersonMinInterval time.Duration
	SkipBusinessHours    bool
	BusinessHoursStart   int
	BusinessHoursEnd     int
	Location             *time.Location
	LockTimeout          time.Duration
}

// Option configures a Service.
type Option func(*Service)

// WithSink sets where turn events are reported.
func WithSink(sink reporting.Sink) Option {
	return func(s *Service) {
		s.sink = sink
	}
}

// WithNotifier sets the hand-off notifier.
func WithNotifier(n Notifier) Option {
	return func(s *Service) {
		s.notifier = n
	}
}

// WithTransport sets the SMS transport outbox deliveries go through.
func WithTransport(t Transport) Option {
	return func(s *Service) {
		s.transport = t
	}
}

// WithLocker replaces the in-process per-phone lock.
func WithLocker(l lock.Locker) Option {
	return func(s *Service) {
		s.locker = l
	}
}

// WithPerPersonMinInterval sets the minimum time between outbound messages to one contact.
func WithPerPersonMinInterval(d time.Duration) Option {
	return func(s *Service) {
		s.opts.PerPersonMinInterval = d
	}
}

// WithSkipBusinessHours disables the outreach business hours guard.
func WithSkipBusinessHours(skip bool) Option {
	return func(s *Service) {
		s.opts.SkipBusinessHours = skip
	}
}

// WithBusinessHours sets the local hours [start, end) in which outreach is allowed.
func WithBusinessHours(start, end int, loc *time.Location) Option {
	return func(s *Service) {
		s.opts.BusinessHoursStart = start
		s.opts.BusinessHoursEnd = end
		if loc != nil {
			s.opts.Location = loc
		}
	}
}

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(s *Service) {
		s.now = now
	}
}

// Service is the conversation orchestrator.
type Service struct {
	store     store.Store
	planner   *conversation.Planner
	locker    lock.Locker
	sink      reporting.Sink
	notifier  Notifier
	transport Transport
	opts      Opts
	now       func() time.Time

	wg sync.WaitGroup
}

// NewService creates a Service over st and planner.
func NewService(st store.Store, planner *conversation.Planner, opts ...Option) *Service {
	s := &Service{
		store:   st,
		planner: planner,
		opts: Opts{
			PerPersonMinInterval: DefaultPerPersonMinInterval,
			BusinessHoursStart:   DefaultBusinessHoursStart,
			BusinessHoursEnd:     DefaultBusinessHoursEnd,
			Location:             time.Local,
			LockTimeout:          DefaultLockTimeout,
		},
		now: time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.locker == nil {
		s.locker = lock.NewKeyedMutex()
	}
	if s.sink == nil {
		s.sink = reporting.LogSink{}
	}
	slog.Debug("flow.NewService: created", "min_interval", s.opts.PerPersonMinInterval, "skip_business_hours", s.opts.SkipBusinessHours)
	return s
}

// Planner returns the planner the service decides with.
func (s *Service) Planner() *conversation.Planner {
	return s.planner
}

// Wait blocks until background hand-off notifications have finished.
func (s *Service) Wait() {
	s.wg.Wait()
}

// lockPhone takes the per-phone lock, bounded by the service's lock timeout.
func (s *Service) lockPhone(ctx context.Context, phone string) (lock.Unlock, error) {
	lctx, cancel := context.WithTimeout(ctx, s.opts.LockTimeout)
	defer cancel()
	return s.locker.Lock(lctx, phone)
}

// report hands an event to the sink; failures are logged only.
func (s *Service) report(ctx context.Context, e reporting.Event) {
	if e.Model == "" {
		e.Model = s.planner.Config().Model
	}
	if e.PromptSHA == "" {
		e.PromptSHA = s.planner.Config().PromptSHA()
	}
	if err := s.sink.Append(ctx, e); err != nil {
		slog.Warn("Service.report: sink append failed", "thread_id", e.ThreadID, "error", err)
	}
}
