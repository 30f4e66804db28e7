package messaging

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/BTreeMap/RecruitPipe/internal/metrics"
	"github.com/BTreeMap/RecruitPipe/internal/models"
	"github.com/BTreeMap/RecruitPipe/internal/scheduler"
	"github.com/BTreeMap/RecruitPipe/internal/twiliosms"
	"github.com/BTreeMap/RecruitPipe/internal/util"
)

// SMSOpts configures an SMSService.
type SMSOpts struct {
	DryRun       bool
	PollSchedule string
	AuthToken    string
	WebhookBase  string
}

// SMSOption configures SMSOpts.
type SMSOption func(*SMSOpts)

// WithDryRun makes SendSMS record messages without contacting the provider.
func WithDryRun(enabled bool) SMSOption {
	return func(o *SMSOpts) { o.DryRun = enabled }
}

// WithPollSchedule enables the inbound poller on a cron schedule, e.g. "@every 15s".
func WithPollSchedule(expr string) SMSOption {
	return func(o *SMSOpts) { o.PollSchedule = expr }
}

// WithWebhookValidation checks X-Twilio-Signature on webhooks. baseURL is the public
// URL the webhooks are reachable on, without a trailing slash.
func WithWebhookValidation(authToken, baseURL string) SMSOption {
	return func(o *SMSOpts) {
		o.AuthToken = authToken
		o.WebhookBase = baseURL
	}
}

// SMSService implements Service over a twiliosms.Sender.
type SMSService struct {
	sender   twiliosms.Sender
	opts     SMSOpts
	inbound  chan models.Inbound
	receipts chan models.Receipt
	sched    *scheduler.Scheduler

	mu       sync.RWMutex
	stopped  bool
	lastPoll time.Time
	pollMu   sync.Mutex
}

// NewSMSService creates an SMSService.
func NewSMSService(sender twiliosms.Sender, opts ...SMSOption) *SMSService {
	var cfg SMSOpts
	for _, opt := range opts {
		opt(&cfg)
	}
	return &SMSService{
		sender:   sender,
		opts:     cfg,
		inbound:  make(chan models.Inbound, DefaultChannelBufferSize),
		receipts: make(chan models.Receipt, DefaultChannelBufferSize),
		lastPoll: time.Now().Add(-time.Minute),
	}
}

// ValidateAndCanonicalizeRecipient implements Service.
func (s *SMSService) ValidateAndCanonicalizeRecipient(recipient string) (string, error) {
	canonical, err := CanonicalPhone(recipient)
	if err != nil {
		return "", err
	}
	if canonical != recipient {
		slog.Debug("SMSService: canonicalized recipient", "original", recipient, "canonical", canonical)
	}
	return canonical, nil
}

// Start implements Service. With a poll schedule it starts the inbound poller.
func (s *SMSService) Start(ctx context.Context) error {
	if s.opts.PollSchedule == "" {
		return nil
	}
	s.sched = scheduler.NewScheduler()
	if _, err := s.sched.AddJob(s.opts.PollSchedule, func() { s.Poll(ctx) }); err != nil {
		s.sched.Stop()
		s.sched = nil
		return fmt.Errorf("failed to schedule inbound poller: %w", err)
	}
	slog.Info("SMSService.Start: inbound poller scheduled", "schedule", s.opts.PollSchedule)
	return nil
}

// Stop implements Service.
func (s *SMSService) Stop() error {
	if s.sched != nil {
		s.sched.Stop()
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.stopped {
		return nil
	}
	s.stopped = true
	close(s.inbound)
	close(s.receipts)
	return nil
}

// SendSMS implements Service.
func (s *SMSService) SendSMS(ctx context.Context, to, body, reference string) (string, error) {
	s.mu.RLock()
	stopped := s.stopped
	s.mu.RUnlock()
	if stopped {
		return "", ErrServiceStopped
	}

	canonicalTo, err := s.ValidateAndCanonicalizeRecipient(to)
	if err != nil {
		slog.Error("SMSService.SendSMS: validation error", "error", err, "to", to)
		return "", err
	}

	if s.opts.DryRun {
		id := util.DryRunSID()
		slog.Info("SMSService.SendSMS: dry run, not sending", "to", util.MaskPhone(canonicalTo), "reference", reference, "id", id)
		metrics.SMSSentTotal.WithLabelValues("dry_run").Inc()
		return id, nil
	}

	sid, err := s.sender.Send(ctx, canonicalTo, body)
	if err != nil {
		metrics.SMSSentTotal.WithLabelValues("error").Inc()
		return "", err
	}
	metrics.SMSSentTotal.WithLabelValues("sent").Inc()
	slog.Debug("SMSService.SendSMS: sent", "to", canonicalTo, "reference", reference, "sid", sid)
	return sid, nil
}

// Inbound implements Service.
func (s *SMSService) Inbound() <-chan models.Inbound {
	return s.inbound
}

// Receipts implements Service.
func (s *SMSService) Receipts() <-chan models.Receipt {
	return s.receipts
}

// Poll fetches messages received since the previous poll and emits them. Providers may
// also deliver the same messages by webhook; downstream dedup drops the repeats.
func (s *SMSService) Poll(ctx context.Context) int {
	s.pollMu.Lock()
	defer s.pollMu.Unlock()

	since := s.lastPoll
	started := time.Now()
	msgs, err := s.sender.ListInbound(ctx, since)
	if err != nil {
		slog.Error("SMSService.Poll: list failed", "error", err)
		return 0
	}
	n := 0
	for _, m := range msgs {
		if s.EmitInbound(m) {
			n++
		}
	}
	// Overlap the window so messages stamped just before the previous call are not missed.
	s.lastPoll = started.Add(-5 * time.Second)
	if n > 0 {
		slog.Debug("SMSService.Poll: emitted inbound messages", "count", n)
	}
	return n
}

// EmitInbound canonicalizes the sender and queues the message for processing.
func (s *SMSService) EmitInbound(in models.Inbound) bool {
	from, err := s.ValidateAndCanonicalizeRecipient(in.From)
	if err != nil {
		slog.Warn("SMSService.EmitInbound: dropping message with invalid sender", "from", in.From, "error", err)
		return false
	}
	in.From = from
	if in.Time.IsZero() {
		in.Time = time.Now()
	}

	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.stopped {
		slog.Warn("SMSService.EmitInbound: dropping message (service stopped)", "from", in.From)
		return false
	}
	select {
	case s.inbound <- in:
		return true
	case <-time.After(DefaultChannelTimeout):
		slog.Warn("SMSService.EmitInbound: inbound channel blocked, dropping message", "from", in.From, "provider_id", in.ProviderID)
		return false
	}
}

// EmitReceipt queues a delivery status update.
func (s *SMSService) EmitReceipt(r models.Receipt) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.stopped {
		return
	}
	select {
	case s.receipts <- r:
	case <-time.After(DefaultChannelTimeout):
		slog.Warn("SMSService.EmitReceipt: receipts channel blocked, dropping receipt", "provider_id", r.ProviderID)
	}
}

var _ Service = (*SMSService)(nil)
