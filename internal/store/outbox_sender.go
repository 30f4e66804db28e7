package store

import (
	"context"
	"log/slog"
	"time"
)

// OutboxSendFunc delivers one claimed outbox row. A non-nil error schedules a retry.
type OutboxSendFunc func(ctx context.Context, msg OutboxMessage) error

// DefaultOutboxMaxAttempts bounds delivery tries; the last failure is terminal.
const DefaultOutboxMaxAttempts = 6

const (
	defaultOutboxPoll    = 2 * time.Second
	outboxStaleAfter     = 5 * time.Minute
	outboxBatchSize      = 10
	outboxFirstRetryWait = 10 * time.Second
)

// OutboxSender drains due SMS rows from the outbox on a fixed interval.
// Rows stay claimed (status sending) while the send callback runs, so a crash
// mid-send leaves them for RecoverStaleMessages.
type OutboxSender struct {
	repo     OutboxRepo
	send     OutboxSendFunc
	interval time.Duration
	now      func() time.Time
}

// NewOutboxSender returns a sender polling repo every pollInterval
// (defaultOutboxPoll when not positive).
func NewOutboxSender(repo OutboxRepo, sendFunc OutboxSendFunc, pollInterval time.Duration) *OutboxSender {
	if pollInterval <= 0 {
		pollInterval = defaultOutboxPoll
	}
	return &OutboxSender{repo: repo, send: sendFunc, interval: pollInterval, now: time.Now}
}

// RecoverStaleMessages puts rows claimed more than outboxStaleAfter ago back in the queue.
func (s *OutboxSender) RecoverStaleMessages(ctx context.Context) error {
	n, err := s.repo.RequeueStaleSendingMessages(ctx, s.now().Add(-outboxStaleAfter))
	if err != nil {
		return err
	}
	if n > 0 {
		slog.Info("OutboxSender.RecoverStaleMessages: requeued", "count", n)
	}
	return nil
}

// Run polls until ctx is done.
func (s *OutboxSender) Run(ctx context.Context) {
	slog.Info("OutboxSender.Run: draining outbox", "interval", s.interval)
	t := time.NewTicker(s.interval)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			slog.Info("OutboxSender.Run: stopped")
			return
		case <-t.C:
			s.Poll(ctx)
		}
	}
}

// Poll claims one batch of due rows, delivers each and returns how many went out.
func (s *OutboxSender) Poll(ctx context.Context) int {
	now := s.now()
	batch, err := s.repo.ClaimDueOutboxMessages(ctx, now, outboxBatchSize)
	if err != nil {
		slog.Error("OutboxSender.Poll: claim", "error", err)
		return 0
	}
	delivered := 0
	for _, msg := range batch {
		if s.deliver(ctx, msg, now) {
			delivered++
		}
	}
	return delivered
}

func (s *OutboxSender) deliver(ctx context.Context, msg OutboxMessage, now time.Time) bool {
	sendErr := s.send(ctx, msg)
	if sendErr == nil {
		if err := s.repo.MarkOutboxMessageSent(ctx, msg.ID); err != nil {
			slog.Error("OutboxSender.deliver: mark sent", "id", msg.ID, "error", err)
		}
		return true
	}

	retryAt := nextOutboxAttempt(msg.Attempts, now)
	slog.Warn("OutboxSender.deliver: send failed", "id", msg.ID, "thread", msg.ParticipantID,
		"attempt", msg.Attempts+1, "terminal", retryAt == nil, "error", sendErr)
	if err := s.repo.FailOutboxMessage(ctx, msg.ID, sendErr.Error(), retryAt); err != nil {
		slog.Error("OutboxSender.deliver: record failure", "id", msg.ID, "error", err)
	}
	return false
}

// nextOutboxAttempt doubles the wait after each failure starting at
// outboxFirstRetryWait. It returns nil once the attempt budget is spent.
func nextOutboxAttempt(attempts int, now time.Time) *time.Time {
	if attempts+1 >= DefaultOutboxMaxAttempts {
		return nil
	}
	at := now.Add(outboxFirstRetryWait << attempts)
	return &at
}
