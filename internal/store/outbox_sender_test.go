package store

import (
	"context"
	"errors"
	"testing"
	"time"
)

type fakeOutbox struct {
	due      []OutboxMessage
	sent     []string
	failed   map[string]*time.Time
	requeued time.Time
}

func (f *fakeOutbox) EnqueueOutboxMessage(context.Context, string, string, string, string) (string, error) {
	return "", nil
}

func (f *fakeOutbox) ClaimDueOutboxMessages(_ context.Context, _ time.Time, limit int) ([]OutboxMessage, error) {
	out := f.due
	f.due = nil
	return out, nil
}

func (f *fakeOutbox) MarkOutboxMessageSent(_ context.Context, id string) error {
	f.sent = append(f.sent, id)
	return nil
}

func (f *fakeOutbox) FailOutboxMessage(_ context.Context, id string, _ string, next *time.Time) error {
	if f.failed == nil {
		f.failed = make(map[string]*time.Time)
	}
	f.failed[id] = next
	return nil
}

func (f *fakeOutbox) RequeueStaleSendingMessages(_ context.Context, staleBefore time.Time) (int, error) {
	f.requeued = staleBefore
	return 2, nil
}

func TestOutboxSenderPoll(t *testing.T) {
	now := time.Date(2026, 3, 2, 10, 0, 0, 0, time.UTC)
	repo := &fakeOutbox{due: []OutboxMessage{
		{ID: "ok"},
		{ID: "retry", Attempts: 2},
		{ID: "final", Attempts: DefaultOutboxMaxAttempts - 1},
	}}
	send := func(_ context.Context, m OutboxMessage) error {
		if m.ID == "ok" {
			return nil
		}
		return errors.New("provider down")
	}
	s := NewOutboxSender(repo, send, time.Second)
	s.now = func() time.Time { return now }

	if n := s.Poll(context.Background()); n != 1 {
		t.Fatalf("Poll sent %d, want 1", n)
	}
	if len(repo.sent) != 1 || repo.sent[0] != "ok" {
		t.Fatalf("sent = %v, want [ok]", repo.sent)
	}
	next := repo.failed["retry"]
	if next == nil || !next.Equal(now.Add(40*time.Second)) {
		t.Fatalf("retry scheduled at %v, want %v", next, now.Add(40*time.Second))
	}
	if next, ok := repo.failed["final"]; !ok || next != nil {
		t.Fatalf("final attempt should be marked failed, got %v (recorded %v)", next, ok)
	}
}

func TestOutboxSenderRecoverStaleMessages(t *testing.T) {
	now := time.Date(2026, 3, 2, 10, 0, 0, 0, time.UTC)
	repo := &fakeOutbox{}
	s := NewOutboxSender(repo, nil, 0)
	s.now = func() time.Time { return now }

	if err := s.RecoverStaleMessages(context.Background()); err != nil {
		t.Fatalf("RecoverStaleMessages: %v", err)
	}
	if want := now.Add(-5 * time.Minute); !repo.requeued.Equal(want) {
		t.Fatalf("staleBefore = %v, want %v", repo.requeued, want)
	}
}

func TestOutboxSenderRunStops(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	s := NewOutboxSender(&fakeOutbox{}, func(context.Context, OutboxMessage) error { return nil }, 10*time.Millisecond)
	done := make(chan struct{})
	go func() {
		s.Run(ctx)
		close(done)
	}()
	cancel()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Run did not return after cancel")
	}
}

func TestNextOutboxAttempt(t *testing.T) {
	now := time.Date(2026, 3, 2, 10, 0, 0, 0, time.UTC)
	for attempts, want := range []time.Duration{10 * time.Second, 20 * time.Second, 40 * time.Second, 80 * time.Second, 160 * time.Second} {
		got := nextOutboxAttempt(attempts, now)
		if got == nil || got.Sub(now) != want {
			t.Fatalf("attempts=%d: retry at %v, want +%v", attempts, got, want)
		}
	}
	if got := nextOutboxAttempt(DefaultOutboxMaxAttempts-1, now); got != nil {
		t.Fatalf("last attempt should be terminal, got %v", got)
	}
}
