package flow

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/BTreeMap/RecruitPipe/internal/messaging"
	"github.com/BTreeMap/RecruitPipe/internal/models"
	"github.com/BTreeMap/RecruitPipe/internal/store"
)

// ThreadView is a thread with its contact and full message history.
type ThreadView struct {
	Contact  models.Contact   `json:"contact"`
	Thread   models.Thread    `json:"thread"`
	Messages []models.Message `json:"messages"`
}

// Thread returns the open thread of phone, or its latest thread when none is open.
func (s *Service) Thread(ctx context.Context, phone string) (ThreadView, error) {
	var v ThreadView
	phone, err := messaging.CanonicalPhone(phone)
	if err != nil {
		return v, fmt.Errorf("%w: %v", ErrInvalidRecipient, err)
	}
	if v.Contact, err = s.store.GetContact(ctx, phone); err != nil {
		return v, err
	}
	if v.Thread, err = s.store.GetOpenThread(ctx, phone); errors.Is(err, store.ErrNotFound) {
		v.Thread, err = s.store.LatestThread(ctx, phone)
	}
	if err != nil {
		return v, err
	}
	if v.Messages, err = s.store.ListMessages(ctx, v.Thread.ID, time.Time{}, 0); err != nil {
		return v, err
	}
	return v, nil
}

// Summary returns the KPI summary of the latest thread of phone: the recorded outcome
// for closed threads, otherwise one computed from the history so far.
func (s *Service) Summary(ctx context.Context, phone string) (models.Outcome, error) {
	v, err := s.Thread(ctx, phone)
	if err != nil {
		return models.Outcome{}, err
	}
	if v.Thread.Closed() {
		o, err := s.store.GetOutcome(ctx, v.Thread.ID)
		if err == nil {
			return o, nil
		}
		if !errors.Is(err, store.ErrNotFound) {
			return o, err
		}
	}
	o := s.planner.Summarize(v.Thread, v.Messages)
	o.ThreadID = v.Thread.ID
	return o, nil
}

// RecoverState writes the missing outcome rows of closed threads, e.g. threads closed
// by an operator through the store. It runs once at startup.
func (s *Service) RecoverState(ctx context.Context) error {
	const batch = 100
	total := 0
	for {
		threads, err := s.store.ClosedThreadsWithoutOutcome(ctx, batch)
		if err != nil {
			return err
		}
		for _, th := range threads {
			msgs, err := s.store.ListMessages(ctx, th.ID, time.Time{}, 0)
			if err != nil {
				return err
			}
			o := s.planner.Summarize(th, msgs)
			o.ThreadID = th.ID
			if _, err := s.store.RecordOutcome(ctx, o); err != nil {
				return err
			}
			total++
		}
		if len(threads) < batch {
			break
		}
	}
	if total > 0 {
		slog.Info("Service.RecoverState: recorded missing outcomes", "count", total)
	}
	return nil
}
