package flow

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"go.opentelemetry.io/otel/attribute"

	"github.com/BTreeMap/RecruitPipe/internal/messaging"
	"github.com/BTreeMap/RecruitPipe/internal/models"
	"github.com/BTreeMap/RecruitPipe/internal/reporting"
	"github.com/BTreeMap/RecruitPipe/internal/store"
	"github.com/BTreeMap/RecruitPipe/internal/tracing"
	"github.com/BTreeMap/RecruitPipe/internal/util"
)

// StartOutreach sends the first message of a conversation, or a recruiter message
// into the contact's open thread. Without a body the opener is generated from the
// city and specialty.
func (s *Service) StartOutreach(ctx context.Context, req models.SendRequest) (models.SendResult, error) {
	ctx, span := tracing.Tracer().Start(ctx, "flow.StartOutreach")
	defer span.End()

	res := models.SendResult{To: req.To}
	phone, err := messaging.CanonicalPhone(req.To)
	if err != nil {
		return res, fmt.Errorf("%w: %v", ErrInvalidRecipient, err)
	}
	res.To = phone

	if err := s.checkBusinessHours(); err != nil {
		return res, err
	}

	unlock, err := s.lockPhone(ctx, phone)
	if err != nil {
		return res, fmt.Errorf("failed to lock %s: %w", util.MaskPhone(phone), err)
	}
	defer unlock()

	if err := s.checkContact(ctx, phone); err != nil {
		return res, err
	}

	city, specialty := strings.TrimSpace(req.City), strings.TrimSpace(req.Specialty)
	body := strings.TrimSpace(req.Body)
	if body == "" {
		body = s.planner.Opener(ctx, city, specialty)
	}
	reference := req.UserRef
	if reference == "" {
		reference = util.OutreachReference()
	}

	var thread models.Thread
	err = s.store.WithTx(ctx, func(q store.Queries) error {
		th, err := q.GetOpenThread(ctx, phone)
		switch {
		case errors.Is(err, store.ErrNotFound):
			if _, err := q.EnsureContact(ctx, phone); err != nil {
				return err
			}
			th, err = q.CreateThread(ctx, phone, city, specialty)
			if err != nil {
				return err
			}
		case err != nil:
			return err
		}
		thread = th
		_, err = s.queueReply(ctx, q, phone, th.ID, body, reference)
		return err
	})
	if err != nil {
		return res, err
	}

	span.SetAttributes(attribute.Int64("thread.id", thread.ID))
	slog.Info("Service.StartOutreach: queued", "phone", util.MaskPhone(phone), "thread_id", thread.ID, "reference", reference)
	s.report(ctx, reporting.Event{
		Time:      s.now(),
		Name:      req.Name,
		Phone:     phone,
		City:      thread.City,
		Specialty: thread.Specialty,
		Direction: models.DirectionOut,
		Text:      body,
		ThreadID:  thread.ID,
		Note:      "outreach",
	})

	res.OK = true
	res.ThreadID = thread.ID
	res.Body = body
	return res, nil
}

// SendBatch runs StartOutreach for every request and reports each result.
func (s *Service) SendBatch(ctx context.Context, reqs []models.SendRequest) []models.SendResult {
	results := make([]models.SendResult, 0, len(reqs))
	for _, req := range reqs {
		res, err := s.StartOutreach(ctx, req)
		if err != nil {
			res.OK = false
			res.Error = err.Error()
		}
		results = append(results, res)
	}
	return results
}

// checkBusinessHours rejects outreach outside the configured local hours.
func (s *Service) checkBusinessHours() error {
	if s.opts.SkipBusinessHours {
		return nil
	}
	h := s.now().In(s.opts.Location).Hour()
	if h < s.opts.BusinessHoursStart || h >= s.opts.BusinessHoursEnd {
		return fmt.Errorf("%w: %02d:00-%02d:00", ErrOutsideBusinessHours, s.opts.BusinessHoursStart, s.opts.BusinessHoursEnd)
	}
	return nil
}

// checkContact applies the DNC and per-person throttle guards.
func (s *Service) checkContact(ctx context.Context, phone string) error {
	c, err := s.store.GetContact(ctx, phone)
	switch {
	case errors.Is(err, store.ErrNotFound):
		return nil
	case err != nil:
		return err
	case c.DNC:
		return ErrContactDNC
	}

	if s.opts.PerPersonMinInterval <= 0 {
		return nil
	}
	last, ok, err := s.store.LastOutboundAt(ctx, phone)
	if err != nil {
		return err
	}
	if ok {
		if wait := s.opts.PerPersonMinInterval - s.now().Sub(last); wait > 0 {
			return fmt.Errorf("%w: retry in %s", ErrThrottled, wait.Round(time.Second))
		}
	}
	return nil
}
