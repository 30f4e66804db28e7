package flow

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"github.com/BTreeMap/RecruitPipe/internal/conversation"
	"github.com/BTreeMap/RecruitPipe/internal/messaging"
	"github.com/BTreeMap/RecruitPipe/internal/metrics"
	"github.com/BTreeMap/RecruitPipe/internal/models"
	"github.com/BTreeMap/RecruitPipe/internal/reporting"
	"github.com/BTreeMap/RecruitPipe/internal/store"
	"github.com/BTreeMap/RecruitPipe/internal/tracing"
	"github.com/BTreeMap/RecruitPipe/internal/util"
)

// Reasons reported in TurnResult.Ignored.
const (
	IgnoredDuplicate = "duplicate"
	IgnoredEmpty     = "empty"
	IgnoredClosed    = "closed"
	IgnoredDNC       = "dnc"
)

// errDuplicateDelivery aborts a turn whose provider id was already processed.
var errDuplicateDelivery = errors.New("duplicate delivery")

// turn is what one inbound message did to a thread.
type turn struct {
	thread   models.Thread
	history  []models.Message
	inbound  models.Message
	outbound *models.Message
	reply    conversation.Reply
	outcome  *models.Outcome
	dnc      bool
}

// HandleInbound processes one inbound message: it takes the phone's lock and runs the
// turn in one store transaction, which also records the provider id so redeliveries
// of a committed turn are dropped. The reply, if any, is
// queued in the outbox; the returned result carries it for synchronous callers.
func (s *Service) HandleInbound(ctx context.Context, in models.Inbound) (models.TurnResult, error) {
	ctx, span := tracing.Tracer().Start(ctx, "flow.HandleInbound")
	defer span.End()

	phone, err := messaging.CanonicalPhone(in.From)
	if err != nil {
		metrics.TurnsTotal.WithLabelValues("error").Inc()
		return models.TurnResult{}, fmt.Errorf("invalid sender: %w", err)
	}
	text := strings.TrimSpace(in.Text)
	if text == "" {
		metrics.TurnsTotal.WithLabelValues("silent").Inc()
		return models.TurnResult{OK: true, Ignored: IgnoredEmpty}, nil
	}
	if now := s.now(); in.Time.IsZero() || in.Time.After(now) {
		in.Time = now
	}

	if in.ProviderID != "" {
		dup, err := s.store.IsDuplicate(ctx, in.ProviderID)
		if err != nil {
			metrics.TurnsTotal.WithLabelValues("error").Inc()
			return models.TurnResult{}, err
		}
		if dup {
			return s.dropDuplicate(in.ProviderID), nil
		}
	}

	unlock, err := s.lockPhone(ctx, phone)
	if err != nil {
		metrics.TurnsTotal.WithLabelValues("error").Inc()
		return models.TurnResult{}, fmt.Errorf("failed to lock %s: %w", util.MaskPhone(phone), err)
	}
	defer unlock()

	if conversation.IsDebugCommand(text) {
		res, err := s.handleDebug(ctx, phone, text, in.ProviderID)
		if errors.Is(err, errDuplicateDelivery) {
			return s.dropDuplicate(in.ProviderID), nil
		}
		return res, err
	}

	t, err := s.runTurn(ctx, phone, text, in)
	if errors.Is(err, errDuplicateDelivery) {
		return s.dropDuplicate(in.ProviderID), nil
	}
	if err != nil {
		metrics.TurnsTotal.WithLabelValues("error").Inc()
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		slog.Error("Service.HandleInbound: turn failed", "phone", util.MaskPhone(phone), "error", err)
		return models.TurnResult{}, err
	}

	res := t.result()
	span.SetAttributes(
		attribute.Int64("thread.id", t.thread.ID),
		attribute.String("turn.state", res.State),
		attribute.String("turn.intent", string(res.Intent)),
		attribute.String("turn.close_type", string(res.CloseType)),
		attribute.Int("turn.rule", t.reply.Rule),
	)
	s.observe(t)
	s.reportTurn(ctx, phone, t)
	if t.reply.Close == models.CloseHuman {
		s.handoff(ctx, phone, t)
	}
	slog.Debug("Service.HandleInbound: turn done", "phone", phone, "thread_id", t.thread.ID, "state", res.State,
		"intent", res.Intent, "close", res.CloseType, "rule", t.reply.Rule)
	return res, nil
}

// runTurn loads the thread, decides and writes the outcome in one transaction.
func (s *Service) runTurn(ctx context.Context, phone, text string, in models.Inbound) (*turn, error) {
	t := &turn{}
	err := s.store.WithTx(ctx, func(q store.Queries) error {
		if err := claimDelivery(ctx, q, in.ProviderID, phone); err != nil {
			return err
		}
		contact, err := q.EnsureContact(ctx, phone)
		if err != nil {
			return err
		}
		t.dnc = contact.DNC

		t.thread, err = s.currentThread(ctx, q, phone, contact.DNC)
		if err != nil {
			return err
		}
		t.history, err = q.ListMessages(ctx, t.thread.ID, time.Time{}, 0)
		if err != nil {
			return err
		}

		if contact.DNC && !t.thread.Closed() {
			// A DNC contact never gets another message, whatever the thread says.
			t.reply = conversation.Reply{State: conversation.StateClosed, Silent: true}
		} else {
			t.reply = s.planner.Respond(ctx, conversation.Turn{Thread: t.thread, History: t.history, Text: text})
		}

		t.inbound, err = q.AppendMessage(ctx, models.Message{
			ThreadID:   t.thread.ID,
			Direction:  models.DirectionIn,
			Body:       text,
			Timestamp:  in.Time.UTC(),
			Status:     models.MessageStatusReceived,
			ProviderID: in.ProviderID,
		})
		if err != nil {
			return err
		}
		if !t.thread.Closed() {
			if err := q.TouchUserActivity(ctx, t.thread.ID, in.Time.UTC()); err != nil {
				return err
			}
		}
		if t.reply.Silent {
			return nil
		}

		if t.reply.Text != "" {
			out, err := s.queueReply(ctx, q, phone, t.thread.ID, t.reply.Text, "")
			if err != nil {
				return err
			}
			t.outbound = &out
		}
		if t.reply.MarkDNC {
			if err := q.SetDNC(ctx, phone, true); err != nil {
				return err
			}
			t.dnc = true
		}
		if t.reply.Close != models.CloseNone {
			return s.closeThread(ctx, q, t)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return t, nil
}

// currentThread returns the open thread, else the latest closed one so the planner can
// stay silent, else a new thread. DNC contacts never get a new thread.
func (s *Service) currentThread(ctx context.Context, q store.Queries, phone string, dnc bool) (models.Thread, error) {
	th, err := q.GetOpenThread(ctx, phone)
	if err == nil {
		return th, nil
	}
	if !errors.Is(err, store.ErrNotFound) {
		return th, err
	}
	th, err = q.LatestThread(ctx, phone)
	if err == nil {
		return th, nil
	}
	if !errors.Is(err, store.ErrNotFound) {
		return th, err
	}
	th, err = q.CreateThread(ctx, phone, "", "")
	if err != nil {
		return th, err
	}
	if dnc {
		if _, err := q.CloseThread(ctx, th.ID, models.CloseDNC); err != nil {
			return th, err
		}
		return q.GetThread(ctx, th.ID)
	}
	slog.Info("Service.currentThread: opened thread on inbound", "phone", util.MaskPhone(phone), "thread_id", th.ID)
	return th, nil
}

// queueReply appends an outbound message and puts it in the outbox.
func (s *Service) queueReply(ctx context.Context, q store.Queries, phone string, threadID int64, body, reference string) (models.Message, error) {
	out, err := q.AppendMessage(ctx, models.Message{
		ThreadID:  threadID,
		Direction: models.DirectionOut,
		Body:      body,
		Timestamp: s.now().UTC(),
		Status:    models.MessageStatusQueued,
		Reference: reference,
	})
	if err != nil {
		return out, err
	}
	payload, err := json.Marshal(store.SMSPayload{To: phone, Body: body, MessageID: out.ID, ThreadID: threadID, Reference: reference})
	if err != nil {
		return out, fmt.Errorf("failed to encode sms payload: %w", err)
	}
	if _, err := q.EnqueueOutboxMessage(ctx, phone, store.OutboxKindSMS, string(payload), fmt.Sprintf("msg:%d", out.ID)); err != nil {
		return out, err
	}
	return out, nil
}

// closeThread closes the thread and records its outcome once.
func (s *Service) closeThread(ctx context.Context, q store.Queries, t *turn) error {
	closed, err := q.CloseThread(ctx, t.thread.ID, t.reply.Close)
	if err != nil {
		return err
	}
	if !closed {
		slog.Warn("Service.closeThread: thread was already closed", "thread_id", t.thread.ID)
	}
	t.thread, err = q.GetThread(ctx, t.thread.ID)
	if err != nil {
		return err
	}

	var outcome models.Outcome
	if t.reply.Outcome != nil {
		outcome = *t.reply.Outcome
	} else {
		all, err := q.ListMessages(ctx, t.thread.ID, time.Time{}, 0)
		if err != nil {
			return err
		}
		outcome = s.planner.Summarize(t.thread, all)
	}
	outcome.ThreadID = t.thread.ID
	if outcome.CloseType == models.CloseNone {
		outcome.CloseType = t.reply.Close
	}
	if _, err := q.RecordOutcome(ctx, outcome); err != nil {
		return err
	}
	t.outcome = &outcome
	return nil
}

// claimDelivery records providerID inside the turn transaction. A turn that fails
// rolls the row back, so the provider's retry is processed instead of dropped.
func claimDelivery(ctx context.Context, q store.Queries, providerID, phone string) error {
	if providerID == "" {
		return nil
	}
	fresh, err := q.RecordInbound(ctx, providerID, phone)
	if err != nil {
		return err
	}
	if !fresh {
		return errDuplicateDelivery
	}
	return q.MarkProcessed(ctx, providerID)
}

func (s *Service) dropDuplicate(providerID string) models.TurnResult {
	metrics.DuplicateInboundTotal.Inc()
	slog.Info("Service.HandleInbound: duplicate delivery dropped", "provider_id", providerID)
	return models.TurnResult{OK: true, Ignored: IgnoredDuplicate}
}

// handleDebug answers the prompt-info command without touching the thread.
func (s *Service) handleDebug(ctx context.Context, phone, text, providerID string) (models.TurnResult, error) {
	reply := s.planner.Respond(ctx, conversation.Turn{Text: text})
	payload, err := json.Marshal(store.SMSPayload{To: phone, Body: reply.Text})
	if err != nil {
		return models.TurnResult{}, err
	}
	err = s.store.WithTx(ctx, func(q store.Queries) error {
		if err := claimDelivery(ctx, q, providerID, phone); err != nil {
			return err
		}
		_, err := q.EnqueueOutboxMessage(ctx, phone, store.OutboxKindSMS, string(payload), "")
		return err
	})
	if errors.Is(err, errDuplicateDelivery) {
		return models.TurnResult{}, err
	}
	if err != nil {
		metrics.TurnsTotal.WithLabelValues("error").Inc()
		return models.TurnResult{}, err
	}
	metrics.TurnsTotal.WithLabelValues("debug").Inc()
	return models.TurnResult{OK: true, Reply: reply.Text, State: "DEBUG"}, nil
}

func (t *turn) result() models.TurnResult {
	res := models.TurnResult{
		OK:        true,
		ThreadID:  t.thread.ID,
		Reply:     t.reply.Text,
		State:     string(t.reply.State),
		Intent:    t.reply.Plan.Intent,
		CloseType: t.reply.Close,
		DNC:       t.dnc,
	}
	if t.reply.Silent {
		res.Reply = ""
		res.Ignored = IgnoredClosed
		if t.dnc {
			res.Ignored = IgnoredDNC
		}
	}
	return res
}

func (s *Service) observe(t *turn) {
	switch {
	case t.reply.Silent:
		metrics.TurnsTotal.WithLabelValues("silent").Inc()
		if t.reply.Ack {
			metrics.SilentAcksTotal.Inc()
		}
	case t.reply.Close != models.CloseNone:
		metrics.TurnsTotal.WithLabelValues("close").Inc()
		metrics.ClosesTotal.WithLabelValues(string(t.reply.Close)).Inc()
	default:
		metrics.TurnsTotal.WithLabelValues("reply").Inc()
	}
}

// reportTurn reports the inbound message with the planner's reading of it.
func (s *Service) reportTurn(ctx context.Context, phone string, t *turn) {
	e := reporting.Event{
		Time:           t.inbound.Timestamp,
		Phone:          phone,
		City:           firstNonEmpty(t.reply.Plan.Slots.City, t.thread.City),
		Specialty:      firstNonEmpty(t.reply.Plan.Slots.Specialty, t.thread.Specialty),
		Direction:      models.DirectionIn,
		Text:           t.inbound.Body,
		JobInterest:    t.reply.Plan.JobInterest,
		FutureInterest: t.reply.Plan.FutureInterest,
		Intent:         t.reply.Plan.Intent,
		Years:          t.reply.Plan.Slots.Years,
		Availability:   t.reply.Plan.Slots.Availability,
		ThreadID:       t.thread.ID,
	}
	var notes []string
	switch {
	case t.reply.Ack:
		notes = append(notes, "silent_ack")
	case t.reply.Silent:
		notes = append(notes, "silent")
	case t.reply.Degraded:
		notes = append(notes, "degraded")
	}
	if t.reply.Rule > 0 {
		notes = append(notes, fmt.Sprintf("rule=%d", t.reply.Rule))
	}
	e.Note = strings.Join(notes, " ")
	if t.outcome != nil {
		e.Outcome = string(t.outcome.CloseType)
		e.JobInterest = t.outcome.Interested
		e.FutureInterest = t.outcome.FutureInterest
		e.Years = t.outcome.Years
		e.Availability = firstNonEmpty(t.outcome.Availability, e.Availability)
	}
	s.report(ctx, e)
}

// handoff notifies the recruiters in the background; the turn does not wait for it.
func (s *Service) handoff(ctx context.Context, phone string, t *turn) {
	if s.notifier == nil {
		return
	}
	h := reporting.Handoff{
		Phone:     phone,
		City:      firstNonEmpty(t.reply.Plan.Slots.City, t.thread.City),
		Specialty: firstNonEmpty(t.reply.Plan.Slots.Specialty, t.thread.Specialty),
		ThreadID:  t.thread.ID,
	}
	if t.outcome != nil {
		h.Years = t.outcome.Years
		h.Availability = t.outcome.Availability
	}
	h.Transcript = append(append([]models.Message(nil), t.history...), t.inbound)
	if t.outbound != nil {
		h.Transcript = append(h.Transcript, *t.outbound)
	}

	nctx := context.WithoutCancel(ctx)
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		nctx, cancel := context.WithTimeout(nctx, DefaultHandoffTimeout)
		defer cancel()
		if err := s.notifier.Notify(nctx, h); err != nil {
			slog.Warn("Service.handoff: notification failed", "thread_id", h.ThreadID, "error", err)
		}
	}()
}

func firstNonEmpty(vals ...string) string {
	for _, v := range vals {
		if v != "" {
			return v
		}
	}
	return ""
}
