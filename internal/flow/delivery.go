package flow

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/BTreeMap/RecruitPipe/internal/models"
	"github.com/BTreeMap/RecruitPipe/internal/reporting"
	"github.com/BTreeMap/RecruitPipe/internal/store"
)

// Deliver sends one claimed outbox message through the transport and stamps the
// outbound message with the provider id. It is the store.OutboxSendFunc of the
// service; a returned error makes the outbox retry with backoff.
func (s *Service) Deliver(ctx context.Context, msg store.OutboxMessage) error {
	if msg.Kind != store.OutboxKindSMS {
		return fmt.Errorf("unsupported outbox kind %q", msg.Kind)
	}
	if s.transport == nil {
		return ErrNoTransport
	}
	var p store.SMSPayload
	if err := json.Unmarshal([]byte(msg.PayloadJSON), &p); err != nil {
		return fmt.Errorf("failed to decode sms payload: %w", err)
	}

	sid, err := s.transport.SendSMS(ctx, p.To, p.Body, p.Reference)
	if err != nil {
		if msg.Attempts+1 >= store.DefaultOutboxMaxAttempts {
			s.finishDelivery(ctx, p, "", models.MessageStatusFailed)
		}
		return err
	}
	s.finishDelivery(ctx, p, sid, models.MessageStatusSent)
	return nil
}

func (s *Service) finishDelivery(ctx context.Context, p store.SMSPayload, sid string, status models.MessageStatus) {
	if p.MessageID != 0 {
		if err := s.store.SetMessageDelivery(ctx, p.MessageID, sid, status); err != nil {
			slog.Error("Service.finishDelivery: failed to stamp message", "message_id", p.MessageID, "error", err)
		}
	}
	sent := status == models.MessageStatusSent
	e := reporting.Event{
		Time:      s.now(),
		Phone:     p.To,
		Direction: models.DirectionOut,
		Text:      p.Body,
		Sent:      &sent,
		ThreadID:  p.ThreadID,
	}
	if p.ThreadID != 0 {
		if th, err := s.store.GetThread(ctx, p.ThreadID); err == nil {
			e.City, e.Specialty = th.City, th.Specialty
			e.Outcome = string(th.LastCloseType)
		}
	}
	s.report(ctx, e)
}

// HandleReceipt applies a provider delivery status update.
func (s *Service) HandleReceipt(ctx context.Context, r models.Receipt) error {
	found, err := s.store.UpdateDeliveryStatus(ctx, r.ProviderID, r.Status)
	if err != nil {
		return err
	}
	if !found {
		slog.Debug("Service.HandleReceipt: no message for provider id", "provider_id", r.ProviderID, "status", r.Status)
		return nil
	}
	slog.Debug("Service.HandleReceipt: status updated", "provider_id", r.ProviderID, "status", r.Status)
	return nil
}
