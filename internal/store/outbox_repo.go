package store

import (
	"context"
	"time"
)

// OutboxStatus represents the lifecycle state of an outbox message.
type OutboxStatus string

const (
	OutboxStatusQueued   OutboxStatus = "queued"
	OutboxStatusSending  OutboxStatus = "sending"
	OutboxStatusSent     OutboxStatus = "sent"
	OutboxStatusFailed   OutboxStatus = "failed"
	OutboxStatusCanceled OutboxStatus = "canceled"
)

// OutboxKindSMS is the kind of outbox rows carrying an SMSPayload.
const OutboxKindSMS = "sms"

// SMSPayload is the payload_json of an sms outbox row. MessageID points at the
// outbound messages row whose delivery status the send updates.
type SMSPayload struct {
	To        string `json:"to"`
	Body      string `json:"body"`
	MessageID int64  `json:"message_id"`
	ThreadID  int64  `json:"thread_id,omitempty"`
	Reference string `json:"reference,omitempty"`
}

// OutboxMessage represents a durable outgoing message record.
type OutboxMessage struct {
	ID            string       `db:"id" json:"id"`
	ParticipantID string       `db:"participant_id" json:"participant_id"`
	Kind          string       `db:"kind" json:"kind"`
	PayloadJSON   string       `db:"payload_json" json:"payload_json"`
	Status        OutboxStatus `db:"status" json:"status"`
	Attempts      int          `db:"attempts" json:"attempts"`
	NextAttemptAt *time.Time   `db:"next_attempt_at" json:"next_attempt_at"`
	DedupeKey     string       `db:"dedupe_key" json:"dedupe_key"`
	LockedAt      *time.Time   `db:"locked_at" json:"locked_at"`
	LastError     string       `db:"last_error" json:"last_error"`
	CreatedAt     time.Time    `db:"created_at" json:"created_at"`
	UpdatedAt     time.Time    `db:"updated_at" json:"updated_at"`
}

// OutboxRepo defines durable outbox persistence.
type OutboxRepo interface {
	// EnqueueOutboxMessage inserts a new outbox message. If dedupeKey is non-empty
	// and a non-terminal message with that key exists, returns the existing ID.
	EnqueueOutboxMessage(ctx context.Context, participantID, kind, payloadJSON, dedupeKey string) (string, error)

	// ClaimDueOutboxMessages marks up to limit queued messages whose
	// next_attempt_at <= now (or is NULL) as sending and returns them.
	ClaimDueOutboxMessages(ctx context.Context, now time.Time, limit int) ([]OutboxMessage, error)

	// MarkOutboxMessageSent marks a message as successfully sent.
	MarkOutboxMessageSent(ctx context.Context, id string) error

	// FailOutboxMessage records a send failure and requeues the message for
	// nextAttemptAt. A nil nextAttemptAt marks the message failed for good.
	FailOutboxMessage(ctx context.Context, id string, errMsg string, nextAttemptAt *time.Time) error

	// RequeueStaleSendingMessages resets messages stuck in sending since before
	// staleBefore back to queued.
	RequeueStaleSendingMessages(ctx context.Context, staleBefore time.Time) (int, error)
}
