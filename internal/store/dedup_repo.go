package store

import (
	"context"
	"time"
)

// DedupRecord is one provider message id seen on the inbound path.
type DedupRecord struct {
	MessageID     string     `db:"message_id" json:"message_id"`
	ParticipantID string     `db:"participant_id" json:"participant_id"`
	ReceivedAt    time.Time  `db:"received_at" json:"received_at"`
	ProcessedAt   *time.Time `db:"processed_at" json:"processed_at"`
}

// DedupRepo drops duplicate provider deliveries before they reach the planner.
type DedupRepo interface {
	// IsDuplicate reports whether messageID was already recorded.
	IsDuplicate(ctx context.Context, messageID string) (bool, error)

	// RecordInbound inserts messageID. It returns false when the id was already
	// recorded, so the caller can drop the delivery.
	RecordInbound(ctx context.Context, messageID, phone string) (bool, error)

	// MarkProcessed stamps processed_at on a recorded id.
	MarkProcessed(ctx context.Context, messageID string) error
}
