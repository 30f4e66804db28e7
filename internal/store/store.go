// Package store persists contacts, threads, messages and outcomes, and provides the
// inbound dedup table and the durable outbox.
package store

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/BTreeMap/RecruitPipe/internal/models"
)

// ErrNotFound is returned when a looked-up row does not exist.
var ErrNotFound = errors.New("not found")

// Queries are the thread operations available both on the store and inside a transaction.
type Queries interface {
	EnsureContact(ctx context.Context, phone string) (models.Contact, error)
	GetContact(ctx context.Context, phone string) (models.Contact, error)
	SetDNC(ctx context.Context, phone string, dnc bool) error

	// GetOpenThread returns the open thread of phone or ErrNotFound.
	GetOpenThread(ctx context.Context, phone string) (models.Thread, error)
	// LatestThread returns the newest thread of phone, open or closed.
	LatestThread(ctx context.Context, phone string) (models.Thread, error)
	GetThread(ctx context.Context, id int64) (models.Thread, error)
	CreateThread(ctx context.Context, phone, city, specialty string) (models.Thread, error)
	// CloseThread moves an open thread to closed. It reports false when the thread was
	// already closed.
	CloseThread(ctx context.Context, id int64, closeType models.CloseType) (bool, error)
	SetThreadStatus(ctx context.Context, id int64, status models.ThreadStatus) error
	TouchUserActivity(ctx context.Context, id int64, at time.Time) error

	AppendMessage(ctx context.Context, m models.Message) (models.Message, error)
	// ListMessages returns messages of a thread at or after since, ordered by (ts, id).
	// A non-positive limit returns everything; otherwise the newest limit messages.
	ListMessages(ctx context.Context, threadID int64, since time.Time, limit int) ([]models.Message, error)
	// LastOutboundAt returns the time of the newest outbound message to phone.
	LastOutboundAt(ctx context.Context, phone string) (time.Time, bool, error)
	SetMessageDelivery(ctx context.Context, id int64, providerID string, status models.MessageStatus) error
	UpdateDeliveryStatus(ctx context.Context, providerID string, status models.MessageStatus) (bool, error)

	// RecordOutcome inserts the KPI row of a thread. It reports false when the thread
	// already has one.
	RecordOutcome(ctx context.Context, o models.Outcome) (bool, error)
	GetOutcome(ctx context.Context, threadID int64) (models.Outcome, error)
	// ClosedThreadsWithoutOutcome lists closed threads that have no outcome row yet.
	ClosedThreadsWithoutOutcome(ctx context.Context, limit int) ([]models.Thread, error)

	EnqueueOutboxMessage(ctx context.Context, participantID, kind, payloadJSON, dedupeKey string) (string, error)

	// The dedup row of an inbound delivery commits or rolls back with its turn.
	DedupRepo
}

// Store is the full persistence surface used by the service.
type Store interface {
	Queries
	OutboxRepo
	// WithTx runs fn in one transaction, committing when fn returns nil.
	WithTx(ctx context.Context, fn func(q Queries) error) error
	Close() error
}

// Opts holds configuration options for store implementations.
type Opts struct {
	DSN    string
	Driver string
}

// Option defines a function that configures Opts.
type Option func(*Opts)

// WithSQLiteDSN selects the SQLite driver with a database file path.
func WithSQLiteDSN(dsn string) Option {
	return func(o *Opts) {
		o.DSN = dsn
		o.Driver = DriverSQLite
	}
}

// WithPostgresDSN selects the Postgres driver with a connection string.
func WithPostgresDSN(dsn string) Option {
	return func(o *Opts) {
		o.DSN = dsn
		o.Driver = DriverPostgres
	}
}

// WithDSN picks the driver from the shape of dsn.
func WithDSN(dsn string) Option {
	return func(o *Opts) {
		o.DSN = dsn
		o.Driver = DetectDSNType(dsn)
	}
}

// Supported drivers.
const (
	DriverSQLite   = "sqlite3"
	DriverPostgres = "postgres"
)

// DetectDSNType returns "postgres" for Postgres URLs and key/value strings, "sqlite3" otherwise.
func DetectDSNType(dsn string) string {
	d := strings.TrimSpace(dsn)
	if strings.HasPrefix(d, "postgres://") || strings.HasPrefix(d, "postgresql://") {
		return DriverPostgres
	}
	if strings.Contains(d, "host=") || strings.Contains(d, "dbname=") || strings.Contains(d, "user=") {
		return DriverPostgres
	}
	return DriverSQLite
}
