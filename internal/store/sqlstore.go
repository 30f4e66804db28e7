package store

import (
	"context"
	"database/sql"
	_ "embed"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"
	_ "github.com/mattn/go-sqlite3"

	"github.com/BTreeMap/RecruitPipe/internal/models"
)

//go:embed migrations_sqlite.sql
var sqliteMigrations string

//go:embed migrations_postgres.sql
var postgresMigrations string

const (
	threadColumns  = "id, phone, status, last_close_type, city, specialty, created_at, closed_at, last_user_at"
	messageColumns = "id, thread_id, direction, body, ts, status, provider_id, reference"
	outboxColumns  = "id, participant_id, kind, payload_json, status, attempts, next_attempt_at, dedupe_key, locked_at, last_error, created_at, updated_at"
)

// SQLStore implements Store over SQLite or Postgres through sqlx.
//
// SQLite runs with a single connection, so code inside WithTx must only use the
// Queries it is handed.
type SQLStore struct {
	queries
	db *sqlx.DB
}

// NewSQLStore opens the database selected by opts and applies the schema.
func NewSQLStore(opts ...Option) (*SQLStore, error) {
	cfg := Opts{}
	for _, opt := range opts {
		opt(&cfg)
	}
	if cfg.DSN == "" {
		return nil, fmt.Errorf("store: DSN is required")
	}
	if cfg.Driver == "" {
		cfg.Driver = DetectDSNType(cfg.DSN)
	}

	dsn, migrations := cfg.DSN, postgresMigrations
	if cfg.Driver == DriverSQLite {
		var err error
		if dsn, err = prepareSQLite(cfg.DSN); err != nil {
			return nil, err
		}
		migrations = sqliteMigrations
	}

	db, err := sqlx.Open(cfg.Driver, dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open %s database: %w", cfg.Driver, err)
	}
	if cfg.Driver == DriverSQLite {
		db.SetMaxOpenConns(1)
	} else {
		db.SetMaxOpenConns(10)
		db.SetMaxIdleConns(5)
		db.SetConnMaxLifetime(time.Hour)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}
	if _, err := db.ExecContext(ctx, migrations); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}

	slog.Debug("SQLStore: database ready", "driver", cfg.Driver)
	return newSQLStore(db), nil
}

func newSQLStore(db *sqlx.DB) *SQLStore {
	return &SQLStore{queries: queries{q: db}, db: db}
}

// prepareSQLite creates the parent directory of a file DSN and adds the pragmas the
// store relies on.
func prepareSQLite(dsn string) (string, error) {
	if dsn != ":memory:" && !strings.HasPrefix(dsn, "file:") {
		if dir := filepath.Dir(dsn); dir != "." {
			if err := os.MkdirAll(dir, 0o755); err != nil {
				return "", fmt.Errorf("failed to create database directory %s: %w", dir, err)
			}
		}
	}
	if strings.Contains(dsn, "?") {
		return dsn, nil
	}
	return dsn + "?_busy_timeout=5000&_foreign_keys=on", nil
}

// WithTx implements Store.
func (s *SQLStore) WithTx(ctx context.Context, fn func(q Queries) error) error {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	if err := fn(queries{q: tx}); err != nil {
		if rbErr := tx.Rollback(); rbErr != nil {
			slog.Error("SQLStore.WithTx: rollback failed", "error", rbErr)
		}
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

// Close closes the database.
func (s *SQLStore) Close() error {
	return s.db.Close()
}

// queries implements Queries, DedupRepo and OutboxRepo over a DB or a Tx.
type queries struct {
	q sqlx.ExtContext
}

func (r queries) get(ctx context.Context, dest any, query string, args ...any) error {
	err := sqlx.GetContext(ctx, r.q, dest, r.q.Rebind(query), args...)
	if errors.Is(err, sql.ErrNoRows) {
		return ErrNotFound
	}
	return err
}

func (r queries) selectAll(ctx context.Context, dest any, query string, args ...any) error {
	return sqlx.SelectContext(ctx, r.q, dest, r.q.Rebind(query), args...)
}

func (r queries) exec(ctx context.Context, query string, args ...any) (int64, error) {
	res, err := r.q.ExecContext(ctx, r.q.Rebind(query), args...)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

// prefixed qualifies every column of a column list with a table alias.
func prefixed(alias, columns string) string {
	cols := strings.Split(columns, ", ")
	for i, c := range cols {
		cols[i] = alias + c
	}
	return strings.Join(cols, ", ")
}

func now() time.Time {
	return time.Now().UTC()
}

// EnsureContact implements Queries.
func (r queries) EnsureContact(ctx context.Context, phone string) (models.Contact, error) {
	if _, err := r.exec(ctx, `INSERT INTO contacts (phone, dnc, created_at) VALUES (?, ?, ?) ON CONFLICT (phone) DO NOTHING`,
		phone, false, now()); err != nil {
		return models.Contact{}, fmt.Errorf("failed to ensure contact: %w", err)
	}
	return r.GetContact(ctx, phone)
}

// GetContact implements Queries.
func (r queries) GetContact(ctx context.Context, phone string) (models.Contact, error) {
	var c models.Contact
	if err := r.get(ctx, &c, `SELECT phone, dnc, created_at FROM contacts WHERE phone = ?`, phone); err != nil {
		return c, fmt.Errorf("failed to get contact: %w", err)
	}
	return c, nil
}

// SetDNC implements Queries. The contact is created when missing.
func (r queries) SetDNC(ctx context.Context, phone string, dnc bool) error {
	_, err := r.exec(ctx, `INSERT INTO contacts (phone, dnc, created_at) VALUES (?, ?, ?)
		ON CONFLICT (phone) DO UPDATE SET dnc = excluded.dnc`, phone, dnc, now())
	if err != nil {
		return fmt.Errorf("failed to set dnc: %w", err)
	}
	return nil
}

// GetOpenThread implements Queries. More than one open thread is an invariant
// violation; it is logged and the newest thread wins.
func (r queries) GetOpenThread(ctx context.Context, phone string) (models.Thread, error) {
	var threads []models.Thread
	if err := r.selectAll(ctx, &threads, `SELECT `+threadColumns+` FROM threads WHERE phone = ? AND status = 'open' ORDER BY id DESC`, phone); err != nil {
		return models.Thread{}, fmt.Errorf("failed to get open thread: %w", err)
	}
	if len(threads) == 0 {
		return models.Thread{}, ErrNotFound
	}
	if len(threads) > 1 {
		ids := make([]int64, len(threads))
		for i, t := range threads {
			ids[i] = t.ID
		}
		slog.Error("queries.GetOpenThread: multiple open threads, using newest", "phone", phone, "thread_ids", ids)
	}
	return threads[0], nil
}

// LatestThread implements Queries.
func (r queries) LatestThread(ctx context.Context, phone string) (models.Thread, error) {
	var t models.Thread
	if err := r.get(ctx, &t, `SELECT `+threadColumns+` FROM threads WHERE phone = ? ORDER BY id DESC LIMIT 1`, phone); err != nil {
		return t, fmt.Errorf("failed to get latest thread: %w", err)
	}
	return t, nil
}

// GetThread implements Queries.
func (r queries) GetThread(ctx context.Context, id int64) (models.Thread, error) {
	var t models.Thread
	if err := r.get(ctx, &t, `SELECT `+threadColumns+` FROM threads WHERE id = ?`, id); err != nil {
		return t, fmt.Errorf("failed to get thread %d: %w", id, err)
	}
	return t, nil
}

// CreateThread implements Queries.
func (r queries) CreateThread(ctx context.Context, phone, city, specialty string) (models.Thread, error) {
	var id int64
	err := r.get(ctx, &id, `INSERT INTO threads (phone, status, city, specialty, created_at) VALUES (?, 'open', ?, ?, ?) RETURNING id`,
		phone, city, specialty, now())
	if err != nil {
		return models.Thread{}, fmt.Errorf("failed to create thread: %w", err)
	}
	return r.GetThread(ctx, id)
}

// CloseThread implements Queries.
func (r queries) CloseThread(ctx context.Context, id int64, closeType models.CloseType) (bool, error) {
	n, err := r.exec(ctx, `UPDATE threads SET status = 'closed', last_close_type = ?, closed_at = ? WHERE id = ? AND status = 'open'`,
		string(closeType), now(), id)
	if err != nil {
		return false, fmt.Errorf("failed to close thread %d: %w", id, err)
	}
	return n > 0, nil
}

// SetThreadStatus implements Queries.
func (r queries) SetThreadStatus(ctx context.Context, id int64, status models.ThreadStatus) error {
	n, err := r.exec(ctx, `UPDATE threads SET status = ? WHERE id = ?`, string(status), id)
	if err != nil {
		return fmt.Errorf("failed to set thread status: %w", err)
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

// TouchUserActivity implements Queries.
func (r queries) TouchUserActivity(ctx context.Context, id int64, at time.Time) error {
	if _, err := r.exec(ctx, `UPDATE threads SET last_user_at = ? WHERE id = ?`, at.UTC(), id); err != nil {
		return fmt.Errorf("failed to touch thread: %w", err)
	}
	return nil
}

// AppendMessage implements Queries. A zero timestamp is replaced with the current time.
func (r queries) AppendMessage(ctx context.Context, m models.Message) (models.Message, error) {
	if m.Timestamp.IsZero() {
		m.Timestamp = now()
	}
	var id int64
	err := r.get(ctx, &id, `INSERT INTO messages (thread_id, direction, body, ts, status, provider_id, reference)
		VALUES (?, ?, ?, ?, ?, ?, ?) RETURNING id`,
		m.ThreadID, string(m.Direction), m.Body, m.Timestamp.UTC(), string(m.Status), m.ProviderID, m.Reference)
	if err != nil {
		return models.Message{}, fmt.Errorf("failed to append message: %w", err)
	}
	var out models.Message
	if err := r.get(ctx, &out, `SELECT `+messageColumns+` FROM messages WHERE id = ?`, id); err != nil {
		return out, fmt.Errorf("failed to read appended message: %w", err)
	}
	return out, nil
}

// ListMessages implements Queries.
func (r queries) ListMessages(ctx context.Context, threadID int64, since time.Time, limit int) ([]models.Message, error) {
	query := `SELECT ` + messageColumns + ` FROM messages WHERE thread_id = ? AND ts >= ? ORDER BY ts DESC, id DESC`
	args := []any{threadID, since.UTC()}
	if limit > 0 {
		query += ` LIMIT ?`
		args = append(args, limit)
	}
	var msgs []models.Message
	if err := r.selectAll(ctx, &msgs, query, args...); err != nil {
		return nil, fmt.Errorf("failed to list messages: %w", err)
	}
	slices.Reverse(msgs)
	return msgs, nil
}

// LastOutboundAt implements Queries.
func (r queries) LastOutboundAt(ctx context.Context, phone string) (time.Time, bool, error) {
	var ts time.Time
	err := r.get(ctx, &ts, `SELECT m.ts FROM messages m JOIN threads t ON t.id = m.thread_id
		WHERE t.phone = ? AND m.direction = 'out' ORDER BY m.ts DESC, m.id DESC LIMIT 1`, phone)
	if errors.Is(err, ErrNotFound) {
		return time.Time{}, false, nil
	}
	if err != nil {
		return time.Time{}, false, fmt.Errorf("failed to get last outbound: %w", err)
	}
	return ts, true, nil
}

// SetMessageDelivery implements Queries.
func (r queries) SetMessageDelivery(ctx context.Context, id int64, providerID string, status models.MessageStatus) error {
	if _, err := r.exec(ctx, `UPDATE messages SET provider_id = ?, status = ? WHERE id = ?`, providerID, string(status), id); err != nil {
		return fmt.Errorf("failed to set message delivery: %w", err)
	}
	return nil
}

// UpdateDeliveryStatus implements Queries.
func (r queries) UpdateDeliveryStatus(ctx context.Context, providerID string, status models.MessageStatus) (bool, error) {
	if providerID == "" {
		return false, nil
	}
	n, err := r.exec(ctx, `UPDATE messages SET status = ? WHERE provider_id = ?`, string(status), providerID)
	if err != nil {
		return false, fmt.Errorf("failed to update delivery status: %w", err)
	}
	return n > 0, nil
}

// RecordOutcome implements Queries.
func (r queries) RecordOutcome(ctx context.Context, o models.Outcome) (bool, error) {
	if o.CreatedAt.IsZero() {
		o.CreatedAt = now()
	}
	n, err := r.exec(ctx, `INSERT INTO outcomes (thread_id, interested, future_interest, years, availability, close_type, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?) ON CONFLICT (thread_id) DO NOTHING`,
		o.ThreadID, string(o.Interested), string(o.FutureInterest), o.Years, o.Availability, string(o.CloseType), o.CreatedAt.UTC())
	if err != nil {
		return false, fmt.Errorf("failed to record outcome: %w", err)
	}
	return n > 0, nil
}

// GetOutcome implements Queries.
func (r queries) GetOutcome(ctx context.Context, threadID int64) (models.Outcome, error) {
	var o models.Outcome
	if err := r.get(ctx, &o, `SELECT thread_id, interested, future_interest, years, availability, close_type, created_at
		FROM outcomes WHERE thread_id = ?`, threadID); err != nil {
		return o, fmt.Errorf("failed to get outcome: %w", err)
	}
	return o, nil
}

// ClosedThreadsWithoutOutcome implements Queries.
func (r queries) ClosedThreadsWithoutOutcome(ctx context.Context, limit int) ([]models.Thread, error) {
	var threads []models.Thread
	err := r.selectAll(ctx, &threads, `SELECT `+prefixed("t.", threadColumns)+` FROM threads t
		LEFT JOIN outcomes o ON o.thread_id = t.id
		WHERE t.status = 'closed' AND o.thread_id IS NULL ORDER BY t.id LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list closed threads without outcome: %w", err)
	}
	return threads, nil
}

// IsDuplicate implements DedupRepo.
func (r queries) IsDuplicate(ctx context.Context, messageID string) (bool, error) {
	var n int
	if err := r.get(ctx, &n, `SELECT COUNT(*) FROM inbound_dedup WHERE message_id = ?`, messageID); err != nil {
		return false, fmt.Errorf("failed to check dedup: %w", err)
	}
	return n > 0, nil
}

// RecordInbound implements DedupRepo.
func (r queries) RecordInbound(ctx context.Context, messageID, phone string) (bool, error) {
	n, err := r.exec(ctx, `INSERT INTO inbound_dedup (message_id, participant_id, received_at) VALUES (?, ?, ?)
		ON CONFLICT (message_id) DO NOTHING`, messageID, phone, now())
	if err != nil {
		return false, fmt.Errorf("failed to record inbound: %w", err)
	}
	return n > 0, nil
}

// MarkProcessed implements DedupRepo.
func (r queries) MarkProcessed(ctx context.Context, messageID string) error {
	if _, err := r.exec(ctx, `UPDATE inbound_dedup SET processed_at = ? WHERE message_id = ?`, now(), messageID); err != nil {
		return fmt.Errorf("failed to mark processed: %w", err)
	}
	return nil
}

// EnqueueOutboxMessage implements OutboxRepo.
func (r queries) EnqueueOutboxMessage(ctx context.Context, participantID, kind, payloadJSON, dedupeKey string) (string, error) {
	if dedupeKey != "" {
		var existing string
		err := r.get(ctx, &existing, `SELECT id FROM outbox_messages WHERE dedupe_key = ? AND status IN ('queued', 'sending') LIMIT 1`, dedupeKey)
		if err == nil {
			return existing, nil
		}
		if !errors.Is(err, ErrNotFound) {
			return "", fmt.Errorf("failed to check outbox dedupe key: %w", err)
		}
	}
	id := "outbox_" + uuid.NewString()
	ts := now()
	_, err := r.exec(ctx, `INSERT INTO outbox_messages (id, participant_id, kind, payload_json, status, attempts, dedupe_key, created_at, updated_at)
		VALUES (?, ?, ?, ?, 'queued', 0, ?, ?, ?)`, id, participantID, kind, payloadJSON, dedupeKey, ts, ts)
	if err != nil {
		return "", fmt.Errorf("failed to enqueue outbox message: %w", err)
	}
	return id, nil
}

// ClaimDueOutboxMessages implements OutboxRepo.
func (r queries) ClaimDueOutboxMessages(ctx context.Context, at time.Time, limit int) ([]OutboxMessage, error) {
	lockClause := ""
	if r.q.DriverName() == DriverPostgres {
		lockClause = " FOR UPDATE SKIP LOCKED"
	}
	at = at.UTC()
	var ids []string
	err := r.selectAll(ctx, &ids, `UPDATE outbox_messages SET status = 'sending', locked_at = ?, updated_at = ?
		WHERE id IN (SELECT id FROM outbox_messages WHERE status = 'queued' AND (next_attempt_at IS NULL OR next_attempt_at <= ?)
		ORDER BY created_at LIMIT ?`+lockClause+`) RETURNING id`, at, at, at, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to claim outbox messages: %w", err)
	}
	if len(ids) == 0 {
		return nil, nil
	}
	query, args, err := sqlx.In(`SELECT `+outboxColumns+` FROM outbox_messages WHERE id IN (?)`, ids)
	if err != nil {
		return nil, fmt.Errorf("failed to build outbox query: %w", err)
	}
	var msgs []OutboxMessage
	if err := r.selectAll(ctx, &msgs, query, args...); err != nil {
		return nil, fmt.Errorf("failed to load claimed outbox messages: %w", err)
	}
	slices.SortFunc(msgs, func(a, b OutboxMessage) int { return a.CreatedAt.Compare(b.CreatedAt) })
	return msgs, nil
}

// MarkOutboxMessageSent implements OutboxRepo.
func (r queries) MarkOutboxMessageSent(ctx context.Context, id string) error {
	if _, err := r.exec(ctx, `UPDATE outbox_messages SET status = 'sent', locked_at = NULL, updated_at = ? WHERE id = ?`, now(), id); err != nil {
		return fmt.Errorf("failed to mark outbox message sent: %w", err)
	}
	return nil
}

// FailOutboxMessage implements OutboxRepo.
func (r queries) FailOutboxMessage(ctx context.Context, id string, errMsg string, nextAttemptAt *time.Time) error {
	status := OutboxStatusQueued
	var next any
	if nextAttemptAt == nil {
		status = OutboxStatusFailed
	} else {
		next = nextAttemptAt.UTC()
	}
	_, err := r.exec(ctx, `UPDATE outbox_messages SET status = ?, attempts = attempts + 1, last_error = ?, next_attempt_at = ?,
		locked_at = NULL, updated_at = ? WHERE id = ?`, string(status), errMsg, next, now(), id)
	if err != nil {
		return fmt.Errorf("failed to record outbox failure: %w", err)
	}
	return nil
}

// RequeueStaleSendingMessages implements OutboxRepo.
func (r queries) RequeueStaleSendingMessages(ctx context.Context, staleBefore time.Time) (int, error) {
	n, err := r.exec(ctx, `UPDATE outbox_messages SET status = 'queued', locked_at = NULL, updated_at = ?
		WHERE status = 'sending' AND locked_at < ?`, now(), staleBefore.UTC())
	if err != nil {
		return 0, fmt.Errorf("failed to requeue stale outbox messages: %w", err)
	}
	return int(n), nil
}

var _ Store = (*SQLStore)(nil)
