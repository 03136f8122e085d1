package requests

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"callconfirm/internal/calls"
	"callconfirm/pkg/utils"

	"github.com/google/uuid"
)

// NOTE: PgStore expects the confirmation_requests table created by EnsureSchema.
// Every state transition is a single conditional UPDATE keyed on active_call_id, so
// concurrent scheduler passes and webhook deliveries serialize on the row.

const schema = `
CREATE TABLE IF NOT EXISTS confirmation_requests (
  id              TEXT PRIMARY KEY,
  name            TEXT NOT NULL DEFAULT '',
  phone           TEXT NOT NULL,
  mode            TEXT NOT NULL,
  status          TEXT NOT NULL DEFAULT 'pending',
  retry_count     INTEGER NOT NULL DEFAULT 0 CHECK (retry_count >= 0),
  outcome         TEXT NOT NULL DEFAULT '',
  last_call_time  TIMESTAMPTZ,
  last_call_id    TEXT NOT NULL DEFAULT '',
  active_call_id  TEXT NOT NULL DEFAULT '',
  active_since    TIMESTAMPTZ,
  next_attempt_at TIMESTAMPTZ,
  updated_at      TIMESTAMPTZ NOT NULL DEFAULT now()
);
CREATE INDEX IF NOT EXISTS confirmation_requests_due_idx
  ON confirmation_requests (status, next_attempt_at) WHERE active_call_id = '';
CREATE INDEX IF NOT EXISTS confirmation_requests_active_idx
  ON confirmation_requests (active_call_id) WHERE active_call_id <> '';
CREATE INDEX IF NOT EXISTS confirmation_requests_last_call_idx
  ON confirmation_requests (last_call_id) WHERE last_call_id <> '';
`

const selectColumns = `id, name, phone, mode, status, retry_count, outcome, last_call_time, last_call_id,
  active_call_id, active_since, next_attempt_at, updated_at`

type PgStore struct {
	db    *sql.DB
	clock func() time.Time
}

func NewPgStore(db *sql.DB) *PgStore { return &PgStore{db: db, clock: time.Now} }

// EnsureSchema creates the table and indexes if they do not exist.
func (s *PgStore) EnsureSchema(ctx context.Context) error {
	return utils.WithTx(ctx, s.db, nil, func(ctx context.Context, tx *sql.Tx) error {
		_, err := tx.ExecContext(ctx, schema)
		return err
	})
}

// Ping reports whether the database is reachable.
func (s *PgStore) Ping(ctx context.Context) error {
	if err := utils.HealthCheck(ctx, s.db, 2*time.Second); err != nil {
		return unavailable(err)
	}
	return nil
}

func (s *PgStore) Create(ctx context.Context, r calls.Request) (calls.Request, error) {
	if err := Validate(&r); err != nil {
		return calls.Request{}, err
	}
	if r.ID == "" {
		r.ID = uuid.NewString()
	}
	const q = `
INSERT INTO confirmation_requests (id, name, phone, mode, status, retry_count, outcome, updated_at)
VALUES ($1,$2,$3,$4,$5,$6,$7,$8)
ON CONFLICT (id) DO NOTHING
RETURNING ` + selectColumns
	out, err := scanRequest(s.db.QueryRowContext(ctx, q,
		r.ID, r.Name, r.Phone, r.Mode, r.Status, r.RetryCount, r.Outcome, s.clock().UTC(),
	))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return calls.Request{}, ErrConflict
		}
		return calls.Request{}, unavailable(err)
	}
	return out, nil
}

func (s *PgStore) List(ctx context.Context, f ListFilter) ([]calls.Request, error) {
	q := `SELECT ` + selectColumns + ` FROM confirmation_requests`
	var args []any
	if f.Status != nil {
		q += ` WHERE status = $1`
		args = append(args, *f.Status)
	}
	q += ` ORDER BY updated_at DESC, id`
	return s.query(ctx, q, args...)
}

func (s *PgStore) ListDue(ctx context.Context, now time.Time, limit int) ([]calls.Request, error) {
	const q = `
SELECT ` + selectColumns + `
FROM confirmation_requests
WHERE status = 'pending'
  AND active_call_id = ''
  AND (next_attempt_at IS NULL OR next_attempt_at <= $1)
ORDER BY next_attempt_at ASC NULLS FIRST, id
LIMIT $2
`
	return s.query(ctx, q, now.UTC(), limitOrAll(limit))
}

func (s *PgStore) ListStale(ctx context.Context, activeBefore time.Time, limit int) ([]calls.Request, error) {
	const q = `
SELECT ` + selectColumns + `
FROM confirmation_requests
WHERE active_call_id <> '' AND active_since < $1
ORDER BY active_since ASC
LIMIT $2
`
	return s.query(ctx, q, activeBefore.UTC(), limitOrAll(limit))
}

func (s *PgStore) Get(ctx context.Context, id string) (calls.Request, error) {
	const q = `SELECT ` + selectColumns + ` FROM confirmation_requests WHERE id = $1`
	r, err := scanRequest(s.db.QueryRowContext(ctx, q, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return calls.Request{}, ErrNotFound
		}
		return calls.Request{}, unavailable(err)
	}
	return r, nil
}

func (s *PgStore) FindByCallID(ctx context.Context, callID string) (calls.Request, error) {
	if callID == "" {
		return calls.Request{}, ErrUnknownCall
	}
	// Active match sorts first.
	const q = `
SELECT ` + selectColumns + `
FROM confirmation_requests
WHERE active_call_id = $1 OR last_call_id = $1
ORDER BY (active_call_id = $1) DESC
LIMIT 1
`
	r, err := scanRequest(s.db.QueryRowContext(ctx, q, callID))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return calls.Request{}, ErrUnknownCall
		}
		return calls.Request{}, unavailable(err)
	}
	return r, nil
}

func (s *PgStore) Claim(ctx context.Context, id string, now time.Time) (string, error) {
	token := NewClaimToken()
	const q = `
UPDATE confirmation_requests
SET active_call_id = $2, active_since = $3, updated_at = $4
WHERE id = $1 AND status = 'pending' AND active_call_id = ''
`
	if err := s.conditional(ctx, id, q, id, token, now.UTC(), s.clock().UTC()); err != nil {
		return "", err
	}
	return token, nil
}

func (s *PgStore) ReleaseClaim(ctx context.Context, id, token string) error {
	if token == "" {
		return ErrConflict
	}
	const q = `
UPDATE confirmation_requests
SET active_call_id = '', active_since = NULL, updated_at = $3
WHERE id = $1 AND active_call_id = $2
`
	return s.conditional(ctx, id, q, id, token, s.clock().UTC())
}

func (s *PgStore) AttachCall(ctx context.Context, id, token, callID string, placedAt time.Time) error {
	if token == "" {
		return ErrConflict
	}
	const q = `
UPDATE confirmation_requests
SET active_call_id = $3, last_call_id = $3, last_call_time = $4, active_since = $4, updated_at = $5
WHERE id = $1 AND active_call_id = $2
`
	return s.conditional(ctx, id, q, id, token, callID, placedAt.UTC(), s.clock().UTC())
}

func (s *PgStore) Resolve(ctx context.Context, id, expectedActive string, res Resolution) error {
	if expectedActive == "" {
		return ErrConflict
	}
	// retry_count <= $4 keeps the counter monotone even if a stale resolution races through.
	const q = `
UPDATE confirmation_requests
SET outcome = $3,
    retry_count = $4,
    status = $5,
    next_attempt_at = $6,
    last_call_time = COALESCE($7, last_call_time),
    active_call_id = '',
    active_since = NULL,
    updated_at = $8
WHERE id = $1
  AND active_call_id = $2
  AND status = 'pending'
  AND retry_count <= $4
`
	return s.conditional(ctx, id, q,
		id, expectedActive, res.Outcome, res.RetryCount, res.Status,
		nullTime(res.NextAttemptAt), nullTime(res.AttemptedAt), s.clock().UTC(),
	)
}

// conditional runs a guarded UPDATE. Zero affected rows is ErrConflict, or ErrNotFound
// when the row does not exist at all.
func (s *PgStore) conditional(ctx context.Context, id, q string, args ...any) error {
	res, err := s.db.ExecContext(ctx, q, args...)
	if err != nil {
		return unavailable(err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return unavailable(err)
	}
	if n == 1 {
		return nil
	}
	var exists bool
	if err := s.db.QueryRowContext(ctx, `SELECT EXISTS (SELECT 1 FROM confirmation_requests WHERE id = $1)`, id).Scan(&exists); err != nil {
		return unavailable(err)
	}
	if !exists {
		return ErrNotFound
	}
	return ErrConflict
}

func (s *PgStore) query(ctx context.Context, q string, args ...any) ([]calls.Request, error) {
	rows, err := s.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, unavailable(err)
	}
	defer rows.Close()

	out := make([]calls.Request, 0)
	for rows.Next() {
		r, err := scanRequest(rows)
		if err != nil {
			return nil, unavailable(err)
		}
		out = append(out, r)
	}
	if err := rows.Err(); err != nil {
		return nil, unavailable(err)
	}
	return out, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanRequest(row rowScanner) (calls.Request, error) {
	var r calls.Request
	var lastCall, activeSince, nextAttemptAt sql.NullTime
	if err := row.Scan(
		&r.ID,
		&r.Name,
		&r.Phone,
		&r.Mode,
		&r.Status,
		&r.RetryCount,
		&r.Outcome,
		&lastCall,
		&r.LastCallID,
		&r.ActiveCallID,
		&activeSince,
		&nextAttemptAt,
		&r.UpdatedAt,
	); err != nil {
		return calls.Request{}, err
	}
	r.LastCallTime = timePtr(lastCall)
	r.ActiveSince = timePtr(activeSince)
	r.NextAttemptAt = timePtr(nextAttemptAt)
	return r, nil
}

func timePtr(t sql.NullTime) *time.Time {
	if !t.Valid {
		return nil
	}
	v := t.Time.UTC()
	return &v
}

func nullTime(t *time.Time) sql.NullTime {
	if t == nil {
		return sql.NullTime{}
	}
	return sql.NullTime{Time: t.UTC(), Valid: true}
}

func limitOrAll(limit int) any {
	if limit <= 0 {
		return nil
	}
	return limit
}

func unavailable(err error) error {
	return fmt.Errorf("%w: %v", ErrUnavailable, err)
}
