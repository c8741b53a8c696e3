package db

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/runeforge/server/internal/model"
)

// ErrVersionConflict is returned by SaveState when the stored version moved
// past the caller's snapshot.
var ErrVersionConflict = errors.New("state version conflict")

// ErrInvalidTransition is returned by UpdateStatus for moves the session
// lifecycle does not permit.
var ErrInvalidTransition = errors.New("invalid status transition")

// joinCodeAttempts bounds retries against the partial unique index when a
// generated code collides with another open session.
const joinCodeAttempts = 5

// archivedEventLimit caps the event log persisted with an ended session.
const archivedEventLimit = 500

// SessionRepository manages game sessions and their persisted state.
type SessionRepository struct {
	pool *pgxpool.Pool
}

// NewSessionRepository creates a new SessionRepository.
func NewSessionRepository(pool *pgxpool.Pool) *SessionRepository {
	return &SessionRepository{pool: pool}
}

const sessionColumns = `id, join_code, dm_user_id, status, config,
	created_at, started_at, ended_at`

func scanSession(row pgx.Row) (*model.Session, error) {
	var s model.Session
	err := row.Scan(
		&s.ID, &s.JoinCode, &s.DMUserID, &s.Status, &s.Config,
		&s.CreatedAt, &s.StartedAt, &s.EndedAt,
	)
	if err != nil {
		return nil, err
	}
	return &s, nil
}

// Create inserts a new lobby session with a fresh join code, retrying code
// generation on collision with another open session.
func (r *SessionRepository) Create(ctx context.Context, dmUserID string, cfg model.SessionConfig) (*model.Session, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating session config: %w", err)
	}

	id := uuid.NewString()
	for attempt := 0; attempt < joinCodeAttempts; attempt++ {
		code := model.NewJoinCode()
		row := r.pool.QueryRow(ctx,
			`INSERT INTO sessions (id, join_code, dm_user_id, status, config)
			 VALUES ($1, $2, $3, 'lobby', $4)
			 RETURNING `+sessionColumns,
			id, code, dmUserID, cfg,
		)
		s, err := scanSession(row)
		if err == nil {
			return s, nil
		}
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			slog.Debug("join code collision, retrying", "code", code)
			continue
		}
		return nil, fmt.Errorf("creating session: %w", err)
	}
	return nil, fmt.Errorf("creating session: join code space exhausted after %d attempts", joinCodeAttempts)
}

// GetByID retrieves a session.
// Returns nil, nil if the session does not exist.
func (r *SessionRepository) GetByID(ctx context.Context, id string) (*model.Session, error) {
	row := r.pool.QueryRow(ctx,
		`SELECT `+sessionColumns+` FROM sessions WHERE id = $1`, id)
	s, err := scanSession(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("querying session %q: %w", id, err)
	}
	return s, nil
}

// GetByJoinCode retrieves the open session with the given code.
// Returns nil, nil when no open session matches.
func (r *SessionRepository) GetByJoinCode(ctx context.Context, code string) (*model.Session, error) {
	row := r.pool.QueryRow(ctx,
		`SELECT `+sessionColumns+` FROM sessions
		 WHERE join_code = $1 AND status <> 'ended'`, code)
	s, err := scanSession(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("querying session by code %q: %w", code, err)
	}
	return s, nil
}

// UpdateStatus moves the session through its lifecycle, enforcing the
// transition table in the same statement that reads the current status.
func (r *SessionRepository) UpdateStatus(ctx context.Context, id string, next model.SessionStatus) error {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin transaction for session %q: %w", id, err)
	}
	defer rollback(ctx, tx, id)

	var current model.SessionStatus
	err = tx.QueryRow(ctx,
		`SELECT status FROM sessions WHERE id = $1 FOR UPDATE`, id,
	).Scan(&current)
	if errors.Is(err, pgx.ErrNoRows) {
		return fmt.Errorf("session %q not found", id)
	}
	if err != nil {
		return fmt.Errorf("locking session %q: %w", id, err)
	}
	if !current.CanTransitionTo(next) {
		return fmt.Errorf("session %q: %s -> %s: %w", id, current, next, ErrInvalidTransition)
	}

	_, err = tx.Exec(ctx,
		`UPDATE sessions
		 SET status = $1,
		     started_at = CASE WHEN $1 = 'playing' AND started_at IS NULL THEN now() ELSE started_at END,
		     ended_at = CASE WHEN $1 = 'ended' THEN now() ELSE ended_at END
		 WHERE id = $2`,
		next, id,
	)
	if err != nil {
		return fmt.Errorf("updating session %q status: %w", id, err)
	}
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit status update for session %q: %w", id, err)
	}
	return nil
}

// SaveState persists a state snapshot, appends the step's events to the
// event log, and bumps the version, all in one statement gated on the
// optimistic version check: the write succeeds only if the stored version
// still equals prevVersion, and a rejected write touches nothing.
func (r *SessionRepository) SaveState(ctx context.Context, id string, prevVersion int, state any, events []any) error {
	raw, err := json.Marshal(state)
	if err != nil {
		return fmt.Errorf("marshalling state for session %q: %w", id, err)
	}
	eventsRaw := []byte("[]")
	if len(events) > 0 {
		eventsRaw, err = json.Marshal(events)
		if err != nil {
			return fmt.Errorf("marshalling events for session %q: %w", id, err)
		}
	}
	tag, err := r.pool.Exec(ctx,
		`UPDATE sessions
		 SET state = $1,
		     event_log = event_log || $2::jsonb,
		     state_version = state_version + 1
		 WHERE id = $3 AND state_version = $4`,
		raw, eventsRaw, id, prevVersion,
	)
	if err != nil {
		return fmt.Errorf("saving state for session %q: %w", id, err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("session %q at version %d: %w", id, prevVersion, ErrVersionConflict)
	}
	return nil
}

// LoadState returns the stored state JSON and its version.
// State is nil when the session never started.
func (r *SessionRepository) LoadState(ctx context.Context, id string) (json.RawMessage, int, error) {
	var raw json.RawMessage
	var version int
	err := r.pool.QueryRow(ctx,
		`SELECT state, state_version FROM sessions WHERE id = $1`, id,
	).Scan(&raw, &version)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, 0, fmt.Errorf("session %q not found", id)
	}
	if err != nil {
		return nil, 0, fmt.Errorf("loading state for session %q: %w", id, err)
	}
	return raw, version, nil
}

// Archive marks the session ended and persists the final state plus the tail
// of the event log for post-game review.
func (r *SessionRepository) Archive(ctx context.Context, id string, state any, events []any) error {
	if len(events) > archivedEventLimit {
		events = events[len(events)-archivedEventLimit:]
	}
	stateRaw, err := json.Marshal(state)
	if err != nil {
		return fmt.Errorf("marshalling final state for session %q: %w", id, err)
	}
	eventsRaw, err := json.Marshal(events)
	if err != nil {
		return fmt.Errorf("marshalling event log for session %q: %w", id, err)
	}

	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin transaction for session %q: %w", id, err)
	}
	defer rollback(ctx, tx, id)

	var current model.SessionStatus
	err = tx.QueryRow(ctx,
		`SELECT status FROM sessions WHERE id = $1 FOR UPDATE`, id,
	).Scan(&current)
	if err != nil {
		return fmt.Errorf("locking session %q: %w", id, err)
	}
	if current != model.StatusEnded && !current.CanTransitionTo(model.StatusEnded) {
		return fmt.Errorf("session %q: %s -> ended: %w", id, current, ErrInvalidTransition)
	}

	_, err = tx.Exec(ctx,
		`UPDATE sessions
		 SET status = 'ended', state = $1, event_log = $2,
		     state_version = state_version + 1,
		     ended_at = COALESCE(ended_at, now())
		 WHERE id = $3`,
		stateRaw, eventsRaw, id,
	)
	if err != nil {
		return fmt.Errorf("archiving session %q: %w", id, err)
	}
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit archive for session %q: %w", id, err)
	}
	return nil
}

// ListResumableByUser returns non-ended sessions the user is seated in, used
// on reconnect.
func (r *SessionRepository) ListResumableByUser(ctx context.Context, userID string) ([]*model.Session, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT `+sessionColumns+` FROM sessions s
		 JOIN session_players sp ON sp.session_id = s.id
		 WHERE sp.user_id = $1 AND s.status <> 'ended'
		 ORDER BY s.created_at DESC`, userID)
	if err != nil {
		return nil, fmt.Errorf("listing sessions for %q: %w", userID, err)
	}
	defer rows.Close()

	var out []*model.Session
	for rows.Next() {
		s, err := scanSession(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning session row: %w", err)
		}
		out = append(out, s)
	}
	return out, rows.Err()
}

func rollback(ctx context.Context, tx pgx.Tx, id string) {
	if err := tx.Rollback(ctx); err != nil && !errors.Is(err, pgx.ErrTxClosed) {
		slog.Error("rollback failed", "sessionID", id, "error", err)
	}
}
