package db

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/runeforge/server/internal/model"
)

// SessionPlayerRepository manages the (session, user) seat rows.
type SessionPlayerRepository struct {
	pool *pgxpool.Pool
}

// NewSessionPlayerRepository creates a new SessionPlayerRepository.
func NewSessionPlayerRepository(pool *pgxpool.Pool) *SessionPlayerRepository {
	return &SessionPlayerRepository{pool: pool}
}

const seatColumns = `session_id, user_id, character_id, unit_id, status,
	is_ready, joined_at, last_seen_at`

func scanSeat(row pgx.Row) (*model.SessionPlayer, error) {
	var p model.SessionPlayer
	err := row.Scan(
		&p.SessionID, &p.UserID, &p.CharacterID, &p.UnitID, &p.Status,
		&p.IsReady, &p.JoinedAt, &p.LastSeenAt,
	)
	if err != nil {
		return nil, err
	}
	return &p, nil
}

// Add seats a user in a session. Rejoining an existing seat refreshes the
// character choice and marks the seat connected.
func (r *SessionPlayerRepository) Add(ctx context.Context, sessionID, userID, characterID string, status model.PlayerStatus) (*model.SessionPlayer, error) {
	row := r.pool.QueryRow(ctx,
		`INSERT INTO session_players (session_id, user_id, character_id, status)
		 VALUES ($1, $2, $3, $4)
		 ON CONFLICT (session_id, user_id) DO UPDATE
		 SET character_id = EXCLUDED.character_id,
		     status = EXCLUDED.status,
		     last_seen_at = now()
		 RETURNING `+seatColumns,
		sessionID, userID, characterID, status,
	)
	p, err := scanSeat(row)
	if err != nil {
		return nil, fmt.Errorf("seating user %q in session %q: %w", userID, sessionID, err)
	}
	return p, nil
}

// Get retrieves a seat. Returns nil, nil when the user is not in the session.
func (r *SessionPlayerRepository) Get(ctx context.Context, sessionID, userID string) (*model.SessionPlayer, error) {
	row := r.pool.QueryRow(ctx,
		`SELECT `+seatColumns+` FROM session_players
		 WHERE session_id = $1 AND user_id = $2`, sessionID, userID)
	p, err := scanSeat(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("querying seat (%q, %q): %w", sessionID, userID, err)
	}
	return p, nil
}

// ListBySession returns all seats in join order.
func (r *SessionPlayerRepository) ListBySession(ctx context.Context, sessionID string) ([]*model.SessionPlayer, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT `+seatColumns+` FROM session_players
		 WHERE session_id = $1 ORDER BY joined_at`, sessionID)
	if err != nil {
		return nil, fmt.Errorf("listing seats for session %q: %w", sessionID, err)
	}
	defer rows.Close()

	var out []*model.SessionPlayer
	for rows.Next() {
		p, err := scanSeat(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning seat row: %w", err)
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

// SetReady toggles the lobby ready flag.
func (r *SessionPlayerRepository) SetReady(ctx context.Context, sessionID, userID string, ready bool) error {
	_, err := r.pool.Exec(ctx,
		`UPDATE session_players SET is_ready = $1, last_seen_at = now()
		 WHERE session_id = $2 AND user_id = $3`,
		ready, sessionID, userID)
	if err != nil {
		return fmt.Errorf("setting ready for (%q, %q): %w", sessionID, userID, err)
	}
	return nil
}

// SetStatus updates the seat's connection status.
func (r *SessionPlayerRepository) SetStatus(ctx context.Context, sessionID, userID string, status model.PlayerStatus) error {
	_, err := r.pool.Exec(ctx,
		`UPDATE session_players SET status = $1, last_seen_at = now()
		 WHERE session_id = $2 AND user_id = $3`,
		status, sessionID, userID)
	if err != nil {
		return fmt.Errorf("setting status for (%q, %q): %w", sessionID, userID, err)
	}
	return nil
}

// AssignUnits writes the unit id chosen for each seat at game start.
func (r *SessionPlayerRepository) AssignUnits(ctx context.Context, sessionID string, unitByUser map[string]string) error {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin transaction for session %q: %w", sessionID, err)
	}
	defer rollback(ctx, tx, sessionID)

	for userID, unitID := range unitByUser {
		_, err := tx.Exec(ctx,
			`UPDATE session_players SET unit_id = $1
			 WHERE session_id = $2 AND user_id = $3`,
			unitID, sessionID, userID)
		if err != nil {
			return fmt.Errorf("assigning unit %q to (%q, %q): %w", unitID, sessionID, userID, err)
		}
	}
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit unit assignment for session %q: %w", sessionID, err)
	}
	return nil
}

// Remove unseats a user, used when a lobby player leaves or is kicked.
func (r *SessionPlayerRepository) Remove(ctx context.Context, sessionID, userID string) error {
	_, err := r.pool.Exec(ctx,
		`DELETE FROM session_players WHERE session_id = $1 AND user_id = $2`,
		sessionID, userID)
	if err != nil {
		return fmt.Errorf("removing seat (%q, %q): %w", sessionID, userID, err)
	}
	return nil
}
