package db

import (
	"context"
	"fmt"

	"github.com/runeforge/server/internal/model"
)

// Store aggregates the repositories behind the persistence surface the
// coordinator consumes.
type Store struct {
	Users      *UserRepository
	Characters *CharacterRepository
	Sessions   *SessionRepository
	Seats      *SessionPlayerRepository

	db *DB
}

// NewStore builds the repository set over one pool.
func NewStore(d *DB) *Store {
	pool := d.Pool()
	return &Store{
		Users:      NewUserRepository(pool),
		Characters: NewCharacterRepository(pool),
		Sessions:   NewSessionRepository(pool),
		Seats:      NewSessionPlayerRepository(pool),
		db:         d,
	}
}

func (s *Store) CreateSession(ctx context.Context, dmUserID string, cfg model.SessionConfig) (*model.Session, error) {
	return s.Sessions.Create(ctx, dmUserID, cfg)
}

func (s *Store) SessionByJoinCode(ctx context.Context, code string) (*model.Session, error) {
	return s.Sessions.GetByJoinCode(ctx, code)
}

func (s *Store) UpdateSessionStatus(ctx context.Context, id string, next model.SessionStatus) error {
	return s.Sessions.UpdateStatus(ctx, id, next)
}

// SaveState persists a snapshot plus its events with retry on transient
// failures. Version conflicts surface immediately.
func (s *Store) SaveState(ctx context.Context, id string, prevVersion int, state any, events []any) error {
	return WithRetry(ctx, func(ctx context.Context) error {
		return s.Sessions.SaveState(ctx, id, prevVersion, state, events)
	})
}

func (s *Store) ArchiveSession(ctx context.Context, id string, state any, events []any) error {
	return s.Sessions.Archive(ctx, id, state, events)
}

func (s *Store) AddSeat(ctx context.Context, sessionID, userID, characterID string, status model.PlayerStatus) (*model.SessionPlayer, error) {
	return s.Seats.Add(ctx, sessionID, userID, characterID, status)
}

func (s *Store) RemoveSeat(ctx context.Context, sessionID, userID string) error {
	return s.Seats.Remove(ctx, sessionID, userID)
}

func (s *Store) SetSeatReady(ctx context.Context, sessionID, userID string, ready bool) error {
	return s.Seats.SetReady(ctx, sessionID, userID, ready)
}

func (s *Store) SetSeatStatus(ctx context.Context, sessionID, userID string, status model.PlayerStatus) error {
	return s.Seats.SetStatus(ctx, sessionID, userID, status)
}

func (s *Store) AssignUnits(ctx context.Context, sessionID string, unitByUser map[string]string) error {
	return s.Seats.AssignUnits(ctx, sessionID, unitByUser)
}

func (s *Store) CharacterByID(ctx context.Context, id string) (*model.Character, error) {
	return s.Characters.GetByID(ctx, id)
}

func (s *Store) CharactersByUser(ctx context.Context, userID string) ([]*model.Character, error) {
	return s.Characters.ListByUser(ctx, userID)
}

func (s *Store) UpdateCharacterPersona(ctx context.Context, c *model.Character) error {
	return s.Characters.UpdatePersona(ctx, c)
}

func (s *Store) GrantWeapon(ctx context.Context, characterID string, w model.Weapon) error {
	return s.Characters.GrantWeapon(ctx, characterID, w)
}

// RewardGrant pairs a character with the progression delta it earned.
type RewardGrant struct {
	CharacterID string
	Delta       RewardDelta
}

// ApplyRewards applies all grants in one transaction.
func (s *Store) ApplyRewards(ctx context.Context, grants []RewardGrant) error {
	if len(grants) == 0 {
		return nil
	}
	tx, err := s.db.Pool().Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin reward transaction: %w", err)
	}
	defer rollback(ctx, tx, "rewards")

	for _, g := range grants {
		if err := s.Characters.ApplyRewardTx(ctx, tx, g.CharacterID, g.Delta); err != nil {
			return err
		}
	}
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit reward transaction: %w", err)
	}
	return nil
}
