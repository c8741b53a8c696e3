package db

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/runeforge/server/internal/model"
)

// CharacterRepository manages character personas and server-owned progression.
type CharacterRepository struct {
	pool *pgxpool.Pool
}

// NewCharacterRepository creates a new CharacterRepository.
func NewCharacterRepository(pool *pgxpool.Pool) *CharacterRepository {
	return &CharacterRepository{pool: pool}
}

const characterColumns = `id, user_id, name, class, appearance, backstory,
	xp, gold, silver, inventory,
	games_played, monsters_killed, damage_dealt, damage_taken, deaths,
	created_at, updated_at`

func scanCharacter(row pgx.Row) (*model.Character, error) {
	var c model.Character
	err := row.Scan(
		&c.ID, &c.UserID, &c.Name, &c.Class, &c.Appearance, &c.Backstory,
		&c.XP, &c.Gold, &c.Silver, &c.Inventory,
		&c.GamesPlayed, &c.MonstersKilled, &c.DamageDealt, &c.DamageTaken, &c.Deaths,
		&c.CreatedAt, &c.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return &c, nil
}

// Create inserts a new character after validating the persona fields.
func (r *CharacterRepository) Create(ctx context.Context, c *model.Character) (*model.Character, error) {
	if err := c.ValidatePersona(); err != nil {
		return nil, fmt.Errorf("validating character: %w", err)
	}
	if c.ID == "" {
		c.ID = uuid.NewString()
	}
	row := r.pool.QueryRow(ctx,
		`INSERT INTO characters (id, user_id, name, class, appearance, backstory, inventory)
		 VALUES ($1, $2, $3, $4, $5, $6, $7)
		 RETURNING `+characterColumns,
		c.ID, c.UserID, c.Name, c.Class, c.Appearance, c.Backstory, c.Inventory,
	)
	out, err := scanCharacter(row)
	if err != nil {
		return nil, fmt.Errorf("creating character %q: %w", c.Name, err)
	}
	return out, nil
}

// GetByID retrieves a character.
// Returns nil, nil if the character does not exist.
func (r *CharacterRepository) GetByID(ctx context.Context, id string) (*model.Character, error) {
	row := r.pool.QueryRow(ctx,
		`SELECT `+characterColumns+` FROM characters WHERE id = $1`, id)
	c, err := scanCharacter(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("querying character %q: %w", id, err)
	}
	return c, nil
}

// ListByUser returns all characters owned by the user.
func (r *CharacterRepository) ListByUser(ctx context.Context, userID string) ([]*model.Character, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT `+characterColumns+` FROM characters
		 WHERE user_id = $1 ORDER BY created_at`, userID)
	if err != nil {
		return nil, fmt.Errorf("listing characters for %q: %w", userID, err)
	}
	defer rows.Close()

	var out []*model.Character
	for rows.Next() {
		c, err := scanCharacter(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning character row: %w", err)
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

// UpdatePersona writes the owner-mutable fields: name, class, appearance,
// backstory and weapon equip choice. Progression columns are untouched.
func (r *CharacterRepository) UpdatePersona(ctx context.Context, c *model.Character) error {
	if err := c.ValidatePersona(); err != nil {
		return fmt.Errorf("validating character: %w", err)
	}
	tag, err := r.pool.Exec(ctx,
		`UPDATE characters
		 SET name = $1, class = $2, appearance = $3, backstory = $4,
		     inventory = jsonb_set(inventory, '{equippedWeapon}', to_jsonb($5::text)),
		     updated_at = now()
		 WHERE id = $6 AND user_id = $7`,
		c.Name, c.Class, c.Appearance, c.Backstory,
		c.Inventory.EquippedWeapon, c.ID, c.UserID,
	)
	if err != nil {
		return fmt.Errorf("updating character %q: %w", c.ID, err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("character %q not found for user %q", c.ID, c.UserID)
	}
	return nil
}

// RewardDelta is the progression grant applied after a game, or by a DM
// command with only some fields set.
type RewardDelta struct {
	XP             int
	Gold           int
	Silver         int
	GamesPlayed    int
	MonstersKilled int
	DamageDealt    int
	DamageTaken    int
	Deaths         int
}

// ApplyRewardTx adds a progression delta inside an existing transaction.
func (r *CharacterRepository) ApplyRewardTx(ctx context.Context, tx pgx.Tx, characterID string, d RewardDelta) error {
	_, err := tx.Exec(ctx,
		`UPDATE characters
		 SET xp = xp + $1, gold = gold + $2, silver = silver + $3,
		     games_played = games_played + $4,
		     monsters_killed = monsters_killed + $5,
		     damage_dealt = damage_dealt + $6,
		     damage_taken = damage_taken + $7,
		     deaths = deaths + $8,
		     updated_at = now()
		 WHERE id = $9`,
		d.XP, d.Gold, d.Silver, d.GamesPlayed, d.MonstersKilled,
		d.DamageDealt, d.DamageTaken, d.Deaths, characterID,
	)
	if err != nil {
		return fmt.Errorf("applying reward to character %q: %w", characterID, err)
	}
	return nil
}

// GrantWeapon appends a weapon to the character's inventory.
func (r *CharacterRepository) GrantWeapon(ctx context.Context, characterID string, w model.Weapon) error {
	_, err := r.pool.Exec(ctx,
		`UPDATE characters
		 SET inventory = jsonb_set(inventory, '{weapons}',
		         COALESCE(inventory->'weapons', '[]'::jsonb) || $1::jsonb),
		     updated_at = now()
		 WHERE id = $2`,
		w, characterID,
	)
	if err != nil {
		return fmt.Errorf("granting weapon %q to character %q: %w", w.ID, characterID, err)
	}
	return nil
}
