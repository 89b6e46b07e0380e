package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/waystonemud/waystone/internal/game/character"
)

// ErrCharacterNotFound is returned when a character lookup yields no results.
var ErrCharacterNotFound = errors.New("character not found")

// ErrCharacterNameTaken is returned when creating a character with a name
// already used by the account.
var ErrCharacterNameTaken = errors.New("character name already taken")

// CharacterRepository provides character persistence operations.
type CharacterRepository struct {
	db *pgxpool.Pool
}

// NewCharacterRepository creates a CharacterRepository backed by the given pool.
//
// Precondition: db must be a valid, open connection pool.
func NewCharacterRepository(db *pgxpool.Pool) *CharacterRepository {
	return &CharacterRepository{db: db}
}

// Create inserts a new character and returns it with ID and timestamps set.
//
// Precondition: c.AccountID must reference an existing account; c.Name must
// be non-empty.
// Postcondition: Returns the created character with ID set, or
// ErrCharacterNameTaken on duplicate.
func (r *CharacterRepository) Create(ctx context.Context, c *character.Character) (*character.Character, error) {
	currentHP, maxHP := c.HitPoints()

	var out character.Character
	var outCurrent, outMax int
	err := r.db.QueryRow(ctx, `
		INSERT INTO characters
			(account_id, name, class, level, experience, location,
			 strength, dexterity, constitution, intelligence, wisdom, charisma,
			 max_hp, current_hp)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14)
		RETURNING id, account_id, name, class, level, experience, location,
		          strength, dexterity, constitution, intelligence, wisdom, charisma,
		          max_hp, current_hp, created_at, updated_at`,
		c.AccountID, c.Name, c.Class, c.Level, c.Experience, c.Location,
		c.Abilities.Strength, c.Abilities.Dexterity, c.Abilities.Constitution,
		c.Abilities.Intelligence, c.Abilities.Wisdom, c.Abilities.Charisma,
		maxHP, currentHP,
	).Scan(
		&out.ID, &out.AccountID, &out.Name, &out.Class, &out.Level,
		&out.Experience, &out.Location,
		&out.Abilities.Strength, &out.Abilities.Dexterity, &out.Abilities.Constitution,
		&out.Abilities.Intelligence, &out.Abilities.Wisdom, &out.Abilities.Charisma,
		&outMax, &outCurrent, &out.CreatedAt, &out.UpdatedAt,
	)
	if err != nil {
		if isDuplicateKeyError(err) {
			return nil, ErrCharacterNameTaken
		}
		return nil, fmt.Errorf("inserting character: %w", err)
	}
	out.SetHitPoints(outCurrent, outMax)
	return &out, nil
}

// GetByID retrieves a character by its primary key.
//
// Precondition: id must be > 0.
// Postcondition: Returns the Character or ErrCharacterNotFound.
func (r *CharacterRepository) GetByID(ctx context.Context, id int64) (*character.Character, error) {
	var c character.Character
	var currentHP, maxHP int
	err := r.db.QueryRow(ctx, `
		SELECT id, account_id, name, class, level, experience, location,
		       strength, dexterity, constitution, intelligence, wisdom, charisma,
		       max_hp, current_hp, created_at, updated_at
		FROM characters WHERE id = $1`,
		id,
	).Scan(
		&c.ID, &c.AccountID, &c.Name, &c.Class, &c.Level,
		&c.Experience, &c.Location,
		&c.Abilities.Strength, &c.Abilities.Dexterity, &c.Abilities.Constitution,
		&c.Abilities.Intelligence, &c.Abilities.Wisdom, &c.Abilities.Charisma,
		&maxHP, &currentHP, &c.CreatedAt, &c.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrCharacterNotFound
		}
		return nil, fmt.Errorf("querying character: %w", err)
	}
	c.SetHitPoints(currentHP, maxHP)
	return &c, nil
}

// ListByAccount returns all characters for the given account ID, ordered by
// created_at.
//
// Precondition: accountID must be > 0.
// Postcondition: Returns a slice (may be empty) or a non-nil error.
func (r *CharacterRepository) ListByAccount(ctx context.Context, accountID int64) ([]*character.Character, error) {
	rows, err := r.db.Query(ctx, `
		SELECT id, account_id, name, class, level, experience, location,
		       strength, dexterity, constitution, intelligence, wisdom, charisma,
		       max_hp, current_hp, created_at, updated_at
		FROM characters WHERE account_id = $1 ORDER BY created_at ASC`,
		accountID,
	)
	if err != nil {
		return nil, fmt.Errorf("listing characters: %w", err)
	}
	defer rows.Close()

	chars := make([]*character.Character, 0)
	for rows.Next() {
		var c character.Character
		var currentHP, maxHP int
		if err := rows.Scan(
			&c.ID, &c.AccountID, &c.Name, &c.Class, &c.Level,
			&c.Experience, &c.Location,
			&c.Abilities.Strength, &c.Abilities.Dexterity, &c.Abilities.Constitution,
			&c.Abilities.Intelligence, &c.Abilities.Wisdom, &c.Abilities.Charisma,
			&maxHP, &currentHP, &c.CreatedAt, &c.UpdatedAt,
		); err != nil {
			return nil, fmt.Errorf("scanning character row: %w", err)
		}
		c.SetHitPoints(currentHP, maxHP)
		chars = append(chars, &c)
	}
	return chars, rows.Err()
}

// UpdateHitPoints persists a character's current hit points, clamped to
// [0, max_hp] by the database.
//
// Precondition: id must be > 0.
// Postcondition: Returns nil on success, ErrCharacterNotFound if no row
// updated.
func (r *CharacterRepository) UpdateHitPoints(ctx context.Context, id int64, currentHP int) error {
	tag, err := r.db.Exec(ctx, `
		UPDATE characters
		SET current_hp = GREATEST(0, LEAST($2, max_hp)), updated_at = NOW()
		WHERE id = $1`,
		id, currentHP,
	)
	if err != nil {
		return fmt.Errorf("updating character hit points: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrCharacterNotFound
	}
	return nil
}

// UpdateLocation persists a character's current room.
//
// Precondition: id must be > 0; location must be a valid room ID.
// Postcondition: Returns nil on success, ErrCharacterNotFound if no row
// updated.
func (r *CharacterRepository) UpdateLocation(ctx context.Context, id int64, location string) error {
	tag, err := r.db.Exec(ctx, `
		UPDATE characters SET location = $2, updated_at = NOW()
		WHERE id = $1`,
		id, location,
	)
	if err != nil {
		return fmt.Errorf("updating character location: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrCharacterNotFound
	}
	return nil
}

// AddExperience atomically adds amount to a character's experience total.
// Negative amounts are rejected by the caller's domain logic; the query
// itself applies whatever it is given.
//
// Precondition: id must be > 0.
// Postcondition: Returns the new experience total, or ErrCharacterNotFound.
func (r *CharacterRepository) AddExperience(ctx context.Context, id int64, amount int) (int, error) {
	var total int
	err := r.db.QueryRow(ctx, `
		UPDATE characters SET experience = experience + $2, updated_at = NOW()
		WHERE id = $1
		RETURNING experience`,
		id, amount,
	).Scan(&total)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return 0, ErrCharacterNotFound
		}
		return 0, fmt.Errorf("adding character experience: %w", err)
	}
	return total, nil
}
