package store

import (
	"database/sql"
	"errors"
	"time"

	"github.com/google/uuid"

	"github.com/ayusman/spellcast/internal/presentation"
)

// ErrNotFound is returned when a requested resource does not exist.
var ErrNotFound = errors.New("not found")

// Spell is a stored spell theme.
type Spell struct {
	ID        string
	Label     string
	Theme     string
	Hue       int
	Effect    string
	Enabled   bool
	CreatedAt time.Time
	UpdatedAt time.Time
}

// Presentation converts the stored spell to its presentation form.
func (s *Spell) Presentation() presentation.Spell {
	return presentation.Spell{
		Label:  s.Label,
		Theme:  s.Theme,
		Hue:    s.Hue,
		Effect: s.Effect,
	}
}

// SpellRepository provides CRUD operations for spells.
type SpellRepository struct {
	db *sql.DB
}

// Spells returns the spell repository for this store.
func (s *Store) Spells() *SpellRepository {
	return &SpellRepository{db: s.db}
}

const spellColumns = `id, label, theme, hue, effect, enabled, created_at, updated_at`

type scanner interface {
	Scan(dest ...any) error
}

func scanSpell(row scanner) (*Spell, error) {
	sp := &Spell{}
	var enabled int
	if err := row.Scan(&sp.ID, &sp.Label, &sp.Theme, &sp.Hue, &sp.Effect, &enabled, &sp.CreatedAt, &sp.UpdatedAt); err != nil {
		return nil, err
	}
	sp.Enabled = enabled != 0
	return sp, nil
}

// Create inserts a new spell into the database.
func (r *SpellRepository) Create(sp *Spell) error {
	now := time.Now()
	sp.CreatedAt = now
	sp.UpdatedAt = now

	_, err := r.db.Exec(
		`INSERT INTO spells (`+spellColumns+`)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		sp.ID, sp.Label, sp.Theme, sp.Hue, sp.Effect, sp.Enabled, sp.CreatedAt, sp.UpdatedAt,
	)
	return err
}

// GetByID retrieves a spell by its ID.
func (r *SpellRepository) GetByID(id string) (*Spell, error) {
	sp, err := scanSpell(r.db.QueryRow(`SELECT `+spellColumns+` FROM spells WHERE id = ?`, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return sp, nil
}

// GetByLabel retrieves a spell by its label.
func (r *SpellRepository) GetByLabel(label string) (*Spell, error) {
	sp, err := scanSpell(r.db.QueryRow(`SELECT `+spellColumns+` FROM spells WHERE label = ?`, label))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return sp, nil
}

// List retrieves all spells ordered by label.
func (r *SpellRepository) List() ([]*Spell, error) {
	rows, err := r.db.Query(`SELECT ` + spellColumns + ` FROM spells ORDER BY label`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var spells []*Spell
	for rows.Next() {
		sp, err := scanSpell(rows)
		if err != nil {
			return nil, err
		}
		spells = append(spells, sp)
	}

	if err := rows.Err(); err != nil {
		return nil, err
	}

	return spells, nil
}

// Enabled returns the presentation form of every enabled spell.
func (r *SpellRepository) Enabled() ([]presentation.Spell, error) {
	all, err := r.List()
	if err != nil {
		return nil, err
	}

	spells := make([]presentation.Spell, 0, len(all))
	for _, sp := range all {
		if sp.Enabled {
			spells = append(spells, sp.Presentation())
		}
	}
	return spells, nil
}

// Update updates an existing spell in the database.
func (r *SpellRepository) Update(sp *Spell) error {
	sp.UpdatedAt = time.Now()

	result, err := r.db.Exec(
		`UPDATE spells SET label = ?, theme = ?, hue = ?, effect = ?, enabled = ?, updated_at = ?
		 WHERE id = ?`,
		sp.Label, sp.Theme, sp.Hue, sp.Effect, sp.Enabled, sp.UpdatedAt, sp.ID,
	)
	if err != nil {
		return err
	}

	return requireRow(result)
}

// Delete removes a spell and its actions.
func (r *SpellRepository) Delete(id string) error {
	result, err := r.db.Exec(`DELETE FROM spells WHERE id = ?`, id)
	if err != nil {
		return err
	}

	return requireRow(result)
}

// Seed inserts the given spells when the table is empty.
// It returns how many spells were inserted.
func (r *SpellRepository) Seed(spells []presentation.Spell) (int, error) {
	var count int
	if err := r.db.QueryRow(`SELECT COUNT(*) FROM spells`).Scan(&count); err != nil {
		return 0, err
	}
	if count > 0 {
		return 0, nil
	}

	for _, s := range spells {
		sp := &Spell{
			ID:      uuid.New().String(),
			Label:   s.Label,
			Theme:   s.Theme,
			Hue:     s.Hue,
			Effect:  s.Effect,
			Enabled: true,
		}
		if err := r.Create(sp); err != nil {
			return 0, err
		}
	}
	return len(spells), nil
}

func requireRow(result sql.Result) error {
	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return err
	}

	if rowsAffected == 0 {
		return ErrNotFound
	}

	return nil
}
