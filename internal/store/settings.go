package store

import (
	"database/sql"
	"errors"
	"fmt"
	"strconv"

	"github.com/ayusman/spellcast/internal/presentation"
)

// Settings keys for the confidence thresholds.
const (
	KeyHysteresis         = "threshold.hysteresis"
	KeyUncertainThreshold = "threshold.uncertain"
	KeyLabelThreshold     = "threshold.label"
	KeySpellThreshold     = "threshold.spell"
)

// SettingsRepository reads and writes key-value settings.
type SettingsRepository struct {
	db *sql.DB
}

// Settings returns the settings repository for this store.
func (s *Store) Settings() *SettingsRepository {
	return &SettingsRepository{db: s.db}
}

// Get returns the value stored under key, or ErrNotFound.
func (r *SettingsRepository) Get(key string) (string, error) {
	var value string
	err := r.db.QueryRow(`SELECT value FROM settings WHERE key = ?`, key).Scan(&value)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return "", ErrNotFound
		}
		return "", err
	}
	return value, nil
}

// Set stores value under key, replacing any previous value.
func (r *SettingsRepository) Set(key, value string) error {
	_, err := r.db.Exec(
		`INSERT INTO settings (key, value) VALUES (?, ?)
		 ON CONFLICT(key) DO UPDATE SET value = excluded.value`,
		key, value,
	)
	return err
}

// Int returns the integer stored under key, or def when the key is unset.
func (r *SettingsRepository) Int(key string, def int) (int, error) {
	value, err := r.Get(key)
	if errors.Is(err, ErrNotFound) {
		return def, nil
	}
	if err != nil {
		return 0, err
	}

	n, err := strconv.Atoi(value)
	if err != nil {
		return 0, fmt.Errorf("setting %s: %w", key, err)
	}
	return n, nil
}

// Thresholds returns the stored thresholds, falling back to def for each
// unset key.
func (r *SettingsRepository) Thresholds(def presentation.Thresholds) (presentation.Thresholds, error) {
	t := def
	fields := []struct {
		key string
		dst *int
	}{
		{KeyHysteresis, &t.Hysteresis},
		{KeyUncertainThreshold, &t.Uncertain},
		{KeyLabelThreshold, &t.Label},
		{KeySpellThreshold, &t.Spell},
	}

	for _, f := range fields {
		v, err := r.Int(f.key, *f.dst)
		if err != nil {
			return def, err
		}
		*f.dst = v
	}
	return t, nil
}

// SetThresholds validates and stores all four thresholds in one transaction.
func (r *SettingsRepository) SetThresholds(t presentation.Thresholds) error {
	if err := t.Validate(); err != nil {
		return err
	}

	tx, err := r.db.Begin()
	if err != nil {
		return err
	}
	defer tx.Rollback()

	values := map[string]int{
		KeyHysteresis:         t.Hysteresis,
		KeyUncertainThreshold: t.Uncertain,
		KeyLabelThreshold:     t.Label,
		KeySpellThreshold:     t.Spell,
	}
	for key, v := range values {
		if _, err := tx.Exec(
			`INSERT INTO settings (key, value) VALUES (?, ?)
			 ON CONFLICT(key) DO UPDATE SET value = excluded.value`,
			key, strconv.Itoa(v),
		); err != nil {
			return err
		}
	}

	return tx.Commit()
}
