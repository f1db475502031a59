package store

// runMigrations executes all database migrations.
func (s *Store) runMigrations() error {
	migrations := []string{
		// Spells table - labels that get a theme and an effect
		`CREATE TABLE IF NOT EXISTS spells (
			id TEXT PRIMARY KEY,
			label TEXT NOT NULL UNIQUE,
			theme TEXT NOT NULL DEFAULT '',
			hue INTEGER NOT NULL DEFAULT 240 CHECK(hue >= 0 AND hue < 360),
			effect TEXT NOT NULL DEFAULT '',
			enabled INTEGER NOT NULL DEFAULT 1,
			created_at DATETIME DEFAULT CURRENT_TIMESTAMP,
			updated_at DATETIME DEFAULT CURRENT_TIMESTAMP
		)`,

		// Actions table - plugin actions to run when a spell is cast
		`CREATE TABLE IF NOT EXISTS actions (
			id TEXT PRIMARY KEY,
			spell_id TEXT NOT NULL REFERENCES spells(id) ON DELETE CASCADE,
			plugin_name TEXT NOT NULL,
			action_name TEXT NOT NULL,
			config TEXT NOT NULL DEFAULT '{}',
			enabled INTEGER NOT NULL DEFAULT 1,
			created_at DATETIME DEFAULT CURRENT_TIMESTAMP
		)`,

		// Settings table - application settings as key-value pairs
		`CREATE TABLE IF NOT EXISTS settings (
			key TEXT PRIMARY KEY,
			value TEXT NOT NULL
		)`,

		`CREATE INDEX IF NOT EXISTS idx_actions_spell_id ON actions(spell_id)`,
	}

	for _, migration := range migrations {
		if _, err := s.db.Exec(migration); err != nil {
			return err
		}
	}

	return nil
}
