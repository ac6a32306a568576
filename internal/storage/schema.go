package storage

import "fmt"

const schemaMigrations = `
CREATE TABLE IF NOT EXISTS schema_migrations (
	version INTEGER PRIMARY KEY,
	applied_at INTEGER NOT NULL DEFAULT (strftime('%s', 'now'))
);`

// start_ms/end_ms avoid the END keyword. Timestamps are unix seconds.
const schemaActions = `
CREATE TABLE IF NOT EXISTS actions (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	op INTEGER NOT NULL CHECK (op BETWEEN 1 AND 4),
	marker_id INTEGER NOT NULL,
	marker_type TEXT NOT NULL,
	start_ms INTEGER NOT NULL,
	end_ms INTEGER NOT NULL,
	old_start_ms INTEGER,
	old_end_ms INTEGER,
	final INTEGER NOT NULL DEFAULT 0,
	user_created INTEGER NOT NULL DEFAULT 0,
	episode_id INTEGER NOT NULL,
	season_id INTEGER NOT NULL DEFAULT 0,
	show_id INTEGER NOT NULL DEFAULT 0,
	section_id INTEGER NOT NULL,
	section_uuid TEXT NOT NULL,
	parent_guid TEXT NOT NULL DEFAULT '',
	created_at INTEGER NOT NULL,
	modified_at INTEGER NOT NULL,
	recorded_at INTEGER NOT NULL,
	restores_id INTEGER REFERENCES actions(id),
	restored_id INTEGER REFERENCES actions(id),
	ignored INTEGER NOT NULL DEFAULT 0
);`

const schemaActionsIndexes = `
CREATE INDEX IF NOT EXISTS idx_actions_marker_id ON actions(marker_id);
CREATE INDEX IF NOT EXISTS idx_actions_episode_id ON actions(episode_id);
CREATE INDEX IF NOT EXISTS idx_actions_season_id ON actions(season_id);
CREATE INDEX IF NOT EXISTS idx_actions_show_id ON actions(show_id);
CREATE INDEX IF NOT EXISTS idx_actions_section ON actions(section_id, section_uuid);`

const schemaActionsRecordedIndex = `
CREATE INDEX IF NOT EXISTS idx_actions_recorded_at ON actions(recorded_at);`

type migration struct {
	version    int
	statements []string
}

var migrations = []migration{
	{
		version:    1,
		statements: []string{schemaActions, schemaActionsIndexes},
	},
	{
		version:    2,
		statements: []string{schemaActionsRecordedIndex},
	},
}

func (s *Store) EnsureSchema() error {
	return s.MigrateSchema()
}

func (s *Store) MigrateSchema() error {
	if s == nil || s.db == nil {
		return fmt.Errorf("storage: missing database connection")
	}

	if _, err := s.db.Exec(schemaMigrations); err != nil {
		return fmt.Errorf("storage: create schema_migrations table: %w", err)
	}

	current, err := s.currentSchemaVersion()
	if err != nil {
		return err
	}

	for _, migration := range migrations {
		if migration.version <= current {
			continue
		}
		if err := s.applyMigration(migration); err != nil {
			return err
		}
		current = migration.version
	}

	return nil
}

func (s *Store) currentSchemaVersion() (int, error) {
	if s == nil || s.db == nil {
		return 0, fmt.Errorf("storage: missing database connection")
	}

	var version int
	if err := s.db.QueryRow(`SELECT COALESCE(MAX(version), 0) FROM schema_migrations`).Scan(&version); err != nil {
		return 0, fmt.Errorf("storage: read schema version: %w", err)
	}
	return version, nil
}

func (s *Store) applyMigration(migration migration) error {
	if s == nil || s.db == nil {
		return fmt.Errorf("storage: missing database connection")
	}

	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("storage: start migration %d: %w", migration.version, err)
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	for _, statement := range migration.statements {
		if _, err = tx.Exec(statement); err != nil {
			return fmt.Errorf("storage: migration %d failed: %w", migration.version, err)
		}
	}

	if _, err = tx.Exec(`INSERT INTO schema_migrations (version) VALUES (?)`, migration.version); err != nil {
		return fmt.Errorf("storage: record migration %d: %w", migration.version, err)
	}

	if err = tx.Commit(); err != nil {
		return fmt.Errorf("storage: commit migration %d: %w", migration.version, err)
	}
	return nil
}
