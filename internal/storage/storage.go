package storage

import (
	"database/sql"
	"fmt"
	"net/url"
	"strings"
	"time"

	_ "modernc.org/sqlite"
)

// Store is the ActionLog: an append-only SQLite record of every marker
// mutation, kept apart from the Plex database so it survives Plex purges.
type Store struct {
	db       *sql.DB
	readOnly bool
	now      func() time.Time
}

type Options struct {
	BusyTimeout time.Duration
	Synchronous string
	CacheSize   int
	ReadOnly    bool
	// Now stamps recorded_at; defaults to time.Now.
	Now func() time.Time
}

// DSN carries pragmas as _pragma query parameters so modernc applies
// them to every pooled connection, not just the first one.
func DSN(path string, options Options) (string, error) {
	if path == "" || path == ":memory:" {
		return "", fmt.Errorf("storage: a file-backed database path is required")
	}
	dsn := path
	if !strings.HasPrefix(dsn, "file:") {
		dsn = "file:" + dsn
	}
	parsed, err := url.Parse(dsn)
	if err != nil {
		return "", err
	}

	query := parsed.Query()
	busyTimeout := options.BusyTimeout
	if busyTimeout <= 0 {
		busyTimeout = 5 * time.Second
	}
	pragmas := []string{
		fmt.Sprintf("busy_timeout(%d)", busyTimeout.Milliseconds()),
		"foreign_keys(1)",
		"temp_store(MEMORY)",
	}
	if options.CacheSize != 0 {
		pragmas = append(pragmas, fmt.Sprintf("cache_size(%d)", options.CacheSize))
	}
	if options.ReadOnly {
		query.Set("mode", "ro")
	} else {
		synchronous := options.Synchronous
		if synchronous == "" {
			synchronous = "NORMAL"
		}
		pragmas = append(pragmas,
			"journal_mode(WAL)",
			fmt.Sprintf("synchronous(%s)", synchronous),
			"journal_size_limit(67108864)",
		)
	}
	for _, pragma := range pragmas {
		query.Add("_pragma", pragma)
	}
	parsed.RawQuery = query.Encode()
	return parsed.String(), nil
}

func Open(path string, options Options) (*Store, error) {
	dsn, err := DSN(path, options)
	if err != nil {
		return nil, err
	}
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, err
	}
	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("storage: open %s: %w", path, err)
	}

	now := options.Now
	if now == nil {
		now = time.Now
	}
	store := &Store{db: db, readOnly: options.ReadOnly, now: now}
	if !options.ReadOnly {
		if err := store.MigrateSchema(); err != nil {
			_ = db.Close()
			return nil, err
		}
	}

	return store, nil
}

func (s *Store) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

func (s *Store) ReadOnly() bool {
	if s == nil {
		return false
	}
	return s.readOnly
}

func (s *Store) IntegrityCheck() ([]string, error) {
	if s == nil || s.db == nil {
		return nil, fmt.Errorf("storage: missing database connection")
	}
	rows, err := s.db.Query("PRAGMA integrity_check")
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var results []string
	for rows.Next() {
		var result string
		if err := rows.Scan(&result); err != nil {
			return nil, err
		}
		results = append(results, result)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return results, nil
}
