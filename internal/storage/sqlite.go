// Package storage persists console preferences in a local SQLite database,
// so choices like the active section and theme survive restarts. The store
// is small and synchronous; every operation is one statement.
package storage

import (
	"database/sql"
	"sync"
	"time"

	// Pure-Go SQLite driver; registers itself as "sqlite".
	_ "modernc.org/sqlite"

	apperrors "github.com/veyra-ai/console/internal/errors"
)

// Preference keys.
const (
	// KeyLastSection is the section active when the console last ran.
	KeyLastSection = "last_section"

	// KeyTheme is the user's chosen display theme.
	KeyTheme = "theme"

	// KeyCueVolume is the feedback cue volume (0-100, stored as text).
	KeyCueVolume = "cue_volume"
)

const schema = `
CREATE TABLE IF NOT EXISTS preferences (
	key        TEXT PRIMARY KEY,
	value      TEXT NOT NULL,
	updated_at INTEGER NOT NULL
);
`

// SQLiteStore is a preference store backed by one SQLite database file.
type SQLiteStore struct {
	mu sync.Mutex
	db *sql.DB
}

// Open opens (creating if necessary) the preference database at path.
// Use ":memory:" for an ephemeral store.
func Open(path string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", path+"?_pragma=foreign_keys(1)&_pragma=busy_timeout(5000)")
	if err != nil {
		return nil, apperrors.Wrap(apperrors.CodeStorageOpenFailed, "failed to open preference store", err)
	}

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, apperrors.Wrap(apperrors.CodeStorageOpenFailed, "preference store is not usable", err)
	}

	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, apperrors.Wrap(apperrors.CodeStorageOpenFailed, "failed to initialize preference schema", err)
	}

	return &SQLiteStore{db: db}, nil
}

// Close releases the database.
func (s *SQLiteStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.db.Close()
}

// SetPreference stores one key/value pair, replacing any previous value.
func (s *SQLiteStore) SetPreference(key, value string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, err := s.db.Exec(
		`INSERT INTO preferences (key, value, updated_at) VALUES (?, ?, ?)
		 ON CONFLICT(key) DO UPDATE SET value = excluded.value, updated_at = excluded.updated_at`,
		key, value, time.Now().Unix())
	if err != nil {
		return apperrors.Wrap(apperrors.CodeStorageQueryFailed, "failed to save preference "+key, err)
	}
	return nil
}

// Preference returns the stored value for key, or "" with found=false when
// the key has never been set.
func (s *SQLiteStore) Preference(key string) (value string, found bool, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	row := s.db.QueryRow(`SELECT value FROM preferences WHERE key = ?`, key)
	switch err := row.Scan(&value); err {
	case nil:
		return value, true, nil
	case sql.ErrNoRows:
		return "", false, nil
	default:
		return "", false, apperrors.Wrap(apperrors.CodeStorageQueryFailed, "failed to read preference "+key, err)
	}
}

// SaveLastSection records the active section.
func (s *SQLiteStore) SaveLastSection(name string) error {
	return s.SetPreference(KeyLastSection, name)
}

// LastSection returns the section active when the console last ran.
func (s *SQLiteStore) LastSection() (string, bool, error) {
	return s.Preference(KeyLastSection)
}

// SaveTheme records the chosen display theme.
func (s *SQLiteStore) SaveTheme(name string) error {
	return s.SetPreference(KeyTheme, name)
}

// Theme returns the stored display theme.
func (s *SQLiteStore) Theme() (string, bool, error) {
	return s.Preference(KeyTheme)
}

// SaveCueVolume records the feedback cue volume.
func (s *SQLiteStore) SaveCueVolume(volume string) error {
	return s.SetPreference(KeyCueVolume, volume)
}

// CueVolume returns the stored feedback cue volume.
func (s *SQLiteStore) CueVolume() (string, bool, error) {
	return s.Preference(KeyCueVolume)
}
