package params

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "github.com/mattn/go-sqlite3"
)

// State is a writable parameter store backed by SQLite. It holds values
// gitbot produces itself, such as the id of an assistant it created.
// All methods are safe for concurrent use.
type State struct {
	db  *sql.DB
	now func() time.Time
}

// OpenState opens or creates the state database at path.
func OpenState(path string) (*State, error) {
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("open state database: %w", err)
	}
	s, err := NewState(db)
	if err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

// NewState wraps an existing database handle and creates the schema.
func NewState(db *sql.DB) (*State, error) {
	s := &State{db: db, now: time.Now}
	if err := s.migrate(); err != nil {
		return nil, fmt.Errorf("migrate state: %w", err)
	}
	return s, nil
}

// Close closes the database connection.
func (s *State) Close() error {
	return s.db.Close()
}

func (s *State) migrate() error {
	_, err := s.db.Exec(`
	CREATE TABLE IF NOT EXISTS parameters (
		name       TEXT PRIMARY KEY,
		value      TEXT NOT NULL,
		updated_at TEXT NOT NULL
	);
	`)
	return err
}

// Get implements Source.
func (s *State) Get(ctx context.Context, name string) (string, error) {
	var value string
	err := s.db.QueryRowContext(ctx,
		`SELECT value FROM parameters WHERE name = ?`, name,
	).Scan(&value)
	if err == sql.ErrNoRows {
		return "", notFound(name)
	}
	if err != nil {
		return "", fmt.Errorf("get parameter %s: %w", name, err)
	}
	return value, nil
}

// Put implements Writer. Existing values are overwritten.
func (s *State) Put(ctx context.Context, name, value string) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO parameters (name, value, updated_at)
		 VALUES (?, ?, ?)
		 ON CONFLICT (name) DO UPDATE
		 SET value = excluded.value, updated_at = excluded.updated_at`,
		name, value, s.now().UTC().Format(time.RFC3339),
	)
	if err != nil {
		return fmt.Errorf("put parameter %s: %w", name, err)
	}
	return nil
}
