package registry

import (
	"context"
	"database/sql"
	"fmt"
	"strconv"
	"strings"
	"time"

	_ "github.com/lib/pq"
	_ "github.com/mattn/go-sqlite3"
)

// Dialect selects SQL flavour details such as placeholder syntax.
type Dialect string

const (
	DialectSQLite   Dialect = "sqlite"
	DialectPostgres Dialect = "postgres"
)

func (d Dialect) driverName() string {
	if d == DialectPostgres {
		return "postgres"
	}
	return "sqlite3"
}

// SQLStore keeps registry entries in a SQL table. Expiry is stored as
// Unix milliseconds so both dialects share one schema.
type SQLStore struct {
	db      *sql.DB
	dialect Dialect
	now     func() time.Time
}

// OpenSQL opens the database named by dsn (a file path for SQLite).
func OpenSQL(dialect Dialect, dsn string, opts ...Option) (*SQLStore, error) {
	db, err := sql.Open(dialect.driverName(), dsn)
	if err != nil {
		return nil, fmt.Errorf("registry: open %s: %w", dialect, err)
	}
	s, err := NewSQL(db, dialect, opts...)
	if err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

// NewSQL wraps an open database and creates the schema.
func NewSQL(db *sql.DB, dialect Dialect, opts ...Option) (*SQLStore, error) {
	o := buildOptions(opts)
	s := &SQLStore{db: db, dialect: dialect, now: o.now}
	if err := s.migrate(); err != nil {
		return nil, fmt.Errorf("registry: migrate: %w", err)
	}
	return s, nil
}

func (s *SQLStore) migrate() error {
	_, err := s.db.Exec(`
	CREATE TABLE IF NOT EXISTS thread_registry (
		conversation_key TEXT PRIMARY KEY,
		thread_id        TEXT NOT NULL,
		expires_at       BIGINT NOT NULL,
		created_at       BIGINT NOT NULL
	)`)
	if err != nil {
		return err
	}
	_, err = s.db.Exec(`CREATE INDEX IF NOT EXISTS thread_registry_expires_at ON thread_registry (expires_at)`)
	return err
}

// rebind rewrites ? placeholders as $n for PostgreSQL.
func (s *SQLStore) rebind(query string) string {
	if s.dialect != DialectPostgres {
		return query
	}
	var b strings.Builder
	n := 0
	for _, r := range query {
		if r == '?' {
			n++
			b.WriteByte('$')
			b.WriteString(strconv.Itoa(n))
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}

// Lookup implements Store.
func (s *SQLStore) Lookup(ctx context.Context, key string) (string, bool, error) {
	var threadID string
	err := s.db.QueryRowContext(ctx, s.rebind(
		`SELECT thread_id FROM thread_registry WHERE conversation_key = ? AND expires_at > ?`),
		key, s.now().UnixMilli(),
	).Scan(&threadID)
	if err == sql.ErrNoRows {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("registry: lookup %s: %w", key, err)
	}
	return threadID, true, nil
}

// Create implements Store.
func (s *SQLStore) Create(ctx context.Context, key, threadID string, ttl time.Duration) error {
	now := s.now()
	_, err := s.db.ExecContext(ctx, s.rebind(
		`INSERT INTO thread_registry (conversation_key, thread_id, expires_at, created_at)
		 VALUES (?, ?, ?, ?)
		 ON CONFLICT (conversation_key) DO UPDATE
		 SET thread_id = excluded.thread_id,
		     expires_at = excluded.expires_at,
		     created_at = excluded.created_at`),
		key, threadID, now.Add(ttl).UnixMilli(), now.UnixMilli(),
	)
	if err != nil {
		return fmt.Errorf("registry: create %s: %w", key, err)
	}
	return nil
}

// Purge implements Store.
func (s *SQLStore) Purge(ctx context.Context) (int64, error) {
	res, err := s.db.ExecContext(ctx, s.rebind(
		`DELETE FROM thread_registry WHERE expires_at <= ?`), s.now().UnixMilli())
	if err != nil {
		return 0, fmt.Errorf("registry: purge: %w", err)
	}
	return res.RowsAffected()
}

// Close closes the database.
func (s *SQLStore) Close() error {
	return s.db.Close()
}
