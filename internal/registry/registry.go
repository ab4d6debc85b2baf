// Package registry records which AI thread backs each Slack
// conversation. Entries expire after a TTL; an expired entry reads
// exactly like a missing one even while it is still stored.
package registry

import (
	"context"
	"fmt"
	"time"
)

// DefaultTTL is how long a Slack conversation stays bound to its AI
// thread.
const DefaultTTL = 3 * time.Hour

// Store maps a conversation key (the Slack thread timestamp) to an AI
// thread id.
type Store interface {
	// Lookup returns the thread id for key. found is false when no
	// entry exists or the entry has expired.
	Lookup(ctx context.Context, key string) (threadID string, found bool, err error)

	// Create binds key to threadID until now+ttl. An existing entry for
	// key, live or expired, is replaced.
	Create(ctx context.Context, key, threadID string, ttl time.Duration) error

	// Purge deletes expired entries and returns how many were removed.
	Purge(ctx context.Context) (int64, error)

	Close() error
}

// Option configures a store.
type Option func(*options)

type options struct {
	now func() time.Time
}

// WithClock overrides time.Now for expiry decisions.
func WithClock(now func() time.Time) Option {
	return func(o *options) { o.now = now }
}

func buildOptions(opts []Option) options {
	o := options{now: time.Now}
	for _, fn := range opts {
		fn(&o)
	}
	return o
}

// Open creates the store selected by driver: "sqlite" (path),
// "postgres" (dsn) or "bolt" (path).
func Open(driver, dsn, path string, opts ...Option) (Store, error) {
	switch driver {
	case "sqlite":
		return OpenSQL(DialectSQLite, path, opts...)
	case "postgres":
		return OpenSQL(DialectPostgres, dsn, opts...)
	case "bolt":
		return OpenBolt(path, opts...)
	default:
		return nil, fmt.Errorf("registry: unsupported driver %q", driver)
	}
}
