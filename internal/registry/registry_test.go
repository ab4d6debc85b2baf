package registry

import (
	"context"
	"database/sql"
	"path/filepath"
	"sync"
	"testing"
	"time"

	_ "modernc.org/sqlite"
)

// fakeClock is a settable time source.
type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

func newClock() *fakeClock {
	return &fakeClock{now: time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)}
}

// storeFactories builds every backend against the same clock so the
// behaviour tests run once per backend.
func storeFactories() map[string]func(t *testing.T, clock *fakeClock) Store {
	return map[string]func(t *testing.T, clock *fakeClock) Store{
		"sqlite-memory": func(t *testing.T, clock *fakeClock) Store {
			db, err := sql.Open("sqlite", ":memory:")
			if err != nil {
				t.Fatalf("open: %v", err)
			}
			db.SetMaxOpenConns(1)
			s, err := NewSQL(db, DialectSQLite, WithClock(clock.Now))
			if err != nil {
				t.Fatalf("NewSQL: %v", err)
			}
			return s
		},
		"sqlite-file": func(t *testing.T, clock *fakeClock) Store {
			s, err := Open("sqlite", "", filepath.Join(t.TempDir(), "registry.db"), WithClock(clock.Now))
			if err != nil {
				t.Fatalf("Open(sqlite): %v", err)
			}
			return s
		},
		"bolt": func(t *testing.T, clock *fakeClock) Store {
			s, err := Open("bolt", "", filepath.Join(t.TempDir(), "nested", "registry.bolt"), WithClock(clock.Now))
			if err != nil {
				t.Fatalf("Open(bolt): %v", err)
			}
			return s
		},
	}
}

func forEachStore(t *testing.T, fn func(t *testing.T, s Store, clock *fakeClock)) {
	for name, factory := range storeFactories() {
		t.Run(name, func(t *testing.T) {
			clock := newClock()
			s := factory(t, clock)
			t.Cleanup(func() { s.Close() })
			fn(t, s, clock)
		})
	}
}

func TestLookupMissing(t *testing.T) {
	forEachStore(t, func(t *testing.T, s Store, _ *fakeClock) {
		id, found, err := s.Lookup(context.Background(), "1700000000.000100")
		if err != nil {
			t.Fatalf("Lookup: %v", err)
		}
		if found || id != "" {
			t.Errorf("Lookup = (%q, %v), want not found", id, found)
		}
	})
}

func TestCreateThenLookup(t *testing.T) {
	forEachStore(t, func(t *testing.T, s Store, clock *fakeClock) {
		ctx := context.Background()
		if err := s.Create(ctx, "1700000000.000100", "thread_abc", DefaultTTL); err != nil {
			t.Fatalf("Create: %v", err)
		}

		clock.Advance(DefaultTTL - time.Minute)
		id, found, err := s.Lookup(ctx, "1700000000.000100")
		if err != nil {
			t.Fatalf("Lookup: %v", err)
		}
		if !found || id != "thread_abc" {
			t.Errorf("Lookup = (%q, %v), want (thread_abc, true)", id, found)
		}
	})
}

func TestExpiredEntryIsAbsent(t *testing.T) {
	forEachStore(t, func(t *testing.T, s Store, clock *fakeClock) {
		ctx := context.Background()
		if err := s.Create(ctx, "k", "thread_old", time.Hour); err != nil {
			t.Fatalf("Create: %v", err)
		}

		clock.Advance(time.Hour)
		if _, found, err := s.Lookup(ctx, "k"); err != nil || found {
			t.Fatalf("Lookup at expiry = found %v, err %v; want absent", found, err)
		}

		// A fresh binding replaces the stale one.
		if err := s.Create(ctx, "k", "thread_new", time.Hour); err != nil {
			t.Fatalf("Create after expiry: %v", err)
		}
		id, found, err := s.Lookup(ctx, "k")
		if err != nil || !found || id != "thread_new" {
			t.Errorf("Lookup = (%q, %v, %v), want thread_new", id, found, err)
		}
	})
}

func TestPurge(t *testing.T) {
	forEachStore(t, func(t *testing.T, s Store, clock *fakeClock) {
		ctx := context.Background()
		s.Create(ctx, "short", "thread_1", time.Minute)
		s.Create(ctx, "long", "thread_2", time.Hour)

		clock.Advance(2 * time.Minute)
		n, err := s.Purge(ctx)
		if err != nil {
			t.Fatalf("Purge: %v", err)
		}
		if n != 1 {
			t.Errorf("Purge removed %d, want 1", n)
		}
		if _, found, _ := s.Lookup(ctx, "long"); !found {
			t.Error("live entry was purged")
		}
	})
}

func TestRebind(t *testing.T) {
	pg := &SQLStore{dialect: DialectPostgres}
	got := pg.rebind(`SELECT a FROM t WHERE b = ? AND c > ?`)
	want := `SELECT a FROM t WHERE b = $1 AND c > $2`
	if got != want {
		t.Errorf("rebind = %q, want %q", got, want)
	}

	lite := &SQLStore{dialect: DialectSQLite}
	if got := lite.rebind(`WHERE b = ?`); got != `WHERE b = ?` {
		t.Errorf("sqlite rebind changed query: %q", got)
	}
}

func TestOpenUnknownDriver(t *testing.T) {
	if _, err := Open("dynamodb", "", ""); err == nil {
		t.Fatal("Open(dynamodb) should fail")
	}
}
