package connwatch

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync/atomic"
	"testing"
	"time"
)

func fastBackoff() Backoff {
	return Backoff{
		InitialDelay: time.Millisecond,
		MaxDelay:     4 * time.Millisecond,
		Multiplier:   2,
		MaxRetries:   3,
		PollInterval: 5 * time.Millisecond,
		ProbeTimeout: 100 * time.Millisecond,
	}
}

func quietManager() *Manager {
	return NewManager(slog.New(slog.NewTextHandler(io.Discard, nil)))
}

// eventually polls cond until it holds or the deadline passes.
func eventually(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(2 * time.Millisecond)
	}
	t.Fatal("condition not met before deadline")
}

func TestDefaultBackoff(t *testing.T) {
	b := Backoff{}.withDefaults()
	if b != DefaultBackoff() {
		t.Errorf("withDefaults on zero = %+v, want %+v", b, DefaultBackoff())
	}

	custom := Backoff{MaxRetries: 2}.withDefaults()
	if custom.MaxRetries != 2 || custom.InitialDelay != 2*time.Second {
		t.Errorf("partial defaults = %+v", custom)
	}
}

func TestWatch_ReadyOnFirstProbe(t *testing.T) {
	m := quietManager()
	ctx, cancel := context.WithCancel(t.Context())
	defer cancel()

	w := m.Watch(ctx, "slack", func(context.Context) error { return nil }, fastBackoff())

	eventually(t, func() bool { return w.Status().Ready })
	if !m.Healthy() {
		t.Error("Healthy() = false with every service ready")
	}
	s := m.Status()["slack"]
	if s.Name != "slack" || s.LastError != "" || s.LastCheck.IsZero() {
		t.Errorf("status = %+v", s)
	}
}

func TestWatch_RetriesThenRecovers(t *testing.T) {
	m := quietManager()
	ctx, cancel := context.WithCancel(t.Context())
	defer cancel()

	var calls atomic.Int32
	w := m.Watch(ctx, "openai", func(context.Context) error {
		if calls.Add(1) < 3 {
			return errors.New("connection refused")
		}
		return nil
	}, fastBackoff())

	eventually(t, func() bool { return w.Status().Ready })
	if n := calls.Load(); n < 3 {
		t.Errorf("probe calls = %d, want at least 3", n)
	}
}

func TestWatch_UnreachableKeepsPolling(t *testing.T) {
	m := quietManager()
	ctx, cancel := context.WithCancel(t.Context())
	defer cancel()

	var calls atomic.Int32
	w := m.Watch(ctx, "github", func(context.Context) error {
		calls.Add(1)
		return errors.New("bad credentials")
	}, fastBackoff())

	// Three startup attempts, then background polls.
	eventually(t, func() bool { return calls.Load() > 4 })

	s := w.Status()
	if s.Ready || s.LastError != "bad credentials" {
		t.Errorf("status = %+v, want not ready with last error", s)
	}
	if m.Healthy() {
		t.Error("Healthy() = true with a failing service")
	}
}

func TestWatch_GoesDownAfterReady(t *testing.T) {
	m := quietManager()
	ctx, cancel := context.WithCancel(t.Context())
	defer cancel()

	var failing atomic.Bool
	w := m.Watch(ctx, "slack", func(context.Context) error {
		if failing.Load() {
			return errors.New("invalid_auth")
		}
		return nil
	}, fastBackoff())

	eventually(t, func() bool { return w.Status().Ready })
	failing.Store(true)
	eventually(t, func() bool { return !w.Status().Ready })
	failing.Store(false)
	eventually(t, func() bool { return w.Status().Ready })
}

func TestWatch_StopsOnCancel(t *testing.T) {
	m := quietManager()
	ctx, cancel := context.WithCancel(t.Context())

	w := m.Watch(ctx, "slack", func(context.Context) error { return errors.New("down") }, fastBackoff())
	cancel()

	select {
	case <-w.Done():
	case <-time.After(2 * time.Second):
		t.Fatal("watcher did not exit after cancel")
	}
}

func TestWatch_ProbeTimeout(t *testing.T) {
	m := quietManager()
	ctx, cancel := context.WithCancel(t.Context())
	defer cancel()

	b := fastBackoff()
	b.ProbeTimeout = 5 * time.Millisecond
	w := m.Watch(ctx, "openai", func(ctx context.Context) error {
		<-ctx.Done()
		return ctx.Err()
	}, b)

	eventually(t, func() bool { return w.Status().LastError != "" })
	if got := w.Status().LastError; got != context.DeadlineExceeded.Error() {
		t.Errorf("LastError = %q, want deadline exceeded", got)
	}
}

func TestManager_EmptyIsHealthy(t *testing.T) {
	m := quietManager()
	if !m.Healthy() {
		t.Error("Healthy() = false with nothing watched")
	}
	if len(m.Status()) != 0 {
		t.Errorf("Status() = %v, want empty", m.Status())
	}
}
