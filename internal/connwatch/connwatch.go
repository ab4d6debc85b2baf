// Package connwatch tracks whether the services gitbot depends on
// (Slack, OpenAI, GitHub) accept its credentials and answer requests.
//
// Each Watcher probes one service in two phases:
//  1. Startup: exponential backoff (2s, 4s, 8s, ... capped at 60s)
//  2. Background: periodic polling with state-transition logging
//
// The results back the /health endpoint. A failing dependency never
// blocks event intake; turns that need it fail and apologize on their own.
package connwatch

import (
	"context"
	"log/slog"
	"maps"
	"sync"
	"time"
)

// ProbeFunc checks whether a service is reachable. Return nil if healthy.
type ProbeFunc func(ctx context.Context) error

// Backoff controls probe timing.
type Backoff struct {
	// InitialDelay is the delay before the first startup retry.
	InitialDelay time.Duration
	// MaxDelay caps the startup delay growth.
	MaxDelay time.Duration
	// Multiplier scales the delay after each failed startup probe.
	Multiplier float64
	// MaxRetries bounds the startup probe attempts.
	MaxRetries int
	// PollInterval is the background check interval.
	PollInterval time.Duration
	// ProbeTimeout limits each probe call.
	ProbeTimeout time.Duration
}

// DefaultBackoff returns the standard schedule: 2s doubling to 60s over
// six startup attempts, then a check every five minutes.
func DefaultBackoff() Backoff {
	return Backoff{
		InitialDelay: 2 * time.Second,
		MaxDelay:     60 * time.Second,
		Multiplier:   2.0,
		MaxRetries:   6,
		PollInterval: 5 * time.Minute,
		ProbeTimeout: 10 * time.Second,
	}
}

// withDefaults fills zero fields from DefaultBackoff.
func (b Backoff) withDefaults() Backoff {
	d := DefaultBackoff()
	if b.InitialDelay <= 0 {
		b.InitialDelay = d.InitialDelay
	}
	if b.MaxDelay <= 0 {
		b.MaxDelay = d.MaxDelay
	}
	if b.Multiplier < 1 {
		b.Multiplier = d.Multiplier
	}
	if b.MaxRetries <= 0 {
		b.MaxRetries = d.MaxRetries
	}
	if b.PollInterval <= 0 {
		b.PollInterval = d.PollInterval
	}
	if b.ProbeTimeout <= 0 {
		b.ProbeTimeout = d.ProbeTimeout
	}
	return b
}

// Status is the health of one watched service.
type Status struct {
	Name      string    `json:"name"`
	Ready     bool      `json:"ready"`
	LastCheck time.Time `json:"last_check,omitzero"`
	LastError string    `json:"last_error,omitempty"`
}

// Watcher monitors a single service.
type Watcher struct {
	name    string
	probe   ProbeFunc
	backoff Backoff
	logger  *slog.Logger
	done    chan struct{}

	mu        sync.Mutex
	ready     bool
	lastErr   error
	lastCheck time.Time
	checks    int
}

// Status returns the current health.
func (w *Watcher) Status() Status {
	w.mu.Lock()
	defer w.mu.Unlock()

	s := Status{Name: w.name, Ready: w.ready, LastCheck: w.lastCheck}
	if w.lastErr != nil {
		s.LastError = w.lastErr.Error()
	}
	return s
}

// Done is closed once the watcher goroutine exits.
func (w *Watcher) Done() <-chan struct{} {
	return w.done
}

func (w *Watcher) run(ctx context.Context) {
	defer close(w.done)

	delay := w.backoff.InitialDelay
	for attempt := 1; attempt <= w.backoff.MaxRetries; attempt++ {
		if w.check(ctx) == nil {
			w.logger.Info("service reachable", "service", w.name, "attempts", attempt)
			break
		}
		if attempt == w.backoff.MaxRetries {
			w.logger.Warn("service unreachable at startup, polling in background",
				"service", w.name,
				"attempts", attempt,
				"error", w.Status().LastError,
			)
			break
		}
		if !sleep(ctx, delay) {
			return
		}
		delay = min(time.Duration(float64(delay)*w.backoff.Multiplier), w.backoff.MaxDelay)
	}

	ticker := time.NewTicker(w.backoff.PollInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			w.check(ctx)
		}
	}
}

// check probes once, records the result and logs transitions.
func (w *Watcher) check(ctx context.Context) error {
	probeCtx, cancel := context.WithTimeout(ctx, w.backoff.ProbeTimeout)
	defer cancel()
	err := w.probe(probeCtx)

	w.mu.Lock()
	wasReady, first := w.ready, w.checks == 0
	w.ready = err == nil
	w.lastErr = err
	w.lastCheck = time.Now()
	w.checks++
	w.mu.Unlock()

	switch {
	case wasReady && err != nil:
		w.logger.Warn("service became unreachable", "service", w.name, "error", err)
	case !wasReady && err == nil && !first:
		w.logger.Info("service recovered", "service", w.name)
	case err != nil:
		w.logger.Debug("service probe failed", "service", w.name, "error", err)
	}
	return err
}

func sleep(ctx context.Context, d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}

// Manager owns the watchers for every dependency.
type Manager struct {
	mu       sync.RWMutex
	watchers map[string]*Watcher
	logger   *slog.Logger
}

// NewManager creates an empty Manager.
func NewManager(logger *slog.Logger) *Manager {
	if logger == nil {
		logger = slog.Default()
	}
	return &Manager{watchers: make(map[string]*Watcher), logger: logger}
}

// Watch starts probing a service until ctx is cancelled. Zero backoff
// fields take their defaults. Watching a name twice replaces the entry
// reported by Status; the earlier watcher keeps running until ctx ends.
func (m *Manager) Watch(ctx context.Context, name string, probe ProbeFunc, b Backoff) *Watcher {
	w := &Watcher{
		name:    name,
		probe:   probe,
		backoff: b.withDefaults(),
		logger:  m.logger,
		done:    make(chan struct{}),
	}
	go w.run(ctx)

	m.mu.Lock()
	m.watchers[name] = w
	m.mu.Unlock()
	return w
}

// Status reports every watched service by name.
func (m *Manager) Status() map[string]Status {
	m.mu.RLock()
	watchers := maps.Clone(m.watchers)
	m.mu.RUnlock()

	out := make(map[string]Status, len(watchers))
	for name, w := range watchers {
		out[name] = w.Status()
	}
	return out
}

// Healthy reports whether every watched service is ready.
func (m *Manager) Healthy() bool {
	for _, s := range m.Status() {
		if !s.Ready {
			return false
		}
	}
	return true
}
