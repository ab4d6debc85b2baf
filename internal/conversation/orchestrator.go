package conversation

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/nugget/gitbot/internal/chat"
	"github.com/nugget/gitbot/internal/events"
	"github.com/nugget/gitbot/internal/tools"
)

// DefaultTTL is how long a chat thread stays bound to its assistant
// thread.
const DefaultTTL = 3 * time.Hour

// DefaultApology is posted when a turn fails.
const DefaultApology = "Sorry, something went wrong while handling your request. Please try again."

// apologyTimeout bounds the apology post, which runs on a context
// detached from the turn so it still goes out after a timeout.
const apologyTimeout = 10 * time.Second

// Config holds the dependencies for an Orchestrator.
type Config struct {
	Chat     Chat
	Backend  Backend
	Tools    ToolRunner
	Personas PersonaResolver
	Registry Registry
	Bus      *events.Bus // optional
	Logger   *slog.Logger

	TTL                 time.Duration
	PollInterval        time.Duration
	ThreadReplyLimit    int
	ChannelHistoryLimit int
	MaxConcurrency      int
	Apology             string

	// Sleep replaces the poll wait; tests pass a no-op.
	Sleep SleepFunc
}

// Orchestrator handles one mention per Handle call. It keeps no state
// between calls; the registry and the backend's run list are the only
// shared state between concurrent turns.
type Orchestrator struct {
	chat      Chat
	backend   Backend
	personas  PersonaResolver
	registry  Registry
	bootstrap *Bootstrapper
	driver    *Driver
	bus       *events.Bus
	logger    *slog.Logger
	ttl       time.Duration
	apology   string
}

// New creates an Orchestrator.
func New(cfg Config) *Orchestrator {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	ttl := cfg.TTL
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	apology := cfg.Apology
	if apology == "" {
		apology = DefaultApology
	}

	dispatcher := NewDispatcher(cfg.Tools, cfg.MaxConcurrency, cfg.Bus, logger)
	return &Orchestrator{
		chat:      cfg.Chat,
		backend:   cfg.Backend,
		personas:  cfg.Personas,
		registry:  cfg.Registry,
		bootstrap: NewBootstrapper(cfg.Chat, cfg.ThreadReplyLimit, cfg.ChannelHistoryLimit, logger),
		driver:    NewDriver(cfg.Backend, dispatcher, cfg.PollInterval, cfg.Sleep, cfg.Bus, logger),
		bus:       cfg.Bus,
		logger:    logger,
		ttl:       ttl,
		apology:   apology,
	}
}

// Handle runs one turn for ev and reports how it ended. Failures are
// logged and answered with the apology; Handle never returns an error
// because there is nobody left to return it to.
func (o *Orchestrator) Handle(ctx context.Context, ev Event) Outcome {
	turnID := uuid.Must(uuid.NewV7()).String()
	key := ev.Key()
	log := o.logger.With("turn_id", turnID, "conversation_key", key, "channel", ev.Channel)
	ctx = tools.WithConversationKey(ctx, key)
	start := time.Now()

	if err := ev.Validate(); err != nil {
		log.Warn("rejecting event", "error", err)
		return OutcomeFailed
	}

	log.Info("turn started", "in_thread", ev.InThread(), "broadcast", ev.ThreadBroadcast)
	o.bus.Emit(events.SourceConversation, events.KindTurnStart, map[string]any{
		"turn_id":          turnID,
		"conversation_key": key,
		"channel":          ev.Channel,
	})

	segments, err := o.turn(ctx, log, ev)

	var running *AlreadyRunningError
	switch {
	case errors.As(err, &running):
		log.Warn("thread already has an active run, skipping",
			"thread_id", running.ThreadID,
			"run_id", running.RunID,
			"status", running.Status,
		)
		o.bus.Emit(events.SourceConversation, events.KindAlreadyRunning, map[string]any{
			"turn_id":          turnID,
			"conversation_key": key,
			"run_id":           running.RunID,
		})
		return OutcomeAlreadyRunning

	case err != nil:
		log.Error("turn failed", "error", err, "elapsed", time.Since(start))
		o.bus.Emit(events.SourceConversation, events.KindTurnFailed, map[string]any{
			"turn_id":          turnID,
			"conversation_key": key,
			"error":            err.Error(),
		})
		postCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), apologyTimeout)
		defer cancel()
		o.post(postCtx, log, ev, []string{o.apology})
		return OutcomeFailed
	}

	outcome := OutcomeNoReply
	if len(segments) > 0 {
		if o.post(ctx, log, ev, segments) {
			outcome = OutcomeReplied
		} else {
			outcome = OutcomeFailed
		}
	}

	log.Info("turn complete", "segments", len(segments), "outcome", outcome, "elapsed", time.Since(start))
	o.bus.Emit(events.SourceConversation, events.KindTurnComplete, map[string]any{
		"turn_id":          turnID,
		"conversation_key": key,
		"segments":         len(segments),
		"outcome":          string(outcome),
		"duration_ms":      time.Since(start).Milliseconds(),
	})
	return outcome
}

func (o *Orchestrator) turn(ctx context.Context, log *slog.Logger, ev Event) ([]string, error) {
	persona, err := o.personas.Resolve(ctx)
	if err != nil {
		return nil, fmt.Errorf("resolve persona: %w", err)
	}

	threadID, err := o.thread(ctx, log, ev)
	if err != nil {
		return nil, err
	}

	if err := o.driver.Run(ctx, threadID, persona.ID, ev.Text); err != nil {
		return nil, err
	}

	msgs, err := o.backend.ListMessages(ctx, threadID)
	if err != nil {
		return nil, fmt.Errorf("list messages: %w", err)
	}
	return ExtractReply(msgs), nil
}

// thread returns the assistant thread bound to the event's conversation,
// creating and seeding one when the registry has no live binding.
func (o *Orchestrator) thread(ctx context.Context, log *slog.Logger, ev Event) (string, error) {
	key := ev.Key()

	threadID, found, err := o.registry.Lookup(ctx, key)
	if err != nil {
		return "", fmt.Errorf("registry lookup: %w", err)
	}
	if found {
		log.Debug("reusing thread", "thread_id", threadID)
		return threadID, nil
	}

	seed, err := o.bootstrap.Seed(ctx, ev)
	if err != nil {
		return "", err
	}
	threadID, err = o.backend.CreateThread(ctx, seed)
	if err != nil {
		return "", fmt.Errorf("create thread: %w", err)
	}
	log.Info("thread created", "thread_id", threadID, "seed_messages", len(seed))
	o.bus.Emit(events.SourceConversation, events.KindThreadCreated, map[string]any{
		"conversation_key": key,
		"thread_id":        threadID,
		"seed_messages":    len(seed),
	})

	if err := o.registry.Create(ctx, key, threadID, o.ttl); err != nil {
		log.Warn("failed to record thread binding", "thread_id", threadID, "error", err)
	}
	return threadID, nil
}

func (o *Orchestrator) post(ctx context.Context, log *slog.Logger, ev Event, segments []string) bool {
	p := chat.Post{
		Channel:   ev.Channel,
		ThreadTS:  ev.Key(),
		Text:      strings.Join(segments, "\n"),
		Segments:  segments,
		Broadcast: ev.ThreadBroadcast,
	}
	if _, err := o.chat.PostMessage(ctx, p); err != nil {
		log.Error("failed to post reply", "error", err)
		return false
	}
	return true
}
