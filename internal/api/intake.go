package api

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync"
	"time"

	"github.com/slack-go/slack/slackevents"

	"github.com/nugget/gitbot/internal/conversation"
	"github.com/nugget/gitbot/internal/events"
)

// TurnHandler runs one conversation turn. The real implementation is
// *conversation.Orchestrator.
type TurnHandler interface {
	Handle(ctx context.Context, ev conversation.Event) conversation.Outcome
}

// handleTimeout bounds one turn when no timeout is configured.
const handleTimeout = 5 * time.Minute

// IntakeConfig holds the dependencies for an Intake.
type IntakeConfig struct {
	Handler   TurnHandler
	BotUserID string        // mentions authored by this user are ignored
	Timeout   time.Duration // per turn; 0 means 5 minutes
	Bus       *events.Bus
	Logger    *slog.Logger
}

// Intake turns Events API callbacks into conversation turns. Each
// accepted mention runs in its own goroutine, detached from the
// delivery that carried it, so Slack gets its acknowledgement at once.
type Intake struct {
	handler   TurnHandler
	botUserID string
	timeout   time.Duration
	bus       *events.Bus
	logger    *slog.Logger
	wg        sync.WaitGroup
}

// NewIntake creates an Intake.
func NewIntake(cfg IntakeConfig) *Intake {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = handleTimeout
	}
	return &Intake{
		handler:   cfg.Handler,
		botUserID: cfg.BotUserID,
		timeout:   timeout,
		bus:       cfg.Bus,
		logger:    logger,
	}
}

// callbackSubtype picks the inner event subtype, which the typed
// app_mention event does not carry.
type callbackSubtype struct {
	Event struct {
		Subtype string `json:"subtype"`
	} `json:"event"`
}

// Mention extracts the conversation event from a parsed callback. ok is
// false for anything other than an app_mention from someone other than
// the bot itself.
func (in *Intake) Mention(cb slackevents.EventsAPIEvent, raw []byte) (conversation.Event, bool) {
	if cb.Type != slackevents.CallbackEvent {
		return conversation.Event{}, false
	}
	m, ok := cb.InnerEvent.Data.(*slackevents.AppMentionEvent)
	if !ok || m == nil {
		return conversation.Event{}, false
	}
	if in.botUserID != "" && m.User == in.botUserID {
		return conversation.Event{}, false
	}

	var sub callbackSubtype
	if err := json.Unmarshal(raw, &sub); err != nil {
		in.logger.Debug("callback subtype unreadable", "error", err)
	}

	return conversation.Event{
		Text:            conversation.StripMentions(m.Text),
		ThreadBroadcast: sub.Event.Subtype == "thread_broadcast",
		Channel:         m.Channel,
		TS:              m.TimeStamp,
		ThreadTS:        m.ThreadTimeStamp,
	}, true
}

// Dispatch starts a turn for cb when it is a mention and reports
// whether it did.
func (in *Intake) Dispatch(ctx context.Context, cb slackevents.EventsAPIEvent, raw []byte) bool {
	ev, ok := in.Mention(cb, raw)
	if !ok {
		return false
	}
	in.Start(ctx, ev)
	return true
}

// Start runs ev in the background with its own deadline. Values on ctx
// are kept but its cancellation is not.
func (in *Intake) Start(ctx context.Context, ev conversation.Event) {
	in.logger.Info("mention received",
		"channel", ev.Channel,
		"ts", ev.TS,
		"thread_ts", ev.ThreadTS,
		"broadcast", ev.ThreadBroadcast,
	)
	in.bus.Emit(events.SourceSlack, events.KindMentionReceived, map[string]any{
		"channel":   ev.Channel,
		"ts":        ev.TS,
		"thread_ts": ev.ThreadTS,
	})

	in.wg.Add(1)
	go func() {
		defer in.wg.Done()
		defer func() {
			if r := recover(); r != nil {
				in.logger.Error("turn panicked", "channel", ev.Channel, "ts", ev.TS, "panic", r)
			}
		}()

		turnCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), in.timeout)
		defer cancel()
		in.handler.Handle(turnCtx, ev)
	}()
}

// Wait blocks until every started turn has returned or ctx is done.
func (in *Intake) Wait(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		in.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
