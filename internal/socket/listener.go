// Package socket receives Slack events over Socket Mode, for
// deployments that cannot expose a public Events API endpoint.
package socket

import (
	"context"
	"log/slog"

	"github.com/slack-go/slack"
	"github.com/slack-go/slack/slackevents"
	"github.com/slack-go/slack/socketmode"

	"github.com/nugget/gitbot/internal/api"
)

// acker acknowledges a Socket Mode envelope.
type acker interface {
	Ack(req socketmode.Request, payload ...interface{})
}

// Listener feeds Socket Mode deliveries into an Intake.
type Listener struct {
	client *socketmode.Client
	ack    acker
	intake *api.Intake
	logger *slog.Logger
}

// New creates a Listener. client must carry an app-level token
// (slack.OptionAppLevelToken).
func New(client *slack.Client, intake *api.Intake, logger *slog.Logger) *Listener {
	sm := socketmode.New(client)
	return &Listener{
		client: sm,
		ack:    sm,
		intake: intake,
		logger: logger,
	}
}

// Run connects and processes events until ctx is cancelled.
func (l *Listener) Run(ctx context.Context) error {
	go func() {
		for {
			select {
			case <-ctx.Done():
				return
			case evt, ok := <-l.client.Events:
				if !ok {
					return
				}
				l.handle(ctx, evt)
			}
		}
	}()

	l.logger.Info("starting socket mode listener")
	return l.client.RunContext(ctx)
}

func (l *Listener) handle(ctx context.Context, evt socketmode.Event) {
	switch evt.Type {
	case socketmode.EventTypeConnecting:
		l.logger.Debug("socket mode connecting")

	case socketmode.EventTypeConnected:
		l.logger.Info("socket mode connected")

	case socketmode.EventTypeConnectionError:
		l.logger.Warn("socket mode connection error", "error", evt.Data)

	case socketmode.EventTypeDisconnect:
		l.logger.Info("socket mode disconnect requested")

	case socketmode.EventTypeEventsAPI:
		if evt.Request == nil {
			return
		}
		// Ack first: Slack redelivers anything not acked within 3s.
		l.ack.Ack(*evt.Request)

		cb, ok := evt.Data.(slackevents.EventsAPIEvent)
		if !ok {
			l.logger.Debug("unexpected events payload", "type", evt.Type)
			return
		}
		if !l.intake.Dispatch(ctx, cb, evt.Request.Payload) {
			l.logger.Debug("event is not a mention", "inner_type", cb.InnerEvent.Type)
		}

	default:
		if evt.Request != nil {
			l.ack.Ack(*evt.Request)
		}
		l.logger.Debug("unhandled socket mode event", "type", evt.Type)
	}
}
