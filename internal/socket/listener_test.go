package socket

import (
	"context"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/slack-go/slack/slackevents"
	"github.com/slack-go/slack/socketmode"

	"github.com/nugget/gitbot/internal/api"
	"github.com/nugget/gitbot/internal/conversation"
)

type fakeAcker struct {
	acked []string
}

func (f *fakeAcker) Ack(req socketmode.Request, _ ...interface{}) {
	f.acked = append(f.acked, req.EnvelopeID)
}

type turnRecorder struct {
	turns chan conversation.Event
}

func (r *turnRecorder) Handle(_ context.Context, ev conversation.Event) conversation.Outcome {
	r.turns <- ev
	return conversation.OutcomeReplied
}

func newTestListener() (*Listener, *fakeAcker, *turnRecorder) {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	rec := &turnRecorder{turns: make(chan conversation.Event, 2)}
	ack := &fakeAcker{}
	intake := api.NewIntake(api.IntakeConfig{Handler: rec, BotUserID: "UBOT", Logger: logger})
	return &Listener{ack: ack, intake: intake, logger: logger}, ack, rec
}

func mentionEvent(user, envelope string) socketmode.Event {
	return socketmode.Event{
		Type: socketmode.EventTypeEventsAPI,
		Data: slackevents.EventsAPIEvent{
			Type: slackevents.CallbackEvent,
			InnerEvent: slackevents.EventsAPIInnerEvent{
				Type: string(slackevents.AppMention),
				Data: &slackevents.AppMentionEvent{
					User:            user,
					Text:            "<@UBOT> merge #12",
					TimeStamp:       "200.2",
					ThreadTimeStamp: "200.1",
					Channel:         "C9",
				},
			},
		},
		Request: &socketmode.Request{
			EnvelopeID: envelope,
			Payload:    []byte(`{"type":"event_callback","event":{"type":"app_mention","subtype":"thread_broadcast"}}`),
		},
	}
}

func TestMentionIsAckedAndDispatched(t *testing.T) {
	l, ack, rec := newTestListener()

	l.handle(t.Context(), mentionEvent("U2", "env-1"))

	if len(ack.acked) != 1 || ack.acked[0] != "env-1" {
		t.Fatalf("acked = %v, want [env-1]", ack.acked)
	}
	select {
	case ev := <-rec.turns:
		want := conversation.Event{Text: "merge #12", ThreadBroadcast: true, Channel: "C9", TS: "200.2", ThreadTS: "200.1"}
		if ev != want {
			t.Errorf("event = %+v, want %+v", ev, want)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("no turn started")
	}
}

func TestOwnMentionIsAckedOnly(t *testing.T) {
	l, ack, rec := newTestListener()

	l.handle(t.Context(), mentionEvent("UBOT", "env-2"))

	if len(ack.acked) != 1 {
		t.Fatalf("acked = %v, want one ack", ack.acked)
	}
	select {
	case ev := <-rec.turns:
		t.Fatalf("unexpected turn %+v", ev)
	case <-time.After(50 * time.Millisecond):
	}
}

func TestLifecycleEventsAreNotAcked(t *testing.T) {
	l, ack, _ := newTestListener()

	l.handle(t.Context(), socketmode.Event{Type: socketmode.EventTypeConnecting})
	l.handle(t.Context(), socketmode.Event{Type: socketmode.EventTypeConnected})
	l.handle(t.Context(), socketmode.Event{Type: socketmode.EventTypeInteractive, Request: &socketmode.Request{EnvelopeID: "env-3"}})

	if len(ack.acked) != 1 || ack.acked[0] != "env-3" {
		t.Errorf("acked = %v, want [env-3]", ack.acked)
	}
}
