package conversation

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"regexp"
	"strings"

	"github.com/slack-go/slack"

	"github.com/nugget/gitbot/internal/assistant"
)

// History defaults used when a new assistant thread is seeded.
const (
	DefaultThreadReplyLimit    = 10
	DefaultChannelHistoryLimit = 3
)

// HistorySource reads prior Slack messages.
type HistorySource interface {
	ThreadReplies(ctx context.Context, channel, threadTS, latest string) ([]slack.Message, error)
	ChannelHistory(ctx context.Context, channel string, limit int) ([]slack.Message, error)
}

// Bootstrapper builds the seed messages for a newly created assistant
// thread from the Slack conversation around a mention.
type Bootstrapper struct {
	history      HistorySource
	threadLimit  int
	channelLimit int
	logger       *slog.Logger
}

// NewBootstrapper returns a Bootstrapper. Non-positive limits fall back
// to the defaults.
func NewBootstrapper(history HistorySource, threadLimit, channelLimit int, logger *slog.Logger) *Bootstrapper {
	if threadLimit <= 0 {
		threadLimit = DefaultThreadReplyLimit
	}
	if channelLimit <= 0 {
		channelLimit = DefaultChannelHistoryLimit
	}
	return &Bootstrapper{
		history:      history,
		threadLimit:  threadLimit,
		channelLimit: channelLimit,
		logger:       logger,
	}
}

// Seed returns prior messages as user-role seeds, oldest first. The
// triggering message is never included since it is appended separately
// when the run starts.
func (b *Bootstrapper) Seed(ctx context.Context, ev Event) ([]assistant.SeedMessage, error) {
	var msgs []slack.Message

	if ev.InThread() {
		replies, err := b.history.ThreadReplies(ctx, ev.Channel, ev.ThreadTS, ev.TS)
		if err != nil {
			return nil, fmt.Errorf("bootstrap thread %s: %w", ev.ThreadTS, err)
		}
		replies = before(replies, ev.TS)
		if len(replies) > b.threadLimit {
			replies = replies[len(replies)-b.threadLimit:]
		}
		msgs = replies
	} else {
		recent, err := b.history.ChannelHistory(ctx, ev.Channel, b.channelLimit+1)
		if err != nil {
			return nil, fmt.Errorf("bootstrap channel %s: %w", ev.Channel, err)
		}
		recent = before(recent, ev.TS)
		if len(recent) > b.channelLimit {
			recent = recent[:b.channelLimit]
		}
		// History arrives newest first.
		for i, j := 0, len(recent)-1; i < j; i, j = i+1, j-1 {
			recent[i], recent[j] = recent[j], recent[i]
		}
		msgs = recent
	}

	seed := make([]assistant.SeedMessage, 0, len(msgs))
	for _, m := range msgs {
		text := MessageText(m)
		if text == "" {
			continue
		}
		seed = append(seed, assistant.SeedMessage{Role: "user", Content: text})
	}

	b.logger.Debug("thread seed built",
		"channel", ev.Channel,
		"in_thread", ev.InThread(),
		"fetched", len(msgs),
		"seeded", len(seed),
	)
	return seed, nil
}

// before keeps the messages posted strictly earlier than ts.
func before(msgs []slack.Message, ts string) []slack.Message {
	out := make([]slack.Message, 0, len(msgs))
	for _, m := range msgs {
		if tsLess(m.Timestamp, ts) {
			out = append(out, m)
		}
	}
	return out
}

// tsLess orders Slack timestamps ("seconds.micros"). The fraction is
// compared as a decimal, so "100.2" sorts after "100.12".
func tsLess(a, b string) bool {
	as, af, _ := strings.Cut(a, ".")
	bs, bf, _ := strings.Cut(b, ".")
	if len(as) != len(bs) {
		return len(as) < len(bs)
	}
	if as != bs {
		return as < bs
	}
	width := max(len(af), len(bf))
	return af+strings.Repeat("0", width-len(af)) < bf+strings.Repeat("0", width-len(bf))
}

var mentionPattern = regexp.MustCompile(`<@[UW][0-9A-Z]+(\|[^>]*)?>`)

// StripMentions removes user mention markup and surrounding space.
func StripMentions(s string) string {
	return strings.TrimSpace(mentionPattern.ReplaceAllString(s, ""))
}

// MessageText flattens a Slack message into plain text: block text
// first, then interactive element content as JSON, then attachments.
// The raw message text is used when none of those yield anything.
func MessageText(m slack.Message) string {
	var parts []string
	var elements []any

	for _, block := range m.Blocks.BlockSet {
		switch b := block.(type) {
		case *slack.SectionBlock:
			parts = appendText(parts, b.Text)
			for _, f := range b.Fields {
				parts = appendText(parts, f)
			}
			if b.Accessory != nil {
				elements = append(elements, b.Accessory)
			}
		case *slack.HeaderBlock:
			parts = appendText(parts, b.Text)
		case *slack.RichTextBlock:
			for _, el := range b.Elements {
				if s := richText(el); s != "" {
					parts = append(parts, s)
				}
			}
		case *slack.ContextBlock:
			for _, el := range b.ContextElements.Elements {
				if t, ok := el.(*slack.TextBlockObject); ok {
					parts = appendText(parts, t)
					continue
				}
				elements = append(elements, el)
			}
		case *slack.ActionBlock:
			if b.Elements != nil {
				for _, el := range b.Elements.ElementSet {
					elements = append(elements, el)
				}
			}
		}
	}

	for _, el := range elements {
		data, err := json.Marshal(el)
		if err != nil || string(data) == "null" {
			continue
		}
		parts = append(parts, string(data))
	}

	for _, a := range m.Attachments {
		switch {
		case a.Title != "" && a.Text != "":
			parts = append(parts, a.Title+"\n"+a.Text)
		case a.Title != "":
			parts = append(parts, a.Title)
		case a.Text != "":
			parts = append(parts, a.Text)
		}
	}

	text := strings.Join(parts, "\n")
	if strings.TrimSpace(text) == "" {
		text = m.Text
	}
	return StripMentions(text)
}

func appendText(parts []string, t *slack.TextBlockObject) []string {
	if t == nil || t.Text == "" {
		return parts
	}
	return append(parts, t.Text)
}

func richText(el slack.RichTextElement) string {
	switch e := el.(type) {
	case *slack.RichTextSection:
		var sb strings.Builder
		for _, se := range e.Elements {
			switch s := se.(type) {
			case *slack.RichTextSectionTextElement:
				sb.WriteString(s.Text)
			case *slack.RichTextSectionLinkElement:
				if s.Text != "" {
					sb.WriteString(s.Text)
				} else {
					sb.WriteString(s.URL)
				}
			}
		}
		return sb.String()
	case *slack.RichTextList:
		var items []string
		for _, item := range e.Elements {
			if s := richText(item); s != "" {
				items = append(items, s)
			}
		}
		return strings.Join(items, "\n")
	}
	return ""
}
