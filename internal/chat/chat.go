// Package chat wraps the Slack Web API calls gitbot makes: posting
// replies and reading conversation history.
package chat

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"strings"

	"github.com/slack-go/slack"

	"github.com/nugget/gitbot/internal/mrkdwn"
)

// Slack limits.
const (
	maxSectionText = 3000
	maxBlocks      = 50
	repliesPerPage = 200
	maxReplyPages  = 10
)

// Post is one outgoing Slack message.
type Post struct {
	Channel  string
	ThreadTS string

	// Text is the notification and fallback text.
	Text string

	// Segments are rendered as one mrkdwn section block each.
	Segments []string

	// Broadcast also shows a thread reply in the channel.
	Broadcast bool
}

// Client is a Slack Web API client.
type Client struct {
	api    *slack.Client
	logger *slog.Logger
}

// Options configures New.
type Options struct {
	// APIURL overrides the Slack API root. It must end in a slash.
	APIURL     string
	HTTPClient *http.Client

	// AppToken (xapp-...) is only needed for Socket Mode.
	AppToken string
}

// New returns a Client authenticated with a bot token.
func New(token string, opts Options, logger *slog.Logger) *Client {
	var sopts []slack.Option
	if opts.APIURL != "" {
		u := opts.APIURL
		if !strings.HasSuffix(u, "/") {
			u += "/"
		}
		sopts = append(sopts, slack.OptionAPIURL(u))
	}
	if opts.HTTPClient != nil {
		sopts = append(sopts, slack.OptionHTTPClient(opts.HTTPClient))
	}
	if opts.AppToken != "" {
		sopts = append(sopts, slack.OptionAppLevelToken(opts.AppToken))
	}
	return &Client{
		api:    slack.New(token, sopts...),
		logger: logger,
	}
}

// API exposes the underlying slack-go client for Socket Mode.
func (c *Client) API() *slack.Client {
	return c.api
}

// BotUserID returns the user id the token authenticates as.
func (c *Client) BotUserID(ctx context.Context) (string, error) {
	resp, err := c.api.AuthTestContext(ctx)
	if err != nil {
		return "", fmt.Errorf("slack auth.test: %w", err)
	}
	return resp.UserID, nil
}

// PostMessage sends p and returns the timestamp of the new message.
func (c *Client) PostMessage(ctx context.Context, p Post) (string, error) {
	opts := []slack.MsgOption{slack.MsgOptionText(p.Text, false)}
	if p.ThreadTS != "" {
		opts = append(opts, slack.MsgOptionTS(p.ThreadTS))
	}
	if p.Broadcast {
		opts = append(opts, slack.MsgOptionBroadcast())
	}
	if blocks := c.sectionBlocks(p.Segments); len(blocks) > 0 {
		opts = append(opts, slack.MsgOptionBlocks(blocks...))
	}

	_, ts, err := c.api.PostMessageContext(ctx, p.Channel, opts...)
	if err != nil {
		return "", fmt.Errorf("slack chat.postMessage: %w", err)
	}
	c.logger.Debug("message posted",
		"channel", p.Channel,
		"thread_ts", p.ThreadTS,
		"ts", ts,
		"blocks", len(p.Segments),
		"broadcast", p.Broadcast,
	)
	return ts, nil
}

func (c *Client) sectionBlocks(segments []string) []slack.Block {
	var blocks []slack.Block
	for _, seg := range segments {
		for _, chunk := range SplitText(mrkdwn.Convert(seg), maxSectionText) {
			if chunk == "" {
				continue
			}
			text := slack.NewTextBlockObject(slack.MarkdownType, chunk, false, false)
			blocks = append(blocks, slack.NewSectionBlock(text, nil, nil))
		}
	}
	if len(blocks) > maxBlocks {
		c.logger.Warn("reply truncated to block limit", "blocks", len(blocks), "limit", maxBlocks)
		blocks = blocks[:maxBlocks]
	}
	return blocks
}

// SplitText cuts s into pieces of at most limit bytes, preferring line
// boundaries and never splitting a UTF-8 sequence.
func SplitText(s string, limit int) []string {
	var out []string
	for len(s) > limit {
		cut := strings.LastIndexByte(s[:limit], '\n')
		if cut <= 0 {
			cut = limit
			for cut > 0 && !isRuneStart(s[cut]) {
				cut--
			}
		}
		out = append(out, strings.TrimRight(s[:cut], "\n"))
		s = strings.TrimLeft(s[cut:], "\n")
	}
	return append(out, s)
}

func isRuneStart(b byte) bool {
	return b&0xC0 != 0x80
}

// ThreadReplies returns the messages in the thread rooted at threadTS,
// oldest first. The root message is included. A non-empty latest stops
// the listing at messages older than that timestamp.
func (c *Client) ThreadReplies(ctx context.Context, channel, threadTS, latest string) ([]slack.Message, error) {
	var all []slack.Message
	cursor := ""
	for page := 0; page < maxReplyPages; page++ {
		msgs, hasMore, next, err := c.api.GetConversationRepliesContext(ctx, &slack.GetConversationRepliesParameters{
			ChannelID: channel,
			Timestamp: threadTS,
			Latest:    latest,
			Limit:     repliesPerPage,
			Cursor:    cursor,
		})
		if err != nil {
			return nil, fmt.Errorf("slack conversations.replies: %w", err)
		}
		all = append(all, msgs...)
		if !hasMore || next == "" {
			return all, nil
		}
		cursor = next
	}
	c.logger.Warn("thread history truncated", "channel", channel, "thread_ts", threadTS, "pages", maxReplyPages)
	return all, nil
}

// ChannelHistory returns up to limit of the channel's newest messages,
// newest first.
func (c *Client) ChannelHistory(ctx context.Context, channel string, limit int) ([]slack.Message, error) {
	resp, err := c.api.GetConversationHistoryContext(ctx, &slack.GetConversationHistoryParameters{
		ChannelID: channel,
		Limit:     limit,
	})
	if err != nil {
		return nil, fmt.Errorf("slack conversations.history: %w", err)
	}
	return resp.Messages, nil
}
