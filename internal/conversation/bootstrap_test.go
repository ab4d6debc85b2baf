package conversation

import (
	"fmt"
	"strings"
	"testing"

	"github.com/slack-go/slack"
)

func TestSeedThreadKeepsNewestReplies(t *testing.T) {
	fc := &fakeChat{}
	for i := 0; i < 14; i++ {
		fc.replies = append(fc.replies, slackMsg(fmt.Sprintf("100.%02d", i), fmt.Sprintf("msg %d", i)))
	}
	b := NewBootstrapper(fc, 0, 0, discardLogger())

	// The mention is reply 12; reply 13 arrived after it.
	seed, err := b.Seed(t.Context(), Event{Channel: "C1", TS: "100.12", ThreadTS: "100.00"})
	if err != nil {
		t.Fatalf("Seed: %v", err)
	}
	if len(seed) != DefaultThreadReplyLimit {
		t.Fatalf("len(seed) = %d, want %d", len(seed), DefaultThreadReplyLimit)
	}
	// Only replies older than the mention count as prior context.
	if seed[0].Content != "msg 2" {
		t.Errorf("oldest seed = %q, want msg 2", seed[0].Content)
	}
	if seed[len(seed)-1].Content != "msg 11" {
		t.Errorf("newest seed = %q, want msg 11", seed[len(seed)-1].Content)
	}
	for _, s := range seed {
		if s.Content == "msg 12" || s.Content == "msg 13" {
			t.Errorf("seed includes %q, posted at or after the mention", s.Content)
		}
	}
}

func TestTSLess(t *testing.T) {
	tests := []struct {
		a, b string
		want bool
	}{
		{"100.1", "100.2", true},
		{"100.2", "100.12", false},
		{"100.12", "100.2", true},
		{"100.000200", "100.2", true},
		{"99.9", "100.0", true},
		{"1700000000.123456", "1700000000.123457", true},
		{"100.5", "100.5", false},
	}
	for _, tt := range tests {
		if got := tsLess(tt.a, tt.b); got != tt.want {
			t.Errorf("tsLess(%q, %q) = %v, want %v", tt.a, tt.b, got, tt.want)
		}
	}
}

func TestSeedChannelHistoryOldestFirst(t *testing.T) {
	fc := &fakeChat{history: []slack.Message{
		slackMsg("5", "<@U1> hello"),
		slackMsg("4", "d"),
		slackMsg("3", ""),
		slackMsg("2", "b"),
	}}
	b := NewBootstrapper(fc, 10, 3, discardLogger())

	seed, err := b.Seed(t.Context(), Event{Channel: "C1", TS: "5"})
	if err != nil {
		t.Fatalf("Seed: %v", err)
	}
	// The empty message is dropped after the window is taken.
	if len(seed) != 2 || seed[0].Content != "b" || seed[1].Content != "d" {
		t.Errorf("seed = %+v, want [b d]", seed)
	}
}

func TestSeedEmptyHistory(t *testing.T) {
	b := NewBootstrapper(&fakeChat{}, 0, 0, discardLogger())
	seed, err := b.Seed(t.Context(), Event{Channel: "C1", TS: "1"})
	if err != nil {
		t.Fatalf("Seed: %v", err)
	}
	if len(seed) != 0 {
		t.Errorf("seed = %+v, want empty", seed)
	}
}

func TestMessageText(t *testing.T) {
	plain := func(s string) *slack.TextBlockObject {
		return slack.NewTextBlockObject(slack.PlainTextType, s, false, false)
	}
	md := func(s string) *slack.TextBlockObject {
		return slack.NewTextBlockObject(slack.MarkdownType, s, false, false)
	}

	tests := []struct {
		name   string
		msg    slack.Message
		want   string
		substr []string
	}{
		{
			name: "raw text with mention",
			msg:  slackMsg("1", "<@U0123ABC> what's open?"),
			want: "what's open?",
		},
		{
			name: "labelled mention",
			msg:  slackMsg("1", "ping <@W99|someone> now"),
			want: "ping  now",
		},
		{
			name: "section and header blocks win over text",
			msg: slack.Message{Msg: slack.Msg{
				Text: "fallback",
				Blocks: slack.Blocks{BlockSet: []slack.Block{
					slack.NewHeaderBlock(plain("Deploy")),
					slack.NewSectionBlock(md("*done*"), []*slack.TextBlockObject{md("env: prod")}, nil),
				}},
			}},
			want: "Deploy\n*done*\nenv: prod",
		},
		{
			name: "attachments after blocks",
			msg: slack.Message{Msg: slack.Msg{
				Blocks: slack.Blocks{BlockSet: []slack.Block{
					slack.NewSectionBlock(md("build"), nil, nil),
				}},
				Attachments: []slack.Attachment{
					{Title: "CI", Text: "passed"},
					{Text: "only text"},
					{Title: "only title"},
					{},
				},
			}},
			want: "build\nCI\npassed\nonly text\nonly title",
		},
		{
			name: "rich text",
			msg: slack.Message{Msg: slack.Msg{
				Blocks: slack.Blocks{BlockSet: []slack.Block{
					slack.NewRichTextBlock("r1", slack.NewRichTextSection(
						slack.NewRichTextSectionTextElement("see ", nil),
						slack.NewRichTextSectionLinkElement("https://example.com/pr/1", "the PR", nil),
					)),
				}},
			}},
			want: "see the PR",
		},
		{
			name: "action elements as json",
			msg: slack.Message{Msg: slack.Msg{
				Blocks: slack.Blocks{BlockSet: []slack.Block{
					slack.NewSectionBlock(md("approve?"), nil, nil),
					slack.NewActionBlock("a1", slack.NewButtonBlockElement("approve", "yes", plain("Approve"))),
				}},
			}},
			substr: []string{"approve?\n{", `"action_id":"approve"`, `"value":"yes"`},
		},
		{
			name: "nothing",
			msg:  slackMsg("1", "  "),
			want: "",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := MessageText(tt.msg)
			if tt.substr != nil {
				for _, s := range tt.substr {
					if !strings.Contains(got, s) {
						t.Errorf("MessageText = %q, missing %q", got, s)
					}
				}
				return
			}
			if got != tt.want {
				t.Errorf("MessageText = %q, want %q", got, tt.want)
			}
		})
	}
}
