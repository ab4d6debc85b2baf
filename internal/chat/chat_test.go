package chat

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newTestClient(t *testing.T, mux *http.ServeMux) *Client {
	t.Helper()
	ts := httptest.NewServer(mux)
	t.Cleanup(ts.Close)
	return New("xoxb-test", Options{APIURL: ts.URL + "/api", HTTPClient: ts.Client()}, discardLogger())
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(v)
}

func TestPostMessage(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/api/chat.postMessage", func(w http.ResponseWriter, r *http.Request) {
		if got := r.FormValue("channel"); got != "C1" {
			t.Errorf("channel = %q", got)
		}
		if got := r.FormValue("thread_ts"); got != "1700000000.000100" {
			t.Errorf("thread_ts = %q", got)
		}
		if got := r.FormValue("reply_broadcast"); got != "true" {
			t.Errorf("reply_broadcast = %q, want true", got)
		}
		if got := r.FormValue("text"); got != "**Done**\nsecond" {
			t.Errorf("text = %q", got)
		}

		var blocks []struct {
			Type string `json:"type"`
			Text struct {
				Type string `json:"type"`
				Text string `json:"text"`
			} `json:"text"`
		}
		if err := json.Unmarshal([]byte(r.FormValue("blocks")), &blocks); err != nil {
			t.Fatalf("blocks: %v", err)
		}
		if len(blocks) != 2 {
			t.Fatalf("blocks = %d, want 2", len(blocks))
		}
		if blocks[0].Type != "section" || blocks[0].Text.Type != "mrkdwn" || blocks[0].Text.Text != "*Done*" {
			t.Errorf("blocks[0] = %+v", blocks[0])
		}
		writeJSON(w, map[string]any{"ok": true, "channel": "C1", "ts": "1700000001.000200"})
	})

	c := newTestClient(t, mux)
	ts, err := c.PostMessage(context.Background(), Post{
		Channel:   "C1",
		ThreadTS:  "1700000000.000100",
		Text:      "**Done**\nsecond",
		Segments:  []string{"**Done**", "second"},
		Broadcast: true,
	})
	if err != nil {
		t.Fatalf("PostMessage: %v", err)
	}
	if ts != "1700000001.000200" {
		t.Errorf("ts = %q", ts)
	}
}

func TestPostMessagePlainText(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/api/chat.postMessage", func(w http.ResponseWriter, r *http.Request) {
		if got := r.FormValue("blocks"); got != "" {
			t.Errorf("blocks = %q, want none", got)
		}
		if got := r.FormValue("reply_broadcast"); got == "true" {
			t.Errorf("reply_broadcast set for non-broadcast post")
		}
		writeJSON(w, map[string]any{"ok": true, "channel": "C1", "ts": "1.2"})
	})

	c := newTestClient(t, mux)
	if _, err := c.PostMessage(context.Background(), Post{Channel: "C1", ThreadTS: "1.1", Text: "Sorry"}); err != nil {
		t.Fatalf("PostMessage: %v", err)
	}
}

func TestPostMessageSlackError(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/api/chat.postMessage", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, map[string]any{"ok": false, "error": "channel_not_found"})
	})

	c := newTestClient(t, mux)
	_, err := c.PostMessage(context.Background(), Post{Channel: "CX", Text: "hi"})
	if err == nil || !strings.Contains(err.Error(), "channel_not_found") {
		t.Fatalf("error = %v, want channel_not_found", err)
	}
}

func TestThreadRepliesPages(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/api/conversations.replies", func(w http.ResponseWriter, r *http.Request) {
		if got := r.FormValue("ts"); got != "100.0" {
			t.Errorf("ts = %q", got)
		}
		if got := r.FormValue("latest"); got != "103.0" {
			t.Errorf("latest = %q, want 103.0", got)
		}
		switch r.FormValue("cursor") {
		case "":
			writeJSON(w, map[string]any{
				"ok":                true,
				"messages":          []map[string]any{{"ts": "100.0", "text": "root"}, {"ts": "101.0", "text": "one"}},
				"has_more":          true,
				"response_metadata": map[string]any{"next_cursor": "page2"},
			})
		case "page2":
			writeJSON(w, map[string]any{
				"ok":       true,
				"messages": []map[string]any{{"ts": "102.0", "text": "two"}},
				"has_more": false,
			})
		default:
			t.Errorf("unexpected cursor %q", r.FormValue("cursor"))
		}
	})

	c := newTestClient(t, mux)
	msgs, err := c.ThreadReplies(context.Background(), "C1", "100.0", "103.0")
	if err != nil {
		t.Fatalf("ThreadReplies: %v", err)
	}
	if len(msgs) != 3 || msgs[0].Text != "root" || msgs[2].Text != "two" {
		t.Errorf("messages = %+v", msgs)
	}
}

func TestChannelHistory(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/api/conversations.history", func(w http.ResponseWriter, r *http.Request) {
		if got := r.FormValue("limit"); got != "4" {
			t.Errorf("limit = %q, want 4", got)
		}
		writeJSON(w, map[string]any{
			"ok":       true,
			"messages": []map[string]any{{"ts": "3.0", "text": "newest"}, {"ts": "2.0", "text": "older"}},
		})
	})

	c := newTestClient(t, mux)
	msgs, err := c.ChannelHistory(context.Background(), "C1", 4)
	if err != nil {
		t.Fatalf("ChannelHistory: %v", err)
	}
	if len(msgs) != 2 || msgs[0].Timestamp != "3.0" {
		t.Errorf("messages = %+v", msgs)
	}
}

func TestBotUserID(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/api/auth.test", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, map[string]any{"ok": true, "user_id": "UBOT", "bot_id": "B1"})
	})

	c := newTestClient(t, mux)
	id, err := c.BotUserID(context.Background())
	if err != nil || id != "UBOT" {
		t.Errorf("BotUserID = %q, %v", id, err)
	}
}

func TestSplitText(t *testing.T) {
	tests := []struct {
		name  string
		in    string
		limit int
		want  []string
	}{
		{"short", "abc", 10, []string{"abc"}},
		{"line boundary", "aaaa\nbbbb\ncccc", 10, []string{"aaaa\nbbbb", "cccc"}},
		{"hard cut", "abcdefghij", 4, []string{"abcd", "efgh", "ij"}},
		{"utf8", "ééé", 3, []string{"é", "é", "é"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := SplitText(tt.in, tt.limit)
			if len(got) != len(tt.want) {
				t.Fatalf("SplitText = %q, want %q", got, tt.want)
			}
			for i := range got {
				if got[i] != tt.want[i] {
					t.Errorf("piece %d = %q, want %q", i, got[i], tt.want[i])
				}
			}
		})
	}
}
