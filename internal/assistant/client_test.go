package assistant

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// newTestClient returns a Client pointed at an httptest server that
// serves mux under /v1.
func newTestClient(t *testing.T, mux *http.ServeMux) *Client {
	t.Helper()
	ts := httptest.NewServer(mux)
	t.Cleanup(ts.Close)
	return NewClient("sk-test", ts.URL+"/v1", ts.Client(), discardLogger())
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func apiError(w http.ResponseWriter, status int, typ, msg string) {
	writeJSON(w, status, map[string]any{
		"error": map[string]any{"message": msg, "type": typ, "param": nil, "code": nil},
	})
}

func TestRetrieveAssistant(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /v1/assistants/asst_1", func(w http.ResponseWriter, r *http.Request) {
		if got := r.Header.Get("Authorization"); got != "Bearer sk-test" {
			t.Errorf("Authorization = %q", got)
		}
		writeJSON(w, 200, map[string]any{"id": "asst_1", "object": "assistant", "name": "gitbot", "model": "gpt-4o"})
	})
	mux.HandleFunc("GET /v1/assistants/asst_gone", func(w http.ResponseWriter, _ *http.Request) {
		apiError(w, 404, "invalid_request_error", "No assistant found with id 'asst_gone'.")
	})

	c := newTestClient(t, mux)

	p, err := c.RetrieveAssistant(context.Background(), "asst_1")
	if err != nil {
		t.Fatalf("RetrieveAssistant: %v", err)
	}
	if p.ID != "asst_1" || p.Name != "gitbot" || p.Model != "gpt-4o" {
		t.Errorf("persona = %+v", p)
	}

	_, err = c.RetrieveAssistant(context.Background(), "asst_gone")
	if !errors.Is(err, ErrNotFound) {
		t.Errorf("missing assistant error = %v, want ErrNotFound", err)
	}
}

func TestCreateAssistantSendsTools(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("POST /v1/assistants", func(w http.ResponseWriter, r *http.Request) {
		var body struct {
			Model        string `json:"model"`
			Name         string `json:"name"`
			Instructions string `json:"instructions"`
			Tools        []struct {
				Type     string `json:"type"`
				Function *struct {
					Name string `json:"name"`
				} `json:"function"`
			} `json:"tools"`
		}
		json.NewDecoder(r.Body).Decode(&body)

		if body.Model != "gpt-4o" || body.Name != "gitbot" || body.Instructions != "Be useful." {
			t.Errorf("request = %+v", body)
		}
		if len(body.Tools) != 2 {
			t.Fatalf("tools = %d, want 2", len(body.Tools))
		}
		if body.Tools[0].Type != "function" || body.Tools[0].Function == nil || body.Tools[0].Function.Name != "listPR" {
			t.Errorf("tools[0] = %+v", body.Tools[0])
		}
		if body.Tools[1].Type != "code_interpreter" {
			t.Errorf("tools[1].type = %q, want code_interpreter", body.Tools[1].Type)
		}
		writeJSON(w, 200, map[string]any{"id": "asst_new", "object": "assistant", "name": body.Name, "model": body.Model})
	})

	c := newTestClient(t, mux)
	p, err := c.CreateAssistant(context.Background(), PersonaSpec{
		Name:         "gitbot",
		Instructions: "Be useful.",
		Model:        "gpt-4o",
		Functions: []FunctionSpec{{
			Name:        "listPR",
			Description: "List pull requests.",
			Parameters:  map[string]any{"type": "object"},
		}},
		CodeInterpreter: true,
	})
	if err != nil {
		t.Fatalf("CreateAssistant: %v", err)
	}
	if p.ID != "asst_new" {
		t.Errorf("ID = %q, want asst_new", p.ID)
	}
}

func TestAppendMessageActiveRun(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("POST /v1/threads/thread_1/messages", func(w http.ResponseWriter, _ *http.Request) {
		apiError(w, 400, "invalid_request_error",
			"Can't add messages to thread_1 while a run run_abc123 is active.")
	})
	mux.HandleFunc("POST /v1/threads/thread_2/messages", func(w http.ResponseWriter, _ *http.Request) {
		apiError(w, 400, "invalid_request_error", "Message content must be non-empty.")
	})

	c := newTestClient(t, mux)

	err := c.AppendMessage(context.Background(), "thread_1", "hello")
	var active *ActiveRunError
	if !errors.As(err, &active) {
		t.Fatalf("error = %v, want *ActiveRunError", err)
	}
	if active.RunID != "run_abc123" {
		t.Errorf("RunID = %q, want run_abc123", active.RunID)
	}

	err = c.AppendMessage(context.Background(), "thread_2", "")
	if err == nil || errors.As(err, &active) {
		t.Errorf("unrelated 400 = %v, want plain error", err)
	}
}

func TestRunLifecycle(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("POST /v1/threads", func(w http.ResponseWriter, r *http.Request) {
		var body struct {
			Messages []struct {
				Role    string `json:"role"`
				Content string `json:"content"`
			} `json:"messages"`
		}
		json.NewDecoder(r.Body).Decode(&body)
		if len(body.Messages) != 2 || body.Messages[0].Role != "user" || body.Messages[1].Content != "second" {
			t.Errorf("seed = %+v", body.Messages)
		}
		writeJSON(w, 200, map[string]any{"id": "thread_1", "object": "thread"})
	})
	mux.HandleFunc("POST /v1/threads/thread_1/runs", func(w http.ResponseWriter, r *http.Request) {
		var body struct {
			AssistantID string `json:"assistant_id"`
		}
		json.NewDecoder(r.Body).Decode(&body)
		if body.AssistantID != "asst_1" {
			t.Errorf("assistant_id = %q", body.AssistantID)
		}
		writeJSON(w, 200, map[string]any{"id": "run_1", "thread_id": "thread_1", "status": "queued"})
	})
	mux.HandleFunc("GET /v1/threads/thread_1/runs/run_1", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, 200, map[string]any{
			"id": "run_1", "thread_id": "thread_1", "status": "requires_action",
			"required_action": map[string]any{
				"type": "submit_tool_outputs",
				"submit_tool_outputs": map[string]any{
					"tool_calls": []map[string]any{{
						"id":       "call_1",
						"type":     "function",
						"function": map[string]any{"name": "listPR", "arguments": `{"owner":"o","repo":"r"}`},
					}},
				},
			},
		})
	})
	mux.HandleFunc("GET /v1/threads/thread_1/runs", func(w http.ResponseWriter, r *http.Request) {
		if got := r.URL.Query().Get("order"); got != "desc" {
			t.Errorf("order = %q, want desc", got)
		}
		writeJSON(w, 200, map[string]any{
			"object": "list",
			"data": []map[string]any{
				{"id": "run_1", "thread_id": "thread_1", "status": "in_progress"},
				{"id": "run_0", "thread_id": "thread_1", "status": "failed",
					"last_error": map[string]any{"code": "server_error", "message": "boom"}},
			},
		})
	})
	mux.HandleFunc("POST /v1/threads/thread_1/runs/run_1/submit_tool_outputs", func(w http.ResponseWriter, r *http.Request) {
		var body struct {
			ToolOutputs []struct {
				ToolCallID string `json:"tool_call_id"`
				Output     string `json:"output"`
			} `json:"tool_outputs"`
		}
		json.NewDecoder(r.Body).Decode(&body)
		if len(body.ToolOutputs) != 1 || body.ToolOutputs[0].ToolCallID != "call_1" || body.ToolOutputs[0].Output != "[]" {
			t.Errorf("tool_outputs = %+v", body.ToolOutputs)
		}
		writeJSON(w, 200, map[string]any{"id": "run_1", "thread_id": "thread_1", "status": "queued"})
	})
	mux.HandleFunc("POST /v1/threads/thread_1/runs/run_1/cancel", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, 200, map[string]any{"id": "run_1", "thread_id": "thread_1", "status": "cancelling"})
	})

	c := newTestClient(t, mux)
	ctx := context.Background()

	threadID, err := c.CreateThread(ctx, []SeedMessage{{Role: "user", Content: "first"}, {Role: "user", Content: "second"}})
	if err != nil || threadID != "thread_1" {
		t.Fatalf("CreateThread = %q, %v", threadID, err)
	}

	run, err := c.CreateRun(ctx, threadID, "asst_1")
	if err != nil || run.ID != "run_1" || run.Status != RunQueued {
		t.Fatalf("CreateRun = %+v, %v", run, err)
	}

	run, err = c.GetRun(ctx, threadID, "run_1")
	if err != nil {
		t.Fatalf("GetRun: %v", err)
	}
	if run.Status != RunRequiresAction || len(run.ToolCalls) != 1 {
		t.Fatalf("GetRun = %+v", run)
	}
	if tc := run.ToolCalls[0]; tc.ID != "call_1" || tc.Type != "function" || tc.Name != "listPR" || tc.Arguments != `{"owner":"o","repo":"r"}` {
		t.Errorf("tool call = %+v", tc)
	}

	runs, err := c.ListRuns(ctx, threadID)
	if err != nil || len(runs) != 2 {
		t.Fatalf("ListRuns = %+v, %v", runs, err)
	}
	if runs[1].LastError != "server_error: boom" {
		t.Errorf("LastError = %q", runs[1].LastError)
	}

	if err := c.SubmitToolOutputs(ctx, threadID, "run_1", []ToolOutput{{ToolCallID: "call_1", Output: "[]"}}); err != nil {
		t.Fatalf("SubmitToolOutputs: %v", err)
	}
	if err := c.CancelRun(ctx, threadID, "run_1"); err != nil {
		t.Fatalf("CancelRun: %v", err)
	}
}

func TestListMessages(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /v1/threads/thread_1/messages", func(w http.ResponseWriter, r *http.Request) {
		if got := r.URL.Query().Get("order"); got != "desc" {
			t.Errorf("order = %q, want desc", got)
		}
		writeJSON(w, 200, map[string]any{
			"object": "list",
			"data": []map[string]any{
				{"id": "msg_2", "role": "assistant", "content": []map[string]any{
					{"type": "text", "text": map[string]any{"value": "Merged.", "annotations": []any{}}},
					{"type": "image_file", "image_file": map[string]any{"file_id": "file_9"}},
				}},
				{"id": "msg_1", "role": "user", "content": []map[string]any{
					{"type": "text", "text": map[string]any{"value": "merge #12", "annotations": []any{}}},
				}},
			},
		})
	})

	c := newTestClient(t, mux)
	msgs, err := c.ListMessages(context.Background(), "thread_1")
	if err != nil {
		t.Fatalf("ListMessages: %v", err)
	}
	if len(msgs) != 2 || msgs[0].Role != "assistant" || msgs[1].Role != "user" {
		t.Fatalf("messages = %+v", msgs)
	}
	if got := msgs[0].Content; len(got) != 2 || got[0].Text != "Merged." || got[1].Type != ContentImageFile || got[1].ImageFileID != "file_9" {
		t.Errorf("content = %+v", got)
	}
}

func TestRunStatusActive(t *testing.T) {
	active := []RunStatus{RunQueued, RunInProgress, RunRequiresAction, RunCancelling, RunStatus("paused")}
	for _, s := range active {
		if !s.Active() {
			t.Errorf("%s.Active() = false, want true", s)
		}
	}
	done := []RunStatus{RunCompleted, RunFailed, RunCancelled, RunExpired, RunIncomplete}
	for _, s := range done {
		if s.Active() {
			t.Errorf("%s.Active() = true, want false", s)
		}
	}
}
