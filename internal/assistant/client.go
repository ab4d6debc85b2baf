package assistant

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"regexp"

	openai "github.com/sashabaranov/go-openai"
)

// DefaultMessageLimit bounds how many thread messages a reply read
// fetches. The reply walk stops at the newest user message long before
// this in practice.
const DefaultMessageLimit = 100

// Client implements the conversation backend on the OpenAI Assistants
// API.
type Client struct {
	api    *openai.Client
	logger *slog.Logger
}

// NewClient returns a Client. baseURL may be empty for the public API;
// httpClient may be nil for the go-openai default.
func NewClient(apiKey, baseURL string, httpClient *http.Client, logger *slog.Logger) *Client {
	cfg := openai.DefaultConfig(apiKey)
	if baseURL != "" {
		cfg.BaseURL = baseURL
	}
	if httpClient != nil {
		cfg.HTTPClient = httpClient
	}
	return &Client{
		api:    openai.NewClientWithConfig(cfg),
		logger: logger,
	}
}

// statusCode extracts the HTTP status from a go-openai error.
func statusCode(err error) int {
	var apiErr *openai.APIError
	if errors.As(err, &apiErr) {
		return apiErr.HTTPStatusCode
	}
	var reqErr *openai.RequestError
	if errors.As(err, &reqErr) {
		return reqErr.HTTPStatusCode
	}
	return 0
}

// classify wraps err, mapping 404 responses to ErrNotFound.
func classify(op string, err error) error {
	if statusCode(err) == http.StatusNotFound {
		return fmt.Errorf("%s: %w: %w", op, ErrNotFound, err)
	}
	return fmt.Errorf("%s: %w", op, err)
}

var activeRunPattern = regexp.MustCompile(`run (run_\w+) is active`)

// activeRun returns the run id named by a "run ... is active" rejection.
func activeRun(err error) (string, bool) {
	var apiErr *openai.APIError
	if !errors.As(err, &apiErr) {
		return "", false
	}
	if apiErr.HTTPStatusCode != http.StatusBadRequest || apiErr.Type != "invalid_request_error" {
		return "", false
	}
	m := activeRunPattern.FindStringSubmatch(apiErr.Message)
	if m == nil {
		return "", false
	}
	return m[1], true
}

// Ping checks that the API accepts the key by listing models.
func (c *Client) Ping(ctx context.Context) error {
	if _, err := c.api.ListModels(ctx); err != nil {
		return classify("list models", err)
	}
	return nil
}

// RetrieveAssistant fetches an assistant by id.
func (c *Client) RetrieveAssistant(ctx context.Context, id string) (Persona, error) {
	a, err := c.api.RetrieveAssistant(ctx, id)
	if err != nil {
		return Persona{}, classify("retrieve assistant", err)
	}
	return convertAssistant(a), nil
}

// CreateAssistant creates an assistant from spec.
func (c *Client) CreateAssistant(ctx context.Context, spec PersonaSpec) (Persona, error) {
	tools := make([]openai.AssistantTool, 0, len(spec.Functions)+1)
	for _, fn := range spec.Functions {
		tools = append(tools, openai.AssistantTool{
			Type: openai.AssistantToolTypeFunction,
			Function: &openai.FunctionDefinition{
				Name:        fn.Name,
				Description: fn.Description,
				Parameters:  fn.Parameters,
			},
		})
	}
	if spec.CodeInterpreter {
		tools = append(tools, openai.AssistantTool{Type: openai.AssistantToolTypeCodeInterpreter})
	}

	name, instructions := spec.Name, spec.Instructions
	a, err := c.api.CreateAssistant(ctx, openai.AssistantRequest{
		Model:        spec.Model,
		Name:         &name,
		Instructions: &instructions,
		Tools:        tools,
	})
	if err != nil {
		return Persona{}, classify("create assistant", err)
	}

	c.logger.Info("assistant created", "assistant_id", a.ID, "model", a.Model, "tools", len(tools))
	return convertAssistant(a), nil
}

// CreateThread starts a thread seeded with prior messages.
func (c *Client) CreateThread(ctx context.Context, seed []SeedMessage) (string, error) {
	msgs := make([]openai.ThreadMessage, 0, len(seed))
	for _, s := range seed {
		msgs = append(msgs, openai.ThreadMessage{
			Role:    openai.ThreadMessageRole(s.Role),
			Content: s.Content,
		})
	}

	th, err := c.api.CreateThread(ctx, openai.ThreadRequest{Messages: msgs})
	if err != nil {
		return "", classify("create thread", err)
	}
	c.logger.Debug("thread created", "thread_id", th.ID, "seed_messages", len(msgs))
	return th.ID, nil
}

// AppendMessage adds a user message to a thread. When the backend
// refuses because a run is active the error is an *ActiveRunError.
func (c *Client) AppendMessage(ctx context.Context, threadID, text string) error {
	_, err := c.api.CreateMessage(ctx, threadID, openai.MessageRequest{
		Role:    string(openai.ThreadMessageRoleUser),
		Content: text,
	})
	if err == nil {
		return nil
	}
	if runID, ok := activeRun(err); ok {
		return &ActiveRunError{RunID: runID, Err: err}
	}
	return classify("append message", err)
}

// CreateRun starts a run of assistantID on the thread.
func (c *Client) CreateRun(ctx context.Context, threadID, assistantID string) (Run, error) {
	r, err := c.api.CreateRun(ctx, threadID, openai.RunRequest{AssistantID: assistantID})
	if err != nil {
		return Run{}, classify("create run", err)
	}
	return convertRun(r), nil
}

// GetRun fetches the current state of a run.
func (c *Client) GetRun(ctx context.Context, threadID, runID string) (Run, error) {
	r, err := c.api.RetrieveRun(ctx, threadID, runID)
	if err != nil {
		return Run{}, classify("retrieve run", err)
	}
	return convertRun(r), nil
}

// ListRuns returns the thread's most recent runs, newest first. An
// active run is always among the newest, so one page is enough.
func (c *Client) ListRuns(ctx context.Context, threadID string) ([]Run, error) {
	limit, order := 20, "desc"
	list, err := c.api.ListRuns(ctx, threadID, openai.Pagination{Limit: &limit, Order: &order})
	if err != nil {
		return nil, classify("list runs", err)
	}
	runs := make([]Run, 0, len(list.Runs))
	for _, r := range list.Runs {
		runs = append(runs, convertRun(r))
	}
	return runs, nil
}

// CancelRun asks the backend to cancel a run.
func (c *Client) CancelRun(ctx context.Context, threadID, runID string) error {
	if _, err := c.api.CancelRun(ctx, threadID, runID); err != nil {
		return classify("cancel run", err)
	}
	return nil
}

// SubmitToolOutputs answers every pending tool call of a run at once.
func (c *Client) SubmitToolOutputs(ctx context.Context, threadID, runID string, outputs []ToolOutput) error {
	req := openai.SubmitToolOutputsRequest{ToolOutputs: make([]openai.ToolOutput, 0, len(outputs))}
	for _, o := range outputs {
		req.ToolOutputs = append(req.ToolOutputs, openai.ToolOutput{
			ToolCallID: o.ToolCallID,
			Output:     o.Output,
		})
	}
	if _, err := c.api.SubmitToolOutputs(ctx, threadID, runID, req); err != nil {
		return classify("submit tool outputs", err)
	}
	return nil
}

// ListMessages returns the thread's messages, newest first.
func (c *Client) ListMessages(ctx context.Context, threadID string) ([]Message, error) {
	limit, order := DefaultMessageLimit, "desc"
	list, err := c.api.ListMessage(ctx, threadID, &limit, &order, nil, nil, nil)
	if err != nil {
		return nil, classify("list messages", err)
	}
	msgs := make([]Message, 0, len(list.Messages))
	for _, m := range list.Messages {
		msgs = append(msgs, convertMessage(m))
	}
	return msgs, nil
}

func convertAssistant(a openai.Assistant) Persona {
	p := Persona{ID: a.ID, Model: a.Model}
	if a.Name != nil {
		p.Name = *a.Name
	}
	return p
}

func convertRun(r openai.Run) Run {
	out := Run{
		ID:       r.ID,
		ThreadID: r.ThreadID,
		Status:   RunStatus(r.Status),
	}
	if r.LastError != nil {
		out.LastError = fmt.Sprintf("%s: %s", r.LastError.Code, r.LastError.Message)
	}
	if r.RequiredAction != nil && r.RequiredAction.SubmitToolOutputs != nil {
		for _, tc := range r.RequiredAction.SubmitToolOutputs.ToolCalls {
			out.ToolCalls = append(out.ToolCalls, ToolCall{
				ID:        tc.ID,
				Type:      string(tc.Type),
				Name:      tc.Function.Name,
				Arguments: tc.Function.Arguments,
			})
		}
	}
	return out
}

func convertMessage(m openai.Message) Message {
	out := Message{ID: m.ID, Role: m.Role}
	for _, c := range m.Content {
		item := Content{Type: c.Type}
		if c.Text != nil {
			item.Text = c.Text.Value
		}
		if c.ImageFile != nil {
			item.ImageFileID = c.ImageFile.FileID
		}
		out.Content = append(out.Content, item)
	}
	return out
}
