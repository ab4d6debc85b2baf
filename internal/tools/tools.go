// Package tools holds the named functions the assistant may call and
// executes them from raw JSON arguments.
package tools

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"slices"
	"strings"
	"sync"
	"time"
)

// Tool represents a callable tool.
type Tool struct {
	Name        string                                                         `json:"name"`
	Description string                                                         `json:"description"`
	Parameters  map[string]any                                                 `json:"parameters"`
	Handler     func(ctx context.Context, args map[string]any) (string, error) `json:"-"`
}

// Registry holds available tools. It is safe for concurrent use; tool
// calls from one run are executed in parallel.
type Registry struct {
	mu     sync.RWMutex
	tools  map[string]*Tool
	logger *slog.Logger
}

// NewRegistry creates an empty tool registry.
func NewRegistry(logger *slog.Logger) *Registry {
	if logger == nil {
		logger = slog.Default()
	}
	return &Registry{
		tools:  make(map[string]*Tool),
		logger: logger,
	}
}

// Register adds a tool, replacing any tool with the same name.
func (r *Registry) Register(t *Tool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.tools[t.Name] = t
}

// Get returns the named tool or nil.
func (r *Registry) Get(name string) *Tool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.tools[name]
}

// List returns every registered tool ordered by name.
func (r *Registry) List() []*Tool {
	r.mu.RLock()
	defer r.mu.RUnlock()

	result := make([]*Tool, 0, len(r.tools))
	for _, t := range r.tools {
		result = append(result, t)
	}
	slices.SortFunc(result, func(a, b *Tool) int { return strings.Compare(a.Name, b.Name) })
	return result
}

// Execute runs the named tool with JSON encoded arguments. An unknown
// name yields *ErrToolUnavailable. Empty arguments decode to an empty
// map; anything other than a JSON object is rejected.
func (r *Registry) Execute(ctx context.Context, name string, argsJSON string) (string, error) {
	tool := r.Get(name)
	if tool == nil {
		return "", &ErrToolUnavailable{ToolName: name}
	}

	args := map[string]any{}
	if strings.TrimSpace(argsJSON) != "" {
		if err := json.Unmarshal([]byte(argsJSON), &args); err != nil {
			return "", fmt.Errorf("invalid arguments for %s: %w", name, err)
		}
		if args == nil {
			args = map[string]any{}
		}
	}

	log := r.logger.With(
		"tool", name,
		"conversation_key", ConversationKeyFromContext(ctx),
		"tool_call_id", ToolCallIDFromContext(ctx),
	)

	start := time.Now()
	out, err := tool.Handler(ctx, args)
	elapsed := time.Since(start).Round(time.Millisecond)
	if err != nil {
		log.Warn("tool failed", "elapsed", elapsed, "error", err)
		return "", err
	}
	log.Debug("tool completed", "elapsed", elapsed, "output_len", len(out))
	return out, nil
}
