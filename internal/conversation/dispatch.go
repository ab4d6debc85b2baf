package conversation

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/nugget/gitbot/internal/assistant"
	"github.com/nugget/gitbot/internal/events"
	"github.com/nugget/gitbot/internal/tools"
)

// DefaultMaxConcurrency bounds how many tool calls of one batch run at
// the same time.
const DefaultMaxConcurrency = 8

// Dispatcher executes the tool calls of one requires_action step.
type Dispatcher struct {
	tools  ToolRunner
	limit  int
	bus    *events.Bus
	logger *slog.Logger
}

// NewDispatcher returns a Dispatcher. A non-positive limit falls back
// to DefaultMaxConcurrency.
func NewDispatcher(runner ToolRunner, limit int, bus *events.Bus, logger *slog.Logger) *Dispatcher {
	if limit <= 0 {
		limit = DefaultMaxConcurrency
	}
	return &Dispatcher{tools: runner, limit: limit, bus: bus, logger: logger}
}

// Dispatch runs every call concurrently and returns exactly one output
// per call, in call order. A failing call contributes its error text as
// output so the assistant can see what went wrong.
func (d *Dispatcher) Dispatch(ctx context.Context, runID string, calls []assistant.ToolCall) []assistant.ToolOutput {
	outputs := make([]assistant.ToolOutput, len(calls))

	var g errgroup.Group
	g.SetLimit(d.limit)
	for i, call := range calls {
		g.Go(func() error {
			outputs[i] = d.invoke(ctx, runID, call)
			return nil
		})
	}
	_ = g.Wait()

	return outputs
}

func (d *Dispatcher) invoke(ctx context.Context, runID string, call assistant.ToolCall) (out assistant.ToolOutput) {
	out.ToolCallID = call.ID
	start := time.Now()
	ok := false

	d.bus.Emit(events.SourceConversation, events.KindToolCall, map[string]any{
		"run_id":       runID,
		"tool_call_id": call.ID,
		"tool":         call.Name,
	})

	defer func() {
		if r := recover(); r != nil {
			d.logger.Error("tool panicked", "tool", call.Name, "tool_call_id", call.ID, "panic", r)
			out.Output = fmt.Sprintf("tool %s panicked: %v", call.Name, r)
			ok = false
		}
		d.bus.Emit(events.SourceConversation, events.KindToolDone, map[string]any{
			"run_id":       runID,
			"tool_call_id": call.ID,
			"tool":         call.Name,
			"ok":           ok,
			"duration_ms":  time.Since(start).Milliseconds(),
		})
	}()

	result, err := d.tools.Execute(tools.WithToolCallID(ctx, call.ID), call.Name, call.Arguments)
	if err != nil {
		out.Output = err.Error()
		return out
	}
	out.Output = result
	ok = true
	return out
}
