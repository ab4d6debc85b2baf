package conversation

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/nugget/gitbot/internal/assistant"
	"github.com/nugget/gitbot/internal/events"
)

// DefaultPollInterval is the wait between run status checks.
const DefaultPollInterval = time.Second

// abandonTimeout bounds the cancel request sent for a run the turn gave
// up on.
const abandonTimeout = 10 * time.Second

// SleepFunc waits for d or until ctx is done.
type SleepFunc func(ctx context.Context, d time.Duration) error

// Sleep is the default SleepFunc.
func Sleep(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// Driver appends a user message to a thread and drives a run on it to
// a terminal state, answering tool calls along the way.
type Driver struct {
	backend      Backend
	dispatcher   *Dispatcher
	pollInterval time.Duration
	sleep        SleepFunc
	bus          *events.Bus
	logger       *slog.Logger
}

// NewDriver returns a Driver. A nil sleep uses Sleep and a non-positive
// interval uses DefaultPollInterval.
func NewDriver(backend Backend, dispatcher *Dispatcher, pollInterval time.Duration, sleep SleepFunc, bus *events.Bus, logger *slog.Logger) *Driver {
	if pollInterval <= 0 {
		pollInterval = DefaultPollInterval
	}
	if sleep == nil {
		sleep = Sleep
	}
	return &Driver{
		backend:      backend,
		dispatcher:   dispatcher,
		pollInterval: pollInterval,
		sleep:        sleep,
		bus:          bus,
		logger:       logger,
	}
}

// Run posts text to the thread and runs assistantID on it until the run
// completes. There is no timeout of its own; ctx bounds the whole run.
func (d *Driver) Run(ctx context.Context, threadID, assistantID, text string) error {
	log := d.logger.With("thread_id", threadID)

	runs, err := d.backend.ListRuns(ctx, threadID)
	if err != nil {
		return fmt.Errorf("list runs: %w", err)
	}
	for _, r := range runs {
		if r.Status.Active() {
			return &AlreadyRunningError{ThreadID: threadID, RunID: r.ID, Status: r.Status}
		}
	}

	if err := d.backend.AppendMessage(ctx, threadID, text); err != nil {
		var active *assistant.ActiveRunError
		if !errors.As(err, &active) {
			return fmt.Errorf("append message: %w", err)
		}
		conflict := &AppendConflictError{ThreadID: threadID, RunID: active.RunID, Err: err}
		if cerr := d.backend.CancelRun(ctx, threadID, active.RunID); cerr != nil {
			conflict.CancelErr = cerr
		}
		log.Warn("append blocked by active run", "run_id", active.RunID, "cancelled", conflict.CancelErr == nil)
		return conflict
	}

	run, err := d.backend.CreateRun(ctx, threadID, assistantID)
	if err != nil {
		return fmt.Errorf("create run: %w", err)
	}
	log = log.With("run_id", run.ID)
	log.Debug("run created", "assistant_id", assistantID, "status", run.Status)
	d.bus.Emit(events.SourceConversation, events.KindRunCreated, map[string]any{
		"thread_id": threadID,
		"run_id":    run.ID,
	})

	err = d.poll(ctx, log, threadID, run)
	if err != nil && ctx.Err() != nil {
		d.abandon(ctx, log, threadID, run.ID)
	}
	return err
}

// poll waits for run to finish, answering tool calls on the way.
func (d *Driver) poll(ctx context.Context, log *slog.Logger, threadID string, run assistant.Run) error {
	var err error
	last := run.Status
	for {
		if err := d.sleep(ctx, d.pollInterval); err != nil {
			return err
		}

		run, err = d.backend.GetRun(ctx, threadID, run.ID)
		if err != nil {
			return fmt.Errorf("get run: %w", err)
		}
		if run.Status != last {
			log.Debug("run status changed", "from", last, "to", run.Status)
			d.bus.Emit(events.SourceConversation, events.KindRunStatus, map[string]any{
				"thread_id": threadID,
				"run_id":    run.ID,
				"status":    string(run.Status),
			})
			last = run.Status
		}

		switch run.Status {
		case assistant.RunCompleted:
			return nil

		case assistant.RunRequiresAction:
			var calls []assistant.ToolCall
			for _, c := range run.ToolCalls {
				if c.Type == "function" {
					calls = append(calls, c)
				}
			}
			if len(calls) == 0 {
				return ErrNoFunction
			}
			log.Debug("dispatching tool calls", "count", len(calls))
			outputs := d.dispatcher.Dispatch(ctx, run.ID, calls)
			if err := d.backend.SubmitToolOutputs(ctx, threadID, run.ID, outputs); err != nil {
				return fmt.Errorf("submit tool outputs: %w", err)
			}

		case assistant.RunFailed, assistant.RunCancelled, assistant.RunExpired, assistant.RunIncomplete:
			return &RunTerminalError{RunID: run.ID, Status: run.Status, LastError: run.LastError}
		}
	}
}

// abandon cancels a run whose turn ran out of time, so the thread does
// not stay blocked until the backend expires the run on its own.
func (d *Driver) abandon(ctx context.Context, log *slog.Logger, threadID, runID string) {
	cctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), abandonTimeout)
	defer cancel()
	if err := d.backend.CancelRun(cctx, threadID, runID); err != nil {
		log.Warn("could not cancel abandoned run", "error", err)
		return
	}
	log.Warn("cancelled abandoned run", "cause", ctx.Err())
}
