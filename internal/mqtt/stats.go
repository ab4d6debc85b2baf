package mqtt

import (
	"sync"
	"time"

	"github.com/nugget/gitbot/internal/events"
)

// DailyTurns counts turn outcomes since local midnight. It is safe for
// concurrent use.
type DailyTurns struct {
	mu             sync.Mutex
	started        int64
	completed      int64
	failed         int64
	alreadyRunning int64
	toolCalls      int64
	resetDay       int // day-of-year of last reset
	loc            *time.Location
	now            func() time.Time
}

// TurnStats is the JSON payload published to {base_topic}/stats.
type TurnStats struct {
	Started        int64 `json:"started"`
	Completed      int64 `json:"completed"`
	Failed         int64 `json:"failed"`
	AlreadyRunning int64 `json:"already_running"`
	ToolCalls      int64 `json:"tool_calls"`
}

// NewDailyTurns creates a counter using loc for midnight detection. A
// nil loc means [time.Local].
func NewDailyTurns(loc *time.Location) *DailyTurns {
	if loc == nil {
		loc = time.Local
	}
	d := &DailyTurns{loc: loc, now: time.Now}
	d.resetDay = d.now().In(loc).YearDay()
	return d
}

// Observe updates the counters from one bus event.
func (d *DailyTurns) Observe(e events.Event) {
	d.mu.Lock()
	defer d.mu.Unlock()

	d.maybeReset()
	switch e.Kind {
	case events.KindTurnStart:
		d.started++
	case events.KindTurnComplete:
		d.completed++
	case events.KindTurnFailed:
		d.failed++
	case events.KindAlreadyRunning:
		d.alreadyRunning++
	case events.KindToolCall:
		d.toolCalls++
	}
}

// Snapshot returns today's totals after checking for midnight rollover.
func (d *DailyTurns) Snapshot() TurnStats {
	d.mu.Lock()
	defer d.mu.Unlock()

	d.maybeReset()
	return TurnStats{
		Started:        d.started,
		Completed:      d.completed,
		Failed:         d.failed,
		AlreadyRunning: d.alreadyRunning,
		ToolCalls:      d.toolCalls,
	}
}

// maybeReset zeroes the counters when the local day changed. Must be
// called with d.mu held.
func (d *DailyTurns) maybeReset() {
	today := d.now().In(d.loc).YearDay()
	if today != d.resetDay {
		d.started, d.completed, d.failed, d.alreadyRunning, d.toolCalls = 0, 0, 0, 0, 0
		d.resetDay = today
	}
}
