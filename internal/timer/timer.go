// Package timer runs the five-hour tracking block for activated sessions.
//
// The coordinator starts a block when a session goes active; the timer
// reports back through the shared agent callback contract with
// timer_started and timer_completed events keyed by session id.
package timer

import (
	"log/slog"
	"sync"
	"time"

	"github.com/Organized-AI/claude-code-optimize-sub000/internal/agent"
	"github.com/Organized-AI/claude-code-optimize-sub000/internal/validator"
)

// Name is the agent identifier the timer reports under.
const Name = "timer"

// DefaultBlockDuration matches the five-hour usage block.
const DefaultBlockDuration = 5 * time.Hour

// Event type names emitted through the agent callback.
const (
	EventTimerStarted   = "timer_started"
	EventTimerCompleted = "timer_completed"
)

// Timer tracks one block per session id. Starting an already-tracked
// session is a no-op.
type Timer struct {
	agent.Emitter

	duration time.Duration

	mu     sync.Mutex
	blocks map[string]*block
	closed bool

	now func() time.Time
}

type block struct {
	start time.Time
	end   time.Time
	timer *time.Timer
}

// New creates a timer with the given block duration; zero means the
// default five hours.
func New(duration time.Duration) *Timer {
	if duration <= 0 {
		duration = DefaultBlockDuration
	}
	return &Timer{
		duration: duration,
		blocks:   make(map[string]*block),
		now:      time.Now,
	}
}

// Name implements [agent.Reportable].
func (t *Timer) Name() string { return Name }

// StartSessionTimer begins the tracking block for a session. The block ends
// relative to the session's start time, not the call time, so a block
// started late still completes on schedule. Idempotent per session id.
func (t *Timer) StartSessionTimer(id string, start time.Time, res validator.Result) error {
	now := t.now()
	if start.IsZero() {
		start = now
	}
	end := start.Add(t.duration)

	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		return nil
	}
	if _, exists := t.blocks[id]; exists {
		t.mu.Unlock()
		return nil
	}
	b := &block{start: start, end: end}
	t.blocks[id] = b

	remaining := end.Sub(now)
	if remaining < 0 {
		remaining = 0
	}
	b.timer = time.AfterFunc(remaining, func() { t.finish(id) })
	t.mu.Unlock()

	slog.Info("session timer started", "session_id", id, "ends", end, "confidence", res.Confidence)
	t.Emit(EventTimerStarted, agent.Payload{
		"session_id": id,
		"start_time": start,
		"end_time":   end,
		"confidence": res.Confidence,
	})
	return nil
}

// finish emits completion for a block that ran to the end of its window.
func (t *Timer) finish(id string) {
	t.mu.Lock()
	b, ok := t.blocks[id]
	if !ok {
		t.mu.Unlock()
		return
	}
	delete(t.blocks, id)
	t.mu.Unlock()

	slog.Info("session timer completed", "session_id", id)
	t.Emit(EventTimerCompleted, agent.Payload{
		"session_id":       id,
		"start_time":       b.start,
		"end_time":         b.end,
		"duration_seconds": b.end.Sub(b.start).Seconds(),
	})
}

// CancelSession drops a block without emitting completion, for sessions
// that end before their window does. Unknown ids are a no-op.
func (t *Timer) CancelSession(id string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if b, ok := t.blocks[id]; ok {
		b.timer.Stop()
		delete(t.blocks, id)
	}
}

// Remaining reports how long a session's block has left to run.
func (t *Timer) Remaining(id string) (time.Duration, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	b, ok := t.blocks[id]
	if !ok {
		return 0, false
	}
	left := b.end.Sub(t.now())
	if left < 0 {
		left = 0
	}
	return left, true
}

// Stop cancels every outstanding block. No completion events fire after
// Stop returns.
func (t *Timer) Stop() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.closed = true
	for id, b := range t.blocks {
		b.timer.Stop()
		delete(t.blocks, id)
	}
}
