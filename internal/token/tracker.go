// Package token parses Claude Code conversation logs for token consumption
// and reports per-session usage back to the coordinator.
//
// The [Tracker] is the token collaborator: the coordinator calls
// StartTracking when a session goes active, and the tracker emits a
// session_start acknowledgement followed by token_usage events carrying the
// usage delta observed on each poll of the session's JSONL file.
package token

import (
	"log/slog"
	"sync"
	"time"

	"github.com/Organized-AI/claude-code-optimize-sub000/internal/agent"
)

// Name is the agent identifier the tracker reports under.
const Name = "token"

// DefaultPollInterval is how often tracked usage files are re-read.
// Incremental parsing keeps each poll cheap.
const DefaultPollInterval = 2 * time.Second

// Event type names emitted through the agent callback.
const (
	EventSessionStart = "session_start"
	EventTokenUsage   = "token_usage"
)

// Tracker polls the usage file behind each active session and emits deltas.
type Tracker struct {
	agent.Emitter

	projectsDir string
	interval    time.Duration

	mu       sync.Mutex
	tracked  map[string]*trackedSession
	done     chan struct{}
	wg       sync.WaitGroup
	stopOnce sync.Once
	started  bool
}

type trackedSession struct {
	cache     *UsageCache
	startTime time.Time
	last      Usage
}

// New creates a tracker over the Claude projects directory.
func New(projectsDir string, interval time.Duration) *Tracker {
	if interval <= 0 {
		interval = DefaultPollInterval
	}
	return &Tracker{
		projectsDir: projectsDir,
		interval:    interval,
		tracked:     make(map[string]*trackedSession),
		done:        make(chan struct{}),
	}
}

// Name implements [agent.Reportable].
func (t *Tracker) Name() string { return Name }

// Start launches the polling loop.
func (t *Tracker) Start() {
	t.mu.Lock()
	if t.started {
		t.mu.Unlock()
		return
	}
	t.started = true
	t.mu.Unlock()

	t.wg.Add(1)
	go t.loop()
}

// Stop flags the loop to exit and waits for it.
func (t *Tracker) Stop() {
	t.stopOnce.Do(func() { close(t.done) })
	t.wg.Wait()
}

// StartTracking binds a session to the freshest usage file under the
// projects directory and acknowledges the session. Idempotent per session
// id; a missing usage file is logged and tracked lazily on later polls.
func (t *Tracker) StartTracking(sessionID string, start time.Time) error {
	t.mu.Lock()
	if _, exists := t.tracked[sessionID]; exists {
		t.mu.Unlock()
		return nil
	}
	ts := &trackedSession{startTime: start}
	if path, err := FindLatestUsageFile(t.projectsDir); err == nil {
		ts.cache = NewUsageCache(path)
	} else {
		slog.Warn("no usage file for session yet", "session_id", sessionID, "error", err)
	}
	t.tracked[sessionID] = ts
	t.mu.Unlock()

	slog.Info("token tracking started", "session_id", sessionID)
	t.Emit(EventSessionStart, agent.Payload{
		"session_id": sessionID,
		"start_time": start,
	})
	return nil
}

// StopTracking drops a session from the poll set. Unknown ids are a no-op.
func (t *Tracker) StopTracking(sessionID string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	delete(t.tracked, sessionID)
}

// CurrentUsage returns the last observed totals for a tracked session.
func (t *Tracker) CurrentUsage(sessionID string) (Usage, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	ts, ok := t.tracked[sessionID]
	if !ok {
		return Usage{}, false
	}
	return ts.last, true
}

// loop polls every tracked session on a fixed cadence.
func (t *Tracker) loop() {
	defer t.wg.Done()

	ticker := time.NewTicker(t.interval)
	defer ticker.Stop()

	for {
		select {
		case <-t.done:
			return
		case <-ticker.C:
			t.Poll()
		}
	}
}

// Poll re-reads every tracked usage file once and emits a token_usage event
// for each session whose totals grew. Exported so a single cycle can be
// driven directly.
func (t *Tracker) Poll() {
	t.mu.Lock()
	ids := make([]string, 0, len(t.tracked))
	for id := range t.tracked {
		ids = append(ids, id)
	}
	t.mu.Unlock()

	for _, id := range ids {
		t.pollSession(id)
	}
}

// pollSession reads one session's usage file and emits the growth since the
// previous poll. Read failures degrade to "no report this cycle."
func (t *Tracker) pollSession(id string) {
	t.mu.Lock()
	ts, ok := t.tracked[id]
	if ok && ts.cache == nil {
		// Bound lazily: the usage file may appear after the session starts.
		if path, err := FindLatestUsageFile(t.projectsDir); err == nil {
			ts.cache = NewUsageCache(path)
		}
	}
	var cache *UsageCache
	var prev Usage
	if ok && ts.cache != nil {
		cache = ts.cache
		prev = ts.last
	}
	t.mu.Unlock()

	if cache == nil {
		return
	}

	usage, err := cache.Parse()
	if err != nil {
		slog.Warn("usage poll failed", "session_id", id, "error", err)
		return
	}
	delta := usage.Delta(prev)
	if delta.Total() == 0 {
		return
	}

	t.mu.Lock()
	if ts, ok := t.tracked[id]; ok {
		ts.last = *usage
	}
	t.mu.Unlock()

	t.Emit(EventTokenUsage, agent.Payload{
		"session_id": id,
		"model":      usage.Model,
		"usage": agent.Payload{
			"input_tokens":                delta.InputTokens,
			"output_tokens":               delta.OutputTokens,
			"cache_creation_input_tokens": delta.CacheCreationTokens,
			"cache_read_input_tokens":     delta.CacheReadTokens,
		},
	})
}
