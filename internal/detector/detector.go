// Package detector merges the activity sources into a single session
// detection stream.
//
// The [Detector] polls every registered [source.ActivitySource] on a fixed
// cadence, merges the per-source signals into one snapshot, and drives the
// none/active transition for the process: exactly one of session_start,
// session_update, or session_end is emitted per poll through the agent
// callback contract. Validation and the richer session state machine belong
// to the coordinator layer, not here.
package detector

import (
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/Organized-AI/claude-code-optimize-sub000/internal/agent"
	"github.com/Organized-AI/claude-code-optimize-sub000/internal/source"
)

// ///////////////////////////////////////////////
// Constants
// ///////////////////////////////////////////////

const (
	// Name is the agent identifier the detector reports under.
	Name = "detector"

	// DefaultPollInterval keeps end-to-end detection latency well under the
	// 5s target.
	DefaultPollInterval = 500 * time.Millisecond

	// corroborationBoost multiplies the best single-source confidence when
	// two or more sources agree.
	corroborationBoost = 1.1

	// maxConfidence caps merged confidence; certainty is never claimed.
	maxConfidence = 0.98

	// stopTimeout bounds how long Stop waits for the poll loop to exit.
	stopTimeout = 2 * time.Second
)

// Event type names emitted through the agent callback.
const (
	EventSessionStart  = "session_start"
	EventSessionUpdate = "session_update"
	EventSessionEnd    = "session_end"
)

// ///////////////////////////////////////////////
// Snapshot
// ///////////////////////////////////////////////

// Snapshot is the merged view of one poll iteration.
type Snapshot struct {
	// Active reports whether any source sees a session.
	Active bool
	// Confidence is the merged confidence across active sources.
	Confidence float64
	// Timestamp is the earliest evidence time among active sources — the
	// session began when the first signal fired, not the last.
	Timestamp time.Time
	// Sources lists the active source names in query order.
	Sources []string
	// Signals holds the active per-source signals keyed by source name.
	Signals map[string]source.Signal
}

// ///////////////////////////////////////////////
// Detector
// ///////////////////////////////////////////////

// Detector polls the activity sources and emits session lifecycle events.
// It implements [agent.Reportable].
type Detector struct {
	agent.Emitter

	sources  []source.ActivitySource
	interval time.Duration

	// now is the clock source, replaceable in tests.
	now func() time.Time

	mu sync.Mutex
	// sessionID is non-empty while a session is considered active.
	sessionID string
	// sessionStart is the merged start timestamp of the active session.
	sessionStart time.Time
	// lastSnapshot is the most recent merged snapshot.
	lastSnapshot Snapshot

	done     chan struct{}
	wg       sync.WaitGroup
	stopOnce sync.Once
}

// New creates a detector over the given sources. Sources are queried in the
// order given, every poll, so merge results are deterministic within an
// iteration.
func New(sources []source.ActivitySource, pollInterval time.Duration) *Detector {
	if pollInterval <= 0 {
		pollInterval = DefaultPollInterval
	}
	return &Detector{
		sources:  sources,
		interval: pollInterval,
		now:      time.Now,
		done:     make(chan struct{}),
	}
}

// Name returns the agent identifier.
func (d *Detector) Name() string { return Name }

// Start launches the polling loop.
func (d *Detector) Start() {
	d.wg.Add(1)
	go d.loop()
}

// Stop flags the loop to exit and waits for it with a bounded timeout.
func (d *Detector) Stop() {
	d.stopOnce.Do(func() { close(d.done) })

	finished := make(chan struct{})
	go func() {
		d.wg.Wait()
		close(finished)
	}()
	select {
	case <-finished:
	case <-time.After(stopTimeout):
		slog.Warn("detector loop did not stop within timeout")
	}
}

// loop runs Poll on the configured cadence until stopped. A failure inside
// one iteration is recovered and logged; a single bad iteration must never
// terminate detection.
func (d *Detector) loop() {
	defer d.wg.Done()

	ticker := time.NewTicker(d.interval)
	defer ticker.Stop()

	for {
		select {
		case <-d.done:
			return
		case <-ticker.C:
			d.safePoll()
		}
	}
}

// safePoll runs one poll iteration with panic recovery.
func (d *Detector) safePoll() {
	defer func() {
		if r := recover(); r != nil {
			slog.Error("detection iteration failed", "panic", r)
		}
	}()
	d.Poll()
}

// Poll queries every source once, merges the signals, and emits the
// resulting lifecycle event, if any. Exported so tests and callers can drive
// detection without the background loop.
func (d *Detector) Poll() {
	signals := make([]source.Signal, 0, len(d.sources))
	for _, s := range d.sources {
		signals = append(signals, s.DetectActivity())
	}
	snap := merge(signals)
	d.transition(snap)
}

// merge folds per-source signals into a single snapshot. Corroboration by a
// second source boosts confidence above any single source, capped near
// certainty; a single active source passes through unchanged.
func merge(signals []source.Signal) Snapshot {
	snap := Snapshot{Signals: make(map[string]source.Signal)}

	var maxConf float64
	for _, sig := range signals {
		if !sig.Active {
			continue
		}
		snap.Sources = append(snap.Sources, sig.Source)
		snap.Signals[sig.Source] = sig
		if sig.Confidence > maxConf {
			maxConf = sig.Confidence
		}
		if !sig.Timestamp.IsZero() && (snap.Timestamp.IsZero() || sig.Timestamp.Before(snap.Timestamp)) {
			snap.Timestamp = sig.Timestamp
		}
	}

	switch len(snap.Sources) {
	case 0:
		return snap
	case 1:
		snap.Confidence = maxConf
	default:
		snap.Confidence = min(maxConfidence, maxConf*corroborationBoost)
	}
	snap.Active = true
	return snap
}

// transition applies the merged snapshot to the none/active state and emits
// the corresponding event.
func (d *Detector) transition(snap Snapshot) {
	d.mu.Lock()
	wasActive := d.sessionID != ""

	switch {
	case snap.Active && !wasActive:
		d.sessionID = newSessionID(d.now())
		d.sessionStart = snap.Timestamp
		if d.sessionStart.IsZero() {
			d.sessionStart = d.now()
		}
		d.lastSnapshot = snap
		id, start := d.sessionID, d.sessionStart
		d.mu.Unlock()

		slog.Info("session detected", "session_id", id, "confidence", snap.Confidence, "sources", snap.Sources)
		d.Emit(EventSessionStart, d.payload(id, start, snap))

	case snap.Active && wasActive:
		d.lastSnapshot = snap
		id, start := d.sessionID, d.sessionStart
		d.mu.Unlock()

		d.Emit(EventSessionUpdate, d.payload(id, start, snap))

	case !snap.Active && wasActive:
		id, start := d.sessionID, d.sessionStart
		d.sessionID = ""
		d.sessionStart = time.Time{}
		d.lastSnapshot = snap
		d.mu.Unlock()

		duration := d.now().Sub(start)
		slog.Info("session ended", "session_id", id, "duration", duration)
		data := agent.Payload{
			"session_id":       id,
			"start_time":       start,
			"duration_seconds": duration.Seconds(),
		}
		d.Emit(EventSessionEnd, data)

	default:
		d.lastSnapshot = snap
		d.mu.Unlock()
	}
}

// payload builds the event payload for start/update events.
func (d *Detector) payload(id string, start time.Time, snap Snapshot) agent.Payload {
	return agent.Payload{
		"session_id": id,
		"confidence": snap.Confidence,
		"timestamp":  snap.Timestamp,
		"start_time": start,
		"sources":    append([]string(nil), snap.Sources...),
		"signals":    snap.Signals,
	}
}

// newSessionID mints a session identifier from the current epoch
// milliseconds.
func newSessionID(now time.Time) string {
	return fmt.Sprintf("session_%d", now.UnixMilli())
}

// ///////////////////////////////////////////////
// Status
// ///////////////////////////////////////////////

// Status is the detector's externally visible state.
type Status struct {
	SessionActive bool      `json:"session_active"`
	SessionID     string    `json:"session_id,omitempty"`
	SessionStart  time.Time `json:"session_start,omitzero"`
	Confidence    float64   `json:"confidence"`
	Sources       []string  `json:"sources,omitempty"`
}

// CurrentStatus returns a copy of the detector's current state.
func (d *Detector) CurrentStatus() Status {
	d.mu.Lock()
	defer d.mu.Unlock()
	return Status{
		SessionActive: d.sessionID != "",
		SessionID:     d.sessionID,
		SessionStart:  d.sessionStart,
		Confidence:    d.lastSnapshot.Confidence,
		Sources:       append([]string(nil), d.lastSnapshot.Sources...),
	}
}
