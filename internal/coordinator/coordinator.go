// Package coordinator owns the per-session state machine and routes events
// between the detector, validator, and downstream collaborators.
//
// A session progresses detecting → validating → active → completing →
// completed, with rejected as the terminal outcome of a failed validation.
// The [Coordinator] is an explicit object constructed once per process;
// there is no ambient registry, so tests build isolated instances.
//
// Event handlers execute on the emitting collaborator's goroutine and must
// stay sub-second; everything the coordinator does per event is in-memory
// map manipulation plus one synchronous validator call on session start.
package coordinator

import (
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/Organized-AI/claude-code-optimize-sub000/internal/agent"
	"github.com/Organized-AI/claude-code-optimize-sub000/internal/detector"
	"github.com/Organized-AI/claude-code-optimize-sub000/internal/source"
	"github.com/Organized-AI/claude-code-optimize-sub000/internal/validator"
)

// ///////////////////////////////////////////////
// Constants
// ///////////////////////////////////////////////

const (
	// ActivationConfidence is the validated-confidence bar a session must
	// clear to go active, separate from the validator's validity bar.
	ActivationConfidence = 0.90

	// DefaultHistorySize bounds the completed-session ring buffer.
	DefaultHistorySize = 100

	// DefaultHousekeepingInterval is the stale-session sweep cadence.
	DefaultHousekeepingInterval = time.Minute

	// DefaultStaleAfter force-completes sessions older than any legitimate
	// five-hour block.
	DefaultStaleAfter = 6 * time.Hour

	// precisionThreshold normalizes the timestamp-precision accuracy factor.
	precisionThreshold = 5 * time.Second

	stopTimeout = 2 * time.Second
)

// requiredAgents is the full corroboration set used by the accuracy score.
var requiredAgents = []string{"detection", "validation", "timer", "token"}

// ///////////////////////////////////////////////
// Session State
// ///////////////////////////////////////////////

// State is a session's position in the lifecycle.
type State string

const (
	StateDetecting  State = "detecting"
	StateValidating State = "validating"
	StateActive     State = "active"
	StateCompleting State = "completing"
	StateCompleted  State = "completed"
	StateRejected   State = "rejected"
)

// TokenUsage accumulates the token counts a token collaborator reports for
// one session.
type TokenUsage struct {
	InputTokens              int64 `json:"input_tokens"`
	OutputTokens             int64 `json:"output_tokens"`
	CacheCreationInputTokens int64 `json:"cache_creation_input_tokens"`
	CacheReadInputTokens     int64 `json:"cache_read_input_tokens"`
}

// Session is the per-session context. The coordinator is the single writer;
// external callers only ever see copies.
type Session struct {
	ID         string    `json:"id"`
	State      State     `json:"state"`
	StartTime  time.Time `json:"start_time"`
	Confidence float64   `json:"confidence"`
	// Sources lists the detection sources that contributed, used to feed
	// reliability updates at completion.
	Sources []string `json:"sources,omitempty"`
	// AgentsReporting is the set of collaborator kinds that have reported
	// in. It only grows while the session lives.
	AgentsReporting map[string]struct{} `json:"-"`
	// PrecisionTimestamp is the validator's weighted start timestamp,
	// compared against StartTime for the precision accuracy factor.
	PrecisionTimestamp time.Time  `json:"precision_timestamp,omitzero"`
	AccuracyScore      float64    `json:"accuracy_score"`
	Usage              TokenUsage `json:"usage"`
	// Reason records why the session reached a terminal state
	// ("timer_completed", "detected_end", "stalled", or a rejection reason).
	Reason      string    `json:"reason,omitempty"`
	CompletedAt time.Time `json:"completed_at,omitzero"`
}

// clone returns a deep copy safe to hand outside the lock.
func (s *Session) clone() Session {
	out := *s
	out.Sources = append([]string(nil), s.Sources...)
	out.AgentsReporting = make(map[string]struct{}, len(s.AgentsReporting))
	for k := range s.AgentsReporting {
		out.AgentsReporting[k] = struct{}{}
	}
	return out
}

// Agents returns the sorted set of collaborator kinds that reported in.
func (s *Session) Agents() []string {
	names := make([]string, 0, len(s.AgentsReporting))
	for name := range s.AgentsReporting {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// ///////////////////////////////////////////////
// Collaborator Contracts
// ///////////////////////////////////////////////

// SessionValidator scores candidate session starts. Satisfied by
// [validator.Validator].
type SessionValidator interface {
	ValidateSessionStart(signals map[string]source.Signal) validator.Result
	ShouldStartTimer(res validator.Result, strict bool) (bool, string)
	UpdateSourceReliability(name string, observed float64)
	Reliability() map[string]float64
}

// TimerStarter runs the tracking block for an activated session.
type TimerStarter interface {
	StartSessionTimer(sessionID string, start time.Time, res validator.Result) error
	// CancelSession releases the block when the session ends before it
	// expires. Cancelling an unknown or finished block is a no-op.
	CancelSession(sessionID string)
}

// TokenTracker runs token accounting for an activated session.
type TokenTracker interface {
	StartTracking(sessionID string, start time.Time) error
	// StopTracking releases the accounting state for a finished session.
	StopTracking(sessionID string)
}

// CompletionFunc observes every session that reaches a terminal state,
// called outside the coordinator lock. Used for archival.
type CompletionFunc func(Session)

// ///////////////////////////////////////////////
// Coordinator
// ///////////////////////////////////////////////

// Config holds the coordinator's tunables.
type Config struct {
	// StrictValidation selects the 0.90 timer gate instead of 0.80.
	StrictValidation bool
	// HistorySize bounds the completed-session ring buffer.
	HistorySize int
	// HousekeepingInterval is the stale sweep cadence.
	HousekeepingInterval time.Duration
	// StaleAfter is the age at which unfinished sessions are force-completed.
	StaleAfter time.Duration
}

func (c Config) withDefaults() Config {
	if c.HistorySize <= 0 {
		c.HistorySize = DefaultHistorySize
	}
	if c.HousekeepingInterval <= 0 {
		c.HousekeepingInterval = DefaultHousekeepingInterval
	}
	if c.StaleAfter <= 0 {
		c.StaleAfter = DefaultStaleAfter
	}
	return c
}

// Coordinator routes collaborator events through the session state machine.
type Coordinator struct {
	cfg       Config
	validator SessionValidator
	timer     TimerStarter
	token     TokenTracker

	mu       sync.Mutex
	sessions map[string]*Session
	history  []Session
	agents   map[string]agent.Reportable

	onComplete CompletionFunc

	now      func() time.Time
	done     chan struct{}
	wg       sync.WaitGroup
	stopOnce sync.Once
}

// New creates a coordinator around the given validator. Timer and token
// collaborators are optional; activation side effects are skipped when they
// are absent.
func New(cfg Config, v SessionValidator, timer TimerStarter, token TokenTracker) *Coordinator {
	return &Coordinator{
		cfg:       cfg.withDefaults(),
		validator: v,
		timer:     timer,
		token:     token,
		sessions:  make(map[string]*Session),
		agents:    make(map[string]agent.Reportable),
		now:       time.Now,
		done:      make(chan struct{}),
	}
}

// OnComplete registers fn to observe terminal sessions. Must be called
// before Start.
func (c *Coordinator) OnComplete(fn CompletionFunc) {
	c.onComplete = fn
}

// RegisterAgent wires a collaborator's events into the coordinator.
// Registering the same name twice replaces the handle but not the callback;
// collaborators are expected to be registered once.
func (c *Coordinator) RegisterAgent(r agent.Reportable) {
	name := r.Name()
	c.mu.Lock()
	_, seen := c.agents[name]
	c.agents[name] = r
	c.mu.Unlock()

	if !seen {
		r.AddCallback(func(event string, data agent.Payload) {
			c.HandleEvent(name, event, data)
		})
	}
	slog.Info("agent registered", "agent", name)
}

// Start launches the housekeeping loop.
func (c *Coordinator) Start() {
	c.wg.Add(1)
	go c.housekeepingLoop()
	slog.Info("coordinator started", "strict", c.cfg.StrictValidation)
}

// Stop flags the housekeeping loop to exit and joins it with a bounded
// timeout. Safe to call more than once.
func (c *Coordinator) Stop() {
	c.stopOnce.Do(func() { close(c.done) })

	joined := make(chan struct{})
	go func() {
		c.wg.Wait()
		close(joined)
	}()
	select {
	case <-joined:
	case <-time.After(stopTimeout):
		slog.Warn("coordinator stop timed out")
	}
}

// ///////////////////////////////////////////////
// Event Routing
// ///////////////////////////////////////////////

// HandleEvent routes one collaborator event. Unknown session ids are a
// no-op, never an error, and handlers are idempotent for repeated delivery.
func (c *Coordinator) HandleEvent(agentName, event string, data agent.Payload) {
	switch event {
	case detector.EventSessionStart:
		c.handleSessionStart(data)
	case detector.EventSessionUpdate:
		c.handleSessionUpdate(data)
	case detector.EventSessionEnd:
		c.complete(data.SessionID(), "detected_end")
	case "timer_started":
		c.markReported(data.SessionID(), "timer")
	case "timer_completed":
		c.complete(data.SessionID(), "timer_completed")
	case "session_start":
		// A token collaborator acknowledging tracking, not a detection.
		c.markReported(data.SessionID(), "token")
	case "token_usage":
		c.handleTokenUsage(data)
	case "validation_complete":
		c.markReported(data.SessionID(), "validation")
	default:
		slog.Debug("unhandled agent event", "agent", agentName, "event", event)
	}
}

// handleSessionStart creates the session context and drives it through
// validation synchronously.
func (c *Coordinator) handleSessionStart(data agent.Payload) {
	id := data.SessionID()
	if id == "" {
		id = "session_" + uuid.NewString()
		slog.Warn("session start without id, generated one", "session_id", id)
	}

	start := data.Time("start_time")
	if start.IsZero() {
		start = data.Time("timestamp")
	}
	if start.IsZero() {
		slog.Warn("session start without timestamp", "session_id", id)
		start = c.now()
	}

	c.mu.Lock()
	if _, exists := c.sessions[id]; exists {
		c.mu.Unlock()
		return
	}
	sess := &Session{
		ID:              id,
		State:           StateDetecting,
		StartTime:       start,
		Confidence:      data.Float("confidence"),
		AgentsReporting: map[string]struct{}{"detection": {}},
	}
	if sources, ok := data["sources"].([]string); ok {
		sess.Sources = append(sess.Sources, sources...)
	}
	c.sessions[id] = sess
	sess.State = StateValidating
	c.mu.Unlock()

	signals, _ := data["signals"].(map[string]source.Signal)
	res, ok, reason := c.validate(signals)

	if !ok || res.Confidence < ActivationConfidence {
		if ok {
			reason = fmt.Sprintf("Confidence %.2f below activation threshold %.2f", res.Confidence, ActivationConfidence)
		}
		slog.Info("session rejected", "session_id", id, "reason", reason)
		c.reject(id, res, reason)
		return
	}

	c.mu.Lock()
	sess, still := c.sessions[id]
	if !still {
		// Completed or swept while the validator ran.
		c.mu.Unlock()
		return
	}
	sess.State = StateActive
	sess.Confidence = res.Confidence
	sess.PrecisionTimestamp = res.StartTimestamp
	sess.AgentsReporting["validation"] = struct{}{}
	c.mu.Unlock()

	slog.Info("session active", "session_id", id, "confidence", res.Confidence, "reason", reason)

	if c.timer != nil {
		if err := c.timer.StartSessionTimer(id, start, res); err != nil {
			slog.Error("timer start failed", "session_id", id, "error", err)
		}
	}
	if c.token != nil {
		if err := c.token.StartTracking(id, start); err != nil {
			slog.Error("token tracking start failed", "session_id", id, "error", err)
		}
	}
}

// validate runs the validator and its gate, converting a validator panic
// into a rejection rather than letting it escape into the detector's loop.
func (c *Coordinator) validate(signals map[string]source.Signal) (res validator.Result, ok bool, reason string) {
	defer func() {
		if r := recover(); r != nil {
			slog.Error("validator failed", "panic", r)
			res, ok, reason = validator.Result{}, false, fmt.Sprintf("validator failure: %v", r)
		}
	}()
	res = c.validator.ValidateSessionStart(signals)
	ok, reason = c.validator.ShouldStartTimer(res, c.cfg.StrictValidation)
	return res, ok, reason
}

// reject marks the session terminal and archives it for accuracy
// bookkeeping.
func (c *Coordinator) reject(id string, res validator.Result, reason string) {
	c.mu.Lock()
	sess, ok := c.sessions[id]
	if !ok {
		c.mu.Unlock()
		return
	}
	sess.State = StateRejected
	sess.Confidence = res.Confidence
	sess.PrecisionTimestamp = res.StartTimestamp
	sess.Reason = reason
	sess.CompletedAt = c.now()
	sess.AccuracyScore = c.accuracyLocked(sess)
	delete(c.sessions, id)
	c.archiveLocked(sess)
	done := sess.clone()
	c.mu.Unlock()

	if c.onComplete != nil {
		c.onComplete(done)
	}
}

// handleSessionUpdate refreshes a known session's confidence; unknown ids
// are dropped.
func (c *Coordinator) handleSessionUpdate(data agent.Payload) {
	id := data.SessionID()

	c.mu.Lock()
	defer c.mu.Unlock()
	sess, ok := c.sessions[id]
	if !ok {
		return
	}
	if conf := data.Float("confidence"); conf > 0 {
		sess.Confidence = conf
	}
	if sources, ok := data["sources"].([]string); ok {
		sess.Sources = mergeSources(sess.Sources, sources)
	}
	sess.AgentsReporting["detection"] = struct{}{}
}

// handleTokenUsage merges a usage report into the session's token
// sub-record without changing state.
func (c *Coordinator) handleTokenUsage(data agent.Payload) {
	id := data.SessionID()

	c.mu.Lock()
	defer c.mu.Unlock()
	sess, ok := c.sessions[id]
	if !ok {
		return
	}
	if usage, ok := data["usage"].(agent.Payload); ok {
		sess.Usage.InputTokens += usage.Int("input_tokens")
		sess.Usage.OutputTokens += usage.Int("output_tokens")
		sess.Usage.CacheCreationInputTokens += usage.Int("cache_creation_input_tokens")
		sess.Usage.CacheReadInputTokens += usage.Int("cache_read_input_tokens")
	}
	sess.AgentsReporting["token"] = struct{}{}
}

// markReported set-adds a collaborator kind to a known session.
func (c *Coordinator) markReported(id, kind string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	sess, ok := c.sessions[id]
	if !ok {
		return
	}
	sess.AgentsReporting[kind] = struct{}{}
}

// complete drives a known session to its terminal completed state, computes
// the final accuracy score, archives it, and feeds the outcome back into
// source reliability.
func (c *Coordinator) complete(id, reason string) {
	c.mu.Lock()
	sess, ok := c.sessions[id]
	if !ok {
		c.mu.Unlock()
		return
	}
	sess.State = StateCompleting
	sess.AccuracyScore = c.accuracyLocked(sess)
	sess.State = StateCompleted
	sess.Reason = reason
	sess.CompletedAt = c.now()
	delete(c.sessions, id)
	c.archiveLocked(sess)
	done := sess.clone()
	c.mu.Unlock()

	slog.Info("session completed", "session_id", id, "reason", reason, "accuracy", done.AccuracyScore)

	if c.timer != nil {
		c.timer.CancelSession(id)
	}
	if c.token != nil {
		c.token.StopTracking(id)
	}
	for _, src := range done.Sources {
		c.validator.UpdateSourceReliability(src, done.AccuracyScore)
	}
	if c.onComplete != nil {
		c.onComplete(done)
	}
}

// accuracyLocked computes the session quality metric: the unweighted mean of
// confidence, corroboration completeness, and (when a precision timestamp
// exists) normalized timestamp precision. Caller holds c.mu.
func (c *Coordinator) accuracyLocked(sess *Session) float64 {
	factors := []float64{
		sess.Confidence,
		float64(len(sess.AgentsReporting)) / float64(len(requiredAgents)),
	}
	if !sess.PrecisionTimestamp.IsZero() {
		drift := sess.PrecisionTimestamp.Sub(sess.StartTime)
		if drift < 0 {
			drift = -drift
		}
		precision := 1 - drift.Seconds()/precisionThreshold.Seconds()
		if precision < 0 {
			precision = 0
		}
		factors = append(factors, precision)
	}

	var sum float64
	for _, f := range factors {
		sum += f
	}
	return sum / float64(len(factors))
}

// archiveLocked appends to the bounded history ring, oldest evicted first.
// Caller holds c.mu.
func (c *Coordinator) archiveLocked(sess *Session) {
	c.history = append(c.history, sess.clone())
	if len(c.history) > c.cfg.HistorySize {
		c.history = c.history[len(c.history)-c.cfg.HistorySize:]
	}
}

// ///////////////////////////////////////////////
// Housekeeping
// ///////////////////////////////////////////////

// housekeepingLoop sweeps for stale sessions on a fixed cadence.
func (c *Coordinator) housekeepingLoop() {
	defer c.wg.Done()

	ticker := time.NewTicker(c.cfg.HousekeepingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-c.done:
			return
		case <-ticker.C:
			c.Sweep()
		}
	}
}

// Sweep force-completes sessions that outlived any legitimate tracking
// block. A liveness safety net independent of normal event flow.
func (c *Coordinator) Sweep() {
	cutoff := c.now().Add(-c.cfg.StaleAfter)

	c.mu.Lock()
	var stale []string
	for id, sess := range c.sessions {
		if (sess.State == StateDetecting || sess.State == StateActive) && sess.StartTime.Before(cutoff) {
			stale = append(stale, id)
		}
	}
	c.mu.Unlock()

	for _, id := range stale {
		slog.Warn("force-completing stalled session", "session_id", id)
		c.complete(id, "stalled")
	}
}

// ///////////////////////////////////////////////
// Status
// ///////////////////////////////////////////////

// Status is the externally-consumed coordination snapshot.
type Status struct {
	ActiveSessions   []Session          `json:"active_sessions"`
	RegisteredAgents []string           `json:"registered_agents"`
	CompletedCount   int                `json:"completed_count"`
	MeanAccuracy     float64            `json:"mean_accuracy"`
	Reliability      map[string]float64 `json:"source_reliability"`
}

// CoordinationStatus returns a point-in-time snapshot of sessions, agents,
// and aggregate metrics.
func (c *Coordinator) CoordinationStatus() Status {
	c.mu.Lock()

	st := Status{
		ActiveSessions:   make([]Session, 0, len(c.sessions)),
		RegisteredAgents: make([]string, 0, len(c.agents)),
		CompletedCount:   len(c.history),
	}
	for _, sess := range c.sessions {
		st.ActiveSessions = append(st.ActiveSessions, sess.clone())
	}
	for name := range c.agents {
		st.RegisteredAgents = append(st.RegisteredAgents, name)
	}
	var sum float64
	for _, sess := range c.history {
		sum += sess.AccuracyScore
	}
	if len(c.history) > 0 {
		st.MeanAccuracy = sum / float64(len(c.history))
	}
	c.mu.Unlock()

	sort.Slice(st.ActiveSessions, func(i, j int) bool {
		return st.ActiveSessions[i].StartTime.Before(st.ActiveSessions[j].StartTime)
	})
	sort.Strings(st.RegisteredAgents)
	st.Reliability = c.validator.Reliability()
	return st
}

// History returns a copy of the completed-session ring, oldest first.
func (c *Coordinator) History() []Session {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]Session(nil), c.history...)
}

// ActiveSession returns a copy of one live session by id.
func (c *Coordinator) ActiveSession(id string) (Session, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	sess, ok := c.sessions[id]
	if !ok {
		return Session{}, false
	}
	return sess.clone(), true
}

// mergeSources set-merges b into a preserving order of first appearance.
func mergeSources(a, b []string) []string {
	seen := make(map[string]struct{}, len(a))
	for _, s := range a {
		seen[s] = struct{}{}
	}
	for _, s := range b {
		if _, ok := seen[s]; !ok {
			seen[s] = struct{}{}
			a = append(a, s)
		}
	}
	return a
}
