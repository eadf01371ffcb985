// Package validator scores candidate session-start detections and decides
// whether to trust them.
//
// Given the concurrent per-source signals behind one candidate session, the
// [Validator] produces a [Result]: a confidence-weighted verdict built from
// three independently testable sub-scores (timestamp agreement, source
// reliability and coverage, historical consistency) plus conflict tags. A
// separate, stricter gate — [Validator.ShouldStartTimer] — decides whether
// the verdict is strong enough to start the five-hour tracking block.
//
// Scoring is deterministic and rule-based; the tunable constants live in
// [Config]. Source reliability evolves slowly by exponential moving average
// from observed outcomes, never from inside a validation call.
package validator

import (
	"fmt"
	"math"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/Organized-AI/claude-code-optimize-sub000/internal/source"
)

// ///////////////////////////////////////////////
// Constants
// ///////////////////////////////////////////////

const (
	// DefaultTimestampTolerance is the spread between source timestamps that
	// still counts as full agreement.
	DefaultTimestampTolerance = 10 * time.Second

	// DefaultMinConfidence is the validity bar: below it a detection is
	// rejected outright.
	DefaultMinConfidence = 0.70

	// DefaultStrictConfidence is the timer-start bar in strict mode. Validity
	// and high-confidence approval are deliberately different thresholds.
	DefaultStrictConfidence = 0.90

	// DefaultRelaxedConfidence is the timer-start bar outside strict mode.
	DefaultRelaxedConfidence = 0.80

	// DefaultHistorySize bounds the validation history ring buffer.
	DefaultHistorySize = 100

	// confidenceCap is the ceiling on any combined confidence; certainty is
	// never claimed.
	confidenceCap = 0.98

	// reliabilityAlpha is the EMA smoothing factor for reliability updates.
	reliabilityAlpha = 0.1

	// confidenceSpreadLimit flags detections whose per-source confidences
	// disagree by more than this.
	confidenceSpreadLimit = 0.3

	// lowConfidenceLimit tags individual sources reporting below this.
	lowConfidenceLimit = 0.7

	// rapidChangeWindow is the gap between consecutive historical detections
	// that counts as flapping.
	rapidChangeWindow = 30 * time.Second

	// consistencyLookback is how much history the consistency score examines.
	consistencyLookback = time.Hour

	// minValidationsForConsistency is the history depth below which the
	// consistency score stays at its not-enough-evidence default.
	minValidationsForConsistency = 5
)

// Combined-confidence weights. The best single-source confidence dominates;
// the sub-scores refine it.
const (
	weightBestConfidence = 0.40
	weightTimestamp      = 0.25
	weightSource         = 0.25
	weightConsistency    = 0.10
)

// DefaultReliability seeds the per-source reliability priors. CLI file events
// are near-authoritative; browser evidence is the weakest channel.
func DefaultReliability() map[string]float64 {
	return map[string]float64{
		source.NameCLI:     0.95,
		source.NameDesktop: 0.85,
		source.NameBrowser: 0.70,
	}
}

// unknownSourceReliability is the prior for a source with no seed.
const unknownSourceReliability = 0.5

// ///////////////////////////////////////////////
// Types
// ///////////////////////////////////////////////

// Config holds the tunable validation thresholds.
type Config struct {
	// TimestampTolerance is the full-agreement spread between sources.
	TimestampTolerance time.Duration
	// MinConfidence is the validity threshold.
	MinConfidence float64
	// StrictConfidence is the timer-start threshold in strict mode.
	StrictConfidence float64
	// RelaxedConfidence is the timer-start threshold otherwise.
	RelaxedConfidence float64
	// HistorySize bounds the validation history ring buffer.
	HistorySize int
	// Reliability seeds the per-source priors; nil uses [DefaultReliability].
	Reliability map[string]float64
}

// withDefaults fills zero-valued fields.
func (c Config) withDefaults() Config {
	if c.TimestampTolerance <= 0 {
		c.TimestampTolerance = DefaultTimestampTolerance
	}
	if c.MinConfidence <= 0 {
		c.MinConfidence = DefaultMinConfidence
	}
	if c.StrictConfidence <= 0 {
		c.StrictConfidence = DefaultStrictConfidence
	}
	if c.RelaxedConfidence <= 0 {
		c.RelaxedConfidence = DefaultRelaxedConfidence
	}
	if c.HistorySize <= 0 {
		c.HistorySize = DefaultHistorySize
	}
	if c.Reliability == nil {
		c.Reliability = DefaultReliability()
	}
	return c
}

// event is one source's contribution to a validation call, derived from its
// signal. Immutable once constructed.
type event struct {
	source     string
	timestamp  time.Time
	confidence float64
}

// Result is the verdict for one validation call.
type Result struct {
	// IsValid reports whether combined confidence cleared the validity bar.
	IsValid bool `json:"is_valid"`
	// Confidence is the combined, capped confidence in [0, 0.98].
	Confidence float64 `json:"confidence"`
	// StartTimestamp is the reliability-and-confidence-weighted session
	// start time across sources.
	StartTimestamp time.Time `json:"start_timestamp"`
	// ValidationScore is the source sub-score (weighted confidence,
	// coverage, reliability).
	ValidationScore float64 `json:"validation_score"`
	// SourcesAgreement is the timestamp sub-score.
	SourcesAgreement float64 `json:"sources_agreement"`
	// Conflicts lists informational conflict tags in detection order.
	Conflicts []string `json:"conflicts,omitempty"`
	// Metadata carries the remaining sub-scores for inspection.
	Metadata map[string]any `json:"metadata,omitempty"`
}

// Validator scores candidate detections against per-source reliability
// priors and its own recent history.
type Validator struct {
	cfg Config

	mu sync.Mutex
	// reliability maps source name to its slowly-evolving prior.
	// Never reset mid-run.
	reliability map[string]float64
	// history is the bounded ring of past results, oldest first.
	history []Result
	// detectionTimes records the start timestamp of each past validation,
	// consumed by the consistency score. A result never scores against
	// itself: recording happens after scoring.
	detectionTimes []time.Time
	// total counts validations ever performed.
	total int

	// now is the clock source, replaceable in tests.
	now func() time.Time
}

// New creates a validator with the given config.
func New(cfg Config) *Validator {
	cfg = cfg.withDefaults()
	rel := make(map[string]float64, len(cfg.Reliability))
	for k, v := range cfg.Reliability {
		rel[k] = v
	}
	return &Validator{
		cfg:         cfg,
		reliability: rel,
		now:         time.Now,
	}
}

// ///////////////////////////////////////////////
// Validation
// ///////////////////////////////////////////////

// ValidateSessionStart scores a candidate session start from the per-source
// signals. Inactive sources are dropped before scoring. Zero active sources
// yields an invalid result tagged no_detections.
func (v *Validator) ValidateSessionStart(signals map[string]source.Signal) Result {
	events := activeEvents(signals, v.now())

	if len(events) == 0 {
		res := Result{
			Conflicts: []string{"no_detections"},
			Metadata:  map[string]any{"sources": 0},
		}
		v.record(res)
		return res
	}

	v.mu.Lock()
	tsScore, outliers := v.timestampScore(events)
	srcScore := v.sourceScore(events)
	consScore := v.consistencyScore()
	conflicts := v.findConflicts(events, outliers)
	start := v.weightedStartTimestamp(events)
	v.mu.Unlock()

	best := 0.0
	for _, e := range events {
		if e.confidence > best {
			best = e.confidence
		}
	}
	bonus := math.Min(0.1, 0.05*float64(len(events)-1))

	confidence := best*weightBestConfidence +
		tsScore*weightTimestamp +
		srcScore*weightSource +
		consScore*weightConsistency +
		bonus
	confidence = math.Min(confidence, confidenceCap)

	res := Result{
		IsValid:          confidence >= v.cfg.MinConfidence,
		Confidence:       confidence,
		StartTimestamp:   start,
		ValidationScore:  srcScore,
		SourcesAgreement: tsScore,
		Conflicts:        conflicts,
		Metadata: map[string]any{
			"sources":            len(events),
			"timestamp_score":    tsScore,
			"source_score":       srcScore,
			"consistency_score":  consScore,
			"multi_source_bonus": bonus,
		},
	}
	v.record(res)
	return res
}

// activeEvents converts signals into scoring events, dropping inactive
// sources and substituting now for missing timestamps.
func activeEvents(signals map[string]source.Signal, now time.Time) []event {
	names := make([]string, 0, len(signals))
	for name, sig := range signals {
		if sig.Active {
			names = append(names, name)
		}
	}
	sort.Strings(names)

	events := make([]event, 0, len(names))
	for _, name := range names {
		sig := signals[name]
		ts := sig.Timestamp
		if ts.IsZero() {
			ts = now
		}
		events = append(events, event{source: name, timestamp: ts, confidence: sig.Confidence})
	}
	return events
}

// record appends the result to the bounded history and its start time to the
// detection log, evicting oldest-first.
func (v *Validator) record(res Result) {
	v.mu.Lock()
	defer v.mu.Unlock()

	v.total++
	v.history = append(v.history, res)
	if len(v.history) > v.cfg.HistorySize {
		v.history = v.history[len(v.history)-v.cfg.HistorySize:]
	}

	ts := res.StartTimestamp
	if ts.IsZero() {
		ts = v.now()
	}
	v.detectionTimes = append(v.detectionTimes, ts)
	if len(v.detectionTimes) > v.cfg.HistorySize {
		v.detectionTimes = v.detectionTimes[len(v.detectionTimes)-v.cfg.HistorySize:]
	}
}

// ///////////////////////////////////////////////
// Sub-scores
// ///////////////////////////////////////////////

// timestampScore measures the spread between the earliest and latest source
// timestamps and flags outliers by source name. Zero or one event is
// trivially consistent.
func (v *Validator) timestampScore(events []event) (float64, []string) {
	if len(events) <= 1 {
		return 1.0, nil
	}

	times := make([]time.Time, len(events))
	for i, e := range events {
		times[i] = e.timestamp
	}
	sort.Slice(times, func(i, j int) bool { return times[i].Before(times[j]) })

	spread := times[len(times)-1].Sub(times[0])
	tol := v.cfg.TimestampTolerance

	var score float64
	switch {
	case spread <= tol:
		score = 1.0
	case spread <= 2*tol:
		score = 0.8
	case spread <= 3*tol:
		score = 0.6
	default:
		score = 0.3
	}

	var outliers []string
	if len(events) >= 3 {
		median := times[len(times)/2]
		for _, e := range events {
			if absDuration(e.timestamp.Sub(median)) > 2*tol {
				outliers = append(outliers, e.source)
			}
		}
	}
	return score, outliers
}

// sourceScore combines reliability-weighted confidence, coverage of the
// source set, and the mean reliability of the reporting sources.
func (v *Validator) sourceScore(events []event) float64 {
	var weightedSum, weightSum, relSum float64
	for _, e := range events {
		rel := v.reliabilityOf(e.source)
		weightedSum += e.confidence * rel
		weightSum += rel
		relSum += rel
	}

	weighted := 0.0
	if weightSum > 0 {
		weighted = weightedSum / weightSum
	}
	relMean := relSum / float64(len(events))
	coverage := coverageScore(events)

	return 0.4*weighted + 0.3*coverage + 0.3*relMean
}

// coverageScore rates which sources corroborate the detection. The CLI
// channel is the anchor: it alone outranks any pairing that lacks it.
func coverageScore(events []event) float64 {
	hasCLI := false
	hasDesktop := false
	for _, e := range events {
		switch e.source {
		case source.NameCLI:
			hasCLI = true
		case source.NameDesktop:
			hasDesktop = true
		}
	}

	switch {
	case len(events) >= 3:
		return 1.0
	case len(events) == 2 && hasCLI && hasDesktop:
		return 0.95
	case len(events) == 2 && hasCLI:
		return 0.85
	case len(events) >= 2:
		return 0.7
	case hasCLI:
		return 0.8
	default:
		return 0.5
	}
}

// consistencyScore compares against the rolling detection log. Too few
// validations ever means there is not enough history to judge; otherwise
// rapid consecutive detections (flapping) pull the score down.
func (v *Validator) consistencyScore() float64 {
	if v.total < minValidationsForConsistency {
		return 0.8
	}

	cutoff := v.now().Add(-consistencyLookback)
	rapid := 0
	var prev time.Time
	for _, ts := range v.detectionTimes {
		if ts.Before(cutoff) {
			continue
		}
		if !prev.IsZero() && ts.Sub(prev) < rapidChangeWindow {
			rapid++
		}
		prev = ts
	}

	switch {
	case rapid > 3:
		return 0.6
	case rapid > 1:
		return 0.8
	default:
		return 1.0
	}
}

// findConflicts tags informational issues with the detection set, in a
// stable order: spread, outliers, confidence spread, low per-source
// confidence.
func (v *Validator) findConflicts(events []event, outliers []string) []string {
	var conflicts []string

	if len(events) >= 2 {
		times := make([]time.Time, len(events))
		for i, e := range events {
			times[i] = e.timestamp
		}
		sort.Slice(times, func(i, j int) bool { return times[i].Before(times[j]) })
		if times[len(times)-1].Sub(times[0]) > 2*v.cfg.TimestampTolerance {
			conflicts = append(conflicts, "timestamp_spread_high")
		}
	}

	for _, src := range outliers {
		conflicts = append(conflicts, "timestamp_outlier_"+src)
	}

	if len(events) >= 2 {
		minConf, maxConf := events[0].confidence, events[0].confidence
		for _, e := range events[1:] {
			minConf = math.Min(minConf, e.confidence)
			maxConf = math.Max(maxConf, e.confidence)
		}
		if maxConf-minConf > confidenceSpreadLimit {
			conflicts = append(conflicts, "confidence_spread_high")
		}
	}

	for _, e := range events {
		if e.confidence < lowConfidenceLimit {
			conflicts = append(conflicts, "low_confidence_"+e.source)
		}
	}
	return conflicts
}

// weightedStartTimestamp averages per-source timestamps weighted by
// reliability × confidence. When all weights are zero it falls back to the
// most reliable, then most confident, source's timestamp.
func (v *Validator) weightedStartTimestamp(events []event) time.Time {
	var weightSum, weightedEpoch float64
	for _, e := range events {
		w := v.reliabilityOf(e.source) * e.confidence
		weightSum += w
		weightedEpoch += w * float64(e.timestamp.UnixNano())
	}
	if weightSum > 0 {
		return time.Unix(0, int64(weightedEpoch/weightSum))
	}

	best := events[0]
	for _, e := range events[1:] {
		br, er := v.reliabilityOf(best.source), v.reliabilityOf(e.source)
		if er > br || (er == br && e.confidence > best.confidence) {
			best = e
		}
	}
	return best.timestamp
}

// reliabilityOf returns the source's prior, seeding unknown sources with the
// default.
func (v *Validator) reliabilityOf(name string) float64 {
	if rel, ok := v.reliability[name]; ok {
		return rel
	}
	return unknownSourceReliability
}

// ///////////////////////////////////////////////
// Timer Gate
// ///////////////////////////////////////////////

// ShouldStartTimer decides whether a validation result is strong enough to
// start the tracking timer. The reason string is part of the contract: it is
// surfaced to operators, not just logs.
func (v *Validator) ShouldStartTimer(res Result, strict bool) (bool, string) {
	if !res.IsValid {
		return false, fmt.Sprintf("Validation failed (confidence %.2f below %.2f)", res.Confidence, v.cfg.MinConfidence)
	}

	var critical []string
	for _, c := range res.Conflicts {
		if strings.Contains(c, "low_confidence") || c == "timestamp_spread_high" {
			critical = append(critical, c)
		}
	}
	if len(critical) > 0 {
		return false, "Critical conflicts: " + strings.Join(critical, ", ")
	}

	required := v.cfg.RelaxedConfidence
	if strict {
		required = v.cfg.StrictConfidence
	}
	if res.Confidence < required {
		return false, fmt.Sprintf("Confidence %.2f below required %.2f", res.Confidence, required)
	}

	if len(res.Conflicts) > 2 {
		return false, fmt.Sprintf("Too many conflicts (%d): %s", len(res.Conflicts), strings.Join(res.Conflicts, ", "))
	}

	return true, fmt.Sprintf("Session start validated (confidence %.2f)", res.Confidence)
}

// ///////////////////////////////////////////////
// Reliability
// ///////////////////////////////////////////////

// UpdateSourceReliability folds an observed accuracy for one source into its
// prior by EMA. Called by the owning system after the fact, once ground
// truth (or a proxy) is known — never from inside a validation call.
func (v *Validator) UpdateSourceReliability(name string, observed float64) {
	observed = math.Max(0, math.Min(1, observed))

	v.mu.Lock()
	defer v.mu.Unlock()
	current, ok := v.reliability[name]
	if !ok {
		current = unknownSourceReliability
	}
	v.reliability[name] = current*(1-reliabilityAlpha) + observed*reliabilityAlpha
}

// Reliability returns a copy of the per-source reliability map.
func (v *Validator) Reliability() map[string]float64 {
	v.mu.Lock()
	defer v.mu.Unlock()
	out := make(map[string]float64, len(v.reliability))
	for k, val := range v.reliability {
		out[k] = val
	}
	return out
}

// SeedReliability overwrites priors for the given sources, used to restore
// persisted values at startup before any validation has run.
func (v *Validator) SeedReliability(rel map[string]float64) {
	v.mu.Lock()
	defer v.mu.Unlock()
	for k, val := range rel {
		v.reliability[k] = math.Max(0, math.Min(1, val))
	}
}

// History returns a copy of the bounded validation history, oldest first.
func (v *Validator) History() []Result {
	v.mu.Lock()
	defer v.mu.Unlock()
	return append([]Result(nil), v.history...)
}

// TotalValidations returns how many validations have ever run.
func (v *Validator) TotalValidations() int {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.total
}

// absDuration returns the absolute value of d.
func absDuration(d time.Duration) time.Duration {
	if d < 0 {
		return -d
	}
	return d
}
