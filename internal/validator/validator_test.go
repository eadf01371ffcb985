package validator

import (
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/Organized-AI/claude-code-optimize-sub000/internal/source"
)

// newTestValidator pins the clock to base so consistency scoring is
// deterministic.
func newTestValidator(t *testing.T, base time.Time) *Validator {
	t.Helper()
	v := New(Config{})
	v.now = func() time.Time { return base }
	return v
}

func activeSignal(name string, conf float64, ts time.Time) source.Signal {
	return source.Signal{Source: name, Active: true, Confidence: conf, Timestamp: ts}
}

func TestValidateSingleCLISource(t *testing.T) {
	base := time.Date(2026, 3, 14, 9, 30, 0, 0, time.UTC)
	v := newTestValidator(t, base)

	res := v.ValidateSessionStart(map[string]source.Signal{
		source.NameCLI: activeSignal(source.NameCLI, 0.95, base),
	})

	require.True(t, res.IsValid)
	// 0.95*0.4 + 1.0*0.25 + 0.905*0.25 + 0.8*0.1, no multi-source bonus.
	require.InDelta(t, 0.93625, res.Confidence, 1e-9)
	require.Equal(t, 1.0, res.SourcesAgreement)
	require.Empty(t, res.Conflicts)
	require.Equal(t, base, res.StartTimestamp)
}

func TestValidateCorroboratedSourcesHitCap(t *testing.T) {
	base := time.Date(2026, 3, 14, 9, 30, 0, 0, time.UTC)
	v := newTestValidator(t, base)

	res := v.ValidateSessionStart(map[string]source.Signal{
		source.NameCLI:     activeSignal(source.NameCLI, 0.95, base),
		source.NameDesktop: activeSignal(source.NameDesktop, 0.88, base.Add(2*time.Second)),
	})

	require.True(t, res.IsValid)
	require.Equal(t, 0.98, res.Confidence)
	require.Empty(t, res.Conflicts)

	ok, reason := v.ShouldStartTimer(res, true)
	require.True(t, ok)
	require.Contains(t, reason, "validated")
}

func TestValidateWideTimestampSpread(t *testing.T) {
	base := time.Date(2026, 3, 14, 9, 30, 0, 0, time.UTC)
	v := newTestValidator(t, base)

	res := v.ValidateSessionStart(map[string]source.Signal{
		source.NameCLI:     activeSignal(source.NameCLI, 0.95, base),
		source.NameDesktop: activeSignal(source.NameDesktop, 0.88, base.Add(40*time.Second)),
	})

	// Spread 40s is beyond 3x tolerance.
	require.InDelta(t, 0.3, res.SourcesAgreement, 1e-9)
	require.Contains(t, res.Conflicts, "timestamp_spread_high")
	require.True(t, res.IsValid, "degraded but still above the validity bar")

	ok, reason := v.ShouldStartTimer(res, true)
	require.False(t, ok)
	require.True(t, strings.HasPrefix(reason, "Critical conflicts:"), "reason = %q", reason)
	require.Contains(t, reason, "timestamp_spread_high")

	// The conflict is critical regardless of the confidence threshold mode.
	ok, reason = v.ShouldStartTimer(res, false)
	require.False(t, ok)
	require.True(t, strings.HasPrefix(reason, "Critical conflicts:"), "reason = %q", reason)
}

func TestValidateBrowserOnlyMarginal(t *testing.T) {
	base := time.Date(2026, 3, 14, 9, 30, 0, 0, time.UTC)
	v := newTestValidator(t, base)

	res := v.ValidateSessionStart(map[string]source.Signal{
		source.NameBrowser: activeSignal(source.NameBrowser, 0.85, base),
	})

	require.True(t, res.IsValid)
	// 0.85*0.4 + 0.25 + 0.70*0.25 + 0.08 = 0.845: valid, but not strict-grade.
	require.InDelta(t, 0.845, res.Confidence, 1e-9)

	ok, reason := v.ShouldStartTimer(res, true)
	require.False(t, ok)
	require.Contains(t, reason, "below required 0.90")

	ok, _ = v.ShouldStartTimer(res, false)
	require.True(t, ok)
}

func TestValidateNoDetections(t *testing.T) {
	base := time.Date(2026, 3, 14, 9, 30, 0, 0, time.UTC)
	v := newTestValidator(t, base)

	res := v.ValidateSessionStart(nil)
	require.False(t, res.IsValid)
	require.Zero(t, res.Confidence)
	require.Equal(t, []string{"no_detections"}, res.Conflicts)

	ok, reason := v.ShouldStartTimer(res, false)
	require.False(t, ok)
	require.Contains(t, reason, "Validation failed")
}

func TestValidateInactiveSignalsDropped(t *testing.T) {
	base := time.Date(2026, 3, 14, 9, 30, 0, 0, time.UTC)
	v := newTestValidator(t, base)

	res := v.ValidateSessionStart(map[string]source.Signal{
		source.NameCLI:     activeSignal(source.NameCLI, 0.95, base),
		source.NameDesktop: source.Inactive(source.NameDesktop),
		source.NameBrowser: source.Inactive(source.NameBrowser),
	})

	require.Equal(t, 1, res.Metadata["sources"])
	require.InDelta(t, 0.93625, res.Confidence, 1e-9)
}

func TestTimestampOutlierTagged(t *testing.T) {
	base := time.Date(2026, 3, 14, 9, 30, 0, 0, time.UTC)
	v := newTestValidator(t, base)

	res := v.ValidateSessionStart(map[string]source.Signal{
		source.NameCLI:     activeSignal(source.NameCLI, 0.95, base),
		source.NameDesktop: activeSignal(source.NameDesktop, 0.90, base.Add(time.Second)),
		source.NameBrowser: activeSignal(source.NameBrowser, 0.85, base.Add(25*time.Second)),
	})

	require.Contains(t, res.Conflicts, "timestamp_outlier_"+source.NameBrowser)
	require.Contains(t, res.Conflicts, "timestamp_spread_high")
}

func TestConfidenceSpreadAndLowConfidenceConflicts(t *testing.T) {
	base := time.Date(2026, 3, 14, 9, 30, 0, 0, time.UTC)
	v := newTestValidator(t, base)

	res := v.ValidateSessionStart(map[string]source.Signal{
		source.NameCLI:     activeSignal(source.NameCLI, 0.98, base),
		source.NameBrowser: activeSignal(source.NameBrowser, 0.55, base.Add(time.Second)),
	})

	require.Contains(t, res.Conflicts, "confidence_spread_high")
	require.Contains(t, res.Conflicts, "low_confidence_"+source.NameBrowser)

	ok, reason := v.ShouldStartTimer(res, false)
	require.False(t, ok)
	require.True(t, strings.HasPrefix(reason, "Critical conflicts:"), "reason = %q", reason)
}

func TestValidityBoundary(t *testing.T) {
	base := time.Date(2026, 3, 14, 9, 30, 0, 0, time.UTC)

	// Browser-only combined confidence is 0.5*conf + 0.42, so 0.58 clears
	// the 0.70 bar and 0.50 does not.
	tests := []struct {
		name  string
		conf  float64
		valid bool
	}{
		{"above bar", 0.58, true},
		{"below bar", 0.50, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			v := newTestValidator(t, base)
			res := v.ValidateSessionStart(map[string]source.Signal{
				source.NameBrowser: activeSignal(source.NameBrowser, tt.conf, base),
			})
			require.Equal(t, tt.valid, res.IsValid, "confidence %.4f", res.Confidence)
		})
	}
}

func TestTooManyConflictsRejected(t *testing.T) {
	v := New(Config{})
	res := Result{
		IsValid:    true,
		Confidence: 0.92,
		Conflicts:  []string{"confidence_spread_high", "timestamp_outlier_a", "timestamp_outlier_b"},
	}

	ok, reason := v.ShouldStartTimer(res, true)
	require.False(t, ok)
	require.Contains(t, reason, "Too many conflicts (3)")
}

func TestWeightedStartTimestampLeansTowardReliableSource(t *testing.T) {
	base := time.Date(2026, 3, 14, 9, 30, 0, 0, time.UTC)
	v := newTestValidator(t, base)

	res := v.ValidateSessionStart(map[string]source.Signal{
		source.NameCLI:     activeSignal(source.NameCLI, 0.95, base),
		source.NameDesktop: activeSignal(source.NameDesktop, 0.88, base.Add(10*time.Second)),
	})

	offset := res.StartTimestamp.Sub(base)
	require.Greater(t, offset, time.Duration(0))
	require.Less(t, offset, 5*time.Second, "start should lean toward the CLI timestamp")
}

func TestConsistencyPenalizesRapidDetections(t *testing.T) {
	base := time.Date(2026, 3, 14, 9, 30, 0, 0, time.UTC)
	v := newTestValidator(t, base)

	// Six detections five seconds apart: by the sixth, history shows
	// sustained flapping.
	var last Result
	for i := 0; i < 6; i++ {
		ts := base.Add(time.Duration(i) * 5 * time.Second)
		v.now = func() time.Time { return ts }
		last = v.ValidateSessionStart(map[string]source.Signal{
			source.NameCLI: activeSignal(source.NameCLI, 0.95, ts),
		})
	}

	require.InDelta(t, 0.6, last.Metadata["consistency_score"].(float64), 1e-9)
}

func TestConsistencyCleanHistory(t *testing.T) {
	base := time.Date(2026, 3, 14, 9, 30, 0, 0, time.UTC)
	v := newTestValidator(t, base)

	var last Result
	for i := 0; i < 6; i++ {
		ts := base.Add(time.Duration(i) * 5 * time.Minute)
		v.now = func() time.Time { return ts }
		last = v.ValidateSessionStart(map[string]source.Signal{
			source.NameCLI: activeSignal(source.NameCLI, 0.95, ts),
		})
	}

	require.InDelta(t, 1.0, last.Metadata["consistency_score"].(float64), 1e-9)
}

func TestUpdateSourceReliabilityEMA(t *testing.T) {
	v := New(Config{})

	v.UpdateSourceReliability(source.NameCLI, 0.5)
	require.InDelta(t, 0.905, v.Reliability()[source.NameCLI], 1e-9)

	// Unknown sources start from the neutral prior.
	v.UpdateSourceReliability("custom_agent", 1.0)
	require.InDelta(t, 0.55, v.Reliability()["custom_agent"], 1e-9)

	// Observed values are clamped into [0, 1].
	v.UpdateSourceReliability(source.NameBrowser, 5.0)
	require.InDelta(t, 0.73, v.Reliability()[source.NameBrowser], 1e-9)
}

func TestSeedReliability(t *testing.T) {
	v := New(Config{})
	v.SeedReliability(map[string]float64{source.NameBrowser: 0.9, "beyond": 1.5})

	rel := v.Reliability()
	require.Equal(t, 0.9, rel[source.NameBrowser])
	require.Equal(t, 1.0, rel["beyond"])
	require.Equal(t, 0.95, rel[source.NameCLI], "unmentioned sources keep their seed")
}

func TestHistoryBounded(t *testing.T) {
	base := time.Date(2026, 3, 14, 9, 30, 0, 0, time.UTC)
	v := New(Config{HistorySize: 3})
	v.now = func() time.Time { return base }

	for i := 0; i < 5; i++ {
		v.ValidateSessionStart(map[string]source.Signal{
			source.NameCLI: activeSignal(source.NameCLI, 0.95, base),
		})
	}

	require.Len(t, v.History(), 3)
	require.Equal(t, 5, v.TotalValidations())
}

func TestHistoryRecordedAfterScoring(t *testing.T) {
	base := time.Date(2026, 3, 14, 9, 30, 0, 0, time.UTC)
	v := newTestValidator(t, base)

	res := v.ValidateSessionStart(map[string]source.Signal{
		source.NameCLI: activeSignal(source.NameCLI, 0.95, base),
	})

	// The first result never sees itself in history: with zero prior
	// validations the consistency score is the low-evidence default.
	require.InDelta(t, 0.8, res.Metadata["consistency_score"].(float64), 1e-9)
	require.Len(t, v.History(), 1)
}
