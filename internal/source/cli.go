package source

import (
	"time"
)

// ///////////////////////////////////////////////
// Confidence Policy
// ///////////////////////////////////////////////

// cliFreshnessTiers maps the age of the newest transcript write to a
// confidence score. Write events are the strongest, freshest evidence of
// current CLI activity; staler writes are trusted less.
var cliFreshnessTiers = []struct {
	maxAge     time.Duration
	confidence float64
}{
	{5 * time.Second, 0.98},
	{10 * time.Second, 0.95},
	{20 * time.Second, 0.90},
	{30 * time.Second, 0.80},
}

// cliProcessConfidence is the fallback confidence when no recent transcript
// write exists but a Claude CLI process is running. Process presence alone is
// weaker evidence of current activity than a write event.
const cliProcessConfidence = 0.85

// ///////////////////////////////////////////////
// CLISource
// ///////////////////////////////////////////////

// CLISource detects Claude Code CLI usage from session transcript writes,
// falling back to process enumeration when the filesystem is quiet.
type CLISource struct {
	activity *FileActivity
	prober   Prober
	patterns []string

	// now is the clock source, replaceable in tests.
	now func() time.Time
}

// NewCLISource creates the CLI activity source. activity may be nil when no
// project directory exists; detection then relies on the process probe alone.
func NewCLISource(activity *FileActivity, prober Prober, processPatterns []string) *CLISource {
	return &CLISource{
		activity: activity,
		prober:   prober,
		patterns: processPatterns,
		now:      time.Now,
	}
}

// Name returns the canonical source identifier.
func (s *CLISource) Name() string { return NameCLI }

// DetectActivity reports CLI activity for this poll. A recent transcript
// write wins over process presence; both absent means inactive.
func (s *CLISource) DetectActivity() Signal {
	now := s.now()

	if s.activity != nil {
		last, path := s.activity.LastEvent()
		if !last.IsZero() {
			age := now.Sub(last)
			for _, tier := range cliFreshnessTiers {
				if age <= tier.maxAge {
					return Signal{
						Source:     NameCLI,
						Active:     true,
						Confidence: tier.confidence,
						Timestamp:  last,
						Metadata: map[string]any{
							"signal":      "filesystem",
							"age_seconds": age.Seconds(),
							"file":        path,
						},
					}
				}
			}
		}
	}

	p := s.prober.ProcessRunning(s.patterns)
	if p.OK {
		return Signal{
			Source:     NameCLI,
			Active:     true,
			Confidence: cliProcessConfidence,
			Timestamp:  now,
			Metadata: map[string]any{
				"signal":  "process",
				"process": p.Detail,
			},
		}
	}

	return Inactive(NameCLI)
}
