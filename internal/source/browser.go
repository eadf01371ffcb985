package source

import "time"

// browserConfidence is the fixed confidence when both browser signals hold.
// This channel is inherently the least precise — there is no access to page
// or tab content — so it is capped below the other sources.
const browserConfidence = 0.85

// ///////////////////////////////////////////////
// BrowserSource
// ///////////////////////////////////////////////

// BrowserSource detects browser-based Claude usage from the combination of a
// running browser process and an active outbound HTTPS connection.
type BrowserSource struct {
	prober   Prober
	patterns []string

	now func() time.Time
}

// NewBrowserSource creates the browser activity source.
func NewBrowserSource(prober Prober, browserPatterns []string) *BrowserSource {
	return &BrowserSource{
		prober:   prober,
		patterns: browserPatterns,
		now:      time.Now,
	}
}

// Name returns the canonical source identifier.
func (s *BrowserSource) Name() string { return NameBrowser }

// DetectActivity reports browser activity for this poll. Both checks must
// hold; either probe failing is treated as a clean negative.
func (s *BrowserSource) DetectActivity() Signal {
	proc := s.prober.ProcessRunning(s.patterns)
	if !proc.OK {
		return Inactive(NameBrowser)
	}

	conn := s.prober.HTTPSConnection()
	if !conn.OK {
		return Inactive(NameBrowser)
	}

	return Signal{
		Source:     NameBrowser,
		Active:     true,
		Confidence: browserConfidence,
		Timestamp:  s.now(),
		Metadata: map[string]any{
			"process":    proc.Detail,
			"connection": conn.Detail,
		},
	}
}
