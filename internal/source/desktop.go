package source

import (
	"os"
	"strings"
	"time"
)

// ///////////////////////////////////////////////
// Confidence Policy
// ///////////////////////////////////////////////

// Desktop confidence requires corroboration between independent OS-level
// signals: a merely-running-but-idle app should not look like a session.
const (
	desktopAllSignalsConfidence  = 0.95 // process + app-data writes + focused window
	desktopTwoSignalsConfidence  = 0.90 // process + one corroborating signal
	desktopProcessOnlyConfidence = 0.80

	// desktopActivityWindow is how recent an app-data write must be to count
	// as a corroborating signal.
	desktopActivityWindow = 30 * time.Second
)

// ///////////////////////////////////////////////
// DesktopSource
// ///////////////////////////////////////////////

// DesktopSource detects Claude desktop app usage from three independently
// checked signals: the app process, recent writes in its app-data
// directories, and OS-reported foreground-window identity.
type DesktopSource struct {
	prober      Prober
	patterns    []string
	dataDirs    []string
	windowHints []string

	now func() time.Time
}

// NewDesktopSource creates the desktop activity source.
func NewDesktopSource(prober Prober, processPatterns, dataDirs, windowHints []string) *DesktopSource {
	return &DesktopSource{
		prober:      prober,
		patterns:    processPatterns,
		dataDirs:    dataDirs,
		windowHints: windowHints,
		now:         time.Now,
	}
}

// Name returns the canonical source identifier.
func (s *DesktopSource) Name() string { return NameDesktop }

// DetectActivity reports desktop activity for this poll. Without a running
// process the other signals are not consulted.
func (s *DesktopSource) DetectActivity() Signal {
	now := s.now()

	proc := s.prober.ProcessRunning(s.patterns)
	if !proc.OK {
		return Inactive(NameDesktop)
	}

	fsRecent, fsTime := s.appDataActivity(now)
	windowMatch, windowName := s.foregroundMatches()

	confidence := desktopProcessOnlyConfidence
	switch {
	case fsRecent && windowMatch:
		confidence = desktopAllSignalsConfidence
	case fsRecent || windowMatch:
		confidence = desktopTwoSignalsConfidence
	}

	ts := now
	if fsRecent {
		ts = fsTime
	}

	return Signal{
		Source:     NameDesktop,
		Active:     true,
		Confidence: confidence,
		Timestamp:  ts,
		Metadata: map[string]any{
			"process":        proc.Detail,
			"appdata_recent": fsRecent,
			"window_match":   windowMatch,
			"window":         windowName,
		},
	}
}

// appDataActivity reports whether any file directly under the app-data
// directories was modified within the activity window, and the newest such
// modification time. Unreadable directories are skipped.
func (s *DesktopSource) appDataActivity(now time.Time) (bool, time.Time) {
	var newest time.Time
	for _, dir := range s.dataDirs {
		entries, err := os.ReadDir(dir)
		if err != nil {
			continue
		}
		for _, e := range entries {
			info, err := e.Info()
			if err != nil {
				continue
			}
			if info.ModTime().After(newest) {
				newest = info.ModTime()
			}
		}
	}
	if newest.IsZero() || now.Sub(newest) > desktopActivityWindow {
		return false, time.Time{}
	}
	return true, newest
}

// foregroundMatches reports whether the frontmost application matches one of
// the configured window hints. Probe failure is a clean negative.
func (s *DesktopSource) foregroundMatches() (bool, string) {
	p := s.prober.ForegroundApp()
	if !p.OK || p.Detail == "" {
		return false, ""
	}
	name := strings.ToLower(p.Detail)
	for _, hint := range s.windowHints {
		if strings.Contains(name, strings.ToLower(hint)) {
			return true, p.Detail
		}
	}
	return false, p.Detail
}
