// Package source implements the activity signal channels that feed session
// detection: Claude Code CLI file activity, the Claude desktop app, and
// browser usage.
//
// Each [ActivitySource] answers the same question on demand — is Claude in
// use right now, with what confidence, since when — from one independent
// channel of evidence. OS-level checks (process enumeration, foreground
// window, network connections) are expressed as [Probe] values: a failed
// check is a first-class "no signal" result, never a propagated error, so
// detection degrades gracefully when a probe is denied or unsupported.
package source

import (
	"errors"
	"time"
)

// ///////////////////////////////////////////////
// Source Names
// ///////////////////////////////////////////////

// Canonical source names. Validation coverage scoring and reliability priors
// key on these.
const (
	NameCLI     = "claude_code_cli"
	NameDesktop = "claude_desktop"
	NameBrowser = "claude_browser"
)

// ///////////////////////////////////////////////
// Signal
// ///////////////////////////////////////////////

// Signal is one source's answer for a single poll. Signals are ephemeral:
// recomputed every poll cycle, never persisted.
type Signal struct {
	// Source is the canonical name of the reporting source.
	Source string `json:"source"`
	// Active reports whether this source currently sees Claude usage.
	Active bool `json:"active"`
	// Confidence is the heuristic strength of the evidence, in [0,1].
	Confidence float64 `json:"confidence"`
	// Timestamp is when the supporting evidence was observed. Zero when inactive.
	Timestamp time.Time `json:"timestamp"`
	// Metadata carries per-source diagnostic detail (signal kind, process name).
	Metadata map[string]any `json:"metadata,omitempty"`
}

// Inactive returns the canonical "no signal" answer for a source.
func Inactive(name string) Signal {
	return Signal{Source: name}
}

// ///////////////////////////////////////////////
// Probe
// ///////////////////////////////////////////////

// ErrUnsupported is reported by probes with no implementation on the current
// platform.
var ErrUnsupported = errors.New("probe not supported on this platform")

// Probe is the outcome of a single OS-level check. OK means the condition
// holds; Err records why a check could not be performed. (!OK, nil Err) is a
// clean negative. Probes keep the merge logic total: acquisition failure is
// data, not control flow.
type Probe struct {
	// OK reports whether the probed condition holds.
	OK bool
	// Detail is a short human-readable description of what matched
	// (process name, window title, connection count).
	Detail string
	// Err is the acquisition failure, if the check could not run.
	Err error
}

// ///////////////////////////////////////////////
// Prober
// ///////////////////////////////////////////////

// Prober abstracts the OS queries the sources depend on, so tests can
// substitute deterministic fakes. [NewSystemProber] returns the platform
// implementation.
type Prober interface {
	// ProcessRunning checks whether any running process matches one of the
	// given case-insensitive substring patterns.
	ProcessRunning(patterns []string) Probe
	// ForegroundApp reports the identity of the frontmost application or
	// window. Detail carries the name.
	ForegroundApp() Probe
	// HTTPSConnection checks for an established outbound connection on the
	// HTTPS port.
	HTTPSConnection() Probe
}

// ///////////////////////////////////////////////
// ActivitySource
// ///////////////////////////////////////////////

// ActivitySource is one independent channel of evidence. DetectActivity is
// callable at any time, returns within a bounded latency, and is safe to call
// concurrently with other sources.
type ActivitySource interface {
	Name() string
	DetectActivity() Signal
}
