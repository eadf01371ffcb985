package config

// ///////////////////////////////////////////////
// Documentation Types
// ///////////////////////////////////////////////

// FieldDoc holds documentation and alternative examples for a single config field.
// The genconfig tool uses [FieldDoc] values to annotate the generated config.default.toml.
type FieldDoc struct {
	// Comment is shown as a header comment above the field in the example config.
	Comment string

	// Alternatives are shown as commented-out lines below the active value.
	Alternatives []string
}

// ///////////////////////////////////////////////
// Field Documentation Map
// ///////////////////////////////////////////////

// ConfigDocs maps TOML field paths (dot-separated, e.g. "validation.strict")
// to their [FieldDoc] entries. The genconfig tool uses this map to annotate the
// generated config.default.toml with inline comments and alternative examples.
var ConfigDocs = map[string]FieldDoc{
	// ── Root ──────────────────────────────────────────────────────
	"version": {
		Comment: "Config schema version — do not edit.",
	},

	// ── Detection ────────────────────────────────────────────────
	"detection.poll_interval_ms": {
		Comment: "How often activity sources are polled, in milliseconds.\nLower values detect sessions faster at slightly higher CPU cost.",
	},
	"detection.projects_dir": {
		Comment: "Override the Claude Code projects directory watched for conversation\nactivity. Leave empty to use ~/.claude/projects.",
		Alternatives: []string{
			`projects_dir = "/path/to/.claude/projects"`,
		},
	},
	"detection.ignore": {
		Comment: "Glob patterns for conversation files excluded from activity detection.\nUseful for scratch projects you don't want counted against your blocks.",
		Alternatives: []string{
			`ignore = ["**/scratch/**", "**/tmp-*.jsonl"]`,
		},
	},
	"detection.enable_desktop": {
		Comment: "Watch the Claude desktop app for activity.",
	},
	"detection.enable_browser": {
		Comment: "Watch for claude.ai browser activity.",
	},

	// ── Validation ───────────────────────────────────────────────
	"validation.strict": {
		Comment: "Strict mode requires 0.90 confidence before a tracking block starts.\nRelaxed mode (false) lowers the bar to 0.80.",
	},
	"validation.timestamp_tolerance_seconds": {
		Comment: "Cross-source timestamps within this many seconds of each other\ncount as full agreement.",
	},
	"validation.min_confidence": {
		Comment: "Detections scoring below this combined confidence are rejected outright.",
	},
	"validation.history_size": {
		Comment: "How many past validation results are kept for consistency scoring.",
	},

	// ── Coordinator ──────────────────────────────────────────────
	"coordinator.history_size": {
		Comment: "How many completed sessions are kept in the in-memory archive.",
	},
	"coordinator.housekeeping_interval_seconds": {
		Comment: "How often stalled sessions are swept.",
	},
	"coordinator.stale_after_hours": {
		Comment: "Sessions with no completion after this many hours are force-closed.\nMust exceed timer.block_hours.",
	},

	// ── Timer ────────────────────────────────────────────────────
	"timer.block_hours": {
		Comment: "Length of a usage tracking block. Claude subscription limits reset\non 5-hour windows; change this only if that ever changes.",
	},

	// ── Token ────────────────────────────────────────────────────
	"token.poll_interval_seconds": {
		Comment: "How often conversation transcripts are re-read for new token usage.",
	},
	"token.format": {
		Comment: "Token count formatting in CLI output.",
		Alternatives: []string{
			`format = "full"   # 1,500,000`,
		},
	},

	// ── Dashboard ────────────────────────────────────────────────
	"dashboard.enabled": {
		Comment: "Push coordination status snapshots to an external dashboard.",
	},
	"dashboard.url": {
		Comment: "Dashboard ingest endpoint. Required when enabled.",
		Alternatives: []string{
			`url = "http://localhost:3001/api/status"`,
		},
	},
	"dashboard.push_interval_seconds": {
		Comment: "How often snapshots are pushed.",
	},

	// ── Store ────────────────────────────────────────────────────
	"store.enabled": {
		Comment: "Persist completed sessions and source reliability to the local\nSQLite database so accuracy survives daemon restarts.",
	},

	// ── Log ──────────────────────────────────────────────────────
	"log.level": {
		Comment: "Minimum log level: trace, debug, info, warn, error.",
		Alternatives: []string{
			`level = "debug"`,
		},
	},
	"log.max_size_mb": {
		Comment: "Maximum log file size before rotation.",
	},
}
