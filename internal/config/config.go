// Package config provides configuration loading and defaults for the
// ccoptimize daemon.
//
// Configuration is loaded from a TOML file in the user's data directory.
// The package covers detection cadence and source tuning, validation
// thresholds, coordinator housekeeping, token tracking, dashboard push,
// persistence, and logging, with sensible defaults throughout.
package config

//go:generate go run ../../cmd/genconfig

import (
	"bytes"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/bmatcuk/doublestar/v4"

	"github.com/Organized-AI/claude-code-optimize-sub000/internal/atomicfile"
	"github.com/Organized-AI/claude-code-optimize-sub000/internal/migrate"
	"github.com/Organized-AI/claude-code-optimize-sub000/internal/paths"
)

// ///////////////////////////////////////////////
// Configuration Types
// ///////////////////////////////////////////////

// Config represents the top-level application configuration.
type Config struct {
	// Version is the config schema version used for migrations.
	Version int `toml:"version"`
	// Detection holds polling cadence and source settings.
	Detection DetectionConfig `toml:"detection"`
	// Validation holds confidence thresholds and gate settings.
	Validation ValidationConfig `toml:"validation"`
	// Coordinator holds session lifecycle and housekeeping settings.
	Coordinator CoordinatorConfig `toml:"coordinator"`
	// Timer holds tracking-block settings.
	Timer TimerConfig `toml:"timer"`
	// Token holds token accounting settings.
	Token TokenConfig `toml:"token"`
	// Dashboard holds status push settings.
	Dashboard DashboardConfig `toml:"dashboard"`
	// Store holds persistence settings.
	Store StoreConfig `toml:"store"`
	// Log holds logging settings.
	Log LogConfig `toml:"log"`
}

// DetectionConfig holds polling cadence and activity-source settings.
type DetectionConfig struct {
	// PollIntervalMS is the detector poll interval in milliseconds.
	PollIntervalMS int `toml:"poll_interval_ms"`
	// ProjectsDir overrides the Claude Code projects directory watched for
	// conversation activity. Empty uses ~/.claude/projects.
	ProjectsDir string `toml:"projects_dir,omitempty"`
	// Ignore is a list of glob patterns for conversation files excluded
	// from activity detection.
	Ignore []string `toml:"ignore"`
	// EnableDesktop toggles the desktop app activity source.
	EnableDesktop bool `toml:"enable_desktop"`
	// EnableBrowser toggles the browser activity source.
	EnableBrowser bool `toml:"enable_browser"`
}

// ValidationConfig holds confidence thresholds and timer-gate settings.
type ValidationConfig struct {
	// Strict selects the 0.90 timer-start bar instead of 0.80.
	Strict bool `toml:"strict"`
	// TimestampToleranceSeconds is the cross-source spread that still
	// counts as full agreement.
	TimestampToleranceSeconds int `toml:"timestamp_tolerance_seconds"`
	// MinConfidence is the validity threshold.
	MinConfidence float64 `toml:"min_confidence"`
	// HistorySize bounds the validation history ring buffer.
	HistorySize int `toml:"history_size"`
}

// CoordinatorConfig holds session lifecycle and housekeeping settings.
type CoordinatorConfig struct {
	// HistorySize bounds the completed-session ring buffer.
	HistorySize int `toml:"history_size"`
	// HousekeepingIntervalSeconds is the stale-session sweep cadence.
	HousekeepingIntervalSeconds int `toml:"housekeeping_interval_seconds"`
	// StaleAfterHours force-completes sessions older than this.
	StaleAfterHours int `toml:"stale_after_hours"`
}

// TimerConfig holds tracking-block settings.
type TimerConfig struct {
	// BlockHours is the tracking block length.
	BlockHours int `toml:"block_hours"`
}

// TokenConfig holds token accounting settings.
type TokenConfig struct {
	// PollIntervalSeconds is how often usage files are re-read.
	PollIntervalSeconds int `toml:"poll_interval_seconds"`
	// Format controls token count formatting in CLI output: "short" or "full".
	Format string `toml:"format"`
}

// DashboardConfig holds status push settings.
type DashboardConfig struct {
	// Enabled toggles pushing status snapshots to an external dashboard.
	Enabled bool `toml:"enabled"`
	// URL is the dashboard ingest endpoint.
	URL string `toml:"url,omitempty"`
	// PushIntervalSeconds is the snapshot push cadence.
	PushIntervalSeconds int `toml:"push_interval_seconds"`
}

// StoreConfig holds persistence settings.
type StoreConfig struct {
	// Enabled toggles persisting completed sessions and source reliability
	// to the local SQLite database.
	Enabled bool `toml:"enabled"`
}

// LogConfig holds logging settings.
type LogConfig struct {
	// Level is the minimum log level (trace, debug, info, warn, error).
	Level string `toml:"level"`
	// MaxSizeMB is the maximum log file size in megabytes before rotation.
	MaxSizeMB int `toml:"max_size_mb"`
}

// ///////////////////////////////////////////////
// Default Configuration
// ///////////////////////////////////////////////

// DefaultConfig returns a Config populated with sensible defaults.
func DefaultConfig() *Config {
	return &Config{
		Version: migrate.Config.CurrentVersion,
		Detection: DetectionConfig{
			PollIntervalMS: 500,
			Ignore:         []string{},
			EnableDesktop:  true,
			EnableBrowser:  true,
		},
		Validation: ValidationConfig{
			Strict:                    true,
			TimestampToleranceSeconds: 10,
			MinConfidence:             0.70,
			HistorySize:               100,
		},
		Coordinator: CoordinatorConfig{
			HistorySize:                 100,
			HousekeepingIntervalSeconds: 60,
			StaleAfterHours:             6,
		},
		Timer: TimerConfig{
			BlockHours: 5,
		},
		Token: TokenConfig{
			PollIntervalSeconds: 2,
			Format:              "short",
		},
		Dashboard: DashboardConfig{
			Enabled:             false,
			PushIntervalSeconds: 30,
		},
		Store: StoreConfig{
			Enabled: true,
		},
		Log: LogConfig{
			Level:     "info",
			MaxSizeMB: 10,
		},
	}
}

// ///////////////////////////////////////////////
// Example Configuration
// ///////////////////////////////////////////////

// ExampleConfig returns a Config suitable for generating config.default.toml.
// For this project all defaults are good examples.
func ExampleConfig() *Config {
	return DefaultConfig()
}

// ///////////////////////////////////////////////
// PeekVersion
// ///////////////////////////////////////////////

// PeekVersion reads just the version field from raw TOML bytes.
// Returns 1 if the version field is missing or zero.
func PeekVersion(data []byte) int {
	var v struct {
		Version int `toml:"version"`
	}
	if err := toml.Unmarshal(data, &v); err != nil {
		return 1
	}
	if v.Version == 0 {
		return 1
	}
	return v.Version
}

// ///////////////////////////////////////////////
// Loading and Saving
// ///////////////////////////////////////////////

// Load reads and parses the configuration file from dataDir/config.toml.
// If the file doesn't exist, returns DefaultConfig.
func Load(dataDir string) (*Config, error) {
	path := filepath.Join(dataDir, paths.ConfigFile)

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return DefaultConfig(), nil
		}
		return nil, fmt.Errorf("read config file: %w", err)
	}

	version := PeekVersion(data)

	// Apply migrations if needed
	shouldMigrate := version != migrate.Config.CurrentVersion
	if shouldMigrate {
		// Write backup before migration
		if backupErr := os.WriteFile(path+".bak", data, 0o644); backupErr != nil {
			slog.Warn("failed to write config backup", "error", backupErr)
		}
		var migrateErr error
		data, _, migrateErr = migrate.Config.Run(data, version)
		if migrateErr != nil {
			return nil, fmt.Errorf("migrate config: %w", migrateErr)
		}
	}

	cfg := DefaultConfig()
	if err := toml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}
	cfg.Version = migrate.Config.CurrentVersion

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validate config: %w", err)
	}

	// Re-save after migration
	if shouldMigrate {
		if err := cfg.Save(path); err != nil {
			slog.Warn("failed to save migrated config", "error", err)
		}
	}

	return cfg, nil
}

// Save writes the config to disk as TOML using atomic file write.
func (c *Config) Save(path string) error {
	var buf bytes.Buffer
	enc := toml.NewEncoder(&buf)
	if err := enc.Encode(c); err != nil {
		return fmt.Errorf("encoding config: %w", err)
	}
	return atomicfile.Write(path, buf.Bytes(), 0o644)
}

// ///////////////////////////////////////////////
// Validation
// ///////////////////////////////////////////////

// validLogLevels is the set of accepted log level strings.
var validLogLevels = map[string]bool{
	"trace": true, "debug": true, "info": true, "warn": true, "error": true,
}

// Validate checks that all configuration values are within acceptable ranges.
func (c *Config) Validate() error {
	if c.Detection.PollIntervalMS <= 0 {
		return fmt.Errorf("poll_interval_ms must be > 0, got %d", c.Detection.PollIntervalMS)
	}

	if c.Validation.TimestampToleranceSeconds <= 0 {
		return fmt.Errorf("timestamp_tolerance_seconds must be > 0, got %d", c.Validation.TimestampToleranceSeconds)
	}

	if c.Validation.MinConfidence <= 0 || c.Validation.MinConfidence > 1 {
		return fmt.Errorf("min_confidence must be in (0, 1], got %g", c.Validation.MinConfidence)
	}

	if c.Validation.HistorySize <= 0 {
		return fmt.Errorf("validation history_size must be > 0, got %d", c.Validation.HistorySize)
	}

	if c.Coordinator.HistorySize <= 0 {
		return fmt.Errorf("coordinator history_size must be > 0, got %d", c.Coordinator.HistorySize)
	}

	if c.Coordinator.HousekeepingIntervalSeconds <= 0 {
		return fmt.Errorf("housekeeping_interval_seconds must be > 0, got %d", c.Coordinator.HousekeepingIntervalSeconds)
	}

	if c.Coordinator.StaleAfterHours <= c.Timer.BlockHours {
		return fmt.Errorf("stale_after_hours (%d) must exceed block_hours (%d)",
			c.Coordinator.StaleAfterHours, c.Timer.BlockHours)
	}

	if c.Timer.BlockHours <= 0 {
		return fmt.Errorf("block_hours must be > 0, got %d", c.Timer.BlockHours)
	}

	if c.Token.PollIntervalSeconds <= 0 {
		return fmt.Errorf("token poll_interval_seconds must be > 0, got %d", c.Token.PollIntervalSeconds)
	}

	switch c.Token.Format {
	case "short", "full":
	default:
		return fmt.Errorf("invalid token.format %q: must be short or full", c.Token.Format)
	}

	if c.Dashboard.Enabled && c.Dashboard.URL == "" {
		return fmt.Errorf("dashboard.url is required when dashboard.enabled is true")
	}

	if c.Dashboard.PushIntervalSeconds <= 0 {
		return fmt.Errorf("push_interval_seconds must be > 0, got %d", c.Dashboard.PushIntervalSeconds)
	}

	if !validLogLevels[strings.ToLower(c.Log.Level)] {
		return fmt.Errorf("invalid log.level %q: must be trace, debug, info, warn, or error", c.Log.Level)
	}

	return nil
}

// ///////////////////////////////////////////////
// Derived Durations
// ///////////////////////////////////////////////

// PollInterval returns the detector cadence as a duration.
func (c *Config) PollInterval() time.Duration {
	return time.Duration(c.Detection.PollIntervalMS) * time.Millisecond
}

// TimestampTolerance returns the validation tolerance as a duration.
func (c *Config) TimestampTolerance() time.Duration {
	return time.Duration(c.Validation.TimestampToleranceSeconds) * time.Second
}

// HousekeepingInterval returns the sweep cadence as a duration.
func (c *Config) HousekeepingInterval() time.Duration {
	return time.Duration(c.Coordinator.HousekeepingIntervalSeconds) * time.Second
}

// StaleAfter returns the force-completion age as a duration.
func (c *Config) StaleAfter() time.Duration {
	return time.Duration(c.Coordinator.StaleAfterHours) * time.Hour
}

// BlockDuration returns the tracking block length as a duration.
func (c *Config) BlockDuration() time.Duration {
	return time.Duration(c.Timer.BlockHours) * time.Hour
}

// TokenPollInterval returns the usage poll cadence as a duration.
func (c *Config) TokenPollInterval() time.Duration {
	return time.Duration(c.Token.PollIntervalSeconds) * time.Second
}

// PushInterval returns the dashboard push cadence as a duration.
func (c *Config) PushInterval() time.Duration {
	return time.Duration(c.Dashboard.PushIntervalSeconds) * time.Second
}

// ///////////////////////////////////////////////
// Detection Helpers
// ///////////////////////////////////////////////

// IsIgnored reports whether a conversation file path matches any of the
// configured ignore patterns.
func (c *Config) IsIgnored(path string) bool {
	for _, pattern := range c.Detection.Ignore {
		matched, err := doublestar.Match(pattern, path)
		if err != nil {
			slog.Warn("invalid glob pattern", "pattern", pattern, "error", err)
			continue
		}
		if matched {
			return true
		}
	}
	return false
}

// ///////////////////////////////////////////////
// Formatting Helpers
// ///////////////////////////////////////////////

// FormatTokens formats a token count according to the configured format.
func (c *Config) FormatTokens(tokens int64) string {
	switch c.Token.Format {
	case "full":
		return FormatWithCommas(tokens)
	default: // "short"
		return FormatShort(tokens)
	}
}

// FormatShort formats a number in abbreviated form: 1M, 1.5M, 234K, 500.
// Exact multiples omit the decimal: 1000 → "1K", 2000000 → "2M".
func FormatShort(n int64) string {
	switch {
	case n >= 1_000_000:
		val := float64(n) / 1_000_000
		if val == float64(int64(val)) {
			return fmt.Sprintf("%dM", int64(val))
		}
		return fmt.Sprintf("%.1fM", val)
	case n >= 1_000:
		val := float64(n) / 1_000
		if val == float64(int64(val)) {
			return fmt.Sprintf("%dK", int64(val))
		}
		return fmt.Sprintf("%.1fK", val)
	default:
		return fmt.Sprintf("%d", n)
	}
}

// FormatWithCommas formats a number with comma separators: 1,500,000.
// Negative numbers are handled by stripping the sign, formatting, and re-adding it.
func FormatWithCommas(n int64) string {
	if n < 0 {
		return "-" + FormatWithCommas(-n)
	}
	s := fmt.Sprintf("%d", n)
	if len(s) <= 3 {
		return s
	}
	var result strings.Builder
	for i, c := range s {
		if i > 0 && (len(s)-i)%3 == 0 {
			result.WriteByte(',')
		}
		result.WriteRune(c)
	}
	return result.String()
}
