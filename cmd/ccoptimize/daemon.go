// daemon.go implements the `run` subcommand: single-instance locking,
// component wiring, and the shutdown sequence.
package main

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	rootpkg "github.com/Organized-AI/claude-code-optimize-sub000"
	"github.com/Organized-AI/claude-code-optimize-sub000/internal/config"
	"github.com/Organized-AI/claude-code-optimize-sub000/internal/coordinator"
	"github.com/Organized-AI/claude-code-optimize-sub000/internal/dashboard"
	"github.com/Organized-AI/claude-code-optimize-sub000/internal/detector"
	"github.com/Organized-AI/claude-code-optimize-sub000/internal/ipc"
	"github.com/Organized-AI/claude-code-optimize-sub000/internal/logger"
	"github.com/Organized-AI/claude-code-optimize-sub000/internal/paths"
	"github.com/Organized-AI/claude-code-optimize-sub000/internal/source"
	"github.com/Organized-AI/claude-code-optimize-sub000/internal/store"
	"github.com/Organized-AI/claude-code-optimize-sub000/internal/timer"
	"github.com/Organized-AI/claude-code-optimize-sub000/internal/token"
	"github.com/Organized-AI/claude-code-optimize-sub000/internal/update"
	"github.com/Organized-AI/claude-code-optimize-sub000/internal/validator"
)

// ///////////////////////////////////////////////
// Process Patterns
// ///////////////////////////////////////////////

// Process-name patterns the probers match against, lowercase substrings.
var (
	cliProcessPatterns     = []string{"claude"}
	desktopProcessPatterns = []string{"claude", "claude desktop", "claude-desktop"}
	desktopWindowHints     = []string{"claude"}
	browserProcessPatterns = []string{"chrome", "firefox", "safari", "edge", "brave", "arc"}
)

// ///////////////////////////////////////////////
// PID Management
// ///////////////////////////////////////////////

// pidToken generates a random 16-character hex token used to prove ownership
// of the PID file, so [removePID] only deletes the file if this instance wrote it.
func pidToken() string {
	b := make([]byte, 8)
	_, _ = rand.Read(b)
	return hex.EncodeToString(b)
}

// writePID creates or opens the PID file at [DataPaths.PID], acquires an
// advisory file lock, and writes "PID:TOKEN" content. The returned file handle
// must be kept open for the lifetime of the daemon to hold the lock; pass it to
// [removePID] on shutdown.
func writePID(dataPaths DataPaths, token string) (*os.File, error) {
	f, err := os.OpenFile(dataPaths.PID(), os.O_CREATE|os.O_RDWR, 0o600)
	if err != nil {
		return nil, fmt.Errorf("open PID file: %w", err)
	}
	if err := lockFile(f); err != nil {
		f.Close()
		return nil, fmt.Errorf("lock PID file: %w", err)
	}
	if err := f.Truncate(0); err != nil {
		_ = unlockFile(f)
		f.Close()
		return nil, fmt.Errorf("truncate PID file: %w", err)
	}
	content := fmt.Sprintf("%d:%s", os.Getpid(), token)
	if _, err := f.WriteString(content); err != nil {
		_ = unlockFile(f)
		f.Close()
		return nil, fmt.Errorf("write PID file: %w", err)
	}
	return f, nil
}

// removePID releases the advisory lock, closes the file handle, and removes the
// PID file only if the stored token matches, preventing accidental removal of a
// file owned by a different daemon instance.
func removePID(dataPaths DataPaths, token string, f *os.File) {
	if f != nil {
		_ = unlockFile(f)
		f.Close()
	}
	data, err := os.ReadFile(dataPaths.PID())
	if err != nil {
		return
	}
	parts := strings.SplitN(string(data), ":", 2)
	if len(parts) == 2 && parts[1] == token {
		os.Remove(dataPaths.PID())
	}
}

// checkStalePID checks whether another daemon instance is running. It attempts
// to acquire the advisory lock on the PID file; if the lock fails, another
// instance holds it. If the lock succeeds, any previous instance is dead and
// the stale file is cleaned up.
func checkStalePID(dataPaths DataPaths) (alive bool, pid int) {
	f, err := os.OpenFile(dataPaths.PID(), os.O_RDWR, 0o600)
	if err != nil {
		return false, 0
	}

	if lockErr := lockFile(f); lockErr != nil {
		data, _ := os.ReadFile(dataPaths.PID())
		f.Close()
		parts := strings.SplitN(string(data), ":", 2)
		if len(parts) >= 1 {
			if p, convErr := strconv.Atoi(parts[0]); convErr == nil {
				return true, p
			}
		}
		return true, 0
	}

	// Lock acquired -- previous instance is dead. Clean up stale file.
	_ = unlockFile(f)
	f.Close()
	os.Remove(dataPaths.PID())
	return false, 0
}

// ///////////////////////////////////////////////
// Run Command
// ///////////////////////////////////////////////

func runCmd(dataDir *string) *cobra.Command {
	return &cobra.Command{
		Use:   "run",
		Short: "Run the detection daemon in the foreground",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runDaemon(DataPaths{Root: *dataDir})
		},
	}
}

// runDaemon is the daemon entry point: it acquires the single-instance lock,
// loads config, wires the detection pipeline, and blocks until a shutdown
// signal arrives.
func runDaemon(dataPaths DataPaths) error {
	if err := os.MkdirAll(dataPaths.Root, 0o755); err != nil {
		return fmt.Errorf("create data dir: %w", err)
	}

	if alive, pid := checkStalePID(dataPaths); alive {
		return fmt.Errorf("daemon already running (pid %d)", pid)
	}

	if _, err := os.Stat(dataPaths.Config()); os.IsNotExist(err) {
		if writeErr := os.WriteFile(dataPaths.Config(), rootpkg.DefaultConfigTOML, 0o644); writeErr != nil {
			fmt.Fprintf(os.Stderr, "warning: failed to write default config: %v\n", writeErr)
		}
	}

	cfg, err := config.Load(dataPaths.Root)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	logLevel := logger.ParseLevel(cfg.Log.Level)
	log, logCloser, err := logger.NewLogger(dataPaths.Log(), logLevel, cfg.Log.MaxSizeMB)
	if err != nil {
		return fmt.Errorf("init logger: %w", err)
	}
	defer logCloser.Close()
	slog.SetDefault(log)

	ver := resolveVersion()
	slog.Info("ccoptimize starting", "version", ver, "data_dir", dataPaths.Root)

	reportPreviousShutdown(dataPaths)

	go func() {
		defer func() {
			if r := recover(); r != nil {
				slog.Error("update check panic", "error", r)
			}
		}()
		update.Check(ver)
	}()

	lockToken := pidToken()
	pidFile, err := writePID(dataPaths, lockToken)
	if err != nil {
		slog.Error("failed to write PID file", "error", err)
		return err
	}
	defer removePID(dataPaths, lockToken, pidFile)

	d := buildDaemon(cfg, dataPaths)
	defer d.shutdown(dataPaths)

	d.start()
	slog.Info("detection pipeline running",
		"sources", len(d.sources),
		"strict", cfg.Validation.Strict,
	)

	<-signalChannel()
	slog.Info("received shutdown signal")
	return nil
}

// ///////////////////////////////////////////////
// Daemon Wiring
// ///////////////////////////////////////////////

// daemon bundles the running components so startup and shutdown stay in one
// place with a fixed ordering.
type daemon struct {
	sources []source.ActivitySource
	fileAct *source.FileActivity

	detector  *detector.Detector
	validator *validator.Validator
	timer     *timer.Timer
	tracker   *token.Tracker
	coord     *coordinator.Coordinator

	db     *store.Store
	pusher *dashboard.Pusher
	server *ipc.Server

	dashboardEnabled bool
}

// buildDaemon constructs and wires every component from config. Store and
// dashboard failures degrade gracefully: the pipeline runs without them.
func buildDaemon(cfg *config.Config, dataPaths DataPaths) *daemon {
	d := &daemon{dashboardEnabled: cfg.Dashboard.Enabled}

	projectsDir := cfg.Detection.ProjectsDir
	if projectsDir == "" {
		projectsDir = paths.ClaudeProjectsDir()
	}

	prober := source.NewSystemProber()
	if projectsDir != "" {
		d.fileAct = source.NewFileActivity(projectsDir, cfg.Detection.Ignore)
	}
	d.sources = append(d.sources, source.NewCLISource(d.fileAct, prober, cliProcessPatterns))
	if cfg.Detection.EnableDesktop {
		d.sources = append(d.sources, source.NewDesktopSource(
			prober, desktopProcessPatterns, paths.DesktopDataDirs(), desktopWindowHints))
	}
	if cfg.Detection.EnableBrowser {
		d.sources = append(d.sources, source.NewBrowserSource(prober, browserProcessPatterns))
	}

	d.detector = detector.New(d.sources, cfg.PollInterval())

	if cfg.Store.Enabled {
		db, dbErr := store.Open(dataPaths.DB())
		if dbErr != nil {
			slog.Warn("session store unavailable, running without persistence", "error", dbErr)
		} else {
			d.db = db
		}
	}

	vcfg := validator.Config{
		TimestampTolerance: cfg.TimestampTolerance(),
		MinConfidence:      cfg.Validation.MinConfidence,
		HistorySize:        cfg.Validation.HistorySize,
	}
	d.validator = validator.New(vcfg)
	if d.db != nil {
		if rel, relErr := d.db.LoadReliability(); relErr != nil {
			slog.Warn("failed to load source reliability", "error", relErr)
		} else if len(rel) > 0 {
			d.validator.SeedReliability(rel)
			slog.Info("restored source reliability", "sources", len(rel))
		}
	}

	d.timer = timer.New(cfg.BlockDuration())
	d.tracker = token.New(projectsDir, cfg.TokenPollInterval())

	d.coord = coordinator.New(coordinator.Config{
		StrictValidation:     cfg.Validation.Strict,
		HistorySize:          cfg.Coordinator.HistorySize,
		HousekeepingInterval: cfg.HousekeepingInterval(),
		StaleAfter:           cfg.StaleAfter(),
	}, d.validator, d.timer, d.tracker)

	if d.db != nil {
		d.coord.OnComplete(func(sess coordinator.Session) {
			if saveErr := d.db.SaveSession(sess); saveErr != nil {
				slog.Warn("failed to archive session", "session_id", sess.ID, "error", saveErr)
			}
			if relErr := d.db.SaveReliability(d.validator.Reliability()); relErr != nil {
				slog.Warn("failed to save source reliability", "error", relErr)
			}
		})
	}

	d.coord.RegisterAgent(d.detector)
	d.coord.RegisterAgent(d.timer)
	d.coord.RegisterAgent(d.tracker)

	if cfg.Dashboard.Enabled {
		d.pusher = dashboard.New(cfg.Dashboard.URL, cfg.PushInterval(), d.coord.CoordinationStatus)
	}

	d.server = ipc.NewServer(d.handleIPC)
	if listenErr := d.server.Listen(dataPaths.Endpoint()); listenErr != nil {
		slog.Warn("status endpoint unavailable", "error", listenErr)
		d.server = nil
	}

	return d
}

// start launches the background loops. The coordinator starts first so no
// collaborator event finds it unready.
func (d *daemon) start() {
	d.coord.Start()
	d.tracker.Start()
	d.detector.Start()
	if d.pusher != nil {
		d.pusher.Start()
	}
}

// shutdown stops the pipeline in reverse dependency order, persists the
// shutdown snapshot, and closes the store.
func (d *daemon) shutdown(dataPaths DataPaths) {
	if d.server != nil {
		d.server.Close()
	}
	if d.pusher != nil {
		d.pusher.Stop()
	}
	d.detector.Stop()
	d.tracker.Stop()
	d.timer.Stop()
	d.coord.Stop()

	writeSnapshot(dataPaths, d.coord.CoordinationStatus())

	if d.fileAct != nil {
		d.fileAct.Close()
	}
	if d.db != nil {
		if rel := d.validator.Reliability(); len(rel) > 0 {
			if err := d.db.SaveReliability(rel); err != nil {
				slog.Warn("failed to save source reliability", "error", err)
			}
		}
		d.db.Close()
	}
	slog.Info("ccoptimize stopped")
}
