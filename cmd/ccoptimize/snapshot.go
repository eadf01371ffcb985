// snapshot.go persists a final coordination snapshot at shutdown so the next
// startup can report what the previous instance was doing when it stopped.
package main

import (
	"encoding/json"
	"log/slog"
	"os"
	"time"

	"github.com/Organized-AI/claude-code-optimize-sub000/internal/atomicfile"
	"github.com/Organized-AI/claude-code-optimize-sub000/internal/coordinator"
	"github.com/Organized-AI/claude-code-optimize-sub000/internal/migrate"
)

// ///////////////////////////////////////////////
// Snapshot Format
// ///////////////////////////////////////////////

// shutdownSnapshot is the JSON document written to [paths.SnapshotFile].
type shutdownSnapshot struct {
	Version   int                `json:"version"`
	StoppedAt time.Time          `json:"stopped_at"`
	Daemon    string             `json:"daemon_version"`
	Status    coordinator.Status `json:"status"`
}

// writeSnapshot records the final coordination state. Failure is logged,
// never fatal; the snapshot is diagnostic only.
func writeSnapshot(dataPaths DataPaths, st coordinator.Status) {
	snap := shutdownSnapshot{
		Version:   migrate.Snapshot.CurrentVersion,
		StoppedAt: time.Now(),
		Daemon:    resolveVersion(),
		Status:    st,
	}
	if err := atomicfile.WriteJSON(dataPaths.Snapshot(), snap, 0o644); err != nil {
		slog.Warn("failed to write shutdown snapshot", "error", err)
	}
}

// reportPreviousShutdown reads the snapshot left by the previous instance,
// applying any registered snapshot migrations first, and logs a short summary.
// A missing or unreadable snapshot is normal on first run.
func reportPreviousShutdown(dataPaths DataPaths) {
	data, err := os.ReadFile(dataPaths.Snapshot())
	if err != nil {
		return
	}

	var peek struct {
		Version int `json:"version"`
	}
	if err := json.Unmarshal(data, &peek); err != nil {
		slog.Debug("unreadable shutdown snapshot", "error", err)
		return
	}
	if peek.Version != migrate.Snapshot.CurrentVersion {
		if data, _, err = migrate.Snapshot.Run(data, peek.Version); err != nil {
			slog.Debug("snapshot migration failed", "error", err)
			return
		}
	}

	var snap shutdownSnapshot
	if err := json.Unmarshal(data, &snap); err != nil {
		slog.Debug("unreadable shutdown snapshot", "error", err)
		return
	}
	slog.Info("previous shutdown",
		"stopped_at", snap.StoppedAt.Format(time.RFC3339),
		"active_sessions", len(snap.Status.ActiveSessions),
		"completed", snap.Status.CompletedCount,
	)
}
