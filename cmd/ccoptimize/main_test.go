package main

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/Organized-AI/claude-code-optimize-sub000/internal/coordinator"
	"github.com/Organized-AI/claude-code-optimize-sub000/internal/paths"
)

// ///////////////////////////////////////////////
// resolveVersion Tests
// ///////////////////////////////////////////////

func TestResolveVersionWithLdflags(t *testing.T) {
	// When version is set to something other than "dev", it should be returned as-is.
	original := version
	defer func() { version = original }()

	version = "1.2.3"
	got := resolveVersion()
	if got != "1.2.3" {
		t.Errorf("resolveVersion() = %q, want %q", got, "1.2.3")
	}
}

func TestResolveVersionDev(t *testing.T) {
	// When version is "dev", resolveVersion falls through to debug.ReadBuildInfo.
	// In test binaries, ReadBuildInfo may or may not return VCS info.
	// We just verify it returns a non-empty string.
	original := version
	defer func() { version = original }()

	version = "dev"
	got := resolveVersion()
	if got == "" {
		t.Error("resolveVersion() returned empty string")
	}
	// It should either be "dev" (no VCS info) or "dev+<hash>" or "dev+<hash>.dirty".
	if !strings.HasPrefix(got, "dev") {
		t.Errorf("resolveVersion() = %q, expected to start with 'dev'", got)
	}
}

// ///////////////////////////////////////////////
// defaultDataDir Tests
// ///////////////////////////////////////////////

func TestDefaultDataDir(t *testing.T) {
	got := defaultDataDir()
	if got == "" {
		t.Fatal("defaultDataDir() returned empty string")
	}
	if !strings.HasSuffix(got, paths.DataDirRel) {
		t.Errorf("defaultDataDir() = %q, expected suffix %q", got, paths.DataDirRel)
	}
}

// ///////////////////////////////////////////////
// PID Management Tests
// ///////////////////////////////////////////////

func TestPidToken_Unique(t *testing.T) {
	a := pidToken()
	b := pidToken()
	if a == b {
		t.Errorf("pidToken() returned duplicate tokens: %q", a)
	}
}

func TestPidToken_Length(t *testing.T) {
	token := pidToken()
	if len(token) != 16 {
		t.Errorf("pidToken() length = %d, want 16", len(token))
	}
}

func TestWritePID_CreatesFile(t *testing.T) {
	dataPaths := DataPaths{Root: t.TempDir()}
	token := pidToken()

	f, err := writePID(dataPaths, token)
	if err != nil {
		t.Fatalf("writePID: %v", err)
	}
	defer removePID(dataPaths, token, f)

	if _, err := os.Stat(dataPaths.PID()); err != nil {
		t.Errorf("PID file not created: %v", err)
	}
}

func TestWritePID_FileContainsPID(t *testing.T) {
	dataPaths := DataPaths{Root: t.TempDir()}
	token := pidToken()

	f, err := writePID(dataPaths, token)
	if err != nil {
		t.Fatalf("writePID: %v", err)
	}
	defer removePID(dataPaths, token, f)

	data, err := os.ReadFile(dataPaths.PID())
	if err != nil {
		t.Fatalf("read PID file: %v", err)
	}
	want := fmt.Sprintf("%d:%s", os.Getpid(), token)
	if string(data) != want {
		t.Errorf("PID file content = %q, want %q", data, want)
	}
}

func TestRemovePID_MatchingToken(t *testing.T) {
	dataPaths := DataPaths{Root: t.TempDir()}
	token := pidToken()

	f, err := writePID(dataPaths, token)
	if err != nil {
		t.Fatalf("writePID: %v", err)
	}

	removePID(dataPaths, token, f)
	if _, err := os.Stat(dataPaths.PID()); !os.IsNotExist(err) {
		t.Error("PID file should be removed when token matches")
	}
}

func TestRemovePID_MismatchedToken(t *testing.T) {
	dataPaths := DataPaths{Root: t.TempDir()}
	token := pidToken()

	f, err := writePID(dataPaths, token)
	if err != nil {
		t.Fatalf("writePID: %v", err)
	}

	removePID(dataPaths, "different-token00", f)
	if _, err := os.Stat(dataPaths.PID()); err != nil {
		t.Error("PID file should survive a mismatched token")
	}
	os.Remove(dataPaths.PID())
}

func TestRemovePID_NilFile(t *testing.T) {
	dataPaths := DataPaths{Root: t.TempDir()}
	// Must not panic with a nil file handle and no PID file on disk.
	removePID(dataPaths, pidToken(), nil)
}

func TestCheckStalePID_NoFile(t *testing.T) {
	dataPaths := DataPaths{Root: t.TempDir()}
	alive, pid := checkStalePID(dataPaths)
	if alive {
		t.Errorf("checkStalePID = (true, %d) with no PID file", pid)
	}
}

func TestCheckStalePID_StalePID(t *testing.T) {
	dataPaths := DataPaths{Root: t.TempDir()}

	// Write a PID file without holding a lock, simulating a crashed daemon.
	content := fmt.Sprintf("%d:%s", 999999, pidToken())
	if err := os.WriteFile(dataPaths.PID(), []byte(content), 0o600); err != nil {
		t.Fatalf("write stale PID file: %v", err)
	}

	alive, _ := checkStalePID(dataPaths)
	if alive {
		t.Error("checkStalePID reported a crashed daemon as alive")
	}
	if _, err := os.Stat(dataPaths.PID()); !os.IsNotExist(err) {
		t.Error("stale PID file should be cleaned up")
	}
}

// ///////////////////////////////////////////////
// Snapshot Tests
// ///////////////////////////////////////////////

func TestWriteSnapshotRoundTrip(t *testing.T) {
	dataPaths := DataPaths{Root: t.TempDir()}

	st := coordinator.Status{
		RegisteredAgents: []string{"detection", "timer", "token"},
		CompletedCount:   3,
		MeanAccuracy:     0.91,
	}
	writeSnapshot(dataPaths, st)

	data, err := os.ReadFile(dataPaths.Snapshot())
	if err != nil {
		t.Fatalf("snapshot not written: %v", err)
	}
	if !strings.Contains(string(data), `"completed_count": 3`) {
		t.Errorf("snapshot missing completed count:\n%s", data)
	}

	// The startup report must tolerate the file it just wrote.
	reportPreviousShutdown(dataPaths)
}

func TestReportPreviousShutdownMissingFile(t *testing.T) {
	// First run: no snapshot. Must be silent, not an error.
	reportPreviousShutdown(DataPaths{Root: t.TempDir()})
}

func TestReportPreviousShutdownCorruptFile(t *testing.T) {
	dataPaths := DataPaths{Root: t.TempDir()}
	if err := os.WriteFile(dataPaths.Snapshot(), []byte("{not json"), 0o644); err != nil {
		t.Fatalf("write corrupt snapshot: %v", err)
	}
	reportPreviousShutdown(dataPaths)
}

// ///////////////////////////////////////////////
// Sessions Fallback Tests
// ///////////////////////////////////////////////

func TestFetchSessionsFallsBackToArchive(t *testing.T) {
	// No daemon is listening in the test environment, so fetchSessions must
	// fall through to the archive database, creating it if needed.
	dataPaths := DataPaths{Root: t.TempDir()}

	sessions, err := fetchSessions(dataPaths, 10)
	if err != nil {
		t.Fatalf("fetchSessions: %v", err)
	}
	if len(sessions) != 0 {
		t.Errorf("expected empty archive, got %d sessions", len(sessions))
	}
	if _, err := os.Stat(dataPaths.DB()); err != nil {
		t.Errorf("archive database not created: %v", err)
	}
}

// ///////////////////////////////////////////////
// Data Dir Layout
// ///////////////////////////////////////////////

func TestDataPathsLayout(t *testing.T) {
	root := filepath.Join(string(os.PathSeparator), "tmp", "ccoptimize-test")
	dp := DataPaths{Root: root}

	checks := map[string]string{
		dp.PID():      paths.PIDFile,
		dp.Config():   paths.ConfigFile,
		dp.Log():      paths.LogFile,
		dp.DB():       paths.SessionsDB,
		dp.Snapshot(): paths.SnapshotFile,
	}
	for full, base := range checks {
		if filepath.Base(full) != base {
			t.Errorf("path %q should end in %q", full, base)
		}
		if !strings.HasPrefix(full, root) {
			t.Errorf("path %q should be rooted at %q", full, root)
		}
	}
}
