// Package paths centralizes file and directory names used across the project.
// All data directory file names are defined here as the single source of truth.
package paths

import (
	"os"
	"path/filepath"
	"runtime"
)

// ///////////////////////////////////////////////
// Constants
// ///////////////////////////////////////////////

// Data directory file names.
const (
	PIDFile      = "daemon.pid"
	ConfigFile   = "config.toml"
	LogFile      = "daemon.log"
	SessionsDB   = "sessions.db"
	SocketFile   = "daemon.sock"
	SnapshotFile = "coordinator-state.json"
)

// Daemon identity constants.
const (
	BinaryName = "ccoptimize"
	DataDirRel = ".ccoptimize" // relative to $HOME
	// PipeName is the Windows named pipe for the local status IPC.
	PipeName = `\\.\pipe\ccoptimize`
	// ReleaseManifest is the repo-relative path of the version manifest the
	// update check fetches from the main branch.
	ReleaseManifest = ".release-manifest.json"
)

// ///////////////////////////////////////////////
// DataDir
// ///////////////////////////////////////////////

// DataDir provides path construction methods rooted at a data directory.
type DataDir struct {
	Root string
}

// PID returns the full path to the PID file.
func (d DataDir) PID() string { return filepath.Join(d.Root, PIDFile) }

// Config returns the full path to the config file.
func (d DataDir) Config() string { return filepath.Join(d.Root, ConfigFile) }

// Log returns the full path to the log file.
func (d DataDir) Log() string { return filepath.Join(d.Root, LogFile) }

// DB returns the full path to the session archive database.
func (d DataDir) DB() string { return filepath.Join(d.Root, SessionsDB) }

// Socket returns the full path to the local IPC socket.
func (d DataDir) Socket() string { return filepath.Join(d.Root, SocketFile) }

// Snapshot returns the full path to the persisted coordinator snapshot.
func (d DataDir) Snapshot() string { return filepath.Join(d.Root, SnapshotFile) }

// Endpoint returns the local IPC endpoint address: the named pipe on
// Windows, the data-directory unix socket elsewhere.
func (d DataDir) Endpoint() string {
	if runtime.GOOS == "windows" {
		return PipeName
	}
	return d.Socket()
}

// ///////////////////////////////////////////////
// Claude Code Locations
// ///////////////////////////////////////////////

// ClaudeProjectsDir returns the directory where Claude Code writes per-project
// session transcripts (~/.claude/projects). Returns empty string when the home
// directory cannot be determined.
func ClaudeProjectsDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ""
	}
	return filepath.Join(home, ".claude", "projects")
}

// DesktopDataDirs returns the platform-specific application data directories
// for the Claude desktop app, most likely first. Directories that do not exist
// are still returned; callers stat them per poll.
func DesktopDataDirs() []string {
	home, err := os.UserHomeDir()
	if err != nil {
		return nil
	}
	switch runtime.GOOS {
	case "darwin":
		return []string{
			filepath.Join(home, "Library", "Application Support", "Claude"),
			filepath.Join(home, "Library", "Caches", "Claude"),
		}
	case "windows":
		if appData := os.Getenv("APPDATA"); appData != "" {
			return []string{filepath.Join(appData, "Claude")}
		}
		return nil
	default:
		return []string{
			filepath.Join(home, ".config", "Claude"),
			filepath.Join(home, ".local", "share", "Claude"),
		}
	}
}
