// Package main implements the ccoptimize daemon and CLI, which detects
// Claude Code usage sessions across sources, validates them, and tracks
// usage blocks against subscription limits.
package main

import (
	"fmt"
	"os"
	"path/filepath"
	"runtime/debug"

	"github.com/spf13/cobra"

	"github.com/Organized-AI/claude-code-optimize-sub000/internal/paths"
)

// ///////////////////////////////////////////////
// Version
// ///////////////////////////////////////////////

// version is set at build time via ldflags:
//   - goreleaser: -X main.version={{.Version}}  -> "0.1.0"
//   - make build: -X main.version=$(VERSION)    -> "0.0.0-dev+05ffee5"
//
// When ldflags are not set (bare go build), resolveVersion reads the VCS info
// that Go embeds automatically, so dev builds get a useful version string
// without needing git at runtime.
var version = "dev"

// resolveVersion returns the build version string. If [version] was set via
// ldflags at build time it is returned as-is; otherwise VCS revision and dirty
// state embedded by the Go toolchain are used to construct a "dev+<hash>" tag.
func resolveVersion() string {
	if version != "dev" {
		return version
	}
	info, ok := debug.ReadBuildInfo()
	if !ok {
		return version
	}
	var revision string
	var dirty bool
	for _, s := range info.Settings {
		switch s.Key {
		case "vcs.revision":
			revision = s.Value
		case "vcs.modified":
			dirty = s.Value == "true"
		}
	}
	if revision == "" {
		return version
	}
	hash := revision[:min(7, len(revision))]
	if dirty {
		return "dev+" + hash + ".dirty"
	}
	return "dev+" + hash
}

// ///////////////////////////////////////////////
// Default Data Directory
// ///////////////////////////////////////////////

// defaultDataDir returns the platform default directory for ccoptimize data,
// typically ~/.ccoptimize. Falls back to ./.ccoptimize if the home directory
// cannot be determined.
func defaultDataDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return filepath.Join(".", paths.DataDirRel)
	}
	return filepath.Join(home, paths.DataDirRel)
}

// ///////////////////////////////////////////////
// Main
// ///////////////////////////////////////////////

func main() {
	var dataDir string

	root := &cobra.Command{
		Use:     paths.BinaryName,
		Short:   "Multi-source Claude Code session detection and block tracking",
		Version: resolveVersion(),
	}
	root.PersistentFlags().StringVar(&dataDir, "data-dir", defaultDataDir(),
		"Data directory for config, sessions, and logs")

	root.AddCommand(runCmd(&dataDir))
	root.AddCommand(statusCmd(&dataDir))
	root.AddCommand(sessionsCmd(&dataDir))
	root.AddCommand(logsCmd(&dataDir))
	root.AddCommand(&cobra.Command{
		Use:   "version",
		Short: "Print the ccoptimize version",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Println(resolveVersion())
		},
	})

	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
