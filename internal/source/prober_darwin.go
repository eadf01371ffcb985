// macOS system prober: process and frontmost-app queries via the shared
// NSWorkspace, HTTPS connection detection via a short-timeout lsof call.

//go:build darwin

package source

import (
	"bufio"
	"bytes"
	"context"
	"fmt"
	"os/exec"
	"strings"
	"time"

	"github.com/progrium/darwinkit/macos/appkit"
)

// probeTimeout bounds the subprocess calls a probe may make.
const probeTimeout = time.Second

// NewSystemProber returns the macOS prober.
func NewSystemProber() Prober {
	return &darwinProber{workspace: appkit.Workspace_SharedWorkspace()}
}

type darwinProber struct {
	workspace appkit.Workspace
}

// ProcessRunning checks the shared workspace's running applications for a
// bundle identifier or localized name matching one of the patterns.
func (p *darwinProber) ProcessRunning(patterns []string) Probe {
	apps := p.workspace.RunningApplications()

	for _, app := range apps {
		if app.Ptr() == nil {
			continue
		}
		bundleID := app.BundleIdentifier()
		localizedName := app.LocalizedName()

		for _, pattern := range patterns {
			patternLower := strings.ToLower(pattern)
			if bundleID != "" && strings.Contains(strings.ToLower(bundleID), patternLower) {
				return Probe{OK: true, Detail: bundleID}
			}
			if localizedName != "" && strings.Contains(strings.ToLower(localizedName), patternLower) {
				return Probe{OK: true, Detail: localizedName}
			}
		}
	}
	return Probe{}
}

// ForegroundApp returns the localized name of the frontmost application.
// This is the application name, not the window title; true window titles
// would require the accessibility APIs.
func (p *darwinProber) ForegroundApp() Probe {
	frontApp := p.workspace.FrontmostApplication()
	if frontApp.Ptr() == nil {
		return Probe{}
	}
	name := frontApp.LocalizedName()
	if name == "" {
		return Probe{}
	}
	return Probe{OK: true, Detail: name}
}

// HTTPSConnection checks for an established outbound TCP connection on port
// 443 using lsof. A non-zero exit with empty output is a clean negative.
func (p *darwinProber) HTTPSConnection() Probe {
	ctx, cancel := context.WithTimeout(context.Background(), probeTimeout)
	defer cancel()

	out, err := exec.CommandContext(ctx, "lsof", "-nP", "-iTCP:443", "-sTCP:ESTABLISHED").Output()
	if err != nil && len(bytes.TrimSpace(out)) == 0 {
		// lsof exits 1 when nothing matches; only treat a timeout or exec
		// failure with no output as an acquisition error.
		if ctx.Err() != nil {
			return Probe{Err: fmt.Errorf("query connections: %w", ctx.Err())}
		}
		return Probe{}
	}

	count := 0
	scanner := bufio.NewScanner(bytes.NewReader(out))
	scanner.Scan() // header row
	for scanner.Scan() {
		if strings.TrimSpace(scanner.Text()) != "" {
			count++
		}
	}
	if count == 0 {
		return Probe{}
	}
	return Probe{OK: true, Detail: fmt.Sprintf("%d established :443 connections", count)}
}
