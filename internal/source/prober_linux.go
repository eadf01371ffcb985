// Linux system prober: process enumeration via /proc, HTTPS connection
// detection via /proc/net/tcp{,6}, and foreground window identity via a
// short-timeout xdotool subprocess.

//go:build linux

package source

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"strings"
	"time"
)

// probeTimeout bounds the subprocess calls a probe may make.
const probeTimeout = time.Second

// httpsPortHex is port 443 in the uppercase hex form used by /proc/net/tcp.
const httpsPortHex = "01BB"

// tcpEstablished is the /proc/net/tcp state code for ESTABLISHED.
const tcpEstablished = "01"

// NewSystemProber returns the Linux prober.
func NewSystemProber() Prober {
	return &linuxProber{}
}

type linuxProber struct{}

// ProcessRunning scans /proc for a process whose comm or cmdline contains one
// of the patterns. Processes that vanish mid-enumeration are skipped.
func (p *linuxProber) ProcessRunning(patterns []string) Probe {
	entries, err := os.ReadDir("/proc")
	if err != nil {
		return Probe{Err: fmt.Errorf("enumerate processes: %w", err)}
	}

	for _, e := range entries {
		pid, err := strconv.Atoi(e.Name())
		if err != nil || pid <= 0 {
			continue
		}
		name := processName(e.Name())
		if name == "" {
			continue
		}
		for _, pattern := range patterns {
			if strings.Contains(strings.ToLower(name), strings.ToLower(pattern)) {
				return Probe{OK: true, Detail: name}
			}
		}
	}
	return Probe{}
}

// processName reads the command name for a /proc entry, preferring comm and
// falling back to the first cmdline argument.
func processName(pid string) string {
	comm, err := os.ReadFile(filepath.Join("/proc", pid, "comm"))
	if err == nil {
		if name := strings.TrimSpace(string(comm)); name != "" {
			return name
		}
	}
	cmdline, err := os.ReadFile(filepath.Join("/proc", pid, "cmdline"))
	if err != nil || len(cmdline) == 0 {
		return ""
	}
	args := strings.Split(string(cmdline), "\x00")
	return filepath.Base(args[0])
}

// ForegroundApp asks the X server for the active window title via xdotool.
// Wayland sessions without XWayland will fail here; the failure is returned
// as a probe error, not raised.
func (p *linuxProber) ForegroundApp() Probe {
	ctx, cancel := context.WithTimeout(context.Background(), probeTimeout)
	defer cancel()

	out, err := exec.CommandContext(ctx, "xdotool", "getactivewindow", "getwindowname").Output()
	if err != nil {
		return Probe{Err: fmt.Errorf("query active window: %w", err)}
	}
	title := strings.TrimSpace(string(out))
	if title == "" {
		return Probe{}
	}
	return Probe{OK: true, Detail: title}
}

// HTTPSConnection parses /proc/net/tcp and /proc/net/tcp6 for an established
// connection whose remote port is 443.
func (p *linuxProber) HTTPSConnection() Probe {
	count := 0
	var lastErr error
	for _, table := range []string{"/proc/net/tcp", "/proc/net/tcp6"} {
		n, err := countEstablishedHTTPS(table)
		if err != nil {
			lastErr = err
			continue
		}
		count += n
	}
	if count == 0 {
		if lastErr != nil {
			return Probe{Err: lastErr}
		}
		return Probe{}
	}
	return Probe{OK: true, Detail: fmt.Sprintf("%d established :443 connections", count)}
}

// countEstablishedHTTPS counts ESTABLISHED rows with remote port 443 in one
// /proc/net table.
func countEstablishedHTTPS(path string) (int, error) {
	f, err := os.Open(path)
	if err != nil {
		return 0, fmt.Errorf("open %s: %w", path, err)
	}
	defer f.Close()

	count := 0
	scanner := bufio.NewScanner(f)
	scanner.Scan() // header row
	for scanner.Scan() {
		fields := strings.Fields(scanner.Text())
		// sl local_address rem_address st ...
		if len(fields) < 4 {
			continue
		}
		rem := fields[2]
		state := fields[3]
		if state != tcpEstablished {
			continue
		}
		idx := strings.LastIndexByte(rem, ':')
		if idx < 0 {
			continue
		}
		if strings.EqualFold(rem[idx+1:], httpsPortHex) {
			count++
		}
	}
	if err := scanner.Err(); err != nil {
		return 0, fmt.Errorf("scan %s: %w", path, err)
	}
	return count, nil
}
