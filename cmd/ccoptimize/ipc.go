// ipc.go defines the daemon side of the local status protocol and the
// response types shared with the CLI subcommands.
package main

import (
	"time"

	"github.com/Organized-AI/claude-code-optimize-sub000/internal/coordinator"
	"github.com/Organized-AI/claude-code-optimize-sub000/internal/detector"
	"github.com/Organized-AI/claude-code-optimize-sub000/internal/ipc"
)

// ///////////////////////////////////////////////
// Response Types
// ///////////////////////////////////////////////

// statusResponse is the OpStatus reply: daemon identity plus the live
// detection and coordination snapshots.
type statusResponse struct {
	Version      string             `json:"version"`
	StartedAt    time.Time          `json:"started_at"`
	Detection    detector.Status    `json:"detection"`
	Coordination coordinator.Status `json:"coordination"`
}

// sessionsResponse is the OpSessions reply: completed sessions, oldest first.
type sessionsResponse struct {
	Sessions []coordinator.Session `json:"sessions"`
}

// ///////////////////////////////////////////////
// Daemon Handler
// ///////////////////////////////////////////////

// daemonStart is recorded once at process start for uptime reporting.
var daemonStart = time.Now()

// handleIPC answers one decoded request frame. Ping frames never reach here;
// the server answers those itself.
func (d *daemon) handleIPC(op ipc.Opcode, _ []byte) (any, error) {
	switch op {
	case ipc.OpStatus:
		return statusResponse{
			Version:      resolveVersion(),
			StartedAt:    daemonStart,
			Detection:    d.detector.CurrentStatus(),
			Coordination: d.coord.CoordinationStatus(),
		}, nil
	case ipc.OpSessions:
		return sessionsResponse{Sessions: d.coord.History()}, nil
	default:
		return nil, ipc.ErrUnknownOpcode
	}
}
