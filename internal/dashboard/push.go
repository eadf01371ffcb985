// Package dashboard pushes coordination status snapshots to an external
// dashboard endpoint.
//
// The core pipeline exposes status on a pull basis; this pusher is the thin
// bridge for deployments that want the dashboard fed over HTTP instead.
// Delivery is best effort with bounded retries; a down dashboard never
// affects detection.
package dashboard

import (
	"bytes"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/hashicorp/go-retryablehttp"

	"github.com/Organized-AI/claude-code-optimize-sub000/internal/coordinator"
)

// DefaultPushInterval is how often a snapshot is pushed.
const DefaultPushInterval = 30 * time.Second

// StatusFunc supplies the snapshot to push. Wired to
// [coordinator.Coordinator.CoordinationStatus].
type StatusFunc func() coordinator.Status

// Pusher periodically POSTs status snapshots to one endpoint.
type Pusher struct {
	url      string
	interval time.Duration
	status   StatusFunc
	client   *retryablehttp.Client

	done     chan struct{}
	wg       sync.WaitGroup
	stopOnce sync.Once
}

// New creates a pusher for the given endpoint. A zero interval uses the
// default.
func New(url string, interval time.Duration, status StatusFunc) *Pusher {
	if interval <= 0 {
		interval = DefaultPushInterval
	}

	client := retryablehttp.NewClient()
	client.RetryMax = 2
	client.HTTPClient.Timeout = 5 * time.Second
	client.Logger = nil // suppress retryablehttp's default logging

	return &Pusher{
		url:      url,
		interval: interval,
		status:   status,
		client:   client,
		done:     make(chan struct{}),
	}
}

// Start launches the push loop.
func (p *Pusher) Start() {
	p.wg.Add(1)
	go p.loop()
	slog.Info("dashboard push started", "url", p.url, "interval", p.interval)
}

// Stop flags the loop to exit and waits for it.
func (p *Pusher) Stop() {
	p.stopOnce.Do(func() { close(p.done) })
	p.wg.Wait()
}

func (p *Pusher) loop() {
	defer p.wg.Done()

	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	for {
		select {
		case <-p.done:
			return
		case <-ticker.C:
			if err := p.Push(); err != nil {
				slog.Warn("dashboard push failed", "error", err)
			}
		}
	}
}

// Push delivers one snapshot immediately.
func (p *Pusher) Push() error {
	body, err := json.Marshal(p.status())
	if err != nil {
		return fmt.Errorf("encoding status: %w", err)
	}

	req, err := retryablehttp.NewRequest(http.MethodPost, p.url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("building request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := p.client.Do(req)
	if err != nil {
		return fmt.Errorf("posting status: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("dashboard returned %s", resp.Status)
	}
	return nil
}
