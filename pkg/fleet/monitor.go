package fleet

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"sync"
	"time"

	"github.com/woodwosj/OdooDevMCP/pkg/settings"
)

const monitorLogPrefix = "fleet:monitor"

const (
	defaultHeartbeatInterval = 60 * time.Second
	identityCheckTimeout     = 60 * time.Second
)

// Monitor drives the periodic heartbeat and detects hostname changes.
//
// The server id embeds the hostname, so comparing ids against themselves
// can never notice a rename. Instead the live hostname is compared
// against the persisted marker (mcp.last_hostname) at two trigger
// points: the first health-surface hit after process start, and every
// heartbeat tick. Both triggers may race; at most two registrations
// result and registration is idempotent on the receiver.
type Monitor struct {
	client   *Client
	settings *settings.Settings

	checkOnce sync.Once
}

// NewMonitor creates a Monitor for the given client.
func NewMonitor(client *Client, st *settings.Settings) *Monitor {
	return &Monitor{client: client, settings: st}
}

// Run ticks heartbeats until ctx is cancelled. Each tick re-checks the
// hostname before pushing so a rename is registered ahead of the
// heartbeat that would otherwise advertise a brand-new server id.
func (m *Monitor) Run(ctx context.Context) error {
	interval := m.settings.Seconds(ctx, settings.KeyHeartbeatInterval, defaultHeartbeatInterval)
	if interval <= 0 {
		interval = defaultHeartbeatInterval
	}

	slog.Info(fmt.Sprintf("%s - Heartbeat loop started (every %s)", monitorLogPrefix, interval))
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			slog.Info(fmt.Sprintf("%s - Heartbeat loop stopped", monitorLogPrefix))
			return nil
		case <-ticker.C:
			m.tick(ctx)
		}
	}
}

func (m *Monitor) tick(ctx context.Context) {
	m.checkHostname(ctx)

	if err := m.client.Heartbeat(ctx); err != nil && !errors.Is(err, ErrDisabled) {
		// Already logged by the client; a missed beat heals next tick.
		return
	}
}

// TriggerIdentityCheck runs the hostname check in a background goroutine,
// once per process. Wired to the health endpoint so liveness latency
// never depends on the registration target being reachable.
func (m *Monitor) TriggerIdentityCheck() {
	m.checkOnce.Do(func() {
		go func() {
			ctx, cancel := context.WithTimeout(context.Background(), identityCheckTimeout)
			defer cancel()
			m.checkHostname(ctx)
		}()
	})
}

// checkHostname compares the live hostname against the stored marker and
// re-registers on mismatch (including an empty marker). The marker is
// updated even when registration fails so one bad attempt does not
// retrigger on every subsequent tick; the next natural heartbeat carries
// current data regardless.
func (m *Monitor) checkHostname(ctx context.Context) {
	current, err := os.Hostname()
	if err != nil {
		slog.Warn(fmt.Sprintf("%s - Cannot read hostname: %v", monitorLogPrefix, err))
		return
	}

	last := m.settings.String(ctx, settings.KeyLastHostname, "")
	if current == last {
		return
	}

	slog.Info(fmt.Sprintf("%s - Hostname changed from %q to %q, triggering registration",
		monitorLogPrefix, last, current))

	if err := m.client.Register(ctx); err != nil && !errors.Is(err, ErrDisabled) {
		slog.Warn(fmt.Sprintf("%s - Registration after hostname change failed: %v", monitorLogPrefix, err))
	}
	if err := m.settings.Set(ctx, settings.KeyLastHostname, current); err != nil {
		slog.Warn(fmt.Sprintf("%s - Failed to update hostname marker: %v", monitorLogPrefix, err))
	}
}
