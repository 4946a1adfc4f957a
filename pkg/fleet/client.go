package fleet

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/woodwosj/OdooDevMCP/pkg/settings"
)

const clientLogPrefix = "fleet:client"

const (
	defaultServerPort  = 8768
	defaultRetryCount  = 3
	defaultPushTimeout = 5 * time.Second
)

// ErrDisabled reports that no receiver URL is configured. A disabled
// client performs no network I/O; callers distinguish this from an
// attempted-and-failed push with errors.Is.
var ErrDisabled = errors.New("phone-home disabled (no receiver URL configured)")

// Options configures a Client.
type Options struct {
	Settings *settings.Settings
	// Capabilities returns the live tool names advertised in every push.
	// New tools appear in the payload with no client change.
	Capabilities func() []string

	Database    string
	Version     string
	OdooVersion string
	// Stage tags the deployment (e.g. Odoo.sh sets ODOO_STAGE); empty
	// when unset.
	Stage string
}

// Client pushes registration and heartbeat messages to the configured
// receiver. The receiver URL, retry budget, and push timeout are read
// from the settings store on every push so operator changes take effect
// without a restart.
type Client struct {
	settings     *settings.Settings
	capabilities func() []string
	database     string
	version      string
	odooVersion  string
	stage        string

	httpClient *http.Client
	startedAt  time.Time

	// backoffUnit scales the 2^attempt retry backoff; one second in
	// production, shrunk by tests.
	backoffUnit time.Duration
}

// NewClient creates a fleet client. Uptime reported in heartbeats is
// measured from this call.
func NewClient(opts Options) *Client {
	capabilities := opts.Capabilities
	if capabilities == nil {
		capabilities = func() []string { return nil }
	}
	return &Client{
		settings:     opts.Settings,
		capabilities: capabilities,
		database:     opts.Database,
		version:      opts.Version,
		odooVersion:  opts.OdooVersion,
		stage:        opts.Stage,
		httpClient:   &http.Client{},
		startedAt:    time.Now(),
		backoffUnit:  time.Second,
	}
}

// ServerID returns the identity this client registers under, derived
// from the database name and the live hostname.
func (c *Client) ServerID() string {
	return ServerID(c.database, CurrentNetworkInfo(context.Background()).Hostname)
}

// BuildPayload assembles the identity payload for a push. Shared by
// Register and Heartbeat so the two push kinds never drift.
func (c *Client) BuildPayload(ctx context.Context) Payload {
	info := CurrentNetworkInfo(ctx)
	port := c.settings.Int(ctx, settings.KeyServerPort, defaultServerPort)

	return Payload{
		ServerID:     ServerID(c.database, info.Hostname),
		Hostname:     info.Hostname,
		IPAddresses:  IPAddresses{Primary: info.Primary, All: info.All},
		Port:         port,
		Transport:    Transport,
		Version:      c.version,
		OdooVersion:  c.odooVersion,
		Database:     c.database,
		Capabilities: c.capabilities(),
		OdooStage:    c.stage,
	}
}

type registerBody struct {
	Payload
	StartedAt string `json:"started_at"`
}

type heartbeatBody struct {
	Payload
	Status        string  `json:"status"`
	Timestamp     string  `json:"timestamp"`
	UptimeSeconds float64 `json:"uptime_seconds"`
}

// Register pushes the identity payload to {base}/register, retrying with
// exponential backoff (2^attempt seconds between attempts). Returns
// ErrDisabled without any I/O when no receiver URL is configured; after
// the retry budget is exhausted the failure is logged at error level and
// returned, never panicked past this boundary.
func (c *Client) Register(ctx context.Context) error {
	baseURL := c.settings.String(ctx, settings.KeyPhoneHomeURL, "")
	if baseURL == "" {
		slog.Info(fmt.Sprintf("%s - Phone-home disabled (no URL configured)", clientLogPrefix))
		return ErrDisabled
	}

	payload := c.BuildPayload(ctx)
	body := registerBody{
		Payload:   payload,
		StartedAt: utcTimestamp(),
	}

	retryCount := c.settings.Int(ctx, settings.KeyPhoneHomeRetryCount, defaultRetryCount)
	if retryCount < 1 {
		retryCount = 1
	}
	timeout := c.settings.Seconds(ctx, settings.KeyPhoneHomeTimeout, defaultPushTimeout)
	registerURL := strings.TrimRight(baseURL, "/") + "/register"

	var lastErr error
	for attempt := 0; attempt < retryCount; attempt++ {
		lastErr = c.post(ctx, registerURL, body, timeout)
		if lastErr == nil {
			slog.Info(fmt.Sprintf("%s - Successfully registered server %s at %s:%d",
				clientLogPrefix, payload.ServerID, payload.IPAddresses.Primary, payload.Port))
			return nil
		}
		slog.Warn(fmt.Sprintf("%s - Registration attempt %d failed: %v", clientLogPrefix, attempt+1, lastErr))

		if attempt < retryCount-1 {
			backoff := time.Duration(1<<uint(attempt)) * c.backoffUnit
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(backoff):
			}
		}
	}

	slog.Error(fmt.Sprintf("%s - Registration failed after %d attempts", clientLogPrefix, retryCount))
	return fmt.Errorf("%s - registration failed after %d attempts: %w", clientLogPrefix, retryCount, lastErr)
}

// Heartbeat pushes a liveness message to {base}/heartbeat. No retry: a
// missed heartbeat self-heals on the next tick.
func (c *Client) Heartbeat(ctx context.Context) error {
	baseURL := c.settings.String(ctx, settings.KeyPhoneHomeURL, "")
	if baseURL == "" {
		return ErrDisabled
	}

	body := heartbeatBody{
		Payload:       c.BuildPayload(ctx),
		Status:        "healthy",
		Timestamp:     utcTimestamp(),
		UptimeSeconds: time.Since(c.startedAt).Seconds(),
	}

	timeout := c.settings.Seconds(ctx, settings.KeyPhoneHomeTimeout, defaultPushTimeout)
	heartbeatURL := strings.TrimRight(baseURL, "/") + "/heartbeat"

	if err := c.post(ctx, heartbeatURL, body, timeout); err != nil {
		slog.Warn(fmt.Sprintf("%s - Heartbeat failed: %v", clientLogPrefix, err))
		return err
	}
	slog.Debug(fmt.Sprintf("%s - Heartbeat sent successfully", clientLogPrefix))
	return nil
}

// post sends one JSON POST bounded by timeout. 200 and 201 count as
// delivered; anything else is an error.
func (c *Client) post(ctx context.Context, url string, body interface{}, timeout time.Duration) error {
	data, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("encoding payload: %w", err)
	}

	reqCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(reqCtx, http.MethodPost, url, bytes.NewReader(data))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, resp.Body)

	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusCreated {
		return fmt.Errorf("HTTP %d", resp.StatusCode)
	}
	return nil
}

func utcTimestamp() string {
	return time.Now().UTC().Format(time.RFC3339)
}
