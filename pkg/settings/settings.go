// Package settings provides runtime configuration backed by a key/value
// store. Keys live under the "mcp." namespace so they can share a table
// with other application parameters without collisions.
//
// Values are stored as strings and converted on read. A missing or
// malformed value falls back to the caller-supplied default, so a
// half-populated store never takes the server down.
package settings

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"time"
)

const logPrefix = "settings"

// Prefix is the namespace prepended to every settings key.
const Prefix = "mcp."

// Well-known settings keys.
const (
	KeyServerPort          = "mcp.server_port"
	KeyPhoneHomeURL        = "mcp.phone_home_url"
	KeyPhoneHomeRetryCount = "mcp.phone_home_retry_count"
	KeyPhoneHomeTimeout    = "mcp.phone_home_timeout"
	KeyHeartbeatInterval   = "mcp.heartbeat_interval"
	KeyLastHostname        = "mcp.last_hostname"
	KeyCommandMaxTimeout   = "mcp.command_max_timeout"
	KeyQueryTimeout        = "mcp.query_timeout"
	KeyMaxResultRows       = "mcp.max_result_rows"
	KeyMaxReadSizeMB       = "mcp.max_read_size_mb"
	KeyMaxWriteSizeMB      = "mcp.max_write_size_mb"
	KeyAuditEnabled        = "mcp.audit_enabled"
	KeyAuditLogPath        = "mcp.audit_log_path"
	KeyAllowedRoots        = "mcp.allowed_roots"
)

// RateLimitKey returns the settings key holding the rate limit override
// for the given category, e.g. "mcp.rate_limit.shell".
func RateLimitKey(category string) string {
	return Prefix + "rate_limit." + category
}

// Store is the persistence contract for settings values.
//
// Get reports found=false when the key has no stored value; that is not
// an error. List returns every key/value pair whose key starts with the
// given prefix.
type Store interface {
	Get(ctx context.Context, key string) (value string, found bool, err error)
	Set(ctx context.Context, key, value string) error
	List(ctx context.Context, prefix string) (map[string]string, error)
}

// Settings wraps a Store with typed accessors. Conversion failures are
// logged and the default is returned; callers never see parse errors
// for individual values.
type Settings struct {
	store Store
}

// New creates Settings backed by the given store.
func New(store Store) *Settings {
	return &Settings{store: store}
}

// Store returns the underlying store.
func (s *Settings) Store() Store {
	return s.store
}

// String returns the value for key, or def when unset or unreadable.
func (s *Settings) String(ctx context.Context, key, def string) string {
	value, found, err := s.store.Get(ctx, key)
	if err != nil {
		slog.Warn(fmt.Sprintf("%s - read failed for %s, using default: %v", logPrefix, key, err))
		return def
	}
	if !found {
		return def
	}
	return value
}

// Int returns the value for key parsed as an integer, or def.
func (s *Settings) Int(ctx context.Context, key string, def int) int {
	raw, found, err := s.store.Get(ctx, key)
	if err != nil {
		slog.Warn(fmt.Sprintf("%s - read failed for %s, using default: %v", logPrefix, key, err))
		return def
	}
	if !found {
		return def
	}
	n, err := strconv.Atoi(strings.TrimSpace(raw))
	if err != nil {
		slog.Warn(fmt.Sprintf("%s - %s holds %q, not an integer, using default %d", logPrefix, key, raw, def))
		return def
	}
	return n
}

// Bool returns the value for key parsed as a boolean, or def. Accepted
// true spellings are "true", "1", "yes", "on" (case-insensitive); their
// counterparts parse as false. Anything else falls back to def.
func (s *Settings) Bool(ctx context.Context, key string, def bool) bool {
	raw, found, err := s.store.Get(ctx, key)
	if err != nil {
		slog.Warn(fmt.Sprintf("%s - read failed for %s, using default: %v", logPrefix, key, err))
		return def
	}
	if !found {
		return def
	}
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "true", "1", "yes", "on":
		return true
	case "false", "0", "no", "off":
		return false
	}
	slog.Warn(fmt.Sprintf("%s - %s holds %q, not a boolean, using default %t", logPrefix, key, raw, def))
	return def
}

// Seconds returns the value for key interpreted as a whole number of
// seconds, or def.
func (s *Settings) Seconds(ctx context.Context, key string, def time.Duration) time.Duration {
	fallback := int(def / time.Second)
	n := s.Int(ctx, key, fallback)
	if n < 0 {
		return def
	}
	return time.Duration(n) * time.Second
}

// Set writes a value through to the store.
func (s *Settings) Set(ctx context.Context, key, value string) error {
	return s.store.Set(ctx, key, value)
}

// All returns every setting under the "mcp." namespace.
func (s *Settings) All(ctx context.Context) (map[string]string, error) {
	return s.store.List(ctx, Prefix)
}
