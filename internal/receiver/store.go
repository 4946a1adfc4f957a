// Package receiver implements the fleet receiver: the HTTP service that
// accepts registration and heartbeat pushes from odoo-mcp servers and serves
// the resulting fleet inventory.
package receiver

import (
	"sort"
	"sync"
	"time"

	"github.com/woodwosj/OdooDevMCP/pkg/version"
)

// defaultHeartbeatInterval matches the pusher default. A server is
// considered stale after missing two consecutive beats.
const defaultHeartbeatInterval = 60 * time.Second

// Receiver-owned record fields.
const (
	fieldServerID       = "server_id"
	fieldRegisteredAt   = "registered_at"
	fieldLastSeen       = "last_seen"
	fieldHeartbeatCount = "heartbeat_count"
)

// Summary is one row of the fleet listing. Outdated is present only when
// the store was built with a minimum version constraint.
type Summary struct {
	ServerID       string `json:"server_id"`
	Hostname       string `json:"hostname"`
	Database       string `json:"database"`
	LastSeen       string `json:"last_seen"`
	HeartbeatCount int    `json:"heartbeat_count"`
	Stale          bool   `json:"stale"`
	Outdated       *bool  `json:"outdated,omitempty"`
}

// StoreOptions configures a Store.
type StoreOptions struct {
	// HeartbeatInterval is the expected push cadence; zero means one
	// minute. The staleness threshold is twice this.
	HeartbeatInterval time.Duration
	// MinVersion annotates listings with an outdated flag when set.
	MinVersion *version.Checker
}

// Store keeps fleet records in memory. Records carry whatever fields the
// pusher sent plus receiver metadata, so new payload fields flow through
// without a receiver release. Every read-modify-write runs under one
// mutex; records handed out are copies.
type Store struct {
	mu         sync.Mutex
	servers    map[string]map[string]interface{}
	staleAfter time.Duration
	checker    *version.Checker
	now        func() time.Time
}

// NewStore creates an empty Store.
func NewStore(opts StoreOptions) *Store {
	return NewStoreWithNow(opts, time.Now)
}

// NewStoreWithNow creates a Store with an injectable clock.
func NewStoreWithNow(opts StoreOptions, now func() time.Time) *Store {
	interval := opts.HeartbeatInterval
	if interval <= 0 {
		interval = defaultHeartbeatInterval
	}
	return &Store{
		servers:    make(map[string]map[string]interface{}),
		staleAfter: 2 * interval,
		checker:    opts.MinVersion,
		now:        now,
	}
}

// timestamp renders the clock as UTC RFC 3339 with sub-second precision.
func (s *Store) timestamp() string {
	return s.now().UTC().Format(time.RFC3339Nano)
}

// Register replaces any existing record for the pushed server_id with the
// payload plus fresh receiver metadata. The heartbeat counter restarts at
// zero. Returns a copy of the stored record.
func (s *Store) Register(payload map[string]interface{}) map[string]interface{} {
	serverID, _ := payload[fieldServerID].(string)
	now := s.timestamp()

	rec := make(map[string]interface{}, len(payload)+3)
	for k, v := range payload {
		rec[k] = v
	}
	rec[fieldRegisteredAt] = now
	rec[fieldLastSeen] = now
	rec[fieldHeartbeatCount] = 0

	s.mu.Lock()
	s.servers[serverID] = rec
	s.mu.Unlock()

	return copyRecord(rec)
}

// Heartbeat merges the pushed fields into the existing record: present
// fields overwrite, absent fields are preserved. last_seen and the counter
// advance under the same lock, so a slim heartbeat never erases what a
// richer earlier push stored. An unknown server_id creates a record, so a
// receiver restart does not orphan running servers. Reports whether the
// record was created.
func (s *Store) Heartbeat(payload map[string]interface{}) (map[string]interface{}, bool) {
	serverID, _ := payload[fieldServerID].(string)

	s.mu.Lock()
	defer s.mu.Unlock()

	rec, known := s.servers[serverID]
	if !known {
		rec = map[string]interface{}{fieldServerID: serverID}
		s.servers[serverID] = rec
	}
	prev := intField(rec, fieldHeartbeatCount)
	for k, v := range payload {
		rec[k] = v
	}
	rec[fieldLastSeen] = s.timestamp()
	rec[fieldHeartbeatCount] = prev + 1

	return copyRecord(rec), !known
}

// Get returns a copy of the full record.
func (s *Store) Get(serverID string) (map[string]interface{}, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	rec, ok := s.servers[serverID]
	if !ok {
		return nil, false
	}
	return copyRecord(rec), true
}

// Delete removes a record, returning what was removed.
func (s *Store) Delete(serverID string) (map[string]interface{}, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	rec, ok := s.servers[serverID]
	if !ok {
		return nil, false
	}
	delete(s.servers, serverID)
	return rec, true
}

// List returns one summary per record, sorted by server_id.
func (s *Store) List() []Summary {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]Summary, 0, len(s.servers))
	for serverID, rec := range s.servers {
		lastSeen := stringField(rec, fieldLastSeen)
		sum := Summary{
			ServerID:       serverID,
			Hostname:       stringField(rec, "hostname"),
			Database:       stringField(rec, "database"),
			LastSeen:       lastSeen,
			HeartbeatCount: intField(rec, fieldHeartbeatCount),
			Stale:          s.isStale(lastSeen),
		}
		if s.checker != nil {
			outdated := s.checker.Outdated(stringField(rec, "version"))
			sum.Outdated = &outdated
		}
		out = append(out, sum)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ServerID < out[j].ServerID })
	return out
}

// Count returns the number of records.
func (s *Store) Count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.servers)
}

// isStale reports whether a last_seen timestamp is older than the
// staleness threshold. Missing or unparseable timestamps count as stale.
func (s *Store) isStale(lastSeen string) bool {
	t, err := time.Parse(time.RFC3339Nano, lastSeen)
	if err != nil {
		return true
	}
	return s.now().UTC().Sub(t) > s.staleAfter
}

func copyRecord(rec map[string]interface{}) map[string]interface{} {
	out := make(map[string]interface{}, len(rec))
	for k, v := range rec {
		out[k] = v
	}
	return out
}

func stringField(rec map[string]interface{}, key string) string {
	v, _ := rec[key].(string)
	return v
}

func intField(rec map[string]interface{}, key string) int {
	switch v := rec[key].(type) {
	case int:
		return v
	case float64:
		return int(v)
	}
	return 0
}
