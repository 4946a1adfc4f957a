// Package events defines event types and publisher interfaces for fleet change events.
package events

// Fleet change actions.
const (
	ActionRegistered = "registered"
	ActionHeartbeat  = "heartbeat"
	ActionRemoved    = "removed"
)

// FleetChangedEvent is emitted when a server's fleet membership record changes.
type FleetChangedEvent struct {
	ServerID       string `json:"serverId"`
	Hostname       string `json:"hostname,omitempty"`
	Database       string `json:"database,omitempty"`
	Action         string `json:"action"`
	HeartbeatCount int    `json:"heartbeatCount"`
	Timestamp      string `json:"timestamp"`
}
