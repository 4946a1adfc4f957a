package commsutil

import (
	"fmt"
	"strings"
)

// Default COMMS subjects.
const (
	SubjectFleetEvent = "fleet.changed"
)

// BuildDispatchSubject builds the COMMS subject a server listens on for
// MCP dispatch requests scoped to one tenant database.
func BuildDispatchSubject(database string) string {
	return fmt.Sprintf("mcp.dispatch.%s.v1", safeToken(database))
}

// BuildFleetChangeSubject builds a granular fleet change event subject
// for one server id.
func BuildFleetChangeSubject(serverID string) string {
	return fmt.Sprintf("fleet.changed.%s", safeToken(serverID))
}

func safeToken(s string) string {
	return strings.ReplaceAll(s, ".", "_")
}
