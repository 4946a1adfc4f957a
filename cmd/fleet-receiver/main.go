// Package main is the entrypoint for the fleet receiver.
package main

import (
	"fmt"
	"log"
	"os"

	"github.com/woodwosj/OdooDevMCP/internal/receiver"
)

const usage = `Usage: fleet-receiver [command]

Commands:
  (default)   Start the fleet receiver (registration, heartbeat and inventory endpoints).

Environment: RECEIVER_HOST (default 0.0.0.0), RECEIVER_PORT (default 5000),
RECEIVER_HEARTBEAT_INTERVAL (default 60s), RECEIVER_MIN_VERSION,
RECEIVER_COMMS_URL, RECEIVER_CHANGE_EVENT_SUBJECT. See README for the full list.
`

func main() {
	args := os.Args[1:]
	cmd := ""
	if len(args) > 0 && args[0] != "" {
		cmd = args[0]
	}

	switch cmd {
	case "help", "-h", "--help":
		fmt.Print(usage)
		return
	case "serve", "":
		// fall through to server
	default:
		fmt.Fprintf(os.Stderr, "Unknown command %q.\n%s", cmd, usage)
		os.Exit(1)
	}

	if err := receiver.Run(); err != nil {
		log.Fatalf("fleet-receiver: %v", err)
	}
}
