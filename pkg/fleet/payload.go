// Package fleet implements the phone-home side of the fleet protocol:
// identity payload construction, registration and heartbeat pushes to the
// configured receiver, and the hostname-change monitor that re-registers
// when instance identity drifts.
package fleet

import (
	"context"
	"net"
	"os"
	"time"
)

// Transport advertised in the identity payload.
const Transport = "http/sse"

const networkProbeAddr = "8.8.8.8:80"

// IPAddresses groups the outbound-routable address with every address
// bound to this host.
type IPAddresses struct {
	Primary string   `json:"primary"`
	All     []string `json:"all"`
}

// Payload is the identity/capability snapshot shared by registration and
// heartbeat pushes. It is rebuilt fresh on every push; nothing here is
// persisted by the server itself.
type Payload struct {
	ServerID     string      `json:"server_id"`
	Hostname     string      `json:"hostname"`
	IPAddresses  IPAddresses `json:"ip_addresses"`
	Port         int         `json:"port"`
	Transport    string      `json:"transport"`
	Version      string      `json:"version"`
	OdooVersion  string      `json:"odoo_version"`
	Database     string      `json:"database"`
	Capabilities []string    `json:"capabilities"`
	OdooStage    string      `json:"odoo_stage"`
}

// NetworkInfo is the hostname and address set discovered for this host.
type NetworkInfo struct {
	Hostname string
	Primary  string
	All      []string
}

// CurrentNetworkInfo discovers the live hostname and IP addresses. The
// primary address is whichever local address would route outbound (found
// by a connectionless UDP dial, no packet is sent); the full list comes
// from resolving the hostname. Failures degrade to loopback rather than
// erroring: a server with broken DNS still phones home.
func CurrentNetworkInfo(ctx context.Context) NetworkInfo {
	hostname, err := os.Hostname()
	if err != nil {
		hostname = "unknown"
	}

	primary := "127.0.0.1"
	if conn, err := net.Dial("udp", networkProbeAddr); err == nil {
		if addr, ok := conn.LocalAddr().(*net.UDPAddr); ok {
			primary = addr.IP.String()
		}
		conn.Close()
	}

	all := []string{primary}
	lookupCtx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()
	if resolved, err := net.DefaultResolver.LookupHost(lookupCtx, hostname); err == nil {
		for _, addr := range resolved {
			if !containsAddr(all, addr) {
				all = append(all, addr)
			}
		}
	}

	return NetworkInfo{Hostname: hostname, Primary: primary, All: all}
}

// ServerID derives the fleet identity for a database on a host. The id
// embeds the hostname, which is why hostname changes must be detected
// out of band (see Monitor).
func ServerID(database, hostname string) string {
	return database + "_" + hostname
}

func containsAddr(addrs []string, addr string) bool {
	for _, a := range addrs {
		if a == addr {
			return true
		}
	}
	return false
}
