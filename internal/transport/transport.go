// Package transport defines the interface both clipboard transports satisfy.
// Two strategies exist: udpcast (connectionless UDP broadcast) and wscast
// (persistent WebSocket connections located via a UDP discovery side-channel).
// The active strategy is selected by configuration at startup.
package transport

import (
	"strings"

	"go.lanclip.dev/lanclip/internal/packet"
)

// ClipboardFunc receives remote clipboard payloads that survived validation
// and dedup. senderID is the origin device's identity key (name@ip).
type ClipboardFunc func(senderID string, payload *packet.ClipboardPayload)

// Transport carries lanclip packets between peers.
type Transport interface {
	// Start binds network resources and launches the background loops.
	// Exhausting bind attempts is the only fatal startup error.
	Start() error

	// Stop signals the loops, closes sockets, and joins with a bounded
	// timeout. Safe to call more than once.
	Stop()

	// Broadcast fans the packet out to peers, best effort. Individual
	// destination failures are swallowed.
	Broadcast(p *packet.Packet)

	// Discover solicits immediate announces from peers.
	Discover()
}

// Kind selects a transport strategy.
type Kind string

const (
	KindUDP Kind = "udp"
	KindWS  Kind = "ws"
)

// ParseKind converts a string to a Kind, defaulting to KindUDP.
func ParseKind(s string) Kind {
	switch strings.ToLower(s) {
	case "ws", "websocket":
		return KindWS
	default:
		return KindUDP
	}
}
