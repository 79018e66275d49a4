// Package device tracks the identity and presence of clipboard peers.
package device

import "time"

// Identity describes the local node. It is built once at startup and injected
// into every component that needs to know who it is on the wire.
type Identity struct {
	Name     string
	IP       string
	Platform string
	Port     int
}

// ID returns the identity key, name@ip.
func (id Identity) ID() string { return id.Name + "@" + id.IP }

// Device is a known remote peer. Identity key is Name@IP.
type Device struct {
	Name     string
	IP       string
	Platform string
	Port     int
	LastSeen time.Time
}

// ID returns the device identity key, name@ip.
func (d Device) ID() string { return d.Name + "@" + d.IP }

// EventKind is the closed set of device presence transitions.
type EventKind string

const (
	EventJoined EventKind = "joined"
	EventLeft   EventKind = "left"
)

// Event is a presence transition for a single device.
type Event struct {
	Kind   EventKind
	Device Device
}
