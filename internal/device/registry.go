package device

import (
	"log/slog"
	"sort"
	"sync"
	"time"
)

// DefaultTimeout is the presence timeout: a device silent for longer is
// considered gone. It is under two missed 10s heartbeats so a dead peer is
// noticed before the third beat would have been due.
const DefaultTimeout = 15 * time.Second

// Registry tracks known peers and their presence. All methods are safe for
// concurrent use; the notify callback runs outside the registry lock.
type Registry struct {
	mu      sync.Mutex
	timeout time.Duration
	devices map[string]Device
	notify  func(Event)
}

// NewRegistry returns an empty registry. timeout <= 0 uses DefaultTimeout.
func NewRegistry(timeout time.Duration) *Registry {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	return &Registry{
		timeout: timeout,
		devices: make(map[string]Device),
	}
}

// OnEvent registers the event sink. Only one sink is supported; calling again
// replaces it. Events are delivered synchronously, one at a time.
func (r *Registry) OnEvent(fn func(Event)) {
	r.mu.Lock()
	r.notify = fn
	r.mu.Unlock()
}

// Upsert inserts or refreshes a device and reports whether it was new.
// A joined event fires exactly once per absence→presence transition.
// LastSeen never moves backwards for a known device.
func (r *Registry) Upsert(d Device) bool {
	r.mu.Lock()
	id := d.ID()
	prev, exists := r.devices[id]
	if exists && d.LastSeen.Before(prev.LastSeen) {
		d.LastSeen = prev.LastSeen
	}
	if exists && d.Port == 0 {
		d.Port = prev.Port
	}
	r.devices[id] = d
	notify := r.notify
	r.mu.Unlock()

	if !exists {
		slog.Info("device joined", "device", id, "platform", d.Platform)
		if notify != nil {
			notify(Event{Kind: EventJoined, Device: d})
		}
	}
	return !exists
}

// Touch refreshes LastSeen for a known device without changing anything else.
func (r *Registry) Touch(id string, now time.Time) {
	r.mu.Lock()
	if d, ok := r.devices[id]; ok && now.After(d.LastSeen) {
		d.LastSeen = now
		r.devices[id] = d
	}
	r.mu.Unlock()
}

// Remove drops a device explicitly (persistent-transport disconnect) and
// fires a left event if it was present.
func (r *Registry) Remove(id string) (Device, bool) {
	r.mu.Lock()
	d, ok := r.devices[id]
	if ok {
		delete(r.devices, id)
	}
	notify := r.notify
	r.mu.Unlock()

	if ok {
		slog.Info("device left", "device", id)
		if notify != nil {
			notify(Event{Kind: EventLeft, Device: d})
		}
	}
	return d, ok
}

// Sweep removes every device not seen within the timeout, firing one left
// event per removal, and returns the removed devices.
func (r *Registry) Sweep(now time.Time) []Device {
	r.mu.Lock()
	var removed []Device
	for id, d := range r.devices {
		if now.Sub(d.LastSeen) > r.timeout {
			delete(r.devices, id)
			removed = append(removed, d)
		}
	}
	notify := r.notify
	r.mu.Unlock()

	for _, d := range removed {
		slog.Info("device timed out", "device", d.ID(), "last_seen", d.LastSeen)
		if notify != nil {
			notify(Event{Kind: EventLeft, Device: d})
		}
	}
	return removed
}

// List returns a snapshot of all known devices, ordered by identity key.
func (r *Registry) List() []Device {
	r.mu.Lock()
	out := make([]Device, 0, len(r.devices))
	for _, d := range r.devices {
		out = append(out, d)
	}
	r.mu.Unlock()

	sort.Slice(out, func(i, j int) bool { return out[i].ID() < out[j].ID() })
	return out
}

// Len returns the number of known devices.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.devices)
}

// Timeout returns the configured presence timeout.
func (r *Registry) Timeout() time.Duration { return r.timeout }
