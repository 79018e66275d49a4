// Package syncer is the coordinator between the local clipboard and the
// network: local captures go to history and out through the active transport,
// remote payloads (already validated and deduplicated by the transport) go to
// history and the registered consumer callback. Remote payloads are never
// re-broadcast, so a clipboard update cannot gossip-storm the subnet.
package syncer

import (
	"log/slog"
	"sync"

	"go.lanclip.dev/lanclip/internal/device"
	"go.lanclip.dev/lanclip/internal/packet"
	"go.lanclip.dev/lanclip/internal/transport"
)

// DefaultHistorySize is the history ring capacity when none is configured.
const DefaultHistorySize = 5

// ImageStore persists image payloads; the coordinator calls it for every
// image entering history and on ClearHistory.
type ImageStore interface {
	Save(deviceName string, timestamp float64, content []byte) (string, error)
	DeleteAll() error
}

// Config configures a Coordinator.
type Config struct {
	Identity device.Identity
	Registry *device.Registry

	// HistorySize caps the history ring; 0 means DefaultHistorySize.
	HistorySize int

	// Images is optional; nil disables image persistence.
	Images ImageStore
}

// Coordinator owns the history buffer and bridges capture events to the
// network. Attach a transport before Start.
type Coordinator struct {
	cfg Config
	tr  transport.Transport

	mu      sync.Mutex
	history *ring

	cbMu        sync.Mutex
	onClipboard func(packet.ClipboardPayload)
	subs        []func(device.Event)
}

// New creates a Coordinator and hooks it into the registry's event stream.
func New(cfg Config) *Coordinator {
	if cfg.HistorySize <= 0 {
		cfg.HistorySize = DefaultHistorySize
	}
	c := &Coordinator{
		cfg:     cfg,
		history: newRing(cfg.HistorySize),
	}
	cfg.Registry.OnEvent(c.dispatchEvent)
	return c
}

// AttachTransport sets the active transport. Must be called before the
// transport starts delivering packets.
func (c *Coordinator) AttachTransport(tr transport.Transport) {
	c.tr = tr
}

// OnClipboard registers the consumer callback invoked for each novel remote
// clipboard payload. Only one callback is supported; calling again replaces it.
func (c *Coordinator) OnClipboard(fn func(packet.ClipboardPayload)) {
	c.cbMu.Lock()
	c.onClipboard = fn
	c.cbMu.Unlock()
}

// SubscribeDevices adds a device-event subscriber. Subscribers run
// synchronously on each join/leave; a panicking subscriber is recovered so
// the rest still run and the transport loop stays alive.
func (c *Coordinator) SubscribeDevices(fn func(device.Event)) {
	c.cbMu.Lock()
	c.subs = append(c.subs, fn)
	c.cbMu.Unlock()
}

// HandleLocal records a local capture and broadcasts it. Wire it to the
// clipboard monitor's change callback.
func (c *Coordinator) HandleLocal(pl packet.ClipboardPayload) {
	c.record(pl)

	if c.tr == nil {
		return
	}
	p, err := packet.NewClipboard(c.cfg.Identity.Name, c.cfg.Identity.IP, pl)
	if err != nil {
		slog.Error("clipboard packet build failed", "err", err)
		return
	}
	slog.Debug("broadcasting local capture", "kind", pl.Kind, "bytes", len(pl.Content))
	c.tr.Broadcast(p)
}

// HandleRemote records a remote payload and notifies the consumer callback.
// It satisfies transport.ClipboardFunc; the transport has already validated
// and deduplicated the payload.
func (c *Coordinator) HandleRemote(senderID string, pl *packet.ClipboardPayload) {
	slog.Debug("remote clipboard received",
		"from", senderID, "kind", pl.Kind, "bytes", len(pl.Content))
	c.record(*pl)

	c.cbMu.Lock()
	fn := c.onClipboard
	c.cbMu.Unlock()
	if fn != nil {
		invoke(func() { fn(*pl) }, "clipboard callback")
	}
}

// record appends to history and persists image payloads. The transport is
// never called under the history lock.
func (c *Coordinator) record(pl packet.ClipboardPayload) {
	c.mu.Lock()
	c.history.push(pl)
	c.mu.Unlock()

	if pl.Kind == packet.KindImage && c.cfg.Images != nil {
		path, err := c.cfg.Images.Save(pl.DeviceName, pl.Timestamp, pl.Content)
		if err != nil {
			slog.Error("image persistence failed", "err", err)
		} else {
			slog.Debug("image saved", "path", path)
		}
	}
}

// History returns a snapshot of the history buffer, oldest first.
func (c *Coordinator) History() []packet.ClipboardPayload {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.history.list()
}

// HistoryLen returns the number of retained entries.
func (c *Coordinator) HistoryLen() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.history.len()
}

// ClearHistory empties the buffer and deletes persisted image files.
func (c *Coordinator) ClearHistory() error {
	c.mu.Lock()
	c.history.clear()
	c.mu.Unlock()

	if c.cfg.Images != nil {
		return c.cfg.Images.DeleteAll()
	}
	return nil
}

// Devices returns a snapshot of currently present peers.
func (c *Coordinator) Devices() []device.Device {
	return c.cfg.Registry.List()
}

// TriggerDiscovery asks the transport to solicit immediate peer announces.
func (c *Coordinator) TriggerDiscovery() {
	if c.tr != nil {
		c.tr.Discover()
	}
}

func (c *Coordinator) dispatchEvent(ev device.Event) {
	c.cbMu.Lock()
	subs := make([]func(device.Event), len(c.subs))
	copy(subs, c.subs)
	c.cbMu.Unlock()

	for _, fn := range subs {
		invoke(func() { fn(ev) }, "device subscriber")
	}
}

// invoke runs fn, turning a panic into a log line so one bad consumer cannot
// take down the receive path.
func invoke(fn func(), what string) {
	defer func() {
		if r := recover(); r != nil {
			slog.Error("callback panicked", "callback", what, "panic", r)
		}
	}()
	fn()
}
