// Package udpcast implements the connectionless clipboard transport: one UDP
// socket carries announce/discover/heartbeat presence traffic and clipboard
// payloads, all broadcast to the local subnet.
//
// Delivery is best effort. Presence is kept fresh by heartbeats and enforced
// by a periodic registry sweep; clipboard duplicates (the same capture heard
// on several broadcast addresses or ports) are suppressed by a bounded dedup
// cache before the payload reaches the coordinator.
package udpcast

import (
	"errors"
	"fmt"
	"log/slog"
	"net"
	"sync"
	"syscall"
	"time"

	"go.lanclip.dev/lanclip/internal/dedup"
	"go.lanclip.dev/lanclip/internal/device"
	"go.lanclip.dev/lanclip/internal/netutil"
	"go.lanclip.dev/lanclip/internal/packet"
	"go.lanclip.dev/lanclip/internal/transport"
)

const (
	// DefaultPort is the preferred UDP port; bind conflicts probe upward.
	DefaultPort = 5555

	// maxBindAttempts bounds the upward port probe before Start fails.
	maxBindAttempts = 10

	heartbeatInterval = 10 * time.Second
	sweepInterval     = 2 * time.Second
	readDeadline      = 1 * time.Second
	joinTimeout       = 5 * time.Second
	maxDatagram       = 64 * 1024
)

// CompatPorts are the well-known ports every broadcast also targets, so nodes
// that were pushed off the default port by a bind conflict still hear us.
var CompatPorts = []int{5555, 5556, 5557, 5558, 5559}

type state int

const (
	stateInit state = iota
	stateBinding
	stateListening
	stateStopped
)

// Config configures a Transport.
type Config struct {
	Identity device.Identity
	Registry *device.Registry

	// Port is the preferred listen port; 0 means DefaultPort.
	Port int

	// OnClipboard receives novel remote clipboard payloads.
	OnClipboard transport.ClipboardFunc
}

// Transport is the UDP broadcast transport.
type Transport struct {
	cfg   Config
	cache *dedup.Cache

	mu    sync.Mutex
	st    state
	conn  *net.UDPConn
	port  int // actual bound port
	stopC chan struct{}
	wg    sync.WaitGroup
}

var _ transport.Transport = (*Transport)(nil)

// New creates a Transport. Call Start to bind and begin listening.
func New(cfg Config) *Transport {
	if cfg.Port == 0 {
		cfg.Port = DefaultPort
	}
	return &Transport{
		cfg:   cfg,
		cache: dedup.New(dedup.DefaultCapacity),
		stopC: make(chan struct{}),
	}
}

// BoundPort returns the port the socket actually bound, valid after Start.
func (t *Transport) BoundPort() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.port
}

// Start binds the socket (probing upward on conflicts) and launches the
// receive, heartbeat, and sweep loops, then announces and discovers.
func (t *Transport) Start() error {
	t.mu.Lock()
	if t.st != stateInit {
		t.mu.Unlock()
		return fmt.Errorf("udpcast: already started")
	}
	t.st = stateBinding
	t.mu.Unlock()

	conn, port, err := bind(t.cfg.Port)
	if err != nil {
		t.mu.Lock()
		t.st = stateStopped
		t.mu.Unlock()
		return err
	}

	t.mu.Lock()
	t.conn = conn
	t.port = port
	t.st = stateListening
	t.mu.Unlock()

	slog.Info("udp transport listening",
		"port", port,
		"device", t.cfg.Identity.ID(),
	)

	t.wg.Add(3)
	go t.receiveLoop(conn)
	go t.heartbeatLoop()
	go t.sweepLoop()

	t.Announce()
	t.Discover()
	return nil
}

// bind tries the requested port and probes upward on address-in-use, up to
// maxBindAttempts ports.
func bind(port int) (*net.UDPConn, int, error) {
	var lastErr error
	for i := 0; i < maxBindAttempts; i++ {
		p := port + i
		conn, err := net.ListenUDP("udp4", &net.UDPAddr{Port: p})
		if err == nil {
			if i > 0 {
				slog.Info("udp port in use, bound fallback", "wanted", port, "bound", p)
			}
			return conn, p, nil
		}
		lastErr = err
		if !errors.Is(err, syscall.EADDRINUSE) {
			return nil, 0, fmt.Errorf("udpcast bind :%d: %w", p, err)
		}
	}
	return nil, 0, fmt.Errorf("udpcast: no free port in %d..%d: %w",
		port, port+maxBindAttempts-1, lastErr)
}

// Stop signals the loops, closes the socket to unblock the pending read, and
// joins with a bounded timeout. Shutdown proceeds even if a loop lags.
func (t *Transport) Stop() {
	t.mu.Lock()
	if t.st == stateStopped {
		t.mu.Unlock()
		return
	}
	t.st = stateStopped
	conn := t.conn
	t.mu.Unlock()

	close(t.stopC)
	if conn != nil {
		_ = conn.Close()
	}

	done := make(chan struct{})
	go func() {
		t.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(joinTimeout):
		slog.Warn("udp transport loops did not stop in time")
	}
	slog.Info("udp transport stopped")
}

func (t *Transport) running() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.st == stateListening
}

// Broadcast fans the packet out to every candidate broadcast address and
// compatibility port. Failures per destination are swallowed so one blocked
// route cannot abort the send.
func (t *Transport) Broadcast(p *packet.Packet) {
	raw, err := p.Encode()
	if err != nil {
		slog.Error("udp broadcast encode failed", "err", err)
		return
	}

	ports := map[int]struct{}{t.BoundPort(): {}}
	for _, p := range CompatPorts {
		ports[p] = struct{}{}
	}

	sent := 0
	for _, addr := range netutil.BroadcastAddrs() {
		for port := range ports {
			if send(raw, addr, port) {
				sent++
			}
		}
	}
	if sent == 0 {
		slog.Warn("udp broadcast reached no destination", "type", p.Type)
	}
}

func send(raw []byte, addr string, port int) bool {
	dst, err := net.ResolveUDPAddr("udp4", fmt.Sprintf("%s:%d", addr, port))
	if err != nil {
		return false
	}
	conn, err := net.DialUDP("udp4", nil, dst)
	if err != nil {
		return false
	}
	defer conn.Close()
	_, err = conn.Write(raw)
	return err == nil
}

// Announce broadcasts this node's presence.
func (t *Transport) Announce() {
	p, err := packet.New(packet.TypeAnnounce, t.cfg.Identity.Name, t.cfg.Identity.IP,
		packet.DevicePayload{Platform: t.cfg.Identity.Platform, Port: t.BoundPort()})
	if err != nil {
		slog.Error("announce build failed", "err", err)
		return
	}
	t.Broadcast(p)
}

// Discover broadcasts a discovery request; peers reply with an immediate
// announce so a fresh node converges without waiting a heartbeat interval.
func (t *Transport) Discover() {
	p, err := packet.New(packet.TypeDiscovery, t.cfg.Identity.Name, t.cfg.Identity.IP, nil)
	if err != nil {
		slog.Error("discover build failed", "err", err)
		return
	}
	t.Broadcast(p)
}

func (t *Transport) receiveLoop(conn *net.UDPConn) {
	defer t.wg.Done()
	buf := make([]byte, maxDatagram)

	for t.running() {
		_ = conn.SetReadDeadline(time.Now().Add(readDeadline))
		n, _, err := conn.ReadFromUDP(buf)
		if err != nil {
			if errors.Is(err, net.ErrClosed) {
				return
			}
			var ne net.Error
			if errors.As(err, &ne) && ne.Timeout() {
				continue
			}
			if t.running() {
				slog.Warn("udp read failed", "err", err)
			}
			continue
		}

		p, err := packet.Decode(buf[:n])
		if err != nil {
			slog.Debug("dropping undecodable datagram", "err", err, "bytes", n)
			continue
		}
		t.handle(p)
	}
}

func (t *Transport) handle(p *packet.Packet) {
	// Our own broadcasts loop back on every interface.
	if p.SenderName == t.cfg.Identity.Name && p.SenderIP == t.cfg.Identity.IP {
		return
	}

	switch {
	case p.Type.Presence():
		dp, err := p.Device()
		if err != nil {
			slog.Debug("dropping bad presence payload", "err", err, "from", p.SenderID())
			return
		}
		t.cfg.Registry.Upsert(device.Device{
			Name:     p.SenderName,
			IP:       p.SenderIP,
			Platform: dp.Platform,
			Port:     dp.Port,
			LastSeen: time.Now(),
		})
		if p.Type == packet.TypeDiscovery {
			t.Announce()
		}

	case p.Type == packet.TypeClipboard:
		pl, err := p.Clipboard()
		if err != nil {
			slog.Debug("dropping bad clipboard payload", "err", err, "from", p.SenderID())
			return
		}
		t.cfg.Registry.Touch(p.SenderID(), time.Now())
		key := dedup.Key(p.SenderID(), pl.Timestamp, pl.Content)
		if t.cache.Seen(key) {
			return
		}
		if t.cfg.OnClipboard != nil {
			t.cfg.OnClipboard(p.SenderID(), pl)
		}
	}
}

func (t *Transport) heartbeatLoop() {
	defer t.wg.Done()
	ticker := time.NewTicker(heartbeatInterval)
	defer ticker.Stop()

	for {
		select {
		case <-t.stopC:
			return
		case <-ticker.C:
			p, err := packet.New(packet.TypeHeartbeat, t.cfg.Identity.Name, t.cfg.Identity.IP, nil)
			if err != nil {
				continue
			}
			t.Broadcast(p)
		}
	}
}

func (t *Transport) sweepLoop() {
	defer t.wg.Done()
	ticker := time.NewTicker(sweepInterval)
	defer ticker.Stop()

	for {
		select {
		case <-t.stopC:
			return
		case <-ticker.C:
			t.cfg.Registry.Sweep(time.Now())
		}
	}
}
