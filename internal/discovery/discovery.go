// Package discovery is the UDP side-channel the persistent transport uses to
// learn peer addresses. It only carries presence packets on a fixed port; the
// WebSocket channel itself carries device_info and clipboard_data.
package discovery

import (
	"errors"
	"fmt"
	"log/slog"
	"net"
	"sync"
	"time"

	"go.lanclip.dev/lanclip/internal/device"
	"go.lanclip.dev/lanclip/internal/netutil"
	"go.lanclip.dev/lanclip/internal/packet"
)

const (
	// DefaultPort is the fixed side-channel port. Fixed, not probed: every
	// node must listen where every other node broadcasts.
	DefaultPort = 8766

	announceInterval = 30 * time.Second
	readDeadline     = 2 * time.Second
	joinTimeout      = 5 * time.Second
	maxDatagram      = 4 * 1024
)

// Config configures a Discovery.
type Config struct {
	// Identity is the local node; Identity.Port is the advertised
	// WebSocket port.
	Identity device.Identity

	// OnPeer is called for every peer announce heard, new or repeated.
	// The Device's Port is the peer's WebSocket port.
	OnPeer func(d device.Device)

	// Port is the side-channel port; 0 means DefaultPort.
	Port int
}

// Discovery announces this node on the fixed port and listens for peers.
type Discovery struct {
	cfg Config

	mu      sync.Mutex
	running bool
	conn    *net.UDPConn
	stopC   chan struct{}
	wg      sync.WaitGroup
}

// New creates a Discovery. Call Start to begin.
func New(cfg Config) *Discovery {
	if cfg.Port == 0 {
		cfg.Port = DefaultPort
	}
	return &Discovery{cfg: cfg, stopC: make(chan struct{})}
}

// Start begins announcing and listening. A bind conflict on the fixed port is
// not fatal: the node keeps announcing (so peers can still find it) but
// cannot hear others, which is logged loudly.
func (d *Discovery) Start() error {
	d.mu.Lock()
	if d.running {
		d.mu.Unlock()
		return fmt.Errorf("discovery: already started")
	}
	d.running = true
	d.mu.Unlock()

	conn, err := net.ListenUDP("udp4", &net.UDPAddr{Port: d.cfg.Port})
	if err != nil {
		slog.Warn("discovery port unavailable, announce-only mode",
			"port", d.cfg.Port, "err", err)
	} else {
		d.mu.Lock()
		d.conn = conn
		d.mu.Unlock()
		d.wg.Add(1)
		go d.receiveLoop(conn)
		slog.Info("discovery listening", "port", d.cfg.Port)
	}

	d.wg.Add(1)
	go d.announceLoop()

	d.Trigger()
	return nil
}

// Stop signals the loops, closes the socket, and joins with a bounded timeout.
func (d *Discovery) Stop() {
	d.mu.Lock()
	if !d.running {
		d.mu.Unlock()
		return
	}
	d.running = false
	conn := d.conn
	d.mu.Unlock()

	close(d.stopC)
	if conn != nil {
		_ = conn.Close()
	}

	done := make(chan struct{})
	go func() {
		d.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(joinTimeout):
		slog.Warn("discovery loops did not stop in time")
	}
}

func (d *Discovery) isRunning() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.running
}

// Trigger broadcasts an immediate announce.
func (d *Discovery) Trigger() {
	p, err := packet.New(packet.TypeAnnounce, d.cfg.Identity.Name, d.cfg.Identity.IP,
		packet.DevicePayload{Platform: d.cfg.Identity.Platform, Port: d.cfg.Identity.Port})
	if err != nil {
		slog.Error("discovery announce build failed", "err", err)
		return
	}
	raw, err := p.Encode()
	if err != nil {
		slog.Error("discovery announce encode failed", "err", err)
		return
	}

	for _, addr := range netutil.BroadcastAddrs() {
		dst, err := net.ResolveUDPAddr("udp4", fmt.Sprintf("%s:%d", addr, d.cfg.Port))
		if err != nil {
			continue
		}
		conn, err := net.DialUDP("udp4", nil, dst)
		if err != nil {
			continue
		}
		_, _ = conn.Write(raw)
		_ = conn.Close()
	}
}

func (d *Discovery) announceLoop() {
	defer d.wg.Done()
	ticker := time.NewTicker(announceInterval)
	defer ticker.Stop()

	for {
		select {
		case <-d.stopC:
			return
		case <-ticker.C:
			d.Trigger()
		}
	}
}

func (d *Discovery) receiveLoop(conn *net.UDPConn) {
	defer d.wg.Done()
	buf := make([]byte, maxDatagram)

	for d.isRunning() {
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
			if d.isRunning() {
				slog.Warn("discovery read failed", "err", err)
			}
			continue
		}

		p, err := packet.Decode(buf[:n])
		if err != nil || !p.Type.Presence() {
			continue
		}
		if p.SenderName == d.cfg.Identity.Name && p.SenderIP == d.cfg.Identity.IP {
			continue
		}
		dp, err := p.Device()
		if err != nil {
			continue
		}
		if d.cfg.OnPeer != nil {
			d.cfg.OnPeer(device.Device{
				Name:     p.SenderName,
				IP:       p.SenderIP,
				Platform: dp.Platform,
				Port:     dp.Port,
				LastSeen: time.Now(),
			})
		}
	}
}
