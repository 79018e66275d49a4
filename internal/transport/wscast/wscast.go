// Package wscast implements the persistent clipboard transport: every node
// runs a WebSocket server and holds one connection per peer, located through
// the UDP discovery side-channel. The WebSocket channel itself only carries
// device_info and clipboard_data packets.
//
// Connection ownership is symmetric, so to avoid a duplicate pair of
// connections between two nodes, only the node whose device ID sorts lower
// dials; the other side is dialed into.
package wscast

import (
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"go.lanclip.dev/lanclip/internal/dedup"
	"go.lanclip.dev/lanclip/internal/device"
	"go.lanclip.dev/lanclip/internal/discovery"
	"go.lanclip.dev/lanclip/internal/packet"
	"go.lanclip.dev/lanclip/internal/transport"
)

const (
	// DefaultPort is the WebSocket listen port.
	DefaultPort = 8765

	// wsPath is the endpoint peers dial.
	wsPath = "/ws"

	pingInterval  = 10 * time.Second
	pongWait      = 15 * time.Second
	writeWait     = 5 * time.Second
	dialTimeout   = 5 * time.Second
	joinTimeout   = 5 * time.Second
	sweepInterval = 2 * time.Second
	maxFrameSize  = 16 * 1024 * 1024
	sendBuffer    = 64
)

// Config configures a Transport.
type Config struct {
	Identity device.Identity
	Registry *device.Registry

	// Port is the WebSocket listen port; 0 means DefaultPort.
	Port int

	// OnClipboard receives novel remote clipboard payloads.
	OnClipboard transport.ClipboardFunc

	// NoDiscovery disables the UDP side-channel; peers must dial in.
	NoDiscovery bool
}

// Transport is the persistent WebSocket transport.
type Transport struct {
	cfg   Config
	cache *dedup.Cache
	disc  *discovery.Discovery

	mu       sync.Mutex
	running  bool
	ln       net.Listener
	srv      *http.Server
	conns    map[string]*conn  // remote addr → connection
	byDevice map[string]string // device ID → remote addr
	stopC    chan struct{}
	wg       sync.WaitGroup
}

var _ transport.Transport = (*Transport)(nil)

// conn is one live peer connection. Writes go through sendCh and a single
// writer goroutine; the done channel tears the writer down without ever
// closing sendCh, so a concurrent Broadcast can never hit a closed channel.
type conn struct {
	key      string // remote addr, map key
	ws       *websocket.Conn
	sendCh   chan []byte
	done     chan struct{}
	outbound bool

	mu       sync.Mutex
	deviceID string
}

func (c *conn) device() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.deviceID
}

// New creates a Transport. Call Start to listen and begin discovery.
func New(cfg Config) *Transport {
	if cfg.Port == 0 {
		cfg.Port = DefaultPort
	}
	return &Transport{
		cfg:      cfg,
		cache:    dedup.New(dedup.DefaultCapacity),
		conns:    make(map[string]*conn),
		byDevice: make(map[string]string),
		stopC:    make(chan struct{}),
	}
}

// Addr returns the listener address, valid after Start.
func (t *Transport) Addr() net.Addr {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.ln == nil {
		return nil
	}
	return t.ln.Addr()
}

var upgrader = websocket.Upgrader{
	ReadBufferSize:  4096,
	WriteBufferSize: 4096,
	// LAN-only protocol, no browser origin policy to enforce.
	CheckOrigin: func(*http.Request) bool { return true },
}

// Start binds the WebSocket server, launches the sweep loop, and starts the
// discovery side-channel. A bind failure is fatal.
func (t *Transport) Start() error {
	t.mu.Lock()
	if t.running {
		t.mu.Unlock()
		return fmt.Errorf("wscast: already started")
	}
	t.running = true
	t.mu.Unlock()

	ln, err := net.Listen("tcp", fmt.Sprintf(":%d", t.cfg.Port))
	if err != nil {
		t.mu.Lock()
		t.running = false
		t.mu.Unlock()
		return fmt.Errorf("wscast listen :%d: %w", t.cfg.Port, err)
	}

	mux := http.NewServeMux()
	mux.HandleFunc(wsPath, t.handleUpgrade)
	srv := &http.Server{Handler: mux}

	t.mu.Lock()
	t.ln = ln
	t.srv = srv
	t.mu.Unlock()

	slog.Info("websocket transport listening",
		"addr", ln.Addr(),
		"device", t.cfg.Identity.ID(),
	)

	t.wg.Add(1)
	go func() {
		defer t.wg.Done()
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("websocket server stopped", "err", err)
		}
	}()

	t.wg.Add(1)
	go t.sweepLoop()

	if !t.cfg.NoDiscovery {
		ident := t.cfg.Identity
		ident.Port = t.cfg.Port
		t.disc = discovery.New(discovery.Config{
			Identity: ident,
			OnPeer:   t.onPeerDiscovered,
		})
		if err := t.disc.Start(); err != nil {
			slog.Warn("discovery side-channel failed to start", "err", err)
		}
	}
	return nil
}

// Stop closes the server, the side-channel, and every peer connection, then
// joins the loops with a bounded timeout.
func (t *Transport) Stop() {
	t.mu.Lock()
	if !t.running {
		t.mu.Unlock()
		return
	}
	t.running = false
	srv := t.srv
	open := make([]*conn, 0, len(t.conns))
	for _, c := range t.conns {
		open = append(open, c)
	}
	t.mu.Unlock()

	close(t.stopC)
	if t.disc != nil {
		t.disc.Stop()
	}
	if srv != nil {
		_ = srv.Close()
	}
	for _, c := range open {
		t.teardown(c, "shutdown")
	}

	done := make(chan struct{})
	go func() {
		t.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(joinTimeout):
		slog.Warn("websocket transport loops did not stop in time")
	}
	slog.Info("websocket transport stopped")
}

func (t *Transport) isRunning() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.running
}

// Broadcast fans the encoded packet to every open connection. Write failures
// are handled by each connection's writer, which tears only that connection
// down; the remaining connections are unaffected.
func (t *Transport) Broadcast(p *packet.Packet) {
	raw, err := p.Encode()
	if err != nil {
		slog.Error("websocket broadcast encode failed", "err", err)
		return
	}

	t.mu.Lock()
	targets := make([]*conn, 0, len(t.conns))
	for _, c := range t.conns {
		targets = append(targets, c)
	}
	t.mu.Unlock()

	for _, c := range targets {
		c.send(raw)
	}
}

// Discover asks connected peers for their device_info and re-announces on the
// side-channel so unconnected peers dial or get dialed.
func (t *Transport) Discover() {
	p, err := packet.New(packet.TypeDiscovery, t.cfg.Identity.Name, t.cfg.Identity.IP, nil)
	if err == nil {
		t.Broadcast(p)
	}
	if t.disc != nil {
		t.disc.Trigger()
	}
}

func (c *conn) send(raw []byte) {
	select {
	case c.sendCh <- raw:
	case <-c.done:
	default:
		slog.Warn("websocket send buffer full, dropping frame", "peer", c.key)
	}
}

// handleUpgrade accepts an inbound peer connection.
func (t *Transport) handleUpgrade(w http.ResponseWriter, r *http.Request) {
	ws, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		slog.Warn("websocket upgrade failed", "remote", r.RemoteAddr, "err", err)
		return
	}
	t.runConn(ws, false)
}

// onPeerDiscovered dials a discovered peer if this node is the designated
// dialer and no connection to that device exists yet.
func (t *Transport) onPeerDiscovered(d device.Device) {
	if !t.isRunning() || d.Port == 0 {
		return
	}
	localID := t.cfg.Identity.ID()
	if localID >= d.ID() {
		return // the lower ID dials; we wait for them
	}

	t.mu.Lock()
	_, connected := t.byDevice[d.ID()]
	t.mu.Unlock()
	if connected {
		return
	}

	url := fmt.Sprintf("ws://%s:%d%s", d.IP, d.Port, wsPath)
	dialer := websocket.Dialer{HandshakeTimeout: dialTimeout}
	ws, _, err := dialer.Dial(url, nil)
	if err != nil {
		slog.Debug("peer dial failed", "peer", d.ID(), "url", url, "err", err)
		return
	}
	slog.Info("dialed peer", "peer", d.ID(), "url", url)
	go t.runConn(ws, true)
}

// runConn registers the connection, starts its writer, sends our device_info,
// and runs the read loop until the connection dies.
func (t *Transport) runConn(ws *websocket.Conn, outbound bool) {
	c := &conn{
		key:      ws.RemoteAddr().String(),
		ws:       ws,
		sendCh:   make(chan []byte, sendBuffer),
		done:     make(chan struct{}),
		outbound: outbound,
	}

	t.mu.Lock()
	if !t.running {
		t.mu.Unlock()
		_ = ws.Close()
		return
	}
	t.conns[c.key] = c
	t.mu.Unlock()

	ws.SetReadLimit(maxFrameSize)
	_ = ws.SetReadDeadline(time.Now().Add(pongWait))
	ws.SetPongHandler(func(string) error {
		_ = ws.SetReadDeadline(time.Now().Add(pongWait))
		if id := c.device(); id != "" {
			t.cfg.Registry.Touch(id, time.Now())
		}
		return nil
	})

	t.wg.Add(1)
	go t.writeLoop(c)

	t.sendDeviceInfo(c)
	t.readLoop(c)
}

// writeLoop is the single writer for one connection: it drains the send
// channel and keeps the ping/pong keepalive going. Any write failure tears
// the connection down.
func (t *Transport) writeLoop(c *conn) {
	defer t.wg.Done()
	ticker := time.NewTicker(pingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-c.done:
			return
		case raw := <-c.sendCh:
			_ = c.ws.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.ws.WriteMessage(websocket.TextMessage, raw); err != nil {
				slog.Debug("websocket write failed", "peer", c.key, "err", err)
				t.teardown(c, "write failed")
				return
			}
		case <-ticker.C:
			_ = c.ws.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.ws.WriteMessage(websocket.PingMessage, nil); err != nil {
				t.teardown(c, "ping failed")
				return
			}
		}
	}
}

func (t *Transport) readLoop(c *conn) {
	for {
		_, raw, err := c.ws.ReadMessage()
		if err != nil {
			t.teardown(c, "connection closed")
			return
		}
		_ = c.ws.SetReadDeadline(time.Now().Add(pongWait))

		p, err := packet.Decode(raw)
		if err != nil {
			slog.Debug("dropping undecodable frame", "peer", c.key, "err", err)
			continue
		}
		t.handle(c, p)
	}
}

func (t *Transport) sendDeviceInfo(c *conn) {
	p, err := packet.New(packet.TypeDeviceInfo, t.cfg.Identity.Name, t.cfg.Identity.IP,
		packet.DevicePayload{Platform: t.cfg.Identity.Platform, Port: t.cfg.Port})
	if err != nil {
		return
	}
	raw, err := p.Encode()
	if err != nil {
		return
	}
	c.send(raw)
}

func (t *Transport) handle(c *conn, p *packet.Packet) {
	if p.SenderName == t.cfg.Identity.Name && p.SenderIP == t.cfg.Identity.IP {
		return
	}

	switch {
	case p.Type == packet.TypeDiscovery:
		t.cfg.Registry.Touch(p.SenderID(), time.Now())
		t.sendDeviceInfo(c)

	case p.Type.Presence():
		dp, err := p.Device()
		if err != nil {
			slog.Debug("dropping bad presence payload", "peer", c.key, "err", err)
			return
		}
		id := p.SenderID()
		c.mu.Lock()
		c.deviceID = id
		c.mu.Unlock()

		t.mu.Lock()
		t.byDevice[id] = c.key
		t.mu.Unlock()

		t.cfg.Registry.Upsert(device.Device{
			Name:     p.SenderName,
			IP:       p.SenderIP,
			Platform: dp.Platform,
			Port:     dp.Port,
			LastSeen: time.Now(),
		})

	case p.Type == packet.TypeClipboard:
		pl, err := p.Clipboard()
		if err != nil {
			slog.Debug("dropping bad clipboard payload", "peer", c.key, "err", err)
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

// teardown removes the connection and marks its device as left. Idempotent:
// the writer and reader both call it on their respective failure paths.
func (t *Transport) teardown(c *conn, reason string) {
	t.mu.Lock()
	_, present := t.conns[c.key]
	if present {
		delete(t.conns, c.key)
		if id := c.device(); id != "" && t.byDevice[id] == c.key {
			delete(t.byDevice, id)
		}
	}
	t.mu.Unlock()

	if !present {
		return
	}

	close(c.done)
	_ = c.ws.Close()

	if id := c.device(); id != "" {
		t.cfg.Registry.Remove(id)
	}
	slog.Info("peer connection closed", "peer", c.key, "reason", reason)
}

// sweepLoop is a safety net for connections that die without an error on
// either loop; ping failures normally catch those first.
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
