package discovery

import (
	"net"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"go.lanclip.dev/lanclip/internal/device"
	"go.lanclip.dev/lanclip/internal/packet"
)

func freeUDPPort(t *testing.T) int {
	t.Helper()
	conn, err := net.ListenUDP("udp4", &net.UDPAddr{IP: net.IPv4(127, 0, 0, 1)})
	require.NoError(t, err)
	port := conn.LocalAddr().(*net.UDPAddr).Port
	require.NoError(t, conn.Close())
	return port
}

type peerRecorder struct {
	mu    sync.Mutex
	peers []device.Device
}

func (r *peerRecorder) record(d device.Device) {
	r.mu.Lock()
	r.peers = append(r.peers, d)
	r.mu.Unlock()
}

func (r *peerRecorder) snapshot() []device.Device {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]device.Device, len(r.peers))
	copy(out, r.peers)
	return out
}

func startDiscovery(t *testing.T, rec *peerRecorder) (*Discovery, int) {
	t.Helper()
	port := freeUDPPort(t)
	d := New(Config{
		Identity: device.Identity{Name: "local", IP: "192.168.1.2", Platform: "linux", Port: 8765},
		OnPeer:   rec.record,
		Port:     port,
	})
	require.NoError(t, d.Start())
	t.Cleanup(d.Stop)
	return d, port
}

func sendRaw(t *testing.T, port int, raw []byte) {
	t.Helper()
	conn, err := net.DialUDP("udp4", nil,
		&net.UDPAddr{IP: net.IPv4(127, 0, 0, 1), Port: port})
	require.NoError(t, err)
	defer conn.Close()
	_, err = conn.Write(raw)
	require.NoError(t, err)
}

func announceBytes(t *testing.T, name, ip string, wsPort int) []byte {
	t.Helper()
	p, err := packet.New(packet.TypeAnnounce, name, ip,
		packet.DevicePayload{Platform: "darwin", Port: wsPort})
	require.NoError(t, err)
	raw, err := p.Encode()
	require.NoError(t, err)
	return raw
}

func TestAnnounceReportsPeerWithAdvertisedPort(t *testing.T) {
	rec := &peerRecorder{}
	_, port := startDiscovery(t, rec)

	sendRaw(t, port, announceBytes(t, "mac", "192.168.1.3", 8765))

	require.Eventually(t, func() bool {
		return len(rec.snapshot()) >= 1
	}, 3*time.Second, 20*time.Millisecond)

	got := rec.snapshot()[0]
	require.Equal(t, "mac@192.168.1.3", got.ID())
	require.Equal(t, "darwin", got.Platform)
	require.Equal(t, 8765, got.Port, "callback must carry the advertised transport port")
	require.False(t, got.LastSeen.IsZero())
}

func TestSelfAnnounceFiltered(t *testing.T) {
	rec := &peerRecorder{}
	_, port := startDiscovery(t, rec)

	// Our own broadcast loops back; it must never reach the callback. The
	// peer announce after it proves the loop processed both datagrams.
	sendRaw(t, port, announceBytes(t, "local", "192.168.1.2", 8765))
	sendRaw(t, port, announceBytes(t, "mac", "192.168.1.3", 8765))

	require.Eventually(t, func() bool {
		return len(rec.snapshot()) >= 1
	}, 3*time.Second, 20*time.Millisecond)

	for _, d := range rec.snapshot() {
		require.NotEqual(t, "local@192.168.1.2", d.ID())
	}
}

func TestNonPresencePacketsIgnored(t *testing.T) {
	rec := &peerRecorder{}
	_, port := startDiscovery(t, rec)

	clip, err := packet.NewClipboard("mac", "192.168.1.3", packet.ClipboardPayload{
		Kind:       packet.KindText,
		Content:    []byte("hello"),
		Timestamp:  1,
		DeviceName: "mac",
	})
	require.NoError(t, err)
	raw, err := clip.Encode()
	require.NoError(t, err)
	sendRaw(t, port, raw)
	sendRaw(t, port, []byte{0x3c, 0x9a, 0x00, 0xde, 0xad, 0xbe, 0xef})
	sendRaw(t, port, announceBytes(t, "mac", "192.168.1.3", 8765))

	require.Eventually(t, func() bool {
		return len(rec.snapshot()) >= 1
	}, 3*time.Second, 20*time.Millisecond)
	require.Len(t, rec.snapshot(), 1, "only the announce should surface")
}

// TestAnnounceOnlyModeWhenPortTaken covers the degraded mode: another process
// owns the side-channel port, so the node cannot hear peers but must still
// start and keep announcing.
func TestAnnounceOnlyModeWhenPortTaken(t *testing.T) {
	port := freeUDPPort(t)
	occupied, err := net.ListenUDP("udp4", &net.UDPAddr{Port: port})
	require.NoError(t, err)
	defer occupied.Close()

	rec := &peerRecorder{}
	d := New(Config{
		Identity: device.Identity{Name: "local", IP: "192.168.1.2", Port: 8765},
		OnPeer:   rec.record,
		Port:     port,
	})
	require.NoError(t, d.Start(), "a taken side-channel port is not fatal")
	d.Stop()
	require.Empty(t, rec.snapshot())
}

func TestStopIsIdempotent(t *testing.T) {
	rec := &peerRecorder{}
	d, _ := startDiscovery(t, rec)

	done := make(chan struct{})
	go func() {
		d.Stop()
		d.Stop()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(10 * time.Second):
		t.Fatal("Stop did not return")
	}
}
