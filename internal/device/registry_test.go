package device

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func testDevice(name string, seen time.Time) Device {
	return Device{Name: name, IP: "192.168.1.20", Platform: "linux", Port: 5555, LastSeen: seen}
}

func collectEvents(r *Registry) *[]Event {
	var events []Event
	r.OnEvent(func(ev Event) { events = append(events, ev) })
	return &events
}

func TestUpsertFiresJoinedOnce(t *testing.T) {
	r := NewRegistry(15 * time.Second)
	events := collectEvents(r)

	now := time.Now()
	require.True(t, r.Upsert(testDevice("mac", now)))
	require.False(t, r.Upsert(testDevice("mac", now.Add(time.Second))))
	require.False(t, r.Upsert(testDevice("mac", now.Add(2*time.Second))))

	require.Len(t, *events, 1)
	require.Equal(t, EventJoined, (*events)[0].Kind)
	require.Equal(t, "mac@192.168.1.20", (*events)[0].Device.ID())
	require.Equal(t, 1, r.Len())
}

func TestLastSeenNeverMovesBackwards(t *testing.T) {
	r := NewRegistry(15 * time.Second)

	now := time.Now()
	r.Upsert(testDevice("mac", now))
	r.Upsert(testDevice("mac", now.Add(-time.Minute))) // stale packet reordered by the network

	devs := r.List()
	require.Len(t, devs, 1)
	require.Equal(t, now, devs[0].LastSeen)
}

func TestSweepRemovesSilentDevices(t *testing.T) {
	r := NewRegistry(15 * time.Second)
	events := collectEvents(r)

	now := time.Now()
	r.Upsert(testDevice("silent", now.Add(-time.Minute)))
	r.Upsert(testDevice("alive", now))

	removed := r.Sweep(now)
	require.Len(t, removed, 1)
	require.Equal(t, "silent", removed[0].Name)
	require.Equal(t, 1, r.Len())

	// One joined each, one left for the silent device; sweeping again is a no-op.
	require.Len(t, *events, 3)
	require.Equal(t, EventLeft, (*events)[2].Kind)
	require.Equal(t, "silent", (*events)[2].Device.Name)

	require.Empty(t, r.Sweep(now))
	require.Len(t, *events, 3)
}

func TestSweepBoundary(t *testing.T) {
	r := NewRegistry(15 * time.Second)
	now := time.Now()

	// Exactly at the timeout is still present; strictly past it is gone.
	r.Upsert(testDevice("edge", now.Add(-15*time.Second)))
	require.Empty(t, r.Sweep(now))
	require.Len(t, r.Sweep(now.Add(time.Millisecond)), 1)
}

func TestRemoveFiresLeftOnce(t *testing.T) {
	r := NewRegistry(15 * time.Second)
	events := collectEvents(r)

	r.Upsert(testDevice("mac", time.Now()))

	_, ok := r.Remove("mac@192.168.1.20")
	require.True(t, ok)
	_, ok = r.Remove("mac@192.168.1.20")
	require.False(t, ok)

	require.Len(t, *events, 2)
	require.Equal(t, EventLeft, (*events)[1].Kind)
}

func TestRejoinAfterLeaveFiresJoinedAgain(t *testing.T) {
	r := NewRegistry(15 * time.Second)
	events := collectEvents(r)

	d := testDevice("mac", time.Now())
	r.Upsert(d)
	r.Remove(d.ID())
	r.Upsert(testDevice("mac", time.Now()))

	require.Len(t, *events, 3)
	require.Equal(t, EventJoined, (*events)[0].Kind)
	require.Equal(t, EventLeft, (*events)[1].Kind)
	require.Equal(t, EventJoined, (*events)[2].Kind)
}

func TestTouchRefreshesKnownDevice(t *testing.T) {
	r := NewRegistry(15 * time.Second)

	start := time.Now().Add(-10 * time.Second)
	r.Upsert(testDevice("mac", start))

	now := time.Now()
	r.Touch("mac@192.168.1.20", now)
	require.Equal(t, now, r.List()[0].LastSeen)

	// Touching an unknown id must not create it.
	r.Touch("ghost@10.0.0.1", now)
	require.Equal(t, 1, r.Len())
}

func TestListIsASnapshot(t *testing.T) {
	r := NewRegistry(15 * time.Second)
	r.Upsert(testDevice("b", time.Now()))
	r.Upsert(Device{Name: "a", IP: "192.168.1.9", LastSeen: time.Now()})

	devs := r.List()
	require.Len(t, devs, 2)
	require.Equal(t, "a@192.168.1.9", devs[0].ID(), "sorted by identity key")

	devs[0].Name = "mutated"
	require.Equal(t, "a", r.List()[0].Name)
}

func TestPortPreservedOnBarePresence(t *testing.T) {
	r := NewRegistry(15 * time.Second)

	d := testDevice("mac", time.Now())
	r.Upsert(d)

	// Heartbeats carry no payload, so the refresh has Port 0; the known
	// transport port must survive.
	hb := testDevice("mac", time.Now().Add(time.Second))
	hb.Port = 0
	r.Upsert(hb)

	require.Equal(t, 5555, r.List()[0].Port)
}
