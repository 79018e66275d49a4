package syncer

import "go.lanclip.dev/lanclip/internal/packet"

// ring is a fixed-capacity clipboard history buffer: pushing onto a full ring
// evicts the oldest entry. Not safe for concurrent use; the coordinator's
// lock guards it.
type ring struct {
	buf   []packet.ClipboardPayload
	head  int // index of the oldest entry
	count int
}

func newRing(capacity int) *ring {
	return &ring{buf: make([]packet.ClipboardPayload, capacity)}
}

func (r *ring) push(pl packet.ClipboardPayload) {
	if r.count < len(r.buf) {
		r.buf[(r.head+r.count)%len(r.buf)] = pl
		r.count++
		return
	}
	r.buf[r.head] = pl
	r.head = (r.head + 1) % len(r.buf)
}

// list returns the entries oldest first.
func (r *ring) list() []packet.ClipboardPayload {
	out := make([]packet.ClipboardPayload, 0, r.count)
	for i := 0; i < r.count; i++ {
		out = append(out, r.buf[(r.head+i)%len(r.buf)])
	}
	return out
}

func (r *ring) clear() {
	r.head = 0
	r.count = 0
}

func (r *ring) len() int { return r.count }
