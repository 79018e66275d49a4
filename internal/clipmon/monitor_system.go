//go:build !headless

package clipmon

import (
	"context"
	"crypto/sha256"
	"fmt"
	"log/slog"
	"sync"

	"golang.design/x/clipboard"

	"go.lanclip.dev/lanclip/internal/packet"
)

// system is the real clipboard monitor backed by golang.design/x/clipboard.
type system struct {
	deviceName string

	mu       sync.Mutex
	onChange func(packet.ClipboardPayload)
	lastSum  [sha256.Size]byte // last content we saw or wrote, to break echo loops
	cancel   context.CancelFunc
	wg       sync.WaitGroup
}

// New returns the system clipboard monitor. deviceName is stamped on every
// captured payload.
func New(deviceName string) Monitor {
	return &system{deviceName: deviceName}
}

func (s *system) OnChange(fn func(packet.ClipboardPayload)) {
	s.mu.Lock()
	s.onChange = fn
	s.mu.Unlock()
}

func (s *system) Start() error {
	if err := clipboard.Init(); err != nil {
		return fmt.Errorf("clipboard init: %w", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	s.mu.Lock()
	s.cancel = cancel
	s.mu.Unlock()

	textCh := clipboard.Watch(ctx, clipboard.FmtText)
	imageCh := clipboard.Watch(ctx, clipboard.FmtImage)

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		for {
			select {
			case <-ctx.Done():
				return
			case b, ok := <-textCh:
				if !ok {
					return
				}
				s.changed(packet.KindText, b)
			case b, ok := <-imageCh:
				if !ok {
					return
				}
				s.changed(packet.KindImage, b)
			}
		}
	}()

	slog.Info("clipboard monitor started", "device", s.deviceName)
	return nil
}

func (s *system) Stop() {
	s.mu.Lock()
	cancel := s.cancel
	s.mu.Unlock()
	if cancel != nil {
		cancel()
	}
	s.wg.Wait()
}

func (s *system) changed(kind packet.Kind, content []byte) {
	if len(content) == 0 {
		return
	}
	sum := sha256.Sum256(content)

	s.mu.Lock()
	if sum == s.lastSum {
		s.mu.Unlock()
		return
	}
	s.lastSum = sum
	fn := s.onChange
	s.mu.Unlock()

	if fn == nil {
		return
	}
	fn(packet.ClipboardPayload{
		Kind:       kind,
		Content:    content,
		Timestamp:  packet.Now(),
		DeviceName: s.deviceName,
	})
}

func (s *system) Current() (packet.ClipboardPayload, bool) {
	if b := clipboard.Read(clipboard.FmtText); len(b) > 0 {
		return packet.ClipboardPayload{
			Kind: packet.KindText, Content: b,
			Timestamp: packet.Now(), DeviceName: s.deviceName,
		}, true
	}
	if b := clipboard.Read(clipboard.FmtImage); len(b) > 0 {
		return packet.ClipboardPayload{
			Kind: packet.KindImage, Content: b,
			Timestamp: packet.Now(), DeviceName: s.deviceName,
		}, true
	}
	return packet.ClipboardPayload{}, false
}

func (s *system) Set(pl packet.ClipboardPayload) bool {
	var format clipboard.Format
	switch pl.Kind {
	case packet.KindText:
		format = clipboard.FmtText
	case packet.KindImage:
		format = clipboard.FmtImage
	default:
		return false
	}

	// Record the content first so the watch channel's echo is ignored.
	s.mu.Lock()
	s.lastSum = sha256.Sum256(pl.Content)
	s.mu.Unlock()

	clipboard.Write(format, pl.Content)
	return true
}
