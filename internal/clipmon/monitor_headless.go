//go:build headless

package clipmon

import (
	"log/slog"

	"go.lanclip.dev/lanclip/internal/packet"
)

// headless is the stub monitor for containers and CI: the node still relays
// and records clipboard traffic, it just has no system clipboard of its own.
type headless struct{}

// New returns the headless stub.
func New(string) Monitor { return headless{} }

func (headless) Start() error {
	slog.Warn("headless build: system clipboard disabled")
	return nil
}

func (headless) Stop()                                  {}
func (headless) OnChange(func(packet.ClipboardPayload)) {}

func (headless) Current() (packet.ClipboardPayload, bool) {
	return packet.ClipboardPayload{}, false
}

func (headless) Set(packet.ClipboardPayload) bool { return false }
