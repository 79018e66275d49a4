// Package clipmon watches and sets the system clipboard. Build constraints
// select the implementation:
//
//	monitor_system.go   — golang.design/x/clipboard, polling watch
//	monitor_headless.go — stub for containers and CI (build tag "headless")
package clipmon

import "go.lanclip.dev/lanclip/internal/packet"

// Monitor is the clipboard collaborator the sync coordinator consumes.
type Monitor interface {
	// Start initialises clipboard access and begins watching for changes.
	Start() error

	// Stop ends the watch loops.
	Stop()

	// Current returns the clipboard contents, preferring text over image.
	Current() (packet.ClipboardPayload, bool)

	// Set writes the payload to the system clipboard and reports success.
	// The resulting change is not reported back through OnChange.
	Set(pl packet.ClipboardPayload) bool

	// OnChange registers the callback invoked for each local clipboard
	// change. Must be called before Start.
	OnChange(fn func(packet.ClipboardPayload))
}
