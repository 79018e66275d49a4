// lanclip: shared clipboard over the local network.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

// Version is set at build time via -ldflags "-X main.Version=x.y.z".
var Version = "dev"

func main() {
	root := &cobra.Command{
		Use:   "lanclip",
		Short: "Shared clipboard over the local network",
		Long: `lanclip synchronises the system clipboard across machines on the same
subnet. Peers find each other automatically over UDP broadcast; clipboard
changes are captured locally, sent to every known peer, and applied to their
clipboards.

Two transports are available (--transport):
  udp   connectionless UDP broadcast (default)
  ws    persistent WebSocket connections, with a UDP discovery side-channel

Config file search order (first found wins):
  /etc/lanclip/lanclip.toml
  $HOME/.config/lanclip/lanclip.toml
  path supplied via --config

All flags can be set via LANCLIP_<FLAG> env vars or config-file keys.`,
		SilenceUsage: true,
	}

	root.AddCommand(
		newRunCmd(),
		newVersionCmd(),
	)

	if err := root.Execute(); err != nil {
		os.Exit(1)
	}
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Args:  cobra.NoArgs,
		Run: func(_ *cobra.Command, _ []string) {
			fmt.Printf("lanclip %s\n", Version)
		},
	}
}
