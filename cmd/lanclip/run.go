package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"runtime"
	"syscall"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"go.lanclip.dev/lanclip/internal/clipmon"
	"go.lanclip.dev/lanclip/internal/device"
	"go.lanclip.dev/lanclip/internal/imagestore"
	"go.lanclip.dev/lanclip/internal/netutil"
	"go.lanclip.dev/lanclip/internal/packet"
	"go.lanclip.dev/lanclip/internal/syncer"
	"go.lanclip.dev/lanclip/internal/transport"
	"go.lanclip.dev/lanclip/internal/transport/udpcast"
	"go.lanclip.dev/lanclip/internal/transport/wscast"
)

func newRunCmd() *cobra.Command {
	v := viper.New()

	cmd := &cobra.Command{
		Use:   "run",
		Short: "Run the clipboard sync node",
		Long: `Starts the lanclip node: announces this device on the subnet, tracks
peers, and synchronises the system clipboard with them until interrupted.`,
		Args:    cobra.NoArgs,
		PreRunE: func(cmd *cobra.Command, _ []string) error { return bindViper(cmd, v) },
		RunE:    func(_ *cobra.Command, _ []string) error { return runNode(v) },
	}

	f := cmd.Flags()
	f.String("transport", "udp", "transport strategy: udp|ws")
	f.Int("port", 0, "listen port (default 5555 for udp, 8765 for ws)")
	f.Int("history", syncer.DefaultHistorySize, "clipboard history capacity")
	f.String("data-dir", defaultDataDir(), "directory for received image files")
	f.String("device-name", defaultDeviceName(), "name for this device on the network")
	f.Bool("no-clipboard", false, "relay only: do not read or write the system clipboard")
	addLoggingFlags(cmd)
	addConfigFlag(cmd)

	return cmd
}

func runNode(v *viper.Viper) error {
	setupLogging(v)

	identity := device.Identity{
		Name:     v.GetString("device-name"),
		IP:       netutil.LocalIP(),
		Platform: runtime.GOOS,
	}
	kind := transport.ParseKind(v.GetString("transport"))

	slog.Info("lanclip starting",
		"version", Version,
		"device", identity.ID(),
		"platform", identity.Platform,
		"transport", kind,
	)

	images, err := imagestore.New(v.GetString("data-dir"))
	if err != nil {
		return err
	}

	registry := device.NewRegistry(0)
	coord := syncer.New(syncer.Config{
		Identity:    identity,
		Registry:    registry,
		HistorySize: v.GetInt("history"),
		Images:      images,
	})

	var tr transport.Transport
	switch kind {
	case transport.KindWS:
		tr = wscast.New(wscast.Config{
			Identity:    identity,
			Registry:    registry,
			Port:        v.GetInt("port"),
			OnClipboard: coord.HandleRemote,
		})
	default:
		tr = udpcast.New(udpcast.Config{
			Identity:    identity,
			Registry:    registry,
			Port:        v.GetInt("port"),
			OnClipboard: coord.HandleRemote,
		})
	}
	coord.AttachTransport(tr)

	if err := tr.Start(); err != nil {
		return fmt.Errorf("transport start: %w", err)
	}
	defer tr.Stop()

	coord.SubscribeDevices(func(ev device.Event) {
		slog.Info("peer set changed",
			"event", ev.Kind,
			"device", ev.Device.ID(),
			"peers", len(coord.Devices()),
		)
	})

	if !v.GetBool("no-clipboard") {
		mon := clipmon.New(identity.Name)
		mon.OnChange(coord.HandleLocal)
		if err := mon.Start(); err != nil {
			slog.Warn("clipboard unavailable, running relay-only", "err", err)
		} else {
			defer mon.Stop()
			coord.OnClipboard(func(pl packet.ClipboardPayload) {
				if !mon.Set(pl) {
					slog.Warn("failed to apply remote clipboard", "from", pl.DeviceName)
				}
			})
		}
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	<-ctx.Done()

	slog.Info("shutting down")
	return nil
}

func defaultDeviceName() string {
	if h, err := os.Hostname(); err == nil {
		return h
	}
	return "unknown"
}

func defaultDataDir() string {
	if home, err := os.UserHomeDir(); err == nil {
		return filepath.Join(home, ".local", "share", "lanclip")
	}
	return "data"
}
