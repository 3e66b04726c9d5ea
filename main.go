package main

import (
	"context"
	"flag"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"time"

	"beam/relay/internal/core"
	"beam/relay/internal/httpapi"
	"beam/relay/internal/ws"
	"beam/relay/internal/wt"
)

// Version is injected at build time with -ldflags.
var Version = "0.1.0-dev"

func main() {
	addr := flag.String("addr", ":8080", "Echo listen address (REST + websocket)")
	wtAddr := flag.String("wt-addr", "", "WebTransport listen address (empty disables the transport)")
	maxRooms := flag.Int("max-rooms", 3, "Maximum live rooms per owner address")
	joinStrikes := flag.Int("join-strikes", 3, "Registration attempts inside the window before a ban")
	joinWindow := flag.Duration("join-window", time.Second, "Strike-counting window for registrations")
	joinBan := flag.Duration("join-ban", 200*time.Second, "Ban duration after too many registration attempts")
	grace := flag.Duration("grace", 90*time.Second, "Idle grace before an unconnected room is reclaimed")
	metricsInterval := flag.Duration("metrics-interval", time.Minute, "Stats logging interval (0 disables)")
	debug := flag.Bool("debug", false, "Enable debug logging (auto-enabled for dev builds)")
	flag.Parse()

	// Auto-enable debug logging for dev builds; override with -debug flag.
	level := slog.LevelInfo
	if *debug || strings.Contains(Version, "dev") {
		level = slog.LevelDebug
	}
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level})))

	slog.Info("starting relay", "version", Version, "addr", *addr)

	owners := core.NewOwnershipLimiter(*maxRooms)
	registry := core.NewRegistry(owners, core.JoinLimitConfig{
		MaxStrikes: *joinStrikes,
		Window:     *joinWindow,
		BanFor:     *joinBan,
	}, *grace)

	server := httpapi.New(registry, owners, ws.DefaultFrameLimit())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt)
	go func() {
		<-sigCh
		slog.Info("received interrupt, shutting down")
		cancel()
	}()

	if *metricsInterval > 0 {
		go RunMetrics(ctx, registry, *metricsInterval)
	}

	if *wtAddr != "" {
		tlsConfig, fingerprint, err := generateTLSConfig(14*24*time.Hour, "")
		if err != nil {
			slog.Error("generate webtransport certificate", "err", err)
			os.Exit(1)
		}
		slog.Info("webtransport enabled", "addr", *wtAddr, "cert_sha256", fingerprint)

		wtServer := wt.NewServer(*wtAddr, tlsConfig, registry)
		go func() {
			if err := wtServer.Run(ctx); err != nil {
				slog.Error("webtransport server error", "err", err)
				cancel()
			}
		}()
	}

	slog.Info("listening", "addr", *addr)
	if err := server.Run(ctx, *addr); err != nil {
		slog.Error("server error", "err", err)
		os.Exit(1)
	}
	slog.Info("relay stopped")
}
