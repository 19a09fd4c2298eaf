// Command agorad runs the Agora dialogue server: a circle of LLM-backed
// personas in seeded turn-taking conversation, with streaming analysis and a
// REST/SSE control surface.
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/agora-circle/agora/internal/app"
	"github.com/agora-circle/agora/internal/config"
	"github.com/agora-circle/agora/internal/observe"
	"github.com/agora-circle/agora/internal/server"
)

var version = "dev"

func main() {
	if err := run(); err != nil {
		fmt.Fprintln(os.Stderr, "agorad:", err)
		os.Exit(1)
	}
}

func run() error {
	var (
		configPath  = flag.String("config", "config/server.yaml", "path to the server configuration file")
		listenAddr  = flag.String("listen", "", "listen address override")
		showVersion = flag.Bool("version", false, "print version and exit")
	)
	flag.Parse()

	if *showVersion {
		fmt.Println("agorad", version)
		return nil
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		return err
	}
	if *listenAddr != "" {
		cfg.Server.ListenAddr = *listenAddr
	}

	slog.SetDefault(newLogger(cfg.Server.LogLevel))

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	shutdownMetrics, err := observe.InitProvider(ctx, observe.ProviderConfig{
		ServiceName:    "agora",
		ServiceVersion: version,
	})
	if err != nil {
		return err
	}
	defer shutdownMetrics(context.Background())

	appCtx, err := app.New(cfg, observe.DefaultMetrics())
	if err != nil {
		return err
	}

	slog.Info("agorad starting",
		"version", version,
		"listen", cfg.Server.ListenAddr,
		"backend", cfg.Backend.BaseURL,
		"data_dir", cfg.Storage.DataDir)

	return server.New(appCtx).Run(ctx)
}

func newLogger(level config.LogLevel) *slog.Logger {
	var l slog.Level
	switch level {
	case config.LogDebug:
		l = slog.LevelDebug
	case config.LogWarn:
		l = slog.LevelWarn
	case config.LogError:
		l = slog.LevelError
	default:
		l = slog.LevelInfo
	}
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: l}))
}
