// carouseld is the carousel time-series storage daemon.
package main

import (
	"context"
	"flag"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"golang.org/x/sync/errgroup"

	"github.com/carouseldb/carousel/internal/api"
	"github.com/carouseldb/carousel/internal/config"
	"github.com/carouseldb/carousel/internal/ingest"
	"github.com/carouseldb/carousel/internal/logging"
	"github.com/carouseldb/carousel/internal/storage"
)

// Version is set at build time via ldflags
var Version = "dev"

func main() {
	cfgPath := flag.String("config", "carousel.yaml", "config file path")
	tcpListen := flag.String("tcp-listen", "", "ingestion listen address (overrides config)")
	httpListen := flag.String("http-listen", "", "query/stats listen address (overrides config)")
	dataDir := flag.String("data", "", "data directory (overrides config)")
	volumes := flag.Int("volumes", 0, "volume count (overrides config)")
	capacity := flag.Int64("capacity", 0, "volume capacity in bytes (overrides config)")
	flag.Parse()

	// Load config
	cfg, err := config.Load(*cfgPath)
	if err != nil {
		if os.IsNotExist(err) {
			cfg = config.DefaultConfig()
		} else {
			slog.Error("load config failed", "path", *cfgPath, "error", err)
			os.Exit(1)
		}
	}

	// CLI overrides
	if *tcpListen != "" {
		cfg.Server.TCPListen = *tcpListen
	}
	if *httpListen != "" {
		cfg.Server.HTTPListen = *httpListen
	}
	if *dataDir != "" {
		cfg.DataDir = *dataDir
	}
	if *volumes > 0 {
		cfg.Volumes.Count = *volumes
	}
	if *capacity > 0 {
		cfg.Volumes.Capacity = *capacity
	}

	level := slog.LevelInfo
	switch cfg.Logging.Level {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	}
	logging.Init(level, cfg.Logging.JSON)
	log := logging.Component("main")

	log.Info("carouseld starting", "version", Version,
		"volumes", cfg.Volumes.Count, "capacity", cfg.Volumes.Capacity)

	// Storage engine
	svc, err := storage.New(cfg)
	if err != nil {
		log.Error("create storage service failed", "error", err)
		os.Exit(1)
	}
	if err := svc.Start(); err != nil {
		log.Error("start storage service failed", "error", err)
		os.Exit(1)
	}

	// Ingestion listener
	ingestSrv := ingest.NewServer(cfg.Server.TCPListen, cfg.Ingest.MaxFrameSize, svc)
	if err := ingestSrv.Start(); err != nil {
		log.Error("start ingestion listener failed", "error", err)
		svc.Stop()
		os.Exit(1)
	}

	// HTTP query/stats interface
	apiSrv := api.New(cfg.Server.HTTPListen, svc)
	if err := apiSrv.Start(); err != nil {
		log.Error("start http listener failed", "error", err)
		ingestSrv.Stop()
		svc.Stop()
		os.Exit(1)
	}

	log.Info("carouseld ready",
		"tcp", cfg.Server.TCPListen, "http", cfg.Server.HTTPListen)

	// Wait for shutdown signal
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	sig := <-sigCh
	log.Info("shutting down", "signal", sig.String())

	// Close both front ends in parallel, then drain the engine.
	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()

	var g errgroup.Group
	g.Go(func() error { return apiSrv.Stop(shutdownCtx) })
	g.Go(func() error { return ingestSrv.Stop() })
	if err := g.Wait(); err != nil {
		log.Error("listener shutdown error", "error", err)
	}

	if err := svc.Stop(); err != nil {
		log.Error("storage shutdown error", "error", err)
		os.Exit(1)
	}

	log.Info("carouseld stopped")
}
