package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"

	"github.com/thereceipt/spool-engine/internal/api"
	"github.com/thereceipt/spool-engine/internal/config"
	"github.com/thereceipt/spool-engine/internal/logging"
	"github.com/thereceipt/spool-engine/internal/printer"
	"github.com/thereceipt/spool-engine/internal/registry"
	"github.com/thereceipt/spool-engine/internal/render"
	"github.com/thereceipt/spool-engine/internal/serialport"
	"github.com/thereceipt/spool-engine/internal/spool"
	"github.com/thereceipt/spool-engine/internal/transport"
)

// Version is set during build via ldflags
var Version = "dev"

func main() {
	configPath := flag.String("config", "", "Path to a config file (yaml, json or toml)")
	flag.Parse()

	if err := run(*configPath); err != nil {
		fmt.Fprintf(os.Stderr, "spool-engine: %v\n", err)
		os.Exit(1)
	}
}

func run(configPath string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}

	log, err := logging.New(cfg.LogLevel, cfg.LogFormat, os.Stderr)
	if err != nil {
		return err
	}

	reg, err := registry.New(cfg.RegistryPath, log)
	if err != nil {
		return fmt.Errorf("failed to open printer registry: %w", err)
	}

	spooler := printer.NewSpooler(cfg.LP, cfg.LPStat)
	pool := printer.NewConnectionPool(printer.Dialer(cfg.HostDialTimeout), cfg.HostDialTimeout, log)
	defer pool.DisconnectAll()

	dispatcher := transport.New(spooler, pool,
		transport.WithDialTimeout(cfg.HostDialTimeout),
		transport.WithDefaultPort(cfg.HostDefaultPort),
		transport.WithLogger(log),
	)
	renderer := render.New(cfg.RenderDPI)
	fetcher := spool.NewFetcher(cfg.FetchTimeout, cfg.FetchMaxBytes)

	server := api.NewServer(api.Options{
		NewSession: func() *spool.Session {
			return spool.New(spool.Deps{
				Registry:   reg,
				Sources:    printer.DefaultSources(spooler),
				Dispatcher: dispatcher,
				Renderer:   renderer,
				Fetcher:    fetcher,
				Serial:     []serialport.Option{serialport.WithReadTimeout(cfg.SerialReadTimeout)},
				Log:        log,
				Version:    Version,
			})
		},
		Log:     log,
		Version: Version,
	})
	defer server.Shutdown()

	httpServer := &http.Server{
		Addr:              cfg.Addr,
		Handler:           server.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	serverErr := make(chan error, 1)
	go func() {
		log.Info().Str("addr", cfg.Addr).Str("version", Version).Msg("starting API server")
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverErr <- err
		}
	}()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	select {
	case err := <-serverErr:
		return fmt.Errorf("server error: %w", err)
	case <-ctx.Done():
	}

	return shutdown(httpServer, log)
}

func shutdown(httpServer *http.Server, log zerolog.Logger) error {
	log.Info().Msg("shutting down")

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := httpServer.Shutdown(ctx); err != nil {
		return fmt.Errorf("shutdown: %w", err)
	}
	return nil
}
