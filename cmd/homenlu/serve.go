package main

import (
	"context"
	"errors"
	"log/slog"
	"os/signal"
	"sync"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/nadzzz/homenlu/internal/dispatch"
	"github.com/nadzzz/homenlu/internal/health"
	"github.com/nadzzz/homenlu/internal/message"
	"github.com/nadzzz/homenlu/internal/transport"
	grpctransport "github.com/nadzzz/homenlu/internal/transport/grpc"
	httptransport "github.com/nadzzz/homenlu/internal/transport/http"
	mqtttransport "github.com/nadzzz/homenlu/internal/transport/mqtt"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the interpretation daemon",
	Args:  cobra.NoArgs,
	RunE:  runServe,
}

func init() {
	rootCmd.AddCommand(serveCmd)
}

func runServe(_ *cobra.Command, _ []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	slog.Info("homenlu starting", "version", version)

	// Create root context with signal handling for graceful shutdown.
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	registry, engines, err := buildEngines(ctx, cfg)
	if err != nil {
		return err
	}
	defer registry.Close()

	// Initialize enabled transports.
	var transports []transport.Transport
	if cfg.Transports.GRPC.Enabled {
		transports = append(transports, grpctransport.New(cfg.Transports.GRPC.Port))
	}
	if cfg.Transports.HTTP.Enabled {
		transports = append(transports, httptransport.New(cfg.Transports.HTTP.Port, cfg.Transports.HTTP.Swagger))
	}
	if cfg.Transports.MQTT.Enabled {
		transports = append(transports, mqtttransport.New(cfg.Transports.MQTT))
	}
	if len(transports) == 0 {
		return errors.New("no transports enabled, enable at least one in config")
	}

	senders := make([]transport.Sender, len(transports))
	for i, t := range transports {
		senders[i] = t
	}
	named := make(map[string]message.Target, len(cfg.Targets))
	for name, t := range cfg.Targets {
		named[name] = message.Target{ServiceName: name, Endpoint: t.Endpoint, Protocol: t.Protocol, Token: t.Token}
	}
	dispatcher := dispatch.New(registry, senders...).WithTargets(named)

	// Start health check server.
	healthServer := health.New(cfg.Server.HealthPort, engines)
	go func() {
		if err := healthServer.ListenAndServe(ctx); err != nil {
			slog.Error("health server failed", "error", err)
		}
	}()

	// Start all transports.
	var wg sync.WaitGroup
	for _, t := range transports {
		wg.Add(1)
		go func(t transport.Transport) {
			defer wg.Done()
			slog.Info("starting transport", "name", t.Name())
			if err := t.Listen(ctx, dispatcher.Handle); err != nil {
				slog.Error("transport failed", "name", t.Name(), "error", err)
			}
		}(t)
	}

	healthServer.SetReady(true)
	slog.Info("homenlu ready",
		"transports", len(transports),
		"tagger", engines.DefaultTagger,
		"retriever", engines.DefaultRetriever,
		"health_port", cfg.Server.HealthPort)

	// Block until shutdown signal.
	<-ctx.Done()
	slog.Info("shutdown signal received, draining...")
	healthServer.SetReady(false)

	for _, t := range transports {
		if err := t.Close(); err != nil {
			slog.Error("transport close error", "name", t.Name(), "error", err)
		}
	}

	wg.Wait()
	slog.Info("homenlu stopped")
	return nil
}
