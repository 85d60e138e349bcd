package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/logtide/logtide/admin"
	"github.com/logtide/logtide/cfg"
	"github.com/logtide/logtide/publisher"
	"github.com/logtide/logtide/stream"
	"github.com/logtide/logtide/telemetry"

	// Sink and transformer implementations register themselves.
	_ "github.com/logtide/logtide/publisher/sink"
	_ "github.com/logtide/logtide/publisher/transformer"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

func main() {
	flag.Parse()

	// Load configuration
	err := cfg.Load(*cfg.ConfigPathFlag)
	if err != nil {
		panic(err)
	}

	// Validate configuration
	if err := cfg.Validate(); err != nil {
		panic(fmt.Sprintf("Invalid configuration: %v", err))
	}

	// Setup logging
	var writer io.Writer = zerolog.NewConsoleWriter()
	if cfg.Config.Logging.Format == "json" {
		writer = os.Stdout
	}
	gLog := zerolog.New(writer).
		With().
		Timestamp().
		Str("client_id", cfg.Config.Proxy.ClientID).
		Logger()

	if cfg.Config.Logging.Verbose {
		log.Logger = gLog.Level(zerolog.DebugLevel)
	} else {
		log.Logger = gLog.Level(zerolog.InfoLevel)
	}

	log.Info().Msg("Logtide - Change Log Streaming Client")
	log.Debug().Msg("Initializing telemetry")
	telemetry.InitializeTelemetry()
	telemetry.InitMetrics()

	// Stream client for the proxy subscription
	log.Info().Msg("Initializing stream client")
	client := stream.NewClient(cfg.Config.Proxy.Address, &cfg.Config.Subscription, nil)

	// Publisher registry fanning records out to the configured sinks
	log.Info().Int("sinks", len(cfg.Config.Sinks)).Msg("Initializing publisher registry")
	registry, err := publisher.NewRegistry(cfg.Config.Sinks)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to initialize publisher registry")
		return
	}

	if err := registry.Start(client.Records()); err != nil {
		log.Fatal().Err(err).Msg("Failed to start publisher registry")
		return
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go client.Start(ctx)

	go func() {
		resp, err := client.WaitReady(ctx)
		if err != nil {
			return
		}
		log.Info().
			Str("proxy_version", resp.Version).
			Str("proxy_address", resp.IP).
			Msg("Subscription established")
	}()

	// Monitor server: metrics, pprof and the admin API
	var monitor *admin.Server
	if cfg.Config.Prometheus.Enabled {
		monitor = admin.NewServer(admin.NewAdminHandlers(client, registry))
		addr := fmt.Sprintf("%s:%d", cfg.Config.Prometheus.Address, cfg.Config.Prometheus.Port)
		if err := monitor.Start(addr); err != nil {
			log.Fatal().Err(err).Msg("Failed to start monitor server")
			return
		}
	}

	// Keep queue depth gauges fresh while the pipeline idles
	collector := telemetry.NewMetricsCollector(client, registry, 5*time.Second)
	collector.Start()

	log.Info().
		Str("proxy", cfg.Config.Proxy.Address).
		Str("source", cfg.Config.Subscription.Source).
		Msg("Logtide started successfully")

	// Run until a shutdown signal arrives or the stream dies fatally
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	exitCode := 0
	select {
	case sig := <-sigCh:
		log.Info().Str("signal", sig.String()).Msg("Shutting down")
	case <-client.Done():
		if err := client.Err(); err != nil {
			log.Error().Err(err).Msg("Stream terminated")
			exitCode = 1
		}
	}

	// Stop the stream first so the delivery queue closes, then let the
	// registry drain what is left into the sinks.
	client.Stop()
	registry.Stop()
	collector.Stop()
	if monitor != nil {
		monitor.Stop()
	}

	log.Info().Msg("Logtide stopped")
	os.Exit(exitCode)
}
