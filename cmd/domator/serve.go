package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/rand/v2"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"domator-go/internal/firmware"
	"domator-go/internal/hub"
	"domator-go/internal/liveness"
	"domator-go/internal/mesh"
	"domator-go/internal/metrics"
	"domator-go/internal/mqtt"
	"domator-go/internal/naming"
	"domator-go/internal/state"
	"domator-go/internal/store"
	"domator-go/internal/web"
)

func newServeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Connect to the broker and serve the REST and websocket API",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := configFromFlags(cmd)
			if err != nil {
				return err
			}
			logger := newLogger(cfg)
			slog.SetDefault(logger)
			return serve(cmd.Context(), cfg, logger)
		},
	}
}

func serve(ctx context.Context, cfg *Config, logger *slog.Logger) error {
	logger.Info("domator starting", "version", version)

	db, err := store.NewBoltStore(cfg.Store.Path)
	if err != nil {
		return fmt.Errorf("open store: %w", err)
	}
	defer db.Close()

	catalog, err := firmware.Load(cfg.Firmware.Path)
	if err != nil {
		return fmt.Errorf("load firmware catalog: %w", err)
	}

	var sink mesh.MetricsSink
	exporter, err := metrics.New(metrics.Config{
		Enabled: cfg.Metrics.Enabled,
		URL:     cfg.Metrics.URL,
		Token:   cfg.Metrics.Token,
		Org:     cfg.Metrics.Org,
		Bucket:  cfg.Metrics.Bucket,
		Labels:  cfg.Metrics.Labels,
	}, logger)
	switch {
	case err == nil:
		sink = exporter
		defer exporter.Close()
	case errors.Is(err, metrics.ErrDisabled):
		logger.Info("metrics export disabled")
	default:
		return fmt.Errorf("create metrics exporter: %w", err)
	}

	seed := cfg.Naming.Seed
	if seed == 0 {
		seed = rand.Uint64()
	}

	broker, err := mqtt.Connect(mqtt.Config{
		Broker:   cfg.MQTT.Broker,
		ClientID: cfg.MQTT.ClientID,
		Username: cfg.MQTT.Username,
		Password: cfg.MQTT.Password,
		QoS:      cfg.MQTT.QoS,
	}, duration(cfg.MQTT.Timeout), logger)
	if err != nil {
		return fmt.Errorf("connect broker: %w", err)
	}

	h := hub.New(logger, cfg.Web.QueueSize, 5*time.Second)
	router := mesh.New(mesh.Config{
		TopicPrefix:   cfg.MQTT.TopicPrefix,
		QoS:           cfg.MQTT.QoS,
		SweepInterval: duration(cfg.Liveness.SweepInterval),
		PingInterval:  duration(cfg.Liveness.PingInterval),
	}, mesh.Deps{
		Store:     db,
		Cache:     state.NewCache(),
		Liveness:  liveness.New(duration(cfg.Liveness.Timeout)),
		Names:     naming.NewAssigner(db, naming.NewWordGenerator(seed), logger),
		Firmware:  catalog,
		Hub:       h,
		Transport: broker,
		Metrics:   sink,
		Logger:    logger,
	})
	if err := router.Start(); err != nil {
		broker.Close()
		return fmt.Errorf("start router: %w", err)
	}

	auto, autoWebOpts := initAutomation(router, cfg, logger)

	webOpts := []web.ServerOption{web.WithFirmware(catalog), web.WithVersion(version)}
	if cfg.Web.APIKey != "" {
		webOpts = append(webOpts, web.WithAPIKey(cfg.Web.APIKey))
	}
	if len(cfg.Web.AllowedOrigins) > 0 {
		webOpts = append(webOpts, web.WithAllowedOrigins(cfg.Web.AllowedOrigins))
	}
	webOpts = append(webOpts, autoWebOpts...)

	httpServer := &http.Server{
		Addr:         cfg.Web.Listen,
		Handler:      web.NewServer(router, db, h, logger, webOpts...),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  120 * time.Second,
	}

	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		logger.Info("web server starting", "addr", cfg.Web.Listen)
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		logger.Info("shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := httpServer.Shutdown(shutdownCtx); err != nil {
			logger.Error("http server shutdown", "err", err)
		}
		return nil
	})
	err = g.Wait()

	// Broker first, then drain the router while the hub is still open.
	broker.Close()
	router.Stop()
	auto.Stop()
	h.Close()

	logger.Info("goodbye")
	return err
}
