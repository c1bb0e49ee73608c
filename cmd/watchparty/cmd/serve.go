package cmd

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/nfrund/watchparty/internal/app"
	"github.com/nfrund/watchparty/internal/auth"
	"github.com/nfrund/watchparty/internal/config"
	"github.com/nfrund/watchparty/internal/logging"
	"github.com/nfrund/watchparty/internal/metrics"
	"github.com/nfrund/watchparty/internal/middleware"
	"github.com/nfrund/watchparty/internal/pubsub"
	"github.com/nfrund/watchparty/internal/registry"
	"github.com/nfrund/watchparty/internal/server"
	"github.com/nfrund/watchparty/internal/websocket"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/spf13/cobra"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the websocket server",
	RunE: func(cmd *cobra.Command, args []string) error {
		return serve(cmd.Context())
	},
}

func init() {
	rootCmd.AddCommand(serveCmd)
}

func serve(ctx context.Context) error {
	cfg := config.New()
	logging.New(cfg.LogFormat, cfg.LogLevel)

	tracer, flushTraces, err := pubsub.NewTracer(ctx, pubsub.TracingConfig{
		Enabled:     cfg.TracingEnabled,
		ServiceName: cfg.TracingServiceName,
		ZipkinURL:   cfg.TracingZipkinURL,
		Version:     version,
	})
	if err != nil {
		return fmt.Errorf("setup tracing: %w", err)
	}
	bus := pubsub.NewWatermillBridgeWithTracer(tracer)

	promReg := prometheus.NewRegistry()
	promReg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	m := metrics.New(promReg)

	var verifier middleware.TokenVerifier
	if cfg.TokenAuth() {
		v, err := auth.NewVerifier(cfg.JWTSecret, cfg.JWTAlgorithm)
		if err != nil {
			return fmt.Errorf("token verifier: %w", err)
		}
		verifier = v
	}

	s, err := server.New(server.Dependencies{Config: cfg, Metrics: m, Verifier: verifier})
	if err != nil {
		return err
	}
	s.OnStop(func(ctx context.Context) {
		if err := bus.Close(); err != nil {
			slog.Error("Failed to close pubsub bus", "error", err)
		}
		if err := flushTraces(ctx); err != nil {
			slog.Warn("Failed to flush traces on shutdown", "error", err)
		}
	})

	modules := app.NewModules(app.Dependencies{
		Publisher:  bus,
		Subscriber: bus,
		Metrics:    m,
		Accept: websocket.AcceptOptions{
			OriginPatterns: cfg.AllowedOrigins,
			WriteTimeout:   cfg.WriteTimeout,
		},
	})
	if err := s.InitModules(ctx, modules, registry.New(cfg)); err != nil {
		return err
	}
	s.RegisterRoutes()

	return s.Start(ctx)
}
