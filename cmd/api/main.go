package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	httpadapter "github.com/kirillkom/trialmatch/internal/adapters/http"
	"github.com/kirillkom/trialmatch/internal/bootstrap"
	"github.com/kirillkom/trialmatch/internal/config"
	"github.com/kirillkom/trialmatch/internal/observability/logging"
	"github.com/kirillkom/trialmatch/internal/observability/metrics"
	"github.com/kirillkom/trialmatch/internal/observability/tracing"
)

const serviceName = "trialmatch-api"

func main() {
	cfg := config.Load()
	slog.SetDefault(logging.NewJSONLogger(serviceName, cfg.LogLevel))

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	shutdownTracing, err := tracing.Init(ctx, tracing.Options{
		Enabled:  cfg.OTelEnabled,
		Endpoint: cfg.OTelEndpoint,
		Service:  serviceName,
	})
	if err != nil {
		slog.Error("tracing_init_failed", "error", err)
		os.Exit(1)
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := shutdownTracing(shutdownCtx); err != nil {
			slog.Warn("tracing_shutdown_failed", "error", err)
		}
	}()

	httpMetrics := metrics.NewHTTPServerMetrics(serviceName)
	app, err := bootstrap.New(ctx, cfg, bootstrap.Options{
		Observer: httpMetrics.SearchObserver(serviceName),
	})
	if err != nil {
		slog.Error("bootstrap_failed", "error", err)
		os.Exit(1)
	}
	defer app.Close()

	router, err := httpadapter.NewRouter(httpadapter.Options{
		Searcher:       app.Search,
		Trials:         app.Search,
		Categorize:     app.Categorize,
		Agent:          app.Agent,
		LLMConfigured:  app.LLMConfigured,
		Metrics:        httpMetrics,
		RateLimitRPS:   cfg.APIRateLimitRPS,
		RateLimitBurst: cfg.APIRateLimitBurst,
		MaxInFlight:    cfg.APIMaxInFlight,
	})
	if err != nil {
		slog.Error("router_init_failed", "error", err)
		os.Exit(1)
	}

	// Eligibility chats hold the connection for minutes, so no write timeout.
	server := &http.Server{
		Addr:              ":" + cfg.APIPort,
		Handler:           router.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	go func() {
		slog.Info("api_listening", "port", cfg.APIPort)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("api_server_failed", "error", err)
			stop()
		}
	}()

	<-ctx.Done()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		slog.Warn("api_shutdown_failed", "error", err)
	}
}
