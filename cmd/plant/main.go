// Command plant is the astarte-data-updater-plant process entrypoint.
package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	_ "github.com/joho/godotenv/autoload"

	"github.com/astarte-platform/astarte-data-updater-plant/internal/app"
	"github.com/astarte-platform/astarte-data-updater-plant/internal/logging"
	"github.com/astarte-platform/astarte-data-updater-plant/internal/telemetry"
)

func main() {
	cfg := app.LoadConfig()

	log := logging.New(cfg.ServiceName)
	log.Info("starting service",
		slog.String("instance_id", cfg.InstanceID),
		slog.String("grpc_addr", cfg.GRPCAddr),
	)

	shutdownTracer, err := telemetry.InitTracer(context.Background(), cfg.ServiceName, cfg.OTLPEndpoint)
	if err != nil {
		log.Error("failed to initialize tracer", slog.Any("error", err))
		os.Exit(1)
	}
	defer func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := shutdownTracer(ctx); err != nil {
			log.Error("error shutting down tracer", slog.Any("error", err))
		}
	}()

	a, err := app.NewApp(cfg)
	if err != nil {
		log.Error("failed to create app", slog.Any("error", err))
		os.Exit(1)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

	go func() {
		<-sigChan
		log.Info("received shutdown signal")
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 15*time.Second)
		defer shutdownCancel()
		if err := a.Shutdown(shutdownCtx); err != nil {
			log.Error("error during shutdown", slog.Any("error", err))
		}
		cancel()
	}()

	if err := a.Start(ctx); err != nil && ctx.Err() == nil {
		log.Error("failed to start app", slog.Any("error", err))
		os.Exit(1)
	}
}
