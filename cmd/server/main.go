package main

import (
	"context"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/ethaccount/userop/src/app"
	"github.com/joho/godotenv"
)

const (
	AppName    = "UserOp Service"
	AppVersion = "0.1.0"
	AppBuild   = "dev"
)

func main() {
	// Load .env when present; the environment wins otherwise
	_ = godotenv.Load()

	// Setup app configuration
	cfg := app.NewAppConfig()

	// Create root logger
	rootLogger := app.InitLogger(*cfg.LogLevel, AppName)

	// Create root context
	rootCtx, rootCancel := context.WithCancel(context.Background())
	rootCtx = rootLogger.WithContext(rootCtx)

	rootLogger.Info().
		Str("version", AppVersion).
		Str("build", AppBuild).
		Msgf("Launching %s", AppName)

	application := app.NewApplication(rootCtx, *cfg)
	if application == nil {
		rootLogger.Fatal().Msg("Failed to create application")
	}

	var wg sync.WaitGroup

	wg.Add(1)
	go application.RunHTTPServer(rootCtx, &wg)

	wg.Add(1)
	go application.RunPollingWorker(rootCtx, &wg)

	// Setup signal handling for graceful shutdown
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	// Wait for shutdown signal
	sig := <-sigChan
	rootLogger.Info().Str("signal", sig.String()).Msg("Received shutdown signal")

	// Cancel root context to signal all workers to stop
	rootCancel()

	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		rootLogger.Info().Msg("All workers stopped")
	case <-time.After(30 * time.Second):
		rootLogger.Warn().Msg("Timed out waiting for workers to stop")
	}

	application.Shutdown(rootLogger.WithContext(context.Background()))
	rootLogger.Info().Msg("Shutdown complete")
}
