package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"

	"clinical-report-be/internal/bootstrap"
	"clinical-report-be/internal/config"
	"clinical-report-be/internal/pkg/logger"
	"clinical-report-be/internal/server"
	"clinical-report-be/internal/tracer"
)

func main() {
	// 1. Load Configuration
	cfg := config.Load()

	// 2. Tracing (no-op unless OTEL_ENABLED)
	shutdownTracer := tracer.InitTracer(cfg.App.OtelEnabled)
	defer shutdownTracer(context.Background())

	sysLogger := logger.NewZapLogger(cfg.App.LogFilePath, cfg.IsProduction())
	defer sysLogger.Sync()

	// 3. Bootstrap Dependencies (Container)
	container, err := bootstrap.NewContainer(cfg, sysLogger)
	if err != nil {
		log.Panicf("Unable to bootstrap: %v", err)
	}
	defer container.Close()

	// 4. Initialize Server
	srv := server.New(cfg, container)

	go func() {
		quit := make(chan os.Signal, 1)
		signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
		<-quit
		sysLogger.Info("SERVER", "Shutting down", nil)
		if err := srv.Shutdown(); err != nil {
			sysLogger.Error("SERVER", "Shutdown failed", map[string]interface{}{"error": err.Error()})
		}
	}()

	// 5. Run Server
	if err := srv.Run(); err != nil {
		log.Printf("Server stopped: %v", err)
	}
}
