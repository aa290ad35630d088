package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"rule-persistence/internal/factory"
	"rule-persistence/internal/handler"
	"rule-persistence/internal/util"
)

func main() {
	// Initialize factory (which loads config and initializes all clients)
	f, err := factory.NewFactory()
	if err != nil {
		util.Fatal("Failed to initialize factory", util.ErrorField(err))
	}
	defer f.Close()

	cfg := f.Config()

	ctx, stop := context.WithCancel(context.Background())
	defer stop()
	background := f.StartBackground(ctx)

	server := &http.Server{
		Addr:         cfg.GetServerAddress(),
		Handler:      setupRouter(f),
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	go func() {
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			util.Fatal("Server failed to start", util.ErrorField(err))
		}
	}()

	util.Info("Server started successfully",
		util.String("environment", cfg.Environment),
		util.String("address", server.Addr),
		util.Duration("tick_interval", cfg.Job.TickInterval),
	)

	waitForShutdown(f, stop, background, server)
}

// setupRouter creates the ops router backed by the tick orchestrator
func setupRouter(f *factory.Factory) http.Handler {
	orchestrator := f.ServiceFactory().TickOrchestrator()
	ops := handler.NewOpsHandler(orchestrator, f.HealthCheck, util.Get())
	return handler.NewRouter(ops, promhttp.Handler(), util.Get())
}

func waitForShutdown(f *factory.Factory, stop context.CancelFunc, background <-chan struct{}, servers ...*http.Server) {
	signalChan := make(chan os.Signal, 1)
	signal.Notify(signalChan, syscall.SIGINT, syscall.SIGTERM, syscall.SIGQUIT)

	sig := <-signalChan
	util.Info("Received shutdown signal", util.String("signal", sig.String()))

	// Stop scheduling new ticks before the clients go away.
	stop()

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	for _, srv := range servers {
		if srv != nil {
			if err := srv.Shutdown(ctx); err != nil {
				util.Error("Failed to shutdown server gracefully", util.ErrorField(err))
			} else {
				util.Info("Server shutdown completed")
			}
		}
	}

	select {
	case <-background:
		util.Info("Background jobs stopped")
	case <-ctx.Done():
		util.Warn("Timed out waiting for the running tick, closing clients anyway")
	}
	f.Close()
}
