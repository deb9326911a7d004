package main

import (
	"context"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"poly_trader/internal/app"
	"poly_trader/internal/event"

	_ "net/http/pprof" // For pprof profiling
)

func main() {
	// 1. Pprof Server (for performance profiling)
	go func() {
		// Localhost only for security
		slog.Info("🕵️ Pprof server started on localhost:6060")
		if err := http.ListenAndServe("localhost:6060", nil); err != nil {
			slog.Error("Pprof server failed", slog.Any("error", err))
		}
	}()

	// 2. Graceful Shutdown Context
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// 3. System Bootstrapping
	bootstrap := app.NewBootstrap(os.Getenv("POLY_CONFIG"))
	if err := bootstrap.Initialize(ctx); err != nil {
		slog.Error("❌ Bootstrapping failed", slog.Any("error", err))
		bootstrap.Shutdown(context.Background())
		os.Exit(1)
	}

	// 4. Warm event pool before ticks arrive
	event.Warmup()

	// 5. Feed + prefetch workers
	if err := bootstrap.Start(ctx); err != nil {
		slog.Error("❌ Startup failed", slog.Any("error", err))
		bootstrap.Shutdown(context.Background())
		os.Exit(1)
	}

	// 6. Primary loop in its own goroutine
	done := make(chan struct{})
	go func() {
		defer close(done)
		bootstrap.Runner.Run(ctx)
	}()

	slog.InfoContext(ctx, "✨ Poly Trader fully operational. Press Ctrl+C to exit.",
		slog.String("mode", string(bootstrap.Engine.Mode())))

	// Wait for shutdown signal
	<-ctx.Done()

	slog.Info("👋 Shutting down gracefully...")
	<-done

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	bootstrap.Shutdown(shutdownCtx)
}
