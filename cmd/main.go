package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/engramlabs/engram-backend/internal/app"
	"github.com/engramlabs/engram-backend/internal/platform/tracing"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	a, err := app.New(ctx)
	if err != nil {
		fmt.Fprintf(os.Stderr, "startup failed: %v\n", err)
		os.Exit(1)
	}
	defer a.Close()

	shutdownTracing := tracing.Init(ctx, a.Log, tracing.Config{
		ServiceName: "engram",
		Environment: a.Cfg.Env,
	})

	srv := &http.Server{
		Addr:    ":" + a.Cfg.Port,
		Handler: a.Router,
	}

	workerDone := make(chan struct{})
	go func() {
		defer close(workerDone)
		a.Worker.Run(ctx)
	}()

	go func() {
		a.Log.Info("server listening", "addr", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			a.Log.Error("server failed", "error", err)
			stop()
		}
	}()

	<-ctx.Done()
	a.Log.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		a.Log.Warn("server shutdown incomplete", "error", err)
	}

	select {
	case <-workerDone:
	case <-shutdownCtx.Done():
		a.Log.Warn("worker drain timed out")
	}

	if shutdownTracing != nil {
		if err := shutdownTracing(shutdownCtx); err != nil {
			a.Log.Warn("tracing shutdown failed", "error", err)
		}
	}
}
