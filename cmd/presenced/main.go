package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"presenced/internal/api"
	"presenced/internal/config"
	"presenced/internal/logging"
	"presenced/internal/status"
	"presenced/internal/store"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "configuration error: %v\n", err)
		os.Exit(1)
	}
	logging.Setup(cfg.LogLevel, cfg.LogFile)

	st, err := openStore(cfg)
	if err != nil {
		slog.Error("open status store", "driver", cfg.StoreDriver, "error", err)
		os.Exit(1)
	}
	defer st.Close()
	slog.Info("status store ready", "driver", cfg.StoreDriver)

	hub := status.NewHub(cfg.BufferSize)
	svc := status.NewService(st, hub, cfg.StatusTTL)
	server := api.New(cfg.HTTPAddr, svc, hub)

	errCh := make(chan error, 1)
	go func() { errCh <- server.Start() }()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-stop:
		slog.Info("shutting down", "signal", sig.String())
	case err := <-errCh:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("server failed", "error", err)
			os.Exit(1)
		}
		return
	}

	// closing the hub first terminates every delivery loop, so Shutdown
	// is not left waiting on open websocket connections
	hub.Close()
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(ctx); err != nil {
		slog.Error("shutdown", "error", err)
	}
}

func openStore(cfg config.Config) (store.Store, error) {
	switch cfg.StoreDriver {
	case "sqlite":
		st, err := store.OpenSQLite(cfg.SQLitePath)
		if err != nil {
			return nil, err
		}
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := st.Init(ctx); err != nil {
			st.Close()
			return nil, err
		}
		return st, nil
	case "memory":
		return store.OpenMemory(), nil
	default:
		return store.OpenRedis(cfg.RedisAddr), nil
	}
}
