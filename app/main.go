package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/mlevkov/feedcore/app/api"
	"github.com/mlevkov/feedcore/app/cfg"
	"github.com/mlevkov/feedcore/app/config"
	"github.com/mlevkov/feedcore/app/engine"
	"github.com/mlevkov/feedcore/app/parser"
	"github.com/mlevkov/feedcore/app/storage"
)

// scheduleTick is how often the scheduled-update loop checks for due feeds.
const scheduleTick = time.Minute

func main() {
	appCfg, err := cfg.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load configuration: %v\n", err)
		os.Exit(1)
	}
	if appCfg == nil {
		// Help was shown, exit gracefully
		return
	}

	logLevel := slog.LevelInfo
	if appCfg.Debug {
		logLevel = slog.LevelDebug
	}
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: logLevel})))

	slog.Info("Starting feedcore server", "version", appCfg.Version)

	store, err := storage.Open(appCfg.DBPath)
	if err != nil {
		slog.Error("Failed to open database", "path", appCfg.DBPath, "error", err)
		os.Exit(1)
	}
	defer store.Close()
	slog.Info("Database opened", "path", appCfg.DBPath)

	defaults, err := config.Load(appCfg.DefaultsFile)
	if err != nil {
		slog.Error("Failed to load scheduling defaults", "path", appCfg.DefaultsFile, "error", err)
		os.Exit(1)
	}

	e := engine.New(store, engine.Options{
		Parser:         parser.NewHTTPParser(nil, appCfg.UserAgent),
		Workers:        appCfg.WorkerCount,
		UpdateInterval: time.Duration(appCfg.UpdateInterval) * time.Minute,
		Jitter:         appCfg.UpdateJitter,
		Defaults:       defaults,
	})

	if appCfg.SearchEnabled {
		if err := e.EnableSearch(); err != nil {
			slog.Error("Failed to enable search", "error", err)
			os.Exit(1)
		}
		slog.Info("Search index enabled")
	}

	// Scheduled-update loop
	loopCtx, stopLoop := context.WithCancel(context.Background())
	loopDone := make(chan struct{})
	go func() {
		defer close(loopDone)
		runScheduledUpdates(loopCtx, e, appCfg.SearchEnabled)
	}()

	handler := api.NewHandler(e, appCfg.Version)
	server := api.NewServer(handler)

	httpServer := &http.Server{
		Addr:         ":" + appCfg.Port,
		Handler:      server,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  120 * time.Second,
	}

	serverErrChan := make(chan error, 1)
	go func() {
		slog.Info("Starting HTTP server", "port", appCfg.Port)
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			serverErrChan <- fmt.Errorf("HTTP server error: %w", err)
		}
	}()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

	select {
	case sig := <-sigChan:
		slog.Info("Received signal", "signal", sig.String())
	case err := <-serverErrChan:
		slog.Error("Server error", "error", err)
	}

	slog.Info("Shutting down gracefully")

	stopLoop()
	<-loopDone

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		slog.Error("HTTP server shutdown error", "error", err)
	}

	slog.Info("Shutdown complete")
}

// runScheduledUpdates periodically updates every feed that is due per its
// schedule, then drains the pending search index changes.
func runScheduledUpdates(ctx context.Context, e *engine.Engine, searchEnabled bool) {
	ticker := time.NewTicker(scheduleTick)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}

		if err := e.UpdateFeeds(ctx, engine.UpdateOptions{Scheduled: true}); err != nil {
			slog.Error("Scheduled update failed", "error", err)
		}

		if searchEnabled {
			if updated, deleted, err := e.UpdateSearch(); err != nil {
				slog.Error("Search index update failed", "error", err)
			} else if updated > 0 || deleted > 0 {
				slog.Debug("Search index updated", "updated", updated, "deleted", deleted)
			}
		}
	}
}
