package main

import (
	"context"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/dgallion1/mapread/internal/api"
	"github.com/dgallion1/mapread/internal/config"
	"github.com/dgallion1/mapread/internal/pipeline"
	"github.com/dgallion1/mapread/internal/reader"
	"github.com/dgallion1/mapread/internal/resource"
	"github.com/dgallion1/mapread/internal/schema"
)

func main() {
	log := slog.New(slog.NewJSONHandler(os.Stdout, nil))

	cfg, err := config.Load()
	if err != nil {
		log.Error("loading configuration", "error", err)
		os.Exit(1)
	}
	if err := cfg.Validate(); err != nil {
		log.Error("invalid configuration", "error", err)
		os.Exit(1)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Resources: configured directories first, then the embedded copies.
	loader := resource.Default(cfg.SchemaSearchPath)
	schemas := schema.NewCache(loader, log)
	if err := schemas.Warm(); err != nil {
		log.Warn("schema warm-up failed; affected versions will retry on first use", "error", err)
	}
	r := reader.New(schemas, log)
	resolver := resource.NewDTDEntityResolver(loader)

	// Initialize pipeline.
	orch := pipeline.NewOrchestrator(cfg, r, resolver, log)
	orch.Start(ctx)

	// Initialize HTTP server.
	srv := api.NewServer(orch, r, resolver, schemas, log, cfg)

	httpServer := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      srv,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 120 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	// Graceful shutdown.
	go func() {
		sigCh := make(chan os.Signal, 1)
		signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
		<-sigCh
		log.Info("shutting down...")

		orch.Stop()

		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer shutdownCancel()
		httpServer.Shutdown(shutdownCtx)
	}()

	log.Info("starting mapread", "port", cfg.Port, "search_path", cfg.SchemaSearchPath)
	if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		log.Error("server error", "error", err)
		os.Exit(1)
	}
}
