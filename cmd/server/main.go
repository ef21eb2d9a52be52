package main

import (
	"context"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/ippclub/better-ept/internal/config"
	"github.com/ippclub/better-ept/internal/handler"
	"github.com/ippclub/better-ept/internal/logger"
	"github.com/ippclub/better-ept/internal/service"
	"github.com/ippclub/better-ept/internal/store"
	"go.uber.org/zap"
)

func main() {
	configPath := flag.String("config", config.DefaultPath, "path to the configuration file")
	flag.Parse()

	cfg, err := config.LoadFromFile(*configPath)
	if err != nil {
		fmt.Printf("Failed to load config: %v\n", err)
		os.Exit(1)
	}

	log, err := logger.InitLogger(cfg)
	if err != nil {
		fmt.Printf("Failed to initialize logger: %v\n", err)
		os.Exit(1)
	}
	defer log.Sync()

	if err := cfg.EnsureDirs(); err != nil {
		log.Fatal("failed to prepare storage", zap.Error(err))
	}

	st, err := store.NewSQLiteStore(cfg.Storage.Path, log)
	if err != nil {
		log.Fatal("failed to open store", zap.Error(err))
	}
	defer st.Close()

	indexService := service.NewIndexService(cfg, log, st)

	api := handler.NewAPI(cfg, log, st, indexService)
	defer api.Close()

	r := chi.NewRouter()
	api.RegisterRoutes(r)

	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	go func() {
		log.Info("starting server", zap.Int("port", cfg.Server.Port))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal("failed to start server", zap.Error(err))
		}
	}()

	// finishes before the deferred st.Close
	var syncs sync.WaitGroup
	syncs.Add(1)
	go func() {
		defer syncs.Done()
		runSyncLoop(ctx, cfg.Sync.Interval, indexService.SyncAll, log)
	}()

	<-ctx.Done()

	log.Info("shutting down server...")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error("server forced to shutdown", zap.Error(err))
	}
	syncs.Wait()

	log.Info("server exited properly")
}

// runSyncLoop syncs right away and then on every tick until ctx is done.
// It returns only after the sync in progress, if any, has finished.
func runSyncLoop(ctx context.Context, interval time.Duration, syncAll func(context.Context) error, log *zap.Logger) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		if err := syncAll(ctx); err != nil {
			log.Error("periodic sync failed", zap.Error(err))
		} else {
			log.Info("periodic sync completed successfully")
		}

		select {
		case <-ticker.C:
		case <-ctx.Done():
			return
		}
	}
}
