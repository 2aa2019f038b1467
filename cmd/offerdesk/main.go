package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"offerdesk/internal/api"
	"offerdesk/internal/bridge"
	"offerdesk/internal/config"
	"offerdesk/internal/model"
	"offerdesk/internal/obs"
	"offerdesk/internal/storage"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

func main() {
	// Cancel context on SIGINT/SIGTERM
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("config: %v", err)
	}

	db, err := storage.Open(ctx, storage.Config{
		Path:        cfg.DBPath,
		BusyTimeout: 5 * time.Second,
	})
	if err != nil {
		log.Fatalf("db open: %v", err)
	}
	defer db.Close()

	logger := obs.NewLogger()
	metrics := obs.NewMetrics(prometheus.DefaultRegisterer)

	client := bridge.New(cfg.BridgeURL, nil, logger)
	desk := model.NewDesk(model.Config{
		Platform:       client,
		Sessions:       client,
		Approver:       client,
		Inventory:      client,
		Handler:        bridge.NewHandler(client, 10*time.Second),
		AccountID:      cfg.AccountID,
		IdentitySecret: cfg.IdentitySecret,
		Policy:         model.RetryPolicy{MaxAttempts: cfg.MaxAttempts, Step: cfg.RetryStep},
		Retention:      cfg.Retention,
		Logger:         logger,
		Metrics:        metrics,
	})

	// Reservations of offers still in flight survive a restart.
	snap, err := db.LoadSnapshot(ctx)
	if err != nil {
		log.Fatalf("load poll snapshot: %v", err)
	}
	desk.Adopt(snap)

	apiServer := api.NewServer(desk, api.Options{
		Store:     db,
		TokenHash: cfg.EventTokenHash,
		Logger:    logger,
	})

	mux := http.NewServeMux()
	mux.Handle("/", apiServer.Handler())
	mux.Handle("/metrics", promhttp.Handler())

	srv := &http.Server{
		Addr:              cfg.Addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	var wg sync.WaitGroup

	// Poll data sweeper
	wg.Add(1)
	go func() {
		defer wg.Done()
		desk.PollState().Run(ctx, db, time.Minute) // exits when ctx is cancelled
	}()

	wg.Add(1)
	go func() {
		defer wg.Done()
		log.Printf("offerdesk up addr=%s db=%s bridge=%s", cfg.Addr, cfg.DBPath, cfg.BridgeURL)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Printf("http server error: %v", err)
			stop()
		}
	}()

	<-ctx.Done()
	log.Printf("shutdown signal received")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Printf("http shutdown error: %v", err)
	}

	// Abort pending backoffs and let the in-flight offer finish.
	desk.Close()
	wg.Wait()
	log.Printf("offerdesk stopped")
}
