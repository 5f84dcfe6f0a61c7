package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"go.temporal.io/sdk/client"

	"paperlens/internal/api"
	"paperlens/internal/app"
	"paperlens/internal/config"
	"paperlens/internal/logging"
	"paperlens/internal/models"
	"paperlens/internal/queue"
	"paperlens/internal/workflows"
)

func main() {
	_ = godotenv.Load(".env")
	cfg := config.Load()
	log := logging.New(cfg.LogFormat, cfg.LogLevel)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	a, err := app.Build(ctx, cfg, log)
	if err != nil {
		log.Error("startup failed", "error", err)
		os.Exit(1)
	}
	defer a.Close()

	q := queue.New(a.Service, queue.Options{
		Logger: log,
		OnFinish: func(j queue.Job) {
			if j.Status != queue.StatusCompleted || j.Result == nil {
				return
			}
			saveCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer cancel()
			if _, err := a.Stores.History.SaveHistory(saveCtx, models.HistoryItem{ID: j.ID, Query: j.Label(), Result: j.Result}); err != nil {
				log.Warn("save job history failed", "job_id", j.ID, "error", err)
			}
		},
	})
	go q.Run(ctx)
	go func() {
		for ev := range q.Events() {
			log.Debug("queue event", "type", ev.Type, "job_id", ev.JobID, "status", ev.Status, "attempt", ev.Attempt)
		}
	}()

	deps := api.Deps{
		Analyst:  a.Service,
		Settings: a.Settings,
		Queue:    q,
		History:  a.Stores.History,
		Logger:   log,
	}
	if a.Stores.Calls != nil {
		deps.Calls = a.Stores.Calls
	}
	if cfg.TemporalEnabled {
		tc, err := client.Dial(client.Options{HostPort: cfg.TemporalAddress, Logger: log})
		if err != nil {
			log.Error("temporal dial failed", "address", cfg.TemporalAddress, "error", err)
			os.Exit(1)
		}
		defer tc.Close()
		deps.Batches = workflows.NewTemporalBatches(tc, cfg.TemporalTaskQueue)
	}

	srv := &http.Server{
		Addr:              cfg.APIAddr,
		Handler:           api.NewServer(deps).Routes(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()

	snap := a.Settings.Get()
	log.Info("paperlens api listening", "addr", cfg.APIAddr, "store", cfg.StoreDriver, "provider", snap.Provider, "model", snap.Model, "batches", cfg.TemporalEnabled)
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		log.Error("api server stopped", "error", err)
		os.Exit(1)
	}
}
