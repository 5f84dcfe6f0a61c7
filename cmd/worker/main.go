package main

import (
	"context"
	"os"

	"github.com/joho/godotenv"
	"go.temporal.io/sdk/client"
	"go.temporal.io/sdk/worker"

	"paperlens/internal/activities"
	"paperlens/internal/app"
	"paperlens/internal/config"
	"paperlens/internal/logging"
	"paperlens/internal/workflows"
)

func main() {
	_ = godotenv.Load(".env")
	cfg := config.Load()
	log := logging.New(cfg.LogFormat, cfg.LogLevel)

	a, err := app.Build(context.Background(), cfg, log)
	if err != nil {
		log.Error("startup failed", "error", err)
		os.Exit(1)
	}
	defer a.Close()

	c, err := client.Dial(client.Options{HostPort: cfg.TemporalAddress, Logger: log})
	if err != nil {
		log.Error("temporal dial failed", "address", cfg.TemporalAddress, "error", err)
		os.Exit(1)
	}
	defer c.Close()

	w := worker.New(c, cfg.TemporalTaskQueue, worker.Options{
		// Batch jobs run one at a time, like the in-process queue.
		MaxConcurrentActivityExecutionSize: 1,
	})
	workflows.Register(w)
	activities.Register(w, activities.New(a.Service, a.Stores.History, log))

	log.Info("paperlens worker listening", "address", cfg.TemporalAddress, "queue", cfg.TemporalTaskQueue, "store", cfg.StoreDriver)
	if err := w.Run(worker.InterruptCh()); err != nil {
		log.Error("worker stopped", "error", err)
		os.Exit(1)
	}
}
