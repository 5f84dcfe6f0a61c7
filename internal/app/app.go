// Package app assembles the analysis stack shared by the API and the worker.
package app

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"paperlens/internal/analysis"
	"paperlens/internal/config"
	"paperlens/internal/dispatch"
	"paperlens/internal/extract"
	"paperlens/internal/providers"
	"paperlens/internal/storage"
)

type App struct {
	Config   config.Config
	Settings *config.SettingsStore
	Stores   *storage.Stores
	Service  *analysis.Service
	Log      *slog.Logger
}

// Build opens storage, loads provider settings and wires the dispatcher into
// an analysis service. Close releases the storage handle.
func Build(ctx context.Context, cfg config.Config, log *slog.Logger) (*App, error) {
	settings, err := config.NewSettingsStore(cfg.SettingsFile)
	if err != nil {
		return nil, fmt.Errorf("load settings: %w", err)
	}
	stores, err := storage.Open(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("open storage: %w", err)
	}

	opts := dispatch.Options{
		Retry: dispatch.RetryPolicy{
			MaxRetries: cfg.RetryMax,
			BaseDelay:  time.Duration(cfg.RetryBaseDelayMS) * time.Millisecond,
		},
		FallbackModels: providers.ParseModelList(cfg.FallbackModels),
		Limiter:        dispatch.NewLimiter(cfg.RequestsPerMinute),
		Logger:         log,
	}
	if stores.Calls != nil {
		opts.Recorder = stores.Calls
	}
	d := dispatch.New(providers.NewManager(cfg), opts)

	svcOpts := analysis.Options{
		Extractor: extract.Extractor{Pick: extract.ParsePick(cfg.ExtractPick)},
		Logger:    log,
	}
	if cfg.VerifyLinks {
		svcOpts.Verifier = analysis.NewHTTPLinkVerifier(nil)
	}

	return &App{
		Config:   cfg,
		Settings: settings,
		Stores:   stores,
		Service:  analysis.NewService(d, settings, svcOpts),
		Log:      log,
	}, nil
}

func (a *App) Close() {
	a.Stores.Close()
}
