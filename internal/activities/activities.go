package activities

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"go.temporal.io/sdk/activity"

	"paperlens/internal/analysis"
	"paperlens/internal/logging"
	"paperlens/internal/models"
	"paperlens/internal/providers"
	"paperlens/internal/storage"
)

// heartbeatEvery must stay well under the workflow's HeartbeatTimeout so a
// cancelled batch job reaches the running analysis promptly.
var heartbeatEvery = 5 * time.Second

type Analyzer interface {
	AnalyzePaper(ctx context.Context, in analysis.Input) (models.AnalysisResult, error)
}

type Activities struct {
	analyzer Analyzer
	history  storage.HistoryStore
	log      *slog.Logger
}

func New(analyzer Analyzer, history storage.HistoryStore, logger *slog.Logger) *Activities {
	return &Activities{analyzer: analyzer, history: history, log: logging.Component(logger, "activities")}
}

func (a *Activities) AnalyzePaperActivity(ctx context.Context, in AnalyzePaperInput) (AnalyzePaperOutput, error) {
	stop := startHeartbeat(ctx)
	defer stop()

	res, err := a.analyzer.AnalyzePaper(ctx, analysis.Input{Query: in.Query, EnableSearch: true})
	if err != nil {
		if errors.Is(err, analysis.ErrStoppedByUser) || ctx.Err() != nil {
			return AnalyzePaperOutput{}, fmt.Errorf("batch %s job %d: %w", in.BatchID, in.Index, err)
		}
		a.log.Warn("batch job failed", "batch_id", in.BatchID, "index", in.Index, "error", err)
		return AnalyzePaperOutput{ErrorMessage: err.Error(), ErrorKind: string(providers.Classify(err))}, nil
	}
	return AnalyzePaperOutput{Result: &res}, nil
}

func (a *Activities) SaveHistoryActivity(ctx context.Context, in SaveHistoryInput) (SaveHistoryOutput, error) {
	result := in.Result
	item, err := a.history.SaveHistory(ctx, models.HistoryItem{Query: in.Query, Result: &result})
	if err != nil {
		return SaveHistoryOutput{}, err
	}
	return SaveHistoryOutput{HistoryID: item.ID}, nil
}

// startHeartbeat heartbeats until stopped so the server can deliver
// cancellation to ctx. It is a no-op outside an activity.
func startHeartbeat(ctx context.Context) func() {
	if !activity.IsActivity(ctx) {
		return func() {}
	}
	done := make(chan struct{})
	go func() {
		t := time.NewTicker(heartbeatEvery)
		defer t.Stop()
		for {
			select {
			case <-done:
				return
			case <-ctx.Done():
				return
			case <-t.C:
				activity.RecordHeartbeat(ctx)
			}
		}
	}()
	return func() { close(done) }
}
