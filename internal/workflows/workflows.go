package workflows

import (
	"errors"
	"strings"
	"time"

	"go.temporal.io/sdk/temporal"
	"go.temporal.io/sdk/workflow"

	"paperlens/internal/activities"
)

const (
	QueryGetBatchProgress = "GetBatchProgress"
	// SignalCancelJob carries a job index. A queued job is removed; the job
	// being analyzed has its activity cancelled.
	SignalCancelJob = "CancelJob"

	stoppedMessage = "Stopped by user."
)

// BatchAnalysisWorkflow analyzes queries one at a time in order. A failed job
// is recorded and the batch moves on.
func BatchAnalysisWorkflow(ctx workflow.Context, input BatchAnalysisInput) (BatchProgress, error) {
	progress := BatchProgress{BatchID: input.BatchID, Jobs: make([]BatchJob, 0, len(input.Queries))}
	for _, q := range input.Queries {
		if q = strings.TrimSpace(q); q == "" {
			continue
		}
		progress.Jobs = append(progress.Jobs, BatchJob{Index: len(progress.Jobs), Query: q, Status: JobQueued})
	}
	progress.Total = len(progress.Jobs)
	if err := workflow.SetQueryHandler(ctx, QueryGetBatchProgress, func() (BatchProgress, error) {
		return progress, nil
	}); err != nil {
		return progress, err
	}

	analyzeCtx := workflow.WithActivityOptions(ctx, workflow.ActivityOptions{
		StartToCloseTimeout: 15 * time.Minute,
		HeartbeatTimeout:    30 * time.Second,
		// Retries happen inside the dispatcher.
		RetryPolicy: &temporal.RetryPolicy{MaximumAttempts: 1},
	})
	saveCtx := workflow.WithActivityOptions(ctx, workflow.ActivityOptions{
		StartToCloseTimeout: time.Minute,
		RetryPolicy: &temporal.RetryPolicy{
			InitialInterval:    2 * time.Second,
			BackoffCoefficient: 2,
			MaximumInterval:    20 * time.Second,
			MaximumAttempts:    3,
		},
	})

	cancelCh := workflow.GetSignalChannel(ctx, SignalCancelJob)
	current := -1
	var cancelCurrent workflow.CancelFunc
	handleCancel := func(idx int) {
		if idx < 0 || idx >= len(progress.Jobs) {
			return
		}
		job := &progress.Jobs[idx]
		switch {
		case job.Status == JobQueued:
			job.Status = JobRemoved
			progress.Total--
		case idx == current && cancelCurrent != nil:
			cancelCurrent()
		}
	}
	drainSignals := func() {
		for {
			var idx int
			if !cancelCh.ReceiveAsync(&idx) {
				return
			}
			handleCancel(idx)
		}
	}

	for i := range progress.Jobs {
		drainSignals()
		if progress.Jobs[i].Status == JobRemoved {
			continue
		}
		current = i
		progress.Jobs[i].Status = JobAnalyzing

		jobCtx, cancel := workflow.WithCancel(analyzeCtx)
		cancelCurrent = cancel
		fut := workflow.ExecuteActivity(jobCtx, "AnalyzePaperActivity", activities.AnalyzePaperInput{
			BatchID: input.BatchID,
			Index:   i,
			Query:   progress.Jobs[i].Query,
		})
		settled := false
		sel := workflow.NewSelector(ctx)
		sel.AddFuture(fut, func(workflow.Future) { settled = true })
		sel.AddReceive(cancelCh, func(c workflow.ReceiveChannel, _ bool) {
			var idx int
			c.Receive(ctx, &idx)
			handleCancel(idx)
		})
		for !settled {
			sel.Select(ctx)
		}

		var out activities.AnalyzePaperOutput
		err := fut.Get(ctx, &out)
		cancel()
		cancelCurrent = nil
		current = -1

		job := &progress.Jobs[i]
		progress.Processed++
		switch {
		case err != nil:
			job.Status = JobError
			job.Error = err.Error()
			if temporal.IsCanceledError(err) || errors.Is(err, workflow.ErrCanceled) {
				job.Error = stoppedMessage
			}
			progress.Failed++
		case out.Result == nil:
			job.Status = JobError
			job.Error = out.ErrorMessage
			job.ErrorKind = out.ErrorKind
			progress.Failed++
		default:
			var saved activities.SaveHistoryOutput
			if err := workflow.ExecuteActivity(saveCtx, "SaveHistoryActivity", activities.SaveHistoryInput{
				Query:  job.Query,
				Result: *out.Result,
			}).Get(ctx, &saved); err != nil {
				workflow.GetLogger(ctx).Warn("save history failed", "index", i, "error", err)
			}
			job.Status = JobCompleted
			job.HistoryID = saved.HistoryID
			progress.Completed++
		}
		if ctx.Err() != nil {
			return progress, ctx.Err()
		}
	}
	return progress, nil
}
