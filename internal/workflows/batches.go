package workflows

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"go.temporal.io/api/serviceerror"
	"go.temporal.io/sdk/client"

	"paperlens/internal/storage"
)

// TemporalBatches starts and inspects BatchAnalysisWorkflow runs.
type TemporalBatches struct {
	client    client.Client
	taskQueue string
}

func NewTemporalBatches(c client.Client, taskQueue string) *TemporalBatches {
	return &TemporalBatches{client: c, taskQueue: taskQueue}
}

func (b *TemporalBatches) StartBatch(ctx context.Context, queries []string) (string, error) {
	id := "batch-" + uuid.NewString()
	we, err := b.client.ExecuteWorkflow(ctx, client.StartWorkflowOptions{
		ID:        id,
		TaskQueue: b.taskQueue,
	}, BatchAnalysisWorkflow, BatchAnalysisInput{BatchID: id, Queries: queries})
	if err != nil {
		return "", fmt.Errorf("start batch: %w", err)
	}
	return we.GetID(), nil
}

func (b *TemporalBatches) BatchProgress(ctx context.Context, id string) (BatchProgress, error) {
	resp, err := b.client.QueryWorkflow(ctx, id, "", QueryGetBatchProgress)
	if err != nil {
		return BatchProgress{}, fmt.Errorf("query batch %s: %w", id, notFound(err))
	}
	var p BatchProgress
	if err := resp.Get(&p); err != nil {
		return BatchProgress{}, fmt.Errorf("decode batch progress: %w", err)
	}
	return p, nil
}

func (b *TemporalBatches) CancelJob(ctx context.Context, id string, index int) error {
	if err := b.client.SignalWorkflow(ctx, id, "", SignalCancelJob, index); err != nil {
		return fmt.Errorf("cancel batch %s job %d: %w", id, index, notFound(err))
	}
	return nil
}

// notFound folds Temporal's unknown-workflow error into storage.ErrNotFound.
func notFound(err error) error {
	var nf *serviceerror.NotFound
	if errors.As(err, &nf) {
		return fmt.Errorf("%w: %s", storage.ErrNotFound, nf.Message)
	}
	return err
}
