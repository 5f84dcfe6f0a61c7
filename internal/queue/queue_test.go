package queue

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"paperlens/internal/analysis"
	"paperlens/internal/logging"
	"paperlens/internal/models"
)

// gateAnalyzer blocks each job until the test releases it, and records the
// order and overlap of calls.
type gateAnalyzer struct {
	mu      sync.Mutex
	order   []string
	active  atomic.Int32
	maxSeen atomic.Int32
	started chan string
	release chan error
}

func newGateAnalyzer() *gateAnalyzer {
	return &gateAnalyzer{started: make(chan string, 16), release: make(chan error)}
}

func (g *gateAnalyzer) AnalyzePaper(ctx context.Context, in analysis.Input) (models.AnalysisResult, error) {
	n := g.active.Add(1)
	defer g.active.Add(-1)
	for {
		cur := g.maxSeen.Load()
		if n <= cur || g.maxSeen.CompareAndSwap(cur, n) {
			break
		}
	}
	g.mu.Lock()
	g.order = append(g.order, in.Query)
	g.mu.Unlock()
	g.started <- in.Query

	select {
	case <-ctx.Done():
		return models.AnalysisResult{}, analysis.ErrStoppedByUser
	case err := <-g.release:
		if err != nil {
			return models.AnalysisResult{}, err
		}
		return models.AnalysisResult{Markdown: "analysis of " + in.Query}, nil
	}
}

func (g *gateAnalyzer) calls() []string {
	g.mu.Lock()
	defer g.mu.Unlock()
	return append([]string(nil), g.order...)
}

func startQueue(t *testing.T, a Analyzer) (*Queue, chan Job) {
	t.Helper()
	finished := make(chan Job, 16)
	q := New(a, Options{Logger: logging.Discard(), OnFinish: func(j Job) { finished <- j }})
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		q.Run(ctx)
		close(done)
	}()
	t.Cleanup(func() {
		cancel()
		<-done
	})
	return q, finished
}

func waitFor[T any](t *testing.T, ch <-chan T) T {
	t.Helper()
	select {
	case v := <-ch:
		return v
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting")
		var zero T
		return zero
	}
}

func TestQueueFIFOOneAtATime(t *testing.T) {
	g := newGateAnalyzer()
	q, finished := startQueue(t, g)

	ids := q.EnqueueBatch([]string{"paper one", " ", "paper two", "paper three"})
	require.Len(t, ids, 3)

	for i, want := range []string{"paper one", "paper two", "paper three"} {
		require.Equal(t, want, waitFor(t, g.started))
		p := q.Progress()
		require.Equal(t, 1, p.Analyzing)
		require.Equal(t, i, p.Processed)
		g.release <- nil
		j := waitFor(t, finished)
		require.Equal(t, ids[i], j.ID)
		require.Equal(t, StatusCompleted, j.Status)
		require.Equal(t, "analysis of "+want, j.Result.Markdown)
	}

	require.Equal(t, int32(1), g.maxSeen.Load())
	require.Equal(t, []string{"paper one", "paper two", "paper three"}, g.calls())
	p := q.Progress()
	require.Equal(t, Progress{Total: 3, Processed: 3, Completed: 3}, p)
}

func TestQueueFailureDoesNotStopSiblings(t *testing.T) {
	g := newGateAnalyzer()
	q, finished := startQueue(t, g)
	a := q.Enqueue("bad", nil)
	b := q.Enqueue("good", nil)

	waitFor(t, g.started)
	g.release <- errors.New("analyze paper: quota exceeded")
	j := waitFor(t, finished)
	require.Equal(t, a, j.ID)
	require.Equal(t, StatusError, j.Status)
	require.Equal(t, "analyze paper: quota exceeded", j.ErrorMessage)

	waitFor(t, g.started)
	g.release <- nil
	j = waitFor(t, finished)
	require.Equal(t, b, j.ID)
	require.Equal(t, StatusCompleted, j.Status)
	require.Equal(t, Progress{Total: 2, Processed: 2, Completed: 1, Failed: 1}, q.Progress())
}

func TestCancelQueuedJobNeverAnalyzes(t *testing.T) {
	g := newGateAnalyzer()
	q, finished := startQueue(t, g)
	a := q.Enqueue("first", nil)
	b := q.Enqueue("second", nil)
	c := q.Enqueue("third", nil)

	require.Equal(t, "first", waitFor(t, g.started))
	require.True(t, q.Cancel(b))
	_, ok := q.Get(b)
	require.False(t, ok)

	g.release <- nil
	require.Equal(t, a, waitFor(t, finished).ID)
	require.Equal(t, "third", waitFor(t, g.started))
	g.release <- nil
	require.Equal(t, c, waitFor(t, finished).ID)

	require.Equal(t, []string{"first", "third"}, g.calls())
	require.Equal(t, Progress{Total: 2, Processed: 2, Completed: 2}, q.Progress())
	require.False(t, q.Cancel(b))
	require.False(t, q.Cancel(a), "terminal jobs cannot be cancelled")
}

func TestCancelInFlightJob(t *testing.T) {
	g := newGateAnalyzer()
	q, finished := startQueue(t, g)
	a := q.Enqueue("slow", nil)
	b := q.Enqueue("next", nil)

	waitFor(t, g.started)
	require.True(t, q.Cancel(a))
	j := waitFor(t, finished)
	require.Equal(t, a, j.ID)
	require.Equal(t, StatusError, j.Status)
	require.Equal(t, stoppedMessage, j.ErrorMessage)
	require.Nil(t, j.Result)

	require.Equal(t, "next", waitFor(t, g.started))
	g.release <- nil
	require.Equal(t, b, waitFor(t, finished).ID)
}

func TestRetryTerminalJob(t *testing.T) {
	g := newGateAnalyzer()
	q, finished := startQueue(t, g)
	id := q.Enqueue("flaky", nil)
	require.False(t, q.Retry("missing"))

	waitFor(t, g.started)
	require.False(t, q.Retry(id), "cannot retry a job that is still analyzing")
	g.release <- errors.New("overloaded")
	require.Equal(t, StatusError, waitFor(t, finished).Status)

	require.True(t, q.Retry(id))
	waitFor(t, g.started)
	g.release <- nil
	j := waitFor(t, finished)
	require.Equal(t, id, j.ID)
	require.Equal(t, 2, j.Attempt)
	require.Equal(t, StatusCompleted, j.Status)
	require.Empty(t, j.ErrorMessage)
	require.Len(t, q.List(), 1)
}

func TestEventsDropWhenFull(t *testing.T) {
	q := New(newGateAnalyzer(), Options{Logger: logging.Discard(), EventBuffer: 1})
	q.EnqueueBatch([]string{"a", "b", "c"})

	ev := <-q.Events()
	require.Equal(t, EventEnqueued, ev.Type)
	select {
	case extra := <-q.Events():
		t.Fatalf("unexpected buffered event %+v", extra)
	default:
	}
	require.Equal(t, 3, q.Progress().Queued)
}

func TestRunStopsWhenContextDone(t *testing.T) {
	q := New(newGateAnalyzer(), Options{Logger: logging.Discard()})
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		q.Run(ctx)
		close(done)
	}()
	cancel()
	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("Run did not return")
	}
}
