// Package queue runs paper analyses one at a time in submission order.
package queue

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"paperlens/internal/analysis"
	"paperlens/internal/attachment"
	"paperlens/internal/logging"
	"paperlens/internal/models"
)

const stoppedMessage = "Stopped by user."

// Analyzer is the primary analysis operation the queue drains into.
type Analyzer interface {
	AnalyzePaper(ctx context.Context, in analysis.Input) (models.AnalysisResult, error)
}

type Options struct {
	Logger *slog.Logger
	// OnFinish runs on the drain goroutine after each job reaches a terminal
	// state, outside the queue lock.
	OnFinish func(Job)
	// EventBuffer sizes the Events channel; events are dropped when it is full.
	EventBuffer int
	NewID       func() string
}

// Queue holds every job it has seen. pending is the FIFO of queued ids and is
// only popped by Run.
type Queue struct {
	analyzer Analyzer
	log      *slog.Logger
	onFinish func(Job)
	newID    func() string

	mu        sync.Mutex
	jobs      []*Job
	byID      map[string]*Job
	pending   []string
	total     int
	processed int

	wake   chan struct{}
	events chan Event
}

func New(a Analyzer, opts Options) *Queue {
	if opts.EventBuffer <= 0 {
		opts.EventBuffer = 100
	}
	if opts.NewID == nil {
		opts.NewID = uuid.NewString
	}
	return &Queue{
		analyzer: a,
		log:      logging.Component(opts.Logger, "queue"),
		onFinish: opts.OnFinish,
		newID:    opts.NewID,
		byID:     make(map[string]*Job),
		wake:     make(chan struct{}, 1),
		events:   make(chan Event, opts.EventBuffer),
	}
}

// Enqueue adds one job and returns its id.
func (q *Queue) Enqueue(query string, file *attachment.File) string {
	q.mu.Lock()
	id := q.addLocked(strings.TrimSpace(query), file)
	q.mu.Unlock()
	q.signal()
	return id
}

// EnqueueBatch adds one job per non-blank query, in order.
func (q *Queue) EnqueueBatch(queries []string) []string {
	q.mu.Lock()
	ids := make([]string, 0, len(queries))
	for _, query := range queries {
		if query = strings.TrimSpace(query); query == "" {
			continue
		}
		ids = append(ids, q.addLocked(query, nil))
	}
	q.mu.Unlock()
	if len(ids) > 0 {
		q.signal()
	}
	return ids
}

func (q *Queue) addLocked(query string, file *attachment.File) string {
	j := &Job{
		ID:         q.newID(),
		Query:      query,
		Attachment: file,
		Status:     StatusQueued,
		Attempt:    1,
		EnqueuedAt: time.Now(),
	}
	q.jobs = append(q.jobs, j)
	q.byID[j.ID] = j
	q.pending = append(q.pending, j.ID)
	q.total++
	q.notifyLocked(Event{Type: EventEnqueued, JobID: j.ID, Status: j.Status, Attempt: j.Attempt})
	return j.ID
}

// Cancel removes a queued job outright or cancels the context of the job
// being analyzed. It reports false for unknown and terminal jobs.
func (q *Queue) Cancel(id string) bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	j, ok := q.byID[id]
	if !ok {
		return false
	}
	switch j.Status {
	case StatusQueued:
		q.removePendingLocked(id)
		if j.Attempt == 1 {
			q.removeJobLocked(id)
		} else {
			// A queued retry goes back to the error it was retried from.
			j.Status = StatusError
			j.ErrorMessage = stoppedMessage
		}
		q.total--
		q.notifyLocked(Event{Type: EventRemoved, JobID: id, Status: j.Status, Attempt: j.Attempt})
		return true
	case StatusAnalyzing:
		if j.cancel != nil {
			j.cancel()
		}
		return true
	default:
		return false
	}
}

// Retry queues a terminal job again as a fresh attempt under the same id.
func (q *Queue) Retry(id string) bool {
	q.mu.Lock()
	j, ok := q.byID[id]
	if !ok || !j.Status.Terminal() {
		q.mu.Unlock()
		return false
	}
	j.Status = StatusQueued
	j.Result = nil
	j.ErrorMessage = ""
	j.Attempt++
	j.StartedAt = time.Time{}
	j.FinishedAt = time.Time{}
	q.pending = append(q.pending, id)
	q.total++
	q.notifyLocked(Event{Type: EventEnqueued, JobID: id, Status: j.Status, Attempt: j.Attempt})
	q.mu.Unlock()
	q.signal()
	return true
}

func (q *Queue) Get(id string) (Job, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	j, ok := q.byID[id]
	if !ok {
		return Job{}, false
	}
	return j.clone(), true
}

// List returns every job in submission order.
func (q *Queue) List() []Job {
	q.mu.Lock()
	defer q.mu.Unlock()
	out := make([]Job, 0, len(q.jobs))
	for _, j := range q.jobs {
		out = append(out, j.clone())
	}
	return out
}

func (q *Queue) Progress() Progress {
	q.mu.Lock()
	defer q.mu.Unlock()
	p := Progress{Total: q.total, Processed: q.processed}
	for _, j := range q.jobs {
		switch j.Status {
		case StatusQueued:
			p.Queued++
		case StatusAnalyzing:
			p.Analyzing++
		case StatusCompleted:
			p.Completed++
		case StatusError:
			p.Failed++
		}
	}
	return p
}

// Events delivers job transitions. Slow readers miss events rather than
// stalling the queue.
func (q *Queue) Events() <-chan Event {
	return q.events
}

// Run drains the queue until ctx is done. Only one Run may be active.
func (q *Queue) Run(ctx context.Context) {
	q.log.Info("queue started")
	defer q.log.Info("queue stopped")
	for {
		j, jobCtx := q.next(ctx)
		if j == nil {
			select {
			case <-ctx.Done():
				return
			case <-q.wake:
				continue
			}
		}
		q.process(jobCtx, j)
		if ctx.Err() != nil {
			return
		}
	}
}

// next pops the oldest queued job and marks it analyzing.
func (q *Queue) next(ctx context.Context) (*Job, context.Context) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if ctx.Err() != nil || len(q.pending) == 0 {
		return nil, nil
	}
	id := q.pending[0]
	q.pending = q.pending[1:]
	j := q.byID[id]
	jobCtx, cancel := context.WithCancel(ctx)
	j.cancel = cancel
	j.Status = StatusAnalyzing
	j.StartedAt = time.Now()
	q.notifyLocked(Event{Type: EventStarted, JobID: id, Status: j.Status, Attempt: j.Attempt})
	return j, jobCtx
}

func (q *Queue) process(ctx context.Context, j *Job) {
	q.mu.Lock()
	in := analysis.Input{Query: j.Query, Attachment: j.Attachment, EnableSearch: true}
	label := j.Label()
	q.mu.Unlock()

	q.log.Info("job started", "job_id", j.ID, "query", label)
	res, err := q.analyzer.AnalyzePaper(ctx, in)

	q.mu.Lock()
	if j.cancel != nil {
		j.cancel()
		j.cancel = nil
	}
	j.FinishedAt = time.Now()
	if err != nil {
		j.Status = StatusError
		j.ErrorMessage = errorMessage(err)
	} else {
		j.Status = StatusCompleted
		j.Result = &res
	}
	q.processed++
	ev := Event{Type: EventFinished, JobID: j.ID, Status: j.Status, Attempt: j.Attempt, Error: j.ErrorMessage, Elapsed: j.Duration()}
	q.notifyLocked(ev)
	done := j.clone()
	q.mu.Unlock()

	if err != nil {
		q.log.Warn("job failed", "job_id", done.ID, "attempt", done.Attempt, "error", err)
	} else {
		q.log.Info("job completed", "job_id", done.ID, "attempt", done.Attempt, "duration_ms", ev.Elapsed.Milliseconds())
	}
	if q.onFinish != nil {
		q.onFinish(done)
	}
}

func errorMessage(err error) string {
	if errors.Is(err, analysis.ErrStoppedByUser) || errors.Is(err, context.Canceled) {
		return stoppedMessage
	}
	return err.Error()
}

func (q *Queue) removePendingLocked(id string) {
	for i, p := range q.pending {
		if p == id {
			q.pending = append(q.pending[:i], q.pending[i+1:]...)
			return
		}
	}
}

func (q *Queue) removeJobLocked(id string) {
	delete(q.byID, id)
	for i, j := range q.jobs {
		if j.ID == id {
			q.jobs = append(q.jobs[:i], q.jobs[i+1:]...)
			return
		}
	}
}

func (q *Queue) signal() {
	select {
	case q.wake <- struct{}{}:
	default:
	}
}

// notifyLocked must be called with mu held.
func (q *Queue) notifyLocked(ev Event) {
	select {
	case q.events <- ev:
	default:
		q.log.Warn("event channel full, dropping event", "job_id", ev.JobID, "type", ev.Type)
	}
}
