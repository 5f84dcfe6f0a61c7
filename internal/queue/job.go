package queue

import (
	"context"
	"time"

	"paperlens/internal/attachment"
	"paperlens/internal/models"
)

// Status is the lifecycle state of one analysis job.
type Status string

const (
	StatusQueued    Status = "queued"
	StatusAnalyzing Status = "analyzing"
	StatusCompleted Status = "completed"
	StatusError     Status = "error"
)

func (s Status) Terminal() bool {
	return s == StatusCompleted || s == StatusError
}

// Job is one paper query moving through the queue. Values handed out by the
// Queue are copies; only the drain loop mutates the originals.
type Job struct {
	ID           string                 `json:"id"`
	Query        string                 `json:"query"`
	Attachment   *attachment.File       `json:"-"`
	Status       Status                 `json:"status"`
	Result       *models.AnalysisResult `json:"result,omitempty"`
	ErrorMessage string                 `json:"errorMessage,omitempty"`
	// Attempt starts at 1 and grows with every Retry.
	Attempt    int       `json:"attempt"`
	EnqueuedAt time.Time `json:"enqueuedAt"`
	StartedAt  time.Time `json:"startedAt,omitempty"`
	FinishedAt time.Time `json:"finishedAt,omitempty"`

	cancel context.CancelFunc
}

func (j *Job) clone() Job {
	c := *j
	c.cancel = nil
	if j.Result != nil {
		r := *j.Result
		c.Result = &r
	}
	return c
}

// Label names the job in logs and events; attachments win over free text.
func (j Job) Label() string {
	if j.Attachment != nil && j.Attachment.Name != "" {
		return j.Attachment.Name
	}
	return j.Query
}

// Duration is zero until the job has started.
func (j Job) Duration() time.Duration {
	if j.StartedAt.IsZero() {
		return 0
	}
	if j.FinishedAt.IsZero() {
		return time.Since(j.StartedAt)
	}
	return j.FinishedAt.Sub(j.StartedAt)
}

// EventType says what happened to a job.
type EventType string

const (
	EventEnqueued EventType = "enqueued"
	EventStarted  EventType = "started"
	EventFinished EventType = "finished"
	EventRemoved  EventType = "removed"
)

type Event struct {
	Type    EventType     `json:"type"`
	JobID   string        `json:"jobId"`
	Status  Status        `json:"status"`
	Attempt int           `json:"attempt"`
	Error   string        `json:"error,omitempty"`
	Elapsed time.Duration `json:"elapsed"`
}

// Progress counts jobs for batch reporting. A failed job still counts as
// processed.
type Progress struct {
	Total     int `json:"total"`
	Processed int `json:"processed"`
	Queued    int `json:"queued"`
	Analyzing int `json:"analyzing"`
	Completed int `json:"completed"`
	Failed    int `json:"failed"`
}
