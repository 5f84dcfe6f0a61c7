package workflows

// Job statuses inside a batch mirror the in-process queue.
const (
	JobQueued    = "queued"
	JobAnalyzing = "analyzing"
	JobCompleted = "completed"
	JobError     = "error"
	JobRemoved   = "removed"
)

type BatchAnalysisInput struct {
	BatchID string   `json:"batch_id"`
	Queries []string `json:"queries"`
}

type BatchJob struct {
	Index     int    `json:"index"`
	Query     string `json:"query"`
	Status    string `json:"status"`
	HistoryID string `json:"history_id,omitempty"`
	Error     string `json:"error,omitempty"`
	ErrorKind string `json:"error_kind,omitempty"`
}

type BatchProgress struct {
	BatchID   string     `json:"batch_id"`
	Total     int        `json:"total"`
	Processed int        `json:"processed"`
	Completed int        `json:"completed"`
	Failed    int        `json:"failed"`
	Jobs      []BatchJob `json:"jobs"`
}
