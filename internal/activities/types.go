package activities

import "paperlens/internal/models"

type AnalyzePaperInput struct {
	BatchID string `json:"batch_id"`
	Index   int    `json:"index"`
	Query   string `json:"query"`
}

// AnalyzePaperOutput carries analysis failures as data; only cancellation is
// returned as an activity error.
type AnalyzePaperOutput struct {
	Result       *models.AnalysisResult `json:"result,omitempty"`
	ErrorMessage string                 `json:"error_message,omitempty"`
	ErrorKind    string                 `json:"error_kind,omitempty"`
}

type SaveHistoryInput struct {
	Query  string                `json:"query"`
	Result models.AnalysisResult `json:"result"`
}

type SaveHistoryOutput struct {
	HistoryID string `json:"history_id"`
}
