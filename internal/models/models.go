package models

import (
	"time"

	"paperlens/internal/providers"
)

type AnalysisResult struct {
	Markdown string             `json:"markdown"`
	Sources  []providers.Source `json:"sources"`
}

type Recommendation struct {
	Title        string `json:"title"`
	Authors      string `json:"authors"`
	Year         string `json:"year"`
	Reason       string `json:"reason"`
	Link         string `json:"link,omitempty"`
	LinkVerified bool   `json:"linkVerified"`
}

type TimelinessReport struct {
	IsOutdated      bool             `json:"isOutdated"`
	Status          string           `json:"status"`
	Summary         string           `json:"summary"`
	Recommendations []Recommendation `json:"recommendations"`
}

type VenueReport struct {
	Venue       string   `json:"venue"`
	Status      string   `json:"status"`
	Tier        string   `json:"tier"`
	IsPredatory bool     `json:"isPredatory"`
	Indexing    []string `json:"indexing"`
	Summary     string   `json:"summary"`
}

type IntegrityFinding struct {
	Author string `json:"author"`
	Issue  string `json:"issue"`
	Source string `json:"source"`
}

type IntegrityReport struct {
	Status      string             `json:"status"`
	HasConcerns bool               `json:"hasConcerns"`
	Summary     string             `json:"summary"`
	Findings    []IntegrityFinding `json:"findings"`
}

type TrendReport struct {
	Markdown string             `json:"markdown"`
	Sources  []providers.Source `json:"sources"`
}

type ChatMessage struct {
	Role    string    `json:"role"`
	Content string    `json:"content"`
	At      time.Time `json:"at"`
}

// HistoryItem is one saved analysis with whatever secondary reports and chat
// the user attached to it afterwards.
type HistoryItem struct {
	ID         string            `json:"id"`
	Query      string            `json:"query"`
	CreatedAt  time.Time         `json:"createdAt"`
	UpdatedAt  time.Time         `json:"updatedAt"`
	Result     *AnalysisResult   `json:"result,omitempty"`
	Timeliness *TimelinessReport `json:"timeliness,omitempty"`
	Venue      *VenueReport      `json:"venue,omitempty"`
	Integrity  *IntegrityReport  `json:"integrity,omitempty"`
	Chat       []ChatMessage     `json:"chat"`
}

// CallRecord is one provider attempt as written to the audit log.
type CallRecord struct {
	CallID     string    `json:"callId"`
	Operation  string    `json:"operation"`
	Provider   string    `json:"provider"`
	Model      string    `json:"model"`
	Status     string    `json:"status"`
	ErrorKind  string    `json:"errorKind,omitempty"`
	Attempt    int       `json:"attempt"`
	DurationMS int64     `json:"durationMs"`
	CreatedAt  time.Time `json:"createdAt"`
}

const (
	CallStatusOK     = "ok"
	CallStatusFailed = "failed"
)
