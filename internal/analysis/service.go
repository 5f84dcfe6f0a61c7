// Package analysis implements the user-facing research operations on top of
// the dispatcher and the response extractor.
package analysis

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"paperlens/internal/attachment"
	"paperlens/internal/config"
	"paperlens/internal/dispatch"
	"paperlens/internal/extract"
	"paperlens/internal/logging"
	"paperlens/internal/models"
	"paperlens/internal/providers"
	"paperlens/internal/util"
)

var (
	// ErrStoppedByUser marks a primary operation the caller cancelled.
	ErrStoppedByUser = fmt.Errorf("stopped by user: %w", providers.ErrAborted)
	ErrNoHistory     = errors.New("no analyses to synthesize; analyze at least one paper first")
	ErrEmptyQuery    = errors.New("query or attachment required")
	ErrEmptyQuestion = errors.New("question required")
)

const (
	StatusUnknown     = "Unknown"
	StatusUnavailable = "Check Unavailable"

	// trendExcerptRunes bounds each analysis quoted into the trends prompt.
	trendExcerptRunes = 1500
)

type Dispatcher interface {
	Dispatch(ctx context.Context, s config.ProviderSettings, call dispatch.Call) (providers.Response, error)
}

type SettingsSource interface {
	Get() config.ProviderSettings
}

// LinkVerifier confirms that a URL points at the named paper.
type LinkVerifier interface {
	Verify(ctx context.Context, link, title string) bool
}

type Options struct {
	Extractor extract.Extractor
	Verifier  LinkVerifier
	Logger    *slog.Logger
}

type Service struct {
	dispatcher Dispatcher
	settings   SettingsSource
	extractor  extract.Extractor
	verifier   LinkVerifier
	log        *slog.Logger
}

func NewService(d Dispatcher, settings SettingsSource, opts Options) *Service {
	return &Service{
		dispatcher: d,
		settings:   settings,
		extractor:  opts.Extractor,
		verifier:   opts.Verifier,
		log:        logging.Component(opts.Logger, "analysis"),
	}
}

// State is the terminal outcome of one operation.
type State string

const (
	StateCompleted State = "completed"
	StateFailed    State = "failed"
	StateAborted   State = "aborted"
)

func StateOf(err error) State {
	switch {
	case err == nil:
		return StateCompleted
	case errors.Is(err, providers.ErrAborted), errors.Is(err, context.Canceled):
		return StateAborted
	default:
		return StateFailed
	}
}

type Input struct {
	Query        string
	Attachment   *attachment.File
	EnableSearch bool
}

// AnalyzePaper produces the primary Markdown analysis. Failures propagate;
// cancellation surfaces as ErrStoppedByUser.
func (s *Service) AnalyzePaper(ctx context.Context, in Input) (models.AnalysisResult, error) {
	query := strings.TrimSpace(in.Query)
	if query == "" && in.Attachment == nil {
		return models.AnalysisResult{}, ErrEmptyQuery
	}
	snap := s.settings.Get()
	call := dispatch.Call{
		Operation:         OpAnalyzePaper,
		SystemInstruction: analystSystem,
		AllowSearch:       in.EnableSearch,
		Temperature:       tempAnalyze,
	}
	if in.Attachment != nil {
		call.Prompt = documentPrompt(in.Attachment.Name, query)
		call.Attachment = in.Attachment
	} else {
		call.Prompt = searchPrompt(query)
	}

	start := time.Now()
	resp, err := s.dispatcher.Dispatch(ctx, snap, call)
	s.finish(OpAnalyzePaper, start, err)
	if err != nil {
		if isAbort(ctx, err) {
			return models.AnalysisResult{}, ErrStoppedByUser
		}
		return models.AnalysisResult{}, fmt.Errorf("analyze paper: %w", err)
	}
	return models.AnalysisResult{Markdown: resp.Text, Sources: nonNilSources(resp.Sources)}, nil
}

type timelinessWire struct {
	IsOutdated      flexBool `json:"isOutdated"`
	Status          string   `json:"status"`
	Summary         string   `json:"summary"`
	Recommendations []struct {
		Title   string     `json:"title"`
		Authors flexString `json:"authors"`
		Year    flexString `json:"year"`
		Reason  string     `json:"reason"`
	} `json:"recommendations"`
}

// CheckTimeliness never fails: dispatch errors yield a "Check Unavailable"
// report and unparseable output an "Unknown" one.
func (s *Service) CheckTimeliness(ctx context.Context, title, authorYear string) models.TimelinessReport {
	snap := s.settings.Get()
	start := time.Now()
	resp, err := s.dispatcher.Dispatch(ctx, snap, dispatch.Call{
		Operation:         OpTimeliness,
		Prompt:            timelinessPrompt(title, authorYear),
		SystemInstruction: timelinessSystem,
		JSONMode:          true,
		AllowSearch:       true,
		Temperature:       tempTimeliness,
	})
	s.finish(OpTimeliness, start, err)
	if err != nil {
		return models.TimelinessReport{Status: StatusUnavailable, Summary: unavailableSummary(ctx, err), Recommendations: []models.Recommendation{}}
	}

	var wire timelinessWire
	if !s.extractor.Decode(resp.Text, &wire) {
		s.log.Warn("timeliness output not parseable", "title", util.DisplaySnippet(title, 80))
		return models.TimelinessReport{Status: StatusUnknown, Summary: "The timeliness check returned an unreadable response.", Recommendations: []models.Recommendation{}}
	}
	report := models.TimelinessReport{
		IsOutdated:      bool(wire.IsOutdated),
		Status:          orDefault(wire.Status, StatusUnknown),
		Summary:         strings.TrimSpace(wire.Summary),
		Recommendations: make([]models.Recommendation, 0, len(wire.Recommendations)),
	}
	for _, r := range wire.Recommendations {
		if strings.TrimSpace(r.Title) == "" {
			continue
		}
		report.Recommendations = append(report.Recommendations, models.Recommendation{
			Title:   strings.TrimSpace(r.Title),
			Authors: string(r.Authors),
			Year:    string(r.Year),
			Reason:  strings.TrimSpace(r.Reason),
		})
	}
	report.Recommendations = s.enrichLinks(ctx, snap, report.Recommendations)
	return report
}

type venueWire struct {
	Venue       string      `json:"venue"`
	Status      string      `json:"status"`
	Tier        flexString  `json:"tier"`
	IsPredatory flexBool    `json:"isPredatory"`
	Indexing    flexStrings `json:"indexing"`
	Summary     string      `json:"summary"`
}

func (s *Service) CheckVenueQuality(ctx context.Context, venue string) models.VenueReport {
	venue = strings.TrimSpace(venue)
	snap := s.settings.Get()
	start := time.Now()
	resp, err := s.dispatcher.Dispatch(ctx, snap, dispatch.Call{
		Operation:         OpVenue,
		Prompt:            venuePrompt(venue),
		SystemInstruction: venueSystem,
		JSONMode:          true,
		AllowSearch:       true,
		Temperature:       tempVenue,
	})
	s.finish(OpVenue, start, err)
	if err != nil {
		return models.VenueReport{Venue: venue, Status: StatusUnavailable, Indexing: []string{}, Summary: unavailableSummary(ctx, err)}
	}
	var wire venueWire
	if !s.extractor.Decode(resp.Text, &wire) {
		return models.VenueReport{Venue: venue, Status: StatusUnknown, Indexing: []string{}, Summary: "The venue check returned an unreadable response."}
	}
	indexing := []string(wire.Indexing)
	if indexing == nil {
		indexing = []string{}
	}
	return models.VenueReport{
		Venue:       orDefault(wire.Venue, venue),
		Status:      orDefault(wire.Status, StatusUnknown),
		Tier:        string(wire.Tier),
		IsPredatory: bool(wire.IsPredatory),
		Indexing:    indexing,
		Summary:     strings.TrimSpace(wire.Summary),
	}
}

type integrityWire struct {
	Status      string   `json:"status"`
	HasConcerns flexBool `json:"hasConcerns"`
	Summary     string   `json:"summary"`
	Findings    []struct {
		Author string `json:"author"`
		Issue  string `json:"issue"`
		Source string `json:"source"`
	} `json:"findings"`
}

func (s *Service) CheckAuthorIntegrity(ctx context.Context, authors string) models.IntegrityReport {
	snap := s.settings.Get()
	start := time.Now()
	resp, err := s.dispatcher.Dispatch(ctx, snap, dispatch.Call{
		Operation:         OpIntegrity,
		Prompt:            integrityPrompt(authors),
		SystemInstruction: integritySystem,
		JSONMode:          true,
		AllowSearch:       true,
		Temperature:       tempIntegrity,
	})
	s.finish(OpIntegrity, start, err)
	if err != nil {
		return models.IntegrityReport{Status: StatusUnavailable, Summary: unavailableSummary(ctx, err), Findings: []models.IntegrityFinding{}}
	}
	var wire integrityWire
	if !s.extractor.Decode(resp.Text, &wire) {
		return models.IntegrityReport{Status: StatusUnknown, Summary: "The integrity check returned an unreadable response.", Findings: []models.IntegrityFinding{}}
	}
	report := models.IntegrityReport{
		Status:      orDefault(wire.Status, StatusUnknown),
		HasConcerns: bool(wire.HasConcerns),
		Summary:     strings.TrimSpace(wire.Summary),
		Findings:    make([]models.IntegrityFinding, 0, len(wire.Findings)),
	}
	for _, f := range wire.Findings {
		if strings.TrimSpace(f.Issue) == "" {
			continue
		}
		report.Findings = append(report.Findings, models.IntegrityFinding{Author: f.Author, Issue: f.Issue, Source: f.Source})
	}
	if len(report.Findings) > 0 {
		report.HasConcerns = true
	}
	return report
}

// AskFollowUp answers a question about an earlier analysis. Search is never
// used; the answer is the delimited final section with emphasis removed.
func (s *Service) AskFollowUp(ctx context.Context, question, originalContext string, history []models.ChatMessage) (string, error) {
	question = strings.TrimSpace(question)
	if question == "" {
		return "", ErrEmptyQuestion
	}
	snap := s.settings.Get()
	start := time.Now()
	resp, err := s.dispatcher.Dispatch(ctx, snap, dispatch.Call{
		Operation:         OpFollowUp,
		Prompt:            followUpPrompt(question, originalContext, history),
		SystemInstruction: followUpSystem,
		AllowSearch:       false,
		Temperature:       tempFollowUp,
	})
	s.finish(OpFollowUp, start, err)
	if err != nil {
		if isAbort(ctx, err) {
			return "", ErrStoppedByUser
		}
		return "", fmt.Errorf("follow up: %w", err)
	}
	answer := extract.FinalAnswer(resp.Text, extract.FinalAnswerOpen, extract.FinalAnswerClose)
	return strings.TrimSpace(extract.StripEmphasis(answer)), nil
}

// SynthesizeTrends writes one report across the analyses in items. Items
// without an analysis are skipped.
func (s *Service) SynthesizeTrends(ctx context.Context, items []models.HistoryItem) (models.TrendReport, error) {
	var b strings.Builder
	n := 0
	for _, it := range items {
		if it.Result == nil || strings.TrimSpace(it.Result.Markdown) == "" {
			continue
		}
		n++
		fmt.Fprintf(&b, "### Paper %d: %s\n%s\n\n", n, util.DisplaySnippet(it.Query, 200), util.Excerpt(it.Result.Markdown, trendExcerptRunes))
	}
	if n == 0 {
		return models.TrendReport{}, ErrNoHistory
	}
	snap := s.settings.Get()
	start := time.Now()
	resp, err := s.dispatcher.Dispatch(ctx, snap, dispatch.Call{
		Operation:         OpTrends,
		Prompt:            trendsPrompt(strings.TrimSpace(b.String()), n),
		SystemInstruction: trendsSystem,
		AllowSearch:       true,
		Temperature:       tempTrends,
	})
	s.finish(OpTrends, start, err)
	if err != nil {
		if isAbort(ctx, err) {
			return models.TrendReport{}, ErrStoppedByUser
		}
		return models.TrendReport{}, fmt.Errorf("synthesize trends: %w", err)
	}
	return models.TrendReport{Markdown: resp.Text, Sources: nonNilSources(resp.Sources)}, nil
}

func (s *Service) finish(op string, start time.Time, err error) {
	state := StateOf(err)
	attrs := []any{"operation", op, "state", state, "duration_ms", time.Since(start).Milliseconds()}
	switch state {
	case StateFailed:
		s.log.Warn("operation finished", append(attrs, "kind", providers.Classify(err), "error", err)...)
	default:
		s.log.Info("operation finished", attrs...)
	}
}

func isAbort(ctx context.Context, err error) bool {
	return ctx.Err() != nil || errors.Is(err, providers.ErrAborted)
}

func unavailableSummary(ctx context.Context, err error) string {
	if isAbort(ctx, err) {
		return "The check was cancelled."
	}
	return "The check could not be completed: " + err.Error()
}

func orDefault(v, fallback string) string {
	if v = strings.TrimSpace(v); v == "" {
		return fallback
	}
	return v
}

func nonNilSources(in []providers.Source) []providers.Source {
	if in == nil {
		return []providers.Source{}
	}
	return in
}
