package api

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/gin-gonic/gin"

	"paperlens/internal/analysis"
	"paperlens/internal/attachment"
	"paperlens/internal/config"
	"paperlens/internal/logging"
	"paperlens/internal/models"
	"paperlens/internal/queue"
	"paperlens/internal/storage"
	"paperlens/internal/workflows"
)

const maxUploadBytes = 32 << 20

// Analyst is the set of research operations the API exposes.
type Analyst interface {
	AnalyzePaper(ctx context.Context, in analysis.Input) (models.AnalysisResult, error)
	CheckTimeliness(ctx context.Context, title, authorYear string) models.TimelinessReport
	CheckVenueQuality(ctx context.Context, venue string) models.VenueReport
	CheckAuthorIntegrity(ctx context.Context, authors string) models.IntegrityReport
	AskFollowUp(ctx context.Context, question, originalContext string, history []models.ChatMessage) (string, error)
	SynthesizeTrends(ctx context.Context, items []models.HistoryItem) (models.TrendReport, error)
}

type Settings interface {
	Get() config.ProviderSettings
	Update(next config.ProviderSettings) (config.ProviderSettings, error)
}

type JobQueue interface {
	Enqueue(query string, file *attachment.File) string
	EnqueueBatch(queries []string) []string
	Cancel(id string) bool
	Retry(id string) bool
	Get(id string) (queue.Job, bool)
	List() []queue.Job
	Progress() queue.Progress
}

// BatchRunner runs durable batches. Nil when Temporal is disabled.
type BatchRunner interface {
	StartBatch(ctx context.Context, queries []string) (string, error)
	BatchProgress(ctx context.Context, id string) (workflows.BatchProgress, error)
	CancelJob(ctx context.Context, id string, index int) error
}

type CallLister interface {
	Recent(ctx context.Context, limit int) ([]models.CallRecord, error)
}

// Deps are the collaborators behind the routes. Batches and Calls are optional.
type Deps struct {
	Analyst  Analyst
	Settings Settings
	Queue    JobQueue
	History  storage.HistoryStore
	Batches  BatchRunner
	Calls    CallLister
	Logger   *slog.Logger
}

type Server struct {
	analyst  Analyst
	settings Settings
	queue    JobQueue
	history  storage.HistoryStore
	batches  BatchRunner
	calls    CallLister
	log      *slog.Logger
}

func NewServer(d Deps) *Server {
	return &Server{
		analyst:  d.Analyst,
		settings: d.Settings,
		queue:    d.Queue,
		history:  d.History,
		batches:  d.Batches,
		calls:    d.Calls,
		log:      logging.Component(d.Logger, "api"),
	}
}

func (s *Server) Routes() http.Handler {
	r := gin.New()
	r.MaxMultipartMemory = maxUploadBytes
	r.Use(requestID(), requestLogger(s.log), recovery(s.log), cors())

	v1 := r.Group("/api/v1")
	v1.GET("/health", s.handleHealth)
	v1.GET("/settings", s.handleGetSettings)
	v1.PUT("/settings", s.handlePutSettings)

	v1.POST("/analyses", s.handleAnalyze)
	v1.POST("/checks/timeliness", s.handleTimeliness)
	v1.POST("/checks/venue", s.handleVenue)
	v1.POST("/checks/integrity", s.handleIntegrity)
	v1.POST("/followups", s.handleFollowUp)
	v1.POST("/trends", s.handleTrends)

	jobs := v1.Group("/jobs")
	jobs.POST("", s.handleEnqueue)
	jobs.GET("", s.handleListJobs)
	jobs.GET("/:id", s.handleGetJob)
	jobs.DELETE("/:id", s.handleCancelJob)
	jobs.POST("/:id/retry", s.handleRetryJob)

	history := v1.Group("/history")
	history.GET("", s.handleListHistory)
	history.GET("/:id", s.handleGetHistory)
	history.DELETE("/:id", s.handleDeleteHistory)

	v1.GET("/calls", s.handleCalls)

	batches := v1.Group("/batches")
	batches.POST("", s.handleStartBatch)
	batches.GET("/:id", s.handleBatchProgress)
	batches.DELETE("/:id/jobs/:index", s.handleCancelBatchJob)

	r.NoRoute(func(c *gin.Context) {
		writeErr(c, http.StatusNotFound, nil)
	})
	return r
}

func cors() gin.HandlerFunc {
	return func(c *gin.Context) {
		h := c.Writer.Header()
		h.Set("Access-Control-Allow-Origin", "*")
		h.Set("Access-Control-Allow-Headers", "Content-Type, X-Request-Id")
		h.Set("Access-Control-Allow-Methods", "GET,POST,PUT,DELETE,OPTIONS")
		if c.Request.Method == http.MethodOptions {
			c.AbortWithStatus(http.StatusNoContent)
			return
		}
		c.Next()
	}
}

func (s *Server) handleHealth(c *gin.Context) {
	snap := s.settings.Get()
	writeJSON(c, http.StatusOK, gin.H{
		"ok":         true,
		"provider":   snap.Provider,
		"configured": snap.Configured(),
		"batches":    s.batches != nil,
	})
}

func (s *Server) handleGetSettings(c *gin.Context) {
	writeJSON(c, http.StatusOK, gin.H{"settings": s.settings.Get().Masked()})
}

func (s *Server) handlePutSettings(c *gin.Context) {
	var req config.ProviderSettings
	if err := c.ShouldBindJSON(&req); err != nil {
		writeErr(c, http.StatusBadRequest, err)
		return
	}
	saved, err := s.settings.Update(req)
	if err != nil {
		writeOpErr(c, err)
		return
	}
	s.log.Info("settings updated", "provider", saved.Provider, "model", saved.Model, "search", saved.EnableSearch)
	writeJSON(c, http.StatusOK, gin.H{"settings": saved.Masked()})
}
