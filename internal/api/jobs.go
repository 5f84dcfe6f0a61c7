package api

import (
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"

	"paperlens/internal/attachment"
	"paperlens/internal/storage"
)

var (
	errJobTerminal     = errors.New("job already finished")
	errJobNotTerminal  = errors.New("only finished jobs can be retried")
	errBatchesDisabled = errors.New("durable batches are disabled; set PAPERLENS_TEMPORAL_ENABLED")
)

type enqueueRequest struct {
	Query   string   `json:"query" form:"query"`
	Queries []string `json:"queries"`
}

// handleEnqueue adds one job (JSON query or multipart with a file) or a
// batch of queries to the in-process queue.
func (s *Server) handleEnqueue(c *gin.Context) {
	var req enqueueRequest
	var file *attachment.File
	if strings.HasPrefix(c.ContentType(), "multipart/") {
		if err := c.ShouldBind(&req); err != nil {
			writeErr(c, http.StatusBadRequest, err)
			return
		}
		f, err := readUpload(c)
		if err != nil {
			writeErr(c, http.StatusBadRequest, err)
			return
		}
		file = f
	} else if err := c.ShouldBindJSON(&req); err != nil {
		writeErr(c, http.StatusBadRequest, err)
		return
	}

	var ids []string
	switch {
	case len(req.Queries) > 0:
		ids = s.queue.EnqueueBatch(req.Queries)
	case strings.TrimSpace(req.Query) != "" || file != nil:
		ids = []string{s.queue.Enqueue(strings.TrimSpace(req.Query), file)}
	}
	if len(ids) == 0 {
		writeErr(c, http.StatusBadRequest, errors.New("query, queries or file required"))
		return
	}
	writeJSON(c, http.StatusAccepted, gin.H{"jobIds": ids, "progress": s.queue.Progress()})
}

func (s *Server) handleListJobs(c *gin.Context) {
	writeJSON(c, http.StatusOK, gin.H{"jobs": s.queue.List(), "progress": s.queue.Progress()})
}

func (s *Server) handleGetJob(c *gin.Context) {
	j, ok := s.queue.Get(c.Param("id"))
	if !ok {
		writeErr(c, http.StatusNotFound, storage.ErrNotFound)
		return
	}
	writeJSON(c, http.StatusOK, gin.H{"job": j})
}

func (s *Server) handleCancelJob(c *gin.Context) {
	id := c.Param("id")
	j, ok := s.queue.Get(id)
	if !ok {
		writeErr(c, http.StatusNotFound, storage.ErrNotFound)
		return
	}
	if j.Status.Terminal() || !s.queue.Cancel(id) {
		writeErr(c, http.StatusConflict, errJobTerminal)
		return
	}
	writeJSON(c, http.StatusAccepted, gin.H{"cancelled": id, "progress": s.queue.Progress()})
}

func (s *Server) handleRetryJob(c *gin.Context) {
	id := c.Param("id")
	if _, ok := s.queue.Get(id); !ok {
		writeErr(c, http.StatusNotFound, storage.ErrNotFound)
		return
	}
	if !s.queue.Retry(id) {
		writeErr(c, http.StatusConflict, errJobNotTerminal)
		return
	}
	j, _ := s.queue.Get(id)
	writeJSON(c, http.StatusAccepted, gin.H{"job": j})
}

type batchRequest struct {
	Queries []string `json:"queries"`
}

func (s *Server) handleStartBatch(c *gin.Context) {
	if s.batches == nil {
		writeErr(c, http.StatusServiceUnavailable, errBatchesDisabled)
		return
	}
	var req batchRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		writeErr(c, http.StatusBadRequest, err)
		return
	}
	queries := make([]string, 0, len(req.Queries))
	for _, q := range req.Queries {
		if q = strings.TrimSpace(q); q != "" {
			queries = append(queries, q)
		}
	}
	if len(queries) == 0 {
		writeErr(c, http.StatusBadRequest, errors.New("queries required"))
		return
	}
	id, err := s.batches.StartBatch(c.Request.Context(), queries)
	if err != nil {
		writeErr(c, http.StatusServiceUnavailable, err)
		return
	}
	writeJSON(c, http.StatusAccepted, gin.H{"batchId": id, "total": len(queries)})
}

func (s *Server) handleBatchProgress(c *gin.Context) {
	if s.batches == nil {
		writeErr(c, http.StatusServiceUnavailable, errBatchesDisabled)
		return
	}
	p, err := s.batches.BatchProgress(c.Request.Context(), c.Param("id"))
	if err != nil {
		writeBatchErr(c, err)
		return
	}
	writeJSON(c, http.StatusOK, gin.H{"batch": p})
}

func (s *Server) handleCancelBatchJob(c *gin.Context) {
	if s.batches == nil {
		writeErr(c, http.StatusServiceUnavailable, errBatchesDisabled)
		return
	}
	index, err := strconv.Atoi(c.Param("index"))
	if err != nil || index < 0 {
		writeErr(c, http.StatusBadRequest, fmt.Errorf("invalid job index %q", c.Param("index")))
		return
	}
	if err := s.batches.CancelJob(c.Request.Context(), c.Param("id"), index); err != nil {
		writeBatchErr(c, err)
		return
	}
	writeJSON(c, http.StatusAccepted, gin.H{"batchId": c.Param("id"), "cancelled": index})
}

func writeBatchErr(c *gin.Context, err error) {
	if errors.Is(err, storage.ErrNotFound) {
		writeErr(c, http.StatusNotFound, err)
		return
	}
	writeErr(c, http.StatusServiceUnavailable, err)
}
