package api

import (
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	"paperlens/internal/analysis"
	"paperlens/internal/attachment"
	"paperlens/internal/models"
)

type analyzeRequest struct {
	Query        string `json:"query" form:"query"`
	EnableSearch *bool  `json:"enableSearch" form:"enableSearch"`
}

// handleAnalyze accepts either JSON or a multipart form with an optional
// "file" part, runs the analysis and saves it to history.
func (s *Server) handleAnalyze(c *gin.Context) {
	var req analyzeRequest
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
	if file != nil {
		s.log.Info("analysis upload", "request_id", c.GetString(requestIDKey), "name", file.Name, "mime", file.MIMEType, "bytes", len(file.Data), "sha256", file.Digest())
	}

	in := analysis.Input{Query: req.Query, Attachment: file, EnableSearch: true}
	if req.EnableSearch != nil {
		in.EnableSearch = *req.EnableSearch
	}
	res, err := s.analyst.AnalyzePaper(c.Request.Context(), in)
	if err != nil {
		writeOpErr(c, err)
		return
	}

	query := strings.TrimSpace(req.Query)
	if query == "" && file != nil {
		query = file.Name
	}
	item, err := s.history.SaveHistory(c.Request.Context(), models.HistoryItem{Query: query, Result: &res})
	if err != nil {
		// The analysis is still returned; only persistence failed.
		s.log.Warn("save history failed", "request_id", c.GetString(requestIDKey), "error", err)
		writeJSON(c, http.StatusOK, gin.H{"result": res})
		return
	}
	writeJSON(c, http.StatusOK, gin.H{"historyId": item.ID, "result": res})
}

func readUpload(c *gin.Context) (*attachment.File, error) {
	fh, err := c.FormFile("file")
	if errors.Is(err, http.ErrMissingFile) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read upload: %w", err)
	}
	if fh.Size > maxUploadBytes {
		return nil, fmt.Errorf("upload %s exceeds %d bytes", fh.Filename, maxUploadBytes)
	}
	src, err := fh.Open()
	if err != nil {
		return nil, fmt.Errorf("open upload: %w", err)
	}
	defer src.Close()
	return attachment.Read(fh.Filename, fh.Header.Get("Content-Type"), src)
}

type checkRequest struct {
	HistoryID  string `json:"historyId"`
	Title      string `json:"title"`
	AuthorYear string `json:"authorYear"`
	Venue      string `json:"venue"`
	Authors    string `json:"authors"`
}

func (s *Server) handleTimeliness(c *gin.Context) {
	s.runCheck(c, func(req checkRequest, item *models.HistoryItem) any {
		rep := s.analyst.CheckTimeliness(c.Request.Context(), req.Title, req.AuthorYear)
		if item != nil {
			item.Timeliness = &rep
		}
		return rep
	})
}

func (s *Server) handleVenue(c *gin.Context) {
	s.runCheck(c, func(req checkRequest, item *models.HistoryItem) any {
		rep := s.analyst.CheckVenueQuality(c.Request.Context(), req.Venue)
		if item != nil {
			item.Venue = &rep
		}
		return rep
	})
}

func (s *Server) handleIntegrity(c *gin.Context) {
	s.runCheck(c, func(req checkRequest, item *models.HistoryItem) any {
		rep := s.analyst.CheckAuthorIntegrity(c.Request.Context(), req.Authors)
		if item != nil {
			item.Integrity = &rep
		}
		return rep
	})
}

// runCheck decodes a check request, runs it and, when historyId is set,
// attaches the report to that history item. Checks never fail; their
// problems are carried in the report status.
func (s *Server) runCheck(c *gin.Context, run func(checkRequest, *models.HistoryItem) any) {
	var req checkRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		writeErr(c, http.StatusBadRequest, err)
		return
	}
	var item *models.HistoryItem
	if req.HistoryID != "" {
		it, err := s.history.GetHistory(c.Request.Context(), req.HistoryID)
		if err != nil {
			writeOpErr(c, err)
			return
		}
		item = &it
	}
	rep := run(req, item)
	if item != nil {
		if _, err := s.history.SaveHistory(c.Request.Context(), *item); err != nil {
			writeOpErr(c, err)
			return
		}
	}
	writeJSON(c, http.StatusOK, gin.H{"report": rep})
}

type followUpRequest struct {
	HistoryID string               `json:"historyId"`
	Question  string               `json:"question"`
	Context   string               `json:"context"`
	History   []models.ChatMessage `json:"history"`
}

// handleFollowUp answers against a saved analysis when historyId is set and
// appends the exchange to its chat. Otherwise context and history come from
// the request.
func (s *Server) handleFollowUp(c *gin.Context) {
	var req followUpRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		writeErr(c, http.StatusBadRequest, err)
		return
	}
	ctx := c.Request.Context()
	if req.HistoryID == "" {
		answer, err := s.analyst.AskFollowUp(ctx, req.Question, req.Context, req.History)
		if err != nil {
			writeOpErr(c, err)
			return
		}
		writeJSON(c, http.StatusOK, gin.H{"answer": answer})
		return
	}

	item, err := s.history.GetHistory(ctx, req.HistoryID)
	if err != nil {
		writeOpErr(c, err)
		return
	}
	original := ""
	if item.Result != nil {
		original = item.Result.Markdown
	}
	answer, err := s.analyst.AskFollowUp(ctx, req.Question, original, item.Chat)
	if err != nil {
		writeOpErr(c, err)
		return
	}
	now := time.Now().UTC()
	item.Chat = append(item.Chat,
		models.ChatMessage{Role: "user", Content: strings.TrimSpace(req.Question), At: now},
		models.ChatMessage{Role: "assistant", Content: answer, At: now},
	)
	saved, err := s.history.SaveHistory(ctx, item)
	if err != nil {
		writeOpErr(c, err)
		return
	}
	writeJSON(c, http.StatusOK, gin.H{"answer": answer, "chat": saved.Chat})
}

type trendsRequest struct {
	HistoryIDs []string `json:"historyIds"`
}

// handleTrends synthesizes across the named history items, or all of them
// when none are named.
func (s *Server) handleTrends(c *gin.Context) {
	var req trendsRequest
	if c.Request.ContentLength != 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			writeErr(c, http.StatusBadRequest, err)
			return
		}
	}
	ctx := c.Request.Context()
	var items []models.HistoryItem
	if len(req.HistoryIDs) == 0 {
		all, err := s.history.ListHistory(ctx, 0)
		if err != nil {
			writeOpErr(c, err)
			return
		}
		items = all
	} else {
		for _, id := range req.HistoryIDs {
			it, err := s.history.GetHistory(ctx, id)
			if err != nil {
				writeOpErr(c, err)
				return
			}
			items = append(items, it)
		}
	}
	rep, err := s.analyst.SynthesizeTrends(ctx, items)
	if err != nil {
		writeOpErr(c, err)
		return
	}
	writeJSON(c, http.StatusOK, gin.H{"report": rep, "papers": len(items)})
}
