package api

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
)

func (s *Server) handleListHistory(c *gin.Context) {
	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "0"))
	items, err := s.history.ListHistory(c.Request.Context(), limit)
	if err != nil {
		writeOpErr(c, err)
		return
	}
	writeJSON(c, http.StatusOK, gin.H{"history": items})
}

func (s *Server) handleGetHistory(c *gin.Context) {
	item, err := s.history.GetHistory(c.Request.Context(), c.Param("id"))
	if err != nil {
		writeOpErr(c, err)
		return
	}
	writeJSON(c, http.StatusOK, gin.H{"item": item})
}

func (s *Server) handleDeleteHistory(c *gin.Context) {
	if err := s.history.DeleteHistory(c.Request.Context(), c.Param("id")); err != nil {
		writeOpErr(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

// handleCalls lists recent provider attempts from the audit table.
func (s *Server) handleCalls(c *gin.Context) {
	if s.calls == nil {
		writeJSON(c, http.StatusOK, gin.H{"calls": []any{}})
		return
	}
	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "50"))
	calls, err := s.calls.Recent(c.Request.Context(), limit)
	if err != nil {
		writeOpErr(c, err)
		return
	}
	writeJSON(c, http.StatusOK, gin.H{"calls": calls})
}
