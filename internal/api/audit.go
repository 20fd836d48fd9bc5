package api

import (
	"net/http"

	"github.com/taskwarden/taskwarden/internal/audit"
	"github.com/taskwarden/taskwarden/internal/auth"
)

func (s *Server) handleAuditList(w http.ResponseWriter, r *http.Request, user *auth.User) {
	limit := queryInt(r, "limit", 100)
	toolName := r.URL.Query().Get("tool")

	records, err := s.auditLog.ListByOwner(user.ID, toolName, limit)
	if err != nil {
		s.logger.Error("list audit records", "error", err, "owner_id", user.ID)
		errorResponse(w, http.StatusInternalServerError, codeInternal, "internal error")
		return
	}
	if records == nil {
		records = []audit.Record{}
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"invocations": records,
		"total_count": len(records),
	})
}

func (s *Server) handleAuditStats(w http.ResponseWriter, r *http.Request, user *auth.User) {
	stats, err := s.auditLog.Stats(user.ID)
	if err != nil {
		s.logger.Error("audit stats", "error", err, "owner_id", user.ID)
		errorResponse(w, http.StatusInternalServerError, codeInternal, "internal error")
		return
	}
	writeJSON(w, http.StatusOK, stats)
}
