package api

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/taskwarden/taskwarden/internal/auth"
	"github.com/taskwarden/taskwarden/internal/convstore"
)

func (s *Server) handleListConversations(w http.ResponseWriter, r *http.Request, user *auth.User) {
	summaries, err := s.conversations.ListConversations(user.ID)
	if err != nil {
		s.logger.Error("list conversations", "error", err, "owner_id", user.ID)
		errorResponse(w, http.StatusInternalServerError, codeInternal, "internal error")
		return
	}
	if summaries == nil {
		summaries = []convstore.Summary{}
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"conversations": summaries,
		"total_count":   len(summaries),
	})
}

type messageView struct {
	ID              int64           `json:"id"`
	Role            string          `json:"role"`
	Content         string          `json:"content"`
	SequenceNumber  int             `json:"sequence_number"`
	CreatedAt       string          `json:"created_at"`
	ToolInvocations json.RawMessage `json:"tool_invocations,omitempty"`
}

func (s *Server) handleConversationMessages(w http.ResponseWriter, r *http.Request, user *auth.User) {
	id, err := pathID(r)
	if err != nil {
		errorResponse(w, http.StatusBadRequest, codeValidation, "conversation id must be an integer")
		return
	}

	limit := queryInt(r, "limit", 50)
	if limit < 1 || limit > 200 {
		limit = 50
	}
	offset := queryInt(r, "offset", 0)
	if offset < 0 {
		offset = 0
	}

	msgs, total, err := s.conversations.Messages(id, user.ID, limit, offset)
	if err != nil {
		if errors.Is(err, convstore.ErrNotFound) {
			errorResponse(w, http.StatusNotFound, codeNotFound, "conversation not found")
			return
		}
		s.logger.Error("list messages", "error", err, "conversation_id", id)
		errorResponse(w, http.StatusInternalServerError, codeInternal, "internal error")
		return
	}

	views := make([]messageView, 0, len(msgs))
	for _, m := range msgs {
		v := messageView{
			ID:             m.ID,
			Role:           m.Role,
			Content:        m.Content,
			SequenceNumber: m.SequenceNumber,
			CreatedAt:      m.CreatedAt.UTC().Format("2006-01-02T15:04:05Z"),
		}
		if m.ToolInvocations != "" {
			v.ToolInvocations = json.RawMessage(m.ToolInvocations)
		}
		views = append(views, v)
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"conversation_id": id,
		"messages":        views,
		"total_count":     total,
		"limit":           limit,
		"offset":          offset,
	})
}
