package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"unicode/utf8"

	"github.com/taskwarden/taskwarden/internal/agent"
	"github.com/taskwarden/taskwarden/internal/auth"
	"github.com/taskwarden/taskwarden/internal/convstore"
)

type chatRequest struct {
	ConversationID *int64 `json:"conversation_id"`
	Message        string `json:"message"`
}

type chatResponse struct {
	ConversationID  int64                  `json:"conversation_id"`
	MessageID       int64                  `json:"message_id"`
	Response        string                 `json:"response"`
	Model           string                 `json:"model,omitempty"`
	ToolInvocations []agent.ToolInvocation `json:"tool_invocations"`
}

// handleChat runs one agent turn. The user message is persisted before
// the model is called; the assistant reply is persisted after. A turn
// already underway is not abandoned if the client disconnects.
func (s *Server) handleChat(w http.ResponseWriter, r *http.Request, user *auth.User) {
	var req chatRequest
	if err := decodeBody(r, &req); err != nil {
		errorResponse(w, http.StatusBadRequest, codeValidation, "invalid request body")
		return
	}

	message := strings.TrimSpace(req.Message)
	if message == "" {
		errorResponse(w, http.StatusBadRequest, codeValidation, "message must not be empty")
		return
	}
	if utf8.RuneCountInString(req.Message) > MaxMessageLen {
		errorResponse(w, http.StatusBadRequest, codeValidation, "message exceeds maximum length")
		return
	}

	var conversationID int64
	var history []convstore.Message
	if req.ConversationID != nil {
		conversationID = *req.ConversationID
		msgs, err := s.conversations.RecentMessages(conversationID, user.ID, s.historyLimit)
		if err != nil {
			if errors.Is(err, convstore.ErrNotFound) {
				errorResponse(w, http.StatusNotFound, codeNotFound, "conversation not found")
				return
			}
			s.logger.Error("load history", "error", err, "conversation_id", conversationID)
			errorResponse(w, http.StatusInternalServerError, codeInternal, "internal error")
			return
		}
		history = msgs
	} else {
		conv, err := s.conversations.CreateConversation(user.ID)
		if err != nil {
			s.logger.Error("create conversation", "error", err)
			errorResponse(w, http.StatusInternalServerError, codeInternal, "internal error")
			return
		}
		conversationID = conv.ID
	}

	if _, err := s.conversations.AppendMessage(conversationID, user.ID, convstore.RoleUser, message, ""); err != nil {
		s.logger.Error("persist user message", "error", err, "conversation_id", conversationID)
		errorResponse(w, http.StatusInternalServerError, codeInternal, "internal error")
		return
	}

	// The turn's side effects (tool calls, audit records) must not be
	// torn down by a client disconnect once they have started.
	ctx := context.WithoutCancel(r.Context())

	result, err := s.loop.Run(ctx, user.ID, agent.Reconstruct(history, s.historyLimit), message)
	if err != nil {
		s.logger.Error("agent turn failed", "error", err, "conversation_id", conversationID)
		errorResponse(w, http.StatusInternalServerError, codeAgent, "the assistant could not complete this request")
		return
	}

	var invocationsJSON string
	if len(result.Invocations) > 0 {
		data, err := json.Marshal(result.Invocations)
		if err != nil {
			s.logger.Error("marshal invocations", "error", err)
		} else {
			invocationsJSON = string(data)
		}
	}

	reply, err := s.conversations.AppendMessage(conversationID, user.ID, convstore.RoleAssistant, result.Content, invocationsJSON)
	if err != nil {
		s.logger.Error("persist assistant message", "error", err, "conversation_id", conversationID)
		errorResponse(w, http.StatusInternalServerError, codeInternal, "internal error")
		return
	}

	if s.auditLog != nil && len(result.RecordIDs) > 0 {
		if err := s.auditLog.LinkMessage(user.ID, reply.ID, result.RecordIDs); err != nil {
			s.logger.Error("link audit records", "error", err, "message_id", reply.ID)
		}
	}

	writeJSON(w, http.StatusOK, chatResponse{
		ConversationID:  conversationID,
		MessageID:       reply.ID,
		Response:        result.Content,
		Model:           result.Model,
		ToolInvocations: invocationsOrEmpty(result.Invocations),
	})
}

// invocationsOrEmpty keeps the field an array rather than null.
func invocationsOrEmpty(inv []agent.ToolInvocation) []agent.ToolInvocation {
	if inv == nil {
		return []agent.ToolInvocation{}
	}
	return inv
}
