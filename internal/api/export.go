package api

import (
	"bytes"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/extension"

	"github.com/taskwarden/taskwarden/internal/auth"
	"github.com/taskwarden/taskwarden/internal/convstore"
)

// exportPageSize bounds how many messages are pulled per batch while
// building a transcript.
const exportPageSize = 200

var htmlRenderer = goldmark.New(goldmark.WithExtensions(extension.GFM))

// handleExportConversation renders the full transcript as Markdown, or
// as HTML when ?format=html is given.
func (s *Server) handleExportConversation(w http.ResponseWriter, r *http.Request, user *auth.User) {
	id, err := pathID(r)
	if err != nil {
		errorResponse(w, http.StatusBadRequest, codeValidation, "conversation id must be an integer")
		return
	}

	conv, err := s.conversations.GetConversation(id, user.ID)
	if err != nil {
		if errors.Is(err, convstore.ErrNotFound) {
			errorResponse(w, http.StatusNotFound, codeNotFound, "conversation not found")
			return
		}
		s.logger.Error("load conversation", "error", err, "conversation_id", id)
		errorResponse(w, http.StatusInternalServerError, codeInternal, "internal error")
		return
	}

	var sb strings.Builder
	fmt.Fprintf(&sb, "# Conversation %d\n\n", conv.ID)
	fmt.Fprintf(&sb, "Started %s\n\n", conv.CreatedAt.UTC().Format("2006-01-02 15:04 UTC"))

	for offset := 0; ; offset += exportPageSize {
		msgs, total, err := s.conversations.Messages(id, user.ID, exportPageSize, offset)
		if err != nil {
			s.logger.Error("export messages", "error", err, "conversation_id", id)
			errorResponse(w, http.StatusInternalServerError, codeInternal, "internal error")
			return
		}
		for _, m := range msgs {
			switch m.Role {
			case convstore.RoleUser:
				sb.WriteString("**You:**\n\n")
			case convstore.RoleAssistant:
				sb.WriteString("**Assistant:**\n\n")
			default:
				fmt.Fprintf(&sb, "**%s:**\n\n", m.Role)
			}
			sb.WriteString(m.Content)
			sb.WriteString("\n\n")
		}
		if offset+len(msgs) >= total || len(msgs) == 0 {
			break
		}
	}

	markdown := sb.String()

	if r.URL.Query().Get("format") == "html" {
		var buf bytes.Buffer
		if err := htmlRenderer.Convert([]byte(markdown), &buf); err != nil {
			s.logger.Error("render transcript", "error", err, "conversation_id", id)
			errorResponse(w, http.StatusInternalServerError, codeInternal, "internal error")
			return
		}
		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		w.WriteHeader(http.StatusOK)
		w.Write(buf.Bytes())
		return
	}

	w.Header().Set("Content-Type", "text/markdown; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	w.Write([]byte(markdown))
}
