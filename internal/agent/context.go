package agent

import (
	"github.com/taskwarden/taskwarden/internal/convstore"
	"github.com/taskwarden/taskwarden/internal/llm"
)

// Reconstruct converts stored conversation history into provider turns.
// It keeps at most limit messages, always the most recent ones, and is
// deterministic: the same stored history always yields the same turns.
// Tool invocation payloads attached to stored messages are not replayed;
// their outcome is already folded into the assistant text.
func Reconstruct(msgs []convstore.Message, limit int) []llm.Message {
	if limit > 0 && len(msgs) > limit {
		msgs = msgs[len(msgs)-limit:]
	}

	turns := make([]llm.Message, 0, len(msgs))
	for _, m := range msgs {
		turns = append(turns, llm.Message{
			Role:    m.Role,
			Content: m.Content,
		})
	}
	return turns
}
