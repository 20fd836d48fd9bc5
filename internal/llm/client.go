package llm

import "context"

// Client is the interface the orchestrator uses to reach a model provider.
type Client interface {
	// Chat sends a chat completion request and returns the response.
	// Implementations own their timeout and retry policy; when Chat
	// returns an error, retries have already been exhausted.
	Chat(ctx context.Context, model string, messages []Message, tools []map[string]any) (*ChatResponse, error)

	// Ping checks if the provider is reachable.
	Ping(ctx context.Context) error
}
