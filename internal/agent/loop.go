// Package agent runs the bounded tool-calling loop that turns a user
// message plus reconstructed history into a final assistant reply.
package agent

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/sourcegraph/conc"

	"github.com/taskwarden/taskwarden/internal/audit"
	"github.com/taskwarden/taskwarden/internal/llm"
	"github.com/taskwarden/taskwarden/internal/prompts"
	"github.com/taskwarden/taskwarden/internal/tools"
)

// DefaultMaxRounds bounds how many model round-trips a single turn may
// take before the loop gives up and answers with what it has.
const DefaultMaxRounds = 5

const roundCapFallback = "I wasn't able to finish that request within my limits. Here's where I got to; please ask again if you'd like me to continue."

// Auditor records tool invocations. Satisfied by *audit.Store.
type Auditor interface {
	Record(e audit.Entry) (*audit.Record, error)
}

// ToolInvocation is the per-call summary attached to the assistant
// message and returned to the client.
type ToolInvocation struct {
	Tool    string         `json:"tool"`
	Inputs  map[string]any `json:"inputs"`
	Outputs map[string]any `json:"outputs,omitempty"`
	Error   string         `json:"error,omitempty"`
}

// Result is the outcome of one completed agent turn. RecordIDs lists the
// audit records the turn produced, so the caller can associate them with
// the persisted assistant message.
type Result struct {
	Content      string
	Model        string
	Invocations  []ToolInvocation
	RecordIDs    []int64
	InputTokens  int
	OutputTokens int
}

// Loop drives the conversation with the model, executing tool calls
// between rounds until the model produces a final text answer.
type Loop struct {
	llm       llm.Client
	registry  *tools.Registry
	auditor   Auditor
	logger    *slog.Logger
	model     string
	maxRounds int
}

func New(client llm.Client, registry *tools.Registry, auditor Auditor, model string, maxRounds int, logger *slog.Logger) *Loop {
	if maxRounds <= 0 {
		maxRounds = DefaultMaxRounds
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Loop{
		llm:       client,
		registry:  registry,
		auditor:   auditor,
		logger:    logger,
		model:     model,
		maxRounds: maxRounds,
	}
}

// Run executes one agent turn for ownerID. history is the reconstructed
// prior conversation; userMessage is the new message, already persisted
// by the caller. Run returns an error only when the provider fails in a
// way that leaves no assistant reply to persist; tool failures are
// reported to the model and surface in the invocation summaries instead.
func (l *Loop) Run(ctx context.Context, ownerID int64, history []llm.Message, userMessage string) (*Result, error) {
	turns := make([]llm.Message, 0, len(history)+2)
	turns = append(turns, llm.Message{Role: "system", Content: prompts.TaskAssistant(time.Now())})
	turns = append(turns, history...)
	turns = append(turns, llm.Message{Role: "user", Content: userMessage})

	defs := l.registry.Definitions()
	result := &Result{Model: l.model}

	for round := 0; round < l.maxRounds; round++ {
		resp, err := l.llm.Chat(ctx, l.model, turns, defs)
		if err != nil {
			return nil, fmt.Errorf("agent round %d: %w", round+1, err)
		}
		result.InputTokens += resp.InputTokens
		result.OutputTokens += resp.OutputTokens
		if resp.Model != "" {
			result.Model = resp.Model
		}

		if len(resp.Message.ToolCalls) == 0 {
			result.Content = resp.Message.Content
			if result.Content == "" {
				// Some models answer a completed tool round with an
				// empty final turn.
				result.Content = "Done."
			}
			return result, nil
		}

		l.logger.Debug("executing tool calls",
			"round", round+1,
			"count", len(resp.Message.ToolCalls),
			"owner_id", ownerID)

		outcomes := l.execute(ctx, ownerID, resp.Message.ToolCalls)

		for _, r := range outcomes {
			entry := audit.Entry{
				OwnerID:  ownerID,
				ToolName: r.ToolName,
				Inputs:   r.Inputs,
				Outputs:  r.Outputs,
				Success:  r.Success(),
			}
			if !r.Success() {
				entry.ErrorMessage = r.Err
			}
			rec, err := l.auditor.Record(entry)
			if err != nil {
				return nil, fmt.Errorf("audit %s: %w", r.ToolName, err)
			}
			result.RecordIDs = append(result.RecordIDs, rec.ID)
		}

		turns = append(turns, resp.Message)
		for i, call := range resp.Message.ToolCalls {
			turns = append(turns, llm.Message{
				Role:       "tool",
				ToolCallID: call.ID,
				Content:    toolContent(outcomes[i]),
			})
			inv := ToolInvocation{
				Tool:    outcomes[i].ToolName,
				Inputs:  outcomes[i].Inputs,
				Outputs: outcomes[i].Outputs,
			}
			if !outcomes[i].Success() {
				inv.Error = outcomes[i].Err
			}
			result.Invocations = append(result.Invocations, inv)
		}
	}

	l.logger.Warn("round cap reached", "owner_id", ownerID, "rounds", l.maxRounds)
	result.Content = roundCapFallback
	return result, nil
}

// execute runs the round's tool calls concurrently. Each call lands in
// its own slot so results stay aligned with the model's call order.
func (l *Loop) execute(ctx context.Context, ownerID int64, calls []llm.ToolCall) []*tools.Result {
	results := make([]*tools.Result, len(calls))

	var wg conc.WaitGroup
	for i, call := range calls {
		wg.Go(func() {
			results[i] = l.registry.Invoke(ctx, call.Function.Name, ownerID, call.Function.Arguments)
		})
	}
	wg.Wait()

	return results
}

// toolContent serializes a tool outcome for the model's tool turn.
func toolContent(r *tools.Result) string {
	var payload any
	if r.Success() {
		payload = r.Outputs
	} else {
		payload = map[string]any{"error": r.Err}
	}
	data, err := json.Marshal(payload)
	if err != nil {
		return `{"error":"unserializable tool result"}`
	}
	return string(data)
}
