package agent

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"

	"github.com/taskwarden/taskwarden/internal/audit"
	"github.com/taskwarden/taskwarden/internal/llm"
	"github.com/taskwarden/taskwarden/internal/tools"
)

// scriptedLLM replays canned responses in order.
type scriptedLLM struct {
	responses []*llm.ChatResponse
	err       error
	calls     [][]llm.Message
}

func (m *scriptedLLM) Chat(ctx context.Context, model string, messages []llm.Message, defs []map[string]any) (*llm.ChatResponse, error) {
	m.calls = append(m.calls, messages)
	if m.err != nil {
		return nil, m.err
	}
	i := len(m.calls) - 1
	if i >= len(m.responses) {
		i = len(m.responses) - 1
	}
	return m.responses[i], nil
}

func (m *scriptedLLM) Ping(ctx context.Context) error { return nil }

// memoryAuditor records entries in memory.
type memoryAuditor struct {
	mu      sync.Mutex
	entries []audit.Entry
}

func (a *memoryAuditor) Record(e audit.Entry) (*audit.Record, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.entries = append(a.entries, e)
	return &audit.Record{ID: int64(len(a.entries))}, nil
}

func textResponse(content string) *llm.ChatResponse {
	return &llm.ChatResponse{
		Message:      llm.Message{Role: "assistant", Content: content},
		FinishReason: "stop",
	}
}

func toolResponse(calls ...llm.ToolCall) *llm.ChatResponse {
	return &llm.ChatResponse{
		Message:      llm.Message{Role: "assistant", ToolCalls: calls},
		FinishReason: "tool_calls",
	}
}

func echoRegistry(t *testing.T) *tools.Registry {
	t.Helper()
	r := tools.NewRegistry(nil)
	err := r.Register(&tools.Tool{
		Name:        "echo",
		Description: "echoes text",
		Parameters: map[string]any{
			"type": "object",
			"properties": map[string]any{
				"text": map[string]any{"type": "string"},
			},
			"required": []string{"text"},
		},
		Handler: func(ctx context.Context, ownerID int64, args map[string]any) (map[string]any, error) {
			return map[string]any{"text": args["text"]}, nil
		},
	})
	if err != nil {
		t.Fatalf("Register: %v", err)
	}
	return r
}

func TestRunWithoutToolCalls(t *testing.T) {
	mock := &scriptedLLM{responses: []*llm.ChatResponse{textResponse("hello there")}}
	auditor := &memoryAuditor{}
	loop := New(mock, echoRegistry(t), auditor, "test-model", 5, nil)

	result, err := loop.Run(context.Background(), 1, nil, "hi")
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if result.Content != "hello there" {
		t.Errorf("content = %q", result.Content)
	}
	if len(result.Invocations) != 0 {
		t.Errorf("invocations = %v", result.Invocations)
	}
	if len(auditor.entries) != 0 {
		t.Errorf("audited %d entries, want 0", len(auditor.entries))
	}
	if len(mock.calls) != 1 {
		t.Errorf("provider called %d times, want 1", len(mock.calls))
	}

	// The prompt must carry system + user.
	turns := mock.calls[0]
	if turns[0].Role != "system" {
		t.Errorf("first turn role = %q", turns[0].Role)
	}
	if last := turns[len(turns)-1]; last.Role != "user" || last.Content != "hi" {
		t.Errorf("last turn = %+v", last)
	}
}

func TestRunToolRoundTrip(t *testing.T) {
	mock := &scriptedLLM{responses: []*llm.ChatResponse{
		toolResponse(llm.ToolCall{
			ID: "call_1",
			Function: llm.ToolFunction{
				Name:      "echo",
				Arguments: map[string]any{"text": "ping"},
			},
		}),
		textResponse("the echo said ping"),
	}}
	auditor := &memoryAuditor{}
	loop := New(mock, echoRegistry(t), auditor, "test-model", 5, nil)

	result, err := loop.Run(context.Background(), 7, nil, "echo ping")
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if result.Content != "the echo said ping" {
		t.Errorf("content = %q", result.Content)
	}

	if len(result.Invocations) != 1 {
		t.Fatalf("got %d invocations, want 1", len(result.Invocations))
	}
	inv := result.Invocations[0]
	if inv.Tool != "echo" || inv.Error != "" {
		t.Errorf("invocation = %+v", inv)
	}
	if inv.Outputs["text"] != "ping" {
		t.Errorf("outputs = %v", inv.Outputs)
	}

	if len(auditor.entries) != 1 {
		t.Fatalf("audited %d entries, want 1", len(auditor.entries))
	}
	if len(result.RecordIDs) != 1 || result.RecordIDs[0] != 1 {
		t.Errorf("record ids = %v, want the audited record's id", result.RecordIDs)
	}
	entry := auditor.entries[0]
	if entry.OwnerID != 7 || entry.ToolName != "echo" || !entry.Success {
		t.Errorf("entry = %+v", entry)
	}
	if entry.Inputs["user_id"] != int64(7) {
		t.Errorf("entry inputs = %v", entry.Inputs)
	}

	// Second round must include the assistant's tool-call turn and the
	// tool result turn.
	second := mock.calls[1]
	toolTurn := second[len(second)-1]
	if toolTurn.Role != "tool" || toolTurn.ToolCallID != "call_1" {
		t.Errorf("tool turn = %+v", toolTurn)
	}
	if !strings.Contains(toolTurn.Content, "ping") {
		t.Errorf("tool turn content = %q", toolTurn.Content)
	}
}

func TestRunFailedToolIsFedBackAndAudited(t *testing.T) {
	r := tools.NewRegistry(nil)
	err := r.Register(&tools.Tool{
		Name:       "explode",
		Parameters: map[string]any{"type": "object"},
		Handler: func(ctx context.Context, ownerID int64, args map[string]any) (map[string]any, error) {
			return nil, fmt.Errorf("task 999 not found")
		},
	})
	if err != nil {
		t.Fatalf("Register: %v", err)
	}

	mock := &scriptedLLM{responses: []*llm.ChatResponse{
		toolResponse(llm.ToolCall{
			ID:       "call_1",
			Function: llm.ToolFunction{Name: "explode", Arguments: map[string]any{}},
		}),
		textResponse("that task does not exist"),
	}}
	auditor := &memoryAuditor{}
	loop := New(mock, r, auditor, "test-model", 5, nil)

	result, err := loop.Run(context.Background(), 1, nil, "delete task 999")
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if result.Content != "that task does not exist" {
		t.Errorf("content = %q", result.Content)
	}
	if len(result.Invocations) != 1 || result.Invocations[0].Error == "" {
		t.Errorf("invocations = %+v", result.Invocations)
	}

	if len(auditor.entries) != 1 {
		t.Fatalf("audited %d entries, want 1", len(auditor.entries))
	}
	entry := auditor.entries[0]
	if entry.Success || entry.ErrorMessage != "task 999 not found" {
		t.Errorf("entry = %+v", entry)
	}

	// The failure must reach the model as data in the tool turn.
	second := mock.calls[1]
	toolTurn := second[len(second)-1]
	if !strings.Contains(toolTurn.Content, "task 999 not found") {
		t.Errorf("tool turn content = %q", toolTurn.Content)
	}
}

func TestRunStopsAtRoundCap(t *testing.T) {
	// The model insists on calling tools forever.
	mock := &scriptedLLM{responses: []*llm.ChatResponse{
		toolResponse(llm.ToolCall{
			ID:       "call_x",
			Function: llm.ToolFunction{Name: "echo", Arguments: map[string]any{"text": "again"}},
		}),
	}}
	auditor := &memoryAuditor{}
	loop := New(mock, echoRegistry(t), auditor, "test-model", 3, nil)

	result, err := loop.Run(context.Background(), 1, nil, "loop forever")
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if result.Content == "" {
		t.Error("round cap produced no fallback content")
	}
	if len(mock.calls) != 3 {
		t.Errorf("provider called %d times, want 3", len(mock.calls))
	}
	if len(result.Invocations) != 3 {
		t.Errorf("got %d invocations, want 3", len(result.Invocations))
	}
	if len(auditor.entries) != 3 {
		t.Errorf("audited %d entries, want 3", len(auditor.entries))
	}
}

func TestRunProviderError(t *testing.T) {
	wantErr := errors.New("provider unreachable")
	mock := &scriptedLLM{err: wantErr}
	loop := New(mock, echoRegistry(t), &memoryAuditor{}, "test-model", 5, nil)

	_, err := loop.Run(context.Background(), 1, nil, "hi")
	if !errors.Is(err, wantErr) {
		t.Errorf("err = %v, want %v", err, wantErr)
	}
}

func TestRunParallelToolCallsKeepOrder(t *testing.T) {
	mock := &scriptedLLM{responses: []*llm.ChatResponse{
		toolResponse(
			llm.ToolCall{ID: "call_a", Function: llm.ToolFunction{Name: "echo", Arguments: map[string]any{"text": "first"}}},
			llm.ToolCall{ID: "call_b", Function: llm.ToolFunction{Name: "echo", Arguments: map[string]any{"text": "second"}}},
		),
		textResponse("both done"),
	}}
	auditor := &memoryAuditor{}
	loop := New(mock, echoRegistry(t), auditor, "test-model", 5, nil)

	result, err := loop.Run(context.Background(), 1, nil, "echo twice")
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if len(result.Invocations) != 2 {
		t.Fatalf("got %d invocations, want 2", len(result.Invocations))
	}
	if result.Invocations[0].Outputs["text"] != "first" || result.Invocations[1].Outputs["text"] != "second" {
		t.Errorf("invocations out of order: %+v", result.Invocations)
	}

	second := mock.calls[1]
	turnA := second[len(second)-2]
	turnB := second[len(second)-1]
	if turnA.ToolCallID != "call_a" || turnB.ToolCallID != "call_b" {
		t.Errorf("tool turns = %q, %q", turnA.ToolCallID, turnB.ToolCallID)
	}
}
