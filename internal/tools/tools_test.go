package tools

import (
	"context"
	"fmt"
	"strings"
	"testing"
)

func newTestRegistry(t *testing.T) *Registry {
	t.Helper()

	r := NewRegistry(nil)
	err := r.Register(&Tool{
		Name:        "echo",
		Description: "echoes its text back",
		Parameters: map[string]any{
			"type": "object",
			"properties": map[string]any{
				"text": map[string]any{"type": "string"},
			},
			"required": []string{"text"},
		},
		Handler: func(ctx context.Context, ownerID int64, args map[string]any) (map[string]any, error) {
			return map[string]any{"text": args["text"], "owner": ownerID}, nil
		},
	})
	if err != nil {
		t.Fatalf("Register: %v", err)
	}
	return r
}

func TestRegisterRejectsDuplicates(t *testing.T) {
	r := newTestRegistry(t)

	err := r.Register(&Tool{
		Name:       "echo",
		Parameters: map[string]any{"type": "object"},
		Handler: func(ctx context.Context, ownerID int64, args map[string]any) (map[string]any, error) {
			return nil, nil
		},
	})
	if err == nil {
		t.Error("duplicate name accepted")
	}
}

func TestDefinitionsShape(t *testing.T) {
	r := newTestRegistry(t)

	defs := r.Definitions()
	if len(defs) != 1 {
		t.Fatalf("got %d definitions, want 1", len(defs))
	}
	if defs[0]["type"] != "function" {
		t.Errorf("type = %v", defs[0]["type"])
	}
	fn, ok := defs[0]["function"].(map[string]any)
	if !ok {
		t.Fatalf("function block missing: %v", defs[0])
	}
	if fn["name"] != "echo" {
		t.Errorf("name = %v", fn["name"])
	}
}

func TestInvokeSuccess(t *testing.T) {
	r := newTestRegistry(t)

	res := r.Invoke(context.Background(), "echo", 42, map[string]any{"text": "hi"})
	if !res.Success() {
		t.Fatalf("invoke failed: %s", res.Err)
	}
	if res.Outputs["text"] != "hi" {
		t.Errorf("outputs = %v", res.Outputs)
	}
	if res.Outputs["owner"] != int64(42) {
		t.Errorf("owner = %v", res.Outputs["owner"])
	}
}

func TestInvokeUnknownTool(t *testing.T) {
	r := newTestRegistry(t)

	res := r.Invoke(context.Background(), "nope", 1, nil)
	if res.Success() {
		t.Fatal("unknown tool reported success")
	}
	if !strings.Contains(res.Err, "unknown tool") {
		t.Errorf("err = %q", res.Err)
	}
}

func TestInvokeSchemaValidation(t *testing.T) {
	r := newTestRegistry(t)

	res := r.Invoke(context.Background(), "echo", 1, map[string]any{})
	if res.Success() {
		t.Fatal("missing required argument reported success")
	}
	if !strings.Contains(res.Err, "invalid arguments") {
		t.Errorf("err = %q", res.Err)
	}

	res = r.Invoke(context.Background(), "echo", 1, map[string]any{"text": 7})
	if res.Success() {
		t.Fatal("wrong argument type reported success")
	}
}

// The model cannot act as someone else by smuggling an owner field into
// the arguments.
func TestInvokeStripsOwnerFields(t *testing.T) {
	r := newTestRegistry(t)

	res := r.Invoke(context.Background(), "echo", 42, map[string]any{
		"text":    "hi",
		"user_id": float64(7),
	})
	if !res.Success() {
		t.Fatalf("invoke failed: %s", res.Err)
	}
	if res.Outputs["owner"] != int64(42) {
		t.Errorf("handler ran as %v, want 42", res.Outputs["owner"])
	}
	if res.Inputs["user_id"] != int64(42) {
		t.Errorf("recorded user_id = %v, want 42", res.Inputs["user_id"])
	}
}

func TestInvokeHandlerFailureIsData(t *testing.T) {
	r := NewRegistry(nil)
	err := r.Register(&Tool{
		Name:       "explode",
		Parameters: map[string]any{"type": "object"},
		Handler: func(ctx context.Context, ownerID int64, args map[string]any) (map[string]any, error) {
			return nil, fmt.Errorf("task 999 not found")
		},
	})
	if err != nil {
		t.Fatalf("Register: %v", err)
	}

	res := r.Invoke(context.Background(), "explode", 1, nil)
	if res.Success() {
		t.Fatal("handler failure reported success")
	}
	if res.Err != "task 999 not found" {
		t.Errorf("err = %q", res.Err)
	}
	if res.Outputs != nil {
		t.Errorf("outputs = %v, want nil", res.Outputs)
	}
}
