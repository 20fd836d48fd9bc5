// Package tools defines the schema-validated, owner-scoped tools the
// agent can call.
package tools

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/xeipuuv/gojsonschema"
)

// Handler executes one tool call. ownerID is the authenticated caller;
// args have already passed schema validation. Handlers must be stateless
// across invocations; all state lives in the stores they call.
type Handler func(ctx context.Context, ownerID int64, args map[string]any) (map[string]any, error)

// Tool is a single registered, callable operation.
type Tool struct {
	Name        string
	Description string
	// Parameters is the JSON Schema document for the tool's input.
	Parameters map[string]any
	Handler    Handler

	schema *gojsonschema.Schema
}

// Result is the structured outcome of one invocation. Failures are data,
// not panics: Err carries the failure text the model can read, and the
// audit trail records the same shape.
type Result struct {
	ToolName string         `json:"tool"`
	Inputs   map[string]any `json:"inputs"`
	Outputs  map[string]any `json:"outputs,omitempty"`
	Err      string         `json:"error,omitempty"`
}

// Success reports whether the invocation produced outputs.
func (r *Result) Success() bool { return r.Err == "" }

// Registry holds the available tools. Schemas are compiled at
// registration time, so a malformed schema fails startup rather than a
// request.
type Registry struct {
	tools  map[string]*Tool
	order  []string
	logger *slog.Logger
}

// NewRegistry creates an empty tool registry.
func NewRegistry(logger *slog.Logger) *Registry {
	if logger == nil {
		logger = slog.Default()
	}
	return &Registry{
		tools:  make(map[string]*Tool),
		logger: logger.With("component", "tools"),
	}
}

// Register adds a tool, compiling its input schema. Duplicate names and
// uncompilable schemas are registration errors.
func (r *Registry) Register(t *Tool) error {
	if t.Name == "" {
		return fmt.Errorf("register tool: empty name")
	}
	if _, exists := r.tools[t.Name]; exists {
		return fmt.Errorf("register tool: duplicate name %q", t.Name)
	}

	schema, err := gojsonschema.NewSchema(gojsonschema.NewGoLoader(t.Parameters))
	if err != nil {
		return fmt.Errorf("register tool %q: compile schema: %w", t.Name, err)
	}
	t.schema = schema

	r.tools[t.Name] = t
	r.order = append(r.order, t.Name)
	return nil
}

// Definitions returns the tool definitions in the shape the model
// provider expects, in registration order.
func (r *Registry) Definitions() []map[string]any {
	defs := make([]map[string]any, 0, len(r.order))
	for _, name := range r.order {
		t := r.tools[name]
		defs = append(defs, map[string]any{
			"type": "function",
			"function": map[string]any{
				"name":        t.Name,
				"description": t.Description,
				"parameters":  t.Parameters,
			},
		})
	}
	return defs
}

// Invoke runs one tool call for the authenticated owner. It always
// returns a Result: unknown names, schema violations, and handler
// failures all come back as data so the orchestrator can audit them and
// feed them to the model.
//
// Any owner-like field the model put in args is discarded before
// validation; the authenticated ownerID is the only identity a handler
// ever sees.
func (r *Registry) Invoke(ctx context.Context, name string, ownerID int64, args map[string]any) *Result {
	if args == nil {
		args = map[string]any{}
	}
	delete(args, "owner_id")
	delete(args, "user_id")

	// Recorded inputs carry the injected owner so the audit trail shows
	// the identity the tool actually ran as.
	inputs := make(map[string]any, len(args)+1)
	for k, v := range args {
		inputs[k] = v
	}
	inputs["user_id"] = ownerID

	result := &Result{ToolName: name, Inputs: inputs}

	tool, ok := r.tools[name]
	if !ok {
		result.Err = fmt.Sprintf("unknown tool: %s", name)
		return result
	}

	validation, err := tool.schema.Validate(gojsonschema.NewGoLoader(args))
	if err != nil {
		result.Err = fmt.Sprintf("validate arguments: %v", err)
		return result
	}
	if !validation.Valid() {
		var problems []string
		for _, e := range validation.Errors() {
			problems = append(problems, e.String())
		}
		result.Err = fmt.Sprintf("invalid arguments: %s", strings.Join(problems, "; "))
		return result
	}

	outputs, err := tool.Handler(ctx, ownerID, args)
	if err != nil {
		r.logger.Warn("tool execution failed", "tool", name, "owner", ownerID, "error", err)
		result.Err = err.Error()
		return result
	}

	result.Outputs = outputs
	return result
}
