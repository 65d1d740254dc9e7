// Package tools implements the tool-call dispatcher (spec.md §4.10): a
// static registry mapping tool name to (declaration, handler), built
// once at construction rather than populated via runtime reflection,
// per the teacher's pkg/connector/tool_registry.go pattern generalized
// away from its bridge-specific executor signatures.
package tools

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/gryagbot/gryag/pkg/aierrors"
	"github.com/gryagbot/gryag/pkg/llm"
)

// Context is the injected scope handed to every handler: the requesting
// chat/thread/user ids; handlers get repositories from their own
// constructors' closures, not from this struct. Mirrors
// the teacher's per-call injected-context idiom (tool_registry.go's
// toolExecutor closures over a BridgeToolContext).
type Context struct {
	ChatID   int64
	ThreadID int64
	UserID   int64
}

// Handler executes one tool call against args decoded from the model's
// JSON-encoded arguments, returning a JSON-marshalable payload on
// success. Handlers never panic on bad input; they return an error,
// which the registry turns into the uniform {status:"error",...}
// shape (spec.md §6.5) fed back to the model as a tool-role turn.
type Handler func(ctx context.Context, injected Context, args map[string]any) (any, error)

// entry pairs one tool's LLM-facing declaration with its handler.
type entry struct {
	definition llm.ToolDefinition
	handler    Handler
}

// Registry is the static tool-name -> (declaration, handler) map built
// once at construction. It implements llm.Dispatcher.
type Registry struct {
	entries map[string]entry
}

// NewRegistry builds an empty registry; use Register to populate it and
// NewDefaultRegistry for the built-in tool set.
func NewRegistry() *Registry {
	return &Registry{entries: make(map[string]entry)}
}

// Register adds one tool's declaration and handler, panicking on a
// duplicate name — a programmer error caught at startup, not runtime,
// mirroring the teacher's panic-on-missing-executor check in
// buildBuiltinToolDefinitions.
func (r *Registry) Register(def llm.ToolDefinition, handler Handler) {
	if _, exists := r.entries[def.Name]; exists {
		panic(fmt.Sprintf("tools: duplicate registration for %q", def.Name))
	}
	if handler == nil {
		panic(fmt.Sprintf("tools: nil handler for %q", def.Name))
	}
	r.entries[def.Name] = entry{definition: def, handler: handler}
}

// Definitions returns every registered tool's LLM-facing declaration,
// for use as the request's tool list (spec.md §4.9 step 10).
func (r *Registry) Definitions() []llm.ToolDefinition {
	defs := make([]llm.ToolDefinition, 0, len(r.entries))
	for _, e := range r.entries {
		defs = append(defs, e.definition)
	}
	return defs
}

// Dispatch implements llm.Dispatcher: it looks up the named tool,
// decodes its JSON arguments, invokes the handler, and wraps the
// outcome into a ToolResult. An unknown tool name or a handler error
// both surface as IsError results rather than panicking, so one bad
// tool call never aborts the LLM's tool-call loop.
func (r *Registry) Dispatch(ctx context.Context, call llm.ToolCall, injected llm.InjectedContext) llm.ToolResult {
	return r.dispatch(ctx, call, Context{ChatID: injected.ChatID, ThreadID: injected.ThreadID, UserID: injected.UserID})
}

func (r *Registry) dispatch(ctx context.Context, call llm.ToolCall, injected Context) llm.ToolResult {
	e, ok := r.entries[call.Name]
	if !ok {
		return errorResult(call, fmt.Errorf("unknown tool %q", call.Name))
	}

	var args map[string]any
	if call.Arguments != "" {
		if err := json.Unmarshal([]byte(call.Arguments), &args); err != nil {
			return errorResult(call, fmt.Errorf("malformed arguments: %w", err))
		}
	}

	payload, err := e.handler(ctx, injected, args)
	if err != nil {
		return errorResult(call, err)
	}

	encoded, err := json.Marshal(payload)
	if err != nil {
		return errorResult(call, fmt.Errorf("failed to encode result: %w", err))
	}

	return llm.ToolResult{ToolCallID: call.ID, Name: call.Name, Content: string(encoded)}
}

// errorResult builds the uniform {status:"error",...} payload surfaced
// to the LLM per spec.md §6.5/§7 (tool_failed), via aierrors.ToolErrorPayload
// so a *aierrors.ToolError's clean Message survives rather than a raw
// wrapped error string.
func errorResult(call llm.ToolCall, err error) llm.ToolResult {
	encoded, _ := json.Marshal(aierrors.ToolErrorPayload(call.Name, err))
	return llm.ToolResult{ToolCallID: call.ID, Name: call.Name, Content: string(encoded), IsError: true}
}

// notFoundResult is the uniform not_found payload used by the memory
// tools (update_fact/forget_fact) on a missing id (spec.md §8 scenario 5).
func notFoundResult() map[string]any {
	return map[string]any{"status": "not_found"}
}

func successResult(extra map[string]any) map[string]any {
	out := map[string]any{"status": "success"}
	for k, v := range extra {
		out[k] = v
	}
	return out
}
