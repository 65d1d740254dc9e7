// Package llm implements the LLM client (spec.md §4.8): capability
// detection, request shaping, retrying invocation with key rotation and
// a circuit breaker, the tool-call loop, and embedding.
package llm

import "context"

// Role is the speaker of one conversation turn submitted to the model.
type Role string

const (
	RoleUser   Role = "user"
	RoleModel  Role = "model"
	RoleSystem Role = "system"
	RoleTool   Role = "tool"
)

// MediaKind distinguishes the media part kinds the capability filter
// and media-count limits reason about.
type MediaKind string

const (
	MediaImage    MediaKind = "image"
	MediaAudio    MediaKind = "audio"
	MediaVideo    MediaKind = "video"
	MediaDocument MediaKind = "document"
	MediaFileURI  MediaKind = "file_uri"
)

// Part is either a text part or a media part of a conversation turn.
type Part struct {
	Text      string
	Media     MediaKind
	MIME      string
	Ref       string // inline payload reference or base64; empty for file_uri
	FileURI   string // set only for MediaFileURI parts
	Historical bool  // true if this part comes from context history, not the current message
}

// ConversationTurn is one role-tagged turn submitted to the model.
type ConversationTurn struct {
	Role  Role
	Parts []Part
}

// ToolDefinition is a declared tool the model may call. Parameters must
// use only primitive JSON-Schema types (type/enum/array/object/description);
// the provider's schema parser rejects range keywords like minimum/maximum
// (spec.md §9) — encode constraints in Description instead.
type ToolDefinition struct {
	Name        string
	Description string
	Parameters  map[string]any
}

// ToolCall is a single tool invocation requested by the model.
type ToolCall struct {
	ID        string
	Name      string
	Arguments string // JSON-encoded
}

// ToolResult is the outcome of dispatching a ToolCall, fed back to the
// model as a tool-role turn.
type ToolResult struct {
	ToolCallID string
	Name       string
	Content    string // JSON-encoded payload, success or aierrors.ToolErrorPayload shape
	IsError    bool
}

// InjectedContext is the per-request scope handed to tool handlers:
// current chat/thread/user plus whatever scratch state a handler needs.
type InjectedContext struct {
	ChatID   int64
	ThreadID int64
	UserID   int64
}

// Dispatcher executes tool calls. Implemented by pkg/tools; kept as a
// narrow interface here so pkg/llm has no import-time dependency on the
// tool registry (mirrors teacher's AIProvider/tool_registry split).
type Dispatcher interface {
	Dispatch(ctx context.Context, call ToolCall, injected InjectedContext) ToolResult
}

// Capabilities is the flag set determined at construction from the
// model identifier, and mutated at runtime by one-shot capability
// fallback on a matching error (spec.md §4.8).
type Capabilities struct {
	SupportsAudio           bool
	SupportsInlineVideo     bool
	SupportsFunctionCalling bool
	SupportsSearchGrounding bool
}

// GenerationParams are the per-call sampling/safety knobs.
type GenerationParams struct {
	Temperature     float64
	MaxOutputTokens int
}

// Usage is best-effort token accounting reported by the provider.
type Usage struct {
	PromptTokens     int
	CompletionTokens int
	TotalTokens      int
}

// Request is one shaped, ready-to-send generation request.
type Request struct {
	Model        string
	System       string
	Turns        []ConversationTurn
	Tools        []ToolDefinition
	Params       GenerationParams
}

// Response is one backend's raw reply, before the tool-call loop or
// media-limit bookkeeping is applied.
type Response struct {
	Text         string
	ToolCalls    []ToolCall
	FinishReason string
	Usage        Usage
}

// Backend is the wire contract a concrete provider client (geminiclient,
// openaiclient) implements. Mirrors the teacher's AIProvider interface,
// narrowed to what the spec's client actually needs.
type Backend interface {
	Name() string
	Generate(ctx context.Context, apiKey string, req Request) (Response, error)
	Embed(ctx context.Context, apiKey string, model string, text string) ([]float32, error)
}

// ToolUsage records one tool invocation for the pipeline's bookkeeping
// (spec.md §4.9 step 11's tools_used list).
type ToolUsage struct {
	Name      string
	LatencyMS int64
	Success   bool
}
