package tools

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/gryagbot/gryag/pkg/llm"
)

func echoDefinition() llm.ToolDefinition {
	return llm.ToolDefinition{Name: "echo", Description: "echoes its input"}
}

func echoHandler(ctx context.Context, injected Context, args map[string]any) (any, error) {
	return successResult(map[string]any{"got": args["text"]}), nil
}

func TestRegisterPanicsOnDuplicateName(t *testing.T) {
	reg := NewRegistry()
	reg.Register(echoDefinition(), echoHandler)

	require.Panics(t, func() {
		reg.Register(echoDefinition(), echoHandler)
	})
}

func TestRegisterPanicsOnNilHandler(t *testing.T) {
	reg := NewRegistry()
	require.Panics(t, func() {
		reg.Register(echoDefinition(), nil)
	})
}

func TestDispatchUnknownToolReturnsErrorResult(t *testing.T) {
	reg := NewRegistry()
	result := reg.Dispatch(context.Background(), llm.ToolCall{ID: "1", Name: "does_not_exist"}, llm.InjectedContext{})

	require.True(t, result.IsError)
	require.Contains(t, result.Content, "unknown tool")
}

func TestDispatchMalformedArgumentsReturnsErrorResult(t *testing.T) {
	reg := NewRegistry()
	reg.Register(echoDefinition(), echoHandler)

	result := reg.Dispatch(context.Background(), llm.ToolCall{ID: "1", Name: "echo", Arguments: "{not json"}, llm.InjectedContext{})

	require.True(t, result.IsError)
	require.Contains(t, result.Content, "malformed arguments")
}

func TestDispatchSuccessRoundTripsArguments(t *testing.T) {
	reg := NewRegistry()
	reg.Register(echoDefinition(), echoHandler)

	result := reg.Dispatch(context.Background(), llm.ToolCall{ID: "1", Name: "echo", Arguments: `{"text":"hi"}`}, llm.InjectedContext{})

	require.False(t, result.IsError)
	require.Contains(t, result.Content, `"got":"hi"`)
}

func TestDispatchHandlerErrorReturnsErrorResult(t *testing.T) {
	reg := NewRegistry()
	reg.Register(llm.ToolDefinition{Name: "fails"}, func(ctx context.Context, injected Context, args map[string]any) (any, error) {
		return nil, context.DeadlineExceeded
	})

	result := reg.Dispatch(context.Background(), llm.ToolCall{ID: "1", Name: "fails"}, llm.InjectedContext{})

	require.True(t, result.IsError)
}

func TestDefinitionsReturnsEveryRegisteredTool(t *testing.T) {
	reg := NewRegistry()
	reg.Register(echoDefinition(), echoHandler)
	reg.Register(llm.ToolDefinition{Name: "second"}, echoHandler)

	defs := reg.Definitions()
	require.Len(t, defs, 2)
}
