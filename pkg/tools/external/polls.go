package external

import (
	"context"
	"fmt"

	"github.com/gryagbot/gryag/pkg/llm"
	"github.com/gryagbot/gryag/pkg/tools"
)

const (
	minPollOptions = 2
	maxPollOptions = 10
)

// registerPollTool builds and validates a poll's structure. It does not
// place any actual Telegram API call: pkg/telegram exposes contract
// types only, so the caller (the Telegram bot layer) is responsible for
// actually sending the poll this tool describes.
func registerPollTool(reg *tools.Registry) {
	reg.Register(createPollDefinition(), createPollHandler())
}

func createPollDefinition() llm.ToolDefinition {
	return llm.ToolDefinition{
		Name:        "create_poll",
		Description: "Build a structured poll (question + options) to show the chat. Returns the poll description; the caller sends it.",
		Parameters: map[string]any{
			"type": "object",
			"properties": map[string]any{
				"question":  map[string]any{"type": "string", "description": "The poll question."},
				"options":   map[string]any{"type": "array", "items": map[string]any{"type": "string"}, "description": "Between 2 and 10 answer options."},
				"anonymous": map[string]any{"type": "boolean", "description": "Whether votes are anonymous, default true."},
				"multiple":  map[string]any{"type": "boolean", "description": "Whether multiple options can be chosen, default false."},
			},
			"required": []string{"question", "options"},
		},
	}
}

func createPollHandler() tools.Handler {
	return func(ctx context.Context, injected tools.Context, args map[string]any) (any, error) {
		question, err := readRequiredString(args, "question")
		if err != nil {
			return nil, err
		}
		options := readOptionalStringSlice(args, "options")
		if len(options) < minPollOptions || len(options) > maxPollOptions {
			return nil, fmt.Errorf("poll must have between %d and %d options, got %d", minPollOptions, maxPollOptions, len(options))
		}
		for i, opt := range options {
			if opt == "" {
				return nil, fmt.Errorf("option %d is empty", i)
			}
		}

		anonymous := readOptionalBool(args, "anonymous", true)
		multiple := readOptionalBool(args, "multiple", false)

		return map[string]any{
			"status":    "success",
			"question":  question,
			"options":   options,
			"anonymous": anonymous,
			"multiple":  multiple,
		}, nil
	}
}
