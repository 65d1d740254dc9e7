package external

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/gryagbot/gryag/pkg/tools"
)

func TestCreatePollHandlerBuildsValidPoll(t *testing.T) {
	handler := createPollHandler()
	out, err := handler(context.Background(), tools.Context{}, map[string]any{
		"question": "Best editor?",
		"options":  []any{"vim", "emacs"},
	})
	require.NoError(t, err)

	payload := out.(map[string]any)
	require.Equal(t, "success", payload["status"])
	require.Equal(t, true, payload["anonymous"])
	require.Equal(t, false, payload["multiple"])
}

func TestCreatePollHandlerRejectsTooFewOptions(t *testing.T) {
	handler := createPollHandler()
	_, err := handler(context.Background(), tools.Context{}, map[string]any{
		"question": "Best editor?",
		"options":  []any{"vim"},
	})
	require.Error(t, err)
}

func TestCreatePollHandlerRejectsTooManyOptions(t *testing.T) {
	handler := createPollHandler()
	opts := make([]any, 11)
	for i := range opts {
		opts[i] = "option"
	}
	_, err := handler(context.Background(), tools.Context{}, map[string]any{
		"question": "Pick one",
		"options":  opts,
	})
	require.Error(t, err)
}

func TestCreatePollHandlerRequiresQuestion(t *testing.T) {
	handler := createPollHandler()
	_, err := handler(context.Background(), tools.Context{}, map[string]any{"options": []any{"a", "b"}})
	require.Error(t, err)
}
