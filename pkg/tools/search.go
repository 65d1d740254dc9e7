package tools

import (
	"context"

	"github.com/gryagbot/gryag/pkg/llm"
	"github.com/gryagbot/gryag/pkg/retrieval"
	"github.com/gryagbot/gryag/pkg/turns"
)

// searchWindow bounds how far back search_messages scans to resolve a
// matching turn's text, the same approach as the assembler's loadTurn
// (which scans 500 turns) —
// retrieval.Retriever.Query returns scored turn ids without text, and
// turns.Repository has no by-id lookup, only Recent.
const searchWindow = 1000

// Embedder produces a query embedding for search_messages' semantic leg.
// A thin seam over llm.Client.Embed so this package doesn't import llm's
// concrete client.
type Embedder interface {
	Embed(ctx context.Context, model, text string) ([]float32, error)
}

// RegisterSearchTool wires search_messages into reg, backed by retriever
// for scoring and turnRepo to resolve turn ids back to their text.
func RegisterSearchTool(reg *Registry, retriever *retrieval.Retriever, turnRepo *turns.Repository, embedder Embedder, embeddingModel string) {
	reg.Register(searchMessagesDefinition(), searchMessagesHandler(retriever, turnRepo, embedder, embeddingModel))
}

func searchMessagesDefinition() llm.ToolDefinition {
	return llm.ToolDefinition{
		Name:        "search_messages",
		Description: "Search this chat's message history by meaning and keyword, most relevant first. Use it to recall something said earlier that isn't in the current context window.",
		Parameters: map[string]any{
			"type": "object",
			"properties": map[string]any{
				"query": map[string]any{"type": "string", "description": "What to search for, in natural language."},
				"limit": map[string]any{"type": "integer", "description": "Maximum results to return, default 5."},
			},
			"required": []string{"query"},
		},
	}
}

func searchMessagesHandler(retriever *retrieval.Retriever, turnRepo *turns.Repository, embedder Embedder, embeddingModel string) Handler {
	return func(ctx context.Context, injected Context, args map[string]any) (any, error) {
		query, err := readString(args, "query", true)
		if err != nil {
			return nil, err
		}
		limit := readIntDefault(args, "limit", 5)

		var queryEmbedding []float32
		if embedder != nil {
			vec, embedErr := embedder.Embed(ctx, embeddingModel, query)
			if embedErr == nil {
				queryEmbedding = vec
			}
		}

		scored, err := retriever.Query(ctx, injected.ChatID, query, queryEmbedding, limit)
		if err != nil {
			return nil, err
		}

		window, err := turnRepo.Recent(ctx, injected.ChatID, injected.ThreadID, searchWindow)
		if err != nil {
			return nil, err
		}
		byID := make(map[int64]turns.Turn, len(window))
		for _, t := range window {
			byID[t.ID] = t
		}

		results := make([]map[string]any, 0, len(scored))
		for _, s := range scored {
			t, ok := byID[s.TurnID]
			if !ok {
				continue // fell outside the scan window; skip rather than surface a textless hit
			}
			results = append(results, map[string]any{
				"turn_id":    t.ID,
				"text":       t.Text,
				"score":      s.Score,
				"created_at": s.CreatedAt,
			})
		}

		return successResult(map[string]any{
			"results": results,
			"query":   query,
		}), nil
	}
}
