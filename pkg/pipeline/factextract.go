package pipeline

import (
	"context"
	"encoding/json"
	"strings"

	"github.com/gryagbot/gryag/pkg/llm"
)

// ExtractedFact is one fact candidate pulled out of a turn's text by an
// extractor, handed to facts.Repository.AddFact by the fact-extraction
// background task.
type ExtractedFact struct {
	Category   string  `json:"category"`
	Key        string  `json:"key"`
	Value      string  `json:"value"`
	Confidence float64 `json:"confidence"`
}

// FactExtractor pulls zero or more durable facts out of a turn's text.
// Implementations are best-effort: a malformed or empty result is not an
// error, it simply yields no facts.
type FactExtractor interface {
	Extract(ctx context.Context, text string) ([]ExtractedFact, error)
}

const factExtractionSystemPrompt = `Extract durable facts about the speaker from the message below, if any.
Respond with a JSON array only, no prose. Each element: {"category": string, "key": string, "value": string, "confidence": number 0..1}.
Only include facts that are stable personal information (preferences, relationships, traits, circumstances), never transient statements about the current moment.
If no durable fact is present, respond with an empty array: []`

// llmFactExtractor is the default FactExtractor, backed by a zero-
// temperature, no-tools LLM call, grounded on the same request shape
// llm.Client.Generate otherwise serves the conversational pipeline with.
type llmFactExtractor struct {
	client *llm.Client
	model  string
}

// NewLLMFactExtractor builds the default FactExtractor.
func NewLLMFactExtractor(client *llm.Client, model string) FactExtractor {
	return &llmFactExtractor{client: client, model: model}
}

func (e *llmFactExtractor) Extract(ctx context.Context, text string) ([]ExtractedFact, error) {
	if strings.TrimSpace(text) == "" {
		return nil, nil
	}
	req := llm.Request{
		Model:  e.model,
		System: factExtractionSystemPrompt,
		Turns: []llm.ConversationTurn{
			{Role: llm.RoleUser, Parts: []llm.Part{{Text: text}}},
		},
		Params: llm.GenerationParams{Temperature: 0, MaxOutputTokens: 512},
	}
	out, _, err := e.client.Generate(ctx, req, nil, llm.InjectedContext{}, nil)
	if err != nil {
		return nil, nil // best-effort: extraction failures never surface to the user
	}
	return parseExtractedFacts(out), nil
}

// parseExtractedFacts tolerates a model response wrapped in prose or a
// code fence by locating the outermost JSON array brackets before
// unmarshalling, rather than requiring an exact-match response.
func parseExtractedFacts(raw string) []ExtractedFact {
	start := strings.IndexByte(raw, '[')
	end := strings.LastIndexByte(raw, ']')
	if start < 0 || end <= start {
		return nil
	}
	var facts []ExtractedFact
	if err := json.Unmarshal([]byte(raw[start:end+1]), &facts); err != nil {
		return nil
	}
	filtered := facts[:0]
	for _, f := range facts {
		if f.Key == "" || f.Value == "" {
			continue
		}
		if f.Confidence <= 0 {
			f.Confidence = 0.5
		}
		filtered = append(filtered, f)
	}
	return filtered
}
