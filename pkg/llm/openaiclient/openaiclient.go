// Package openaiclient implements llm.Backend against an
// OpenAI-compatible chat-completions endpoint, grounded on the pack's
// sashabaranov/go-openai usage (e.g. the Manager in
// other_examples/0816d81f_guanke-papaya__internal-chat-chat.go.go):
// openai.NewClientWithConfig, ChatCompletionMessage/ChatCompletionRequest,
// CreateChatCompletion, CreateEmbeddings.
package openaiclient

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	openai "github.com/sashabaranov/go-openai"

	"github.com/gryagbot/gryag/pkg/aierrors"
	"github.com/gryagbot/gryag/pkg/llm"
)

// Client implements llm.Backend over an OpenAI-compatible API, caching
// one openai.Client per API key (the SDK's client is keyed by a single
// bearer token at construction).
type Client struct {
	mu      sync.Mutex
	clients map[string]*openai.Client
	baseURL string
}

// New builds an (empty) OpenAI-compatible backend. baseURL overrides
// the default OpenAI endpoint (for an OpenAI-compatible proxy); empty
// uses the SDK's default.
func New(baseURL string) *Client {
	return &Client{clients: make(map[string]*openai.Client), baseURL: baseURL}
}

func (c *Client) Name() string { return "openai" }

func (c *Client) clientFor(apiKey string) *openai.Client {
	c.mu.Lock()
	defer c.mu.Unlock()
	if existing, ok := c.clients[apiKey]; ok {
		return existing
	}
	config := openai.DefaultConfig(apiKey)
	if c.baseURL != "" {
		config.BaseURL = c.baseURL
	}
	client := openai.NewClientWithConfig(config)
	c.clients[apiKey] = client
	return client
}

// Generate performs a chat-completions request.
func (c *Client) Generate(ctx context.Context, apiKey string, req llm.Request) (llm.Response, error) {
	client := c.clientFor(apiKey)

	messages := toOpenAIMessages(req)
	chatReq := openai.ChatCompletionRequest{
		Model:       req.Model,
		Messages:    messages,
		Temperature: float32(req.Params.Temperature),
	}
	if req.Params.MaxOutputTokens > 0 {
		chatReq.MaxTokens = req.Params.MaxOutputTokens
	}
	if len(req.Tools) > 0 {
		chatReq.Tools = toOpenAITools(req.Tools)
	}

	resp, err := client.CreateChatCompletion(ctx, chatReq)
	if err != nil {
		return llm.Response{}, aierrors.New(aierrors.Classify(err), fmt.Errorf("openai chat completion: %w", err), "op", "openai_generate", "model", req.Model)
	}
	if len(resp.Choices) == 0 {
		return llm.Response{}, aierrors.New(aierrors.KindLLMTransient, fmt.Errorf("openai chat completion: empty choices"), "op", "openai_generate")
	}

	choice := resp.Choices[0]
	var toolCalls []llm.ToolCall
	for _, tc := range choice.Message.ToolCalls {
		toolCalls = append(toolCalls, llm.ToolCall{ID: tc.ID, Name: tc.Function.Name, Arguments: tc.Function.Arguments})
	}

	return llm.Response{
		Text:         choice.Message.Content,
		ToolCalls:    toolCalls,
		FinishReason: string(choice.FinishReason),
		Usage: llm.Usage{
			PromptTokens:     resp.Usage.PromptTokens,
			CompletionTokens: resp.Usage.CompletionTokens,
			TotalTokens:      resp.Usage.TotalTokens,
		},
	}, nil
}

// Embed calls the embeddings endpoint for a single piece of text.
func (c *Client) Embed(ctx context.Context, apiKey, model, text string) ([]float32, error) {
	client := c.clientFor(apiKey)
	resp, err := client.CreateEmbeddings(ctx, openai.EmbeddingRequestStrings{
		Input: []string{text},
		Model: openai.EmbeddingModel(model),
	})
	if err != nil {
		return nil, aierrors.New(aierrors.Classify(err), fmt.Errorf("openai embed: %w", err), "op", "openai_embed", "model", model)
	}
	if len(resp.Data) == 0 {
		return nil, aierrors.New(aierrors.KindLLMTransient, fmt.Errorf("openai embed: empty response"), "op", "openai_embed")
	}
	return resp.Data[0].Embedding, nil
}

func toOpenAIMessages(req llm.Request) []openai.ChatCompletionMessage {
	var messages []openai.ChatCompletionMessage
	if req.System != "" {
		messages = append(messages, openai.ChatCompletionMessage{Role: openai.ChatMessageRoleSystem, Content: req.System})
	}
	for _, t := range req.Turns {
		messages = append(messages, toOpenAIMessage(t))
	}
	return messages
}

func toOpenAIMessage(t llm.ConversationTurn) openai.ChatCompletionMessage {
	role := openai.ChatMessageRoleUser
	switch t.Role {
	case llm.RoleModel:
		role = openai.ChatMessageRoleAssistant
	case llm.RoleSystem:
		role = openai.ChatMessageRoleSystem
	case llm.RoleTool:
		role = openai.ChatMessageRoleTool
	}

	hasMedia := false
	for _, p := range t.Parts {
		if p.Media != "" {
			hasMedia = true
			break
		}
	}
	if !hasMedia {
		var text string
		for _, p := range t.Parts {
			text += p.Text
		}
		return openai.ChatCompletionMessage{Role: role, Content: text}
	}

	var multi []openai.ChatMessagePart
	for _, p := range t.Parts {
		if p.Text != "" {
			multi = append(multi, openai.ChatMessagePart{Type: openai.ChatMessagePartTypeText, Text: p.Text})
			continue
		}
		url := p.FileURI
		if url == "" {
			url = fmt.Sprintf("data:%s;base64,%s", p.MIME, p.Ref)
		}
		multi = append(multi, openai.ChatMessagePart{
			Type:     openai.ChatMessagePartTypeImageURL,
			ImageURL: &openai.ChatMessageImageURL{URL: url, Detail: openai.ImageURLDetailAuto},
		})
	}
	return openai.ChatCompletionMessage{Role: role, MultiContent: multi}
}

func toOpenAITools(tools []llm.ToolDefinition) []openai.Tool {
	out := make([]openai.Tool, 0, len(tools))
	for _, t := range tools {
		params := t.Parameters
		if params == nil {
			params = map[string]any{"type": "object", "properties": map[string]any{}}
		}
		paramsJSON, _ := json.Marshal(params)
		out = append(out, openai.Tool{
			Type: openai.ToolTypeFunction,
			Function: &openai.FunctionDefinition{
				Name:        t.Name,
				Description: t.Description,
				Parameters:  json.RawMessage(paramsJSON),
			},
		})
	}
	return out
}
