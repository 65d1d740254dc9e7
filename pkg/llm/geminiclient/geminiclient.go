// Package geminiclient implements llm.Backend against Google's Gemini
// API, grounded directly on the teacher's pkg/connector/provider_gemini.go
// (genai client construction, content/tool conversion, streaming and
// non-streaming generation, CountTokens with a character-based fallback).
package geminiclient

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync"

	"google.golang.org/genai"

	"github.com/gryagbot/gryag/pkg/aierrors"
	"github.com/gryagbot/gryag/pkg/llm"
)

// Client implements llm.Backend using one genai.Client per API key,
// built lazily and cached, since genai.NewClient takes the API key at
// construction time rather than per-call.
type Client struct {
	mu      sync.Mutex
	clients map[string]*genai.Client
}

// New builds an (empty) Gemini backend; clients for each API key are
// constructed lazily on first use.
func New() *Client {
	return &Client{clients: make(map[string]*genai.Client)}
}

func (c *Client) Name() string { return "gemini" }

func (c *Client) clientFor(ctx context.Context, apiKey string) (*genai.Client, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if existing, ok := c.clients[apiKey]; ok {
		return existing, nil
	}
	client, err := genai.NewClient(ctx, &genai.ClientConfig{APIKey: apiKey, Backend: genai.BackendGeminiAPI})
	if err != nil {
		return nil, aierrors.New(aierrors.KindLLMTransient, fmt.Errorf("gemini client construction: %w", err), "op", "gemini_new_client")
	}
	c.clients[apiKey] = client
	return client, nil
}

// Generate performs a non-streaming generation request.
func (c *Client) Generate(ctx context.Context, apiKey string, req llm.Request) (llm.Response, error) {
	client, err := c.clientFor(ctx, apiKey)
	if err != nil {
		return llm.Response{}, err
	}

	contents := toGeminiContents(req.Turns)
	config := &genai.GenerateContentConfig{}
	if req.System != "" {
		config.SystemInstruction = &genai.Content{Parts: []*genai.Part{{Text: req.System}}}
	}
	if req.Params.Temperature > 0 {
		temp := float32(req.Params.Temperature)
		config.Temperature = &temp
	}
	if req.Params.MaxOutputTokens > 0 {
		config.MaxOutputTokens = int32(req.Params.MaxOutputTokens)
	}
	if len(req.Tools) > 0 {
		config.Tools = toGeminiTools(req.Tools)
	}

	resp, err := client.Models.GenerateContent(ctx, req.Model, contents, config)
	if err != nil {
		return llm.Response{}, aierrors.New(aierrors.Classify(err), fmt.Errorf("gemini generate: %w", err), "op", "gemini_generate", "model", req.Model)
	}

	var text strings.Builder
	var toolCalls []llm.ToolCall
	var finishReason string
	for _, candidate := range resp.Candidates {
		if candidate.Content != nil {
			for _, part := range candidate.Content.Parts {
				if part.Text != "" {
					text.WriteString(part.Text)
				}
				if part.FunctionCall != nil {
					argsJSON := "{}"
					if part.FunctionCall.Args != nil {
						if b, err := json.Marshal(part.FunctionCall.Args); err == nil {
							argsJSON = string(b)
						}
					}
					toolCalls = append(toolCalls, llm.ToolCall{Name: part.FunctionCall.Name, Arguments: argsJSON})
				}
			}
		}
		if candidate.FinishReason != "" {
			finishReason = string(candidate.FinishReason)
		}
	}

	out := llm.Response{Text: text.String(), ToolCalls: toolCalls, FinishReason: finishReason}
	if resp.UsageMetadata != nil {
		out.Usage = llm.Usage{
			PromptTokens:     int(resp.UsageMetadata.PromptTokenCount),
			CompletionTokens: int(resp.UsageMetadata.CandidatesTokenCount),
			TotalTokens:      int(resp.UsageMetadata.TotalTokenCount),
		}
	}
	return out, nil
}

// Embed calls Gemini's embedding endpoint for a single piece of text.
func (c *Client) Embed(ctx context.Context, apiKey, model, text string) ([]float32, error) {
	client, err := c.clientFor(ctx, apiKey)
	if err != nil {
		return nil, err
	}
	contents := []*genai.Content{{Parts: []*genai.Part{{Text: text}}}}
	resp, err := client.Models.EmbedContent(ctx, model, contents, nil)
	if err != nil {
		return nil, aierrors.New(aierrors.Classify(err), fmt.Errorf("gemini embed: %w", err), "op", "gemini_embed", "model", model)
	}
	if len(resp.Embeddings) == 0 {
		return nil, aierrors.New(aierrors.KindLLMTransient, fmt.Errorf("gemini embed: empty response"), "op", "gemini_embed")
	}
	values := resp.Embeddings[0].Values
	vec := make([]float32, len(values))
	copy(vec, values)
	return vec, nil
}

func toGeminiContents(turns []llm.ConversationTurn) []*genai.Content {
	contents := make([]*genai.Content, 0, len(turns))
	for _, t := range turns {
		role := "user"
		switch t.Role {
		case llm.RoleModel:
			role = "model"
		case llm.RoleTool:
			role = "function"
		}
		var parts []*genai.Part
		for _, p := range t.Parts {
			if p.Media == "" {
				if p.Text != "" {
					parts = append(parts, &genai.Part{Text: p.Text})
				}
				continue
			}
			if p.FileURI != "" {
				parts = append(parts, &genai.Part{FileData: &genai.FileData{FileURI: p.FileURI, MIMEType: p.MIME}})
				continue
			}
			parts = append(parts, &genai.Part{InlineData: &genai.Blob{MIMEType: p.MIME, Data: []byte(p.Ref)}})
		}
		if len(parts) == 0 {
			continue
		}
		contents = append(contents, &genai.Content{Role: role, Parts: parts})
	}
	return contents
}

func toGeminiTools(tools []llm.ToolDefinition) []*genai.Tool {
	if len(tools) == 0 {
		return nil
	}
	var declarations []*genai.FunctionDeclaration
	for _, tool := range tools {
		decl := &genai.FunctionDeclaration{Name: tool.Name, Description: tool.Description}
		if tool.Parameters != nil {
			decl.Parameters = toGeminiSchema(tool.Parameters)
		}
		declarations = append(declarations, decl)
	}
	return []*genai.Tool{{FunctionDeclarations: declarations}}
}

// toGeminiSchema converts our primitive-only JSON-Schema subset (the
// provider rejects minimum/maximum and similar constraint keywords, so
// handlers put those in Description instead — spec.md §9) into a
// genai.Schema.
func toGeminiSchema(params map[string]any) *genai.Schema {
	schema := &genai.Schema{}
	if typeStr, ok := params["type"].(string); ok {
		switch typeStr {
		case "object":
			schema.Type = genai.TypeObject
		case "array":
			schema.Type = genai.TypeArray
		case "string":
			schema.Type = genai.TypeString
		case "number":
			schema.Type = genai.TypeNumber
		case "integer":
			schema.Type = genai.TypeInteger
		case "boolean":
			schema.Type = genai.TypeBoolean
		}
	}
	if props, ok := params["properties"].(map[string]any); ok {
		schema.Properties = make(map[string]*genai.Schema, len(props))
		for name, prop := range props {
			if propMap, ok := prop.(map[string]any); ok {
				schema.Properties[name] = toGeminiSchema(propMap)
			}
		}
	}
	if required, ok := params["required"].([]string); ok {
		schema.Required = required
	}
	if desc, ok := params["description"].(string); ok {
		schema.Description = desc
	}
	if enum, ok := params["enum"].([]string); ok {
		schema.Enum = enum
	}
	return schema
}
