package external

import (
	"context"
	"encoding/base64"
	"fmt"

	"google.golang.org/genai"

	"github.com/gryagbot/gryag/pkg/llm"
	"github.com/gryagbot/gryag/pkg/tools"
)

// defaultImageModel is used when Config.ImageModel is empty. Gemini's
// image-capable model generates images as InlineData parts in an
// ordinary GenerateContent response, the same call shape geminiclient
// uses for text.
const defaultImageModel = "gemini-2.0-flash-exp-image-generation"

const imageGenerationFeature = "image_generation"

func registerImageTools(reg *tools.Registry, client *genai.Client, model string, limiter Limiter) {
	if model == "" {
		model = defaultImageModel
	}
	reg.Register(generateImageDefinition(), quotaGated(limiter, generateImageHandler(client, model)))
	reg.Register(editImageDefinition(), quotaGated(limiter, editImageHandler(client, model)))
}

// quotaGated wraps h so it first consults limiter (when non-nil) for the
// image_generation feature, keyed by the calling user. Exhausted quota
// returns the tool's uniform error shape rather than calling h.
func quotaGated(limiter Limiter, h tools.Handler) tools.Handler {
	if limiter == nil {
		return h
	}
	return func(ctx context.Context, injected tools.Context, args map[string]any) (any, error) {
		if decision := limiter.Allow(imageGenerationFeature, injected.UserID, false); !decision.Allowed {
			return map[string]any{"status": "error", "reason": "image generation quota exceeded for this hour/day"}, nil
		}
		return h(ctx, injected, args)
	}
}

func generateImageDefinition() llm.ToolDefinition {
	return llm.ToolDefinition{
		Name:        "generate_image",
		Description: "Generate a new image from a text description.",
		Parameters: map[string]any{
			"type": "object",
			"properties": map[string]any{
				"prompt": map[string]any{"type": "string", "description": "What the image should depict."},
			},
			"required": []string{"prompt"},
		},
	}
}

func generateImageHandler(client *genai.Client, model string) tools.Handler {
	return func(ctx context.Context, injected tools.Context, args map[string]any) (any, error) {
		prompt, err := readRequiredString(args, "prompt")
		if err != nil {
			return nil, err
		}
		return runImageGeneration(ctx, client, model, []*genai.Part{{Text: prompt}})
	}
}

func editImageDefinition() llm.ToolDefinition {
	return llm.ToolDefinition{
		Name:        "edit_image",
		Description: "Edit a previously generated or attached image per a text instruction. image_base64 must be the raw image bytes, base64-encoded.",
		Parameters: map[string]any{
			"type": "object",
			"properties": map[string]any{
				"image_base64": map[string]any{"type": "string", "description": "Base64-encoded source image bytes."},
				"mime_type":    map[string]any{"type": "string", "description": "Image MIME type, e.g. image/png."},
				"instruction":  map[string]any{"type": "string", "description": "How the image should change."},
			},
			"required": []string{"image_base64", "instruction"},
		},
	}
}

func editImageHandler(client *genai.Client, model string) tools.Handler {
	return func(ctx context.Context, injected tools.Context, args map[string]any) (any, error) {
		imageB64, err := readRequiredString(args, "image_base64")
		if err != nil {
			return nil, err
		}
		instruction, err := readRequiredString(args, "instruction")
		if err != nil {
			return nil, err
		}
		mimeType := readOptionalString(args, "mime_type", "image/png")

		raw, err := base64.StdEncoding.DecodeString(imageB64)
		if err != nil {
			return nil, fmt.Errorf("image_base64 is not valid base64: %w", err)
		}

		parts := []*genai.Part{
			{InlineData: &genai.Blob{MIMEType: mimeType, Data: raw}},
			{Text: instruction},
		}
		return runImageGeneration(ctx, client, model, parts)
	}
}

func runImageGeneration(ctx context.Context, client *genai.Client, model string, parts []*genai.Part) (any, error) {
	contents := []*genai.Content{{Role: "user", Parts: parts}}
	resp, err := client.Models.GenerateContent(ctx, model, contents, &genai.GenerateContentConfig{})
	if err != nil {
		return nil, fmt.Errorf("image generation failed: %w", err)
	}

	for _, candidate := range resp.Candidates {
		if candidate.Content == nil {
			continue
		}
		for _, part := range candidate.Content.Parts {
			if part.InlineData != nil && len(part.InlineData.Data) > 0 {
				return map[string]any{
					"status":       "success",
					"image_base64": base64.StdEncoding.EncodeToString(part.InlineData.Data),
					"mime_type":    part.InlineData.MIMEType,
				}, nil
			}
		}
	}
	return nil, fmt.Errorf("model returned no image data")
}
