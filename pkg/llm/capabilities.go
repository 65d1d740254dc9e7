package llm

import "strings"

// DetectCapabilities derives the capability flag set from a model
// identifier. The rule is identifier-pattern based: a small matrix of
// model-family → feature set (spec.md §4.8). Gemma-family models lack
// audio/video/function-calling/search-grounding; Gemini-family models
// have the full set except flash-lite variants, which drop search
// grounding.
func DetectCapabilities(modelID string) Capabilities {
	id := strings.ToLower(modelID)

	if strings.Contains(id, "gemma") {
		return Capabilities{
			SupportsAudio:           false,
			SupportsInlineVideo:     false,
			SupportsFunctionCalling: false,
			SupportsSearchGrounding: false,
		}
	}

	caps := Capabilities{
		SupportsAudio:           true,
		SupportsInlineVideo:     true,
		SupportsFunctionCalling: true,
		SupportsSearchGrounding: true,
	}

	if strings.Contains(id, "gemini") {
		if strings.Contains(id, "flash-lite") {
			caps.SupportsSearchGrounding = false
		}
		return caps
	}

	// OpenAI-compatible / unknown families: assume text+function-calling,
	// no native audio/video understanding, no search grounding.
	caps.SupportsAudio = false
	caps.SupportsInlineVideo = false
	caps.SupportsSearchGrounding = false
	return caps
}

// capabilityFallbackPatterns maps a substring found in a terminal error
// message to the capability it indicates should be disabled before a
// one-shot retry (spec.md §4.8's runtime fallback).
var capabilityFallbackPatterns = []struct {
	pattern  string
	disable  func(*Capabilities)
}{
	{"audio not enabled", func(c *Capabilities) { c.SupportsAudio = false }},
	{"audio input is not supported", func(c *Capabilities) { c.SupportsAudio = false }},
	{"function calling is not enabled", func(c *Capabilities) { c.SupportsFunctionCalling = false }},
	{"tools are not supported", func(c *Capabilities) { c.SupportsFunctionCalling = false }},
	{"search grounding is not enabled", func(c *Capabilities) { c.SupportsSearchGrounding = false }},
	{"grounding is not supported", func(c *Capabilities) { c.SupportsSearchGrounding = false }},
}

// applyCapabilityFallback returns a copy of caps with the first matching
// capability disabled, and whether any pattern matched (i.e. whether a
// one-shot retry is warranted).
func applyCapabilityFallback(caps Capabilities, errMsg string) (Capabilities, bool) {
	lower := strings.ToLower(errMsg)
	for _, p := range capabilityFallbackPatterns {
		if strings.Contains(lower, p.pattern) {
			next := caps
			p.disable(&next)
			return next, true
		}
	}
	return caps, false
}
