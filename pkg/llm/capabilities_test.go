package llm

import "testing"

func TestDetectCapabilitiesGemmaFamilyHasNoExtras(t *testing.T) {
	caps := DetectCapabilities("gemma-2-9b-it")
	if caps.SupportsAudio || caps.SupportsInlineVideo || caps.SupportsFunctionCalling || caps.SupportsSearchGrounding {
		t.Fatalf("gemma models must have every capability disabled, got %+v", caps)
	}
}

func TestDetectCapabilitiesGeminiFamilyHasFullSet(t *testing.T) {
	caps := DetectCapabilities("gemini-2.0-flash")
	if !caps.SupportsAudio || !caps.SupportsInlineVideo || !caps.SupportsFunctionCalling || !caps.SupportsSearchGrounding {
		t.Fatalf("gemini-2.0-flash must have the full capability set, got %+v", caps)
	}
}

func TestDetectCapabilitiesGeminiFlashLiteDropsSearchGrounding(t *testing.T) {
	caps := DetectCapabilities("gemini-2.0-flash-lite")
	if caps.SupportsSearchGrounding {
		t.Fatalf("flash-lite must not support search grounding")
	}
	if !caps.SupportsAudio || !caps.SupportsInlineVideo || !caps.SupportsFunctionCalling {
		t.Fatalf("flash-lite should otherwise retain the full set, got %+v", caps)
	}
}

func TestDetectCapabilitiesUnknownFamilyAssumesTextOnly(t *testing.T) {
	caps := DetectCapabilities("gpt-4o-mini")
	if caps.SupportsAudio || caps.SupportsInlineVideo || caps.SupportsSearchGrounding {
		t.Fatalf("unknown/OpenAI-compatible family must not claim native audio/video/search, got %+v", caps)
	}
	if !caps.SupportsFunctionCalling {
		t.Fatalf("unknown family should still support function calling")
	}
}

func TestApplyCapabilityFallbackDisablesMatchingCapability(t *testing.T) {
	caps := DetectCapabilities("gemini-2.0-flash")
	next, ok := applyCapabilityFallback(caps, "Error: audio input is not supported for this request")
	if !ok {
		t.Fatalf("expected a pattern match")
	}
	if next.SupportsAudio {
		t.Fatalf("audio capability must be disabled after the fallback")
	}
	if !next.SupportsInlineVideo {
		t.Fatalf("unrelated capabilities must be untouched")
	}
}

func TestApplyCapabilityFallbackNoMatchReturnsFalse(t *testing.T) {
	caps := DetectCapabilities("gemini-2.0-flash")
	_, ok := applyCapabilityFallback(caps, "rate limit exceeded, try again later")
	if ok {
		t.Fatalf("an unrelated error message must not match any fallback pattern")
	}
}
