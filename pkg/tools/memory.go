package tools

import (
	"context"
	"fmt"

	"github.com/gryagbot/gryag/pkg/facts"
	"github.com/gryagbot/gryag/pkg/llm"
)

// entityScope resolves a tool-supplied user_id into the fact
// repository's (entity_type, entity_id) pair. A negative user_id means
// the tool operates on chat-scoped facts, per spec.md §4.10.
func entityScope(chatID, userID int64) (facts.EntityType, int64) {
	if userID < 0 {
		return facts.EntityChat, chatID
	}
	return facts.EntityUser, userID
}

// RegisterMemoryTools wires the four first-class memory operations
// (remember_fact, recall_facts, update_fact, forget_fact) into reg,
// routed through repo with correct entity scoping.
func RegisterMemoryTools(reg *Registry, repo *facts.Repository) {
	reg.Register(rememberFactDefinition(), rememberFactHandler(repo))
	reg.Register(recallFactsDefinition(), recallFactsHandler(repo))
	reg.Register(updateFactDefinition(), updateFactHandler(repo))
	reg.Register(forgetFactDefinition(), forgetFactHandler(repo))
}

func rememberFactDefinition() llm.ToolDefinition {
	return llm.ToolDefinition{
		Name:        "remember_fact",
		Description: "Record or reinforce a durable fact about a user or the chat. Use a negative user_id to store a chat-scoped fact instead of a per-user one.",
		Parameters: map[string]any{
			"type": "object",
			"properties": map[string]any{
				"user_id":    map[string]any{"type": "integer", "description": "Target user id; negative means chat-scoped."},
				"category":   map[string]any{"type": "string", "description": "E.g. personal, preference, skill, trait, opinion, relationship, rule."},
				"key":        map[string]any{"type": "string", "description": "A short normalised label for this fact, e.g. 'location' or 'favourite_language'."},
				"value":      map[string]any{"type": "string", "description": "The fact's value, e.g. 'Kyiv' or 'Go'."},
				"confidence": map[string]any{"type": "number", "description": "Confidence in [0,1]; values above 1 are clamped to 1, and a missing, zero or negative value becomes 0.7."},
				"evidence":   map[string]any{"type": "string", "description": "A short quote from the conversation supporting this fact."},
			},
			"required": []string{"category", "key", "value"},
		},
	}
}

func rememberFactHandler(repo *facts.Repository) Handler {
	return func(ctx context.Context, injected Context, args map[string]any) (any, error) {
		userID := int64(readIntDefault(args, "user_id", int(injected.UserID)))
		category, err := readString(args, "category", true)
		if err != nil {
			return nil, err
		}
		key, err := readString(args, "key", true)
		if err != nil {
			return nil, err
		}
		value, err := readString(args, "value", true)
		if err != nil {
			return nil, err
		}
		confidence, _ := readNumber(args, "confidence", false)
		if confidence <= 0 {
			confidence = 0.7
		}
		if confidence > 1 {
			confidence = 1
		}
		evidence := readStringDefault(args, "evidence", "")

		entityType, entityID := entityScope(injected.ChatID, userID)
		factID, err := repo.AddFact(ctx, entityType, entityID, injected.ChatID, category, key, value, confidence, evidence)
		if err != nil {
			return nil, err
		}
		return successResult(map[string]any{"fact_id": factID}), nil
	}
}

func recallFactsDefinition() llm.ToolDefinition {
	return llm.ToolDefinition{
		Name:        "recall_facts",
		Description: "Retrieve previously remembered facts about a user or the chat, most confident first.",
		Parameters: map[string]any{
			"type": "object",
			"properties": map[string]any{
				"user_id":        map[string]any{"type": "integer", "description": "Target user id; negative means chat-scoped."},
				"categories":     map[string]any{"type": "array", "items": map[string]any{"type": "string"}, "description": "Optional category filter."},
				"min_confidence": map[string]any{"type": "number", "description": "Minimum confidence to include, default 0."},
				"limit":          map[string]any{"type": "integer", "description": "Maximum rows to return, default 20."},
			},
		},
	}
}

func recallFactsHandler(repo *facts.Repository) Handler {
	return func(ctx context.Context, injected Context, args map[string]any) (any, error) {
		userID := int64(readIntDefault(args, "user_id", int(injected.UserID)))
		categories := readStringSlice(args, "categories")
		minConfidence, _ := readNumber(args, "min_confidence", false)
		limit := readIntDefault(args, "limit", 20)

		entityType, entityID := entityScope(injected.ChatID, userID)
		rows, err := repo.GetFacts(ctx, entityType, entityID, injected.ChatID, categories, minConfidence, limit)
		if err != nil {
			return nil, err
		}

		out := make([]map[string]any, 0, len(rows))
		for _, f := range rows {
			out = append(out, map[string]any{
				"id":         f.ID,
				"category":   f.Category,
				"key":        f.Key,
				"value":      f.Value,
				"confidence": f.Confidence,
			})
		}
		return successResult(map[string]any{"facts": out}), nil
	}
}

func updateFactDefinition() llm.ToolDefinition {
	return llm.ToolDefinition{
		Name:        "update_fact",
		Description: "Evolve the value and/or confidence of a previously remembered fact, given its id from recall_facts.",
		Parameters: map[string]any{
			"type": "object",
			"properties": map[string]any{
				"fact_id":    map[string]any{"type": "integer", "description": "The fact's id."},
				"value":      map[string]any{"type": "string", "description": "New value, if it changed."},
				"confidence": map[string]any{"type": "number", "description": "New confidence in [0,1], if it changed."},
				"reason":     map[string]any{"type": "string", "description": "Why the fact is being updated."},
			},
			"required": []string{"fact_id"},
		},
	}
}

func updateFactHandler(repo *facts.Repository) Handler {
	return func(ctx context.Context, injected Context, args map[string]any) (any, error) {
		factID, err := readInt(args, "fact_id", true)
		if err != nil {
			return nil, err
		}
		reason := readStringDefault(args, "reason", "")

		var newValue *string
		if v, err := readString(args, "value", false); err == nil && v != "" {
			newValue = &v
		}
		var newConfidence *float64
		if hasArg(args, "confidence") {
			c, _ := readNumber(args, "confidence", false)
			newConfidence = &c
		}

		status, err := repo.UpdateFact(ctx, int64(factID), newValue, newConfidence, reason)
		if err != nil {
			return nil, err
		}
		if status == facts.StatusNotFound {
			return notFoundResult(), nil
		}
		return successResult(nil), nil
	}
}

func forgetFactDefinition() llm.ToolDefinition {
	return llm.ToolDefinition{
		Name:        "forget_fact",
		Description: "Soft-delete a previously remembered fact identified by its type and key, not its row id. Use a negative user_id to target a chat-scoped fact instead of a per-user one. Idempotent: forgetting an unknown or already-forgotten (fact_type, fact_key) returns not_found.",
		Parameters: map[string]any{
			"type": "object",
			"properties": map[string]any{
				"user_id":   map[string]any{"type": "integer", "description": "Target user id; negative means chat-scoped."},
				"fact_type": map[string]any{"type": "string", "description": "The fact's category, e.g. personal, preference, skill, trait, opinion, relationship, rule."},
				"fact_key":  map[string]any{"type": "string", "description": "The fact's key, e.g. 'location' or 'favourite_language'."},
				"reason":    map[string]any{"type": "string", "enum": []string{"outdated", "incorrect", "superseded", "user_requested"}, "description": "Why the fact is being forgotten."},
			},
			"required": []string{"fact_type", "fact_key", "reason"},
		},
	}
}

func forgetFactHandler(repo *facts.Repository) Handler {
	return func(ctx context.Context, injected Context, args map[string]any) (any, error) {
		userID := int64(readIntDefault(args, "user_id", int(injected.UserID)))
		factType, err := readString(args, "fact_type", true)
		if err != nil {
			return nil, err
		}
		factKey, err := readString(args, "fact_key", true)
		if err != nil {
			return nil, err
		}
		reasonStr, err := readString(args, "reason", true)
		if err != nil {
			return nil, err
		}
		reason := facts.ForgetReason(reasonStr)
		switch reason {
		case facts.ReasonOutdated, facts.ReasonIncorrect, facts.ReasonSuperseded, facts.ReasonUserRequested:
		default:
			return nil, fmt.Errorf("invalid reason %q", reasonStr)
		}

		entityType, entityID := entityScope(injected.ChatID, userID)
		row, found, err := repo.FindActiveFact(ctx, entityType, entityID, injected.ChatID, factType, factKey)
		if err != nil {
			return nil, err
		}
		if !found {
			return notFoundResult(), nil
		}

		status, err := repo.ForgetFact(ctx, row.ID, reason)
		if err != nil {
			return nil, err
		}
		if status == facts.StatusNotFound {
			return notFoundResult(), nil
		}
		return successResult(nil), nil
	}
}

func hasArg(args map[string]any, key string) bool {
	_, ok := args[key]
	return ok
}
