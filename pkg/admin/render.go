package admin

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/gryagbot/gryag/pkg/facts"
	"github.com/gryagbot/gryag/pkg/prompts"
)

// render produces the minimal default English copy for a Reply. Per
// spec.md §1 admin reply strings are unspecified; callers that need
// localized or richer formatting swap this out rather than editing
// command handlers.
func render(reply Reply) string {
	switch reply.Kind {
	case KindPermissionDenied:
		return "You don't have permission to run this command."
	case KindConfirmRequired:
		return textOf(reply)
	case KindFactList:
		return renderFactList(reply)
	case KindProfile:
		return renderProfile(reply)
	case KindPromptHistory:
		return renderPromptHistory(reply)
	case KindExport:
		return renderExport(reply)
	default:
		return textOf(reply)
	}
}

func textOf(reply Reply) string {
	if s, ok := reply.Data["text"].(string); ok {
		return s
	}
	return ""
}

func renderFactList(reply Reply) string {
	rows, _ := reply.Data["facts"].([]facts.Fact)
	if len(rows) == 0 {
		return "No facts on file."
	}
	var b strings.Builder
	for _, f := range rows {
		fmt.Fprintf(&b, "- [%d] %s.%s = %s (%.0f%%)\n", f.ID, f.Category, f.Key, f.Value, f.Confidence*100)
	}
	if more, _ := reply.Data["has_more"].(bool); more {
		b.WriteString("…more available, next page\n")
	}
	return strings.TrimRight(b.String(), "\n")
}

func renderProfile(reply Reply) string {
	rows, _ := reply.Data["facts"].([]facts.Fact)
	userID, _ := reply.Data["user_id"].(int64)
	if len(rows) == 0 {
		return fmt.Sprintf("No profile facts for user %d.", userID)
	}
	var b strings.Builder
	fmt.Fprintf(&b, "Profile for user %d:\n", userID)
	for _, f := range rows {
		fmt.Fprintf(&b, "- %s.%s = %s\n", f.Category, f.Key, f.Value)
	}
	return strings.TrimRight(b.String(), "\n")
}

func renderPromptHistory(reply Reply) string {
	rows, _ := reply.Data["versions"].([]prompts.Override)
	if len(rows) == 0 {
		return "No prior prompt versions."
	}
	var b strings.Builder
	for _, o := range rows {
		active := ""
		if o.IsActive {
			active = " (active)"
		}
		fmt.Fprintf(&b, "v%d%s: %s\n", o.ID, active, truncate(o.Text, 80))
	}
	return strings.TrimRight(b.String(), "\n")
}

func renderExport(reply Reply) string {
	out, err := json.MarshalIndent(reply.Data, "", "  ")
	if err != nil {
		return "Export failed."
	}
	return string(out)
}

func truncate(s string, n int) string {
	runes := []rune(s)
	if len(runes) <= n {
		return s
	}
	return string(runes[:n]) + "…"
}
