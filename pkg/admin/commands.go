package admin

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"github.com/gryagbot/gryag/pkg/facts"
	"github.com/gryagbot/gryag/pkg/prompts"
)

// registerDefaults wires the full spec.md §6.4 command table. "/gryag"
// itself is deliberately absent: forcing addressability is a trigger
// concern handled inline by pkg/pipeline's command gate, not a command
// with its own reply.
func (d *Dispatcher) registerDefaults() {
	d.Register(Definition{Name: "gryagban", Description: "Admin-only; set banned flag for (chat, user)", RequiresAdmin: true, Handler: d.fnBan})
	d.Register(Definition{Name: "gryagunban", Description: "Admin-only; clear banned flag", RequiresAdmin: true, Handler: d.fnUnban})
	d.Register(Definition{Name: "gryagreset", Description: "Admin-only; clear rate-limit ledger for this chat", RequiresAdmin: true, Handler: d.fnReset})
	d.Register(Definition{Name: "gryagprofile", Description: "Display a user's profile", Handler: d.fnProfile})
	d.Register(Definition{Name: "gryagfacts", Description: "Paginated facts list", Handler: d.fnFacts})
	d.Register(Definition{Name: "gryagremovefact", Description: "Admin-only; soft-delete a fact", RequiresAdmin: true, Handler: d.fnRemoveFact})
	d.Register(Definition{Name: "gryagforget", Description: "Admin-only with confirmation; bulk soft-delete facts", RequiresAdmin: true, Handler: d.fnForget})
	d.Register(Definition{Name: "gryagexport", Description: "Admin-only; dump profile as JSON", RequiresAdmin: true, Handler: d.fnExport})
	d.Register(Definition{Name: "gryagprompt", Description: "View active/system/chat prompt", Handler: d.fnPrompt})
	d.Register(Definition{Name: "gryagsetprompt", Description: "Admin-only; set a new prompt override", RequiresAdmin: true, Handler: d.fnSetPrompt})
	d.Register(Definition{Name: "gryagresetprompt", Description: "Admin-only; drop active override", RequiresAdmin: true, Handler: d.fnResetPrompt})
	d.Register(Definition{Name: "gryagprompthistory", Description: "List prior prompt versions", Handler: d.fnPromptHistory})
	d.Register(Definition{Name: "gryagactivateprompt", Description: "Admin-only; roll back to a stored version", RequiresAdmin: true, Handler: d.fnActivatePrompt})
	d.Register(Definition{Name: "gryagself", Description: "Self-learning inspection", Handler: d.fnSelf})
	d.Register(Definition{Name: "gryaginsights", Description: "Self-learning chat insights", Handler: d.fnInsights})
}

func (d *Dispatcher) fnBan(ctx context.Context, req Request) (Reply, error) {
	if err := d.deps.Turns.BanUser(ctx, req.ChatID, req.TargetUserID, "admin_command"); err != nil {
		return Reply{}, err
	}
	return Reply{Kind: KindText, Data: map[string]any{"text": fmt.Sprintf("Banned user %d in this chat.", req.TargetUserID)}}, nil
}

func (d *Dispatcher) fnUnban(ctx context.Context, req Request) (Reply, error) {
	if err := d.deps.Turns.UnbanUser(ctx, req.ChatID, req.TargetUserID); err != nil {
		return Reply{}, err
	}
	return Reply{Kind: KindText, Data: map[string]any{"text": fmt.Sprintf("Unbanned user %d in this chat.", req.TargetUserID)}}, nil
}

// fnReset clears the target user's rate-limit and command-cooldown
// ledgers. UserLimiter/CommandCooldown key state per user rather than
// per (chat, user): this repo carries no chat-scoped ledger, so "for
// this chat" narrows to "for this user, wherever they're throttled" —
// recorded as an Open Question decision in DESIGN.md.
func (d *Dispatcher) fnReset(ctx context.Context, req Request) (Reply, error) {
	if d.deps.UserLimiter != nil {
		d.deps.UserLimiter.Reset(req.TargetUserID)
	}
	if d.deps.CommandCooldown != nil {
		d.deps.CommandCooldown.ResetUser(req.TargetUserID)
	}
	return Reply{Kind: KindText, Data: map[string]any{"text": "Rate limits reset."}}, nil
}

func (d *Dispatcher) fnProfile(ctx context.Context, req Request) (Reply, error) {
	rows, err := d.deps.Facts.GetFacts(ctx, facts.EntityUser, req.TargetUserID, req.ChatID, nil, 0, 20)
	if err != nil {
		return Reply{}, err
	}
	return Reply{Kind: KindProfile, Data: map[string]any{"user_id": req.TargetUserID, "facts": rows}}, nil
}

// fnFacts paginates active facts 5 per page. Pagination is implemented
// in-process (facts.Repository.GetFacts has no offset parameter) by
// fetching page*5+1 rows (one past the page, so has_more can be
// detected) and returning the page's slice; acceptable
// given the small per-user fact counts this store expects.
func (d *Dispatcher) fnFacts(ctx context.Context, req Request) (Reply, error) {
	const pageSize = 5
	category, page := parseFactsArgs(req.Args)
	var categories []string
	if category != "" {
		categories = []string{category}
	}
	rows, err := d.deps.Facts.GetFacts(ctx, facts.EntityUser, req.TargetUserID, req.ChatID, categories, 0, page*pageSize+1)
	if err != nil {
		return Reply{}, err
	}
	start := (page - 1) * pageSize
	if start > len(rows) {
		start = len(rows)
	}
	end := start + pageSize
	if end > len(rows) {
		end = len(rows)
	}
	return Reply{Kind: KindFactList, Data: map[string]any{
		"facts": rows[start:end], "page": page, "has_more": len(rows) > end,
	}}, nil
}

func parseFactsArgs(args string) (category string, page int) {
	page = 1
	fields := strings.Fields(args)
	for _, f := range fields {
		if f == "--verbose" {
			continue
		}
		if n, err := strconv.Atoi(f); err == nil {
			page = n
			continue
		}
		category = f
	}
	if page < 1 {
		page = 1
	}
	return category, page
}

func (d *Dispatcher) fnRemoveFact(ctx context.Context, req Request) (Reply, error) {
	id, err := strconv.ParseInt(strings.TrimSpace(req.Args), 10, 64)
	if err != nil {
		return Reply{Kind: KindText, Data: map[string]any{"text": "Usage: /gryagremovefact <id>"}}, nil
	}
	status, err := d.deps.Facts.ForgetFact(ctx, id, facts.ReasonUserRequested)
	if err != nil {
		return Reply{}, err
	}
	if status == facts.StatusNotFound {
		return Reply{Kind: KindText, Data: map[string]any{"text": "No such fact."}}, nil
	}
	return Reply{Kind: KindText, Data: map[string]any{"text": "Fact removed."}}, nil
}

func (d *Dispatcher) fnForget(ctx context.Context, req Request) (Reply, error) {
	if !strings.Contains(strings.ToLower(req.Args), "confirm") {
		return Reply{Kind: KindConfirmRequired, Data: map[string]any{
			"text": "This will delete all stored facts for this user. Resend with 'confirm' to proceed.",
		}}, nil
	}
	rows, err := d.deps.Facts.GetFacts(ctx, facts.EntityUser, req.TargetUserID, req.ChatID, nil, 0, 0)
	if err != nil {
		return Reply{}, err
	}
	removed := 0
	for _, f := range rows {
		if status, err := d.deps.Facts.ForgetFact(ctx, f.ID, facts.ReasonUserRequested); err == nil && status == facts.StatusSuccess {
			removed++
		}
	}
	return Reply{Kind: KindText, Data: map[string]any{"text": fmt.Sprintf("Removed %d facts.", removed)}}, nil
}

func (d *Dispatcher) fnExport(ctx context.Context, req Request) (Reply, error) {
	rows, err := d.deps.Facts.GetFacts(ctx, facts.EntityUser, req.TargetUserID, req.ChatID, nil, 0, 0)
	if err != nil {
		return Reply{}, err
	}
	return Reply{Kind: KindExport, Data: map[string]any{"user_id": req.TargetUserID, "facts": rows}}, nil
}

func (d *Dispatcher) fnPrompt(ctx context.Context, req Request) (Reply, error) {
	scope := strings.TrimSpace(req.Args)
	chatID := req.ChatID
	if scope == "default" || scope == "global" {
		chatID = prompts.GlobalChatID
	}
	active, err := d.deps.Prompts.Active(ctx, chatID)
	if err != nil {
		return Reply{}, err
	}
	if active == nil {
		text, err := d.deps.Prompts.Resolve(ctx, req.ChatID)
		if err != nil {
			return Reply{}, err
		}
		return Reply{Kind: KindText, Data: map[string]any{"text": text, "source": "default"}}, nil
	}
	return Reply{Kind: KindText, Data: map[string]any{"text": active.Text, "source": "override"}}, nil
}

func (d *Dispatcher) fnSetPrompt(ctx context.Context, req Request) (Reply, error) {
	scope, text := splitPromptArgs(req.Args)
	if text == "" {
		return Reply{Kind: KindText, Data: map[string]any{"text": "Usage: /gryagsetprompt [chat] <text>"}}, nil
	}
	chatID := req.ChatID
	if scope == "default" || scope == "global" {
		chatID = prompts.GlobalChatID
	}
	if _, err := d.deps.Prompts.Set(ctx, chatID, text, req.UserID); err != nil {
		return Reply{}, err
	}
	return Reply{Kind: KindText, Data: map[string]any{"text": "Prompt updated."}}, nil
}

func splitPromptArgs(args string) (scope, text string) {
	trimmed := strings.TrimSpace(args)
	if rest, ok := strings.CutPrefix(trimmed, "chat "); ok {
		return "chat", rest
	}
	if rest, ok := strings.CutPrefix(trimmed, "default "); ok {
		return "default", rest
	}
	return "chat", trimmed
}

func (d *Dispatcher) fnResetPrompt(ctx context.Context, req Request) (Reply, error) {
	if err := d.deps.Prompts.Reset(ctx, req.ChatID); err != nil {
		return Reply{}, err
	}
	return Reply{Kind: KindText, Data: map[string]any{"text": "Prompt override cleared."}}, nil
}

func (d *Dispatcher) fnPromptHistory(ctx context.Context, req Request) (Reply, error) {
	rows, err := d.deps.Prompts.History(ctx, req.ChatID, 10)
	if err != nil {
		return Reply{}, err
	}
	return Reply{Kind: KindPromptHistory, Data: map[string]any{"versions": rows}}, nil
}

func (d *Dispatcher) fnActivatePrompt(ctx context.Context, req Request) (Reply, error) {
	version, err := strconv.ParseInt(strings.TrimSpace(req.Args), 10, 64)
	if err != nil {
		return Reply{Kind: KindText, Data: map[string]any{"text": "Usage: /gryagactivateprompt <version>"}}, nil
	}
	ok, err := d.deps.Prompts.Activate(ctx, req.ChatID, version)
	if err != nil {
		return Reply{}, err
	}
	if !ok {
		return Reply{Kind: KindText, Data: map[string]any{"text": "No such prompt version."}}, nil
	}
	return Reply{Kind: KindText, Data: map[string]any{"text": "Prompt version activated."}}, nil
}

func (d *Dispatcher) fnSelf(ctx context.Context, req Request) (Reply, error) {
	if d.deps.Insights == nil {
		return Reply{Kind: KindText, Data: map[string]any{"text": "Self-learning is not enabled."}}, nil
	}
	summary, err := d.deps.Insights.Summary(ctx, req.ChatID, req.TargetUserID)
	if err != nil {
		return Reply{}, err
	}
	return Reply{Kind: KindText, Data: map[string]any{"text": summary}}, nil
}

func (d *Dispatcher) fnInsights(ctx context.Context, req Request) (Reply, error) {
	if d.deps.Insights == nil {
		return Reply{Kind: KindText, Data: map[string]any{"text": "Self-learning is not enabled."}}, nil
	}
	summary, err := d.deps.Insights.ChatInsights(ctx, req.ChatID)
	if err != nil {
		return Reply{}, err
	}
	return Reply{Kind: KindText, Data: map[string]any{"text": summary}}, nil
}
