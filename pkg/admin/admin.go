// Package admin implements the `/gryag*` command table (spec.md §6.4,
// SPEC_FULL.md §4.12): a static registry of handlers keyed by command
// name, each returning a structured Reply rather than a rendered
// string, mirroring the teacher's commandregistry.Definition/
// command_registry.go pattern (name/description/handler table, a
// central registry type with Register/Dispatch) generalized away from
// mautrix's bridgev2/commands.Event onto this repo's own Request shape.
// Per spec.md §1, admin reply strings themselves are unspecified and
// out of scope; render.go supplies a minimal default renderer that
// callers may swap.
package admin

import (
	"context"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/gryagbot/gryag/pkg/episodes"
	"github.com/gryagbot/gryag/pkg/facts"
	"github.com/gryagbot/gryag/pkg/pipeline"
	"github.com/gryagbot/gryag/pkg/prompts"
	"github.com/gryagbot/gryag/pkg/ratelimit"
	"github.com/gryagbot/gryag/pkg/turns"
)

// ReplyKind tags the shape of a command's structured result so a
// renderer knows how to format Data without string-sniffing.
type ReplyKind string

const (
	KindText            ReplyKind = "text"
	KindPermissionDenied ReplyKind = "permission_denied"
	KindConfirmRequired ReplyKind = "confirm_required"
	KindFactList        ReplyKind = "fact_list"
	KindProfile         ReplyKind = "profile"
	KindPromptHistory   ReplyKind = "prompt_history"
	KindExport          ReplyKind = "export"
)

// Reply is one command handler's structured result.
type Reply struct {
	Kind ReplyKind
	Data map[string]any
}

// Request is the scope and arguments one command handler runs with.
// TargetUserID is resolved by the dispatcher from args: a leading
// numeric token is read as an explicit user id, defaulting to UserID
// (the caller) when args carries none. Full @username resolution needs
// a user directory this corpus does not specify, so it is out of scope
// here exactly as spec.md §1 places admin command parsing out of scope.
type Request struct {
	ChatID       int64
	ThreadID     int64
	UserID       int64
	IsAdmin      bool
	TargetUserID int64
	Args         string
}

// Handler executes one command.
type Handler func(ctx context.Context, req Request) (Reply, error)

// Definition is one row of the command table.
type Definition struct {
	Name          string
	Description   string
	RequiresAdmin bool
	Handler       Handler
}

// Insights is consulted by /gryagself and /gryaginsights. Implemented by
// pkg/selflearn; nil-safe so the command table works with self-learning
// disabled.
type Insights interface {
	Summary(ctx context.Context, chatID, userID int64) (string, error)
	ChatInsights(ctx context.Context, chatID int64) (string, error)
}

// Deps bundles every collaborator the default command table needs.
type Deps struct {
	Facts           *facts.Repository
	Turns           *turns.Repository
	Prompts         *prompts.Repository
	Episodes        *episodes.Repository
	UserLimiter     *ratelimit.UserLimiter
	CommandCooldown *ratelimit.CommandCooldown
	Insights        Insights
	Now             func() time.Time
	Log             zerolog.Logger
}

// Dispatcher implements pipeline.AdminDispatcher over the default
// command table built from Deps.
type Dispatcher struct {
	deps  Deps
	table map[string]Definition
	now   func() time.Time
}

// NewDispatcher builds a Dispatcher with the full spec.md §6.4 command
// table registered.
func NewDispatcher(deps Deps) *Dispatcher {
	now := deps.Now
	if now == nil {
		now = time.Now
	}
	d := &Dispatcher{deps: deps, table: make(map[string]Definition), now: now}
	d.registerDefaults()
	return d
}

// Register adds or overrides a command definition.
func (d *Dispatcher) Register(def Definition) {
	d.table[strings.ToLower(def.Name)] = def
}

// CommandNames returns every registered command name (without the
// leading slash), for wiring a cooldown whitelist without duplicating
// the table cmd/gryag's container already assembles here.
func (d *Dispatcher) CommandNames() []string {
	names := make([]string, 0, len(d.table))
	for name := range d.table {
		names = append(names, name)
	}
	return names
}

// Dispatch implements pipeline.AdminDispatcher: handled is false when
// command is not in the table, letting the pipeline fall through to
// treating the message as ordinary text.
func (d *Dispatcher) Dispatch(ctx context.Context, command, args string, injected pipeline.AdminContext) (string, bool) {
	def, ok := d.table[strings.ToLower(command)]
	if !ok {
		return "", false
	}
	if def.RequiresAdmin && !injected.IsAdmin {
		return render(Reply{Kind: KindPermissionDenied}), true
	}
	req := Request{
		ChatID:       injected.ChatID,
		ThreadID:     injected.ThreadID,
		UserID:       injected.UserID,
		IsAdmin:      injected.IsAdmin,
		TargetUserID: resolveTarget(injected.UserID, args),
		Args:         args,
	}
	reply, err := def.Handler(ctx, req)
	if err != nil {
		d.deps.Log.Warn().Err(err).Str("command", command).Msg("admin command failed")
		return render(Reply{Kind: KindText, Data: map[string]any{"text": "Command failed, try again."}}), true
	}
	return render(reply), true
}

// resolveTarget reads a leading numeric token off args as an explicit
// user id, defaulting to the caller when absent.
func resolveTarget(callerID int64, args string) int64 {
	fields := strings.Fields(args)
	if len(fields) == 0 {
		return callerID
	}
	id, err := strconv.ParseInt(strings.TrimPrefix(fields[0], "@"), 10, 64)
	if err != nil {
		return callerID
	}
	return id
}
