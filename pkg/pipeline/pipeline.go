// Package pipeline implements on_message, the linear 14-step
// preprocessor chain of spec.md §4.9: trigger detection, the command and
// rate-limit gates, context assembly, the LLM call, reply formatting and
// delivery, and the fire-and-forget background work scheduled after a
// reply is sent. It is the one place every other package's narrow
// interface gets wired together, mirroring the teacher's own
// connector.go composition root (pkg/connector/connector.go) at a
// smaller, conversation-scoped grain.
package pipeline

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/gryagbot/gryag/pkg/aierrors"
	"github.com/gryagbot/gryag/pkg/assembler"
	"github.com/gryagbot/gryag/pkg/chatlock"
	"github.com/gryagbot/gryag/pkg/config"
	"github.com/gryagbot/gryag/pkg/episodes"
	"github.com/gryagbot/gryag/pkg/facts"
	"github.com/gryagbot/gryag/pkg/llm"
	"github.com/gryagbot/gryag/pkg/prompts"
	"github.com/gryagbot/gryag/pkg/ratelimit"
	"github.com/gryagbot/gryag/pkg/tasks"
	"github.com/gryagbot/gryag/pkg/telegram"
	"github.com/gryagbot/gryag/pkg/tools"
	"github.com/gryagbot/gryag/pkg/turns"
)

// Background task type names scheduled by step 14.
const (
	TaskOutcomeTracker     = "pipeline.outcome_tracker"
	TaskFactExtraction     = "pipeline.fact_extraction"
	TaskEpisodeMonitorTick = "pipeline.episode_monitor_tick"
)

// AdminDispatcher routes a whitelisted bot command to its handler.
// Implemented by pkg/admin; kept narrow here so the pipeline has no
// import-time dependency on the full admin command table, mirroring
// episodes.Summarizer and llm.Dispatcher elsewhere in this codebase. A
// nil AdminDispatcher means commands pass the cooldown gate but are
// never actually executed.
type AdminDispatcher interface {
	Dispatch(ctx context.Context, command, args string, injected AdminContext) (reply string, handled bool)
}

// AdminContext is the scope handed to an admin command handler.
type AdminContext struct {
	ChatID   int64
	ThreadID int64
	UserID   int64
	IsAdmin  bool
}

// OutcomeRecorder records a completed reply's outcome for the
// self-learning loop. Implemented by pkg/selflearn; nil-safe so the
// pipeline works without self-learning configured.
type OutcomeRecorder interface {
	RecordOutcome(ctx context.Context, o Outcome) error
}

// Outcome is one reply's bookkeeping, handed off to the outcome-tracker
// background task.
type Outcome struct {
	ChatID         int64
	ThreadID       int64
	UserID         int64
	ToolsUsed      []string
	ResponseTimeMS int64
	UsedFallback   bool
}

// Deps bundles every collaborator Handle needs. All fields except Turns,
// LLM, Tools, Prompts, ChatLocks, UserLimiter, CommandCooldown, Tasks,
// Sender, and Config are optional; a nil optional collaborator degrades
// its corresponding feature rather than panicking.
type Deps struct {
	Turns           *turns.Repository
	Facts           *facts.Repository
	Episodes        *episodes.Repository
	Assembler       *assembler.Assembler
	LLM             *llm.Client
	Tools           *tools.Registry
	Prompts         *prompts.Repository
	UserLimiter     *ratelimit.UserLimiter
	CommandCooldown *ratelimit.CommandCooldown
	FeatureLimiter  *ratelimit.FeatureLimiter
	ChatLocks       *chatlock.Manager
	Tasks           tasks.Queue
	Sender          telegram.Sender
	Admin           AdminDispatcher
	FactExtractor   FactExtractor
	Outcomes        OutcomeRecorder
	Config          *config.Settings
	Log             zerolog.Logger
	Now             func() time.Time
}

// Pipeline wires Deps into the on_message handler.
type Pipeline struct {
	d   Deps
	now func() time.Time
}

// New builds a Pipeline from deps.
func New(deps Deps) *Pipeline {
	now := deps.Now
	if now == nil {
		now = time.Now
	}
	return &Pipeline{d: deps, now: now}
}

// SetSender wires (or replaces) the outbound transport after
// construction, for a composition root that builds its concrete
// telegram.Sender only once the rest of the container is up.
func (p *Pipeline) SetSender(sender telegram.Sender) {
	p.d.Sender = sender
}

// RegisterTaskHandlers wires this Pipeline's background-task logic onto
// queue. Must be called before queue.Start()/Run() (step 14's handlers
// are registered once at process startup, not per-message).
func (p *Pipeline) RegisterTaskHandlers(queue tasks.Queue) {
	type handleable interface {
		Handle(taskType string, h tasks.Handler)
	}
	h, ok := queue.(handleable)
	if !ok {
		return
	}
	h.Handle(TaskOutcomeTracker, p.handleOutcomeTracker)
	h.Handle(TaskFactExtraction, p.handleFactExtraction)
	h.Handle(TaskEpisodeMonitorTick, p.handleEpisodeMonitorTick)
}

// Handle runs on_message's 14 steps for one inbound message.
func (p *Pipeline) Handle(ctx context.Context, msg telegram.Message) error {
	// Step 1: classify.
	if msg.From.IsBot || msg.IsService {
		return nil
	}

	threadID := msg.ThreadID
	isAdmin := p.d.Config != nil && p.d.Config.IsAdmin(msg.From.ID)

	// Step 4 (foreign-bot half): a /command@otherbot is detected and
	// never processed by this bot at all, per spec.md §4.11 — bail
	// before step 2's persist so it leaves no trace in turn history.
	command, mentionedBot, isCommand := ratelimit.ParseCommand(msg.Text)
	if isCommand && !ratelimit.ForThisBot(mentionedBot, p.botUsername()) {
		return nil
	}

	// Step 2: persist raw turn metadata early.
	rawTurn := turnFromMessage(msg, threadID)
	turnID, err := p.d.Turns.AddTurn(ctx, rawTurn)
	if err != nil {
		p.d.Log.Warn().Err(err).Int64("chat_id", msg.ChatID).Msg("failed to persist raw turn")
	}
	rawTurn.ID = turnID

	// Step 4 (own-bot half): own-bot command gate, ahead of trigger
	// detection so a command never reaches the conversational flow.
	// "/gryag" is the one command that forces addressability instead of
	// producing its own reply: it has no admin-table entry, it just
	// makes step 3 below treat the message as triggered.
	forcedTrigger := false
	if isCommand {
		if command == "gryag" {
			forcedTrigger = true
			msg.Text = commandArgs(msg.Text)
		} else {
			if p.d.CommandCooldown != nil && p.d.CommandCooldown.Whitelisted(command) {
				decision := p.d.CommandCooldown.Check(command, msg.From.ID, isAdmin)
				if !decision.Allowed {
					if decision.ShouldWarn {
						p.reply(ctx, msg, fmt.Sprintf("Трошки пригальмуй, спробуй ще раз через %d с.", int(decision.RetryAfter.Seconds())))
					}
					return nil
				}
			}
			if p.d.Admin != nil {
				args := commandArgs(msg.Text)
				reply, handled := p.d.Admin.Dispatch(ctx, command, args, AdminContext{
					ChatID: msg.ChatID, ThreadID: threadID, UserID: msg.From.ID, IsAdmin: isAdmin,
				})
				if handled {
					p.reply(ctx, msg, reply)
					return nil
				}
			}
		}
	}

	// Step 3: trigger check.
	isPrivate := msg.ChatType == telegram.ChatPrivate
	var botUserID int64
	var keywords []string
	if p.d.Config != nil {
		botUserID = p.d.Config.Telegram.BotUserID
		keywords = p.d.Config.Telegram.TriggerKeywords
	}
	trigger := detectTrigger(msg, botUserID, p.botUsername(), keywords, isPrivate)
	if trigger == TriggerNone && !forcedTrigger {
		return nil
	}

	// Step 5: per-chat serialization lock.
	lockKey := chatlock.Key{ChatID: msg.ChatID, ThreadID: threadID, UserID: msg.From.ID}
	release, err := p.d.ChatLocks.Acquire(ctx, lockKey)
	if err != nil {
		return nil // context canceled while waiting for the lane
	}
	defer release()

	// Step 6: rate-limit gate.
	if p.d.UserLimiter != nil {
		decision := p.d.UserLimiter.Allow(msg.From.ID, isAdmin)
		if !decision.Allowed {
			p.reply(ctx, msg, aierrors.UserMessages[aierrors.KindThrottled])
			return nil
		}
	}

	queryText := msg.Text
	if queryText == "" {
		queryText = msg.Caption
	}

	// Step 7: reply-context enrichment.
	var injectedTurn *turns.Turn
	if msg.ReplyTo != nil && p.d.Config != nil {
		if replied, err := p.d.Turns.FindByMessageID(ctx, msg.ChatID, threadID, msg.ReplyTo.MessageID); err == nil && replied != nil {
			name := msg.ReplyTo.From.Username
			if name == "" {
				name = msg.ReplyTo.From.FirstName
			}
			maxChars := p.d.Config.Context.ReplyExcerptMaxChars
			if p.d.Config.Context.IncludeReplyExcerpt {
				queryText = replyExcerpt(name, replied.Text, maxChars) + "\n" + queryText
			}
			injectedTurn = replied
		}
	}

	// Step 8: context assembly.
	queryEmbedding := p.embed(ctx, queryText)
	var totalBudget int
	if p.d.Config != nil {
		totalBudget = p.d.Config.Context.TokenBudget
	}
	assembleReq := assembler.Request{
		ChatID:         msg.ChatID,
		ThreadID:       threadID,
		CurrentUserID:  msg.From.ID,
		TotalBudget:    totalBudget,
		QueryText:      queryText,
		QueryEmbedding: queryEmbedding,
	}
	assembled, err := p.d.Assembler.Assemble(ctx, assembleReq)
	if err != nil {
		p.replyError(ctx, msg, err)
		return err
	}
	if injectedTurn != nil && !containsTurn(assembled.Turns, injectedTurn.ID) {
		assembled.Turns = append([]turns.Turn{*injectedTurn}, assembled.Turns...)
	}

	// Step 9: system-prompt resolution.
	systemPrompt := p.resolveSystemPrompt(ctx, msg.ChatID, assembled)

	// Step 10: tool list.
	var toolDefs []llm.ToolDefinition
	if p.d.Tools != nil && p.d.LLM != nil && p.d.LLM.Capabilities().SupportsFunctionCalling {
		toolDefs = p.d.Tools.Definitions()
	}

	currentParts := currentTurnParts(msg, queryText)
	conversation := append(conversationTurnsFromTurns(assembled.Turns), llm.ConversationTurn{
		Role:  llm.RoleUser,
		Parts: currentParts,
	})

	var model string
	if p.d.Config != nil {
		model = p.d.Config.LLM.DefaultModel
	}
	req := llm.Request{
		Model:  model,
		System: systemPrompt,
		Turns:  conversation,
		Tools:  toolDefs,
		Params: llm.GenerationParams{Temperature: 0.7, MaxOutputTokens: 2048},
	}
	injected := llm.InjectedContext{ChatID: msg.ChatID, ThreadID: threadID, UserID: msg.From.ID}

	start := p.now()
	// Step 11: LLM call.
	text, toolUsage, err := p.d.LLM.Generate(ctx, req, p.d.Tools, injected, nil)
	elapsed := p.now().Sub(start)
	if err != nil {
		p.replyError(ctx, msg, err)
		return err
	}

	// Step 12: reply formatting.
	formatted := FormatReply(text)

	// Step 13: send reply.
	sendErr := p.d.Sender.Send(telegram.Reply{
		ChatID:    msg.ChatID,
		ThreadID:  threadID,
		Text:      formatted,
		ReplyToID: msg.MessageID,
	})
	if sendErr != nil {
		p.d.Log.Warn().Err(sendErr).Int64("chat_id", msg.ChatID).Msg("reply send failed")
	}

	// Step 14: persist model turn, schedule fire-and-forget tasks.
	modelTurn := turns.Turn{
		ChatID:    msg.ChatID,
		ThreadID:  threadID,
		UserID:    msg.From.ID,
		Role:      turns.RoleModel,
		Text:      text,
		Embedding: p.embed(ctx, text),
	}
	modelTurnID, persistErr := p.d.Turns.AddTurn(ctx, modelTurn)
	if persistErr != nil {
		p.d.Log.Warn().Err(persistErr).Msg("failed to persist model turn")
	}

	toolNames := make([]string, 0, len(toolUsage))
	for _, u := range toolUsage {
		toolNames = append(toolNames, u.Name)
	}
	p.scheduleBackgroundWork(ctx, msg, threadID, modelTurnID, queryText, toolNames, elapsed, assembled.UsedFallback)

	return nil
}

func (p *Pipeline) botUsername() string {
	if p.d.Config == nil {
		return ""
	}
	return p.d.Config.Telegram.BotUsername
}

func (p *Pipeline) embed(ctx context.Context, text string) []float32 {
	if p.d.LLM == nil || text == "" || p.d.Config == nil {
		return nil
	}
	vec, err := p.d.LLM.Embed(ctx, p.d.Config.LLM.EmbeddingModel, text)
	if err != nil {
		return nil // embedding failures are non-fatal, spec.md §4.8
	}
	return vec
}

func (p *Pipeline) resolveSystemPrompt(ctx context.Context, chatID int64, assembled assembler.Assembled) string {
	base := prompts.DefaultPrompt
	if p.d.Prompts != nil {
		if resolved, err := p.d.Prompts.Resolve(ctx, chatID); err == nil {
			base = resolved
		}
	}
	prompt := base + "\n\nCurrent time: " + p.now().UTC().Format(time.RFC3339)
	if assembled.BackgroundDigest != "" {
		prompt += "\n\nKnown facts:\n" + assembled.BackgroundDigest
	}
	for _, summary := range assembled.EpisodeSummaries {
		prompt += "\n\nEarlier in this chat: " + summary
	}
	return prompt
}

// replyError classifies err per the failure policy (spec.md §4.9: any
// step from 8 onward that fails sends a short user-visible notice;
// fatal llm_quota/llm_capability/llm_safety kinds get distinct
// messages) and sends the resulting reply.
func (p *Pipeline) replyError(ctx context.Context, msg telegram.Message, err error) {
	kind := aierrors.ClassifyOf(err)
	if !aierrors.IsUserVisible(kind) {
		return
	}
	message, ok := aierrors.UserMessages[kind]
	if !ok {
		message = localizedErrorReply("")
	}
	p.reply(ctx, msg, message)
}

func (p *Pipeline) reply(ctx context.Context, msg telegram.Message, text string) {
	if p.d.Sender == nil || text == "" {
		return
	}
	_ = p.d.Sender.Send(telegram.Reply{
		ChatID:    msg.ChatID,
		ThreadID:  msg.ThreadID,
		Text:      FormatReply(text),
		ReplyToID: msg.MessageID,
	})
}

func containsTurn(rows []turns.Turn, id int64) bool {
	for _, t := range rows {
		if t.ID == id {
			return true
		}
	}
	return false
}

func currentTurnParts(msg telegram.Message, queryText string) []llm.Part {
	var parts []llm.Part
	if queryText != "" {
		parts = append(parts, llm.Part{Text: queryText})
	}
	for _, m := range turnsMediaFromTelegram(msg.Media) {
		parts = append(parts, llm.Part{Media: llmMediaKind(m.Kind), MIME: m.MIME, Ref: m.Ref})
	}
	return parts
}

func commandArgs(text string) string {
	for i, r := range text {
		if r == ' ' {
			return text[i+1:]
		}
	}
	return ""
}

// scheduleBackgroundWork enqueues step 14's three fire-and-forget tasks.
// Enqueue failures are logged, never propagated: a full or unavailable
// queue must not turn a successfully-delivered reply into an error.
func (p *Pipeline) scheduleBackgroundWork(ctx context.Context, msg telegram.Message, threadID, modelTurnID int64, queryText string, toolsUsed []string, elapsed time.Duration, usedFallback bool) {
	if p.d.Tasks == nil {
		return
	}
	p.enqueue(ctx, TaskOutcomeTracker, outcomeTrackerPayload{
		ChatID: msg.ChatID, ThreadID: threadID, UserID: msg.From.ID,
		ToolsUsed: toolsUsed, ResponseTimeMS: elapsed.Milliseconds(), UsedFallback: usedFallback,
	})
	p.enqueue(ctx, TaskFactExtraction, factExtractionPayload{
		ChatID: msg.ChatID, UserID: msg.From.ID, Text: queryText,
	})
	p.enqueue(ctx, TaskEpisodeMonitorTick, episodeMonitorPayload{
		ChatID: msg.ChatID, ThreadID: threadID, TurnID: modelTurnID, UserID: msg.From.ID,
	})
}

func (p *Pipeline) enqueue(ctx context.Context, taskType string, v any) {
	payload, err := json.Marshal(v)
	if err != nil {
		return
	}
	if err := p.d.Tasks.Enqueue(ctx, taskType, tasks.Payload(payload)); err != nil {
		p.d.Log.Warn().Err(err).Str("task_type", taskType).Msg("failed to enqueue background task")
	}
}
