// Package assembler implements the multi-level context assembler: five
// token-budgeted layers (immediate, recent, relevant, background,
// episodic) combined into the turn list submitted to the LLM.
package assembler

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/gryagbot/gryag/pkg/episodes"
	"github.com/gryagbot/gryag/pkg/facts"
	"github.com/gryagbot/gryag/pkg/retrieval"
	"github.com/gryagbot/gryag/pkg/turns"
)

// tokensPerWord and the fixed per-media-part costs are the spec's exact
// estimator: word count × 1.3, 258 tokens per inline media part, 100
// tokens per file-URI part. This is deliberately not a BPE tokenizer
// (the teacher's tiktoken-based EstimateTokens doesn't apply: the spec
// mandates this exact formula, not a provider-accurate count).
const (
	tokensPerWord   = 1.3
	inlineMediaCost = 258
	fileURICost     = 100
)

// LayerBudgets are the proportional shares of the total token budget.
// Defaults per §4.5: immediate 20%, recent 30%, relevant 25%,
// background 15%, episodic 10%.
type LayerBudgets struct {
	Immediate float64
	Recent    float64
	Relevant  float64
	Background float64
	Episodic  float64
}

// DefaultLayerBudgets returns the spec's default proportional split.
func DefaultLayerBudgets() LayerBudgets {
	return LayerBudgets{Immediate: 0.20, Recent: 0.30, Relevant: 0.25, Background: 0.15, Episodic: 0.10}
}

// Request parameterises one assembly call.
type Request struct {
	ChatID          int64
	ThreadID        int64
	CurrentUserID   int64
	TotalBudget     int
	QueryText       string
	QueryEmbedding  []float32
	ImmediateCount  int // default 8
	RecentCount     int // default 40
	RelevantLimit   int // default 20
	MentionedUserIDs []int64
}

// Assembled is the output: the ordered turn list plus a background
// digest and episode summaries to splice into the system/context
// portion of the prompt.
type Assembled struct {
	Turns            []turns.Turn
	BackgroundDigest string
	EpisodeSummaries []string
	EstimatedTokens  int
	UsedFallback     bool
}

// Assembler wires the turn log, fact repository, retriever and episode
// store into the five-layer budget split described in §4.5.
type Assembler struct {
	turnRepo  *turns.Repository
	factRepo  *facts.Repository
	retriever *retrieval.Retriever
	episodeRepo *episodes.Repository
	budgets   LayerBudgets

	// fallbackCount is the telemetry counter incremented every time
	// Assemble falls back to recent()+truncate_history_to_tokens.
	fallbackCount int64
}

// New builds an Assembler.
func New(turnRepo *turns.Repository, factRepo *facts.Repository, retriever *retrieval.Retriever, episodeRepo *episodes.Repository, budgets LayerBudgets) *Assembler {
	return &Assembler{turnRepo: turnRepo, factRepo: factRepo, retriever: retriever, episodeRepo: episodeRepo, budgets: budgets}
}

// FallbackCount returns how many times Assemble has taken the fallback
// path since construction.
func (a *Assembler) FallbackCount() int64 { return a.fallbackCount }

// EstimateTokens applies the spec's fixed word×1.3 / per-media-part
// formula to a single turn.
func EstimateTokens(t turns.Turn) int {
	words := len(strings.Fields(t.Text))
	total := float64(words) * tokensPerWord
	for _, m := range t.Media {
		if m.Kind == "file_uri" {
			total += fileURICost
		} else {
			total += inlineMediaCost
		}
	}
	return int(total + 0.5)
}

func estimateTokensText(s string) int {
	return int(float64(len(strings.Fields(s)))*tokensPerWord + 0.5)
}

// Assemble builds the five-layer context for req. On any top-level
// failure, or if the result contains zero turns, it falls back to
// recent()+truncate_history_to_tokens and increments the fallback
// telemetry counter; the fallback itself is infallible short of a
// store outage, which propagates.
func (a *Assembler) Assemble(ctx context.Context, req Request) (Assembled, error) {
	out, err := a.assemble(ctx, req)
	if err != nil || len(out.Turns) == 0 {
		a.fallbackCount++
		fb, fbErr := a.fallback(ctx, req)
		if fbErr != nil {
			return Assembled{}, fbErr
		}
		fb.UsedFallback = true
		return fb, nil
	}
	return out, nil
}

func (a *Assembler) assemble(ctx context.Context, req Request) (Assembled, error) {
	total := req.TotalBudget
	if total <= 0 {
		total = 8000
	}
	immediateCount := req.ImmediateCount
	if immediateCount == 0 {
		immediateCount = 8
	}
	recentCount := req.RecentCount
	if recentCount == 0 {
		recentCount = 40
	}
	relevantLimit := req.RelevantLimit
	if relevantLimit == 0 {
		relevantLimit = 20
	}

	immediateBudget := int(float64(total) * a.budgets.Immediate)
	recentBudget := int(float64(total) * a.budgets.Recent)
	relevantBudget := int(float64(total) * a.budgets.Relevant)
	backgroundBudget := int(float64(total) * a.budgets.Background)
	episodicBudget := int(float64(total) * a.budgets.Episodic)

	seen := make(map[int64]bool)

	immediate := a.immediateLayer(ctx, req, immediateCount, immediateBudget, seen)
	recent := a.recentLayer(ctx, req, recentCount, recentBudget, seen)
	relevant := a.relevantLayer(ctx, req, relevantLimit, relevantBudget, seen)
	background := a.backgroundLayer(ctx, req, backgroundBudget)
	episodic := a.episodicLayer(ctx, req, episodicBudget)

	all := make([]turns.Turn, 0, len(immediate)+len(recent)+len(relevant))
	all = append(all, relevant...) // oldest signal first
	all = append(all, recent...)
	all = append(all, immediate...)
	sort.SliceStable(all, func(i, j int) bool { return all[i].CreatedAt < all[j].CreatedAt })

	estTotal := 0
	for _, t := range all {
		estTotal += EstimateTokens(t)
	}
	estTotal += estimateTokensText(background)
	for _, s := range episodic {
		estTotal += estimateTokensText(s)
	}

	return Assembled{
		Turns:            all,
		BackgroundDigest: background,
		EpisodeSummaries: episodic,
		EstimatedTokens:  estTotal,
	}, nil
}

// immediateLayer pulls the last immediateCount turns, dropping oldest
// first if the layer's own budget would be exceeded.
func (a *Assembler) immediateLayer(ctx context.Context, req Request, count, budget int, seen map[int64]bool) []turns.Turn {
	rows, err := a.turnRepo.Recent(ctx, req.ChatID, req.ThreadID, count)
	if err != nil {
		return nil // per-layer fault isolation: empty, never propagate
	}
	rows = fitBudget(rows, budget)
	for _, t := range rows {
		seen[t.ID] = true
	}
	return rows
}

// recentLayer pulls further-back turns beyond what immediate already
// claimed, deduplicated against seen.
func (a *Assembler) recentLayer(ctx context.Context, req Request, count, budget int, seen map[int64]bool) []turns.Turn {
	rows, err := a.turnRepo.Recent(ctx, req.ChatID, req.ThreadID, count)
	if err != nil {
		return nil
	}
	filtered := rows[:0:0]
	for _, t := range rows {
		if seen[t.ID] {
			continue
		}
		filtered = append(filtered, t)
	}
	filtered = fitBudget(filtered, budget)
	for _, t := range filtered {
		seen[t.ID] = true
	}
	return filtered
}

// relevantLayer runs the hybrid retriever and loads the matching turns,
// filtered to not duplicate turns already claimed by earlier layers.
func (a *Assembler) relevantLayer(ctx context.Context, req Request, limit, budget int, seen map[int64]bool) []turns.Turn {
	if a.retriever == nil {
		return nil
	}
	scored, err := a.retriever.Query(ctx, req.ChatID, req.QueryText, req.QueryEmbedding, limit)
	if err != nil {
		return nil
	}
	var out []turns.Turn
	for _, s := range scored {
		if seen[s.TurnID] {
			continue
		}
		t, err := a.loadTurn(ctx, req.ChatID, req.ThreadID, s.TurnID)
		if err != nil {
			continue
		}
		out = append(out, t)
	}
	out = fitBudget(out, budget)
	for _, t := range out {
		seen[t.ID] = true
	}
	return out
}

// loadTurn fetches a single turn by id via the repository's Recent
// window; the retriever and turn repository share the same backing
// store so this is a best-effort lookup tolerant of misses.
func (a *Assembler) loadTurn(ctx context.Context, chatID, threadID, turnID int64) (turns.Turn, error) {
	candidates, err := a.turnRepo.Recent(ctx, chatID, threadID, 500)
	if err != nil {
		return turns.Turn{}, err
	}
	for _, t := range candidates {
		if t.ID == turnID {
			return t, nil
		}
	}
	return turns.Turn{}, fmt.Errorf("turn %d not found in window", turnID)
}

// backgroundLayer renders a compact bullet-list digest of top-confidence
// facts for the current user and any recently-mentioned users.
func (a *Assembler) backgroundLayer(ctx context.Context, req Request, budget int) string {
	if a.factRepo == nil {
		return ""
	}
	userIDs := append([]int64{req.CurrentUserID}, req.MentionedUserIDs...)
	var lines []string
	for _, uid := range userIDs {
		rows, err := a.factRepo.GetFacts(ctx, facts.EntityUser, uid, req.ChatID, nil, 0.5, 10)
		if err != nil {
			continue // per-layer fault isolation
		}
		for _, f := range rows {
			lines = append(lines, fmt.Sprintf("- user %d: %s.%s = %s", uid, f.Category, f.Key, f.Value))
		}
	}
	digest := strings.Join(lines, "\n")
	return truncateToBudget(digest, budget)
}

// episodicLayer renders summaries of the most relevant recent episodes
// for this chat+thread, ranked by recency and topical overlap with the
// current query text.
func (a *Assembler) episodicLayer(ctx context.Context, req Request, budget int) []string {
	if a.episodeRepo == nil {
		return nil
	}
	eps, err := a.episodeRepo.RecentSealed(ctx, req.ChatID, req.ThreadID, 10)
	if err != nil {
		return nil // per-layer fault isolation
	}
	ranked := rankEpisodes(eps, req.QueryText)
	var out []string
	used := 0
	for _, e := range ranked {
		cost := estimateTokensText(e.Summary)
		if used+cost > budget && used > 0 {
			break
		}
		out = append(out, e.Summary)
		used += cost
	}
	return out
}

type rankedEpisode struct {
	episodes.Episode
	score float64
}

// rankEpisodes scores episodes.Episode rows by a combination of recency
// (more recent = higher) and naive word-overlap between the episode
// summary and queryText.
func rankEpisodes(eps []episodes.Episode, queryText string) []episodes.Episode {
	if len(eps) == 0 {
		return nil
	}
	qWords := wordSet(queryText)
	scored := make([]rankedEpisode, len(eps))
	maxStarted := eps[0].StartedAt
	for _, e := range eps {
		if e.StartedAt > maxStarted {
			maxStarted = e.StartedAt
		}
	}
	for i, e := range eps {
		overlap := overlapScore(wordSet(e.Summary), qWords)
		var recency float64
		if maxStarted > 0 {
			recency = float64(e.StartedAt) / float64(maxStarted)
		}
		scored[i] = rankedEpisode{Episode: e, score: 0.5*recency + 0.5*overlap}
	}
	sort.SliceStable(scored, func(i, j int) bool { return scored[i].score > scored[j].score })
	out := make([]episodes.Episode, len(scored))
	for i, s := range scored {
		out[i] = s.Episode
	}
	return out
}

func wordSet(s string) map[string]bool {
	set := make(map[string]bool)
	for _, w := range strings.Fields(strings.ToLower(s)) {
		set[w] = true
	}
	return set
}

func overlapScore(a, b map[string]bool) float64 {
	if len(a) == 0 || len(b) == 0 {
		return 0
	}
	hits := 0
	for w := range b {
		if a[w] {
			hits++
		}
	}
	return float64(hits) / float64(len(b))
}

// fitBudget drops oldest items first until the remaining set's
// estimated token cost fits budget. rows is assumed chronological
// (oldest first), matching turns.Repository.Recent's contract.
func fitBudget(rows []turns.Turn, budget int) []turns.Turn {
	if budget <= 0 {
		return nil
	}
	total := 0
	for _, t := range rows {
		total += EstimateTokens(t)
	}
	start := 0
	for total > budget && start < len(rows) {
		total -= EstimateTokens(rows[start])
		start++
	}
	return rows[start:]
}

func truncateToBudget(text string, budget int) string {
	if budget <= 0 {
		return ""
	}
	lines := strings.Split(text, "\n")
	for estimateTokensText(strings.Join(lines, "\n")) > budget && len(lines) > 0 {
		lines = lines[:len(lines)-1]
	}
	return strings.Join(lines, "\n")
}

// fallback implements the §4.5 fallback path: recent(chat_id, thread_id,
// max_turns) trimmed by TruncateHistoryToTokens, greedily dropping from
// the head until it fits. Used when Assemble's normal path raises or
// yields zero turns.
func (a *Assembler) fallback(ctx context.Context, req Request) (Assembled, error) {
	total := req.TotalBudget
	if total <= 0 {
		total = 8000
	}
	recentCount := req.RecentCount
	if recentCount == 0 {
		recentCount = 40
	}
	rows, err := a.turnRepo.Recent(ctx, req.ChatID, req.ThreadID, recentCount)
	if err != nil {
		return Assembled{}, err
	}
	trimmed := TruncateHistoryToTokens(rows, total)
	estTotal := 0
	for _, t := range trimmed {
		estTotal += EstimateTokens(t)
	}
	return Assembled{Turns: trimmed, EstimatedTokens: estTotal}, nil
}

// TruncateHistoryToTokens greedily drops turns from the head (oldest
// first) of a chronologically-ordered history until the remainder's
// estimated token cost is within budget.
func TruncateHistoryToTokens(history []turns.Turn, budget int) []turns.Turn {
	return fitBudget(history, budget)
}
