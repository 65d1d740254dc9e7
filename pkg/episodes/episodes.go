// Package episodes implements the episode monitor & summariser: closing
// episode boundaries on idle gaps, topic shifts or participant changes,
// and producing a summary (LLM-backed, with a heuristic fallback) for
// each sealed episode.
package episodes

import (
	"context"
	"sort"
	"strings"
	"time"

	"github.com/gryagbot/gryag/pkg/aierrors"
	"github.com/gryagbot/gryag/pkg/store"
	"github.com/gryagbot/gryag/pkg/turns"
	"github.com/gryagbot/gryag/pkg/vecenc"
)

// SummaryKind records whether a summary was produced by the LLM or the
// heuristic fallback, per §4.7.
type SummaryKind string

const (
	SummaryLLM       SummaryKind = "llm"
	SummaryHeuristic SummaryKind = "heuristic"
)

// Episode is one row of the episodes table: a closed or still-open span
// of turns.
type Episode struct {
	ID          int64
	ChatID      int64
	ThreadID    int64
	StartedAt   int64
	SealedAt    *int64
	Summary     string
	SummaryKind SummaryKind
	FirstTurnID int64
	LastTurnID  *int64
}

// Summarizer produces an LLM-backed summary for a closed span of turns.
// Implemented in cmd/gryag over the pkg/llm client; kept as a narrow
// interface here so the
// episode monitor has no import-time dependency on the LLM client.
type Summarizer interface {
	SummarizeEpisode(ctx context.Context, span []turns.Turn) (summary string, err error)
}

// Boundaries configures the three trigger conditions for closing an
// open episode.
type Boundaries struct {
	// IdleGapSeconds: close if the next turn arrives more than this many
	// seconds after the episode's last turn.
	IdleGapSeconds int64
	// TopicShiftThreshold: close if the cosine distance (1 - similarity)
	// between the embedding centroid of the last window and the new
	// turn's embedding exceeds this.
	TopicShiftThreshold float64
	// WindowSize is how many trailing turns form the "last window" used
	// for the topic-shift centroid.
	WindowSize int
}

// DefaultBoundaries returns conservative defaults: a 30-minute idle gap,
// a fairly strict topic-shift threshold, and a 5-turn window.
func DefaultBoundaries() Boundaries {
	return Boundaries{IdleGapSeconds: 1800, TopicShiftThreshold: 0.6, WindowSize: 5}
}

// Repository owns episode boundary detection, sealing and summarisation
// against the turn log.
type Repository struct {
	store      *store.Store
	turnRepo   *turns.Repository
	boundaries Boundaries
	summarizer Summarizer
	now        func() time.Time
}

// New builds a Repository. summarizer may be nil, in which case every
// seal falls straight to the heuristic summary.
func New(st *store.Store, turnRepo *turns.Repository, boundaries Boundaries, summarizer Summarizer, now func() time.Time) *Repository {
	if now == nil {
		now = time.Now
	}
	return &Repository{store: st, turnRepo: turnRepo, boundaries: boundaries, summarizer: summarizer, now: now}
}

// openEpisode returns the current unsealed episode for (chatID,
// threadID), or nil if none is open.
func (r *Repository) openEpisode(ctx context.Context, chatID, threadID int64) (*Episode, error) {
	row := r.store.DB.QueryRow(ctx,
		`SELECT id, chat_id, thread_id, started_at, sealed_at, summary, summary_kind, first_turn_id, last_turn_id
		 FROM episodes WHERE chat_id=$1 AND thread_id=$2 AND sealed_at IS NULL ORDER BY started_at DESC LIMIT 1`,
		chatID, threadID,
	)
	e, err := scanEpisode(row)
	if err != nil {
		if aierrors.IsStorageError(err) {
			return nil, aierrors.New(aierrors.KindStorageError, err, "op", "open_episode")
		}
		return nil, nil // sql.ErrNoRows: no open episode
	}
	return &e, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanEpisode(row rowScanner) (Episode, error) {
	var e Episode
	var kind string
	if err := row.Scan(&e.ID, &e.ChatID, &e.ThreadID, &e.StartedAt, &e.SealedAt, &e.Summary, &kind, &e.FirstTurnID, &e.LastTurnID); err != nil {
		return Episode{}, err
	}
	e.SummaryKind = SummaryKind(kind)
	return e, nil
}

// Observe is called after a new turn is persisted. It either extends
// the open episode to include newTurn, opens a fresh episode if none is
// open, or seals the current one first (per the boundary triggers) and
// opens a new one starting at newTurn.
func (r *Repository) Observe(ctx context.Context, newTurn turns.Turn, participantIDs []int64) error {
	open, err := r.openEpisode(ctx, newTurn.ChatID, newTurn.ThreadID)
	if err != nil {
		return err
	}
	if open == nil {
		return r.startEpisode(ctx, newTurn)
	}

	shouldClose, err := r.shouldClose(ctx, *open, newTurn, participantIDs)
	if err != nil {
		return err
	}
	if !shouldClose {
		_, err := r.store.DB.Exec(ctx, `UPDATE episodes SET last_turn_id=$1 WHERE id=$2`, newTurn.ID, open.ID)
		if err != nil {
			return aierrors.New(aierrors.KindStorageError, err, "op", "episode_extend")
		}
		return nil
	}

	if err := r.Seal(ctx, open.ID); err != nil {
		return err
	}
	return r.startEpisode(ctx, newTurn)
}

func (r *Repository) startEpisode(ctx context.Context, t turns.Turn) error {
	_, err := r.store.DB.Exec(ctx,
		`INSERT INTO episodes (chat_id, thread_id, started_at, first_turn_id, last_turn_id) VALUES ($1, $2, $3, $4, $4)`,
		t.ChatID, t.ThreadID, t.CreatedAt, t.ID,
	)
	if err != nil {
		return aierrors.New(aierrors.KindStorageError, err, "op", "episode_start")
	}
	return nil
}

// shouldClose evaluates the three §4.7 boundary triggers: idle gap,
// topic shift (embedding-distance over the trailing window), and
// participant-set change.
func (r *Repository) shouldClose(ctx context.Context, open Episode, newTurn turns.Turn, participantIDs []int64) (bool, error) {
	lastTurn, err := r.lastTurnOf(ctx, open)
	if err != nil {
		return false, err
	}
	if lastTurn != nil {
		gap := newTurn.CreatedAt - lastTurn.CreatedAt
		if r.boundaries.IdleGapSeconds > 0 && gap > r.boundaries.IdleGapSeconds {
			return true, nil
		}
	}

	window, err := r.turnRepo.Recent(ctx, open.ChatID, open.ThreadID, r.windowSize()+1)
	window = excludeTurn(window, newTurn.ID)
	if err == nil && len(window) > 0 && len(newTurn.Embedding) > 0 {
		centroid := centroidOf(window)
		if len(centroid) > 0 {
			sim := vecenc.CosineSimilarity(centroid, newTurn.Embedding)
			if (1 - sim) > r.boundaries.TopicShiftThreshold {
				return true, nil
			}
		}
	}

	if len(participantIDs) > 0 {
		prior := r.participantSet(ctx, open, newTurn.ID)
		if materiallyChanged(prior, participantIDs) {
			return true, nil
		}
	}
	return false, nil
}

func (r *Repository) windowSize() int {
	if r.boundaries.WindowSize <= 0 {
		return 5
	}
	return r.boundaries.WindowSize
}

// lastTurnOf looks up the episode's recorded last turn directly by id,
// rather than via Recent(...,1): Observe runs after the candidate new
// turn is already persisted, so the most-recent row in the chat is the
// new turn itself, not the episode's true last turn.
func (r *Repository) lastTurnOf(ctx context.Context, e Episode) (*turns.Turn, error) {
	if e.LastTurnID == nil {
		return nil, nil
	}
	row := r.store.DB.QueryRow(ctx, `SELECT created_at FROM turns WHERE id=$1`, *e.LastTurnID)
	var createdAt int64
	if err := row.Scan(&createdAt); err != nil {
		return nil, nil
	}
	return &turns.Turn{ID: *e.LastTurnID, CreatedAt: createdAt}, nil
}

func (r *Repository) participantSet(ctx context.Context, e Episode, excludeTurnID int64) []int64 {
	window, err := r.turnRepo.Recent(ctx, e.ChatID, e.ThreadID, r.windowSize()+1)
	if err != nil {
		return nil
	}
	window = excludeTurn(window, excludeTurnID)
	seen := make(map[int64]bool)
	var out []int64
	for _, t := range window {
		if !seen[t.UserID] {
			seen[t.UserID] = true
			out = append(out, t.UserID)
		}
	}
	return out
}

func excludeTurn(window []turns.Turn, id int64) []turns.Turn {
	out := window[:0:0]
	for _, t := range window {
		if t.ID != id {
			out = append(out, t)
		}
	}
	return out
}

// materiallyChanged reports whether every member of participants is
// absent from prior (a superset keeps the episode open; a disjoint
// swap closes it).
func materiallyChanged(prior, participants []int64) bool {
	if len(prior) == 0 {
		return false
	}
	priorSet := make(map[int64]bool, len(prior))
	for _, id := range prior {
		priorSet[id] = true
	}
	novel := 0
	for _, id := range participants {
		if !priorSet[id] {
			novel++
		}
	}
	return novel > 0 && novel >= len(participants)
}

func centroidOf(window []turns.Turn) []float32 {
	var dims int
	var sum []float32
	var count int
	for _, t := range window {
		if len(t.Embedding) == 0 {
			continue
		}
		if dims == 0 {
			dims = len(t.Embedding)
			sum = make([]float32, dims)
		}
		for i, v := range t.Embedding {
			if i < len(sum) {
				sum[i] += v
			}
		}
		count++
	}
	if count == 0 {
		return nil
	}
	for i := range sum {
		sum[i] /= float32(count)
	}
	return sum
}

// Seal closes episodeID: it loads the episode's turn span, attempts an
// LLM summary, and falls back to the heuristic summary (first-message
// leading phrase + top word-frequency tags) on any summarizer failure.
func (r *Repository) Seal(ctx context.Context, episodeID int64) error {
	var e Episode
	row := r.store.DB.QueryRow(ctx,
		`SELECT id, chat_id, thread_id, started_at, sealed_at, summary, summary_kind, first_turn_id, last_turn_id FROM episodes WHERE id=$1`,
		episodeID,
	)
	var err error
	e, err = scanEpisode(row)
	if err != nil {
		return aierrors.New(aierrors.KindStorageError, err, "op", "seal_lookup")
	}

	span, err := r.turnRepo.Recent(ctx, e.ChatID, e.ThreadID, 500)
	if err != nil {
		span = nil // fault isolation: summarise with whatever we have, even empty
	}
	span = spanBetween(span, e.FirstTurnID, e.LastTurnID)

	summary, kind := r.summarize(ctx, span)
	now := r.now().Unix()
	_, err = r.store.DB.Exec(ctx,
		`UPDATE episodes SET sealed_at=$1, summary=$2, summary_kind=$3 WHERE id=$4`,
		now, summary, string(kind), episodeID,
	)
	if err != nil {
		return aierrors.New(aierrors.KindStorageError, err, "op", "seal_update")
	}
	return nil
}

// SealIdle seals every open episode whose last turn is older than the
// configured idle gap, for a pkg/loops-driven periodic sweep: a chat that
// simply goes quiet (no further message ever arrives to trigger the
// idle-gap check in shouldClose) would otherwise leave its episode open
// and unsummarised forever.
func (r *Repository) SealIdle(ctx context.Context) (int, error) {
	rows, err := r.store.DB.Query(ctx,
		`SELECT id, chat_id, thread_id, started_at, sealed_at, summary, summary_kind, first_turn_id, last_turn_id
		 FROM episodes WHERE sealed_at IS NULL`,
	)
	if err != nil {
		return 0, aierrors.New(aierrors.KindStorageError, err, "op", "seal_idle_scan")
	}
	var candidates []Episode
	for rows.Next() {
		e, err := scanEpisode(rows)
		if err != nil {
			continue
		}
		candidates = append(candidates, e)
	}
	rows.Close()

	now := r.now()
	sealed := 0
	for _, e := range candidates {
		last, err := r.lastTurnOf(ctx, e)
		if err != nil || last == nil {
			continue
		}
		if now.Unix()-last.CreatedAt < r.boundaries.IdleGapSeconds {
			continue
		}
		if err := r.Seal(ctx, e.ID); err != nil {
			continue
		}
		sealed++
	}
	return sealed, nil
}

func spanBetween(turnsIn []turns.Turn, firstID int64, lastID *int64) []turns.Turn {
	var out []turns.Turn
	inRange := false
	for _, t := range turnsIn {
		if t.ID == firstID {
			inRange = true
		}
		if inRange {
			out = append(out, t)
		}
		if lastID != nil && t.ID == *lastID {
			break
		}
	}
	return out
}

func (r *Repository) summarize(ctx context.Context, span []turns.Turn) (string, SummaryKind) {
	if r.summarizer != nil {
		if summary, err := r.summarizer.SummarizeEpisode(ctx, span); err == nil && strings.TrimSpace(summary) != "" {
			return summary, SummaryLLM
		}
	}
	return heuristicSummary(span), SummaryHeuristic
}

// heuristicSummary produces a deterministic, LLM-free summary: the
// leading phrase of the first message as the topic, followed by the
// top word-frequency tags (stop-words excluded).
func heuristicSummary(span []turns.Turn) string {
	if len(span) == 0 {
		return "(empty episode)"
	}
	topic := leadingPhrase(span[0].Text)
	tags := topWordFrequencies(span, 5)
	if len(tags) == 0 {
		return topic
	}
	return topic + " [" + strings.Join(tags, ", ") + "]"
}

func leadingPhrase(text string) string {
	words := strings.Fields(text)
	if len(words) > 12 {
		words = words[:12]
	}
	phrase := strings.Join(words, " ")
	if phrase == "" {
		return "(no text)"
	}
	return phrase
}

var stopWords = map[string]bool{
	"the": true, "a": true, "an": true, "is": true, "are": true, "and": true, "or": true,
	"but": true, "in": true, "on": true, "at": true, "to": true, "of": true, "for": true,
	"it": true, "this": true, "that": true, "i": true, "you": true, "we": true, "be": true,
	"was": true, "were": true, "with": true, "as": true, "not": true, "no": true,
}

// topWordFrequencies returns the top n non-stop-word tokens across span
// by frequency, ties broken by first appearance.
func topWordFrequencies(span []turns.Turn, n int) []string {
	counts := make(map[string]int)
	var order []string
	for _, t := range span {
		for _, w := range strings.Fields(strings.ToLower(t.Text)) {
			w = strings.Trim(w, ".,!?;:\"'()")
			if w == "" || stopWords[w] {
				continue
			}
			if counts[w] == 0 {
				order = append(order, w)
			}
			counts[w]++
		}
	}
	sort.SliceStable(order, func(i, j int) bool { return counts[order[i]] > counts[order[j]] })
	if len(order) > n {
		order = order[:n]
	}
	return order
}

// RecentSealed returns the most recently-sealed episodes for (chatID,
// threadID), newest first, used by the assembler's episodic layer.
func (r *Repository) RecentSealed(ctx context.Context, chatID, threadID int64, limit int) ([]Episode, error) {
	rows, err := r.store.DB.Query(ctx,
		`SELECT id, chat_id, thread_id, started_at, sealed_at, summary, summary_kind, first_turn_id, last_turn_id
		 FROM episodes WHERE chat_id=$1 AND thread_id=$2 AND sealed_at IS NOT NULL ORDER BY sealed_at DESC LIMIT $3`,
		chatID, threadID, limit,
	)
	if err != nil {
		return nil, aierrors.New(aierrors.KindStorageError, err, "op", "recent_sealed")
	}
	defer rows.Close()
	var out []Episode
	for rows.Next() {
		e, err := scanEpisode(rows)
		if err != nil {
			return nil, aierrors.New(aierrors.KindStorageError, err, "op", "recent_sealed_scan")
		}
		out = append(out, e)
	}
	return out, rows.Err()
}
