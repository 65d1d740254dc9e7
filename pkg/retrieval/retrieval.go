// Package retrieval implements the hybrid retriever: a weighted fusion
// of semantic, keyword (FTS5 bm25), and temporal-recency scores over
// the turn log.
package retrieval

import (
	"context"
	"math"
	"time"

	"github.com/gryagbot/gryag/pkg/aierrors"
	"github.com/gryagbot/gryag/pkg/store"
	"github.com/gryagbot/gryag/pkg/vecenc"
)

// Weights are the convex-combination coefficients for the final score.
// Must sum to 1.0 ± 0.01, validated at startup by pkg/config.
type Weights struct {
	Semantic float64
	Keyword  float64
	Temporal float64
	TauDays  float64
}

// Scored is one ranked candidate.
type Scored struct {
	TurnID    int64
	Score     float64
	CreatedAt int64
}

// candidateK is how many rows each leg (semantic/keyword/recency)
// contributes to the candidate union before re-ranking.
const candidateK = 50

// Retriever runs hybrid retrieval queries against the turn log.
type Retriever struct {
	store   *store.Store
	weights Weights
	now     func() time.Time
}

// New builds a Retriever. weights must already be validated to sum to
// 1.0 (pkg/config.Settings.Validate does this at startup).
func New(st *store.Store, weights Weights, now func() time.Time) *Retriever {
	if now == nil {
		now = time.Now
	}
	return &Retriever{store: st, weights: weights, now: now}
}

// Query returns up to limit (turn_id, score) pairs for chatID, ranked by
// the weighted combination of semantic similarity to queryEmbedding
// (nil/empty tolerated: s_sem=0 for every candidate), BM25-style keyword
// match on queryText, and recency decay. Ties break by recency (more
// recent first). If the keyword or semantic leg's data source fails, that
// leg contributes an empty candidate set; a failure of the recency leg
// fails the query with a storage_error.
func (r *Retriever) Query(ctx context.Context, chatID int64, queryText string, queryEmbedding []float32, limit int) ([]Scored, error) {
	kwRows, err := r.keywordCandidates(ctx, chatID, queryText)
	if err != nil {
		kwRows = nil // tolerate failure per §4.6's per-layer fault isolation
	}
	semRows, err := r.semanticCandidates(ctx, chatID, queryEmbedding)
	if err != nil {
		semRows = nil
	}
	recentRows, err := r.recentCandidates(ctx, chatID)
	if err != nil {
		return nil, aierrors.New(aierrors.KindStorageError, err, "op", "retrieval_recent_candidates")
	}

	union := make(map[int64]*candidate)
	mergeInto(union, kwRows, func(c *candidate, v float64) { c.kw = v })
	mergeInto(union, semRows, func(c *candidate, v float64) { c.sem = v })
	mergeInto(union, recentRows, func(c *candidate, v float64) { c.createdAt = int64(v) })

	nowUnix := r.now().Unix()
	out := make([]Scored, 0, len(union))
	for turnID, c := range union {
		tmp := temporalDecay(nowUnix, c.createdAt, r.weights.TauDays)
		score := r.weights.Semantic*c.sem + r.weights.Keyword*c.kw + r.weights.Temporal*tmp
		out = append(out, Scored{TurnID: turnID, Score: score, CreatedAt: c.createdAt})
	}

	sortByScoreThenRecency(out)
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

type candidate struct {
	kw        float64
	sem       float64
	createdAt int64
}

func mergeInto(union map[int64]*candidate, rows []rowValue, assign func(*candidate, float64)) {
	for _, row := range rows {
		c, ok := union[row.turnID]
		if !ok {
			c = &candidate{}
			union[row.turnID] = c
		}
		assign(c, row.value)
	}
}

type rowValue struct {
	turnID int64
	value  float64
}

// keywordCandidates runs the FTS5 bm25() query and normalises scores to
// [0,1] (bm25 is unbounded negative-is-better; we negate and squash).
func (r *Retriever) keywordCandidates(ctx context.Context, chatID int64, queryText string) ([]rowValue, error) {
	if queryText == "" {
		return nil, nil
	}
	rows, err := r.store.DB.Query(ctx,
		`SELECT t.id, bm25(turns_fts) FROM turns_fts
		 JOIN turns t ON t.id = turns_fts.rowid
		 WHERE turns_fts MATCH $1 AND t.chat_id = $2
		 ORDER BY bm25(turns_fts) LIMIT $3`,
		ftsQuery(queryText), chatID, candidateK,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var raw []rowValue
	for rows.Next() {
		var id int64
		var bm25 float64
		if err := rows.Scan(&id, &bm25); err != nil {
			return nil, err
		}
		raw = append(raw, rowValue{turnID: id, value: bm25})
	}
	return normaliseKeywordScores(raw), rows.Err()
}

// normaliseKeywordScores maps bm25 (more negative = better match) onto
// [0,1] by min-max scaling within the candidate set.
func normaliseKeywordScores(raw []rowValue) []rowValue {
	if len(raw) == 0 {
		return nil
	}
	min, max := raw[0].value, raw[0].value
	for _, r := range raw {
		if r.value < min {
			min = r.value
		}
		if r.value > max {
			max = r.value
		}
	}
	out := make([]rowValue, len(raw))
	spread := max - min
	for i, r := range raw {
		if spread == 0 {
			out[i] = rowValue{turnID: r.turnID, value: 1}
			continue
		}
		// bm25 is negative-is-better in SQLite's convention: invert so higher is better.
		out[i] = rowValue{turnID: r.turnID, value: (max - r.value) / spread}
	}
	return out
}

func (r *Retriever) semanticCandidates(ctx context.Context, chatID int64, queryEmbedding []float32) ([]rowValue, error) {
	if len(queryEmbedding) == 0 {
		return nil, nil
	}
	rows, err := r.store.DB.Query(ctx,
		`SELECT id, embedding FROM turns WHERE chat_id=$1 AND embedding IS NOT NULL ORDER BY created_at DESC LIMIT $2`,
		chatID, candidateK*4,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []rowValue
	for rows.Next() {
		var id int64
		var blob []byte
		if err := rows.Scan(&id, &blob); err != nil {
			return nil, err
		}
		vec, decodeErr := vecenc.Decode(blob)
		if decodeErr != nil {
			continue
		}
		sim := vecenc.CosineSimilarity(queryEmbedding, vec)
		out = append(out, rowValue{turnID: id, value: sim})
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	sortRowValuesDesc(out)
	if len(out) > candidateK {
		out = out[:candidateK]
	}
	return out, nil
}

func (r *Retriever) recentCandidates(ctx context.Context, chatID int64) ([]rowValue, error) {
	rows, err := r.store.DB.Query(ctx,
		`SELECT id, created_at FROM turns WHERE chat_id=$1 ORDER BY created_at DESC LIMIT $2`,
		chatID, candidateK,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []rowValue
	for rows.Next() {
		var id, createdAt int64
		if err := rows.Scan(&id, &createdAt); err != nil {
			return nil, err
		}
		out = append(out, rowValue{turnID: id, value: float64(createdAt)})
	}
	return out, rows.Err()
}

func temporalDecay(nowUnix, createdAt int64, tauDays float64) float64 {
	if tauDays <= 0 {
		tauDays = 3.0
	}
	deltaDays := float64(nowUnix-createdAt) / 86400.0
	if deltaDays < 0 {
		deltaDays = 0
	}
	return math.Exp(-deltaDays / tauDays)
}

func sortByScoreThenRecency(items []Scored) {
	// insertion sort is fine: candidate sets are capped at a few hundred rows.
	for i := 1; i < len(items); i++ {
		j := i
		for j > 0 && less(items[j], items[j-1]) {
			items[j], items[j-1] = items[j-1], items[j]
			j--
		}
	}
}

func less(a, b Scored) bool {
	if a.Score != b.Score {
		return a.Score > b.Score
	}
	return a.CreatedAt > b.CreatedAt
}

func sortRowValuesDesc(items []rowValue) {
	for i := 1; i < len(items); i++ {
		j := i
		for j > 0 && items[j].value > items[j-1].value {
			items[j], items[j-1] = items[j-1], items[j]
			j--
		}
	}
}

// ftsQuery escapes queryText into a conservative FTS5 MATCH expression:
// the whole text is wrapped as one quoted phrase (embedded quotes
// doubled) so punctuation in chat text never breaks the query syntax.
// Being a single phrase, it matches only turns containing the query's
// tokens adjacent and in order.
func ftsQuery(queryText string) string {
	var b []byte
	b = append(b, '"')
	for _, r := range queryText {
		if r == '"' {
			b = append(b, '"', '"')
			continue
		}
		b = append(b, string(r)...)
	}
	b = append(b, '"')
	return string(b)
}
