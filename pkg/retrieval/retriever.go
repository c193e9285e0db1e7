// Package retrieval ranks stored memories against a query using keyword,
// recency and access-pattern signals, with a bounded TTL cache in front.
package retrieval

import (
	"context"
	"log/slog"
	"sort"
	"time"

	"github.com/meggy-ai/bruno-core-sub000/pkg/logger"
	"github.com/meggy-ai/bruno-core-sub000/pkg/storage"
)

// intentCategories maps an intent classification to the memory categories it
// should boost.
var intentCategories = map[string][]string{
	"music_play":    {"music_preference", "preference"},
	"music_pause":   {"music_preference"},
	"music_resume":  {"music_preference"},
	"timer_set":     {"schedule", "habit"},
	"weather_query": {"location", "preference"},
	"general":       {"profile", "preference", "knowledge"},
}

const (
	stmCategoryBoost = 1.2
	ltmCategoryBoost = 1.3

	defaultShortTermTopK     = 5
	defaultShortTermMinScore = 0.3
	defaultLongTermTopK      = 3
	defaultLongTermMinScore  = 0.4

	candidateFetchLimit = 200
)

// ScoredShortTerm pairs a short-term entry with its retrieval score.
type ScoredShortTerm struct {
	*storage.ShortTermMemory
	Score float64
}

// ScoredLongTerm pairs a long-term entry with its retrieval score.
type ScoredLongTerm struct {
	*storage.LongTermMemory
	Score float64
}

// Context is the combined retrieval result for one query.
type Context struct {
	ShortTerm []*ScoredShortTerm
	LongTerm  []*ScoredLongTerm
	Query     string
	Intent    string
}

// Criteria filters short-term entries eligible for promotion.
type Criteria struct {
	MinAccessCount int
	MinRelevance   float64
	MinAge         time.Duration
}

// Config configures a Retriever.
type Config struct {
	Store   *storage.Store
	Cache   *Cache
	Weights Weights
	Logger  *slog.Logger
}

// Retriever scores and ranks memories for queries. Storage read failures
// degrade to empty results rather than propagating.
type Retriever struct {
	store   *storage.Store
	cache   *Cache
	weights Weights
	log     *slog.Logger
}

// New builds a Retriever. A nil Weights zero value falls back to the
// defaults; weights that do not sum to 1.0 are renormalized.
func New(cfg Config) *Retriever {
	log := cfg.Logger
	if log == nil {
		log = logger.Nop()
	}

	w := cfg.Weights
	if w == (Weights{}) {
		w = DefaultWeights()
	}
	w = w.normalized()

	return &Retriever{
		store:   cfg.Store,
		cache:   cfg.Cache,
		weights: w,
		log:     log,
	}
}

func (r *Retriever) scoreShortTerm(m *storage.ShortTermMemory, keywords []string, now time.Time) float64 {
	composite := r.weights.composite(
		keywordScore(m.Fact, keywords),
		recencyScore(m.CreatedAt, now),
		accessScore(m.AccessCount),
	)
	return composite * m.RelevanceScore
}

func (r *Retriever) scoreLongTerm(m *storage.LongTermMemory, keywords []string, now time.Time) float64 {
	composite := r.weights.composite(
		keywordScore(m.Fact, keywords),
		recencyScore(m.FirstLearned, now),
		accessScore(m.AccessCount),
	)
	return composite * m.Importance
}

// RetrieveShortTerm returns the topK short-term entries scoring at or above
// minScore. topK <= 0 and minScore <= 0 take the documented defaults.
func (r *Retriever) RetrieveShortTerm(ctx context.Context, query, intent string, topK int, minScore float64) []*ScoredShortTerm {
	if topK <= 0 {
		topK = defaultShortTermTopK
	}
	if minScore <= 0 {
		minScore = defaultShortTermMinScore
	}

	if r.cache != nil {
		if cached, ok := r.cache.GetShortTerm(query, intent); ok {
			return cached
		}
	}

	keywords := ExtractKeywords(query, 5)
	categories := intentCategories[intent]

	// Fetch a 2x scoring buffer, pre-filtered below the final threshold so
	// the category boost can still lift borderline entries over it.
	category := ""
	if len(categories) > 0 {
		category = categories[0]
	}
	memories, err := r.store.ShortTermMemories(ctx, category, minScore*0.7, topK*2)
	if err != nil {
		r.log.Error("short-term retrieval failed", "error", err)
		return nil
	}

	now := time.Now()
	var scored []*ScoredShortTerm
	for _, m := range memories {
		score := r.scoreShortTerm(m, keywords, now)
		if categoryMatches(m.Category, categories) {
			score *= stmCategoryBoost
		}
		if score >= minScore {
			scored = append(scored, &ScoredShortTerm{ShortTermMemory: m, Score: score})
		}
	}

	sort.SliceStable(scored, func(i, j int) bool { return scored[i].Score > scored[j].Score })
	if len(scored) > topK {
		scored = scored[:topK]
	}

	if len(scored) > 0 {
		ids := make([]int64, len(scored))
		for i, m := range scored {
			ids[i] = m.ID
		}
		if err := r.store.BatchUpdateAccess(ctx, storage.TierShortTerm, ids); err != nil {
			r.log.Warn("access tracking failed", "tier", storage.TierShortTerm, "error", err)
		}
	}

	if r.cache != nil {
		r.cache.SetShortTerm(query, intent, scored)
	}

	r.log.Debug("retrieved short-term memories",
		"returned", len(scored), "fetched", len(memories), "min_score", minScore)
	return scored
}

// RetrieveLongTerm returns the topK long-term entries scoring at or above
// minScore.
func (r *Retriever) RetrieveLongTerm(ctx context.Context, query, intent string, topK int, minScore float64) []*ScoredLongTerm {
	if topK <= 0 {
		topK = defaultLongTermTopK
	}
	if minScore <= 0 {
		minScore = defaultLongTermMinScore
	}

	if r.cache != nil {
		if cached, ok := r.cache.GetLongTerm(query, intent); ok {
			return cached
		}
	}

	keywords := ExtractKeywords(query, 5)
	categories := intentCategories[intent]

	memories, err := r.store.LongTermMemories(ctx, "", 0, topK*2)
	if err != nil {
		r.log.Error("long-term retrieval failed", "error", err)
		return nil
	}

	now := time.Now()
	var scored []*ScoredLongTerm
	for _, m := range memories {
		score := r.scoreLongTerm(m, keywords, now)
		if categoryMatches(m.Category, categories) {
			score *= ltmCategoryBoost
		}
		if score >= minScore {
			scored = append(scored, &ScoredLongTerm{LongTermMemory: m, Score: score})
		}
	}

	sort.SliceStable(scored, func(i, j int) bool { return scored[i].Score > scored[j].Score })
	if len(scored) > topK {
		scored = scored[:topK]
	}

	if len(scored) > 0 {
		ids := make([]int64, len(scored))
		for i, m := range scored {
			ids[i] = m.ID
		}
		if err := r.store.BatchUpdateAccess(ctx, storage.TierLongTerm, ids); err != nil {
			r.log.Warn("access tracking failed", "tier", storage.TierLongTerm, "error", err)
		}
	}

	if r.cache != nil {
		r.cache.SetLongTerm(query, intent, scored)
	}

	r.log.Debug("retrieved long-term memories",
		"returned", len(scored), "fetched", len(memories), "min_score", minScore)
	return scored
}

// RetrieveContext combines short-term and long-term retrieval for a query.
func (r *Retriever) RetrieveContext(ctx context.Context, query, intent string) *Context {
	if r.cache != nil {
		if cached, ok := r.cache.GetContext(query, intent); ok {
			return cached
		}
	}

	result := &Context{
		ShortTerm: r.RetrieveShortTerm(ctx, query, intent, defaultShortTermTopK, defaultShortTermMinScore),
		LongTerm:  r.RetrieveLongTerm(ctx, query, intent, defaultLongTermTopK, defaultLongTermMinScore),
		Query:     query,
		Intent:    intent,
	}

	if r.cache != nil {
		r.cache.SetContext(query, intent, result)
	}
	return result
}

// SuggestPromotionCandidates returns short-term entries meeting all
// promotion criteria, ordered by accessCount x relevance descending.
func (r *Retriever) SuggestPromotionCandidates(ctx context.Context, c Criteria) []*storage.ShortTermMemory {
	memories, err := r.store.ShortTermMemories(ctx, "", 0, candidateFetchLimit)
	if err != nil {
		r.log.Error("candidate scan failed", "error", err)
		return nil
	}

	cutoff := time.Now().Add(-c.MinAge)
	var candidates []*storage.ShortTermMemory
	for _, m := range memories {
		if m.AccessCount < c.MinAccessCount {
			continue
		}
		if m.RelevanceScore < c.MinRelevance {
			continue
		}
		if m.CreatedAt.After(cutoff) {
			continue
		}
		candidates = append(candidates, m)
	}

	sort.SliceStable(candidates, func(i, j int) bool {
		return float64(candidates[i].AccessCount)*candidates[i].RelevanceScore >
			float64(candidates[j].AccessCount)*candidates[j].RelevanceScore
	})

	r.log.Debug("found promotion candidates", "count", len(candidates))
	return candidates
}

func categoryMatches(category string, categories []string) bool {
	for _, c := range categories {
		if category == c {
			return true
		}
	}
	return false
}
