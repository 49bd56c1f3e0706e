// Package recsys ranks live streams for viewers: a collaborative signal from
// co-viewing, a content signal from watch-history facets, and a trending
// fallback that needs no history at all.
package recsys

import (
	"context"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/gshop/live-backend/config"
	"github.com/gshop/live-backend/internal/models"
)

const (
	// minSharedStreams is the co-viewing overlap required to count as a neighbor.
	minSharedStreams = 2
	// topFacets caps how many categories/hosts/affiliates content matching uses.
	topFacets = 3

	contentBaseScore      = 50.0
	contentCategoryBonus  = 30.0
	contentHostBonus      = 20.0
	contentAffiliateBonus = 20.0
	maxScore              = 100.0
)

// HistoryStore reads viewer watch history.
type HistoryStore interface {
	RecentWatchedStreamIDs(ctx context.Context, identity models.Identity, limit int) ([]uuid.UUID, error)
	WatchHistories(ctx context.Context, seed []uuid.UUID, exclude models.Identity) (map[string][]uuid.UUID, error)
}

// CatalogStore reads streams for ranking.
type CatalogStore interface {
	StreamsByIDs(ctx context.Context, ids []uuid.UUID) ([]models.Stream, error)
	ListLive(ctx context.Context) ([]models.Stream, error)
}

// Recommendation is one ranked stream with a human-readable reason.
type Recommendation struct {
	Stream models.Stream `json:"stream"`
	Score  float64       `json:"score"`
	Reason string        `json:"reason"`
}

// Engine computes recommendations. Stateless; every call reads fresh data.
type Engine struct {
	history HistoryStore
	catalog CatalogStore
	cfg     config.RecsysConfig
	logger  *zap.Logger
}

// NewEngine creates a recommendation engine.
func NewEngine(history HistoryStore, catalog CatalogStore, cfg config.RecsysConfig, logger *zap.Logger) *Engine {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.WatchHistoryLimit <= 0 {
		cfg.WatchHistoryLimit = 20
	}
	return &Engine{history: history, catalog: catalog, cfg: cfg, logger: logger}
}

// Collaborative ranks live streams watched by the identity's neighbors:
// viewers sharing at least two of its recently watched streams.
func (e *Engine) Collaborative(ctx context.Context, identity models.Identity, limit int) ([]Recommendation, error) {
	seen, err := e.history.RecentWatchedStreamIDs(ctx, identity, e.cfg.WatchHistoryLimit)
	if err != nil {
		return nil, err
	}
	if len(seen) == 0 {
		return nil, nil
	}
	seenSet := idSet(seen)

	histories, err := e.history.WatchHistories(ctx, seen, identity)
	if err != nil {
		return nil, err
	}

	// watchCount: how many qualifying neighbors watched each unseen stream.
	watchCount := make(map[uuid.UUID]int)
	for _, watched := range histories {
		overlap := 0
		for _, id := range watched {
			if seenSet[id] {
				overlap++
			}
		}
		if overlap < minSharedStreams {
			continue
		}
		for _, id := range watched {
			if !seenSet[id] {
				watchCount[id]++
			}
		}
	}
	if len(watchCount) == 0 {
		return nil, nil
	}

	candidateIDs := make([]uuid.UUID, 0, len(watchCount))
	for id := range watchCount {
		candidateIDs = append(candidateIDs, id)
	}
	candidates, err := e.catalog.StreamsByIDs(ctx, candidateIDs)
	if err != nil {
		return nil, err
	}

	var recs []Recommendation
	for _, st := range candidates {
		if st.Status != models.StatusLive {
			continue
		}
		score := float64(watchCount[st.ID]) * 10
		if score > maxScore {
			score = maxScore
		}
		recs = append(recs, Recommendation{
			Stream: st,
			Score:  score,
			Reason: "viewers with similar taste watched this",
		})
	}
	sortByScore(recs)
	return truncate(recs, limit), nil
}

// ContentBased ranks live streams matching the identity's watch-history
// facets: its most-watched categories, sellers and affiliates.
func (e *Engine) ContentBased(ctx context.Context, identity models.Identity, limit int) ([]Recommendation, error) {
	seen, err := e.history.RecentWatchedStreamIDs(ctx, identity, e.cfg.WatchHistoryLimit)
	if err != nil {
		return nil, err
	}
	if len(seen) == 0 {
		return nil, nil
	}
	seenSet := idSet(seen)

	watched, err := e.catalog.StreamsByIDs(ctx, seen)
	if err != nil {
		return nil, err
	}
	categories, sellers, affiliates := facets(watched)

	live, err := e.catalog.ListLive(ctx)
	if err != nil {
		return nil, err
	}

	var recs []Recommendation
	for _, st := range live {
		if seenSet[st.ID] {
			continue
		}
		score := 0.0
		var reasons []string
		if st.Category != "" && categories[st.Category] {
			score += contentCategoryBonus
			reasons = append(reasons, "more from "+st.Category)
		}
		if st.SellerID != nil && sellers[*st.SellerID] {
			score += contentHostBonus
			reasons = append(reasons, "a seller you watch")
		}
		if st.AffiliateID != nil && affiliates[*st.AffiliateID] {
			score += contentAffiliateBonus
			reasons = append(reasons, "a creator you watch")
		}
		if score == 0 {
			continue
		}
		score += contentBaseScore
		if score > maxScore {
			score = maxScore
		}
		recs = append(recs, Recommendation{Stream: st, Score: score, Reason: strings.Join(reasons, ", ")})
	}
	sortByScore(recs)
	return truncate(recs, limit), nil
}

// ForYou is the blended feed. Anonymous viewers get trending; authenticated
// viewers get the weighted merge of both signals, padded with trending
// streams they have not already been offered.
func (e *Engine) ForYou(ctx context.Context, identity models.Identity, limit int) ([]Recommendation, error) {
	if identity.Anonymous() {
		return e.Trending(ctx, limit)
	}

	collab, err := e.Collaborative(ctx, identity, limit)
	if err != nil {
		return nil, err
	}
	content, err := e.ContentBased(ctx, identity, limit)
	if err != nil {
		return nil, err
	}

	merged := make(map[uuid.UUID]*Recommendation)
	for _, rec := range collab {
		r := rec
		r.Score = rec.Score * e.cfg.CollaborativeWeight
		merged[rec.Stream.ID] = &r
	}
	for _, rec := range content {
		if existing, ok := merged[rec.Stream.ID]; ok {
			existing.Score += rec.Score * e.cfg.ContentWeight
			existing.Reason = existing.Reason + "; " + rec.Reason
			continue
		}
		r := rec
		r.Score = rec.Score * e.cfg.ContentWeight
		merged[rec.Stream.ID] = &r
	}

	recs := make([]Recommendation, 0, len(merged))
	for _, r := range merged {
		recs = append(recs, *r)
	}
	sortByScore(recs)
	recs = truncate(recs, limit)

	if len(recs) < limit {
		trending, err := e.Trending(ctx, limit)
		if err != nil {
			e.logger.Warn("trending fill for feed", zap.Error(err))
			return recs, nil
		}
		present := make(map[uuid.UUID]bool, len(recs))
		for _, r := range recs {
			present[r.Stream.ID] = true
		}
		for _, r := range trending {
			if len(recs) >= limit {
				break
			}
			if !present[r.Stream.ID] {
				recs = append(recs, r)
			}
		}
	}
	return recs, nil
}

// Trending ranks live streams by engagement with linear time decay.
func (e *Engine) Trending(ctx context.Context, limit int) ([]Recommendation, error) {
	live, err := e.catalog.ListLive(ctx)
	if err != nil {
		return nil, err
	}

	now := time.Now()
	recs := make([]Recommendation, 0, len(live))
	for _, st := range live {
		started := st.CreatedAt
		if st.StartedAt != nil {
			started = *st.StartedAt
		}
		hours := now.Sub(started).Hours()
		score := float64(st.ViewerCount) +
			e.cfg.TrendingLikesWeight*float64(st.LikesCount) +
			e.cfg.TrendingSalesWeight*st.TotalSales -
			hours
		recs = append(recs, Recommendation{Stream: st, Score: score, Reason: "trending now"})
	}
	sortByScore(recs)
	return truncate(recs, limit), nil
}

// facets counts watch-history dimensions and keeps the top few of each.
func facets(watched []models.Stream) (map[string]bool, map[uuid.UUID]bool, map[uuid.UUID]bool) {
	catCount := make(map[string]int)
	sellerCount := make(map[uuid.UUID]int)
	affCount := make(map[uuid.UUID]int)
	for _, st := range watched {
		if st.Category != "" {
			catCount[st.Category]++
		}
		if st.SellerID != nil {
			sellerCount[*st.SellerID]++
		}
		if st.AffiliateID != nil {
			affCount[*st.AffiliateID]++
		}
	}
	return topStrings(catCount, topFacets), topIDs(sellerCount, topFacets), topIDs(affCount, topFacets)
}

func topStrings(counts map[string]int, k int) map[string]bool {
	type kv struct {
		key   string
		count int
	}
	pairs := make([]kv, 0, len(counts))
	for key, n := range counts {
		pairs = append(pairs, kv{key, n})
	}
	sort.Slice(pairs, func(i, j int) bool {
		if pairs[i].count != pairs[j].count {
			return pairs[i].count > pairs[j].count
		}
		return pairs[i].key < pairs[j].key
	})
	out := make(map[string]bool)
	for i := 0; i < len(pairs) && i < k; i++ {
		out[pairs[i].key] = true
	}
	return out
}

func topIDs(counts map[uuid.UUID]int, k int) map[uuid.UUID]bool {
	type kv struct {
		key   uuid.UUID
		count int
	}
	pairs := make([]kv, 0, len(counts))
	for key, n := range counts {
		pairs = append(pairs, kv{key, n})
	}
	sort.Slice(pairs, func(i, j int) bool {
		if pairs[i].count != pairs[j].count {
			return pairs[i].count > pairs[j].count
		}
		return pairs[i].key.String() < pairs[j].key.String()
	})
	out := make(map[uuid.UUID]bool)
	for i := 0; i < len(pairs) && i < k; i++ {
		out[pairs[i].key] = true
	}
	return out
}

func idSet(ids []uuid.UUID) map[uuid.UUID]bool {
	set := make(map[uuid.UUID]bool, len(ids))
	for _, id := range ids {
		set[id] = true
	}
	return set
}

func sortByScore(recs []Recommendation) {
	sort.SliceStable(recs, func(i, j int) bool { return recs[i].Score > recs[j].Score })
}

func truncate(recs []Recommendation, limit int) []Recommendation {
	if limit > 0 && len(recs) > limit {
		return recs[:limit]
	}
	return recs
}
