// Copyright 2024 gorse Project Authors
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
// http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package engine

import (
	"context"
	"fmt"

	"github.com/juju/errors"
	"github.com/samber/lo"
	"github.com/taletrail/recommender/base/log"
	"github.com/taletrail/recommender/logics"
	"github.com/taletrail/recommender/storage/cache"
	"go.uber.org/zap"
)

const (
	OperationSimilar       = "similar"
	OperationRecommend     = "recommend_for_user"
	OperationTrending      = "trending"
	OperationByGenre       = "by_genre"
	OperationByCountry     = "by_country"
	OperationGenresForUser = "genre_recommendations_for_user"
	OperationExplain       = "explain"
)

// acquire loads the serving generation once for a query. A nil generation means no
// rebuild has succeeded yet.
func (e *Engine) acquire(operation string) *generation {
	QueriesTotalVec.WithLabelValues(operation).Inc()
	g := e.current.Load()
	if g == nil {
		log.Logger().Warn("recommender is not ready", zap.String("operation", operation))
	}
	return g
}

// orEmpty keeps empty results encoded as [] rather than null.
func orEmpty(items []logics.ScoredItem) []logics.ScoredItem {
	if items == nil {
		return []logics.ScoredItem{}
	}
	return items
}

func validateK(k int) error {
	if k < 1 {
		return errors.NotValidf("n = %d", k)
	}
	return nil
}

// cached returns the value stored under key or computes and stores it. Results rejected
// by cacheable are returned without being stored. Cache failures only cost a recomputation.
func cached(ctx context.Context, database cache.Database, operation, key string,
	compute func() ([]logics.ScoredItem, error), cacheable func([]logics.ScoredItem) bool) ([]logics.ScoredItem, error) {
	if items, ok, err := cache.GetJSON[[]logics.ScoredItem](ctx, database, key); err != nil {
		log.Logger().Warn("failed to read cache", zap.String("key", key), zap.Error(err))
	} else if ok {
		CacheHitsTotalVec.WithLabelValues(operation).Inc()
		return items, nil
	}
	items, err := compute()
	if err != nil {
		return nil, errors.Trace(err)
	}
	if cacheable != nil && !cacheable(items) {
		return items, nil
	}
	if err = cache.SetJSON(ctx, database, key, items); err != nil {
		log.Logger().Warn("failed to write cache", zap.String("key", key), zap.Error(err))
	}
	return items, nil
}

// Similar returns the k items most similar to an item.
func (e *Engine) Similar(ctx context.Context, itemId int64, k int) ([]logics.ScoredItem, error) {
	if err := validateK(k); err != nil {
		return nil, err
	}
	g := e.acquire(OperationSimilar)
	if g == nil || g.similar == nil {
		return []logics.ScoredItem{}, nil
	}
	key := fmt.Sprintf("similar/%d/%d/%d", g.version, itemId, k)
	return cached(ctx, e.cache, OperationSimilar, key, func() ([]logics.ScoredItem, error) {
		return orEmpty(g.similar.Similar(itemId, k, nil)), nil
	}, nil)
}

// RecommendForUser blends content-based and collaborative recommendations for a user.
func (e *Engine) RecommendForUser(ctx context.Context, userId int64, k int, contentWeight, collaborativeWeight float64) ([]logics.ScoredItem, error) {
	if err := validateK(k); err != nil {
		return nil, err
	}
	if contentWeight < 0 || collaborativeWeight < 0 {
		return nil, errors.NotValidf("weights (%v, %v)", contentWeight, collaborativeWeight)
	}
	g := e.acquire(OperationRecommend)
	if g == nil {
		return []logics.ScoredItem{}, nil
	}
	key := fmt.Sprintf("recommend/%d/%d/%d/%g/%g", g.version, userId, k, contentWeight, collaborativeWeight)
	return cached(ctx, e.cache, OperationRecommend, key, func() ([]logics.ScoredItem, error) {
		items, err := g.blender.Blend(userId, k, contentWeight, collaborativeWeight)
		return orEmpty(items), err
	}, withoutTrending)
}

// withoutTrending rejects results holding trending items. The trending window moves
// with the clock, so they are only valid at the time of the query.
func withoutTrending(items []logics.ScoredItem) bool {
	return !lo.ContainsBy(items, func(item logics.ScoredItem) bool {
		return item.Type == logics.TypeTrending
	})
}

// Trending returns the most interacted items of the last days.
func (e *Engine) Trending(_ context.Context, k, days int) ([]logics.ScoredItem, error) {
	if err := validateK(k); err != nil {
		return nil, err
	}
	if days < 1 {
		return nil, errors.NotValidf("days = %d", days)
	}
	g := e.acquire(OperationTrending)
	if g == nil {
		return []logics.ScoredItem{}, nil
	}
	return orEmpty(g.rankers.Trending(k, days)), nil
}

func (e *Engine) ByGenre(_ context.Context, genre string, k int) ([]logics.ScoredItem, error) {
	if err := validateK(k); err != nil {
		return nil, err
	}
	g := e.acquire(OperationByGenre)
	if g == nil {
		return []logics.ScoredItem{}, nil
	}
	return orEmpty(g.rankers.ByGenre(genre, k, nil)), nil
}

func (e *Engine) ByCountry(_ context.Context, code string, k int) ([]logics.ScoredItem, error) {
	if err := validateK(k); err != nil {
		return nil, err
	}
	g := e.acquire(OperationByCountry)
	if g == nil {
		return []logics.ScoredItem{}, nil
	}
	return orEmpty(g.rankers.ByCountry(code, k)), nil
}

// GenreRecommendationsForUser ranks unseen items from the favorite genres of a user.
func (e *Engine) GenreRecommendationsForUser(_ context.Context, userId int64, k int) ([]logics.ScoredItem, error) {
	if err := validateK(k); err != nil {
		return nil, err
	}
	g := e.acquire(OperationGenresForUser)
	if g == nil {
		return []logics.ScoredItem{}, nil
	}
	return orEmpty(g.rankers.GenresForUser(userId, k)), nil
}

// Explain compares two items. It returns a NotFound error if either item is unknown.
func (e *Engine) Explain(_ context.Context, a, b int64) (logics.Explanation, error) {
	g := e.acquire(OperationExplain)
	if g == nil {
		return logics.Explanation{}, errors.NotFoundf("item %d", a)
	}
	explanation, err := logics.Explain(g.dataset, a, b)
	if err != nil {
		log.Logger().Warn("failed to explain items", zap.Int64("item_1", a), zap.Int64("item_2", b), zap.Error(err))
		return logics.Explanation{}, err
	}
	return explanation, nil
}
