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

package logics

import (
	"github.com/juju/errors"
	"github.com/taletrail/recommender/dataset"
	"github.com/taletrail/recommender/model/cf"
)

// Blender merges content-based and collaborative recommendations and backfills
// with trending items.
type Blender struct {
	dataset       *dataset.Dataset
	content       *ContentBased
	collaborative *cf.NMF
	trending      *NonPersonalized
	trendingDays  int
}

// NewBlender creates a blender. Either model may be nil and an unfitted collaborative
// model is ignored.
func NewBlender(d *dataset.Dataset, content *ContentBased, collaborative *cf.NMF, trending *NonPersonalized, trendingDays int) *Blender {
	return &Blender{
		dataset:       d,
		content:       content,
		collaborative: collaborative,
		trending:      trending,
		trendingDays:  trendingDays,
	}
}

// Blend returns k items scored by contentWeight·content + collaborativeWeight·collaborative.
// Rated and favorite items are excluded. Users without ratings get trending items.
func (b *Blender) Blend(userId int64, k int, contentWeight, collaborativeWeight float64) ([]ScoredItem, error) {
	if k < 1 {
		return nil, errors.NotValidf("k %d", k)
	}
	if contentWeight < 0 || collaborativeWeight < 0 {
		return nil, errors.NotValidf("weights (%v, %v)", contentWeight, collaborativeWeight)
	}
	if len(b.dataset.UserRatings(userId)) == 0 {
		return b.trending.Trending(k, b.trendingDays), nil
	}
	seen := b.dataset.SeenItems(userId)

	type blended struct {
		item          ScoredItem
		content       bool
		collaborative bool
	}
	candidates := make(map[int64]*blended)
	var contentItems []ScoredItem
	if b.content != nil {
		contentItems = b.content.Recommend(userId, 2*k)
	}
	for _, item := range contentItems {
		if seen.Contains(item.ItemId) {
			continue
		}
		candidates[item.ItemId] = &blended{item: item, content: true}
		candidates[item.ItemId].item.Score = contentWeight * item.Score
	}
	if !b.collaborative.Invalid() {
		for _, score := range b.collaborative.Predict(userId, 2*k) {
			if seen.Contains(score.ItemId) {
				continue
			}
			if c, ok := candidates[score.ItemId]; ok {
				c.item.Score += collaborativeWeight * float64(score.Score)
				c.collaborative = true
				continue
			}
			item, ok := b.dataset.GetItem(score.ItemId)
			if !ok {
				continue
			}
			candidates[score.ItemId] = &blended{
				item:          NewScoredItem(item, collaborativeWeight*float64(score.Score), TypeCollaborative),
				collaborative: true,
			}
		}
	}

	results := make([]ScoredItem, 0, len(candidates))
	for _, c := range candidates {
		switch {
		case c.content && c.collaborative:
			c.item.Type = TypeHybrid
		case c.content:
			c.item.Type = TypeContentBased
		default:
			c.item.Type = TypeCollaborative
		}
		results = append(results, c.item)
	}
	sortByScore(results)
	if len(results) > k {
		results = results[:k]
	}

	// backfill
	if len(results) < k {
		selected := seen.Clone()
		for _, item := range results {
			selected.Add(item.ItemId)
		}
		for _, item := range b.trending.Trending(b.dataset.CountItems(), b.trendingDays) {
			if len(results) >= k {
				break
			}
			if !selected.Contains(item.ItemId) {
				results = append(results, item)
			}
		}
	}
	return results, nil
}
