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
	"sort"

	mapset "github.com/deckarep/golang-set/v2"
	"github.com/juju/errors"
	"github.com/taletrail/recommender/dataset"
)

const (
	StrategyAccumulate = "accumulate"
	StrategyBestMatch  = "best_match"
)

type ContentConfig struct {
	LikeThreshold       float64
	CandidateMultiplier int
	Strategy            string
	GenreBonus          float64
}

func DefaultContentConfig() ContentConfig {
	return ContentConfig{
		LikeThreshold:       4,
		CandidateMultiplier: 3,
		Strategy:            StrategyAccumulate,
		GenreBonus:          0.2,
	}
}

// ContentBased recommends items similar to what a user liked.
type ContentBased struct {
	dataset *dataset.Dataset
	similar *ItemToItem
	config  ContentConfig
}

func NewContentBased(d *dataset.Dataset, similar *ItemToItem, config ContentConfig) (*ContentBased, error) {
	if config.CandidateMultiplier < 2 {
		return nil, errors.NotValidf("candidate multiplier %d", config.CandidateMultiplier)
	}
	if config.Strategy != StrategyAccumulate && config.Strategy != StrategyBestMatch {
		return nil, errors.NotValidf("strategy %q", config.Strategy)
	}
	return &ContentBased{dataset: d, similar: similar, config: config}, nil
}

// Recommend returns k items for a user. Items similar to every liked item are scored
// by the configured strategy, liked items themselves are never recommended.
func (c *ContentBased) Recommend(userId int64, k int) []ScoredItem {
	liked := c.dataset.LikedItems(userId, c.config.LikeThreshold)
	if len(liked) == 0 || k < 1 {
		return nil
	}
	exclude := mapset.NewThreadUnsafeSet(liked...)
	likedGenres := mapset.NewThreadUnsafeSet[string]()
	if c.config.Strategy == StrategyBestMatch {
		for _, itemId := range liked {
			item, _ := c.dataset.GetItem(itemId)
			for _, genre := range item.Genres {
				likedGenres.Add(genre)
			}
		}
	}

	candidates := make(map[int64]ScoredItem)
	for _, itemId := range liked {
		for _, similar := range c.similar.Similar(itemId, k*c.config.CandidateMultiplier, exclude) {
			switch c.config.Strategy {
			case StrategyBestMatch:
				score := similar.Score + c.config.GenreBonus*float64(genreOverlap(similar.Genres, likedGenres))
				if prev, ok := candidates[similar.ItemId]; !ok || score > prev.Score {
					similar.Score = score
					candidates[similar.ItemId] = similar
				}
			default:
				if prev, ok := candidates[similar.ItemId]; ok {
					similar.Score += prev.Score
				}
				candidates[similar.ItemId] = similar
			}
		}
	}

	results := make([]ScoredItem, 0, len(candidates))
	for _, candidate := range candidates {
		candidate.Type = TypeContentBased
		results = append(results, candidate)
	}
	sort.Slice(results, func(i, j int) bool {
		if results[i].Score != results[j].Score {
			return results[i].Score > results[j].Score
		}
		ri, rj := ratingOf(results[i]), ratingOf(results[j])
		if ri != rj {
			return ri > rj
		}
		return results[i].ItemId < results[j].ItemId
	})
	if len(results) > k {
		results = results[:k]
	}
	return results
}

func ratingOf(item ScoredItem) float64 {
	if item.AverageRating == nil {
		return 0
	}
	return *item.AverageRating
}

// genreOverlap counts distinct genres found in set. Tags are compared as the genre
// feature block encodes them: trimmed and case-sensitive.
func genreOverlap(genres []string, set mapset.Set[string]) int {
	var n int
	seen := mapset.NewThreadUnsafeSet[string]()
	for _, genre := range genres {
		if set.Contains(genre) && seen.Add(genre) {
			n++
		}
	}
	return n
}
