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

	"github.com/taletrail/recommender/storage/data"
)

const (
	TypeContentBased  = "content_based"
	TypeCollaborative = "collaborative"
	TypeHybrid        = "hybrid"
	TypeTrending      = "trending"
	TypeGenre         = "genre"
	TypeCountry       = "country"
	TypeSimilar       = "similar"
)

// ScoredItem is a recommended item with its score and the attributes shown to users.
type ScoredItem struct {
	ItemId        int64    `json:"item_id"`
	Score         float64  `json:"score"`
	Type          string   `json:"type"`
	Title         string   `json:"title"`
	Author        string   `json:"author"`
	Country       string   `json:"country"`
	CountryCode   string   `json:"country_code"`
	Genres        []string `json:"genres"`
	AverageRating *float64 `json:"average_rating,omitempty"`
}

func NewScoredItem(item data.Item, score float64, typ string) ScoredItem {
	return ScoredItem{
		ItemId:        item.ItemId,
		Score:         score,
		Type:          typ,
		Title:         item.Title,
		Author:        item.Author,
		Country:       item.Country,
		CountryCode:   item.CountryCode,
		Genres:        item.Genres,
		AverageRating: item.AverageRating,
	}
}

func averageRating(item data.Item) float64 {
	if item.AverageRating == nil {
		return 0
	}
	return *item.AverageRating
}

// sortByScore orders items by score descending then id ascending.
func sortByScore(items []ScoredItem) {
	sort.Slice(items, func(i, j int) bool {
		if items[i].Score != items[j].Score {
			return items[i].Score > items[j].Score
		}
		return items[i].ItemId < items[j].ItemId
	})
}
