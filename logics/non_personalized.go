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
	"reflect"
	"sort"
	"strings"
	"time"

	mapset "github.com/deckarep/golang-set/v2"
	"github.com/expr-lang/expr"
	"github.com/expr-lang/expr/vm"
	"github.com/juju/errors"
	"github.com/taletrail/recommender/base/log"
	"github.com/taletrail/recommender/dataset"
	"github.com/taletrail/recommender/storage/data"
	"go.uber.org/zap"
)

const topGenres = 5

// NonPersonalized ranks items without a user model: trending, by genre and by country.
type NonPersonalized struct {
	dataset       *dataset.Dataset
	now           func() time.Time
	filterFunc    *vm.Program
	likeThreshold float64
}

// NewNonPersonalized creates rankers over a dataset. The optional filter is an
// expression over item that must evaluate to bool, items evaluating to false are
// never ranked.
func NewNonPersonalized(d *dataset.Dataset, filter string, likeThreshold float64, now func() time.Time) (*NonPersonalized, error) {
	var filterFunc *vm.Program
	if filter != "" {
		var err error
		filterFunc, err = expr.Compile(filter, expr.Env(map[string]any{
			"item": data.Item{},
		}))
		if err != nil {
			return nil, errors.Trace(err)
		}
		if filterFunc.Node().Type().Kind() != reflect.Bool {
			return nil, errors.New("filter function must return bool")
		}
	}
	if now == nil {
		now = time.Now
	}
	return &NonPersonalized{
		dataset:       d,
		now:           now,
		filterFunc:    filterFunc,
		likeThreshold: likeThreshold,
	}, nil
}

func (p *NonPersonalized) accept(item data.Item) bool {
	if p.filterFunc == nil {
		return true
	}
	result, err := expr.Run(p.filterFunc, map[string]any{
		"item": item,
	})
	if err != nil {
		log.Logger().Error("evaluate filter function", zap.Int64("item_id", item.ItemId), zap.Error(err))
		return false
	}
	return result.(bool)
}

// Trending ranks items by the number of ratings and interactions within the last
// days. Ties are broken by the average rating within the window, then by id.
func (p *NonPersonalized) Trending(k, days int) []ScoredItem {
	if k < 1 {
		return nil
	}
	now := p.now()
	since := now.AddDate(0, 0, -days)
	inWindow := func(t time.Time) bool {
		return !t.Before(since) && !t.After(now)
	}
	counts := make([]int, p.dataset.CountItems())
	sums := make([]float64, p.dataset.CountItems())
	ratings := make([]int, p.dataset.CountItems())
	for _, rating := range p.dataset.Ratings() {
		if inWindow(rating.Timestamp) {
			row, _ := p.dataset.ItemRow(rating.ItemId)
			counts[row]++
			sums[row] += rating.Rating
			ratings[row]++
		}
	}
	for _, interaction := range p.dataset.Interactions() {
		if inWindow(interaction.Timestamp) {
			row, _ := p.dataset.ItemRow(interaction.ItemId)
			counts[row]++
		}
	}

	type trending struct {
		row    int
		count  int
		rating float64
	}
	var candidates []trending
	for row, count := range counts {
		if count == 0 || !p.accept(p.dataset.Item(row)) {
			continue
		}
		candidate := trending{row: row, count: count}
		if ratings[row] > 0 {
			candidate.rating = sums[row] / float64(ratings[row])
		}
		candidates = append(candidates, candidate)
	}
	sort.Slice(candidates, func(i, j int) bool {
		if candidates[i].count != candidates[j].count {
			return candidates[i].count > candidates[j].count
		}
		if candidates[i].rating != candidates[j].rating {
			return candidates[i].rating > candidates[j].rating
		}
		return candidates[i].row < candidates[j].row
	})
	results := make([]ScoredItem, 0, min(k, len(candidates)))
	for _, candidate := range candidates {
		if len(results) >= k {
			break
		}
		results = append(results, NewScoredItem(p.dataset.Item(candidate.row), float64(candidate.count), TypeTrending))
	}
	return results
}

// ByGenre ranks items tagged with a genre containing the query, case-insensitively,
// by average rating.
func (p *NonPersonalized) ByGenre(genre string, k int, exclude mapset.Set[int64]) []ScoredItem {
	query := strings.ToLower(strings.TrimSpace(genre))
	return p.rank(k, TypeGenre, func(item data.Item) bool {
		if exclude != nil && exclude.Contains(item.ItemId) {
			return false
		}
		for _, tag := range item.Genres {
			if strings.Contains(strings.ToLower(tag), query) {
				return true
			}
		}
		return false
	}, false)
}

// ByCountry ranks items published in a country by average rating.
func (p *NonPersonalized) ByCountry(code string, k int) []ScoredItem {
	code = normalizeCountryCode(code)
	return p.rank(k, TypeCountry, func(item data.Item) bool {
		return code != "" && normalizeCountryCode(item.CountryCode) == code
	}, false)
}

// GenresForUser ranks items sharing the favorite genres of a user. Favorite genres
// are the most frequent among liked items. Items the user rated or liked are excluded.
// A user without favorite genres gets the top rated items.
func (p *NonPersonalized) GenresForUser(userId int64, k int) []ScoredItem {
	liked := p.dataset.LikedItems(userId, p.likeThreshold)
	seen := p.dataset.SeenItems(userId)
	freq := make(map[string]int)
	for _, itemId := range liked {
		item, _ := p.dataset.GetItem(itemId)
		for _, genre := range item.Genres {
			freq[strings.ToLower(genre)]++
		}
	}
	genres := make([]string, 0, len(freq))
	for genre := range freq {
		genres = append(genres, genre)
	}
	sort.Slice(genres, func(i, j int) bool {
		if freq[genres[i]] != freq[genres[j]] {
			return freq[genres[i]] > freq[genres[j]]
		}
		return genres[i] < genres[j]
	})
	if len(genres) > topGenres {
		genres = genres[:topGenres]
	}
	favorites := mapset.NewThreadUnsafeSet(genres...)
	return p.rank(k, TypeGenre, func(item data.Item) bool {
		if seen.Contains(item.ItemId) {
			return false
		}
		if favorites.Cardinality() == 0 {
			return true
		}
		for _, genre := range item.Genres {
			if favorites.Contains(strings.ToLower(genre)) {
				return true
			}
		}
		return false
	}, true)
}

// rank sorts matching items by average rating descending, optionally by rating
// count descending, then by id ascending.
func (p *NonPersonalized) rank(k int, typ string, match func(data.Item) bool, byCount bool) []ScoredItem {
	if k < 1 {
		return nil
	}
	var items []data.Item
	for _, item := range p.dataset.Items() {
		if match(item) && p.accept(item) {
			items = append(items, item)
		}
	}
	sort.SliceStable(items, func(i, j int) bool {
		ri, rj := averageRating(items[i]), averageRating(items[j])
		if ri != rj {
			return ri > rj
		}
		if byCount && items[i].RatingCount != items[j].RatingCount {
			return items[i].RatingCount > items[j].RatingCount
		}
		return items[i].ItemId < items[j].ItemId
	})
	if len(items) > k {
		items = items[:k]
	}
	results := make([]ScoredItem, len(items))
	for i, item := range items {
		results[i] = NewScoredItem(item, averageRating(item), typ)
	}
	return results
}

func normalizeCountryCode(code string) string {
	return strings.ToUpper(strings.TrimSpace(code))
}
