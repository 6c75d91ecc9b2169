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
	"math"
	"sort"

	mapset "github.com/deckarep/golang-set/v2"
	"github.com/juju/errors"
	"github.com/taletrail/recommender/dataset"
)

type ItemRef struct {
	ItemId int64  `json:"item_id"`
	Title  string `json:"title"`
}

// Explanation describes what two items have in common.
type Explanation struct {
	Item1        ItemRef  `json:"item1"`
	Item2        ItemRef  `json:"item2"`
	CommonGenres []string `json:"common_genres"`
	SameAuthor   bool     `json:"same_author"`
	SameCountry  bool     `json:"same_country"`
	RatingDiff   float64  `json:"rating_diff"`
}

func Explain(d *dataset.Dataset, a, b int64) (Explanation, error) {
	item1, ok := d.GetItem(a)
	if !ok {
		return Explanation{}, errors.NotFoundf("item %d", a)
	}
	item2, ok := d.GetItem(b)
	if !ok {
		return Explanation{}, errors.NotFoundf("item %d", b)
	}
	common := mapset.NewThreadUnsafeSet(item1.Genres...).Intersect(mapset.NewThreadUnsafeSet(item2.Genres...)).ToSlice()
	sort.Strings(common)
	return Explanation{
		Item1:        ItemRef{ItemId: item1.ItemId, Title: item1.Title},
		Item2:        ItemRef{ItemId: item2.ItemId, Title: item2.Title},
		CommonGenres: common,
		SameAuthor:   item1.Author == item2.Author,
		SameCountry:  item1.Country == item2.Country,
		RatingDiff:   math.Abs(averageRating(item1) - averageRating(item2)),
	}, nil
}
