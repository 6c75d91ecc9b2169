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

package dataset

import (
	"math"
	"sort"
	"time"

	mapset "github.com/deckarep/golang-set/v2"
	"github.com/samber/lo"
	"github.com/taletrail/recommender/base/log"
	"github.com/taletrail/recommender/storage/data"
	"go.uber.org/zap"
)

// Dataset is an immutable snapshot of items, ratings and interactions. Items are
// ordered by id and the position of an item is its row in every derived matrix.
type Dataset struct {
	timestamp    time.Time
	items        []data.Item
	itemDict     *FreqDict[int64]
	ratings      []data.Rating
	interactions []data.Interaction
	userRatings  map[int64]map[int64]float64
	favorites    map[int64]mapset.Set[int64]
	matrix       *UserItemMatrix
}

// NewDataset builds a snapshot. Duplicated items keep the first record, duplicated
// ratings of the same user and item keep the latest one. Ratings that are not positive
// finite numbers are dropped, so are ratings and interactions on unknown items. Interactions whose type is in favoriteTypes mark
// explicit favorites.
func NewDataset(timestamp time.Time, items []data.Item, ratings []data.Rating, interactions []data.Interaction, favoriteTypes []string) *Dataset {
	d := &Dataset{
		timestamp:   timestamp,
		itemDict:    NewFreqDict[int64](),
		userRatings: make(map[int64]map[int64]float64),
		favorites:   make(map[int64]mapset.Set[int64]),
	}

	// items
	sorted := make([]data.Item, len(items))
	copy(sorted, items)
	sort.SliceStable(sorted, func(i, j int) bool {
		return sorted[i].ItemId < sorted[j].ItemId
	})
	for _, item := range sorted {
		if _, exist := d.itemDict.Lookup(item.ItemId); exist {
			log.Logger().Warn("duplicated item", zap.Int64("item_id", item.ItemId))
			continue
		}
		d.itemDict.NotCount(item.ItemId)
		item.Genres = data.SplitGenres(data.JoinGenres(item.Genres))
		d.items = append(d.items, item)
	}

	// ratings
	latest := make(map[lo.Tuple2[int64, int64]]int)
	var unknown, invalid int
	for _, rating := range ratings {
		if _, exist := d.itemDict.Lookup(rating.ItemId); !exist {
			unknown++
			continue
		}
		if math.IsNaN(rating.Rating) || math.IsInf(rating.Rating, 0) || rating.Rating <= 0 {
			invalid++
			continue
		}
		key := lo.Tuple2[int64, int64]{A: rating.UserId, B: rating.ItemId}
		if i, exist := latest[key]; exist {
			if !rating.Timestamp.Before(d.ratings[i].Timestamp) {
				d.ratings[i] = rating
			}
			continue
		}
		latest[key] = len(d.ratings)
		d.ratings = append(d.ratings, rating)
	}
	sort.Slice(d.ratings, func(i, j int) bool {
		if d.ratings[i].UserId != d.ratings[j].UserId {
			return d.ratings[i].UserId < d.ratings[j].UserId
		}
		return d.ratings[i].ItemId < d.ratings[j].ItemId
	})
	for _, rating := range d.ratings {
		if _, exist := d.userRatings[rating.UserId]; !exist {
			d.userRatings[rating.UserId] = make(map[int64]float64)
		}
		d.userRatings[rating.UserId][rating.ItemId] = rating.Rating
	}

	// interactions
	favoriteSet := mapset.NewSet(favoriteTypes...)
	for _, interaction := range interactions {
		if _, exist := d.itemDict.Lookup(interaction.ItemId); !exist {
			unknown++
			continue
		}
		d.interactions = append(d.interactions, interaction)
		if favoriteSet.Contains(interaction.Type) {
			if _, exist := d.favorites[interaction.UserId]; !exist {
				d.favorites[interaction.UserId] = mapset.NewThreadUnsafeSet[int64]()
			}
			d.favorites[interaction.UserId].Add(interaction.ItemId)
		}
	}
	if unknown > 0 {
		log.Logger().Warn("drop feedback on unknown items", zap.Int("count", unknown))
	}
	if invalid > 0 {
		log.Logger().Warn("drop ratings with invalid values", zap.Int("count", invalid))
	}

	d.matrix = newUserItemMatrix(d.ratings)
	return d
}

func (d *Dataset) Timestamp() time.Time {
	return d.timestamp
}

func (d *Dataset) Items() []data.Item {
	return d.items
}

func (d *Dataset) CountItems() int {
	return len(d.items)
}

func (d *Dataset) Ratings() []data.Rating {
	return d.ratings
}

func (d *Dataset) CountRatings() int {
	return len(d.ratings)
}

func (d *Dataset) Interactions() []data.Interaction {
	return d.interactions
}

func (d *Dataset) CountInteractions() int {
	return len(d.interactions)
}

// ItemRow returns the row of an item.
func (d *Dataset) ItemRow(itemId int64) (int, bool) {
	return d.itemDict.Lookup(itemId)
}

// Item returns the item at a row.
func (d *Dataset) Item(row int) data.Item {
	return d.items[row]
}

// GetItem returns an item by id.
func (d *Dataset) GetItem(itemId int64) (data.Item, bool) {
	row, ok := d.itemDict.Lookup(itemId)
	if !ok {
		return data.Item{}, false
	}
	return d.items[row], true
}

// UserRatings returns ratings of a user keyed by item id. The map must not be modified.
func (d *Dataset) UserRatings(userId int64) map[int64]float64 {
	return d.userRatings[userId]
}

// Favorites returns items explicitly favorited by a user.
func (d *Dataset) Favorites(userId int64) mapset.Set[int64] {
	if favorites, ok := d.favorites[userId]; ok {
		return favorites
	}
	return mapset.NewThreadUnsafeSet[int64]()
}

// LikedItems returns items rated at least threshold or favorited by a user in ascending order.
func (d *Dataset) LikedItems(userId int64, threshold float64) []int64 {
	liked := mapset.NewThreadUnsafeSet[int64]()
	for itemId, rating := range d.userRatings[userId] {
		if rating >= threshold {
			liked.Add(itemId)
		}
	}
	liked = liked.Union(d.Favorites(userId))
	items := liked.ToSlice()
	sort.Slice(items, func(i, j int) bool { return items[i] < items[j] })
	return items
}

// SeenItems returns items rated or favorited by a user.
func (d *Dataset) SeenItems(userId int64) mapset.Set[int64] {
	seen := mapset.NewThreadUnsafeSet[int64]()
	for itemId := range d.userRatings[userId] {
		seen.Add(itemId)
	}
	return seen.Union(d.Favorites(userId))
}

// Matrix returns the user-item rating matrix.
func (d *Dataset) Matrix() *UserItemMatrix {
	return d.matrix
}
