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
	"testing"

	mapset "github.com/deckarep/golang-set/v2"
	"github.com/juju/errors"
	"github.com/stretchr/testify/assert"
)

func TestContentBased_Accumulate(t *testing.T) {
	d := newTestDataset()
	content, err := NewContentBased(d, newTestItemToItem(t, d, 5000), DefaultContentConfig())
	assert.NoError(t, err)

	items := content.Recommend(10, 2)
	assert.Len(t, items, 2)
	assert.Equal(t, int64(2), items[0].ItemId)
	assert.Equal(t, TypeContentBased, items[0].Type)
	assert.NotContains(t, itemIds(items), int64(1))

	// liked items of user 11 are 1 and 3
	items = content.Recommend(11, 10)
	assert.NotContains(t, itemIds(items), int64(1))
	assert.NotContains(t, itemIds(items), int64(3))
	assert.Equal(t, int64(2), items[0].ItemId)
	for i := 1; i < len(items); i++ {
		assert.GreaterOrEqual(t, items[i-1].Score, items[i].Score)
	}

	// favorites count as liked
	items = content.Recommend(13, 1)
	assert.Len(t, items, 1)
	assert.NotEqual(t, int64(6), items[0].ItemId)

	// nothing liked
	assert.Empty(t, content.Recommend(16, 10))
	assert.Empty(t, content.Recommend(100, 10))
}

func TestContentBased_AccumulateSum(t *testing.T) {
	d := newTestDataset()
	similar := newTestItemToItem(t, d, 5000)
	content, err := NewContentBased(d, similar, DefaultContentConfig())
	assert.NoError(t, err)
	items := content.Recommend(11, 10)
	row1, _ := d.ItemRow(1)
	row2, _ := d.ItemRow(2)
	row3, _ := d.ItemRow(3)
	expected := float64(similar.Similarity(row1, row2)) + float64(similar.Similarity(row3, row2))
	assert.InDelta(t, expected, items[0].Score, 1e-6)
}

func TestContentBased_BestMatch(t *testing.T) {
	d := newTestDataset()
	config := DefaultContentConfig()
	config.Strategy = StrategyBestMatch
	similar := newTestItemToItem(t, d, 5000)
	content, err := NewContentBased(d, similar, config)
	assert.NoError(t, err)
	items := content.Recommend(10, 5)
	assert.Len(t, items, 5)
	row1, _ := d.ItemRow(1)
	row3, _ := d.ItemRow(3)
	for _, item := range items {
		if item.ItemId == 3 {
			assert.InDelta(t, float64(similar.Similarity(row1, row3))+0.2, item.Score, 1e-6)
		}
	}
}

func TestContentBased_BestMatchMax(t *testing.T) {
	d := newTestDataset()
	config := DefaultContentConfig()
	config.Strategy = StrategyBestMatch
	similar := newTestItemToItem(t, d, 5000)
	content, err := NewContentBased(d, similar, config)
	assert.NoError(t, err)

	// liked items of user 11 are 1 (Fantasy) and 3 (Fantasy, Adventure)
	items := content.Recommend(11, 10)
	assert.ElementsMatch(t, []int64{2, 4, 5, 6}, itemIds(items))
	row1, _ := d.ItemRow(1)
	row3, _ := d.ItemRow(3)
	overlaps := map[int64]int{2: 1, 4: 0, 5: 0, 6: 0}
	for _, item := range items {
		row, _ := d.ItemRow(item.ItemId)
		a := float64(similar.Similarity(row1, row))
		b := float64(similar.Similarity(row3, row))
		bonus := 0.2 * float64(overlaps[item.ItemId])
		assert.InDelta(t, max(a+bonus, b+bonus), item.Score, 1e-6, "item %d", item.ItemId)
		if a > 0 && b > 0 {
			assert.Less(t, item.Score, a+b+bonus)
		}
	}
	assert.Equal(t, int64(2), items[0].ItemId)
}

func TestGenreOverlap(t *testing.T) {
	liked := mapset.NewThreadUnsafeSet("Fantasy", "Adventure")
	assert.Equal(t, 2, genreOverlap([]string{"Fantasy", "Adventure", "Fantasy"}, liked))
	assert.Equal(t, 1, genreOverlap([]string{"fantasy", "Adventure"}, liked))
	assert.Zero(t, genreOverlap([]string{"Romance"}, liked))
	assert.Zero(t, genreOverlap(nil, liked))
}

func TestContentBased_InvalidConfig(t *testing.T) {
	d := newTestDataset()
	config := DefaultContentConfig()
	config.CandidateMultiplier = 1
	_, err := NewContentBased(d, nil, config)
	assert.True(t, errors.IsNotValid(err))
	config = DefaultContentConfig()
	config.Strategy = "unknown"
	_, err = NewContentBased(d, nil, config)
	assert.True(t, errors.IsNotValid(err))
}
