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
	"context"
	"testing"

	"github.com/juju/errors"
	"github.com/stretchr/testify/assert"
	"github.com/taletrail/recommender/dataset"
	"github.com/taletrail/recommender/model"
	"github.com/taletrail/recommender/model/cf"
)

func newTestBlender(t *testing.T, d *dataset.Dataset, collaborative *cf.NMF) *Blender {
	content, err := NewContentBased(d, newTestItemToItem(t, d, 5000), DefaultContentConfig())
	assert.NoError(t, err)
	return NewBlender(d, content, collaborative, newTestNonPersonalized(t, ""), 7)
}

func newTestNMF(t *testing.T, d *dataset.Dataset) *cf.NMF {
	nmf := cf.NewNMF(model.Params{model.NFactors: 2, model.NEpochs: 50})
	assert.NoError(t, nmf.Fit(context.Background(), d.Matrix(), nil))
	return nmf
}

func TestBlender_Hybrid(t *testing.T) {
	d := newTestDataset()
	blender := newTestBlender(t, d, newTestNMF(t, d))
	items, err := blender.Blend(10, 2, 0.6, 0.4)
	assert.NoError(t, err)
	assert.ElementsMatch(t, []int64{2, 3}, itemIds(items))
	for _, item := range items {
		assert.Equal(t, TypeHybrid, item.Type)
	}
	assert.GreaterOrEqual(t, items[0].Score, items[1].Score)

	// rated items are never recommended
	items, err = blender.Blend(10, 10, 0.6, 0.4)
	assert.NoError(t, err)
	assert.ElementsMatch(t, []int64{2, 3, 5, 6}, itemIds(items))
}

func TestBlender_Score(t *testing.T) {
	d := newTestDataset()
	content, err := NewContentBased(d, newTestItemToItem(t, d, 5000), DefaultContentConfig())
	assert.NoError(t, err)
	nmf := newTestNMF(t, d)
	blender := NewBlender(d, content, nmf, newTestNonPersonalized(t, ""), 7)

	const k = 2
	contentScores := make(map[int64]float64)
	for _, item := range content.Recommend(10, 2*k) {
		contentScores[item.ItemId] = item.Score
	}
	collaborativeScores := make(map[int64]float64)
	for _, score := range nmf.Predict(10, 2*k) {
		collaborativeScores[score.ItemId] = float64(score.Score)
	}
	items, err := blender.Blend(10, k, 0.6, 0.4)
	assert.NoError(t, err)
	assert.Len(t, items, k)
	for _, item := range items {
		// a missing side counts as zero
		expected := 0.6*contentScores[item.ItemId] + 0.4*collaborativeScores[item.ItemId]
		assert.InDelta(t, expected, item.Score, 1e-6, "item %d", item.ItemId)
		_, inContent := contentScores[item.ItemId]
		_, inCollaborative := collaborativeScores[item.ItemId]
		switch {
		case inContent && inCollaborative:
			assert.Equal(t, TypeHybrid, item.Type)
		case inContent:
			assert.Equal(t, TypeContentBased, item.Type)
		default:
			assert.Equal(t, TypeCollaborative, item.Type)
		}
	}
}

func TestBlender_ContentOnly(t *testing.T) {
	d := newTestDataset()
	blender := newTestBlender(t, d, nil)
	items, err := blender.Blend(10, 2, 1, 0)
	assert.NoError(t, err)
	assert.Len(t, items, 2)
	assert.Equal(t, int64(2), items[0].ItemId)
	assert.Equal(t, TypeContentBased, items[0].Type)

	// weights scale scores
	weighted, err := blender.Blend(10, 2, 0.5, 0)
	assert.NoError(t, err)
	assert.InDelta(t, items[0].Score/2, weighted[0].Score, 1e-9)
}

func TestBlender_Backfill(t *testing.T) {
	d := newTestDataset()
	blender := newTestBlender(t, d, nil)
	// user 16 rated item 2 without liking it
	items, err := blender.Blend(16, 3, 0.6, 0.4)
	assert.NoError(t, err)
	assert.Equal(t, []int64{3, 4, 1}, itemIds(items))
	for _, item := range items {
		assert.Equal(t, TypeTrending, item.Type)
	}
}

func TestBlender_ColdStart(t *testing.T) {
	d := newTestDataset()
	blender := newTestBlender(t, d, newTestNMF(t, d))
	trending := newTestNonPersonalized(t, "").Trending(3, 7)
	// user 13 has favorites but no ratings
	items, err := blender.Blend(13, 3, 0.6, 0.4)
	assert.NoError(t, err)
	assert.Equal(t, trending, items)
	items, err = blender.Blend(100, 3, 0.6, 0.4)
	assert.NoError(t, err)
	assert.Equal(t, trending, items)
}

func TestBlender_Invalid(t *testing.T) {
	d := newTestDataset()
	blender := newTestBlender(t, d, nil)
	_, err := blender.Blend(10, 0, 0.6, 0.4)
	assert.True(t, errors.IsNotValid(err))
	_, err = blender.Blend(10, 10, -1, 0.4)
	assert.True(t, errors.IsNotValid(err))
}
