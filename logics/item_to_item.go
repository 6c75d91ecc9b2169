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
	"github.com/chewxy/math32"
	mapset "github.com/deckarep/golang-set/v2"
	"github.com/taletrail/recommender/base/log"
	"github.com/taletrail/recommender/common/floats"
	"github.com/taletrail/recommender/common/heap"
	"github.com/taletrail/recommender/common/parallel"
	"github.com/taletrail/recommender/dataset"
	"github.com/taletrail/recommender/model/feature"
	"go.uber.org/zap"
)

// ItemToItem finds similar items by cosine similarity of feature vectors.
type ItemToItem struct {
	dataset *dataset.Dataset
	vectors *feature.Matrix
	matrix  [][]float32
}

// NewItemToItem normalizes feature vectors and materializes the similarity matrix
// if there are at most maxCachedItems items.
func NewItemToItem(d *dataset.Dataset, features *feature.Matrix, maxCachedItems, jobs int) *ItemToItem {
	m := &ItemToItem{
		dataset: d,
		vectors: features.Normalize(),
	}
	if m.vectors.Rows() <= maxCachedItems {
		m.matrix = make([][]float32, m.vectors.Rows())
		parallel.For(m.vectors.Rows(), jobs, func(i int) {
			m.matrix[i] = m.similarities(i)
		})
	}
	return m
}

// Materialized reports whether the similarity matrix is kept in memory.
func (m *ItemToItem) Materialized() bool {
	return m.matrix != nil
}

// Similarity between the items at row i and j.
func (m *ItemToItem) Similarity(i, j int) float32 {
	if m.matrix != nil {
		return m.matrix[i][j]
	}
	return m.similarity(i, j)
}

func (m *ItemToItem) similarity(i, j int) float32 {
	a := m.vectors.Row(i)
	if i == j {
		if floats.Norm(a) > 0 {
			return 1
		}
		return 0
	}
	return math32.Min(1, math32.Max(0, floats.Dot(a, m.vectors.Row(j))))
}

func (m *ItemToItem) similarities(i int) []float32 {
	row := make([]float32, m.vectors.Rows())
	for j := range row {
		row[j] = m.similarity(i, j)
	}
	return row
}

// Similar returns the k most similar items excluding the item itself and excluded
// items. Ties are broken by row order.
func (m *ItemToItem) Similar(itemId int64, k int, exclude mapset.Set[int64]) []ScoredItem {
	row, ok := m.dataset.ItemRow(itemId)
	if !ok {
		log.Logger().Warn("item not found", zap.Int64("item_id", itemId))
		return nil
	}
	type candidate struct {
		row   int
		score float32
	}
	filter := heap.NewTopKFilter(k, func(a, b candidate) bool {
		if a.score != b.score {
			return a.score > b.score
		}
		return a.row < b.row
	})
	var scores []float32
	if m.matrix != nil {
		scores = m.matrix[row]
	} else {
		scores = m.similarities(row)
	}
	for j, score := range scores {
		if j == row {
			continue
		}
		if exclude != nil && exclude.Contains(m.dataset.Item(j).ItemId) {
			continue
		}
		filter.Push(candidate{row: j, score: score})
	}
	results := make([]ScoredItem, 0, filter.Len())
	for _, c := range filter.PopAll() {
		results = append(results, NewScoredItem(m.dataset.Item(c.row), float64(c.score), TypeSimilar))
	}
	return results
}
