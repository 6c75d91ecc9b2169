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
	"sort"

	"github.com/taletrail/recommender/storage/data"
)

// Entry is a non-zero cell of a sparse matrix.
type Entry struct {
	Index int32
	Value float32
}

// UserItemMatrix is a sparse rating matrix. Rows are users and columns are items,
// both in ascending id order. Cells without a rating are zero.
type UserItemMatrix struct {
	UserDict    *FreqDict[int64]
	ItemDict    *FreqDict[int64]
	UserRatings [][]Entry // rows, entries ordered by column
	ItemRatings [][]Entry // columns, entries ordered by row
	sum         float64
	nnz         int
}

// newUserItemMatrix builds the matrix from ratings sorted by user and item.
func newUserItemMatrix(ratings []data.Rating) *UserItemMatrix {
	m := &UserItemMatrix{
		UserDict: NewFreqDict[int64](),
		ItemDict: NewFreqDict[int64](),
	}
	var itemIds []int64
	seen := make(map[int64]struct{})
	for _, rating := range ratings {
		m.UserDict.Id(rating.UserId)
		if _, ok := seen[rating.ItemId]; !ok {
			seen[rating.ItemId] = struct{}{}
			itemIds = append(itemIds, rating.ItemId)
		}
	}
	sort.Slice(itemIds, func(i, j int) bool { return itemIds[i] < itemIds[j] })
	for _, itemId := range itemIds {
		m.ItemDict.NotCount(itemId)
	}
	m.UserRatings = make([][]Entry, m.UserDict.Count())
	m.ItemRatings = make([][]Entry, m.ItemDict.Count())
	for _, rating := range ratings {
		u, _ := m.UserDict.Lookup(rating.UserId)
		i, _ := m.ItemDict.Lookup(rating.ItemId)
		m.ItemDict.Id(rating.ItemId)
		m.UserRatings[u] = append(m.UserRatings[u], Entry{Index: int32(i), Value: float32(rating.Rating)})
		m.ItemRatings[i] = append(m.ItemRatings[i], Entry{Index: int32(u), Value: float32(rating.Rating)})
		m.sum += rating.Rating
		m.nnz++
	}
	return m
}

func (m *UserItemMatrix) CountUsers() int {
	return m.UserDict.Count()
}

func (m *UserItemMatrix) CountItems() int {
	return m.ItemDict.Count()
}

// CountRatings returns the number of non-zero cells.
func (m *UserItemMatrix) CountRatings() int {
	return m.nnz
}

// Mean returns the mean over all cells including zeros.
func (m *UserItemMatrix) Mean() float64 {
	cells := m.CountUsers() * m.CountItems()
	if cells == 0 {
		return 0
	}
	return m.sum / float64(cells)
}

// SquaredNorm returns the squared Frobenius norm.
func (m *UserItemMatrix) SquaredNorm() float64 {
	var norm float64
	for _, row := range m.UserRatings {
		for _, e := range row {
			norm += float64(e.Value) * float64(e.Value)
		}
	}
	return norm
}
