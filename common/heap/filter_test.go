// Copyright 2022 gorse Project Authors
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

package heap

import (
	"math/rand"
	"sort"
	"testing"

	"github.com/stretchr/testify/assert"
)

type pair struct {
	id    int
	score float64
}

func byScoreThenId(a, b pair) bool {
	if a.score != b.score {
		return a.score > b.score
	}
	return a.id < b.id
}

func TestTopKFilter(t *testing.T) {
	// generate test data
	rng := rand.New(rand.NewSource(0))
	var elems []pair
	for i := 0; i < 100; i++ {
		elems = append(elems, pair{id: i, score: float64(rng.Intn(10))})
	}
	filter := NewTopKFilter(10, byScoreThenId)
	for _, e := range elems {
		filter.Push(e)
	}
	assert.Equal(t, 10, filter.Len())
	// compare with full sort
	sort.Slice(elems, func(i, j int) bool { return byScoreThenId(elems[i], elems[j]) })
	assert.Equal(t, elems[:10], filter.PopAll())
	assert.Equal(t, 0, filter.Len())
}

func TestTopKFilterTies(t *testing.T) {
	filter := NewTopKFilter(3, byScoreThenId)
	for _, id := range []int{5, 4, 3, 2, 1} {
		filter.Push(pair{id: id, score: 1})
	}
	assert.Equal(t, []pair{{1, 1}, {2, 1}, {3, 1}}, filter.PopAll())
}

func TestTopKFilterEmpty(t *testing.T) {
	filter := NewTopKFilter(0, byScoreThenId)
	filter.Push(pair{id: 1, score: 1})
	assert.Empty(t, filter.PopAll())
	filter = NewTopKFilter(5, byScoreThenId)
	filter.Push(pair{id: 1, score: 1})
	assert.Equal(t, []pair{{1, 1}}, filter.PopAll())
}
