// Copyright 2020 gorse Project Authors
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

package base

import (
	"math/rand"

	"github.com/chewxy/math32"
)

// RandomGenerator is a seeded random generator. The same seed always produces
// the same sequence, which keeps model fitting reproducible.
type RandomGenerator struct {
	*rand.Rand
}

// NewRandomGenerator creates a RandomGenerator.
func NewRandomGenerator(seed int64) RandomGenerator {
	return RandomGenerator{rand.New(rand.NewSource(seed))}
}

// HalfNormalMatrix makes a matrix filled with scale * |N(0, 1)|.
func (rng RandomGenerator) HalfNormalMatrix(row, col int, scale float32) [][]float32 {
	ret := make([][]float32, row)
	for i := range ret {
		ret[i] = make([]float32, col)
		for j := range ret[i] {
			ret[i][j] = scale * math32.Abs(float32(rng.NormFloat64()))
		}
	}
	return ret
}
