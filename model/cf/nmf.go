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

package cf

import (
	"context"

	"github.com/bits-and-blooms/bitset"
	"github.com/chewxy/math32"
	"github.com/juju/errors"
	"github.com/taletrail/recommender/base/log"
	"github.com/taletrail/recommender/common/floats"
	"github.com/taletrail/recommender/common/heap"
	"github.com/taletrail/recommender/common/parallel"
	"github.com/taletrail/recommender/dataset"
	"github.com/taletrail/recommender/model"
	"go.uber.org/zap"
)

// ErrUntrainable is returned when there is not enough data to fit the model or the
// fitted factors are not finite.
var ErrUntrainable = errors.New("model is untrainable")

var _ model.Model = (*NMF)(nil)

const (
	checkInterval = 10
	epsilon       = 1e-10
)

type FitConfig struct {
	Jobs int
}

func NewFitConfig() *FitConfig {
	return &FitConfig{Jobs: 1}
}

func (config *FitConfig) SetJobs(nJobs int) *FitConfig {
	config.Jobs = nJobs
	return config
}

// Score is a predicted rating of an item.
type Score struct {
	ItemId int64
	Score  float32
}

// NMF factorizes the user-item matrix X ≈ W·Hᵀ with non-negative factors by
// multiplicative updates on the Frobenius loss. Missing ratings are zeros.
//
//	W ← W ∘ (X·H) / (W·HᵀH)
//	H ← H ∘ (Xᵀ·W) / (H·WᵀW)
type NMF struct {
	model.BaseModel
	UserFactor [][]float32 // W, users × k
	ItemFactor [][]float32 // H, items × k
	UserDict   *dataset.FreqDict[int64]
	ItemDict   *dataset.FreqDict[int64]
	rated      []*bitset.BitSet
	nFactors   int
	nEpochs    int
	tol        float32
	minRatings int
}

// NewNMF creates a NMF model. Params:
//
//	NFactors    - number of latent factors, default 50
//	NEpochs     - maximum number of iterations, default 200
//	RandomState - random seed, default 42
//	Tol         - relative tolerance of the stopping condition, default 1e-4
//	MinRatings  - minimum number of ratings to fit, default 1
func NewNMF(params model.Params) *NMF {
	nmf := new(NMF)
	nmf.SetParams(params)
	return nmf
}

func (nmf *NMF) SetParams(params model.Params) {
	params = model.Params{
		model.NFactors:    50,
		model.NEpochs:     200,
		model.RandomState: int64(42),
		model.Tol:         float32(1e-4),
		model.MinRatings:  1,
	}.Overwrite(params)
	nmf.BaseModel.SetParams(params)
	nmf.nFactors = nmf.Params.GetInt(model.NFactors, 50)
	nmf.nEpochs = nmf.Params.GetInt(model.NEpochs, 200)
	nmf.tol = nmf.Params.GetFloat32(model.Tol, 1e-4)
	nmf.minRatings = nmf.Params.GetInt(model.MinRatings, 1)
}

func (nmf *NMF) Clear() {
	nmf.UserFactor = nil
	nmf.ItemFactor = nil
	nmf.UserDict = nil
	nmf.ItemDict = nil
	nmf.rated = nil
}

func (nmf *NMF) Invalid() bool {
	return nmf == nil || nmf.UserFactor == nil || nmf.ItemFactor == nil
}

// Fit learns factors from a rating matrix. The model is cleared on failure.
func (nmf *NMF) Fit(ctx context.Context, m *dataset.UserItemMatrix, config *FitConfig) error {
	nmf.Clear()
	if m.CountRatings() < max(nmf.minRatings, 1) {
		return errors.Annotatef(ErrUntrainable, "%d ratings", m.CountRatings())
	}
	if config == nil {
		config = NewFitConfig()
	}
	log.Logger().Info("fit nmf",
		zap.Int("n_users", m.CountUsers()),
		zap.Int("n_items", m.CountItems()),
		zap.Int("n_ratings", m.CountRatings()),
		zap.Int("n_factors", nmf.nFactors),
		zap.Int("n_epochs", nmf.nEpochs))

	nUsers, nItems, k := m.CountUsers(), m.CountItems(), nmf.nFactors
	avg := math32.Sqrt(float32(m.Mean()) / float32(k))
	rng := nmf.GetRandomGenerator()
	w := rng.HalfNormalMatrix(nUsers, k, avg)
	h := rng.HalfNormalMatrix(nItems, k, avg)

	norm := float32(m.SquaredNorm())
	wtw := newMatrix(k, k)
	hth := newMatrix(k, k)
	numW := newMatrix(nUsers, k)
	numH := newMatrix(nItems, k)
	initError := reconstructionError(m, w, h, norm, wtw, hth)
	prevError := initError
	for epoch := 1; epoch <= nmf.nEpochs; epoch++ {
		if err := ctx.Err(); err != nil {
			return errors.Trace(err)
		}
		// update user factors
		floats.Gram(h, hth)
		parallel.For(nUsers, config.Jobs, func(u int) {
			floats.Zero(numW[u])
			for _, e := range m.UserRatings[u] {
				floats.MulConstAdd(h[e.Index], e.Value, numW[u])
			}
			multiplicativeUpdate(w[u], numW[u], hth)
		})
		// update item factors
		floats.Gram(w, wtw)
		parallel.For(nItems, config.Jobs, func(i int) {
			floats.Zero(numH[i])
			for _, e := range m.ItemRatings[i] {
				floats.MulConstAdd(w[e.Index], e.Value, numH[i])
			}
			multiplicativeUpdate(h[i], numH[i], wtw)
		})
		if nmf.tol > 0 && epoch%checkInterval == 0 {
			currentError := reconstructionError(m, w, h, norm, wtw, hth)
			log.Logger().Debug("fit nmf",
				zap.Int("epoch", epoch),
				zap.Float32("error", currentError))
			if initError > 0 && (prevError-currentError)/initError < nmf.tol {
				break
			}
			prevError = currentError
		}
	}

	for _, factors := range [][][]float32{w, h} {
		for _, row := range factors {
			if !floats.IsFinite(row) {
				return errors.Annotate(ErrUntrainable, "factors are not finite")
			}
		}
	}
	nmf.UserFactor, nmf.ItemFactor = w, h
	nmf.UserDict, nmf.ItemDict = m.UserDict, m.ItemDict
	nmf.rated = make([]*bitset.BitSet, nUsers)
	for u, row := range m.UserRatings {
		nmf.rated[u] = bitset.New(uint(nItems))
		for _, e := range row {
			nmf.rated[u].Set(uint(e.Index))
		}
	}
	return nil
}

// Predict returns the top n unrated items of a user by reconstructed rating, ties
// broken by ascending item id. Unknown users or an unfitted model give nothing.
func (nmf *NMF) Predict(userId int64, n int) []Score {
	if nmf.Invalid() || n < 1 {
		return nil
	}
	u, ok := nmf.UserDict.Lookup(userId)
	if !ok {
		return nil
	}
	filter := heap.NewTopKFilter(n, func(a, b Score) bool {
		if a.Score != b.Score {
			return a.Score > b.Score
		}
		return a.ItemId < b.ItemId
	})
	for i, factor := range nmf.ItemFactor {
		if nmf.rated[u].Test(uint(i)) {
			continue
		}
		itemId, _ := nmf.ItemDict.Key(i)
		filter.Push(Score{ItemId: itemId, Score: floats.Dot(nmf.UserFactor[u], factor)})
	}
	return filter.PopAll()
}

// multiplicativeUpdate sets x ← x ∘ num / (x·gram).
func multiplicativeUpdate(x, num []float32, gram [][]float32) {
	den := make([]float32, len(x))
	for f := range x {
		if x[f] != 0 {
			floats.MulConstAdd(gram[f], x[f], den)
		}
	}
	for f := range x {
		if den[f] <= 0 {
			den[f] = epsilon
		}
		x[f] *= num[f] / den[f]
	}
}

// reconstructionError returns ||X - W·Hᵀ||_F. It overwrites wtw and hth.
func reconstructionError(m *dataset.UserItemMatrix, w, h [][]float32, norm float32, wtw, hth [][]float32) float32 {
	floats.Gram(w, wtw)
	floats.Gram(h, hth)
	var cross, quad float32
	for u, row := range m.UserRatings {
		for _, e := range row {
			cross += e.Value * floats.Dot(w[u], h[e.Index])
		}
	}
	for f := range wtw {
		quad += floats.Dot(wtw[f], hth[f])
	}
	return math32.Sqrt(math32.Max(norm-2*cross+quad, 0))
}

func newMatrix(row, col int) [][]float32 {
	m := make([][]float32, row)
	for i := range m {
		m[i] = make([]float32, col)
	}
	return m
}
