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

package feature

import (
	"sort"
	"strings"

	"github.com/chewxy/math32"
	"github.com/juju/errors"
	"github.com/samber/lo"
	"github.com/taletrail/recommender/common/floats"
	"github.com/taletrail/recommender/common/parallel"
	"github.com/taletrail/recommender/storage/data"
)

const (
	UnknownBucket = "unknown"
	OtherBucket   = "other"
)

type Config struct {
	GenreWeight     float32 `mapstructure:"genre_weight" validate:"gte=0"`
	TextWeight      float32 `mapstructure:"text_weight" validate:"gte=0"`
	AuthorWeight    float32 `mapstructure:"author_weight" validate:"gte=0"`
	CountryWeight   float32 `mapstructure:"country_weight" validate:"gte=0"`
	RatingWeight    float32 `mapstructure:"rating_weight" validate:"gte=0"`
	MaxTextFeatures int     `mapstructure:"max_text_features" validate:"gte=0"`
	MinDF           int     `mapstructure:"min_df" validate:"gte=1"`
	TopAuthors      int     `mapstructure:"top_authors" validate:"gte=0"`
}

func DefaultConfig() Config {
	return Config{
		GenreWeight:     3.0,
		TextWeight:      1.0,
		AuthorWeight:    0.5,
		CountryWeight:   0.4,
		RatingWeight:    0.3,
		MaxTextFeatures: 300,
		MinDF:           2,
		TopAuthors:      100,
	}
}

func (c Config) validate() error {
	for name, w := range map[string]float32{
		"genre_weight":   c.GenreWeight,
		"text_weight":    c.TextWeight,
		"author_weight":  c.AuthorWeight,
		"country_weight": c.CountryWeight,
		"rating_weight":  c.RatingWeight,
	} {
		if w < 0 {
			return errors.NotValidf("%s %v", name, w)
		}
	}
	return nil
}

// Block is a contiguous range of columns.
type Block struct {
	Offset int
	Width  int
}

func (b Block) slice(v []float32) []float32 {
	return v[b.Offset : b.Offset+b.Width]
}

// Layout records where each block starts in a feature vector.
type Layout struct {
	Genre   Block
	Text    Block
	Author  Block
	Country Block
	Rating  Block
}

// Dim returns the length of a feature vector.
func (l Layout) Dim() int {
	return l.Rating.Offset + l.Rating.Width
}

// vocabulary is a one-hot encoder over sorted values plus a trailing fallback bucket.
type vocabulary struct {
	index map[string]int
	terms []string
}

func newVocabulary(values []string) *vocabulary {
	values = lo.Uniq(values)
	sort.Strings(values)
	v := &vocabulary{index: make(map[string]int, len(values)), terms: values}
	for i, value := range values {
		v.index[value] = i
	}
	return v
}

func (v *vocabulary) width() int {
	return len(v.terms) + 1
}

func (v *vocabulary) lookup(value string) int {
	if i, ok := v.index[value]; ok {
		return i
	}
	return len(v.terms)
}

type minMax struct {
	min, max float32
}

func (m minMax) scale(x float32) float32 {
	if m.max <= m.min {
		return 0
	}
	return math32.Min(1, math32.Max(0, (x-m.min)/(m.max-m.min)))
}

// Encoder turns items into weighted feature vectors. Vocabularies are fixed by Fit,
// values unseen at fit time fall into the unknown or other bucket.
type Encoder struct {
	config       Config
	layout       Layout
	genres       *vocabulary
	text         *TfIdf
	authors      *vocabulary
	countries    *vocabulary
	medianRating float32
	rating       minMax
	count        minMax
}

// Fit learns vocabularies and scalers from items.
func Fit(items []data.Item, config Config) (*Encoder, error) {
	if err := config.validate(); err != nil {
		return nil, errors.Trace(err)
	}
	e := &Encoder{config: config}

	// genres
	var genres []string
	for _, item := range items {
		genres = append(genres, normalizeGenres(item.Genres)...)
	}
	e.genres = newVocabulary(lo.Without(genres, UnknownBucket))

	// text
	documents := lo.Map(items, func(item data.Item, _ int) string {
		return itemText(item)
	})
	e.text = FitTfIdf(documents, config.MaxTextFeatures, config.MinDF)

	// authors
	authorCount := make(map[string]int)
	for _, item := range items {
		if author := strings.TrimSpace(item.Author); author != "" {
			authorCount[author]++
		}
	}
	authors := lo.Keys(authorCount)
	sort.Slice(authors, func(i, j int) bool {
		if authorCount[authors[i]] != authorCount[authors[j]] {
			return authorCount[authors[i]] > authorCount[authors[j]]
		}
		return authors[i] < authors[j]
	})
	if len(authors) > config.TopAuthors {
		authors = authors[:config.TopAuthors]
	}
	e.authors = newVocabulary(authors)

	// countries
	var countries []string
	for _, item := range items {
		if country := strings.TrimSpace(item.Country); country != "" {
			countries = append(countries, country)
		}
	}
	e.countries = newVocabulary(countries)

	// ratings
	var ratings []float32
	for _, item := range items {
		if item.AverageRating != nil {
			ratings = append(ratings, float32(*item.AverageRating))
		}
	}
	e.medianRating = median(ratings)
	e.rating = minMax{min: math32.Inf(1), max: math32.Inf(-1)}
	e.count = minMax{min: math32.Inf(1), max: math32.Inf(-1)}
	for _, item := range items {
		r := e.averageRating(item)
		e.rating.min, e.rating.max = math32.Min(e.rating.min, r), math32.Max(e.rating.max, r)
		c := logCount(item)
		e.count.min, e.count.max = math32.Min(e.count.min, c), math32.Max(e.count.max, c)
	}

	// layout
	e.layout.Genre = Block{Offset: 0, Width: e.genres.width()}
	e.layout.Text = Block{Offset: e.layout.Genre.Offset + e.layout.Genre.Width, Width: e.text.Width()}
	e.layout.Author = Block{Offset: e.layout.Text.Offset + e.layout.Text.Width, Width: e.authors.width()}
	e.layout.Country = Block{Offset: e.layout.Author.Offset + e.layout.Author.Width, Width: e.countries.width()}
	e.layout.Rating = Block{Offset: e.layout.Country.Offset + e.layout.Country.Width, Width: 2}
	return e, nil
}

func (e *Encoder) Layout() Layout {
	return e.layout
}

func (e *Encoder) Dim() int {
	return e.layout.Dim()
}

// Genres returns the genre vocabulary without the unknown bucket.
func (e *Encoder) Genres() []string {
	return e.genres.terms
}

// Authors returns the retained authors without the other bucket.
func (e *Encoder) Authors() []string {
	return e.authors.terms
}

// Countries returns the country vocabulary without the unknown bucket.
func (e *Encoder) Countries() []string {
	return e.countries.terms
}

func (e *Encoder) Terms() []string {
	return e.text.Terms()
}

// Transform encodes a single item.
func (e *Encoder) Transform(item data.Item) []float32 {
	v := make([]float32, e.layout.Dim())

	genres := e.layout.Genre.slice(v)
	itemGenres := normalizeGenres(item.Genres)
	for _, genre := range itemGenres {
		genres[e.genres.lookup(genre)] = e.config.GenreWeight
	}

	e.text.Transform(itemText(item), e.config.TextWeight, e.layout.Text.slice(v))

	e.layout.Author.slice(v)[e.authors.lookup(strings.TrimSpace(item.Author))] = e.config.AuthorWeight
	e.layout.Country.slice(v)[e.countries.lookup(strings.TrimSpace(item.Country))] = e.config.CountryWeight

	rating := e.layout.Rating.slice(v)
	rating[0] = e.rating.scale(e.averageRating(item)) * e.config.RatingWeight
	rating[1] = e.count.scale(logCount(item)) * e.config.RatingWeight
	return v
}

// Build encodes items with the given number of workers.
func (e *Encoder) Build(items []data.Item, jobs int) *Matrix {
	rows := make([][]float32, len(items))
	parallel.For(len(items), jobs, func(i int) {
		rows[i] = e.Transform(items[i])
	})
	return &Matrix{rows: rows, dim: e.layout.Dim()}
}

func (e *Encoder) averageRating(item data.Item) float32 {
	if item.AverageRating == nil {
		return e.medianRating
	}
	return float32(*item.AverageRating)
}

// Matrix holds one feature vector per item row.
type Matrix struct {
	rows [][]float32
	dim  int
}

func (m *Matrix) Rows() int {
	return len(m.rows)
}

func (m *Matrix) Dim() int {
	return m.dim
}

func (m *Matrix) Row(i int) []float32 {
	return m.rows[i]
}

// Normalize returns a copy with L2 normalized rows. All-zero rows stay zero.
func (m *Matrix) Normalize() *Matrix {
	rows := make([][]float32, len(m.rows))
	for i, row := range m.rows {
		rows[i] = make([]float32, len(row))
		if norm := floats.Norm(row); norm > 0 {
			floats.MulConstAdd(row, 1/norm, rows[i])
		}
	}
	return &Matrix{rows: rows, dim: m.dim}
}

// normalizeGenres trims tags, removes empty ones and maps an item without genres to
// the unknown bucket.
func normalizeGenres(genres []string) []string {
	genres = data.SplitGenres(data.JoinGenres(genres))
	if len(genres) == 0 {
		return []string{UnknownBucket}
	}
	return genres
}

func itemText(item data.Item) string {
	return item.Title + " " + item.Description
}

func logCount(item data.Item) float32 {
	return math32.Log1p(float32(max(item.RatingCount, 0)))
}

func median(values []float32) float32 {
	if len(values) == 0 {
		return 0
	}
	sorted := make([]float32, len(values))
	copy(sorted, values)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i] < sorted[j] })
	n := len(sorted)
	if n%2 == 1 {
		return sorted[n/2]
	}
	return (sorted[n/2-1] + sorted[n/2]) / 2
}
