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
	"unicode"

	"github.com/chewxy/math32"
	"github.com/samber/lo"
)

// tokenize lower-cases text, splits it on non-alphanumeric runes and returns
// unigrams and bigrams of the tokens left after dropping stop words.
func tokenize(text string) []string {
	words := strings.FieldsFunc(strings.ToLower(text), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})
	words = lo.Filter(words, func(w string, _ int) bool {
		return len([]rune(w)) >= 2 && !stopWords.Contains(w)
	})
	terms := make([]string, 0, 2*len(words))
	terms = append(terms, words...)
	for i := 1; i < len(words); i++ {
		terms = append(terms, words[i-1]+" "+words[i])
	}
	return terms
}

// TfIdf is a TF-IDF vectorizer with smooth idf and L2 normalized rows.
type TfIdf struct {
	vocabulary map[string]int
	terms      []string
	idf        []float32
}

// FitTfIdf learns the vocabulary from documents. Terms appearing in fewer than minDF
// documents are pruned, then at most maxFeatures terms are kept by corpus frequency.
func FitTfIdf(documents []string, maxFeatures, minDF int) *TfIdf {
	df := make(map[string]int)
	tf := make(map[string]int)
	for _, doc := range documents {
		seen := make(map[string]struct{})
		for _, term := range tokenize(doc) {
			tf[term]++
			if _, ok := seen[term]; !ok {
				seen[term] = struct{}{}
				df[term]++
			}
		}
	}
	candidates := lo.Filter(lo.Keys(df), func(term string, _ int) bool {
		return df[term] >= minDF
	})
	sort.Slice(candidates, func(i, j int) bool {
		if tf[candidates[i]] != tf[candidates[j]] {
			return tf[candidates[i]] > tf[candidates[j]]
		}
		return candidates[i] < candidates[j]
	})
	if maxFeatures > 0 && len(candidates) > maxFeatures {
		candidates = candidates[:maxFeatures]
	}
	sort.Strings(candidates)

	t := &TfIdf{
		vocabulary: make(map[string]int, len(candidates)),
		terms:      candidates,
		idf:        make([]float32, len(candidates)),
	}
	n := float32(len(documents))
	for i, term := range candidates {
		t.vocabulary[term] = i
		t.idf[i] = math32.Log((1+n)/(1+float32(df[term]))) + 1
	}
	return t
}

// Terms returns the vocabulary in column order.
func (t *TfIdf) Terms() []string {
	return t.terms
}

func (t *TfIdf) Width() int {
	return len(t.terms)
}

// Transform writes the weighted vector of a document into dst.
func (t *TfIdf) Transform(document string, weight float32, dst []float32) {
	if len(t.terms) == 0 {
		return
	}
	for _, term := range tokenize(document) {
		if i, ok := t.vocabulary[term]; ok {
			dst[i]++
		}
	}
	var norm float32
	for i := range dst {
		dst[i] *= t.idf[i]
		norm += dst[i] * dst[i]
	}
	if norm == 0 {
		return
	}
	norm = math32.Sqrt(norm)
	for i := range dst {
		dst[i] = dst[i] / norm * weight
	}
}
