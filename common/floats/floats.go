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

package floats

import "github.com/chewxy/math32"

func dot(a, b []float32) (ret float32) {
	for i := range a {
		ret += a[i] * b[i]
	}
	return
}

func mulConstAdd(a []float32, c float32, dst []float32) {
	for i := range a {
		dst[i] += a[i] * c
	}
}

// Zero fills zeros in a slice of 32-bit floats.
func Zero(a []float32) {
	for i := range a {
		a[i] = 0
	}
}

// MatZero fills zeros in a matrix of 32-bit floats.
func MatZero(x [][]float32) {
	for i := range x {
		Zero(x[i])
	}
}

// MulConstAdd multiplies a vector with a const, then adds to dst: dst = dst + a * c
func MulConstAdd(a []float32, c float32, dst []float32) {
	if len(a) != len(dst) {
		panic("floats: slice lengths do not match")
	}
	mulConstAdd(a, c, dst)
}

// Dot two vectors.
func Dot(a, b []float32) float32 {
	if len(a) != len(b) {
		panic("floats: slice lengths do not match")
	}
	return dot(a, b)
}

// Norm returns the euclidean norm of a vector.
func Norm(a []float32) float32 {
	return math32.Sqrt(dot(a, a))
}

// Gram computes xᵀx for a row-major matrix x with n columns and saves the n×n result in dst.
func Gram(x [][]float32, dst [][]float32) {
	MatZero(dst)
	for _, row := range x {
		for f, v := range row {
			if v != 0 {
				mulConstAdd(row, v, dst[f])
			}
		}
	}
}

// IsFinite reports whether no element is NaN or infinite.
func IsFinite(a []float32) bool {
	for _, v := range a {
		if math32.IsNaN(v) || math32.IsInf(v, 0) {
			return false
		}
	}
	return true
}
