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

// Package floats holds the float32 vector kernels used by autograd and scoring.
package floats

import (
	"fmt"

	"github.com/chewxy/math32"
)

func checkLen(a, b []float32) {
	if len(a) != len(b) {
		panic(fmt.Sprintf("floats: length mismatch %d != %d", len(a), len(b)))
	}
}

// Add computes dst += s.
func Add(dst, s []float32) {
	checkLen(dst, s)
	for i, v := range s {
		dst[i] += v
	}
}

// MulConst computes dst *= c.
func MulConst(dst []float32, c float32) {
	for i := range dst {
		dst[i] *= c
	}
}

// MulConstTo computes dst = a * c.
func MulConstTo(a []float32, c float32, dst []float32) {
	checkLen(a, dst)
	for i, v := range a {
		dst[i] = v * c
	}
}

// MulConstAddTo computes dst += a * c.
func MulConstAddTo(a []float32, c float32, dst []float32) {
	checkLen(a, dst)
	for i, v := range a {
		dst[i] += v * c
	}
}

func Dot(a, b []float32) float32 {
	checkLen(a, b)
	var sum float32
	for i, v := range a {
		sum += v * b[i]
	}
	return sum
}

// Norm returns the L2 norm.
func Norm(a []float32) float32 {
	return math32.Sqrt(Dot(a, a))
}

func Sum(a []float32) float32 {
	var sum float32
	for _, v := range a {
		sum += v
	}
	return sum
}

// IsFinite reports whether no element is NaN or infinite. Exploding losses show up
// here first.
func IsFinite(a []float32) bool {
	for _, v := range a {
		if math32.IsNaN(v) || math32.IsInf(v, 0) {
			return false
		}
	}
	return true
}
