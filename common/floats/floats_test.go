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

package floats

import (
	"testing"

	"github.com/chewxy/math32"
	"github.com/stretchr/testify/assert"
)

func TestAdd(t *testing.T) {
	grad := []float32{1, 2, 3, 4}
	Add(grad, []float32{5, 6, 7, 8})
	assert.Equal(t, []float32{6, 8, 10, 12}, grad)
	assert.PanicsWithValue(t, "floats: length mismatch 1 != 0", func() { Add([]float32{1}, nil) })
}

func TestMulConst(t *testing.T) {
	a := []float32{1, 2, 3, 4}
	MulConst(a, 2)
	assert.Equal(t, []float32{2, 4, 6, 8}, a)

	dst := make([]float32, 4)
	MulConstTo([]float32{1, 2, 3, 4}, 3, dst)
	assert.Equal(t, []float32{3, 6, 9, 12}, dst)
	assert.Panics(t, func() { MulConstTo([]float32{1}, 2, nil) })

	dst = []float32{1, 1, 1, 1}
	MulConstAddTo([]float32{1, 2, 3, 4}, 2, dst)
	assert.Equal(t, []float32{3, 5, 7, 9}, dst)
	assert.Panics(t, func() { MulConstAddTo([]float32{1}, 2, nil) })
}

func TestReductions(t *testing.T) {
	assert.Equal(t, float32(70), Dot([]float32{1, 2, 3, 4}, []float32{5, 6, 7, 8}))
	assert.Panics(t, func() { Dot([]float32{1}, nil) })
	assert.Equal(t, float32(5), Norm([]float32{3, 4}))
	assert.Equal(t, float32(10), Sum([]float32{1, 2, 3, 4}))
	assert.Zero(t, Sum(nil))
}

func TestIsFinite(t *testing.T) {
	assert.True(t, IsFinite([]float32{1, 2}))
	assert.True(t, IsFinite(nil))
	assert.False(t, IsFinite([]float32{1, math32.NaN()}))
	assert.False(t, IsFinite([]float32{math32.Inf(-1)}))
}
