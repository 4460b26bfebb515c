// Copyright 2025 gorse Project Authors
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
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestTopKFilter_Scores(t *testing.T) {
	f := NewTopKFilter[int32, float32](3)
	for i, w := range []float32{0.2, 0.8, 0.1} {
		f.Push(int32(i), w)
	}
	assert.Equal(t, 3, f.Len())
	assert.Equal(t, []int32{1, 0, 2}, f.PopAllValues())
	assert.Zero(t, f.Len())

	for i, w := range []float32{0.2, 0.8, 0.1, 0.2, 0.5, 1.0, 0.7, 0.9} {
		f.Push(int32(i), w)
	}
	assert.Equal(t, []Elem[int32, float32]{
		{Value: 5, Weight: 1.0},
		{Value: 7, Weight: 0.9},
		{Value: 1, Weight: 0.8},
	}, f.PopAll())
}

func TestTopKFilter_ItemIds(t *testing.T) {
	f := NewTopKFilter[string, float64](2)
	f.Push("book", 3)
	f.Push("pen", 1)
	f.Push("lamp", 2)
	assert.Equal(t, []string{"book", "lamp"}, f.PopAllValues())
}

func TestTopKFilter_Ties(t *testing.T) {
	// masked items share the sentinel score
	f := NewTopKFilter[int32, float32](3)
	for i := int32(0); i < 6; i++ {
		f.Push(i, -1e9)
	}
	assert.Equal(t, []int32{0, 1, 2}, f.PopAllValues())

	f.Push(4, 1)
	f.Push(2, 5)
	f.Push(9, 1)
	f.Push(3, 1)
	assert.Equal(t, []int32{2, 4, 9}, f.PopAllValues())
}

func TestTopKFilter_Bounds(t *testing.T) {
	f := NewTopKFilter[int32, float32](10)
	f.Push(1, 1)
	f.Push(2, 3)
	assert.Equal(t, []int32{2, 1}, f.PopAllValues())

	f = NewTopKFilter[int32, float32](0)
	f.Push(1, 1)
	assert.Empty(t, f.PopAll())
}
