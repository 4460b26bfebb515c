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

package nn

import (
	"fmt"
)

// SparseTensor is a matrix in coordinate format. Its values take part in automatic differentiation.
type SparseTensor struct {
	rows   []int32
	cols   []int32
	values *Tensor
	shape  [2]int
}

func NewSparseTensor(rows, cols []int32, values []float32, n, m int) *SparseTensor {
	if len(rows) != len(cols) || len(rows) != len(values) {
		panic("rows, cols and values must have the same length")
	}
	for k := range rows {
		if int(rows[k]) >= n || int(cols[k]) >= m || rows[k] < 0 || cols[k] < 0 {
			panic(fmt.Sprintf("index (%d, %d) out of range for shape (%d, %d)", rows[k], cols[k], n, m))
		}
	}
	return &SparseTensor{
		rows:   rows,
		cols:   cols,
		values: NewTensor(values, len(values)),
		shape:  [2]int{n, m},
	}
}

func (s *SparseTensor) Shape() []int {
	return s.shape[:]
}

// NNZ returns the number of stored entries.
func (s *SparseTensor) NNZ() int {
	return len(s.rows)
}

// Indices returns the row and column of every stored entry.
func (s *SparseTensor) Indices() (rows, cols []int32) {
	return s.rows, s.cols
}

// Values returns the stored entries. Its gradient is filled by backward passes through SpMM.
func (s *SparseTensor) Values() *Tensor {
	return s.values
}

// Dense converts the matrix to a dense tensor.
func (s *SparseTensor) Dense() *Tensor {
	y := Zeros(s.shape[0], s.shape[1])
	for k, v := range s.values.data {
		y.data[int(s.rows[k])*s.shape[1]+int(s.cols[k])] += v
	}
	return y
}

// SpMM multiplies a sparse matrix by a dense matrix.
func SpMM(a *SparseTensor, x *Tensor) *Tensor {
	if len(x.shape) != 2 || x.shape[0] != a.shape[1] {
		panic(fmt.Sprintf("spmm shape mismatch %v x %v", a.shape, x.shape))
	}
	return apply(&spMM{rows: a.rows, cols: a.cols, n: a.shape[0]}, a.values, x)
}
