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
	"math/rand"
	"slices"
	"strings"

	"github.com/chewxy/math32"
)

// Tensor is a dense row-major float32 array that records the operation producing it.
type Tensor struct {
	data  []float32
	shape []int
	grad  *Tensor
	op    op
}

func NewTensor(data []float32, shape ...int) *Tensor {
	if numElements(shape) != len(data) {
		panic(fmt.Sprintf("data of length %d does not fit shape %v", len(data), shape))
	}
	return &Tensor{
		data:  data,
		shape: shape,
	}
}

func NewScalar(data float32) *Tensor {
	return &Tensor{
		data:  []float32{data},
		shape: []int{},
	}
}

// Ones creates a tensor filled with ones.
func Ones(shape ...int) *Tensor {
	data := make([]float32, numElements(shape))
	for i := range data {
		data[i] = 1
	}
	return &Tensor{
		data:  data,
		shape: shape,
	}
}

// Zeros creates a tensor filled with zeros.
func Zeros(shape ...int) *Tensor {
	return &Tensor{
		data:  make([]float32, numElements(shape)),
		shape: shape,
	}
}

// Uniform creates a tensor filled with values drawn from U(low, high).
func Uniform(rng *rand.Rand, low, high float32, shape ...int) *Tensor {
	data := make([]float32, numElements(shape))
	for i := range data {
		data[i] = low + (high-low)*rng.Float32()
	}
	return &Tensor{
		data:  data,
		shape: shape,
	}
}

// XavierUniform creates a (rows, cols) matrix initialized by Glorot uniform initialization.
func XavierUniform(rng *rand.Rand, rows, cols int) *Tensor {
	a := math32.Sqrt(6 / float32(rows+cols))
	return Uniform(rng, -a, a, rows, cols)
}

func numElements(shape []int) int {
	n := 1
	for _, s := range shape {
		n *= s
	}
	return n
}

func (t *Tensor) Shape() []int {
	return t.shape
}

// Data returns the underlying buffer. Writes are visible to the tensor.
func (t *Tensor) Data() []float32 {
	return t.data
}

// Row returns the i-th row of a matrix as a view.
func (t *Tensor) Row(i int) []float32 {
	n := t.shape[len(t.shape)-1]
	return t.data[i*n : (i+1)*n]
}

func (t *Tensor) Grad() *Tensor {
	return t.grad
}

// ZeroGrad drops the accumulated gradient.
func (t *Tensor) ZeroGrad() {
	t.grad = nil
}

// Detach returns a copy of the tensor that is cut off from the computation graph.
func (t *Tensor) Detach() *Tensor {
	return t.clone()
}

// NoGrad cuts the tensor off from the computation graph in place.
func (t *Tensor) NoGrad() *Tensor {
	t.op = nil
	return t
}

func (t *Tensor) String() string {
	// Print scalar value
	if len(t.shape) == 0 {
		return fmt.Sprint(t.data[0])
	}

	builder := strings.Builder{}
	builder.WriteString("[")
	if len(t.data) <= 10 {
		for i := 0; i < len(t.data); i++ {
			builder.WriteString(fmt.Sprint(t.data[i]))
			if i != len(t.data)-1 {
				builder.WriteString(", ")
			}
		}
	} else {
		for i := 0; i < 5; i++ {
			builder.WriteString(fmt.Sprint(t.data[i]))
			builder.WriteString(", ")
		}
		builder.WriteString("..., ")
		for i := len(t.data) - 5; i < len(t.data); i++ {
			builder.WriteString(fmt.Sprint(t.data[i]))
			if i != len(t.data)-1 {
				builder.WriteString(", ")
			}
		}
	}
	builder.WriteString("]")
	return builder.String()
}

// Backward computes gradients of the tensor with respect to every tensor it depends on.
// Gradients accumulate until they are cleared.
func (t *Tensor) Backward() {
	// sort tensors topologically, outputs first
	var (
		order   []*Tensor
		visited = make(map[*Tensor]struct{})
	)
	var visit func(*Tensor)
	visit = func(x *Tensor) {
		if _, ok := visited[x]; ok {
			return
		}
		visited[x] = struct{}{}
		if x.op != nil {
			inputs, _ := x.op.inputsAndOutput()
			for _, input := range inputs {
				visit(input)
			}
		}
		order = append(order, x)
	}
	visit(t)
	slices.Reverse(order)

	// intermediate gradients are recomputed on every pass
	for _, x := range order {
		if x.op != nil {
			x.grad = nil
		}
	}
	t.grad = Ones(t.shape...)
	for _, x := range order {
		if x.op == nil || x.grad == nil {
			continue
		}
		inputs, _ := x.op.inputsAndOutput()
		grads := x.op.backward(x.grad)
		for i, g := range grads {
			if g == nil {
				continue
			}
			if inputs[i].grad == nil {
				inputs[i].grad = g
			} else {
				inputs[i].grad.add(g)
			}
		}
	}
}

func (t *Tensor) clone() *Tensor {
	newData := make([]float32, len(t.data))
	copy(newData, t.data)
	return &Tensor{
		data:  newData,
		shape: slices.Clone(t.shape),
	}
}

func (t *Tensor) add(other *Tensor) *Tensor {
	wSize := len(other.data)
	for i := range t.data {
		t.data[i] += other.data[i%wSize]
	}
	return t
}

func (t *Tensor) sub(other *Tensor) *Tensor {
	wSize := len(other.data)
	for i := range t.data {
		t.data[i] -= other.data[i%wSize]
	}
	return t
}

func (t *Tensor) mul(other *Tensor) *Tensor {
	wSize := len(other.data)
	for i := range t.data {
		t.data[i] *= other.data[i%wSize]
	}
	return t
}

func (t *Tensor) div(other *Tensor) *Tensor {
	wSize := len(other.data)
	for i := range t.data {
		t.data[i] /= other.data[i%wSize]
	}
	return t
}

func (t *Tensor) matMul(other *Tensor, transpose1, transpose2 bool) *Tensor {
	if len(t.shape) != 2 || len(other.shape) != 2 {
		panic("matMul requires two matrices")
	}
	m, k := t.shape[0], t.shape[1]
	if transpose1 {
		m, k = k, m
	}
	k2, n := other.shape[0], other.shape[1]
	if transpose2 {
		k2, n = n, k2
	}
	if k != k2 {
		panic(fmt.Sprintf("matMul shape mismatch %v x %v", t.shape, other.shape))
	}
	at := func(i, j int) float32 {
		if transpose1 {
			return t.data[j*t.shape[1]+i]
		}
		return t.data[i*t.shape[1]+j]
	}
	bt := func(i, j int) float32 {
		if transpose2 {
			return other.data[j*other.shape[1]+i]
		}
		return other.data[i*other.shape[1]+j]
	}
	y := Zeros(m, n)
	for i := 0; i < m; i++ {
		for l := 0; l < k; l++ {
			a := at(i, l)
			if a == 0 {
				continue
			}
			row := y.data[i*n : (i+1)*n]
			for j := range row {
				row[j] += a * bt(l, j)
			}
		}
	}
	return y
}
