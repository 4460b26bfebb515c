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
	"math/rand"

	"github.com/chewxy/math32"
)

// Module is a differentiable function with trainable parameters.
type Module interface {
	Parameters() []*Tensor
	Forward(x *Tensor) *Tensor
}

// Linear computes x·W + b.
type Linear struct {
	W *Tensor
	B *Tensor
}

// NewLinear draws weight and bias from U(-1/sqrt(in), 1/sqrt(in)).
func NewLinear(rng *rand.Rand, in, out int) *Linear {
	bound := 1 / math32.Sqrt(float32(in))
	return &Linear{
		W: Uniform(rng, -bound, bound, in, out),
		B: Uniform(rng, -bound, bound, out),
	}
}

func (l *Linear) Forward(x *Tensor) *Tensor {
	return Add(MatMul(x, l.W, false, false), l.B)
}

func (l *Linear) Parameters() []*Tensor {
	return []*Tensor{l.W, l.B}
}

// MLP is a stack of linear layers, each followed by ReLU.
type MLP struct {
	Layers []*Linear
}

// NewMLP creates len(dims)-1 layers mapping dims[i] to dims[i+1].
func NewMLP(rng *rand.Rand, dims ...int) *MLP {
	m := &MLP{}
	for i := 0; i+1 < len(dims); i++ {
		m.Layers = append(m.Layers, NewLinear(rng, dims[i], dims[i+1]))
	}
	return m
}

func (m *MLP) Parameters() []*Tensor {
	var params []*Tensor
	for _, l := range m.Layers {
		params = append(params, l.Parameters()...)
	}
	return params
}

func (m *MLP) Forward(x *Tensor) *Tensor {
	for _, l := range m.Layers {
		x = ReLu(l.Forward(x))
	}
	return x
}
