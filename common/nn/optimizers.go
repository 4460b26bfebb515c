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
	"github.com/chewxy/math32"
)

// Optimizer updates parameters in place from their accumulated gradients.
// Parameters without a gradient are skipped by Step.
type Optimizer interface {
	ZeroGrad()
	Step()
}

type params []*Tensor

func (ps params) ZeroGrad() {
	for _, p := range ps {
		p.ZeroGrad()
	}
}

// SGD is plain stochastic gradient descent.
type SGD struct {
	params
	lr float32
}

func NewSGD(parameters []*Tensor, lr float32) Optimizer {
	return &SGD{params: parameters, lr: lr}
}

func (s *SGD) Step() {
	for _, p := range s.params {
		if p.grad == nil {
			continue
		}
		for i, g := range p.grad.data {
			p.data[i] -= s.lr * g
		}
	}
}

// Adam keeps first and second moment estimates per parameter element.
type Adam struct {
	params
	lr           float32
	beta1, beta2 float32
	eps          float32
	step         int
	first        [][]float32
	second       [][]float32
}

// NewAdam creates an Adam optimizer with betas (0.9, 0.999) and epsilon 1e-8.
func NewAdam(parameters []*Tensor, lr float32) Optimizer {
	a := &Adam{
		params: parameters,
		lr:     lr,
		beta1:  0.9,
		beta2:  0.999,
		eps:    1e-8,
		first:  make([][]float32, len(parameters)),
		second: make([][]float32, len(parameters)),
	}
	for i, p := range parameters {
		a.first[i] = make([]float32, len(p.data))
		a.second[i] = make([]float32, len(p.data))
	}
	return a
}

func (a *Adam) Step() {
	a.step++
	t := float32(a.step)
	// bias corrections folded into the step size
	stepSize := a.lr * math32.Sqrt(1-math32.Pow(a.beta2, t)) / (1 - math32.Pow(a.beta1, t))
	for k, p := range a.params {
		if p.grad == nil {
			continue
		}
		m, v := a.first[k], a.second[k]
		for i, g := range p.grad.data {
			m[i] = a.beta1*m[i] + (1-a.beta1)*g
			v[i] = a.beta2*v[i] + (1-a.beta2)*g*g
			p.data[i] -= stepSize * m[i] / (math32.Sqrt(v[i]) + a.eps)
		}
	}
}
