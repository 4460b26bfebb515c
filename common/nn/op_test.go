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
	"testing"

	"github.com/chewxy/math32"
	"github.com/stretchr/testify/assert"
)

const (
	eps  = 1e-3
	rtol = 1e-2
	atol = 5e-3
)

func numericalDiff(f func(*Tensor) *Tensor, x *Tensor) *Tensor {
	x0, x1 := x.clone(), x.clone()
	dx := make([]float32, len(x.data))
	for i, v := range x.data {
		x0.data[i] = v - eps
		x1.data[i] = v + eps
		y0 := f(x0)
		y1 := f(x1)
		for j := range y0.data {
			dx[i] += (y1.data[j] - y0.data[j]) / (2 * eps)
		}
		x0.data[i] = v
		x1.data[i] = v
	}
	return NewTensor(dx, x.shape...)
}

func allClose(t *testing.T, a, b *Tensor) {
	if !assert.Equal(t, a.shape, b.shape) {
		return
	}
	for i := range a.data {
		if math32.Abs(a.data[i]-b.data[i]) > atol+rtol*math32.Abs(b.data[i]) {
			t.Fatalf("a.data[%d] = %f, b.data[%d] = %f\n", i, a.data[i], i, b.data[i])
			return
		}
	}
}

func randTensor(seed int64, shape ...int) *Tensor {
	return Uniform(rand.New(rand.NewSource(seed)), -1, 1, shape...)
}

// checkGrad compares the gradient from backpropagation with the numerical gradient.
func checkGrad(t *testing.T, f func(*Tensor) *Tensor, x *Tensor) {
	x.grad = nil
	f(x).Backward()
	allClose(t, x.grad, numericalDiff(f, x))
}

func TestAdd(t *testing.T) {
	// (2,3) + (2,3) -> (2,3)
	x := NewTensor([]float32{1, 2, 3, 4, 5, 6}, 2, 3)
	y := NewTensor([]float32{2, 3, 4, 5, 6, 7}, 2, 3)
	z := Add(x, y)
	assert.Equal(t, []float32{3, 5, 7, 9, 11, 13}, z.data)

	// (2,3) + (3) -> (2,3)
	y = NewTensor([]float32{2, 3, 4}, 3)
	z = Add(x, y)
	assert.Equal(t, []float32{3, 5, 7, 6, 8, 10}, z.data)

	// () + (2,3) -> (2,3)
	z = Add(NewScalar(1), x)
	assert.Equal(t, []float32{2, 3, 4, 5, 6, 7}, z.data)

	// Test gradient
	x = randTensor(0, 2, 3)
	y = randTensor(1, 3)
	checkGrad(t, func(x *Tensor) *Tensor { return Add(x, y) }, x)
	checkGrad(t, func(y *Tensor) *Tensor { return Add(x, y) }, y)

	assert.Panics(t, func() { Add(Zeros(2, 3), Zeros(2)) })
}

func TestSub(t *testing.T) {
	x := NewTensor([]float32{1, 2, 3, 4, 5, 6}, 2, 3)
	y := NewTensor([]float32{2, 3, 4}, 3)
	z := Sub(x, y)
	assert.Equal(t, []float32{-1, -1, -1, 2, 2, 2}, z.data)

	x = randTensor(0, 2, 3)
	y = randTensor(1, 3)
	checkGrad(t, func(x *Tensor) *Tensor { return Sub(x, y) }, x)
	checkGrad(t, func(y *Tensor) *Tensor { return Sub(x, y) }, y)

	assert.Panics(t, func() { Sub(Zeros(3), Zeros(2, 3)) })
}

func TestMul(t *testing.T) {
	x := NewTensor([]float32{1, 2, 3, 4, 5, 6}, 2, 3)
	y := NewTensor([]float32{2, 3, 4}, 3)
	z := Mul(x, y)
	assert.Equal(t, []float32{2, 6, 12, 8, 15, 24}, z.data)

	x = randTensor(0, 2, 3)
	y = randTensor(1, 3)
	checkGrad(t, func(x *Tensor) *Tensor { return Mul(x, y) }, x)
	checkGrad(t, func(y *Tensor) *Tensor { return Mul(x, y) }, y)
}

func TestDiv(t *testing.T) {
	x := NewTensor([]float32{2, 4, 6, 8}, 2, 2)
	y := NewTensor([]float32{2, 4}, 2)
	z := Div(x, y)
	assert.Equal(t, []float32{1, 1, 3, 2}, z.data)

	x = randTensor(0, 2, 3)
	y = Uniform(rand.New(rand.NewSource(1)), 1, 2, 3)
	checkGrad(t, func(x *Tensor) *Tensor { return Div(x, y) }, x)
	checkGrad(t, func(y *Tensor) *Tensor { return Div(x, y) }, y)
}

func TestElementwise(t *testing.T) {
	x := randTensor(0, 2, 3)
	checkGrad(t, Neg, x)
	checkGrad(t, Square, x)
	checkGrad(t, Exp, x)
	checkGrad(t, Sigmoid, x)
	checkGrad(t, ReLu, x)

	positive := Uniform(rand.New(rand.NewSource(1)), 0.5, 1.5, 2, 3)
	checkGrad(t, Log, positive)
	checkGrad(t, Sqrt, positive)

	assert.Equal(t, []float32{0, 0, 2}, ReLu(NewTensor([]float32{-1, 0, 2}, 3)).data)
	assert.InDelta(t, 0.5, Sigmoid(NewScalar(0)).data[0], 1e-6)
	assert.InDelta(t, 0, Sigmoid(NewScalar(-100)).data[0], 1e-6)
}

func TestSum(t *testing.T) {
	x := NewTensor([]float32{1, 2, 3, 4, 5, 6}, 2, 3)
	assert.Equal(t, []float32{21}, Sum(x).data)
	assert.Equal(t, []float32{5, 7, 9}, Sum(x, 0).data)
	assert.Equal(t, []int{3}, Sum(x, 0).shape)
	assert.Equal(t, []float32{6, 15}, Sum(x, 1).data)
	assert.Equal(t, []int{2}, Sum(x, 1).shape)

	x = randTensor(0, 2, 3)
	checkGrad(t, func(x *Tensor) *Tensor { return Sum(x) }, x)
	checkGrad(t, func(x *Tensor) *Tensor { return Mul(Sum(x, 0), NewTensor([]float32{1, 2, 3}, 3)) }, x)
	checkGrad(t, func(x *Tensor) *Tensor { return Mul(Sum(x, 1), NewTensor([]float32{1, 2}, 2)) }, x)
}

func TestMean(t *testing.T) {
	x := NewTensor([]float32{1, 2, 3, 4, 5, 6}, 2, 3)
	assert.Equal(t, []float32{3.5}, Mean(x).data)
	checkGrad(t, Mean, randTensor(0, 2, 3))
}

func TestMatMul(t *testing.T) {
	x := NewTensor([]float32{1, 2, 3, 4, 5, 6}, 2, 3)
	y := NewTensor([]float32{1, 2, 3, 4, 5, 6}, 3, 2)
	z := MatMul(x, y, false, false)
	assert.Equal(t, []int{2, 2}, z.shape)
	assert.Equal(t, []float32{22, 28, 49, 64}, z.data)
	z = MatMul(x, x, false, true)
	assert.Equal(t, []float32{14, 32, 32, 77}, z.data)
	z = MatMul(x, x, true, false)
	assert.Equal(t, []int{3, 3}, z.shape)
	assert.Equal(t, []float32{17, 22, 27, 22, 29, 36, 27, 36, 45}, z.data)

	for _, transpose := range [][2]bool{{false, false}, {false, true}, {true, false}, {true, true}} {
		a := randTensor(0, 2, 3)
		if transpose[0] {
			a = randTensor(0, 3, 2)
		}
		b := randTensor(1, 3, 4)
		if transpose[1] {
			b = randTensor(1, 4, 3)
		}
		checkGrad(t, func(a *Tensor) *Tensor { return MatMul(a, b, transpose[0], transpose[1]) }, a)
		checkGrad(t, func(b *Tensor) *Tensor { return MatMul(a, b, transpose[0], transpose[1]) }, b)
	}

	assert.Panics(t, func() { MatMul(Zeros(2, 3), Zeros(2, 3), false, false) })
}

func TestConcat(t *testing.T) {
	x := NewTensor([]float32{1, 2, 3, 4}, 2, 2)
	y := NewTensor([]float32{5, 6}, 2, 1)
	z := Concat(1, x, y)
	assert.Equal(t, []int{2, 3}, z.shape)
	assert.Equal(t, []float32{1, 2, 5, 3, 4, 6}, z.data)
	z = Concat(0, x, NewTensor([]float32{7, 8}, 1, 2))
	assert.Equal(t, []int{3, 2}, z.shape)
	assert.Equal(t, []float32{1, 2, 3, 4, 7, 8}, z.data)

	a, b := randTensor(0, 2, 3), randTensor(1, 2, 2)
	weight := randTensor(2, 2, 5)
	checkGrad(t, func(a *Tensor) *Tensor { return Mul(Concat(1, a, b), weight) }, a)
	checkGrad(t, func(b *Tensor) *Tensor { return Mul(Concat(1, a, b), weight) }, b)
	c := randTensor(3, 1, 3)
	weight = randTensor(4, 3, 3)
	checkGrad(t, func(c *Tensor) *Tensor { return Mul(Concat(0, a, c), weight) }, c)

	assert.Panics(t, func() { Concat(1, Zeros(2, 2), Zeros(3, 2)) })
	assert.Panics(t, func() { Concat(0, Zeros(2, 2), Zeros(2, 3)) })
}

func TestSlice(t *testing.T) {
	x := NewTensor([]float32{1, 2, 3, 4, 5, 6}, 3, 2)
	y := Slice(x, 1, 3)
	assert.Equal(t, []int{2, 2}, y.shape)
	assert.Equal(t, []float32{3, 4, 5, 6}, y.data)

	weight := randTensor(1, 2, 2)
	checkGrad(t, func(x *Tensor) *Tensor { return Mul(Slice(x, 1, 3), weight) }, randTensor(0, 3, 2))
	assert.Panics(t, func() { Slice(x, 2, 4) })
}

func TestGather(t *testing.T) {
	x := NewTensor([]float32{1, 2, 3, 4, 5, 6}, 3, 2)
	y := Gather(x, []int32{2, 0, 2})
	assert.Equal(t, []int{3, 2}, y.shape)
	assert.Equal(t, []float32{5, 6, 1, 2, 5, 6}, y.data)

	// repeated rows accumulate gradients
	y.Backward()
	assert.Equal(t, []float32{1, 1, 0, 0, 2, 2}, x.grad.data)

	weight := randTensor(1, 3, 2)
	checkGrad(t, func(x *Tensor) *Tensor { return Mul(Gather(x, []int32{2, 0, 2}), weight) }, randTensor(0, 3, 2))
}

func TestNormalize(t *testing.T) {
	x := NewTensor([]float32{3, 4, 0, 0}, 2, 2)
	y := Normalize(x)
	assert.InDeltaSlice(t, []float32{0.6, 0.8, 0, 0}, y.data, 1e-6)

	weight := randTensor(1, 2, 3)
	checkGrad(t, func(x *Tensor) *Tensor { return Mul(Normalize(x), weight) }, randTensor(0, 2, 3))
}

func TestNorm(t *testing.T) {
	x := NewTensor([]float32{1, 2, 2, 4}, 2, 2)
	assert.InDelta(t, float32(5), Norm(x).data[0], 1e-6)
	checkGrad(t, Norm, randTensor(0, 2, 3))
}

func TestSpMM(t *testing.T) {
	a := NewSparseTensor([]int32{0, 1, 2}, []int32{1, 0, 2}, []float32{2, 3, 4}, 3, 3)
	assert.Equal(t, 3, a.NNZ())
	assert.Equal(t, []int{3, 3}, a.Shape())
	assert.Equal(t, []float32{0, 2, 0, 3, 0, 0, 0, 0, 4}, a.Dense().data)

	x := NewTensor([]float32{1, 2, 3, 4, 5, 6}, 3, 2)
	y := SpMM(a, x)
	assert.Equal(t, []float32{6, 8, 3, 6, 20, 24}, y.data)
	dense := MatMul(a.Dense(), x, false, false)
	assert.Equal(t, dense.data, y.data)

	// gradient with respect to the dense input
	weight := randTensor(1, 3, 2)
	checkGrad(t, func(x *Tensor) *Tensor { return Mul(SpMM(a, x), weight) }, randTensor(0, 3, 2))

	// gradient with respect to the sparse values
	x = randTensor(2, 3, 2)
	rows, cols := a.Indices()
	withValues := func(v *Tensor) *Tensor {
		s := &SparseTensor{rows: rows, cols: cols, values: v, shape: a.shape}
		return Mul(SpMM(s, x), weight)
	}
	checkGrad(t, withValues, a.Values())

	assert.Panics(t, func() { SpMM(a, Zeros(2, 2)) })
	assert.Panics(t, func() { NewSparseTensor([]int32{3}, []int32{0}, []float32{1}, 3, 3) })
}

func TestBackwardAccumulate(t *testing.T) {
	// y = x * x + x uses x along two paths
	x := NewTensor([]float32{1, 2, 3}, 3)
	y := Sum(Add(Mul(x, x), x))
	y.Backward()
	assert.Equal(t, []float32{3, 5, 7}, x.grad.data)

	// gradients accumulate across backward passes until cleared
	Sum(x).Backward()
	assert.Equal(t, []float32{4, 6, 8}, x.grad.data)
	x.ZeroGrad()
	assert.Nil(t, x.Grad())
}

func TestDetach(t *testing.T) {
	x := NewTensor([]float32{1, 2}, 2)
	y := Add(x, x)
	z := y.Detach()
	assert.Nil(t, z.op)
	z.data[0] = 10
	assert.Equal(t, float32(2), y.data[0])
}

func TestXavierUniform(t *testing.T) {
	x := XavierUniform(rand.New(rand.NewSource(0)), 30, 20)
	assert.Equal(t, []int{30, 20}, x.Shape())
	bound := math32.Sqrt(6.0 / 50)
	for _, v := range x.data {
		assert.LessOrEqual(t, math32.Abs(v), bound)
	}
	y := XavierUniform(rand.New(rand.NewSource(0)), 30, 20)
	assert.Equal(t, x.data, y.data)
}

func TestBPRLoss(t *testing.T) {
	user := NewTensor([]float32{1, 0}, 1, 2)
	pos := NewTensor([]float32{1, 0}, 1, 2)
	neg := NewTensor([]float32{0, 0}, 1, 2)
	loss := BPRLoss(user, pos, neg)
	assert.InDelta(t, -math32.Log(1e-5+1/(1+math32.Exp(-1))), loss.data[0], 1e-5)

	pos, neg = randTensor(1, 3, 4), randTensor(2, 3, 4)
	checkGrad(t, func(u *Tensor) *Tensor { return BPRLoss(u, pos, neg) }, randTensor(0, 3, 4))
}

func TestL2RegLoss(t *testing.T) {
	e := NewTensor([]float32{3, 4}, 1, 2)
	f := NewTensor([]float32{1, 2, 2, 4}, 2, 2)
	loss := L2RegLoss(0.1, e, f)
	assert.InDelta(t, 0.1*(5+5.0/2), loss.data[0], 1e-6)
	checkGrad(t, func(x *Tensor) *Tensor { return L2RegLoss(0.1, x, f) }, randTensor(0, 3, 4))
}

func TestInfoNCE(t *testing.T) {
	// identical orthogonal views
	v := NewTensor([]float32{1, 0, 0, 1}, 2, 2)
	loss := InfoNCE(v, v, 0.2)
	expected := -math32.Log(math32.Exp(5)/(math32.Exp(5)+1) + 1e-5)
	assert.InDelta(t, expected, loss.data[0], 1e-4)

	view2 := randTensor(1, 3, 4)
	checkGrad(t, func(x *Tensor) *Tensor { return InfoNCE(x, view2, 0.2) }, randTensor(0, 3, 4))
}

func TestLinear(t *testing.T) {
	rng := rand.New(rand.NewSource(0))
	layer := NewLinear(rng, 4, 2)
	params := layer.Parameters()
	assert.Len(t, params, 2)
	assert.Equal(t, []int{4, 2}, params[0].Shape())
	assert.Equal(t, []int{2}, params[1].Shape())
	for _, p := range params {
		for _, v := range p.data {
			assert.LessOrEqual(t, math32.Abs(v), float32(0.5))
		}
	}
	assert.Equal(t, []int{3, 2}, layer.Forward(randTensor(1, 3, 4)).Shape())
}

func TestMLP(t *testing.T) {
	rng := rand.New(rand.NewSource(0))
	mlp := NewMLP(rng, 8, 4, 2)
	assert.Len(t, mlp.Layers, 2)
	assert.Len(t, mlp.Parameters(), 4)
	y := mlp.Forward(randTensor(1, 3, 8))
	assert.Equal(t, []int{3, 2}, y.Shape())
	for _, v := range y.data {
		assert.GreaterOrEqual(t, v, float32(0))
	}
	// a single width is the identity
	x := randTensor(2, 3, 8)
	assert.Equal(t, x, NewMLP(rng, 8).Forward(x))
}
