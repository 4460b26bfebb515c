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
	"slices"

	"github.com/chewxy/math32"
	"github.com/gorse-io/graphcf/common/floats"
)

type op interface {
	String() string
	forward(inputs ...*Tensor) *Tensor
	backward(dy *Tensor) []*Tensor
	inputsAndOutput() ([]*Tensor, *Tensor)
	setInputs(inputs ...*Tensor)
	setOutput(y *Tensor)
}

type base struct {
	inputs []*Tensor
	output *Tensor
}

func (b *base) inputsAndOutput() ([]*Tensor, *Tensor) {
	return b.inputs, b.output
}

func (b *base) setInputs(inputs ...*Tensor) {
	b.inputs = inputs
}

func (b *base) setOutput(y *Tensor) {
	b.output = y
}

func apply[T op](f T, inputs ...*Tensor) *Tensor {
	y := f.forward(inputs...)
	f.setInputs(inputs...)
	f.setOutput(y)
	y.op = f
	return y
}

// reduceSuffix sums a gradient of the broadcast shape back into the shape of the second operand.
func reduceSuffix(values []float32, shape []int) *Tensor {
	g := Zeros(slices.Clone(shape)...)
	wSize := len(g.data)
	for i, v := range values {
		g.data[i%wSize] += v
	}
	return g
}

type add struct {
	base
}

func (a *add) String() string {
	return "Add"
}

func (a *add) forward(inputs ...*Tensor) *Tensor {
	y := inputs[0].clone()
	y.add(inputs[1])
	return y
}

func (a *add) backward(dy *Tensor) []*Tensor {
	return []*Tensor{dy.clone(), reduceSuffix(dy.data, a.inputs[1].shape)}
}

type sub struct {
	base
}

func (s *sub) String() string {
	return "Sub"
}

func (s *sub) forward(inputs ...*Tensor) *Tensor {
	y := inputs[0].clone()
	y.sub(inputs[1])
	return y
}

func (s *sub) backward(dy *Tensor) []*Tensor {
	gx1 := reduceSuffix(dy.data, s.inputs[1].shape)
	for i := range gx1.data {
		gx1.data[i] = -gx1.data[i]
	}
	return []*Tensor{dy.clone(), gx1}
}

type mul struct {
	base
}

func (m *mul) String() string {
	return "Mul"
}

func (m *mul) forward(inputs ...*Tensor) *Tensor {
	y := inputs[0].clone()
	y.mul(inputs[1])
	return y
}

func (m *mul) backward(dy *Tensor) []*Tensor {
	gx0 := dy.clone()
	gx0.mul(m.inputs[1])
	gx1 := Zeros(slices.Clone(m.inputs[1].shape)...)
	wSize := len(gx1.data)
	for i := range dy.data {
		gx1.data[i%wSize] += dy.data[i] * m.inputs[0].data[i]
	}
	return []*Tensor{gx0, gx1}
}

type div struct {
	base
}

func (d *div) String() string {
	return "Div"
}

func (d *div) forward(inputs ...*Tensor) *Tensor {
	y := inputs[0].clone()
	y.div(inputs[1])
	return y
}

func (d *div) backward(dy *Tensor) []*Tensor {
	x0, x1 := d.inputs[0], d.inputs[1]
	wSize := len(x1.data)
	gx0 := Zeros(slices.Clone(x0.shape)...)
	gx1 := Zeros(slices.Clone(x1.shape)...)
	for i := range dy.data {
		w := x1.data[i%wSize]
		gx0.data[i] = dy.data[i] / w
		gx1.data[i%wSize] -= dy.data[i] * x0.data[i] / (w * w)
	}
	return []*Tensor{gx0, gx1}
}

type neg struct {
	base
}

func (n *neg) String() string {
	return "Neg"
}

func (n *neg) forward(inputs ...*Tensor) *Tensor {
	y := inputs[0].clone()
	for i := range y.data {
		y.data[i] = -y.data[i]
	}
	return y
}

func (n *neg) backward(dy *Tensor) []*Tensor {
	dx := dy.clone()
	for i := range dx.data {
		dx.data[i] = -dx.data[i]
	}
	return []*Tensor{dx}
}

type square struct {
	base
}

func (s *square) String() string {
	return "Square"
}

func (s *square) forward(inputs ...*Tensor) *Tensor {
	y := inputs[0].clone()
	for i := range y.data {
		y.data[i] *= y.data[i]
	}
	return y
}

func (s *square) backward(dy *Tensor) []*Tensor {
	dx := s.inputs[0].clone()
	for i := range dx.data {
		dx.data[i] *= 2 * dy.data[i]
	}
	return []*Tensor{dx}
}

type sqrt struct {
	base
}

func (s *sqrt) String() string {
	return "Sqrt"
}

func (s *sqrt) forward(inputs ...*Tensor) *Tensor {
	y := inputs[0].clone()
	for i := range y.data {
		y.data[i] = math32.Sqrt(y.data[i])
	}
	return y
}

func (s *sqrt) backward(dy *Tensor) []*Tensor {
	dx := dy.clone()
	for i := range dx.data {
		dx.data[i] /= 2 * s.output.data[i]
	}
	return []*Tensor{dx}
}

type exp struct {
	base
}

func (e *exp) String() string {
	return "Exp"
}

func (e *exp) forward(inputs ...*Tensor) *Tensor {
	y := inputs[0].clone()
	for i := range y.data {
		y.data[i] = math32.Exp(y.data[i])
	}
	return y
}

func (e *exp) backward(dy *Tensor) []*Tensor {
	dx := dy.clone()
	dx.mul(e.output)
	return []*Tensor{dx}
}

type log struct {
	base
}

func (l *log) String() string {
	return "Log"
}

func (l *log) forward(inputs ...*Tensor) *Tensor {
	y := inputs[0].clone()
	for i := range y.data {
		y.data[i] = math32.Log(y.data[i])
	}
	return y
}

func (l *log) backward(dy *Tensor) []*Tensor {
	dx := dy.clone()
	dx.div(l.inputs[0])
	return []*Tensor{dx}
}

type sigmoid struct {
	base
}

func (s *sigmoid) String() string {
	return "Sigmoid"
}

func (s *sigmoid) forward(inputs ...*Tensor) *Tensor {
	y := inputs[0].clone()
	for i, x := range y.data {
		if x >= 0 {
			y.data[i] = 1 / (1 + math32.Exp(-x))
		} else {
			e := math32.Exp(x)
			y.data[i] = e / (1 + e)
		}
	}
	return y
}

func (s *sigmoid) backward(dy *Tensor) []*Tensor {
	// dx = dy * y * (1 - y)
	dx := dy.clone()
	for i, y := range s.output.data {
		dx.data[i] *= y * (1 - y)
	}
	return []*Tensor{dx}
}

type relu struct {
	base
}

func (r *relu) String() string {
	return "ReLU"
}

func (r *relu) forward(inputs ...*Tensor) *Tensor {
	y := inputs[0].clone()
	for i := range y.data {
		if y.data[i] < 0 {
			y.data[i] = 0
		}
	}
	return y
}

func (r *relu) backward(dy *Tensor) []*Tensor {
	dx := dy.clone()
	for i, x := range r.inputs[0].data {
		if x <= 0 {
			dx.data[i] = 0
		}
	}
	return []*Tensor{dx}
}

type sum struct {
	base
	axis int
}

func (s *sum) String() string {
	return "Sum"
}

// strides splits a shape around the reduced axis.
func (s *sum) strides(shape []int) (outer, dim, inner int) {
	outer, inner = 1, 1
	for _, d := range shape[:s.axis] {
		outer *= d
	}
	for _, d := range shape[s.axis+1:] {
		inner *= d
	}
	return outer, shape[s.axis], inner
}

func (s *sum) forward(inputs ...*Tensor) *Tensor {
	x := inputs[0]
	if s.axis < 0 {
		return NewScalar(floats.Sum(x.data))
	}
	outer, dim, inner := s.strides(x.shape)
	shape := slices.Delete(slices.Clone(x.shape), s.axis, s.axis+1)
	y := Zeros(shape...)
	for o := 0; o < outer; o++ {
		for d := 0; d < dim; d++ {
			floats.Add(y.data[o*inner:(o+1)*inner], x.data[(o*dim+d)*inner:(o*dim+d+1)*inner])
		}
	}
	return y
}

func (s *sum) backward(dy *Tensor) []*Tensor {
	x := s.inputs[0]
	dx := Zeros(slices.Clone(x.shape)...)
	if s.axis < 0 {
		for i := range dx.data {
			dx.data[i] = dy.data[0]
		}
		return []*Tensor{dx}
	}
	outer, dim, inner := s.strides(x.shape)
	for o := 0; o < outer; o++ {
		for d := 0; d < dim; d++ {
			copy(dx.data[(o*dim+d)*inner:(o*dim+d+1)*inner], dy.data[o*inner:(o+1)*inner])
		}
	}
	return []*Tensor{dx}
}

type mean struct {
	base
}

func (m *mean) String() string {
	return "Mean"
}

func (m *mean) forward(inputs ...*Tensor) *Tensor {
	x := inputs[0]
	return NewScalar(floats.Sum(x.data) / float32(len(x.data)))
}

func (m *mean) backward(dy *Tensor) []*Tensor {
	dx := Zeros(slices.Clone(m.inputs[0].shape)...)
	for i := range dx.data {
		dx.data[i] = dy.data[0] / float32(len(dx.data))
	}
	return []*Tensor{dx}
}

type matMul struct {
	base
	transpose1 bool
	transpose2 bool
}

func (m *matMul) String() string {
	return "MatMul"
}

func (m *matMul) forward(inputs ...*Tensor) *Tensor {
	return inputs[0].matMul(inputs[1], m.transpose1, m.transpose2)
}

func (m *matMul) backward(dy *Tensor) []*Tensor {
	a, b := m.inputs[0], m.inputs[1]
	var da, db *Tensor
	if m.transpose1 {
		da = b.matMul(dy, m.transpose2, true)
	} else {
		da = dy.matMul(b, false, !m.transpose2)
	}
	if m.transpose2 {
		db = dy.matMul(a, true, m.transpose1)
	} else {
		db = a.matMul(dy, !m.transpose1, false)
	}
	return []*Tensor{da, db}
}

type concat struct {
	base
	axis int
}

func (c *concat) String() string {
	return "Concat"
}

func (c *concat) forward(inputs ...*Tensor) *Tensor {
	if c.axis == 0 {
		cols := inputs[0].shape[1]
		rows := 0
		var data []float32
		for _, x := range inputs {
			if x.shape[1] != cols {
				panic(fmt.Sprintf("concat rows with %d and %d columns", cols, x.shape[1]))
			}
			rows += x.shape[0]
			data = append(data, x.data...)
		}
		return NewTensor(data, rows, cols)
	}
	rows := inputs[0].shape[0]
	cols := 0
	for _, x := range inputs {
		if x.shape[0] != rows {
			panic(fmt.Sprintf("concat columns with %d and %d rows", rows, x.shape[0]))
		}
		cols += x.shape[1]
	}
	y := Zeros(rows, cols)
	for i := 0; i < rows; i++ {
		offset := i * cols
		for _, x := range inputs {
			offset += copy(y.data[offset:], x.Row(i))
		}
	}
	return y
}

func (c *concat) backward(dy *Tensor) []*Tensor {
	grads := make([]*Tensor, len(c.inputs))
	if c.axis == 0 {
		offset := 0
		for k, x := range c.inputs {
			grads[k] = NewTensor(slices.Clone(dy.data[offset:offset+len(x.data)]), slices.Clone(x.shape)...)
			offset += len(x.data)
		}
		return grads
	}
	for k, x := range c.inputs {
		grads[k] = Zeros(slices.Clone(x.shape)...)
	}
	for i := 0; i < dy.shape[0]; i++ {
		offset := i * dy.shape[1]
		for k, x := range c.inputs {
			n := x.shape[1]
			copy(grads[k].data[i*n:(i+1)*n], dy.data[offset:offset+n])
			offset += n
		}
	}
	return grads
}

type slice struct {
	base
	begin int
	end   int
}

func (s *slice) String() string {
	return "Slice"
}

func (s *slice) forward(inputs ...*Tensor) *Tensor {
	x := inputs[0]
	stride := len(x.data) / x.shape[0]
	shape := slices.Clone(x.shape)
	shape[0] = s.end - s.begin
	return NewTensor(slices.Clone(x.data[s.begin*stride:s.end*stride]), shape...)
}

func (s *slice) backward(dy *Tensor) []*Tensor {
	x := s.inputs[0]
	stride := len(x.data) / x.shape[0]
	dx := Zeros(slices.Clone(x.shape)...)
	copy(dx.data[s.begin*stride:], dy.data)
	return []*Tensor{dx}
}

type gather struct {
	base
	indices []int32
}

func (g *gather) String() string {
	return "Gather"
}

func (g *gather) forward(inputs ...*Tensor) *Tensor {
	x := inputs[0]
	n := x.shape[1]
	y := Zeros(len(g.indices), n)
	for i, index := range g.indices {
		copy(y.data[i*n:(i+1)*n], x.Row(int(index)))
	}
	return y
}

func (g *gather) backward(dy *Tensor) []*Tensor {
	x := g.inputs[0]
	dx := Zeros(slices.Clone(x.shape)...)
	for i, index := range g.indices {
		floats.Add(dx.Row(int(index)), dy.Row(i))
	}
	return []*Tensor{dx}
}

const normalizeEps = 1e-12

type normalize struct {
	base
}

func (n *normalize) String() string {
	return "Normalize"
}

func (n *normalize) forward(inputs ...*Tensor) *Tensor {
	y := inputs[0].clone()
	for i := 0; i < y.shape[0]; i++ {
		row := y.Row(i)
		floats.MulConst(row, 1/max(floats.Norm(row), normalizeEps))
	}
	return y
}

func (n *normalize) backward(dy *Tensor) []*Tensor {
	x, y := n.inputs[0], n.output
	dx := Zeros(slices.Clone(x.shape)...)
	for i := 0; i < x.shape[0]; i++ {
		norm := floats.Norm(x.Row(i))
		if norm <= normalizeEps {
			floats.MulConstTo(dy.Row(i), 1/normalizeEps, dx.Row(i))
			continue
		}
		// dx = (dy - y * <y, dy>) / |x|
		yi, dyi, dxi := y.Row(i), dy.Row(i), dx.Row(i)
		dot := floats.Dot(yi, dyi)
		for j := range dxi {
			dxi[j] = (dyi[j] - yi[j]*dot) / norm
		}
	}
	return []*Tensor{dx}
}

type spMM struct {
	base
	rows []int32
	cols []int32
	n    int
}

func (s *spMM) String() string {
	return "SpMM"
}

func (s *spMM) forward(inputs ...*Tensor) *Tensor {
	values, x := inputs[0], inputs[1]
	y := Zeros(s.n, x.shape[1])
	for k, v := range values.data {
		floats.MulConstAddTo(x.Row(int(s.cols[k])), v, y.Row(int(s.rows[k])))
	}
	return y
}

func (s *spMM) backward(dy *Tensor) []*Tensor {
	values, x := s.inputs[0], s.inputs[1]
	dValues := Zeros(slices.Clone(values.shape)...)
	dx := Zeros(slices.Clone(x.shape)...)
	for k, v := range values.data {
		r, c := int(s.rows[k]), int(s.cols[k])
		dValues.data[k] = floats.Dot(dy.Row(r), x.Row(c))
		floats.MulConstAddTo(dy.Row(r), v, dx.Row(c))
	}
	return []*Tensor{dValues, dx}
}

func checkSuffix(x0, x1 *Tensor) {
	if len(x0.shape) < len(x1.shape) {
		panic("the shape of the second tensor must be a suffix sequence of the shape of the first tensor")
	}
	for i := 0; i < len(x1.shape); i++ {
		if x0.shape[len(x0.shape)-len(x1.shape)+i] != x1.shape[i] {
			panic("the shape of the second tensor must be a suffix sequence of the shape of the first tensor")
		}
	}
}

// Add returns the element-wise sum of two tensors. The shape of one tensor must be a suffix sequence of the shape of the other.
func Add(x0, x1 *Tensor) *Tensor {
	if len(x0.shape) < len(x1.shape) {
		x0, x1 = x1, x0
	}
	checkSuffix(x0, x1)
	return apply(&add{}, x0, x1)
}

// Sub returns the element-wise difference of two tensors. The shape of the second tensor must be a suffix sequence of the shape of the first tensor.
func Sub(x0, x1 *Tensor) *Tensor {
	checkSuffix(x0, x1)
	return apply(&sub{}, x0, x1)
}

// Mul returns the element-wise product of two tensors. The shape of one tensor must be a suffix sequence of the shape of the other.
func Mul(x0, x1 *Tensor) *Tensor {
	if len(x0.shape) < len(x1.shape) {
		x0, x1 = x1, x0
	}
	checkSuffix(x0, x1)
	return apply(&mul{}, x0, x1)
}

// Div returns the element-wise division of two tensors. The shape of the second tensor must be a suffix sequence of the shape of the first tensor.
func Div(x0, x1 *Tensor) *Tensor {
	checkSuffix(x0, x1)
	return apply(&div{}, x0, x1)
}

func Neg(x *Tensor) *Tensor {
	return apply(&neg{}, x)
}

// Square returns the element-wise square of a tensor.
func Square(x *Tensor) *Tensor {
	return apply(&square{}, x)
}

// Sqrt returns the element-wise square root of a tensor.
func Sqrt(x *Tensor) *Tensor {
	return apply(&sqrt{}, x)
}

// Exp returns the element-wise exponential of a tensor.
func Exp(x *Tensor) *Tensor {
	return apply(&exp{}, x)
}

// Log returns the element-wise natural logarithm of a tensor.
func Log(x *Tensor) *Tensor {
	return apply(&log{}, x)
}

func Sigmoid(x *Tensor) *Tensor {
	return apply(&sigmoid{}, x)
}

func ReLu(x *Tensor) *Tensor {
	return apply(&relu{}, x)
}

// Sum returns the sum of all elements in a tensor, or the sum along an axis if one is given.
func Sum(x *Tensor, along ...int) *Tensor {
	if len(along) > 1 {
		panic("only one axis is allowed")
	}
	axis := -1
	if len(along) == 1 {
		axis = along[0]
		if axis < 0 || axis >= len(x.shape) {
			panic(fmt.Sprintf("axis %d out of range for shape %v", axis, x.shape))
		}
	}
	return apply(&sum{axis: axis}, x)
}

// Mean returns the mean of all elements in a tensor.
func Mean(x *Tensor) *Tensor {
	return apply(&mean{}, x)
}

// MatMul returns the product of two matrices, each optionally transposed.
func MatMul(x, y *Tensor, transpose1, transpose2 bool) *Tensor {
	return apply(&matMul{transpose1: transpose1, transpose2: transpose2}, x, y)
}

// Concat joins matrices along rows (axis 0) or columns (axis 1).
func Concat(axis int, xs ...*Tensor) *Tensor {
	if axis != 0 && axis != 1 {
		panic("concat supports axis 0 or 1")
	}
	for _, x := range xs {
		if len(x.shape) != 2 {
			panic("concat requires matrices")
		}
	}
	return apply(&concat{axis: axis}, xs...)
}

// Slice returns rows [begin, end) of a tensor.
func Slice(x *Tensor, begin, end int) *Tensor {
	if begin < 0 || end > x.shape[0] || begin > end {
		panic(fmt.Sprintf("slice [%d, %d) out of range for %d rows", begin, end, x.shape[0]))
	}
	return apply(&slice{begin: begin, end: end}, x)
}

// Gather returns the rows of a matrix selected by indices.
func Gather(x *Tensor, indices []int32) *Tensor {
	if len(x.shape) != 2 {
		panic("gather requires a matrix")
	}
	return apply(&gather{indices: indices}, x)
}

// Normalize divides every row of a matrix by its L2 norm.
func Normalize(x *Tensor) *Tensor {
	if len(x.shape) != 2 {
		panic("normalize requires a matrix")
	}
	return apply(&normalize{}, x)
}

// Norm returns the Frobenius norm of a tensor.
func Norm(x *Tensor) *Tensor {
	return Sqrt(Sum(Square(x)))
}
