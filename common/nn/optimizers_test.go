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

	"github.com/stretchr/testify/assert"
)

func testOptimizer(optimizerCreator func(params []*Tensor, lr float32) Optimizer, lr float32, epochs int) (losses []float32) {
	rng := rand.New(rand.NewSource(0))
	// y = 2 * x + 5
	x := Uniform(rng, -1, 1, 100, 1)
	y := Add(Mul(x, NewScalar(2)), NewScalar(5)).NoGrad()

	model := NewLinear(rng, 1, 1)
	optimizer := optimizerCreator(model.Parameters(), lr)
	for i := 0; i < epochs; i++ {
		yPred := model.Forward(x)
		loss := Mean(Square(Sub(yPred, y)))
		losses = append(losses, loss.Data()[0])

		optimizer.ZeroGrad()
		loss.Backward()
		optimizer.Step()
	}
	return
}

func TestSGD(t *testing.T) {
	losses := testOptimizer(NewSGD, 0.1, 50)
	assert.IsDecreasing(t, losses)
	assert.Less(t, losses[len(losses)-1], float32(0.01))
}

func TestAdam(t *testing.T) {
	losses := testOptimizer(NewAdam, 0.1, 500)
	assert.Less(t, losses[len(losses)-1], losses[0])
	assert.Less(t, losses[len(losses)-1], float32(0.01))
}

func TestZeroGrad(t *testing.T) {
	w := NewTensor([]float32{1, 2}, 2)
	optimizer := NewSGD([]*Tensor{w}, 0.5)
	Sum(Square(w)).Backward()
	assert.Equal(t, []float32{2, 4}, w.Grad().Data())
	optimizer.Step()
	assert.Equal(t, []float32{0, 0}, w.Data())
	optimizer.ZeroGrad()
	assert.Nil(t, w.Grad())
	// parameters without gradients are left untouched
	optimizer.Step()
	assert.Equal(t, []float32{0, 0}, w.Data())
}
