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

// BPRLoss returns mean(-log(1e-5 + sigmoid(<u, p> - <u, n>))) over the rows of a batch.
func BPRLoss(user, pos, neg *Tensor) *Tensor {
	posScore := Sum(Mul(user, pos), 1)
	negScore := Sum(Mul(user, neg), 1)
	return Mean(Neg(Log(Add(Sigmoid(Sub(posScore, negScore)), NewScalar(1e-5)))))
}

// L2RegLoss returns reg * sum(|e| / rows(e)) over the given embeddings.
func L2RegLoss(reg float32, embeddings ...*Tensor) *Tensor {
	var loss *Tensor
	for _, e := range embeddings {
		term := Div(Norm(e), NewScalar(float32(e.shape[0])))
		if loss == nil {
			loss = term
		} else {
			loss = Add(loss, term)
		}
	}
	return Mul(loss, NewScalar(reg))
}

// InfoNCE returns the contrastive loss between two views of the same rows.
func InfoNCE(view1, view2 *Tensor, temperature float32) *Tensor {
	view1, view2 = Normalize(view1), Normalize(view2)
	t := NewScalar(temperature)
	posScore := Exp(Div(Sum(Mul(view1, view2), 1), t))
	ttlScore := Sum(Exp(Div(MatMul(view1, view2, false, true), t)), 1)
	return Mean(Neg(Log(Add(Div(posScore, ttlScore), NewScalar(1e-5)))))
}
