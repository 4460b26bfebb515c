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

package cf

import (
	"fmt"
	"math/rand"

	"github.com/gorse-io/graphcf/common/floats"
	"github.com/gorse-io/graphcf/common/nn"
)

// Embedding stores the trainable user and item tables of an encoder.
type Embedding interface {
	Parameters() []*nn.Tensor
	UserCount() int
	ItemCount() int
	// Width is the logical width of a table, the sum of sub-table widths.
	Width() int
	// UserTable returns a copy of the concatenated user tables.
	UserTable() *nn.Tensor
	ItemTable() *nn.Tensor
	// Gradients returns the concatenated gradients of the tables. Missing gradients are zeros.
	Gradients() (user, item *nn.Tensor)
	// Perturb adds deltas to the tables in place. It must not run concurrently with training.
	Perturb(userDelta, itemDelta *nn.Tensor)
}

// PlainEmbedding keeps one user table and one item table.
type PlainEmbedding struct {
	User *nn.Tensor
	Item *nn.Tensor
}

func NewPlainEmbedding(rng *rand.Rand, users, items, width int) *PlainEmbedding {
	return &PlainEmbedding{
		User: nn.XavierUniform(rng, users, width),
		Item: nn.XavierUniform(rng, items, width),
	}
}

func (e *PlainEmbedding) Parameters() []*nn.Tensor {
	return []*nn.Tensor{e.User, e.Item}
}

func (e *PlainEmbedding) UserCount() int {
	return e.User.Shape()[0]
}

func (e *PlainEmbedding) ItemCount() int {
	return e.Item.Shape()[0]
}

func (e *PlainEmbedding) Width() int {
	return e.User.Shape()[1]
}

func (e *PlainEmbedding) UserTable() *nn.Tensor {
	return e.User.Detach()
}

func (e *PlainEmbedding) ItemTable() *nn.Tensor {
	return e.Item.Detach()
}

func (e *PlainEmbedding) Gradients() (user, item *nn.Tensor) {
	return gradOrZeros(e.User), gradOrZeros(e.Item)
}

func (e *PlainEmbedding) Perturb(userDelta, itemDelta *nn.Tensor) {
	checkDelta(e.User, userDelta)
	checkDelta(e.Item, itemDelta)
	floats.Add(e.User.Data(), userDelta.Data())
	floats.Add(e.Item.Data(), itemDelta.Data())
}

// SplitEmbedding keeps several tables per entity. The logical table is their
// column-wise concatenation in declared order.
type SplitEmbedding struct {
	Users  []*nn.Tensor
	Items  []*nn.Tensor
	widths []int
}

func NewSplitEmbedding(rng *rand.Rand, users, items int, widths ...int) *SplitEmbedding {
	e := &SplitEmbedding{widths: widths}
	for _, w := range widths {
		e.Users = append(e.Users, nn.XavierUniform(rng, users, w))
		e.Items = append(e.Items, nn.XavierUniform(rng, items, w))
	}
	return e
}

func (e *SplitEmbedding) Parameters() []*nn.Tensor {
	params := make([]*nn.Tensor, 0, 2*len(e.widths))
	params = append(params, e.Users...)
	return append(params, e.Items...)
}

func (e *SplitEmbedding) UserCount() int {
	return e.Users[0].Shape()[0]
}

func (e *SplitEmbedding) ItemCount() int {
	return e.Items[0].Shape()[0]
}

func (e *SplitEmbedding) Width() int {
	width := 0
	for _, w := range e.widths {
		width += w
	}
	return width
}

func (e *SplitEmbedding) UserTable() *nn.Tensor {
	return concatColumns(e.Users, e.Width(), func(t *nn.Tensor) *nn.Tensor { return t })
}

func (e *SplitEmbedding) ItemTable() *nn.Tensor {
	return concatColumns(e.Items, e.Width(), func(t *nn.Tensor) *nn.Tensor { return t })
}

func (e *SplitEmbedding) Gradients() (user, item *nn.Tensor) {
	return concatColumns(e.Users, e.Width(), gradOrZeros), concatColumns(e.Items, e.Width(), gradOrZeros)
}

// Perturb routes columns of the deltas to sub-tables in declared-width order.
func (e *SplitEmbedding) Perturb(userDelta, itemDelta *nn.Tensor) {
	splitColumns(e.Users, e.Width(), userDelta)
	splitColumns(e.Items, e.Width(), itemDelta)
}

func concatColumns(tables []*nn.Tensor, width int, get func(*nn.Tensor) *nn.Tensor) *nn.Tensor {
	rows := tables[0].Shape()[0]
	out := nn.Zeros(rows, width)
	offset := 0
	for _, table := range tables {
		src := get(table)
		w := table.Shape()[1]
		for i := 0; i < rows; i++ {
			copy(out.Row(i)[offset:offset+w], src.Row(i))
		}
		offset += w
	}
	return out
}

func splitColumns(tables []*nn.Tensor, width int, delta *nn.Tensor) {
	if shape := delta.Shape(); len(shape) != 2 || shape[0] != tables[0].Shape()[0] || shape[1] != width {
		panic(fmt.Sprintf("delta of shape %v does not fit tables of (%d, %d)", shape, tables[0].Shape()[0], width))
	}
	offset := 0
	for _, table := range tables {
		w := table.Shape()[1]
		for i := 0; i < table.Shape()[0]; i++ {
			floats.Add(table.Row(i), delta.Row(i)[offset:offset+w])
		}
		offset += w
	}
}

func gradOrZeros(t *nn.Tensor) *nn.Tensor {
	if t.Grad() == nil {
		return nn.Zeros(t.Shape()...)
	}
	return t.Grad()
}

func checkDelta(table, delta *nn.Tensor) {
	a, b := table.Shape(), delta.Shape()
	if len(a) != len(b) || a[0] != b[0] || a[1] != b[1] {
		panic(fmt.Sprintf("delta of shape %v does not fit table of shape %v", b, a))
	}
}
