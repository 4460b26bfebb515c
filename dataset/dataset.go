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

package dataset

import (
	"github.com/bits-and-blooms/bitset"
	"github.com/chewxy/math32"
	"github.com/gorse-io/graphcf/common/nn"
	"gonum.org/v1/gonum/mat"
)

// HoldOut is held-out feedback keyed by external user id. Users keep their insertion order.
type HoldOut struct {
	users []string
	items map[string][]string
}

func NewHoldOut() *HoldOut {
	return &HoldOut{items: make(map[string][]string)}
}

func (h *HoldOut) add(userId, itemId string) {
	items, exist := h.items[userId]
	if !exist {
		h.users = append(h.users, userId)
	}
	for _, item := range items {
		if item == itemId {
			return
		}
	}
	h.items[userId] = append(items, itemId)
}

// Users returns users with held-out feedback.
func (h *HoldOut) Users() []string {
	return h.users
}

// Items returns held-out items of a user.
func (h *HoldOut) Items(userId string) []string {
	return h.items[userId]
}

// Count returns the number of held-out (user, item) pairs.
func (h *HoldOut) Count() int {
	n := 0
	for _, items := range h.items {
		n += len(items)
	}
	return n
}

// Dataset holds implicit feedback for training plus validation and test feedback.
type Dataset struct {
	userDict     *IdDict
	itemDict     *IdDict
	userFeedback [][]int32
	itemFeedback [][]int32
	userRated    []*bitset.BitSet
	feedback     int
	validation   *HoldOut
	test         *HoldOut
}

func NewDataset() *Dataset {
	return &Dataset{
		userDict:   NewIdDict(),
		itemDict:   NewIdDict(),
		validation: NewHoldOut(),
		test:       NewHoldOut(),
	}
}

// AddFeedback adds a training interaction. Duplicated interactions are ignored.
func (d *Dataset) AddFeedback(userId, itemId string) {
	userIndex := d.userDict.Add(userId)
	itemIndex := d.itemDict.Add(itemId)
	for int(userIndex) >= len(d.userFeedback) {
		d.userFeedback = append(d.userFeedback, nil)
		d.userRated = append(d.userRated, bitset.New(0))
	}
	for int(itemIndex) >= len(d.itemFeedback) {
		d.itemFeedback = append(d.itemFeedback, nil)
	}
	if d.userRated[userIndex].Test(uint(itemIndex)) {
		return
	}
	d.userRated[userIndex].Set(uint(itemIndex))
	d.userFeedback[userIndex] = append(d.userFeedback[userIndex], itemIndex)
	d.itemFeedback[itemIndex] = append(d.itemFeedback[itemIndex], userIndex)
	d.feedback++
}

// AddValidation adds a validation interaction. It is dropped if the user or the item never appears in training.
func (d *Dataset) AddValidation(userId, itemId string) bool {
	return d.addHoldOut(d.validation, userId, itemId)
}

// AddTest adds a test interaction. It is dropped if the user or the item never appears in training.
func (d *Dataset) AddTest(userId, itemId string) bool {
	return d.addHoldOut(d.test, userId, itemId)
}

func (d *Dataset) addHoldOut(h *HoldOut, userId, itemId string) bool {
	if _, ok := d.userDict.Index(userId); !ok {
		return false
	}
	if _, ok := d.itemDict.Index(itemId); !ok {
		return false
	}
	h.add(userId, itemId)
	return true
}

func (d *Dataset) CountUsers() int {
	return d.userDict.Count()
}

func (d *Dataset) CountItems() int {
	return d.itemDict.Count()
}

// CountFeedback returns the number of distinct training interactions.
func (d *Dataset) CountFeedback() int {
	return d.feedback
}

// GetUserIndex maps an external user id to its dense index.
func (d *Dataset) GetUserIndex(userId string) (int32, bool) {
	return d.userDict.Index(userId)
}

// GetItemIndex maps an external item id to its dense index.
func (d *Dataset) GetItemIndex(itemId string) (int32, bool) {
	return d.itemDict.Index(itemId)
}

// GetUserId maps a dense user index back to its external id.
func (d *Dataset) GetUserId(index int32) string {
	id, _ := d.userDict.Id(index)
	return id
}

// GetItemId maps a dense item index back to its external id.
func (d *Dataset) GetItemId(index int32) string {
	id, _ := d.itemDict.Id(index)
	return id
}

func (d *Dataset) GetUserFeedback() [][]int32 {
	return d.userFeedback
}

func (d *Dataset) GetItemFeedback() [][]int32 {
	return d.itemFeedback
}

// UserRated returns external ids of the items a user interacted with in training.
func (d *Dataset) UserRated(userId string) []string {
	userIndex, ok := d.userDict.Index(userId)
	if !ok {
		return nil
	}
	items := make([]string, len(d.userFeedback[userIndex]))
	for i, itemIndex := range d.userFeedback[userIndex] {
		items[i] = d.GetItemId(itemIndex)
	}
	return items
}

// UserRatedSet returns the training items of a user as a bitset over item indices.
func (d *Dataset) UserRatedSet(userIndex int32) *bitset.BitSet {
	return d.userRated[userIndex]
}

func (d *Dataset) Validation() *HoldOut {
	return d.validation
}

func (d *Dataset) Test() *HoldOut {
	return d.test
}

// ItemPopularity returns the number of training users of every item.
func (d *Dataset) ItemPopularity() []int {
	popularity := make([]int, d.CountItems())
	for i, users := range d.itemFeedback {
		popularity[i] = len(users)
	}
	return popularity
}

// InteractionMatrix returns the binary user-item matrix of training feedback.
func (d *Dataset) InteractionMatrix() *mat.Dense {
	m := mat.NewDense(max(d.CountUsers(), 1), max(d.CountItems(), 1), nil)
	for u, items := range d.userFeedback {
		for _, i := range items {
			m.Set(u, int(i), 1)
		}
	}
	return m
}

// NormalizedGraph returns D^-1/2 A D^-1/2 of the bipartite graph over users followed by items.
// The entry between user u and item i is 1/sqrt(deg(u) * deg(i)).
func (d *Dataset) NormalizedGraph() *nn.SparseTensor {
	n := d.CountUsers() + d.CountItems()
	rows := make([]int32, 0, 2*d.feedback)
	cols := make([]int32, 0, 2*d.feedback)
	values := make([]float32, 0, 2*d.feedback)
	userCount := int32(d.CountUsers())
	for u, items := range d.userFeedback {
		for _, i := range items {
			rows = append(rows, int32(u))
			cols = append(cols, userCount+i)
			values = append(values, d.normalizedWeight(int32(u), i))
		}
	}
	for i, users := range d.itemFeedback {
		for _, u := range users {
			rows = append(rows, userCount+int32(i))
			cols = append(cols, u)
			values = append(values, d.normalizedWeight(u, int32(i)))
		}
	}
	return nn.NewSparseTensor(rows, cols, values, n, n)
}

func (d *Dataset) normalizedWeight(u, i int32) float32 {
	return 1 / math32.Sqrt(float32(len(d.userFeedback[u])*len(d.itemFeedback[i])))
}
