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

// IdDict assigns dense int32 indices to external ids in order of first appearance.
type IdDict struct {
	index map[string]int32
	ids   []string
}

func NewIdDict() *IdDict {
	return &IdDict{index: make(map[string]int32)}
}

func (d *IdDict) Count() int {
	return len(d.ids)
}

// Add returns the index of id, assigning the next one if id is new.
func (d *IdDict) Add(id string) int32 {
	if i, ok := d.index[id]; ok {
		return i
	}
	i := int32(len(d.ids))
	d.index[id] = i
	d.ids = append(d.ids, id)
	return i
}

// Index looks up an id without assigning one.
func (d *IdDict) Index(id string) (int32, bool) {
	i, ok := d.index[id]
	return i, ok
}

// Id maps an index back to its id.
func (d *IdDict) Id(i int32) (string, bool) {
	if i < 0 || int(i) >= len(d.ids) {
		return "", false
	}
	return d.ids[i], true
}

// Ids returns ids in index order. The slice must not be modified.
func (d *IdDict) Ids() []string {
	return d.ids
}
