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
	"iter"
	"math/rand"
)

// Batch holds (user, positive item, negative item) index triples.
type Batch struct {
	Users     []int32
	Positives []int32
	Negatives []int32
}

func (b Batch) Len() int {
	return len(b.Users)
}

// Batches returns one shuffled pass over training interactions. Every interaction is paired with
// a negative item drawn uniformly from items the user never interacted with. Users who interacted
// with every item have no negatives and are skipped.
func (d *Dataset) Batches(rng *rand.Rand, batchSize int) iter.Seq[Batch] {
	return func(yield func(Batch) bool) {
		itemCount := d.CountItems()
		var users, items []int32
		for u, feedback := range d.userFeedback {
			if len(feedback) >= itemCount {
				continue
			}
			for _, i := range feedback {
				users = append(users, int32(u))
				items = append(items, i)
			}
		}
		rng.Shuffle(len(users), func(i, j int) {
			users[i], users[j] = users[j], users[i]
			items[i], items[j] = items[j], items[i]
		})
		for begin := 0; begin < len(users); begin += batchSize {
			end := min(begin+batchSize, len(users))
			batch := Batch{
				Users:     users[begin:end],
				Positives: items[begin:end],
				Negatives: make([]int32, end-begin),
			}
			for k, u := range batch.Users {
				neg := int32(rng.Intn(itemCount))
				for d.userRated[u].Test(uint(neg)) {
					neg = int32(rng.Intn(itemCount))
				}
				batch.Negatives[k] = neg
			}
			if !yield(batch) {
				return
			}
		}
	}
}
