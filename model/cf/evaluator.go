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
	"io"

	"github.com/chewxy/math32"
	mapset "github.com/deckarep/golang-set/v2"
	"github.com/gorse-io/graphcf/base/encoding"
	"github.com/gorse-io/graphcf/common/heap"
	"github.com/gorse-io/graphcf/common/nn"
	"github.com/gorse-io/graphcf/dataset"
	"github.com/juju/errors"
	"github.com/samber/lo"
)

// maskScore is assigned to items a user has interacted with in training.
const maskScore float32 = -1e9

type Score struct {
	HitRatio  float32
	Precision float32
	Recall    float32
	NDCG      float32
}

// RecommendList is an ordered list of (item, score) pairs for a user.
type RecommendList struct {
	UserId string
	Items  []lo.Tuple2[string, float32]
}

func (l RecommendList) itemIds() []string {
	return lo.Map(l.Items, func(t lo.Tuple2[string, float32], _ int) string { return t.A })
}

// Rank returns indices and scores of the k highest scores in descending order.
// Equal scores rank by ascending index.
func Rank(scores []float32, k int) ([]int32, []float32) {
	filter := heap.NewTopKFilter[int32, float32](k)
	for i, score := range scores {
		filter.Push(int32(i), score)
	}
	elems := filter.PopAll()
	indices := make([]int32, len(elems))
	values := make([]float32, len(elems))
	for i, elem := range elems {
		indices[i] = elem.Value
		values[i] = elem.Weight
	}
	return indices, values
}

// maskRated overwrites scores of items rated by a user in training.
func maskRated(ds *dataset.Dataset, userIndex int32, scores []float32) {
	rated := ds.UserRatedSet(userIndex)
	for i, ok := rated.NextSet(0); ok; i, ok = rated.NextSet(i + 1) {
		scores[i] = maskScore
	}
}

// Evaluate computes ranking metrics of recommendation lists against held-out
// items at every cutoff.
func Evaluate(truth *dataset.HoldOut, lists []RecommendList, cutoffs ...int) []Score {
	scores := make([]Score, len(cutoffs))
	for i, n := range cutoffs {
		var (
			hits, relevant int
			recall, ndcg   float32
			users          int
		)
		for _, list := range lists {
			targetSet := mapset.NewSet(truth.Items(list.UserId)...)
			if targetSet.Cardinality() == 0 {
				continue
			}
			rankList := list.itemIds()
			if len(rankList) > n {
				rankList = rankList[:n]
			}
			hit := Hits(targetSet, rankList)
			hits += hit
			relevant += targetSet.Cardinality()
			recall += float32(hit) / float32(targetSet.Cardinality())
			ndcg += NDCG(targetSet, rankList, n)
			users++
		}
		if users == 0 {
			continue
		}
		scores[i] = Score{
			HitRatio:  float32(hits) / float32(relevant),
			Precision: float32(hits) / float32(users*n),
			Recall:    recall / float32(users),
			NDCG:      ndcg / float32(users),
		}
	}
	return scores
}

// Hits counts relevant items in a ranked list.
func Hits(targetSet mapset.Set[string], rankList []string) int {
	hit := 0
	for _, itemId := range rankList {
		if targetSet.Contains(itemId) {
			hit++
		}
	}
	return hit
}

// NDCG means Normalized Discounted Cumulative Gain at cutoff n.
func NDCG(targetSet mapset.Set[string], rankList []string, n int) float32 {
	// IDCG = \sum^{min(|REL|, N)}_{i=1} \frac {1} {\log_2(i+1)}
	idcg := float32(0)
	for i := 0; i < targetSet.Cardinality() && i < n; i++ {
		idcg += 1.0 / math32.Log2(float32(i)+2.0)
	}
	// DCG = \sum^{N}_{i=1} \frac {rel_i} {\log_2(i+1)}
	dcg := float32(0)
	for i, itemId := range rankList {
		if targetSet.Contains(itemId) {
			dcg += 1.0 / math32.Log2(float32(i)+2.0)
		}
	}
	return dcg / idcg
}

// Snapshot keeps the embeddings of the best evaluation so far.
type Snapshot struct {
	// Epoch is 1-based. Zero means empty.
	Epoch         int
	Score         Score
	UserEmbedding *nn.Tensor
	ItemEmbedding *nn.Tensor
}

// Update replaces the snapshot by a majority vote over metrics: a metric votes
// for the stored one when it is strictly greater and for the current one
// otherwise. The current one wins when the votes are negative. An empty
// snapshot is always replaced. It reports whether the snapshot was replaced.
func (s *Snapshot) Update(epoch int, score Score, user, item *nn.Tensor) bool {
	if s.Epoch > 0 {
		count := 0
		for _, pair := range [][2]float32{
			{s.Score.HitRatio, score.HitRatio},
			{s.Score.Precision, score.Precision},
			{s.Score.Recall, score.Recall},
			{s.Score.NDCG, score.NDCG},
		} {
			if pair[0] > pair[1] {
				count++
			} else {
				count--
			}
		}
		if count >= 0 {
			return false
		}
	}
	s.Epoch = epoch
	s.Score = score
	s.UserEmbedding = user.Detach()
	s.ItemEmbedding = item.Detach()
	return true
}

// Marshal writes the snapshot in binary.
func (s *Snapshot) Marshal(w io.Writer) error {
	if err := encoding.WriteGob(w, s.Epoch); err != nil {
		return errors.Trace(err)
	}
	if err := encoding.WriteGob(w, s.Score); err != nil {
		return errors.Trace(err)
	}
	for _, t := range []*nn.Tensor{s.UserEmbedding, s.ItemEmbedding} {
		if t == nil {
			return errors.New("marshal an empty snapshot")
		}
		if err := encoding.WriteTensor(w, t.Shape(), t.Data()); err != nil {
			return errors.Trace(err)
		}
	}
	return nil
}

// Unmarshal reads a snapshot written by Marshal.
func (s *Snapshot) Unmarshal(r io.Reader) error {
	if err := encoding.ReadGob(r, &s.Epoch); err != nil {
		return errors.Trace(err)
	}
	if err := encoding.ReadGob(r, &s.Score); err != nil {
		return errors.Trace(err)
	}
	var tables [2]*nn.Tensor
	for i := range tables {
		shape, data, err := encoding.ReadTensor(r)
		if err != nil {
			return errors.Trace(err)
		}
		if len(shape) != 2 {
			return errors.NotValidf("embedding table of shape %v", shape)
		}
		tables[i] = nn.NewTensor(data, shape...)
	}
	if tables[0].Shape()[1] != tables[1].Shape()[1] {
		return errors.NotValidf("user width %d and item width %d", tables[0].Shape()[1], tables[1].Shape()[1])
	}
	s.UserEmbedding, s.ItemEmbedding = tables[0], tables[1]
	return nil
}
