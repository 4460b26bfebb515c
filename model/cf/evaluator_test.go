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
	"bytes"
	"context"
	"testing"

	mapset "github.com/deckarep/golang-set/v2"
	"github.com/gorse-io/graphcf/base/encoding"
	"github.com/gorse-io/graphcf/common/nn"
	"github.com/gorse-io/graphcf/config"
	"github.com/gorse-io/graphcf/dataset"
	"github.com/juju/errors"
	"github.com/samber/lo"
	"github.com/stretchr/testify/assert"
)

const evalEpsilon = 0.00001

func TestRank(t *testing.T) {
	indices, scores := Rank([]float32{0.1, 0.5, -1, 0.3, 0.5}, 3)
	assert.Equal(t, []int32{1, 4, 3}, indices)
	assert.Equal(t, []float32{0.5, 0.5, 0.3}, scores)

	// deterministic for a fixed score vector
	again, _ := Rank([]float32{0.1, 0.5, -1, 0.3, 0.5}, 3)
	assert.Equal(t, indices, again)

	// k larger than the catalog
	indices, _ = Rank([]float32{0.1, 0.2}, 5)
	assert.Equal(t, []int32{1, 0}, indices)
}

func TestNDCG(t *testing.T) {
	targetSet := mapset.NewSet("1", "3", "5", "7")
	rankList := []string{"0", "1", "2", "3", "4", "5", "6", "7", "8", "9"}
	assert.InDelta(t, 0.6766372989, NDCG(targetSet, rankList, 10), evalEpsilon)
	assert.Equal(t, 4, Hits(targetSet, rankList))
}

func newEvalDataset() *dataset.Dataset {
	ds := dataset.NewDataset()
	for _, item := range []string{"a", "b", "c", "x", "y", "z", "w"} {
		ds.AddFeedback("u0", item)
	}
	ds.AddFeedback("u1", "x")
	ds.AddFeedback("u2", "y")
	ds.AddTest("u1", "a")
	ds.AddTest("u1", "b")
	ds.AddTest("u2", "c")
	return ds
}

func TestEvaluate(t *testing.T) {
	ds := newEvalDataset()
	lists := []RecommendList{
		{UserId: "u1", Items: []lo.Tuple2[string, float32]{{A: "a", B: 3}, {A: "x", B: 2}, {A: "b", B: 1}}},
		{UserId: "u2", Items: []lo.Tuple2[string, float32]{{A: "y", B: 3}, {A: "z", B: 2}, {A: "w", B: 1}}},
	}
	scores := Evaluate(ds.Test(), lists, 2, 3)
	assert.Len(t, scores, 2)
	assert.InDelta(t, 1.0/3, scores[0].HitRatio, evalEpsilon)
	assert.InDelta(t, 0.25, scores[0].Precision, evalEpsilon)
	assert.InDelta(t, 0.25, scores[0].Recall, evalEpsilon)
	assert.InDelta(t, 0.30657, scores[0].NDCG, evalEpsilon)
	assert.InDelta(t, 2.0/3, scores[1].HitRatio, evalEpsilon)
	assert.InDelta(t, 1.0/3, scores[1].Precision, evalEpsilon)
	assert.InDelta(t, 0.5, scores[1].Recall, evalEpsilon)
	assert.InDelta(t, 0.45986, scores[1].NDCG, evalEpsilon)

	// no users
	assert.Equal(t, []Score{{}}, Evaluate(ds.Test(), nil, 10))
}

func TestSnapshot_Update(t *testing.T) {
	user, item := nn.Ones(3, 2), nn.Ones(2, 2)
	var snapshot Snapshot

	// the first evaluation is always stored
	assert.True(t, snapshot.Update(1, Score{HitRatio: 0.5, Precision: 0.5, Recall: 0.5, NDCG: 0.5}, user, item))
	assert.Equal(t, 1, snapshot.Epoch)

	// copies are stored
	user.Data()[0] = 100
	assert.Equal(t, float32(1), snapshot.UserEmbedding.Data()[0])

	// strictly worse never replaces
	assert.False(t, snapshot.Update(2, Score{HitRatio: 0.4, Precision: 0.4, Recall: 0.4, NDCG: 0.4}, user, item))
	assert.Equal(t, 1, snapshot.Epoch)

	// two better and two worse keeps the stored one
	assert.False(t, snapshot.Update(3, Score{HitRatio: 0.6, Precision: 0.6, Recall: 0.4, NDCG: 0.4}, user, item))
	assert.Equal(t, 1, snapshot.Epoch)

	// ties favor the current one
	assert.True(t, snapshot.Update(4, Score{HitRatio: 0.5, Precision: 0.5, Recall: 0.5, NDCG: 0.5}, user, item))
	assert.Equal(t, 4, snapshot.Epoch)
	assert.Equal(t, float32(100), snapshot.UserEmbedding.Data()[0])

	// three better replaces
	assert.True(t, snapshot.Update(5, Score{HitRatio: 0.6, Precision: 0.6, Recall: 0.6, NDCG: 0.4}, user, item))
	assert.Equal(t, 5, snapshot.Epoch)
	assert.Equal(t, float32(0.6), snapshot.Score.HitRatio)
}

func TestSnapshot_Marshal(t *testing.T) {
	var snapshot Snapshot
	buf := bytes.NewBuffer(nil)
	assert.Error(t, snapshot.Marshal(buf))

	snapshot.Update(7, Score{HitRatio: 0.1, Precision: 0.2, Recall: 0.3, NDCG: 0.4},
		nn.NewTensor([]float32{1, 2, 3, 4, 5, 6}, 3, 2),
		nn.NewTensor([]float32{-1, -2}, 1, 2))
	buf.Reset()
	assert.NoError(t, snapshot.Marshal(buf))

	var copied Snapshot
	assert.NoError(t, copied.Unmarshal(buf))
	assert.Equal(t, snapshot.Epoch, copied.Epoch)
	assert.Equal(t, snapshot.Score, copied.Score)
	assert.Equal(t, []int{3, 2}, copied.UserEmbedding.Shape())
	assert.Equal(t, snapshot.UserEmbedding.Data(), copied.UserEmbedding.Data())
	assert.Equal(t, snapshot.ItemEmbedding.Data(), copied.ItemEmbedding.Data())
}

// rawSnapshot encodes a snapshot whose tables have the given shapes.
func rawSnapshot(t *testing.T, shapes ...[]int) *bytes.Buffer {
	buf := bytes.NewBuffer(nil)
	assert.NoError(t, encoding.WriteGob(buf, 1))
	assert.NoError(t, encoding.WriteGob(buf, Score{}))
	for _, shape := range shapes {
		size := 1
		for _, d := range shape {
			size *= d
		}
		assert.NoError(t, encoding.WriteTensor(buf, shape, make([]float32, size)))
	}
	return buf
}

func TestSnapshot_UnmarshalInvalid(t *testing.T) {
	for _, shapes := range [][][]int{
		{{}, {}},
		{{3}, {2}},
		{{3, 2}, {2, 2, 1}},
		{{3, 2}, {2, 3}},
	} {
		var snapshot Snapshot
		err := snapshot.Unmarshal(rawSnapshot(t, shapes...))
		assert.True(t, errors.Is(err, errors.NotValid), "shapes %v", shapes)
		assert.Nil(t, snapshot.UserEmbedding)
	}

	// truncated
	var snapshot Snapshot
	assert.Error(t, snapshot.Unmarshal(rawSnapshot(t, []int{3, 2})))
}

func TestRecommend_Mask(t *testing.T) {
	ds := newEvalDataset()
	encoder, err := NewEncoder(newTestModelConfig(config.SimGCL), ds)
	assert.NoError(t, err)
	trainConfig := config.GetDefaultConfig().Train
	trainConfig.Jobs = 2
	r := NewRecommender(trainConfig, encoder, ds)

	lists, err := r.Recommend(context.Background(), []string{"u1", "u2", "u0", "unknown"}, 3)
	assert.NoError(t, err)
	assert.Len(t, lists, 4)
	for _, list := range lists[:2] {
		assert.Len(t, list.Items, 3)
		rated := mapset.NewSet(ds.UserRated(list.UserId)...)
		minScore := list.Items[len(list.Items)-1].B
		for _, item := range list.Items {
			assert.False(t, rated.Contains(item.A))
		}
		// every masked item scores below every recommended item
		assert.Greater(t, minScore, maskScore)
	}

	// a user who rated every item gets sentinel scores
	assert.Equal(t, "u0", lists[2].UserId)
	assert.Len(t, lists[2].Items, 3)
	for _, item := range lists[2].Items {
		assert.Equal(t, maskScore, item.B)
	}

	// unknown users get empty lists
	assert.Equal(t, "unknown", lists[3].UserId)
	assert.Empty(t, lists[3].Items)
}
