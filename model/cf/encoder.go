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
	"math/rand"
	"slices"

	"github.com/chewxy/math32"
	mapset "github.com/deckarep/golang-set/v2"
	"github.com/gorse-io/graphcf/common/nn"
	"github.com/gorse-io/graphcf/config"
	"github.com/gorse-io/graphcf/dataset"
	"github.com/juju/errors"
	"github.com/samber/lo"
)

// Encoder maps embedding tables to user and item representations.
type Encoder interface {
	// Forward computes representations of all users and items. Stochastic
	// augmentation is applied when perturbed is set and the encoder supports it.
	Forward(perturbed bool) (user, item *nn.Tensor)
	Parameters() []*nn.Tensor
	Embedding() Embedding
}

// GraphEncoder propagates embeddings over the normalized interaction graph.
type GraphEncoder interface {
	Encoder
	Graph() *nn.SparseTensor
}

// ContrastiveEncoder adds a self-supervised loss to the ranking loss.
type ContrastiveEncoder interface {
	Encoder
	ContrastiveLoss(users, items []int32) *nn.Tensor
	// ContrastiveRate is the weight of the contrastive loss.
	ContrastiveRate() float32
}

// NewEncoder creates the encoder named by cfg for a dataset.
func NewEncoder(cfg config.ModelConfig, ds *dataset.Dataset) (Encoder, error) {
	rng := rand.New(rand.NewSource(cfg.Seed))
	switch cfg.Name {
	case config.NCF:
		return NewNCFEncoder(rng, ds.CountUsers(), ds.CountItems(), cfg.EmbSize, cfg.MLPSizes), nil
	case config.SimGCL:
		return NewSimGCLEncoder(rng, ds.NormalizedGraph(), ds.CountUsers(), ds.CountItems(), cfg), nil
	}
	return nil, errors.NotSupportedf("model %q", cfg.Name)
}

// NCFEncoder concatenates a matrix factorization channel with a deep channel. The
// deep channel feeds the MLP tables through fully connected layers, each followed by ReLU.
type NCFEncoder struct {
	embedding *SplitEmbedding
	mlp       *nn.MLP
}

// NewNCFEncoder creates an encoder whose layer widths are sizes multiplied by width.
func NewNCFEncoder(rng *rand.Rand, users, items, width int, sizes []int) *NCFEncoder {
	dims := lo.Map(sizes, func(size int, _ int) int { return size * width })
	return &NCFEncoder{
		mlp:       nn.NewMLP(rng, dims...),
		embedding: NewSplitEmbedding(rng, users, items, width, width),
	}
}

func (e *NCFEncoder) Forward(bool) (user, item *nn.Tensor) {
	userCount, itemCount := e.embedding.UserCount(), e.embedding.ItemCount()
	mlp := e.mlp.Forward(nn.Concat(0, e.embedding.Users[1], e.embedding.Items[1]))
	userMLP := nn.Slice(mlp, 0, userCount)
	itemMLP := nn.Slice(mlp, userCount, userCount+itemCount)
	user = nn.Concat(1, e.embedding.Users[0], userMLP)
	item = nn.Concat(1, e.embedding.Items[0], itemMLP)
	return
}

func (e *NCFEncoder) Parameters() []*nn.Tensor {
	return append(e.embedding.Parameters(), e.mlp.Parameters()...)
}

func (e *NCFEncoder) Embedding() Embedding {
	return e.embedding
}

// SimGCLEncoder is a LightGCN-style encoder with uniform noise added to every
// propagation hop for contrastive views.
type SimGCLEncoder struct {
	embedding   *PlainEmbedding
	graph       *nn.SparseTensor
	nLayers     int
	eps         float32
	clRate      float32
	temperature float32
	rng         *rand.Rand
}

func NewSimGCLEncoder(rng *rand.Rand, graph *nn.SparseTensor, users, items int, cfg config.ModelConfig) *SimGCLEncoder {
	return &SimGCLEncoder{
		embedding:   NewPlainEmbedding(rng, users, items, cfg.EmbSize),
		graph:       graph,
		nLayers:     cfg.NLayers,
		eps:         cfg.Eps,
		clRate:      cfg.CLRate,
		temperature: cfg.Temperature,
		rng:         rng,
	}
}

func (e *SimGCLEncoder) Forward(perturbed bool) (user, item *nn.Tensor) {
	userCount, itemCount := e.embedding.UserCount(), e.embedding.ItemCount()
	ego := nn.Concat(0, e.embedding.User, e.embedding.Item)
	var total *nn.Tensor
	for k := 0; k < e.nLayers; k++ {
		ego = nn.SpMM(e.graph, ego)
		if perturbed {
			ego = nn.Add(ego, e.noise(ego))
		}
		if total == nil {
			total = ego
		} else {
			total = nn.Add(total, ego)
		}
	}
	mean := nn.Mul(total, nn.NewScalar(1/float32(e.nLayers)))
	user = nn.Slice(mean, 0, userCount)
	item = nn.Slice(mean, userCount, userCount+itemCount)
	return
}

// noise returns sign(x) * normalize(U[0, 1)) * eps row by row. The noise is a
// constant, so no gradient flows through the sign.
func (e *SimGCLEncoder) noise(x *nn.Tensor) *nn.Tensor {
	shape := x.Shape()
	noise := nn.Uniform(e.rng, 0, 1, shape...)
	for i := 0; i < shape[0]; i++ {
		row, src := noise.Row(i), x.Row(i)
		var norm float32
		for _, v := range row {
			norm += v * v
		}
		norm = max(math32.Sqrt(norm), 1e-12)
		for j := range row {
			row[j] = sign(src[j]) * row[j] / norm * e.eps
		}
	}
	return noise
}

func sign(x float32) float32 {
	switch {
	case x > 0:
		return 1
	case x < 0:
		return -1
	}
	return 0
}

// ContrastiveLoss computes InfoNCE between two perturbed views over the unique
// users and items of a batch.
func (e *SimGCLEncoder) ContrastiveLoss(users, items []int32) *nn.Tensor {
	userIndices := mapset.NewSet(users...).ToSlice()
	itemIndices := mapset.NewSet(items...).ToSlice()
	slices.Sort(userIndices)
	slices.Sort(itemIndices)
	userView1, itemView1 := e.Forward(true)
	userView2, itemView2 := e.Forward(true)
	userLoss := nn.InfoNCE(nn.Gather(userView1, userIndices), nn.Gather(userView2, userIndices), e.temperature)
	itemLoss := nn.InfoNCE(nn.Gather(itemView1, itemIndices), nn.Gather(itemView2, itemIndices), e.temperature)
	return nn.Add(userLoss, itemLoss)
}

func (e *SimGCLEncoder) ContrastiveRate() float32 {
	return e.clRate
}

func (e *SimGCLEncoder) Parameters() []*nn.Tensor {
	return e.embedding.Parameters()
}

func (e *SimGCLEncoder) Embedding() Embedding {
	return e.embedding
}

func (e *SimGCLEncoder) Graph() *nn.SparseTensor {
	return e.graph
}
