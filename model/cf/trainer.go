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
	"context"
	"fmt"
	"io"
	"math/rand"
	"strings"

	"github.com/gorse-io/graphcf/base/encoding"
	"github.com/gorse-io/graphcf/base/log"
	"github.com/gorse-io/graphcf/base/progress"
	"github.com/gorse-io/graphcf/common/floats"
	"github.com/gorse-io/graphcf/common/nn"
	"github.com/gorse-io/graphcf/common/parallel"
	"github.com/gorse-io/graphcf/config"
	"github.com/gorse-io/graphcf/dataset"
	"github.com/juju/errors"
	"github.com/samber/lo"
	"go.uber.org/zap"
	"gonum.org/v1/gonum/mat"
)

// GradientMode selects gradients accumulated during the last epochs of training.
type GradientMode int

const (
	NoGradient GradientMode = iota
	// GraphGradient accumulates the gradient of the normalized interaction graph.
	GraphGradient
	// EmbeddingGradient accumulates gradients of the embedding tables.
	EmbeddingGradient
	BothGradients
)

func (m GradientMode) String() string {
	switch m {
	case NoGradient:
		return "none"
	case GraphGradient:
		return "graph"
	case EmbeddingGradient:
		return "embedding"
	case BothGradients:
		return "both"
	}
	return fmt.Sprintf("GradientMode(%d)", int(m))
}

func ParseGradientMode(s string) (GradientMode, error) {
	for _, m := range []GradientMode{NoGradient, GraphGradient, EmbeddingGradient, BothGradients} {
		if strings.EqualFold(s, m.String()) {
			return m, nil
		}
	}
	return NoGradient, errors.NotValidf("gradient mode %q", s)
}

func (m GradientMode) graph() bool {
	return m == GraphGradient || m == BothGradients
}

func (m GradientMode) embedding() bool {
	return m == EmbeddingGradient || m == BothGradients
}

// ErrGraphRequired is returned when graph gradients are requested from an encoder without a graph.
var ErrGraphRequired = errors.New("graph gradient requires a graph encoder")

// Result is the outcome of a training run with gradient capture. It is one of
// *GraphGradientResult, *EmbeddingGradientResult and *FullGradientResult.
type Result interface {
	gradientMode() GradientMode
}

// GraphGradientResult holds the user-item block of the symmetrized graph gradient.
type GraphGradientResult struct {
	// Grad is (M + Mᵀ)[0:users, users:] of shape (users, items).
	Grad *mat.Dense
}

func (*GraphGradientResult) gradientMode() GradientMode {
	return GraphGradient
}

// EmbeddingGradientResult holds the restored representations and accumulated table gradients.
type EmbeddingGradientResult struct {
	UserEmbedding *nn.Tensor
	ItemEmbedding *nn.Tensor
	UserGrad      *nn.Tensor
	ItemGrad      *nn.Tensor
}

func (*EmbeddingGradientResult) gradientMode() GradientMode {
	return EmbeddingGradient
}

type FullGradientResult struct {
	GraphGradientResult
	EmbeddingGradientResult
}

func (*FullGradientResult) gradientMode() GradientMode {
	return BothGradients
}

type trainOptions struct {
	epochs    int
	evalNum   int
	optimizer nn.Optimizer
}

type TrainOption func(*trainOptions)

// WithEpochs overrides the number of epochs when n is positive.
func WithEpochs(n int) TrainOption {
	return func(o *trainOptions) {
		if n > 0 {
			o.epochs = n
		}
	}
}

// WithOptimizer replaces the default Adam optimizer.
func WithOptimizer(optimizer nn.Optimizer) TrainOption {
	return func(o *trainOptions) {
		o.optimizer = optimizer
	}
}

// WithEvalNum overrides the validation cadence when n is positive.
func WithEvalNum(n int) TrainOption {
	return func(o *trainOptions) {
		if n > 0 {
			o.evalNum = n
		}
	}
}

// Recommender trains an encoder by BPR and keeps the representations of the best validation.
type Recommender struct {
	cfg       config.TrainConfig
	encoder   Encoder
	dataset   *dataset.Dataset
	callbacks []Callback
	rng       *rand.Rand

	// representations used for prediction
	userEmb *nn.Tensor
	itemEmb *nn.Tensor
	best    Snapshot
}

// NewRecommender creates a recommender. Losses and metrics are logged when no callback is given.
func NewRecommender(cfg config.TrainConfig, encoder Encoder, ds *dataset.Dataset, callbacks ...Callback) *Recommender {
	if len(callbacks) == 0 {
		callbacks = []Callback{NewLogCallback("", 100)}
	}
	return &Recommender{
		cfg:       cfg,
		encoder:   encoder,
		dataset:   ds,
		callbacks: callbacks,
		rng:       rand.New(rand.NewSource(cfg.Seed)),
	}
}

func (r *Recommender) Encoder() Encoder {
	return r.encoder
}

// Train fits the encoder. Gradients selected by mode are accumulated over every batch of
// epochs satisfying maxEpoch - epoch < grad_iteration_num. On completion the
// representations are restored to the best snapshot. Cancelling ctx stops training
// before the next epoch.
func (r *Recommender) Train(ctx context.Context, mode GradientMode, opts ...TrainOption) (Result, error) {
	o := trainOptions{epochs: r.cfg.MaxEpoch, evalNum: r.cfg.EvalNum}
	for _, opt := range opts {
		opt(&o)
	}
	graphEncoder, isGraph := r.encoder.(GraphEncoder)
	if mode.graph() && !isGraph {
		return nil, ErrGraphRequired
	}
	contrastive, _ := r.encoder.(ContrastiveEncoder)
	optimizer := o.optimizer
	if optimizer == nil {
		optimizer = nn.NewAdam(r.encoder.Parameters(), r.cfg.LearningRate)
	}
	log.Logger().Info("start training",
		zap.Int("n_users", r.dataset.CountUsers()),
		zap.Int("n_items", r.dataset.CountItems()),
		zap.Int("n_feedback", r.dataset.CountFeedback()),
		zap.Int("epochs", o.epochs),
		zap.Stringer("gradient_mode", mode))

	// create accumulators
	var (
		userCount, itemCount = r.dataset.CountUsers(), r.dataset.CountItems()
		graphGrad            *mat.Dense
		userGrad, itemGrad   *nn.Tensor
	)
	if mode.graph() {
		graphGrad = mat.NewDense(userCount+itemCount, userCount+itemCount, nil)
	}
	if mode.embedding() {
		width := r.encoder.Embedding().Width()
		userGrad = nn.Zeros(userCount, width)
		itemGrad = nn.Zeros(itemCount, width)
	}

	r.best = Snapshot{}
	ctx, span := progress.Start(ctx, "Train", o.epochs)
	defer span.End()
	for epoch := 0; epoch < o.epochs; epoch++ {
		if err := ctx.Err(); err != nil {
			progress.Fail(ctx, err)
			return nil, errors.Trace(err)
		}
		capture := o.epochs-epoch < r.cfg.GradIterationNum
		batchIndex := 0
		for batch := range r.dataset.Batches(r.rng, r.cfg.BatchSize) {
			user, item := r.encoder.Forward(false)
			userEmb := nn.Gather(user, batch.Users)
			posEmb := nn.Gather(item, batch.Positives)
			negEmb := nn.Gather(item, batch.Negatives)
			recLoss := nn.BPRLoss(userEmb, posEmb, negEmb)
			regLoss := nn.L2RegLoss(r.cfg.Reg, userEmb, posEmb)
			loss := nn.Add(recLoss, regLoss)
			var clLoss *nn.Tensor
			if contrastive != nil {
				clLoss = nn.Mul(contrastive.ContrastiveLoss(batch.Users, batch.Positives), nn.NewScalar(contrastive.ContrastiveRate()))
				loss = nn.Add(loss, clLoss)
			}

			// backward
			optimizer.ZeroGrad()
			if isGraph {
				graphEncoder.Graph().Values().ZeroGrad()
			}
			loss.Backward()
			if capture && graphGrad != nil {
				accumulateGraph(graphGrad, graphEncoder.Graph())
			}
			if capture && userGrad != nil {
				u, i := r.encoder.Embedding().Gradients()
				floats.Add(userGrad.Data(), u.Data())
				floats.Add(itemGrad.Data(), i.Data())
			}
			optimizer.Step()

			event := BatchEvent{
				Epoch:   epoch + 1,
				Batch:   batchIndex,
				Loss:    scalar(loss),
				RecLoss: scalar(recLoss),
				RegLoss: scalar(regLoss),
				CLLoss:  scalar(clLoss),
			}
			for _, callback := range r.callbacks {
				callback.OnBatch(event)
			}
			batchIndex++
		}

		// recompute representations
		user, item := r.encoder.Forward(false)
		r.userEmb, r.itemEmb = user.Detach(), item.Detach()
		if epoch%o.evalNum == 0 {
			if err := r.validate(ctx, epoch+1); err != nil {
				progress.Fail(ctx, err)
				return nil, errors.Trace(err)
			}
		}
		span.Add(1)
	}

	if r.best.Epoch > 0 {
		r.userEmb, r.itemEmb = r.best.UserEmbedding.Detach(), r.best.ItemEmbedding.Detach()
	} else if r.userEmb == nil {
		user, item := r.encoder.Forward(false)
		r.userEmb, r.itemEmb = user.Detach(), item.Detach()
	}
	log.Logger().Info("training complete",
		zap.Int("best_epoch", r.best.Epoch),
		zap.Float32("hit_ratio", r.best.Score.HitRatio),
		zap.Float32("precision", r.best.Score.Precision),
		zap.Float32("recall", r.best.Score.Recall),
		zap.Float32("ndcg", r.best.Score.NDCG))

	switch mode {
	case GraphGradient:
		return &GraphGradientResult{Grad: symmetrize(graphGrad, userCount)}, nil
	case EmbeddingGradient:
		return r.embeddingResult(userGrad, itemGrad), nil
	case BothGradients:
		return &FullGradientResult{
			GraphGradientResult:     GraphGradientResult{Grad: symmetrize(graphGrad, userCount)},
			EmbeddingGradientResult: *r.embeddingResult(userGrad, itemGrad),
		}, nil
	}
	return nil, nil
}

func (r *Recommender) embeddingResult(userGrad, itemGrad *nn.Tensor) *EmbeddingGradientResult {
	return &EmbeddingGradientResult{
		UserEmbedding: r.userEmb.Detach(),
		ItemEmbedding: r.itemEmb.Detach(),
		UserGrad:      userGrad,
		ItemGrad:      itemGrad,
	}
}

func scalar(t *nn.Tensor) float32 {
	if t == nil {
		return 0
	}
	return t.Data()[0]
}

// accumulateGraph adds the gradient of graph values to their coordinates.
func accumulateGraph(acc *mat.Dense, graph *nn.SparseTensor) {
	grad := graph.Values().Grad()
	if grad == nil {
		return
	}
	rows, cols := graph.Indices()
	for k, g := range grad.Data() {
		i, j := int(rows[k]), int(cols[k])
		acc.Set(i, j, acc.At(i, j)+float64(g))
	}
}

// symmetrize returns (M + Mᵀ)[0:users, users:].
func symmetrize(m *mat.Dense, users int) *mat.Dense {
	var sym mat.Dense
	sym.Add(m, m.T())
	n, _ := sym.Dims()
	block := mat.DenseCopyOf(sym.Slice(0, users, users, n))
	return block
}

// validate evaluates the validation set at the largest cutoff and updates the best snapshot.
func (r *Recommender) validate(ctx context.Context, epoch int) error {
	truth := r.dataset.Validation()
	topK := r.cfg.MaxK()
	lists, err := r.Recommend(ctx, truth.Users(), topK)
	if err != nil {
		return errors.Trace(err)
	}
	score := Evaluate(truth, lists, topK)[0]
	improved := r.best.Update(epoch, score, r.userEmb, r.itemEmb)
	event := EvaluateEvent{
		Epoch:     epoch,
		TopK:      topK,
		Score:     score,
		BestEpoch: r.best.Epoch,
		Best:      r.best.Score,
		Improved:  improved,
	}
	for _, callback := range r.callbacks {
		callback.OnEvaluate(event)
	}
	return nil
}

// Perturb adds deltas to the embedding tables. It must not be called during Train.
func (r *Recommender) Perturb(userDelta, itemDelta *nn.Tensor) {
	r.encoder.Embedding().Perturb(userDelta, itemDelta)
}

// Refresh recomputes representations from the current tables, e.g. after Perturb.
func (r *Recommender) Refresh() {
	user, item := r.encoder.Forward(false)
	r.userEmb, r.itemEmb = user.Detach(), item.Detach()
}

// Predict scores every item for a user. It returns nil for unknown users.
func (r *Recommender) Predict(userId string) []float32 {
	userIndex, ok := r.dataset.GetUserIndex(userId)
	if !ok {
		return nil
	}
	return r.predict(userIndex)
}

func (r *Recommender) predict(userIndex int32) []float32 {
	if r.userEmb == nil {
		r.Refresh()
	}
	userVec := r.userEmb.Row(int(userIndex))
	scores := make([]float32, r.dataset.CountItems())
	for i := range scores {
		scores[i] = floats.Dot(userVec, r.itemEmb.Row(i))
	}
	return scores
}

// Recommend returns the top k items for each user. Items rated in training are never recommended
// unless fewer than k items are left, in which case they fill the tail with the masked score.
func (r *Recommender) Recommend(ctx context.Context, users []string, k int) ([]RecommendList, error) {
	if r.userEmb == nil {
		r.Refresh()
	}
	lists := make([]RecommendList, len(users))
	_, span := progress.Start(ctx, "Recommend", len(users))
	defer span.End()
	err := parallel.Parallel(ctx, len(users), r.cfg.Jobs, func(_, jobId int) error {
		lists[jobId].UserId = users[jobId]
		userIndex, ok := r.dataset.GetUserIndex(users[jobId])
		if !ok {
			return nil
		}
		scores := r.predict(userIndex)
		maskRated(r.dataset, userIndex, scores)
		indices, values := Rank(scores, k)
		lists[jobId].Items = make([]lo.Tuple2[string, float32], len(indices))
		for i, index := range indices {
			lists[jobId].Items[i] = lo.Tuple2[string, float32]{A: r.dataset.GetItemId(index), B: values[i]}
		}
		span.Add(1)
		return nil
	})
	if err != nil {
		span.Fail(err)
		return nil, errors.Trace(err)
	}
	return lists, nil
}

// Test evaluates the test set at every configured cutoff.
func (r *Recommender) Test(ctx context.Context) ([]Score, []RecommendList, error) {
	truth := r.dataset.Test()
	lists, err := r.Recommend(ctx, truth.Users(), r.cfg.MaxK())
	if err != nil {
		return nil, nil, errors.Trace(err)
	}
	return Evaluate(truth, lists, r.cfg.TopK...), lists, nil
}

// WriteRecommendations renders lists as "user: (item,score)..." lines, marking hits by "*".
func WriteRecommendations(w io.Writer, lists []RecommendList, truth *dataset.HoldOut) error {
	if _, err := io.WriteString(w, "userId: recommendations in (itemId, ranking score) pairs, * means the item is hit.\n"); err != nil {
		return errors.Trace(err)
	}
	for _, list := range lists {
		hits := lo.SliceToMap(truth.Items(list.UserId), func(item string) (string, struct{}) {
			return item, struct{}{}
		})
		var builder strings.Builder
		builder.WriteString(list.UserId)
		builder.WriteString(":")
		for _, item := range list.Items {
			builder.WriteString(" (")
			builder.WriteString(item.A)
			builder.WriteString(",")
			builder.WriteString(encoding.FormatFloat32(item.B))
			builder.WriteString(")")
			if _, ok := hits[item.A]; ok {
				builder.WriteString("*")
			}
		}
		builder.WriteString("\n")
		if _, err := io.WriteString(w, builder.String()); err != nil {
			return errors.Trace(err)
		}
	}
	return nil
}

// Snapshot returns the best snapshot of the last training run.
func (r *Recommender) Snapshot() Snapshot {
	return r.best
}

func (r *Recommender) MarshalSnapshot(w io.Writer) error {
	return r.best.Marshal(w)
}

// UnmarshalSnapshot loads a snapshot and uses it for prediction.
func (r *Recommender) UnmarshalSnapshot(rd io.Reader) error {
	var snapshot Snapshot
	if err := snapshot.Unmarshal(rd); err != nil {
		return errors.Trace(err)
	}
	if snapshot.UserEmbedding.Shape()[0] != r.dataset.CountUsers() || snapshot.ItemEmbedding.Shape()[0] != r.dataset.CountItems() {
		return errors.NotValidf("snapshot of %d users and %d items",
			snapshot.UserEmbedding.Shape()[0], snapshot.ItemEmbedding.Shape()[0])
	}
	r.best = snapshot
	r.userEmb, r.itemEmb = snapshot.UserEmbedding.Detach(), snapshot.ItemEmbedding.Detach()
	return nil
}
