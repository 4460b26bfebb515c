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

package history

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/gorse-io/graphcf/base/log"
	"github.com/gorse-io/graphcf/model/cf"
	"go.uber.org/zap"
)

// Callback records every validation of a training run.
type Callback struct {
	store Store
	runID string
	model string
}

// NewCallback creates a callback for a new run with a random identifier.
func NewCallback(store Store, model string) *Callback {
	return &Callback{store: store, runID: uuid.NewString(), model: model}
}

func (c *Callback) RunID() string {
	return c.runID
}

func (c *Callback) OnBatch(cf.BatchEvent) {}

// OnEvaluate inserts the evaluation. Failures are logged and never stop training.
func (c *Callback) OnEvaluate(e cf.EvaluateEvent) {
	if err := c.store.Insert(context.Background(), c.evaluation(e.Epoch, e.TopK, e.Score, e.Improved)); err != nil {
		log.Logger().Error("failed to insert evaluation", zap.String("run_id", c.runID), zap.Error(err))
	}
}

// RecordTest inserts test scores at every cutoff. Test rows are marked by epoch zero.
func (c *Callback) RecordTest(ctx context.Context, topK []int, scores []cf.Score) error {
	evaluations := make([]Evaluation, len(scores))
	for i, score := range scores {
		evaluations[i] = c.evaluation(0, topK[i], score, false)
	}
	return c.store.Insert(ctx, evaluations...)
}

func (c *Callback) evaluation(epoch, topK int, score cf.Score, best bool) Evaluation {
	return Evaluation{
		RunID:     c.runID,
		Model:     c.model,
		Epoch:     epoch,
		TopK:      topK,
		HitRatio:  score.HitRatio,
		Precision: score.Precision,
		Recall:    score.Recall,
		NDCG:      score.NDCG,
		Best:      best,
		CreatedAt: time.Now().UTC(),
	}
}
