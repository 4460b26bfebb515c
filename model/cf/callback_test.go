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
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
)

func TestPrometheusCallback(t *testing.T) {
	registry := prometheus.NewRegistry()
	callback := NewPrometheusCallback(registry, "simgcl")
	callback.OnBatch(BatchEvent{Epoch: 3, Loss: 0.7, RecLoss: 0.5, RegLoss: 0.05, CLLoss: 0.15})
	assert.Equal(t, float64(3), testutil.ToFloat64(callback.epoch))
	assert.InDelta(t, 0.7, testutil.ToFloat64(callback.loss.WithLabelValues("total")), 1e-6)
	assert.InDelta(t, 0.15, testutil.ToFloat64(callback.loss.WithLabelValues("cl")), 1e-6)

	callback.OnEvaluate(EvaluateEvent{
		Epoch: 3,
		Score: Score{HitRatio: 0.1, Precision: 0.2, Recall: 0.3, NDCG: 0.4},
		Best:  Score{HitRatio: 0.5, Precision: 0.6, Recall: 0.7, NDCG: 0.8},
	})
	assert.InDelta(t, 0.3, testutil.ToFloat64(callback.currentScore.WithLabelValues("recall")), 1e-6)
	assert.InDelta(t, 0.8, testutil.ToFloat64(callback.bestScore.WithLabelValues("ndcg")), 1e-6)

	count, err := testutil.GatherAndCount(registry, "graphcf_eval_best_score")
	assert.NoError(t, err)
	assert.Equal(t, 4, count)

	// a second model on the same registry is rejected
	assert.Panics(t, func() {
		NewPrometheusCallback(registry, "simgcl")
	})
}

func TestLogCallback(t *testing.T) {
	callback := NewLogCallback("ncf", 0)
	assert.Equal(t, 1, callback.interval)
	assert.NotPanics(t, func() {
		callback.OnBatch(BatchEvent{Epoch: 1, Batch: 0, Loss: 0.5})
		callback.OnEvaluate(EvaluateEvent{Epoch: 1, TopK: 20})
	})
}
