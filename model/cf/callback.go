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
	"github.com/gorse-io/graphcf/base/log"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"go.uber.org/zap"
)

// BatchEvent is emitted after every optimizer step.
type BatchEvent struct {
	// Epoch is 1-based.
	Epoch   int
	Batch   int
	Loss    float32
	RecLoss float32
	RegLoss float32
	CLLoss  float32
}

// EvaluateEvent is emitted after every validation.
type EvaluateEvent struct {
	// Epoch is 1-based.
	Epoch     int
	TopK      int
	Score     Score
	BestEpoch int
	Best      Score
	Improved  bool
}

// Callback observes a training run. Callbacks are invoked on the training goroutine.
type Callback interface {
	OnBatch(BatchEvent)
	OnEvaluate(EvaluateEvent)
}

// LogCallback writes losses and metrics to the global logger.
type LogCallback struct {
	model    string
	interval int
}

// NewLogCallback logs every interval-th batch and every evaluation.
func NewLogCallback(model string, interval int) *LogCallback {
	return &LogCallback{model: model, interval: max(interval, 1)}
}

func (c *LogCallback) OnBatch(e BatchEvent) {
	if e.Batch%c.interval != 0 {
		return
	}
	fields := []zap.Field{
		zap.String("model", c.model),
		zap.Int("epoch", e.Epoch),
		zap.Int("batch", e.Batch),
		zap.Float32("loss", e.Loss),
		zap.Float32("rec_loss", e.RecLoss),
		zap.Float32("reg_loss", e.RegLoss),
	}
	if e.CLLoss != 0 {
		fields = append(fields, zap.Float32("cl_loss", e.CLLoss))
	}
	log.Logger().Info("training", fields...)
}

func (c *LogCallback) OnEvaluate(e EvaluateEvent) {
	log.Logger().Info("evaluate",
		zap.String("model", c.model),
		zap.Int("epoch", e.Epoch),
		zap.Int("top_k", e.TopK),
		zap.Float32("hit_ratio", e.Score.HitRatio),
		zap.Float32("precision", e.Score.Precision),
		zap.Float32("recall", e.Score.Recall),
		zap.Float32("ndcg", e.Score.NDCG),
		zap.Bool("improved", e.Improved))
	log.Logger().Info("best performance",
		zap.String("model", c.model),
		zap.Int("epoch", e.BestEpoch),
		zap.Float32("hit_ratio", e.Best.HitRatio),
		zap.Float32("precision", e.Best.Precision),
		zap.Float32("recall", e.Best.Recall),
		zap.Float32("ndcg", e.Best.NDCG))
}

const (
	LabelModel  = "model"
	LabelLoss   = "loss"
	LabelMetric = "metric"
)

// PrometheusCallback exports losses and metrics as gauges.
type PrometheusCallback struct {
	model        string
	epoch        prometheus.Gauge
	loss         *prometheus.GaugeVec
	currentScore *prometheus.GaugeVec
	bestScore    *prometheus.GaugeVec
}

func NewPrometheusCallback(registerer prometheus.Registerer, model string) *PrometheusCallback {
	factory := promauto.With(registerer)
	return &PrometheusCallback{
		model: model,
		epoch: factory.NewGauge(prometheus.GaugeOpts{
			Namespace:   "graphcf",
			Subsystem:   "train",
			Name:        "epoch",
			ConstLabels: prometheus.Labels{LabelModel: model},
		}),
		loss: factory.NewGaugeVec(prometheus.GaugeOpts{
			Namespace:   "graphcf",
			Subsystem:   "train",
			Name:        "loss",
			ConstLabels: prometheus.Labels{LabelModel: model},
		}, []string{LabelLoss}),
		currentScore: factory.NewGaugeVec(prometheus.GaugeOpts{
			Namespace:   "graphcf",
			Subsystem:   "eval",
			Name:        "current_score",
			ConstLabels: prometheus.Labels{LabelModel: model},
		}, []string{LabelMetric}),
		bestScore: factory.NewGaugeVec(prometheus.GaugeOpts{
			Namespace:   "graphcf",
			Subsystem:   "eval",
			Name:        "best_score",
			ConstLabels: prometheus.Labels{LabelModel: model},
		}, []string{LabelMetric}),
	}
}

func (c *PrometheusCallback) OnBatch(e BatchEvent) {
	c.epoch.Set(float64(e.Epoch))
	c.loss.WithLabelValues("total").Set(float64(e.Loss))
	c.loss.WithLabelValues("rec").Set(float64(e.RecLoss))
	c.loss.WithLabelValues("reg").Set(float64(e.RegLoss))
	c.loss.WithLabelValues("cl").Set(float64(e.CLLoss))
}

func (c *PrometheusCallback) OnEvaluate(e EvaluateEvent) {
	setScore(c.currentScore, e.Score)
	setScore(c.bestScore, e.Best)
}

func setScore(vec *prometheus.GaugeVec, score Score) {
	vec.WithLabelValues("hit_ratio").Set(float64(score.HitRatio))
	vec.WithLabelValues("precision").Set(float64(score.Precision))
	vec.WithLabelValues("recall").Set(float64(score.Recall))
	vec.WithLabelValues("ndcg").Set(float64(score.NDCG))
}
