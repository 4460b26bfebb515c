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

package main

import (
	"fmt"
	"os"

	"github.com/gorse-io/graphcf/base/encoding"
	"github.com/gorse-io/graphcf/model/cf"
	"github.com/olekukonko/tablewriter"
	"github.com/schollz/progressbar/v3"
)

// progressCallback draws a progress bar of epochs on stderr.
type progressCallback struct {
	bar   *progressbar.ProgressBar
	epoch int
}

func newProgressCallback(epochs int) *progressCallback {
	return &progressCallback{
		bar: progressbar.NewOptions(epochs,
			progressbar.OptionSetDescription("Training"),
			progressbar.OptionSetWriter(os.Stderr),
			progressbar.OptionShowCount(),
			progressbar.OptionSetPredictTime(true),
			progressbar.OptionClearOnFinish(),
		),
	}
}

func (c *progressCallback) OnBatch(e cf.BatchEvent) {
	if e.Epoch != c.epoch {
		c.epoch = e.Epoch
		_ = c.bar.Set(e.Epoch - 1)
	}
	c.bar.Describe(fmt.Sprintf("Training (loss %s)", encoding.FormatFloat32(e.Loss)))
}

func (c *progressCallback) OnEvaluate(e cf.EvaluateEvent) {
	c.bar.Describe(fmt.Sprintf("Training (best epoch %d, recall %s)", e.BestEpoch, encoding.FormatFloat32(e.Best.Recall)))
}

func (c *progressCallback) finish() {
	_ = c.bar.Finish()
}

// renderScores prints test scores at every cutoff as a table.
func renderScores(topK []int, scores []cf.Score) error {
	table := tablewriter.NewWriter(os.Stdout)
	table.Header("Top K", "Hit Ratio", "Precision", "Recall", "NDCG")
	for i, score := range scores {
		if err := table.Append([]string{
			fmt.Sprint(topK[i]),
			encoding.FormatFloat32(score.HitRatio),
			encoding.FormatFloat32(score.Precision),
			encoding.FormatFloat32(score.Recall),
			encoding.FormatFloat32(score.NDCG),
		}); err != nil {
			return err
		}
	}
	return table.Render()
}
