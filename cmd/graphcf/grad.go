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
	"context"
	"io"

	"github.com/gorse-io/graphcf/base/encoding"
	"github.com/gorse-io/graphcf/base/log"
	"github.com/gorse-io/graphcf/common/nn"
	"github.com/gorse-io/graphcf/model/cf"
	"github.com/gorse-io/graphcf/storage/blob"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"gonum.org/v1/gonum/mat"
)

var gradCommand = &cobra.Command{
	Use:   "grad",
	Short: "Train a model and dump gradients accumulated in the last epochs",
	Run: func(cmd *cobra.Command, args []string) {
		conf := loadConfig(cmd)
		modeName, _ := cmd.Flags().GetString("mode")
		mode, err := cf.ParseGradientMode(modeName)
		if err != nil {
			log.Logger().Fatal("invalid gradient mode", zap.Error(err))
		}
		store := openBlob(conf)
		s := newSession(conf)
		defer s.close()

		ctx := cmd.Context()
		result, err := s.recommender.Train(ctx, mode)
		if err != nil {
			log.Logger().Fatal("failed to train", zap.Error(err))
		}
		switch result := result.(type) {
		case *cf.GraphGradientResult:
			saveMatrix(ctx, store, artifactName(conf, "graph_grad.bin"), result.Grad)
		case *cf.EmbeddingGradientResult:
			saveEmbeddingResult(ctx, store, conf.Model.Name, result)
		case *cf.FullGradientResult:
			saveMatrix(ctx, store, artifactName(conf, "graph_grad.bin"), result.Grad)
			saveEmbeddingResult(ctx, store, conf.Model.Name, &result.EmbeddingGradientResult)
		}
		s.test(ctx)
		saveSnapshot(ctx, store, artifactName(conf, snapshotFile), s.recommender)
	},
}

func init() {
	rootCommand.AddCommand(gradCommand)
	gradCommand.Flags().String("mode", cf.GraphGradient.String(), "gradients to capture (graph, embedding or both)")
}

func saveMatrix(ctx context.Context, store blob.Store, name string, m *mat.Dense) {
	err := blob.Write(ctx, store, name, func(w io.Writer) error {
		_, err := m.MarshalBinaryTo(w)
		return err
	})
	if err != nil {
		log.Logger().Fatal("failed to save matrix", zap.String("name", name), zap.Error(err))
	}
	rows, cols := m.Dims()
	log.Logger().Info("save matrix", zap.String("name", name), zap.Int("rows", rows), zap.Int("cols", cols))
}

func saveTensor(ctx context.Context, store blob.Store, name string, t *nn.Tensor) {
	err := blob.Write(ctx, store, name, func(w io.Writer) error {
		return encoding.WriteTensor(w, t.Shape(), t.Data())
	})
	if err != nil {
		log.Logger().Fatal("failed to save tensor", zap.String("name", name), zap.Error(err))
	}
	log.Logger().Info("save tensor", zap.String("name", name), zap.Ints("shape", t.Shape()))
}

func saveEmbeddingResult(ctx context.Context, store blob.Store, model string, result *cf.EmbeddingGradientResult) {
	saveTensor(ctx, store, model+"_user_emb.bin", result.UserEmbedding)
	saveTensor(ctx, store, model+"_item_emb.bin", result.ItemEmbedding)
	saveTensor(ctx, store, model+"_user_grad.bin", result.UserGrad)
	saveTensor(ctx, store, model+"_item_grad.bin", result.ItemGrad)
}
