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

	"github.com/gorse-io/graphcf/base/log"
	"github.com/gorse-io/graphcf/model/cf"
	"github.com/gorse-io/graphcf/storage/blob"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

const (
	snapshotFile        = "snapshot.bin"
	recommendationsFile = "recommendations.txt"
)

var trainCommand = &cobra.Command{
	Use:   "train",
	Short: "Train a model, evaluate the test set and save the best snapshot",
	Run: func(cmd *cobra.Command, args []string) {
		conf := loadConfig(cmd)
		store := openBlob(conf)
		s := newSession(conf)
		defer s.close()

		ctx := cmd.Context()
		if _, err := s.recommender.Train(ctx, cf.NoGradient); err != nil {
			log.Logger().Fatal("failed to train", zap.Error(err))
		}
		lists := s.test(ctx)
		saveSnapshot(ctx, store, artifactName(conf, snapshotFile), s.recommender)
		saveRecommendations(ctx, store, artifactName(conf, recommendationsFile), s, lists)
	},
}

var testCommand = &cobra.Command{
	Use:   "test",
	Short: "Evaluate the test set with a saved snapshot",
	Run: func(cmd *cobra.Command, args []string) {
		conf := loadConfig(cmd)
		store := openBlob(conf)
		s := newSession(conf)
		defer s.close()

		ctx := cmd.Context()
		name := artifactName(conf, snapshotFile)
		if err := blob.Read(ctx, store, name, s.recommender.UnmarshalSnapshot); err != nil {
			log.Logger().Fatal("failed to load snapshot", zap.String("name", name), zap.Error(err))
		}
		log.Logger().Info("load snapshot", zap.String("name", name), zap.Int("epoch", s.recommender.Snapshot().Epoch))
		lists := s.test(ctx)
		saveRecommendations(ctx, store, artifactName(conf, recommendationsFile), s, lists)
	},
}

func init() {
	rootCommand.AddCommand(trainCommand)
	rootCommand.AddCommand(testCommand)
}

func saveSnapshot(ctx context.Context, store blob.Store, name string, recommender *cf.Recommender) {
	if err := blob.Write(ctx, store, name, recommender.MarshalSnapshot); err != nil {
		log.Logger().Fatal("failed to save snapshot", zap.String("name", name), zap.Error(err))
	}
	log.Logger().Info("save snapshot", zap.String("name", name))
}

func saveRecommendations(ctx context.Context, store blob.Store, name string, s *session, lists []cf.RecommendList) {
	err := blob.Write(ctx, store, name, func(w io.Writer) error {
		return cf.WriteRecommendations(w, lists, s.dataset.Test())
	})
	if err != nil {
		log.Logger().Fatal("failed to save recommendations", zap.String("name", name), zap.Error(err))
	}
	log.Logger().Info("save recommendations", zap.String("name", name), zap.Int("n_users", len(lists)))
}
