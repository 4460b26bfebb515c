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
	"io"
	"math/rand"
	"strings"

	"github.com/gorse-io/graphcf/attack"
	"github.com/gorse-io/graphcf/base/log"
	"github.com/gorse-io/graphcf/storage/blob"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"gonum.org/v1/gonum/mat"
)

var targetsCommand = &cobra.Command{
	Use:   "targets",
	Short: "Select target items for an attack or load the cached selection",
	Run: func(cmd *cobra.Command, args []string) {
		conf := loadConfig(cmd)
		store := openBlob(conf)
		ds := loadDataset(conf)
		rng := rand.New(rand.NewSource(conf.Train.Seed))
		targets, err := attack.LoadOrSelectTargets(cmd.Context(), store, rng, ds, conf.Attack)
		if err != nil {
			log.Logger().Fatal("failed to select targets", zap.Error(err))
		}
		fmt.Println(strings.Join(targets, ","))
	},
}

var poisonCommand = &cobra.Command{
	Use:   "poison",
	Short: "Append fake user ratings to the training set and save the poisoned ratings",
	Run: func(cmd *cobra.Command, args []string) {
		conf := loadConfig(cmd)
		fakeName, _ := cmd.Flags().GetString("fake")
		outputName, _ := cmd.Flags().GetString("output")
		store := openBlob(conf)
		ds := loadDataset(conf)

		ctx := cmd.Context()
		var fake mat.Dense
		err := blob.Read(ctx, store, fakeName, func(r io.Reader) error {
			_, err := fake.UnmarshalBinaryFrom(r)
			return err
		})
		if err != nil {
			log.Logger().Fatal("failed to load fake ratings", zap.String("name", fakeName), zap.Error(err))
		}
		poisoned, err := attack.InjectFakeUsers(ds, &fake)
		if err != nil {
			log.Logger().Fatal("failed to inject fake users", zap.Error(err))
		}
		err = blob.Write(ctx, store, outputName, func(w io.Writer) error {
			return attack.WriteRatings(w, poisoned, ds)
		})
		if err != nil {
			log.Logger().Fatal("failed to save poisoned ratings", zap.String("name", outputName), zap.Error(err))
		}
		rows, _ := fake.Dims()
		log.Logger().Info("save poisoned ratings", zap.String("name", outputName), zap.Int("n_fake_users", rows))
	},
}

func init() {
	rootCommand.AddCommand(targetsCommand)
	rootCommand.AddCommand(poisonCommand)
	poisonCommand.Flags().String("fake", "fake_ratings.bin", "fake user ratings matrix in the blob store")
	poisonCommand.Flags().String("output", "poisoned.txt", "poisoned ratings in the blob store")
}
