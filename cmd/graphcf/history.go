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
	"fmt"
	"os"

	"github.com/gorse-io/graphcf/base/encoding"
	"github.com/gorse-io/graphcf/base/log"
	"github.com/gorse-io/graphcf/storage/history"
	"github.com/olekukonko/tablewriter"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

var historyCommand = &cobra.Command{
	Use:   "history [run]",
	Short: "List recorded runs or evaluations of a run",
	Args:  cobra.MaximumNArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		conf := loadConfig(cmd)
		if conf.History.DSN == "" {
			log.Logger().Fatal("history database is not configured")
		}
		store, err := history.Open(conf.History.DSN, conf.History.TablePrefix)
		if err != nil {
			log.Logger().Fatal("failed to open history database", zap.Error(err))
		}
		defer store.Close()

		ctx := context.Background()
		table := tablewriter.NewWriter(os.Stdout)
		if len(args) == 0 {
			runs, err := store.Runs(ctx)
			if err != nil {
				log.Logger().Fatal("failed to list runs", zap.Error(err))
			}
			table.Header("Run")
			for _, run := range runs {
				_ = table.Append([]string{run})
			}
		} else {
			evaluations, err := store.List(ctx, args[0])
			if err != nil {
				log.Logger().Fatal("failed to list evaluations", zap.Error(err))
			}
			table.Header("Model", "Epoch", "Top K", "Hit Ratio", "Precision", "Recall", "NDCG", "Best")
			for _, e := range evaluations {
				_ = table.Append([]string{
					e.Model,
					fmt.Sprint(e.Epoch),
					fmt.Sprint(e.TopK),
					encoding.FormatFloat32(e.HitRatio),
					encoding.FormatFloat32(e.Precision),
					encoding.FormatFloat32(e.Recall),
					encoding.FormatFloat32(e.NDCG),
					fmt.Sprint(e.Best),
				})
			}
		}
		if err = table.Render(); err != nil {
			log.Logger().Fatal("failed to render table", zap.Error(err))
		}
	},
}

func init() {
	rootCommand.AddCommand(historyCommand)
}
