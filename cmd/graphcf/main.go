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
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gorse-io/graphcf/base/log"
	"github.com/gorse-io/graphcf/base/progress"
	"github.com/gorse-io/graphcf/config"
	"github.com/gorse-io/graphcf/dataset"
	"github.com/gorse-io/graphcf/model/cf"
	"github.com/gorse-io/graphcf/storage/blob"
	"github.com/gorse-io/graphcf/storage/history"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

var rootCommand = &cobra.Command{
	Use:   "graphcf",
	Short: "Train graph collaborative filtering models and capture gradients for poisoning research.",
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		debug, _ := cmd.Flags().GetBool("debug")
		log.SetLogger(cmd.Flags(), debug)
		// training and evaluation spans nest below the command span
		ctx, _ := progress.Start(cmd.Context(), cmd.Name(), 0)
		cmd.SetContext(ctx)
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		if span := progress.FromContext(cmd.Context()); span != nil {
			span.End()
			log.Logger().Info("finish command", zap.Object("progress", span.Progress()))
		}
	},
}

func init() {
	log.AddFlags(rootCommand.PersistentFlags())
	rootCommand.PersistentFlags().Bool("debug", false, "use debug log mode")
	rootCommand.PersistentFlags().StringP("config", "c", "", "configuration file path")
	rootCommand.PersistentFlags().String("model", "", "override the model name (ncf or simgcl)")
	rootCommand.PersistentFlags().Int("epochs", 0, "override the number of epochs")
}

func main() {
	defer log.CloseLogger()
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	if err := rootCommand.ExecuteContext(ctx); err != nil {
		log.Logger().Fatal("failed to execute", zap.Error(err))
	}
}

func loadConfig(cmd *cobra.Command) *config.Config {
	configPath, _ := cmd.Flags().GetString("config")
	log.Logger().Info("load config", zap.String("config", configPath))
	conf, err := config.LoadConfig(configPath)
	if err != nil {
		log.Logger().Fatal("failed to load config", zap.Error(err))
	}
	if cmd.Flags().Changed("model") {
		conf.Model.Name, _ = cmd.Flags().GetString("model")
	}
	if cmd.Flags().Changed("epochs") {
		conf.Train.MaxEpoch, _ = cmd.Flags().GetInt("epochs")
	}
	if err = conf.Validate(); err != nil {
		log.Logger().Fatal("invalid config", zap.Error(err))
	}
	return conf
}

func loadDataset(conf *config.Config) *dataset.Dataset {
	ds, err := dataset.LoadDataset(conf.Data.TrainSet, conf.Data.ValidationSet, conf.Data.TestSet, conf.Data.Separator)
	if err != nil {
		log.Logger().Fatal("failed to load dataset", zap.Error(err))
	}
	return ds
}

func openBlob(conf *config.Config) blob.Store {
	store, err := blob.Open(conf.Blob)
	if err != nil {
		log.Logger().Fatal("failed to open blob store", zap.String("uri", conf.Blob.URI), zap.Error(err))
	}
	return store
}

// session bundles a recommender with the observers of a run.
type session struct {
	conf        *config.Config
	dataset     *dataset.Dataset
	recommender *cf.Recommender
	history     history.Store
	recorder    *history.Callback
	progress    *progressCallback
	server      *http.Server
}

func newSession(conf *config.Config) *session {
	s := &session{conf: conf, dataset: loadDataset(conf)}
	encoder, err := cf.NewEncoder(conf.ModelConfig(), s.dataset)
	if err != nil {
		log.Logger().Fatal("failed to create encoder", zap.Error(err))
	}

	s.progress = newProgressCallback(conf.Train.MaxEpoch)
	callbacks := []cf.Callback{cf.NewLogCallback(conf.Model.Name, 100), s.progress}
	if conf.Metrics.Address != "" {
		registry := prometheus.NewRegistry()
		registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
		callbacks = append(callbacks, cf.NewPrometheusCallback(registry, conf.Model.Name))
		mux := http.NewServeMux()
		mux.Handle("/metrics", promhttp.HandlerFor(registry, promhttp.HandlerOpts{}))
		s.server = &http.Server{Addr: conf.Metrics.Address, Handler: mux}
		go func() {
			log.Logger().Info("start metrics server", zap.String("address", conf.Metrics.Address))
			if err := s.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				log.Logger().Error("failed to serve metrics", zap.Error(err))
			}
		}()
	}
	if conf.History.DSN != "" {
		if s.history, err = history.Open(conf.History.DSN, conf.History.TablePrefix); err != nil {
			log.Logger().Fatal("failed to open history database",
				zap.String("dsn", log.RedactDBURL(conf.History.DSN)), zap.Error(err))
		}
		s.recorder = history.NewCallback(s.history, conf.Model.Name)
		callbacks = append(callbacks, s.recorder)
		log.Logger().Info("record history", zap.String("run_id", s.recorder.RunID()))
	}
	s.recommender = cf.NewRecommender(conf.TrainConfig(), encoder, s.dataset, callbacks...)
	return s
}

// test evaluates the test set, prints a report and records it.
func (s *session) test(ctx context.Context) []cf.RecommendList {
	scores, lists, err := s.recommender.Test(ctx)
	if err != nil {
		log.Logger().Fatal("failed to test", zap.Error(err))
	}
	if err = renderScores(s.conf.Train.TopK, scores); err != nil {
		log.Logger().Error("failed to render scores", zap.Error(err))
	}
	if s.recorder != nil {
		if err = s.recorder.RecordTest(ctx, s.conf.Train.TopK, scores); err != nil {
			log.Logger().Error("failed to record test scores", zap.Error(err))
		}
	}
	return lists
}

func (s *session) close() {
	s.progress.finish()
	if s.server != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := s.server.Shutdown(ctx); err != nil {
			log.Logger().Error("failed to shutdown metrics server", zap.Error(err))
		}
	}
	if s.history != nil {
		if err := s.history.Close(); err != nil {
			log.Logger().Error("failed to close history database", zap.Error(err))
		}
	}
}

// artifactName prefixes an artifact with the model name.
func artifactName(conf *config.Config, name string) string {
	return fmt.Sprintf("%s_%s", conf.Model.Name, name)
}
