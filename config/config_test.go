// Copyright 2020 gorse Project Authors
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

package config

import (
	"os"
	"strings"
	"testing"

	"github.com/juju/errors"
	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
)

func TestUnmarshal(t *testing.T) {
	data, err := os.ReadFile("config.toml.template")
	assert.NoError(t, err)
	text := strings.Replace(string(data), `name = "simgcl"`, `name = "ncf"`, 1)
	viper.Reset()
	viper.SetConfigType("toml")
	err = viper.ReadConfig(strings.NewReader(text))
	assert.NoError(t, err)
	var config Config
	err = viper.Unmarshal(&config)
	assert.NoError(t, err)

	// [data]
	assert.Equal(t, "dataset/train.txt", config.Data.TrainSet)
	assert.Equal(t, "", config.Data.ValidationSet)
	assert.Equal(t, "dataset/test.txt", config.Data.TestSet)
	assert.Equal(t, " ", config.Data.Separator)
	// [model]
	assert.Equal(t, NCF, config.Model.Name)
	assert.Equal(t, 64, config.Model.EmbSize)
	assert.Equal(t, 2, config.Model.NLayers)
	assert.Equal(t, float32(0.1), config.Model.Eps)
	assert.Equal(t, float32(0.5), config.Model.CLRate)
	assert.Equal(t, float32(0.2), config.Model.Temperature)
	assert.Equal(t, []int{1, 5, 2, 1}, config.Model.MLPSizes)
	// [train]
	assert.Equal(t, float32(0.001), config.Train.LearningRate)
	assert.Equal(t, float32(0.0001), config.Train.Reg)
	assert.Equal(t, 2048, config.Train.BatchSize)
	assert.Equal(t, 20, config.Train.MaxEpoch)
	assert.Equal(t, 5, config.Train.EvalNum)
	assert.Equal(t, 10, config.Train.GradIterationNum)
	assert.Equal(t, []int{10, 20}, config.Train.TopK)
	assert.Equal(t, 1, config.Train.Jobs)
	// [attack]
	assert.Equal(t, 5.0, config.Attack.TargetSize)
	assert.Equal(t, TargetRandom, config.Attack.TargetChooseWay)
	assert.Equal(t, 0.1, config.Attack.PopularThreshold)
	// [blob]
	assert.Equal(t, "file://output", config.Blob.URI)
	assert.False(t, config.Blob.S3.UseSSL)
	// [history]
	assert.Empty(t, config.History.DSN)
	// [metrics]
	assert.Empty(t, config.Metrics.Address)
	assert.NoError(t, config.Validate())
}

func TestSetDefault(t *testing.T) {
	viper.Reset()
	setDefault()
	viper.SetConfigType("toml")
	err := viper.ReadConfig(strings.NewReader(""))
	assert.NoError(t, err)
	var config Config
	err = viper.Unmarshal(&config)
	assert.NoError(t, err)
	assert.Equal(t, GetDefaultConfig(), &config)
}

func TestBindEnv(t *testing.T) {
	viper.Reset()
	t.Setenv("GRAPHCF_TRAIN_SET", "train.tsv")
	t.Setenv("GRAPHCF_TEST_SET", "test.tsv")
	t.Setenv("GRAPHCF_MODEL", "ncf")
	t.Setenv("GRAPHCF_MAX_EPOCH", "3")
	t.Setenv("GRAPHCF_TOP_K", "5,50")
	t.Setenv("GRAPHCF_JOBS", "4")
	t.Setenv("GRAPHCF_BLOB_URI", "s3://bucket/prefix")
	t.Setenv("S3_ENDPOINT", "localhost:9000")
	t.Setenv("GRAPHCF_HISTORY_DSN", "sqlite://history.db")
	t.Setenv("GRAPHCF_METRICS_ADDRESS", ":9090")

	config, err := LoadConfig("config.toml.template")
	assert.NoError(t, err)
	assert.Equal(t, "train.tsv", config.Data.TrainSet)
	assert.Equal(t, "test.tsv", config.Data.TestSet)
	assert.Equal(t, NCF, config.Model.Name)
	assert.Equal(t, 3, config.Train.MaxEpoch)
	assert.Equal(t, []int{5, 50}, config.Train.TopK)
	assert.Equal(t, 4, config.Train.Jobs)
	assert.Equal(t, "s3://bucket/prefix", config.Blob.URI)
	assert.Equal(t, "localhost:9000", config.Blob.S3.Endpoint)
	assert.Equal(t, "sqlite://history.db", config.History.DSN)
	assert.Equal(t, ":9090", config.Metrics.Address)
}

func TestValidate(t *testing.T) {
	config := GetDefaultConfig()
	config.Data.TrainSet = "train.txt"
	config.Data.TestSet = "test.txt"
	assert.NoError(t, config.Validate())

	config.Model.Name = "lightgcn"
	assert.True(t, errors.Is(config.Validate(), errors.NotValid))
	config.Model.Name = NCF
	config.Model.MLPSizes = []int{2, 1}
	assert.True(t, errors.Is(config.Validate(), errors.NotValid))
	config.Model.MLPSizes = []int{1, 1}
	config.Train.TopK = nil
	assert.True(t, errors.Is(config.Validate(), errors.NotValid))
	config.Train.TopK = []int{10}
	config.Attack.PopularThreshold = 1
	assert.True(t, errors.Is(config.Validate(), errors.NotValid))
}

func TestProjection(t *testing.T) {
	config := GetDefaultConfig()
	config.Train.Seed = 42
	config.Train.TopK = []int{20, 5, 10}
	assert.Equal(t, int64(42), config.ModelConfig().Seed)
	config.Model.Seed = 7
	assert.Equal(t, int64(7), config.ModelConfig().Seed)

	train := config.TrainConfig()
	assert.Equal(t, 20, train.MaxK())
	train.TopK[0] = 1
	assert.Equal(t, 20, config.Train.TopK[0])
}
