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
	"github.com/go-playground/validator/v10"
	"github.com/go-viper/mapstructure/v2"
	"github.com/juju/errors"
	"github.com/spf13/viper"
)

const (
	NCF    = "ncf"
	SimGCL = "simgcl"
)

const (
	TargetRandom    = "random"
	TargetPopular   = "popular"
	TargetUnpopular = "unpopular"
)

// Config is the configuration for the whole program.
type Config struct {
	Data    DataConfig    `mapstructure:"data"`
	Model   ModelConfig   `mapstructure:"model"`
	Train   TrainConfig   `mapstructure:"train"`
	Attack  AttackConfig  `mapstructure:"attack"`
	Blob    BlobConfig    `mapstructure:"blob"`
	History HistoryConfig `mapstructure:"history"`
	Metrics MetricsConfig `mapstructure:"metrics"`
}

// DataConfig locates rating files. Each line is "user item [rating]".
type DataConfig struct {
	TrainSet      string `mapstructure:"train_set" validate:"required"`
	ValidationSet string `mapstructure:"validation_set"`
	TestSet       string `mapstructure:"test_set" validate:"required"`
	Separator     string `mapstructure:"separator"`
}

// ModelConfig holds encoder hyper-parameters.
type ModelConfig struct {
	Name        string  `mapstructure:"name" validate:"oneof=ncf simgcl"`
	EmbSize     int     `mapstructure:"emb_size" validate:"gt=0"`
	NLayers     int     `mapstructure:"n_layers" validate:"gt=0"`
	Eps         float32 `mapstructure:"eps" validate:"gte=0"`
	CLRate      float32 `mapstructure:"cl_rate" validate:"gte=0"`
	Temperature float32 `mapstructure:"temperature" validate:"gt=0"`
	MLPSizes    []int   `mapstructure:"mlp_sizes" validate:"min=2,dive,gt=0"`
	Seed        int64   `mapstructure:"seed"`
}

// TrainConfig holds optimization and evaluation settings.
type TrainConfig struct {
	LearningRate     float32 `mapstructure:"lr" validate:"gt=0"`
	Reg              float32 `mapstructure:"reg" validate:"gte=0"`
	BatchSize        int     `mapstructure:"batch_size" validate:"gt=0"`
	MaxEpoch         int     `mapstructure:"max_epoch" validate:"gte=0"`
	EvalNum          int     `mapstructure:"eval_num" validate:"gt=0"`
	GradIterationNum int     `mapstructure:"grad_iteration_num" validate:"gte=0"`
	TopK             []int   `mapstructure:"top_k" validate:"min=1,dive,gt=0"`
	Jobs             int     `mapstructure:"jobs" validate:"gt=0"`
	Seed             int64   `mapstructure:"seed"`
}

// MaxK returns the largest cutoff.
func (c TrainConfig) MaxK() int {
	maxK := 0
	for _, k := range c.TopK {
		maxK = max(maxK, k)
	}
	return maxK
}

type AttackConfig struct {
	TargetSize       float64 `mapstructure:"target_size" validate:"gt=0"`
	TargetChooseWay  string  `mapstructure:"target_choose_way" validate:"oneof=random popular unpopular"`
	PopularThreshold float64 `mapstructure:"popular_threshold" validate:"gt=0,lt=1"`
}

// BlobConfig selects the artifact store by the scheme of URI.
type BlobConfig struct {
	URI   string          `mapstructure:"uri" validate:"required"`
	S3    S3Config        `mapstructure:"s3"`
	GCS   GCSConfig       `mapstructure:"gcs"`
	Azure AzureBlobConfig `mapstructure:"azure"`
}

type S3Config struct {
	Endpoint        string `mapstructure:"endpoint"`
	AccessKeyID     string `mapstructure:"access_key_id"`
	SecretAccessKey string `mapstructure:"secret_access_key"`
	UseSSL          bool   `mapstructure:"use_ssl"`
}

type GCSConfig struct {
	CredentialsFile string `mapstructure:"credentials_file"`
}

type AzureBlobConfig struct {
	ConnectionString string `mapstructure:"connection_string"`
	AccountName      string `mapstructure:"account_name"`
	AccountKey       string `mapstructure:"account_key"`
	Endpoint         string `mapstructure:"endpoint"`
}

type HistoryConfig struct {
	DSN         string `mapstructure:"dsn"`
	TablePrefix string `mapstructure:"table_prefix"`
}

type MetricsConfig struct {
	Address string `mapstructure:"address"`
}

func GetDefaultConfig() *Config {
	return &Config{
		Data: DataConfig{
			Separator: " ",
		},
		Model: ModelConfig{
			Name:        SimGCL,
			EmbSize:     64,
			NLayers:     2,
			Eps:         0.1,
			CLRate:      0.5,
			Temperature: 0.2,
			MLPSizes:    []int{1, 5, 2, 1},
		},
		Train: TrainConfig{
			LearningRate:     0.001,
			Reg:              0.0001,
			BatchSize:        2048,
			MaxEpoch:         20,
			EvalNum:          5,
			GradIterationNum: 10,
			TopK:             []int{10, 20},
			Jobs:             1,
		},
		Attack: AttackConfig{
			TargetSize:       5,
			TargetChooseWay:  TargetRandom,
			PopularThreshold: 0.1,
		},
		Blob: BlobConfig{
			URI: "file://output",
		},
	}
}

func setDefault() {
	defaultConfig := GetDefaultConfig()
	// [data]
	viper.SetDefault("data.separator", defaultConfig.Data.Separator)
	// [model]
	viper.SetDefault("model.name", defaultConfig.Model.Name)
	viper.SetDefault("model.emb_size", defaultConfig.Model.EmbSize)
	viper.SetDefault("model.n_layers", defaultConfig.Model.NLayers)
	viper.SetDefault("model.eps", defaultConfig.Model.Eps)
	viper.SetDefault("model.cl_rate", defaultConfig.Model.CLRate)
	viper.SetDefault("model.temperature", defaultConfig.Model.Temperature)
	viper.SetDefault("model.mlp_sizes", defaultConfig.Model.MLPSizes)
	// [train]
	viper.SetDefault("train.lr", defaultConfig.Train.LearningRate)
	viper.SetDefault("train.reg", defaultConfig.Train.Reg)
	viper.SetDefault("train.batch_size", defaultConfig.Train.BatchSize)
	viper.SetDefault("train.max_epoch", defaultConfig.Train.MaxEpoch)
	viper.SetDefault("train.eval_num", defaultConfig.Train.EvalNum)
	viper.SetDefault("train.grad_iteration_num", defaultConfig.Train.GradIterationNum)
	viper.SetDefault("train.top_k", defaultConfig.Train.TopK)
	viper.SetDefault("train.jobs", defaultConfig.Train.Jobs)
	// [attack]
	viper.SetDefault("attack.target_size", defaultConfig.Attack.TargetSize)
	viper.SetDefault("attack.target_choose_way", defaultConfig.Attack.TargetChooseWay)
	viper.SetDefault("attack.popular_threshold", defaultConfig.Attack.PopularThreshold)
	// [blob]
	viper.SetDefault("blob.uri", defaultConfig.Blob.URI)
}

type configBinding struct {
	key string
	env string
}

// LoadConfig loads configuration from toml file. Environment variables override
// values in the file.
func LoadConfig(path string) (*Config, error) {
	setDefault()

	bindings := []configBinding{
		{"data.train_set", "GRAPHCF_TRAIN_SET"},
		{"data.validation_set", "GRAPHCF_VALIDATION_SET"},
		{"data.test_set", "GRAPHCF_TEST_SET"},
		{"model.name", "GRAPHCF_MODEL"},
		{"train.max_epoch", "GRAPHCF_MAX_EPOCH"},
		{"train.top_k", "GRAPHCF_TOP_K"},
		{"train.jobs", "GRAPHCF_JOBS"},
		{"blob.uri", "GRAPHCF_BLOB_URI"},
		{"blob.s3.endpoint", "S3_ENDPOINT"},
		{"blob.s3.access_key_id", "S3_ACCESS_KEY_ID"},
		{"blob.s3.secret_access_key", "S3_SECRET_ACCESS_KEY"},
		{"blob.gcs.credentials_file", "GCS_CREDENTIALS_FILE"},
		{"blob.azure.connection_string", "AZURE_STORAGE_CONNECTION_STRING"},
		{"history.dsn", "GRAPHCF_HISTORY_DSN"},
		{"metrics.address", "GRAPHCF_METRICS_ADDRESS"},
	}
	for _, binding := range bindings {
		if err := viper.BindEnv(binding.key, binding.env); err != nil {
			return nil, errors.Trace(err)
		}
	}

	if path != "" {
		viper.SetConfigType("toml")
		viper.SetConfigFile(path)
		if err := viper.ReadInConfig(); err != nil {
			return nil, errors.Trace(err)
		}
	}

	var conf Config
	if err := viper.Unmarshal(&conf, viper.DecodeHook(mapstructure.ComposeDecodeHookFunc(
		mapstructure.StringToTimeDurationHookFunc(),
		mapstructure.StringToSliceHookFunc(","),
	))); err != nil {
		return nil, errors.Trace(err)
	}
	if err := conf.Validate(); err != nil {
		return nil, errors.Trace(err)
	}
	return &conf, nil
}

var validate = validator.New(validator.WithRequiredStructEnabled())

// Validate checks field constraints and cross-field rules.
func (config *Config) Validate() error {
	if err := validate.Struct(config); err != nil {
		return errors.NotValidf("config: %v", err)
	}
	// the deep channel consumes the MLP tables, which are emb_size wide
	if config.Model.Name == NCF && config.Model.MLPSizes[0] != 1 {
		return errors.NotValidf("model.mlp_sizes[0] = %d", config.Model.MLPSizes[0])
	}
	return nil
}

// ModelConfig returns the encoder settings. Seed falls back to the train seed.
func (config *Config) ModelConfig() ModelConfig {
	c := config.Model
	c.MLPSizes = append([]int(nil), c.MLPSizes...)
	if c.Seed == 0 {
		c.Seed = config.Train.Seed
	}
	return c
}

func (config *Config) TrainConfig() TrainConfig {
	c := config.Train
	c.TopK = append([]int(nil), c.TopK...)
	return c
}
