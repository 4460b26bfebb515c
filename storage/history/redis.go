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

package history

import (
	"context"
	"encoding/json"
	"sort"

	"github.com/juju/errors"
	"github.com/redis/go-redis/v9"
)

const (
	keyEvaluationId = "evaluation_id"
	keyRuns         = "runs"
	keyEvaluations  = "evaluations/"
)

// Redis stores evaluations of a run as a list of JSON documents.
type Redis struct {
	client *redis.Client
	prefix string
}

func (r *Redis) key(name string) string {
	return r.prefix + name
}

func (r *Redis) Init(ctx context.Context) error {
	return errors.Trace(r.client.Ping(ctx).Err())
}

func (r *Redis) Insert(ctx context.Context, evaluations ...Evaluation) error {
	if len(evaluations) == 0 {
		return nil
	}
	// reserve ids
	last, err := r.client.IncrBy(ctx, r.key(keyEvaluationId), int64(len(evaluations))).Result()
	if err != nil {
		return errors.Trace(err)
	}
	first := uint(last) - uint(len(evaluations)) + 1
	pipeline := r.client.Pipeline()
	for i, evaluation := range evaluations {
		evaluation.ID = first + uint(i)
		data, err := json.Marshal(evaluation)
		if err != nil {
			return errors.Trace(err)
		}
		pipeline.RPush(ctx, r.key(keyEvaluations+evaluation.RunID), data)
		pipeline.SAdd(ctx, r.key(keyRuns), evaluation.RunID)
	}
	_, err = pipeline.Exec(ctx)
	return errors.Trace(err)
}

func (r *Redis) List(ctx context.Context, runID string) ([]Evaluation, error) {
	values, err := r.client.LRange(ctx, r.key(keyEvaluations+runID), 0, -1).Result()
	if err != nil {
		return nil, errors.Trace(err)
	}
	evaluations := make([]Evaluation, len(values))
	for i, value := range values {
		if err = json.Unmarshal([]byte(value), &evaluations[i]); err != nil {
			return nil, errors.Trace(err)
		}
	}
	return evaluations, nil
}

func (r *Redis) Runs(ctx context.Context) ([]string, error) {
	runs, err := r.client.SMembers(ctx, r.key(keyRuns)).Result()
	if err != nil {
		return nil, errors.Trace(err)
	}
	sort.Strings(runs)
	return runs, nil
}

func (r *Redis) Close() error {
	return r.client.Close()
}
