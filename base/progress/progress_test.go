// Copyright 2023 gorse Project Authors
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

package progress

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

func TestSpan(t *testing.T) {
	ctx, train := Start(context.Background(), "Train", 3)
	assert.Same(t, train, FromContext(ctx))
	train.Add(1)
	p := train.Progress()
	assert.Equal(t, "Train", p.Name)
	assert.Equal(t, StatusRunning, p.Status)
	assert.Equal(t, 1, p.Count)
	assert.Equal(t, 3, p.Total)
	assert.Empty(t, p.Error)

	train.End()
	p = train.Progress()
	assert.Equal(t, StatusComplete, p.Status)
	assert.Equal(t, 3, p.Count)
	assert.Equal(t, p.Elapsed, train.Progress().Elapsed)
}

func TestNestedSpans(t *testing.T) {
	ctx, train := Start(context.Background(), "Train", 2)
	evalCtx, recommend := Start(ctx, "Recommend", 10)
	recommend.Add(4)
	assert.Same(t, recommend, FromContext(evalCtx))

	p := train.Progress()
	assert.Len(t, p.Children, 1)
	assert.Equal(t, "Recommend", p.Children[0].Name)
	assert.Equal(t, 4, p.Children[0].Count)

	Fail(evalCtx, errors.New("context canceled"))
	p = train.Progress()
	assert.Equal(t, StatusFailed, p.Status)
	assert.Equal(t, "context canceled", p.Error)
	assert.Equal(t, StatusFailed, p.Children[0].Status)

	// a failed span stays failed
	train.End()
	assert.Equal(t, StatusFailed, train.Progress().Status)
}

func TestFailWithoutSpan(t *testing.T) {
	assert.Nil(t, FromContext(context.Background()))
	assert.NotPanics(t, func() { Fail(context.Background(), errors.New("ignored")) })
}

func TestMarshalLogObject(t *testing.T) {
	ctx, root := Start(context.Background(), "train", 0)
	_, epochs := Start(ctx, "Train", 5)
	epochs.Add(2)

	core, logs := observer.New(zapcore.InfoLevel)
	zap.New(core).Info("finish command", zap.Object("progress", root.Progress()))
	fields := logs.All()[0].ContextMap()["progress"].(map[string]any)
	assert.Equal(t, "train", fields["name"])
	assert.Equal(t, "Running", fields["status"])
	assert.NotContains(t, fields, "total")
	children := fields["children"].([]any)
	assert.Len(t, children, 1)
	child := children[0].(map[string]any)
	assert.Equal(t, "Train", child["name"])
	assert.Equal(t, 2, child["count"])
	assert.Equal(t, 5, child["total"])
}
