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

package attack

import (
	"context"
	"fmt"
	"io"
	"math/rand"
	"slices"
	"strings"

	"github.com/gorse-io/graphcf/base/log"
	"github.com/gorse-io/graphcf/config"
	"github.com/gorse-io/graphcf/dataset"
	"github.com/gorse-io/graphcf/storage/blob"
	"github.com/juju/errors"
	"github.com/samber/lo"
	"go.uber.org/zap"
)

// TargetCount converts a target size to a number of items: sizes below one are fractions of the catalog.
func TargetCount(size float64, items int) int {
	if size < 1 {
		return int(size * float64(items))
	}
	return int(size)
}

// Popularity returns item indices sorted by the number of training users in ascending order.
func Popularity(ds *dataset.Dataset) []int32 {
	popularity := ds.ItemPopularity()
	indices := make([]int32, len(popularity))
	for i := range indices {
		indices[i] = int32(i)
	}
	slices.SortStableFunc(indices, func(a, b int32) int {
		return popularity[a] - popularity[b]
	})
	return indices
}

// SelectTargets samples target items without replacement. The pool of popular targets is the top
// threshold fraction of items by degree and the pool of unpopular targets is the rest.
func SelectTargets(rng *rand.Rand, ds *dataset.Dataset, way string, size, threshold float64) ([]string, error) {
	itemCount := ds.CountItems()
	n := TargetCount(size, itemCount)
	var pool []int32
	switch way {
	case config.TargetRandom:
		pool = Popularity(ds)
	case config.TargetPopular:
		sorted := Popularity(ds)
		pool = sorted[itemCount-int(threshold*float64(itemCount)):]
	case config.TargetUnpopular:
		pool = Popularity(ds)[:int((1-threshold)*float64(itemCount))]
	default:
		return nil, errors.NotSupportedf("target choose way %q", way)
	}
	if n <= 0 || n > len(pool) {
		return nil, errors.NotValidf("%d targets from %d %s items", n, len(pool), way)
	}
	perm := rng.Perm(len(pool))[:n]
	return lo.Map(perm, func(i, _ int) string {
		return ds.GetItemId(pool[i])
	}), nil
}

// TargetFileName names the cached target list of a selection.
func TargetFileName(way string, n int) string {
	return fmt.Sprintf("targetItem_%s_%d.txt", way, n)
}

// LoadOrSelectTargets reads the cached target list from the store. A new list is selected and
// cached when none exists.
func LoadOrSelectTargets(ctx context.Context, store blob.Store, rng *rand.Rand, ds *dataset.Dataset, cfg config.AttackConfig) ([]string, error) {
	name := TargetFileName(cfg.TargetChooseWay, TargetCount(cfg.TargetSize, ds.CountItems()))
	names, err := store.List(ctx)
	if err != nil {
		return nil, errors.Trace(err)
	}
	if lo.Contains(names, name) {
		var targets []string
		err = blob.Read(ctx, store, name, func(r io.Reader) error {
			data, err := io.ReadAll(r)
			if err != nil {
				return err
			}
			targets = ParseTargets(string(data))
			return nil
		})
		if err != nil {
			return nil, errors.Trace(err)
		}
		log.Logger().Info("load target items", zap.String("name", name), zap.Int("n_targets", len(targets)))
		return targets, nil
	}

	targets, err := SelectTargets(rng, ds, cfg.TargetChooseWay, cfg.TargetSize, cfg.PopularThreshold)
	if err != nil {
		return nil, errors.Trace(err)
	}
	err = blob.Write(ctx, store, name, func(w io.Writer) error {
		_, err := io.WriteString(w, strings.Join(targets, ","))
		return err
	})
	if err != nil {
		return nil, errors.Trace(err)
	}
	log.Logger().Info("select target items", zap.String("name", name), zap.Strings("targets", targets))
	return targets, nil
}

// ParseTargets splits a comma separated list. Quotes and spaces around ids are dropped.
func ParseTargets(s string) []string {
	var targets []string
	for _, field := range strings.Split(s, ",") {
		field = strings.Trim(strings.TrimSpace(field), "'\"")
		if field != "" {
			targets = append(targets, field)
		}
	}
	return targets
}
