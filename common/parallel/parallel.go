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

package parallel

import (
	"context"
	"sync"

	"github.com/juju/errors"
	"go.uber.org/atomic"
)

// Parallel runs worker for job ids [0, nJobs) on up to nWorkers goroutines. Workers
// claim job ids in increasing order. The first error, or the cancellation of ctx,
// stops workers from claiming further jobs and is returned.
func Parallel(ctx context.Context, nJobs, nWorkers int, worker func(workerId, jobId int) error) error {
	nWorkers = min(nWorkers, nJobs)
	if nWorkers <= 1 {
		for jobId := 0; jobId < nJobs; jobId++ {
			if err := ctx.Err(); err != nil {
				return errors.Trace(err)
			}
			if err := worker(0, jobId); err != nil {
				return errors.Trace(err)
			}
		}
		return nil
	}

	var (
		wg       sync.WaitGroup
		next     = atomic.NewInt64(-1)
		failed   = atomic.NewBool(false)
		firstErr = atomic.NewError(nil)
	)
	for workerId := 0; workerId < nWorkers; workerId++ {
		wg.Go(func() {
			for !failed.Load() && ctx.Err() == nil {
				jobId := int(next.Inc())
				if jobId >= nJobs {
					return
				}
				if err := worker(workerId, jobId); err != nil {
					if failed.CompareAndSwap(false, true) {
						firstErr.Store(err)
					}
					return
				}
			}
		})
	}
	wg.Wait()
	if err := firstErr.Load(); err != nil {
		return errors.Trace(err)
	}
	return errors.Trace(ctx.Err())
}
