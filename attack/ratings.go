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
	"bufio"
	"fmt"
	"io"
	"strconv"

	"github.com/gorse-io/graphcf/dataset"
	"github.com/juju/errors"
	"gonum.org/v1/gonum/mat"
)

// FakeUserId names a row of a ratings matrix beyond the users of a dataset.
func FakeUserId(row int) string {
	return "fakeUser" + strconv.Itoa(row)
}

// WriteRatings writes non-zero cells of a ratings matrix as "user item rating" lines. Rows
// beyond the known users are written as fake users.
func WriteRatings(w io.Writer, ratings mat.Matrix, ds *dataset.Dataset) error {
	rows, cols := ratings.Dims()
	if cols != ds.CountItems() {
		return errors.NotValidf("ratings of %d items for a dataset of %d items", cols, ds.CountItems())
	}
	bw := bufio.NewWriter(w)
	for i := 0; i < rows; i++ {
		userId := FakeUserId(i)
		if i < ds.CountUsers() {
			userId = ds.GetUserId(int32(i))
		}
		for j := 0; j < cols; j++ {
			rating := ratings.At(i, j)
			if rating == 0 {
				continue
			}
			if _, err := fmt.Fprintf(bw, "%s %s %s\n", userId, ds.GetItemId(int32(j)),
				strconv.FormatFloat(rating, 'f', -1, 64)); err != nil {
				return errors.Trace(err)
			}
		}
	}
	return errors.Trace(bw.Flush())
}

// InjectFakeUsers returns the interaction matrix of a dataset with fake user rows appended.
func InjectFakeUsers(ds *dataset.Dataset, fake mat.Matrix) (*mat.Dense, error) {
	interactions := ds.InteractionMatrix()
	_, cols := interactions.Dims()
	if _, c := fake.Dims(); c != cols {
		return nil, errors.NotValidf("fake ratings of %d items for a dataset of %d items", c, cols)
	}
	var poisoned mat.Dense
	poisoned.Stack(interactions, fake)
	return &poisoned, nil
}
