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
package blob

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestPOSIX(t *testing.T) {
	testStore(t, NewPOSIX(filepath.Join(t.TempDir(), "blob")))
}

func TestPOSIX_CancelledWrite(t *testing.T) {
	dir := t.TempDir()
	store := NewPOSIX(dir)
	ctx, cancel := context.WithCancel(context.Background())
	w, err := store.Create(ctx, "poisoned.txt")
	assert.NoError(t, err)
	_, err = w.Write([]byte("fakeUser0 1 1\n"))
	assert.NoError(t, err)
	cancel()
	assert.ErrorIs(t, w.Close(), context.Canceled)

	entries, err := os.ReadDir(dir)
	assert.NoError(t, err)
	assert.Empty(t, entries)
}
