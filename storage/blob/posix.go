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
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/juju/errors"
)

// POSIX stores artifacts as files below a local directory.
type POSIX struct {
	dir string
}

func NewPOSIX(dir string) *POSIX {
	return &POSIX{dir: dir}
}

func (p *POSIX) path(name string) string {
	return filepath.Join(p.dir, filepath.FromSlash(name))
}

func (p *POSIX) Open(_ context.Context, name string) (io.ReadCloser, error) {
	f, err := os.Open(p.path(name))
	if err != nil {
		return nil, errors.Trace(err)
	}
	return f, nil
}

// Create writes to a temporary file that replaces the artifact on Close, so readers
// never observe a partial artifact.
func (p *POSIX) Create(ctx context.Context, name string) (io.WriteCloser, error) {
	target := p.path(name)
	if err := os.MkdirAll(filepath.Dir(target), os.ModePerm); err != nil {
		return nil, errors.Trace(err)
	}
	tmp, err := os.CreateTemp(filepath.Dir(target), "."+filepath.Base(target)+".*")
	if err != nil {
		return nil, errors.Trace(err)
	}
	return &posixWriter{File: tmp, ctx: ctx, target: target}, nil
}

type posixWriter struct {
	*os.File
	ctx    context.Context
	target string
}

func (w *posixWriter) Close() error {
	err := w.File.Close()
	if err == nil {
		err = w.ctx.Err()
	}
	if err != nil {
		_ = os.Remove(w.Name())
		return errors.Trace(err)
	}
	return errors.Trace(os.Rename(w.Name(), w.target))
}

func (p *POSIX) List(context.Context) ([]string, error) {
	var names []string
	err := filepath.WalkDir(p.dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil || d.IsDir() {
			return err
		}
		if strings.HasPrefix(d.Name(), ".") {
			// uncommitted
			return nil
		}
		name, err := filepath.Rel(p.dir, path)
		if err != nil {
			return err
		}
		names = append(names, filepath.ToSlash(name))
		return nil
	})
	if errors.Is(err, fs.ErrNotExist) {
		return nil, nil
	}
	return names, errors.Trace(err)
}

func (p *POSIX) Remove(_ context.Context, name string) error {
	return errors.Trace(os.Remove(p.path(name)))
}
