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
	"net/url"
	"path"
	"strings"

	"github.com/gorse-io/graphcf/config"
	"github.com/juju/errors"
)

// Store keeps training artifacts: snapshots, gradient matrices, poisoned ratings and target lists.
type Store interface {
	Open(ctx context.Context, name string) (io.ReadCloser, error)
	// Create returns a writer whose content is committed by Close. Close reports upload
	// failures. Cancelling ctx before Close discards the content.
	Create(ctx context.Context, name string) (io.WriteCloser, error)
	// List returns names of all artifacts.
	List(ctx context.Context) ([]string, error)
	Remove(ctx context.Context, name string) error
}

const (
	fileScheme  = "file"
	s3Scheme    = "s3"
	gcsScheme   = "gcs"
	azureScheme = "azblob"
)

// Open creates a store from the scheme of cfg.URI:
//
//	file://dir
//	s3://bucket/prefix
//	gcs://bucket/prefix
//	azblob://container/prefix
//
// A URI without scheme is a local directory.
func Open(cfg config.BlobConfig) (Store, error) {
	if !strings.Contains(cfg.URI, "://") {
		return NewPOSIX(cfg.URI), nil
	}
	u, err := url.Parse(cfg.URI)
	if err != nil {
		return nil, errors.Trace(err)
	}
	switch u.Scheme {
	case fileScheme:
		return NewPOSIX(u.Host + u.Path), nil
	case s3Scheme:
		return NewS3(cfg.S3, u.Host, u.Path)
	case gcsScheme:
		return NewGCS(cfg.GCS, u.Host, u.Path)
	case azureScheme:
		return NewAzureBlob(cfg.Azure, u.Host, u.Path)
	}
	return nil, errors.NotSupportedf("blob store %q", u.Scheme)
}

// Write creates an artifact and fills it by fn. Nothing is committed if fn fails.
func Write(ctx context.Context, store Store, name string, fn func(w io.Writer) error) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	w, err := store.Create(ctx, name)
	if err != nil {
		return errors.Trace(err)
	}
	if err = fn(w); err != nil {
		cancel()
		_ = w.Close()
		return errors.Annotatef(err, "write %s", name)
	}
	return errors.Annotatef(w.Close(), "commit %s", name)
}

// Read opens an artifact and passes its content to fn.
func Read(ctx context.Context, store Store, name string, fn func(r io.Reader) error) error {
	r, err := store.Open(ctx, name)
	if err != nil {
		return errors.Annotatef(err, "open %s", name)
	}
	defer r.Close()
	return fn(r)
}

// keyspace maps artifact names to object keys below a prefix of a bucket.
type keyspace string

func newKeyspace(prefix string) keyspace {
	return keyspace(strings.Trim(prefix, "/"))
}

func (k keyspace) key(name string) string {
	return path.Join(string(k), name)
}

// listPrefix is shared by every key in the keyspace.
func (k keyspace) listPrefix() string {
	if k == "" {
		return ""
	}
	return string(k) + "/"
}

func (k keyspace) name(key string) (string, bool) {
	name, ok := strings.CutPrefix(key, k.listPrefix())
	return name, ok && name != ""
}

// uploadWriter streams writes to an upload running in another goroutine.
type uploadWriter struct {
	*io.PipeWriter
	ctx  context.Context
	done chan struct{}
	err  error
}

func upload(ctx context.Context, put func(ctx context.Context, r io.Reader) error) *uploadWriter {
	pr, pw := io.Pipe()
	w := &uploadWriter{PipeWriter: pw, ctx: ctx, done: make(chan struct{})}
	go func() {
		defer close(w.done)
		w.err = put(ctx, pr)
		// unblock the writer if the upload stopped early
		_ = pr.CloseWithError(w.err)
	}()
	return w
}

// Close waits for the upload to finish. The upload reads an error instead of EOF
// if ctx is done.
func (w *uploadWriter) Close() error {
	_ = w.PipeWriter.CloseWithError(w.ctx.Err())
	<-w.done
	return w.err
}
