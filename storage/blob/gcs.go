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
	"os"

	"cloud.google.com/go/storage"
	"github.com/gorse-io/graphcf/config"
	"github.com/juju/errors"
	"google.golang.org/api/iterator"
	"google.golang.org/api/option"
)

// GCS stores artifacts in a Google Cloud Storage bucket. GCS_EMULATOR_ENDPOINT
// points the client at an emulator without authentication.
type GCS struct {
	client *storage.Client
	bucket string
	keys   keyspace
}

func NewGCS(cfg config.GCSConfig, bucket, prefix string) (*GCS, error) {
	var opts []option.ClientOption
	if endpoint := os.Getenv("GCS_EMULATOR_ENDPOINT"); endpoint != "" {
		opts = append(opts, option.WithEndpoint(endpoint), option.WithoutAuthentication())
	}
	if cfg.CredentialsFile != "" {
		opts = append(opts, option.WithCredentialsFile(cfg.CredentialsFile))
	}
	client, err := storage.NewClient(context.Background(), opts...)
	if err != nil {
		return nil, errors.Trace(err)
	}
	return &GCS{client: client, bucket: bucket, keys: newKeyspace(prefix)}, nil
}

func (g *GCS) object(name string) *storage.ObjectHandle {
	return g.client.Bucket(g.bucket).Object(g.keys.key(name))
}

func (g *GCS) Open(ctx context.Context, name string) (io.ReadCloser, error) {
	r, err := g.object(name).NewReader(ctx)
	if err != nil {
		return nil, errors.Trace(err)
	}
	return r, nil
}

// Create relies on storage.Writer, which commits on Close and aborts when ctx is done.
func (g *GCS) Create(ctx context.Context, name string) (io.WriteCloser, error) {
	return g.object(name).NewWriter(ctx), nil
}

func (g *GCS) List(ctx context.Context) ([]string, error) {
	var names []string
	it := g.client.Bucket(g.bucket).Objects(ctx, &storage.Query{Prefix: g.keys.listPrefix()})
	for {
		attrs, err := it.Next()
		if errors.Is(err, iterator.Done) {
			return names, nil
		}
		if err != nil {
			return nil, errors.Trace(err)
		}
		if name, ok := g.keys.name(attrs.Name); ok {
			names = append(names, name)
		}
	}
}

func (g *GCS) Remove(ctx context.Context, name string) error {
	return errors.Trace(g.object(name).Delete(ctx))
}
