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

	"github.com/gorse-io/graphcf/base/log"
	"github.com/gorse-io/graphcf/config"
	"github.com/juju/errors"
	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
	"go.uber.org/zap"
)

// S3 stores artifacts in an S3 compatible bucket.
type S3 struct {
	*minio.Client
	bucket string
	keys   keyspace
}

func NewS3(cfg config.S3Config, bucket, prefix string) (*S3, error) {
	client, err := minio.New(cfg.Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.AccessKeyID, cfg.SecretAccessKey, ""),
		Secure: cfg.UseSSL,
	})
	if err != nil {
		return nil, errors.Trace(err)
	}
	return &S3{Client: client, bucket: bucket, keys: newKeyspace(prefix)}, nil
}

func (s *S3) Open(ctx context.Context, name string) (io.ReadCloser, error) {
	object, err := s.GetObject(ctx, s.bucket, s.keys.key(name), minio.GetObjectOptions{})
	if err != nil {
		return nil, errors.Trace(err)
	}
	// GetObject is lazy, so a missing key shows up here.
	if _, err = object.Stat(); err != nil {
		_ = object.Close()
		return nil, errors.Trace(err)
	}
	return object, nil
}

func (s *S3) Create(ctx context.Context, name string) (io.WriteCloser, error) {
	key := s.keys.key(name)
	return upload(ctx, func(ctx context.Context, r io.Reader) error {
		_, err := s.PutObject(ctx, s.bucket, key, r, -1, minio.PutObjectOptions{})
		if err != nil {
			log.Logger().Error("failed to upload artifact to S3",
				zap.String("bucket", s.bucket), zap.String("key", key), zap.Error(err))
		}
		return errors.Trace(err)
	}), nil
}

func (s *S3) List(ctx context.Context) ([]string, error) {
	var names []string
	objects := s.ListObjects(ctx, s.bucket, minio.ListObjectsOptions{
		Prefix:    s.keys.listPrefix(),
		Recursive: true,
	})
	for object := range objects {
		if object.Err != nil {
			return nil, errors.Trace(object.Err)
		}
		if name, ok := s.keys.name(object.Key); ok {
			names = append(names, name)
		}
	}
	return names, nil
}

func (s *S3) Remove(ctx context.Context, name string) error {
	return errors.Trace(s.RemoveObject(ctx, s.bucket, s.keys.key(name), minio.RemoveObjectOptions{}))
}
