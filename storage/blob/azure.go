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
	"fmt"
	"io"

	"github.com/Azure/azure-sdk-for-go/sdk/storage/azblob"
	"github.com/gorse-io/graphcf/base/log"
	"github.com/gorse-io/graphcf/config"
	"github.com/juju/errors"
	"go.uber.org/zap"
)

// AzureBlob stores artifacts in an Azure Blob Storage container.
type AzureBlob struct {
	client    *azblob.Client
	container string
	keys      keyspace
}

// NewAzureBlob authenticates by connection string if one is set, else by shared key.
func NewAzureBlob(cfg config.AzureBlobConfig, container, prefix string) (*AzureBlob, error) {
	client, err := newAzureClient(cfg)
	if err != nil {
		return nil, errors.Trace(err)
	}
	return &AzureBlob{client: client, container: container, keys: newKeyspace(prefix)}, nil
}

func newAzureClient(cfg config.AzureBlobConfig) (*azblob.Client, error) {
	if cfg.ConnectionString != "" {
		return azblob.NewClientFromConnectionString(cfg.ConnectionString, nil)
	}
	if cfg.AccountName == "" || cfg.AccountKey == "" {
		return nil, errors.NotValidf("azure blob credentials: account_name and account_key or connection_string")
	}
	endpoint := cfg.Endpoint
	if endpoint == "" {
		endpoint = fmt.Sprintf("https://%s.blob.core.windows.net/", cfg.AccountName)
	}
	cred, err := azblob.NewSharedKeyCredential(cfg.AccountName, cfg.AccountKey)
	if err != nil {
		return nil, err
	}
	return azblob.NewClientWithSharedKeyCredential(endpoint, cred, nil)
}

func (a *AzureBlob) Open(ctx context.Context, name string) (io.ReadCloser, error) {
	resp, err := a.client.DownloadStream(ctx, a.container, a.keys.key(name), nil)
	if err != nil {
		return nil, errors.Trace(err)
	}
	return resp.Body, nil
}

func (a *AzureBlob) Create(ctx context.Context, name string) (io.WriteCloser, error) {
	key := a.keys.key(name)
	return upload(ctx, func(ctx context.Context, r io.Reader) error {
		_, err := a.client.UploadStream(ctx, a.container, key, r, nil)
		if err != nil {
			log.Logger().Error("failed to upload artifact to Azure Blob",
				zap.String("container", a.container), zap.String("key", key), zap.Error(err))
		}
		return errors.Trace(err)
	}), nil
}

func (a *AzureBlob) List(ctx context.Context) ([]string, error) {
	var names []string
	prefix := a.keys.listPrefix()
	pager := a.client.NewListBlobsFlatPager(a.container, &azblob.ListBlobsFlatOptions{Prefix: &prefix})
	for pager.More() {
		page, err := pager.NextPage(ctx)
		if err != nil {
			return nil, errors.Trace(err)
		}
		for _, item := range page.Segment.BlobItems {
			if item.Name == nil {
				continue
			}
			if name, ok := a.keys.name(*item.Name); ok {
				names = append(names, name)
			}
		}
	}
	return names, nil
}

func (a *AzureBlob) Remove(ctx context.Context, name string) error {
	_, err := a.client.DeleteBlob(ctx, a.container, a.keys.key(name), nil)
	return errors.Trace(err)
}
