package store

import (
	"context"
	"fmt"
	"io"
	"strings"

	"github.com/Azure/azure-sdk-for-go/sdk/azidentity"
	"github.com/Azure/azure-sdk-for-go/sdk/storage/azblob"
	"github.com/sirupsen/logrus"
)

// AzureStore backs the key-value contract with Azure Blob Storage for cloud
// deployments. Each record is one blob named "<namespace>/<key>", so a
// namespace scan is a prefix listing.
type AzureStore struct {
	client        *azblob.Client
	containerName string
}

// Ensure AzureStore implements Store
var _ Store = (*AzureStore)(nil)

// NewAzureStore creates a blob-backed store using managed identity.
func NewAzureStore(accountName, containerName string) (*AzureStore, error) {
	if accountName == "" {
		return nil, fmt.Errorf("storage account name is required")
	}

	credential, err := azidentity.NewDefaultAzureCredential(nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create Azure credential: %w", err)
	}

	serviceURL := fmt.Sprintf("https://%s.blob.core.windows.net/", accountName)
	client, err := azblob.NewClient(serviceURL, credential, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create Azure blob client: %w", err)
	}

	s := &AzureStore{
		client:        client,
		containerName: containerName,
	}

	if err := s.ensureContainer(); err != nil {
		return nil, fmt.Errorf("failed to ensure container exists: %w", err)
	}

	return s, nil
}

func (s *AzureStore) ensureContainer() error {
	ctx := context.Background()

	_, err := s.client.CreateContainer(ctx, s.containerName, nil)
	if err != nil {
		if !strings.Contains(err.Error(), "ContainerAlreadyExists") {
			return fmt.Errorf("failed to create container: %w", err)
		}
		logrus.Debugf("Container %s already exists", s.containerName)
	} else {
		logrus.Infof("Created container %s", s.containerName)
	}

	return nil
}

func (s *AzureStore) blobName(namespace, key string) string {
	return namespace + "/" + key
}

func (s *AzureStore) Get(ctx context.Context, namespace, key string) ([]byte, bool, error) {
	response, err := s.client.DownloadStream(ctx, s.containerName, s.blobName(namespace, key), nil)
	if err != nil {
		if strings.Contains(err.Error(), "BlobNotFound") {
			return nil, false, nil
		}
		return nil, false, fmt.Errorf("failed to download blob %s/%s: %w", namespace, key, err)
	}
	defer response.Body.Close()

	data, err := io.ReadAll(response.Body)
	if err != nil {
		return nil, false, fmt.Errorf("failed to read blob content: %w", err)
	}

	return data, true, nil
}

func (s *AzureStore) Set(ctx context.Context, namespace, key string, value []byte) error {
	_, err := s.client.UploadBuffer(ctx, s.containerName, s.blobName(namespace, key), value, &azblob.UploadBufferOptions{
		BlockSize:   int64(1024 * 1024),
		Concurrency: 3,
	})
	if err != nil {
		return fmt.Errorf("failed to upload blob %s/%s: %w", namespace, key, err)
	}
	return nil
}

func (s *AzureStore) Delete(ctx context.Context, namespace, key string) error {
	_, err := s.client.DeleteBlob(ctx, s.containerName, s.blobName(namespace, key), nil)
	if err != nil {
		if strings.Contains(err.Error(), "BlobNotFound") {
			return nil
		}
		return fmt.Errorf("failed to delete blob %s/%s: %w", namespace, key, err)
	}
	return nil
}

func (s *AzureStore) Scan(ctx context.Context, namespace string, fn func(key string, value []byte) error) error {
	prefix := namespace + "/"
	pager := s.client.NewListBlobsFlatPager(s.containerName, &azblob.ListBlobsFlatOptions{
		Prefix: &prefix,
	})

	for pager.More() {
		page, err := pager.NextPage(ctx)
		if err != nil {
			return fmt.Errorf("failed to list blobs in %s: %w", namespace, err)
		}

		for _, blob := range page.Segment.BlobItems {
			if blob.Name == nil {
				continue
			}
			key := strings.TrimPrefix(*blob.Name, prefix)

			value, found, err := s.Get(ctx, namespace, key)
			if err != nil {
				return err
			}
			if !found {
				// Deleted between listing and download.
				continue
			}
			if err := fn(key, value); err != nil {
				return err
			}
		}
	}

	return nil
}

func (s *AzureStore) Clear(ctx context.Context, namespace string) error {
	return s.Scan(ctx, namespace, func(key string, _ []byte) error {
		return s.Delete(ctx, namespace, key)
	})
}

func (s *AzureStore) Close() error {
	return nil
}
