package azureblob

import (
	"bytes"
	"context"
	"errors"
	"io"
	"strings"
	"time"

	"github.com/Azure/azure-sdk-for-go/sdk/storage/azblob"

	"github.com/ghzip/github-zip-server/pkg/e"
)

type Backend struct {
	Client              azblob.ContainerClient
	container           string
	sharedKeyCredential *azblob.SharedKeyCredential
}

func ParsePartsFromConnectionString(connStr string) (string, string, string, bool) {
	container := ""
	account := ""
	key := ""

	parts := strings.Split(connStr, ";")
	for _, part := range parts {
		subParts := strings.SplitN(part, "=", 2)
		if len(subParts) < 2 {
			return "", "", "", false
		}

		if subParts[0] == "Container" {
			container = subParts[1]
		} else if subParts[0] == "AccountName" {
			account = subParts[1]
		}
		if subParts[0] == "AccountKey" {
			key = subParts[1]
		}
	}

	if container == "" || account == "" || key == "" {
		return "", "", "", false
	}

	return account, key, container, true
}

func New(connectionString string) (*Backend, error) {
	account, key, container, found := ParsePartsFromConnectionString(connectionString)
	if !found {
		return &Backend{}, errors.New("container missing from connection string")
	}

	creds, err := azblob.NewSharedKeyCredential(account, key)
	if err != nil {
		return &Backend{}, err
	}

	client, err := azblob.NewContainerClientFromConnectionString(connectionString, container, &azblob.ClientOptions{})
	if err != nil {
		return &Backend{}, err
	}

	backend := Backend{
		container:           container,
		Client:              client,
		sharedKeyCredential: creds,
	}
	return &backend, nil
}

func (b *Backend) Setup() error {
	return nil
}

func (b *Backend) Type() string {
	return "azureblob"
}

// readSeekNopCloser adapts a bytes.Reader to the io.ReadSeekCloser the blob
// upload API wants.
type readSeekNopCloser struct {
	*bytes.Reader
}

func (readSeekNopCloser) Close() error { return nil }

// Put uploads a sealed archive as a single block blob and returns a SAS URL
// valid for the given TTL.
func (b *Backend) Put(key string, data []byte, contentType string, ttl time.Duration) (string, error) {
	blobClient := b.Client.NewBlockBlobClient(key)

	body := readSeekNopCloser{bytes.NewReader(data)}
	_, err := blobClient.Upload(context.Background(), body, &azblob.UploadBlockBlobOptions{
		HTTPHeaders: &azblob.BlobHTTPHeaders{BlobContentType: &contentType},
		Metadata: map[string]string{
			"ownedBy": "github-zip-server",
		},
	})
	if err != nil {
		return "", err
	}

	return b.Presign(key, ttl)
}

func (b *Backend) Presign(key string, ttl time.Duration) (string, error) {
	blobClient := b.Client.NewBlockBlobClient(key)
	blobClientSharedKey, err := azblob.NewBlobClientWithSharedKey(blobClient.URL(), b.sharedKeyCredential, &azblob.ClientOptions{})
	if err != nil {
		return "", err
	}

	now := time.Now().Add(-1 * time.Minute)
	expire := time.Now().Add(ttl)

	resp, err := blobClientSharedKey.GetSASToken(azblob.BlobSASPermissions{Read: true}, now, expire)
	if err != nil {
		return "", err
	}

	return blobClient.URL() + "?" + resp.Encode(), nil
}

func (b *Backend) Delete(key string) error {
	blobClient := b.Client.NewBlockBlobClient(key)
	_, err := blobClient.Delete(context.Background(), &azblob.DeleteBlobOptions{})
	return err
}

// ListOlderThan pages through blobs under prefix and returns the names of
// those last modified before cutoff.
func (b *Backend) ListOlderThan(prefix string, cutoff time.Time) ([]string, error) {
	keys := make([]string, 0)

	pager := b.Client.ListBlobsFlat(&azblob.ContainerListBlobFlatSegmentOptions{Prefix: &prefix})
	for pager.NextPage(context.Background()) {
		resp := pager.PageResponse()
		for _, item := range resp.ContainerListBlobFlatSegmentResult.Segment.BlobItems {
			if item.Name == nil || item.Properties == nil || item.Properties.LastModified == nil {
				continue
			}
			if item.Properties.LastModified.Before(cutoff) {
				keys = append(keys, *item.Name)
			}
		}
	}
	if err := pager.Err(); err != nil && err != io.EOF {
		return nil, err
	}

	return keys, nil
}

func (b *Backend) GetFilePath(key string) (string, error) {
	return "", e.ErrNotImplemented
}
