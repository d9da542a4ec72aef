package storage

import (
	"context"
	"fmt"
	"net/url"
	"strings"

	"github.com/Azure/azure-storage-blob-go/azblob"
)

func init() {
	Register("azure", func(opts Options) (Writer, error) {
		return NewAzureWriter(opts)
	})
}

// AzureConfig is the azure plugin's storage_config.
type AzureConfig struct {
	objectStoreConfig `yaml:",inline"`
	AccountName       string `yaml:"account_name"`
	AccountKey        string `yaml:"account_key"`
	Container         string `yaml:"container"`
	// Endpoint overrides https://<account>.blob.core.windows.net, e.g. for Azurite
	Endpoint string `yaml:"endpoint"`
}

// Validate validates the Azure configuration.
func (c AzureConfig) Validate() error {
	if c.Container == "" {
		return fmt.Errorf("container is required")
	}
	if c.AccountName == "" && c.Endpoint == "" {
		return fmt.Errorf("account name or endpoint is required")
	}
	return nil
}

func (c AzureConfig) containerURL() (*url.URL, error) {
	endpoint := c.Endpoint
	if endpoint == "" {
		endpoint = fmt.Sprintf("https://%s.blob.core.windows.net", c.AccountName)
	}
	return url.Parse(strings.TrimSuffix(endpoint, "/") + "/" + c.Container)
}

// NewAzureWriter uploads one block blob per batch to an Azure container.
func NewAzureWriter(opts Options) (Writer, error) {
	var cfg AzureConfig
	if err := loadConfig(opts.StorageConfigURI, &cfg); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid Azure config: %w", err)
	}

	var credential azblob.Credential = azblob.NewAnonymousCredential()
	if cfg.AccountKey != "" {
		shared, err := azblob.NewSharedKeyCredential(cfg.AccountName, cfg.AccountKey)
		if err != nil {
			return nil, fmt.Errorf("invalid Azure credentials: %w", err)
		}
		credential = shared
	}

	u, err := cfg.containerURL()
	if err != nil {
		return nil, fmt.Errorf("invalid Azure endpoint: %w", err)
	}

	pipeline := azblob.NewPipeline(credential, azblob.PipelineOptions{
		Retry: azblob.RetryOptions{MaxTries: 1},
	})
	store := &azureStore{container: azblob.NewContainerURL(*u, pipeline)}
	return newObjectWriter("azure", store, opts.URI, cfg.objectStoreConfig)
}

type azureStore struct {
	container azblob.ContainerURL
}

func (a *azureStore) put(ctx context.Context, key string, body []byte, contentType string, metadata map[string]string) error {
	blob := a.container.NewBlockBlobURL(key)
	_, err := azblob.UploadBufferToBlockBlob(ctx, body, blob, azblob.UploadToBlockBlobOptions{
		BlobHTTPHeaders: azblob.BlobHTTPHeaders{ContentType: contentType},
		Metadata:        azblob.Metadata(metadata),
	})
	if err != nil {
		return fmt.Errorf("failed to upload blob %s: %w", key, err)
	}
	return nil
}

func (a *azureStore) close() error {
	return nil
}
