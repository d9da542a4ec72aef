package storage

import (
	"context"
	"fmt"

	gcs "cloud.google.com/go/storage"
	"google.golang.org/api/option"
)

func init() {
	Register("gcs", func(opts Options) (Writer, error) {
		return NewGCSWriter(opts)
	})
}

// GCSConfig is the gcs plugin's storage_config.
type GCSConfig struct {
	objectStoreConfig `yaml:",inline"`
	Bucket            string `yaml:"bucket"`
	CredentialsFile   string `yaml:"credentials_file"`
	// Endpoint points the client at an emulator such as fake-gcs-server
	Endpoint string `yaml:"endpoint"`
}

// Validate validates the GCS configuration.
func (c GCSConfig) Validate() error {
	if c.Bucket == "" {
		return fmt.Errorf("bucket is required")
	}
	return nil
}

// NewGCSWriter uploads one object per batch to a Cloud Storage bucket.
func NewGCSWriter(opts Options) (Writer, error) {
	var cfg GCSConfig
	if err := loadConfig(opts.StorageConfigURI, &cfg); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid GCS config: %w", err)
	}

	var clientOpts []option.ClientOption
	if cfg.CredentialsFile != "" {
		clientOpts = append(clientOpts, option.WithCredentialsFile(cfg.CredentialsFile))
	}
	if cfg.Endpoint != "" {
		clientOpts = append(clientOpts, option.WithEndpoint(cfg.Endpoint))
		if cfg.CredentialsFile == "" {
			clientOpts = append(clientOpts, option.WithoutAuthentication())
		}
	}

	client, err := gcs.NewClient(context.Background(), clientOpts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create GCS client: %w", err)
	}

	store := &gcsStore{client: client, bucket: client.Bucket(cfg.Bucket)}
	w, err := newObjectWriter("gcs", store, opts.URI, cfg.objectStoreConfig)
	if err != nil {
		client.Close()
		return nil, err
	}
	return w, nil
}

type gcsStore struct {
	client *gcs.Client
	bucket *gcs.BucketHandle
}

func (g *gcsStore) put(ctx context.Context, key string, body []byte, contentType string, metadata map[string]string) error {
	w := g.bucket.Object(key).NewWriter(ctx)
	w.ContentType = contentType
	w.Metadata = metadata

	if _, err := w.Write(body); err != nil {
		_ = w.Close()
		return fmt.Errorf("failed to write object %s: %w", key, err)
	}
	if err := w.Close(); err != nil {
		return fmt.Errorf("failed to finalize object %s: %w", key, err)
	}
	return nil
}

func (g *gcsStore) close() error {
	return g.client.Close()
}
