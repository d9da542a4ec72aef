// Package testutil provides helpers for integration tests that run the
// object-store plugins against local emulators.
package testutil

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"os"
	"time"

	gcs "cloud.google.com/go/storage"
	"github.com/Azure/azure-storage-blob-go/azblob"
	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"google.golang.org/api/iterator"
	"google.golang.org/api/option"
)

// Well-known development account of the Azurite emulator.
const (
	AzuriteAccount = "devstoreaccount1"
	azuriteKey     = "Eby8vdM02xNOcqFlqUwJPLlmEtlCDXJ1OUzFT50uSRZ6IFsuFq2UVErCz4I6tq/K1SZFPTOtr/KBHBeksoGMGw=="
)

// ServiceChecker checks if test services are available
type ServiceChecker struct {
	client *http.Client
}

// NewServiceChecker creates a new service checker
func NewServiceChecker() *ServiceChecker {
	return &ServiceChecker{
		client: &http.Client{
			Timeout: 2 * time.Second,
		},
	}
}

func (sc *ServiceChecker) status(u string) int {
	resp, err := sc.client.Get(u)
	if err != nil {
		return 0
	}
	defer func() { _ = resp.Body.Close() }()
	return resp.StatusCode
}

// IsMinIOAvailable checks if MinIO is running
func (sc *ServiceChecker) IsMinIOAvailable() bool {
	return sc.status(MinIOEndpoint()+"/minio/health/live") == http.StatusOK
}

// IsAzuriteAvailable checks if Azurite is running
func (sc *ServiceChecker) IsAzuriteAvailable() bool {
	// Azurite answers 403 to unsigned requests
	code := sc.status(AzuriteEndpoint() + "?comp=list")
	return code == http.StatusForbidden || code == http.StatusOK
}

// IsFakeGCSAvailable checks if fake-gcs-server is running
func (sc *ServiceChecker) IsFakeGCSAvailable() bool {
	code := sc.status(FakeGCSEndpoint() + "/storage/v1/b")
	return code == http.StatusOK || code == http.StatusUnauthorized
}

func getenv(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

// MinIOEndpoint returns MINIO_ENDPOINT or the local default.
func MinIOEndpoint() string {
	return getenv("MINIO_ENDPOINT", "http://localhost:9000")
}

// MinIOCredentials returns the MinIO access and secret keys.
func MinIOCredentials() (string, string) {
	return getenv("MINIO_ACCESS_KEY", "minioadmin"), getenv("MINIO_SECRET_KEY", "minioadmin")
}

// AzuriteEndpoint returns the blob endpoint of the Azurite account.
func AzuriteEndpoint() string {
	return getenv("AZURITE_ENDPOINT", "http://localhost:10000/"+AzuriteAccount)
}

// AzuriteKey returns AZURITE_ACCOUNT_KEY or the emulator's published key.
func AzuriteKey() string {
	return getenv("AZURITE_ACCOUNT_KEY", azuriteKey)
}

// FakeGCSEndpoint returns FAKE_GCS_ENDPOINT or the local default.
func FakeGCSEndpoint() string {
	return getenv("FAKE_GCS_ENDPOINT", "http://localhost:4443")
}

// GetMinIOClient returns an S3 client configured for MinIO
func GetMinIOClient(ctx context.Context) (*s3.Client, error) {
	accessKey, secretKey := MinIOCredentials()

	cfg, err := config.LoadDefaultConfig(ctx,
		config.WithRegion("us-east-1"),
		config.WithCredentialsProvider(credentials.NewStaticCredentialsProvider(accessKey, secretKey, "")),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to load AWS config: %w", err)
	}
	cfg.BaseEndpoint = aws.String(MinIOEndpoint())

	return s3.NewFromConfig(cfg, func(o *s3.Options) {
		o.UsePathStyle = true
	}), nil
}

// CreateTestBucket creates bucket, tolerating one that already exists.
func CreateTestBucket(ctx context.Context, client *s3.Client, bucket string) error {
	_, err := client.CreateBucket(ctx, &s3.CreateBucketInput{Bucket: aws.String(bucket)})
	var owned *types.BucketAlreadyOwnedByYou
	var exists *types.BucketAlreadyExists
	if err != nil && !errors.As(err, &owned) && !errors.As(err, &exists) {
		return fmt.Errorf("failed to create bucket: %w", err)
	}
	return nil
}

// ListS3Keys returns every key in bucket.
func ListS3Keys(ctx context.Context, client *s3.Client, bucket string) ([]string, error) {
	var keys []string
	p := s3.NewListObjectsV2Paginator(client, &s3.ListObjectsV2Input{Bucket: aws.String(bucket)})
	for p.HasMorePages() {
		page, err := p.NextPage(ctx)
		if err != nil {
			return nil, fmt.Errorf("failed to list objects: %w", err)
		}
		for _, obj := range page.Contents {
			keys = append(keys, aws.ToString(obj.Key))
		}
	}
	return keys, nil
}

// CleanupTestBucket removes all objects and deletes the bucket
func CleanupTestBucket(ctx context.Context, client *s3.Client, bucket string) error {
	keys, err := ListS3Keys(ctx, client, bucket)
	if err != nil {
		return err
	}
	for _, key := range keys {
		if _, err := client.DeleteObject(ctx, &s3.DeleteObjectInput{
			Bucket: aws.String(bucket),
			Key:    aws.String(key),
		}); err != nil {
			return fmt.Errorf("failed to delete object %s: %w", key, err)
		}
	}

	if _, err := client.DeleteBucket(ctx, &s3.DeleteBucketInput{Bucket: aws.String(bucket)}); err != nil {
		return fmt.Errorf("failed to delete bucket: %w", err)
	}
	return nil
}

// AzuriteContainer returns a handle on container in the Azurite account.
func AzuriteContainer(container string) (azblob.ContainerURL, error) {
	cred, err := azblob.NewSharedKeyCredential(AzuriteAccount, AzuriteKey())
	if err != nil {
		return azblob.ContainerURL{}, fmt.Errorf("invalid Azurite credentials: %w", err)
	}
	u, err := url.Parse(AzuriteEndpoint() + "/" + container)
	if err != nil {
		return azblob.ContainerURL{}, err
	}
	return azblob.NewContainerURL(*u, azblob.NewPipeline(cred, azblob.PipelineOptions{})), nil
}

// ListBlobs returns every blob name in the container.
func ListBlobs(ctx context.Context, c azblob.ContainerURL) ([]string, error) {
	var names []string
	for marker := (azblob.Marker{}); marker.NotDone(); {
		resp, err := c.ListBlobsFlatSegment(ctx, marker, azblob.ListBlobsSegmentOptions{})
		if err != nil {
			return nil, fmt.Errorf("failed to list blobs: %w", err)
		}
		for _, b := range resp.Segment.BlobItems {
			names = append(names, b.Name)
		}
		marker = resp.NextMarker
	}
	return names, nil
}

// GetFakeGCSClient returns a Cloud Storage client for fake-gcs-server.
func GetFakeGCSClient(ctx context.Context) (*gcs.Client, error) {
	return gcs.NewClient(ctx,
		option.WithEndpoint(FakeGCSEndpoint()+"/storage/v1/"),
		option.WithoutAuthentication(),
	)
}

// ListGCSObjects returns every object name in bucket.
func ListGCSObjects(ctx context.Context, client *gcs.Client, bucket string) ([]string, error) {
	var names []string
	it := client.Bucket(bucket).Objects(ctx, nil)
	for {
		attrs, err := it.Next()
		if errors.Is(err, iterator.Done) {
			return names, nil
		}
		if err != nil {
			return nil, fmt.Errorf("failed to list objects: %w", err)
		}
		names = append(names, attrs.Name)
	}
}

// WaitForService waits for a service to be available
func WaitForService(name string, checkFunc func() bool, timeout time.Duration) error {
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	ticker := time.NewTicker(1 * time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return fmt.Errorf("%s service not available after %v", name, timeout)
		case <-ticker.C:
			if checkFunc() {
				return nil
			}
		}
	}
}
