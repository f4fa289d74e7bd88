package client

import (
	"context"
	"fmt"
	"io"
	"strings"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
	"github.com/stemtranscriber/api/internal/config"
)

// MinioClient implements StorageClient for MinIO.
type MinioClient struct {
	minio      *minio.Client
	bucketName string
	endpoint   string
	publicURL  string
}

func NewMinioClient(cfg *config.MirrorConfig) (*MinioClient, error) {
	if cfg.Endpoint == "" || cfg.Bucket == "" {
		return nil, fmt.Errorf("MinIO mirror configuration incomplete")
	}

	// minio-go wants host[:port] without a scheme
	host := strings.TrimPrefix(strings.TrimPrefix(cfg.Endpoint, "https://"), "http://")

	mc, err := minio.New(host, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.AccessKey, cfg.SecretKey, ""),
		Secure: cfg.UseSSL,
		Region: cfg.Region,
	})
	if err != nil {
		return nil, fmt.Errorf("minio connection: %w", err)
	}

	scheme := "http"
	if cfg.UseSSL {
		scheme = "https"
	}

	return &MinioClient{
		minio:      mc,
		bucketName: cfg.Bucket,
		endpoint:   scheme + "://" + host,
		publicURL:  cfg.PublicURL,
	}, nil
}

// Upload streams body to the bucket. The size is unknown, so minio-go
// uploads it in parts.
func (c *MinioClient) Upload(ctx context.Context, key string, body io.Reader, contentType string) (string, error) {
	_, err := c.minio.PutObject(ctx, c.bucketName, key, body, -1, minio.PutObjectOptions{
		ContentType: contentType,
	})
	if err != nil {
		return "", fmt.Errorf("failed to upload to MinIO: %w", err)
	}
	return c.GetPublicURL(key), nil
}

func (c *MinioClient) GetPublicURL(key string) string {
	return publicURL(c.publicURL, c.endpoint, c.bucketName, key)
}
