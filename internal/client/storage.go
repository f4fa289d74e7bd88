package client

import (
	"context"
	"fmt"
	"io"
	"log"
	"os"
	"path/filepath"
	"strings"

	"github.com/stemtranscriber/api/internal/config"
)

// StorageClient defines the interface for object storage operations
type StorageClient interface {
	Upload(ctx context.Context, key string, body io.Reader, contentType string) (string, error)
	GetPublicURL(key string) string
}

// NewStorageClient builds the client for the configured driver. Driver
// "none" (or empty) returns nil, nil.
func NewStorageClient(cfg *config.MirrorConfig) (StorageClient, error) {
	switch cfg.Driver {
	case "", "none":
		return nil, nil
	case "s3", "r2":
		return NewS3Client(cfg)
	case "minio":
		return NewMinioClient(cfg)
	}
	return nil, fmt.Errorf("unknown mirror driver %q", cfg.Driver)
}

// Mirror copies finished artifacts to object storage. A nil Mirror, or one
// without a client, does nothing.
type Mirror struct {
	client StorageClient
}

func NewMirror(client StorageClient) *Mirror {
	return &Mirror{client: client}
}

func (m *Mirror) Enabled() bool {
	return m != nil && m.client != nil
}

// Files uploads each path to projects/<projectID>/<kind>/<name> and returns
// the public URLs of the uploads that succeeded. Failures are logged only.
func (m *Mirror) Files(ctx context.Context, projectID, kind string, paths []string) []string {
	if !m.Enabled() {
		return nil
	}

	var urls []string
	for _, p := range paths {
		key := ObjectKey(projectID, kind, filepath.Base(p))
		url, err := m.upload(ctx, key, p)
		if err != nil {
			log.Printf("Failed to mirror %s: %v", key, err)
			continue
		}
		urls = append(urls, url)
	}
	return urls
}

func (m *Mirror) upload(ctx context.Context, key, path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", fmt.Errorf("failed to open %s: %w", path, err)
	}
	defer f.Close()
	return m.client.Upload(ctx, key, f, ContentType(path))
}

// ObjectKey is the object name an artifact is mirrored under.
func ObjectKey(projectID, kind, name string) string {
	return fmt.Sprintf("projects/%s/%s/%s", projectID, kind, name)
}

// ContentType maps artifact extensions to MIME types.
func ContentType(path string) string {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".wav":
		return "audio/wav"
	case ".mid", ".midi":
		return "audio/midi"
	case ".musicxml":
		return "application/vnd.recordare.musicxml+xml"
	case ".xml":
		return "application/xml"
	}
	return "application/octet-stream"
}
