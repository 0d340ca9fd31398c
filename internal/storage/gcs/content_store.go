// Package gcs provides a content store backed by Google Cloud Storage.
package gcs

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"

	"cloud.google.com/go/storage"

	"github.com/JakeFAU/adaptive-frontier/internal/crawler"
	appstorage "github.com/JakeFAU/adaptive-frontier/internal/storage"
)

// Config captures the parameters required to connect to GCS.
type Config struct {
	Bucket string `mapstructure:"bucket" yaml:"bucket"`
	Prefix string `mapstructure:"prefix" yaml:"prefix"`
}

// ContentStore keeps page records in a configured GCS bucket.
type ContentStore struct {
	client *storage.Client
	bucket string
	prefix string
	hasher crawler.Hasher
}

// New creates a GCS-backed content store.
func New(client *storage.Client, cfg Config, hasher crawler.Hasher) (*ContentStore, error) {
	if client == nil {
		return nil, fmt.Errorf("storage client is required")
	}
	if cfg.Bucket == "" {
		return nil, fmt.Errorf("bucket name is required")
	}
	if hasher == nil {
		return nil, fmt.Errorf("hasher is required")
	}
	return &ContentStore{
		client: client,
		bucket: cfg.Bucket,
		prefix: cfg.Prefix,
		hasher: hasher,
	}, nil
}

// Store uploads the page record under its URI digest.
func (s *ContentStore) Store(ctx context.Context, content crawler.Content) error {
	name, err := appstorage.ObjectPath(s.hasher, s.prefix, content.URI)
	if err != nil {
		return err
	}
	data, err := appstorage.EncodeContent(content)
	if err != nil {
		return err
	}
	writer := s.client.Bucket(s.bucket).Object(name).NewWriter(ctx)
	writer.ContentType = "application/json"
	if _, err := io.Copy(writer, bytes.NewReader(data)); err != nil {
		closeErr := writer.Close()
		if closeErr != nil {
			return fmt.Errorf("copy object: %w (close writer: %v)", err, closeErr)
		}
		return fmt.Errorf("copy object: %w", err)
	}
	if err := writer.Close(); err != nil {
		return fmt.Errorf("close writer: %w", err)
	}
	return nil
}

// Content downloads the record stored for uri.
func (s *ContentStore) Content(ctx context.Context, uri string) (crawler.Content, error) {
	name, err := appstorage.ObjectPath(s.hasher, s.prefix, uri)
	if err != nil {
		return crawler.Content{}, err
	}
	reader, err := s.client.Bucket(s.bucket).Object(name).NewReader(ctx)
	if errors.Is(err, storage.ErrObjectNotExist) {
		return crawler.Content{}, crawler.ErrContentNotFound
	}
	if err != nil {
		return crawler.Content{}, fmt.Errorf("open object %s: %w", name, err)
	}
	defer func() {
		_ = reader.Close()
	}()
	data, err := io.ReadAll(reader)
	if err != nil {
		return crawler.Content{}, fmt.Errorf("read object %s: %w", name, err)
	}
	return appstorage.DecodeContent(data, uri)
}

// URI returns the gs:// location of the record for uri.
func (s *ContentStore) URI(uri string) (string, error) {
	name, err := appstorage.ObjectPath(s.hasher, s.prefix, uri)
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("gs://%s/%s", s.bucket, name), nil
}
