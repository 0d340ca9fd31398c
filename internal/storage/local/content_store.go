// Package local implements a local filesystem content store.
package local

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/JakeFAU/adaptive-frontier/internal/crawler"
	"github.com/JakeFAU/adaptive-frontier/internal/storage"
)

// Config captures the parameters for the local filesystem content store.
type Config struct {
	// BaseDir is the root directory where page records will be stored.
	BaseDir string `mapstructure:"base_dir" yaml:"base_dir"`
	// Prefix is an optional subdirectory below BaseDir.
	Prefix string `mapstructure:"prefix" yaml:"prefix"`
}

// ContentStore writes page records to the local filesystem.
type ContentStore struct {
	baseDir string
	prefix  string
	hasher  crawler.Hasher
}

// New creates a new local filesystem-backed content store.
func New(cfg Config, hasher crawler.Hasher) (*ContentStore, error) {
	if strings.TrimSpace(cfg.BaseDir) == "" {
		return nil, fmt.Errorf("base directory is required")
	}
	if hasher == nil {
		return nil, fmt.Errorf("hasher is required")
	}

	info, err := os.Stat(cfg.BaseDir)
	if err != nil {
		if !os.IsNotExist(err) {
			return nil, fmt.Errorf("failed to stat base directory: %w", err)
		}
		if mkErr := os.MkdirAll(cfg.BaseDir, 0o750); mkErr != nil {
			return nil, fmt.Errorf("failed to create base directory: %w", mkErr)
		}
	} else if !info.IsDir() {
		return nil, fmt.Errorf("base directory path is not a directory")
	}

	testFile := filepath.Join(cfg.BaseDir, ".writable_test")
	if err := os.WriteFile(testFile, []byte("test"), 0o600); err != nil {
		return nil, fmt.Errorf("base directory is not writable: %w", err)
	}
	if err := os.Remove(testFile); err != nil {
		return nil, fmt.Errorf("failed to clean up test file: %w", err)
	}

	return &ContentStore{baseDir: cfg.BaseDir, prefix: cfg.Prefix, hasher: hasher}, nil
}

func (s *ContentStore) path(uri string) (string, error) {
	rel, err := storage.ObjectPath(s.hasher, s.prefix, uri)
	if err != nil {
		return "", err
	}
	fullPath := filepath.Join(s.baseDir, filepath.FromSlash(rel))
	// Prefix comes from configuration; keep the result inside baseDir.
	cleanBaseDir := filepath.Clean(s.baseDir)
	if !strings.HasPrefix(filepath.Clean(fullPath), cleanBaseDir+string(filepath.Separator)) {
		return "", fmt.Errorf("path traversal detected")
	}
	return fullPath, nil
}

// Store writes content to a file named after its URI digest.
func (s *ContentStore) Store(_ context.Context, content crawler.Content) error {
	fullPath, err := s.path(content.URI)
	if err != nil {
		return err
	}
	data, err := storage.EncodeContent(content)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(fullPath), 0o750); err != nil {
		return fmt.Errorf("failed to create parent directories: %w", err)
	}
	if err := os.WriteFile(fullPath, data, 0o600); err != nil {
		return fmt.Errorf("failed to write file: %w", err)
	}
	return nil
}

// Content replays the record stored for uri.
func (s *ContentStore) Content(_ context.Context, uri string) (crawler.Content, error) {
	fullPath, err := s.path(uri)
	if err != nil {
		return crawler.Content{}, err
	}
	// #nosec G304 -- path derived from a digest below baseDir.
	data, err := os.ReadFile(fullPath)
	if errors.Is(err, fs.ErrNotExist) {
		return crawler.Content{}, crawler.ErrContentNotFound
	}
	if err != nil {
		return crawler.Content{}, fmt.Errorf("failed to read file: %w", err)
	}
	return storage.DecodeContent(data, uri)
}
