// Package storage holds helpers shared by the content store backends.
package storage

import (
	"encoding/json"
	"fmt"
	"path"
	"strings"

	"github.com/JakeFAU/adaptive-frontier/internal/crawler"
)

// ObjectPath names the object that records uri: the hex digest of the URI,
// fanned out by its first two characters under prefix.
func ObjectPath(hasher crawler.Hasher, prefix, uri string) (string, error) {
	if strings.TrimSpace(uri) == "" {
		return "", fmt.Errorf("content uri is required")
	}
	sum, err := hasher.Hash([]byte(uri))
	if err != nil {
		return "", fmt.Errorf("hash uri: %w", err)
	}
	if len(sum) < 2 {
		return "", fmt.Errorf("digest %q too short", sum)
	}
	return path.Join(strings.Trim(prefix, "/"), sum[:2], sum+".json"), nil
}

// EncodeContent serializes a page record.
func EncodeContent(content crawler.Content) ([]byte, error) {
	data, err := json.Marshal(content)
	if err != nil {
		return nil, fmt.Errorf("marshal content: %w", err)
	}
	return data, nil
}

// DecodeContent parses a record written by EncodeContent and checks it
// belongs to uri.
func DecodeContent(data []byte, uri string) (crawler.Content, error) {
	var content crawler.Content
	if err := json.Unmarshal(data, &content); err != nil {
		return crawler.Content{}, fmt.Errorf("unmarshal content: %w", err)
	}
	if content.URI != uri {
		return crawler.Content{}, fmt.Errorf("content record is for %q, not %q", content.URI, uri)
	}
	return content, nil
}
