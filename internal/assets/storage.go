// Package assets copies event fliers into durable storage and serves them
// behind signed URLs.
package assets

import (
	"context"
	"fmt"
	"net/url"
	"os"
	"path"
	"path/filepath"
	"strings"
	"sync"

	"github.com/tappedai/event-crawler/internal/auth"
)

// Storage persists asset bytes and returns a long-lived signed URL.
type Storage interface {
	Put(ctx context.Context, key string, data []byte, contentType string) (string, error)
}

// FileStorage stores assets on the local filesystem.
// Thread-safe for concurrent operations.
type FileStorage struct {
	tokens   *auth.TokenService
	basePath string
	baseURL  string
	mu       sync.RWMutex
}

// NewFileStorage creates the storage directory if needed. Signed URLs are
// built as {baseURL}/{key}?token=...
func NewFileStorage(basePath, baseURL string, tokens *auth.TokenService) (*FileStorage, error) {
	if basePath == "" {
		return nil, fmt.Errorf("base path cannot be empty")
	}
	if tokens == nil {
		return nil, fmt.Errorf("token service is required")
	}
	if err := os.MkdirAll(basePath, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create assets directory: %w", err)
	}
	return &FileStorage{
		tokens:   tokens,
		basePath: basePath,
		baseURL:  strings.TrimRight(baseURL, "/"),
	}, nil
}

// cleanKey rejects keys that would escape the storage directory.
func cleanKey(key string) (string, error) {
	cleaned := path.Clean("/" + key)[1:]
	if cleaned == "" || cleaned != key {
		return "", fmt.Errorf("invalid asset key %q", key)
	}
	return cleaned, nil
}

// Put implements Storage. The write is atomic: readers never observe a
// partial file.
func (s *FileStorage) Put(ctx context.Context, key string, data []byte, contentType string) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	key, err := cleanKey(key)
	if err != nil {
		return "", err
	}
	if len(data) == 0 {
		return "", fmt.Errorf("asset data cannot be empty")
	}

	p := s.Path(key)
	if err := os.MkdirAll(filepath.Dir(p), 0o755); err != nil {
		return "", fmt.Errorf("failed to create asset directory: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	tmp, err := os.CreateTemp(filepath.Dir(p), ".upload-*")
	if err != nil {
		return "", fmt.Errorf("failed to create temp file: %w", err)
	}
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return "", fmt.Errorf("failed to write asset: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmp.Name())
		return "", fmt.Errorf("failed to close asset: %w", err)
	}
	if err := os.Rename(tmp.Name(), p); err != nil {
		os.Remove(tmp.Name())
		return "", fmt.Errorf("failed to store asset: %w", err)
	}

	return s.URL(key)
}

// URL returns a freshly signed URL for key.
func (s *FileStorage) URL(key string) (string, error) {
	token, err := s.tokens.Sign(key)
	if err != nil {
		return "", fmt.Errorf("sign asset url: %w", err)
	}
	return s.baseURL + "/" + key + "?token=" + url.QueryEscape(token), nil
}

// Verify checks that token grants key.
func (s *FileStorage) Verify(key, token string) error {
	return s.tokens.Verify(token, key)
}

// Open opens the stored file for key.
func (s *FileStorage) Open(key string) (*os.File, error) {
	key, err := cleanKey(key)
	if err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	return os.Open(s.Path(key))
}

// Exists reports whether key is stored.
func (s *FileStorage) Exists(key string) bool {
	key, err := cleanKey(key)
	if err != nil {
		return false
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, err = os.Stat(s.Path(key))
	return err == nil
}

// Path returns the filesystem path for key.
func (s *FileStorage) Path(key string) string {
	return filepath.Join(s.basePath, filepath.FromSlash(key))
}
