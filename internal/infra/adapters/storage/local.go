// Package storage keeps generated artifacts on local disk and serves them
// under a public base URL.
package storage

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"

	"media-pipeline/internal/domain"
	"media-pipeline/internal/domain/ports/adapter"
)

var _ adapter.BlobStorage = (*LocalStorage)(nil)

// LocalStorage writes blobs below dir. URLs under publicBase resolve back to
// the local file on Fetch; anything else is downloaded over HTTP.
type LocalStorage struct {
	dir        string
	publicBase string
	client     *http.Client
}

func NewLocalStorage(dir, publicBase string, fetchTimeout time.Duration) (*LocalStorage, error) {
	if dir == "" {
		return nil, errors.New("storage dir required")
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create storage dir: %w", err)
	}
	if fetchTimeout <= 0 {
		fetchTimeout = 5 * time.Minute
	}
	return &LocalStorage{
		dir:        dir,
		publicBase: strings.TrimRight(publicBase, "/"),
		client:     &http.Client{Timeout: fetchTimeout},
	}, nil
}

// Dir is the root the HTTP server exposes.
func (s *LocalStorage) Dir() string { return s.dir }

func (s *LocalStorage) path(key string) (string, error) {
	clean := filepath.Clean("/" + key)
	if clean == "/" {
		return "", fmt.Errorf("%w: empty storage key", domain.ErrInvalidArgument)
	}
	return filepath.Join(s.dir, filepath.FromSlash(clean)), nil
}

func (s *LocalStorage) Put(ctx context.Context, key, contentType string, r io.Reader) (string, error) {
	dst, err := s.path(key)
	if err != nil {
		return "", err
	}
	if err := os.MkdirAll(filepath.Dir(dst), 0o755); err != nil {
		return "", err
	}
	// write then rename so readers never see a partial file
	tmp, err := os.CreateTemp(filepath.Dir(dst), ".upload-*")
	if err != nil {
		return "", err
	}
	if _, err := io.Copy(tmp, r); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return "", err
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmp.Name())
		return "", err
	}
	if err := os.Rename(tmp.Name(), dst); err != nil {
		os.Remove(tmp.Name())
		return "", err
	}
	return s.publicBase + "/" + strings.TrimLeft(filepath.ToSlash(filepath.Clean("/"+key)), "/"), nil
}

func (s *LocalStorage) Fetch(ctx context.Context, rawURL string) (io.ReadCloser, error) {
	if s.publicBase != "" && strings.HasPrefix(rawURL, s.publicBase+"/") {
		p, err := s.path(strings.TrimPrefix(rawURL, s.publicBase+"/"))
		if err != nil {
			return nil, err
		}
		return os.Open(p)
	}
	u, err := url.Parse(rawURL)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrInvalidArgument, err)
	}
	switch u.Scheme {
	case "file":
		return os.Open(u.Path)
	case "http", "https":
	default:
		return nil, fmt.Errorf("%w: unsupported url scheme %q", domain.ErrInvalidArgument, u.Scheme)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return nil, err
	}
	resp, err := s.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("download %s: %w", u.Host, err)
	}
	if resp.StatusCode >= 300 {
		resp.Body.Close()
		return nil, fmt.Errorf("download %s: http %d", u.Host, resp.StatusCode)
	}
	return resp.Body, nil
}
