package blobstore

import (
	"context"
	"fmt"
	"io"
	"net/http"

	"github.com/go-resty/resty/v2"

	"github.com/flowcache/flowdag/internal/model"
)

// HTTPStore is a BlobStore backend for a plain HTTP(S) remote exposing
// GET/PUT/DELETE/HEAD on "<baseURL>/<objectKey>" and a directory listing
// at "<baseURL>/?list=1" returning one key per line. This matches the
// simplest of DVC's own remote types (a dumb HTTP PUT/GET endpoint, no
// bucket semantics) and is the natural fit for go-resty in the example
// pack.
type HTTPStore struct {
	client  *resty.Client
	baseURL string
	name    string
}

// NewHTTPStore builds an HTTPStore rooted at baseURL (no trailing slash).
func NewHTTPStore(name, baseURL string) *HTTPStore {
	return &HTTPStore{
		client:  resty.New().SetRetryCount(2),
		baseURL: baseURL,
		name:    name,
	}
}

func (s *HTTPStore) Name() string { return s.name }

func (s *HTTPStore) url(h model.Hash) string {
	return s.baseURL + "/" + objectKey(h)
}

func (s *HTTPStore) Exists(ctx context.Context, h model.Hash) (bool, error) {
	resp, err := s.client.R().SetContext(ctx).Head(s.url(h))
	if err != nil {
		return false, fmt.Errorf("blobstore: http head %s: %w", h, err)
	}
	switch resp.StatusCode() {
	case http.StatusOK:
		return true, nil
	case http.StatusNotFound:
		return false, nil
	default:
		return false, fmt.Errorf("blobstore: http head %s: status %d", h, resp.StatusCode())
	}
}

func (s *HTTPStore) Put(ctx context.Context, h model.Hash, r io.Reader, size int64) error {
	resp, err := s.client.R().
		SetContext(ctx).
		SetHeader("Content-Length", fmt.Sprintf("%d", size)).
		SetBody(io.NopCloser(r)).
		Put(s.url(h))
	if err != nil {
		return fmt.Errorf("blobstore: http put %s: %w", h, err)
	}
	if resp.IsError() {
		return fmt.Errorf("blobstore: http put %s: status %d", h, resp.StatusCode())
	}
	return nil
}

func (s *HTTPStore) Get(ctx context.Context, h model.Hash) (io.ReadCloser, error) {
	resp, err := s.client.R().SetContext(ctx).SetDoNotParseResponse(true).Get(s.url(h))
	if err != nil {
		return nil, fmt.Errorf("blobstore: http get %s: %w", h, err)
	}
	raw := resp.RawBody()
	if resp.StatusCode() == http.StatusNotFound {
		raw.Close()
		return nil, fmt.Errorf("blobstore: http get %s: %w", h, ErrNotExist)
	}
	if resp.IsError() {
		raw.Close()
		return nil, fmt.Errorf("blobstore: http get %s: status %d", h, resp.StatusCode())
	}
	return raw, nil
}

func (s *HTTPStore) List(ctx context.Context) ([]model.Hash, error) {
	resp, err := s.client.R().SetContext(ctx).Get(s.baseURL + "/?list=1")
	if err != nil {
		return nil, fmt.Errorf("blobstore: http list: %w", err)
	}
	if resp.IsError() {
		return nil, fmt.Errorf("blobstore: http list: status %d", resp.StatusCode())
	}
	return parseKeyLines(string(resp.Body())), nil
}

func (s *HTTPStore) Remove(ctx context.Context, h model.Hash) error {
	resp, err := s.client.R().SetContext(ctx).Delete(s.url(h))
	if err != nil {
		return fmt.Errorf("blobstore: http delete %s: %w", h, err)
	}
	if resp.IsError() && resp.StatusCode() != http.StatusNotFound {
		return fmt.Errorf("blobstore: http delete %s: status %d", h, resp.StatusCode())
	}
	return nil
}

func parseKeyLines(body string) []model.Hash {
	var out []model.Hash
	start := 0
	for i := 0; i <= len(body); i++ {
		if i == len(body) || body[i] == '\n' {
			line := body[start:i]
			start = i + 1
			if line == "" {
				continue
			}
			if h, ok := parseObjectKey(line); ok {
				out = append(out, h)
			}
		}
	}
	return out
}
