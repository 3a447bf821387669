package accessor

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/xpod/core/cmn"
)

// HTTPBackend treats an HTTP(S)-reachable origin as an object bucket,
// grounded directly on the teacher's ais/backend/http.go httpProvider: plain
// GET/PUT over net/http, no cloud SDK. Used for edge-hosted buckets that
// expose their own HTTP object endpoint instead of a cloud backend.
type HTTPBackend struct {
	name       string
	baseURL    string
	httpClient *http.Client
	httpsClient *http.Client
}

func NewHTTPBackend(name, baseURL string) *HTTPBackend {
	return &HTTPBackend{
		name:        name,
		baseURL:     strings.TrimSuffix(baseURL, "/"),
		httpClient:  &http.Client{},
		httpsClient: &http.Client{},
	}
}

func (b *HTTPBackend) Name() string { return b.name }

func (b *HTTPBackend) client(u string) *http.Client {
	if strings.HasPrefix(u, "https") {
		return b.httpsClient
	}
	return b.httpClient
}

func (b *HTTPBackend) url(key string) string { return b.baseURL + "/" + key }

func (b *HTTPBackend) Get(ctx context.Context, key string) (io.ReadCloser, int64, error) {
	u := b.url(key)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return nil, 0, cmn.Wrap(cmn.KindInternal, "build http get", err)
	}
	resp, err := b.client(u).Do(req)
	if err != nil {
		return nil, 0, cmn.Wrap(cmn.KindUpstreamFailure, "http get "+key, err)
	}
	if resp.StatusCode == http.StatusNotFound {
		resp.Body.Close()
		return nil, 0, cmn.NotFoundf("object %s", key)
	}
	if resp.StatusCode != http.StatusOK {
		resp.Body.Close()
		return nil, 0, cmn.Wrap(cmn.KindUpstreamFailure, fmt.Sprintf("http get %s: status %d", key, resp.StatusCode), errors.New(resp.Status))
	}
	return resp.Body, resp.ContentLength, nil
}

func (b *HTTPBackend) Put(ctx context.Context, key string, r io.Reader, size int64) error {
	u := b.url(key)
	req, err := http.NewRequestWithContext(ctx, http.MethodPut, u, r)
	if err != nil {
		return cmn.Wrap(cmn.KindInternal, "build http put", err)
	}
	req.ContentLength = size
	resp, err := b.client(u).Do(req)
	if err != nil {
		return cmn.Wrap(cmn.KindUpstreamFailure, "http put "+key, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode/100 != 2 {
		return cmn.Wrap(cmn.KindUpstreamFailure, fmt.Sprintf("http put %s: status %d", key, resp.StatusCode), errors.New(resp.Status))
	}
	return nil
}

func (b *HTTPBackend) Delete(ctx context.Context, key string) error {
	u := b.url(key)
	req, err := http.NewRequestWithContext(ctx, http.MethodDelete, u, nil)
	if err != nil {
		return cmn.Wrap(cmn.KindInternal, "build http delete", err)
	}
	resp, err := b.client(u).Do(req)
	if err != nil {
		return cmn.Wrap(cmn.KindUpstreamFailure, "http delete "+key, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode/100 != 2 && resp.StatusCode != http.StatusNotFound {
		return cmn.Wrap(cmn.KindUpstreamFailure, fmt.Sprintf("http delete %s: status %d", key, resp.StatusCode), errors.New(resp.Status))
	}
	return nil
}

// List is not supported by a plain HTTP origin (spec leaves bulk listing to
// the cloud backends, consistent with the teacher's httpProvider.ListObjects
// which also returns NotImplemented-shaped behavior).
func (b *HTTPBackend) List(ctx context.Context, prefix string) ([]string, error) {
	return nil, cmn.NewError(cmn.KindNotImplemented, "http backend does not support listing")
}
