// Package fetch downloads package archives with a single GET request.
package fetch

import (
	"context"
	"fmt"
	"net/http"

	"github.com/ippclub/better-ept/internal/model"
)

// UserAgent is sent with every archive request
const UserAgent = "Better-Ept/1.1 (Powered By Rust && Reqwest)"

// NewClient returns a client that transparently decodes gzip and brotli bodies.
// No timeout is set.
func NewClient() *http.Client {
	return &http.Client{
		Transport: &decodingTransport{
			base: &http.Transport{
				Proxy:              http.ProxyFromEnvironment,
				DisableCompression: true,
			},
		},
	}
}

// Get requests the archive of pkg under baseURL. On success the caller owns
// the response and must close its body. A non-2xx status is returned as a
// *model.NetworkError that still holds the open response.
func Get(ctx context.Context, pkg model.Package, baseURL string) (*http.Response, error) {
	u, err := pkg.DownloadURL(baseURL)
	if err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("User-Agent", UserAgent)

	resp, err := NewClient().Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch %s: %w", u, err)
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, &model.NetworkError{Response: resp}
	}

	return resp, nil
}
