package storage

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"regexp"
	"strings"
	"time"
)

var sha256HexRE = regexp.MustCompile(`^[0-9a-f]{64}$`)

// HTTP proxies artifacts from an upstream mirror. The digest is taken from an
// X-Checksum-SHA256 header or a bare-sha256 ETag when the mirror provides
// one.
type HTTP struct {
	// BaseURL is the mirror root, no trailing slash.
	BaseURL string
	// Client defaults to a client with a 30s header timeout. Body reads
	// are governed by the request context, not the timeout.
	Client *http.Client
}

// NewHTTP returns an HTTP store for the given mirror base URL.
func NewHTTP(baseURL string) *HTTP {
	return &HTTP{
		BaseURL: strings.TrimRight(baseURL, "/"),
		Client: &http.Client{
			Transport: &http.Transport{ResponseHeaderTimeout: 30 * time.Second},
		},
	}
}

func (h *HTTP) Open(ctx context.Context, path string) (*Handle, error) {
	u := h.BaseURL + "/" + strings.TrimPrefix(url.PathEscape(strings.TrimPrefix(path, "/")), "/")
	// PathEscape mangles separators; unescape them back.
	u = strings.ReplaceAll(u, "%2F", "/")

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return nil, err
	}
	resp, err := h.Client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetching %s: %w", path, err)
	}
	switch {
	case resp.StatusCode == http.StatusNotFound:
		resp.Body.Close()
		return nil, fmt.Errorf("%w: %s", ErrNotFound, path)
	case resp.StatusCode != http.StatusOK:
		resp.Body.Close()
		return nil, fmt.Errorf("fetching %s: upstream status %d", path, resp.StatusCode)
	}

	return &Handle{
		Content: resp.Body,
		Size:    resp.ContentLength,
		SHA256:  digestFromHeaders(resp.Header),
	}, nil
}

func (h *HTTP) Ping(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodHead, h.BaseURL+"/", nil)
	if err != nil {
		return err
	}
	resp, err := h.Client.Do(req)
	if err != nil {
		return fmt.Errorf("pinging mirror %s: %w", h.BaseURL, err)
	}
	resp.Body.Close()
	if resp.StatusCode >= 500 {
		return fmt.Errorf("mirror %s status %d", h.BaseURL, resp.StatusCode)
	}
	return nil
}

func digestFromHeaders(hdr http.Header) string {
	if sum := strings.ToLower(hdr.Get("X-Checksum-SHA256")); sha256HexRE.MatchString(sum) {
		return sum
	}
	etag := strings.ToLower(strings.Trim(hdr.Get("ETag"), `"`))
	if sha256HexRE.MatchString(etag) {
		return etag
	}
	return ""
}
