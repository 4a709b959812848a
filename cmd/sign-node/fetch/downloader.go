package fetch

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"

	"github.com/cenkalti/backoff/v4"
	"github.com/lyzr/signer/common/clients"
)

// HTTPDownloader fetches build artifacts over HTTP(S)
type HTTPDownloader struct {
	client *clients.HTTPClient
	policy *URLPolicy
	log    clients.Logger
}

// NewHTTPDownloader creates a downloader on top of the shared HTTP client
func NewHTTPDownloader(client *clients.HTTPClient, log clients.Logger) *HTTPDownloader {
	return &HTTPDownloader{client: client, log: log}
}

// WithPolicy rejects urls the policy does not accept without retrying them
func (d *HTTPDownloader) WithPolicy(policy *URLPolicy) *HTTPDownloader {
	d.policy = policy
	return d
}

// Fetch streams url into destPath. The file only appears at destPath once
// the body has been read completely.
func (d *HTTPDownloader) Fetch(ctx context.Context, url, destPath string) error {
	if d.policy != nil {
		if err := d.policy.Validate(url); err != nil {
			return backoff.Permanent(fmt.Errorf("download url rejected: %w", err))
		}
	}

	resp, err := d.client.DoRequest(ctx, http.MethodGet, url, nil)
	if err != nil {
		return fmt.Errorf("GET %s: %w", url, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("GET %s: unexpected status %d: %s", url, resp.StatusCode, body)
	}

	tmp, err := os.CreateTemp(filepath.Dir(destPath), ".download-*")
	if err != nil {
		return fmt.Errorf("create download file: %w", err)
	}
	defer os.Remove(tmp.Name())
	defer tmp.Close()

	n, err := io.Copy(tmp, resp.Body)
	if err != nil {
		return fmt.Errorf("read body of %s: %w", url, err)
	}
	if resp.ContentLength >= 0 && n != resp.ContentLength {
		return fmt.Errorf("read body of %s: got %d of %d bytes", url, n, resp.ContentLength)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("close download file: %w", err)
	}
	if err := os.Rename(tmp.Name(), destPath); err != nil {
		return fmt.Errorf("move download into place: %w", err)
	}

	d.log.Debug("downloaded artifact", "url", url, "bytes", n)
	return nil
}
