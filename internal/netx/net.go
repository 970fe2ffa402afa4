// Package netx holds the small HTTP helpers the operator tooling uses to talk
// to the capsule server and to presigned archive URLs.
package netx

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"

	"github.com/dmitrijs2005/capsulekeeper/internal/common"
)

// maxDownload caps presigned downloads.
const maxDownload = 16 << 20

// DownloadPresigned fetches the object behind a presigned GET URL.
func DownloadPresigned(ctx context.Context, c *http.Client, url string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, err
	}

	resp, err := c.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		b, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return nil, fmt.Errorf("download failed: %s; body: %s", resp.Status, string(b))
	}
	return io.ReadAll(io.LimitReader(resp.Body, maxDownload))
}

// GetJSON issues an authenticated GET and decodes a JSON response into dst.
// Non-2xx responses are returned as errors carrying the body.
func GetJSON(ctx context.Context, c *http.Client, url, bearer string, dst any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return err
	}
	if bearer != "" {
		req.Header.Set(common.AuthorizationHeaderName, "Bearer "+bearer)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		b, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return fmt.Errorf("request failed: %s; body: %s", resp.Status, string(b))
	}
	return json.NewDecoder(resp.Body).Decode(dst)
}
