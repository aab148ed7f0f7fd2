// Package supabase talks to the Supabase REST and Storage APIs directly.
// Row writes are idempotent upserts keyed on msg_key, so a repeated commit
// of the same source message merges instead of duplicating.
package supabase

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/fleetworks/invoicebot/internal/intake"
)

type ClientOptions struct {
	BaseURL    string
	Key        string
	Table      string
	Bucket     string
	HTTPClient *http.Client
}

type Client struct {
	baseURL    string
	key        string
	table      string
	bucket     string
	httpClient *http.Client
}

func NewClient(opts ClientOptions) (*Client, error) {
	baseURL := strings.TrimRight(strings.TrimSpace(opts.BaseURL), "/")
	if baseURL == "" {
		return nil, fmt.Errorf("supabase url is required")
	}
	key := strings.TrimSpace(opts.Key)
	if key == "" {
		return nil, fmt.Errorf("supabase key is required")
	}
	httpClient := opts.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 60 * time.Second}
	}
	return &Client{
		baseURL:    baseURL,
		key:        key,
		table:      strings.TrimSpace(opts.Table),
		bucket:     strings.TrimSpace(opts.Bucket),
		httpClient: httpClient,
	}, nil
}

// UpsertEntry writes one expense row, merging on msg_key conflicts.
func (c *Client) UpsertEntry(ctx context.Context, entry intake.Entry) error {
	if c == nil {
		return fmt.Errorf("supabase client is nil")
	}
	if c.table == "" {
		return fmt.Errorf("supabase table is not configured")
	}
	payload, err := json.Marshal(entry)
	if err != nil {
		return err
	}
	url := c.baseURL + "/rest/v1/" + c.table + "?on_conflict=msg_key"
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(payload))
	if err != nil {
		return err
	}
	c.authorize(req)
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Prefer", "resolution=merge-duplicates,return=minimal")

	return c.do(req, "supabase upsert")
}

// UploadObject stores file bytes in the bucket and returns the public URL.
func (c *Client) UploadObject(ctx context.Context, path, contentType string, data []byte) (string, error) {
	if c == nil {
		return "", fmt.Errorf("supabase client is nil")
	}
	if c.bucket == "" {
		return "", fmt.Errorf("supabase bucket is not configured")
	}
	path = strings.TrimLeft(strings.TrimSpace(path), "/")
	if path == "" {
		return "", fmt.Errorf("object path is required")
	}
	if contentType == "" {
		contentType = "application/octet-stream"
	}
	url := c.baseURL + "/storage/v1/object/" + c.bucket + "/" + path
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(data))
	if err != nil {
		return "", err
	}
	c.authorize(req)
	req.Header.Set("Content-Type", contentType)
	req.Header.Set("x-upsert", "true")

	if err := c.do(req, "supabase storage upload"); err != nil {
		return "", err
	}
	return c.baseURL + "/storage/v1/object/public/" + c.bucket + "/" + path, nil
}

// Probe checks that the bucket's public surface is reachable. Any HTTP
// answer counts as reachable; only transport failures and server errors
// are reported.
func (c *Client) Probe(ctx context.Context) error {
	if c == nil {
		return fmt.Errorf("supabase client is nil")
	}
	if c.bucket == "" {
		return fmt.Errorf("supabase bucket is not configured")
	}
	url := c.baseURL + "/storage/v1/object/public/" + c.bucket + "/"
	req, err := http.NewRequestWithContext(ctx, http.MethodHead, url, nil)
	if err != nil {
		return err
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return err
	}
	_ = resp.Body.Close()
	if resp.StatusCode >= 500 {
		return fmt.Errorf("bucket probe failed: status=%d", resp.StatusCode)
	}
	return nil
}

func (c *Client) authorize(req *http.Request) {
	req.Header.Set("apikey", c.key)
	req.Header.Set("Authorization", "Bearer "+c.key)
}

func (c *Client) do(req *http.Request, what string) error {
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return err
	}
	body, readErr := io.ReadAll(io.LimitReader(resp.Body, 8<<10))
	_ = resp.Body.Close()
	if readErr != nil {
		return readErr
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return fmt.Errorf("%s failed: status=%d body=%s", what, resp.StatusCode, strings.TrimSpace(string(body)))
	}
	return nil
}
