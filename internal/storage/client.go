package storage

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"
)

const userAgent = "teamtegrate-ingest/0.1"

// Entry describes one object returned by List.
type Entry struct {
	Name     string        `json:"name"`
	ID       string        `json:"id"`
	Metadata EntryMetadata `json:"metadata"`
}

// EntryMetadata carries the object metadata the storage API reports.
// Size is zero when the API omits metadata (e.g. folder placeholders).
type EntryMetadata struct {
	Size     int64  `json:"size"`
	MimeType string `json:"mimetype"`
}

// PutOptions controls object write behavior.
type PutOptions struct {
	CacheControl string // max-age in seconds, e.g. "3600"
	ContentType  string
	Upsert       bool
}

// Client is an HTTP client for a Supabase-style storage API, scoped to a
// single bucket. It handles request construction, authentication, and error
// classification. It does not retry; callers own the retry policy.
type Client struct {
	baseURL    string // e.g. https://xyz.supabase.co/storage/v1
	bucket     string
	serviceKey string
	httpClient *http.Client
	logger     *slog.Logger
}

// NewClient creates a storage client for the given bucket.
// baseURL is the storage API root, e.g. "https://xyz.supabase.co/storage/v1".
func NewClient(baseURL, bucket, serviceKey string, httpClient *http.Client, logger *slog.Logger) *Client {
	if logger == nil {
		logger = slog.Default()
	}

	if httpClient == nil {
		httpClient = http.DefaultClient
	}

	return &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		bucket:     bucket,
		serviceKey: serviceKey,
		httpClient: httpClient,
		logger:     logger,
	}
}

// Bucket returns the bucket name this client is scoped to.
func (c *Client) Bucket() string {
	return c.bucket
}

// Put writes an object at path. With opts.Upsert false (the default), an
// existing object at the same path is a conflict, not an overwrite.
func (c *Client) Put(ctx context.Context, path string, data []byte, opts PutOptions) error {
	c.logger.Debug("storage: put",
		slog.String("path", path),
		slog.Int("size", len(data)),
		slog.Bool("upsert", opts.Upsert),
	)

	endpoint := fmt.Sprintf("%s/object/%s/%s", c.baseURL, c.bucket, escapePath(path))

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(data))
	if err != nil {
		return fmt.Errorf("storage: creating put request: %w", err)
	}

	contentType := opts.ContentType
	if contentType == "" {
		contentType = "application/octet-stream"
	}

	c.setAuth(req)
	req.Header.Set("Content-Type", contentType)

	if opts.CacheControl != "" {
		req.Header.Set("Cache-Control", "max-age="+opts.CacheControl)
	}

	if opts.Upsert {
		req.Header.Set("x-upsert", "true")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("storage: put request failed: %w", err)
	}
	defer resp.Body.Close()

	return c.checkResponse(resp, "put", path)
}

// listRequest is the JSON body for the list endpoint.
type listRequest struct {
	Prefix string `json:"prefix"`
	Limit  int    `json:"limit"`
	Offset int    `json:"offset"`
}

// listPageSize bounds a single List call. Destination folders hold one
// object per upload, so a single page is enough for verification.
const listPageSize = 100

// List returns the entries directly under folder.
func (c *Client) List(ctx context.Context, folder string) ([]Entry, error) {
	c.logger.Debug("storage: list", slog.String("folder", folder))

	body, err := json.Marshal(listRequest{Prefix: folder, Limit: listPageSize})
	if err != nil {
		return nil, fmt.Errorf("storage: marshaling list request: %w", err)
	}

	endpoint := fmt.Sprintf("%s/object/list/%s", c.baseURL, c.bucket)

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("storage: creating list request: %w", err)
	}

	c.setAuth(req)
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("storage: list request failed: %w", err)
	}
	defer resp.Body.Close()

	if err := c.checkResponse(resp, "list", folder); err != nil {
		return nil, err
	}

	var entries []Entry
	if decErr := json.NewDecoder(resp.Body).Decode(&entries); decErr != nil {
		return nil, fmt.Errorf("storage: decoding list response: %w", decErr)
	}

	return entries, nil
}

// removeRequest is the JSON body for the delete endpoint.
type removeRequest struct {
	Prefixes []string `json:"prefixes"`
}

// Remove deletes the objects at the given paths.
func (c *Client) Remove(ctx context.Context, paths ...string) error {
	c.logger.Debug("storage: remove", slog.Int("count", len(paths)))

	body, err := json.Marshal(removeRequest{Prefixes: paths})
	if err != nil {
		return fmt.Errorf("storage: marshaling remove request: %w", err)
	}

	endpoint := fmt.Sprintf("%s/object/%s", c.baseURL, c.bucket)

	req, err := http.NewRequestWithContext(ctx, http.MethodDelete, endpoint, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("storage: creating remove request: %w", err)
	}

	c.setAuth(req)
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("storage: remove request failed: %w", err)
	}
	defer resp.Body.Close()

	return c.checkResponse(resp, "remove", strings.Join(paths, ","))
}

// PublicURL returns the public URL for an object. This is pure URL
// construction; it does not confirm the object is actually reachable.
// Use ResolvePublic for that.
func (c *Client) PublicURL(path string) string {
	return fmt.Sprintf("%s/object/public/%s/%s", c.baseURL, c.bucket, escapePath(path))
}

// ResolvePublic confirms the object's public URL actually resolves, using a
// HEAD request. Guards against objects that exist in listings but are not
// yet readable due to eventual consistency.
func (c *Client) ResolvePublic(ctx context.Context, path string) (string, error) {
	publicURL := c.PublicURL(path)

	req, err := http.NewRequestWithContext(ctx, http.MethodHead, publicURL, http.NoBody)
	if err != nil {
		return "", fmt.Errorf("storage: creating resolve request: %w", err)
	}

	req.Header.Set("User-Agent", userAgent)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("storage: resolve request failed: %w", err)
	}
	defer resp.Body.Close()

	if err := c.checkResponse(resp, "resolve", path); err != nil {
		return "", err
	}

	return publicURL, nil
}

// signRequest / signResponse are the JSON shapes for the sign endpoint.
type signRequest struct {
	ExpiresIn int `json:"expiresIn"`
}

type signResponse struct {
	SignedURL string `json:"signedURL"` //nolint:tagliatelle // storage API key
}

// SignedURL creates a time-limited signed URL for an object.
func (c *Client) SignedURL(ctx context.Context, path string, ttl time.Duration) (string, error) {
	c.logger.Debug("storage: sign",
		slog.String("path", path),
		slog.Duration("ttl", ttl),
	)

	body, err := json.Marshal(signRequest{ExpiresIn: int(ttl.Seconds())})
	if err != nil {
		return "", fmt.Errorf("storage: marshaling sign request: %w", err)
	}

	endpoint := fmt.Sprintf("%s/object/sign/%s/%s", c.baseURL, c.bucket, escapePath(path))

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("storage: creating sign request: %w", err)
	}

	c.setAuth(req)
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("storage: sign request failed: %w", err)
	}
	defer resp.Body.Close()

	if err := c.checkResponse(resp, "sign", path); err != nil {
		return "", err
	}

	var sr signResponse
	if decErr := json.NewDecoder(resp.Body).Decode(&sr); decErr != nil {
		return "", fmt.Errorf("storage: decoding sign response: %w", decErr)
	}

	return c.baseURL + sr.SignedURL, nil
}

// BucketExists probes for the bucket. Used as a best-effort pre-flight
// check; callers treat failures as advisory.
func (c *Client) BucketExists(ctx context.Context) (bool, error) {
	endpoint := fmt.Sprintf("%s/bucket/%s", c.baseURL, c.bucket)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, http.NoBody)
	if err != nil {
		return false, fmt.Errorf("storage: creating bucket request: %w", err)
	}

	c.setAuth(req)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return false, fmt.Errorf("storage: bucket request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		// Drain body to reuse connection.
		_, _ = io.Copy(io.Discard, resp.Body) //nolint:errcheck // best-effort drain

		return false, nil
	}

	if err := c.checkResponse(resp, "bucket", c.bucket); err != nil {
		return false, err
	}

	return true, nil
}

// setAuth sets the authentication and agent headers common to every
// bucket-scoped request.
func (c *Client) setAuth(req *http.Request) {
	req.Header.Set("Authorization", "Bearer "+c.serviceKey)
	req.Header.Set("apikey", c.serviceKey)
	req.Header.Set("User-Agent", userAgent)
}

// checkResponse classifies a non-2xx response into an APIError. On error the
// response body is consumed for the error message.
func (c *Client) checkResponse(resp *http.Response, op, subject string) error {
	if resp.StatusCode >= http.StatusOK && resp.StatusCode < http.StatusMultipleChoices {
		return nil
	}

	errBody, readErr := io.ReadAll(resp.Body)
	if readErr != nil {
		errBody = []byte("(failed to read response body)")
	}

	sentinel := classifyStatus(resp.StatusCode)

	c.logger.Warn("storage: request failed",
		slog.String("op", op),
		slog.String("subject", subject),
		slog.Int("status", resp.StatusCode),
	)

	return &APIError{
		StatusCode: resp.StatusCode,
		Message:    string(errBody),
		Err:        sentinel,
	}
}

// escapePath percent-escapes each path segment while preserving separators.
func escapePath(path string) string {
	segments := strings.Split(path, "/")
	for i, s := range segments {
		segments[i] = url.PathEscape(s)
	}

	return strings.Join(segments, "/")
}
