// Package restclient implements the HMAC-signed REST client the worker uses
// to talk to the control plane: authenticated GET/List/PATCH/POST with the
// graduated retry/backoff policy spec.md §4.1 mandates. It is grounded on
// original_source/job_runner_worker/models.py's BaseRestModel (lazy GET,
// PATCH, paginated get_list) and auth.py's HmacAuth, re-expressed as a
// typed Go client instead of Python's dynamic attribute access.
package restclient

import (
	"bytes"
	"context"
	"crypto/tls"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"go.uber.org/zap"
)

// Status codes the control plane is expected to return for each verb,
// per spec.md §4.1.
const (
	statusGet   = http.StatusOK
	statusPatch = http.StatusAccepted
	statusPost  = http.StatusCreated
)

// clientErrorMaxAttempts is how many times a client-side REST failure is
// retried before it surfaces to the caller, per spec.md §4.1.
const clientErrorMaxAttempts = 5

// Config holds the parameters needed to construct a Client.
type Config struct {
	// BaseURL is the control plane's base URL, e.g. "https://master.example.com".
	BaseURL string
	// APIKey and Secret are the HMAC credentials (spec.md §6.1).
	APIKey string
	Secret string
	Logger *zap.Logger
}

// Client is a stateless, concurrency-safe REST client. Every method is safe
// to call from multiple goroutines simultaneously (spec.md §5 "The REST
// client is stateless per call; concurrent calls are safe.").
type Client struct {
	baseURL *url.URL
	apiKey  string
	secret  string
	http    *http.Client
	logger  *zap.Logger
}

// New constructs a Client. The underlying transport skips TLS certificate
// verification, per spec.md §4.1 ("the control plane may use a self-signed
// cert").
func New(cfg Config) (*Client, error) {
	base, err := url.Parse(cfg.BaseURL)
	if err != nil {
		return nil, fmt.Errorf("restclient: invalid base url: %w", err)
	}

	return &Client{
		baseURL: base,
		apiKey:  cfg.APIKey,
		secret:  cfg.Secret,
		logger:  cfg.Logger.Named("restclient"),
		http: &http.Client{
			Timeout: 60 * time.Second,
			Transport: &http.Transport{
				TLSClientConfig: &tls.Config{InsecureSkipVerify: true}, //nolint:gosec // spec-mandated: control plane may use a self-signed cert
			},
		},
	}, nil
}

// Get fetches path and decodes the JSON body into out. Implements
// model.Fetcher so model.Ref[T] can resolve itself through a Client.
func (c *Client) Get(ctx context.Context, path string, out any) error {
	body, err := c.do(ctx, http.MethodGet, path, nil, nil, statusGet)
	if err != nil {
		return err
	}
	if out == nil {
		return nil
	}
	if err := json.Unmarshal(body, out); err != nil {
		return fmt.Errorf("restclient: decoding GET %s: %w", path, err)
	}
	return nil
}

// listEnvelope mirrors the control plane's paginated list response shape
// (spec.md §6.2): {"meta": {"next": <uri or null>}, "objects": [...]}.
type listEnvelope[T any] struct {
	Meta struct {
		Next *string `json:"next"`
	} `json:"meta"`
	Objects []T `json:"objects"`
}

// List fetches every page of path, following meta.next until it is null,
// and returns the concatenated objects.
func List[T any](ctx context.Context, c *Client, path string, query url.Values) ([]T, error) {
	var out []T

	nextPath := path
	nextQuery := query

	for {
		body, err := c.do(ctx, http.MethodGet, nextPath, nextQuery, nil, statusGet)
		if err != nil {
			return nil, err
		}

		var page listEnvelope[T]
		if err := json.Unmarshal(body, &page); err != nil {
			return nil, fmt.Errorf("restclient: decoding list page %s: %w", nextPath, err)
		}
		out = append(out, page.Objects...)

		if page.Meta.Next == nil || *page.Meta.Next == "" {
			return out, nil
		}

		nextPath, nextQuery, err = c.splitPathQuery(*page.Meta.Next)
		if err != nil {
			return nil, fmt.Errorf("restclient: invalid meta.next %q: %w", *page.Meta.Next, err)
		}
	}
}

// Patch sends a PATCH with attrs JSON-encoded as the body.
func (c *Client) Patch(ctx context.Context, path string, attrs map[string]any) error {
	body, err := json.Marshal(attrs)
	if err != nil {
		return fmt.Errorf("restclient: marshaling PATCH body for %s: %w", path, err)
	}
	_, err = c.do(ctx, http.MethodPatch, path, nil, body, statusPatch)
	return err
}

// Post sends a POST with attrs JSON-encoded as the body, decoding the
// response into out (which may be nil if the caller doesn't need it).
func (c *Client) Post(ctx context.Context, path string, attrs map[string]any, out any) error {
	body, err := json.Marshal(attrs)
	if err != nil {
		return fmt.Errorf("restclient: marshaling POST body for %s: %w", path, err)
	}
	respBody, err := c.do(ctx, http.MethodPost, path, nil, body, statusPost)
	if err != nil {
		return err
	}
	if out == nil {
		return nil
	}
	if err := json.Unmarshal(respBody, out); err != nil {
		return fmt.Errorf("restclient: decoding POST response for %s: %w", path, err)
	}
	return nil
}

// splitPathQuery reduces an absolute or relative URI from meta.next to the
// path+query pair do and signRequest expect, discarding scheme/host —
// the control plane always resolves meta.next against the same host this
// Client was configured with.
func (c *Client) splitPathQuery(raw string) (string, url.Values, error) {
	u, err := url.Parse(raw)
	if err != nil {
		return "", nil, err
	}
	return u.Path, u.Query(), nil
}

// errorKind classifies a completed attempt for retry purposes, per spec.md §4.1.
type errorKind int

const (
	kindSuccess errorKind = iota
	kindTransient
	kindClient
)

func classify(wantStatus, gotStatus int, transportErr error) errorKind {
	if transportErr != nil {
		return kindTransient
	}
	if gotStatus == wantStatus {
		return kindSuccess
	}
	if gotStatus >= 500 {
		return kindTransient
	}
	return kindClient
}

// transientBackoff returns the sleep duration before making attempt number
// nextAttempt, per spec.md §4.1's graduated table.
func transientBackoff(nextAttempt int) time.Duration {
	switch {
	case nextAttempt <= 10:
		return 2 * time.Second
	case nextAttempt <= 50:
		return 5 * time.Second
	default:
		return 10 * time.Second
	}
}

// do performs one request, retrying per spec.md §4.1 until it succeeds,
// exhausts the client-error retry cap, or ctx is cancelled. It returns the
// response body on success.
func (c *Client) do(ctx context.Context, method, path string, query url.Values, body []byte, wantStatus int) ([]byte, error) {
	for attempt := 1; ; attempt++ {
		respBody, status, err := c.attempt(ctx, method, path, query, body)
		kind := classify(wantStatus, status, err)

		switch kind {
		case kindSuccess:
			return respBody, nil

		case kindClient:
			if attempt >= clientErrorMaxAttempts {
				return nil, fmt.Errorf("restclient: %s %s failed after %d attempts: status=%d err=%w",
					method, path, attempt, status, errOrStatus(err, status))
			}
			c.logger.Warn("client error, retrying",
				zap.String("method", method),
				zap.String("path", path),
				zap.Int("status", status),
				zap.Int("attempt", attempt),
			)
			if sleepErr := c.sleep(ctx, time.Duration(attempt)*10*time.Second); sleepErr != nil {
				return nil, sleepErr
			}

		default: // kindTransient — retried forever
			c.logger.Warn("transient error, retrying",
				zap.String("method", method),
				zap.String("path", path),
				zap.Int("status", status),
				zap.Error(err),
				zap.Int("attempt", attempt),
			)
			if sleepErr := c.sleep(ctx, transientBackoff(attempt+1)); sleepErr != nil {
				return nil, sleepErr
			}
		}
	}
}

func errOrStatus(err error, status int) error {
	if err != nil {
		return err
	}
	return fmt.Errorf("unexpected status %d", status)
}

// attempt performs a single HTTP round trip and returns the body bytes, the
// status code (0 if the request never got a response), and any transport
// error.
func (c *Client) attempt(ctx context.Context, method, path string, query url.Values, body []byte) ([]byte, int, error) {
	rel := &url.URL{Path: path}
	if query != nil {
		rel.RawQuery = query.Encode()
	}
	full := c.baseURL.ResolveReference(rel)

	var reqBody io.Reader
	if body != nil {
		reqBody = bytes.NewReader(body)
	}

	req, err := http.NewRequestWithContext(ctx, method, full.String(), reqBody)
	if err != nil {
		return nil, 0, err
	}
	req.Header.Set("Content-Type", "application/json")

	pathWithQuery := full.EscapedPath()
	if full.RawQuery != "" {
		pathWithQuery += "?" + full.RawQuery
	}
	req.Header.Set("Authorization", signRequest(c.apiKey, c.secret, method, pathWithQuery, body))

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, 0, err
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, resp.StatusCode, err
	}
	return respBody, resp.StatusCode, nil
}

// sleep waits for d or until ctx is cancelled, whichever comes first.
func (c *Client) sleep(ctx context.Context, d time.Duration) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-time.After(d):
		return nil
	}
}

// JoinID builds a resource path for an item under a list resource,
// e.g. JoinID("/api/v1/run/", 42) -> "/api/v1/run/42/", matching the
// trailing-slash convention spec.md §6.2 uses throughout.
func JoinID(resourcePath string, id int64) string {
	if strings.HasSuffix(resourcePath, "/") {
		return fmt.Sprintf("%s%d/", resourcePath, id)
	}
	return fmt.Sprintf("%s/%d/", resourcePath, id)
}
