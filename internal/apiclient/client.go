package apiclient

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"strings"
	"time"

	"github.com/rs/zerolog/log"
)

// OrganizationHeader scopes a request to the active organization.
const OrganizationHeader = "X-Organization-ID"

// DefaultRetryBackoff is the wait before each retry of an idempotent GET.
var DefaultRetryBackoff = []time.Duration{200 * time.Millisecond, 400 * time.Millisecond}

// Meta is pagination info returned by list endpoints.
type Meta struct {
	Total int `json:"total"`
	Page  int `json:"page"`
	Limit int `json:"limit"`
}

type envelope struct {
	RequestID string          `json:"request_id"`
	Data      json.RawMessage `json:"data"`
	Meta      *Meta           `json:"meta"`
}

// Client talks to the clinicdocs API.
type Client struct {
	baseURL    string
	httpClient *http.Client
	identity   *Identity
	authErrors *AuthErrorHandler
	backoff    []time.Duration
}

// Option configures a Client.
type Option func(*Client)

func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.httpClient = hc }
}

// WithAuthErrorHandler routes every auth failure through h.
func WithAuthErrorHandler(h *AuthErrorHandler) Option {
	return func(c *Client) { c.authErrors = h }
}

// WithRetryBackoff replaces the GET retry schedule. No arguments disables
// retries.
func WithRetryBackoff(d ...time.Duration) Option {
	return func(c *Client) { c.backoff = d }
}

// New creates a client for baseURL, e.g. http://localhost:8080.
func New(baseURL string, identity *Identity, opts ...Option) *Client {
	c := &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{Timeout: 30 * time.Second},
		identity:   identity,
		backoff:    DefaultRetryBackoff,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Identity returns the identity the client sends with each request.
func (c *Client) Identity() *Identity {
	return c.identity
}

// Do sends a JSON request under /api/v1 and decodes the envelope's data into
// out. GETs are retried on transport errors and 502/503/504; nothing else is.
func (c *Client) Do(ctx context.Context, method, path string, body, out any) (*Meta, error) {
	var payload []byte
	if body != nil {
		var err error
		payload, err = json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("failed to encode request: %w", err)
		}
	}

	attempts := 1
	if method == http.MethodGet {
		attempts += len(c.backoff)
	}

	var (
		resp *http.Response
		gen  uint64
		err  error
	)
	for attempt := 0; attempt < attempts; attempt++ {
		if attempt > 0 {
			if err := sleep(ctx, c.backoff[attempt-1]); err != nil {
				return nil, err
			}
			log.Debug().Str("method", method).Str("path", path).Int("attempt", attempt+1).Msg("Retrying request")
		}

		var reader io.Reader
		if payload != nil {
			reader = bytes.NewReader(payload)
		}
		resp, gen, err = c.send(ctx, method, path, reader, "application/json")
		if err != nil {
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			continue
		}
		if attempt < attempts-1 && retryableStatus(resp.StatusCode) {
			drain(resp)
			continue
		}
		break
	}
	if err != nil {
		return nil, fmt.Errorf("%s %s: %w", method, path, err)
	}

	return c.decode(resp, gen, out)
}

// Upload posts a multipart form with one file part.
func (c *Client) Upload(ctx context.Context, path, field, filename string, file io.Reader, fields map[string]string, out any) error {
	pr, pw := io.Pipe()
	mw := multipart.NewWriter(pw)

	go func() {
		for k, v := range fields {
			if err := mw.WriteField(k, v); err != nil {
				pw.CloseWithError(err)
				return
			}
		}
		part, err := mw.CreateFormFile(field, filename)
		if err != nil {
			pw.CloseWithError(err)
			return
		}
		if _, err := io.Copy(part, file); err != nil {
			pw.CloseWithError(err)
			return
		}
		pw.CloseWithError(mw.Close())
	}()

	resp, gen, err := c.send(ctx, http.MethodPost, path, pr, mw.FormDataContentType())
	if err != nil {
		_ = pr.CloseWithError(err)
		return fmt.Errorf("POST %s: %w", path, err)
	}
	_, err = c.decode(resp, gen, out)
	return err
}

func (c *Client) send(ctx context.Context, method, path string, body io.Reader, contentType string) (*http.Response, uint64, error) {
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+"/api/v1"+path, body)
	if err != nil {
		return nil, 0, err
	}

	token, orgID, gen := c.identity.Snapshot()
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", contentType)
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	if orgID != "" {
		req.Header.Set(OrganizationHeader, orgID)
	}

	resp, err := c.httpClient.Do(req)
	return resp, gen, err
}

func (c *Client) decode(resp *http.Response, gen uint64, out any) (*Meta, error) {
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		apiErr := errorFromResponse(resp)
		apiErr.gen = gen
		if c.authErrors != nil {
			c.authErrors.Handle(apiErr)
		}
		return nil, apiErr
	}

	var env envelope
	if err := json.NewDecoder(resp.Body).Decode(&env); err != nil {
		if errors.Is(err, io.EOF) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to decode response: %w", err)
	}
	if out != nil && len(env.Data) > 0 {
		if err := json.Unmarshal(env.Data, out); err != nil {
			return nil, fmt.Errorf("failed to decode response data: %w", err)
		}
	}
	return env.Meta, nil
}

func retryableStatus(code int) bool {
	switch code {
	case http.StatusBadGateway, http.StatusServiceUnavailable, http.StatusGatewayTimeout:
		return true
	}
	return false
}

func drain(resp *http.Response) {
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 64<<10))
	_ = resp.Body.Close()
}

func sleep(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
