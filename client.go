package turnstile

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"
)

const defaultTimeout = 10 * time.Second

// HTTPClient implements Client over the service's JSON API
type HTTPClient struct {
	baseURL string
	http    *http.Client
}

var _ Client = (*HTTPClient)(nil)

// ClientOption customizes an HTTPClient
type ClientOption func(*HTTPClient)

// WithHTTPClient overrides the underlying *http.Client
func WithHTTPClient(c *http.Client) ClientOption {
	return func(h *HTTPClient) { h.http = c }
}

// NewHTTPClient creates a client for the service at baseURL
func NewHTTPClient(baseURL string, opts ...ClientOption) *HTTPClient {
	c := &HTTPClient{
		baseURL: strings.TrimRight(baseURL, "/"),
		http:    &http.Client{Timeout: defaultTimeout},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Login exchanges credentials for a token pair
func (c *HTTPClient) Login(ctx context.Context, identifier, secret string) (*Tokens, error) {
	var out Tokens
	body := map[string]string{"identifier": identifier, "secret": secret}
	if err := c.do(ctx, http.MethodPost, "/auth/login", "", body, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// Refresh rotates refreshToken into a new pair
func (c *HTTPClient) Refresh(ctx context.Context, refreshToken string) (*Tokens, error) {
	var out Tokens
	body := map[string]string{"refreshToken": refreshToken}
	if err := c.do(ctx, http.MethodPost, "/tokens/refresh", "", body, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// Logout revokes the session behind accessToken
func (c *HTTPClient) Logout(ctx context.Context, accessToken string) error {
	return c.do(ctx, http.MethodPost, "/tokens/logout", accessToken, nil, nil)
}

// Invalidate revokes every session of ownerID
func (c *HTTPClient) Invalidate(ctx context.Context, accessToken, ownerID string) (int, error) {
	var out struct {
		RevokedCount int `json:"revokedCount"`
	}
	if err := c.do(ctx, http.MethodPost, "/tokens/invalidate/"+url.PathEscape(ownerID), accessToken, nil, &out); err != nil {
		return 0, err
	}
	return out.RevokedCount, nil
}

// Sessions lists the active sessions of ownerID
func (c *HTTPClient) Sessions(ctx context.Context, accessToken, ownerID string) ([]Session, error) {
	var out struct {
		Sessions []Session `json:"sessions"`
	}
	if err := c.do(ctx, http.MethodGet, "/tokens/sessions/"+url.PathEscape(ownerID), accessToken, nil, &out); err != nil {
		return nil, err
	}
	return out.Sessions, nil
}

// Cleanup asks the service to delete expired sessions
func (c *HTTPClient) Cleanup(ctx context.Context, accessToken string) (int, error) {
	var out struct {
		DeletedCount int `json:"deletedCount"`
	}
	if err := c.do(ctx, http.MethodPost, "/tokens/cleanup", accessToken, nil, &out); err != nil {
		return 0, err
	}
	return out.DeletedCount, nil
}

// Me returns the caller described by accessToken
func (c *HTTPClient) Me(ctx context.Context, accessToken string) (*Me, error) {
	var out Me
	if err := c.do(ctx, http.MethodGet, "/auth/me", accessToken, nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *HTTPClient) do(ctx context.Context, method, path, bearer string, in, out any) error {
	var body io.Reader
	if in != nil {
		data, err := json.Marshal(in)
		if err != nil {
			return fmt.Errorf("encode request: %w", err)
		}
		body = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if bearer != "" {
		req.Header.Set("Authorization", "Bearer "+bearer)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("%s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= http.StatusBadRequest {
		return decodeAPIError(resp)
	}

	if out == nil {
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}

func decodeAPIError(resp *http.Response) error {
	var body struct {
		Code   string            `json:"code"`
		Error  string            `json:"error"`
		Fields map[string]string `json:"fields"`
	}
	_ = json.NewDecoder(io.LimitReader(resp.Body, 1<<16)).Decode(&body)

	apiErr := &APIError{
		Status:  resp.StatusCode,
		Code:    body.Code,
		Message: body.Error,
		Fields:  body.Fields,
	}
	if apiErr.Message == "" {
		apiErr.Message = http.StatusText(resp.StatusCode)
	}
	if secs, err := strconv.Atoi(resp.Header.Get("Retry-After")); err == nil {
		apiErr.RetryAfter = time.Duration(secs) * time.Second
	}
	return apiErr
}
