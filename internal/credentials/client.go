// Package credentials calls the token/credentials endpoints: login, token
// refresh, logout, and the user profile. Login and refresh responses are
// returned raw so the token store can normalize whichever historical shape the
// backend sent.
package credentials

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/Seroft-Solutions/pharmacyhub-session-engine/internal/authority"
)

const defaultTimeout = 15 * time.Second

// TokenSource supplies the Authorization header for authenticated calls
// (profile, logout).
type TokenSource interface {
	AuthHeader() (value string, ok bool)
}

// LoginResponse holds the raw login payload (for token normalization) and the
// user object when the backend included one. Legacy responses carry only a
// token.
type LoginResponse struct {
	Raw  []byte
	User *User
}

// Client calls the credentials endpoints under a base URL.
type Client struct {
	baseURL    string
	httpClient *http.Client
	tokens     TokenSource
}

// NewClient returns a Client for the credentials API at baseURL. tokens may be
// nil; then no Authorization header is sent.
func NewClient(baseURL string, tokens TokenSource) *Client {
	return &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{Timeout: defaultTimeout},
		tokens:     tokens,
	}
}

// SetHTTPClient replaces the underlying HTTP client (tests, custom transports).
func (c *Client) SetHTTPClient(h *http.Client) { c.httpClient = h }

// Login exchanges credentials for tokens. The raw body is preserved for the
// token store; the user object is parsed out when present.
func (c *Client) Login(ctx context.Context, identifier, secret string) (*LoginResponse, error) {
	body := map[string]string{"emailAddress": identifier, "password": secret}
	raw, err := c.do(ctx, http.MethodPost, "/auth/login", body)
	if err != nil {
		return nil, err
	}
	resp := &LoginResponse{Raw: raw}
	var envelope struct {
		User *User `json:"user"`
	}
	if err := json.Unmarshal(raw, &envelope); err == nil {
		resp.User = envelope.User
	}
	return resp, nil
}

// Refresh exchanges a refresh token for a fresh token payload. Implements the
// token store's Refresher.
func (c *Client) Refresh(ctx context.Context, refreshToken string) ([]byte, error) {
	body := map[string]string{"refreshToken": refreshToken}
	return c.do(ctx, http.MethodPost, "/auth/token/refresh", body)
}

// Logout tells the backend to end the session. Best-effort: callers proceed
// with local cleanup regardless of the result.
func (c *Client) Logout(ctx context.Context) error {
	_, err := c.do(ctx, http.MethodPost, "/auth/logout", nil)
	return err
}

// Profile fetches the authenticated user's profile.
func (c *Client) Profile(ctx context.Context) (*User, error) {
	raw, err := c.do(ctx, http.MethodGet, "/auth/profile", nil)
	if err != nil {
		return nil, err
	}
	var u User
	if err := json.Unmarshal(raw, &u); err != nil {
		return nil, fmt.Errorf("credentials: decode profile: %w", err)
	}
	return &u, nil
}

func (c *Client) do(ctx context.Context, method, path string, body interface{}) ([]byte, error) {
	var reader io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		if err != nil {
			return nil, err
		}
		reader = bytes.NewReader(raw)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return nil, err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.tokens != nil {
		if h, ok := c.tokens.AuthHeader(); ok {
			req.Header.Set("Authorization", h)
		}
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("credentials: %s %s: %w", method, path, err)
	}
	defer resp.Body.Close()
	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("credentials: read %s %s: %w", method, path, err)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, authority.NewAPIError(resp.StatusCode, raw)
	}
	return raw, nil
}
