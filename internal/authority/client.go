// Package authority is the request layer for the backend session-authority
// service: login validation, session listing, termination, and OTP flows.
// Transport failures are retried at most once; HTTP-level failures are
// translated into *APIError and never retried.
package authority

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v5"
)

const (
	defaultTimeout = 15 * time.Second
	retryInterval  = 250 * time.Millisecond
	// maxAttempts caps transport retries at one retry per call.
	maxAttempts = 2
)

// TokenSource supplies the Authorization header for authenticated calls.
// The token store implements this.
type TokenSource interface {
	AuthHeader() (value string, ok bool)
}

// SessionIDSource supplies the current session identifier, attached as the
// X-Session-ID correlation header when known. The policy engine implements this.
type SessionIDSource interface {
	SessionID() (id string, ok bool)
}

// Client calls the session-authority endpoints under a base URL.
type Client struct {
	baseURL    string
	httpClient *http.Client
	tokens     TokenSource
	sessionIDs SessionIDSource
}

// NewClient returns a Client for the authority at baseURL (e.g.
// "https://api.pharmacyhub.net/api/v1"). tokens and sessionIDs may be nil;
// then the corresponding headers are omitted.
func NewClient(baseURL string, tokens TokenSource, sessionIDs SessionIDSource) *Client {
	return &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{Timeout: defaultTimeout},
		tokens:     tokens,
		sessionIDs: sessionIDs,
	}
}

// SetHTTPClient replaces the underlying HTTP client (tests, custom transports).
func (c *Client) SetHTTPClient(h *http.Client) { c.httpClient = h }

// ValidateLogin asks the authority to validate a login attempt for the given
// user and device. ipAddress may be empty; the backend then detects it.
func (c *Client) ValidateLogin(ctx context.Context, userID, deviceID, userAgent, ipAddress string) (*ValidationResult, error) {
	body := map[string]string{
		"userId":    userID,
		"deviceId":  deviceID,
		"userAgent": userAgent,
	}
	if ipAddress != "" {
		body["ipAddress"] = ipAddress
	}
	var out ValidationResult
	if err := c.do(ctx, http.MethodPost, "/sessions/validate", nil, body, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// ListSessions returns the sessions matching the filter.
func (c *Client) ListSessions(ctx context.Context, f Filter) ([]Session, error) {
	var out []Session
	if err := c.do(ctx, http.MethodGet, "/sessions", f.query(), nil, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// Terminate deactivates a single session.
func (c *Client) Terminate(ctx context.Context, sessionID string) (*ActionResult, error) {
	var out ActionResult
	path := "/sessions/" + url.PathEscape(sessionID)
	if err := c.do(ctx, http.MethodDelete, path, nil, nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// TerminateOthers deactivates every session of the user except the current one.
func (c *Client) TerminateOthers(ctx context.Context, userID, currentSessionID string) (*ActionResult, error) {
	var out ActionResult
	path := "/sessions/users/" + url.PathEscape(userID) + "/terminate-others"
	body := map[string]string{"currentSessionId": currentSessionID}
	if err := c.do(ctx, http.MethodPost, path, nil, body, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// RequireOTP flags the user's next login for OTP verification.
func (c *Client) RequireOTP(ctx context.Context, userID string) (*ActionResult, error) {
	var out ActionResult
	path := "/sessions/users/" + url.PathEscape(userID) + "/require-otp"
	if err := c.do(ctx, http.MethodPost, path, nil, nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// VerifyOTP submits a verification code for the pending OTP challenge.
func (c *Client) VerifyOTP(ctx context.Context, code, deviceID string) (*ValidationResult, error) {
	var out ValidationResult
	body := map[string]string{"code": code, "deviceId": deviceID}
	if err := c.do(ctx, http.MethodPost, "/sessions/otp/verify", nil, body, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// do performs one authority call: attaches headers, retries transport errors
// once, maps non-2xx to *APIError, and decodes the 2xx body into out.
func (c *Client) do(ctx context.Context, method, path string, query url.Values, body, out interface{}) error {
	var payload []byte
	if body != nil {
		raw, err := json.Marshal(body)
		if err != nil {
			return err
		}
		payload = raw
	}

	endpoint := c.baseURL + path
	if len(query) > 0 {
		endpoint += "?" + query.Encode()
	}

	op := func() ([]byte, error) {
		var reader io.Reader
		if payload != nil {
			reader = bytes.NewReader(payload)
		}
		req, err := http.NewRequestWithContext(ctx, method, endpoint, reader)
		if err != nil {
			return nil, backoff.Permanent(err)
		}
		if payload != nil {
			req.Header.Set("Content-Type", "application/json")
		}
		if c.tokens != nil {
			if h, ok := c.tokens.AuthHeader(); ok {
				req.Header.Set("Authorization", h)
			}
		}
		if c.sessionIDs != nil {
			if id, ok := c.sessionIDs.SessionID(); ok {
				req.Header.Set("X-Session-ID", id)
			}
		}

		resp, err := c.httpClient.Do(req)
		if err != nil {
			// Transport error: unreachable, timeout. Retryable once.
			return nil, err
		}
		defer resp.Body.Close()
		raw, err := io.ReadAll(resp.Body)
		if err != nil {
			return nil, err
		}
		if resp.StatusCode < 200 || resp.StatusCode > 299 {
			return nil, backoff.Permanent(NewAPIError(resp.StatusCode, raw))
		}
		return raw, nil
	}

	raw, err := backoff.Retry(ctx, op,
		backoff.WithBackOff(backoff.NewConstantBackOff(retryInterval)),
		backoff.WithMaxTries(maxAttempts),
	)
	if err != nil {
		return err
	}
	if out == nil || len(raw) == 0 {
		return nil
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return fmt.Errorf("authority: decode %s %s: %w", method, path, err)
	}
	return nil
}
