package authority

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
)

// APIError is the structured shape of every non-2xx authority response. It is
// the only channel by which the policy engine learns why a call failed.
type APIError struct {
	// StatusCode is the raw HTTP status.
	StatusCode int
	// BackendStatus is the status tag from the response body when the body
	// exposes one (e.g. "TOO_MANY_DEVICES"); empty otherwise.
	BackendStatus string
	// Message is the human-readable message from the body, best-effort.
	Message string
	// Body is the raw response body; kept even when it is not JSON.
	Body []byte
}

func (e *APIError) Error() string {
	if e.Message != "" {
		return fmt.Sprintf("authority: status %d: %s", e.StatusCode, e.Message)
	}
	return fmt.Sprintf("authority: status %d", e.StatusCode)
}

// IsAuthFailure reports whether the error represents an expired or rejected
// credential (401/403).
func (e *APIError) IsAuthFailure() bool {
	return e.StatusCode == http.StatusUnauthorized || e.StatusCode == http.StatusForbidden
}

// AsAPIError unwraps err into an *APIError.
func AsAPIError(err error) (*APIError, bool) {
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		return apiErr, true
	}
	return nil, false
}

// errorBody is the shape the backend uses for error payloads. Older endpoints
// put the message under "error" instead of "message".
type errorBody struct {
	Status   string `json:"status"`
	Message  string `json:"message"`
	ErrorMsg string `json:"error"`
}

// NewAPIError builds an APIError from a non-2xx response. The body is parsed
// best-effort; a non-JSON body is preserved raw with no tag or message.
func NewAPIError(statusCode int, body []byte) *APIError {
	apiErr := &APIError{StatusCode: statusCode, Body: body}
	var eb errorBody
	if err := json.Unmarshal(body, &eb); err == nil {
		apiErr.BackendStatus = eb.Status
		apiErr.Message = eb.Message
		if apiErr.Message == "" {
			apiErr.Message = eb.ErrorMsg
		}
	}
	return apiErr
}
