package policy

import (
	"net/http"
	"strings"

	"github.com/Seroft-Solutions/pharmacyhub-session-engine/internal/authority"
)

// Classify maps a validation response to a LoginStatus. The explicit status
// tag wins; the requiresOtp flag and message heuristics are fallbacks.
func Classify(res *authority.ValidationResult) LoginStatus {
	if res == nil {
		return StatusOK
	}
	if s, ok := statusFromTag(res.Status); ok {
		return s
	}
	if res.RequiresOTP {
		return StatusOTPRequired
	}
	if s, ok := statusFromMessage(res.Message); ok {
		return s
	}
	return StatusOK
}

// ClassifyError maps a failed validation call to a LoginStatus, in priority
// order: explicit backend status tag, then message phrase heuristics, then the
// raw HTTP status. Anything left is an infrastructure error, not a policy
// rejection, and classifies as OK with failOpen=true so callers can log the
// degraded check.
func ClassifyError(err error) (status LoginStatus, failOpen bool) {
	if err == nil {
		return StatusOK, false
	}
	if apiErr, ok := authority.AsAPIError(err); ok {
		if s, ok := statusFromTag(apiErr.BackendStatus); ok {
			return s, false
		}
		if s, ok := statusFromMessage(apiErr.Message); ok {
			return s, false
		}
		// The validation endpoint answers 401 when another device holds the
		// active session.
		if apiErr.StatusCode == http.StatusUnauthorized {
			return StatusTooManyDevices, false
		}
		return StatusOK, true
	}
	if s, ok := statusFromMessage(err.Error()); ok {
		return s, false
	}
	return StatusOK, true
}

// statusFromMessage applies the legacy phrase heuristics. This is an explicit
// fallback layer; structured status tags are the primary mechanism.
func statusFromMessage(message string) (LoginStatus, bool) {
	m := strings.ToLower(message)
	switch {
	case m == "":
		return "", false
	case strings.Contains(m, "already logged in"),
		strings.Contains(m, "another device"),
		strings.Contains(m, "too many devices"):
		return StatusTooManyDevices, true
	case strings.Contains(m, "new device"):
		return StatusNewDevice, true
	case strings.Contains(m, "suspicious"),
		strings.Contains(m, "unusual location"):
		return StatusSuspiciousLocation, true
	case strings.Contains(m, "verify"),
		strings.Contains(m, "otp"):
		return StatusOTPRequired, true
	}
	return "", false
}
