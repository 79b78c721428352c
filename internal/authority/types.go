package authority

import (
	"net/url"
	"strconv"
	"time"
)

// Session is the client's read-mostly copy of a backend session record.
type Session struct {
	SessionID string    `json:"sessionId"`
	UserID    string    `json:"userId"`
	DeviceID  string    `json:"deviceId"`
	LoginTime time.Time `json:"loginTime"`
	Active    bool      `json:"active"`
	IPAddress string    `json:"ipAddress,omitempty"`
	UserAgent string    `json:"userAgent,omitempty"`
	Location  string    `json:"location,omitempty"`
}

// ValidationResult is the response of POST /sessions/validate and of OTP
// verification. Status carries one of the backend login-status tags.
type ValidationResult struct {
	Status      string `json:"status"`
	SessionID   string `json:"sessionId,omitempty"`
	RequiresOTP bool   `json:"requiresOtp,omitempty"`
	Message     string `json:"message,omitempty"`
}

// ActionResult is the response of mutating session actions (terminate,
// terminate-others, require-otp).
type ActionResult struct {
	Success bool   `json:"success"`
	Message string `json:"message,omitempty"`
}

// Filter narrows ListSessions. Zero values are omitted from the query.
type Filter struct {
	UserID     string
	Active     *bool
	FromDate   string
	ToDate     string
	Suspicious bool
}

func (f Filter) query() url.Values {
	q := url.Values{}
	if f.UserID != "" {
		q.Set("userId", f.UserID)
	}
	if f.Active != nil {
		q.Set("active", strconv.FormatBool(*f.Active))
	}
	if f.FromDate != "" {
		q.Set("fromDate", f.FromDate)
	}
	if f.ToDate != "" {
		q.Set("toDate", f.ToDate)
	}
	if f.Suspicious {
		q.Set("suspicious", "true")
	}
	return q
}
