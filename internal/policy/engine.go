// Package policy interprets session-authority responses into the login-status
// state machine and holds the account's known active sessions with derived
// views (current, other, suspicious).
package policy

import (
	"context"
	"log"
	"sync"
	"time"

	"github.com/Seroft-Solutions/pharmacyhub-session-engine/internal/authority"
	"github.com/Seroft-Solutions/pharmacyhub-session-engine/internal/device"
)

// suspiciousWindow is how recently a session must have logged in to be flagged
// when the account has multiple simultaneously active sessions.
const suspiciousWindow = 24 * time.Hour

// AuthorityAPI is the slice of the session-authority client the engine needs.
type AuthorityAPI interface {
	ValidateLogin(ctx context.Context, userID, deviceID, userAgent, ipAddress string) (*authority.ValidationResult, error)
	ListSessions(ctx context.Context, f authority.Filter) ([]authority.Session, error)
	Terminate(ctx context.Context, sessionID string) (*authority.ActionResult, error)
	TerminateOthers(ctx context.Context, userID, currentSessionID string) (*authority.ActionResult, error)
	RequireOTP(ctx context.Context, userID string) (*authority.ActionResult, error)
	VerifyOTP(ctx context.Context, code, deviceID string) (*authority.ValidationResult, error)
}

// DeviceSource supplies the device descriptor for validation calls.
type DeviceSource interface {
	Info() device.Info
}

// Result is the outcome of one validation attempt.
type Result struct {
	Status    LoginStatus
	SessionID string
	Message   string
	// FailOpen is set when the validation endpoint itself errored and the
	// attempt was classified OK rather than rejected.
	FailOpen bool
}

// Engine drives login validation and caches the account's session set.
type Engine struct {
	client AuthorityAPI
	device DeviceSource

	mu        sync.Mutex
	status    LoginStatus
	sessionID string
	sessions  []authority.Session
	nowF      func() time.Time
}

// NewEngine returns an Engine using client and dev.
func NewEngine(client AuthorityAPI, dev DeviceSource) *Engine {
	return &Engine{
		client: client,
		device: dev,
		status: StatusOK,
		nowF:   time.Now,
	}
}

// ValidateLogin validates a login attempt for userID from the current device
// and classifies the outcome. A fresh attempt is optimistically OK until the
// response says otherwise. The session identifier is recorded only on OK.
func (e *Engine) ValidateLogin(ctx context.Context, userID string) (*Result, error) {
	info := e.device.Info()
	res, err := e.client.ValidateLogin(ctx, userID, info.DeviceID, info.UserAgent, "")
	if err != nil {
		status, failOpen := ClassifyError(err)
		if failOpen {
			log.Printf("policy: validation unavailable, failing open: %v", err)
		}
		e.setStatus(status, "")
		return &Result{Status: status, Message: err.Error(), FailOpen: failOpen}, nil
	}
	status := Classify(res)
	sessionID := ""
	if status == StatusOK {
		sessionID = res.SessionID
	}
	e.setStatus(status, sessionID)
	return &Result{Status: status, SessionID: sessionID, Message: res.Message}, nil
}

// VerifyOTP submits a verification code for the pending challenge and
// re-classifies. On OK the returned session identifier is recorded.
func (e *Engine) VerifyOTP(ctx context.Context, code string) (*Result, error) {
	info := e.device.Info()
	res, err := e.client.VerifyOTP(ctx, code, info.DeviceID)
	if err != nil {
		// A failed code is a policy rejection, never fail-open.
		status, _ := ClassifyError(err)
		if status == StatusOK {
			status = StatusOTPRequired
		}
		e.setStatus(status, "")
		return &Result{Status: status, Message: err.Error()}, nil
	}
	status := Classify(res)
	sessionID := ""
	if status == StatusOK {
		sessionID = res.SessionID
	}
	e.setStatus(status, sessionID)
	return &Result{Status: status, SessionID: sessionID, Message: res.Message}, nil
}

// TerminateOthers ends every other session of the user, keeping the current
// one. The cached session set is invalidated on success.
func (e *Engine) TerminateOthers(ctx context.Context, userID string) (*authority.ActionResult, error) {
	e.mu.Lock()
	current := e.sessionID
	e.mu.Unlock()
	res, err := e.client.TerminateOthers(ctx, userID, current)
	if err != nil {
		return nil, err
	}
	e.invalidateSessions()
	return res, nil
}

// Terminate ends a single session and invalidates the cached set.
func (e *Engine) Terminate(ctx context.Context, sessionID string) (*authority.ActionResult, error) {
	res, err := e.client.Terminate(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	e.invalidateSessions()
	return res, nil
}

// RequireOTP flags the user's next login for OTP verification.
func (e *Engine) RequireOTP(ctx context.Context, userID string) (*authority.ActionResult, error) {
	return e.client.RequireOTP(ctx, userID)
}

// RefreshSessions re-fetches and caches the session set for the filter.
func (e *Engine) RefreshSessions(ctx context.Context, f authority.Filter) ([]authority.Session, error) {
	sessions, err := e.client.ListSessions(ctx, f)
	if err != nil {
		return nil, err
	}
	e.mu.Lock()
	e.sessions = sessions
	e.mu.Unlock()
	return sessions, nil
}

// Status returns the latest classification.
func (e *Engine) Status() LoginStatus {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.status
}

// SessionID returns the recorded session identifier. ok is false until a
// validation attempt reached OK with an identifier. Implements the authority
// client's SessionIDSource.
func (e *Engine) SessionID() (string, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.sessionID, e.sessionID != ""
}

// Usable reports whether the session may be used for profile access: the
// latest classification is OK. A fail-open validation counts; it leaves the
// status OK without a recorded session identifier.
func (e *Engine) Usable() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.status == StatusOK
}

// CurrentSession returns the cached session matching this device, if any.
func (e *Engine) CurrentSession() *authority.Session {
	deviceID := e.device.Info().DeviceID
	e.mu.Lock()
	defer e.mu.Unlock()
	for i := range e.sessions {
		if e.sessions[i].DeviceID == deviceID {
			s := e.sessions[i]
			return &s
		}
	}
	return nil
}

// OtherSessions returns the cached sessions not belonging to this device.
func (e *Engine) OtherSessions() []authority.Session {
	deviceID := e.device.Info().DeviceID
	e.mu.Lock()
	defer e.mu.Unlock()
	var out []authority.Session
	for _, s := range e.sessions {
		if s.DeviceID != deviceID {
			out = append(out, s)
		}
	}
	return out
}

// HasMultipleSessions reports whether more than one cached session is active.
func (e *Engine) HasMultipleSessions() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.activeCountLocked() > 1
}

// SuspiciousSessions returns active sessions flagged by the heuristic: the
// account has more than one active session and the session logged in within
// the last 24 hours.
func (e *Engine) SuspiciousSessions() []authority.Session {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.activeCountLocked() <= 1 {
		return nil
	}
	now := e.nowF()
	var out []authority.Session
	for _, s := range e.sessions {
		if s.Active && now.Sub(s.LoginTime) < suspiciousWindow {
			out = append(out, s)
		}
	}
	return out
}

// Reset clears the recorded session, cached set, and status. Called on logout.
func (e *Engine) Reset() {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.status = StatusOK
	e.sessionID = ""
	e.sessions = nil
}

func (e *Engine) setStatus(status LoginStatus, sessionID string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.status = status
	if sessionID != "" {
		e.sessionID = sessionID
	}
}

func (e *Engine) invalidateSessions() {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.sessions = nil
}

func (e *Engine) activeCountLocked() int {
	n := 0
	for _, s := range e.sessions {
		if s.Active {
			n++
		}
	}
	return n
}
