// Package orchestrator ties the credential, token and policy layers into one
// login lifecycle. It owns the authentication state machine and the background
// token-expiry monitor.
package orchestrator

import (
	"context"
	"errors"
	"log"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/Seroft-Solutions/pharmacyhub-session-engine/internal/authority"
	"github.com/Seroft-Solutions/pharmacyhub-session-engine/internal/credentials"
	"github.com/Seroft-Solutions/pharmacyhub-session-engine/internal/policy"
	"github.com/Seroft-Solutions/pharmacyhub-session-engine/internal/telemetry"
	"github.com/Seroft-Solutions/pharmacyhub-session-engine/internal/token"
)

// State is the orchestrator's position in the login lifecycle.
type State string

const (
	StateUnauthenticated   State = "UNAUTHENTICATED"
	StateLoggingIn         State = "LOGGING_IN"
	StateValidatingSession State = "VALIDATING_SESSION"
	StateChallenged        State = "CHALLENGED"
	StateFetchingProfile   State = "FETCHING_PROFILE"
	StateAuthenticated     State = "AUTHENTICATED"
	StateLoggingOut        State = "LOGGING_OUT"
)

// DefaultMonitorInterval is how often the background monitor checks token
// validity when no interval is configured.
const DefaultMonitorInterval = 60 * time.Second

// ErrNotChallenged is returned when a challenge-resolution call arrives while
// no challenge is pending.
var ErrNotChallenged = errors.New("orchestrator: no pending challenge")

// ErrSessionEnded is returned when a logout superseded an in-flight operation.
// The logout's cleanup stands; the operation's result is discarded.
var ErrSessionEnded = errors.New("orchestrator: session ended")

// CredentialsAPI is the slice of the credentials client the orchestrator uses.
type CredentialsAPI interface {
	Login(ctx context.Context, identifier, secret string) (*credentials.LoginResponse, error)
	Logout(ctx context.Context) error
	Profile(ctx context.Context) (*credentials.User, error)
}

// TokenVault is the slice of the token store the orchestrator uses.
type TokenVault interface {
	Save(raw []byte) error
	Record() token.Record
	HasValidToken() bool
	RefreshIfNeeded(ctx context.Context) (bool, error)
	Clear()
}

// PolicyAPI is the slice of the policy engine the orchestrator uses.
type PolicyAPI interface {
	ValidateLogin(ctx context.Context, userID string) (*policy.Result, error)
	VerifyOTP(ctx context.Context, code string) (*policy.Result, error)
	TerminateOthers(ctx context.Context, userID string) (*authority.ActionResult, error)
	Reset()
}

// LoginResult is the outcome of a login attempt or a challenge resolution.
type LoginResult struct {
	Status policy.LoginStatus
	// Challenged is set when the attempt is held pending user action. Tokens
	// are kept so the resolution calls can authenticate.
	Challenged bool
	// FailOpen is set when the session authority was unreachable and the
	// attempt proceeded anyway.
	FailOpen bool
	Message  string
	User     *credentials.User
}

// Orchestrator drives the login lifecycle across the credential, token and
// policy layers.
type Orchestrator struct {
	creds   CredentialsAPI
	tokens  TokenVault
	policy  PolicyAPI
	emitter telemetry.EventEmitter

	monitorInterval time.Duration

	mu             sync.Mutex
	state          State
	user           *credentials.User
	userID         string
	status         policy.LoginStatus
	gen            uint64
	monitorStop    chan struct{}
	onForcedLogout func()

	sf singleflight.Group
}

// New returns an Orchestrator over the given layers. emitter may be nil.
func New(creds CredentialsAPI, tokens TokenVault, pol PolicyAPI, emitter telemetry.EventEmitter) *Orchestrator {
	return &Orchestrator{
		creds:           creds,
		tokens:          tokens,
		policy:          pol,
		emitter:         emitter,
		monitorInterval: DefaultMonitorInterval,
		state:           StateUnauthenticated,
		status:          policy.StatusOK,
	}
}

// SetMonitorInterval overrides the expiry-monitor interval. Call before Login.
func (o *Orchestrator) SetMonitorInterval(d time.Duration) {
	if d > 0 {
		o.monitorInterval = d
	}
}

// SetOnForcedLogout registers a callback invoked when the monitor detects an
// expired, unrefreshable token and tears the session down.
func (o *Orchestrator) SetOnForcedLogout(fn func()) {
	o.mu.Lock()
	o.onForcedLogout = fn
	o.mu.Unlock()
}

// Login authenticates with the given credentials, validates the new session
// against the session authority and, when allowed, loads the user profile.
// A challenged attempt returns with Challenged set and the tokens retained;
// resolve it with ResolveTerminateOthers or VerifyOTP.
func (o *Orchestrator) Login(ctx context.Context, identifier, secret string) (*LoginResult, error) {
	o.mu.Lock()
	o.state = StateLoggingIn
	gen := o.gen
	o.mu.Unlock()

	resp, err := o.creds.Login(ctx, identifier, secret)
	if err != nil {
		o.failLogin(gen)
		return nil, err
	}
	if err := o.tokens.Save(resp.Raw); err != nil {
		o.failLogin(gen)
		return nil, err
	}

	userID := ""
	if resp.User != nil {
		userID = resp.User.ID
	}
	if userID == "" {
		userID = token.Subject(o.tokens.Record().AccessToken)
	}

	o.mu.Lock()
	if o.gen != gen {
		o.mu.Unlock()
		return nil, ErrSessionEnded
	}
	o.state = StateValidatingSession
	o.userID = userID
	o.mu.Unlock()

	return o.validateAndComplete(ctx, gen)
}

// ResolveTerminateOthers resolves a pending challenge by ending every other
// session of the account, then revalidates the attempt. On success the login
// completes as usual.
func (o *Orchestrator) ResolveTerminateOthers(ctx context.Context) (*LoginResult, error) {
	o.mu.Lock()
	if o.state != StateChallenged {
		o.mu.Unlock()
		return nil, ErrNotChallenged
	}
	gen := o.gen
	userID := o.userID
	o.mu.Unlock()

	res, err := o.policy.TerminateOthers(ctx, userID)
	if err != nil {
		return nil, err
	}
	if !res.Success {
		return &LoginResult{Status: o.Status(), Challenged: true, Message: res.Message}, nil
	}
	return o.validateAndComplete(ctx, gen)
}

// VerifyOTP resolves a pending challenge with a one-time code. A wrong code
// leaves the challenge pending.
func (o *Orchestrator) VerifyOTP(ctx context.Context, code string) (*LoginResult, error) {
	o.mu.Lock()
	if o.state != StateChallenged {
		o.mu.Unlock()
		return nil, ErrNotChallenged
	}
	gen := o.gen
	o.mu.Unlock()

	res, err := o.policy.VerifyOTP(ctx, code)
	if err != nil {
		return nil, err
	}
	if res.Status != policy.StatusOK {
		o.setStatus(gen, StateChallenged, res.Status)
		return &LoginResult{Status: res.Status, Challenged: true, Message: res.Message}, nil
	}
	return o.completeLogin(ctx, gen, res)
}

// validateAndComplete runs session validation and either parks the attempt as
// challenged or finishes it with a profile fetch.
func (o *Orchestrator) validateAndComplete(ctx context.Context, gen uint64) (*LoginResult, error) {
	o.setStatus(gen, StateValidatingSession, o.Status())

	res, err := o.policy.ValidateLogin(ctx, o.snapshotUserID())
	if err != nil {
		o.failLogin(gen)
		return nil, err
	}
	if res.Status != policy.StatusOK {
		// Tokens stay in place so the resolution calls can authenticate.
		o.setStatus(gen, StateChallenged, res.Status)
		o.emit(telemetry.Event{
			Type:   telemetry.EventLoginChallenge,
			UserID: o.snapshotUserID(),
			Status: string(res.Status),
			Detail: res.Message,
		})
		return &LoginResult{Status: res.Status, Challenged: true, Message: res.Message}, nil
	}
	return o.completeLogin(ctx, gen, res)
}

// completeLogin finishes an allowed attempt: profile fetch, AUTHENTICATED
// state, monitor start.
func (o *Orchestrator) completeLogin(ctx context.Context, gen uint64, res *policy.Result) (*LoginResult, error) {
	if res.FailOpen {
		o.emit(telemetry.Event{
			Type:   telemetry.EventPolicyFailOpen,
			UserID: o.snapshotUserID(),
			Detail: res.Message,
		})
	}

	user, err := o.FetchProfile(ctx)
	if err != nil {
		return nil, err
	}

	o.mu.Lock()
	if o.gen != gen {
		o.mu.Unlock()
		return nil, ErrSessionEnded
	}
	o.state = StateAuthenticated
	o.status = policy.StatusOK
	o.user = user
	userID := o.userID
	o.startMonitorLocked()
	o.mu.Unlock()

	o.emit(telemetry.Event{
		Type:      telemetry.EventLogin,
		UserID:    userID,
		SessionID: res.SessionID,
		Status:    string(policy.StatusOK),
	})
	return &LoginResult{Status: policy.StatusOK, FailOpen: res.FailOpen, Message: res.Message, User: user}, nil
}

// FetchProfile loads the user profile. Concurrent calls share one request.
// A failed fetch ends the session: profile access is the proof that the
// tokens are actually usable.
func (o *Orchestrator) FetchProfile(ctx context.Context) (*credentials.User, error) {
	o.mu.Lock()
	gen := o.gen
	if o.state != StateAuthenticated {
		o.state = StateFetchingProfile
	}
	o.mu.Unlock()

	v, err, _ := o.sf.Do("profile", func() (interface{}, error) {
		return o.creds.Profile(ctx)
	})
	if err != nil {
		o.emit(telemetry.Event{
			Type:   telemetry.EventProfileFailure,
			UserID: o.snapshotUserID(),
			Detail: err.Error(),
		})
		o.teardown(gen, telemetry.Event{})
		return nil, err
	}

	user := v.(*credentials.User)
	o.mu.Lock()
	if o.gen != gen {
		o.mu.Unlock()
		return nil, ErrSessionEnded
	}
	o.user = user
	o.mu.Unlock()
	return user, nil
}

// Resume restores a session from persisted tokens, refreshing them when close
// to expiry and loading the profile. Without a usable token it is a no-op and
// the orchestrator stays unauthenticated.
func (o *Orchestrator) Resume(ctx context.Context) (*credentials.User, error) {
	if _, err := o.tokens.RefreshIfNeeded(ctx); err != nil {
		log.Printf("orchestrator: resume refresh failed: %v", err)
	}
	if !o.tokens.HasValidToken() {
		return nil, nil
	}

	o.mu.Lock()
	gen := o.gen
	o.userID = token.Subject(o.tokens.Record().AccessToken)
	o.mu.Unlock()

	user, err := o.FetchProfile(ctx)
	if err != nil {
		return nil, err
	}

	o.mu.Lock()
	if o.gen != gen {
		o.mu.Unlock()
		return nil, ErrSessionEnded
	}
	o.state = StateAuthenticated
	o.startMonitorLocked()
	o.mu.Unlock()
	return user, nil
}

// Logout ends the session. The backend call is best-effort; local state is
// cleared regardless, and any in-flight login or profile fetch is superseded.
func (o *Orchestrator) Logout(ctx context.Context) {
	o.mu.Lock()
	o.state = StateLoggingOut
	userID := o.userID
	o.mu.Unlock()

	if err := o.creds.Logout(ctx); err != nil {
		log.Printf("orchestrator: backend logout failed: %v", err)
	}

	o.teardown(o.bumpGen(), telemetry.Event{
		Type:   telemetry.EventLogout,
		UserID: userID,
	})
}

// Close stops background work. The session state is left as is.
func (o *Orchestrator) Close() {
	o.mu.Lock()
	o.stopMonitorLocked()
	o.mu.Unlock()
}

// State returns the current lifecycle state.
func (o *Orchestrator) State() State {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.state
}

// Status returns the login status of the current or pending attempt.
func (o *Orchestrator) Status() policy.LoginStatus {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.status
}

// User returns the loaded profile, or nil.
func (o *Orchestrator) User() *credentials.User {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.user
}

// IsAuthenticated reports whether a session is established and its token is
// still valid.
func (o *Orchestrator) IsAuthenticated() bool {
	return o.State() == StateAuthenticated && o.tokens.HasValidToken()
}

// failLogin resets a failed attempt to UNAUTHENTICATED unless a logout already
// superseded it.
func (o *Orchestrator) failLogin(gen uint64) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.gen != gen {
		return
	}
	o.state = StateUnauthenticated
	o.user = nil
	o.userID = ""
}

// teardown clears tokens and policy state and lands in UNAUTHENTICATED. A
// caller whose generation was already superseded gets a no-op: a stale failure
// must never wipe the session that replaced it.
func (o *Orchestrator) teardown(gen uint64, event telemetry.Event) {
	o.mu.Lock()
	if o.gen != gen {
		o.mu.Unlock()
		return
	}
	o.gen++
	o.state = StateUnauthenticated
	o.status = policy.StatusOK
	o.user = nil
	o.userID = ""
	o.stopMonitorLocked()
	o.mu.Unlock()

	o.tokens.Clear()
	o.policy.Reset()

	if event.Type != "" {
		o.emit(event)
	}
}

// bumpGen advances the generation counter, invalidating in-flight operations
// started under earlier generations, and returns the new value.
func (o *Orchestrator) bumpGen() uint64 {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.gen++
	return o.gen
}

func (o *Orchestrator) setStatus(gen uint64, state State, status policy.LoginStatus) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.gen != gen {
		return
	}
	o.state = state
	o.status = status
}

func (o *Orchestrator) snapshotUserID() string {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.userID
}

func (o *Orchestrator) emit(event telemetry.Event) {
	telemetry.EmitAsync(o.emitter, event)
}

// startMonitorLocked launches the expiry monitor. Caller holds o.mu.
func (o *Orchestrator) startMonitorLocked() {
	if o.monitorStop != nil {
		return
	}
	stop := make(chan struct{})
	o.monitorStop = stop
	gen := o.gen
	go o.monitor(stop, gen)
}

// stopMonitorLocked stops the expiry monitor. Caller holds o.mu.
func (o *Orchestrator) stopMonitorLocked() {
	if o.monitorStop != nil {
		close(o.monitorStop)
		o.monitorStop = nil
	}
}

// monitor periodically refreshes the token when it nears expiry and forces a
// logout when it has expired beyond recovery.
func (o *Orchestrator) monitor(stop chan struct{}, gen uint64) {
	ticker := time.NewTicker(o.monitorInterval)
	defer ticker.Stop()
	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
		}

		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		if _, err := o.tokens.RefreshIfNeeded(ctx); err != nil {
			log.Printf("orchestrator: background refresh failed: %v", err)
		}
		cancel()

		if o.tokens.HasValidToken() {
			continue
		}

		o.mu.Lock()
		if o.gen != gen || o.state != StateAuthenticated {
			o.mu.Unlock()
			return
		}
		userID := o.userID
		fn := o.onForcedLogout
		o.mu.Unlock()

		o.teardown(gen, telemetry.Event{
			Type:   telemetry.EventTokenExpired,
			UserID: userID,
		})
		if fn != nil {
			fn()
		}
		return
	}
}
