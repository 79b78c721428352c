// Package telemetry emits security events (logins, challenges, logouts,
// fail-open validations) as OpenTelemetry log records. When no collector is
// configured the emitter is a no-op and the engine runs without it.
package telemetry

import (
	"context"
	"log"
	"time"

	otellog "go.opentelemetry.io/otel/log"
	sdklog "go.opentelemetry.io/otel/sdk/log"
)

// Event types emitted by the engine.
const (
	EventLogin          = "auth.login"
	EventLoginChallenge = "auth.login_challenged"
	EventLogout         = "auth.logout"
	EventProfileFailure = "auth.profile_failure"
	EventTokenExpired   = "auth.token_expired"
	EventPolicyFailOpen = "policy.fail_open"
)

// Event is one security event.
type Event struct {
	Type      string
	UserID    string
	DeviceID  string
	SessionID string
	Status    string
	Detail    string
}

// EventEmitter sends events to the telemetry backend. Best-effort: emission
// never affects the calling flow.
type EventEmitter interface {
	Emit(ctx context.Context, event Event)
}

// NewEventEmitter returns an EventEmitter backed by the given LoggerProvider,
// or a no-op emitter when provider is nil.
func NewEventEmitter(provider *sdklog.LoggerProvider) EventEmitter {
	if provider == nil {
		return noopEmitter{}
	}
	return &otelEmitter{logger: provider.Logger("pharmacyhub.session")}
}

// recordLogger is the slice of otellog.Logger the emitter uses; narrowed so
// tests can capture records.
type recordLogger interface {
	Emit(ctx context.Context, rec otellog.Record)
}

// NewEventEmitterWithLogger returns an emitter writing to the given logger.
// Used by tests.
func NewEventEmitterWithLogger(logger recordLogger) EventEmitter {
	return &otelEmitter{logger: logger}
}

type noopEmitter struct{}

func (noopEmitter) Emit(context.Context, Event) {}

type otelEmitter struct {
	logger recordLogger
}

// Emit converts the event to an OTel log record and emits it.
func (e *otelEmitter) Emit(ctx context.Context, event Event) {
	rec := otellog.Record{}
	rec.SetTimestamp(time.Now().UTC())
	rec.SetBody(otellog.StringValue(event.Type))
	if event.UserID != "" {
		rec.AddAttributes(otellog.String("user_id", event.UserID))
	}
	if event.DeviceID != "" {
		rec.AddAttributes(otellog.String("device_id", event.DeviceID))
	}
	if event.SessionID != "" {
		rec.AddAttributes(otellog.String("session_id", event.SessionID))
	}
	if event.Status != "" {
		rec.AddAttributes(otellog.String("status", event.Status))
	}
	if event.Detail != "" {
		rec.AddAttributes(otellog.String("detail", event.Detail))
	}
	e.logger.Emit(ctx, rec)
}

// EmitAsync emits the event in a goroutine with a short timeout so the caller
// is never blocked.
func EmitAsync(emitter EventEmitter, event Event) {
	if emitter == nil {
		return
	}
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		defer func() {
			if r := recover(); r != nil {
				log.Printf("telemetry: async emit panic: %v", r)
			}
		}()
		emitter.Emit(ctx, event)
	}()
}
