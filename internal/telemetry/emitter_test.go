package telemetry

import (
	"context"
	"testing"

	otellog "go.opentelemetry.io/otel/log"
	sdklog "go.opentelemetry.io/otel/sdk/log"
)

func TestNewEventEmitter_NilProvider_ReturnsNoop(t *testing.T) {
	em := NewEventEmitter(nil)
	if em == nil {
		t.Fatal("NewEventEmitter(nil) returned nil")
	}
	// Must not panic.
	em.Emit(context.Background(), Event{Type: EventLogin, UserID: "u1"})
}

func TestNewEventEmitter_WithProvider(t *testing.T) {
	provider := sdklog.NewLoggerProvider()
	defer func() { _ = provider.Shutdown(context.Background()) }()
	em := NewEventEmitter(provider)
	em.Emit(context.Background(), Event{Type: EventLogout})
}

// recordCapture stores the last Record passed to Emit for assertion.
type recordCapture struct {
	rec otellog.Record
}

func (r *recordCapture) Emit(ctx context.Context, rec otellog.Record) {
	r.rec = rec
}

func TestEmit_AttributeAndBodyMapping(t *testing.T) {
	capture := &recordCapture{}
	em := NewEventEmitterWithLogger(capture)
	em.Emit(context.Background(), Event{
		Type:      EventLoginChallenge,
		UserID:    "user1",
		DeviceID:  "dev1",
		SessionID: "sess1",
		Status:    "TOO_MANY_DEVICES",
		Detail:    "limit reached",
	})
	rec := capture.rec

	if got := rec.Body().AsString(); got != EventLoginChallenge {
		t.Errorf("body = %q, want %q", got, EventLoginChallenge)
	}
	attrs := make(map[string]string)
	rec.WalkAttributes(func(kv otellog.KeyValue) bool {
		attrs[kv.Key] = kv.Value.AsString()
		return true
	})
	want := map[string]string{
		"user_id": "user1", "device_id": "dev1", "session_id": "sess1",
		"status": "TOO_MANY_DEVICES", "detail": "limit reached",
	}
	for k, v := range want {
		if attrs[k] != v {
			t.Errorf("attr %q = %q, want %q", k, attrs[k], v)
		}
	}
	if rec.Timestamp().IsZero() {
		t.Error("timestamp should be set")
	}
}

func TestEmit_EmptyFieldsOmitted(t *testing.T) {
	capture := &recordCapture{}
	em := NewEventEmitterWithLogger(capture)
	em.Emit(context.Background(), Event{Type: EventLogout})

	count := 0
	capture.rec.WalkAttributes(func(kv otellog.KeyValue) bool {
		count++
		return true
	})
	if count != 0 {
		t.Errorf("attributes = %d, want 0 for empty fields", count)
	}
}

func TestNewLoggerProvider_EmptyEndpoint(t *testing.T) {
	lp, shutdown, err := NewLoggerProvider(context.Background(), "  ", "pharmacyhub-session-engine", false)
	if err != nil {
		t.Fatalf("NewLoggerProvider: %v", err)
	}
	if lp != nil {
		t.Error("provider should be nil when telemetry is disabled")
	}
	if err := shutdown(context.Background()); err != nil {
		t.Errorf("no-op shutdown: %v", err)
	}
}

func TestNewLoggerProvider_MissingHost(t *testing.T) {
	if _, _, err := NewLoggerProvider(context.Background(), "http://", "svc", false); err == nil {
		t.Error("expected error for endpoint with no host")
	}
}
