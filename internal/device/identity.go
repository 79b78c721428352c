// Package device produces and persists the per-install device identifier sent
// with every session validation call. The identifier is a continuity hint, not
// a security credential.
package device

import (
	"fmt"
	"runtime"
	"sync"

	"github.com/google/uuid"

	"github.com/Seroft-Solutions/pharmacyhub-session-engine/internal/storage"
)

// Storage keys owned by this package. legacyDeviceIDKey mirrors the primary key
// for older client versions and is written and cleared together with it.
const (
	deviceIDKey       = "device.id"
	legacyDeviceIDKey = "deviceId"
)

// Info describes the device for validation calls.
type Info struct {
	DeviceID  string `json:"deviceId"`
	UserAgent string `json:"userAgent"`
}

// Identity owns the stable per-install device identifier.
type Identity struct {
	mu      sync.Mutex
	store   storage.Store
	product string
	version string
	cached  string
}

// NewIdentity returns an Identity persisting to store. product and version are
// used to compose the user-agent descriptor (e.g. "pharmacyhub-client", "1.4.0").
func NewIdentity(store storage.Store, product, version string) *Identity {
	return &Identity{store: store, product: product, version: version}
}

// DeviceID returns the persisted device identifier, generating and persisting a
// new one on first use. The identifier is never rotated automatically.
func (i *Identity) DeviceID() string {
	i.mu.Lock()
	defer i.mu.Unlock()
	if i.cached != "" {
		return i.cached
	}
	if id, ok := i.store.Get(deviceIDKey); ok && id != "" {
		i.cached = id
		return id
	}
	// Older clients stored the identifier under the bare key only.
	if id, ok := i.store.Get(legacyDeviceIDKey); ok && id != "" {
		_ = i.store.Set(deviceIDKey, id)
		i.cached = id
		return id
	}
	id := uuid.New().String()
	_ = i.store.Set(deviceIDKey, id)
	_ = i.store.Set(legacyDeviceIDKey, id)
	i.cached = id
	return id
}

// Info returns the device identifier plus the user-agent descriptor.
func (i *Identity) Info() Info {
	return Info{
		DeviceID:  i.DeviceID(),
		UserAgent: i.UserAgent(),
	}
}

// UserAgent returns a descriptor of the client build and host platform.
func (i *Identity) UserAgent() string {
	return fmt.Sprintf("%s/%s (%s; %s)", i.product, i.version, runtime.GOOS, runtime.GOARCH)
}
