// Package token owns the access/refresh token lifecycle: normalization of
// historical response shapes, expiry tracking, deduplicated refresh, and the
// authorization header used on every API call.
package token

import (
	"context"
	"strconv"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/Seroft-Solutions/pharmacyhub-session-engine/internal/storage"
)

// DefaultRefreshThreshold is how close to expiry a token must be before
// RefreshIfNeeded triggers a refresh call.
const DefaultRefreshThreshold = 5 * time.Minute

// Storage keys owned by this package under the auth.* namespace, each mirrored
// under the legacy names older client versions read. Primaries and mirrors are
// written and cleared together.
const (
	accessTokenKey  = "auth.access_token"
	refreshTokenKey = "auth.refresh_token"
	tokenExpiryKey  = "auth.token_expiry"
)

var legacyMirrors = map[string][]string{
	accessTokenKey:  {"auth_token", "access_token"},
	refreshTokenKey: {"refresh_token"},
	tokenExpiryKey:  {"token_expiry"},
}

// Record is the normalized token record. ExpiresAt is epoch milliseconds;
// zero means the token carries no expiry and is treated as non-expiring but
// still revocable.
type Record struct {
	AccessToken  string
	RefreshToken string
	ExpiresAt    int64
}

// Refresher exchanges a refresh token for a fresh raw token payload.
// The credentials client implements this.
type Refresher interface {
	Refresh(ctx context.Context, refreshToken string) ([]byte, error)
}

// Store holds the token record in memory and mirrors it to the persistent
// store synchronously, so both read paths agree within the same turn.
type Store struct {
	mu        sync.Mutex
	persist   storage.Store
	rec       Record
	refresher Refresher
	threshold time.Duration
	sf        singleflight.Group
	nowF      func() time.Time
}

// NewStore returns a Store backed by persist, restoring any previously
// persisted record (primary keys first, legacy mirrors as fallback).
// refresher may be nil; then RefreshIfNeeded is a no-op. threshold <= 0
// selects DefaultRefreshThreshold.
func NewStore(persist storage.Store, refresher Refresher, threshold time.Duration) *Store {
	if threshold <= 0 {
		threshold = DefaultRefreshThreshold
	}
	s := &Store{
		persist:   persist,
		refresher: refresher,
		threshold: threshold,
		nowF:      time.Now,
	}
	s.rec = restore(persist)
	return s
}

// SetRefresher installs the refresher after construction. The store and the
// credentials client reference each other; whichever is built second gets
// wired in here.
func (s *Store) SetRefresher(r Refresher) {
	s.mu.Lock()
	s.refresher = r
	s.mu.Unlock()
}

func restore(persist storage.Store) Record {
	var rec Record
	rec.AccessToken = readAny(persist, accessTokenKey)
	rec.RefreshToken = readAny(persist, refreshTokenKey)
	if v := readAny(persist, tokenExpiryKey); v != "" {
		if ms, err := strconv.ParseInt(v, 10, 64); err == nil {
			rec.ExpiresAt = ms
		}
	}
	return rec
}

// readAny returns the value under the primary key, or the first non-empty
// legacy mirror.
func readAny(persist storage.Store, key string) string {
	if v, ok := persist.Get(key); ok && v != "" {
		return v
	}
	for _, legacy := range legacyMirrors[key] {
		if v, ok := persist.Get(legacy); ok && v != "" {
			return v
		}
	}
	return ""
}

// Save normalizes a raw login/refresh payload and applies it.
func (s *Store) Save(raw []byte) error {
	rec, err := Normalize(raw, s.now())
	if err != nil {
		return err
	}
	s.SaveRecord(rec)
	return nil
}

// SaveRecord writes rec to the in-memory cache and the persistent store
// (primaries plus legacy mirrors) before returning.
func (s *Store) SaveRecord(rec Record) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.rec = rec
	s.write(accessTokenKey, rec.AccessToken)
	s.write(refreshTokenKey, rec.RefreshToken)
	expiry := ""
	if rec.ExpiresAt > 0 {
		expiry = strconv.FormatInt(rec.ExpiresAt, 10)
	}
	s.write(tokenExpiryKey, expiry)
}

func (s *Store) write(key, value string) {
	keys := append([]string{key}, legacyMirrors[key]...)
	for _, k := range keys {
		if value == "" {
			_ = s.persist.Delete(k)
		} else {
			_ = s.persist.Set(k, value)
		}
	}
}

// Record returns a snapshot of the current token record.
func (s *Store) Record() Record {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.rec
}

// AuthHeader returns the Authorization header value for the current access
// token. ok is false when no token is present.
func (s *Store) AuthHeader() (string, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.rec.AccessToken == "" {
		return "", false
	}
	if strings.HasPrefix(s.rec.AccessToken, "Bearer ") {
		return s.rec.AccessToken, true
	}
	return "Bearer " + s.rec.AccessToken, true
}

// HasValidToken reports whether an access token is present and not expired.
// It performs no network I/O.
func (s *Store) HasValidToken() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.rec.AccessToken == "" {
		return false
	}
	if s.rec.ExpiresAt > 0 && s.now().UnixMilli() >= s.rec.ExpiresAt {
		return false
	}
	return true
}

// RefreshIfNeeded triggers one refresh call when the token is within the
// refresh threshold of its expiry and a refresh token exists. Concurrent
// callers share a single underlying call. Returns whether a refresh ran.
func (s *Store) RefreshIfNeeded(ctx context.Context) (bool, error) {
	s.mu.Lock()
	rec := s.rec
	refresher := s.refresher
	s.mu.Unlock()

	if refresher == nil || rec.RefreshToken == "" || rec.ExpiresAt == 0 {
		return false, nil
	}
	remaining := time.Duration(rec.ExpiresAt-s.now().UnixMilli()) * time.Millisecond
	if remaining > s.threshold {
		return false, nil
	}

	_, err, _ := s.sf.Do("refresh", func() (interface{}, error) {
		raw, err := refresher.Refresh(ctx, rec.RefreshToken)
		if err != nil {
			return nil, err
		}
		return nil, s.Save(raw)
	})
	if err != nil {
		return false, err
	}
	return true, nil
}

// Clear resets the in-memory record and removes every persisted key, legacy
// mirrors included. Idempotent; after Clear returns, HasValidToken is false.
func (s *Store) Clear() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.rec = Record{}
	for key, mirrors := range legacyMirrors {
		_ = s.persist.Delete(key)
		for _, legacy := range mirrors {
			_ = s.persist.Delete(legacy)
		}
	}
}

func (s *Store) now() time.Time {
	if s.nowF != nil {
		return s.nowF()
	}
	return time.Now()
}
