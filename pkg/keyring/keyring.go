// Package keyring implements the bearer-token store backing both session
// authentication and one-shot upload tokens.
package keyring

import (
	"crypto/rand"
	"encoding/hex"
	"sync"
	"time"

	"github.com/pkg/errors"
)

type entry struct {
	payload any
	timer   *time.Timer
}

// KeyRing issues random bearer tokens and validates them until they are
// revoked. A ring constructed with a TTL revokes each token automatically
// once the TTL elapses; revoking early cancels the pending timer so no
// expiry callback runs against state that is already gone.
type KeyRing struct {
	mu   sync.Mutex
	keys map[string]entry

	ttl      time.Duration
	keyBytes int

	// afterFunc schedules the expiry callback; swapped out in tests to
	// drive expiry without sleeping.
	afterFunc func(d time.Duration, f func()) *time.Timer
}

type Option func(*KeyRing)

// WithTTL makes every issued token expire after ttl unless revoked first.
func WithTTL(ttl time.Duration) Option {
	return func(k *KeyRing) {
		k.ttl = ttl
	}
}

// WithKeyBytes sets the entropy width of generated tokens.
func WithKeyBytes(n int) Option {
	return func(k *KeyRing) {
		k.keyBytes = n
	}
}

func New(opts ...Option) *KeyRing {
	k := &KeyRing{
		keys:      map[string]entry{},
		keyBytes:  64,
		afterFunc: time.AfterFunc,
	}
	for _, opt := range opts {
		opt(k)
	}
	return k
}

// Issue generates a fresh token and stores payload under it. A nil payload
// is stored as a plain "present" marker.
func (k *KeyRing) Issue(payload any) (string, error) {
	buf := make([]byte, k.keyBytes)
	if _, err := rand.Read(buf); err != nil {
		return "", errors.Wrap(err, "generate key")
	}
	key := hex.EncodeToString(buf)

	if payload == nil {
		payload = true
	}

	k.mu.Lock()
	defer k.mu.Unlock()

	e := entry{payload: payload}
	if k.ttl > 0 {
		e.timer = k.afterFunc(k.ttl, func() {
			k.Revoke(key)
		})
	}
	k.keys[key] = e

	return key, nil
}

// Validate reports whether key is currently stored. Expired and revoked
// tokens are absent, not flagged.
func (k *KeyRing) Validate(key string) bool {
	k.mu.Lock()
	defer k.mu.Unlock()
	_, ok := k.keys[key]
	return ok
}

// Get returns the payload bound to key. Callers must Validate first or treat
// ok == false as a fault.
func (k *KeyRing) Get(key string) (any, bool) {
	k.mu.Lock()
	defer k.mu.Unlock()
	e, ok := k.keys[key]
	if !ok {
		return nil, false
	}
	return e.payload, true
}

// Take atomically validates, fetches and revokes key, for one-shot tokens:
// of two concurrent takers exactly one wins.
func (k *KeyRing) Take(key string) (any, bool) {
	k.mu.Lock()
	defer k.mu.Unlock()
	e, ok := k.keys[key]
	if !ok {
		return nil, false
	}
	if e.timer != nil {
		e.timer.Stop()
	}
	delete(k.keys, key)
	return e.payload, true
}

// Revoke removes key and cancels its pending expiry timer, if any.
func (k *KeyRing) Revoke(key string) {
	k.mu.Lock()
	defer k.mu.Unlock()
	e, ok := k.keys[key]
	if !ok {
		return
	}
	if e.timer != nil {
		e.timer.Stop()
	}
	delete(k.keys, key)
}
