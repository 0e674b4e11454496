// Copyright (c) 2025 Jeremy Hahn
// Copyright (c) 2025 Automate The Things, LLC
//
// This file is part of go-quickauth.
//
// go-quickauth is dual-licensed:
//
// 1. GNU Affero General Public License v3.0 (AGPL-3.0)
//    See LICENSE file or visit https://www.gnu.org/licenses/agpl-3.0.html
//
// 2. Commercial License
//    Contact licensing@automatethethings.com for commercial licensing options.

// Package challenge issues and consumes the one-time values that bind a
// WebAuthn ceremony to a single request.
//
// Every challenge is scoped to a ceremony Kind, optionally bound to an owning
// account, and expires after a TTL. Consume removes the entry on every
// outcome, so a value can never be presented twice.
package challenge

import (
	"context"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"errors"
	"fmt"
	"time"

	"github.com/jeremyhahn/go-quickauth/pkg/clock"
	"github.com/jeremyhahn/go-quickauth/pkg/crypto/rand"
)

const (
	// DefaultTTL is how long an issued challenge stays consumable.
	DefaultTTL = 300 * time.Second

	// DefaultSize is the number of random bytes in an issued challenge.
	DefaultSize = 32

	// MinSize is the smallest challenge size accepted by the stores.
	MinSize = 16

	// DefaultMaxPending caps unconsumed challenges held by a MemoryStore.
	DefaultMaxPending = 100_000
)

var (
	// ErrNotFound is returned when no challenge matches the presented value,
	// including values that were already consumed.
	ErrNotFound = errors.New("challenge: not found")

	// ErrExpired is returned when the challenge TTL elapsed before consumption.
	ErrExpired = errors.New("challenge: expired")

	// ErrKindMismatch is returned when the challenge was issued for another ceremony.
	ErrKindMismatch = errors.New("challenge: ceremony kind mismatch")

	// ErrEntropy is returned when the random source fails. It is not retryable.
	ErrEntropy = errors.New("challenge: entropy source failure")

	// ErrCapacity is returned by Issue when the store holds the maximum
	// number of unexpired challenges.
	ErrCapacity = errors.New("challenge: too many pending challenges")
)

// Kind identifies the WebAuthn ceremony a challenge belongs to.
type Kind string

const (
	KindRegistration   Kind = "registration"
	KindAuthentication Kind = "authentication"
)

// Valid reports whether k is a known ceremony kind.
func (k Kind) Valid() bool {
	return k == KindRegistration || k == KindAuthentication
}

// Challenge is a single-use ceremony nonce.
type Challenge struct {
	Value    []byte        `json:"value"`
	Kind     Kind          `json:"kind"`
	Owner    string        `json:"owner,omitempty"`
	IssuedAt time.Time     `json:"issued_at"`
	TTL      time.Duration `json:"ttl"`
}

// ExpiresAt returns the last instant at which the challenge is consumable.
func (c *Challenge) ExpiresAt() time.Time {
	return c.IssuedAt.Add(c.TTL)
}

// Expired reports whether now is strictly after the expiry instant.
func (c *Challenge) Expired(now time.Time) bool {
	return now.After(c.ExpiresAt())
}

// Store issues and consumes challenges.
type Store interface {
	// Issue generates a fresh challenge for the given ceremony and owner.
	// owner may be empty for anonymous registration.
	Issue(ctx context.Context, kind Kind, owner string) (*Challenge, error)

	// Consume atomically removes and returns the challenge matching value.
	// The entry is destroyed whether or not the checks succeed.
	Consume(ctx context.Context, value []byte, kind Kind) (*Challenge, error)
}

// Option configures a challenge store.
type Option func(*options)

type options struct {
	ttl        time.Duration
	size       int
	maxPending int
	clock      clock.Clock
	rand       rand.Source
}

// WithTTL overrides DefaultTTL.
func WithTTL(ttl time.Duration) Option {
	return func(o *options) {
		if ttl > 0 {
			o.ttl = ttl
		}
	}
}

// WithSize overrides DefaultSize. Values below MinSize are ignored.
func WithSize(n int) Option {
	return func(o *options) {
		if n >= MinSize {
			o.size = n
		}
	}
}

// WithMaxPending overrides DefaultMaxPending for stores that hold
// challenges in process memory. Non-positive values are ignored.
func WithMaxPending(n int) Option {
	return func(o *options) {
		if n > 0 {
			o.maxPending = n
		}
	}
}

// WithClock sets the time source.
func WithClock(c clock.Clock) Option {
	return func(o *options) {
		if c != nil {
			o.clock = c
		}
	}
}

// WithRandom sets the random source.
func WithRandom(r rand.Source) Option {
	return func(o *options) {
		if r != nil {
			o.rand = r
		}
	}
}

func newOptions(opts []Option) options {
	o := options{
		ttl:        DefaultTTL,
		size:       DefaultSize,
		maxPending: DefaultMaxPending,
		clock:      clock.System{},
		rand:       rand.NewSoftware(),
	}
	for _, opt := range opts {
		opt(&o)
	}
	return o
}

func (o options) newChallenge(kind Kind, owner string) (*Challenge, error) {
	if !kind.Valid() {
		return nil, fmt.Errorf("challenge: unknown kind %q", kind)
	}
	value, err := o.rand.Rand(o.size)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrEntropy, err)
	}
	return &Challenge{
		Value:    value,
		Kind:     kind,
		Owner:    owner,
		IssuedAt: o.clock.Now(),
		TTL:      o.ttl,
	}, nil
}

// check validates a removed entry against the presented value and kind.
func (o options) check(stored *Challenge, value []byte, kind Kind) (*Challenge, error) {
	if subtle.ConstantTimeCompare(stored.Value, value) != 1 {
		return nil, ErrNotFound
	}
	if stored.Kind != kind {
		return nil, ErrKindMismatch
	}
	if stored.Expired(o.clock.Now()) {
		return nil, ErrExpired
	}
	return stored, nil
}

// lookupKey derives the index key from a raw value so that the raw
// challenge never appears as a map key or redis key.
func lookupKey(value []byte) string {
	sum := sha256.Sum256(value)
	return hex.EncodeToString(sum[:])
}
