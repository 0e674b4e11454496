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

// Package ratelimit throttles authentication attempts.
//
// Limiter keeps a sliding window of attempts per (subject, action) pair in an
// EventStore and maintains an explicit denylist for escalated responses. It
// fails open: when the store cannot be reached the attempt is allowed and a
// warning is logged and counted.
//
// BucketLimiter and Middleware provide a coarse per-IP token bucket in front
// of the HTTP handlers.
package ratelimit

import (
	"context"
	"log/slog"
	"time"

	"github.com/jeremyhahn/go-quickauth/pkg/clock"
	"github.com/jeremyhahn/go-quickauth/pkg/metrics"
)

// DefaultStoreTimeout bounds every EventStore call.
const DefaultStoreTimeout = 2 * time.Second

// EventStore persists attempt records and blocks.
type EventStore interface {
	// CountAndAppend counts the events recorded under key within
	// [now-window, now]. When the count is below max it records one event at
	// now and returns true; otherwise it records nothing and returns false.
	// The check and the append are atomic per key.
	CountAndAppend(ctx context.Context, key string, now time.Time, window time.Duration, max int) (bool, error)

	// Block denies subject until the given time.
	Block(ctx context.Context, subject string, until time.Time, reason string) error

	// BlockedUntil returns the end of the subject's block, or the zero time
	// when it is not blocked at now.
	BlockedUntil(ctx context.Context, subject string, now time.Time) (time.Time, error)
}

// Limiter applies sliding-window limits and the explicit denylist.
type Limiter struct {
	store   EventStore
	clock   clock.Clock
	logger  *slog.Logger
	timeout time.Duration
}

// Option configures a Limiter.
type Option func(*Limiter)

// WithClock sets the time source used for windows and blocks.
func WithClock(c clock.Clock) Option {
	return func(l *Limiter) {
		if c != nil {
			l.clock = c
		}
	}
}

// WithLogger sets the logger used for fail-open warnings.
func WithLogger(logger *slog.Logger) Option {
	return func(l *Limiter) {
		if logger != nil {
			l.logger = logger
		}
	}
}

// WithStoreTimeout bounds each store call.
func WithStoreTimeout(d time.Duration) Option {
	return func(l *Limiter) {
		if d > 0 {
			l.timeout = d
		}
	}
}

// New creates a Limiter over store.
func New(store EventStore, opts ...Option) *Limiter {
	l := &Limiter{
		store:   store,
		clock:   clock.System{},
		logger:  slog.Default(),
		timeout: DefaultStoreTimeout,
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// CheckAndRecord reports whether another attempt of action by subject fits
// within maxAttempts per window, recording it when it does. Refused attempts
// are not recorded.
func (l *Limiter) CheckAndRecord(ctx context.Context, subject, action string, maxAttempts int, window time.Duration) bool {
	if maxAttempts <= 0 {
		metrics.RecordRateLimited(action)
		return false
	}

	ctx, cancel := context.WithTimeout(ctx, l.timeout)
	defer cancel()

	allowed, err := l.store.CountAndAppend(ctx, eventKey(action, subject), l.clock.Now(), window, maxAttempts)
	if err != nil {
		l.logger.Warn("rate limiter store unavailable, allowing attempt",
			slog.String("subject", subject),
			slog.String("action", action),
			slog.String("error", err.Error()))
		metrics.RecordRateLimitStoreError(action)
		return true
	}
	if !allowed {
		metrics.RecordRateLimited(action)
	}
	return allowed
}

// Allow applies a named policy to subject.
func (l *Limiter) Allow(ctx context.Context, subject string, p Policy) bool {
	return l.CheckAndRecord(ctx, subject, p.Action, p.MaxAttempts, p.Window)
}

// Block denies subject for duration.
func (l *Limiter) Block(ctx context.Context, subject string, duration time.Duration, reason string) error {
	ctx, cancel := context.WithTimeout(ctx, l.timeout)
	defer cancel()

	until := l.clock.Now().Add(duration)
	if err := l.store.Block(ctx, subject, until, reason); err != nil {
		return err
	}
	metrics.RecordBlock(reason)
	l.logger.Warn("subject blocked",
		slog.String("subject", subject),
		slog.String("reason", reason),
		slog.Time("until", until))
	return nil
}

// IsBlocked reports whether subject is on the denylist. A store failure is
// logged and treated as not blocked.
func (l *Limiter) IsBlocked(ctx context.Context, subject string) bool {
	ctx, cancel := context.WithTimeout(ctx, l.timeout)
	defer cancel()

	now := l.clock.Now()
	until, err := l.store.BlockedUntil(ctx, subject, now)
	if err != nil {
		l.logger.Warn("rate limiter store unavailable, skipping block check",
			slog.String("subject", subject),
			slog.String("error", err.Error()))
		metrics.RecordRateLimitStoreError("block")
		return false
	}
	return now.Before(until)
}

func eventKey(action, subject string) string {
	return action + "|" + subject
}
