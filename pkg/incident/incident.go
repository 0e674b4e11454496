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

// Package incident publishes security incidents raised by the trust core:
// security resets, PIN lockouts, suspected authenticator clones and
// blocked addresses. Sinks deliver them to logs or a message broker; a
// failing sink never changes the outcome of the ceremony that raised it.
package incident

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/jeremyhahn/go-quickauth/pkg/correlation"
)

// Severity grades an incident.
type Severity string

const (
	SeverityLow      Severity = "LOW"
	SeverityMedium   Severity = "MEDIUM"
	SeverityHigh     Severity = "HIGH"
	SeverityCritical Severity = "CRITICAL"
)

// Type classifies an incident.
type Type string

const (
	TypeSecurityReset   Type = "SECURITY_RESET"
	TypePINLockout      Type = "PIN_LOCKOUT"
	TypeSuspiciousLogin Type = "SUSPICIOUS_LOGIN"
	TypePossibleClone   Type = "POSSIBLE_CLONE"
	TypeRateLimitAbuse  Type = "RATE_LIMIT_ABUSE"
)

// Incident is one security event.
type Incident struct {
	ID            string            `json:"id"`
	Type          Type              `json:"type"`
	Severity      Severity          `json:"severity"`
	AccountID     string            `json:"account_id,omitempty"`
	IP            string            `json:"ip,omitempty"`
	AttackVector  string            `json:"attack_vector,omitempty"`
	Indicators    map[string]string `json:"indicators,omitempty"`
	CorrelationID string            `json:"correlation_id,omitempty"`
	OccurredAt    time.Time         `json:"occurred_at"`
}

type ctxKey struct{}

// WithClientIP attaches the client address to ctx so incidents raised
// deeper in the call chain can report it.
func WithClientIP(ctx context.Context, ip string) context.Context {
	return context.WithValue(ctx, ctxKey{}, ip)
}

// ClientIP returns the address stored by WithClientIP, or "".
func ClientIP(ctx context.Context) string {
	ip, _ := ctx.Value(ctxKey{}).(string)
	return ip
}

// Sink receives incidents.
type Sink interface {
	Publish(ctx context.Context, inc *Incident) error
}

// Stamp fills the ID, timestamp, client IP and correlation ID of inc when
// unset.
func Stamp(ctx context.Context, inc *Incident, now time.Time) *Incident {
	if inc.ID == "" {
		inc.ID = uuid.NewString()
	}
	if inc.OccurredAt.IsZero() {
		inc.OccurredAt = now
	}
	if inc.IP == "" {
		inc.IP = ClientIP(ctx)
	}
	if inc.CorrelationID == "" {
		inc.CorrelationID = correlation.GetCorrelationID(ctx)
	}
	return inc
}

// LogSink writes incidents to a structured logger.
type LogSink struct {
	logger *slog.Logger
}

// NewLogSink creates a LogSink. A nil logger selects slog.Default.
func NewLogSink(logger *slog.Logger) *LogSink {
	if logger == nil {
		logger = slog.Default()
	}
	return &LogSink{logger: logger}
}

// Publish implements Sink.
func (s *LogSink) Publish(ctx context.Context, inc *Incident) error {
	attrs := []slog.Attr{
		slog.String("incident_id", inc.ID),
		slog.String("type", string(inc.Type)),
		slog.String("severity", string(inc.Severity)),
	}
	if inc.AccountID != "" {
		attrs = append(attrs, slog.String("account_id", inc.AccountID))
	}
	if inc.IP != "" {
		attrs = append(attrs, slog.String("ip", inc.IP))
	}
	if inc.AttackVector != "" {
		attrs = append(attrs, slog.String("attack_vector", inc.AttackVector))
	}
	if inc.CorrelationID != "" {
		attrs = append(attrs, slog.String("correlation_id", inc.CorrelationID))
	}
	if len(inc.Indicators) > 0 {
		group := make([]any, 0, len(inc.Indicators))
		for k, v := range inc.Indicators {
			group = append(group, slog.String(k, v))
		}
		attrs = append(attrs, slog.Group("indicators", group...))
	}
	s.logger.LogAttrs(ctx, slog.LevelWarn, "security incident", attrs...)
	return nil
}

// MultiSink fans an incident out to several sinks. Every sink is tried;
// errors are joined.
type MultiSink []Sink

// Publish implements Sink.
func (m MultiSink) Publish(ctx context.Context, inc *Incident) error {
	var errs []error
	for _, sink := range m {
		if sink == nil {
			continue
		}
		if err := sink.Publish(ctx, inc); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// NopSink discards incidents.
type NopSink struct{}

// Publish implements Sink.
func (NopSink) Publish(context.Context, *Incident) error { return nil }
