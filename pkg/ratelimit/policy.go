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

package ratelimit

import (
	"fmt"
	"time"
)

// Actions limited by the default policies.
const (
	ActionLoginIP      = "login_ip"
	ActionPINIP        = "pin_ip"
	ActionLoginAccount = "login_account"
	ActionWebAuthnIP   = "webauthn_ip"
)

// DefaultBlockDuration is how long a subject stays blocked after an
// escalated response such as clone detection.
const DefaultBlockDuration = 60 * time.Minute

// Policy is a named sliding-window limit.
type Policy struct {
	Action      string        `yaml:"action" json:"action"`
	MaxAttempts int           `yaml:"max_attempts" json:"max_attempts"`
	Window      time.Duration `yaml:"window" json:"window"`
}

// Validate checks the policy is usable.
func (p Policy) Validate() error {
	if p.Action == "" {
		return fmt.Errorf("ratelimit: policy action is required")
	}
	if p.MaxAttempts <= 0 {
		return fmt.Errorf("ratelimit: policy %s: max_attempts must be positive", p.Action)
	}
	if p.Window <= 0 {
		return fmt.Errorf("ratelimit: policy %s: window must be positive", p.Action)
	}
	return nil
}

// Policies groups the limits enforced by the auth service.
type Policies struct {
	LoginIP      Policy `yaml:"login_ip" json:"login_ip"`
	PINIP        Policy `yaml:"pin_ip" json:"pin_ip"`
	LoginAccount Policy `yaml:"login_account" json:"login_account"`
	WebAuthnIP   Policy `yaml:"webauthn_ip" json:"webauthn_ip"`
}

// DefaultPolicies returns the production limits.
func DefaultPolicies() Policies {
	return Policies{
		LoginIP:      Policy{Action: ActionLoginIP, MaxAttempts: 5, Window: 15 * time.Minute},
		PINIP:        Policy{Action: ActionPINIP, MaxAttempts: 3, Window: 10 * time.Minute},
		LoginAccount: Policy{Action: ActionLoginAccount, MaxAttempts: 5, Window: 10 * time.Minute},
		WebAuthnIP:   Policy{Action: ActionWebAuthnIP, MaxAttempts: 10, Window: 15 * time.Minute},
	}
}

// SetDefaults fills zero-valued policies from DefaultPolicies.
func (p *Policies) SetDefaults() {
	d := DefaultPolicies()
	fill := func(dst *Policy, def Policy) {
		if dst.Action == "" {
			dst.Action = def.Action
		}
		if dst.MaxAttempts == 0 {
			dst.MaxAttempts = def.MaxAttempts
		}
		if dst.Window == 0 {
			dst.Window = def.Window
		}
	}
	fill(&p.LoginIP, d.LoginIP)
	fill(&p.PINIP, d.PINIP)
	fill(&p.LoginAccount, d.LoginAccount)
	fill(&p.WebAuthnIP, d.WebAuthnIP)
}

// Validate checks every policy.
func (p Policies) Validate() error {
	for _, policy := range []Policy{p.LoginIP, p.PINIP, p.LoginAccount, p.WebAuthnIP} {
		if err := policy.Validate(); err != nil {
			return err
		}
	}
	return nil
}

// MaxWindow returns the longest window across p. Events older than this
// can no longer affect a decision.
func (p Policies) MaxWindow() time.Duration {
	longest := p.LoginIP.Window
	for _, w := range []time.Duration{p.PINIP.Window, p.LoginAccount.Window, p.WebAuthnIP.Window} {
		if w > longest {
			longest = w
		}
	}
	return longest
}
