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

package webauthn

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestVerifyError_Error(t *testing.T) {
	tests := []struct {
		name     string
		err      *VerifyError
		expected string
	}{
		{
			name:     "with operation",
			err:      &VerifyError{Op: "verify assertion", Err: ErrInvalidSignature},
			expected: "verify assertion: invalid signature",
		},
		{
			name:     "without operation",
			err:      &VerifyError{Err: ErrPossibleClone},
			expected: "possible cloned authenticator",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, tt.err.Error())
		})
	}
}

func TestVerifyError_Is(t *testing.T) {
	err := NewError("op", fmt.Errorf("%w: stored 5, received 3", ErrPossibleClone))

	assert.ErrorIs(t, err, ErrPossibleClone)
	assert.NotErrorIs(t, err, ErrInvalidSignature)
	assert.True(t, IsPossibleClone(err))
	assert.False(t, IsInvalidSignature(err))

	var verr *VerifyError
	assert.True(t, errors.As(err, &verr))
	assert.Equal(t, "op", verr.Op)
}

func TestWrapError(t *testing.T) {
	assert.Nil(t, WrapError("op", nil))

	err := WrapError("op", ErrOriginNotAllowed)
	assert.ErrorIs(t, err, ErrOriginNotAllowed)
}

func TestMalformed(t *testing.T) {
	err := malformed("bad length %d", 3)
	assert.ErrorIs(t, err, ErrMalformed)
	assert.Contains(t, err.Error(), "bad length 3")
}
