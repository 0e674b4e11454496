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

// Package rand provides the injectable random source used for challenges,
// remember-me tokens and account identifiers.
//
// Production code uses the Software source backed by crypto/rand. Tests
// inject a Reader source over a deterministic or failing io.Reader to
// exercise entropy failures without touching the operating system.
//
//	src := rand.NewSoftware()
//	challenge, err := src.Rand(32)
package rand

import (
	"crypto/rand"
	"errors"
	"fmt"
	"io"
)

// ErrShortRead is returned when a source yields fewer bytes than requested.
var ErrShortRead = errors.New("rand: short read")

// Source represents a random number generator.
type Source interface {
	// Rand returns n random bytes.
	// Returns an error if the RNG is unavailable or fails.
	Rand(n int) ([]byte, error)

	// Read implements io.Reader so a Source can be handed to
	// crypto functions that expect crypto/rand.Reader.
	Read(p []byte) (n int, err error)
}

// Software uses crypto/rand from the Go standard library.
type Software struct{}

var _ Source = (*Software)(nil)

// NewSoftware returns the operating system backed source.
func NewSoftware() *Software {
	return &Software{}
}

func (s *Software) Rand(n int) ([]byte, error) {
	return readN(rand.Reader, n)
}

func (s *Software) Read(p []byte) (int, error) {
	return rand.Read(p)
}

// Reader adapts an arbitrary io.Reader into a Source.
type Reader struct {
	r io.Reader
}

var _ Source = (*Reader)(nil)

// NewReader wraps r.
func NewReader(r io.Reader) *Reader {
	return &Reader{r: r}
}

func (s *Reader) Rand(n int) ([]byte, error) {
	return readN(s.r, n)
}

func (s *Reader) Read(p []byte) (int, error) {
	return s.r.Read(p)
}

func readN(r io.Reader, n int) ([]byte, error) {
	if n <= 0 {
		return nil, fmt.Errorf("rand: invalid length %d", n)
	}
	buf := make([]byte, n)
	if _, err := io.ReadFull(r, buf); err != nil {
		if errors.Is(err, io.ErrUnexpectedEOF) || errors.Is(err, io.EOF) {
			return nil, ErrShortRead
		}
		return nil, fmt.Errorf("rand: %w", err)
	}
	return buf, nil
}
