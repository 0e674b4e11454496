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

package rand

import (
	"bytes"
	"errors"
	"testing"
)

type failingReader struct{}

func (failingReader) Read([]byte) (int, error) { return 0, errors.New("no entropy") }

func TestSoftware_Rand(t *testing.T) {
	src := NewSoftware()

	a, err := src.Rand(32)
	if err != nil {
		t.Fatalf("Rand() error = %v", err)
	}
	if len(a) != 32 {
		t.Fatalf("expected 32 bytes, got %d", len(a))
	}

	b, err := src.Rand(32)
	if err != nil {
		t.Fatalf("Rand() error = %v", err)
	}
	if bytes.Equal(a, b) {
		t.Fatal("two reads returned identical output")
	}
}

func TestSoftware_InvalidLength(t *testing.T) {
	if _, err := NewSoftware().Rand(0); err == nil {
		t.Fatal("expected error for zero length")
	}
}

func TestReader_Deterministic(t *testing.T) {
	src := NewReader(bytes.NewReader(bytes.Repeat([]byte{0xAB}, 64)))

	got, err := src.Rand(16)
	if err != nil {
		t.Fatalf("Rand() error = %v", err)
	}
	if !bytes.Equal(got, bytes.Repeat([]byte{0xAB}, 16)) {
		t.Fatalf("unexpected bytes %x", got)
	}
}

func TestReader_ShortRead(t *testing.T) {
	src := NewReader(bytes.NewReader([]byte{1, 2, 3}))
	if _, err := src.Rand(16); !errors.Is(err, ErrShortRead) {
		t.Fatalf("expected ErrShortRead, got %v", err)
	}
}

func TestReader_Failure(t *testing.T) {
	src := NewReader(failingReader{})
	if _, err := src.Rand(16); err == nil {
		t.Fatal("expected error from failing reader")
	}
}
