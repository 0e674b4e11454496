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

package account

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/google/uuid"

	"github.com/jeremyhahn/go-quickauth/pkg/clock"
	"github.com/jeremyhahn/go-quickauth/pkg/storage"
)

const (
	// Storage key prefixes
	accountByIDPrefix       = "accounts/by-id/"
	accountByLoginPrefix    = "accounts/by-login/"
	accountByRememberPrefix = "accounts/by-remember/"
	credentialByIDPrefix    = "credentials/by-id/"
	credentialByAcctPrefix  = "credentials/by-account/"
)

// KVStore implements AccountRepository and CredentialRepository over a
// storage.Backend. Records are JSON documents; secondary indexes map
// logins, remember tokens and account credentials to primary keys.
// Every read-modify-write runs inside Backend.Update.
type KVStore struct {
	backend storage.Backend
	clock   clock.Clock
	mu      sync.RWMutex
	closed  bool
}

var (
	_ AccountRepository    = (*KVStore)(nil)
	_ CredentialRepository = (*KVStore)(nil)
)

// KVOption configures a KVStore.
type KVOption func(*KVStore)

// WithClock sets the time source for CreatedAt, UpdatedAt and LastUsedAt.
func WithClock(c clock.Clock) KVOption {
	return func(s *KVStore) {
		if c != nil {
			s.clock = c
		}
	}
}

// NewKVStore creates a KVStore over backend.
func NewKVStore(backend storage.Backend, opts ...KVOption) (*KVStore, error) {
	if backend == nil {
		return nil, fmt.Errorf("backend cannot be nil")
	}
	s := &KVStore{backend: backend, clock: clock.System{}}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// Create implements AccountRepository.
func (s *KVStore) Create(ctx context.Context, a *Account) error {
	if err := s.check(ctx); err != nil {
		return err
	}
	if NormalizeLogin(a.Username) == "" || a.PasswordHash == "" {
		return ErrInvalidAccount
	}
	if a.ID == "" {
		a.ID = uuid.NewString()
	}
	if a.Status == "" {
		a.Status = StatusActive
	}
	now := s.clock.Now()
	a.CreatedAt = now
	a.UpdatedAt = now
	a.Version = 1

	var claimed []string
	for _, key := range loginKeys(a) {
		if err := s.claim(key, a.ID); err != nil {
			s.release(claimed, a.ID)
			return err
		}
		claimed = append(claimed, key)
	}

	data, err := json.Marshal(a)
	if err != nil {
		s.release(claimed, a.ID)
		return fmt.Errorf("failed to marshal account: %w", err)
	}
	err = s.backend.Update(accountKey(a.ID), func(_ []byte, exists bool) ([]byte, error) {
		if exists {
			return nil, ErrAlreadyExists
		}
		return data, nil
	})
	if err != nil {
		s.release(claimed, a.ID)
		return wrapStorage("create account", err)
	}

	if a.RememberTokenHash != "" {
		if err := s.backend.Put(rememberKey(a.RememberTokenHash), []byte(a.ID), nil); err != nil {
			return fmt.Errorf("failed to index remember token: %w", err)
		}
	}
	return nil
}

// Load implements AccountRepository.
func (s *KVStore) Load(ctx context.Context, id string) (*Account, error) {
	if err := s.check(ctx); err != nil {
		return nil, err
	}
	if id == "" {
		return nil, ErrNotFound
	}
	return s.load(id)
}

// LoadByLogin implements AccountRepository.
func (s *KVStore) LoadByLogin(ctx context.Context, login string) (*Account, error) {
	if err := s.check(ctx); err != nil {
		return nil, err
	}
	norm := NormalizeLogin(login)
	if norm == "" {
		return nil, ErrNotFound
	}
	id, err := s.backend.Get(loginKey(norm))
	if err != nil {
		return nil, wrapStorage("lookup login", err)
	}
	a, err := s.load(string(id))
	if err != nil {
		return nil, err
	}
	if NormalizeLogin(a.Username) != norm && NormalizeLogin(a.Email) != norm {
		return nil, ErrNotFound
	}
	return a, nil
}

// LoadByRememberToken implements AccountRepository.
func (s *KVStore) LoadByRememberToken(ctx context.Context, tokenHash string) (*Account, error) {
	if err := s.check(ctx); err != nil {
		return nil, err
	}
	if tokenHash == "" {
		return nil, ErrNotFound
	}
	id, err := s.backend.Get(rememberKey(tokenHash))
	if err != nil {
		return nil, wrapStorage("lookup remember token", err)
	}
	a, err := s.load(string(id))
	if err != nil {
		return nil, err
	}
	if a.RememberTokenHash != tokenHash {
		return nil, ErrNotFound
	}
	return a, nil
}

// Save implements AccountRepository.
func (s *KVStore) Save(ctx context.Context, a *Account) error {
	return s.write(ctx, a, false)
}

// CompareAndSwap implements AccountRepository.
func (s *KVStore) CompareAndSwap(ctx context.Context, a *Account) error {
	return s.write(ctx, a, true)
}

// write replaces the stored account. Username and email are immutable
// through Save and CompareAndSwap so the login index never needs to move.
func (s *KVStore) write(ctx context.Context, a *Account, checkVersion bool) error {
	if err := s.check(ctx); err != nil {
		return err
	}
	if a.ID == "" {
		return ErrInvalidAccount
	}

	var old Account
	next := a.Clone()
	next.UpdatedAt = s.clock.Now()

	err := s.backend.Update(accountKey(a.ID), func(current []byte, exists bool) ([]byte, error) {
		if !exists {
			return nil, ErrNotFound
		}
		if err := json.Unmarshal(current, &old); err != nil {
			return nil, fmt.Errorf("failed to unmarshal account: %w", err)
		}
		if checkVersion && old.Version != a.Version {
			return nil, ErrVersionConflict
		}
		if NormalizeLogin(old.Username) != NormalizeLogin(a.Username) ||
			NormalizeLogin(old.Email) != NormalizeLogin(a.Email) {
			return nil, fmt.Errorf("%w: login fields are immutable", ErrInvalidAccount)
		}
		next.Version = old.Version + 1
		next.CreatedAt = old.CreatedAt
		return json.Marshal(next)
	})
	if err != nil {
		return wrapStorage("save account", err)
	}

	a.Version = next.Version
	a.UpdatedAt = next.UpdatedAt
	a.CreatedAt = next.CreatedAt

	if old.RememberTokenHash != a.RememberTokenHash {
		if old.RememberTokenHash != "" {
			s.release([]string{rememberKey(old.RememberTokenHash)}, a.ID)
		}
		if a.RememberTokenHash != "" {
			if err := s.backend.Put(rememberKey(a.RememberTokenHash), []byte(a.ID), nil); err != nil {
				return fmt.Errorf("failed to index remember token: %w", err)
			}
		}
	}
	return nil
}

// Insert implements CredentialRepository.
func (s *KVStore) Insert(ctx context.Context, c *Credential) error {
	if err := s.check(ctx); err != nil {
		return err
	}
	if len(c.ID) == 0 || c.AccountID == "" || len(c.PublicKey) == 0 {
		return fmt.Errorf("account: credential requires id, account and public key")
	}
	if c.CreatedAt.IsZero() {
		c.CreatedAt = s.clock.Now()
	}
	data, err := json.Marshal(c)
	if err != nil {
		return fmt.Errorf("failed to marshal credential: %w", err)
	}

	err = s.backend.Update(credentialKey(c.ID), func(_ []byte, exists bool) ([]byte, error) {
		if exists {
			return nil, ErrCredentialExists
		}
		return data, nil
	})
	if err != nil {
		return wrapStorage("insert credential", err)
	}

	marker := credentialMarkerKey(c.AccountID, c.ID)
	if err := s.backend.Put(marker, []byte(encode(c.ID)), nil); err != nil {
		return fmt.Errorf("failed to index credential: %w", err)
	}
	return nil
}

// FindByCredentialID implements CredentialRepository.
func (s *KVStore) FindByCredentialID(ctx context.Context, id []byte) (*Credential, error) {
	if err := s.check(ctx); err != nil {
		return nil, err
	}
	if len(id) == 0 {
		return nil, ErrNotFound
	}
	return s.findCredential(id)
}

// ListByAccount implements CredentialRepository.
func (s *KVStore) ListByAccount(ctx context.Context, accountID string) ([]*Credential, error) {
	if err := s.check(ctx); err != nil {
		return nil, err
	}
	ids, err := s.credentialIDs(accountID)
	if err != nil {
		return nil, err
	}

	creds := make([]*Credential, 0, len(ids))
	for _, id := range ids {
		c, err := s.findCredential(id)
		if errors.Is(err, ErrNotFound) {
			continue
		}
		if err != nil {
			return nil, err
		}
		if c.AccountID == accountID {
			creds = append(creds, c)
		}
	}
	return creds, nil
}

// Delete implements CredentialRepository.
func (s *KVStore) Delete(ctx context.Context, id []byte) error {
	if err := s.check(ctx); err != nil {
		return err
	}
	c, err := s.findCredential(id)
	if err != nil {
		return err
	}
	if err := s.backend.Delete(credentialKey(id)); err != nil {
		return wrapStorage("delete credential", err)
	}
	if err := s.backend.Delete(credentialMarkerKey(c.AccountID, id)); err != nil && !errors.Is(err, storage.ErrNotFound) {
		return fmt.Errorf("failed to delete credential index: %w", err)
	}
	return nil
}

// DeleteAllForAccount implements CredentialRepository.
func (s *KVStore) DeleteAllForAccount(ctx context.Context, accountID string) (int, error) {
	if err := s.check(ctx); err != nil {
		return 0, err
	}
	ids, err := s.credentialIDs(accountID)
	if err != nil {
		return 0, err
	}

	deleted := 0
	for _, id := range ids {
		err := s.backend.Delete(credentialKey(id))
		switch {
		case err == nil:
			deleted++
		case !errors.Is(err, storage.ErrNotFound):
			return deleted, fmt.Errorf("failed to delete credential: %w", err)
		}
		if err := s.backend.Delete(credentialMarkerKey(accountID, id)); err != nil && !errors.Is(err, storage.ErrNotFound) {
			return deleted, fmt.Errorf("failed to delete credential index: %w", err)
		}
	}
	return deleted, nil
}

// UpdateCounter implements CredentialRepository.
func (s *KVStore) UpdateCounter(ctx context.Context, id []byte, expectOld, newCount uint32) error {
	if err := s.check(ctx); err != nil {
		return err
	}
	now := s.clock.Now()
	err := s.backend.Update(credentialKey(id), func(current []byte, exists bool) ([]byte, error) {
		if !exists {
			return nil, ErrNotFound
		}
		var c Credential
		if err := json.Unmarshal(current, &c); err != nil {
			return nil, fmt.Errorf("failed to unmarshal credential: %w", err)
		}
		if c.SignCount != expectOld {
			return nil, ErrCounterConflict
		}
		c.SignCount = newCount
		c.LastUsedAt = &now
		return json.Marshal(&c)
	})
	return wrapStorage("update counter", err)
}

// Close closes the underlying backend.
func (s *KVStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true
	return s.backend.Close()
}

func (s *KVStore) check(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return ErrClosed
	}
	return nil
}

func (s *KVStore) load(id string) (*Account, error) {
	data, err := s.backend.Get(accountKey(id))
	if err != nil {
		return nil, wrapStorage("load account", err)
	}
	var a Account
	if err := json.Unmarshal(data, &a); err != nil {
		return nil, fmt.Errorf("failed to unmarshal account: %w", err)
	}
	return &a, nil
}

func (s *KVStore) findCredential(id []byte) (*Credential, error) {
	data, err := s.backend.Get(credentialKey(id))
	if err != nil {
		return nil, wrapStorage("load credential", err)
	}
	var c Credential
	if err := json.Unmarshal(data, &c); err != nil {
		return nil, fmt.Errorf("failed to unmarshal credential: %w", err)
	}
	return &c, nil
}

func (s *KVStore) credentialIDs(accountID string) ([][]byte, error) {
	prefix := credentialByAcctPrefix + encode([]byte(accountID)) + "/"
	keys, err := s.backend.List(prefix)
	if err != nil {
		return nil, fmt.Errorf("failed to list credentials: %w", err)
	}
	ids := make([][]byte, 0, len(keys))
	for _, key := range keys {
		id, err := base64.RawURLEncoding.DecodeString(strings.TrimPrefix(key, prefix))
		if err != nil {
			continue
		}
		ids = append(ids, id)
	}
	return ids, nil
}

// claim atomically points an index key at id, failing if another account
// already holds it.
func (s *KVStore) claim(key, id string) error {
	err := s.backend.Update(key, func(current []byte, exists bool) ([]byte, error) {
		if exists && string(current) != id {
			return nil, ErrAlreadyExists
		}
		return []byte(id), nil
	})
	return wrapStorage("claim index", err)
}

// release removes index keys that still point at id.
func (s *KVStore) release(keys []string, id string) {
	for _, key := range keys {
		_ = s.backend.Update(key, func(current []byte, exists bool) ([]byte, error) {
			if exists && string(current) != id {
				return current, nil
			}
			return nil, nil
		})
	}
}

func loginKeys(a *Account) []string {
	keys := []string{loginKey(NormalizeLogin(a.Username))}
	if email := NormalizeLogin(a.Email); email != "" && email != NormalizeLogin(a.Username) {
		keys = append(keys, loginKey(email))
	}
	return keys
}

func wrapStorage(op string, err error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, storage.ErrNotFound):
		return ErrNotFound
	case errors.Is(err, storage.ErrClosed):
		return ErrClosed
	case errors.Is(err, ErrNotFound), errors.Is(err, ErrAlreadyExists),
		errors.Is(err, ErrVersionConflict), errors.Is(err, ErrCredentialExists),
		errors.Is(err, ErrCounterConflict), errors.Is(err, ErrInvalidAccount):
		return err
	default:
		return fmt.Errorf("failed to %s: %w", op, err)
	}
}

func encode(b []byte) string {
	return base64.RawURLEncoding.EncodeToString(b)
}

func accountKey(id string) string {
	return accountByIDPrefix + encode([]byte(id))
}

func loginKey(normalized string) string {
	return accountByLoginPrefix + encode([]byte(normalized))
}

func rememberKey(tokenHash string) string {
	return accountByRememberPrefix + encode([]byte(tokenHash))
}

func credentialKey(id []byte) string {
	return credentialByIDPrefix + encode(id)
}

func credentialMarkerKey(accountID string, id []byte) string {
	return credentialByAcctPrefix + encode([]byte(accountID)) + "/" + encode(id)
}
