package domain

import (
	"errors"
	"fmt"
)

var (
	// ErrNoCredential means the tenant never connected the provider.
	ErrNoCredential = errors.New("no credential stored for account")
	// ErrRefreshUnavailable means the token expired and there is no refresh
	// path; the tenant must re-authorize interactively.
	ErrRefreshUnavailable = errors.New("token expired and no refresh token available")
	// ErrSubjectConflict means the provider identity is already bound to a
	// different tenant.
	ErrSubjectConflict = errors.New("provider identity already bound to another account")
)

// ProviderError is a failure talking to the OAuth provider during code
// exchange, identity resolution, or refresh. Transient from the store's
// point of view; retrying is the caller's decision.
type ProviderError struct {
	Op         string // "exchange", "userinfo", "refresh"
	StatusCode int    // 0 when the request never completed
	Revoked    bool   // provider rejected the grant outright
	Err        error
}

func (e *ProviderError) Error() string {
	if e.Revoked {
		return fmt.Sprintf("provider %s: grant revoked: %v", e.Op, e.Err)
	}
	return fmt.Sprintf("provider %s failed: %v", e.Op, e.Err)
}

func (e *ProviderError) Unwrap() error { return e.Err }

// StorageError marks a database-layer failure. Propagated, never swallowed,
// so callers can distinguish it from credential states.
type StorageError struct {
	Op  string
	Err error
}

func (e *StorageError) Error() string {
	return fmt.Sprintf("storage %s failed: %v", e.Op, e.Err)
}

func (e *StorageError) Unwrap() error { return e.Err }
