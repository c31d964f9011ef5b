package domain

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// Account is one tenant's connected provider identity.
// Tokens live on the account row because they share its lifecycle: created on
// first authorization, replaced on re-auth or refresh, dropped on disconnect.
// Encryption is handled at the repository layer, not here.
type Account struct {
	ID     uuid.UUID
	UserID string // tenant id issued by the identity provider; immutable
	// SubjectURN is the stable LinkedIn identity (urn:li:person:<sub>),
	// unique across all accounts.
	SubjectURN   string
	AccessToken  string
	RefreshToken string
	// GitHubUsername and GitHubToken are the optional second connection
	// scoped to the same tenant. The username is public, the token is not.
	GitHubUsername string
	GitHubToken    string
	ExpiresAt      *time.Time // nil when non-expiring or unknown
	Scopes         string     // comma-separated grants, informational only
	Encrypted      bool       // false marks a legacy plaintext row
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

// SaveAccountParams carries everything a code exchange or refresh persists.
// Empty token fields are stored as NULL, never as encrypted empties.
type SaveAccountParams struct {
	UserID         string
	SubjectURN     string
	AccessToken    string
	RefreshToken   string
	ExpiresAt      *time.Time
	GitHubUsername string
	GitHubToken    string
	Scopes         string
}

// ConnectionStatus is the one account view safe to hand to an untrusted
// client. It must never carry token material.
type ConnectionStatus struct {
	LinkedInConnected bool
	SubjectURN        string
	GitHubConnected   bool
	GitHubUsername    string
	ExpiresAt         *time.Time
	Scopes            string
}

type AccountRepository interface {
	// Save upserts by UserID. The repository encrypts secrets before the
	// write and returns the row decrypted for immediate use.
	Save(ctx context.Context, params SaveAccountParams) (*Account, error)
	// GetByUserID returns the tenant's account with tokens decrypted,
	// migrating a legacy plaintext row in the same call.
	GetByUserID(ctx context.Context, userID string) (*Account, error)
	// GetBySubjectURN is the provider-identity lookup, same decryption and
	// migration behavior as GetByUserID.
	GetBySubjectURN(ctx context.Context, urn string) (*Account, error)
	// DeleteByUserID reports whether a row existed.
	DeleteByUserID(ctx context.Context, userID string) (bool, error)
	ConnectionStatus(ctx context.Context, userID string) (*ConnectionStatus, error)
	// SaveGitHub attaches the secondary GitHub connection to an existing
	// account. Fails with ErrNoCredential when the tenant never connected.
	SaveGitHub(ctx context.Context, userID, username, token string) error
}
