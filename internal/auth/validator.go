package auth

import (
	"context"
	"errors"

	"github.com/cliff-de-tech/Post-Bot/internal/crypto"
	"github.com/cliff-de-tech/Post-Bot/internal/domain"
)

// Error codes reported to collaborators. Stable strings, part of the API.
const (
	CodeNoCredential           = "no_credential"
	CodeRefreshUnavailable     = "refresh_unavailable"
	CodeProviderExchangeFailed = "provider_exchange_failed"
	CodeEncryptionUnavailable  = "encryption_unavailable"
	CodeStorageUnavailable     = "storage_unavailable"
)

// User actions the frontend can act on directly.
const (
	ActionConnect   = "connect"
	ActionReconnect = "reconnect"
	ActionRetry     = "retry"
)

// ValidationResult is the answer to "can I post right now". Expected failure
// states (never connected, expired with no refresh path) are results, not
// errors; only infrastructure faults surface as errors from the validator.
type ValidationResult struct {
	Valid      bool   `json:"valid"`
	Token      string `json:"token,omitempty"`
	ErrorCode  string `json:"error_code,omitempty"`
	Message    string `json:"message,omitempty"`
	UserAction string `json:"user_action,omitempty"`
}

// Validator is the facade collaborators (the posting pipeline, the activity
// scanner) use to obtain usable tokens without knowing the flow internals.
type Validator struct {
	flow     *Service
	accounts domain.AccountRepository
}

func NewValidator(flow *Service, accounts domain.AccountRepository) *Validator {
	return &Validator{flow: flow, accounts: accounts}
}

// ValidateLinkedIn returns a LinkedIn token valid for at least the refresh
// buffer, or the reason the tenant cannot post and what they should do.
func (v *Validator) ValidateLinkedIn(ctx context.Context, userID string) (*ValidationResult, error) {
	token, err := v.flow.GetValidToken(ctx, userID)
	if err != nil {
		return mapFlowError(err)
	}
	return &ValidationResult{Valid: true, Token: token}, nil
}

// ValidateGitHub returns the tenant's GitHub token for the activity scanner.
// GitHub PATs do not expire on a refresh schedule, so this is presence plus
// decryption health, not a provider round trip.
func (v *Validator) ValidateGitHub(ctx context.Context, userID string) (*ValidationResult, error) {
	account, err := v.accounts.GetByUserID(ctx, userID)
	if errors.Is(err, domain.ErrNoCredential) {
		return &ValidationResult{
			ErrorCode:  CodeNoCredential,
			Message:    "GitHub account is not connected.",
			UserAction: ActionConnect,
		}, nil
	}
	if err != nil {
		return mapFlowError(err)
	}

	if account.GitHubToken == "" {
		return &ValidationResult{
			ErrorCode:  CodeNoCredential,
			Message:    "GitHub account is not connected.",
			UserAction: ActionConnect,
		}, nil
	}
	return &ValidationResult{Valid: true, Token: account.GitHubToken}, nil
}

// mapFlowError translates flow and store failures into results for expected
// states and passes infrastructure faults through alongside a coded result.
func mapFlowError(err error) (*ValidationResult, error) {
	var provErr *domain.ProviderError
	var storeErr *domain.StorageError

	switch {
	case errors.Is(err, domain.ErrNoCredential):
		return &ValidationResult{
			ErrorCode:  CodeNoCredential,
			Message:    "LinkedIn account is not connected.",
			UserAction: ActionConnect,
		}, nil
	case errors.Is(err, domain.ErrRefreshUnavailable):
		return &ValidationResult{
			ErrorCode:  CodeRefreshUnavailable,
			Message:    "LinkedIn session expired and cannot be renewed automatically.",
			UserAction: ActionReconnect,
		}, nil
	case errors.As(err, &provErr):
		result := &ValidationResult{
			ErrorCode:  CodeProviderExchangeFailed,
			Message:    "LinkedIn did not accept the stored credentials.",
			UserAction: ActionRetry,
		}
		if provErr.Revoked {
			result.Message = "LinkedIn access was revoked."
			result.UserAction = ActionReconnect
		}
		return result, nil
	case errors.Is(err, crypto.ErrKeyUnavailable):
		return &ValidationResult{
			ErrorCode:  CodeEncryptionUnavailable,
			Message:    "Stored credentials cannot be read right now.",
			UserAction: ActionRetry,
		}, err
	case errors.As(err, &storeErr):
		return &ValidationResult{
			ErrorCode:  CodeStorageUnavailable,
			Message:    "Credential storage is unavailable.",
			UserAction: ActionRetry,
		}, err
	default:
		return &ValidationResult{
			ErrorCode:  CodeStorageUnavailable,
			Message:    "Credential lookup failed.",
			UserAction: ActionRetry,
		}, err
	}
}
