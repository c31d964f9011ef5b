// Package auth implements the LinkedIn authorization flow on top of the
// credential store: building the authorize redirect, exchanging codes,
// refreshing tokens, and handing out tokens that are valid long enough to use.
package auth

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/jonboulle/clockwork"
	"golang.org/x/sync/singleflight"

	"github.com/cliff-de-tech/Post-Bot/internal/domain"
	"github.com/cliff-de-tech/Post-Bot/internal/linkedin"
	"github.com/cliff-de-tech/Post-Bot/internal/metrics"
)

// DefaultRefreshBuffer is how long before expiry a token is treated as
// expired. Covers clock skew and the time a caller needs to actually use it.
const DefaultRefreshBuffer = 60 * time.Second

// Provider is the outbound OAuth surface the flow depends on.
type Provider interface {
	AuthorizeURL(clientID, redirectURI, scope, state string) string
	ExchangeCode(ctx context.Context, code, redirectURI, clientID, clientSecret string) (*linkedin.TokenResponse, error)
	Refresh(ctx context.Context, refreshToken, clientID, clientSecret string) (*linkedin.TokenResponse, error)
	Userinfo(ctx context.Context, accessToken string) (string, error)
}

// ClientCredentials identifies the OAuth application at the provider.
type ClientCredentials struct {
	ID     string
	Secret string
}

// CredentialsResolver supplies per-tenant OAuth application credentials.
// Returning false falls back to the process-wide defaults.
type CredentialsResolver func(userID string) (ClientCredentials, bool)

type ServiceConfig struct {
	Credentials   ClientCredentials
	RedirectURI   string
	Scopes        string
	RefreshBuffer time.Duration       // zero means DefaultRefreshBuffer
	Resolver      CredentialsResolver // nil means process-wide credentials only
}

// Service orchestrates the authorization flow for all tenants.
type Service struct {
	accounts domain.AccountRepository
	provider Provider
	cfg      ServiceConfig
	clock    clockwork.Clock

	// refreshGroup collapses concurrent refreshes for the same tenant within
	// this process. Across processes the store's upsert is last-write-wins.
	refreshGroup singleflight.Group
}

func NewService(accounts domain.AccountRepository, provider Provider, cfg ServiceConfig, clock clockwork.Clock) *Service {
	if cfg.RefreshBuffer <= 0 {
		cfg.RefreshBuffer = DefaultRefreshBuffer
	}
	return &Service{
		accounts: accounts,
		provider: provider,
		cfg:      cfg,
		clock:    clock,
	}
}

func (s *Service) credentialsFor(userID string) ClientCredentials {
	if s.cfg.Resolver != nil {
		if creds, ok := s.cfg.Resolver(userID); ok {
			return creds
		}
	}
	return s.cfg.Credentials
}

// BuildAuthorizeURL renders the redirect that starts the flow. State is
// caller-supplied and must be verified on the callback.
func (s *Service) BuildAuthorizeURL(userID, state string) string {
	creds := s.credentialsFor(userID)
	return s.provider.AuthorizeURL(creds.ID, s.cfg.RedirectURI, s.cfg.Scopes, state)
}

// ExchangeCode completes the authorization flow: it swaps the code for
// tokens, resolves the LinkedIn identity, and persists the connection. An
// identity-resolution failure aborts the whole exchange; nothing is stored
// for a subject we could not attribute.
func (s *Service) ExchangeCode(ctx context.Context, userID, code string) (*domain.Account, error) {
	creds := s.credentialsFor(userID)

	tokens, err := s.provider.ExchangeCode(ctx, code, s.cfg.RedirectURI, creds.ID, creds.Secret)
	if err != nil {
		metrics.CodeExchangesTotal.WithLabelValues("failed").Inc()
		return nil, err
	}

	sub, err := s.provider.Userinfo(ctx, tokens.AccessToken)
	if err != nil {
		metrics.CodeExchangesTotal.WithLabelValues("failed").Inc()
		return nil, err
	}
	urn := fmt.Sprintf("urn:li:person:%s", sub)

	account, err := s.accounts.Save(ctx, domain.SaveAccountParams{
		UserID:       userID,
		SubjectURN:   urn,
		AccessToken:  tokens.AccessToken,
		RefreshToken: tokens.RefreshToken,
		ExpiresAt:    s.absoluteExpiry(tokens.ExpiresIn),
		Scopes:       s.cfg.Scopes,
	})
	if err != nil {
		metrics.CodeExchangesTotal.WithLabelValues("failed").Inc()
		return nil, err
	}

	metrics.CodeExchangesTotal.WithLabelValues("success").Inc()
	slog.Info("linkedin account connected", "user_id", userID, "linkedin_urn", urn)
	return account, nil
}

// Refresh renews the tenant's access token and persists the result.
func (s *Service) Refresh(ctx context.Context, userID string) (*domain.Account, error) {
	account, err := s.accounts.GetByUserID(ctx, userID)
	if err != nil {
		return nil, err
	}
	if account.RefreshToken == "" {
		return nil, domain.ErrRefreshUnavailable
	}

	creds := s.credentialsFor(userID)
	tokens, err := s.provider.Refresh(ctx, account.RefreshToken, creds.ID, creds.Secret)
	if err != nil {
		metrics.TokenRefreshesTotal.WithLabelValues("failed").Inc()
		return nil, err
	}

	refreshed, err := s.accounts.Save(ctx, domain.SaveAccountParams{
		UserID:       userID,
		SubjectURN:   account.SubjectURN,
		AccessToken:  tokens.AccessToken,
		RefreshToken: tokens.RefreshToken,
		ExpiresAt:    s.absoluteExpiry(tokens.ExpiresIn),
		Scopes:       account.Scopes,
	})
	if err != nil {
		metrics.TokenRefreshesTotal.WithLabelValues("failed").Inc()
		return nil, err
	}

	metrics.TokenRefreshesTotal.WithLabelValues("success").Inc()
	slog.Info("access token refreshed", "user_id", userID)
	return refreshed, nil
}

// GetValidToken returns an access token good for at least the refresh buffer,
// refreshing proactively when the stored one is about to expire.
func (s *Service) GetValidToken(ctx context.Context, userID string) (string, error) {
	account, err := s.accounts.GetByUserID(ctx, userID)
	if err != nil {
		return "", err
	}

	if account.AccessToken != "" && !s.expiringSoon(account.ExpiresAt) {
		return account.AccessToken, nil
	}

	if account.RefreshToken == "" {
		return "", domain.ErrRefreshUnavailable
	}

	token, err, _ := s.refreshGroup.Do(userID, func() (any, error) {
		refreshed, err := s.Refresh(ctx, userID)
		if err != nil {
			return "", err
		}
		return refreshed.AccessToken, nil
	})
	if err != nil {
		return "", err
	}
	return token.(string), nil
}

// expiringSoon reports whether the token is inside the refresh buffer. A nil
// expiry means the provider reported no lifetime; treat it as non-expiring.
func (s *Service) expiringSoon(expiresAt *time.Time) bool {
	if expiresAt == nil {
		return false
	}
	return !s.clock.Now().Before(expiresAt.Add(-s.cfg.RefreshBuffer))
}

func (s *Service) absoluteExpiry(expiresIn int) *time.Time {
	if expiresIn <= 0 {
		return nil
	}
	t := s.clock.Now().UTC().Add(time.Duration(expiresIn) * time.Second)
	return &t
}
