package database

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/cliff-de-tech/Post-Bot/internal/crypto"
	"github.com/cliff-de-tech/Post-Bot/internal/domain"
	"github.com/cliff-de-tech/Post-Bot/internal/metrics"
)

// accountColumns must match the Scan order in scanAccount.
const accountColumns = `id, user_id, linkedin_urn, access_token, refresh_token, github_username, github_access_token, expires_at, scopes, is_encrypted, created_at, updated_at`

// AccountRepo implements domain.AccountRepository backed by PostgreSQL.
// It is the only code allowed to touch the accounts table.
type AccountRepo struct {
	pool   *pgxpool.Pool
	crypto crypto.Service
}

func NewAccountRepo(pool *pgxpool.Pool, cryptoSvc crypto.Service) *AccountRepo {
	return &AccountRepo{pool: pool, crypto: cryptoSvc}
}

// encryptNullable encrypts a secret for storage. Empty values become NULL,
// never an encrypted empty string.
func (r *AccountRepo) encryptNullable(value string) (*string, error) {
	if value == "" {
		return nil, nil
	}
	enc, err := r.crypto.Encrypt(value)
	if err != nil {
		return nil, fmt.Errorf("failed to encrypt token: %w", err)
	}
	return &enc, nil
}

// storedAccount holds a row as persisted, token fields still encrypted.
type storedAccount struct {
	account      domain.Account
	accessToken  string
	refreshToken string
	githubToken  string
}

func scanAccount(row pgx.Row) (*storedAccount, error) {
	var (
		s                             storedAccount
		access, refresh, ghUser, ghTok *string
		scopes                        *string
		expiresAt                     *time.Time
		isEncrypted                   *int16
	)

	err := row.Scan(
		&s.account.ID, &s.account.UserID, &s.account.SubjectURN,
		&access, &refresh, &ghUser, &ghTok,
		&expiresAt, &scopes, &isEncrypted,
		&s.account.CreatedAt, &s.account.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	s.accessToken = deref(access)
	s.refreshToken = deref(refresh)
	s.githubToken = deref(ghTok)
	s.account.GitHubUsername = deref(ghUser)
	s.account.Scopes = deref(scopes)
	s.account.ExpiresAt = expiresAt
	s.account.Encrypted = isEncrypted != nil && *isEncrypted == 1

	return &s, nil
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}

// Save upserts the tenant's account row with encrypt-on-write semantics.
// The upsert keys on user_id; the linkedin_urn uniqueness is checked at the
// application layer first so the conflict target stays unambiguous.
func (r *AccountRepo) Save(ctx context.Context, params domain.SaveAccountParams) (*domain.Account, error) {
	if err := r.checkSubjectBinding(ctx, params.UserID, params.SubjectURN); err != nil {
		return nil, err
	}

	encAccess, err := r.encryptNullable(params.AccessToken)
	if err != nil {
		return nil, err
	}
	encRefresh, err := r.encryptNullable(params.RefreshToken)
	if err != nil {
		return nil, err
	}
	encGitHub, err := r.encryptNullable(params.GitHubToken)
	if err != nil {
		return nil, err
	}

	var ghUser, scopes *string
	if params.GitHubUsername != "" {
		ghUser = &params.GitHubUsername
	}
	if params.Scopes != "" {
		scopes = &params.Scopes
	}

	// COALESCE keeps the secondary GitHub connection and scopes intact when a
	// re-authorization does not carry them.
	stored, err := scanAccount(r.pool.QueryRow(ctx, `
		INSERT INTO accounts (user_id, linkedin_urn, access_token, refresh_token, github_username, github_access_token, expires_at, scopes, is_encrypted, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, 1, NOW(), NOW())
		ON CONFLICT (user_id) DO UPDATE SET
			linkedin_urn = EXCLUDED.linkedin_urn,
			access_token = EXCLUDED.access_token,
			refresh_token = EXCLUDED.refresh_token,
			github_username = COALESCE(EXCLUDED.github_username, accounts.github_username),
			github_access_token = COALESCE(EXCLUDED.github_access_token, accounts.github_access_token),
			expires_at = EXCLUDED.expires_at,
			scopes = COALESCE(EXCLUDED.scopes, accounts.scopes),
			is_encrypted = 1,
			updated_at = NOW()
		RETURNING `+accountColumns,
		params.UserID, params.SubjectURN, encAccess, encRefresh, ghUser, encGitHub, params.ExpiresAt, scopes,
	))
	if err != nil {
		return nil, &domain.StorageError{Op: "save account", Err: err}
	}

	return r.decryptAccount(stored), nil
}

// checkSubjectBinding rejects a save that would bind a provider identity
// already owned by a different tenant.
func (r *AccountRepo) checkSubjectBinding(ctx context.Context, userID, urn string) error {
	var boundUser string
	err := r.pool.QueryRow(ctx, `SELECT user_id FROM accounts WHERE linkedin_urn = $1`, urn).Scan(&boundUser)
	switch {
	case errors.Is(err, pgx.ErrNoRows):
		return nil
	case err != nil:
		return &domain.StorageError{Op: "check subject binding", Err: err}
	case boundUser != userID:
		return domain.ErrSubjectConflict
	}
	return nil
}

func (r *AccountRepo) GetByUserID(ctx context.Context, userID string) (*domain.Account, error) {
	return r.getAccount(ctx, `SELECT `+accountColumns+` FROM accounts WHERE user_id = $1`, userID)
}

func (r *AccountRepo) GetBySubjectURN(ctx context.Context, urn string) (*domain.Account, error) {
	return r.getAccount(ctx, `SELECT `+accountColumns+` FROM accounts WHERE linkedin_urn = $1`, urn)
}

func (r *AccountRepo) getAccount(ctx context.Context, query, key string) (*domain.Account, error) {
	stored, err := scanAccount(r.pool.QueryRow(ctx, query, key))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, domain.ErrNoCredential
	}
	if err != nil {
		return nil, &domain.StorageError{Op: "get account", Err: err}
	}

	if !stored.account.Encrypted {
		// Legacy plaintext row. Migrate it now; whatever the outcome, the
		// caller still gets usable values.
		r.migrateLegacy(ctx, stored)
	}

	return r.decryptAccount(stored), nil
}

// migrateLegacy upgrades one plaintext row to encrypted storage. The single
// conditional UPDATE is the synchronization primitive: under concurrent
// first-access, exactly one caller flips the row and the rest see zero rows
// affected, which is a success path.
func (r *AccountRepo) migrateLegacy(ctx context.Context, stored *storedAccount) {
	if !r.crypto.Enabled() {
		// No key configured, leave the row at is_encrypted = 0 for a retry
		// after the deployment is fixed.
		metrics.LegacyMigrationsTotal.WithLabelValues("skipped").Inc()
		return
	}
	if crypto.IsTagged(stored.accessToken) {
		// Tagged values with a stale flag must not be encrypted twice.
		return
	}

	// Encrypt in memory first, then issue a single conditional write.
	encAccess, errA := r.encryptNullable(stored.accessToken)
	encRefresh, errR := r.encryptNullable(stored.refreshToken)
	encGitHub, errG := r.encryptNullable(stored.githubToken)
	if err := errors.Join(errA, errR, errG); err != nil {
		slog.Error("legacy token migration skipped, encryption failed", "user_id", stored.account.UserID, "error", err)
		metrics.LegacyMigrationsTotal.WithLabelValues("failed").Inc()
		return
	}

	tag, err := r.pool.Exec(ctx, `
		UPDATE accounts
		SET access_token = $1, refresh_token = $2, github_access_token = $3, is_encrypted = 1, updated_at = NOW()
		WHERE user_id = $4 AND (is_encrypted IS NULL OR is_encrypted = 0)
	`, encAccess, encRefresh, encGitHub, stored.account.UserID)
	if err != nil {
		slog.Error("legacy token migration failed", "user_id", stored.account.UserID, "error", err)
		metrics.LegacyMigrationsTotal.WithLabelValues("failed").Inc()
		return
	}
	if tag.RowsAffected() == 0 {
		// A concurrent reader migrated the row first.
		metrics.LegacyMigrationsTotal.WithLabelValues("already_migrated").Inc()
		return
	}
	metrics.LegacyMigrationsTotal.WithLabelValues("migrated").Inc()
}

// decryptAccount resolves the stored token fields to plaintext. A value that
// cannot be decrypted is returned empty; callers treat that as a missing
// credential rather than receiving ciphertext.
func (r *AccountRepo) decryptAccount(stored *storedAccount) *domain.Account {
	account := stored.account

	account.AccessToken = r.decryptOrEmpty(stored.account.UserID, "access_token", stored.accessToken)
	account.RefreshToken = r.decryptOrEmpty(stored.account.UserID, "refresh_token", stored.refreshToken)
	account.GitHubToken = r.decryptOrEmpty(stored.account.UserID, "github_access_token", stored.githubToken)

	return &account
}

func (r *AccountRepo) decryptOrEmpty(userID, field, value string) string {
	plaintext, err := r.crypto.Decrypt(value)
	if err != nil {
		slog.Error("failed to decrypt stored token", "user_id", userID, "field", field, "error", err)
		return ""
	}
	return plaintext
}

func (r *AccountRepo) DeleteByUserID(ctx context.Context, userID string) (bool, error) {
	tag, err := r.pool.Exec(ctx, `DELETE FROM accounts WHERE user_id = $1`, userID)
	if err != nil {
		return false, &domain.StorageError{Op: "delete account", Err: err}
	}
	return tag.RowsAffected() > 0, nil
}

// ConnectionStatus never touches the token columns; it is the one read path
// safe to expose to an untrusted client.
func (r *AccountRepo) ConnectionStatus(ctx context.Context, userID string) (*domain.ConnectionStatus, error) {
	var (
		urn, ghUser, scopes *string
		expiresAt           *time.Time
	)

	err := r.pool.QueryRow(ctx, `
		SELECT linkedin_urn, github_username, expires_at, scopes
		FROM accounts WHERE user_id = $1
	`, userID).Scan(&urn, &ghUser, &expiresAt, &scopes)
	if errors.Is(err, pgx.ErrNoRows) {
		return &domain.ConnectionStatus{}, nil
	}
	if err != nil {
		return nil, &domain.StorageError{Op: "connection status", Err: err}
	}

	return &domain.ConnectionStatus{
		LinkedInConnected: deref(urn) != "",
		SubjectURN:        deref(urn),
		GitHubConnected:   deref(ghUser) != "",
		GitHubUsername:    deref(ghUser),
		ExpiresAt:         expiresAt,
		Scopes:            deref(scopes),
	}, nil
}

// SaveGitHub attaches the optional secondary GitHub connection to an existing
// account row. A tenant must connect LinkedIn before storing a GitHub PAT.
func (r *AccountRepo) SaveGitHub(ctx context.Context, userID, username, token string) error {
	encToken, err := r.encryptNullable(token)
	if err != nil {
		return err
	}

	tag, err := r.pool.Exec(ctx, `
		UPDATE accounts
		SET github_username = $1, github_access_token = $2, updated_at = NOW()
		WHERE user_id = $3
	`, username, encToken, userID)
	if err != nil {
		return &domain.StorageError{Op: "save github credentials", Err: err}
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrNoCredential
	}
	return nil
}
