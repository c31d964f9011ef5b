package database

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/cliff-de-tech/Post-Bot/internal/crypto"
	"github.com/cliff-de-tech/Post-Bot/internal/domain"
)

// createTestAccount saves an account with default values for testing.
func createTestAccount(t *testing.T, repo *AccountRepo, userID, urn string) *domain.Account {
	t.Helper()

	expiry := time.Now().UTC().Add(1 * time.Hour)
	account, err := repo.Save(context.Background(), domain.SaveAccountParams{
		UserID:       userID,
		SubjectURN:   urn,
		AccessToken:  "access-token-" + userID,
		RefreshToken: "refresh-token-" + userID,
		ExpiresAt:    &expiry,
		Scopes:       "openid,profile,w_member_social",
	})
	require.NoError(t, err)

	return account
}

// insertLegacyAccount writes a plaintext row directly, bypassing the
// repository, to simulate data that predates encryption.
func insertLegacyAccount(t *testing.T, repo *AccountRepo, userID, urn, accessToken, refreshToken string) {
	t.Helper()

	_, err := repo.pool.Exec(context.Background(), `
		INSERT INTO accounts (user_id, linkedin_urn, access_token, refresh_token, expires_at, scopes, is_encrypted)
		VALUES ($1, $2, $3, $4, NOW() + INTERVAL '1 hour', 'openid', 0)
	`, userID, urn, accessToken, refreshToken)
	require.NoError(t, err)
}

// rawTokenRow reads the stored token columns without decryption.
func rawTokenRow(t *testing.T, repo *AccountRepo, userID string) (accessToken, refreshToken string, isEncrypted int16) {
	t.Helper()

	var access, refresh *string
	var enc *int16
	err := repo.pool.QueryRow(context.Background(),
		`SELECT access_token, refresh_token, is_encrypted FROM accounts WHERE user_id = $1`, userID,
	).Scan(&access, &refresh, &enc)
	require.NoError(t, err)

	if enc != nil {
		isEncrypted = *enc
	}
	return deref(access), deref(refresh), isEncrypted
}

func truncateAccounts(t *testing.T, repo *AccountRepo) {
	t.Helper()
	_, err := repo.pool.Exec(context.Background(), `TRUNCATE accounts`)
	require.NoError(t, err)
}

func newTestRepo(t *testing.T) *AccountRepo {
	t.Helper()

	svc, err := crypto.NewAesGcmService(testEncryptionKey)
	require.NoError(t, err)

	repo := NewAccountRepo(testPool, svc)
	truncateAccounts(t, repo)
	return repo
}
