package crypto

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"strings"
)

// TagPrefix marks a value as encrypted. Values without it are treated as
// legacy plaintext, which is what makes first-access migration possible.
const TagPrefix = "ENC:"

// ErrKeyUnavailable is returned when a tagged value is read but no
// encryption key is configured.
var ErrKeyUnavailable = errors.New("encryption key not configured")

type Service interface {
	// Encrypt turns a secret into its at-rest representation. On failure the
	// original plaintext is returned alongside the error so a write can still
	// proceed (availability over confidentiality).
	Encrypt(plaintext string) (string, error)
	// Decrypt reverses Encrypt. Untagged input is legacy plaintext and is
	// returned as-is. A tagged value that fails authentication yields "".
	Decrypt(value string) (string, error)
	// Enabled reports whether values are actually encrypted at rest.
	Enabled() bool
}

// IsTagged reports whether a value carries the encryption tag.
func IsTagged(value string) bool {
	return strings.HasPrefix(value, TagPrefix)
}

const maskPlaceholder = "••••••••"

// Mask produces a display-safe rendering of a secret. It never reverses
// encryption; the output must not be treated as a credential.
func Mask(value string) string {
	if value == "" {
		return ""
	}
	if IsTagged(value) || len(value) <= 16 {
		return maskPlaceholder
	}
	return value[:8] + "..." + value[len(value)-4:]
}

// NoopService passes tokens through without encryption (dev/test mode).
type NoopService struct{}

func (NoopService) Encrypt(plaintext string) (string, error) { return plaintext, nil }

func (NoopService) Decrypt(value string) (string, error) {
	if IsTagged(value) {
		return "", ErrKeyUnavailable
	}
	return value, nil
}

func (NoopService) Enabled() bool { return false }

type AesGcmService struct {
	gcm cipher.AEAD
}

func NewAesGcmService(hexKey string) (*AesGcmService, error) {
	key, err := hex.DecodeString(hexKey)
	if err != nil {
		return nil, fmt.Errorf("invalid encryption key hex: %w", err)
	}
	if len(key) != 32 {
		return nil, fmt.Errorf("encryption key must be 32 bytes, got %d", len(key))
	}

	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("failed to create cipher: %w", err)
	}

	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("failed to create GCM: %w", err)
	}

	return &AesGcmService{gcm: gcm}, nil
}

func (c *AesGcmService) Encrypt(plaintext string) (string, error) {
	if plaintext == "" {
		return "", nil
	}

	nonce := make([]byte, c.gcm.NonceSize())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return plaintext, fmt.Errorf("failed to generate nonce: %w", err)
	}

	// Seal appends the encrypted data to nonce, returning nonce || ciphertext || tag
	ciphertext := c.gcm.Seal(nonce, nonce, []byte(plaintext), nil)
	return TagPrefix + hex.EncodeToString(ciphertext), nil
}

func (c *AesGcmService) Decrypt(value string) (string, error) {
	if value == "" {
		return "", nil
	}
	if !IsTagged(value) {
		// Legacy plaintext row, caller migrates it.
		return value, nil
	}

	buffer, err := hex.DecodeString(strings.TrimPrefix(value, TagPrefix))
	if err != nil {
		return "", errors.New("failed to decode stored token")
	}

	nonceSize := c.gcm.NonceSize()
	if len(buffer) < nonceSize {
		return "", errors.New("stored token too short")
	}

	nonce, cipherBytes := buffer[:nonceSize], buffer[nonceSize:]
	plainBytes, err := c.gcm.Open(nil, nonce, cipherBytes, nil)
	if err != nil {
		// Wrong key or tampering. Fail secure without leaking material.
		return "", errors.New("failed to authenticate stored token")
	}

	return string(plainBytes), nil
}

func (c *AesGcmService) Enabled() bool { return true }
