// Package crypto provides encryption services for credentials at rest.
//
// Implements AES-256-GCM encryption for OAuth tokens stored in PostgreSQL.
// Encrypted values carry an "ENC:" tag so legacy plaintext rows remain
// distinguishable. Two implementations: AesGcmService (production) and
// NoopService (dev/test plaintext passthrough).
package crypto
