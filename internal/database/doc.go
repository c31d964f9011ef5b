// Package database provides PostgreSQL connectivity and the credential store.
//
// Uses pgx for connection pooling and tern for embedded migrations. The
// AccountRepo is the sole owner of the accounts table: it encrypts tokens on
// write, decrypts on read, and upgrades legacy plaintext rows in place using
// a conditional update that stays correct under concurrent first access.
package database
