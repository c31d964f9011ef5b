// Package domain defines the core domain types and interfaces.
//
// Contains the Account record, the AccountRepository contract, and the error
// kinds shared across the credential store, the authorization flow, and the
// HTTP layer. No implementation code - just contracts. Keeping interfaces
// here, on the consumer side, prevents circular imports.
package domain
