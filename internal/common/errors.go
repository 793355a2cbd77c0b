// Package common defines shared constants and sentinel errors used across
// the vault's services, repositories and transport. Callers should use
// errors.Is to match these values.
package common

import "errors"

var (
	// Repository-level errors.
	ErrorNotFound      = errors.New("not found")
	ErrorAlreadyExists = errors.New("already exists")

	// Service-level errors (generic/internal flow control).
	ErrorInternal     = errors.New("internal error")
	ErrorUnauthorized = errors.New("unauthorized")
	ErrorForbidden    = errors.New("forbidden")

	// Input validation (bad filename, bad suffix, oversized upload,
	// malformed credentials). Always recoverable, surfaced to the caller.
	ErrorValidation = errors.New("validation error")

	// ErrorCrypto marks an authenticated decryption, unseal or signature
	// verification failure: either data corruption or tampering. Recoverable
	// per request, but must be logged loudly.
	ErrorCrypto = errors.New("crypto error")

	// ErrorStorage marks a blob storage I/O failure.
	ErrorStorage = errors.New("storage error")
)
