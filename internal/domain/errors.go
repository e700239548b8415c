package domain

import (
	"errors"
	"fmt"
)

// Error types for consistent error handling across the service.
// Only ErrNotFound and ErrRateLimited escape a sync attempt; everything past
// the lock acquisition is captured in the SyncResult instead.

// ErrNotFound indicates a resource was not found.
type ErrNotFound struct {
	Resource string
	ID       string
}

func (e *ErrNotFound) Error() string {
	return fmt.Sprintf("%s not found: %s", e.Resource, e.ID)
}

// RateLimitReason distinguishes why a sync attempt was blocked. All reasons
// surface as the same error kind; the reason is preserved for logging.
type RateLimitReason string

const (
	ReasonSyncInFlight     RateLimitReason = "sync_in_flight"
	ReasonProviderCooldown RateLimitReason = "provider_cooldown"
	ReasonAccountCooldown  RateLimitReason = "account_cooldown"
)

// ErrRateLimited indicates a concurrency or cooldown rule blocked the sync
// before any work started. No state was mutated.
type ErrRateLimited struct {
	Provider Provider
	Reason   RateLimitReason
}

func (e *ErrRateLimited) Error() string {
	switch e.Reason {
	case ReasonSyncInFlight:
		return fmt.Sprintf("another %s sync is already in flight", e.Provider)
	case ReasonProviderCooldown:
		return fmt.Sprintf("%s was synced within the cooldown window", e.Provider)
	case ReasonAccountCooldown:
		return "account was synced within the cooldown window"
	default:
		return "sync rate limited"
	}
}

// ErrValidation indicates a validation error (bad input).
type ErrValidation struct {
	Field   string
	Message string
}

func (e *ErrValidation) Error() string {
	return fmt.Sprintf("validation error on '%s': %s", e.Field, e.Message)
}

// ErrExternalService indicates a failure in an external service call.
type ErrExternalService struct {
	Service string
	Err     error
}

func (e *ErrExternalService) Error() string {
	return fmt.Sprintf("external service error [%s]: %v", e.Service, e.Err)
}

func (e *ErrExternalService) Unwrap() error {
	return e.Err
}

// ErrCircuitOpen indicates the circuit breaker is open.
type ErrCircuitOpen struct {
	Service string
}

func (e *ErrCircuitOpen) Error() string {
	return fmt.Sprintf("circuit breaker open for service: %s", e.Service)
}

// ErrUnauthorized indicates a missing or invalid token.
type ErrUnauthorized struct {
	Message string
}

func (e *ErrUnauthorized) Error() string {
	return e.Message
}

// ErrForbidden indicates the caller is authenticated but not allowed.
type ErrForbidden struct {
	Message string
}

func (e *ErrForbidden) Error() string {
	return e.Message
}

// Stable error keys for classified provider failures. The orchestrator
// persists the key instead of the raw provider text so a presentation layer
// can translate it.
const (
	ErrKeyInvalidCredentials         = "invalid_credentials"
	ErrKeyBillingExportNotConfigured = "billing_export_not_configured"
)

// ErrProvider is a classified provider adapter failure carrying a stable key.
type ErrProvider struct {
	Key string
	Err error
}

func (e *ErrProvider) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("provider error [%s]: %v", e.Key, e.Err)
	}
	return fmt.Sprintf("provider error [%s]", e.Key)
}

func (e *ErrProvider) Unwrap() error {
	return e.Err
}

// SyncErrorKey flattens a backfill failure into the string stored on the
// account: the stable key for classified provider errors, the raw message
// otherwise.
func SyncErrorKey(err error) string {
	var provErr *ErrProvider
	if errors.As(err, &provErr) {
		return provErr.Key
	}
	return err.Error()
}
