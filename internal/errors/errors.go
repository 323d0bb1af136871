// Package errors provides structured error types for the chat relay.
package errors

import (
	"errors"
	"fmt"
)

// Sentinel errors for the relay failure taxonomy.
var (
	// ErrNotFound signals an unknown session or workspace.
	ErrNotFound = errors.New("resource not found")

	// ErrConfiguration signals missing or invalid workspace credentials,
	// an unsupported service type, or a missing team scope.
	ErrConfiguration = errors.New("invalid configuration")

	// ErrChannelCreation signals that first-message channel provisioning
	// failed. The session keeps no channel id in that case.
	ErrChannelCreation = errors.New("channel creation failed")

	// ErrMessageDelivery signals that relaying a message to the provider
	// channel failed.
	ErrMessageDelivery = errors.New("message delivery failed")
)

// ProviderError wraps an opaque upstream provider failure with context.
// The raw provider text is logged server-side only; callers surface a
// generic message to clients.
type ProviderError struct {
	Provider string // "slack" or "mattermost"
	Op       string // provider operation, e.g. "conversations.create"
	Err      error
}

func (e *ProviderError) Error() string {
	return fmt.Sprintf("%s %s: %v", e.Provider, e.Op, e.Err)
}

func (e *ProviderError) Unwrap() error { return e.Err }

// NewProviderError wraps an upstream error with provider and operation context.
func NewProviderError(provider, op string, err error) *ProviderError {
	return &ProviderError{Provider: provider, Op: op, Err: err}
}

// IsProvider reports whether err is (or wraps) a ProviderError.
func IsProvider(err error) bool {
	var pe *ProviderError
	return errors.As(err, &pe)
}
