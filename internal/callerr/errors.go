// Package callerr defines the closed error taxonomy propagated by the call engine.
package callerr

import (
	"errors"
	"fmt"
)

// Kind is one of the closed set of error categories the engine recognizes.
// The main loop's recovery policy switches on Kind, not on the wrapped error value.
type Kind string

const (
	InvalidCommand    Kind = "invalid_command"
	NegotiationFailed Kind = "negotiation_failed"
	CodecUnsupported  Kind = "codec_unsupported"
	NetworkTransient  Kind = "network_transient"
	NetworkFatal      Kind = "network_fatal"
	ProviderFailure   Kind = "provider_failure"
	FilesystemFailure Kind = "filesystem_failure"
	StorageFailure    Kind = "storage_failure"
	InactivityTimeout Kind = "inactivity_timeout"
	Cancelled         Kind = "cancelled"
	PeerGone          Kind = "peer_gone"
	ProtocolViolation Kind = "protocol_violation"
	ConfigError       Kind = "config_error"
	Internal          Kind = "internal"
)

// CallError wraps an underlying error with a taxonomy Kind and a retry hint.
type CallError struct {
	Kind      Kind
	Err       error
	Retryable bool
}

func (e *CallError) Error() string {
	if e.Err == nil {
		return string(e.Kind)
	}
	return fmt.Sprintf("%s: %v", e.Kind, e.Err)
}

func (e *CallError) Unwrap() error { return e.Err }

// New wraps err with kind. A nil err still produces a usable sentinel-like error.
func New(kind Kind, err error) *CallError {
	return &CallError{Kind: kind, Err: err}
}

// Retry marks a CallError as subject to a provider's retry budget.
func Retry(kind Kind, err error) *CallError {
	return &CallError{Kind: kind, Err: err, Retryable: true}
}

// KindOf extracts the Kind from err, defaulting to Internal when err does not
// wrap a *CallError.
func KindOf(err error) Kind {
	var ce *CallError
	if errors.As(err, &ce) {
		return ce.Kind
	}
	return Internal
}

// IsTerminal reports whether kind should surface to a terminal hangup rather
// than a retry: NegotiationFailed, NetworkFatal, PeerGone, InactivityTimeout,
// Cancelled.
func IsTerminal(kind Kind) bool {
	switch kind {
	case NegotiationFailed, NetworkFatal, PeerGone, InactivityTimeout, Cancelled:
		return true
	default:
		return false
	}
}
