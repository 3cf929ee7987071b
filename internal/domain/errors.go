package domain

import (
	"errors"
	"fmt"
)

var (
	// ErrNotFound indicates resource not found
	ErrNotFound = errors.New("resource not found")
	// ErrForbidden indicates the resource exists but belongs to someone else
	ErrForbidden = errors.New("forbidden")
	// ErrInvalidRequest indicates invalid request
	ErrInvalidRequest = errors.New("invalid request")
	// ErrUnauthorized indicates unauthorized access
	ErrUnauthorized = errors.New("unauthorized")
	// ErrRateLimited indicates rate limit exceeded
	ErrRateLimited = errors.New("rate limit exceeded")
	// ErrConversationBusy indicates a send is already in flight for the conversation
	ErrConversationBusy = errors.New("conversation is busy")

	ErrInvalidMode      = errors.New("invalid training mode")
	ErrInvalidParameter = errors.New("invalid parameter")
	ErrDuplicateKey     = errors.New("duplicate key")
	ErrTransport        = errors.New("transport error")
)

// InvalidModeError is returned when a training mode is not one of auto, chunk or qa.
type InvalidModeError struct {
	Mode string
}

func (e *InvalidModeError) Error() string {
	return fmt.Sprintf("invalid training mode %q", e.Mode)
}

func (e *InvalidModeError) Is(target error) bool { return target == ErrInvalidMode }

// InvalidParameterError reports misuse of the chunking functions.
type InvalidParameterError struct {
	Name   string
	Reason string
}

func (e *InvalidParameterError) Error() string {
	return fmt.Sprintf("invalid parameter %s: %s", e.Name, e.Reason)
}

func (e *InvalidParameterError) Is(target error) bool { return target == ErrInvalidParameter }

// DuplicateKeyError is returned when a history entry with the same key already exists.
type DuplicateKeyError struct {
	Key string
}

func (e *DuplicateKeyError) Error() string {
	return fmt.Sprintf("duplicate key: %s", e.Key)
}

func (e *DuplicateKeyError) Is(target error) bool { return target == ErrDuplicateKey }

// TransportError wraps a network or timeout failure during a streamed exchange.
type TransportError struct {
	Op  string
	Err error
}

func (e *TransportError) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("transport %s failed", e.Op)
	}
	return fmt.Sprintf("transport %s: %v", e.Op, e.Err)
}

func (e *TransportError) Unwrap() error { return e.Err }

func (e *TransportError) Is(target error) bool { return target == ErrTransport }
