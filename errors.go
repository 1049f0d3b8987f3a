package gateway

import (
	"errors"
	"fmt"
)

var (
	ErrNotFound                 = errors.New("not found")
	ErrDuplicateObjectReference = errors.New("duplicate object reference")
	ErrDuplicateIdentifier      = errors.New("duplicate identifier")
	ErrNotConfigured            = errors.New("session not configured")
	ErrUnsupportedType          = errors.New("unsupported data class type")
	ErrForwardRejected          = errors.New("command rejected by owning system")
	ErrForwardTimeout           = errors.New("owning system did not answer in time")
	ErrNoForwarder              = errors.New("no control forwarder registered")
	ErrExchangeMapFrozen        = errors.New("exchange map is frozen")
)

// ConfigurationError reports a bad or incomplete configuration. It is fatal to
// Configure and leaves the session unconfigured.
type ConfigurationError struct {
	Op  string
	Err error
}

func (e *ConfigurationError) Error() string {
	return fmt.Sprintf("configuration error in %s: %v", e.Op, e.Err)
}

func (e *ConfigurationError) Unwrap() error {
	return e.Err
}

func configError(op string, err error) error {
	return &ConfigurationError{Op: op, Err: err}
}

// ResolutionError reports an identifier or object reference that has no mapping.
type ResolutionError struct {
	ID  string
	Err error
}

func (e *ResolutionError) Error() string {
	return fmt.Sprintf("cannot resolve %q: %v", e.ID, e.Err)
}

func (e *ResolutionError) Unwrap() error {
	return e.Err
}

// SessionError is an unrecoverable session fault, such as a failed TLS setup or
// a model that cannot be loaded. Context describes what the session was doing.
type SessionError struct {
	Context string
	Err     error
}

func (e *SessionError) Error() string {
	if e.Err == nil {
		return e.Context
	}
	return fmt.Sprintf("%s: %v", e.Context, e.Err)
}

func (e *SessionError) Unwrap() error {
	return e.Err
}
