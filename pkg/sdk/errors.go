package sdk

import (
	"errors"
	"fmt"
)

// Error categories, matched with errors.Is.
var (
	// ErrTransport reports a network or HTTP-layer failure.
	ErrTransport = errors.New("transport error")
	// ErrProtocol reports a handshake response that is missing an expected
	// header or is malformed.
	ErrProtocol = errors.New("protocol error")
	// ErrAuthenticationRejected reports that the server denied the credentials.
	ErrAuthenticationRejected = errors.New("authentication rejected")
	// ErrValidation reports that the server's simulate step rejected a removal.
	ErrValidation = errors.New("validation error")
	// ErrNotFound reports an absent folder or resource.
	ErrNotFound = errors.New("not found")
)

var (
	ErrKeyLoad              = errors.New("unable to read private key")
	ErrKeyDecrypt           = errors.New("unable to decrypt private key")
	ErrServerVerifyMismatch = fmt.Errorf("%w: server verify token mismatch", ErrAuthenticationRejected)
	ErrMissingTokens        = fmt.Errorf("%w: access or refresh token missing", ErrProtocol)
	ErrLoginFailed          = fmt.Errorf("%w: login failed", ErrAuthenticationRejected)
	ErrLoginAborted         = fmt.Errorf("%w: mfa verification failed, login aborted", ErrAuthenticationRejected)
	ErrLogoutFailed         = fmt.Errorf("%w: logout failed", ErrTransport)
	ErrFolderNotFound       = fmt.Errorf("%w: folder", ErrNotFound)
)

// StatusError is returned when the server answers with an unexpected HTTP status.
type StatusError struct {
	Op         string
	StatusCode int
	Body       string
}

func (e *StatusError) Error() string {
	if e.Body == "" {
		return fmt.Sprintf("%s: unexpected status %d", e.Op, e.StatusCode)
	}
	return fmt.Sprintf("%s: unexpected status %d: %s", e.Op, e.StatusCode, e.Body)
}

func (e *StatusError) Is(target error) bool {
	return target == ErrTransport
}

// EntityError records a failure confined to a single folder or resource during a
// revocation cascade.
type EntityError struct {
	Kind  EntityKind
	ID    string
	Name  string
	Stage string
	Err   error
}

func (e *EntityError) Error() string {
	return fmt.Sprintf("%s %s (%s) at %s: %v", e.Kind, e.ID, e.Name, e.Stage, e.Err)
}

func (e *EntityError) Unwrap() error {
	return e.Err
}
