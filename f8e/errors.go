package f8e

import (
	"errors"
	"fmt"
)

// ErrorClass groups remote errors by how callers must react to them.
type ErrorClass uint8

const (
	// ClassNetwork covers transport failures and timeouts. The request
	// may or may not have reached the server and can be retried.
	ClassNetwork ErrorClass = iota

	// ClassServer covers 5xx responses.
	ClassServer

	// ClassClient covers generic 4xx responses, including rejected
	// authentication.
	ClassClient

	// ClassSpecificClient covers 4xx responses that carry an endpoint
	// specific error code.
	ClassSpecificClient
)

// String returns a human readable name for the class.
func (c ErrorClass) String() string {
	switch c {
	case ClassNetwork:
		return "network"
	case ClassServer:
		return "server"
	case ClassClient:
		return "client"
	case ClassSpecificClient:
		return "specific-client"
	default:
		return "unknown"
	}
}

// ErrorCode is an endpoint specific error code.
type ErrorCode string

const (
	// CodeNoRecoveryExists is returned when cancelling a recovery that
	// the server does not have. The desired end state is reached.
	CodeNoRecoveryExists ErrorCode = "NO_RECOVERY_EXISTS"

	// CodeCommsVerificationRequired is returned when a cancellation must
	// first be confirmed out of band.
	CodeCommsVerificationRequired ErrorCode = "COMMS_VERIFICATION_REQUIRED"

	// CodeUnauthorized is returned when a key is not accepted for
	// authentication.
	CodeUnauthorized ErrorCode = "UNAUTHORIZED"

	// CodeInvitationExpired is returned when accepting an expired
	// invitation.
	CodeInvitationExpired ErrorCode = "INVITATION_EXPIRED"

	// CodeRelationshipAlreadyEstablished is returned when an invitation
	// was already accepted.
	CodeRelationshipAlreadyEstablished ErrorCode = "RELATIONSHIP_ALREADY_" +
		"ESTABLISHED"

	// CodeChallengeExpired is returned when responding to an expired
	// recovery challenge.
	CodeChallengeExpired ErrorCode = "CHALLENGE_EXPIRED"
)

// Error is an error returned by the remote server or the transport in front
// of it.
type Error struct {
	// Class is the error class.
	Class ErrorClass

	// Code is set for ClassSpecificClient errors.
	Code ErrorCode

	// Err is the underlying cause, if any.
	Err error
}

// Error implements the error interface.
func (e *Error) Error() string {
	switch {
	case e.Code != "" && e.Err != nil:
		return fmt.Sprintf("f8e %v error %v: %v", e.Class, e.Code,
			e.Err)
	case e.Code != "":
		return fmt.Sprintf("f8e %v error %v", e.Class, e.Code)
	case e.Err != nil:
		return fmt.Sprintf("f8e %v error: %v", e.Class, e.Err)
	default:
		return fmt.Sprintf("f8e %v error", e.Class)
	}
}

// Unwrap returns the underlying cause.
func (e *Error) Unwrap() error {
	return e.Err
}

// NewNetworkError wraps a transport failure.
func NewNetworkError(err error) *Error {
	return &Error{Class: ClassNetwork, Err: err}
}

// NewServerError wraps a 5xx response.
func NewServerError(err error) *Error {
	return &Error{Class: ClassServer, Err: err}
}

// NewClientError wraps a generic 4xx response.
func NewClientError(err error) *Error {
	return &Error{Class: ClassClient, Err: err}
}

// NewSpecificClientError creates a 4xx error carrying code.
func NewSpecificClientError(code ErrorCode) *Error {
	return &Error{Class: ClassSpecificClient, Code: code}
}

// AsError extracts an *Error from err.
func AsError(err error) (*Error, bool) {
	var fErr *Error
	if errors.As(err, &fErr) {
		return fErr, true
	}

	return nil, false
}

// IsRetryable reports whether err is a network class error.
func IsRetryable(err error) bool {
	fErr, ok := AsError(err)

	return ok && fErr.Class == ClassNetwork
}

// HasCode reports whether err is a specific client error with the given
// code.
func HasCode(err error, code ErrorCode) bool {
	fErr, ok := AsError(err)

	return ok && fErr.Class == ClassSpecificClient && fErr.Code == code
}

// IsAuthoritativeRejection reports whether err is a 4xx response. Such errors
// are final answers from the server rather than failures to reach it.
func IsAuthoritativeRejection(err error) bool {
	fErr, ok := AsError(err)
	if !ok {
		return false
	}

	return fErr.Class == ClassClient || fErr.Class == ClassSpecificClient
}
