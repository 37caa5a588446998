// Package chaterr is the gateway error taxonomy. Every rejection that reaches
// a client is a *Error; its Code is what the client sees.
package chaterr

import (
	"github.com/pkg/errors"
)

type Kind string

const (
	KindAuth          Kind = "AuthError"
	KindValidation    Kind = "ValidationError"
	KindAuthorization Kind = "AuthorizationError"
	KindConflict      Kind = "ConflictError"
	KindNotFound      Kind = "NotFoundError"
	KindStorage       Kind = "StorageError"
)

type Error struct {
	Kind    Kind
	Reason  string
	Message string
	Err     error
}

func (e *Error) Code() string {
	return string(e.Kind) + ":" + e.Reason
}

func (e *Error) Error() string {
	if e.Err != nil {
		return e.Code() + ": " + e.Message + ": " + e.Err.Error()
	}
	return e.Code() + ": " + e.Message
}

func (e *Error) Unwrap() error { return e.Err }

// Is matches on kind and reason so that wrapped copies of a sentinel still
// compare equal to it. A target without a reason matches the whole kind.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return t.Kind == e.Kind && (t.Reason == "" || t.Reason == e.Reason)
}

// Wrap returns a copy of e carrying cause.
func (e *Error) Wrap(cause error) *Error {
	c := *e
	c.Err = cause
	return &c
}

var (
	ErrMissingCredential = &Error{Kind: KindAuth, Reason: "MissingCredential", Message: "Token missing"}
	ErrInvalidOrExpired  = &Error{Kind: KindAuth, Reason: "InvalidOrExpired", Message: "Authentication failed"}
	ErrUnknownUser       = &Error{Kind: KindAuth, Reason: "UnknownUser", Message: "User not found"}

	ErrInvalidPayload = &Error{Kind: KindValidation, Reason: "InvalidPayload", Message: "Invalid payload"}

	ErrNotAMember = &Error{Kind: KindAuthorization, Reason: "NotAMember", Message: "You are not a member of this room"}
	ErrNotAllowed = &Error{Kind: KindAuthorization, Reason: "NotAllowed", Message: "You are not allowed to add members"}

	ErrRoomExists    = &Error{Kind: KindConflict, Reason: "RoomExists", Message: "Room already exists"}
	ErrAlreadyMember = &Error{Kind: KindConflict, Reason: "AlreadyMember", Message: "User already in room"}

	ErrRoomMissing    = &Error{Kind: KindNotFound, Reason: "RoomMissing", Message: "Room not found"}
	ErrUserMissing    = &Error{Kind: KindNotFound, Reason: "UserMissing", Message: "User does not exist"}
	ErrMessageMissing = &Error{Kind: KindNotFound, Reason: "MessageMissing", Message: "Message not found"}

	ErrStorage = &Error{Kind: KindStorage, Reason: "Unavailable", Message: "Storage unavailable, try again"}
)

// Storage classifies an unexpected store failure. op names the store call.
func Storage(err error, op string) *Error {
	return ErrStorage.Wrap(errors.WithMessage(err, op))
}

// As extracts the taxonomy error from err, if any.
func As(err error) (*Error, bool) {
	var e *Error
	if errors.As(err, &e) {
		return e, true
	}
	return nil, false
}

// KindOf reports the taxonomy kind of err, or "" when err is not classified.
func KindOf(err error) Kind {
	if e, ok := As(err); ok {
		return e.Kind
	}
	return ""
}
