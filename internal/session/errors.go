package session

import (
	"errors"
	"fmt"
)

var (
	ErrMediaAccessDenied  = errors.New("media access denied")
	ErrNegotiationFailed  = errors.New("negotiation failed")
	ErrChannelUnavailable = errors.New("signaling channel unavailable")
	ErrInvalidInput       = errors.New("invalid input")
)

type CallError struct {
	Op      string
	Room    string
	Err     error
	Details string
}

func (e *CallError) Error() string {
	if e.Room != "" {
		return fmt.Sprintf("%s %s: %v", e.Op, e.Room, e.Err)
	}
	if e.Details != "" {
		return fmt.Sprintf("%s: %v (%s)", e.Op, e.Err, e.Details)
	}
	return fmt.Sprintf("%s: %v", e.Op, e.Err)
}

func (e *CallError) Unwrap() error {
	return e.Err
}

func NewError(op string, err error) *CallError {
	return &CallError{Op: op, Err: err}
}

func NewRoomError(op, room string, err error) *CallError {
	return &CallError{Op: op, Room: room, Err: err}
}

func WrapError(op string, err error, details string) *CallError {
	return &CallError{Op: op, Err: err, Details: details}
}
