package session

import (
	"errors"
	"fmt"
)

var (
	ErrNotReady             = errors.New("identity not assigned yet")
	ErrNoPendingConnection  = errors.New("no pending connection from that peer")
	ErrNotHost              = errors.New("not hosting")
	ErrHosting              = errors.New("already hosting")
	ErrUnexpectedConnection = errors.New("unexpected inbound connection")
	ErrClosed               = errors.New("session closed")
	ErrAlreadyInitialized   = errors.New("session already initialized")
	ErrHostClosed           = errors.New("host closed the link before it opened")
)

// Error is a failed session operation, optionally tied to a peer.
type Error struct {
	Op      string
	PeerID  string
	Err     error
	Details string
}

func (e *Error) Error() string {
	if e.PeerID != "" {
		return fmt.Sprintf("%s %s: %v", e.Op, e.PeerID, e.Err)
	}
	if e.Details != "" {
		return fmt.Sprintf("%s: %v (%s)", e.Op, e.Err, e.Details)
	}
	return fmt.Sprintf("%s: %v", e.Op, e.Err)
}

func (e *Error) Unwrap() error {
	return e.Err
}

func NewError(op string, err error) *Error {
	return &Error{Op: op, Err: err}
}

func NewPeerError(op, peerID string, err error) *Error {
	return &Error{Op: op, PeerID: peerID, Err: err}
}

func WrapError(op string, err error, details string) *Error {
	return &Error{Op: op, Err: err, Details: details}
}
