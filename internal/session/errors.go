package session

import "errors"

var (
	// ErrTransportUnavailable means the relay could not be reached. The
	// current negotiation is over; callers may retry with a new one.
	ErrTransportUnavailable = errors.New("relay transport unavailable")
	// ErrNegotiationTimeout means no session was approved in time.
	ErrNegotiationTimeout = errors.New("session negotiation timed out")
	// ErrNegotiationRejected means the remote party declined the session.
	ErrNegotiationRejected = errors.New("session negotiation rejected")
	// ErrSessionClosed is returned for any use of a session after teardown.
	ErrSessionClosed = errors.New("session closed")
	// ErrRequestRejected wraps an error returned by the remote signer.
	ErrRequestRejected = errors.New("request rejected by remote signer")

	ErrInvalidConfig    = errors.New("invalid negotiation config")
	ErrAlreadyInitiated = errors.New("negotiation already initiated")
	ErrNotInitiated     = errors.New("negotiation not initiated")
)
