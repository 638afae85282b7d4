package wallet

import (
	"errors"

	"github.com/yolodolo42/wcwallet/internal/session"
)

var (
	// ErrUnknownAddress is returned when no signer is registered for an
	// address. It is never retried.
	ErrUnknownAddress = errors.New("unknown address")

	// ErrSignTimeout is returned when the remote signer does not answer
	// within the sign timeout.
	ErrSignTimeout = errors.New("sign request timed out")

	// ErrSessionClosed aliases the session sentinel so callers of this
	// package need not import session.
	ErrSessionClosed = session.ErrSessionClosed
)
