package relay

import (
	"context"
	"errors"
	"fmt"

	"github.com/ethereum/go-ethereum/rpc"
	"github.com/yolodolo42/wcwallet/internal/session"
)

// JSON-RPC error codes used by the hub.
const (
	codeInvalid       = -32602
	codeRejected      = 4001
	codeUnknownTopic  = 4004
	codeSessionClosed = 4100
	codeExpired       = 4200
)

var ErrMalformedURI = errors.New("malformed pairing uri")

type hubError struct {
	code int
	msg  string
}

func (e *hubError) Error() string  { return e.msg }
func (e *hubError) ErrorCode() int { return e.code }

func errorf(code int, format string, args ...any) error {
	return &hubError{code: code, msg: fmt.Sprintf(format, args...)}
}

// translate maps hub error codes onto the session error taxonomy. Errors that
// did not come from the hub mean the relay itself is unreachable.
func translate(what string, err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return fmt.Errorf("%s: %w", what, err)
	}

	var rpcErr rpc.Error
	if !errors.As(err, &rpcErr) {
		return fmt.Errorf("%s: %w: %v", what, session.ErrTransportUnavailable, err)
	}
	switch rpcErr.ErrorCode() {
	case codeRejected:
		return fmt.Errorf("%s: %w: %v", what, session.ErrRequestRejected, err)
	case codeSessionClosed:
		return fmt.Errorf("%s: %w: %v", what, session.ErrSessionClosed, err)
	case codeExpired:
		return fmt.Errorf("%s: %w: %v", what, context.DeadlineExceeded, err)
	default:
		return fmt.Errorf("%s: %w", what, err)
	}
}
