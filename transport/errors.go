package transport

import (
	"fmt"

	pkgerrors "github.com/pkg/errors"
)

// TransportError indicates the transport violated its contract: an event
// fired in an invalid state, with invalid arguments, or otherwise outside
// what §4.1's validation rules allow. TransportErr, when non-nil, is the
// original value the transport itself threw/returned (e.g. from a
// spontaneous disconnecting(err) callback).
type TransportError struct {
	Reason       string
	TransportErr error
}

func (e *TransportError) Error() string {
	if e.TransportErr != nil {
		return fmt.Sprintf("transport violation: %s: %v", e.Reason, e.TransportErr)
	}
	return fmt.Sprintf("transport violation: %s", e.Reason)
}

func (e *TransportError) Unwrap() error { return e.TransportErr }

func newTransportError(reason string, cause error) *TransportError {
	return &TransportError{Reason: reason, TransportErr: cause}
}

// ConnectionError reports that the connection was lost or never
// established. It wraps a *TransportError when the loss originated in a
// transport-contract violation, or carries no cause for a plain timeout.
type ConnectionError struct {
	Message string
	Cause   error
}

func (e *ConnectionError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("connection error: %s: %v", e.Message, e.Cause)
	}
	return fmt.Sprintf("connection error: %s", e.Message)
}

func (e *ConnectionError) Unwrap() error { return e.Cause }

// newConnectionError builds the ConnectionError the Harness synthesizes
// from a spontaneous disconnecting(terr) transport event, distinguishing
// "could not connect" (previous state CONNECTING) from "connection
// failed" (previous state CONNECTED), per spec §4.1.
func newConnectionError(wasConnecting bool, terr error) *ConnectionError {
	msg := "connection failed"
	if wasConnecting {
		msg = "could not connect"
	}
	var cause error
	if terr != nil {
		cause = pkgerrors.Wrap(newTransportError("spontaneous disconnect", terr), msg)
	}
	return &ConnectionError{Message: msg, Cause: cause}
}
