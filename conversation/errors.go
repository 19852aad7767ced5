package conversation

import (
	"encoding/json"
	"fmt"
)

// StateError reports a method called in the wrong Conversation state.
type StateError struct {
	Method string
	State  State
}

func (e *StateError) Error() string {
	return fmt.Sprintf("conversation: %s invalid in state %s", e.Method, e.State)
}

// HandshakeError reports that the server rejected the client's handshake
// version.
type HandshakeError struct {
	OfferedVersions []string
}

func (e *HandshakeError) Error() string {
	return "conversation: server rejected handshake"
}

// ServerMessageErrorKind enumerates the one-of reasons in spec §7.
type ServerMessageErrorKind string

const (
	ParseError       ServerMessageErrorKind = "parseError"
	SchemaViolation  ServerMessageErrorKind = "schemaViolation"
	DeltaViolation   ServerMessageErrorKind = "deltaViolation"
	FeedDataMismatch ServerMessageErrorKind = "feedData"
	UnexpectedState  ServerMessageErrorKind = "unexpectedState"
)

// ServerMessageError reports that the server sent a malformed or
// unexpected message; it always carries the raw message that triggered
// it (spec §7).
type ServerMessageError struct {
	Kind          ServerMessageErrorKind
	ServerMessage string
	Detail        error
}

func (e *ServerMessageError) Error() string {
	if e.Detail != nil {
		return fmt.Sprintf("conversation: server message error (%s): %v", e.Kind, e.Detail)
	}
	return fmt.Sprintf("conversation: server message error (%s)", e.Kind)
}

func (e *ServerMessageError) Unwrap() error { return e.Detail }

// ResponseTimeoutError reports no response arrived within the configured
// window; ClientMessage is a frozen copy of the client message that timed
// out.
type ResponseTimeoutError struct {
	TimerName     string
	ClientMessage string
}

func (e *ResponseTimeoutError) Error() string {
	return fmt.Sprintf("conversation: response timeout waiting on %s", e.TimerName)
}

// ViolationResponseError reports the server told the client it violated
// the Protocol.
type ViolationResponseError struct {
	ServerDiagnostics json.RawMessage
}

func (e *ViolationResponseError) Error() string {
	return "conversation: server reported a protocol violation"
}

// RejectionError reports the server returned failure for an action or a
// feed open.
type RejectionError struct {
	ServerErrorCode string
	ServerErrorData json.RawMessage
}

func (e *RejectionError) Error() string {
	return fmt.Sprintf("conversation: server rejected request: %s", e.ServerErrorCode)
}

// TerminationError reports the server terminated an open feed.
type TerminationError struct {
	ServerErrorCode string
	ServerErrorData json.RawMessage
}

func (e *TerminationError) Error() string {
	return fmt.Sprintf("conversation: feed terminated: %s", e.ServerErrorCode)
}
