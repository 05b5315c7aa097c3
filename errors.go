package signalr

import (
	"context"
	"errors"
	"fmt"
	"strings"
)

// HubError is the root of the client's error taxonomy, implemented by
// AuthorizationError, ConnectionError, NegotiationFailure and ServerError.
// Run and Send can also return errors outside it, such as context errors,
// ErrConnectionClosed, or a send timeout.
type HubError interface {
	error
	hubError()
}

// AuthorizationError is returned when negotiate responds with HTTP 401.
// It is fatal: the caller must fix credentials before retrying.
type AuthorizationError struct {
	URL string
}

func (e *AuthorizationError) Error() string {
	return fmt.Sprintf("signalr: negotiate unauthorized: %s", e.URL)
}

func (*AuthorizationError) hubError() {}

// ConnectionError is returned when negotiate responds with an unexpected
// status code other than 200 or 401.
type ConnectionError struct {
	URL    string
	Status int
}

func (e *ConnectionError) Error() string {
	return fmt.Sprintf("signalr: negotiate failed for %s: status %d", e.URL, e.Status)
}

func (*ConnectionError) hubError() {}

// NegotiationFailure wraps a negotiate-phase I/O error. It is retried by
// the transport's outer loop up to the configured retry budget; once the
// budget is exhausted it is surfaced to the caller of Run.
type NegotiationFailure struct {
	Attempt int
	Err     error
}

func (e *NegotiationFailure) Error() string {
	return fmt.Sprintf("signalr: negotiation attempt %d failed: %v", e.Attempt, e.Err)
}

func (e *NegotiationFailure) Unwrap() error { return e.Err }

func (*NegotiationFailure) hubError() {}

// ServerError is a protocol-level failure reported by the server: a Close
// message carrying an error, an InvocationBindingFailure, a non-empty
// HandshakeResponse.Error, an error Completion with no OnError sink
// registered, or a message of unknown type.
//
// Fatal marks the errors that end Run immediately with no reconnect (a
// handshake-time rejection, an error Completion with no sink, an unknown
// message type); the rest, such as a Close-with-error received after the
// connection was established, are soft and trigger the normal reconnect
// path.
type ServerError struct {
	Message string
	Fatal   bool
}

func (e *ServerError) Error() string {
	return fmt.Sprintf("signalr: server error: %s", e.Message)
}

func (*ServerError) hubError() {}

// errProgrammer marks errors caused by misuse of the client API rather
// than by the network or the server (e.g. Send called before the socket
// has ever connected).
type errProgrammer struct {
	msg string
}

func (e *errProgrammer) Error() string { return "signalr: " + e.msg }

// ErrConnectionClosed is returned by Send when the socket is not open.
var ErrConnectionClosed = errors.New("signalr: connection closed")

// ErrDuplicateCompletion wraps the error dispatch returns when a Completion
// arrives for an invocation id that matches neither a pending invocation
// nor a stream (including a second Completion for an id already resolved).
// Callers can match it with errors.Is. It terminates the current
// connection and triggers the normal reconnect path.
var ErrDuplicateCompletion = errors.New("signalr: duplicate completion for invocation id")

// Error categories used only for log fields, never for control flow.
const (
	ErrCatNetwork    = "network"
	ErrCatTimeout    = "timeout"
	ErrCatAuth       = "auth"
	ErrCatProtocol   = "protocol"
	ErrCatCancelled  = "cancelled"
	ErrCatServer     = "server_error"
	ErrCatUnknown    = "unknown"
)

// CategorizeError inspects an error and returns a coarse category string,
// used for structured log fields when a failure occurs on the transport.
func CategorizeError(err error) string {
	if err == nil {
		return ""
	}

	if errors.Is(err, context.DeadlineExceeded) {
		return ErrCatTimeout
	}
	if errors.Is(err, context.Canceled) {
		return ErrCatCancelled
	}

	var authErr *AuthorizationError
	if errors.As(err, &authErr) {
		return ErrCatAuth
	}
	var srvErr *ServerError
	if errors.As(err, &srvErr) {
		return ErrCatServer
	}

	msg := err.Error()

	if strings.Contains(msg, "timeout") || strings.Contains(msg, "deadline exceeded") {
		return ErrCatTimeout
	}
	if strings.Contains(msg, "unmarshal") || strings.Contains(msg, "json:") ||
		strings.Contains(msg, "invalid character") || strings.Contains(msg, "decode") {
		return ErrCatProtocol
	}
	if strings.Contains(msg, "connection refused") || strings.Contains(msg, "no such host") ||
		strings.Contains(msg, "dial tcp") || strings.Contains(msg, "EOF") ||
		strings.Contains(msg, "connection reset") || strings.Contains(msg, "broken pipe") ||
		strings.Contains(msg, "websocket: close") {
		return ErrCatNetwork
	}

	return ErrCatUnknown
}
