package connection

import (
	"errors"
	"fmt"
)

// Error codes surfaced in RPC envelopes and client errors.
const (
	CodeHandlerError     = 1001
	CodeValidationError  = 2000
	CodeAuthFailed       = 3001
	CodeMethodNotFound   = 4000
	CodeInvalidParams    = 4001
	CodeNotConnected     = 5000
	CodeRPCTimeout       = 5001
	CodeRateLimited      = 6000
)

var (
	// ErrNotConnected is returned for send/receive attempts outside the
	// sendable states.
	ErrNotConnected = errors.New("Connection is not in a state that accepts traffic")

	// ErrConnectionLost completes pending RPC calls when the connection
	// dies underneath them.
	ErrConnectionLost = errors.New("Connection was lost")

	// ErrRPCTimeout is returned when a call's deadline passes with no
	// response frame.
	ErrRPCTimeout = errors.New("RPC call timed out")

	// ErrHeartbeatTimeout fails the connection when the peer stops
	// answering pings.
	ErrHeartbeatTimeout = errors.New("Heartbeat deadline exceeded")

	// ErrAuthViolation fails the connection when AUTH frames arrive after
	// authentication has completed.
	ErrAuthViolation = errors.New("Authentication frame received after authentication completed")
)

// AuthError is the terminal authentication failure surfaced to callers.
type AuthError struct {
	Reason       string
	RetryAllowed bool
}

func (e *AuthError) Error() string {
	return fmt.Sprintf("Authentication failed: %s", e.Reason)
}

// RPCCallError carries an RPC_ERROR envelope for callers that prefer an
// error to inspecting the envelope.
type RPCCallError struct {
	Message string
	Code    int
	Details map[string]any
}

func (e *RPCCallError) Error() string {
	if e.Code != 0 {
		return fmt.Sprintf("RPC call failed with code %d: %s", e.Code, e.Message)
	}

	return fmt.Sprintf("RPC call failed: %s", e.Message)
}
