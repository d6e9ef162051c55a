package protocol

import (
	"fmt"

	"github.com/vmihailenco/msgpack/v5"
)

// Payload shapes per message type. These are the MessagePack objects the
// wire carries; the header knows nothing about them.

// PeerInfo identifies one end of a connection.
type PeerInfo struct {
	Name    string `msgpack:"name"`
	Version string `msgpack:"version"`
}

// AuthRequest opens the handshake. The hash is hex-encoded SHA-256 of the
// shared secret.
type AuthRequest struct {
	PasswordHash string   `msgpack:"password_hash"`
	ClientInfo   PeerInfo `msgpack:"client_info"`
}

type AuthSuccess struct {
	SessionToken string   `msgpack:"session_token"`
	ServerInfo   PeerInfo `msgpack:"server_info"`
}

type AuthFailure struct {
	Reason       string `msgpack:"reason"`
	RetryAllowed bool   `msgpack:"retry_allowed"`
}

// MessageBody is the payload of a free-form MESSAGE frame.
type MessageBody struct {
	Type string         `msgpack:"type"`
	Data map[string]any `msgpack:"data"`
}

type RPCRequest struct {
	Method string         `msgpack:"method"`
	Params map[string]any `msgpack:"params"`
}

type RPCResponse struct {
	Success bool `msgpack:"success"`
	Result  any  `msgpack:"result"`
}

type RPCError struct {
	Success bool           `msgpack:"success"`
	Error   string         `msgpack:"error"`
	Code    int            `msgpack:"code,omitempty"`
	Details map[string]any `msgpack:"details,omitempty"`
}

// Heartbeat is shared by PING and PONG; PONG mirrors the PING it answers.
type Heartbeat struct {
	Nonce int64 `msgpack:"nonce,omitempty"`
}

type Disconnect struct {
	Reason string `msgpack:"reason,omitempty"`
}

// ErrorBody is the payload of a fatal ERROR frame.
type ErrorBody struct {
	Message string `msgpack:"message"`
	Code    int    `msgpack:"code,omitempty"`
}

// EncodeBody serialises a payload object to MessagePack.
func EncodeBody(v any) ([]byte, error) {
	b, err := msgpack.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("Failed to encode payload: %w", err)
	}

	return b, nil
}

// DecodeBody parses a MessagePack payload into v.
func DecodeBody(b []byte, v any) error {
	if err := msgpack.Unmarshal(b, v); err != nil {
		return fmt.Errorf("Failed to decode payload: %w", err)
	}

	return nil
}
