package connection

import (
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/DarsheeeGamer/NetConduit/protocol"
	"github.com/DarsheeeGamer/NetConduit/transport"
)

var (
	ErrAuthTimeout       = errors.New("Authentication timed out waiting for the peer")
	ErrAlreadyAuthed     = errors.New("Connection has already completed authentication")
	ErrUnexpectedFrame   = errors.New("Peer sent an unexpected frame during authentication")
	errPasswordMismatch  = errors.New("Password hash does not match")
)

// HashPassword derives the hex SHA-256 digest the handshake carries. The
// on-wire contract is a plain digest of the shared secret; operators deploy
// on trusted networks or wrap the transport in TLS at a lower layer.
func HashPassword(password string) string {
	sum := sha256.Sum256([]byte(password))
	return hex.EncodeToString(sum[:])
}

// Authenticate runs the handshake for this connection's role. It is the
// only code that moves AUTHENTICATING -> CONNECTED, and it may run at most
// once per connection; failure is terminal.
func (c *Connection) Authenticate() error {
	if c.authenticated.Load() {
		return ErrAlreadyAuthed
	}

	var err error
	if c.role == RoleClient {
		err = c.authenticateClient()
	} else {
		err = c.authenticateServer()
	}

	if err != nil {
		c.fail(err)
		return err
	}

	c.authenticated.Store(true)

	if err := c.transition(StateConnected); err != nil {
		return err
	}

	return nil
}

// authenticateClient sends AUTH_REQUEST and waits for the verdict.
func (c *Connection) authenticateClient() error {
	request := protocol.AuthRequest{
		PasswordHash: HashPassword(c.opts.Password),
		ClientInfo:   c.opts.Info,
	}

	if err := c.writeAuthFrame(protocol.TypeAuthRequest, request); err != nil {
		return err
	}

	frame, err := c.readAuthFrame()
	if err != nil {
		return err
	}

	switch frame.Type {
	case protocol.TypeAuthSuccess:
		var body protocol.AuthSuccess
		if err := protocol.DecodeBody(frame.Payload, &body); err != nil {
			return err
		}

		c.sessionToken = body.SessionToken
		c.log.Info("Authenticated with server",
			zap.String("server", body.ServerInfo.Name),
			zap.String("serverVersion", body.ServerInfo.Version))
		return nil

	case protocol.TypeAuthFailure:
		var body protocol.AuthFailure
		if err := protocol.DecodeBody(frame.Payload, &body); err != nil {
			return err
		}

		return &AuthError{Reason: body.Reason, RetryAllowed: body.RetryAllowed}

	default:
		return fmt.Errorf("Got %s while waiting for the auth verdict: %w",
			frame.Type, ErrUnexpectedFrame)
	}
}

// authenticateServer reads exactly one frame, verifies the hash, and
// replies with the verdict.
func (c *Connection) authenticateServer() error {
	frame, err := c.readAuthFrame()
	if err != nil {
		return err
	}

	if frame.Type != protocol.TypeAuthRequest {
		c.rejectAuth("expected AUTH_REQUEST")
		return fmt.Errorf("Got %s instead of AUTH_REQUEST: %w", frame.Type, ErrUnexpectedFrame)
	}

	var request protocol.AuthRequest
	if err := protocol.DecodeBody(frame.Payload, &request); err != nil {
		c.rejectAuth("malformed AUTH_REQUEST payload")
		return err
	}

	if request.PasswordHash != HashPassword(c.opts.Password) {
		c.rejectAuth("invalid credentials")
		c.log.Warn("Rejected client with bad credentials",
			zap.String("client", request.ClientInfo.Name))
		return errPasswordMismatch
	}

	c.sessionToken = uuid.NewString()

	success := protocol.AuthSuccess{
		SessionToken: c.sessionToken,
		ServerInfo:   c.opts.Info,
	}

	if err := c.writeAuthFrame(protocol.TypeAuthSuccess, success); err != nil {
		return err
	}

	c.log.Info("Client authenticated",
		zap.String("client", request.ClientInfo.Name),
		zap.String("clientVersion", request.ClientInfo.Version))

	return nil
}

// rejectAuth emits AUTH_FAILURE on a best-effort basis; the connection is
// about to fail either way.
func (c *Connection) rejectAuth(reason string) {
	failure := protocol.AuthFailure{Reason: reason, RetryAllowed: false}
	_ = c.writeAuthFrame(protocol.TypeAuthFailure, failure)
}

// writeAuthFrame writes directly to the transport: the handshake happens
// before the send loop exists.
func (c *Connection) writeAuthFrame(t protocol.MessageType, body any) error {
	payload, err := protocol.EncodeBody(body)
	if err != nil {
		return err
	}

	buf, err := protocol.EncodeFrame(protocol.NewFrame(t, 0, payload), protocol.EncodeOptions{})
	if err != nil {
		return err
	}

	return c.transport.Write(buf, c.opts.AuthTimeout)
}

// readAuthFrame reads exactly one frame within the auth deadline.
func (c *Connection) readAuthFrame() (*protocol.Frame, error) {
	deadline := time.Now().Add(c.opts.AuthTimeout)

	for {
		frame, err := c.framer.Next()
		if err != nil {
			return nil, err
		}

		if frame != nil {
			return frame, nil
		}

		remaining := time.Until(deadline)
		if remaining <= 0 {
			return nil, ErrAuthTimeout
		}

		data, err := c.transport.Read(remaining)
		if len(data) > 0 {
			c.framer.Feed(data)
		}

		if err != nil {
			if errors.Is(err, transport.ErrTimeout) {
				return nil, ErrAuthTimeout
			}
			return nil, err
		}
	}
}
