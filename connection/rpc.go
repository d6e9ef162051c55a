package connection

import (
	"context"
	"strconv"
	"time"

	"github.com/DarsheeeGamer/NetConduit/protocol"
)

// Result is the uniform envelope a Call resolves to. Success carries Data;
// failure carries the error text, code, and optional details.
type Result struct {
	Success       bool
	Data          any
	Error         string
	Code          int
	Details       map[string]any
	CorrelationID string
}

// AsError converts a failed envelope into an error. A successful envelope
// yields nil.
func (r *Result) AsError() error {
	if r.Success {
		return nil
	}

	return &RPCCallError{Message: r.Error, Code: r.Code, Details: r.Details}
}

// Call performs a correlated RPC round trip: allocate a correlation id,
// enqueue the request, and await the matching response up to timeout (0
// selects the configured rpc timeout).
//
// A timeout releases the pending slot before returning so a late response
// cannot complete a foreign call. A connection failure completes the call
// with ErrConnectionLost.
func (c *Connection) Call(ctx context.Context, method string, params map[string]any, timeout time.Duration) (*Result, error) {
	if !c.dataStateOK() {
		return nil, ErrNotConnected
	}

	if timeout <= 0 {
		timeout = c.opts.RPCTimeout
	}

	payload, err := protocol.EncodeBody(protocol.RPCRequest{Method: method, Params: params})
	if err != nil {
		return nil, err
	}

	correlation := c.nextCorrelation()
	slot := c.pending.create(correlation)

	frame := protocol.NewFrame(protocol.TypeRPCRequest, correlation, payload)
	if err := c.enqueue(ctx, frame); err != nil {
		c.pending.remove(correlation)
		return nil, err
	}

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case res := <-slot:
		if res.err != nil {
			return nil, res.err
		}

		return decodeEnvelope(res.frame)

	case <-timer.C:
		c.pending.remove(correlation)
		return nil, ErrRPCTimeout

	case <-ctx.Done():
		c.pending.remove(correlation)
		return nil, ctx.Err()

	case <-c.ctx.Done():
		c.pending.remove(correlation)
		return nil, ErrConnectionLost
	}
}

// PendingCalls returns how many RPC calls are awaiting responses.
func (c *Connection) PendingCalls() int {
	return c.pending.size()
}

func decodeEnvelope(frame *protocol.Frame) (*Result, error) {
	correlationID := strconv.FormatUint(frame.Correlation, 10)

	if frame.Type == protocol.TypeRPCResponse {
		var body protocol.RPCResponse
		if err := protocol.DecodeBody(frame.Payload, &body); err != nil {
			return nil, err
		}

		return &Result{
			Success:       true,
			Data:          body.Result,
			CorrelationID: correlationID,
		}, nil
	}

	var body protocol.RPCError
	if err := protocol.DecodeBody(frame.Payload, &body); err != nil {
		return nil, err
	}

	return &Result{
		Success:       false,
		Error:         body.Error,
		Code:          body.Code,
		Details:       body.Details,
		CorrelationID: correlationID,
	}, nil
}
