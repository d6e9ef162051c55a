package router

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"go.uber.org/zap"

	"github.com/DarsheeeGamer/NetConduit/connection"
	"github.com/DarsheeeGamer/NetConduit/protocol"
)

// ListallMethod is the built-in discovery method every router serves.
const ListallMethod = "listall"

// MessageHandler consumes a free-form message. A non-nil return value is
// sent back to the peer as a MESSAGE frame mirroring the inbound type tag
// and correlation id.
type MessageHandler func(ctx context.Context, conn *connection.Connection, data map[string]any) (map[string]any, error)

// RPCFunc implements one RPC method. The returned value is wrapped in the
// success envelope; an error becomes an RPC_ERROR envelope.
type RPCFunc func(ctx context.Context, conn *connection.Connection, params map[string]any) (any, error)

type messageEntry struct {
	handler  MessageHandler
	priority int
	seq      int
}

type rpcEntry struct {
	fn          RPCFunc
	schema      Schema
	description string
}

// Router is the name-keyed dispatch table for message types and RPC
// methods. Registration usually happens during startup, but the table is
// safe for concurrent registration and dispatch; readers work on
// snapshots.
type Router struct {
	mu       sync.RWMutex
	messages map[string][]messageEntry
	methods  map[string]rpcEntry
	seq      int

	log *zap.Logger
}

// New returns an empty router with listall pre-registered.
func New(log *zap.Logger) *Router {
	if log == nil {
		log = zap.NewNop()
	}

	r := &Router{
		messages: make(map[string][]messageEntry),
		methods:  make(map[string]rpcEntry),
		log:      log.Named("router"),
	}

	r.RegisterRPC(ListallMethod, r.listall, Schema{}, "List every registered RPC method with its parameter schema")

	return r
}

// OnMessage registers a handler for a message type tag with priority 0.
// Registering the same (type, priority) again replaces the prior handler.
func (r *Router) OnMessage(msgType string, handler MessageHandler) {
	r.OnMessageWithPriority(msgType, handler, 0)
}

// OnMessageWithPriority registers a prioritised handler. Priorities order
// handlers within one type tag only: the highest priority handler runs
// first and its return value is the authoritative response. Delivery order
// across distinct type tags is never affected.
func (r *Router) OnMessageWithPriority(msgType string, handler MessageHandler, priority int) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.seq++

	entries := r.messages[msgType]
	for i, e := range entries {
		if e.priority == priority {
			entries[i].handler = handler
			return
		}
	}

	entries = append(entries, messageEntry{handler: handler, priority: priority, seq: r.seq})

	sort.SliceStable(entries, func(i, j int) bool {
		return entries[i].priority > entries[j].priority
	})

	r.messages[msgType] = entries
}

// RegisterRPC registers a method. Duplicate names replace the prior entry.
func (r *Router) RegisterRPC(name string, fn RPCFunc, schema Schema, description string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.methods[name] = rpcEntry{fn: fn, schema: schema, description: description}
}

// Dispatch routes one inbound message. It runs on a connection dispatch
// worker, so handler latency never blocks the receive loop. Handler panics
// and errors are captured here: RPC handler failures become RPC_ERROR
// envelopes, message handler failures are logged. They never propagate
// upward.
func (r *Router) Dispatch(ctx context.Context, conn *connection.Connection, msg *connection.Message) {
	switch msg.Kind {
	case protocol.TypeMessage:
		r.dispatchMessage(ctx, conn, msg)
	case protocol.TypeRPCRequest:
		r.dispatchRPC(ctx, conn, msg)
	default:
		r.log.Debug("Ignoring non-routable message kind", zap.Stringer("kind", msg.Kind))
	}
}

func (r *Router) dispatchMessage(ctx context.Context, conn *connection.Connection, msg *connection.Message) {
	var body protocol.MessageBody
	if err := protocol.DecodeBody(msg.Payload, &body); err != nil {
		r.log.Warn("Dropping undecodable message", zap.Error(err))
		return
	}

	r.mu.RLock()
	entries := append([]messageEntry(nil), r.messages[body.Type]...)
	r.mu.RUnlock()

	if len(entries) == 0 {
		r.log.Debug("No handler for message type", zap.String("type", body.Type))
		return
	}

	var (
		response   map[string]any
		responded  bool
	)

	for i, entry := range entries {
		result, err := r.invokeMessage(ctx, entry.handler, conn, body.Data)
		if err != nil {
			r.log.Warn("Message handler failed",
				zap.String("type", body.Type),
				zap.Error(err))
			continue
		}

		// The highest priority handler's return value is authoritative.
		if i == 0 && result != nil {
			response = result
			responded = true
		}
	}

	if responded {
		if err := conn.Reply(ctx, msg.Correlation, body.Type, response); err != nil {
			r.log.Warn("Failed to send message response",
				zap.String("type", body.Type),
				zap.Error(err))
		}
	}
}

func (r *Router) invokeMessage(ctx context.Context, handler MessageHandler, conn *connection.Connection, data map[string]any) (result map[string]any, err error) {
	defer func() {
		if rec := recover(); rec != nil {
			err = fmt.Errorf("Handler panicked: %v", rec)
		}
	}()

	return handler(ctx, conn, data)
}

func (r *Router) dispatchRPC(ctx context.Context, conn *connection.Connection, msg *connection.Message) {
	var request protocol.RPCRequest
	if err := protocol.DecodeBody(msg.Payload, &request); err != nil {
		r.sendError(ctx, conn, msg.Correlation, protocol.RPCError{
			Error: "malformed RPC request payload",
			Code:  connection.CodeValidationError,
		})
		return
	}

	r.mu.RLock()
	entry, ok := r.methods[request.Method]
	r.mu.RUnlock()

	if !ok {
		r.sendError(ctx, conn, msg.Correlation, protocol.RPCError{
			Error: fmt.Sprintf("method %q is not registered", request.Method),
			Code:  connection.CodeMethodNotFound,
		})
		return
	}

	if err := entry.schema.Validate(request.Params); err != nil {
		r.sendError(ctx, conn, msg.Correlation, protocol.RPCError{
			Error:   err.Error(),
			Code:    connection.CodeInvalidParams,
			Details: map[string]any{"method": request.Method},
		})
		return
	}

	result, err := r.invokeRPC(ctx, entry.fn, conn, request.Params)
	if err != nil {
		r.sendError(ctx, conn, msg.Correlation, protocol.RPCError{
			Error: err.Error(),
			Code:  connection.CodeHandlerError,
		})
		return
	}

	if err := conn.SendRPCResponse(ctx, msg.Correlation, result); err != nil {
		r.log.Warn("Failed to send RPC response",
			zap.String("method", request.Method),
			zap.Error(err))
	}
}

func (r *Router) invokeRPC(ctx context.Context, fn RPCFunc, conn *connection.Connection, params map[string]any) (result any, err error) {
	defer func() {
		if rec := recover(); rec != nil {
			err = fmt.Errorf("Handler panicked: %v", rec)
		}
	}()

	return fn(ctx, conn, params)
}

func (r *Router) sendError(ctx context.Context, conn *connection.Connection, correlation uint64, rpcErr protocol.RPCError) {
	if err := conn.SendRPCError(ctx, correlation, rpcErr); err != nil {
		r.log.Warn("Failed to send RPC error", zap.Error(err))
	}
}

// MethodInfo is one entry in the listall result.
type MethodInfo struct {
	Name        string  `msgpack:"name" json:"name"`
	Description string  `msgpack:"description" json:"description"`
	Parameters  []Param `msgpack:"parameters" json:"parameters"`
}

// Methods returns discovery metadata for every registered method, sorted
// by name.
func (r *Router) Methods() []MethodInfo {
	r.mu.RLock()
	defer r.mu.RUnlock()

	infos := make([]MethodInfo, 0, len(r.methods))
	for name, entry := range r.methods {
		params := entry.schema.Params
		if params == nil {
			params = []Param{}
		}

		infos = append(infos, MethodInfo{
			Name:        name,
			Description: entry.description,
			Parameters:  params,
		})
	}

	sort.Slice(infos, func(i, j int) bool { return infos[i].Name < infos[j].Name })

	return infos
}

func (r *Router) listall(ctx context.Context, conn *connection.Connection, params map[string]any) (any, error) {
	return r.Methods(), nil
}
