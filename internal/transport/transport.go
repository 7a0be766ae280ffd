// Package transport supplies concrete backends for the three
// transport-agnostic traits named in spec §9: a Broadcaster for
// server→client EntityUpdate replication, a CommandSender/
// CommandReceiver pair for client→server EntityCommand fire-and-forget, and a
// RequestResponder for the admin-gated ServiceManager request/response
// channel. The Orchestrator depends only on these interfaces; swapping
// gorilla/websocket or gin for another backend never touches core
// package code.
package transport

import "context"

// Broadcaster sends a fire-and-forget message to every connected
// client on channel. Used for EntityUpdate replication packets.
type Broadcaster interface {
	Broadcast(channel string, msg any) error
}

// CommandSender issues a fire-and-forget EntityCommand from a client
// to the server. No-op (or unimplemented) on a server-role transport.
type CommandSender interface {
	SendCommand(entityID, command string, args ...any) error
}

// CommandHandler processes an inbound EntityCommand on the server
// side.
type CommandHandler func(entityID string, args []any)

// CommandReceiver lets the server side register per-entity/command
// handlers for inbound EntityCommand messages.
type CommandReceiver interface {
	RegisterCommandHandler(entityID, command string, handler CommandHandler)
}

// RequestHandler answers a named ServiceManager request.
type RequestHandler func(ctx context.Context, args ...any) (any, error)

// RequestResponder is the admin-gated request/response channel: a
// server registers named handlers, a client issues requests and
// blocks for a reply or timeout.
type RequestResponder interface {
	RegisterHandler(name string, handler RequestHandler)
	Request(ctx context.Context, name string, args ...any) (any, error)
}
