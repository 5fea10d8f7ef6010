package types

import "context"

// --- Core Domain Types ---

// UserIDType is the short opaque identifier naming a logical user. It is
// stable across reconnects for the lifetime of its reconnect token.
type UserIDType string

// TokenType is the opaque reconnect token handed to a client on its first
// connect. Presenting it on a later connect reclaims the same identity.
type TokenType string

// RoomIDType is the opaque identifier of a pair-room.
type RoomIDType string

// RoleType is the deterministic role of a room member in the WebRTC
// offer/answer handshake.
type RoleType string

const (
	// RoleTypeInitiator generates the first session description.
	RoleTypeInitiator RoleType = "initiator"
	// RoleTypeResponder waits for an offer and replies with an answer.
	RoleTypeResponder RoleType = "responder"
)

// --- Shared Interfaces ---

// ClientConn is the behavior the registry requires from a connected socket.
// The transport package implements it; the registry only ever holds a handle
// and enqueues best-effort writes through it. A send to a closed or slow
// client must never block or fail the caller.
type ClientConn interface {
	Send(v any)          // marshal and enqueue a single server event
	SendRaw(data []byte) // enqueue a pre-serialized event (broadcast fan-out)
	Disconnect()         // force-close the underlying socket
}

// EventPublisher is the optional ops-event sink (Redis bus). All methods are
// fire-and-forget from the registry's point of view.
type EventPublisher interface {
	Publish(ctx context.Context, event string, payload any) error
	Ping(ctx context.Context) error
	Close() error
}
