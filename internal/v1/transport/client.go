package transport

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/strangermesh/roulette/backend/go/internal/v1/logging"
	"github.com/strangermesh/roulette/backend/go/internal/v1/metrics"
	"github.com/strangermesh/roulette/backend/go/internal/v1/protocol"
	"github.com/strangermesh/roulette/backend/go/internal/v1/registry"
	"github.com/strangermesh/roulette/backend/go/internal/v1/types"
)

// wsConnection defines the interface for WebSocket connection operations.
// In production this is *websocket.Conn; tests substitute a mock to simulate
// errors and disconnects.
type wsConnection interface {
	ReadMessage() (messageType int, p []byte, err error) // Read the next message from the connection
	WriteMessage(messageType int, data []byte) error     // Write a message to the connection
	Close() error                                        // Close the connection
	SetWriteDeadline(t time.Time) error
}

// Client owns one socket. It implements types.ClientConn for the registry.
//
// Two goroutines per client: readPump decodes inbound frames and routes them,
// writePump drains the buffered send channel. The registry enqueues into the
// channel and never touches the socket directly, so a slow or dead peer can
// never block a registry operation; when the buffer fills, frames are dropped
// (signaling is recoverable by ICE or a re-match).
type Client struct {
	conn     wsConnection
	send     chan []byte
	registry Router

	userID types.UserIDType

	mu        sync.RWMutex
	closed    bool
	closeOnce sync.Once
}

// Router is the slice of registry behavior the transport needs. The concrete
// *registry.Registry satisfies it; tests substitute a recorder.
type Router interface {
	Attach(conn types.ClientConn, presented types.TokenType) registry.AttachResult
	Detach(userID types.UserIDType, conn types.ClientConn)
	FindPartner(userID types.UserIDType, conn types.ClientConn, opts registry.MatchOpts)
	JoinRoom(userID types.UserIDType, conn types.ClientConn, roomID types.RoomIDType) registry.JoinResult
	Skip(userID types.UserIDType, conn types.ClientConn)
	Relay(userID types.UserIDType, conn types.ClientConn, kind string, payload json.RawMessage)
	RequestReoffer(userID types.UserIDType, conn types.ClientConn)
}

// Send marshals a server event and enqueues it, best effort.
func (c *Client) Send(v any) {
	data := protocol.Encode(v)
	if data == nil {
		logging.Error(context.Background(), "Failed to marshal server event",
			zap.String("user_id", string(c.userID)))
		return
	}
	c.SendRaw(data)
}

// SendRaw enqueues a pre-serialized event, best effort. A closed client or a
// full buffer drops the frame instead of blocking the caller.
func (c *Client) SendRaw(data []byte) {
	c.mu.RLock()
	if c.closed {
		c.mu.RUnlock()
		logging.GetLogger().Debug("Skipping send to closed client", zap.String("user_id", string(c.userID)))
		return
	}
	c.mu.RUnlock()

	// Safety net against a send racing Disconnect's channel close.
	defer func() {
		if r := recover(); r != nil {
			logging.Warn(context.Background(), "Recovered from send to closing client",
				zap.String("user_id", string(c.userID)), zap.Any("panic", r))
		}
	}()

	select {
	case c.send <- data:
	default:
		logging.Warn(context.Background(), "Client send buffer full - dropping frame",
			zap.String("user_id", string(c.userID)))
	}
}

// Disconnect force-closes the client. Closing the send channel makes
// writePump drain remaining frames, send a close frame and close the socket.
func (c *Client) Disconnect() {
	c.closeOnce.Do(func() {
		c.mu.Lock()
		c.closed = true
		c.mu.Unlock()
		close(c.send)
	})
}

// readPump continuously processes incoming frames until the socket dies,
// then detaches the identity.
func (c *Client) readPump() {
	defer func() {
		c.registry.Detach(c.userID, c)
		c.Disconnect() // releases writePump
		c.conn.Close()
		metrics.DecConnection()
	}()

	for {
		messageType, data, err := c.conn.ReadMessage()
		if err != nil {
			break
		}
		if messageType != websocket.TextMessage {
			continue
		}

		in, err := protocol.Decode(data)
		if err != nil {
			metrics.WebsocketEvents.WithLabelValues("malformed", "ignored").Inc()
			logging.GetLogger().Debug("Dropping malformed frame",
				zap.String("user_id", string(c.userID)), zap.Error(err))
			continue
		}

		c.route(in)
	}
}

func (c *Client) writePump() {
	defer c.conn.Close()
	writeWait := 10 * time.Second

	for message := range c.send {
		_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
		if err := c.conn.WriteMessage(websocket.TextMessage, message); err != nil {
			logging.GetLogger().Debug("error writing message", zap.Error(err))
			return
		}
	}
	_ = c.conn.WriteMessage(websocket.CloseMessage, []byte{})
}

// route dispatches one decoded frame to the registry. Unknown types are
// counted and ignored, never fatal to the socket.
func (c *Client) route(in *protocol.Inbound) {
	start := time.Now()
	status := "ok"

	switch in.Type {
	case protocol.TypeFindPartner:
		c.registry.FindPartner(c.userID, c, registry.MatchOpts{
			AudioEnabled: in.AudioEnabled,
			VideoEnabled: in.VideoEnabled,
		})

	case protocol.TypeJoinRoom:
		if in.Room == "" {
			status = "missing_field"
			break
		}
		res := c.registry.JoinRoom(c.userID, c, types.RoomIDType(in.Room))
		if res.OK {
			c.Send(protocol.RoomJoined{
				Type:      protocol.TypeRoomJoined,
				Room:      res.Room,
				Role:      res.Role,
				PartnerID: res.PartnerID,
			})
		} else {
			c.Send(protocol.JoinFailed{Type: protocol.TypeJoinFailed, Reason: res.FailReason})
		}

	case protocol.TypeSkip:
		c.registry.Skip(c.userID, c)

	case protocol.TypeOffer:
		if len(in.Offer) == 0 {
			status = "missing_field"
			break
		}
		c.registry.Relay(c.userID, c, protocol.TypeOffer, in.Offer)

	case protocol.TypeAnswer:
		if len(in.Answer) == 0 {
			status = "missing_field"
			break
		}
		c.registry.Relay(c.userID, c, protocol.TypeAnswer, in.Answer)

	case protocol.TypeICECandidate:
		if len(in.Candidate) == 0 {
			status = "missing_field"
			break
		}
		c.registry.Relay(c.userID, c, protocol.TypeICECandidate, in.Candidate)

	case protocol.TypeRequestReoffer:
		c.registry.RequestReoffer(c.userID, c)

	default:
		status = "unknown_type"
		logging.GetLogger().Debug("Unknown frame type",
			zap.String("user_id", string(c.userID)), zap.String("type", in.Type))
	}

	metrics.WebsocketEvents.WithLabelValues(in.Type, status).Inc()
	metrics.MessageProcessingDuration.WithLabelValues(in.Type).Observe(time.Since(start).Seconds())
}
