package transport

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/strangermesh/roulette/backend/go/internal/v1/logging"
	"github.com/strangermesh/roulette/backend/go/internal/v1/metrics"
	"github.com/strangermesh/roulette/backend/go/internal/v1/ratelimit"
	"github.com/strangermesh/roulette/backend/go/internal/v1/registry"
	"github.com/strangermesh/roulette/backend/go/internal/v1/types"
)

// Hub owns the WebSocket entry point. Identity, matchmaking and room state
// all live in the registry; the Hub's job is the HTTP boundary: rate limit,
// origin check, upgrade, then hand the socket to a Client.
type Hub struct {
	registry       Router
	rateLimiter    *ratelimit.RateLimiter
	allowedOrigins []string
	devMode        bool // disables connect rate limiting
}

// NewHub creates a Hub with its dependencies.
func NewHub(reg Router, rateLimiter *ratelimit.RateLimiter, allowedOrigins []string, devMode bool) *Hub {
	return &Hub{
		registry:       reg,
		rateLimiter:    rateLimiter,
		allowedOrigins: allowedOrigins,
		devMode:        devMode,
	}
}

// ServeWs upgrades the HTTP request and attaches the socket to an identity.
//
// The "hello" of the protocol is implicit in the upgrade request: a client
// reclaiming an identity puts its reconnect token in the `token` query
// parameter; the first frames the new socket receives are the greeting
// events enqueued by the registry during Attach.
func (h *Hub) ServeWs(c *gin.Context) {
	if !h.devMode && h.rateLimiter != nil {
		if !h.rateLimiter.CheckWebSocket(c) {
			return // response already written
		}
	}

	if err := validateOrigin(c.Request, h.allowedOrigins); err != nil {
		c.JSON(http.StatusForbidden, gin.H{"error": "origin not allowed"})
		return
	}

	conn, err := h.upgradeWebSocket(c)
	if err != nil {
		return
	}

	presented := types.TokenType(c.Query("token"))
	h.HandleConnection(conn, presented)
}

// HandleConnection takes an established socket, attaches it and starts the
// pumps. Split from ServeWs so tests can drive it with a mock connection.
func (h *Hub) HandleConnection(conn wsConnection, presented types.TokenType) *Client {
	client := &Client{
		conn:     conn,
		send:     make(chan []byte, 256),
		registry: h.registry,
	}

	res := h.registry.Attach(client, presented)
	if res.UserID == "" {
		// Registry is shutting down; refuse the socket.
		_ = conn.Close()
		return nil
	}
	client.userID = res.UserID

	metrics.IncConnection()
	logging.Info(context.Background(), "Socket attached",
		zap.String("user_id", string(res.UserID)),
		zap.Bool("reconnected", res.Reconnected),
		zap.Bool("token_rejected", res.TokenRejected))

	go client.writePump()
	go client.readPump()
	return client
}

// Shutdown delegates to the registry, which closes every attached socket.
func (h *Hub) Shutdown(ctx context.Context) error {
	logging.Info(ctx, "Shutting down Hub - closing all sockets")
	if reg, ok := h.registry.(*registry.Registry); ok {
		return reg.Shutdown(ctx)
	}
	return nil
}
