// Package registry is the authoritative state machine of the signaling
// server: identity tokens, the matchmaking waiting set and queue, and the
// pair-rooms all live here, guarded by one mutex.
//
// Serialization discipline:
// Every mutation of the shared maps happens inside a registry method holding
// r.mu, so no pop-then-notify sequence can interleave with another pairing.
// Notifications are enqueued onto per-client buffered channels while the lock
// is held, which preserves the required orderings (room_assigned before any
// relayed frame, partner_disconnected before room deletion) without ever
// blocking on a peer's socket I/O. Reaper timers re-acquire the lock and
// re-check their predicate before acting, so a cancelled or superseded timer
// firing late is harmless.
package registry

import (
	"container/list"
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"k8s.io/utils/set"

	"github.com/strangermesh/roulette/backend/go/internal/v1/metrics"
	"github.com/strangermesh/roulette/backend/go/internal/v1/types"
)

// token is the server-side record of one logical identity. Exactly one token
// exists per identity while either a socket is attached or a room is
// assigned; the idle reaper removes it once both have been gone for the TTL.
type token struct {
	userID   types.UserIDType
	secret   types.TokenType
	conn     types.ClientConn // nil while detached
	roomID   types.RoomIDType // "" while unpaired
	lastSeen time.Time
	reaper   *time.Timer // pending idle reaper, nil when none
}

// waitingEntry is one slot in the FIFO matchmaking queue.
type waitingEntry struct {
	userID   types.UserIDType
	joinedAt time.Time
}

// member is one side of a pair-room.
type member struct {
	userID    types.UserIDType
	conn      types.ClientConn
	initiator bool
}

// room binds exactly two identities for the duration of one paired session.
type room struct {
	id        types.RoomIDType
	a, b      *member
	createdAt time.Time

	graceReaper *time.Timer // pending post-disconnect reaper, nil when none
	ageReaper   *time.Timer // hard age cap, always set while the room lives
}

// memberOf returns the member record for id, or nil if id is not a member.
func (rm *room) memberOf(id types.UserIDType) *member {
	switch id {
	case rm.a.userID:
		return rm.a
	case rm.b.userID:
		return rm.b
	}
	return nil
}

// partnerOf returns the other member's record, or nil if id is not a member.
func (rm *room) partnerOf(id types.UserIDType) *member {
	switch id {
	case rm.a.userID:
		return rm.b
	case rm.b.userID:
		return rm.a
	}
	return nil
}

// Registry owns the five authoritative maps: tokens by secret, the user
// index, the waiting set, the waiting queue and the rooms map.
type Registry struct {
	mu      sync.Mutex
	tokens  map[types.TokenType]*token
	users   map[types.UserIDType]*token
	waiting set.Set[types.UserIDType]
	queue   *list.List // of waitingEntry, oldest at the front
	rooms   map[types.RoomIDType]*room

	tokenIdleTTL     time.Duration
	roomReconnectTTL time.Duration
	roomMaxAge       time.Duration

	bus types.EventPublisher // optional, may be nil

	startedAt time.Time
	closed    bool
	wg        sync.WaitGroup // outstanding bus publishes
}

// Option customizes a Registry.
type Option func(*Registry)

// WithTimings overrides the lifecycle TTLs. Used by main (from config) and by
// tests that need short windows.
func WithTimings(tokenIdleTTL, roomReconnectTTL, roomMaxAge time.Duration) Option {
	return func(r *Registry) {
		r.tokenIdleTTL = tokenIdleTTL
		r.roomReconnectTTL = roomReconnectTTL
		r.roomMaxAge = roomMaxAge
	}
}

// WithBus attaches the optional ops-event publisher.
func WithBus(bus types.EventPublisher) Option {
	return func(r *Registry) {
		r.bus = bus
	}
}

// New creates an empty Registry with default timings (5m token idle TTL,
// 2m reconnect grace window, 10m hard room age cap).
func New(opts ...Option) *Registry {
	r := &Registry{
		tokens:           make(map[types.TokenType]*token),
		users:            make(map[types.UserIDType]*token),
		waiting:          set.New[types.UserIDType](),
		queue:            list.New(),
		rooms:            make(map[types.RoomIDType]*room),
		tokenIdleTTL:     5 * time.Minute,
		roomReconnectTTL: 2 * time.Minute,
		roomMaxAge:       10 * time.Minute,
		startedAt:        time.Now(),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Counts is a point-in-time snapshot for the health and stats endpoints.
type Counts struct {
	Tokens      int           `json:"tokens"`
	Waiting     int           `json:"waiting"`
	Rooms       int           `json:"rooms"`
	Connections int           `json:"connections"`
	Uptime      time.Duration `json:"uptime"`
}

// Snapshot returns current registry counts.
func (r *Registry) Snapshot() Counts {
	r.mu.Lock()
	defer r.mu.Unlock()
	return Counts{
		Tokens:      len(r.tokens),
		Waiting:     r.waiting.Len(),
		Rooms:       len(r.rooms),
		Connections: r.attachedCountLocked(),
		Uptime:      time.Since(r.startedAt),
	}
}

// attachedCountLocked counts tokens with a live socket.
func (r *Registry) attachedCountLocked() int {
	n := 0
	for _, tok := range r.users {
		if tok.conn != nil {
			n++
		}
	}
	return n
}

// newRoomID mints a short opaque room identifier.
func newRoomID() types.RoomIDType {
	return types.RoomIDType(uuid.NewString()[:8])
}

// newUserID mints a short opaque user identifier.
func newUserID() types.UserIDType {
	return types.UserIDType(uuid.NewString()[:8])
}

// publishEvent fires an ops-bus event without holding the lock. Best effort;
// failures are the bus package's problem.
func (r *Registry) publishEvent(event string, payload any) {
	if r.bus == nil {
		return
	}
	r.wg.Add(1)
	go func() {
		defer r.wg.Done()
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = r.bus.Publish(ctx, event, payload)
	}()
}

// Shutdown stops all pending reapers, force-closes every attached socket and
// waits for in-flight bus publishes. The registry refuses new work afterwards.
func (r *Registry) Shutdown(ctx context.Context) error {
	r.mu.Lock()
	r.closed = true

	for _, tok := range r.tokens {
		if tok.reaper != nil {
			tok.reaper.Stop()
			tok.reaper = nil
		}
	}
	for _, rm := range r.rooms {
		if rm.graceReaper != nil {
			rm.graceReaper.Stop()
			rm.graceReaper = nil
		}
		if rm.ageReaper != nil {
			rm.ageReaper.Stop()
			rm.ageReaper = nil
		}
		metrics.RoomsReaped.WithLabelValues("shutdown").Inc()
	}

	var conns []types.ClientConn
	for _, tok := range r.users {
		if tok.conn != nil {
			conns = append(conns, tok.conn)
		}
	}

	r.tokens = make(map[types.TokenType]*token)
	r.users = make(map[types.UserIDType]*token)
	r.waiting = set.New[types.UserIDType]()
	r.queue.Init()
	r.rooms = make(map[types.RoomIDType]*room)
	r.mu.Unlock()

	for _, c := range conns {
		c.Disconnect()
	}

	done := make(chan struct{})
	go func() {
		defer close(done)
		r.wg.Wait()
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
