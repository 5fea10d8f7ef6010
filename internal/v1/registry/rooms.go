package registry

import (
	"context"
	"encoding/json"
	"time"

	"go.uber.org/zap"

	"github.com/strangermesh/roulette/backend/go/internal/v1/logging"
	"github.com/strangermesh/roulette/backend/go/internal/v1/metrics"
	"github.com/strangermesh/roulette/backend/go/internal/v1/protocol"
	"github.com/strangermesh/roulette/backend/go/internal/v1/types"
)

// createRoomLocked inserts a fresh room for the two identities, sets their
// tokens' room pointers atomically with the insertion, arms the hard age cap
// and notifies both members. Caller holds r.mu.
func (r *Registry) createRoomLocked(initiator, responder *token) {
	rm := &room{
		id:        newRoomID(),
		a:         &member{userID: initiator.userID, conn: initiator.conn, initiator: true},
		b:         &member{userID: responder.userID, conn: responder.conn},
		createdAt: time.Now(),
	}
	r.rooms[rm.id] = rm
	initiator.roomID = rm.id
	responder.roomID = rm.id

	id := rm.id
	rm.ageReaper = time.AfterFunc(r.roomMaxAge, func() {
		r.reapAgedRoom(id)
	})

	rm.a.conn.Send(protocol.RoomAssigned{
		Type:      protocol.TypeRoomAssigned,
		Room:      rm.id,
		Role:      types.RoleTypeInitiator,
		PartnerID: rm.b.userID,
	})
	rm.b.conn.Send(protocol.RoomAssigned{
		Type:      protocol.TypeRoomAssigned,
		Room:      rm.id,
		Role:      types.RoleTypeResponder,
		PartnerID: rm.a.userID,
	})

	metrics.ActiveRooms.Inc()
	metrics.MatchesTotal.Inc()

	logging.Info(context.Background(), "Room created",
		zap.String("room_id", string(rm.id)),
		zap.String("initiator", string(rm.a.userID)),
		zap.String("responder", string(rm.b.userID)))

	r.publishEvent("match_created", map[string]string{
		"room_id":   string(rm.id),
		"initiator": string(rm.a.userID),
		"responder": string(rm.b.userID),
	})

	r.broadcastUserCountLocked()
}

// JoinResult is the reply to a join_room frame.
type JoinResult struct {
	OK         bool
	FailReason string // protocol.JoinFailNoRoom or protocol.JoinFailNotAuthorized
	Room       types.RoomIDType
	Role       types.RoleType
	PartnerID  types.UserIDType
}

// JoinRoom rebinds the caller's socket inside a room it is a member of.
func (r *Registry) JoinRoom(userID types.UserIDType, conn types.ClientConn, roomID types.RoomIDType) JoinResult {
	r.mu.Lock()
	defer r.mu.Unlock()

	// Only the identity's current socket may rebind; a superseded socket
	// replaying join_room must not steal the member binding.
	tok, ok := r.users[userID]
	if !ok || tok.conn != conn {
		return JoinResult{FailReason: protocol.JoinFailNotAuthorized}
	}

	rm, ok := r.rooms[roomID]
	if !ok {
		return JoinResult{FailReason: protocol.JoinFailNoRoom}
	}
	m := rm.memberOf(userID)
	if m == nil {
		return JoinResult{FailReason: protocol.JoinFailNotAuthorized}
	}

	m.conn = conn
	tok.roomID = rm.id

	role := types.RoleTypeResponder
	if m.initiator {
		role = types.RoleTypeInitiator
	}
	return JoinResult{
		OK:        true,
		Room:      rm.id,
		Role:      role,
		PartnerID: rm.partnerOf(userID).userID,
	}
}

// Relay forwards an opaque signaling payload to the sender's partner. The
// authoritative room binding is the sender's token, never the advisory room
// field of the inbound frame; a sender outside a room is dropped silently.
// A partner without an attached socket is likewise a silent drop — the
// client recovers via ICE or a re-match.
func (r *Registry) Relay(userID types.UserIDType, conn types.ClientConn, kind string, payload json.RawMessage) {
	r.mu.Lock()
	defer r.mu.Unlock()

	tok, ok := r.users[userID]
	if !ok || tok.conn != conn {
		metrics.RelayFrames.WithLabelValues(kind, "unauthorized").Inc()
		return
	}
	if tok.roomID == "" {
		metrics.RelayFrames.WithLabelValues(kind, "no_room").Inc()
		return
	}
	rm, ok := r.rooms[tok.roomID]
	if !ok {
		tok.roomID = "" // stale pointer; reconcile
		metrics.RelayFrames.WithLabelValues(kind, "no_room").Inc()
		return
	}

	partner := rm.partnerOf(userID)
	if partner.conn == nil {
		metrics.RelayFrames.WithLabelValues(kind, "partner_detached").Inc()
		return
	}

	partner.conn.Send(protocol.NewSignal(kind, rm.id, userID, payload))
	metrics.RelayFrames.WithLabelValues(kind, "forwarded").Inc()
}

// RequestReoffer asks the room's initiator to re-send an offer. Delivered to
// the initiator's socket regardless of which member asked.
func (r *Registry) RequestReoffer(userID types.UserIDType, conn types.ClientConn) {
	r.mu.Lock()
	defer r.mu.Unlock()

	tok, ok := r.users[userID]
	if !ok || tok.conn != conn || tok.roomID == "" {
		return
	}
	rm, ok := r.rooms[tok.roomID]
	if !ok {
		tok.roomID = ""
		return
	}

	initiator := rm.a // a is always the initiator by construction
	if initiator.conn == nil {
		return
	}
	initiator.conn.Send(protocol.RequestReoffer{
		Type:      protocol.TypeRequestReoffer,
		Room:      rm.id,
		Requester: userID,
	})
}

// Skip terminates the caller's current pairing or waiting slot. In a room:
// the partner gets partner_skipped and the room is deleted. While waiting:
// the waiting slot is removed. Otherwise a no-op.
func (r *Registry) Skip(userID types.UserIDType, conn types.ClientConn) {
	r.mu.Lock()
	defer r.mu.Unlock()

	tok, ok := r.users[userID]
	if !ok || tok.conn != conn {
		return
	}

	switch {
	case tok.roomID != "":
		rm, ok := r.rooms[tok.roomID]
		if !ok {
			tok.roomID = ""
			return
		}
		if partner := rm.partnerOf(userID); partner.conn != nil {
			partner.conn.Send(protocol.PartnerSkipped{Type: protocol.TypePartnerSkipped})
		}
		logging.Info(context.Background(), "Room skipped",
			zap.String("room_id", string(rm.id)),
			zap.String("user_id", string(userID)))
		r.deleteRoomLocked(rm, "skip")
		r.broadcastUserCountLocked()

	case r.waiting.Has(userID):
		r.removeFromWaitingLocked(userID)
		r.broadcastUserCountLocked()
	}
}

// scheduleRoomGraceReaperLocked arms the post-disconnect reaper, replacing
// any pending one so repeated disconnects extend the window.
func (r *Registry) scheduleRoomGraceReaperLocked(rm *room) {
	if rm.graceReaper != nil {
		rm.graceReaper.Stop()
	}
	id := rm.id
	rm.graceReaper = time.AfterFunc(r.roomReconnectTTL, func() {
		r.reapAbandonedRoom(id)
	})
}

// reapAbandonedRoom deletes a room whose members are both still detached
// when the grace window lapses. The predicate is re-checked under the lock:
// a single reconnected member keeps the room alive.
func (r *Registry) reapAbandonedRoom(roomID types.RoomIDType) {
	r.mu.Lock()
	defer r.mu.Unlock()

	rm, ok := r.rooms[roomID]
	if !ok {
		return
	}
	if r.memberAttachedLocked(rm.a) || r.memberAttachedLocked(rm.b) {
		return
	}

	logging.Info(context.Background(), "Reaping abandoned room",
		zap.String("room_id", string(roomID)))
	r.deleteRoomLocked(rm, "grace_expired")
}

// reapAgedRoom enforces the hard room age cap: the room is deleted no matter
// what state its members are in. Attached members are told their partner is
// gone so their clients re-enter matchmaking.
func (r *Registry) reapAgedRoom(roomID types.RoomIDType) {
	r.mu.Lock()
	defer r.mu.Unlock()

	rm, ok := r.rooms[roomID]
	if !ok {
		return
	}

	logging.Warn(context.Background(), "Room hit hard age cap",
		zap.String("room_id", string(roomID)),
		zap.Duration("age", time.Since(rm.createdAt)))

	for _, m := range []*member{rm.a, rm.b} {
		if m.conn != nil {
			m.conn.Send(protocol.PartnerDisconnected{
				Type:      protocol.TypePartnerDisconnected,
				Room:      rm.id,
				PartnerID: rm.partnerOf(m.userID).userID,
			})
		}
	}

	r.deleteRoomLocked(rm, "age_cap")
}

// memberAttachedLocked reports whether the member's identity currently has a
// live socket. The token is authoritative, not the member's cached handle.
func (r *Registry) memberAttachedLocked(m *member) bool {
	tok, ok := r.users[m.userID]
	return ok && tok.conn != nil
}

// deleteRoomLocked removes the room, stops its reapers and clears both
// members' token pointers. Partner notifications are the caller's job; they
// must be enqueued before deletion so ordering holds.
func (r *Registry) deleteRoomLocked(rm *room, cause string) {
	if rm.graceReaper != nil {
		rm.graceReaper.Stop()
		rm.graceReaper = nil
	}
	if rm.ageReaper != nil {
		rm.ageReaper.Stop()
		rm.ageReaper = nil
	}
	delete(r.rooms, rm.id)

	for _, m := range []*member{rm.a, rm.b} {
		if tok, ok := r.users[m.userID]; ok && tok.roomID == rm.id {
			tok.roomID = ""
			// A detached member's idle reaper may have already fired and
			// skipped because the room was still alive; the room was what
			// kept the token, so restart the clock from here.
			if tok.conn == nil {
				r.scheduleTokenReaperLocked(tok)
			}
		}
	}

	metrics.ActiveRooms.Dec()
	metrics.RoomsReaped.WithLabelValues(cause).Inc()

	r.publishEvent("room_closed", map[string]string{
		"room_id": string(rm.id),
		"cause":   cause,
	})
}
