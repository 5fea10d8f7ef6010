package registry

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"time"

	"go.uber.org/zap"

	"github.com/strangermesh/roulette/backend/go/internal/v1/logging"
	"github.com/strangermesh/roulette/backend/go/internal/v1/metrics"
	"github.com/strangermesh/roulette/backend/go/internal/v1/protocol"
	"github.com/strangermesh/roulette/backend/go/internal/v1/types"
)

// newTokenSecret mints a 128-bit random reconnect token.
func newTokenSecret() types.TokenType {
	buf := make([]byte, 16)
	if _, err := rand.Read(buf); err != nil {
		// crypto/rand failing means the host is broken; an identity token we
		// cannot mint is not recoverable per-connection.
		panic(err)
	}
	return types.TokenType(hex.EncodeToString(buf))
}

// AttachResult is what the transport layer needs to greet the client.
type AttachResult struct {
	UserID        types.UserIDType
	Token         types.TokenType
	RoomID        types.RoomIDType // non-empty when a prior room was restored
	Reconnected   bool             // presented token was accepted
	TokenRejected bool             // presented token was unknown (fresh identity minted)
}

// Attach binds a socket to an identity. A known presented token rebinds the
// existing identity (cancelling its idle reaper and restoring room
// membership); anything else mints a fresh identity. The greeting
// (welcome / reconnect_success, preceded by reconnect_failed when an unknown
// token was presented) is enqueued here, under the lock, so it is ordered
// before any other event the new socket can observe.
func (r *Registry) Attach(conn types.ClientConn, presented types.TokenType) AttachResult {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.closed {
		return AttachResult{}
	}

	if presented != "" {
		if tok, ok := r.tokens[presented]; ok {
			res := r.rebindLocked(tok, conn)
			conn.Send(protocol.ReconnectSuccess{
				Type:   protocol.TypeReconnectSuccess,
				UserID: res.UserID,
				Room:   res.RoomID,
			})
			r.broadcastUserCountLocked()
			return res
		}
		// Unknown token: the client explicitly asked to reconnect, so say
		// the reclaim failed before issuing the fresh identity.
		conn.Send(protocol.ReconnectFailed{Type: protocol.TypeReconnectFailed})
	}

	tok := &token{
		userID:   newUserID(),
		secret:   newTokenSecret(),
		conn:     conn,
		lastSeen: time.Now(),
	}
	r.tokens[tok.secret] = tok
	r.users[tok.userID] = tok
	metrics.ActiveTokens.Inc()

	logging.Info(context.Background(), "Issued new identity",
		zap.String("user_id", string(tok.userID)),
		zap.String("token", logging.RedactToken(string(tok.secret))))

	conn.Send(protocol.Welcome{
		Type:   protocol.TypeWelcome,
		UserID: tok.userID,
		Token:  tok.secret,
	})

	r.broadcastUserCountLocked()

	return AttachResult{
		UserID:        tok.userID,
		Token:         tok.secret,
		TokenRejected: presented != "",
	}
}

// rebindLocked points an existing token at a new socket. The latest socket is
// authoritative: a previous one still attached is force-closed and its later
// detach ignored (Detach compares conn identity).
func (r *Registry) rebindLocked(tok *token, conn types.ClientConn) AttachResult {
	if tok.reaper != nil {
		tok.reaper.Stop()
		tok.reaper = nil
	}

	if tok.conn != nil && tok.conn != conn {
		logging.Warn(context.Background(), "Duplicate socket for token, superseding",
			zap.String("user_id", string(tok.userID)))
		tok.conn.Disconnect()
	}
	tok.conn = conn
	tok.lastSeen = time.Now()

	res := AttachResult{UserID: tok.userID, Token: tok.secret, Reconnected: true}

	if tok.roomID != "" {
		rm, ok := r.rooms[tok.roomID]
		if !ok {
			// Stale pointer; reconcile by clearing.
			tok.roomID = ""
		} else {
			m := rm.memberOf(tok.userID)
			m.conn = conn
			res.RoomID = rm.id
			if partner := rm.partnerOf(tok.userID); partner.conn != nil {
				partner.conn.Send(protocol.PartnerReconnected{
					Type:      protocol.TypePartnerReconnected,
					Room:      rm.id,
					PartnerID: tok.userID,
				})
			}
		}
	}

	logging.Info(context.Background(), "Identity rebound to new socket",
		zap.String("user_id", string(tok.userID)),
		zap.String("room_id", string(res.RoomID)))

	return res
}

// Detach handles a socket drop for the given identity. conn must be the
// socket the caller owned: if the token has since been rebound to a newer
// socket, the stale detach is a no-op.
func (r *Registry) Detach(userID types.UserIDType, conn types.ClientConn) {
	r.mu.Lock()
	defer r.mu.Unlock()

	tok, ok := r.users[userID]
	if !ok || tok.conn != conn {
		return
	}

	tok.conn = nil
	tok.lastSeen = time.Now()
	r.scheduleTokenReaperLocked(tok)

	if r.waiting.Has(userID) {
		r.removeFromWaitingLocked(userID)
	}

	if tok.roomID != "" {
		if rm, ok := r.rooms[tok.roomID]; ok {
			rm.memberOf(userID).conn = nil
			if partner := rm.partnerOf(userID); partner.conn != nil {
				partner.conn.Send(protocol.PartnerDisconnected{
					Type:      protocol.TypePartnerDisconnected,
					Room:      rm.id,
					PartnerID: userID,
				})
			}
			r.scheduleRoomGraceReaperLocked(rm)
		} else {
			tok.roomID = ""
		}
	}

	logging.Info(context.Background(), "Socket detached",
		zap.String("user_id", string(userID)),
		zap.String("room_id", string(tok.roomID)))

	r.broadcastUserCountLocked()
}

// scheduleTokenReaperLocked arms the one-shot idle reaper for tok, replacing
// any pending one.
func (r *Registry) scheduleTokenReaperLocked(tok *token) {
	if tok.reaper != nil {
		tok.reaper.Stop()
	}
	secret := tok.secret
	tok.reaper = time.AfterFunc(r.tokenIdleTTL, func() {
		r.reapToken(secret)
	})
}

// reapToken deletes an idle token. The predicate is re-checked under the
// lock: a rebind or pairing since scheduling keeps the token alive.
func (r *Registry) reapToken(secret types.TokenType) {
	r.mu.Lock()
	defer r.mu.Unlock()

	tok, ok := r.tokens[secret]
	if !ok {
		return
	}
	if tok.conn != nil || tok.roomID != "" {
		return
	}

	delete(r.tokens, secret)
	delete(r.users, tok.userID)
	tok.reaper = nil
	metrics.ActiveTokens.Dec()

	logging.Info(context.Background(), "Reaped idle token",
		zap.String("user_id", string(tok.userID)))
}
