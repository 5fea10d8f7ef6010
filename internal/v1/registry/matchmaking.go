package registry

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/strangermesh/roulette/backend/go/internal/v1/logging"
	"github.com/strangermesh/roulette/backend/go/internal/v1/metrics"
	"github.com/strangermesh/roulette/backend/go/internal/v1/types"
)

// MatchOpts carries the advisory media flags from a find_partner frame. They
// never influence pairing; they exist so clients can hint at their setup.
type MatchOpts struct {
	AudioEnabled bool
	VideoEnabled bool
}

// FindPartner pairs the requester with the oldest live waiter, or enqueues
// the requester when nobody suitable is waiting. A requester already in a
// room or already waiting returns silently — the second call is a no-op.
//
// conn must be the requester's current socket; a request raced by a rebind is
// dropped so a superseded socket cannot enqueue its identity.
func (r *Registry) FindPartner(userID types.UserIDType, conn types.ClientConn, opts MatchOpts) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.closed {
		return
	}

	tok, ok := r.users[userID]
	if !ok || tok.conn != conn {
		return
	}
	if tok.roomID != "" || r.waiting.Has(userID) {
		return
	}

	now := time.Now()

	// Pop candidates from the head until one is still live. Entries whose
	// identity left the waiting set, or whose socket is gone, are dropped
	// silently and the scan continues.
	for r.queue.Len() > 0 {
		front := r.queue.Front()
		entry := front.Value.(waitingEntry)
		r.queue.Remove(front)

		if !r.waiting.Has(entry.userID) {
			continue // removed by skip/disconnect; queue copy was stale
		}
		cand, ok := r.users[entry.userID]
		if !ok || cand.conn == nil {
			r.waiting.Delete(entry.userID)
			metrics.StaleWaitersSkipped.Inc()
			continue
		}

		r.waiting.Delete(entry.userID)
		metrics.WaitingUsers.Set(float64(r.waiting.Len()))

		// The waiter has the earlier joined_at, so it takes the initiator
		// role; on an exact tie the lexicographically smaller id does.
		initiator, responder := cand, tok
		if entry.joinedAt.Equal(now) && tok.userID < cand.userID {
			initiator, responder = tok, cand
		}
		r.createRoomLocked(initiator, responder)
		return
	}

	r.waiting.Insert(userID)
	r.queue.PushBack(waitingEntry{userID: userID, joinedAt: now})
	metrics.WaitingUsers.Set(float64(r.waiting.Len()))

	logging.Info(context.Background(), "Enqueued for matchmaking",
		zap.String("user_id", string(userID)),
		zap.Int("queue_len", r.queue.Len()),
		zap.Bool("audio", opts.AudioEnabled),
		zap.Bool("video", opts.VideoEnabled))
}

// removeFromWaitingLocked removes an identity from both the waiting set and
// the queue. The linear queue scan is fine; the queue is bounded by the
// number of connected users.
func (r *Registry) removeFromWaitingLocked(userID types.UserIDType) {
	r.waiting.Delete(userID)
	for e := r.queue.Front(); e != nil; e = e.Next() {
		if e.Value.(waitingEntry).userID == userID {
			r.queue.Remove(e)
			break
		}
	}
	metrics.WaitingUsers.Set(float64(r.waiting.Len()))
}
