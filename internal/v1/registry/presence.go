package registry

import (
	"github.com/strangermesh/roulette/backend/go/internal/v1/protocol"
)

// broadcastUserCountLocked fans the current attached-socket count out to
// every attached client. The event is marshaled once and enqueued raw;
// clients whose buffers are full simply miss this tick and catch the next.
// Caller holds r.mu.
func (r *Registry) broadcastUserCountLocked() {
	count := r.attachedCountLocked()

	data := protocol.Encode(protocol.UserCount{Type: protocol.TypeUserCount, Count: count})
	if data == nil {
		return
	}

	for _, tok := range r.users {
		if tok.conn != nil {
			tok.conn.SendRaw(data)
		}
	}

	r.publishEvent("user_count", map[string]int{"count": count})
}
