package transport

import (
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/strangermesh/roulette/backend/go/internal/v1/protocol"
	"github.com/strangermesh/roulette/backend/go/internal/v1/registry"
	"github.com/strangermesh/roulette/backend/go/internal/v1/types"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

var errConnClosed = errors.New("connection closed")

// mockWsConn is a scripted socket: tests push inbound frames onto the frames
// channel and inspect what was written.
type mockWsConn struct {
	frames chan []byte

	mu      sync.Mutex
	written [][]byte
	done    chan struct{}
	once    sync.Once
}

func newMockWsConn() *mockWsConn {
	return &mockWsConn{
		frames: make(chan []byte, 16),
		done:   make(chan struct{}),
	}
}

func (m *mockWsConn) ReadMessage() (int, []byte, error) {
	select {
	case data, ok := <-m.frames:
		if !ok {
			return 0, nil, errConnClosed
		}
		return websocket.TextMessage, data, nil
	case <-m.done:
		return 0, nil, errConnClosed
	}
}

func (m *mockWsConn) WriteMessage(messageType int, data []byte) error {
	select {
	case <-m.done:
		return errConnClosed
	default:
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if messageType == websocket.TextMessage {
		m.written = append(m.written, data)
	}
	return nil
}

func (m *mockWsConn) Close() error {
	m.once.Do(func() { close(m.done) })
	return nil
}

func (m *mockWsConn) SetWriteDeadline(time.Time) error { return nil }

func (m *mockWsConn) writtenTypes() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]string, 0, len(m.written))
	for _, data := range m.written {
		var ev struct {
			Type string `json:"type"`
		}
		if json.Unmarshal(data, &ev) == nil {
			out = append(out, ev.Type)
		}
	}
	return out
}

// mockRouter records which registry operations the client invoked.
type mockRouter struct {
	mu    sync.Mutex
	calls []string

	attachResult registry.AttachResult
	joinResult   registry.JoinResult
	relayed      []string // relay kinds, in order
	relayPayload json.RawMessage
}

func (m *mockRouter) record(call string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls = append(m.calls, call)
}

func (m *mockRouter) callList() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]string(nil), m.calls...)
}

func (m *mockRouter) Attach(types.ClientConn, types.TokenType) registry.AttachResult {
	m.record("attach")
	return m.attachResult
}

func (m *mockRouter) Detach(types.UserIDType, types.ClientConn) {
	m.record("detach")
}

func (m *mockRouter) FindPartner(_ types.UserIDType, _ types.ClientConn, opts registry.MatchOpts) {
	m.record("find_partner")
}

func (m *mockRouter) JoinRoom(types.UserIDType, types.ClientConn, types.RoomIDType) registry.JoinResult {
	m.record("join_room")
	return m.joinResult
}

func (m *mockRouter) Skip(types.UserIDType, types.ClientConn) {
	m.record("skip")
}

func (m *mockRouter) Relay(_ types.UserIDType, _ types.ClientConn, kind string, payload json.RawMessage) {
	m.mu.Lock()
	m.relayed = append(m.relayed, kind)
	m.relayPayload = payload
	m.mu.Unlock()
	m.record("relay")
}

func (m *mockRouter) RequestReoffer(types.UserIDType, types.ClientConn) {
	m.record("request_reoffer")
}

func newTestClient(router *mockRouter) *Client {
	return &Client{
		conn:     newMockWsConn(),
		send:     make(chan []byte, 16),
		registry: router,
		userID:   "u1",
	}
}

func TestRoute_FindPartner(t *testing.T) {
	router := &mockRouter{}
	c := newTestClient(router)

	in, err := protocol.Decode([]byte(`{"type":"find_partner","audio_enabled":true,"video_enabled":true}`))
	require.NoError(t, err)
	c.route(in)

	assert.Equal(t, []string{"find_partner"}, router.callList())
}

func TestRoute_SignalingFrames(t *testing.T) {
	router := &mockRouter{}
	c := newTestClient(router)

	frames := []string{
		`{"type":"offer","offer":{"sdp":"v=0"}}`,
		`{"type":"answer","answer":{"sdp":"v=0"}}`,
		`{"type":"ice-candidate","candidate":{"candidate":"c"}}`,
	}
	for _, f := range frames {
		in, err := protocol.Decode([]byte(f))
		require.NoError(t, err)
		c.route(in)
	}

	assert.Equal(t, []string{
		protocol.TypeOffer,
		protocol.TypeAnswer,
		protocol.TypeICECandidate,
	}, router.relayed)
}

func TestRoute_SignalingFrameMissingPayloadDropped(t *testing.T) {
	router := &mockRouter{}
	c := newTestClient(router)

	in, err := protocol.Decode([]byte(`{"type":"offer"}`))
	require.NoError(t, err)
	c.route(in)

	assert.Empty(t, router.relayed, "offer without payload must not reach the registry")
}

func TestRoute_JoinRoomSuccess(t *testing.T) {
	router := &mockRouter{
		joinResult: registry.JoinResult{
			OK:        true,
			Room:      "r1",
			Role:      types.RoleTypeInitiator,
			PartnerID: "u2",
		},
	}
	c := newTestClient(router)

	in, err := protocol.Decode([]byte(`{"type":"join_room","room":"r1"}`))
	require.NoError(t, err)
	c.route(in)

	require.Equal(t, []string{"join_room"}, router.callList())

	// The reply is enqueued on the send channel.
	select {
	case data := <-c.send:
		var joined protocol.RoomJoined
		require.NoError(t, json.Unmarshal(data, &joined))
		assert.Equal(t, protocol.TypeRoomJoined, joined.Type)
		assert.Equal(t, types.RoomIDType("r1"), joined.Room)
		assert.Equal(t, types.RoleTypeInitiator, joined.Role)
		assert.Equal(t, types.UserIDType("u2"), joined.PartnerID)
	default:
		t.Fatal("expected a room_joined reply")
	}
}

func TestRoute_JoinRoomFailure(t *testing.T) {
	router := &mockRouter{
		joinResult: registry.JoinResult{FailReason: protocol.JoinFailNoRoom},
	}
	c := newTestClient(router)

	in, err := protocol.Decode([]byte(`{"type":"join_room","room":"gone"}`))
	require.NoError(t, err)
	c.route(in)

	select {
	case data := <-c.send:
		var failed protocol.JoinFailed
		require.NoError(t, json.Unmarshal(data, &failed))
		assert.Equal(t, protocol.TypeJoinFailed, failed.Type)
		assert.Equal(t, protocol.JoinFailNoRoom, failed.Reason)
	default:
		t.Fatal("expected a join_failed reply")
	}
}

func TestRoute_JoinRoomMissingRoomDropped(t *testing.T) {
	router := &mockRouter{}
	c := newTestClient(router)

	in, err := protocol.Decode([]byte(`{"type":"join_room"}`))
	require.NoError(t, err)
	c.route(in)

	assert.Empty(t, router.callList())
}

func TestRoute_UnknownTypeIgnored(t *testing.T) {
	router := &mockRouter{}
	c := newTestClient(router)

	in, err := protocol.Decode([]byte(`{"type":"teleport"}`))
	require.NoError(t, err)
	c.route(in)

	assert.Empty(t, router.callList())
}

func TestSendRaw_DropsWhenBufferFull(t *testing.T) {
	c := &Client{
		conn:     newMockWsConn(),
		send:     make(chan []byte, 1),
		registry: &mockRouter{},
	}

	c.SendRaw([]byte(`{"type":"user_count","count":1}`))
	// Buffer is full now; this must not block.
	done := make(chan struct{})
	go func() {
		c.SendRaw([]byte(`{"type":"user_count","count":2}`))
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("SendRaw blocked on a full buffer")
	}
	assert.Len(t, c.send, 1)
}

func TestSend_AfterDisconnectIsNoop(t *testing.T) {
	c := newTestClient(&mockRouter{})
	c.Disconnect()

	// Must neither panic nor block.
	c.Send(protocol.UserCount{Type: protocol.TypeUserCount, Count: 3})
	c.SendRaw([]byte(`{}`))
}

func TestDisconnect_Idempotent(t *testing.T) {
	c := newTestClient(&mockRouter{})
	c.Disconnect()
	c.Disconnect()
}

func TestPumps_FullLifecycle(t *testing.T) {
	router := &mockRouter{}
	conn := newMockWsConn()
	c := &Client{
		conn:     conn,
		send:     make(chan []byte, 16),
		registry: router,
		userID:   "u1",
	}

	go c.writePump()
	go c.readPump()

	conn.frames <- []byte(`{"type":"find_partner"}`)
	conn.frames <- []byte(`not json at all`)
	conn.frames <- []byte(`{"type":"skip"}`)
	close(conn.frames)

	require.Eventually(t, func() bool {
		calls := router.callList()
		return len(calls) == 3 && calls[2] == "detach"
	}, time.Second, 5*time.Millisecond)

	assert.Equal(t, []string{"find_partner", "skip", "detach"}, router.callList())
}

func TestWritePump_DrainsOnDisconnect(t *testing.T) {
	conn := newMockWsConn()
	c := &Client{
		conn:     conn,
		send:     make(chan []byte, 16),
		registry: &mockRouter{},
	}

	c.send <- protocol.Encode(protocol.UserCount{Type: protocol.TypeUserCount, Count: 7})

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		c.writePump()
	}()

	c.Disconnect()
	wg.Wait()

	assert.Equal(t, []string{protocol.TypeUserCount}, conn.writtenTypes())
}
