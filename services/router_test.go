package services

import (
	"context"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nazim05-hub/MessengerX/metrics"
	"github.com/nazim05-hub/MessengerX/utils"
)

type routerFixture struct {
	hub     *Hub
	router  *Router
	metrics *metrics.Metrics
	conns   map[uint]*fakeConn
	names   map[uint]string
}

func newRouterFixture(t *testing.T) *routerFixture {
	t.Helper()

	db := setupTestDB(t)
	seedChat(t, db)
	dir := NewGormDirectory(db)
	m := metrics.New(prometheus.NewRegistry())
	hub := NewHub(NewMemoryStore(nil), HubConfig{}, utils.NewNopLogger(), m)

	f := &routerFixture{
		hub:     hub,
		router:  NewRouter(hub, dir, utils.NewNopLogger(), m),
		metrics: m,
		conns:   make(map[uint]*fakeConn),
		names:   map[uint]string{alice: "alice", bob: "bob", carol: "carol", dave: "dave"},
	}
	for id, name := range f.names {
		c := newFakeConn(name)
		f.conns[id] = c
		hub.Connect(context.Background(), id, c)
	}
	return f
}

func (f *routerFixture) send(from uint, frame string) {
	f.router.Dispatch(context.Background(), Client{
		UserID:   from,
		Username: f.names[from],
		Conn:     f.conns[from],
	}, []byte(frame))
}

func (f *routerFixture) inbound(eventType, outcome string) float64 {
	return testutil.ToFloat64(f.metrics.InboundEvents.WithLabelValues(eventType, outcome))
}

func TestRouterTypingReachesOtherMembers(t *testing.T) {
	f := newRouterFixture(t)

	f.send(alice, `{"type":"typing","chat_id":10}`)

	for _, id := range []uint{bob, carol} {
		frames := f.conns[id].received(t)
		require.Len(t, frames, 1, "user %d", id)
		assert.Equal(t, "user_typing", frames[0].Type)
		assert.Equal(t, map[string]interface{}{
			"chat_id":   float64(groupChat),
			"user_id":   float64(alice),
			"is_typing": true,
			"username":  "alice",
		}, frames[0].Data)
	}
	assert.Zero(t, f.conns[alice].count())
	assert.Zero(t, f.conns[dave].count())

	assert.Equal(t, []uint{alice}, f.hub.GetTypingUsers(context.Background(), groupChat))
	assert.Equal(t, float64(1), f.inbound("typing", "handled"))
}

func TestRouterTypingStopClearsState(t *testing.T) {
	f := newRouterFixture(t)

	f.send(bob, `{"type":"typing","chat_id":10,"is_typing":true}`)
	f.send(bob, `{"type":"typing","chat_id":10,"is_typing":false}`)

	frames := f.conns[alice].received(t)
	require.Len(t, frames, 2)
	assert.Equal(t, false, frames[1].Data["is_typing"])
	assert.Empty(t, f.hub.GetTypingUsers(context.Background(), groupChat))
}

func TestRouterTypingOutsideMembershipIsNoop(t *testing.T) {
	tests := []struct {
		name  string
		from  uint
		frame string
		chat  uint
	}{
		{"non-member", dave, `{"type":"typing","chat_id":10}`, groupChat},
		{"unknown chat", alice, `{"type":"typing","chat_id":99}`, unknownChat},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newRouterFixture(t)
			f.send(tt.from, tt.frame)

			for id, c := range f.conns {
				assert.Zero(t, c.count(), "user %d", id)
			}
			assert.Empty(t, f.hub.GetTypingUsers(context.Background(), tt.chat))
		})
	}
}

func TestRouterWebRTCSignalGoesToTargetOnly(t *testing.T) {
	f := newRouterFixture(t)

	f.send(alice, `{"type":"webrtc_signal","target_user_id":2,"data":{"type":"offer","sdp":"v=0"}}`)

	frames := f.conns[bob].received(t)
	require.Len(t, frames, 1)
	assert.Equal(t, "webrtc_signal", frames[0].Type)
	assert.Equal(t, float64(alice), frames[0].Data["from_user_id"])
	assert.Equal(t, "offer", frames[0].Data["signal_type"])
	assert.Equal(t, map[string]interface{}{"type": "offer", "sdp": "v=0"}, frames[0].Data["signal"])

	for _, id := range []uint{alice, carol, dave} {
		assert.Zero(t, f.conns[id].count(), "user %d", id)
	}
}

func TestRouterWebRTCSignalToOfflineUser(t *testing.T) {
	f := newRouterFixture(t)

	f.send(alice, `{"type":"webrtc_signal","target_user_id":500,"data":{"type":"ice-candidate"}}`)

	for id, c := range f.conns {
		assert.Zero(t, c.count(), "user %d", id)
	}
	assert.Equal(t, float64(1), f.inbound("webrtc_signal", "handled"))
}

func TestRouterMessageReadNotifiesSenderOnce(t *testing.T) {
	f := newRouterFixture(t)

	f.send(bob, `{"type":"message_read","message_id":100}`)
	f.send(bob, `{"type":"message_read","message_id":100}`)

	frames := f.conns[alice].received(t)
	require.Len(t, frames, 1)
	assert.Equal(t, "message_read", frames[0].Type)
	assert.Equal(t, map[string]interface{}{
		"message_id": float64(aliceMsg),
		"user_id":    float64(bob),
		"chat_id":    float64(groupChat),
	}, frames[0].Data)

	assert.Zero(t, f.conns[bob].count())
	assert.Zero(t, f.conns[carol].count())
}

func TestRouterMessageReadUnknownMessage(t *testing.T) {
	f := newRouterFixture(t)

	f.send(bob, `{"type":"message_read","message_id":4242}`)

	for id, c := range f.conns {
		assert.Zero(t, c.count(), "user %d", id)
	}
}

func TestRouterPingAnswersSenderOnly(t *testing.T) {
	f := newRouterFixture(t)

	f.send(carol, `{"type":"ping"}`)

	c := f.conns[carol]
	c.mu.Lock()
	require.Len(t, c.frames, 1)
	assert.JSONEq(t, `{"type":"pong"}`, string(c.frames[0]))
	c.mu.Unlock()

	for _, id := range []uint{alice, bob, dave} {
		assert.Zero(t, f.conns[id].count(), "user %d", id)
	}
}

func TestRouterDropsBadFrames(t *testing.T) {
	tests := []struct {
		name    string
		frame   string
		evType  string
		outcome string
	}{
		{"invalid json", `{"type":`, "unknown", "malformed"},
		{"unknown type", `{"type":"dance"}`, "unknown", "ignored"},
		{"typing without chat", `{"type":"typing"}`, "typing", "malformed"},
		{"signal without target", `{"type":"webrtc_signal","data":{}}`, "webrtc_signal", "malformed"},
		{"read without message", `{"type":"message_read"}`, "message_read", "malformed"},
		{"wrong field type", `{"type":"typing","chat_id":"ten"}`, "unknown", "malformed"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newRouterFixture(t)
			f.send(alice, tt.frame)

			for id, c := range f.conns {
				assert.Zero(t, c.count(), "user %d", id)
				assert.Zero(t, c.closeCount(), "user %d", id)
			}
			assert.True(t, f.hub.IsConnected(alice))
			assert.Equal(t, float64(1), f.inbound(tt.evType, tt.outcome))
		})
	}
}
