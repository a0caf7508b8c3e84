package services

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nazim05-hub/MessengerX/models"
	"github.com/nazim05-hub/MessengerX/utils"
)

var errStoreDown = errors.New("store down")

// downStore fails every call
type downStore struct{}

func (downStore) SetStatus(context.Context, uint, models.PresenceStatus) error { return errStoreDown }
func (downStore) GetStatus(context.Context, uint) (models.PresenceStatus, error) {
	return models.StatusOnline, errStoreDown
}
func (downStore) PublishStatus(context.Context, models.StatusChange) error { return errStoreDown }
func (downStore) Subscribe(context.Context, func(models.StatusChange)) error {
	return errStoreDown
}
func (downStore) SetTyping(context.Context, uint, uint, time.Duration) error { return errStoreDown }
func (downStore) ClearTyping(context.Context, uint, uint) error             { return errStoreDown }
func (downStore) TypingUsers(context.Context, uint) ([]uint, error)         { return nil, errStoreDown }
func (downStore) Ping(context.Context) error                                { return errStoreDown }
func (downStore) Close() error                                              { return nil }

func newTestHub(store EphemeralStore) *Hub {
	return NewHub(store, HubConfig{}, utils.NewNopLogger(), nil)
}

func TestHubPresenceFollowsConnectionCount(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore(nil)
	hub := newTestHub(store)

	phone := newFakeConn("phone")
	laptop := newFakeConn("laptop")

	hub.Connect(ctx, alice, phone)
	assert.Equal(t, models.StatusOnline, hub.GetUserStatus(ctx, alice))

	hub.Connect(ctx, alice, laptop)
	assert.Equal(t, 2, hub.ConnectionCount())
	assert.Equal(t, 1, hub.OnlineUserCount())

	hub.Disconnect(ctx, alice, phone)
	assert.True(t, hub.IsConnected(alice))
	assert.Equal(t, models.StatusOnline, hub.GetUserStatus(ctx, alice))

	hub.Disconnect(ctx, alice, laptop)
	assert.False(t, hub.IsConnected(alice))
	assert.Equal(t, models.StatusOffline, hub.GetUserStatus(ctx, alice))

	// Disconnecting again is a no-op
	hub.Disconnect(ctx, alice, laptop)
	assert.Zero(t, hub.ConnectionCount())
}

func TestHubPublishesOnlyTransitions(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	store := NewMemoryStore(nil)
	hub := newTestHub(store)

	var (
		mu      sync.Mutex
		changes []models.StatusChange
	)
	go func() {
		_ = store.Subscribe(ctx, func(c models.StatusChange) {
			mu.Lock()
			changes = append(changes, c)
			mu.Unlock()
		})
	}()
	require.Eventually(t, func() bool {
		store.subMu.RLock()
		defer store.subMu.RUnlock()
		return len(store.subs) == 1
	}, time.Second, 5*time.Millisecond)

	c1, c2 := newFakeConn("c1"), newFakeConn("c2")
	hub.Connect(ctx, bob, c1)
	hub.Connect(ctx, bob, c2)
	hub.Disconnect(ctx, bob, c1)
	hub.Disconnect(ctx, bob, c2)

	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(changes) == 2
	}, time.Second, 5*time.Millisecond)

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, []models.StatusChange{
		{UserID: bob, Status: models.StatusOnline},
		{UserID: bob, Status: models.StatusOffline},
	}, changes)
}

func TestHubSendToUserReachesEveryDevice(t *testing.T) {
	ctx := context.Background()
	hub := newTestHub(NewMemoryStore(nil))

	phone, laptop, other := newFakeConn("phone"), newFakeConn("laptop"), newFakeConn("other")
	hub.Connect(ctx, alice, phone)
	hub.Connect(ctx, alice, laptop)
	hub.Connect(ctx, bob, other)

	report := hub.SendToUser(alice, models.NewEnvelope("hello", map[string]int{"n": 1}))
	assert.Equal(t, 1, report.Recipients)
	assert.Equal(t, 2, report.Delivered)
	assert.Empty(t, report.Failed)

	for _, c := range []*fakeConn{phone, laptop} {
		frames := c.received(t)
		require.Len(t, frames, 1)
		assert.Equal(t, "hello", frames[0].Type)
		assert.Equal(t, float64(1), frames[0].Data["n"])
	}
	assert.Zero(t, other.count())
}

func TestHubSendToOfflineUserIsNoop(t *testing.T) {
	hub := newTestHub(NewMemoryStore(nil))
	report := hub.SendToUser(dave, models.NewEnvelope("hello", nil))
	assert.Equal(t, DeliveryReport{}, report)
}

func TestHubFailedWriteDropsConnection(t *testing.T) {
	ctx := context.Background()
	hub := newTestHub(NewMemoryStore(nil))

	healthy, broken := newFakeConn("healthy"), newFakeConn("broken")
	hub.Connect(ctx, alice, healthy)
	hub.Connect(ctx, bob, broken)
	broken.failWith(errBrokenPipe)

	report := hub.SendToUsers([]uint{alice, bob}, []byte(`{"type":"x"}`))
	assert.Equal(t, 2, report.Recipients)
	assert.Equal(t, 1, report.Delivered)
	require.Len(t, report.Failed, 1)
	assert.Equal(t, bob, report.Failed[0].UserID)
	assert.Equal(t, "broken", report.Failed[0].ConnID)
	assert.ErrorIs(t, report.Failed[0].Err, errBrokenPipe)

	assert.False(t, hub.IsConnected(bob))
	assert.Equal(t, 1, broken.closeCount())
	assert.Equal(t, models.StatusOffline, hub.GetUserStatus(ctx, bob))

	// The caller's own explicit disconnect afterwards is harmless
	hub.Disconnect(ctx, bob, broken)
	assert.True(t, hub.IsConnected(alice))
}

func TestHubSendToUsersDeduplicates(t *testing.T) {
	ctx := context.Background()
	hub := newTestHub(NewMemoryStore(nil))

	b, c := newFakeConn("b"), newFakeConn("c")
	hub.Connect(ctx, bob, b)
	hub.Connect(ctx, carol, c)

	report := hub.SendToUsers([]uint{bob, bob, carol, dave}, models.NewEnvelope("x", nil))
	assert.Equal(t, 2, report.Recipients)
	assert.Equal(t, 2, report.Delivered)
	assert.Equal(t, 1, b.count())
	assert.Equal(t, 1, c.count())

	assert.Equal(t, DeliveryReport{}, hub.SendToUsers(nil, models.NewEnvelope("x", nil)))
}

func TestHubBroadcast(t *testing.T) {
	ctx := context.Background()
	hub := newTestHub(NewMemoryStore(nil))

	a, b1, b2 := newFakeConn("a"), newFakeConn("b1"), newFakeConn("b2")
	hub.Connect(ctx, alice, a)
	hub.Connect(ctx, bob, b1)
	hub.Connect(ctx, bob, b2)

	report := hub.Broadcast(models.NewEnvelope("all", nil))
	assert.Equal(t, 2, report.Recipients)
	assert.Equal(t, 3, report.Delivered)

	report = hub.BroadcastExcept(bob, models.NewEnvelope("not-bob", nil))
	assert.Equal(t, 1, report.Recipients)
	assert.Equal(t, 2, a.count())
	assert.Equal(t, 1, b1.count())
	assert.Equal(t, 1, b2.count())
}

func TestHubConcurrentConnectDisconnect(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore(nil)
	hub := newTestHub(store)

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			conn := newFakeConn(fmt.Sprintf("conn-%d", i))
			hub.Connect(ctx, carol, conn)
			hub.SendToUser(carol, []byte(`{"type":"x"}`))
			hub.Disconnect(ctx, carol, conn)
		}(i)
	}
	wg.Wait()

	assert.Zero(t, hub.ConnectionCount())
	assert.False(t, hub.IsConnected(carol))
	assert.Equal(t, models.StatusOffline, hub.GetUserStatus(ctx, carol))
}

func TestHubTypingIndicators(t *testing.T) {
	ctx := context.Background()
	now := time.Unix(1_700_000_000, 0)
	var mu sync.Mutex
	clock := func() time.Time {
		mu.Lock()
		defer mu.Unlock()
		return now
	}
	store := NewMemoryStore(clock)
	hub := NewHub(store, HubConfig{TypingTTL: 5 * time.Second}, utils.NewNopLogger(), nil)

	require.NoError(t, hub.SetTyping(ctx, groupChat, alice, true))
	require.NoError(t, hub.SetTyping(ctx, groupChat, bob, true))
	assert.Equal(t, []uint{alice, bob}, hub.GetTypingUsers(ctx, groupChat))

	require.NoError(t, hub.SetTyping(ctx, groupChat, bob, false))
	assert.Equal(t, []uint{alice}, hub.GetTypingUsers(ctx, groupChat))

	mu.Lock()
	now = now.Add(5 * time.Second)
	mu.Unlock()
	assert.Empty(t, hub.GetTypingUsers(ctx, groupChat))
}

func TestHubDegradesWhenStoreIsDown(t *testing.T) {
	ctx := context.Background()
	hub := newTestHub(downStore{})

	conn := newFakeConn("c")
	hub.Connect(ctx, alice, conn)
	assert.True(t, hub.IsConnected(alice))

	assert.Equal(t, models.StatusOffline, hub.GetUserStatus(ctx, alice))
	assert.NotNil(t, hub.GetTypingUsers(ctx, groupChat))
	assert.Empty(t, hub.GetTypingUsers(ctx, groupChat))
	assert.ErrorIs(t, hub.SetTyping(ctx, groupChat, alice, true), errStoreDown)

	report := hub.SendToUser(alice, []byte(`{}`))
	assert.Equal(t, 1, report.Delivered)

	hub.Disconnect(ctx, alice, conn)
	assert.False(t, hub.IsConnected(alice))
}

func TestHubOfflineWriteSurvivesCancelledContext(t *testing.T) {
	store := NewMemoryStore(nil)
	hub := newTestHub(store)
	conn := newFakeConn("c")

	hub.Connect(context.Background(), alice, conn)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	hub.Disconnect(ctx, alice, conn)

	status, err := store.GetStatus(context.Background(), alice)
	require.NoError(t, err)
	assert.Equal(t, models.StatusOffline, status)
}

func TestHubShutdownClosesEverything(t *testing.T) {
	ctx := context.Background()
	hub := newTestHub(NewMemoryStore(nil))

	conns := []*fakeConn{newFakeConn("a"), newFakeConn("b")}
	hub.Connect(ctx, alice, conns[0])
	hub.Connect(ctx, bob, conns[1])

	hub.Shutdown(ctx)

	assert.Zero(t, hub.ConnectionCount())
	for _, c := range conns {
		assert.Equal(t, 1, c.closeCount())
	}
	assert.Equal(t, models.StatusOffline, hub.GetUserStatus(ctx, alice))
	assert.Equal(t, models.StatusOffline, hub.GetUserStatus(ctx, bob))
}

func TestHubEncodePassesRawBytesThrough(t *testing.T) {
	ctx := context.Background()
	hub := newTestHub(NewMemoryStore(nil))
	conn := newFakeConn("c")
	hub.Connect(ctx, alice, conn)

	hub.SendToUser(alice, []byte(`{"type":"raw"}`))
	frames := conn.received(t)
	require.Len(t, frames, 1)
	assert.Equal(t, "raw", frames[0].Type)

	// Unencodable payloads are dropped without touching connections
	report := hub.SendToUser(alice, map[string]interface{}{"bad": make(chan int)})
	assert.Equal(t, DeliveryReport{}, report)
	assert.Equal(t, 1, conn.count())
}
