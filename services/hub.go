package services

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/nazim05-hub/MessengerX/metrics"
	"github.com/nazim05-hub/MessengerX/models"
	"github.com/nazim05-hub/MessengerX/utils"
)

// Connection is one live, bidirectional channel owned by the hub once
// admitted. Send must be safe for concurrent use; Close must be idempotent.
type Connection interface {
	ID() string
	Send(data []byte) error
	Close() error
}

// DeliveryFailure identifies a connection whose write failed
type DeliveryFailure struct {
	UserID uint
	ConnID string
	Err    error
}

// DeliveryReport summarises one send operation
type DeliveryReport struct {
	// Recipients is the number of targeted users that had a connection
	Recipients int
	// Delivered is the number of successful connection writes
	Delivered int
	Failed    []DeliveryFailure
}

func (r *DeliveryReport) merge(o DeliveryReport) {
	r.Recipients += o.Recipients
	r.Delivered += o.Delivered
	r.Failed = append(r.Failed, o.Failed...)
}

type HubConfig struct {
	TypingTTL         time.Duration
	StoreTimeout      time.Duration
	FanoutConcurrency int
}

func (c *HubConfig) norm() {
	if c.TypingTTL <= 0 {
		c.TypingTTL = 5 * time.Second
	}
	if c.StoreTimeout <= 0 {
		c.StoreTimeout = 2 * time.Second
	}
	if c.FanoutConcurrency <= 0 {
		c.FanoutConcurrency = 16
	}
}

// Hub is the process-wide connection registry and delivery point
type Hub struct {
	registry *registry
	locks    userLocks

	store   EphemeralStore
	conf    HubConfig
	logger  *utils.Logger
	metrics *metrics.Metrics
}

func NewHub(store EphemeralStore, conf HubConfig, logger *utils.Logger, m *metrics.Metrics) *Hub {
	conf.norm()
	return &Hub{
		registry: newRegistry(),
		store:    store,
		conf:     conf,
		logger:   logger.With("component", "hub"),
		metrics:  m,
	}
}

// Connect admits conn under userID. The first connection for a user marks
// them online and publishes the transition.
func (h *Hub) Connect(ctx context.Context, userID uint, conn Connection) {
	unlock := h.locks.lock(userID)
	defer unlock()

	added, t := h.registry.add(userID, conn)
	if !added {
		return
	}
	h.metrics.ConnectionOpened(t == TransitionOnline)
	h.logger.Debug("Connection admitted", "user_id", userID, "conn_id", conn.ID())

	if t == TransitionOnline {
		h.setPresence(ctx, userID, models.StatusOnline)
	}
}

// Disconnect removes conn. Removing the user's last connection marks them
// offline. Unknown connections are ignored.
func (h *Hub) Disconnect(ctx context.Context, userID uint, conn Connection) {
	unlock := h.locks.lock(userID)
	defer unlock()

	removed, t := h.registry.remove(userID, conn)
	if !removed {
		return
	}
	h.metrics.ConnectionClosed(t == TransitionOffline)
	h.logger.Debug("Connection removed", "user_id", userID, "conn_id", conn.ID())

	if t == TransitionOffline {
		h.setPresence(ctx, userID, models.StatusOffline)
	}
}

func (h *Hub) setPresence(ctx context.Context, userID uint, status models.PresenceStatus) {
	// The offline write must land even if the caller's context is gone
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), h.conf.StoreTimeout)
	defer cancel()

	if err := h.store.SetStatus(ctx, userID, status); err != nil {
		h.metrics.StoreError("set_status")
		h.logger.Warn("Failed to store presence", "user_id", userID, "status", status, "error", err)
	}
	if err := h.store.PublishStatus(ctx, models.StatusChange{UserID: userID, Status: status}); err != nil {
		h.metrics.StoreError("publish_status")
		h.logger.Warn("Failed to publish presence", "user_id", userID, "status", status, "error", err)
	}
	h.logger.Info("Presence changed", "user_id", userID, "status", status)
}

// SendToUser writes payload to every connection of userID. Connections
// that fail are reported, removed and closed; the error never reaches the
// caller. A user without connections is a silent no-op.
func (h *Hub) SendToUser(userID uint, payload interface{}) DeliveryReport {
	data, ok := h.encode(payload)
	if !ok {
		return DeliveryReport{}
	}
	return h.deliver(userID, h.registry.connections(userID), data)
}

// SendToUsers applies SendToUser to each distinct user, concurrently
func (h *Hub) SendToUsers(userIDs []uint, payload interface{}) DeliveryReport {
	if len(userIDs) == 0 {
		return DeliveryReport{}
	}
	data, ok := h.encode(payload)
	if !ok {
		return DeliveryReport{}
	}

	targets := make(map[uint][]Connection, len(userIDs))
	for _, id := range userIDs {
		if _, dup := targets[id]; dup {
			continue
		}
		targets[id] = h.registry.connections(id)
	}
	return h.fanout(targets, data)
}

// Broadcast writes payload to every registered connection
func (h *Hub) Broadcast(payload interface{}) DeliveryReport {
	data, ok := h.encode(payload)
	if !ok {
		return DeliveryReport{}
	}
	return h.fanout(h.registry.snapshot(), data)
}

// BroadcastExcept is Broadcast minus one user's connections
func (h *Hub) BroadcastExcept(userID uint, payload interface{}) DeliveryReport {
	data, ok := h.encode(payload)
	if !ok {
		return DeliveryReport{}
	}
	targets := h.registry.snapshot()
	delete(targets, userID)
	return h.fanout(targets, data)
}

func (h *Hub) fanout(targets map[uint][]Connection, data []byte) DeliveryReport {
	var (
		mu     sync.Mutex
		report DeliveryReport
		g      errgroup.Group
	)
	g.SetLimit(h.conf.FanoutConcurrency)

	for userID, conns := range targets {
		if len(conns) == 0 {
			continue
		}
		userID, conns := userID, conns
		g.Go(func() error {
			r := h.deliver(userID, conns, data)
			mu.Lock()
			report.merge(r)
			mu.Unlock()
			return nil
		})
	}
	_ = g.Wait()
	return report
}

// deliver runs without the registry lock held
func (h *Hub) deliver(userID uint, conns []Connection, data []byte) DeliveryReport {
	var report DeliveryReport
	if len(conns) == 0 {
		return report
	}
	report.Recipients = 1

	for _, c := range conns {
		if err := c.Send(data); err != nil {
			report.Failed = append(report.Failed, DeliveryFailure{UserID: userID, ConnID: c.ID(), Err: err})
			h.dropFailed(userID, c, err)
			continue
		}
		report.Delivered++
	}
	h.metrics.Delivered(report.Delivered, len(report.Failed))
	return report
}

// dropFailed treats a failed write as an implicit disconnect
func (h *Hub) dropFailed(userID uint, conn Connection, err error) {
	h.logger.Warn("Delivery failed, dropping connection", "user_id", userID, "conn_id", conn.ID(), "error", err)
	h.Disconnect(context.Background(), userID, conn)
	_ = conn.Close()
}

func (h *Hub) encode(payload interface{}) ([]byte, bool) {
	switch p := payload.(type) {
	case []byte:
		return p, true
	case json.RawMessage:
		return p, true
	}
	data, err := json.Marshal(payload)
	if err != nil {
		h.logger.Error("Failed to marshal payload", "error", err)
		return nil, false
	}
	return data, true
}

// SetTyping sets or clears the (chat, user) typing indicator. It does not
// notify anyone.
func (h *Hub) SetTyping(ctx context.Context, chatID, userID uint, isTyping bool) error {
	ctx, cancel := context.WithTimeout(ctx, h.conf.StoreTimeout)
	defer cancel()

	var err error
	if isTyping {
		err = h.store.SetTyping(ctx, chatID, userID, h.conf.TypingTTL)
	} else {
		err = h.store.ClearTyping(ctx, chatID, userID)
	}
	if err != nil {
		h.metrics.StoreError("set_typing")
		return err
	}
	return nil
}

// GetTypingUsers returns the users with a live typing indicator in chatID.
// Store failures degrade to an empty set.
func (h *Hub) GetTypingUsers(ctx context.Context, chatID uint) []uint {
	ctx, cancel := context.WithTimeout(ctx, h.conf.StoreTimeout)
	defer cancel()

	users, err := h.store.TypingUsers(ctx, chatID)
	if err != nil {
		h.metrics.StoreError("typing_users")
		h.logger.Warn("Failed to read typing users", "chat_id", chatID, "error", err)
		return []uint{}
	}
	return users
}

// GetUserStatus returns the stored presence, offline when unknown or when
// the store cannot be reached
func (h *Hub) GetUserStatus(ctx context.Context, userID uint) models.PresenceStatus {
	ctx, cancel := context.WithTimeout(ctx, h.conf.StoreTimeout)
	defer cancel()

	status, err := h.store.GetStatus(ctx, userID)
	if err != nil {
		h.metrics.StoreError("get_status")
		h.logger.Warn("Failed to read presence", "user_id", userID, "error", err)
		return models.StatusOffline
	}
	return status
}

// IsConnected reports whether userID has a connection on this instance
func (h *Hub) IsConnected(userID uint) bool {
	return h.registry.has(userID)
}

func (h *Hub) ConnectionCount() int {
	_, conns := h.registry.counts()
	return conns
}

func (h *Hub) OnlineUserCount() int {
	users, _ := h.registry.counts()
	return users
}

// Shutdown disconnects and closes every connection, marking each local
// user offline
func (h *Hub) Shutdown(ctx context.Context) {
	all := h.registry.snapshot()
	n := 0
	for userID, conns := range all {
		for _, c := range conns {
			h.Disconnect(ctx, userID, c)
			_ = c.Close()
			n++
		}
	}
	h.logger.Info("Hub stopped", "closed_connections", n)
}
