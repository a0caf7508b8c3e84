package services

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/nazim05-hub/MessengerX/models"
	"github.com/nazim05-hub/MessengerX/utils"
)

const (
	relayMinBackoff = 500 * time.Millisecond
	relayMaxBackoff = 30 * time.Second
)

// PresenceRelay pushes presence changes published by any instance to the
// users connected to this one
type PresenceRelay struct {
	hub    *Hub
	store  EphemeralStore
	logger *utils.Logger

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

func NewPresenceRelay(hub *Hub, store EphemeralStore, logger *utils.Logger) *PresenceRelay {
	return &PresenceRelay{
		hub:    hub,
		store:  store,
		logger: logger.With("component", "presence_relay"),
	}
}

// Start runs the subscription loop in the background until Stop
func (p *PresenceRelay) Start(ctx context.Context) {
	p.ctx, p.cancel = context.WithCancel(ctx)
	p.wg.Add(1)
	go p.listen()
	p.logger.Info("Presence relay started")
}

func (p *PresenceRelay) Stop() {
	if p.cancel == nil {
		return
	}
	p.cancel()
	p.wg.Wait()
	p.logger.Info("Presence relay stopped")
}

func (p *PresenceRelay) listen() {
	defer p.wg.Done()

	backoff := relayMinBackoff
	for {
		started := time.Now()
		err := p.store.Subscribe(p.ctx, p.relay)
		if p.ctx.Err() != nil {
			return
		}
		if err != nil && !errors.Is(err, context.Canceled) {
			p.logger.Error("Presence subscription failed", "error", err, "retry_in", backoff)
		}

		// A subscription that stayed up for a while resets the backoff
		if time.Since(started) > relayMaxBackoff {
			backoff = relayMinBackoff
		}

		select {
		case <-p.ctx.Done():
			return
		case <-time.After(backoff):
		}

		backoff *= 2
		if backoff > relayMaxBackoff {
			backoff = relayMaxBackoff
		}
	}
}

func (p *PresenceRelay) relay(change models.StatusChange) {
	if change.UserID == 0 || !change.Status.Valid() {
		p.logger.Debug("Ignoring invalid presence change", "user_id", change.UserID, "status", change.Status)
		return
	}
	p.hub.BroadcastExcept(change.UserID, models.NewEnvelope(models.EventUserStatus, models.UserStatusData{
		UserID: change.UserID,
		Status: change.Status,
	}))
}
