package services

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/nazim05-hub/MessengerX/metrics"
	"github.com/nazim05-hub/MessengerX/models"
	"github.com/nazim05-hub/MessengerX/utils"
)

// ErrMalformedEvent marks frames that cannot be decoded or lack a required field
var ErrMalformedEvent = errors.New("malformed event")

// Client is the authenticated sender of an inbound frame
type Client struct {
	UserID   uint
	Username string
	Conn     Connection
}

type eventHandler func(ctx context.Context, client Client, ev *models.InboundEvent) error

// Router resolves recipients and payloads for inbound client events
type Router struct {
	hub      *Hub
	dir      Directory
	logger   *utils.Logger
	metrics  *metrics.Metrics
	handlers map[string]eventHandler
}

func NewRouter(hub *Hub, dir Directory, logger *utils.Logger, m *metrics.Metrics) *Router {
	r := &Router{
		hub:     hub,
		dir:     dir,
		logger:  logger.With("component", "router"),
		metrics: m,
	}
	r.handlers = map[string]eventHandler{
		models.EventTyping:       r.handleTyping,
		models.EventWebRTCSignal: r.handleWebRTCSignal,
		models.EventMessageRead:  r.handleMessageRead,
		models.EventPing:         r.handlePing,
	}
	return r
}

// Dispatch handles one raw frame. It never fails the connection: bad
// frames are logged and dropped, unknown types are ignored.
func (r *Router) Dispatch(ctx context.Context, client Client, frame []byte) {
	var ev models.InboundEvent
	if err := json.Unmarshal(frame, &ev); err != nil {
		r.metrics.Inbound("", "malformed")
		r.logger.Warn("Dropping undecodable frame", "user_id", client.UserID, "error", err)
		return
	}

	handler, ok := r.handlers[ev.Type]
	if !ok {
		r.metrics.Inbound("unknown", "ignored")
		r.logger.Debug("Ignoring unknown event type", "user_id", client.UserID, "type", ev.Type)
		return
	}

	if err := handler(ctx, client, &ev); err != nil {
		if errors.Is(err, ErrMalformedEvent) {
			r.metrics.Inbound(ev.Type, "malformed")
			r.logger.Warn("Dropping malformed event", "user_id", client.UserID, "type", ev.Type, "error", err)
			return
		}
		r.metrics.Inbound(ev.Type, "failed")
		r.logger.Error("Event handling failed", "user_id", client.UserID, "type", ev.Type, "error", err)
		return
	}
	r.metrics.Inbound(ev.Type, "handled")
}

func (r *Router) handleTyping(ctx context.Context, client Client, ev *models.InboundEvent) error {
	if ev.ChatID == nil {
		return fmt.Errorf("%w: typing without chat_id", ErrMalformedEvent)
	}
	chatID := *ev.ChatID
	isTyping := true
	if ev.IsTyping != nil {
		isTyping = *ev.IsTyping
	}

	members, err := r.dir.ChatMembers(ctx, chatID)
	if err != nil {
		return err
	}

	// Unknown chats and non-members resolve to nobody
	recipients := make([]uint, 0, len(members))
	isMember := false
	for _, id := range members {
		if id == client.UserID {
			isMember = true
			continue
		}
		recipients = append(recipients, id)
	}
	if !isMember {
		r.logger.Debug("Typing for chat the sender is not in", "user_id", client.UserID, "chat_id", chatID)
		return nil
	}

	if err := r.hub.SetTyping(ctx, chatID, client.UserID, isTyping); err != nil {
		// Peers still get the live event
		r.logger.Warn("Failed to store typing state", "chat_id", chatID, "user_id", client.UserID, "error", err)
	}

	r.hub.SendToUsers(recipients, models.NewEnvelope(models.EventUserTyping, models.UserTypingData{
		ChatID:   chatID,
		UserID:   client.UserID,
		IsTyping: isTyping,
		Username: client.Username,
	}))
	return nil
}

func (r *Router) handleWebRTCSignal(_ context.Context, client Client, ev *models.InboundEvent) error {
	if ev.TargetUserID == nil {
		return fmt.Errorf("%w: webrtc_signal without target_user_id", ErrMalformedEvent)
	}

	signal := ev.Data
	if len(signal) == 0 {
		signal = json.RawMessage("null")
	}

	var inner struct {
		Type string `json:"type"`
	}
	// Non-object signals are forwarded with an empty signal_type
	_ = json.Unmarshal(signal, &inner)

	r.hub.SendToUser(*ev.TargetUserID, models.NewEnvelope(models.EventWebRTCSignal, models.WebRTCSignalData{
		FromUserID: client.UserID,
		SignalType: inner.Type,
		Signal:     signal,
	}))
	return nil
}

func (r *Router) handleMessageRead(ctx context.Context, client Client, ev *models.InboundEvent) error {
	if ev.MessageID == nil {
		return fmt.Errorf("%w: message_read without message_id", ErrMalformedEvent)
	}
	messageID := *ev.MessageID

	msg, err := r.dir.GetMessage(ctx, messageID)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			r.logger.Debug("Read receipt for unknown message", "message_id", messageID, "user_id", client.UserID)
			return nil
		}
		return err
	}

	created, err := r.dir.RecordRead(ctx, messageID, client.UserID)
	if err != nil {
		return err
	}
	if !created {
		return nil
	}

	r.hub.SendToUser(msg.SenderID, models.NewEnvelope(models.EventMessageRead, models.MessageReadData{
		MessageID: messageID,
		UserID:    client.UserID,
		ChatID:    msg.ChatID,
	}))
	return nil
}

// handlePing answers on the sender's own connection only
func (r *Router) handlePing(_ context.Context, client Client, _ *models.InboundEvent) error {
	data, err := json.Marshal(models.Pong)
	if err != nil {
		return err
	}
	if err := client.Conn.Send(data); err != nil {
		r.logger.Debug("Failed to send pong", "user_id", client.UserID, "error", err)
	}
	return nil
}
