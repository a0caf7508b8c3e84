package services

import (
	"context"
	"fmt"

	"github.com/nazim05-hub/MessengerX/models"
)

// Notifier fans out the events produced by the HTTP-facing handlers once
// they have persisted a message or call change
type Notifier struct {
	hub *Hub
	dir Directory
}

func NewNotifier(hub *Hub, dir Directory) *Notifier {
	return &Notifier{hub: hub, dir: dir}
}

// NotifyNewMessage pushes new_message to every chat member except the sender
func (n *Notifier) NotifyNewMessage(ctx context.Context, msg models.Message, sender models.User) (DeliveryReport, error) {
	members, err := n.dir.ChatMembers(ctx, msg.ChatID)
	if err != nil {
		return DeliveryReport{}, fmt.Errorf("failed to resolve recipients: %w", err)
	}

	messageType := msg.MessageType
	if messageType == "" {
		messageType = "text"
	}

	return n.hub.SendToUsers(without(members, sender.ID), models.NewEnvelope(models.EventNewMessage, models.NewMessageData{
		ID:          msg.ID,
		ChatID:      msg.ChatID,
		SenderID:    sender.ID,
		Content:     msg.Content,
		MessageType: messageType,
		CreatedAt:   msg.CreatedAt,
		Sender:      sender.Summary(),
	})), nil
}

// NotifyIncomingCall rings every chat member except the initiator
func (n *Notifier) NotifyIncomingCall(ctx context.Context, callID, chatID uint, callType string, initiator models.User) (DeliveryReport, error) {
	members, err := n.dir.ChatMembers(ctx, chatID)
	if err != nil {
		return DeliveryReport{}, fmt.Errorf("failed to resolve recipients: %w", err)
	}

	return n.hub.SendToUsers(without(members, initiator.ID), models.NewEnvelope(models.EventIncomingCall, models.IncomingCallData{
		CallID:      callID,
		ChatID:      chatID,
		InitiatorID: initiator.ID,
		CallType:    callType,
		Initiator:   initiator.Summary(),
	})), nil
}

func (n *Notifier) NotifyCallAccepted(callID, initiatorID uint, accepter models.User) DeliveryReport {
	return n.hub.SendToUser(initiatorID, models.NewEnvelope(models.EventCallAccepted, models.CallAcceptedData{
		CallID:   callID,
		UserID:   accepter.ID,
		Username: accepter.Username,
	}))
}

func (n *Notifier) NotifyCallRejected(callID, initiatorID, userID uint) DeliveryReport {
	return n.hub.SendToUser(initiatorID, models.NewEnvelope(models.EventCallRejected, models.CallRejectedData{
		CallID: callID,
		UserID: userID,
	}))
}

// NotifyCallEnded tells every member, including whoever ended the call
func (n *Notifier) NotifyCallEnded(ctx context.Context, callID, chatID, endedBy uint) (DeliveryReport, error) {
	members, err := n.dir.ChatMembers(ctx, chatID)
	if err != nil {
		return DeliveryReport{}, fmt.Errorf("failed to resolve recipients: %w", err)
	}

	return n.hub.SendToUsers(members, models.NewEnvelope(models.EventCallEnded, models.CallEndedData{
		CallID:  callID,
		EndedBy: endedBy,
	})), nil
}

func without(ids []uint, exclude uint) []uint {
	out := make([]uint, 0, len(ids))
	for _, id := range ids {
		if id != exclude {
			out = append(out, id)
		}
	}
	return out
}
