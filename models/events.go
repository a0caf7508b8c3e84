package models

import (
	"encoding/json"
	"time"
)

// Inbound event types
const (
	EventTyping       = "typing"
	EventWebRTCSignal = "webrtc_signal"
	EventMessageRead  = "message_read"
	EventPing         = "ping"
)

// Outbound event types
const (
	EventPong         = "pong"
	EventUserTyping   = "user_typing"
	EventNewMessage   = "new_message"
	EventUserStatus   = "user_status"
	EventIncomingCall = "incoming_call"
	EventCallAccepted = "call_accepted"
	EventCallRejected = "call_rejected"
	EventCallEnded    = "call_ended"
)

// InboundEvent is a decoded client frame. Only Type is common to every
// shape; the remaining fields are event specific.
type InboundEvent struct {
	Type         string          `json:"type"`
	ChatID       *uint           `json:"chat_id,omitempty"`
	IsTyping     *bool           `json:"is_typing,omitempty"`
	TargetUserID *uint           `json:"target_user_id,omitempty"`
	MessageID    *uint           `json:"message_id,omitempty"`
	Data         json.RawMessage `json:"data,omitempty"`
}

// Envelope is the outbound frame pushed by the hub
type Envelope struct {
	Type string      `json:"type"`
	Data interface{} `json:"data,omitempty"`
}

// NewEnvelope wraps data under a type
func NewEnvelope(eventType string, data interface{}) Envelope {
	return Envelope{Type: eventType, Data: data}
}

// Pong is the reply to a ping; it carries no data
var Pong = Envelope{Type: EventPong}

type UserTypingData struct {
	ChatID   uint   `json:"chat_id"`
	UserID   uint   `json:"user_id"`
	IsTyping bool   `json:"is_typing"`
	Username string `json:"username"`
}

type WebRTCSignalData struct {
	FromUserID uint            `json:"from_user_id"`
	SignalType string          `json:"signal_type"`
	Signal     json.RawMessage `json:"signal"`
}

type MessageReadData struct {
	MessageID uint `json:"message_id"`
	UserID    uint `json:"user_id"`
	ChatID    uint `json:"chat_id"`
}

// UserSummary is the embedded sender/initiator block
type UserSummary struct {
	ID       uint   `json:"id"`
	Username string `json:"username"`
	Avatar   string `json:"avatar"`
}

type NewMessageData struct {
	ID          uint        `json:"id"`
	ChatID      uint        `json:"chat_id"`
	SenderID    uint        `json:"sender_id"`
	Content     string      `json:"content"`
	MessageType string      `json:"message_type"`
	CreatedAt   time.Time   `json:"created_at"`
	Sender      UserSummary `json:"sender"`
}

type IncomingCallData struct {
	CallID      uint        `json:"call_id"`
	ChatID      uint        `json:"chat_id"`
	InitiatorID uint        `json:"initiator_id"`
	CallType    string      `json:"call_type"`
	Initiator   UserSummary `json:"initiator"`
}

type CallAcceptedData struct {
	CallID   uint   `json:"call_id"`
	UserID   uint   `json:"user_id"`
	Username string `json:"username"`
}

type CallRejectedData struct {
	CallID uint `json:"call_id"`
	UserID uint `json:"user_id"`
}

type CallEndedData struct {
	CallID  uint `json:"call_id"`
	EndedBy uint `json:"ended_by"`
}
