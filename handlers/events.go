package handlers

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/nazim05-hub/MessengerX/models"
	"github.com/nazim05-hub/MessengerX/services"
	"github.com/nazim05-hub/MessengerX/utils"
)

// EventsHandler exposes the hub's fan-out to the messenger API, which
// calls it after persisting messages and call state
type EventsHandler struct {
	hub      *services.Hub
	notifier *services.Notifier
	dir      services.Directory
	logger   *utils.Logger
}

func NewEventsHandler(hub *services.Hub, notifier *services.Notifier, dir services.Directory, logger *utils.Logger) *EventsHandler {
	return &EventsHandler{
		hub:      hub,
		notifier: notifier,
		dir:      dir,
		logger:   logger,
	}
}

type deliveryResponse struct {
	Recipients int `json:"recipients"`
	Delivered  int `json:"delivered"`
	Failed     int `json:"failed"`
}

func respondReport(c *gin.Context, report services.DeliveryReport) {
	c.JSON(http.StatusOK, deliveryResponse{
		Recipients: report.Recipients,
		Delivered:  report.Delivered,
		Failed:     len(report.Failed),
	})
}

type sendToUsersRequest struct {
	UserIDs []uint          `json:"user_ids" binding:"required"`
	Type    string          `json:"type" binding:"required"`
	Data    json.RawMessage `json:"data"`
}

type broadcastRequest struct {
	Type string          `json:"type" binding:"required"`
	Data json.RawMessage `json:"data"`
}

type newMessageRequest struct {
	MessageID uint `json:"message_id" binding:"required"`
}

type incomingCallRequest struct {
	ChatID      uint   `json:"chat_id" binding:"required"`
	InitiatorID uint   `json:"initiator_id" binding:"required"`
	CallType    string `json:"call_type"`
}

type callAnswerRequest struct {
	InitiatorID uint `json:"initiator_id" binding:"required"`
	UserID      uint `json:"user_id" binding:"required"`
}

type callEndedRequest struct {
	ChatID  uint `json:"chat_id" binding:"required"`
	EndedBy uint `json:"ended_by" binding:"required"`
}

func envelope(eventType string, data json.RawMessage) models.Envelope {
	env := models.Envelope{Type: eventType}
	if len(data) > 0 {
		env.Data = data
	}
	return env
}

func (eh *EventsHandler) SendToUsers(c *gin.Context) {
	var req sendToUsersRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	respondReport(c, eh.hub.SendToUsers(req.UserIDs, envelope(req.Type, req.Data)))
}

func (eh *EventsHandler) Broadcast(c *gin.Context) {
	var req broadcastRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	respondReport(c, eh.hub.Broadcast(envelope(req.Type, req.Data)))
}

func (eh *EventsHandler) NewMessage(c *gin.Context) {
	chatID, ok := parseIDParam(c, "chat_id")
	if !ok {
		return
	}
	var req newMessageRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	ctx := c.Request.Context()
	msg, err := eh.dir.GetMessage(ctx, req.MessageID)
	if err != nil {
		eh.lookupFailed(c, "message", err)
		return
	}
	if msg.ChatID != chatID {
		c.JSON(http.StatusNotFound, gin.H{"error": "Message not found in chat"})
		return
	}
	sender, err := eh.dir.GetUser(ctx, msg.SenderID)
	if err != nil {
		eh.lookupFailed(c, "sender", err)
		return
	}

	report, err := eh.notifier.NotifyNewMessage(ctx, *msg, *sender)
	if err != nil {
		eh.logger.Error("Failed to notify new message", "message_id", msg.ID, "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Internal server error"})
		return
	}
	respondReport(c, report)
}

func (eh *EventsHandler) IncomingCall(c *gin.Context) {
	callID, ok := parseIDParam(c, "call_id")
	if !ok {
		return
	}
	var req incomingCallRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if req.CallType == "" {
		req.CallType = "audio"
	}

	ctx := c.Request.Context()
	initiator, err := eh.dir.GetUser(ctx, req.InitiatorID)
	if err != nil {
		eh.lookupFailed(c, "initiator", err)
		return
	}

	report, err := eh.notifier.NotifyIncomingCall(ctx, callID, req.ChatID, req.CallType, *initiator)
	if err != nil {
		eh.logger.Error("Failed to notify incoming call", "call_id", callID, "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Internal server error"})
		return
	}
	respondReport(c, report)
}

func (eh *EventsHandler) CallAccepted(c *gin.Context) {
	callID, ok := parseIDParam(c, "call_id")
	if !ok {
		return
	}
	var req callAnswerRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	accepter, err := eh.dir.GetUser(c.Request.Context(), req.UserID)
	if err != nil {
		eh.lookupFailed(c, "user", err)
		return
	}
	respondReport(c, eh.notifier.NotifyCallAccepted(callID, req.InitiatorID, *accepter))
}

func (eh *EventsHandler) CallRejected(c *gin.Context) {
	callID, ok := parseIDParam(c, "call_id")
	if !ok {
		return
	}
	var req callAnswerRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	respondReport(c, eh.notifier.NotifyCallRejected(callID, req.InitiatorID, req.UserID))
}

func (eh *EventsHandler) CallEnded(c *gin.Context) {
	callID, ok := parseIDParam(c, "call_id")
	if !ok {
		return
	}
	var req callEndedRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	report, err := eh.notifier.NotifyCallEnded(c.Request.Context(), callID, req.ChatID, req.EndedBy)
	if err != nil {
		eh.logger.Error("Failed to notify call ended", "call_id", callID, "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Internal server error"})
		return
	}
	respondReport(c, report)
}

func (eh *EventsHandler) lookupFailed(c *gin.Context, what string, err error) {
	if errors.Is(err, services.ErrNotFound) {
		c.JSON(http.StatusNotFound, gin.H{"error": what + " not found"})
		return
	}
	eh.logger.Error("Lookup failed", "entity", what, "error", err)
	c.JSON(http.StatusInternalServerError, gin.H{"error": "Internal server error"})
}
