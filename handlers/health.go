package handlers

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/nazim05-hub/MessengerX/services"
)

type HealthResponse struct {
	Status      string    `json:"status"`
	Service     string    `json:"service"`
	Store       string    `json:"store"`
	Connections int       `json:"connections"`
	OnlineUsers int       `json:"online_users"`
	Timestamp   time.Time `json:"timestamp"`
}

// HealthCheck reports "degraded" rather than failing when the ephemeral
// store is down; live delivery keeps working without it
func HealthCheck(hub *services.Hub, store services.EphemeralStore) gin.HandlerFunc {
	return func(c *gin.Context) {
		ctx, cancel := context.WithTimeout(c.Request.Context(), 2*time.Second)
		defer cancel()

		response := HealthResponse{
			Status:      "healthy",
			Service:     "realtime-gateway",
			Store:       "ok",
			Connections: hub.ConnectionCount(),
			OnlineUsers: hub.OnlineUserCount(),
			Timestamp:   time.Now(),
		}
		if err := store.Ping(ctx); err != nil {
			response.Status = "degraded"
			response.Store = "unavailable"
		}

		c.JSON(http.StatusOK, response)
	}
}
