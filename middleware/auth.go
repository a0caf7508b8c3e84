package middleware

import (
	"crypto/subtle"
	"errors"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/nazim05-hub/MessengerX/services"
)

const (
	// UserIDKey is the gin context key holding the authenticated user ID
	UserIDKey = "userID"
	// UserKey holds the resolved *models.User
	UserKey = "user"

	internalTokenHeader = "X-Internal-Token"
)

// Auth authenticates API requests through the session gate
func Auth(gate *services.SessionGate) gin.HandlerFunc {
	return func(c *gin.Context) {
		tokenString := ExtractToken(c.Request)
		if tokenString == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "Missing authorization token"})
			return
		}

		user, err := gate.Authenticate(c.Request.Context(), tokenString)
		if err != nil {
			if errors.Is(err, services.ErrAuthRejected) {
				c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "Invalid token"})
				return
			}
			_ = c.Error(err)
			c.AbortWithStatusJSON(http.StatusServiceUnavailable, gin.H{"error": "Authentication unavailable"})
			return
		}

		c.Set(UserIDKey, user.ID)
		c.Set(UserKey, user)
		c.Next()
	}
}

// ExtractToken reads the Authorization header first, then the token query
// parameter used by browser WebSocket clients
func ExtractToken(r *http.Request) string {
	bearerToken := r.Header.Get("Authorization")
	if strings.HasPrefix(bearerToken, "Bearer ") {
		return strings.TrimSpace(strings.TrimPrefix(bearerToken, "Bearer "))
	}

	return r.URL.Query().Get("token")
}

// InternalAuth guards the service-to-service fan-out endpoints
func InternalAuth(token string) gin.HandlerFunc {
	expected := []byte(token)
	return func(c *gin.Context) {
		got := []byte(c.GetHeader(internalTokenHeader))
		if len(expected) == 0 || subtle.ConstantTimeCompare(got, expected) != 1 {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "Invalid internal token"})
			return
		}
		c.Next()
	}
}
