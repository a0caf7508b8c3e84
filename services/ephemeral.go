package services

import (
	"context"
	"strconv"
	"time"

	"github.com/nazim05-hub/MessengerX/models"
)

const (
	statusKeyPrefix = "user_status:"
	typingKeyPrefix = "typing:"

	// StatusChannel carries cross-process presence change notifications
	StatusChannel = "user_status"
)

// EphemeralStore holds presence levels and expiring typing indicators, and
// doubles as the bus for presence change notifications.
//
// Expiry is owned by the store: a typing indicator disappears from
// TypingUsers once its TTL lapses, without anyone calling ClearTyping.
type EphemeralStore interface {
	SetStatus(ctx context.Context, userID uint, status models.PresenceStatus) error
	// GetStatus returns StatusOffline for users that were never recorded.
	GetStatus(ctx context.Context, userID uint) (models.PresenceStatus, error)
	PublishStatus(ctx context.Context, change models.StatusChange) error
	// Subscribe blocks, invoking fn for every published change, until ctx
	// is done or the subscription fails.
	Subscribe(ctx context.Context, fn func(models.StatusChange)) error

	SetTyping(ctx context.Context, chatID, userID uint, ttl time.Duration) error
	ClearTyping(ctx context.Context, chatID, userID uint) error
	TypingUsers(ctx context.Context, chatID uint) ([]uint, error)

	Ping(ctx context.Context) error
	Close() error
}

func statusKey(userID uint) string {
	return statusKeyPrefix + strconv.FormatUint(uint64(userID), 10)
}

func typingKey(chatID, userID uint) string {
	return typingPrefix(chatID) + strconv.FormatUint(uint64(userID), 10)
}

func typingPrefix(chatID uint) string {
	return typingKeyPrefix + strconv.FormatUint(uint64(chatID), 10) + ":"
}

// parseTrailingID extracts the user id from a typing key
func parseTrailingID(key, prefix string) (uint, bool) {
	if len(key) <= len(prefix) || key[:len(prefix)] != prefix {
		return 0, false
	}
	n, err := strconv.ParseUint(key[len(prefix):], 10, 64)
	if err != nil {
		return 0, false
	}
	return uint(n), true
}
