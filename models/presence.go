package models

// PresenceStatus is the stored presence level of a user
type PresenceStatus string

const (
	StatusOnline  PresenceStatus = "online"
	StatusOffline PresenceStatus = "offline"
)

// Valid reports whether s is one of the known levels
func (s PresenceStatus) Valid() bool {
	return s == StatusOnline || s == StatusOffline
}

// StatusChange is published on every 0->1 and 1->0 connection transition
type StatusChange struct {
	UserID uint           `json:"user_id"`
	Status PresenceStatus `json:"status"`
}

// UserStatusData is the payload of the user_status event
type UserStatusData struct {
	UserID uint           `json:"user_id"`
	Status PresenceStatus `json:"status"`
}

type StatusResponse struct {
	UserID uint           `json:"user_id"`
	Status PresenceStatus `json:"status"`
}

type TypingUsersResponse struct {
	ChatID  uint   `json:"chat_id"`
	UserIDs []uint `json:"user_ids"`
}
