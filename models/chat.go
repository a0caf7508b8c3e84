package models

import (
	"time"

	"gorm.io/gorm"
)

// User is the account record the gate resolves tokens against
type User struct {
	ID        uint           `json:"id" gorm:"primaryKey"`
	Email     string         `json:"email" gorm:"uniqueIndex;not null"`
	Username  string         `json:"username" gorm:"uniqueIndex;not null"`
	Avatar    string         `json:"avatar"`
	IsActive  bool           `json:"is_active" gorm:"default:false"`
	CreatedAt time.Time      `json:"created_at"`
	UpdatedAt time.Time      `json:"updated_at"`
	DeletedAt gorm.DeletedAt `json:"-" gorm:"index"`
}

func (User) TableName() string {
	return "users"
}

// Summary returns the block embedded in outbound payloads
func (u User) Summary() UserSummary {
	return UserSummary{ID: u.ID, Username: u.Username, Avatar: u.Avatar}
}

// Chat groups participants; membership lives in chat_participants
type Chat struct {
	ID        uint      `json:"id" gorm:"primaryKey"`
	Name      string    `json:"name"`
	IsGroup   bool      `json:"is_group" gorm:"default:false"`
	CreatedBy uint      `json:"created_by"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

func (Chat) TableName() string {
	return "chats"
}

// ChatParticipant is the membership row between chats and users
type ChatParticipant struct {
	ChatID uint `gorm:"primaryKey;autoIncrement:false"`
	UserID uint `gorm:"primaryKey;autoIncrement:false"`
}

func (ChatParticipant) TableName() string {
	return "chat_participants"
}

type Message struct {
	ID          uint           `json:"id" gorm:"primaryKey"`
	ChatID      uint           `json:"chat_id" gorm:"index;not null"`
	SenderID    uint           `json:"sender_id" gorm:"index;not null"`
	Content     string         `json:"content"`
	MessageType string         `json:"message_type" gorm:"default:text"`
	CreatedAt   time.Time      `json:"created_at"`
	UpdatedAt   time.Time      `json:"updated_at"`
	DeletedAt   gorm.DeletedAt `json:"-" gorm:"index"`
}

func (Message) TableName() string {
	return "messages"
}

// MessageRead records that a user has read a message; one row per pair
type MessageRead struct {
	ID        uint      `json:"id" gorm:"primaryKey"`
	MessageID uint      `json:"message_id" gorm:"not null;uniqueIndex:idx_message_reads_message_user"`
	UserID    uint      `json:"user_id" gorm:"not null;uniqueIndex:idx_message_reads_message_user"`
	ReadAt    time.Time `json:"read_at" gorm:"autoCreateTime"`
}

func (MessageRead) TableName() string {
	return "message_reads"
}

// All lists the models migrated in development
func All() []interface{} {
	return []interface{}{
		&User{},
		&Chat{},
		&ChatParticipant{},
		&Message{},
		&MessageRead{},
	}
}
