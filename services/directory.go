package services

import (
	"context"
	"errors"
	"fmt"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/nazim05-hub/MessengerX/models"
)

// ErrNotFound is returned by Directory lookups that match no live row
var ErrNotFound = errors.New("not found")

// Directory is the read side of the relational store plus the one write
// this layer performs (read receipts)
type Directory interface {
	// ChatMembers returns an empty slice for unknown chats.
	ChatMembers(ctx context.Context, chatID uint) ([]uint, error)
	IsChatMember(ctx context.Context, chatID, userID uint) (bool, error)
	GetMessage(ctx context.Context, messageID uint) (*models.Message, error)
	// RecordRead is idempotent; created is true only for the first call per
	// (message, user) pair.
	RecordRead(ctx context.Context, messageID, userID uint) (created bool, err error)
	GetUser(ctx context.Context, userID uint) (*models.User, error)
}

// GormDirectory implements Directory on gorm
type GormDirectory struct {
	db *gorm.DB
}

func NewGormDirectory(db *gorm.DB) *GormDirectory {
	return &GormDirectory{db: db}
}

func (d *GormDirectory) ChatMembers(ctx context.Context, chatID uint) ([]uint, error) {
	members := []uint{}
	if err := d.db.WithContext(ctx).
		Model(&models.ChatParticipant{}).
		Where("chat_id = ?", chatID).
		Order("user_id").
		Pluck("user_id", &members).Error; err != nil {
		return nil, fmt.Errorf("failed to load chat members: %w", err)
	}
	return members, nil
}

func (d *GormDirectory) IsChatMember(ctx context.Context, chatID, userID uint) (bool, error) {
	var count int64
	if err := d.db.WithContext(ctx).
		Model(&models.ChatParticipant{}).
		Where("chat_id = ? AND user_id = ?", chatID, userID).
		Count(&count).Error; err != nil {
		return false, fmt.Errorf("failed to check chat membership: %w", err)
	}
	return count > 0, nil
}

func (d *GormDirectory) GetMessage(ctx context.Context, messageID uint) (*models.Message, error) {
	var msg models.Message
	if err := d.db.WithContext(ctx).First(&msg, messageID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to load message: %w", err)
	}
	return &msg, nil
}

// RecordRead relies on the unique (message_id, user_id) index so that two
// concurrent reads of the same pair create exactly one row
func (d *GormDirectory) RecordRead(ctx context.Context, messageID, userID uint) (bool, error) {
	read := models.MessageRead{MessageID: messageID, UserID: userID}
	result := d.db.WithContext(ctx).
		Clauses(clause.OnConflict{DoNothing: true}).
		Create(&read)
	if result.Error != nil {
		return false, fmt.Errorf("failed to record message read: %w", result.Error)
	}
	return result.RowsAffected > 0, nil
}

func (d *GormDirectory) GetUser(ctx context.Context, userID uint) (*models.User, error) {
	var user models.User
	if err := d.db.WithContext(ctx).First(&user, userID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to load user: %w", err)
	}
	return &user, nil
}
