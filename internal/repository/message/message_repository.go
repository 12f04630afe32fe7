// File: internal/repository/message/message_repository.go

package message

import (
	"context"
	"errors"
	"fmt"
	"log"

	"github.com/iyunix/go-madlen/internal/domain"
	"gorm.io/gorm"
)

type gormMessageRepository struct {
	db *gorm.DB
}

func NewMessageRepository(db *gorm.DB) MessageRepository {
	return &gormMessageRepository{db: db}
}

// Create appends a message. There is no update path: messages are immutable.
func (r *gormMessageRepository) Create(ctx context.Context, message *domain.Message) (*domain.Message, error) {
	if err := r.validateMessageInput(message); err != nil {
		log.Printf("[MessageRepository] Validation failed: %v", err)
		return nil, fmt.Errorf("validation failed: %w", err)
	}

	if err := r.db.WithContext(ctx).Create(message).Error; err != nil {
		// Content is never logged; it may carry user data.
		log.Printf("[MessageRepository] Database error during message creation for chat ID %s: %v", message.ChatID, err)
		return nil, errors.New("database error creating message")
	}

	log.Printf("[MessageRepository] Message created successfully with ID: %d for chat: %s", message.ID, message.ChatID)
	return message, nil
}

// FindByChatID returns a chat's messages in insertion order.
func (r *gormMessageRepository) FindByChatID(ctx context.Context, chatID string) ([]domain.Message, error) {
	if chatID == "" {
		return nil, errors.New("invalid chat ID")
	}

	messages := []domain.Message{}
	err := r.db.WithContext(ctx).
		Where("chat_id = ?", chatID).
		Order("created_at ASC, id ASC").
		Find(&messages).Error
	if err != nil {
		log.Printf("[MessageRepository] Database error finding messages for chat ID %s: %v", chatID, err)
		return nil, errors.New("database error fetching messages")
	}

	return messages, nil
}

// FindFirstByChatIDs returns the earliest message of each chat in one query.
// Ids grow with insertion, so the smallest id per chat is its first turn.
func (r *gormMessageRepository) FindFirstByChatIDs(ctx context.Context, chatIDs []string) (map[string]domain.Message, error) {
	firsts := make(map[string]domain.Message, len(chatIDs))
	if len(chatIDs) == 0 {
		return firsts, nil
	}

	earliest := r.db.Model(&domain.Message{}).
		Select("MIN(id)").
		Where("chat_id IN ?", chatIDs).
		Group("chat_id")

	var messages []domain.Message
	err := r.db.WithContext(ctx).
		Where("id IN (?)", earliest).
		Find(&messages).Error
	if err != nil {
		log.Printf("[MessageRepository] Database error finding first messages for %d chats: %v", len(chatIDs), err)
		return nil, errors.New("database error fetching chat previews")
	}

	for _, m := range messages {
		firsts[m.ChatID] = m
	}
	return firsts, nil
}

func (r *gormMessageRepository) CountByChatID(ctx context.Context, chatID string) (int64, error) {
	if chatID == "" {
		return 0, errors.New("invalid chat ID")
	}

	var count int64
	err := r.db.WithContext(ctx).Model(&domain.Message{}).Where("chat_id = ?", chatID).Count(&count).Error
	if err != nil {
		log.Printf("[MessageRepository] Database error counting messages for chat ID %s: %v", chatID, err)
		return 0, errors.New("database error counting messages")
	}

	return count, nil
}

// validateMessageInput enforces the parent chat and the role enum.
func (r *gormMessageRepository) validateMessageInput(message *domain.Message) error {
	if message == nil {
		return errors.New("message cannot be nil")
	}
	if message.ChatID == "" {
		return errors.New("chat ID is required")
	}
	if !domain.IsValidRole(message.Role) {
		return fmt.Errorf("invalid role %q", message.Role)
	}
	return nil
}
