// File: internal/repository/chat/chat_repository.go

package chat

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strings"

	"github.com/iyunix/go-madlen/internal/domain"
	"gorm.io/gorm"
)

var ErrChatNotFound = errors.New("chat not found")

const (
	MaxTitleLength = 200
	MaxRecentChats = 100
)

type gormChatRepository struct {
	db *gorm.DB
}

func NewChatRepository(db *gorm.DB) ChatRepository {
	return &gormChatRepository{db: db}
}

// Create inserts a chat. The id is assigned by the model hook when empty.
func (r *gormChatRepository) Create(ctx context.Context, chat *domain.Chat) (*domain.Chat, error) {
	if err := r.validateChatInput(chat); err != nil {
		log.Printf("[ChatRepository] Validation failed: %v", err)
		return nil, fmt.Errorf("validation failed: %w", err)
	}

	if err := r.db.WithContext(ctx).Omit("Messages").Create(chat).Error; err != nil {
		log.Printf("[ChatRepository] Database error during chat creation: %v", err)
		return nil, errors.New("database error creating chat")
	}

	log.Printf("[ChatRepository] Chat created successfully with ID: %s", chat.ID)
	return chat, nil
}

func (r *gormChatRepository) FindByID(ctx context.Context, chatID string) (*domain.Chat, error) {
	if chatID == "" {
		return nil, ErrChatNotFound
	}

	var chat domain.Chat
	err := r.db.WithContext(ctx).Where("id = ?", chatID).First(&chat).Error
	return r.handleFindError(err, &chat, "FindByID")
}

// FindWithMessages loads a chat and its whole history, oldest first. Message
// ids break timestamp ties so the order always matches insertion order.
func (r *gormChatRepository) FindWithMessages(ctx context.Context, chatID string) (*domain.Chat, error) {
	if chatID == "" {
		return nil, ErrChatNotFound
	}

	var chat domain.Chat
	err := r.db.WithContext(ctx).
		Preload("Messages", func(db *gorm.DB) *gorm.DB {
			return db.Order("created_at ASC, id ASC")
		}).
		Where("id = ?", chatID).
		First(&chat).Error
	found, err := r.handleFindError(err, &chat, "FindWithMessages")
	if err != nil {
		return nil, err
	}
	if found.Messages == nil {
		found.Messages = []domain.Message{}
	}
	return found, nil
}

// FindRecent returns the newest chats first. Messages are not loaded.
func (r *gormChatRepository) FindRecent(ctx context.Context, limit int) ([]domain.Chat, error) {
	if limit <= 0 || limit > MaxRecentChats {
		return nil, fmt.Errorf("invalid limit: must be between 1 and %d", MaxRecentChats)
	}

	var chats []domain.Chat
	err := r.db.WithContext(ctx).
		Order("created_at DESC").
		Limit(limit).
		Find(&chats).Error
	if err != nil {
		log.Printf("[ChatRepository] Database error finding recent chats: %v", err)
		return nil, errors.New("database error fetching chats")
	}

	return chats, nil
}

func (r *gormChatRepository) ExistsByID(ctx context.Context, chatID string) (bool, error) {
	if chatID == "" {
		return false, nil
	}

	var count int64
	err := r.db.WithContext(ctx).Model(&domain.Chat{}).Where("id = ?", chatID).Count(&count).Error
	if err != nil {
		log.Printf("[ChatRepository] Database error checking chat existence for ID %s: %v", chatID, err)
		return false, errors.New("database error checking chat existence")
	}

	return count > 0, nil
}

// UpdateTitle overwrites the title and returns the fresh row. A missing row,
// including one deleted by a concurrent request, yields ErrChatNotFound.
func (r *gormChatRepository) UpdateTitle(ctx context.Context, chatID, title string) (*domain.Chat, error) {
	if chatID == "" {
		return nil, ErrChatNotFound
	}
	if err := r.validateChatTitle(title); err != nil {
		return nil, fmt.Errorf("title validation: %w", err)
	}

	result := r.db.WithContext(ctx).
		Model(&domain.Chat{}).
		Where("id = ?", chatID).
		Update("title", title)
	if result.Error != nil {
		log.Printf("[ChatRepository] Database error updating title for chat ID %s: %v", chatID, result.Error)
		return nil, errors.New("database error updating chat title")
	}
	if result.RowsAffected == 0 {
		return nil, ErrChatNotFound
	}

	return r.FindByID(ctx, chatID)
}

// Delete removes the chat's messages and then the chat row in one
// transaction and returns the chat as it was before deletion.
func (r *gormChatRepository) Delete(ctx context.Context, chatID string) (*domain.Chat, error) {
	if chatID == "" {
		return nil, ErrChatNotFound
	}

	var deleted domain.Chat
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("id = ?", chatID).First(&deleted).Error; err != nil {
			return err
		}
		if err := tx.Where("chat_id = ?", chatID).Delete(&domain.Message{}).Error; err != nil {
			return err
		}
		result := tx.Where("id = ?", chatID).Delete(&domain.Chat{})
		if result.Error != nil {
			return result.Error
		}
		if result.RowsAffected == 0 {
			return gorm.ErrRecordNotFound
		}
		return nil
	})
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrChatNotFound
		}
		log.Printf("[ChatRepository] Database error deleting chat ID %s: %v", chatID, err)
		return nil, errors.New("database error deleting chat")
	}

	log.Printf("[ChatRepository] Chat deleted successfully: ID %s", chatID)
	return &deleted, nil
}

// ===== VALIDATION HELPERS =====

func (r *gormChatRepository) validateChatInput(chat *domain.Chat) error {
	if chat == nil {
		return errors.New("chat cannot be nil")
	}
	return r.validateChatTitle(chat.Title)
}

func (r *gormChatRepository) validateChatTitle(title string) error {
	if strings.TrimSpace(title) == "" {
		return errors.New("title cannot be empty")
	}
	if len([]rune(title)) > MaxTitleLength {
		return fmt.Errorf("title must be %d characters or less", MaxTitleLength)
	}
	return nil
}

// ===== ERROR HANDLING HELPERS =====

// handleFindError maps gorm's not-found error to ErrChatNotFound and hides
// other database details from callers.
func (r *gormChatRepository) handleFindError(err error, chat *domain.Chat, operation string) (*domain.Chat, error) {
	if err == nil {
		return chat, nil
	}

	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrChatNotFound
	}

	log.Printf("[ChatRepository] %s database error: %v", operation, err)
	return nil, errors.New("database query failed")
}
