package chat

import (
	"context"

	"github.com/iyunix/go-madlen/internal/domain"
)

// ChatRepository handles chat data operations.
type ChatRepository interface {
	Create(ctx context.Context, chat *domain.Chat) (*domain.Chat, error)
	FindByID(ctx context.Context, chatID string) (*domain.Chat, error)
	FindWithMessages(ctx context.Context, chatID string) (*domain.Chat, error)
	FindRecent(ctx context.Context, limit int) ([]domain.Chat, error)
	ExistsByID(ctx context.Context, chatID string) (bool, error)
	UpdateTitle(ctx context.Context, chatID, title string) (*domain.Chat, error)
	Delete(ctx context.Context, chatID string) (*domain.Chat, error)
}
