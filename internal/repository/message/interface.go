// File: internal/repository/message/interface.go
package message

import (
	"context"

	"github.com/iyunix/go-madlen/internal/domain"
)

type MessageRepository interface {
	Create(ctx context.Context, message *domain.Message) (*domain.Message, error)
	FindByChatID(ctx context.Context, chatID string) ([]domain.Message, error)
	FindFirstByChatIDs(ctx context.Context, chatIDs []string) (map[string]domain.Message, error)
	CountByChatID(ctx context.Context, chatID string) (int64, error)
}
