package chat

import (
	"context"
	"errors"

	"github.com/iyunix/go-madlen/internal/domain"
)

var (
	ErrQueueFull   = errors.New("title queue is full")
	ErrQueueClosed = errors.New("title queue is closed")
)

// TitleQueue carries title jobs from request handlers to the title workers.
type TitleQueue interface {
	// Enqueue never blocks on a full queue; it returns ErrQueueFull instead.
	Enqueue(ctx context.Context, job TitleJob) error
	// Dequeue blocks until a job is available, ctx is done, or the queue closes.
	Dequeue(ctx context.Context) (TitleJob, error)
	Close() error
}

// TitleStore is the slice of the chat repository the title worker needs.
type TitleStore interface {
	UpdateTitle(ctx context.Context, id, title string) (*domain.Chat, error)
}
