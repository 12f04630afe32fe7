// File: internal/domain/chat.go
package domain

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// Chat represents a single conversation thread.
type Chat struct {
	ID        string    `json:"id" gorm:"type:char(36);primaryKey"`
	Title     string    `json:"title" gorm:"size:200;not null"`
	CreatedAt time.Time `json:"createdAt" gorm:"index"`

	// Messages is only populated by the queries that need it (history, list preview).
	Messages []Message `json:"messages,omitempty" gorm:"foreignKey:ChatID"`
}

// BeforeCreate assigns an opaque id to new chats.
func (c *Chat) BeforeCreate(tx *gorm.DB) error {
	if c.ID == "" {
		c.ID = uuid.NewString()
	}
	return nil
}
