// File: internal/domain/message.go
package domain

import "time"

const (
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// Message represents a single turn within a chat. Messages are never edited.
type Message struct {
	ID        uint      `json:"id" gorm:"primarykey"`
	ChatID    string    `json:"chatId" gorm:"type:char(36);not null;index"` // The chat this message belongs to
	Role      string    `json:"role" gorm:"size:16;not null"`               // "user" or "assistant"
	Content   string    `json:"content" gorm:"type:text;not null"`
	CreatedAt time.Time `json:"createdAt"`

	// Chat is only declared so the migration emits the foreign key.
	Chat *Chat `json:"-" gorm:"foreignKey:ChatID;references:ID;constraint:OnDelete:CASCADE"`
}

// IsValidRole reports whether role is one of the two message authors.
func IsValidRole(role string) bool {
	return role == RoleUser || role == RoleAssistant
}
