package chat

import "time"

// Logger defines the logging interface used across chat services
type Logger interface {
	Info(msg string, keysAndValues ...interface{})
	Error(msg string, keysAndValues ...interface{})
	Debug(msg string, keysAndValues ...interface{})
	Warn(msg string, keysAndValues ...interface{})
}

const (
	// ImageMarker prefixes the stored text of a user turn that carried an image.
	ImageMarker = "[Image] "
	// NoAnswerText is stored when the model replies without any text.
	NoAnswerText = "No answer."
)

// TitleJob asks for an auto-generated title for a freshly created chat.
type TitleJob struct {
	ChatID       string    `json:"chatId"`
	FirstMessage string    `json:"firstMessage"`
	EnqueuedAt   time.Time `json:"enqueuedAt"`
}
