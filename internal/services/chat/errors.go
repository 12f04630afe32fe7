package chat

import (
	"errors"
	"fmt"
)

// BusyMessage is the only text a caller ever sees for a failed inference call.
const BusyMessage = "The model is busy right now. Please try again in a moment."

type ErrorType string

const (
	ErrTypeValidation          ErrorType = "VALIDATION"
	ErrTypeNotFound            ErrorType = "NOT_FOUND"
	ErrTypeUpstreamUnavailable ErrorType = "UPSTREAM_UNAVAILABLE"
	ErrTypeBackground          ErrorType = "BACKGROUND"
	ErrTypeDatabase            ErrorType = "DATABASE"
)

type ChatError struct {
	Type      ErrorType
	Operation string
	Message   string
	ChatID    string
	Cause     error
}

func (e *ChatError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("Chat %s error in %s: %s (caused by: %v)",
			e.Type, e.Operation, e.Message, e.Cause)
	}
	return fmt.Sprintf("Chat %s error in %s: %s", e.Type, e.Operation, e.Message)
}

func (e *ChatError) Unwrap() error {
	return e.Cause
}

func NewValidationError(operation, msg string) *ChatError {
	return &ChatError{Type: ErrTypeValidation, Operation: operation, Message: msg}
}

func NewNotFoundError(operation, chatID string) *ChatError {
	return &ChatError{
		Type:      ErrTypeNotFound,
		Operation: operation,
		Message:   "chat not found",
		ChatID:    chatID,
	}
}

// NewUpstreamError hides cause behind BusyMessage; the cause is kept for logs.
func NewUpstreamError(operation, chatID string, cause error) *ChatError {
	return &ChatError{
		Type:      ErrTypeUpstreamUnavailable,
		Operation: operation,
		Message:   BusyMessage,
		ChatID:    chatID,
		Cause:     cause,
	}
}

func NewBackgroundError(operation, chatID string, cause error) *ChatError {
	return &ChatError{
		Type:      ErrTypeBackground,
		Operation: operation,
		Message:   "background task failed",
		ChatID:    chatID,
		Cause:     cause,
	}
}

func NewDatabaseError(operation, chatID string, cause error) *ChatError {
	return &ChatError{
		Type:      ErrTypeDatabase,
		Operation: operation,
		Message:   "database operation failed",
		ChatID:    chatID,
		Cause:     cause,
	}
}

// TypeOf reports the ErrorType of the first ChatError in err's chain, or ""
// when there is none.
func TypeOf(err error) ErrorType {
	var chatErr *ChatError
	if errors.As(err, &chatErr) {
		return chatErr.Type
	}
	return ""
}
