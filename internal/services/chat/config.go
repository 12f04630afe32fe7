package chat

import (
	"fmt"
	"time"
)

const (
	DefaultTitleModel       = "mistralai/mistral-7b-instruct:free"
	DefaultTitleInstruction = "Summarize the user text as a 3-4 word title. No quotes."
)

type Config struct {
	// Turn handling
	InferenceTimeout time.Duration // Deadline for one completion call; no retries
	MaxListedChats   int           // Size of the sidebar window

	// Auto-title generation
	TitleModel       string        // Model used for the summarization call
	TitleInstruction string        // System prompt for the summarization call
	TitleWorkers     int           // Number of goroutines consuming the title queue
	TitleTimeout     time.Duration // Per-job deadline, detached from the request
	QueueSize        int           // Capacity of the in-memory title queue

	// Placeholder titles
	InitialTitleRunes int // Prefix of the first message used before auto-title lands
}

func (c *Config) Validate() error {
	if c.InferenceTimeout <= 0 {
		return fmt.Errorf("inference_timeout must be positive")
	}
	if c.MaxListedChats < 1 {
		return fmt.Errorf("max_listed_chats must be at least 1")
	}
	if c.TitleModel == "" {
		return fmt.Errorf("title_model is required")
	}
	if c.TitleInstruction == "" {
		return fmt.Errorf("title_instruction is required")
	}
	if c.TitleWorkers < 1 {
		return fmt.Errorf("title_workers must be at least 1")
	}
	if c.TitleTimeout <= 0 {
		return fmt.Errorf("title_timeout must be positive")
	}
	if c.QueueSize < 1 {
		return fmt.Errorf("queue_size must be at least 1")
	}
	if c.InitialTitleRunes < 1 {
		return fmt.Errorf("initial_title_runes must be at least 1")
	}
	return nil
}

func DefaultConfig() *Config {
	return &Config{
		InferenceTimeout:  60 * time.Second,
		MaxListedChats:    20,
		TitleModel:        DefaultTitleModel,
		TitleInstruction:  DefaultTitleInstruction,
		TitleWorkers:      1,
		TitleTimeout:      30 * time.Second,
		QueueSize:         64,
		InitialTitleRunes: 30,
	}
}
