package ai

import "context"

// Prompt is a single user turn sent for completion. ImageURL, when set, is a
// data URI forwarded as an image segment next to the text.
type Prompt struct {
	Model    string
	Text     string
	ImageURL string
}

// Completer answers a single prompt. An upstream reply without text yields
// an empty string and a nil error.
type Completer interface {
	Complete(ctx context.Context, prompt Prompt) (string, error)
}

// Summarizer condenses text under a fixed system instruction.
type Summarizer interface {
	Summarize(ctx context.Context, model, instruction, text string) (string, error)
}

// Provider combines completion and summarization capabilities
type Provider interface {
	Completer
	Summarizer
}
