package ai

import (
	"fmt"
	"time"
)

const DefaultBaseURL = "https://openrouter.ai/api/v1"

type Config struct {
	// Upstream
	APIKey  string
	BaseURL string

	// Attribution headers sent with every request
	Referer  string
	AppTitle string

	// A single attempt is made per call; expiry is reported as ErrTypeTimeout.
	Timeout time.Duration

	// Model Parameters
	Temperature float32
}

func (c *Config) Validate() error {
	if c.BaseURL == "" {
		return fmt.Errorf("AI base URL is required")
	}
	if c.Timeout <= 0 {
		return fmt.Errorf("timeout must be positive")
	}
	if c.Temperature < 0 || c.Temperature > 2 {
		return fmt.Errorf("temperature must be between 0 and 2")
	}
	return nil
}

func DefaultConfig() *Config {
	return &Config{
		BaseURL:  DefaultBaseURL,
		AppTitle: "Madlen Chat",
		Timeout:  60 * time.Second,
	}
}
