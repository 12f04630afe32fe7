package config

import (
	"fmt"
	"log"
	"os"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
)

type Config struct {
	ServerPort      string        `env:"SERVER_PORT" envDefault:"8080"`
	Environment     string        `env:"ENV" envDefault:"development"`
	ShutdownTimeout time.Duration `env:"SHUTDOWN_TIMEOUT" envDefault:"10s"`
	CORSOrigins     []string      `env:"CORS_ORIGINS" envSeparator:"," envDefault:"*"`
	SendRateLimit   int           `env:"SEND_RATE_LIMIT" envDefault:"20"`

	// Storage: Postgres when DATABASE_URL is set, SQLite file otherwise.
	DatabaseURL string `env:"DATABASE_URL"`
	DBPath      string `env:"DB_PATH" envDefault:"madlen.db"`

	// Inference
	OpenRouterAPIKey  string        `env:"OPENROUTER_API_KEY"`
	OpenRouterBaseURL string        `env:"OPENROUTER_BASE_URL" envDefault:"https://openrouter.ai/api/v1"`
	AppReferer        string        `env:"APP_REFERER" envDefault:"http://localhost:3000"`
	AppTitle          string        `env:"APP_TITLE" envDefault:"Madlen Chat"`
	InferenceTimeout  time.Duration `env:"INFERENCE_TIMEOUT" envDefault:"60s"`
	ModelsFile        string        `env:"MODELS_FILE"`

	// Auto-title queue. REDIS_URL switches the queue from memory to Redis.
	TitleModel     string        `env:"TITLE_MODEL" envDefault:"mistralai/mistral-7b-instruct:free"`
	TitleWorkers   int           `env:"TITLE_WORKERS" envDefault:"1"`
	TitleTimeout   time.Duration `env:"TITLE_TIMEOUT" envDefault:"30s"`
	TitleQueueSize int           `env:"TITLE_QUEUE_SIZE" envDefault:"64"`
	RedisURL       string        `env:"REDIS_URL"`

	// Tracing is disabled unless an OTLP endpoint is configured.
	OTLPEndpoint string `env:"OTEL_EXPORTER_OTLP_ENDPOINT"`
	ServiceName  string `env:"OTEL_SERVICE_NAME" envDefault:"madlen-chat"`
}

// Load reads configuration from environment variables or .env file.
func Load() (*Config, error) {
	if !IsProduction(os.Getenv("ENV")) {
		if err := godotenv.Load(); err != nil {
			log.Println("No .env file found; continuing with environment variables")
		}
	}

	cfg, err := env.ParseAs[Config]()
	if err != nil {
		return nil, fmt.Errorf("failed to parse environment: %w", err)
	}
	return &cfg, cfg.Validate()
}

// Parse builds a Config from an explicit environment, ignoring the process
// environment and any .env file.
func Parse(environ map[string]string) (*Config, error) {
	var cfg Config
	if err := env.ParseWithOptions(&cfg, env.Options{Environment: environ}); err != nil {
		return nil, fmt.Errorf("failed to parse environment: %w", err)
	}
	return &cfg, cfg.Validate()
}

func (c *Config) IsProduction() bool {
	return IsProduction(c.Environment)
}

func IsProduction(environment string) bool {
	return strings.ToLower(strings.TrimSpace(environment)) == "production"
}

func (c *Config) Validate() error {
	if c.InferenceTimeout <= 0 {
		return fmt.Errorf("INFERENCE_TIMEOUT must be positive")
	}
	if c.TitleTimeout <= 0 {
		return fmt.Errorf("TITLE_TIMEOUT must be positive")
	}
	if c.TitleWorkers < 1 {
		return fmt.Errorf("TITLE_WORKERS must be at least 1")
	}
	if c.TitleQueueSize < 1 {
		return fmt.Errorf("TITLE_QUEUE_SIZE must be at least 1")
	}
	if c.SendRateLimit < 0 {
		return fmt.Errorf("SEND_RATE_LIMIT cannot be negative")
	}

	// Validation for production environments
	if c.IsProduction() {
		missing := []string{}
		if c.OpenRouterAPIKey == "" {
			missing = append(missing, "OPENROUTER_API_KEY")
		}
		if c.DatabaseURL == "" {
			missing = append(missing, "DATABASE_URL")
		}
		if len(missing) > 0 {
			return fmt.Errorf("missing required production environment variables: %v", missing)
		}
	}
	return nil
}
