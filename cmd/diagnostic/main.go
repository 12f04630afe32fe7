// Command diagnostic sends one prompt to every registered model and reports
// which ones answer.
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"time"

	"github.com/iyunix/go-madlen/internal/config"
	"github.com/iyunix/go-madlen/internal/services/ai"
	"github.com/iyunix/go-madlen/internal/services/models"
)

func main() {
	prompt := flag.String("prompt", "What is the answer to life, universe and everything?", "prompt sent to each model")
	only := flag.String("model", "", "check a single model id")
	flag.Parse()

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Config Error: %v", err)
	}
	if cfg.OpenRouterAPIKey == "" {
		log.Fatal("OPENROUTER_API_KEY not set in environment")
	}

	registry, err := models.Load(cfg.ModelsFile)
	if err != nil {
		log.Fatalf("Model Registry Error: %v", err)
	}

	aiConfig := ai.DefaultConfig()
	aiConfig.APIKey = cfg.OpenRouterAPIKey
	aiConfig.BaseURL = cfg.OpenRouterBaseURL
	aiConfig.Referer = cfg.AppReferer
	aiConfig.AppTitle = cfg.AppTitle
	aiConfig.Timeout = cfg.InferenceTimeout
	provider, err := ai.NewOpenAIProvider(aiConfig)
	if err != nil {
		log.Fatalf("AI provider Error: %v", err)
	}

	fmt.Printf("Testing %d models against %s\n", len(registry.All()), cfg.OpenRouterBaseURL)

	failed := 0
	for _, m := range registry.All() {
		if *only != "" && m.ID != *only {
			continue
		}

		start := time.Now()
		reply, err := provider.Complete(context.Background(), ai.Prompt{Model: m.ID, Text: *prompt})
		if err != nil {
			failed++
			fmt.Printf("FAIL %-50s %v\n", m.ID, err)
			continue
		}
		fmt.Printf("OK   %-50s %s (%s)\n", m.ID, preview(reply, 60), time.Since(start).Round(time.Millisecond))
	}

	if failed > 0 {
		os.Exit(1)
	}
}

func preview(s string, n int) string {
	runes := []rune(s)
	if len(runes) <= n {
		return s
	}
	return string(runes[:n]) + "..."
}
