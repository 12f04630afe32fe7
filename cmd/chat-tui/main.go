// Command chat-tui is a terminal front-end for the chat server.
package main

import (
	"flag"
	"fmt"
	"os"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/joho/godotenv"

	"github.com/iyunix/go-madlen/internal/client"
)

func main() {
	_ = godotenv.Load()

	defaultURL := os.Getenv("MADLEN_API_URL")
	if defaultURL == "" {
		defaultURL = "http://localhost:8080"
	}
	apiURL := flag.String("api", defaultURL, "chat server base URL")
	timeout := flag.Duration("timeout", 90*time.Second, "per-request timeout")
	flag.Parse()

	ctrl := client.NewController(client.NewAPI(*apiURL, *timeout), nil, client.DefaultOptions())
	p := tea.NewProgram(newModel(ctrl), tea.WithAltScreen())
	// Updates may change state from inside the program loop, so the
	// observer must not block on it.
	ctrl.OnChange(func() { go p.Send(changedMsg{}) })

	_, err := p.Run()
	ctrl.Close()
	if err != nil {
		fmt.Fprintf(os.Stderr, "chat-tui: %v\n", err)
		os.Exit(1)
	}
}
