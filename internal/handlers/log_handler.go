package handlers

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"strings"
)

// FrontendLogPayload defines the structure for logs coming from the client.
type FrontendLogPayload struct {
	Level   string `json:"level"`
	Message string `json:"message"`
	Context any    `json:"context,omitempty"`
}

// LogHandler forwards client-side events into the server log.
type LogHandler struct {
	logger *slog.Logger
}

func NewLogHandler(logger *slog.Logger) *LogHandler {
	if logger == nil {
		logger = slog.Default()
	}
	return &LogHandler{logger: logger}
}

func (h *LogHandler) LogFrontendEvent(w http.ResponseWriter, r *http.Request) {
	var payload FrontendLogPayload
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
		writeError(w, "Invalid request body", http.StatusBadRequest)
		return
	}
	if strings.TrimSpace(payload.Message) == "" {
		writeError(w, "message is required", http.StatusBadRequest)
		return
	}

	h.logger.Log(r.Context(), clientLevel(payload.Level), "CLIENT_LOG",
		slog.String("message", payload.Message),
		slog.Any("context", payload.Context),
	)

	w.WriteHeader(http.StatusNoContent)
}

func clientLevel(level string) slog.Level {
	switch strings.ToLower(level) {
	case "error":
		return slog.LevelError
	case "warn", "warning":
		return slog.LevelWarn
	case "debug":
		return slog.LevelDebug
	default:
		return slog.LevelInfo
	}
}
