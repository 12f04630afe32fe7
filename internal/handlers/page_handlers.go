package handlers

import (
	"embed"
	"html/template"
	"net/http"
	"sync"

	"github.com/gorilla/mux"
)

//go:embed templates/*.html
var templateFS embed.FS

// Template cache to avoid parsing templates on every request
var (
	templateCache     *template.Template
	templateCacheErr  error
	templateCacheOnce sync.Once
)

func loadTemplateCache() {
	templateCache, templateCacheErr = template.ParseFS(templateFS, "templates/*.html")
}

func addSecurityHeaders(w http.ResponseWriter) {
	w.Header().Set("Content-Security-Policy", "default-src 'self'; style-src 'self' 'unsafe-inline'")
	w.Header().Set("X-Frame-Options", "DENY")
	w.Header().Set("X-Content-Type-Options", "nosniff")
	w.Header().Set("Referrer-Policy", "strict-origin-when-cross-origin")
}

// Transcript serves a read-only HTML page of a chat with markdown rendered.
func (h *ChatHandler) Transcript(w http.ResponseWriter, r *http.Request) {
	templateCacheOnce.Do(loadTemplateCache)
	if templateCacheErr != nil {
		h.Logger.Error("template parse failed", "error", templateCacheErr)
		writeError(w, "Error rendering page", http.StatusInternalServerError)
		return
	}

	c, messages, err := h.ChatService.Transcript(r.Context(), mux.Vars(r)["id"])
	if err != nil {
		h.handleServiceError(w, err)
		return
	}

	addSecurityHeaders(w)
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	data := map[string]interface{}{
		"Chat":     c,
		"Messages": messages,
	}
	if err := templateCache.ExecuteTemplate(w, "transcript.html", data); err != nil {
		h.Logger.Error("template render failed", "chat_id", c.ID, "error", err)
	}
}

// Health answers liveness probes.
func Health(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	w.Write([]byte("OK"))
}
