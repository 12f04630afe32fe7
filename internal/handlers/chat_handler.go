package handlers

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/gorilla/mux"

	"github.com/iyunix/go-madlen/internal/middleware"
	"github.com/iyunix/go-madlen/internal/services"
	chatservice "github.com/iyunix/go-madlen/internal/services/chat"
)

type ChatHandler struct {
	ChatService *services.ChatService
	Logger      services.Logger
}

func NewChatHandler(cs *services.ChatService, logger services.Logger) *ChatHandler {
	return &ChatHandler{
		ChatService: cs,
		Logger:      logger,
	}
}

type sendRequest struct {
	ChatID  string `json:"chatId"`
	Content string `json:"content"`
	Model   string `json:"model"`
	Image   string `json:"image"`
}

type updateTitleRequest struct {
	Title string `json:"title"`
}

// ListModels returns the selectable models.
func (h *ChatHandler) ListModels(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.ChatService.Models())
}

// ListChats returns the sidebar list.
func (h *ChatHandler) ListChats(w http.ResponseWriter, r *http.Request) {
	chats, err := h.ChatService.ListChats(r.Context())
	if err != nil {
		h.handleServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, chats)
}

// GetHistory returns a chat with all of its messages.
func (h *ChatHandler) GetHistory(w http.ResponseWriter, r *http.Request) {
	history, err := h.ChatService.GetHistory(r.Context(), mux.Vars(r)["id"])
	if err != nil {
		h.handleServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, history)
}

// SendMessage runs one conversation turn.
func (h *ChatHandler) SendMessage(w http.ResponseWriter, r *http.Request) {
	var req sendRequest
	if !decodeBody(w, r, &req) {
		return
	}

	result, err := h.ChatService.SendMessage(r.Context(), services.SendInput{
		ChatID:  req.ChatID,
		Content: req.Content,
		Model:   req.Model,
		Image:   req.Image,
	})
	if err != nil {
		h.handleServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

// UpdateTitle renames a chat.
func (h *ChatHandler) UpdateTitle(w http.ResponseWriter, r *http.Request) {
	var req updateTitleRequest
	if !decodeBody(w, r, &req) {
		return
	}

	updated, err := h.ChatService.UpdateTitle(r.Context(), mux.Vars(r)["id"], req.Title)
	if err != nil {
		h.handleServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, updated)
}

// DeleteChat removes a chat and answers with the deleted row.
func (h *ChatHandler) DeleteChat(w http.ResponseWriter, r *http.Request) {
	deleted, err := h.ChatService.DeleteChat(r.Context(), mux.Vars(r)["id"])
	if err != nil {
		h.handleServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, deleted)
}

// handleServiceError maps service errors to status codes. Only validation
// and not-found messages are passed through; everything else is generic.
func (h *ChatHandler) handleServiceError(w http.ResponseWriter, err error) {
	var chatErr *chatservice.ChatError
	if !errors.As(err, &chatErr) {
		h.Logger.Error("unexpected service error", "error", err)
		writeError(w, "Something went wrong on our end.", http.StatusInternalServerError)
		return
	}

	switch chatErr.Type {
	case chatservice.ErrTypeValidation:
		writeError(w, chatErr.Message, http.StatusBadRequest)
	case chatservice.ErrTypeNotFound:
		writeError(w, "Chat not found", http.StatusNotFound)
	case chatservice.ErrTypeUpstreamUnavailable:
		writeError(w, chatservice.BusyMessage, http.StatusServiceUnavailable)
	default:
		h.Logger.Error("chat operation failed",
			"operation", chatErr.Operation,
			"chat_id", chatErr.ChatID,
			"error", err)
		writeError(w, "Something went wrong on our end.", http.StatusInternalServerError)
	}
}

// decodeBody reports false after writing the error response itself.
func decodeBody(w http.ResponseWriter, r *http.Request, dst interface{}) bool {
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			writeError(w, "Request body too large", http.StatusRequestEntityTooLarge)
			return false
		}
		writeError(w, "Invalid request body", http.StatusBadRequest)
		return false
	}
	return true
}

// writeJSON is a helper for sending JSON responses.
func writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

// writeError is a helper for sending JSON error responses.
func writeError(w http.ResponseWriter, message string, status int) {
	middleware.WriteError(w, status, message)
}
