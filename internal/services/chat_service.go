package services

import (
	"context"
	"errors"
	"html/template"
	"strings"
	"time"

	"github.com/iyunix/go-madlen/internal/domain"
	"github.com/iyunix/go-madlen/internal/render"
	"github.com/iyunix/go-madlen/internal/repository/chat"
	"github.com/iyunix/go-madlen/internal/repository/message"
	"github.com/iyunix/go-madlen/internal/services/ai"
	chatservice "github.com/iyunix/go-madlen/internal/services/chat"
	"github.com/iyunix/go-madlen/internal/services/models"
)

// SendInput is one user turn. An empty ChatID, or one that no longer
// resolves, starts a new chat. Image is a data URI.
type SendInput struct {
	ChatID  string
	Content string
	Model   string
	Image   string
}

type SendResult struct {
	ChatID  string          `json:"chatId"`
	Message *domain.Message `json:"message"`
}

// RenderedMessage pairs a stored message with its HTML rendering.
type RenderedMessage struct {
	domain.Message
	HTML template.HTML
}

type ChatService struct {
	config      *chatservice.Config
	chatRepo    chat.ChatRepository
	messageRepo message.MessageRepository
	registry    *models.Registry
	completer   ai.Completer
	titles      chatservice.TitleQueue
	renderer    *render.Renderer
	logger      Logger
	now         func() time.Time
}

func NewChatService(
	config *chatservice.Config,
	chatRepo chat.ChatRepository,
	messageRepo message.MessageRepository,
	registry *models.Registry,
	completer ai.Completer,
	titles chatservice.TitleQueue,
	logger Logger,
) (*ChatService, error) {
	// Validate dependencies
	if chatRepo == nil {
		return nil, chatservice.NewValidationError("constructor", "chat repository is required")
	}
	if messageRepo == nil {
		return nil, chatservice.NewValidationError("constructor", "message repository is required")
	}
	if registry == nil {
		return nil, chatservice.NewValidationError("constructor", "model registry is required")
	}
	if completer == nil {
		return nil, chatservice.NewValidationError("constructor", "completer is required")
	}
	if titles == nil {
		return nil, chatservice.NewValidationError("constructor", "title queue is required")
	}

	if config == nil {
		config = chatservice.DefaultConfig()
	}
	if err := config.Validate(); err != nil {
		return nil, chatservice.NewValidationError("config", err.Error())
	}
	if logger == nil {
		logger = &NoOpLogger{}
	}

	return &ChatService{
		config:      config,
		chatRepo:    chatRepo,
		messageRepo: messageRepo,
		registry:    registry,
		completer:   completer,
		titles:      titles,
		renderer:    render.NewRenderer(),
		logger:      logger,
		now:         func() time.Time { return time.Now().UTC() },
	}, nil
}

// SetClock replaces the timestamp source used for new rows.
func (s *ChatService) SetClock(now func() time.Time) {
	s.now = now
}

func (s *ChatService) Models() []models.Model {
	return s.registry.All()
}

// ListChats returns the most recent chats, newest first, each carrying only
// its earliest message.
func (s *ChatService) ListChats(ctx context.Context) ([]domain.Chat, error) {
	chats, err := s.chatRepo.FindRecent(ctx, s.config.MaxListedChats)
	if err != nil {
		return nil, chatservice.NewDatabaseError("list_chats", "", err)
	}
	if len(chats) == 0 {
		return []domain.Chat{}, nil
	}

	ids := make([]string, len(chats))
	for i := range chats {
		ids[i] = chats[i].ID
	}
	firsts, err := s.messageRepo.FindFirstByChatIDs(ctx, ids)
	if err != nil {
		return nil, chatservice.NewDatabaseError("list_chats", "", err)
	}

	for i := range chats {
		chats[i].Messages = []domain.Message{}
		if first, ok := firsts[chats[i].ID]; ok {
			chats[i].Messages = append(chats[i].Messages, first)
		}
	}
	return chats, nil
}

func (s *ChatService) GetHistory(ctx context.Context, chatID string) (*domain.Chat, error) {
	c, err := s.chatRepo.FindWithMessages(ctx, chatID)
	if err != nil {
		return nil, s.storeError("get_history", chatID, err)
	}
	return c, nil
}

// SendMessage persists the user turn, asks the model for a reply and
// persists that reply. A failed inference call leaves the user turn in
// place and returns an UPSTREAM_UNAVAILABLE error carrying BusyMessage.
func (s *ChatService) SendMessage(ctx context.Context, in SendInput) (*SendResult, error) {
	// Content is stored and sent as written; trimming only decides emptiness.
	content := in.Content
	image := strings.TrimSpace(in.Image)

	if strings.TrimSpace(content) == "" && image == "" {
		return nil, chatservice.NewValidationError("send_message", "content or image is required")
	}
	if in.Model == "" {
		return nil, chatservice.NewValidationError("send_message", "model is required")
	}
	if _, ok := s.registry.Lookup(in.Model); !ok {
		return nil, chatservice.NewValidationError("send_message", "unknown model: "+in.Model)
	}
	if image != "" && !strings.HasPrefix(image, "data:image/") {
		return nil, chatservice.NewValidationError("send_message", "image must be a data URI")
	}

	target, created, err := s.resolveChat(ctx, in.ChatID, content, image != "")
	if err != nil {
		return nil, err
	}

	stored := content
	if image != "" {
		stored = chatservice.ImageMarker + content
	}
	if _, err := s.appendMessage(ctx, target.ID, domain.RoleUser, stored); err != nil {
		return nil, err
	}

	if created {
		source := content
		if strings.TrimSpace(source) == "" {
			source = strings.TrimSpace(chatservice.ImageMarker)
		}
		s.enqueueTitle(ctx, target.ID, source)
	}

	prompt := ai.Prompt{Model: in.Model, Text: content}
	if image != "" && s.registry.IsVision(in.Model) {
		prompt.ImageURL = image
	}
	if strings.TrimSpace(prompt.Text) == "" && prompt.ImageURL == "" {
		prompt.Text = strings.TrimSpace(chatservice.ImageMarker)
	}

	inferCtx, cancel := context.WithTimeout(ctx, s.config.InferenceTimeout)
	defer cancel()

	reply, err := s.completer.Complete(inferCtx, prompt)
	if err != nil {
		s.logger.Error("inference call failed",
			"chat_id", target.ID,
			"model", in.Model,
			"error", err)
		return nil, chatservice.NewUpstreamError("send_message", target.ID, err)
	}

	reply = strings.TrimSpace(reply)
	if reply == "" {
		reply = chatservice.NoAnswerText
	}

	assistant, err := s.appendMessage(ctx, target.ID, domain.RoleAssistant, reply)
	if err != nil {
		return nil, err
	}

	return &SendResult{ChatID: target.ID, Message: assistant}, nil
}

func (s *ChatService) UpdateTitle(ctx context.Context, chatID, title string) (*domain.Chat, error) {
	title = strings.TrimSpace(title)
	if title == "" {
		return nil, chatservice.NewValidationError("update_title", "title cannot be empty")
	}
	if len([]rune(title)) > chat.MaxTitleLength {
		return nil, chatservice.NewValidationError("update_title", "title is too long")
	}

	updated, err := s.chatRepo.UpdateTitle(ctx, chatID, title)
	if err != nil {
		return nil, s.storeError("update_title", chatID, err)
	}
	return updated, nil
}

// DeleteChat removes the chat and its messages and returns the chat as it
// was. A missing chat is always NOT_FOUND.
func (s *ChatService) DeleteChat(ctx context.Context, chatID string) (*domain.Chat, error) {
	deleted, err := s.chatRepo.Delete(ctx, chatID)
	if err != nil {
		return nil, s.storeError("delete_chat", chatID, err)
	}
	s.logger.Info("chat deleted", "chat_id", chatID)
	return deleted, nil
}

// Transcript returns the chat with every message rendered from markdown.
func (s *ChatService) Transcript(ctx context.Context, chatID string) (*domain.Chat, []RenderedMessage, error) {
	c, err := s.GetHistory(ctx, chatID)
	if err != nil {
		return nil, nil, err
	}

	rendered := make([]RenderedMessage, 0, len(c.Messages))
	for _, m := range c.Messages {
		html, err := s.renderer.Markdown(m.Content)
		if err != nil {
			s.logger.Warn("markdown render failed", "chat_id", chatID, "message_id", m.ID, "error", err)
			html = template.HTML(template.HTMLEscapeString(m.Content))
		}
		rendered = append(rendered, RenderedMessage{Message: m, HTML: html})
	}
	return c, rendered, nil
}

// ===== HELPERS =====

func (s *ChatService) resolveChat(ctx context.Context, chatID, content string, hasImage bool) (*domain.Chat, bool, error) {
	if chatID != "" {
		exists, err := s.chatRepo.ExistsByID(ctx, chatID)
		if err != nil {
			return nil, false, chatservice.NewDatabaseError("send_message", chatID, err)
		}
		if exists {
			return &domain.Chat{ID: chatID}, false, nil
		}
		s.logger.Debug("chat id did not resolve, starting a new chat", "chat_id", chatID)
	}

	newChat := &domain.Chat{
		Title:     chatservice.InitialTitle(content, hasImage, s.config.InitialTitleRunes),
		CreatedAt: s.now(),
	}
	created, err := s.chatRepo.Create(ctx, newChat)
	if err != nil {
		return nil, false, chatservice.NewDatabaseError("create_chat", "", err)
	}
	s.logger.Info("chat created", "chat_id", created.ID)
	return created, true, nil
}

func (s *ChatService) appendMessage(ctx context.Context, chatID, role, content string) (*domain.Message, error) {
	saved, err := s.messageRepo.Create(ctx, &domain.Message{
		ChatID:    chatID,
		Role:      role,
		Content:   content,
		CreatedAt: s.now(),
	})
	if err != nil {
		return nil, chatservice.NewDatabaseError("save_message", chatID, err)
	}
	return saved, nil
}

func (s *ChatService) enqueueTitle(ctx context.Context, chatID, firstMessage string) {
	job := chatservice.TitleJob{ChatID: chatID, FirstMessage: firstMessage, EnqueuedAt: s.now()}
	if err := s.titles.Enqueue(ctx, job); err != nil {
		s.logger.Warn("title job dropped", "chat_id", chatID, "error", err)
	}
}

func (s *ChatService) storeError(operation, chatID string, err error) error {
	if errors.Is(err, chat.ErrChatNotFound) {
		return chatservice.NewNotFoundError(operation, chatID)
	}
	return chatservice.NewDatabaseError(operation, chatID, err)
}
