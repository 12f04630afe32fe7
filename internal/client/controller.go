package client

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/iyunix/go-madlen/internal/domain"
	"github.com/iyunix/go-madlen/internal/services/models"
)

const (
	// ImageMarker prefixes the optimistic copy of a turn that carried an image.
	ImageMarker = "[Image] "
	// ErrorPrefix marks a synthetic assistant turn that reports a failed send.
	ErrorPrefix = "⚠️ "
	// BusyMessage is shown when a failed send carries no usable message.
	BusyMessage = "This model is busy or not responding right now. Please try another model."

	ImageNotSupportedNotice = "The selected model does not accept images."
)

var (
	ErrSendInFlight      = errors.New("a message is already being sent")
	ErrEmptyMessage      = errors.New("message is empty")
	ErrImageNotSupported = errors.New("selected model does not accept images")
	ErrInvalidImage      = errors.New("image must be a data URI")
	ErrUnknownModel      = errors.New("unknown model")
	ErrNotRenaming       = errors.New("chat is not being renamed")
	ErrEmptyTitle        = errors.New("title is empty")
)

type ViewState int

const (
	ViewEmpty ViewState = iota
	ViewLoading
	ViewReady
)

func (s ViewState) String() string {
	switch s {
	case ViewLoading:
		return "loading"
	case ViewReady:
		return "ready"
	default:
		return "empty"
	}
}

type SendState int

const (
	SendIdle SendState = iota
	SendSending
)

type Options struct {
	// RefreshDelay postpones the sidebar refresh after a new chat's first
	// turn so the server's auto-title has time to land.
	RefreshDelay time.Duration
	// NoticeDuration is how long a transient notice stays visible.
	NoticeDuration time.Duration
}

func DefaultOptions() Options {
	return Options{
		RefreshDelay:   1500 * time.Millisecond,
		NoticeDuration: 3 * time.Second,
	}
}

// Snapshot is a copy of the controller state for rendering.
type Snapshot struct {
	ActiveChatID  string
	View          ViewState
	Send          SendState
	Messages      []domain.Message
	Chats         []domain.Chat
	Models        []models.Model
	SelectedModel string
	PendingImage  string
	Renames       map[string]string
	Notice        string
}

// Controller is the view-model of a chat front-end. It is safe for use from
// multiple goroutines; observers registered with OnChange are called after
// every state change, outside the lock.
type Controller struct {
	api  Backend
	nav  Navigator
	opts Options

	mu       sync.Mutex
	models   []models.Model
	selected string
	messages []domain.Message
	chats    []domain.Chat
	image    string
	renames  map[string]string
	notice   string
	view     ViewState
	send     SendState

	// loadGen invalidates in-flight history loads; viewGen invalidates
	// in-flight sends whose view has been replaced.
	loadGen uint64
	viewGen uint64

	noticeTimer  *time.Timer
	refreshTimer *time.Timer
	onChange     func()
}

func NewController(api Backend, nav Navigator, opts Options) *Controller {
	if nav == nil {
		nav = NewMemoryNavigator()
	}
	return &Controller{
		api:     api,
		nav:     nav,
		opts:    opts,
		renames: make(map[string]string),
	}
}

// OnChange registers the observer notified after each state change.
func (c *Controller) OnChange(fn func()) {
	c.mu.Lock()
	c.onChange = fn
	c.mu.Unlock()
}

func (c *Controller) notify() {
	c.mu.Lock()
	fn := c.onChange
	c.mu.Unlock()
	if fn != nil {
		fn()
	}
}

func (c *Controller) Snapshot() Snapshot {
	c.mu.Lock()
	defer c.mu.Unlock()

	renames := make(map[string]string, len(c.renames))
	for k, v := range c.renames {
		renames[k] = v
	}
	return Snapshot{
		ActiveChatID:  c.nav.ActiveChatID(),
		View:          c.view,
		Send:          c.send,
		Messages:      append([]domain.Message(nil), c.messages...),
		Chats:         append([]domain.Chat(nil), c.chats...),
		Models:        append([]models.Model(nil), c.models...),
		SelectedModel: c.selected,
		PendingImage:  c.image,
		Renames:       renames,
		Notice:        c.notice,
	}
}

// LoadModels fetches the model table. A failure leaves an empty table.
func (c *Controller) LoadModels(ctx context.Context) {
	list, err := c.api.Models(ctx)
	if err != nil {
		list = nil
	}

	c.mu.Lock()
	c.models = list
	if _, ok := c.lookupModel(c.selected); !ok {
		c.selected = ""
		if len(list) > 0 {
			c.selected = list[0].ID
		}
	}
	c.mu.Unlock()
	c.notify()
}

// RefreshChats reloads the sidebar. A failure leaves it empty.
func (c *Controller) RefreshChats(ctx context.Context) {
	chats, err := c.api.Chats(ctx)
	if err != nil {
		chats = nil
	}

	c.mu.Lock()
	c.chats = chats
	c.mu.Unlock()
	c.notify()
}

// Activate opens chatID and loads its history.
func (c *Controller) Activate(ctx context.Context, chatID string) {
	c.mu.Lock()
	c.nav.Navigate(chatID)
	c.viewGen++
	c.mu.Unlock()

	c.Load(ctx)
}

// Load replaces the message list with the active chat's history. The result
// is dropped if another load started, or the active chat changed, before it
// completed.
func (c *Controller) Load(ctx context.Context) {
	c.mu.Lock()
	chatID := c.nav.ActiveChatID()
	c.loadGen++
	gen := c.loadGen
	if chatID == "" {
		c.messages = nil
		c.view = ViewEmpty
		c.mu.Unlock()
		c.notify()
		return
	}
	c.view = ViewLoading
	c.mu.Unlock()
	c.notify()

	history, err := c.api.History(ctx, chatID)

	c.mu.Lock()
	if gen != c.loadGen || c.nav.ActiveChatID() != chatID {
		c.mu.Unlock()
		return
	}
	c.messages = nil
	if err == nil && history != nil {
		c.messages = history.Messages
	}
	c.view = ViewReady
	c.mu.Unlock()
	c.notify()
}

// Send runs one turn. The user message is shown before the request
// completes; a failure is reported as an assistant turn and also returned.
func (c *Controller) Send(ctx context.Context, text string) error {
	c.mu.Lock()
	if c.send == SendSending {
		c.mu.Unlock()
		return ErrSendInFlight
	}
	if strings.TrimSpace(text) == "" && c.image == "" {
		c.mu.Unlock()
		return ErrEmptyMessage
	}

	image := c.image
	chatID := c.nav.ActiveChatID()
	model := c.selected
	viewGen := c.viewGen

	shown := text
	if image != "" {
		shown = ImageMarker + text
	}
	c.messages = append(c.messages, domain.Message{Role: domain.RoleUser, Content: shown, CreatedAt: time.Now().UTC()})
	c.image = ""
	c.send = SendSending
	c.view = ViewReady
	c.mu.Unlock()
	c.notify()

	resp, err := c.api.Send(ctx, SendRequest{ChatID: chatID, Content: text, Model: model, Image: image})

	c.mu.Lock()
	c.send = SendIdle
	current := viewGen == c.viewGen
	if err != nil {
		if current {
			c.messages = append(c.messages, domain.Message{
				Role:      domain.RoleAssistant,
				Content:   ErrorPrefix + failureText(err),
				CreatedAt: time.Now().UTC(),
			})
		}
		c.mu.Unlock()
		c.notify()
		return err
	}

	if current {
		c.messages = append(c.messages, resp.Message)
		if chatID == "" && resp.ChatID != "" {
			c.nav.Navigate(resp.ChatID)
			c.scheduleRefresh()
		}
	}
	c.mu.Unlock()
	c.notify()
	return nil
}

// SelectModel switches models and returns to an empty new chat.
func (c *Controller) SelectModel(modelID string) error {
	c.mu.Lock()
	if _, ok := c.lookupModel(modelID); !ok {
		c.mu.Unlock()
		return ErrUnknownModel
	}
	c.selected = modelID
	c.resetView()
	c.mu.Unlock()
	c.notify()
	return nil
}

// AttachImage stages a data URI for the next send. Models without vision
// support reject it with a transient notice.
func (c *Controller) AttachImage(dataURI string) error {
	c.mu.Lock()
	m, ok := c.lookupModel(c.selected)
	if !ok || m.Type != models.CapabilityVision {
		c.setNotice(ImageNotSupportedNotice)
		c.mu.Unlock()
		c.notify()
		return ErrImageNotSupported
	}
	if !strings.HasPrefix(dataURI, "data:image/") {
		c.mu.Unlock()
		return ErrInvalidImage
	}
	c.image = dataURI
	c.mu.Unlock()
	c.notify()
	return nil
}

func (c *Controller) DetachImage() {
	c.mu.Lock()
	c.image = ""
	c.mu.Unlock()
	c.notify()
}

// BeginRename opens an edit buffer for chatID seeded with its title.
func (c *Controller) BeginRename(chatID string) {
	c.mu.Lock()
	title := ""
	for _, ch := range c.chats {
		if ch.ID == chatID {
			title = ch.Title
			break
		}
	}
	c.renames[chatID] = title
	c.mu.Unlock()
	c.notify()
}

func (c *Controller) SetRenameBuffer(chatID, text string) error {
	c.mu.Lock()
	if _, ok := c.renames[chatID]; !ok {
		c.mu.Unlock()
		return ErrNotRenaming
	}
	c.renames[chatID] = text
	c.mu.Unlock()
	c.notify()
	return nil
}

// CommitRename saves the edit buffer. The sidebar changes only after the
// server accepted the new title; an empty buffer is never sent.
func (c *Controller) CommitRename(ctx context.Context, chatID string) error {
	c.mu.Lock()
	buf, ok := c.renames[chatID]
	c.mu.Unlock()
	if !ok {
		return ErrNotRenaming
	}
	title := strings.TrimSpace(buf)
	if title == "" {
		return ErrEmptyTitle
	}

	updated, err := c.api.UpdateTitle(ctx, chatID, title)
	if err != nil {
		return err
	}

	c.mu.Lock()
	for i := range c.chats {
		if c.chats[i].ID == chatID {
			c.chats[i].Title = updated.Title
		}
	}
	delete(c.renames, chatID)
	c.mu.Unlock()
	c.notify()
	return nil
}

func (c *Controller) CancelRename(chatID string) {
	c.mu.Lock()
	delete(c.renames, chatID)
	c.mu.Unlock()
	c.notify()
}

// Delete removes chatID once confirm returns true. Deleting the open chat
// returns the view to a new chat. It reports whether anything was deleted.
func (c *Controller) Delete(ctx context.Context, chatID string, confirm func() bool) (bool, error) {
	if confirm == nil || !confirm() {
		return false, nil
	}

	if _, err := c.api.Delete(ctx, chatID); err != nil {
		return false, err
	}

	c.mu.Lock()
	kept := c.chats[:0]
	for _, ch := range c.chats {
		if ch.ID != chatID {
			kept = append(kept, ch)
		}
	}
	c.chats = kept
	delete(c.renames, chatID)
	if c.nav.ActiveChatID() == chatID {
		c.resetView()
	}
	c.mu.Unlock()
	c.notify()
	return true, nil
}

// NewChat clears the view and navigates to no chat.
func (c *Controller) NewChat() {
	c.mu.Lock()
	c.resetView()
	c.mu.Unlock()
	c.notify()
}

// Close stops pending timers.
func (c *Controller) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.noticeTimer != nil {
		c.noticeTimer.Stop()
	}
	if c.refreshTimer != nil {
		c.refreshTimer.Stop()
	}
}

// ===== HELPERS (callers hold c.mu) =====

func (c *Controller) resetView() {
	c.messages = nil
	c.image = ""
	c.view = ViewEmpty
	c.viewGen++
	c.loadGen++
	c.nav.Navigate("")
}

func (c *Controller) lookupModel(id string) (models.Model, bool) {
	for _, m := range c.models {
		if m.ID == id {
			return m, true
		}
	}
	return models.Model{}, false
}

func (c *Controller) setNotice(text string) {
	c.notice = text
	if c.noticeTimer != nil {
		c.noticeTimer.Stop()
	}
	c.noticeTimer = time.AfterFunc(c.opts.NoticeDuration, func() {
		c.mu.Lock()
		if c.notice != text {
			c.mu.Unlock()
			return
		}
		c.notice = ""
		c.mu.Unlock()
		c.notify()
	})
}

func (c *Controller) scheduleRefresh() {
	if c.refreshTimer != nil {
		c.refreshTimer.Stop()
	}
	c.refreshTimer = time.AfterFunc(c.opts.RefreshDelay, func() {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		c.RefreshChats(ctx)
	})
}

// failureText picks the text of the error turn shown for a failed send.
func failureText(err error) string {
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		msg := strings.TrimSpace(apiErr.Message)
		if msg != "" && apiErr.StatusCode != http.StatusInternalServerError &&
			!strings.Contains(strings.ToLower(msg), "internal server error") {
			return msg
		}
	}
	return BusyMessage
}
