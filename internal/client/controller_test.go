package client

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/iyunix/go-madlen/internal/domain"
	"github.com/iyunix/go-madlen/internal/services/models"
)

const (
	textModel   = "qwen/qwen3-coder:free"
	visionModel = "allenai/molmo-2-8b:free"
	pngDataURI  = "data:image/png;base64,AAAA"
)

type fakeServer struct {
	mu        sync.Mutex
	chats     []domain.Chat
	histories map[string]domain.Chat
	gates     map[string]chan struct{}
	sendGate  chan struct{}
	sendErr   int
	sendMsg   string
	sent      []SendRequest
	patched   []string
	deleted   []string
	listCalls atomic.Int32
}

func newFakeServer(t *testing.T) (*fakeServer, *httptest.Server) {
	t.Helper()
	f := &fakeServer{
		histories: map[string]domain.Chat{},
		gates:     map[string]chan struct{}{},
	}

	mux := http.NewServeMux()
	mux.HandleFunc("GET /chat/models", func(w http.ResponseWriter, r *http.Request) {
		registry, _ := models.Default()
		writeTestJSON(w, http.StatusOK, registry.All())
	})
	mux.HandleFunc("GET /chat/list", func(w http.ResponseWriter, r *http.Request) {
		f.listCalls.Add(1)
		f.mu.Lock()
		defer f.mu.Unlock()
		writeTestJSON(w, http.StatusOK, f.chats)
	})
	mux.HandleFunc("GET /chat/history/{id}", func(w http.ResponseWriter, r *http.Request) {
		id := r.PathValue("id")
		f.mu.Lock()
		gate := f.gates[id]
		f.mu.Unlock()
		if gate != nil {
			<-gate
		}

		f.mu.Lock()
		defer f.mu.Unlock()
		h, ok := f.histories[id]
		if !ok {
			writeTestJSON(w, http.StatusNotFound, APIError{StatusCode: 404, Message: "Chat not found", Status: "Not Found"})
			return
		}
		writeTestJSON(w, http.StatusOK, h)
	})
	mux.HandleFunc("POST /chat/send", func(w http.ResponseWriter, r *http.Request) {
		var req SendRequest
		_ = json.NewDecoder(r.Body).Decode(&req)

		f.mu.Lock()
		f.sent = append(f.sent, req)
		gate, status, msg := f.sendGate, f.sendErr, f.sendMsg
		f.mu.Unlock()
		if gate != nil {
			<-gate
		}

		if status != 0 {
			writeTestJSON(w, status, APIError{StatusCode: status, Message: msg, Status: http.StatusText(status)})
			return
		}
		chatID := req.ChatID
		if chatID == "" {
			chatID = "new-chat"
		}
		writeTestJSON(w, http.StatusOK, SendResponse{
			ChatID:  chatID,
			Message: domain.Message{ID: 2, ChatID: chatID, Role: domain.RoleAssistant, Content: "reply to " + req.Content},
		})
	})
	mux.HandleFunc("PATCH /chat/{id}", func(w http.ResponseWriter, r *http.Request) {
		var body map[string]string
		_ = json.NewDecoder(r.Body).Decode(&body)
		f.mu.Lock()
		f.patched = append(f.patched, r.PathValue("id")+"="+body["title"])
		f.mu.Unlock()
		writeTestJSON(w, http.StatusOK, domain.Chat{ID: r.PathValue("id"), Title: body["title"]})
	})
	mux.HandleFunc("DELETE /chat/{id}", func(w http.ResponseWriter, r *http.Request) {
		f.mu.Lock()
		f.deleted = append(f.deleted, r.PathValue("id"))
		f.mu.Unlock()
		writeTestJSON(w, http.StatusOK, domain.Chat{ID: r.PathValue("id")})
	})

	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return f, srv
}

func writeTestJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func newTestController(t *testing.T, baseURL string) (*Controller, *MemoryNavigator) {
	t.Helper()
	nav := NewMemoryNavigator()
	c := NewController(NewAPI(baseURL, 5*time.Second), nav, Options{
		RefreshDelay:   100 * time.Millisecond,
		NoticeDuration: 30 * time.Millisecond,
	})
	t.Cleanup(c.Close)
	c.LoadModels(context.Background())
	return c, nav
}

func TestLoadModelsSelectsFirst(t *testing.T) {
	_, srv := newFakeServer(t)
	c, _ := newTestController(t, srv.URL)

	snap := c.Snapshot()
	require.Len(t, snap.Models, 3)
	assert.Equal(t, visionModel, snap.SelectedModel)
}

func TestReadFailuresDegradeToEmpty(t *testing.T) {
	c := NewController(NewAPI("http://127.0.0.1:1", 200*time.Millisecond), nil, DefaultOptions())
	defer c.Close()

	c.LoadModels(context.Background())
	c.RefreshChats(context.Background())
	c.Activate(context.Background(), "abc")

	snap := c.Snapshot()
	assert.Empty(t, snap.Models)
	assert.Empty(t, snap.Chats)
	assert.Empty(t, snap.Messages)
	assert.Equal(t, ViewReady, snap.View)
}

func TestSendNewChatAdoptsIDAndRefreshesLater(t *testing.T) {
	f, srv := newFakeServer(t)
	c, nav := newTestController(t, srv.URL)
	require.NoError(t, c.SelectModel(textModel))

	f.mu.Lock()
	f.chats = []domain.Chat{{ID: "new-chat", Title: "Hello..."}}
	f.mu.Unlock()

	require.NoError(t, c.Send(context.Background(), "Hello"))

	snap := c.Snapshot()
	require.Len(t, snap.Messages, 2)
	assert.Equal(t, domain.RoleUser, snap.Messages[0].Role)
	assert.Equal(t, "Hello", snap.Messages[0].Content)
	assert.Equal(t, "reply to Hello", snap.Messages[1].Content)
	assert.Equal(t, "new-chat", nav.ActiveChatID())
	assert.Equal(t, SendIdle, snap.Send)

	assert.Equal(t, int32(0), f.listCalls.Load())
	assert.Eventually(t, func() bool { return len(c.Snapshot().Chats) == 1 }, time.Second, 5*time.Millisecond)

	require.NoError(t, c.Send(context.Background(), "Again"))
	f.mu.Lock()
	assert.Equal(t, "new-chat", f.sent[1].ChatID)
	f.mu.Unlock()
}

func TestSendIsOptimisticAndSingleFlight(t *testing.T) {
	f, srv := newFakeServer(t)
	c, _ := newTestController(t, srv.URL)

	gate := make(chan struct{})
	f.mu.Lock()
	f.sendGate = gate
	f.mu.Unlock()

	done := make(chan error, 1)
	go func() { done <- c.Send(context.Background(), "first") }()

	require.Eventually(t, func() bool { return c.Snapshot().Send == SendSending }, time.Second, 5*time.Millisecond)
	snap := c.Snapshot()
	require.Len(t, snap.Messages, 1)
	assert.Equal(t, "first", snap.Messages[0].Content)

	assert.ErrorIs(t, c.Send(context.Background(), "second"), ErrSendInFlight)

	close(gate)
	require.NoError(t, <-done)

	snap = c.Snapshot()
	require.Len(t, snap.Messages, 2)
	assert.Equal(t, "reply to first", snap.Messages[1].Content)

	f.mu.Lock()
	assert.Len(t, f.sent, 1)
	f.mu.Unlock()
}

func TestSendRejectsEmpty(t *testing.T) {
	f, srv := newFakeServer(t)
	c, _ := newTestController(t, srv.URL)

	assert.ErrorIs(t, c.Send(context.Background(), "   "), ErrEmptyMessage)
	assert.Empty(t, c.Snapshot().Messages)
	assert.Empty(t, f.sent)
}

func TestSendFailureAppendsErrorTurn(t *testing.T) {
	f, srv := newFakeServer(t)
	c, _ := newTestController(t, srv.URL)

	f.mu.Lock()
	f.sendErr = http.StatusServiceUnavailable
	f.sendMsg = "The model is busy right now. Please try again in a moment."
	f.mu.Unlock()

	err := c.Send(context.Background(), "Hello")
	var apiErr *APIError
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, http.StatusServiceUnavailable, apiErr.StatusCode)

	snap := c.Snapshot()
	require.Len(t, snap.Messages, 2)
	assert.Equal(t, "Hello", snap.Messages[0].Content)
	assert.Equal(t, domain.RoleAssistant, snap.Messages[1].Role)
	assert.Equal(t, "⚠️ The model is busy right now. Please try again in a moment.", snap.Messages[1].Content)
	assert.Equal(t, SendIdle, snap.Send)
	assert.Empty(t, c.Snapshot().ActiveChatID)
}

func TestSendFailureFallsBackToBusyMessage(t *testing.T) {
	f, srv := newFakeServer(t)
	c, _ := newTestController(t, srv.URL)

	f.mu.Lock()
	f.sendErr = http.StatusInternalServerError
	f.sendMsg = "Internal server error"
	f.mu.Unlock()

	require.Error(t, c.Send(context.Background(), "Hello"))
	snap := c.Snapshot()
	assert.Equal(t, ErrorPrefix+BusyMessage, snap.Messages[1].Content)
}

func TestStaleLoadIsDiscarded(t *testing.T) {
	f, srv := newFakeServer(t)
	c, nav := newTestController(t, srv.URL)

	gate := make(chan struct{})
	f.mu.Lock()
	f.gates["slow"] = gate
	f.histories["slow"] = domain.Chat{ID: "slow", Messages: []domain.Message{{ID: 1, Role: "user", Content: "slow chat"}}}
	f.histories["fast"] = domain.Chat{ID: "fast", Messages: []domain.Message{{ID: 2, Role: "user", Content: "fast chat"}}}
	f.mu.Unlock()

	slowDone := make(chan struct{})
	go func() {
		defer close(slowDone)
		c.Activate(context.Background(), "slow")
	}()
	require.Eventually(t, func() bool { return c.Snapshot().View == ViewLoading }, time.Second, 5*time.Millisecond)

	c.Activate(context.Background(), "fast")
	close(gate)
	<-slowDone

	snap := c.Snapshot()
	assert.Equal(t, "fast", nav.ActiveChatID())
	require.Len(t, snap.Messages, 1)
	assert.Equal(t, "fast chat", snap.Messages[0].Content)
	assert.Equal(t, ViewReady, snap.View)
}

func TestSelectModelResetsView(t *testing.T) {
	f, srv := newFakeServer(t)
	c, nav := newTestController(t, srv.URL)

	f.mu.Lock()
	f.histories["a"] = domain.Chat{ID: "a", Messages: []domain.Message{{ID: 1, Role: "user", Content: "hi"}}}
	f.mu.Unlock()

	c.Activate(context.Background(), "a")
	require.NoError(t, c.AttachImage(pngDataURI))

	require.NoError(t, c.SelectModel(textModel))
	snap := c.Snapshot()
	assert.Empty(t, snap.Messages)
	assert.Empty(t, snap.PendingImage)
	assert.Equal(t, ViewEmpty, snap.View)
	assert.Empty(t, nav.ActiveChatID())
	assert.Equal(t, textModel, snap.SelectedModel)

	assert.ErrorIs(t, c.SelectModel("nope"), ErrUnknownModel)
}

func TestAttachImageGate(t *testing.T) {
	_, srv := newFakeServer(t)
	c, _ := newTestController(t, srv.URL)

	require.NoError(t, c.SelectModel(textModel))
	assert.ErrorIs(t, c.AttachImage(pngDataURI), ErrImageNotSupported)
	assert.Equal(t, ImageNotSupportedNotice, c.Snapshot().Notice)
	assert.Empty(t, c.Snapshot().PendingImage)
	assert.Eventually(t, func() bool { return c.Snapshot().Notice == "" }, time.Second, 5*time.Millisecond)

	require.NoError(t, c.SelectModel(visionModel))
	assert.ErrorIs(t, c.AttachImage("not-a-data-uri"), ErrInvalidImage)
	require.NoError(t, c.AttachImage(pngDataURI))
	assert.Equal(t, pngDataURI, c.Snapshot().PendingImage)
}

func TestSendWithImage(t *testing.T) {
	f, srv := newFakeServer(t)
	c, _ := newTestController(t, srv.URL)

	require.NoError(t, c.AttachImage(pngDataURI))
	require.NoError(t, c.Send(context.Background(), "What is it?"))

	snap := c.Snapshot()
	assert.Equal(t, "[Image] What is it?", snap.Messages[0].Content)
	assert.Empty(t, snap.PendingImage)

	f.mu.Lock()
	defer f.mu.Unlock()
	assert.Equal(t, pngDataURI, f.sent[0].Image)
	assert.Equal(t, "What is it?", f.sent[0].Content)
}

func TestRename(t *testing.T) {
	f, srv := newFakeServer(t)
	c, _ := newTestController(t, srv.URL)

	f.mu.Lock()
	f.chats = []domain.Chat{{ID: "a", Title: "Old"}}
	f.mu.Unlock()
	c.RefreshChats(context.Background())

	assert.ErrorIs(t, c.CommitRename(context.Background(), "a"), ErrNotRenaming)

	c.BeginRename("a")
	assert.Equal(t, "Old", c.Snapshot().Renames["a"])

	require.NoError(t, c.SetRenameBuffer("a", "   "))
	assert.ErrorIs(t, c.CommitRename(context.Background(), "a"), ErrEmptyTitle)
	assert.Equal(t, "Old", c.Snapshot().Chats[0].Title)

	require.NoError(t, c.SetRenameBuffer("a", "New title"))
	require.NoError(t, c.CommitRename(context.Background(), "a"))

	snap := c.Snapshot()
	assert.Equal(t, "New title", snap.Chats[0].Title)
	assert.NotContains(t, snap.Renames, "a")

	f.mu.Lock()
	assert.Equal(t, []string{"a=New title"}, f.patched)
	f.mu.Unlock()

	c.BeginRename("a")
	c.CancelRename("a")
	assert.Empty(t, c.Snapshot().Renames)
}

func TestDeleteRequiresConfirmation(t *testing.T) {
	f, srv := newFakeServer(t)
	c, nav := newTestController(t, srv.URL)

	f.mu.Lock()
	f.chats = []domain.Chat{{ID: "a", Title: "A"}, {ID: "b", Title: "B"}}
	f.histories["a"] = domain.Chat{ID: "a", Messages: []domain.Message{{ID: 1, Role: "user", Content: "hi"}}}
	f.mu.Unlock()
	c.RefreshChats(context.Background())
	c.Activate(context.Background(), "a")

	deleted, err := c.Delete(context.Background(), "a", func() bool { return false })
	require.NoError(t, err)
	assert.False(t, deleted)
	assert.Empty(t, f.deleted)

	deleted, err = c.Delete(context.Background(), "a", func() bool { return true })
	require.NoError(t, err)
	assert.True(t, deleted)

	snap := c.Snapshot()
	require.Len(t, snap.Chats, 1)
	assert.Equal(t, "b", snap.Chats[0].ID)
	assert.Empty(t, nav.ActiveChatID())
	assert.Empty(t, snap.Messages)
	assert.Equal(t, ViewEmpty, snap.View)
}

func TestOnChangeIsCalled(t *testing.T) {
	_, srv := newFakeServer(t)
	c, _ := newTestController(t, srv.URL)

	var calls atomic.Int32
	c.OnChange(func() { calls.Add(1) })
	c.NewChat()
	assert.Equal(t, int32(1), calls.Load())
}
