package services

import (
	"context"
	"errors"
	"net"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/iyunix/go-madlen/internal/database"
	"github.com/iyunix/go-madlen/internal/domain"
	chatrepo "github.com/iyunix/go-madlen/internal/repository/chat"
	"github.com/iyunix/go-madlen/internal/repository/message"
	"github.com/iyunix/go-madlen/internal/services/ai"
	chatservice "github.com/iyunix/go-madlen/internal/services/chat"
	"github.com/iyunix/go-madlen/internal/services/models"
)

const (
	textModel   = "qwen/qwen3-coder:free"
	visionModel = "allenai/molmo-2-8b:free"
	pngDataURI  = "data:image/png;base64,iVBORw0KGgo="
)

type fakeCompleter struct {
	mu      sync.Mutex
	prompts []ai.Prompt
	reply   string
	err     error
	block   bool
}

func (f *fakeCompleter) Complete(ctx context.Context, prompt ai.Prompt) (string, error) {
	f.mu.Lock()
	f.prompts = append(f.prompts, prompt)
	f.mu.Unlock()

	if f.block {
		<-ctx.Done()
		return "", ctx.Err()
	}
	return f.reply, f.err
}

func (f *fakeCompleter) lastPrompt(t *testing.T) ai.Prompt {
	t.Helper()
	f.mu.Lock()
	defer f.mu.Unlock()
	require.NotEmpty(t, f.prompts)
	return f.prompts[len(f.prompts)-1]
}

type failingSummarizer struct{}

func (failingSummarizer) Summarize(ctx context.Context, model, instruction, text string) (string, error) {
	return "", errors.New("summarizer down")
}

type testEnv struct {
	svc       *ChatService
	completer *fakeCompleter
	queue     chatservice.TitleQueue
	chats     chatrepo.ChatRepository
	messages  message.MessageRepository
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	return newTestEnvWithQueue(t, chatservice.NewMemoryQueue(16))
}

func newTestEnvWithQueue(t *testing.T, queue chatservice.TitleQueue) *testEnv {
	t.Helper()

	db, err := database.Open("", filepath.Join(t.TempDir(), "chat.db"))
	require.NoError(t, err)
	sqlDB, err := db.DB()
	require.NoError(t, err)
	t.Cleanup(func() { sqlDB.Close() })

	registry, err := models.Default()
	require.NoError(t, err)

	env := &testEnv{
		completer: &fakeCompleter{reply: "Hi! How can I help?"},
		queue:     queue,
		chats:     chatrepo.NewChatRepository(db),
		messages:  message.NewMessageRepository(db),
	}

	cfg := chatservice.DefaultConfig()
	cfg.InferenceTimeout = 100 * time.Millisecond

	env.svc, err = NewChatService(cfg, env.chats, env.messages, registry, env.completer, env.queue, &NoOpLogger{})
	require.NoError(t, err)

	base := time.Date(2025, 1, 1, 12, 0, 0, 0, time.UTC)
	var mu sync.Mutex
	tick := 0
	env.svc.SetClock(func() time.Time {
		mu.Lock()
		defer mu.Unlock()
		tick++
		return base.Add(time.Duration(tick) * time.Second)
	})
	return env
}

func TestSendMessageCreatesChat(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	res, err := env.svc.SendMessage(ctx, SendInput{Content: "Hello", Model: textModel})
	require.NoError(t, err)
	require.NotEmpty(t, res.ChatID)
	assert.Equal(t, domain.RoleAssistant, res.Message.Role)
	assert.Equal(t, "Hi! How can I help?", res.Message.Content)
	assert.Equal(t, res.ChatID, res.Message.ChatID)

	list, err := env.svc.ListChats(ctx)
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Equal(t, res.ChatID, list[0].ID)
	assert.Equal(t, "Hello...", list[0].Title)
	require.Len(t, list[0].Messages, 1)
	assert.Equal(t, "Hello", list[0].Messages[0].Content)
	assert.Equal(t, domain.RoleUser, list[0].Messages[0].Role)
}

func TestSendMessageQueuesTitleOnlyForNewChat(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	res, err := env.svc.SendMessage(ctx, SendInput{Content: "Hello", Model: textModel})
	require.NoError(t, err)
	_, err = env.svc.SendMessage(ctx, SendInput{ChatID: res.ChatID, Content: "Again", Model: textModel})
	require.NoError(t, err)

	require.NoError(t, env.queue.Close())
	job, err := env.queue.Dequeue(ctx)
	require.NoError(t, err)
	assert.Equal(t, res.ChatID, job.ChatID)
	assert.Equal(t, "Hello", job.FirstMessage)

	_, err = env.queue.Dequeue(ctx)
	assert.ErrorIs(t, err, chatservice.ErrQueueClosed)
}

func TestSendMessageStoresContentAsWritten(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	raw := "  indented\n\tcode  \n"
	res, err := env.svc.SendMessage(ctx, SendInput{Content: raw, Model: textModel})
	require.NoError(t, err)
	assert.Equal(t, raw, env.completer.lastPrompt(t).Text)

	history, err := env.svc.GetHistory(ctx, res.ChatID)
	require.NoError(t, err)
	assert.Equal(t, raw, history.Messages[0].Content)

	require.NoError(t, env.queue.Close())
	job, err := env.queue.Dequeue(ctx)
	require.NoError(t, err)
	assert.Equal(t, raw, job.FirstMessage)
}

func TestTitleJobUsesTextWithoutImageMarker(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	_, err := env.svc.SendMessage(ctx, SendInput{Content: "What is this?", Model: visionModel, Image: pngDataURI})
	require.NoError(t, err)
	_, err = env.svc.SendMessage(ctx, SendInput{Model: visionModel, Image: pngDataURI})
	require.NoError(t, err)

	require.NoError(t, env.queue.Close())
	first, err := env.queue.Dequeue(ctx)
	require.NoError(t, err)
	assert.Equal(t, "What is this?", first.FirstMessage)

	second, err := env.queue.Dequeue(ctx)
	require.NoError(t, err)
	assert.Equal(t, "[Image]", second.FirstMessage)
}

func TestSendMessageNotDelayedByStalledRedis(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	var mu sync.Mutex
	var conns []net.Conn
	go func() {
		for {
			c, err := ln.Accept()
			if err != nil {
				return
			}
			mu.Lock()
			conns = append(conns, c)
			mu.Unlock()
		}
	}()
	t.Cleanup(func() {
		ln.Close()
		mu.Lock()
		defer mu.Unlock()
		for _, c := range conns {
			c.Close()
		}
	})

	opt, err := chatservice.RedisOptions("redis://" + ln.Addr().String())
	require.NoError(t, err)
	client := redis.NewClient(opt)
	t.Cleanup(func() { client.Close() })

	env := newTestEnvWithQueue(t, chatservice.NewRedisQueue(client, "", 64))

	start := time.Now()
	res, err := env.svc.SendMessage(context.Background(), SendInput{Content: "Hello", Model: textModel})
	elapsed := time.Since(start)

	require.NoError(t, err)
	assert.Equal(t, "Hi! How can I help?", res.Message.Content)
	assert.Less(t, elapsed, time.Second)
}

func TestHistoryAlternatesInInsertionOrder(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	res, err := env.svc.SendMessage(ctx, SendInput{Content: "one", Model: textModel})
	require.NoError(t, err)
	for _, text := range []string{"two", "three", "four"} {
		_, err := env.svc.SendMessage(ctx, SendInput{ChatID: res.ChatID, Content: text, Model: textModel})
		require.NoError(t, err)
	}

	history, err := env.svc.GetHistory(ctx, res.ChatID)
	require.NoError(t, err)
	require.Len(t, history.Messages, 8)

	users := []string{}
	for i, m := range history.Messages {
		if i%2 == 0 {
			assert.Equal(t, domain.RoleUser, m.Role)
			users = append(users, m.Content)
		} else {
			assert.Equal(t, domain.RoleAssistant, m.Role)
		}
		if i > 0 {
			prev := history.Messages[i-1]
			assert.False(t, m.CreatedAt.Before(prev.CreatedAt))
			assert.Greater(t, m.ID, prev.ID)
		}
	}
	assert.Equal(t, []string{"one", "two", "three", "four"}, users)
}

func TestSendMessageValidation(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	cases := map[string]SendInput{
		"empty":         {Content: "   ", Model: textModel},
		"no model":      {Content: "Hello"},
		"unknown model": {Content: "Hello", Model: "made/up"},
		"bad image":     {Content: "Hello", Model: visionModel, Image: "https://example.com/cat.png"},
	}
	for name, in := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := env.svc.SendMessage(ctx, in)
			assert.Equal(t, chatservice.ErrTypeValidation, chatservice.TypeOf(err))
		})
	}

	list, err := env.svc.ListChats(ctx)
	require.NoError(t, err)
	assert.Empty(t, list)
	assert.Empty(t, env.completer.prompts)
}

func TestImageGateOnTextModel(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	res, err := env.svc.SendMessage(ctx, SendInput{Content: "What is this?", Model: textModel, Image: pngDataURI})
	require.NoError(t, err)

	prompt := env.completer.lastPrompt(t)
	assert.Empty(t, prompt.ImageURL)
	assert.Equal(t, "What is this?", prompt.Text)

	history, err := env.svc.GetHistory(ctx, res.ChatID)
	require.NoError(t, err)
	assert.Equal(t, "[Image] What is this?", history.Messages[0].Content)
	assert.NotContains(t, history.Messages[0].Content, "base64")
}

func TestImageForwardedToVisionModel(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	res, err := env.svc.SendMessage(ctx, SendInput{Content: "", Model: visionModel, Image: pngDataURI})
	require.NoError(t, err)

	prompt := env.completer.lastPrompt(t)
	assert.Equal(t, pngDataURI, prompt.ImageURL)
	assert.Equal(t, visionModel, prompt.Model)

	c, err := env.chats.FindByID(ctx, res.ChatID)
	require.NoError(t, err)
	assert.Equal(t, "[Image]...", c.Title)
}

func TestInferenceTimeoutReturnsBusy(t *testing.T) {
	env := newTestEnv(t)
	env.completer.block = true
	ctx := context.Background()

	res, err := env.svc.SendMessage(ctx, SendInput{Content: "Hello", Model: textModel})
	require.Error(t, err)
	assert.Nil(t, res)

	var chatErr *chatservice.ChatError
	require.ErrorAs(t, err, &chatErr)
	assert.Equal(t, chatservice.ErrTypeUpstreamUnavailable, chatErr.Type)
	assert.Equal(t, chatservice.BusyMessage, chatErr.Message)
	assert.ErrorIs(t, err, context.DeadlineExceeded)

	count, err := env.messages.CountByChatID(ctx, chatErr.ChatID)
	require.NoError(t, err)
	assert.Equal(t, int64(1), count)

	msgs, err := env.messages.FindByChatID(ctx, chatErr.ChatID)
	require.NoError(t, err)
	assert.Equal(t, domain.RoleUser, msgs[0].Role)
}

func TestUpstreamErrorIsHidden(t *testing.T) {
	env := newTestEnv(t)
	env.completer.err = &ai.AIError{Type: ai.ErrTypeProvider, Message: "401 invalid key sk-secret"}

	_, err := env.svc.SendMessage(context.Background(), SendInput{Content: "Hello", Model: textModel})
	var chatErr *chatservice.ChatError
	require.ErrorAs(t, err, &chatErr)
	assert.Equal(t, chatservice.BusyMessage, chatErr.Message)
	assert.NotContains(t, chatErr.Message, "sk-secret")
}

func TestEmptyReplyStoresFallback(t *testing.T) {
	env := newTestEnv(t)
	env.completer.reply = "  "

	res, err := env.svc.SendMessage(context.Background(), SendInput{Content: "Hello", Model: textModel})
	require.NoError(t, err)
	assert.Equal(t, chatservice.NoAnswerText, res.Message.Content)
}

func TestUnknownChatIDStartsNewChat(t *testing.T) {
	env := newTestEnv(t)

	res, err := env.svc.SendMessage(context.Background(), SendInput{
		ChatID:  "00000000-0000-0000-0000-000000000000",
		Content: "Hello",
		Model:   textModel,
	})
	require.NoError(t, err)
	assert.NotEqual(t, "00000000-0000-0000-0000-000000000000", res.ChatID)
}

func TestTitleFailureDoesNotAffectSend(t *testing.T) {
	baseline := newTestEnv(t)
	want, err := baseline.svc.SendMessage(context.Background(), SendInput{Content: "Hello", Model: textModel})
	require.NoError(t, err)

	env := newTestEnv(t)
	worker := chatservice.NewTitleWorker(chatservice.DefaultConfig(), env.queue, failingSummarizer{}, env.chats, &NoOpLogger{})
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	worker.Start(ctx)

	got, err := env.svc.SendMessage(ctx, SendInput{Content: "Hello", Model: textModel})
	require.NoError(t, err)
	assert.Equal(t, want.Message.Content, got.Message.Content)
	assert.Equal(t, want.Message.Role, got.Message.Role)

	select {
	case werr := <-worker.Errors():
		assert.Equal(t, chatservice.ErrTypeBackground, chatservice.TypeOf(werr))
	case <-time.After(2 * time.Second):
		t.Fatal("title failure not reported")
	}

	c, err := env.chats.FindByID(ctx, got.ChatID)
	require.NoError(t, err)
	assert.Equal(t, "Hello...", c.Title)
}

func TestDeleteChat(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	res, err := env.svc.SendMessage(ctx, SendInput{Content: "Hello", Model: textModel})
	require.NoError(t, err)

	deleted, err := env.svc.DeleteChat(ctx, res.ChatID)
	require.NoError(t, err)
	assert.Equal(t, res.ChatID, deleted.ID)

	list, err := env.svc.ListChats(ctx)
	require.NoError(t, err)
	assert.Empty(t, list)

	_, err = env.svc.GetHistory(ctx, res.ChatID)
	assert.Equal(t, chatservice.ErrTypeNotFound, chatservice.TypeOf(err))

	_, err = env.svc.DeleteChat(ctx, res.ChatID)
	assert.Equal(t, chatservice.ErrTypeNotFound, chatservice.TypeOf(err))
}

func TestUpdateTitle(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	res, err := env.svc.SendMessage(ctx, SendInput{Content: "Hello", Model: textModel})
	require.NoError(t, err)

	updated, err := env.svc.UpdateTitle(ctx, res.ChatID, "  Renamed  ")
	require.NoError(t, err)
	assert.Equal(t, "Renamed", updated.Title)

	_, err = env.svc.UpdateTitle(ctx, res.ChatID, " ")
	assert.Equal(t, chatservice.ErrTypeValidation, chatservice.TypeOf(err))

	_, err = env.svc.UpdateTitle(ctx, res.ChatID, strings.Repeat("x", 201))
	assert.Equal(t, chatservice.ErrTypeValidation, chatservice.TypeOf(err))

	_, err = env.svc.UpdateTitle(ctx, "missing", "Title")
	assert.Equal(t, chatservice.ErrTypeNotFound, chatservice.TypeOf(err))
}

func TestConcurrentUpdateAndDelete(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		res, err := env.svc.SendMessage(ctx, SendInput{Content: "Hello", Model: textModel})
		require.NoError(t, err)

		var wg sync.WaitGroup
		var updateErr, deleteErr error
		wg.Add(2)
		go func() {
			defer wg.Done()
			_, updateErr = env.svc.UpdateTitle(ctx, res.ChatID, "Renamed")
		}()
		go func() {
			defer wg.Done()
			_, deleteErr = env.svc.DeleteChat(ctx, res.ChatID)
		}()
		wg.Wait()

		require.NoError(t, deleteErr)
		if updateErr != nil {
			assert.Equal(t, chatservice.ErrTypeNotFound, chatservice.TypeOf(updateErr))
		}

		_, err = env.svc.UpdateTitle(ctx, res.ChatID, "Too late")
		assert.Equal(t, chatservice.ErrTypeNotFound, chatservice.TypeOf(err))
	}
}

func TestListChatsCapsAndOrders(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	var ids []string
	for i := 0; i < 22; i++ {
		res, err := env.svc.SendMessage(ctx, SendInput{Content: "chat", Model: textModel})
		require.NoError(t, err)
		ids = append(ids, res.ChatID)
	}

	list, err := env.svc.ListChats(ctx)
	require.NoError(t, err)
	require.Len(t, list, 20)
	assert.Equal(t, ids[21], list[0].ID)
	assert.Equal(t, ids[2], list[19].ID)
}

func TestTranscriptRendersMarkdown(t *testing.T) {
	env := newTestEnv(t)
	env.completer.reply = "Use `go test`:\n\n```sh\ngo test ./...\n```"
	ctx := context.Background()

	res, err := env.svc.SendMessage(ctx, SendInput{Content: "How do I **test**?", Model: textModel})
	require.NoError(t, err)

	c, rendered, err := env.svc.Transcript(ctx, res.ChatID)
	require.NoError(t, err)
	assert.Equal(t, res.ChatID, c.ID)
	require.Len(t, rendered, 2)
	assert.Contains(t, string(rendered[0].HTML), "<strong>test</strong>")
	assert.Contains(t, string(rendered[1].HTML), "<code>go test</code>")
	assert.Contains(t, string(rendered[1].HTML), `class="language-sh"`)
}
