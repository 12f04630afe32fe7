package main

import (
	"context"
	"errors"
	"log"
	"log/slog"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/iyunix/go-madlen/internal/config"
	"github.com/iyunix/go-madlen/internal/database"
	"github.com/iyunix/go-madlen/internal/handlers"
	"github.com/iyunix/go-madlen/internal/ratelimit"
	chatrepo "github.com/iyunix/go-madlen/internal/repository/chat"
	"github.com/iyunix/go-madlen/internal/repository/message"
	"github.com/iyunix/go-madlen/internal/services"
	"github.com/iyunix/go-madlen/internal/services/ai"
	chatservice "github.com/iyunix/go-madlen/internal/services/chat"
	"github.com/iyunix/go-madlen/internal/services/models"
	"github.com/iyunix/go-madlen/internal/tracing"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Config Error: %v", err)
	}

	logger := services.NewLogger("madlen-api")
	if pl, ok := logger.(*services.ProductionLogger); ok {
		slog.SetDefault(pl.Slog())
	}

	rootCtx, stopSignals := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stopSignals()

	// --- Tracing ---
	shutdownTracing, err := tracing.Setup(rootCtx, cfg.OTLPEndpoint, cfg.ServiceName)
	if err != nil {
		log.Fatalf("Tracing Error: %v", err)
	}

	// --- Database ---
	db, err := database.Open(cfg.DatabaseURL, cfg.DBPath)
	if err != nil {
		log.Fatalf("DB Error: %v", err)
	}

	// --- Repositories ---
	chatRepo := chatrepo.NewChatRepository(db)
	messageRepo := message.NewMessageRepository(db)

	// --- Services ---
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
		log.Fatalf("FATAL: Failed to initialize AI provider: %v", err)
	}
	if cfg.OpenRouterAPIKey == "" {
		logger.Warn("OPENROUTER_API_KEY is not set; inference calls will be rejected upstream")
	}

	chatConfig := chatservice.DefaultConfig()
	chatConfig.InferenceTimeout = cfg.InferenceTimeout
	chatConfig.TitleModel = cfg.TitleModel
	chatConfig.TitleWorkers = cfg.TitleWorkers
	chatConfig.TitleTimeout = cfg.TitleTimeout
	chatConfig.QueueSize = cfg.TitleQueueSize

	titleQueue, closeQueue := newTitleQueue(rootCtx, cfg, logger)

	chatService, err := services.NewChatService(chatConfig, chatRepo, messageRepo, registry, provider, titleQueue, logger)
	if err != nil {
		log.Fatalf("FATAL: Failed to initialize Chat Service: %v", err)
	}

	// --- Background title workers ---
	workerCtx, stopWorkers := context.WithCancel(context.Background())
	titleWorker := chatservice.NewTitleWorker(chatConfig, titleQueue, provider, chatRepo, logger)
	titleWorker.Start(workerCtx)
	drained := make(chan struct{})
	go func() {
		defer close(drained)
		chatservice.DrainErrors(titleWorker, logger)
	}()

	// --- Router Setup ---
	var sendLimiter *ratelimit.MemoryRateLimiter
	if cfg.SendRateLimit > 0 {
		limiterConfig := ratelimit.DefaultSendConfig()
		limiterConfig.MaxRequests = cfg.SendRateLimit
		sendLimiter = ratelimit.NewMemoryRateLimiter(limiterConfig)
		defer sendLimiter.Close()
	}

	var logHandler *handlers.LogHandler
	if pl, ok := logger.(*services.ProductionLogger); ok {
		logHandler = handlers.NewLogHandler(pl.Slog())
	}

	router := handlers.NewRouter(handlers.NewChatHandler(chatService, logger), handlers.RouterOptions{
		AllowedOrigins: cfg.CORSOrigins,
		SendLimiter:    sendLimiter,
		Logger:         logger,
		LogHandler:     logHandler,
	})

	srv := &http.Server{
		Addr:              ":" + cfg.ServerPort,
		Handler:           otelhttp.NewHandler(router, "madlen-api"),
		ReadHeaderTimeout: 10 * time.Second,
	}

	// --- Start Server in Goroutine ---
	go func() {
		logger.Info("server starting", "addr", srv.Addr, "env", cfg.Environment, "models", len(registry.All()))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatalf("Server startup failed: %v", err)
		}
	}()

	// --- Graceful Shutdown ---
	<-rootCtx.Done()
	logger.Info("shutting down server gracefully")

	ctx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()

	if err := srv.Shutdown(ctx); err != nil {
		logger.Error("server shutdown failed", "error", err)
	}

	// Workers finish the jobs still queued unless the shutdown deadline
	// passes first.
	titleQueue.Close()
	workersDone := make(chan struct{})
	go func() {
		titleWorker.Wait()
		close(workersDone)
	}()
	select {
	case <-workersDone:
	case <-ctx.Done():
		logger.Warn("shutdown deadline reached, abandoning queued title jobs")
		stopWorkers()
		<-workersDone
	}
	stopWorkers()
	<-drained
	closeQueue()

	if err := shutdownTracing(ctx); err != nil {
		logger.Error("tracing shutdown failed", "error", err)
	}
	if sqlDB, err := db.DB(); err == nil {
		sqlDB.Close()
	}
	logger.Info("server stopped gracefully")
}

// newTitleQueue picks the Redis-backed queue when REDIS_URL is set. The
// returned func releases whatever the queue holds.
func newTitleQueue(ctx context.Context, cfg *config.Config, logger services.Logger) (chatservice.TitleQueue, func()) {
	if cfg.RedisURL == "" {
		return chatservice.NewMemoryQueue(cfg.TitleQueueSize), func() {}
	}

	client, err := chatservice.NewRedisClient(ctx, cfg.RedisURL)
	if err != nil {
		log.Fatalf("Redis Error: %v", err)
	}
	logger.Info("title queue backed by redis")
	return chatservice.NewRedisQueue(client, chatservice.DefaultRedisQueueKey, cfg.TitleQueueSize), func() { client.Close() }
}
