package handlers

import (
	"net/http"

	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/gorilla/mux"

	"github.com/iyunix/go-madlen/internal/middleware"
	"github.com/iyunix/go-madlen/internal/ratelimit"
	"github.com/iyunix/go-madlen/internal/services"
)

// MaxBodyBytes admits image data URIs on /chat/send.
const MaxBodyBytes = 50 << 20

type RouterOptions struct {
	AllowedOrigins []string
	SendLimiter    *ratelimit.MemoryRateLimiter
	Logger         services.Logger
	LogHandler     *LogHandler
}

// NewRouter wires every route and the shared middleware chain.
func NewRouter(chat *ChatHandler, opts RouterOptions) http.Handler {
	if opts.Logger == nil {
		opts.Logger = &services.NoOpLogger{}
	}
	if opts.LogHandler == nil {
		opts.LogHandler = NewLogHandler(nil)
	}
	origins := opts.AllowedOrigins
	if len(origins) == 0 {
		origins = []string{"*"}
	}

	r := mux.NewRouter()
	r.Use(chimw.RequestID)
	r.Use(middleware.RecoverPanic(opts.Logger))
	r.Use(middleware.LoggingMiddleware(opts.Logger))
	r.Use(middleware.LimitBody(MaxBodyBytes))

	r.HandleFunc("/health", Health).Methods(http.MethodGet)
	r.HandleFunc("/api/log", opts.LogHandler.LogFrontendEvent).Methods(http.MethodPost)

	chatRouter := r.PathPrefix("/chat").Subrouter()
	chatRouter.HandleFunc("/models", chat.ListModels).Methods(http.MethodGet)
	chatRouter.HandleFunc("/list", chat.ListChats).Methods(http.MethodGet)
	chatRouter.HandleFunc("/history/{id}", chat.GetHistory).Methods(http.MethodGet)

	var send http.Handler = http.HandlerFunc(chat.SendMessage)
	if opts.SendLimiter != nil {
		send = middleware.RateLimitMiddleware(opts.SendLimiter, "send", opts.Logger)(send)
	}
	chatRouter.Handle("/send", send).Methods(http.MethodPost)

	chatRouter.HandleFunc("/{id}/transcript", chat.Transcript).Methods(http.MethodGet)
	chatRouter.HandleFunc("/{id}", chat.UpdateTitle).Methods(http.MethodPatch)
	chatRouter.HandleFunc("/{id}", chat.DeleteChat).Methods(http.MethodDelete)

	r.NotFoundHandler = http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		writeError(w, "Route not found", http.StatusNotFound)
	})
	r.MethodNotAllowedHandler = http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		writeError(w, "Method not allowed", http.StatusMethodNotAllowed)
	})

	// CORS wraps the router so preflight requests never reach route matching.
	return cors.Handler(cors.Options{
		AllowedOrigins: origins,
		AllowedMethods: []string{"GET", "POST", "PATCH", "DELETE", "OPTIONS"},
		AllowedHeaders: []string{"Content-Type", "Accept"},
		MaxAge:         300,
	})(r)
}
