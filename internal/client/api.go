// Package client holds the view-model behind the chat front-ends and the
// HTTP client they use to reach the API.
package client

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"time"

	"github.com/go-resty/resty/v2"

	"github.com/iyunix/go-madlen/internal/domain"
	"github.com/iyunix/go-madlen/internal/services/models"
)

// Backend is the API surface the Controller depends on.
type Backend interface {
	Models(ctx context.Context) ([]models.Model, error)
	Chats(ctx context.Context) ([]domain.Chat, error)
	History(ctx context.Context, chatID string) (*domain.Chat, error)
	Send(ctx context.Context, req SendRequest) (*SendResponse, error)
	UpdateTitle(ctx context.Context, chatID, title string) (*domain.Chat, error)
	Delete(ctx context.Context, chatID string) (*domain.Chat, error)
}

type SendRequest struct {
	ChatID  string `json:"chatId,omitempty"`
	Content string `json:"content"`
	Model   string `json:"model"`
	Image   string `json:"image,omitempty"`
}

type SendResponse struct {
	ChatID  string         `json:"chatId"`
	Message domain.Message `json:"message"`
}

// APIError is a non-2xx answer from the server.
type APIError struct {
	StatusCode int    `json:"statusCode"`
	Message    string `json:"message"`
	Status     string `json:"error"`
}

func (e *APIError) Error() string {
	if e.Message != "" {
		return fmt.Sprintf("api error %d: %s", e.StatusCode, e.Message)
	}
	return fmt.Sprintf("api error %d", e.StatusCode)
}

// API talks to the chat server over HTTP.
type API struct {
	client *resty.Client
}

func NewAPI(baseURL string, timeout time.Duration) *API {
	return &API{
		client: resty.New().
			SetBaseURL(baseURL).
			SetTimeout(timeout).
			SetHeader("Accept", "application/json"),
	}
}

func (a *API) Models(ctx context.Context) ([]models.Model, error) {
	var out []models.Model
	if err := a.do(ctx, http.MethodGet, "/chat/models", nil, &out); err != nil {
		return nil, err
	}
	return out, nil
}

func (a *API) Chats(ctx context.Context) ([]domain.Chat, error) {
	var out []domain.Chat
	if err := a.do(ctx, http.MethodGet, "/chat/list", nil, &out); err != nil {
		return nil, err
	}
	return out, nil
}

func (a *API) History(ctx context.Context, chatID string) (*domain.Chat, error) {
	var out domain.Chat
	if err := a.do(ctx, http.MethodGet, "/chat/history/"+url.PathEscape(chatID), nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (a *API) Send(ctx context.Context, req SendRequest) (*SendResponse, error) {
	var out SendResponse
	if err := a.do(ctx, http.MethodPost, "/chat/send", req, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (a *API) UpdateTitle(ctx context.Context, chatID, title string) (*domain.Chat, error) {
	var out domain.Chat
	body := map[string]string{"title": title}
	if err := a.do(ctx, http.MethodPatch, "/chat/"+url.PathEscape(chatID), body, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (a *API) Delete(ctx context.Context, chatID string) (*domain.Chat, error) {
	var out domain.Chat
	if err := a.do(ctx, http.MethodDelete, "/chat/"+url.PathEscape(chatID), nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (a *API) do(ctx context.Context, method, path string, body, result interface{}) error {
	apiErr := &APIError{}
	req := a.client.R().
		SetContext(ctx).
		SetResult(result).
		SetError(apiErr)
	if body != nil {
		req.SetHeader("Content-Type", "application/json").SetBody(body)
	}

	res, err := req.Execute(method, path)
	if err != nil {
		return fmt.Errorf("%s %s: %w", method, path, err)
	}
	if res.IsError() {
		if apiErr.StatusCode == 0 {
			apiErr.StatusCode = res.StatusCode()
		}
		return apiErr
	}
	return nil
}
