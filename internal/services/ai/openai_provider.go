package ai

import (
	"context"
	"errors"
	"net/http"
	"strings"

	openai "github.com/sashabaranov/go-openai"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
)

type OpenAIProvider struct {
	config *Config
	client *openai.Client
}

func NewOpenAIProvider(config *Config) (*OpenAIProvider, error) {
	if err := config.Validate(); err != nil {
		return nil, NewConfigError(err.Error())
	}

	clientConfig := openai.DefaultConfig(config.APIKey)
	clientConfig.BaseURL = strings.TrimRight(config.BaseURL, "/")
	clientConfig.HTTPClient = &http.Client{
		Transport: &headerTransport{
			base:    otelhttp.NewTransport(http.DefaultTransport),
			headers: attributionHeaders(config),
		},
	}

	return &OpenAIProvider{
		config: config,
		client: openai.NewClientWithConfig(clientConfig),
	}, nil
}

func (p *OpenAIProvider) Complete(ctx context.Context, prompt Prompt) (string, error) {
	return p.create(ctx, "completion", prompt.Model, []openai.ChatCompletionMessage{userMessage(prompt)})
}

func (p *OpenAIProvider) Summarize(ctx context.Context, model, instruction, text string) (string, error) {
	return p.create(ctx, "summarize", model, []openai.ChatCompletionMessage{
		{Role: openai.ChatMessageRoleSystem, Content: instruction},
		{Role: openai.ChatMessageRoleUser, Content: text},
	})
}

func (p *OpenAIProvider) create(ctx context.Context, operation, model string, messages []openai.ChatCompletionMessage) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, p.config.Timeout)
	defer cancel()

	resp, err := p.client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model:       model,
		Messages:    messages,
		Temperature: p.config.Temperature,
	})
	if err != nil {
		return "", classify(operation, model, err)
	}

	if len(resp.Choices) == 0 {
		return "", nil
	}
	return strings.TrimSpace(resp.Choices[0].Message.Content), nil
}

// userMessage uses the multi-part form only when an image is attached.
func userMessage(prompt Prompt) openai.ChatCompletionMessage {
	if prompt.ImageURL == "" {
		return openai.ChatCompletionMessage{Role: openai.ChatMessageRoleUser, Content: prompt.Text}
	}
	return openai.ChatCompletionMessage{
		Role: openai.ChatMessageRoleUser,
		MultiContent: []openai.ChatMessagePart{
			{Type: openai.ChatMessagePartTypeText, Text: prompt.Text},
			{
				Type: openai.ChatMessagePartTypeImageURL,
				ImageURL: &openai.ChatMessageImageURL{
					URL:    prompt.ImageURL,
					Detail: openai.ImageURLDetailAuto,
				},
			},
		},
	}
}

func classify(operation, model string, err error) *AIError {
	aiErr := &AIError{Type: ErrTypeNetwork, Operation: operation, Model: model, Message: "request failed", Cause: err}

	var apiErr *openai.APIError
	var reqErr *openai.RequestError
	switch {
	case errors.Is(err, context.DeadlineExceeded):
		aiErr.Type = ErrTypeTimeout
		aiErr.Message = "request timed out"
	case errors.As(err, &apiErr):
		aiErr.Code = apiErr.HTTPStatusCode
		aiErr.Type = ErrTypeProvider
		aiErr.Message = "upstream rejected request"
		if apiErr.HTTPStatusCode == http.StatusTooManyRequests {
			aiErr.Type = ErrTypeRateLimit
		}
	case errors.As(err, &reqErr):
		aiErr.Code = reqErr.HTTPStatusCode
		aiErr.Type = ErrTypeProvider
		aiErr.Message = "upstream returned an error status"
		if reqErr.HTTPStatusCode == http.StatusTooManyRequests {
			aiErr.Type = ErrTypeRateLimit
		}
	}
	return aiErr
}

func attributionHeaders(config *Config) map[string]string {
	headers := make(map[string]string)
	if config.Referer != "" {
		headers["HTTP-Referer"] = config.Referer
	}
	if config.AppTitle != "" {
		headers["X-Title"] = config.AppTitle
	}
	return headers
}

type headerTransport struct {
	base    http.RoundTripper
	headers map[string]string
}

func (t *headerTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	req = req.Clone(req.Context())
	for k, v := range t.headers {
		req.Header.Set(k, v)
	}
	return t.base.RoundTrip(req)
}
