package llm

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/mailcoach-ai/mailcoach/internal/config"
	"github.com/mailcoach-ai/mailcoach/internal/metrics"
	"github.com/mailcoach-ai/mailcoach/internal/settings"
	openai "github.com/sashabaranov/go-openai"
)

var (
	// ErrProviderUnavailable wraps transport and API failures of the completion provider.
	ErrProviderUnavailable = errors.New("llm: provider unavailable")
	// ErrInvalidResponse is returned when the provider answers with unusable content.
	ErrInvalidResponse = errors.New("llm: invalid response")
	// ErrNotConfigured is returned when no API key is configured.
	ErrNotConfigured = errors.New("llm: not configured")
)

// Completion is the text produced for one prompt.
type Completion struct {
	Text             string
	Model            string
	PromptTokens     int
	CompletionTokens int
}

// Completer produces e-mail text for a prompt.
type Completer interface {
	Complete(ctx context.Context, prompt Prompt) (Completion, error)
}

// OpenAIClient implements Completer with the OpenAI chat completions API.
type OpenAIClient struct {
	client      *openai.Client
	model       string
	temperature float32
	timeout     time.Duration
}

// NewOpenAIClient builds a client from config.
func NewOpenAIClient(cfg config.LLMConfig) (*OpenAIClient, error) {
	if strings.TrimSpace(cfg.APIKey) == "" {
		return nil, ErrNotConfigured
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = settings.DefaultLLMTimeoutSeconds * time.Second
	}
	clientCfg := openai.DefaultConfig(cfg.APIKey)
	if baseURL := strings.TrimRight(strings.TrimSpace(cfg.BaseURL), "/"); baseURL != "" {
		clientCfg.BaseURL = baseURL
	}
	clientCfg.HTTPClient = &http.Client{Timeout: timeout}

	model := strings.TrimSpace(cfg.Model)
	if model == "" {
		model = settings.DefaultLLMModel
	}
	temperature := cfg.Temperature
	if temperature <= 0 {
		temperature = settings.DefaultLLMTemperature
	}
	return &OpenAIClient{
		client:      openai.NewClientWithConfig(clientCfg),
		model:       model,
		temperature: temperature,
		timeout:     timeout,
	}, nil
}

// Complete runs one chat completion within the configured timeout.
func (c *OpenAIClient) Complete(ctx context.Context, prompt Prompt) (Completion, error) {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	req := openai.ChatCompletionRequest{
		Model:       c.model,
		Temperature: c.temperature,
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleSystem, Content: prompt.System},
			{Role: openai.ChatMessageRoleUser, Content: prompt.User},
		},
	}
	if prompt.JSON {
		req.ResponseFormat = &openai.ChatCompletionResponseFormat{Type: openai.ChatCompletionResponseFormatTypeJSONObject}
	}

	start := time.Now()
	resp, err := c.client.CreateChatCompletion(ctx, req)
	metrics.LLMDuration.WithLabelValues(prompt.Mode).Observe(time.Since(start).Seconds())
	if err != nil {
		metrics.LLMRequests.WithLabelValues(prompt.Mode, "error").Inc()
		return Completion{}, providerError(err)
	}
	if len(resp.Choices) == 0 {
		metrics.LLMRequests.WithLabelValues(prompt.Mode, "invalid").Inc()
		return Completion{}, fmt.Errorf("%w: no choices", ErrInvalidResponse)
	}
	text := strings.TrimSpace(resp.Choices[0].Message.Content)
	if text == "" {
		metrics.LLMRequests.WithLabelValues(prompt.Mode, "invalid").Inc()
		return Completion{}, fmt.Errorf("%w: empty content", ErrInvalidResponse)
	}
	metrics.LLMRequests.WithLabelValues(prompt.Mode, "ok").Inc()

	model := resp.Model
	if model == "" {
		model = c.model
	}
	return Completion{
		Text:             text,
		Model:            model,
		PromptTokens:     resp.Usage.PromptTokens,
		CompletionTokens: resp.Usage.CompletionTokens,
	}, nil
}

func providerError(err error) error {
	var apiErr *openai.APIError
	if errors.As(err, &apiErr) {
		return fmt.Errorf("%w: status %d: %s", ErrProviderUnavailable, apiErr.HTTPStatusCode, apiErr.Message)
	}
	var reqErr *openai.RequestError
	if errors.As(err, &reqErr) {
		return fmt.Errorf("%w: status %d", ErrProviderUnavailable, reqErr.HTTPStatusCode)
	}
	return fmt.Errorf("%w: %v", ErrProviderUnavailable, err)
}
