package inference

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/sashabaranov/go-openai"
	"go.uber.org/zap"

	"github.com/example/oralscan/internal/intake"
	"github.com/example/oralscan/internal/logging"
)

const (
	providerOpenAI     = "openai"
	defaultOpenAIModel = "gpt-4o"
	maxTokens          = 1024
)

// OpenAIOptions configures NewOpenAIClient.
type OpenAIOptions struct {
	APIKey  string
	Model   string
	BaseURL string
	Timeout time.Duration
}

// OpenAIClient calls the OpenAI chat completion API with an inline image.
type OpenAIClient struct {
	client *openai.Client
	model  string
	logger *zap.Logger
}

// NewOpenAIClient returns a ready-to-use OpenAI-backed Client.
func NewOpenAIClient(opts OpenAIOptions, logger *zap.Logger) *OpenAIClient {
	cfg := openai.DefaultConfig(opts.APIKey)
	if opts.BaseURL != "" {
		cfg.BaseURL = strings.TrimRight(opts.BaseURL, "/")
	}
	cfg.HTTPClient = &http.Client{Timeout: opts.Timeout}

	model := opts.Model
	if model == "" {
		model = defaultOpenAIModel
	}
	return &OpenAIClient{
		client: openai.NewClientWithConfig(cfg),
		model:  model,
		logger: logger.Named("openai"),
	}
}

// Complete implements Client.
func (c *OpenAIClient) Complete(ctx context.Context, img *intake.Image) (string, error) {
	req := openai.ChatCompletionRequest{
		Model: c.model,
		ResponseFormat: &openai.ChatCompletionResponseFormat{
			Type: openai.ChatCompletionResponseFormatTypeJSONObject,
		},
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleSystem, Content: SystemPrompt},
			{
				Role: openai.ChatMessageRoleUser,
				MultiContent: []openai.ChatMessagePart{
					{Type: openai.ChatMessagePartTypeText, Text: UserPrompt},
					{
						Type: openai.ChatMessagePartTypeImageURL,
						ImageURL: &openai.ChatMessageImageURL{
							URL:    img.DataURL(),
							Detail: openai.ImageURLDetailAuto,
						},
					},
				},
			},
		},
	}
	// Reasoning models reject max_tokens.
	if strings.HasPrefix(c.model, "o1") || strings.HasPrefix(c.model, "o3") || strings.HasPrefix(c.model, "o4") || strings.HasPrefix(c.model, "gpt-5") {
		req.MaxCompletionTokens = maxTokens
	} else {
		req.MaxTokens = maxTokens
	}

	resp, err := c.client.CreateChatCompletion(ctx, req)
	if err != nil {
		classified := classifyOpenAIError(err)
		c.logger.Error("chat completion failed",
			zap.Error(logging.NewOperationError("inference.openai_complete", logging.RequestID(ctx), classified)),
			zap.String("model", c.model))
		return "", classified
	}
	if len(resp.Choices) == 0 || strings.TrimSpace(resp.Choices[0].Message.Content) == "" {
		return "", &Error{Provider: providerOpenAI, Kind: KindUpstream, Err: ErrEmptyCompletion}
	}
	return resp.Choices[0].Message.Content, nil
}

func classifyOpenAIError(err error) error {
	var apiErr *openai.APIError
	if errors.As(err, &apiErr) {
		return &Error{Provider: providerOpenAI, Kind: kindForStatus(apiErr.HTTPStatusCode), StatusCode: apiErr.HTTPStatusCode, Err: err}
	}
	var reqErr *openai.RequestError
	if errors.As(err, &reqErr) {
		return &Error{Provider: providerOpenAI, Kind: kindForStatus(reqErr.HTTPStatusCode), StatusCode: reqErr.HTTPStatusCode, Err: err}
	}
	if errors.Is(err, context.Canceled) {
		return &Error{Provider: providerOpenAI, Kind: KindUpstream, Err: err}
	}
	if isNetworkError(err) {
		return &Error{Provider: providerOpenAI, Kind: KindNetwork, Err: err}
	}
	return &Error{Provider: providerOpenAI, Kind: KindUpstream, Err: err}
}
