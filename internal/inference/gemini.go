package inference

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"
	"google.golang.org/genai"

	"github.com/example/oralscan/internal/intake"
	"github.com/example/oralscan/internal/logging"
)

const (
	providerGemini     = "gemini"
	defaultGeminiModel = "gemini-2.5-flash"
)

// GeminiOptions configures NewGeminiClient.
type GeminiOptions struct {
	APIKey  string
	Model   string
	BaseURL string
	Timeout time.Duration
}

// GeminiClient calls the Gemini GenerateContent API with inline image bytes.
type GeminiClient struct {
	client *genai.Client
	model  string
	logger *zap.Logger
}

// NewGeminiClient returns a ready-to-use Gemini-backed Client.
func NewGeminiClient(ctx context.Context, opts GeminiOptions, logger *zap.Logger) (*GeminiClient, error) {
	cfg := &genai.ClientConfig{
		APIKey:     opts.APIKey,
		Backend:    genai.BackendGeminiAPI,
		HTTPClient: &http.Client{Timeout: opts.Timeout},
	}
	if opts.BaseURL != "" {
		cfg.HTTPOptions = genai.HTTPOptions{BaseURL: opts.BaseURL}
	}
	client, err := genai.NewClient(ctx, cfg)
	if err != nil {
		return nil, logging.NewOperationError("inference.gemini_new_client", "", err)
	}

	model := opts.Model
	if model == "" {
		model = defaultGeminiModel
	}
	return &GeminiClient{client: client, model: model, logger: logger.Named("gemini")}, nil
}

// Complete implements Client.
func (c *GeminiClient) Complete(ctx context.Context, img *intake.Image) (string, error) {
	contents := []*genai.Content{
		genai.NewContentFromParts([]*genai.Part{
			genai.NewPartFromText(UserPrompt),
			genai.NewPartFromBytes(img.Data, img.MIMEType),
		}, genai.RoleUser),
	}
	config := &genai.GenerateContentConfig{
		SystemInstruction: genai.NewContentFromText(SystemPrompt, genai.RoleUser),
		ResponseMIMEType:  "application/json",
	}

	resp, err := c.client.Models.GenerateContent(ctx, c.model, contents, config)
	if err != nil {
		classified := classifyGeminiError(err)
		c.logger.Error("generate content failed",
			zap.Error(logging.NewOperationError("inference.gemini_complete", logging.RequestID(ctx), classified)),
			zap.String("model", c.model))
		return "", classified
	}

	text := strings.TrimSpace(resp.Text())
	if text == "" {
		return "", &Error{Provider: providerGemini, Kind: KindUpstream, Err: ErrEmptyCompletion}
	}
	return text, nil
}

func classifyGeminiError(err error) error {
	var apiErr genai.APIError
	if errors.As(err, &apiErr) {
		return &Error{Provider: providerGemini, Kind: kindForStatus(apiErr.Code), StatusCode: apiErr.Code, Err: err}
	}
	var apiErrPtr *genai.APIError
	if errors.As(err, &apiErrPtr) {
		return &Error{Provider: providerGemini, Kind: kindForStatus(apiErrPtr.Code), StatusCode: apiErrPtr.Code, Err: err}
	}
	if errors.Is(err, context.Canceled) {
		return &Error{Provider: providerGemini, Kind: KindUpstream, Err: err}
	}
	if isNetworkError(err) {
		return &Error{Provider: providerGemini, Kind: KindNetwork, Err: err}
	}
	return &Error{Provider: providerGemini, Kind: KindUpstream, Err: err}
}
