package openai

import (
	"context"
	"encoding/base64"
	"fmt"
	"net/http"
	"time"

	"github.com/garyjia/invoice-matcher/internal/application/port"
	"github.com/garyjia/invoice-matcher/internal/domain/entity"
	"github.com/garyjia/invoice-matcher/internal/invoice"
	openai "github.com/sashabaranov/go-openai"
	"go.uber.org/zap"
)

// Rasterizer turns a PDF into page images
type Rasterizer interface {
	Rasterize(data []byte) ([][]byte, error)
}

// Config configures the extractor
type Config struct {
	APIKey    string
	BaseURL   string
	Model     string
	Timeout   time.Duration
	MaxTokens int
}

// Extractor implements port.Extractor with OpenAI vision chat completions
type Extractor struct {
	client     *openai.Client
	model      string
	maxTokens  int
	prompts    *PromptConfig
	rasterizer Rasterizer
	logger     *zap.Logger
}

// NewExtractor creates an extractor. The HTTP client timeout bounds every call.
func NewExtractor(cfg Config, rasterizer Rasterizer, logger *zap.Logger) (*Extractor, error) {
	prompts, err := LoadPrompts()
	if err != nil {
		return nil, err
	}

	clientCfg := openai.DefaultConfig(cfg.APIKey)
	if cfg.BaseURL != "" {
		clientCfg.BaseURL = cfg.BaseURL
	}
	clientCfg.HTTPClient = &http.Client{Timeout: cfg.Timeout}

	maxTokens := cfg.MaxTokens
	if maxTokens <= 0 {
		maxTokens = prompts.InvoiceExtraction.MaxTokens
	}

	return &Extractor{
		client:     openai.NewClientWithConfig(clientCfg),
		model:      cfg.Model,
		maxTokens:  maxTokens,
		prompts:    prompts,
		rasterizer: rasterizer,
		logger:     logger,
	}, nil
}

// Extract sends the document to the model and parses the reply. Only
// transport and authentication failures are returned as errors.
func (e *Extractor) Extract(ctx context.Context, data []byte, mediaType, fileName string) (*port.ExtractionResult, error) {
	images, err := e.images(data, mediaType)
	if err != nil {
		return nil, err
	}

	parts := []openai.ChatMessagePart{
		{
			Type: openai.ChatMessagePartTypeText,
			Text: e.prompts.InvoiceExtraction.User,
		},
	}
	for _, img := range images {
		parts = append(parts, openai.ChatMessagePart{
			Type: openai.ChatMessagePartTypeImageURL,
			ImageURL: &openai.ChatMessageImageURL{
				URL:    img,
				Detail: openai.ImageURLDetailHigh,
			},
		})
	}

	e.logger.Info("Extracting invoice fields",
		zap.String("file_name", fileName),
		zap.String("media_type", mediaType),
		zap.Int("images", len(images)))

	resp, err := e.client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model:       e.model,
		MaxTokens:   e.maxTokens,
		Temperature: e.prompts.InvoiceExtraction.Temperature,
		Messages: []openai.ChatCompletionMessage{
			{
				Role:    openai.ChatMessageRoleSystem,
				Content: e.prompts.InvoiceExtraction.System,
			},
			{
				Role:         openai.ChatMessageRoleUser,
				MultiContent: parts,
			},
		},
		ResponseFormat: &openai.ChatCompletionResponseFormat{
			Type: openai.ChatCompletionResponseFormatTypeJSONObject,
		},
	})
	if err != nil {
		e.logger.Error("Vision API call failed", zap.String("file_name", fileName), zap.Error(err))
		return nil, fmt.Errorf("vision API call failed: %w", err)
	}

	var content string
	if len(resp.Choices) > 0 {
		content = resp.Choices[0].Message.Content
	}

	model := resp.Model
	if model == "" {
		model = e.model
	}

	fields := invoice.ParseReply(content)
	if fields.IsEmpty() {
		e.logger.Warn("No fields extracted from reply",
			zap.String("file_name", fileName),
			zap.Int("reply_length", len(content)))
	}

	return &port.ExtractionResult{
		Amount:        fields.Amount,
		Date:          fields.Date,
		Vendor:        fields.Vendor,
		InvoiceNumber: fields.InvoiceNumber,
		TokensIn:      resp.Usage.PromptTokens,
		TokensOut:     resp.Usage.CompletionTokens,
		RawText:       content,
		Model:         model,
	}, nil
}

// images returns the data URIs sent to the model
func (e *Extractor) images(data []byte, mediaType string) ([]string, error) {
	if mediaType != entity.MediaTypePDF {
		return []string{dataURI(mediaType, data)}, nil
	}

	if e.rasterizer == nil {
		return nil, fmt.Errorf("no PDF rasterizer configured")
	}
	pages, err := e.rasterizer.Rasterize(data)
	if err != nil {
		return nil, fmt.Errorf("failed to render PDF: %w", err)
	}

	uris := make([]string, 0, len(pages))
	for _, p := range pages {
		uris = append(uris, dataURI(entity.MediaTypeJPEG, p))
	}
	return uris, nil
}

func dataURI(mediaType string, data []byte) string {
	return fmt.Sprintf("data:%s;base64,%s", mediaType, base64.StdEncoding.EncodeToString(data))
}

// Verify interface compliance
var _ port.Extractor = (*Extractor)(nil)
