// Package extraction calls the AI vision model that reads prescription photos
// and returns the raw, untrusted extraction envelope.
package extraction

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/generative-ai-go/genai"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
	"google.golang.org/api/option"

	"github.com/medsnap/rxscan/internal/domain/medicine"
)

// DefaultModel is the Gemini model used when none is configured.
const DefaultModel = "gemini-2.5-pro"

// Config holds Gemini client settings.
type Config struct {
	APIKey          string
	Model           string
	Temperature     float32
	MaxOutputTokens int32
	Timeout         time.Duration
}

// DefaultConfig returns the extraction defaults.
func DefaultConfig(apiKey string) Config {
	return Config{
		APIKey:          apiKey,
		Model:           DefaultModel,
		Temperature:     0.1,
		MaxOutputTokens: 3000,
		Timeout:         60 * time.Second,
	}
}

// generator is satisfied by *genai.GenerativeModel.
type generator interface {
	GenerateContent(ctx context.Context, parts ...genai.Part) (*genai.GenerateContentResponse, error)
}

// GeminiExtractor extracts prescription data with Gemini function calling.
type GeminiExtractor struct {
	client  *genai.Client
	model   generator
	timeout time.Duration
	logger  *zap.Logger
	tracer  trace.Tracer
}

// NewGeminiExtractor creates an extractor backed by the Gemini API.
func NewGeminiExtractor(ctx context.Context, cfg Config, logger *zap.Logger) (*GeminiExtractor, error) {
	if strings.TrimSpace(cfg.APIKey) == "" {
		return nil, errors.New("extraction: gemini api key is required")
	}
	if strings.TrimSpace(cfg.Model) == "" {
		cfg.Model = DefaultModel
	}

	client, err := genai.NewClient(ctx, option.WithAPIKey(cfg.APIKey))
	if err != nil {
		return nil, fmt.Errorf("extraction: failed to create gemini client: %w", err)
	}

	model := client.GenerativeModel(cfg.Model)
	model.SetTemperature(cfg.Temperature)
	if cfg.MaxOutputTokens > 0 {
		model.SetMaxOutputTokens(cfg.MaxOutputTokens)
	}
	model.SystemInstruction = genai.NewUserContent(genai.Text(systemPrompt))
	model.Tools = []*genai.Tool{extractionTool}
	model.ToolConfig = &genai.ToolConfig{
		FunctionCallingConfig: &genai.FunctionCallingConfig{
			Mode:                 genai.FunctionCallingAny,
			AllowedFunctionNames: []string{functionName},
		},
	}

	ex := newExtractor(model, cfg.Timeout, logger)
	ex.client = client
	return ex, nil
}

func newExtractor(model generator, timeout time.Duration, logger *zap.Logger) *GeminiExtractor {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &GeminiExtractor{
		model:   model,
		timeout: timeout,
		logger:  logger,
		tracer:  otel.Tracer("extraction"),
	}
}

// Extract sends the image to the model and returns the raw extraction.
func (g *GeminiExtractor) Extract(ctx context.Context, img *Image) (*medicine.RawExtraction, error) {
	if img == nil || len(img.Data) == 0 {
		return nil, ErrNoImage
	}

	ctx, span := g.tracer.Start(ctx, "gemini_extract",
		trace.WithAttributes(
			attribute.String("image_format", img.Format),
			attribute.Int("image_bytes", len(img.Data)),
		))
	defer span.End()

	if g.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, g.timeout)
		defer cancel()
	}

	resp, err := g.model.GenerateContent(ctx,
		genai.Text(userPrompt),
		genai.ImageData(img.Format, img.Data),
	)
	if err != nil {
		err = classify(err)
		span.RecordError(err)
		g.logger.Error("gemini extraction failed", zap.Error(err))
		return nil, err
	}

	x, err := ParseResponse(resp)
	if err != nil {
		span.RecordError(err)
		return nil, err
	}
	span.SetAttributes(attribute.Int("medicines", len(x.Medicines)))
	return x, nil
}

// Close releases resources held by the Gemini client.
func (g *GeminiExtractor) Close() error {
	if g.client != nil {
		return g.client.Close()
	}
	return nil
}
