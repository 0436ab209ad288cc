package gemini

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"google.golang.org/genai"

	"github.com/imgbatch/imgbatch/internal/generation"
)

// Family is the model family this backend serves.
const Family = "gemini"

// imageModels is the genai surface the backend depends on, narrowed to an
// interface so tests can substitute a stub for the real client.
type imageModels interface {
	GenerateImages(ctx context.Context, model string, prompt string, config *genai.GenerateImagesConfig) (*genai.GenerateImagesResponse, error)
	GenerateContent(ctx context.Context, model string, contents []*genai.Content, config *genai.GenerateContentConfig) (*genai.GenerateContentResponse, error)
}

// Backend generates images through the Gemini API.
type Backend struct {
	logger *slog.Logger
	models imageModels
}

// New creates a Gemini backend with the provided API key.
func New(ctx context.Context, logger *slog.Logger, apiKey string) (*Backend, error) {
	if logger == nil {
		return nil, errors.New("logger cannot be nil")
	}
	if apiKey == "" {
		return nil, fmt.Errorf("%w: gemini API key cannot be empty", generation.ErrInvalidConfig)
	}

	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:  apiKey,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return nil, fmt.Errorf("%w: failed to create Gemini client: %v", generation.ErrInvalidConfig, err)
	}

	return &Backend{
		logger: logger.With("component", "gemini_backend"),
		models: client.Models,
	}, nil
}

// Family returns the model family identifier.
func (b *Backend) Family() string {
	return Family
}

// Generate performs one generation call against the Gemini API.
func (b *Backend) Generate(ctx context.Context, req generation.Request) (*generation.Result, error) {
	if req.Model == "" {
		return nil, fmt.Errorf("%w: model cannot be empty", generation.ErrInvalidConfig)
	}

	if req.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, req.Timeout)
		defer cancel()
	}

	start := time.Now()

	var (
		ref string
		err error
	)
	if len(req.SourceImages) > 0 {
		ref, err = b.generateFromImages(ctx, req)
	} else {
		ref, err = b.generateFromText(ctx, req)
	}
	duration := time.Since(start)

	if err != nil {
		b.logger.Debug("generation call failed",
			"model", req.Model,
			"duration_ms", duration.Milliseconds(),
			"error", err)
		return nil, mapError(err)
	}

	return &generation.Result{ImageRef: ref, Duration: duration}, nil
}

// generateFromText uses the dedicated image generation endpoint.
func (b *Backend) generateFromText(ctx context.Context, req generation.Request) (string, error) {
	cfg := &genai.GenerateImagesConfig{
		NumberOfImages: 1,
	}
	if req.AspectRatio != "" {
		cfg.AspectRatio = req.AspectRatio
	}

	resp, err := b.models.GenerateImages(ctx, req.Model, req.Prompt, cfg)
	if err != nil {
		return "", err
	}
	if resp == nil || len(resp.GeneratedImages) == 0 || resp.GeneratedImages[0].Image == nil {
		return "", fmt.Errorf("%w: response contains no image", generation.ErrInvalidResponse)
	}

	img := resp.GeneratedImages[0].Image
	return toDataURL(img.ImageBytes, img.MIMEType), nil
}

// generateFromImages sends the prompt together with the source images as
// multimodal content and extracts the first inline image from the reply.
func (b *Backend) generateFromImages(ctx context.Context, req generation.Request) (string, error) {
	parts := make([]*genai.Part, 0, len(req.SourceImages)+2)
	if req.Prompt != "" {
		parts = append(parts, genai.NewPartFromText(req.Prompt))
	}
	for _, src := range req.SourceImages {
		data, mime, err := decodeDataURL(src)
		if err != nil {
			return "", fmt.Errorf("%w: %v", generation.ErrInvalidConfig, err)
		}
		parts = append(parts, genai.NewPartFromBytes(data, mime))
	}
	if req.Mask != "" {
		data, mime, err := decodeDataURL(req.Mask)
		if err != nil {
			return "", fmt.Errorf("%w: invalid mask: %v", generation.ErrInvalidConfig, err)
		}
		parts = append(parts, genai.NewPartFromBytes(data, mime))
	}

	contents := []*genai.Content{genai.NewContentFromParts(parts, genai.RoleUser)}

	resp, err := b.models.GenerateContent(ctx, req.Model, contents, nil)
	if err != nil {
		return "", err
	}
	if resp == nil || len(resp.Candidates) == 0 || resp.Candidates[0].Content == nil {
		return "", fmt.Errorf("%w: response contains no candidates", generation.ErrInvalidResponse)
	}

	for _, part := range resp.Candidates[0].Content.Parts {
		if part.InlineData != nil && len(part.InlineData.Data) > 0 {
			return toDataURL(part.InlineData.Data, part.InlineData.MIMEType), nil
		}
	}
	return "", fmt.Errorf("%w: response contains no image part", generation.ErrInvalidResponse)
}

// toDataURL embeds raw image bytes in a data URL.
func toDataURL(data []byte, mimeType string) string {
	if mimeType == "" {
		mimeType = "image/png"
	}
	return "data:" + mimeType + ";base64," + base64.StdEncoding.EncodeToString(data)
}

// decodeDataURL splits a data URL into its bytes and MIME type.
func decodeDataURL(ref string) ([]byte, string, error) {
	const prefix = "data:"
	if !strings.HasPrefix(ref, prefix) {
		return nil, "", fmt.Errorf("source image must be a data URL, got %q", truncate(ref, 32))
	}

	rest := strings.TrimPrefix(ref, prefix)
	sep := strings.Index(rest, ";base64,")
	if sep < 0 {
		return nil, "", errors.New("source image data URL must be base64 encoded")
	}

	mime := rest[:sep]
	data, err := base64.StdEncoding.DecodeString(rest[sep+len(";base64,"):])
	if err != nil {
		return nil, "", fmt.Errorf("invalid base64 image data: %w", err)
	}
	return data, mime, nil
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}

// mapError translates genai errors into the generation package's
// sentinels so the scheduler can tell transient failures apart.
func mapError(err error) error {
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return fmt.Errorf("%w: %v", generation.ErrTransientFailure, err)
	}

	var apiErr genai.APIError
	if errors.As(err, &apiErr) {
		switch {
		case apiErr.Code == 429 || apiErr.Code >= 500:
			return fmt.Errorf("%w: %v", generation.ErrTransientFailure, err)
		case apiErr.Code == 400 && strings.Contains(strings.ToLower(apiErr.Message), "safety"):
			return fmt.Errorf("%w: %v", generation.ErrContentBlocked, err)
		}
	}

	if errors.Is(err, generation.ErrInvalidResponse) ||
		errors.Is(err, generation.ErrInvalidConfig) {
		return err
	}
	return fmt.Errorf("%w: %v", generation.ErrGenerationFailed, err)
}

// Ensure Backend implements generation.Backend
var _ generation.Backend = (*Backend)(nil)
