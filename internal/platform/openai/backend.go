// Package openai implements the generation.Backend interface for
// DALL·E-family models behind the OpenAI images API (or any compatible
// endpoint). Text-to-image requests use the generations endpoint;
// image-to-image requests with an optional mask use the edits endpoint.
package openai

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"mime/multipart"
	"net/http"
	"strings"
	"time"

	"github.com/imgbatch/imgbatch/internal/generation"
)

// Family is the model family this backend serves.
const Family = "dalle"

// DefaultBaseURL is the production OpenAI API endpoint.
const DefaultBaseURL = "https://api.openai.com"

// defaultTimeout bounds calls when the request carries no explicit one.
const defaultTimeout = 120 * time.Second

// Backend generates images through the OpenAI images API.
type Backend struct {
	logger  *slog.Logger
	apiKey  string
	baseURL string
	client  *http.Client
}

// New creates a DALL·E backend. baseURL may be empty to use the
// production endpoint.
func New(logger *slog.Logger, apiKey, baseURL string) (*Backend, error) {
	if logger == nil {
		return nil, errors.New("logger cannot be nil")
	}
	if apiKey == "" {
		return nil, fmt.Errorf("%w: openai API key cannot be empty", generation.ErrInvalidConfig)
	}
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}

	return &Backend{
		logger:  logger.With("component", "openai_backend"),
		apiKey:  apiKey,
		baseURL: strings.TrimRight(baseURL, "/"),
		client:  &http.Client{},
	}, nil
}

// Family returns the model family identifier.
func (b *Backend) Family() string {
	return Family
}

// imageResponse is the relevant subset of the images API response.
type imageResponse struct {
	Data []struct {
		URL     string `json:"url"`
		B64JSON string `json:"b64_json"`
	} `json:"data"`
	Error *struct {
		Message string `json:"message"`
		Code    string `json:"code"`
	} `json:"error"`
}

// Generate performs one generation call.
func (b *Backend) Generate(ctx context.Context, req generation.Request) (*generation.Result, error) {
	if req.Model == "" {
		return nil, fmt.Errorf("%w: model cannot be empty", generation.ErrInvalidConfig)
	}

	timeout := req.Timeout
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	start := time.Now()

	var (
		httpReq *http.Request
		err     error
	)
	if len(req.SourceImages) > 0 {
		httpReq, err = b.editsRequest(ctx, req)
	} else {
		httpReq, err = b.generationsRequest(ctx, req)
	}
	if err != nil {
		return nil, err
	}

	ref, err := b.do(httpReq)
	duration := time.Since(start)
	if err != nil {
		b.logger.Debug("generation call failed",
			"model", req.Model,
			"duration_ms", duration.Milliseconds(),
			"error", err)
		return nil, err
	}

	return &generation.Result{ImageRef: ref, Duration: duration}, nil
}

// generationsRequest builds a JSON request for the generations endpoint.
func (b *Backend) generationsRequest(ctx context.Context, req generation.Request) (*http.Request, error) {
	payload := map[string]any{
		"model":  req.Model,
		"prompt": req.Prompt,
		"n":      1,
	}
	if req.Size != "" {
		payload["size"] = req.Size
	}
	if req.Quality != "" {
		payload["quality"] = req.Quality
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost,
		b.baseURL+"/v1/images/generations", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("failed to build request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Authorization", "Bearer "+b.apiKey)
	return httpReq, nil
}

// editsRequest builds a multipart request for the edits endpoint with the
// first source image and optional mask attached.
func (b *Backend) editsRequest(ctx context.Context, req generation.Request) (*http.Request, error) {
	imageData, err := decodeDataURL(req.SourceImages[0])
	if err != nil {
		return nil, fmt.Errorf("%w: %v", generation.ErrInvalidConfig, err)
	}

	var buf bytes.Buffer
	w := multipart.NewWriter(&buf)

	if err := writeFilePart(w, "image", "image.png", imageData); err != nil {
		return nil, err
	}
	if req.Mask != "" {
		maskData, err := decodeDataURL(req.Mask)
		if err != nil {
			return nil, fmt.Errorf("%w: invalid mask: %v", generation.ErrInvalidConfig, err)
		}
		if err := writeFilePart(w, "mask", "mask.png", maskData); err != nil {
			return nil, err
		}
	}

	fields := map[string]string{
		"model":  req.Model,
		"prompt": req.Prompt,
		"n":      "1",
	}
	if req.Size != "" {
		fields["size"] = req.Size
	}
	for name, value := range fields {
		if err := w.WriteField(name, value); err != nil {
			return nil, fmt.Errorf("failed to write form field: %w", err)
		}
	}
	if err := w.Close(); err != nil {
		return nil, fmt.Errorf("failed to finalize form: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost,
		b.baseURL+"/v1/images/edits", &buf)
	if err != nil {
		return nil, fmt.Errorf("failed to build request: %w", err)
	}
	httpReq.Header.Set("Content-Type", w.FormDataContentType())
	httpReq.Header.Set("Authorization", "Bearer "+b.apiKey)
	return httpReq, nil
}

func writeFilePart(w *multipart.Writer, field, filename string, data []byte) error {
	part, err := w.CreateFormFile(field, filename)
	if err != nil {
		return fmt.Errorf("failed to create form file: %w", err)
	}
	if _, err := part.Write(data); err != nil {
		return fmt.Errorf("failed to write form file: %w", err)
	}
	return nil
}

// do executes the request and extracts the image reference.
func (b *Backend) do(httpReq *http.Request) (string, error) {
	resp, err := b.client.Do(httpReq)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			return "", fmt.Errorf("%w: %v", generation.ErrTransientFailure, err)
		}
		return "", fmt.Errorf("%w: %v", generation.ErrTransientFailure, err)
	}
	defer func() { _ = resp.Body.Close() }()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 32<<20))
	if err != nil {
		return "", fmt.Errorf("%w: failed to read response: %v", generation.ErrTransientFailure, err)
	}

	var parsed imageResponse
	if err := json.Unmarshal(body, &parsed); err != nil && resp.StatusCode == http.StatusOK {
		return "", fmt.Errorf("%w: %v", generation.ErrInvalidResponse, err)
	}

	if resp.StatusCode != http.StatusOK {
		msg := http.StatusText(resp.StatusCode)
		code := ""
		if parsed.Error != nil {
			msg = parsed.Error.Message
			code = parsed.Error.Code
		}
		return "", mapStatus(resp.StatusCode, code, msg)
	}

	if len(parsed.Data) == 0 {
		return "", fmt.Errorf("%w: response contains no image", generation.ErrInvalidResponse)
	}
	if parsed.Data[0].URL != "" {
		return parsed.Data[0].URL, nil
	}
	if parsed.Data[0].B64JSON != "" {
		return "data:image/png;base64," + parsed.Data[0].B64JSON, nil
	}
	return "", fmt.Errorf("%w: response contains neither url nor b64_json", generation.ErrInvalidResponse)
}

// mapStatus translates HTTP failures into generation sentinels.
func mapStatus(status int, code, msg string) error {
	switch {
	case status == http.StatusTooManyRequests || status >= 500:
		return fmt.Errorf("%w: %s (http %d)", generation.ErrTransientFailure, msg, status)
	case code == "content_policy_violation":
		return fmt.Errorf("%w: %s", generation.ErrContentBlocked, msg)
	default:
		return fmt.Errorf("%w: %s (http %d)", generation.ErrGenerationFailed, msg, status)
	}
}

// decodeDataURL splits a data URL into its raw bytes.
func decodeDataURL(ref string) ([]byte, error) {
	const marker = ";base64,"
	if !strings.HasPrefix(ref, "data:") {
		return nil, errors.New("source image must be a data URL")
	}
	sep := strings.Index(ref, marker)
	if sep < 0 {
		return nil, errors.New("source image data URL must be base64 encoded")
	}
	data, err := base64.StdEncoding.DecodeString(ref[sep+len(marker):])
	if err != nil {
		return nil, fmt.Errorf("invalid base64 image data: %w", err)
	}
	return data, nil
}

// Ensure Backend implements generation.Backend
var _ generation.Backend = (*Backend)(nil)
