// Package openaiimage edits images through the OpenAI images API.
package openaiimage

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/sashabaranov/go-openai"

	"pastelflow/internal/editor"
	"pastelflow/internal/imagedata"
)

const defaultModel = "gpt-image-1"

type Options struct {
	APIKey     string
	BaseURL    string
	Model      string
	Size       string
	HTTPClient *http.Client
	Logger     *slog.Logger
}

type Client struct {
	api        *openai.Client
	model      string
	size       string
	httpClient *http.Client
	logger     *slog.Logger
}

var _ editor.Generator = (*Client)(nil)

func New(opts Options) *Client {
	cfg := openai.DefaultConfig(opts.APIKey)
	if baseURL := strings.TrimRight(strings.TrimSpace(opts.BaseURL), "/"); baseURL != "" {
		cfg.BaseURL = baseURL
	}

	httpClient := opts.HTTPClient
	if httpClient == nil {
		httpClient = http.DefaultClient
	}
	cfg.HTTPClient = httpClient

	model := strings.TrimSpace(opts.Model)
	if model == "" {
		model = defaultModel
	}

	size := strings.TrimSpace(opts.Size)
	if size == "" {
		size = openai.CreateImageSize1024x1024
	}

	logger := opts.Logger
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}

	return &Client{
		api:        openai.NewClientWithConfig(cfg),
		model:      model,
		size:       size,
		httpClient: httpClient,
		logger:     logger,
	}
}

func (c *Client) EditImage(ctx context.Context, image, instruction string) (string, error) {
	mimeType, data, err := imagedata.ParseDataURL(image)
	if err != nil {
		return "", fmt.Errorf("source image: %w", err)
	}
	instruction = strings.TrimSpace(instruction)
	if instruction == "" {
		return "", errors.New("instruction is empty")
	}

	// The multipart encoder takes the upload's file name from the reader.
	src, cleanup, err := tempImage(mimeType, data)
	if err != nil {
		return "", err
	}
	defer cleanup()

	req := openai.ImageEditRequest{
		Image:  src,
		Prompt: instruction,
		Model:  c.model,
		N:      1,
		Size:   c.size,
	}
	if strings.HasPrefix(c.model, "dall-e") {
		req.ResponseFormat = openai.CreateImageResponseFormatB64JSON
	}

	start := time.Now()
	resp, err := c.api.CreateEditImage(ctx, req)
	if err != nil {
		return "", describe(err)
	}
	if len(resp.Data) == 0 {
		return "", errors.New("the model did not return an image")
	}

	out, err := c.toDataURL(ctx, resp.Data[0])
	if err != nil {
		return "", err
	}
	c.logger.Info("openai edit done", "model", c.model, "dur_ms", time.Since(start).Milliseconds())
	return out, nil
}

func (c *Client) toDataURL(ctx context.Context, item openai.ImageResponseDataInner) (string, error) {
	if item.B64JSON != "" {
		data, err := base64.StdEncoding.DecodeString(strings.TrimSpace(item.B64JSON))
		if err != nil {
			return "", fmt.Errorf("decode image: %w", err)
		}
		return imagedata.FormatDataURL(imageMime("", data), data), nil
	}
	if item.URL == "" {
		return "", errors.New("the model did not return an image")
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, item.URL, nil)
	if err != nil {
		return "", fmt.Errorf("create download request: %w", err)
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("download image: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		return "", fmt.Errorf("download image: %s", resp.Status)
	}
	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fmt.Errorf("download image: %w", err)
	}
	return imagedata.FormatDataURL(imageMime(resp.Header.Get("content-type"), data), data), nil
}

var extensions = map[string]string{
	"image/png":  ".png",
	"image/jpeg": ".jpg",
	"image/webp": ".webp",
	"image/gif":  ".gif",
}

func tempImage(mimeType string, data []byte) (*os.File, func(), error) {
	ext, ok := extensions[mimeType]
	if !ok {
		ext = ".png"
	}

	f, err := os.CreateTemp("", "pastelflow-*"+ext)
	if err != nil {
		return nil, nil, fmt.Errorf("stage image: %w", err)
	}
	cleanup := func() {
		_ = f.Close()
		_ = os.Remove(f.Name())
	}

	if _, err := f.Write(data); err != nil {
		cleanup()
		return nil, nil, fmt.Errorf("stage image: %w", err)
	}
	if _, err := f.Seek(0, io.SeekStart); err != nil {
		cleanup()
		return nil, nil, fmt.Errorf("stage image: %w", err)
	}
	return f, cleanup, nil
}

func imageMime(declared string, data []byte) string {
	mimeType := imagedata.DetectMime(declared, data)
	if !strings.HasPrefix(mimeType, "image/") {
		return "image/png"
	}
	return mimeType
}

// describe turns SDK errors into a message fit for display.
func describe(err error) error {
	var apiErr *openai.APIError
	if errors.As(err, &apiErr) {
		return fmt.Errorf("openai API %d: %s", apiErr.HTTPStatusCode, apiErr.Message)
	}
	var reqErr *openai.RequestError
	if errors.As(err, &reqErr) {
		return fmt.Errorf("openai API %d: request failed", reqErr.HTTPStatusCode)
	}
	return fmt.Errorf("openai request: %w", err)
}
