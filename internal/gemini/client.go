package gemini

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"google.golang.org/genai"

	"pastelflow/internal/editor"
	"pastelflow/internal/imagedata"
)

const defaultModel = "gemini-2.5-flash-image"

const systemInstruction = `You are an image editor. You receive one source image and an editing instruction.
Apply the instruction to the source image and answer with the edited image.
Keep the composition of the source unless the instruction asks otherwise.`

const imageOnlyReminder = "\n\nReturn only the edited image as inline image data. Do not answer with text, JSON or links."

type Options struct {
	APIKey     string
	BaseURL    string
	APIVersion string
	Model      string
	// AspectRatio such as "1:1" or "4:5". Empty keeps the source ratio.
	AspectRatio string
	HTTPClient  *http.Client
	Logger      *slog.Logger
}

type Client struct {
	genai  *genai.Client
	model  string
	aspect string
	logger *slog.Logger
}

var _ editor.Generator = (*Client)(nil)

func New(ctx context.Context, opts Options) (*Client, error) {
	if strings.TrimSpace(opts.APIKey) == "" {
		return nil, errors.New("gemini api key is empty")
	}

	apiVersion := strings.TrimSpace(opts.APIVersion)
	if apiVersion == "" {
		apiVersion = "v1beta"
	}

	model := strings.TrimSpace(opts.Model)
	if model == "" {
		model = defaultModel
	}

	logger := opts.Logger
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}

	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:     opts.APIKey,
		Backend:    genai.BackendGeminiAPI,
		HTTPClient: opts.HTTPClient,
		HTTPOptions: genai.HTTPOptions{
			BaseURL:    strings.TrimSpace(opts.BaseURL),
			APIVersion: apiVersion,
		},
	})
	if err != nil {
		return nil, fmt.Errorf("gemini client: %w", err)
	}

	return &Client{
		genai:  client,
		model:  model,
		aspect: strings.TrimSpace(opts.AspectRatio),
		logger: logger,
	}, nil
}

// EditImage applies instruction to the image and returns the first image
// of the answer as a data URI.
func (c *Client) EditImage(ctx context.Context, image, instruction string) (string, error) {
	mimeType, data, err := imagedata.ParseDataURL(image)
	if err != nil {
		return "", fmt.Errorf("source image: %w", err)
	}
	instruction = strings.TrimSpace(instruction)
	if instruction == "" {
		return "", errors.New("instruction is empty")
	}

	config := &genai.GenerateContentConfig{
		SystemInstruction:  genai.NewContentFromText(systemInstruction, genai.RoleUser),
		Temperature:        genai.Ptr[float32](0.7),
		ResponseModalities: []string{"IMAGE", "TEXT"},
	}
	if c.aspect != "" {
		config.ImageConfig = &genai.ImageConfig{AspectRatio: c.aspect}
	}

	start := time.Now()
	res, err := c.generateContent(ctx, buildContents(instruction, mimeType, data), config)
	if err != nil {
		return "", err
	}

	if len(res.images) == 0 {
		c.logger.Debug("gemini answered without image, asking again", "text_len", len(res.text))
		retry, retryErr := c.generateContent(ctx, buildContents(instruction+imageOnlyReminder, mimeType, data), config)
		if retryErr == nil && len(retry.images) > 0 {
			res = retry
		}
	}

	if len(res.images) == 0 {
		return "", noImageError(res)
	}

	c.logger.Info("gemini edit done", "model", c.model, "images", len(res.images), "dur_ms", time.Since(start).Milliseconds())
	return res.images[0], nil
}

func buildContents(instruction, mimeType string, data []byte) []*genai.Content {
	parts := []*genai.Part{
		genai.NewPartFromText(instruction),
		{InlineData: &genai.Blob{MIMEType: mimeType, Data: data}},
	}
	return []*genai.Content{genai.NewContentFromParts(parts, genai.RoleUser)}
}

type result struct {
	text        string
	images      []string
	blockReason string
}

// generateContent drops an imageConfig the API version does not know and
// tries once more.
func (c *Client) generateContent(ctx context.Context, contents []*genai.Content, config *genai.GenerateContentConfig) (result, error) {
	resp, err := c.genai.Models.GenerateContent(ctx, c.model, contents, config)
	if err != nil && config.ImageConfig != nil && isUnknownFieldError(err, "imageConfig") {
		c.logger.Debug("gemini rejected imageConfig, retrying without it")
		config.ImageConfig = nil
		resp, err = c.genai.Models.GenerateContent(ctx, c.model, contents, config)
	}
	if err != nil {
		return result{}, describe(err)
	}
	return extractParts(resp), nil
}

func extractParts(resp *genai.GenerateContentResponse) result {
	var res result
	if resp == nil {
		return res
	}
	if resp.PromptFeedback != nil {
		res.blockReason = string(resp.PromptFeedback.BlockReason)
	}
	if len(resp.Candidates) == 0 || resp.Candidates[0] == nil {
		return res
	}

	cand := resp.Candidates[0]
	if res.blockReason == "" && cand.FinishReason == genai.FinishReasonSafety {
		res.blockReason = string(cand.FinishReason)
	}
	if cand.Content == nil {
		return res
	}

	var textBuilder strings.Builder
	for _, p := range cand.Content.Parts {
		if p == nil || p.Thought {
			continue
		}
		if p.Text != "" {
			textBuilder.WriteString(p.Text)
		}
		if p.InlineData != nil && len(p.InlineData.Data) > 0 && p.InlineData.MIMEType != "" {
			res.images = append(res.images, imagedata.FormatDataURL(p.InlineData.MIMEType, p.InlineData.Data))
		}
	}
	res.text = strings.TrimSpace(textBuilder.String())
	return res
}

func noImageError(res result) error {
	switch {
	case res.blockReason != "":
		return fmt.Errorf("the request was blocked by the model (%s)", res.blockReason)
	case res.text != "":
		return fmt.Errorf("the model did not return an image: %s", res.text)
	default:
		return errors.New("the model did not return an image")
	}
}

// describe turns SDK errors into the short message shown to users.
func describe(err error) error {
	if apiErr, ok := asAPIError(err); ok {
		status := apiErr.Status
		if status == "" {
			status = http.StatusText(apiErr.Code)
		}
		return fmt.Errorf("gemini API %d %s: %s", apiErr.Code, status, apiErr.Message)
	}
	return fmt.Errorf("gemini request: %w", err)
}

func asAPIError(err error) (genai.APIError, bool) {
	var apiErr genai.APIError
	if errors.As(err, &apiErr) {
		return apiErr, true
	}
	var apiErrPtr *genai.APIError
	if errors.As(err, &apiErrPtr) && apiErrPtr != nil {
		return *apiErrPtr, true
	}
	return genai.APIError{}, false
}

func isUnknownFieldError(err error, field string) bool {
	message := err.Error()
	if apiErr, ok := asAPIError(err); ok {
		message = apiErr.Message
	}
	return strings.Contains(message, "Unknown name") && strings.Contains(message, field)
}
