package gemini

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
)

const (
	modelAnalysis = "gemini-3-flash-preview"
	modelImage    = "gemini-2.5-flash-image"
)

// ErrNoImage is returned when the image model answers without inline image
// data.
var ErrNoImage = errors.New("no image produced")

type Options struct {
	APIKey     string
	BaseURL    string
	APIVersion string
	HTTPClient *http.Client
	Logger     *slog.Logger
}

type Client struct {
	apiKey     string
	baseURL    string
	apiVersion string
	httpClient *http.Client
	logger     *slog.Logger
}

func New(opts Options) *Client {
	baseURL := strings.TrimRight(opts.BaseURL, "/")
	if baseURL == "" {
		baseURL = "https://generativelanguage.googleapis.com"
	}

	apiVersion := strings.TrimSpace(opts.APIVersion)
	if apiVersion == "" {
		apiVersion = "v1beta"
	}

	logger := opts.Logger
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}

	return &Client{
		apiKey:     opts.APIKey,
		baseURL:    baseURL,
		apiVersion: apiVersion,
		httpClient: opts.HTTPClient,
		logger:     logger,
	}
}

// AnalyzeProduct extracts product attributes, six styled shot prompts, and a
// shooting guide from a free-text description plus an optional product photo.
// The response is schema-constrained; anything that does not decode into a
// full Analysis with six prompts is a hard failure.
func (c *Client) AnalyzeProduct(ctx context.Context, userInput string, image *ImageInput) (Analysis, error) {
	parts := []part{{Text: analysisInstruction(userInput)}}
	if image != nil {
		parts = append(parts, part{InlineData: &blob{
			Data:     image.DataBase64,
			MimeType: image.MimeType,
		}})
	}

	req := generateContentRequest{
		Contents: []content{{Role: "user", Parts: parts}},
		GenerationConfig: generationConfig{
			ResponseMIMEType: "application/json",
			ResponseSchema:   analysisSchema,
		},
	}

	resp, err := c.generateContent(ctx, modelAnalysis, req)
	if err != nil {
		return Analysis{}, err
	}

	text := strings.TrimSpace(resp.text())
	if text == "" {
		return Analysis{}, errors.New("empty analysis response")
	}

	var analysis Analysis
	if err := json.Unmarshal([]byte(text), &analysis); err != nil {
		return Analysis{}, fmt.Errorf("decode analysis: %w", err)
	}
	if len(analysis.Prompts) != 6 {
		return Analysis{}, fmt.Errorf("expected 6 prompts, got %d", len(analysis.Prompts))
	}

	return analysis, nil
}

// GenerateImage renders a commercial-style product photo and returns it as a
// PNG data URL. When reference is set the model is told to re-stage the exact
// item from the photo; preview selects the lightweight prompt wording used
// for thumbnails.
func (c *Client) GenerateImage(ctx context.Context, prompt string, reference *ImageInput, preview bool) (string, error) {
	prompt = strings.TrimSpace(prompt)
	if prompt == "" {
		return "", errors.New("prompt is empty")
	}

	var parts []part
	if reference != nil {
		parts = append(parts, part{InlineData: &blob{
			Data:     reference.DataBase64,
			MimeType: reference.MimeType,
		}})
		parts = append(parts, part{Text: restagePrompt(prompt, preview)})
	} else {
		parts = append(parts, part{Text: studioPrompt(prompt, preview)})
	}

	req := generateContentRequest{
		Contents: []content{{Role: "user", Parts: parts}},
		GenerationConfig: generationConfig{
			ResponseModalities: []string{"IMAGE"},
			ImageConfig:        &imageConfig{AspectRatio: "1:1"},
		},
	}

	resp, err := c.generateContent(ctx, modelImage, req)
	if err != nil && req.GenerationConfig.ImageConfig != nil {
		if isUnknownFieldError(err, "imageConfig") {
			req.GenerationConfig.ImageConfig = nil
			resp, err = c.generateContent(ctx, modelImage, req)
		}
	}
	if err != nil {
		return "", err
	}

	for _, p := range resp.parts() {
		if p.InlineData != nil && p.InlineData.Data != "" {
			return fmt.Sprintf("data:image/png;base64,%s", p.InlineData.Data), nil
		}
	}
	return "", ErrNoImage
}

// IsRateLimited reports whether err looks like an AI gateway quota rejection.
// Error-text inspection is the only signal the gateway gives us.
func IsRateLimited(err error) bool {
	if err == nil {
		return false
	}
	msg := err.Error()
	return strings.Contains(msg, "429") || strings.Contains(strings.ToLower(msg), "quota")
}

func analysisInstruction(userInput string) string {
	return fmt.Sprintf(`You are a high-end commercial photographer.
Analyze this product request: %q.

TASK:
1. EXTRACT: Category, Main Color, Material, Style, and Context.
2. PLAN 6 SHOTS: Create 6 distinct commercial angles.
3. GUIDE: Create 4 tips for photographing this product.

Return JSON only.`, userInput)
}

func restagePrompt(prompt string, preview bool) string {
	look := "High-end studio lighting, minimalist background, 8k, photorealistic, sharp focus."
	if preview {
		look = "Simple studio lighting, plain background, small preview quality."
	}
	return fmt.Sprintf(`PHOTOGRAPHY SESSION:
STRICT: Use the exact item from the photo.
ACTION: Re-stage: %q.
LOOK: %s`, prompt, look)
}

func studioPrompt(prompt string, preview bool) string {
	if preview {
		return fmt.Sprintf("Quick product preview of %s. Plain studio background, small image.", prompt)
	}
	return fmt.Sprintf("Commercial product photography of %s. Clean studio background, professional lighting, 8k resolution, hyper-realistic.", prompt)
}

func (c *Client) generateContent(ctx context.Context, model string, payload generateContentRequest) (generateContentResponse, error) {
	if c.httpClient == nil {
		return generateContentResponse{}, errors.New("http client is nil")
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return generateContentResponse{}, fmt.Errorf("marshal request: %w", err)
	}

	url := fmt.Sprintf("%s/%s/models/%s:generateContent", c.baseURL, c.apiVersion, model)
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return generateContentResponse{}, fmt.Errorf("create request: %w", err)
	}
	httpReq.Header.Set("content-type", "application/json")
	httpReq.Header.Set("x-goog-api-key", c.apiKey)

	httpResp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return generateContentResponse{}, fmt.Errorf("request: %w", err)
	}
	defer httpResp.Body.Close()

	rawBody, err := io.ReadAll(httpResp.Body)
	if err != nil {
		return generateContentResponse{}, fmt.Errorf("read response: %w", err)
	}

	if httpResp.StatusCode >= 400 {
		return generateContentResponse{}, fmt.Errorf("gemini API %s: %s", httpResp.Status, strings.TrimSpace(string(rawBody)))
	}

	var decoded generateContentResponse
	if err := json.Unmarshal(rawBody, &decoded); err != nil {
		return generateContentResponse{}, fmt.Errorf("decode response: %w", err)
	}

	return decoded, nil
}

func isUnknownFieldError(err error, field string) bool {
	message := err.Error()
	return strings.Contains(message, "Unknown name") && strings.Contains(message, field)
}

type generateContentRequest struct {
	Contents         []content        `json:"contents"`
	GenerationConfig generationConfig `json:"generationConfig,omitempty"`
}

type generationConfig struct {
	ResponseModalities []string     `json:"responseModalities,omitempty"`
	ResponseMIMEType   string       `json:"responseMimeType,omitempty"`
	ResponseSchema     *schema      `json:"responseSchema,omitempty"`
	ImageConfig        *imageConfig `json:"imageConfig,omitempty"`
}

type imageConfig struct {
	AspectRatio string `json:"aspectRatio,omitempty"`
}

type content struct {
	Role  string `json:"role,omitempty"`
	Parts []part `json:"parts"`
}

type part struct {
	Text       string `json:"text,omitempty"`
	InlineData *blob  `json:"inlineData,omitempty"`
}

type blob struct {
	Data     string `json:"data"`
	MimeType string `json:"mimeType"`
}

type generateContentResponse struct {
	Candidates []candidate `json:"candidates"`
}

type candidate struct {
	Content content `json:"content"`
}

func (r generateContentResponse) parts() []part {
	if len(r.Candidates) == 0 {
		return nil
	}
	return r.Candidates[0].Content.Parts
}

func (r generateContentResponse) text() string {
	var b strings.Builder
	for _, p := range r.parts() {
		b.WriteString(p.Text)
	}
	return b.String()
}

type schema struct {
	Type       string             `json:"type"`
	Properties map[string]*schema `json:"properties,omitempty"`
	Items      *schema            `json:"items,omitempty"`
	Required   []string           `json:"required,omitempty"`
}

var analysisSchema = &schema{
	Type: "OBJECT",
	Properties: map[string]*schema{
		"details": {
			Type: "OBJECT",
			Properties: map[string]*schema{
				"category": {Type: "STRING"},
				"color":    {Type: "STRING"},
				"material": {Type: "STRING"},
				"style":    {Type: "STRING"},
				"context":  {Type: "STRING"},
			},
			Required: []string{"category", "color", "material", "style", "context"},
		},
		"prompts": {
			Type: "ARRAY",
			Items: &schema{
				Type: "OBJECT",
				Properties: map[string]*schema{
					"id":     {Type: "STRING"},
					"label":  {Type: "STRING"},
					"prompt": {Type: "STRING"},
				},
				Required: []string{"id", "label", "prompt"},
			},
		},
		"guide": {
			Type: "OBJECT",
			Properties: map[string]*schema{
				"category": {Type: "STRING"},
				"shots": {
					Type: "ARRAY",
					Items: &schema{
						Type: "OBJECT",
						Properties: map[string]*schema{
							"title": {Type: "STRING"},
							"pose":  {Type: "STRING"},
							"angle": {Type: "STRING"},
							"why":   {Type: "STRING"},
						},
						Required: []string{"title", "pose", "angle", "why"},
					},
				},
			},
			Required: []string{"category", "shots"},
		},
	},
	Required: []string{"details", "prompts", "guide"},
}
