// Package compose talks to the image-generation backend that dresses the person
// in the garment.
package compose

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/virtual-tryon/internal/imageutil"
	"github.com/JakeFAU/virtual-tryon/internal/tryon"
)

const (
	// DefaultBaseURL is the public Generative Language API endpoint.
	DefaultBaseURL = "https://generativelanguage.googleapis.com"
	// DefaultModel supports image output.
	DefaultModel = "gemini-2.5-flash-image-preview"

	// DefaultSystemPrompt frames the model as a try-on assistant.
	DefaultSystemPrompt = "You are an AI fashion consultant specialized in virtual try-on technology. " +
		"Create realistic images of people wearing different clothing items."
	// DefaultPrompt asks for the garment from the second image on the person in the first.
	DefaultPrompt = "Create a realistic virtual try-on image by combining these two images: " +
		"place the clothing item from the second image onto the person in the first image. " +
		"Make it look natural and realistic, maintaining proper proportions, lighting, and shadows. " +
		"The result should look like the person is actually wearing the clothing item."

	maxResponseBytes = 32 << 20
)

// Config configures the Gemini client.
type Config struct {
	APIKey       string
	BaseURL      string
	Model        string
	SystemPrompt string
	Timeout      time.Duration
}

// Gemini implements tryon.Composer against the generateContent REST API.
type Gemini struct {
	cfg    Config
	client *http.Client
	logger *zap.Logger
}

// NewGemini builds a client. A nil httpClient gets one with cfg.Timeout.
func NewGemini(cfg Config, httpClient *http.Client, logger *zap.Logger) (*Gemini, error) {
	if strings.TrimSpace(cfg.APIKey) == "" {
		return nil, errors.New("gemini api key is required")
	}
	if cfg.BaseURL == "" {
		cfg.BaseURL = DefaultBaseURL
	}
	if cfg.Model == "" {
		cfg.Model = DefaultModel
	}
	if cfg.SystemPrompt == "" {
		cfg.SystemPrompt = DefaultSystemPrompt
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 90 * time.Second
	}
	if httpClient == nil {
		httpClient = &http.Client{Timeout: cfg.Timeout}
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Gemini{cfg: cfg, client: httpClient, logger: logger.Named("gemini")}, nil
}

type part struct {
	Text       string      `json:"text,omitempty"`
	InlineData *inlineData `json:"inlineData,omitempty"`
}

type inlineData struct {
	MimeType string `json:"mimeType"`
	Data     string `json:"data"`
}

type content struct {
	Role  string `json:"role,omitempty"`
	Parts []part `json:"parts"`
}

type generationConfig struct {
	ResponseModalities []string `json:"responseModalities"`
}

type generateRequest struct {
	SystemInstruction *content         `json:"systemInstruction,omitempty"`
	Contents          []content        `json:"contents"`
	GenerationConfig  generationConfig `json:"generationConfig"`
}

type generateResponse struct {
	Candidates []struct {
		Content      content `json:"content"`
		FinishReason string  `json:"finishReason"`
	} `json:"candidates"`
	PromptFeedback *struct {
		BlockReason string `json:"blockReason"`
	} `json:"promptFeedback,omitempty"`
}

type apiError struct {
	Error struct {
		Code    int    `json:"code"`
		Message string `json:"message"`
		Status  string `json:"status"`
	} `json:"error"`
}

// Compose sends both images and returns the first generated image as raw base64.
func (g *Gemini) Compose(ctx context.Context, personB64, garmentB64, prompt string) (string, error) {
	if prompt == "" {
		prompt = DefaultPrompt
	}
	reqBody := generateRequest{
		SystemInstruction: &content{Parts: []part{{Text: g.cfg.SystemPrompt}}},
		Contents: []content{{
			Role: "user",
			Parts: []part{
				{Text: prompt},
				{InlineData: &inlineData{MimeType: mimeTypeOf(personB64), Data: personB64}},
				{InlineData: &inlineData{MimeType: mimeTypeOf(garmentB64), Data: garmentB64}},
			},
		}},
		GenerationConfig: generationConfig{ResponseModalities: []string{"IMAGE", "TEXT"}},
	}
	payload, err := json.Marshal(reqBody)
	if err != nil {
		return "", fmt.Errorf("marshal generate request: %w", err)
	}

	endpoint := fmt.Sprintf("%s/v1beta/models/%s:generateContent", strings.TrimRight(g.cfg.BaseURL, "/"), g.cfg.Model)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(payload))
	if err != nil {
		return "", fmt.Errorf("create generate request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("x-goog-api-key", g.cfg.APIKey)

	resp, err := g.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("%w: gemini request: %w", tryon.ErrCompositionFailed, err)
	}
	defer func() {
		_ = resp.Body.Close()
	}()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return "", fmt.Errorf("%w: read gemini response: %w", tryon.ErrCompositionFailed, err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		var apiErr apiError
		msg := strings.TrimSpace(string(body))
		if json.Unmarshal(body, &apiErr) == nil && apiErr.Error.Message != "" {
			msg = apiErr.Error.Message
		}
		g.logger.Warn("gemini returned error", zap.Int("status", resp.StatusCode), zap.String("message", msg))
		return "", fmt.Errorf("%w: gemini returned HTTP %d: %s", tryon.ErrCompositionFailed, resp.StatusCode, msg)
	}

	var out generateResponse
	if err := json.Unmarshal(body, &out); err != nil {
		return "", fmt.Errorf("%w: decode gemini response: %w", tryon.ErrCompositionFailed, err)
	}
	for _, cand := range out.Candidates {
		for _, p := range cand.Content.Parts {
			if p.InlineData != nil && p.InlineData.Data != "" {
				return p.InlineData.Data, nil
			}
		}
	}
	reason := "no image in response"
	if out.PromptFeedback != nil && out.PromptFeedback.BlockReason != "" {
		reason = "prompt blocked: " + out.PromptFeedback.BlockReason
	}
	return "", fmt.Errorf("%w: %s", tryon.ErrCompositionFailed, reason)
}

func mimeTypeOf(b64 string) string {
	data, err := imageutil.Decode(b64)
	if err != nil {
		return imageutil.JPEG.MIMEType()
	}
	format, err := imageutil.Sniff(data)
	if err != nil {
		return imageutil.JPEG.MIMEType()
	}
	return format.MIMEType()
}
