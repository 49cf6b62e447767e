package client

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"net/http"
	"time"

	"github.com/lofivibes/api/internal/config"
)

// ImageGenerator is the image model used by the image adapter.
type ImageGenerator interface {
	GenerateContent(ctx context.Context, parts []GeminiPart) (*GeminiResult, error)
	IsConfigured() bool
}

// GeminiClient calls the Gemini generateContent REST endpoint.
type GeminiClient struct {
	httpClient *http.Client
	baseURL    string
	apiKey     string
	model      string
}

// GeminiPart is one element of a content request or response.
type GeminiPart struct {
	Text       *string           `json:"text,omitempty"`
	InlineData *GeminiInlineData `json:"inlineData,omitempty"`
}

// GeminiInlineData is base64 encoded binary content.
type GeminiInlineData struct {
	MimeType string `json:"mimeType"`
	Data     string `json:"data"`
}

type geminiContent struct {
	Role  string       `json:"role,omitempty"`
	Parts []GeminiPart `json:"parts"`
}

type geminiRequest struct {
	Contents []geminiContent `json:"contents"`
}

type geminiResponse struct {
	Candidates []struct {
		Content geminiContent `json:"content"`
	} `json:"candidates"`
}

// GeminiResult holds the last text part and the last image part of the
// first candidate. Either may be nil.
type GeminiResult struct {
	Text      *string
	Image     []byte
	ImageMIME string
}

// TextPart builds a text request part.
func TextPart(s string) GeminiPart {
	return GeminiPart{Text: &s}
}

// ImagePart builds an inline image request part.
func ImagePart(data []byte, mimeType string) GeminiPart {
	return GeminiPart{InlineData: &GeminiInlineData{
		MimeType: mimeType,
		Data:     base64.StdEncoding.EncodeToString(data),
	}}
}

// NewGeminiClient creates a new Gemini API client
func NewGeminiClient(cfg *config.GeminiConfig) *GeminiClient {
	timeout := time.Duration(cfg.Timeout) * time.Second
	if timeout <= 0 {
		timeout = 120 * time.Second
	}
	return &GeminiClient{
		httpClient: &http.Client{Timeout: timeout},
		baseURL:    cfg.BaseURL,
		apiKey:     cfg.APIKey,
		model:      cfg.Model,
	}
}

// GenerateContent sends parts as a single user turn and collects the reply.
func (c *GeminiClient) GenerateContent(ctx context.Context, parts []GeminiPart) (*GeminiResult, error) {
	if !c.IsConfigured() {
		return nil, ErrNotConfigured
	}

	body, err := json.Marshal(geminiRequest{Contents: []geminiContent{{Role: "user", Parts: parts}}})
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}

	endpoint := fmt.Sprintf("%s/models/%s:generateContent", c.baseURL, c.model)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("x-goog-api-key", c.apiKey)

	log.Printf("[Gemini API] → %s %s (%d parts)", req.Method, endpoint, len(parts))

	resp, err := c.httpClient.Do(req)
	if err != nil {
		log.Printf("[Gemini API] ✗ %s %s — request failed: %v", req.Method, endpoint, err)
		return nil, fmt.Errorf("failed to send request: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		log.Printf("[Gemini API] ✗ %s %s — failed to read response: %v", req.Method, endpoint, err)
		return nil, fmt.Errorf("failed to read response: %w", err)
	}

	log.Printf("[Gemini API] ← %d %s %s — %d bytes", resp.StatusCode, req.Method, endpoint, len(respBody))

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, &APIError{Service: "gemini", StatusCode: resp.StatusCode, Body: string(respBody)}
	}

	var parsed geminiResponse
	if err := json.Unmarshal(respBody, &parsed); err != nil {
		log.Printf("[Gemini API] ✗ unmarshal error: %v", err)
		return nil, fmt.Errorf("failed to unmarshal response: %w", err)
	}

	result := &GeminiResult{}
	if len(parsed.Candidates) == 0 {
		return result, nil
	}
	for _, part := range parsed.Candidates[0].Content.Parts {
		switch {
		case part.Text != nil:
			result.Text = part.Text
		case part.InlineData != nil:
			data, err := base64.StdEncoding.DecodeString(part.InlineData.Data)
			if err != nil {
				return nil, fmt.Errorf("failed to decode inline image: %w", err)
			}
			result.Image = data
			result.ImageMIME = part.InlineData.MimeType
			if result.ImageMIME == "" {
				result.ImageMIME = "image/png"
			}
			log.Printf("[Gemini API] image part received, %d bytes", len(data))
		}
	}
	return result, nil
}

// IsConfigured returns true if the client has valid configuration
func (c *GeminiClient) IsConfigured() bool {
	return c.apiKey != ""
}
