package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"net/http"
	"time"

	"github.com/lofivibes/api/internal/config"
)

// MusicStreamer is the music model used by the music adapter.
type MusicStreamer interface {
	StreamMusic(ctx context.Context, prompt string, lengthMs int) (io.ReadCloser, error)
	IsConfigured() bool
}

// ElevenLabsClient calls the ElevenLabs music streaming endpoint.
type ElevenLabsClient struct {
	httpClient *http.Client
	baseURL    string
	apiKey     string
}

type musicStreamRequest struct {
	Prompt        string `json:"prompt"`
	MusicLengthMs int    `json:"music_length_ms"`
}

// maxErrorBody caps how much of a failed reply is kept for diagnostics.
const maxErrorBody = 8 << 10

// NewElevenLabsClient creates a new ElevenLabs API client
func NewElevenLabsClient(cfg *config.ElevenLabsConfig) *ElevenLabsClient {
	timeout := time.Duration(cfg.Timeout) * time.Second
	if timeout <= 0 {
		timeout = 300 * time.Second
	}
	// The timeout bounds the wait for the first byte only; the body streams
	// for as long as the track takes.
	transport := http.DefaultTransport.(*http.Transport).Clone()
	transport.ResponseHeaderTimeout = timeout
	return &ElevenLabsClient{
		httpClient: &http.Client{Transport: transport},
		baseURL:    cfg.BaseURL,
		apiKey:     cfg.APIKey,
	}
}

// StreamMusic starts a composition and returns the audio body as it
// arrives. The caller must close it.
func (c *ElevenLabsClient) StreamMusic(ctx context.Context, prompt string, lengthMs int) (io.ReadCloser, error) {
	if !c.IsConfigured() {
		return nil, ErrNotConfigured
	}

	body, err := json.Marshal(musicStreamRequest{Prompt: prompt, MusicLengthMs: lengthMs})
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}

	endpoint := c.baseURL + "/v1/music/stream"
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "audio/mpeg")
	req.Header.Set("xi-api-key", c.apiKey)

	log.Printf("[ElevenLabs API] → %s %s (length=%dms)", req.Method, endpoint, lengthMs)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		log.Printf("[ElevenLabs API] ✗ %s %s — request failed: %v", req.Method, endpoint, err)
		return nil, fmt.Errorf("failed to send request: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		defer resp.Body.Close()
		respBody, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		log.Printf("[ElevenLabs API] ← %d %s %s — %s", resp.StatusCode, req.Method, endpoint, string(respBody))
		return nil, &APIError{Service: "elevenlabs", StatusCode: resp.StatusCode, Body: string(respBody)}
	}

	log.Printf("[ElevenLabs API] ← %d %s %s — streaming %s", resp.StatusCode, req.Method, endpoint, resp.Header.Get("Content-Type"))
	return resp.Body, nil
}

// IsConfigured returns true if the client has valid configuration
func (c *ElevenLabsClient) IsConfigured() bool {
	return c.apiKey != ""
}
