package client

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/lofivibes/api/internal/model"
	"github.com/lofivibes/api/internal/session"
)

// GatewayClient implements session.Gateway against a remote generation
// gateway over HTTP.
type GatewayClient struct {
	httpClient *http.Client
	baseURL    string
	token      string
	audioDir   string
}

// gatewayError is the error envelope of the two generation routes.
type gatewayError struct {
	Error   string `json:"error"`
	Details string `json:"details"`
	Code    string `json:"code"`
}

// NewGatewayClient creates a client for the gateway at baseURL. The timeout
// bounds each image request; music streams are bounded by the caller's context.
func NewGatewayClient(baseURL, token string, timeout time.Duration) *GatewayClient {
	return &GatewayClient{
		httpClient: &http.Client{Timeout: timeout},
		baseURL:    baseURL,
		token:      token,
	}
}

// SaveAudioTo makes GenerateMusic write the track into dir.
func (c *GatewayClient) SaveAudioTo(dir string) {
	c.audioDir = dir
}

// GenerateImage posts one image request.
func (c *GatewayClient) GenerateImage(ctx context.Context, req session.ImageRequest) (*session.ImageResult, error) {
	body := model.GenerateImageRequest{
		Prompt:      req.Prompt,
		Instruments: req.Instruments,
		Style:       string(req.Style),
		FrameNumber: req.FrameNumber,
	}
	if req.Reference != nil {
		body.BaseImage = req.Reference.String()
	}

	payload, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/api/generate-image", bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := c.do(httpReq)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, decodeGatewayError(resp)
	}

	var out model.GenerateImageResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, fmt.Errorf("failed to decode image response: %w", err)
	}
	ref, err := session.ParseImageRef(out.ImageURL)
	if err != nil {
		return nil, &session.UpstreamError{Code: session.CodeUnknown, Message: "unexpected image reference", Details: err.Error()}
	}

	result := &session.ImageResult{Image: ref, PromptUsed: out.Prompt}
	if out.GeminiResponse != nil {
		result.ModelNote = *out.GeminiResponse
	}
	return result, nil
}

// GenerateMusic opens the music stream. When an audio directory is set the
// track is saved there; otherwise the stream is only checked for success.
func (c *GatewayClient) GenerateMusic(ctx context.Context, req session.MusicRequest) (*session.MusicRef, error) {
	q := url.Values{}
	q.Set("text", req.Text)
	q.Set("duration", strconv.Itoa(req.DurationSeconds))
	q.Set("duration_seconds", strconv.Itoa(req.DurationSeconds))
	streamURL := c.baseURL + "/api/generate-music?" + q.Encode()

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, streamURL, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}

	// Music is bounded by ctx alone; the client timeout would cut long tracks.
	streaming := *c.httpClient
	streaming.Timeout = 0
	resp, err := c.doWith(&streaming, httpReq)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, decodeGatewayError(resp)
	}

	ref := &session.MusicRef{StreamURL: streamURL}
	if c.audioDir == "" {
		buf := make([]byte, 32<<10)
		if _, err := resp.Body.Read(buf); err != nil && !errors.Is(err, io.EOF) {
			return nil, &session.UpstreamError{Code: session.CodeUnknown, Message: "music stream failed", Details: err.Error()}
		}
		return ref, nil
	}

	path := filepath.Join(c.audioDir, fmt.Sprintf("lofi-session-%d.mp3", time.Now().UnixMilli()))
	f, err := os.Create(path)
	if err != nil {
		return nil, fmt.Errorf("failed to create audio file: %w", err)
	}
	n, err := io.Copy(f, resp.Body)
	if cerr := f.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		_ = os.Remove(path)
		return nil, &session.UpstreamError{Code: session.CodeUnknown, Message: "music stream failed", Details: err.Error()}
	}
	log.Printf("[Gateway] saved %d bytes of audio to %s", n, path)

	ref.SavedTo = path
	return ref, nil
}

func (c *GatewayClient) do(req *http.Request) (*http.Response, error) {
	return c.doWith(c.httpClient, req)
}

func (c *GatewayClient) doWith(hc *http.Client, req *http.Request) (*http.Response, error) {
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}
	resp, err := hc.Do(req)
	if err != nil {
		if req.Context().Err() != nil {
			return nil, req.Context().Err()
		}
		return nil, &session.UpstreamError{Code: session.CodeUnknown, Message: "gateway unreachable", Details: err.Error()}
	}
	return resp, nil
}

func decodeGatewayError(resp *http.Response) error {
	body, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))

	var env gatewayError
	if err := json.Unmarshal(body, &env); err != nil || env.Error == "" {
		return &session.UpstreamError{Code: session.CodeUnknown, Status: resp.StatusCode, Message: http.StatusText(resp.StatusCode), Details: string(body)}
	}
	code := env.Code
	if code == "" {
		code = session.CodeUnknown
	}
	return &session.UpstreamError{Code: code, Status: resp.StatusCode, Message: env.Error, Details: env.Details}
}
