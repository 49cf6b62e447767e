package client

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/lofivibes/api/internal/config"
	"github.com/lofivibes/api/internal/session"
)

func TestGeminiClient_GenerateContent(t *testing.T) {
	var got geminiRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/models/test-model:generateContent" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		if r.Header.Get("x-goog-api-key") != "key" {
			t.Errorf("missing api key header")
		}
		if err := json.NewDecoder(r.Body).Decode(&got); err != nil {
			t.Errorf("decode request: %v", err)
		}
		w.Header().Set("Content-Type", "application/json")
		io.WriteString(w, `{"candidates":[{"content":{"parts":[
			{"text":"A cozy room"},
			{"inlineData":{"mimeType":"image/jpeg","data":"`+base64.StdEncoding.EncodeToString([]byte("jpeg"))+`"}}
		]}}]}`)
	}))
	defer srv.Close()

	c := NewGeminiClient(&config.GeminiConfig{APIKey: "key", BaseURL: srv.URL, Model: "test-model", Timeout: 5})
	res, err := c.GenerateContent(context.Background(), []GeminiPart{
		TextPart("draw"),
		ImagePart([]byte("ref"), "image/png"),
	})
	if err != nil {
		t.Fatalf("GenerateContent: %v", err)
	}

	if len(got.Contents) != 1 || len(got.Contents[0].Parts) != 2 {
		t.Fatalf("unexpected request %+v", got)
	}
	if inline := got.Contents[0].Parts[1].InlineData; inline == nil || inline.MimeType != "image/png" {
		t.Errorf("expected inline reference image, got %+v", inline)
	}
	if res.Text == nil || *res.Text != "A cozy room" {
		t.Errorf("unexpected text %v", res.Text)
	}
	if string(res.Image) != "jpeg" || res.ImageMIME != "image/jpeg" {
		t.Errorf("unexpected image %q %s", res.Image, res.ImageMIME)
	}
}

func TestGeminiClient_NoCandidates(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		io.WriteString(w, `{"candidates":[]}`)
	}))
	defer srv.Close()

	c := NewGeminiClient(&config.GeminiConfig{APIKey: "key", BaseURL: srv.URL, Model: "m"})
	res, err := c.GenerateContent(context.Background(), []GeminiPart{TextPart("draw")})
	if err != nil {
		t.Fatal(err)
	}
	if res.Text != nil || res.Image != nil {
		t.Errorf("expected empty result, got %+v", res)
	}
}

func TestGeminiClient_Errors(t *testing.T) {
	c := NewGeminiClient(&config.GeminiConfig{BaseURL: "http://unused"})
	if _, err := c.GenerateContent(context.Background(), nil); !errors.Is(err, ErrNotConfigured) {
		t.Errorf("expected ErrNotConfigured, got %v", err)
	}

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusForbidden)
		io.WriteString(w, `{"error":{"message":"API key not valid"}}`)
	}))
	defer srv.Close()

	c = NewGeminiClient(&config.GeminiConfig{APIKey: "bad", BaseURL: srv.URL, Model: "m"})
	_, err := c.GenerateContent(context.Background(), []GeminiPart{TextPart("draw")})
	var apiErr *APIError
	if !errors.As(err, &apiErr) || apiErr.StatusCode != http.StatusForbidden || !strings.Contains(apiErr.Body, "API key not valid") {
		t.Errorf("expected 403 APIError, got %v", err)
	}
}

func TestElevenLabsClient_StreamMusic(t *testing.T) {
	var got musicStreamRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v1/music/stream" || r.Header.Get("xi-api-key") != "key" {
			t.Errorf("unexpected request %s %v", r.URL.Path, r.Header)
		}
		json.NewDecoder(r.Body).Decode(&got)
		w.Header().Set("Content-Type", "audio/mpeg")
		io.WriteString(w, "chunk-1")
		w.(http.Flusher).Flush()
		io.WriteString(w, "chunk-2")
	}))
	defer srv.Close()

	c := NewElevenLabsClient(&config.ElevenLabsConfig{APIKey: "key", BaseURL: srv.URL})
	body, err := c.StreamMusic(context.Background(), "Lo-fi chill beats", 30000)
	if err != nil {
		t.Fatalf("StreamMusic: %v", err)
	}
	data, _ := io.ReadAll(body)
	body.Close()

	if string(data) != "chunk-1chunk-2" {
		t.Errorf("unexpected audio %q", data)
	}
	if got.Prompt != "Lo-fi chill beats" || got.MusicLengthMs != 30000 {
		t.Errorf("unexpected request %+v", got)
	}
}

func TestElevenLabsClient_TimeoutDoesNotCutLongStreams(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "audio/mpeg")
		io.WriteString(w, "intro")
		w.(http.Flusher).Flush()
		time.Sleep(1500 * time.Millisecond)
		io.WriteString(w, "-outro")
	}))
	defer srv.Close()

	c := NewElevenLabsClient(&config.ElevenLabsConfig{APIKey: "key", BaseURL: srv.URL, Timeout: 1})
	body, err := c.StreamMusic(context.Background(), "x", 10000)
	if err != nil {
		t.Fatalf("StreamMusic: %v", err)
	}
	defer body.Close()

	data, err := io.ReadAll(body)
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if string(data) != "intro-outro" {
		t.Errorf("unexpected audio %q", data)
	}
}

func TestElevenLabsClient_PaymentRequired(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusPaymentRequired)
		io.WriteString(w, `{"detail":{"status":"limited_access"}}`)
	}))
	defer srv.Close()

	c := NewElevenLabsClient(&config.ElevenLabsConfig{APIKey: "key", BaseURL: srv.URL})
	_, err := c.StreamMusic(context.Background(), "x", 10000)
	var apiErr *APIError
	if !errors.As(err, &apiErr) || apiErr.StatusCode != http.StatusPaymentRequired {
		t.Fatalf("expected 402 APIError, got %v", err)
	}
}

func TestGatewayClient_GenerateImage(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Authorization") != "Bearer tok" {
			t.Errorf("missing bearer token")
		}
		var req struct {
			Style       string `json:"style"`
			BaseImage   string `json:"baseImage"`
			FrameNumber int    `json:"frameNumber"`
		}
		json.NewDecoder(r.Body).Decode(&req)
		if req.Style != "animation" || req.FrameNumber != 4 || !strings.HasPrefix(req.BaseImage, "data:image/png;base64,") {
			t.Errorf("unexpected request %+v", req)
		}
		io.WriteString(w, `{"imageUrl":"/placeholder.svg?height=1080&width=1920&query=frame%204","prompt":"p","style":"animation","frameNumber":4,"instruments":[],"geminiResponse":null}`)
	}))
	defer srv.Close()

	c := NewGatewayClient(srv.URL, "tok", 5*time.Second)
	ref := session.Embedded([]byte("base"), "image/png")
	res, err := c.GenerateImage(context.Background(), session.ImageRequest{
		Prompt:      "p",
		Style:       session.StyleAnimation,
		Reference:   &ref,
		FrameNumber: 4,
	})
	if err != nil {
		t.Fatalf("GenerateImage: %v", err)
	}
	if !res.Image.IsPlaceholder() || res.Image.Query != "frame 4" {
		t.Errorf("unexpected image %+v", res.Image)
	}
}

func TestGatewayClient_ErrorEnvelope(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
		io.WriteString(w, `{"error":"Gemini API key not configured","code":"UPSTREAM_UNAVAILABLE"}`)
	}))
	defer srv.Close()

	c := NewGatewayClient(srv.URL, "", 5*time.Second)
	_, err := c.GenerateImage(context.Background(), session.ImageRequest{Prompt: "p", Style: session.StyleBase})
	if session.Classify(err) != session.KindUpstreamUnavailable {
		t.Errorf("expected upstream unavailable, got %v", err)
	}
}

func TestGatewayClient_GenerateMusicSavesTrack(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		q := r.URL.Query()
		if q.Get("duration") != "20" || q.Get("duration_seconds") != "20" || q.Get("text") != "beats" {
			t.Errorf("unexpected query %v", q)
		}
		w.Header().Set("Content-Type", "audio/mpeg")
		io.WriteString(w, "mp3")
	}))
	defer srv.Close()

	dir := t.TempDir()
	c := NewGatewayClient(srv.URL, "", 5*time.Second)
	c.SaveAudioTo(dir)

	ref, err := c.GenerateMusic(context.Background(), session.MusicRequest{Text: "beats", DurationSeconds: 20})
	if err != nil {
		t.Fatalf("GenerateMusic: %v", err)
	}
	if filepath.Dir(ref.SavedTo) != dir || !strings.HasPrefix(filepath.Base(ref.SavedTo), "lofi-session-") {
		t.Errorf("unexpected saved path %q", ref.SavedTo)
	}
	data, err := os.ReadFile(ref.SavedTo)
	if err != nil || string(data) != "mp3" {
		t.Errorf("unexpected saved audio %q %v", data, err)
	}
}
