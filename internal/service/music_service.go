package service

import (
	"context"
	"io"
	"strings"

	"github.com/lofivibes/api/internal/client"
	"github.com/lofivibes/api/internal/model"
	"github.com/lofivibes/api/internal/session"
)

// MusicService is the music generation adapter.
type MusicService struct {
	eleven client.MusicStreamer
}

func NewMusicService(eleven client.MusicStreamer) *MusicService {
	return &MusicService{eleven: eleven}
}

// IsConfigured reports whether the music model credential is present.
func (s *MusicService) IsConfigured() bool {
	return s.eleven != nil && s.eleven.IsConfigured()
}

// Open starts a track and returns the upstream audio stream unbuffered.
func (s *MusicService) Open(ctx context.Context, req session.MusicRequest) (io.ReadCloser, error) {
	if !s.IsConfigured() {
		return nil, session.ErrUpstreamUnavailable
	}

	text := strings.TrimSpace(req.Text)
	if text == "" {
		text = model.DefaultMusicText
	}
	duration := req.DurationSeconds
	if duration <= 0 {
		duration = model.DefaultMusicDuration
	}

	body, err := s.eleven.StreamMusic(ctx, text, duration*1000)
	if err != nil {
		return nil, mapUpstreamError("Music generation failed", err)
	}
	return body, nil
}
