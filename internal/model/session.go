package model

import (
	"time"

	"github.com/lofivibes/api/internal/session"
)

// CreateSessionRequest is the body of POST /api/sessions.
type CreateSessionRequest struct {
	Prompt          string   `json:"prompt" validate:"required,max=100"`
	Instruments     []string `json:"instruments" validate:"required,min=1,dive,oneof=piano guitar drums synth bass ambient vinyl"`
	DurationSeconds int      `json:"durationSeconds" validate:"omitempty,min=10,max=60"`
}

// Setup converts the request into a session setup, defaulting the duration.
func (r *CreateSessionRequest) Setup() session.Setup {
	d := r.DurationSeconds
	if d == 0 {
		d = DefaultMusicDuration
	}
	return session.Setup{Prompt: r.Prompt, Instruments: r.Instruments, DurationSeconds: d}
}

// ImageView describes an image without inlining its bytes.
type ImageView struct {
	Kind        session.ImageKind `json:"kind"`
	URL         string            `json:"url"`
	Placeholder bool              `json:"placeholder"`
}

// SessionView is the API representation of a hosted session.
type SessionView struct {
	ID              string              `json:"id"`
	Stage           session.Stage       `json:"stage"`
	Prompt          string              `json:"prompt"`
	Instruments     []string            `json:"instruments"`
	DurationSeconds int                 `json:"durationSeconds"`
	SceneImage      *ImageView          `json:"sceneImage"`
	AnimationFrames []ImageView         `json:"animationFrames"`
	FrameTarget     int                 `json:"frameTarget"`
	Progress        float64             `json:"progress"`
	PreviewFrame    int                 `json:"previewFrame"`
	Music           *session.MusicRef   `json:"music"`
	LastError       *session.StageError `json:"lastError"`
	Busy            bool                `json:"busy"`
	CreatedAt       time.Time           `json:"createdAt"`
	UpdatedAt       time.Time           `json:"updatedAt"`
}

// ShareResponse is the payload handed to a platform share sheet.
type ShareResponse struct {
	Title string `json:"title"`
	Text  string `json:"text"`
	URL   string `json:"url"`
}
