package model

// GenerateImageRequest is the body of POST /api/generate-image.
type GenerateImageRequest struct {
	Prompt      string   `json:"prompt" validate:"max=2000"`
	Instruments []string `json:"instruments" validate:"omitempty,max=16"`
	Style       string   `json:"style" validate:"omitempty,oneof=base animation"`
	BaseImage   string   `json:"baseImage,omitempty"`
	FrameNumber int      `json:"frameNumber,omitempty" validate:"min=0,max=1000"`
}

// GenerateImageResponse is returned for generated and placeholder images
// alike; only the imageUrl scheme tells them apart.
type GenerateImageResponse struct {
	ImageURL       string   `json:"imageUrl"`
	Prompt         string   `json:"prompt"`
	Style          string   `json:"style"`
	FrameNumber    int      `json:"frameNumber"`
	Instruments    []string `json:"instruments"`
	GeminiResponse *string  `json:"geminiResponse"`
}

// GenerateMusicQuery holds the query parameters of GET /api/generate-music.
type GenerateMusicQuery struct {
	Text            string `query:"text"`
	Duration        int    `query:"duration" validate:"omitempty,min=1,max=300"`
	DurationSeconds int    `query:"duration_seconds" validate:"omitempty,min=1,max=300"`
}

// Defaults applied by the music route when parameters are omitted.
const (
	DefaultMusicText     = "A peaceful ambient track"
	DefaultMusicDuration = 30
)
