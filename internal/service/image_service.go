package service

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strings"

	"github.com/lofivibes/api/internal/client"
	"github.com/lofivibes/api/internal/session"
)

const imageSpecs = "Image dimensions: 1920x1080 pixels (16:9 aspect ratio, Full HD resolution). "

const basePromptTemplate = imageSpecs + `Generate a high-detail realistic cartoon image of a chill girl studying in a cozy room with lo-fi aesthetic.
Scene should match "%s" vibe with %s elements visible in the room.
Include: books, warm lighting, plants, rain outside window, vintage furniture,
soft pastel colors (muted blues, pinks, greens), nostalgic atmosphere,
anime-inspired art style similar to lo-fi hip hop study videos.
The girl should be relaxed, maybe wearing headphones or reading,
with %s subtly incorporated into the scene as visible instruments or music equipment.
Ensure the image is exactly 1920x1080 pixels with crisp, high-definition quality suitable for desktop backgrounds.`

const animationPromptTemplate = `Using the provided reference image, create animation frame %d of %d for this lo-fi study scene.
Make VERY SUBTLE changes while maintaining the exact same character, room layout, and %s elements.
Only apply gentle movements like: slight head tilt, page turning, gentle breathing, soft lighting changes,
rain droplet variations on window, or subtle atmospheric effects.
Keep the same cozy lo-fi aesthetic with muted pastels and maintain character consistency.
The changes should be barely noticeable for smooth 24fps animation.
Maintain exact 1920x1080 pixel dimensions and same art style.`

// ImageService is the image generation adapter.
type ImageService struct {
	gemini client.ImageGenerator
	frames int
}

func NewImageService(gemini client.ImageGenerator, frames int) *ImageService {
	frames = session.ClampFrames(frames)
	return &ImageService{gemini: gemini, frames: frames}
}

// IsConfigured reports whether the image model credential is present.
func (s *ImageService) IsConfigured() bool {
	return s.gemini != nil && s.gemini.IsConfigured()
}

// Generate produces a base scene or one animation frame. An empty model
// reply is not an error: the result then carries a placeholder reference.
func (s *ImageService) Generate(ctx context.Context, req session.ImageRequest) (*session.ImageResult, error) {
	if !s.IsConfigured() {
		return nil, session.ErrUpstreamUnavailable
	}

	labels := instrumentList(req.Instruments)
	frame := req.FrameNumber
	if frame <= 0 {
		frame = 1
	}

	var (
		prompt string
		parts  []client.GeminiPart
	)
	switch req.Style {
	case session.StyleBase, "":
		prompt = fmt.Sprintf(basePromptTemplate, req.Prompt, labels, labels)
		parts = []client.GeminiPart{client.TextPart(prompt)}

	case session.StyleAnimation:
		prompt = fmt.Sprintf(animationPromptTemplate, frame, s.frames, labels)
		if req.Reference == nil {
			return nil, session.ErrMissingReferenceImage
		}
		if req.Reference.IsPlaceholder() {
			log.Printf("Image: frame %d reference is a placeholder, skipping model call", frame)
			return placeholderResult(req.Style, frame, labels, prompt, ""), nil
		}
		parts = []client.GeminiPart{
			client.TextPart(prompt),
			client.ImagePart(req.Reference.Data, req.Reference.MIMEType),
		}

	default:
		return nil, &session.UpstreamError{Code: session.CodeUnknown, Message: "unsupported style", Details: string(req.Style)}
	}

	res, err := s.gemini.GenerateContent(ctx, parts)
	if err != nil {
		return nil, mapUpstreamError("image generation failed", err)
	}

	note := ""
	if res.Text != nil {
		note = *res.Text
	}
	if len(res.Image) == 0 {
		log.Printf("Image: model returned no image for %s frame %d, using placeholder", req.Style, frame)
		return placeholderResult(req.Style, frame, labels, prompt, note), nil
	}

	return &session.ImageResult{
		Image:      session.Embedded(res.Image, res.ImageMIME),
		PromptUsed: prompt,
		ModelNote:  note,
	}, nil
}

func placeholderResult(style session.ImageStyle, frame int, labels, prompt, note string) *session.ImageResult {
	query := fmt.Sprintf("lo-fi girl study scene with %s", labels)
	if style == session.StyleAnimation {
		query = fmt.Sprintf("lo-fi girl study scene frame %d with %s and subtle movement", frame, labels)
	}
	return &session.ImageResult{
		Image:      session.Placeholder(query),
		PromptUsed: prompt,
		ModelNote:  note,
	}
}

func instrumentList(instruments []string) string {
	if len(instruments) == 0 {
		return "piano"
	}
	return strings.Join(instruments, ", ")
}

// mapUpstreamError converts client failures into the session taxonomy.
// Context errors pass through untouched so cancellation stays visible.
func mapUpstreamError(message string, err error) error {
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return err
	}
	if errors.Is(err, client.ErrNotConfigured) {
		return session.ErrUpstreamUnavailable
	}

	var apiErr *client.APIError
	if errors.As(err, &apiErr) {
		code := session.CodeUnknown
		if (apiErr.StatusCode >= 400 && apiErr.StatusCode < 500) || strings.Contains(apiErr.Body, "limited_access") {
			code = session.CodeUpstreamRejected
		}
		return &session.UpstreamError{
			Code:    code,
			Status:  apiErr.StatusCode,
			Message: message,
			Details: fmt.Sprintf("status %d: %s", apiErr.StatusCode, apiErr.Body),
		}
	}
	return &session.UpstreamError{Code: session.CodeUnknown, Message: message, Details: err.Error()}
}
