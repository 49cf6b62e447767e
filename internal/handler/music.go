package handler

import (
	"bufio"
	"errors"
	"io"
	"log"

	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v2"

	"github.com/lofivibes/api/internal/model"
	"github.com/lofivibes/api/internal/service"
	"github.com/lofivibes/api/internal/session"
)

const streamChunkSize = 32 << 10

type MusicHandler struct {
	service   *service.MusicService
	validator *validator.Validate
}

func NewMusicHandler(svc *service.MusicService, v *validator.Validate) *MusicHandler {
	return &MusicHandler{
		service:   svc,
		validator: v,
	}
}

// Stream handles GET /api/generate-music
// Audio is relayed chunk by chunk as it arrives from the model.
func (h *MusicHandler) Stream(c *fiber.Ctx) error {
	var q model.GenerateMusicQuery
	if err := c.QueryParser(&q); err != nil {
		return gatewayInvalid(c, "Invalid query parameters", nil)
	}

	if err := h.validator.Struct(&q); err != nil {
		return gatewayInvalid(c, "Validation failed", validationFields(err))
	}

	duration := q.Duration
	if duration == 0 {
		duration = q.DurationSeconds
	}

	body, err := h.service.Open(c.UserContext(), session.MusicRequest{
		Text:            q.Text,
		DurationSeconds: duration,
	})
	if err != nil {
		return gatewayError(c, "ElevenLabs API key not configured", "Music generation failed", err)
	}

	c.Set(fiber.HeaderContentType, "audio/mpeg")
	c.Set(fiber.HeaderCacheControl, "no-cache")
	c.Set("X-Content-Type-Options", "nosniff")

	c.Context().SetBodyStreamWriter(func(w *bufio.Writer) {
		defer body.Close()
		if err := relay(w, body); err != nil {
			log.Printf("Music stream: %v", err)
		}
	})
	return nil
}

// relay copies r to w, flushing after every chunk so the client can start
// playback before the track is complete.
func relay(w *bufio.Writer, r io.Reader) error {
	buf := make([]byte, streamChunkSize)
	for {
		n, err := r.Read(buf)
		if n > 0 {
			if _, werr := w.Write(buf[:n]); werr != nil {
				return nil
			}
			if ferr := w.Flush(); ferr != nil {
				// Listener went away.
				return nil
			}
		}
		if err != nil {
			if errors.Is(err, io.EOF) {
				return nil
			}
			return err
		}
	}
}
