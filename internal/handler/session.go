package handler

import (
	"errors"
	"strconv"

	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v2"

	"github.com/lofivibes/api/internal/model"
	"github.com/lofivibes/api/internal/service"
	"github.com/lofivibes/api/internal/session"
	"github.com/lofivibes/api/pkg/response"
)

type SessionHandler struct {
	service   *service.SessionService
	validator *validator.Validate
}

func NewSessionHandler(svc *service.SessionService, v *validator.Validate) *SessionHandler {
	return &SessionHandler{
		service:   svc,
		validator: v,
	}
}

// Create handles POST /api/sessions
func (h *SessionHandler) Create(c *fiber.Ctx) error {
	var req model.CreateSessionRequest
	if err := c.BodyParser(&req); err != nil {
		return response.ValidationError(c, "Invalid request body", nil)
	}

	if err := h.validator.Struct(&req); err != nil {
		return response.ValidationError(c, "Validation failed", formatValidationErrors(err))
	}

	view, err := h.service.Create(c.UserContext(), req.Setup())
	if err != nil {
		return sessionError(c, err)
	}

	return response.Accepted(c, view)
}

// Get handles GET /api/sessions/:id
func (h *SessionHandler) Get(c *fiber.Ctx) error {
	view, err := h.service.Get(c.UserContext(), c.Params("id"))
	if err != nil {
		return sessionError(c, err)
	}
	return response.OK(c, view)
}

// Start handles POST /api/sessions/:id/start
func (h *SessionHandler) Start(c *fiber.Ctx) error {
	var req model.CreateSessionRequest
	if err := c.BodyParser(&req); err != nil {
		return response.ValidationError(c, "Invalid request body", nil)
	}

	if err := h.validator.Struct(&req); err != nil {
		return response.ValidationError(c, "Validation failed", formatValidationErrors(err))
	}

	view, err := h.service.Start(c.UserContext(), c.Params("id"), req.Setup())
	if err != nil {
		return sessionError(c, err)
	}

	return response.Accepted(c, view)
}

// RegenerateScene handles POST /api/sessions/:id/scene/regenerate
func (h *SessionHandler) RegenerateScene(c *fiber.Ctx) error {
	view, err := h.service.RegenerateScene(c.UserContext(), c.Params("id"))
	if err != nil {
		return sessionError(c, err)
	}
	return response.Accepted(c, view)
}

// AcceptScene handles POST /api/sessions/:id/scene/accept
func (h *SessionHandler) AcceptScene(c *fiber.Ctx) error {
	view, err := h.service.AcceptScene(c.UserContext(), c.Params("id"))
	if err != nil {
		return sessionError(c, err)
	}
	return response.Accepted(c, view)
}

// RetryMusic handles POST /api/sessions/:id/music/retry
func (h *SessionHandler) RetryMusic(c *fiber.Ctx) error {
	view, err := h.service.RetryMusic(c.UserContext(), c.Params("id"))
	if err != nil {
		return sessionError(c, err)
	}
	return response.Accepted(c, view)
}

// SkipMusic handles POST /api/sessions/:id/music/skip
func (h *SessionHandler) SkipMusic(c *fiber.Ctx) error {
	view, err := h.service.SkipMusic(c.UserContext(), c.Params("id"))
	if err != nil {
		return sessionError(c, err)
	}
	return response.OK(c, view)
}

// Reset handles POST /api/sessions/:id/reset
func (h *SessionHandler) Reset(c *fiber.Ctx) error {
	view, err := h.service.Reset(c.UserContext(), c.Params("id"))
	if err != nil {
		return sessionError(c, err)
	}
	return response.OK(c, view)
}

// Share handles GET /api/sessions/:id/share
func (h *SessionHandler) Share(c *fiber.Ctx) error {
	share, err := h.service.Share(c.UserContext(), c.Params("id"))
	if err != nil {
		return sessionError(c, err)
	}
	return response.OK(c, share)
}

// Audio handles GET /api/sessions/:id/audio
func (h *SessionHandler) Audio(c *fiber.Ctx) error {
	return h.sendTrack(c, false)
}

// Download handles GET /api/sessions/:id/download
func (h *SessionHandler) Download(c *fiber.Ctx) error {
	return h.sendTrack(c, true)
}

func (h *SessionHandler) sendTrack(c *fiber.Ctx, attachment bool) error {
	track, err := h.service.Track(c.Params("id"))
	if err != nil {
		return sessionError(c, err)
	}

	if track.Archived() {
		url, err := h.service.TrackURL(c.UserContext(), track)
		if err != nil {
			return sessionError(c, err)
		}
		return c.Redirect(url, fiber.StatusFound)
	}

	c.Set(fiber.HeaderContentType, "audio/mpeg")
	if attachment {
		c.Attachment(track.Filename())
	}
	return c.Send(track.Data)
}

// Scene handles GET /api/sessions/:id/scene
func (h *SessionHandler) Scene(c *fiber.Ctx) error {
	ref, err := h.service.Scene(c.Params("id"))
	if err != nil {
		return sessionError(c, err)
	}
	return sendImage(c, ref)
}

// Frame handles GET /api/sessions/:id/frames/:n
func (h *SessionHandler) Frame(c *fiber.Ctx) error {
	n, err := strconv.Atoi(c.Params("n"))
	if err != nil {
		return response.ValidationError(c, "Frame number must be an integer", nil)
	}

	ref, err := h.service.Frame(c.Params("id"), n)
	if err != nil {
		return sessionError(c, err)
	}
	return sendImage(c, ref)
}

// sendImage writes an embedded image, or its thumbnail when ?thumb=1.
// Placeholders redirect to the placeholder service.
func sendImage(c *fiber.Ctx, ref session.ImageRef) error {
	if ref.IsPlaceholder() {
		return c.Redirect(ref.String(), fiber.StatusFound)
	}

	if c.QueryBool("thumb") {
		data, err := service.Thumbnail(ref, service.ThumbnailWidth, service.ThumbnailHeight)
		if err != nil {
			return response.ServiceError(c, err.Error())
		}
		c.Set(fiber.HeaderContentType, "image/png")
		return c.Send(data)
	}

	c.Set(fiber.HeaderContentType, ref.MIMEType)
	c.Set(fiber.HeaderCacheControl, "private, max-age=3600")
	return c.Send(ref.Data)
}

func sessionError(c *fiber.Ctx, err error) error {
	var verr *session.ValidationError
	var terr *session.TransitionError
	switch {
	case errors.As(err, &verr):
		return response.ValidationError(c, "Validation failed", verr.Fields)
	case errors.As(err, &terr):
		return response.Conflict(c, err.Error(), map[string]string{
			"stage":  string(terr.From),
			"action": string(terr.Action),
		})
	case errors.Is(err, session.ErrBusy):
		return response.Conflict(c, err.Error(), nil)
	case errors.Is(err, service.ErrSessionInactive):
		return response.Gone(c, "Session is no longer active")
	case errors.Is(err, service.ErrSessionNotFound):
		return response.NotFound(c, "Session not found")
	case errors.Is(err, service.ErrNoTrack):
		return response.NotFound(c, "Session has no music track")
	case errors.Is(err, service.ErrImageNotFound):
		return response.NotFound(c, "Image not found")
	}
	return response.ServiceError(c, err.Error())
}
