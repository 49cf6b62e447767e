package handler

import (
	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v2"

	"github.com/lofivibes/api/internal/model"
	"github.com/lofivibes/api/internal/service"
	"github.com/lofivibes/api/internal/session"
	"github.com/lofivibes/api/pkg/response"
)

type ImageHandler struct {
	service   *service.ImageService
	validator *validator.Validate
}

func NewImageHandler(svc *service.ImageService, v *validator.Validate) *ImageHandler {
	return &ImageHandler{
		service:   svc,
		validator: v,
	}
}

// Generate handles POST /api/generate-image
func (h *ImageHandler) Generate(c *fiber.Ctx) error {
	var req model.GenerateImageRequest
	if err := c.BodyParser(&req); err != nil {
		return gatewayInvalid(c, "Invalid request body", nil)
	}

	if err := h.validator.Struct(&req); err != nil {
		return gatewayInvalid(c, "Validation failed", validationFields(err))
	}

	style := session.ImageStyle(req.Style)
	if style == "" {
		style = session.StyleBase
	}
	frame := req.FrameNumber
	if frame <= 0 {
		frame = 1
	}

	ireq := session.ImageRequest{
		Prompt:      req.Prompt,
		Instruments: req.Instruments,
		Style:       style,
		FrameNumber: frame,
	}
	if req.BaseImage != "" {
		ref, err := session.ParseImageRef(req.BaseImage)
		if err != nil {
			return gatewayInvalid(c, "Invalid base image", map[string]string{"baseImage": err.Error()})
		}
		ireq.Reference = &ref
	}

	result, err := h.service.Generate(c.UserContext(), ireq)
	if err != nil {
		return gatewayError(c, "Gemini API key not configured", "Internal server error", err)
	}

	instruments := req.Instruments
	if instruments == nil {
		instruments = []string{}
	}
	var note *string
	if result.ModelNote != "" {
		note = &result.ModelNote
	}

	return response.OK(c, model.GenerateImageResponse{
		ImageURL:       result.Image.String(),
		Prompt:         result.PromptUsed,
		Style:          string(style),
		FrameNumber:    frame,
		Instruments:    instruments,
		GeminiResponse: note,
	})
}
