package handler

import (
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v2"

	"github.com/lofivibes/api/internal/session"
	"github.com/lofivibes/api/pkg/response"
)

// formatValidationErrors formats validator errors for response
func formatValidationErrors(err error) interface{} {
	if validationErrors, ok := err.(validator.ValidationErrors); ok {
		fields := make(map[string]string)
		for _, e := range validationErrors {
			fields[e.Field()] = e.Tag()
		}
		return fields
	}
	var verr *session.ValidationError
	if errors.As(err, &verr) {
		return verr.Fields
	}
	return nil
}

// gatewayError writes a generation failure in the flat envelope. unconfigured
// is the message used when the model credential is missing.
func gatewayError(c *fiber.Ctx, unconfigured, fallback string, err error) error {
	if errors.Is(err, session.ErrUpstreamUnavailable) {
		return response.GatewayError(c, unconfigured, "", session.CodeUpstreamUnavailable)
	}

	details := err.Error()
	var uerr *session.UpstreamError
	if errors.As(err, &uerr) && uerr.Details != "" {
		details = uerr.Details
	}
	return response.GatewayError(c, fallback, details, session.CodeOf(err))
}

// gatewayInvalid rejects a generation request in the flat envelope, listing
// the failing fields as "field: rule" pairs.
func gatewayInvalid(c *fiber.Ctx, message string, fields map[string]string) error {
	pairs := make([]string, 0, len(fields))
	for field, rule := range fields {
		pairs = append(pairs, fmt.Sprintf("%s: %s", field, rule))
	}
	sort.Strings(pairs)
	return response.GatewayError(c, message, strings.Join(pairs, ", "), response.CodeValidationError)
}

func validationFields(err error) map[string]string {
	fields, _ := formatValidationErrors(err).(map[string]string)
	return fields
}
