package handler

import (
	"errors"

	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v2"
	"github.com/reelcraft/mediapipe/internal/apperr"
	"github.com/reelcraft/mediapipe/internal/middleware"
	"github.com/reelcraft/mediapipe/internal/service"
	"github.com/reelcraft/mediapipe/pkg/response"
)

func formatValidationErrors(err error) interface{} {
	var validationErrors validator.ValidationErrors
	if errors.As(err, &validationErrors) {
		fields := make(map[string]string)
		for _, e := range validationErrors {
			fields[e.Namespace()] = e.Tag()
		}
		return fields
	}
	return nil
}

// serviceError maps service errors onto API error responses.
func serviceError(c *fiber.Ctx, err error, what string) error {
	var resErr *apperr.InputResolutionError
	switch {
	case errors.Is(err, apperr.ErrNotFound):
		return response.NotFound(c, what+" not found")
	case errors.Is(err, service.ErrWorkspaceMismatch):
		return response.Forbidden(c, err.Error())
	case errors.Is(err, service.ErrRenderNotReady):
		return response.Conflict(c, err.Error())
	case errors.As(err, &resErr):
		return response.InputError(c, resErr.Error())
	}
	return response.ServiceError(c, err.Error())
}

// canAccess reports whether the caller's token covers workspaceID.
// Requests without a principal were not routed through auth and pass.
func canAccess(c *fiber.Ctx, workspaceID string) bool {
	p := middleware.PrincipalFrom(c)
	return p == nil || p.CanAccess(workspaceID)
}

func workspaceForbidden(c *fiber.Ctx) error {
	return response.Forbidden(c, "Workspace is outside the token scope")
}
