package handler

import (
	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v2"
	"github.com/reelcraft/mediapipe/internal/service"
	"github.com/reelcraft/mediapipe/pkg/response"
)

type MediaHandler struct {
	service   *service.TaskService
	validator *validator.Validate
}

func NewMediaHandler(svc *service.TaskService, v *validator.Validate) *MediaHandler {
	return &MediaHandler{
		service:   svc,
		validator: v,
	}
}

// Register handles POST /api/media
func (h *MediaHandler) Register(c *fiber.Ctx) error {
	var req service.RegisterMediaRequest
	if err := c.BodyParser(&req); err != nil {
		return response.ValidationError(c, "Invalid request body", nil)
	}

	if err := h.validator.Struct(&req); err != nil {
		return response.ValidationError(c, "Validation failed", formatValidationErrors(err))
	}
	if !canAccess(c, req.WorkspaceID) {
		return workspaceForbidden(c)
	}

	result, err := h.service.RegisterMedia(c.UserContext(), &req)
	if err != nil {
		return serviceError(c, err, "Media")
	}

	return response.Created(c, result)
}

// Get handles GET /api/media/:id
func (h *MediaHandler) Get(c *fiber.Ctx) error {
	media, err := h.service.GetMedia(c.UserContext(), c.Params("id"), c.Query("workspaceId"))
	if err != nil {
		return serviceError(c, err, "Media")
	}
	if !canAccess(c, media.WorkspaceID) {
		return workspaceForbidden(c)
	}

	return response.OK(c, media)
}

// Process handles POST /api/media/:id/process
func (h *MediaHandler) Process(c *fiber.Ctx) error {
	media, err := h.service.GetMedia(c.UserContext(), c.Params("id"), c.Query("workspaceId"))
	if err != nil {
		return serviceError(c, err, "Media")
	}
	if !canAccess(c, media.WorkspaceID) {
		return workspaceForbidden(c)
	}

	task, err := h.service.ProcessMedia(c.UserContext(), media.ID, media.WorkspaceID)
	if err != nil {
		return serviceError(c, err, "Media")
	}

	return response.Accepted(c, task)
}
