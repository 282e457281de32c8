package handler

import (
	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v2"
	"github.com/reelcraft/mediapipe/internal/model"
	"github.com/reelcraft/mediapipe/internal/service"
	"github.com/reelcraft/mediapipe/pkg/response"
)

type TimelineHandler struct {
	service   *service.TaskService
	validator *validator.Validate
}

func NewTimelineHandler(svc *service.TaskService, v *validator.Validate) *TimelineHandler {
	return &TimelineHandler{
		service:   svc,
		validator: v,
	}
}

// RenderRequest optionally overrides the timeline's render settings.
type RenderRequest struct {
	WorkspaceID string                `json:"workspaceId" validate:"required"`
	Settings    *model.RenderSettings `json:"settings,omitempty" validate:"omitempty"`
}

// Save handles PUT /api/timelines/:id
func (h *TimelineHandler) Save(c *fiber.Ctx) error {
	var tl model.Timeline
	if err := c.BodyParser(&tl); err != nil {
		return response.ValidationError(c, "Invalid request body", nil)
	}
	tl.ID = c.Params("id")

	if err := h.validator.Struct(&tl); err != nil {
		return response.ValidationError(c, "Validation failed", formatValidationErrors(err))
	}
	if !canAccess(c, tl.WorkspaceID) {
		return workspaceForbidden(c)
	}

	saved, err := h.service.SaveTimeline(c.UserContext(), &tl)
	if err != nil {
		return serviceError(c, err, "Timeline")
	}

	return response.OK(c, saved)
}

// Get handles GET /api/timelines/:id
func (h *TimelineHandler) Get(c *fiber.Ctx) error {
	tl, err := h.service.GetTimeline(c.UserContext(), c.Params("id"), c.Query("workspaceId"))
	if err != nil {
		return serviceError(c, err, "Timeline")
	}
	if !canAccess(c, tl.WorkspaceID) {
		return workspaceForbidden(c)
	}

	return response.OK(c, tl)
}

// Render handles POST /api/timelines/:id/render
func (h *TimelineHandler) Render(c *fiber.Ctx) error {
	var req RenderRequest
	if err := c.BodyParser(&req); err != nil {
		return response.ValidationError(c, "Invalid request body", nil)
	}

	if err := h.validator.Struct(&req); err != nil {
		return response.ValidationError(c, "Validation failed", formatValidationErrors(err))
	}
	if !canAccess(c, req.WorkspaceID) {
		return workspaceForbidden(c)
	}

	task, err := h.service.RenderTimeline(c.UserContext(), c.Params("id"), req.WorkspaceID, req.Settings)
	if err != nil {
		return serviceError(c, err, "Timeline")
	}

	return response.Accepted(c, task)
}
