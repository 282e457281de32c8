package handler

import (
	"github.com/gofiber/fiber/v2"
	"github.com/reelcraft/mediapipe/internal/service"
	"github.com/reelcraft/mediapipe/pkg/response"
)

type TaskHandler struct {
	service *service.TaskService
}

func NewTaskHandler(svc *service.TaskService) *TaskHandler {
	return &TaskHandler{service: svc}
}

// Status handles GET /api/tasks/:id
func (h *TaskHandler) Status(c *fiber.Ctx) error {
	result, err := h.service.GetStatus(c.UserContext(), c.Params("id"))
	if err != nil {
		return serviceError(c, err, "Task")
	}
	if !canAccess(c, result.Task.WorkspaceID()) {
		return workspaceForbidden(c)
	}

	return response.OK(c, result)
}

// Steps handles GET /api/tasks/:id/steps
func (h *TaskHandler) Steps(c *fiber.Ctx) error {
	task, steps, err := h.service.GetSteps(c.UserContext(), c.Params("id"))
	if err != nil {
		return serviceError(c, err, "Task")
	}
	if !canAccess(c, task.WorkspaceID()) {
		return workspaceForbidden(c)
	}

	return response.OK(c, fiber.Map{"steps": steps})
}

// Download handles GET /api/tasks/:id/download
func (h *TaskHandler) Download(c *fiber.Ctx) error {
	render, url, err := h.service.DownloadURL(c.UserContext(), c.Params("id"))
	if render != nil && !canAccess(c, render.WorkspaceID) {
		return workspaceForbidden(c)
	}
	if err != nil {
		return serviceError(c, err, "Render")
	}

	return response.OK(c, fiber.Map{
		"url":    url,
		"output": render.Output,
	})
}
