package handler

import (
	"time"

	"github.com/gofiber/contrib/websocket"
	"github.com/gofiber/fiber/v2"
	"github.com/reelcraft/mediapipe/internal/middleware"
	ws "github.com/reelcraft/mediapipe/internal/websocket"
)

// Routes bundles everything the API routes need.
type Routes struct {
	Media    *MediaHandler
	Timeline *TimelineHandler
	Task     *TaskHandler
	Auth     *AuthHandler
	Hub      *ws.Hub

	APIAuth       fiber.Handler
	RateLimiter   *middleware.RateLimiter
	TaskPerHour   int
	RenderPerHour int

	// Health reports dependency state for GET /health.
	Health func() fiber.Map
}

// Register mounts all routes on app.
func (r *Routes) Register(app *fiber.App) {
	// Base URL - timestamp
	app.Get("/", func(c *fiber.Ctx) error {
		return c.JSON(fiber.Map{
			"timestamp": time.Now().Unix(),
		})
	})

	app.Get("/health", func(c *fiber.Ctx) error {
		services := fiber.Map{}
		if r.Health != nil {
			services = r.Health()
		}
		return c.JSON(fiber.Map{
			"status":   "ok",
			"services": services,
		})
	})

	// ForwardAuth verification endpoint (internal, called by Traefik)
	if r.Auth != nil {
		app.Get("/auth/verify", r.Auth.Verify)
	}

	api := app.Group("/api", r.APIAuth)

	media := api.Group("/media")
	media.Post("/", r.RateLimiter.TaskLimit(r.TaskPerHour), r.Media.Register)
	media.Get("/:id", r.Media.Get)
	media.Post("/:id/process", r.RateLimiter.TaskLimit(r.TaskPerHour), r.Media.Process)

	timelines := api.Group("/timelines")
	timelines.Put("/:id", r.Timeline.Save)
	timelines.Get("/:id", r.Timeline.Get)
	timelines.Post("/:id/render", r.RateLimiter.RenderLimit(r.RenderPerHour), r.Timeline.Render)

	tasks := api.Group("/tasks")
	tasks.Get("/:id", r.Task.Status)
	tasks.Get("/:id/steps", r.Task.Steps)
	tasks.Get("/:id/download", r.Task.Download)

	if r.Hub == nil {
		return
	}
	app.Use("/ws", func(c *fiber.Ctx) error {
		if websocket.IsWebSocketUpgrade(c) {
			return c.Next()
		}
		return fiber.ErrUpgradeRequired
	})
	app.Get("/ws/tasks/:taskId", websocket.New(func(c *websocket.Conn) {
		r.Hub.HandleConnection(c, c.Params("taskId"))
	}))
}
