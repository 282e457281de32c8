package handler

import (
	"github.com/gofiber/fiber/v2"
	"github.com/reelcraft/mediapipe/internal/auth"
	"github.com/reelcraft/mediapipe/internal/middleware"
)

// AuthHandler answers the API gateway's ForwardAuth checks.
type AuthHandler struct {
	verifier auth.TokenVerifier
}

func NewAuthHandler(verifier auth.TokenVerifier) *AuthHandler {
	return &AuthHandler{verifier: verifier}
}

// Verify handles GET /auth/verify, called by Traefik ForwardAuth.
// Returns 200 with X-User-* headers on success, 401 on failure.
func (h *AuthHandler) Verify(c *fiber.Ctx) error {
	token, ok := middleware.BearerToken(c.Get(fiber.HeaderAuthorization))
	if !ok || h.verifier == nil {
		return c.SendStatus(fiber.StatusUnauthorized)
	}

	p, err := h.verifier.Verify(token)
	if err != nil {
		return c.SendStatus(fiber.StatusUnauthorized)
	}

	middleware.WriteIdentityHeaders(c, p)
	return c.SendStatus(fiber.StatusOK)
}
