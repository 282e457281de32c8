package middleware

import (
	"strings"

	"github.com/gofiber/fiber/v2"
	"github.com/reelcraft/mediapipe/internal/auth"
	"github.com/reelcraft/mediapipe/pkg/response"
)

const principalKey = "principal"

// Authenticate verifies the bearer token and stores the resulting principal
// on the request.
func Authenticate(verifier auth.TokenVerifier) fiber.Handler {
	return func(c *fiber.Ctx) error {
		header := c.Get(fiber.HeaderAuthorization)
		if header == "" {
			return response.Unauthorized(c, "Missing authorization header")
		}
		token, ok := BearerToken(header)
		if !ok {
			return response.Unauthorized(c, "Invalid authorization header format")
		}
		if verifier == nil {
			return response.Unauthorized(c, "Authentication not configured")
		}

		p, err := verifier.Verify(token)
		if err != nil {
			return response.Unauthorized(c, "Invalid or expired token")
		}
		c.Locals(principalKey, p)
		return c.Next()
	}
}

// BearerToken extracts the token from an "Authorization: Bearer <token>" value.
func BearerToken(header string) (string, bool) {
	parts := strings.SplitN(header, " ", 2)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "bearer") || parts[1] == "" {
		return "", false
	}
	return parts[1], true
}

// PrincipalFrom returns the principal set by Authenticate or GatewayAuth.
func PrincipalFrom(c *fiber.Ctx) *auth.Principal {
	p, _ := c.Locals(principalKey).(*auth.Principal)
	return p
}

// GetUserID extracts user ID from context
func GetUserID(c *fiber.Ctx) string {
	if p := PrincipalFrom(c); p != nil {
		return p.UserID
	}
	return ""
}
