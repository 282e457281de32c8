package middleware

import (
	"strings"

	"github.com/gofiber/fiber/v2"
	"github.com/reelcraft/mediapipe/internal/auth"
	"github.com/reelcraft/mediapipe/pkg/response"
)

// Identity headers exchanged with the gateway's ForwardAuth hop.
const (
	HeaderUserID         = "X-User-Id"
	HeaderUserEmail      = "X-User-Email"
	HeaderUserName       = "X-User-Name"
	HeaderUserWorkspaces = "X-User-Workspaces"
)

// WriteIdentityHeaders sets the identity headers for a verified principal.
func WriteIdentityHeaders(c *fiber.Ctx, p *auth.Principal) {
	c.Set(HeaderUserID, p.UserID)
	c.Set(HeaderUserEmail, p.Email)
	c.Set(HeaderUserName, p.Name)
	if len(p.Workspaces) > 0 {
		c.Set(HeaderUserWorkspaces, strings.Join(p.Workspaces, ","))
	}
}

// GatewayAuth trusts the identity headers set by Traefik ForwardAuth.
func GatewayAuth() fiber.Handler {
	return func(c *fiber.Ctx) error {
		userID := c.Get(HeaderUserID)
		if userID == "" {
			return response.Unauthorized(c, "Missing user identity headers")
		}

		p := &auth.Principal{
			UserID: userID,
			Email:  c.Get(HeaderUserEmail),
			Name:   c.Get(HeaderUserName),
		}
		for _, ws := range strings.Split(c.Get(HeaderUserWorkspaces), ",") {
			if ws = strings.TrimSpace(ws); ws != "" {
				p.Workspaces = append(p.Workspaces, ws)
			}
		}
		c.Locals(principalKey, p)

		return c.Next()
	}
}
