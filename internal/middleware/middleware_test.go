package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/reelcraft/mediapipe/internal/auth"
	"github.com/reelcraft/mediapipe/internal/testutil"
)

// echoPrincipal answers with the principal seen by the handler.
func echoPrincipal(c *fiber.Ctx) error {
	p := PrincipalFrom(c)
	if p == nil {
		return c.SendStatus(fiber.StatusNoContent)
	}
	return c.JSON(fiber.Map{"user": p.UserID, "workspaces": p.Workspaces})
}

func TestBearerToken(t *testing.T) {
	tok, ok := BearerToken("Bearer abc")
	assert.True(t, ok)
	assert.Equal(t, "abc", tok)

	tok, ok = BearerToken("bearer abc")
	assert.True(t, ok)
	assert.Equal(t, "abc", tok)

	for _, header := range []string{"", "abc", "Basic abc", "Bearer "} {
		_, ok := BearerToken(header)
		assert.False(t, ok, header)
	}
}

func TestAuthenticate(t *testing.T) {
	verifier := auth.NewHMACVerifier("secret")
	app := fiber.New()
	app.Get("/", Authenticate(verifier), echoPrincipal)

	token, err := verifier.Issue("u1", "", []string{"ws-1"}, time.Hour)
	require.NoError(t, err)

	tests := []struct {
		name   string
		header string
		status int
	}{
		{"missing header", "", http.StatusUnauthorized},
		{"bad format", "Token " + token, http.StatusUnauthorized},
		{"bad token", "Bearer nope", http.StatusUnauthorized},
		{"valid", "Bearer " + token, http.StatusOK},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/", nil)
			if tt.header != "" {
				req.Header.Set("Authorization", tt.header)
			}
			resp, err := app.Test(req, -1)
			require.NoError(t, err)
			assert.Equal(t, tt.status, resp.StatusCode)
		})
	}
}

func TestAuthenticateWithoutVerifier(t *testing.T) {
	app := fiber.New()
	app.Get("/", Authenticate(nil), echoPrincipal)

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("Authorization", "Bearer abc")
	resp, err := app.Test(req, -1)
	require.NoError(t, err)
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
}

func TestGatewayAuth(t *testing.T) {
	app := fiber.New()
	app.Get("/", GatewayAuth(), func(c *fiber.Ctx) error {
		p := PrincipalFrom(c)
		assert.Equal(t, "u1", p.UserID)
		assert.Equal(t, "u1@example.com", p.Email)
		assert.Equal(t, []string{"ws-1", "ws-2"}, p.Workspaces)
		assert.Equal(t, "u1", GetUserID(c))
		return c.SendStatus(fiber.StatusOK)
	})

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	resp, err := app.Test(req, -1)
	require.NoError(t, err)
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)

	req = httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set(HeaderUserID, "u1")
	req.Header.Set(HeaderUserEmail, "u1@example.com")
	req.Header.Set(HeaderUserWorkspaces, "ws-1, ws-2,")
	resp, err = app.Test(req, -1)
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestWriteIdentityHeaders(t *testing.T) {
	app := fiber.New()
	app.Get("/", func(c *fiber.Ctx) error {
		WriteIdentityHeaders(c, &auth.Principal{UserID: "u1", Name: "Ada", Workspaces: []string{"ws-1", "ws-2"}})
		return c.SendStatus(fiber.StatusOK)
	})

	resp, err := app.Test(httptest.NewRequest(http.MethodGet, "/", nil), -1)
	require.NoError(t, err)
	assert.Equal(t, "u1", resp.Header.Get(HeaderUserID))
	assert.Equal(t, "Ada", resp.Header.Get(HeaderUserName))
	assert.Equal(t, "ws-1,ws-2", resp.Header.Get(HeaderUserWorkspaces))
}

func TestRateLimiterWithoutRedisPasses(t *testing.T) {
	rl := NewRateLimiter(nil)
	app := fiber.New()
	app.Get("/", rl.TaskLimit(1), func(c *fiber.Ctx) error {
		return c.SendStatus(fiber.StatusOK)
	})

	for i := 0; i < 3; i++ {
		resp, err := app.Test(httptest.NewRequest(http.MethodGet, "/", nil), -1)
		require.NoError(t, err)
		assert.Equal(t, http.StatusOK, resp.StatusCode)
	}
}

func TestRateLimiterRedis(t *testing.T) {
	rl := NewRateLimiter(testutil.RedisClient(t))
	app := fiber.New()
	app.Get("/", GatewayAuth(), rl.TaskLimit(2), func(c *fiber.Ctx) error {
		return c.SendStatus(fiber.StatusOK)
	})

	request := func(user string) *http.Response {
		req := httptest.NewRequest(http.MethodGet, "/", nil)
		req.Header.Set(HeaderUserID, user)
		resp, err := app.Test(req, -1)
		require.NoError(t, err)
		return resp
	}

	assert.Equal(t, http.StatusOK, request("u1").StatusCode)
	resp := request("u1")
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "0", resp.Header.Get("X-RateLimit-Remaining"))

	resp = request("u1")
	assert.Equal(t, http.StatusTooManyRequests, resp.StatusCode)
	assert.NotEmpty(t, resp.Header.Get("Retry-After"))

	assert.Equal(t, http.StatusOK, request("u2").StatusCode)
}
