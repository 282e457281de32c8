package e2e

import (
	"encoding/json"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v2"
	"github.com/sirupsen/logrus"

	"github.com/reelcraft/mediapipe/internal/auth"
	"github.com/reelcraft/mediapipe/internal/handler"
	"github.com/reelcraft/mediapipe/internal/middleware"
	"github.com/reelcraft/mediapipe/internal/service"
	"github.com/reelcraft/mediapipe/internal/storage"
	"github.com/reelcraft/mediapipe/internal/store"
)

const testJWTSecret = "test-secret-for-e2e"

// testApp holds all components needed for testing
type testApp struct {
	app     *fiber.App
	store   *store.MemoryStore
	blobDir string
}

// setupApp creates a Fiber app wired like main.go, backed by the in-memory
// store and a local storage backend.
func setupApp(t *testing.T) *testApp {
	t.Helper()

	logger := logrus.New()
	logger.SetLevel(logrus.PanicLevel)

	blobDir := t.TempDir()
	memStore := store.NewMemoryStore()
	gateway := storage.NewGateway(storage.BackendLocal, t.TempDir(), logger, storage.NewLocalBackend(blobDir))

	verifier := auth.NewHMACVerifier(testJWTSecret)
	validate := validator.New()
	taskService := service.NewTaskService(memStore, gateway)

	routes := &handler.Routes{
		Media:       handler.NewMediaHandler(taskService, validate),
		Timeline:    handler.NewTimelineHandler(taskService, validate),
		Task:        handler.NewTaskHandler(taskService),
		Auth:        handler.NewAuthHandler(verifier),
		APIAuth:     middleware.Authenticate(verifier),
		RateLimiter: middleware.NewRateLimiter(nil),
		Health: func() fiber.Map {
			return fiber.Map{"redis": false, "r2": false, "auth": true}
		},
	}

	app := fiber.New(fiber.Config{
		BodyLimit: 50 * 1024 * 1024,
	})
	routes.Register(app)

	return &testApp{app: app, store: memStore, blobDir: blobDir}
}

// writeBlob places a file in the local storage backend.
func (ta *testApp) writeBlob(t *testing.T, key string) {
	t.Helper()
	path := filepath.Join(ta.blobDir, key)
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		t.Fatalf("failed to create blob dir: %v", err)
	}
	if err := os.WriteFile(path, []byte("media"), 0o644); err != nil {
		t.Fatalf("failed to write blob: %v", err)
	}
}

// generateToken creates an unscoped HMAC token for test requests.
func generateToken(t *testing.T) string {
	t.Helper()
	return generateScopedToken(t)
}

// generateScopedToken creates a token limited to the given workspaces.
func generateScopedToken(t *testing.T, workspaces ...string) string {
	t.Helper()
	token, err := auth.NewHMACVerifier(testJWTSecret).Issue("test-user-123", "test@example.com", workspaces, time.Hour)
	if err != nil {
		t.Fatalf("failed to generate test token: %v", err)
	}
	return token
}

// doRequest is a helper to perform HTTP requests against the test app.
func doRequest(app *fiber.App, method, path string, body string, headers map[string]string) (*http.Response, error) {
	var bodyReader io.Reader
	if body != "" {
		bodyReader = strings.NewReader(body)
	}

	req, err := http.NewRequest(method, path, bodyReader)
	if err != nil {
		return nil, err
	}

	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	for k, v := range headers {
		req.Header.Set(k, v)
	}

	return app.Test(req, -1)
}

// doAuthRequest performs an authenticated request.
func doAuthRequest(t *testing.T, app *fiber.App, method, path, body string) (*http.Response, error) {
	t.Helper()
	token := generateToken(t)
	return doRequest(app, method, path, body, map[string]string{
		"Authorization": "Bearer " + token,
	})
}

// readBody reads and returns the response body as a string.
func readBody(t *testing.T, resp *http.Response) string {
	t.Helper()
	defer resp.Body.Close()
	b, err := io.ReadAll(resp.Body)
	if err != nil {
		t.Fatalf("failed to read response body: %v", err)
	}
	return string(b)
}

// parseJSON parses response body into a map.
func parseJSON(t *testing.T, resp *http.Response) map[string]interface{} {
	t.Helper()
	body := readBody(t, resp)
	var result map[string]interface{}
	if err := json.Unmarshal([]byte(body), &result); err != nil {
		t.Fatalf("failed to parse JSON: %v\nbody: %s", err, body)
	}
	return result
}

// assertStatus checks the HTTP status code.
func assertStatus(t *testing.T, resp *http.Response, expected int) {
	t.Helper()
	if resp.StatusCode != expected {
		t.Errorf("expected status %d, got %d", expected, resp.StatusCode)
	}
}

// errorCode extracts error.code from an error response.
func errorCode(t *testing.T, resp *http.Response) string {
	t.Helper()
	result := parseJSON(t, resp)
	errObj, ok := result["error"].(map[string]interface{})
	if !ok {
		t.Fatalf("expected error object, got %v", result)
	}
	code, _ := errObj["code"].(string)
	return code
}
