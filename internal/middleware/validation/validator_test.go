package validation

import (
	"io"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gofiber/fiber/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newApp() *fiber.App {
	app := fiber.New()
	app.Use(Middleware(Config{MaxFeedback: 10}))
	echo := func(c *fiber.Ctx) error { return c.Send(c.Body()) }
	app.Post("/api/v1/sessions", echo)
	app.Post("/api/v1/sessions/:id/revise", echo)
	app.Post("/api/v1/sessions/:id/save", echo)
	return app
}

func post(t *testing.T, app *fiber.App, path, body string) (int, string) {
	t.Helper()
	req := httptest.NewRequest("POST", path, strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	resp, err := app.Test(req)
	require.NoError(t, err)
	data, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	return resp.StatusCode, string(data)
}

func TestValidationRequiresJobDescription(t *testing.T) {
	app := newApp()

	code, _ := post(t, app, "/api/v1/sessions", `{"company_name":"Acme"}`)
	assert.Equal(t, fiber.StatusBadRequest, code)

	code, _ = post(t, app, "/api/v1/sessions", `{"job_description":"   "}`)
	assert.Equal(t, fiber.StatusBadRequest, code)

	code, _ = post(t, app, "/api/v1/sessions", `{"job_description":42}`)
	assert.Equal(t, fiber.StatusBadRequest, code)

	code, _ = post(t, app, "/api/v1/sessions", `{"job_description":"Build things"}`)
	assert.Equal(t, fiber.StatusOK, code)
}

func TestValidationLimitsFeedbackLength(t *testing.T) {
	app := newApp()

	code, _ := post(t, app, "/api/v1/sessions/abc/revise", `{"feedback":"shorter please, much shorter"}`)
	assert.Equal(t, fiber.StatusRequestEntityTooLarge, code)

	code, _ = post(t, app, "/api/v1/sessions/abc/revise", `{"feedback":"shorter"}`)
	assert.Equal(t, fiber.StatusOK, code)
}

func TestValidationStripsNulBytes(t *testing.T) {
	code, body := post(t, newApp(), "/api/v1/sessions", `{"job_description":"Lead\u0000 team"}`)
	require.Equal(t, fiber.StatusOK, code)
	assert.Contains(t, body, `"Lead team"`)
}

func TestValidationRejectsBadJSONAndContentType(t *testing.T) {
	app := newApp()

	code, _ := post(t, app, "/api/v1/sessions", `{not json`)
	assert.Equal(t, fiber.StatusBadRequest, code)

	req := httptest.NewRequest("POST", "/api/v1/sessions", strings.NewReader("job"))
	req.Header.Set("Content-Type", "text/plain")
	resp, err := app.Test(req)
	require.NoError(t, err)
	assert.Equal(t, fiber.StatusUnsupportedMediaType, resp.StatusCode)

	code, _ = post(t, app, "/api/v1/sessions/abc/save", ``)
	assert.Equal(t, fiber.StatusOK, code, "routes without rules pass through")
}
