package serverutils

import (
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestJwtMiddleware(t *testing.T) {
	app := fiber.New()
	app.Get("/x", JwtMiddleware("s3cret"), func(c *fiber.Ctx) error {
		return c.SendString(c.Locals("operator").(string))
	})

	good, err := IssueToken("ops", "s3cret", time.Hour)
	require.NoError(t, err)
	bad, err := IssueToken("ops", "other", time.Hour)
	require.NoError(t, err)
	expired, err := IssueToken("ops", "s3cret", -time.Minute)
	require.NoError(t, err)

	tests := []struct {
		name   string
		header string
		query  string
		status int
	}{
		{"missing", "", "", fiber.StatusUnauthorized},
		{"valid header", "Bearer " + good, "", fiber.StatusOK},
		{"valid query", "", good, fiber.StatusOK},
		{"wrong secret", "Bearer " + bad, "", fiber.StatusUnauthorized},
		{"expired", "Bearer " + expired, "", fiber.StatusUnauthorized},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			url := "/x"
			if tt.query != "" {
				url += "?token=" + tt.query
			}
			req := httptest.NewRequest("GET", url, nil)
			if tt.header != "" {
				req.Header.Set("Authorization", tt.header)
			}
			resp, err := app.Test(req)
			require.NoError(t, err)
			assert.Equal(t, tt.status, resp.StatusCode)
		})
	}
}

func TestValidateRequest(t *testing.T) {
	type req struct {
		Phone string `validate:"required,numeric,min=8,max=15"`
	}
	assert.NoError(t, ValidateRequest(req{Phone: "5511999999999"}))
	err := ValidateRequest(req{Phone: "abc"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "Phone")
}

func TestErrorHandlerMiddleware(t *testing.T) {
	app := fiber.New()
	app.Use(ErrorHandlerMiddleware())
	app.Get("/teapot", func(c *fiber.Ctx) error { return fiber.NewError(fiber.StatusTeapot, "no coffee") })
	app.Get("/panic", func(c *fiber.Ctx) error { panic("boom") })

	resp, err := app.Test(httptest.NewRequest("GET", "/teapot", nil))
	require.NoError(t, err)
	assert.Equal(t, fiber.StatusTeapot, resp.StatusCode)

	resp, err = app.Test(httptest.NewRequest("GET", "/panic", nil))
	require.NoError(t, err)
	assert.Equal(t, fiber.StatusInternalServerError, resp.StatusCode)
}
