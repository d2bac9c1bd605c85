package middleware

import (
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testSecret = "test-secret"

func setupAuthApp(secret string) *fiber.App {
	app := fiber.New()
	app.Use(AuthMiddleware(secret))
	app.Get("/protected", func(c *fiber.Ctx) error {
		user, _ := c.Locals("username").(string)
		return c.SendString("hello " + user)
	})
	return app
}

func TestAuthMiddleware(t *testing.T) {
	valid, err := GenerateToken(testSecret, "admin", time.Hour)
	require.NoError(t, err)
	otherKey, err := GenerateToken("other-secret", "admin", time.Hour)
	require.NoError(t, err)
	expired, err := jwt.NewWithClaims(jwt.SigningMethodHS256, &Claims{
		Username: "admin",
		RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(-time.Minute)),
		},
	}).SignedString([]byte(testSecret))
	require.NoError(t, err)

	tests := []struct {
		name       string
		header     string
		query      string
		wantStatus int
	}{
		{"valid bearer", "Bearer " + valid, "", fiber.StatusOK},
		{"lowercase scheme", "bearer " + valid, "", fiber.StatusOK},
		{"query token", "", "?token=" + valid, fiber.StatusOK},
		{"missing", "", "", fiber.StatusUnauthorized},
		{"malformed header", "Token " + valid, "", fiber.StatusUnauthorized},
		{"wrong key", "Bearer " + otherKey, "", fiber.StatusUnauthorized},
		{"expired", "Bearer " + expired, "", fiber.StatusUnauthorized},
		{"garbage", "Bearer not.a.jwt", "", fiber.StatusUnauthorized},
	}

	app := setupAuthApp(testSecret)
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest("GET", "/protected"+tt.query, nil)
			if tt.header != "" {
				req.Header.Set("Authorization", tt.header)
			}
			resp, err := app.Test(req, -1)
			require.NoError(t, err)
			assert.Equal(t, tt.wantStatus, resp.StatusCode)
		})
	}
}

func TestAuthMiddleware_DisabledWithoutSecret(t *testing.T) {
	app := setupAuthApp("")
	resp, err := app.Test(httptest.NewRequest("GET", "/protected", nil), -1)
	require.NoError(t, err)
	assert.Equal(t, fiber.StatusOK, resp.StatusCode)
}

func TestGenerateToken(t *testing.T) {
	_, err := GenerateToken("", "admin", time.Hour)
	assert.Error(t, err)

	token, err := GenerateToken(testSecret, "ops", 0)
	require.NoError(t, err)
	claims, err := ParseToken(testSecret, token)
	require.NoError(t, err)
	assert.Equal(t, "ops", claims.Username)
	assert.WithinDuration(t, time.Now().Add(DefaultTokenTTL), claims.ExpiresAt.Time, time.Minute)

	_, err = ParseToken("wrong", token)
	assert.ErrorIs(t, err, ErrInvalidToken)
}
