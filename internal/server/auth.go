package server

import (
	"crypto/subtle"
	"errors"
	"net/http"
	"strings"

	"github.com/golang-jwt/jwt/v5"
	"github.com/labstack/echo/v4"
)

// AuthConfig configures request authentication. A request is accepted when
// its bearer token equals the master key, or when it is a valid HS256 JWT
// signed with JWTSecret. With neither configured all requests pass.
type AuthConfig struct {
	MasterKey string
	JWTSecret string
	SkipPaths []string
}

// AuthMiddleware creates an Echo middleware enforcing bearer authentication.
func AuthMiddleware(cfg AuthConfig) echo.MiddlewareFunc {
	skip := make(map[string]bool, len(cfg.SkipPaths))
	for _, p := range cfg.SkipPaths {
		skip[p] = true
	}

	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			if cfg.MasterKey == "" && cfg.JWTSecret == "" {
				return next(c)
			}
			if skip[c.Request().URL.Path] {
				return next(c)
			}

			authHeader := c.Request().Header.Get("Authorization")
			if authHeader == "" {
				return authError(c, "missing authorization header")
			}

			const prefix = "Bearer "
			if !strings.HasPrefix(authHeader, prefix) {
				return authError(c, "invalid authorization header format, expected 'Bearer <token>'")
			}
			token := strings.TrimPrefix(authHeader, prefix)

			if cfg.MasterKey != "" &&
				subtle.ConstantTimeCompare([]byte(token), []byte(cfg.MasterKey)) == 1 {
				return next(c)
			}

			if cfg.JWTSecret != "" {
				if err := validateJWT(token, cfg.JWTSecret); err == nil {
					return next(c)
				} else if errors.Is(err, jwt.ErrTokenExpired) {
					return authError(c, "token has expired")
				}
			}

			return authError(c, "invalid credentials")
		}
	}
}

// validateJWT parses and verifies an HS256 token, including expiry.
func validateJWT(token, secret string) error {
	parsed, err := jwt.Parse(token, func(t *jwt.Token) (any, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, jwt.ErrSignatureInvalid
		}
		return []byte(secret), nil
	}, jwt.WithValidMethods([]string{"HS256"}))
	if err != nil {
		return err
	}
	if !parsed.Valid {
		return jwt.ErrTokenUnverifiable
	}
	return nil
}

func authError(c echo.Context, message string) error {
	return c.JSON(http.StatusUnauthorized, map[string]any{
		"error": map[string]any{
			"type":    "authentication_error",
			"message": message,
		},
	})
}
