// middleware/security_headers.go
package middleware

import (
	"net/http"
	"strings"

	"github.com/labstack/echo/v4"

	"github.com/HSouheill/barrim_referrals/models"
	"github.com/HSouheill/barrim_referrals/security"
)

// SecurityConfig shapes the Content-Security-Policy sent with every response.
// AllowedDomains extends connect-src, e.g. for the websocket origin of the
// promoter dashboard.
type SecurityConfig struct {
	AllowedDomains []string
	AllowInlineJS  bool
	// Cache-Control: no-store on everything but the public invitation view,
	// which carries no personal data beyond the promoter's business name.
	NoStore bool
}

func SecurityHeaders() echo.MiddlewareFunc {
	return SecurityHeadersWithConfig(SecurityConfig{NoStore: true})
}

func SecurityHeadersWithConfig(config SecurityConfig) echo.MiddlewareFunc {
	csp := buildCSP(config)
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			h := c.Response().Header()

			h.Set("X-Frame-Options", "DENY")
			h.Set("X-Content-Type-Options", "nosniff")
			h.Set("Strict-Transport-Security", "max-age=31536000; includeSubDomains; preload")
			h.Set("Content-Security-Policy", csp)
			h.Set("Referrer-Policy", "no-referrer")
			h.Set("Permissions-Policy", "geolocation=(), microphone=(), camera=()")
			if config.NoStore && !isPublicInvitationView(c) {
				h.Set("Cache-Control", "no-store")
			}

			h.Del("Server")
			h.Del("X-Powered-By")

			return next(c)
		}
	}
}

func isPublicInvitationView(c echo.Context) bool {
	return c.Request().Method == "GET" && c.Path() == "/api/invitations/:code"
}

func buildCSP(config SecurityConfig) string {
	csp := []string{
		"default-src 'self'",
		"img-src 'self' data:",
		"style-src 'self' 'unsafe-inline'",
		"frame-ancestors 'none'",
	}

	if config.AllowInlineJS {
		csp = append(csp, "script-src 'self' 'unsafe-inline'")
	} else {
		csp = append(csp, "script-src 'self'")
	}

	if len(config.AllowedDomains) > 0 {
		csp = append(csp, "connect-src 'self' "+strings.Join(config.AllowedDomains, " "))
	}

	return strings.Join(csp, "; ")
}

// RequireJSON rejects request bodies that are not JSON with 415. Bodiless
// requests such as a decline pass through.
func RequireJSON() echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			req := c.Request()
			if security.HasBody(req) && !security.ValidateContentType(req.Header.Get(echo.HeaderContentType)) {
				return c.JSON(http.StatusUnsupportedMediaType, models.Response{
					Status:  http.StatusUnsupportedMediaType,
					Message: "Content-Type must be application/json",
				})
			}
			return next(c)
		}
	}
}
