package middleware

import (
	"net/http"

	"github.com/labstack/echo/v4"
	echoMiddleware "github.com/labstack/echo/v4/middleware"
)

// CORS lets the promoter dashboard and the invitation landing pages call the
// API from the browser. Tokens travel in the Authorization header, so
// credentialed (cookie) requests are not allowed.
func CORS(origins []string) echo.MiddlewareFunc {
	return echoMiddleware.CORSWithConfig(echoMiddleware.CORSConfig{
		AllowOrigins: origins,
		AllowMethods: []string{http.MethodGet, http.MethodPost, http.MethodOptions},
		AllowHeaders: []string{
			echo.HeaderOrigin,
			echo.HeaderContentType,
			echo.HeaderAccept,
			echo.HeaderAuthorization,
			echo.HeaderXRequestID,
		},
		// Rate-limited clients read retryAfter from the body; the request id
		// is what support asks for.
		ExposeHeaders: []string{echo.HeaderXRequestID},
		MaxAge:        86400,
	})
}
