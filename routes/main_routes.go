package routes

import (
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/HSouheill/barrim_referrals/controllers"
	"github.com/HSouheill/barrim_referrals/websocket"
)

// Deps is everything the route tables need.
type Deps struct {
	JWTSecret   string
	Promoters   *controllers.PromoterController
	Invitations *controllers.InvitationController
	Admin       *controllers.AdminController
	Hub         *websocket.Hub
	// Health reports dependency status for /health; nil means always healthy.
	Health func(c echo.Context) map[string]string
}

// SetupRoutes configures all API routes by calling individual route registration functions
func SetupRoutes(e *echo.Echo, deps Deps) {
	e.Match([]string{http.MethodGet, http.MethodHead}, "/", func(c echo.Context) error {
		return c.JSON(http.StatusOK, map[string]string{
			"status":  "OK",
			"message": "Barrim referrals is running",
			"version": "1.0",
		})
	})
	e.Match([]string{http.MethodGet, http.MethodHead}, "/health", func(c echo.Context) error {
		status := map[string]string{"status": "healthy"}
		if deps.Health != nil {
			for k, v := range deps.Health(c) {
				status[k] = v
			}
		}
		return c.JSON(http.StatusOK, status)
	})

	RegisterInvitationRoutes(e, deps.Invitations)
	RegisterPromoterRoutes(e, deps.JWTSecret, deps.Promoters)
	RegisterAdminRoutes(e, deps.JWTSecret, deps.Admin)

	if deps.Hub != nil {
		e.GET("/api/ws", websocket.Handler(deps.Hub, deps.JWTSecret))
	}
}
