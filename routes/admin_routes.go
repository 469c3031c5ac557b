package routes

import (
	"github.com/labstack/echo/v4"

	"github.com/HSouheill/barrim_referrals/controllers"
	"github.com/HSouheill/barrim_referrals/middleware"
	"github.com/HSouheill/barrim_referrals/models"
)

// RegisterAdminRoutes sets up promoter administration and commission payout
// routes.
func RegisterAdminRoutes(e *echo.Echo, jwtSecret string, ac *controllers.AdminController) {
	protected := e.Group("/api/admin")
	protected.Use(middleware.JWTMiddleware(jwtSecret))
	protected.Use(middleware.RequireUserType(models.UserTypeAdmin))

	protected.POST("/promoters/:id/approve", ac.ApprovePromoter)
	protected.POST("/promoters/:id/deactivate", ac.DeactivatePromoter)
	protected.POST("/promoters/:id/reactivate", ac.ReactivatePromoter)
	protected.GET("/promoters/:id/analytics", ac.GetPromoterAnalytics)
	protected.GET("/promoters/:id/commissions", ac.ListPromoterCommissions)

	protected.POST("/commissions/:id/status", ac.UpdateCommissionStatus)
}
