package routes

import (
	"github.com/labstack/echo/v4"

	"github.com/HSouheill/barrim_referrals/controllers"
	"github.com/HSouheill/barrim_referrals/middleware"
)

// RegisterInvitationRoutes sets up the public routes an invitee reaches
// through the share link.
func RegisterInvitationRoutes(e *echo.Echo, ic *controllers.InvitationController) {
	invitations := e.Group("/api/invitations")
	invitations.GET("/:code", ic.GetInvitation)
	invitations.POST("/:code/accept", ic.AcceptInvitation)
	invitations.POST("/:code/decline", ic.DeclineInvitation)
}

// RegisterPromoterRoutes sets up the authenticated promoter dashboard.
func RegisterPromoterRoutes(e *echo.Echo, jwtSecret string, pc *controllers.PromoterController) {
	promoter := e.Group("/api/promoter")
	promoter.Use(middleware.JWTMiddleware(jwtSecret))

	promoter.POST("/apply", pc.Apply)
	promoter.GET("/profile", pc.GetProfile)
	promoter.GET("/analytics", pc.GetAnalytics)
	promoter.GET("/commissions", pc.ListCommissions)

	promoter.POST("/invitations", pc.CreateInvitation)
	promoter.GET("/invitations", pc.ListInvitations)
	promoter.GET("/invitations/:id", pc.GetInvitation)
	promoter.GET("/invitations/:id/qrcode", pc.GetInvitationQRCode)
	promoter.POST("/invitations/:id/cancel", pc.CancelInvitation)
}
