package controllers

import (
	"context"
	"net/http"

	"github.com/labstack/echo/v4"
	"github.com/sirupsen/logrus"
	"go.mongodb.org/mongo-driver/bson/primitive"

	"github.com/HSouheill/barrim_referrals/models"
	"github.com/HSouheill/barrim_referrals/services"
)

type AdminController struct {
	referrals *services.ReferralOrchestrator
	log       *logrus.Entry
}

func NewAdminController(referrals *services.ReferralOrchestrator, logger *logrus.Logger) *AdminController {
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	return &AdminController{
		referrals: referrals,
		log:       logger.WithField("component", "admin_controller"),
	}
}

func (ac *AdminController) ApprovePromoter(c echo.Context) error {
	return ac.changePromoter(c, "Promoter approved", ac.referrals.ApprovePromoter)
}

func (ac *AdminController) DeactivatePromoter(c echo.Context) error {
	return ac.changePromoter(c, "Promoter deactivated", ac.referrals.DeactivatePromoter)
}

func (ac *AdminController) ReactivatePromoter(c echo.Context) error {
	return ac.changePromoter(c, "Promoter reactivated", ac.referrals.ReactivatePromoter)
}

type promoterChange func(ctx context.Context, actor services.Actor, id primitive.ObjectID) (*models.Promoter, error)

func (ac *AdminController) changePromoter(c echo.Context, message string, change promoterChange) error {
	ctx, cancel := requestContext(c)
	defer cancel()

	actor, err := actorFrom(c)
	if err != nil {
		return unauthorized(c)
	}
	promoterID, ok := pathID(c, "id")
	if !ok {
		return badRequest(c, "Invalid promoter ID")
	}
	promoter, err := change(ctx, actor, promoterID)
	if err != nil {
		return respondError(c, ac.log, err)
	}
	ac.log.WithContext(ctx).WithFields(logrus.Fields{
		"admin_id":    actor.UserID.Hex(),
		"promoter_id": promoterID.Hex(),
		"active":      promoter.IsActive,
	}).Info(message)
	return c.JSON(http.StatusOK, models.Response{
		Status:  http.StatusOK,
		Message: message,
		Data:    promoter,
	})
}

// GetPromoterAnalytics shows any promoter's dashboard to an administrator.
func (ac *AdminController) GetPromoterAnalytics(c echo.Context) error {
	ctx, cancel := requestContext(c)
	defer cancel()

	actor, err := actorFrom(c)
	if err != nil {
		return unauthorized(c)
	}
	promoterID, ok := pathID(c, "id")
	if !ok {
		return badRequest(c, "Invalid promoter ID")
	}
	analytics, err := ac.referrals.Analytics(ctx, actor, promoterID)
	if err != nil {
		return respondError(c, ac.log, err)
	}
	return c.JSON(http.StatusOK, models.Response{
		Status:  http.StatusOK,
		Message: "Analytics retrieved",
		Data:    analytics,
	})
}

func (ac *AdminController) ListPromoterCommissions(c echo.Context) error {
	ctx, cancel := requestContext(c)
	defer cancel()

	actor, err := actorFrom(c)
	if err != nil {
		return unauthorized(c)
	}
	promoterID, ok := pathID(c, "id")
	if !ok {
		return badRequest(c, "Invalid promoter ID")
	}
	return listCommissions(ctx, c, ac.referrals, ac.log, actor, promoterID)
}

// UpdateCommissionStatus approves, pays or disputes a ledger record.
func (ac *AdminController) UpdateCommissionStatus(c echo.Context) error {
	ctx, cancel := requestContext(c)
	defer cancel()

	actor, err := actorFrom(c)
	if err != nil {
		return unauthorized(c)
	}
	commissionID, ok := pathID(c, "id")
	if !ok {
		return badRequest(c, "Invalid commission ID")
	}
	var req models.UpdateCommissionStatusRequest
	if ok, err := bindAndValidate(c, &req); !ok {
		return err
	}
	rec, err := ac.referrals.UpdateCommissionStatus(ctx, actor, commissionID, req.Status)
	if err != nil {
		return respondError(c, ac.log, err)
	}
	return c.JSON(http.StatusOK, models.Response{
		Status:  http.StatusOK,
		Message: "Commission status updated",
		Data:    rec,
	})
}
