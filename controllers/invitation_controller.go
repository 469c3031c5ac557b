package controllers

import (
	"net/http"
	"strings"

	"github.com/labstack/echo/v4"
	"github.com/sirupsen/logrus"

	"github.com/HSouheill/barrim_referrals/models"
	"github.com/HSouheill/barrim_referrals/services"
	"github.com/HSouheill/barrim_referrals/utils"
)

// InvitationController serves the unauthenticated invitee side of an
// invitation, addressed by its code.
type InvitationController struct {
	referrals *services.ReferralOrchestrator
	notifier  ReferralNotifier
	log       *logrus.Entry
}

func NewInvitationController(referrals *services.ReferralOrchestrator, notifier ReferralNotifier, logger *logrus.Logger) *InvitationController {
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	return &InvitationController{
		referrals: referrals,
		notifier:  notifier,
		log:       logger.WithField("component", "invitation_controller"),
	}
}

func invitationCode(c echo.Context) string {
	return strings.ToUpper(strings.TrimSpace(c.Param("code")))
}

// GetInvitation shows the public view of an invitation and marks it viewed.
func (ic *InvitationController) GetInvitation(c echo.Context) error {
	ctx, cancel := requestContext(c)
	defer cancel()

	view, err := ic.referrals.GetInvitationByCode(ctx, invitationCode(c))
	if err != nil {
		return respondError(c, ic.log, err)
	}
	return c.JSON(http.StatusOK, models.Response{
		Status:  http.StatusOK,
		Message: "Invitation retrieved",
		Data:    view,
	})
}

// AcceptInvitation registers the invited partner.
func (ic *InvitationController) AcceptInvitation(c echo.Context) error {
	ctx, cancel := requestContext(c)
	defer cancel()

	var req models.AcceptInvitationRequest
	if ok, err := bindAndValidate(c, &req); !ok {
		return err
	}
	for _, phone := range []*string{&req.Partner.Phone, &req.User.Phone} {
		if *phone == "" {
			continue
		}
		clean, err := utils.SanitizePhone(*phone)
		if err != nil {
			return badRequest(c, "Invalid phone number")
		}
		*phone = clean
	}
	req.Partner.BusinessName = utils.SanitizeInput(req.Partner.BusinessName)
	req.Partner.Category = utils.SanitizeInput(req.Partner.Category)
	req.User.FullName = utils.SanitizeInput(req.User.FullName)

	res, err := ic.referrals.AcceptInvitation(ctx, invitationCode(c), req)
	if err != nil {
		return respondError(c, ic.log, err)
	}
	if ic.notifier != nil {
		ic.notifier.InvitationAccepted(ctx, res)
	}
	return c.JSON(http.StatusCreated, models.Response{
		Status:  http.StatusCreated,
		Message: "Invitation accepted, partner registered",
		Data:    res,
	})
}

// DeclineInvitation ends the invitation at the invitee's request.
func (ic *InvitationController) DeclineInvitation(c echo.Context) error {
	ctx, cancel := requestContext(c)
	defer cancel()

	inv, err := ic.referrals.DeclineInvitation(ctx, invitationCode(c))
	if err != nil {
		return respondError(c, ic.log, err)
	}
	if ic.notifier != nil {
		ic.notifier.InvitationDeclined(ctx, inv)
	}
	return c.JSON(http.StatusOK, models.Response{
		Status:  http.StatusOK,
		Message: "Invitation declined",
		Data:    map[string]string{"code": inv.Code, "status": string(inv.Status)},
	})
}
