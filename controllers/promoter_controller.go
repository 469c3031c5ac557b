package controllers

import (
	"context"
	"net/http"
	"strings"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/sirupsen/logrus"
	"go.mongodb.org/mongo-driver/bson/primitive"

	"github.com/HSouheill/barrim_referrals/models"
	"github.com/HSouheill/barrim_referrals/repositories"
	"github.com/HSouheill/barrim_referrals/services"
	"github.com/HSouheill/barrim_referrals/utils"
)

// PromoterController serves the authenticated promoter dashboard.
type PromoterController struct {
	referrals *services.ReferralOrchestrator
	notifier  ReferralNotifier
	log       *logrus.Entry
}

func NewPromoterController(referrals *services.ReferralOrchestrator, notifier ReferralNotifier, logger *logrus.Logger) *PromoterController {
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	return &PromoterController{
		referrals: referrals,
		notifier:  notifier,
		log:       logger.WithField("component", "promoter_controller"),
	}
}

// Apply registers the caller as a pending promoter.
func (pc *PromoterController) Apply(c echo.Context) error {
	ctx, cancel := requestContext(c)
	defer cancel()

	actor, err := actorFrom(c)
	if err != nil {
		return unauthorized(c)
	}
	var req models.PromoterApplicationRequest
	if ok, err := bindAndValidate(c, &req); !ok {
		return err
	}
	req.BusinessName = utils.SanitizeInput(req.BusinessName)
	req.Territory = utils.SanitizeInput(req.Territory)
	req.Specialization = utils.SanitizeInput(req.Specialization)

	promoter, err := pc.referrals.Apply(ctx, actor, req)
	if err != nil {
		return respondError(c, pc.log, err)
	}
	return c.JSON(http.StatusCreated, models.Response{
		Status:  http.StatusCreated,
		Message: "Promoter application submitted",
		Data:    promoter,
	})
}

// GetProfile returns the caller's promoter profile with its tier progress.
func (pc *PromoterController) GetProfile(c echo.Context) error {
	ctx, cancel := requestContext(c)
	defer cancel()

	actor, err := actorFrom(c)
	if err != nil {
		return unauthorized(c)
	}
	promoter, err := pc.referrals.PromoterFor(ctx, actor)
	if err != nil {
		return respondError(c, pc.log, err)
	}
	return c.JSON(http.StatusOK, models.Response{
		Status:  http.StatusOK,
		Message: "Promoter profile retrieved",
		Data: map[string]interface{}{
			"promoter":     promoter,
			"tierProgress": services.Progress(promoter),
		},
	})
}

// CreateInvitation issues a new invitation and emails it to the target.
func (pc *PromoterController) CreateInvitation(c echo.Context) error {
	ctx, cancel := requestContext(c)
	defer cancel()

	actor, err := actorFrom(c)
	if err != nil {
		return unauthorized(c)
	}
	var req models.CreateInvitationRequest
	if ok, err := bindAndValidate(c, &req); !ok {
		return err
	}
	if req.TargetPhone != "" {
		phone, err := utils.SanitizePhone(req.TargetPhone)
		if err != nil {
			return badRequest(c, "Invalid target phone number")
		}
		req.TargetPhone = phone
	}
	req.TargetName = utils.SanitizeInput(req.TargetName)
	req.TargetBusinessName = utils.SanitizeInput(req.TargetBusinessName)
	req.PersonalizedMessage = utils.SanitizeInput(req.PersonalizedMessage)

	promoter, err := pc.referrals.PromoterFor(ctx, actor)
	if err != nil {
		return respondError(c, pc.log, err)
	}
	created, err := pc.referrals.CreateInvitation(ctx, actor, promoter.ID, req)
	if err != nil {
		return respondError(c, pc.log, err)
	}

	if pc.notifier != nil && pc.notifier.InvitationCreated(ctx, promoter, created) {
		sent, err := pc.referrals.MarkInvitationSent(ctx, created.Invitation.ID)
		if err != nil {
			pc.log.WithContext(ctx).WithError(err).WithField("invitation_id", created.Invitation.ID.Hex()).Warn("could not mark invitation sent")
		} else {
			created.Invitation = sent
		}
	}

	return c.JSON(http.StatusCreated, models.Response{
		Status:  http.StatusCreated,
		Message: "Invitation created",
		Data:    created,
	})
}

// ListInvitations pages through the caller's invitations.
func (pc *PromoterController) ListInvitations(c echo.Context) error {
	ctx, cancel := requestContext(c)
	defer cancel()

	actor, err := actorFrom(c)
	if err != nil {
		return unauthorized(c)
	}
	promoter, err := pc.referrals.PromoterFor(ctx, actor)
	if err != nil {
		return respondError(c, pc.log, err)
	}

	page, limit := utils.ParsePagination(c)
	filter := repositories.InvitationFilter{
		PromoterID: promoter.ID,
		Status:     models.InvitationStatus(strings.ToUpper(c.QueryParam("status"))),
		Type:       models.InvitationType(strings.ToUpper(c.QueryParam("type"))),
		Search:     strings.TrimSpace(c.QueryParam("search")),
	}
	items, total, err := pc.referrals.ListInvitations(ctx, actor, filter, repositories.Page{Page: page, Limit: limit})
	if err != nil {
		return respondError(c, pc.log, err)
	}
	if items == nil {
		items = []models.Invitation{}
	}
	return c.JSON(http.StatusOK, models.Response{
		Status:  http.StatusOK,
		Message: "Invitations retrieved",
		Data: map[string]interface{}{
			"invitations": items,
			"pagination":  models.NewPagination(page, limit, total),
		},
	})
}

// GetInvitation returns one of the caller's invitations with its share URL.
func (pc *PromoterController) GetInvitation(c echo.Context) error {
	ctx, cancel := requestContext(c)
	defer cancel()

	inv, err := pc.ownInvitation(ctx, c)
	if err != nil || inv == nil {
		return err
	}
	return c.JSON(http.StatusOK, models.Response{
		Status:  http.StatusOK,
		Message: "Invitation retrieved",
		Data: services.CreatedInvitation{
			Invitation: inv,
			ShareURL:   pc.referrals.ShareURL(inv.Code),
		},
	})
}

// GetInvitationQRCode renders the share URL of an invitation as a PNG data
// URI.
func (pc *PromoterController) GetInvitationQRCode(c echo.Context) error {
	ctx, cancel := requestContext(c)
	defer cancel()

	inv, err := pc.ownInvitation(ctx, c)
	if err != nil || inv == nil {
		return err
	}
	shareURL := pc.referrals.ShareURL(inv.Code)
	qr, err := utils.QRCodeDataURI(shareURL, 0)
	if err != nil {
		return respondError(c, pc.log, err)
	}
	return c.JSON(http.StatusOK, models.Response{
		Status:  http.StatusOK,
		Message: "QR code generated",
		Data: map[string]string{
			"code":     inv.Code,
			"shareUrl": shareURL,
			"qrCode":   qr,
		},
	})
}

// CancelInvitation withdraws one of the caller's open invitations.
func (pc *PromoterController) CancelInvitation(c echo.Context) error {
	ctx, cancel := requestContext(c)
	defer cancel()

	actor, err := actorFrom(c)
	if err != nil {
		return unauthorized(c)
	}
	invitationID, ok := pathID(c, "id")
	if !ok {
		return badRequest(c, "Invalid invitation ID")
	}
	promoter, err := pc.referrals.PromoterFor(ctx, actor)
	if err != nil {
		return respondError(c, pc.log, err)
	}
	inv, err := pc.referrals.CancelInvitation(ctx, actor, promoter.ID, invitationID)
	if err != nil {
		return respondError(c, pc.log, err)
	}
	return c.JSON(http.StatusOK, models.Response{
		Status:  http.StatusOK,
		Message: "Invitation cancelled",
		Data:    inv,
	})
}

// ListCommissions pages through the caller's ledger.
func (pc *PromoterController) ListCommissions(c echo.Context) error {
	ctx, cancel := requestContext(c)
	defer cancel()

	actor, err := actorFrom(c)
	if err != nil {
		return unauthorized(c)
	}
	promoter, err := pc.referrals.PromoterFor(ctx, actor)
	if err != nil {
		return respondError(c, pc.log, err)
	}
	return listCommissions(ctx, c, pc.referrals, pc.log, actor, promoter.ID)
}

// GetAnalytics returns the caller's dashboard figures.
func (pc *PromoterController) GetAnalytics(c echo.Context) error {
	ctx, cancel := requestContext(c)
	defer cancel()

	actor, err := actorFrom(c)
	if err != nil {
		return unauthorized(c)
	}
	promoter, err := pc.referrals.PromoterFor(ctx, actor)
	if err != nil {
		return respondError(c, pc.log, err)
	}
	analytics, err := pc.referrals.Analytics(ctx, actor, promoter.ID)
	if err != nil {
		return respondError(c, pc.log, err)
	}
	return c.JSON(http.StatusOK, models.Response{
		Status:  http.StatusOK,
		Message: "Analytics retrieved",
		Data:    analytics,
	})
}

// ownInvitation resolves :id against the caller's promoter profile. A nil
// invitation with a nil error means the response was already written.
func (pc *PromoterController) ownInvitation(ctx context.Context, c echo.Context) (*models.Invitation, error) {
	actor, err := actorFrom(c)
	if err != nil {
		return nil, unauthorized(c)
	}
	invitationID, ok := pathID(c, "id")
	if !ok {
		return nil, badRequest(c, "Invalid invitation ID")
	}
	promoter, err := pc.referrals.PromoterFor(ctx, actor)
	if err != nil {
		return nil, respondError(c, pc.log, err)
	}
	inv, err := pc.referrals.GetOwnInvitation(ctx, actor, promoter.ID, invitationID)
	if err != nil {
		return nil, respondError(c, pc.log, err)
	}
	return inv, nil
}

// listCommissions is shared by the promoter and admin views of a ledger.
func listCommissions(ctx context.Context, c echo.Context, referrals *services.ReferralOrchestrator, log *logrus.Entry, actor services.Actor, promoterID primitive.ObjectID) error {
	filter := repositories.CommissionFilter{
		PromoterID: promoterID,
		Status:     models.CommissionStatus(strings.ToUpper(c.QueryParam("status"))),
		Type:       models.CommissionType(strings.ToUpper(c.QueryParam("type"))),
	}
	var err error
	if filter.From, err = parseDateParam(c.QueryParam("from")); err != nil {
		return badRequest(c, "Invalid from date, use RFC3339 or YYYY-MM-DD")
	}
	if filter.To, err = parseDateParam(c.QueryParam("to")); err != nil {
		return badRequest(c, "Invalid to date, use RFC3339 or YYYY-MM-DD")
	}

	page, limit := utils.ParsePagination(c)
	items, total, err := referrals.ListCommissions(ctx, actor, filter, repositories.Page{Page: page, Limit: limit})
	if err != nil {
		return respondError(c, log, err)
	}
	if items == nil {
		items = []models.CommissionRecord{}
	}
	return c.JSON(http.StatusOK, models.Response{
		Status:  http.StatusOK,
		Message: "Commissions retrieved",
		Data: map[string]interface{}{
			"commissions": items,
			"pagination":  models.NewPagination(page, limit, total),
		},
	})
}

func parseDateParam(raw string) (*time.Time, error) {
	if raw == "" {
		return nil, nil
	}
	if t, err := time.Parse(time.RFC3339, raw); err == nil {
		return &t, nil
	}
	t, err := time.Parse("2006-01-02", raw)
	if err != nil {
		return nil, err
	}
	return &t, nil
}
