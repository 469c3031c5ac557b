package controllers

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/sirupsen/logrus"
	"go.mongodb.org/mongo-driver/bson/primitive"

	"github.com/HSouheill/barrim_referrals/middleware"
	"github.com/HSouheill/barrim_referrals/models"
	"github.com/HSouheill/barrim_referrals/services"
	"github.com/HSouheill/barrim_referrals/utils"
)

const requestTimeout = 10 * time.Second

// ReferralNotifier delivers the side effects of invitation events. All
// methods are best effort.
type ReferralNotifier interface {
	InvitationCreated(ctx context.Context, promoter *models.Promoter, created *services.CreatedInvitation) bool
	InvitationAccepted(ctx context.Context, res *models.AcceptedInvitation)
	InvitationDeclined(ctx context.Context, inv *models.Invitation)
}

var statusByCode = map[services.ErrorCode]int{
	services.CodeNotFound:          http.StatusNotFound,
	services.CodeInvalidState:      http.StatusConflict,
	services.CodeAlreadyExists:     http.StatusConflict,
	services.CodeDuplicateTarget:   http.StatusConflict,
	services.CodeAlreadyRegistered: http.StatusConflict,
	services.CodeTransientConflict: http.StatusConflict,
	services.CodeExpired:           http.StatusGone,
	services.CodeEmailMismatch:     http.StatusUnprocessableEntity,
	services.CodeQuotaExceeded:     http.StatusUnprocessableEntity,
	services.CodeValidation:        http.StatusUnprocessableEntity,
	services.CodeIneligible:        http.StatusForbidden,
	services.CodeForbidden:         http.StatusForbidden,
}

func httpStatus(err error) int {
	var se *services.Error
	if errors.As(err, &se) {
		if status, ok := statusByCode[se.Code]; ok {
			return status
		}
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return http.StatusGatewayTimeout
	}
	return http.StatusInternalServerError
}

// respondError writes err as a models.Response. Service errors carry their
// code in data.code so clients can branch without parsing messages.
func respondError(c echo.Context, log *logrus.Entry, err error) error {
	status := httpStatus(err)
	resp := models.Response{Status: status}

	var se *services.Error
	switch {
	case status >= http.StatusInternalServerError:
		log.WithContext(c.Request().Context()).WithError(err).WithFields(logrus.Fields{
			"path":       c.Path(),
			"request_id": c.Response().Header().Get(echo.HeaderXRequestID),
		}).Error("request failed")
		resp.Message = "Internal server error"
	case errors.As(err, &se):
		resp.Message = se.Message
		resp.Data = map[string]string{"code": string(se.Code)}
	default:
		resp.Message = err.Error()
	}
	return c.JSON(status, resp)
}

func badRequest(c echo.Context, msg string) error {
	return c.JSON(http.StatusBadRequest, models.Response{
		Status:  http.StatusBadRequest,
		Message: msg,
	})
}

// bindAndValidate binds the body into req. Malformed bodies are 400, bodies
// failing the struct rules are 422 with per-field messages. When ok is false
// the response has been written and the handler must return err as is.
func bindAndValidate(c echo.Context, req interface{}) (ok bool, err error) {
	if err := c.Bind(req); err != nil {
		return false, badRequest(c, "Invalid request body")
	}
	if err := c.Validate(req); err != nil {
		return false, c.JSON(http.StatusUnprocessableEntity, models.Response{
			Status:  http.StatusUnprocessableEntity,
			Message: "Validation failed",
			Data:    utils.ValidationMessages(err),
		})
	}
	return true, nil
}

func actorFrom(c echo.Context) (services.Actor, error) {
	userID, err := middleware.ExtractUserID(c)
	if err != nil {
		return services.Actor{}, err
	}
	return services.Actor{UserID: userID, Role: middleware.ExtractUserType(c)}, nil
}

func unauthorized(c echo.Context) error {
	return c.JSON(http.StatusUnauthorized, models.Response{
		Status:  http.StatusUnauthorized,
		Message: "Please provide valid credentials",
	})
}

func pathID(c echo.Context, name string) (primitive.ObjectID, bool) {
	id, err := primitive.ObjectIDFromHex(c.Param(name))
	return id, err == nil
}

func requestContext(c echo.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(c.Request().Context(), requestTimeout)
}
