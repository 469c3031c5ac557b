package controllers

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"golang.org/x/crypto/bcrypt"

	"github.com/HSouheill/barrim_referrals/models"
	"github.com/HSouheill/barrim_referrals/repositories/memory"
	"github.com/HSouheill/barrim_referrals/services"
	"github.com/HSouheill/barrim_referrals/utils"
)

const testUserHeader = "X-Test-User"

type fakeNotifier struct {
	mu       sync.Mutex
	sendOK   bool
	created  []string
	accepted []string
	declined []string
}

func (n *fakeNotifier) InvitationCreated(_ context.Context, _ *models.Promoter, created *services.CreatedInvitation) bool {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.created = append(n.created, created.Invitation.Code)
	return n.sendOK
}

func (n *fakeNotifier) InvitationAccepted(_ context.Context, res *models.AcceptedInvitation) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.accepted = append(n.accepted, res.Invitation.Code)
}

func (n *fakeNotifier) InvitationDeclined(_ context.Context, inv *models.Invitation) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.declined = append(n.declined, inv.Code)
}

type testEnv struct {
	t        *testing.T
	e        *echo.Echo
	store    *memory.Store
	notifier *fakeNotifier
	users    map[string]*models.User
	promoter *models.Promoter

	clockMu sync.Mutex
	now     time.Time
}

func (v *testEnv) clock() time.Time {
	v.clockMu.Lock()
	defer v.clockMu.Unlock()
	return v.now
}

func (v *testEnv) advance(d time.Duration) {
	v.clockMu.Lock()
	defer v.clockMu.Unlock()
	v.now = v.now.Add(d)
}

type envelope struct {
	Status  int             `json:"status"`
	Message string          `json:"message"`
	Data    json.RawMessage `json:"data"`
}

// asUser plays the part of the JWT middleware: the named test user is
// resolved from a header.
func (v *testEnv) asUser(next echo.HandlerFunc) echo.HandlerFunc {
	return func(c echo.Context) error {
		if u, ok := v.users[c.Request().Header.Get(testUserHeader)]; ok {
			c.Set("userId", u.ID.Hex())
			c.Set("userType", u.UserType)
		}
		return next(c)
	}
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	logger := logrus.New()
	logger.SetOutput(io.Discard)

	v := &testEnv{
		t:        t,
		e:        echo.New(),
		store:    memory.New(),
		notifier: &fakeNotifier{sendOK: true},
		users:    make(map[string]*models.User),
		now:      time.Date(2024, 5, 10, 12, 0, 0, 0, time.UTC),
	}
	v.e.Validator = utils.NewCustomValidator()

	referrals := services.NewReferralOrchestrator(services.ReferralDeps{
		Store:  v.store,
		Hasher: services.BcryptHasher{Cost: bcrypt.MinCost},
		Clock:  v.clock,
		Logger: logger,
	}, services.ReferralConfig{BaseURL: "https://barrim.test"})

	pc := NewPromoterController(referrals, v.notifier, logger)
	ic := NewInvitationController(referrals, v.notifier, logger)
	ac := NewAdminController(referrals, logger)

	public := v.e.Group("/api/invitations")
	public.GET("/:code", ic.GetInvitation)
	public.POST("/:code/accept", ic.AcceptInvitation)
	public.POST("/:code/decline", ic.DeclineInvitation)

	promoter := v.e.Group("/api/promoter", v.asUser)
	promoter.POST("/apply", pc.Apply)
	promoter.GET("/profile", pc.GetProfile)
	promoter.POST("/invitations", pc.CreateInvitation)
	promoter.GET("/invitations", pc.ListInvitations)
	promoter.GET("/invitations/:id", pc.GetInvitation)
	promoter.GET("/invitations/:id/qrcode", pc.GetInvitationQRCode)
	promoter.POST("/invitations/:id/cancel", pc.CancelInvitation)
	promoter.GET("/commissions", pc.ListCommissions)
	promoter.GET("/analytics", pc.GetAnalytics)

	admin := v.e.Group("/api/admin", v.asUser)
	admin.POST("/promoters/:id/approve", ac.ApprovePromoter)
	admin.POST("/promoters/:id/deactivate", ac.DeactivatePromoter)
	admin.POST("/promoters/:id/reactivate", ac.ReactivatePromoter)
	admin.GET("/promoters/:id/analytics", ac.GetPromoterAnalytics)
	admin.GET("/promoters/:id/commissions", ac.ListPromoterCommissions)
	admin.POST("/commissions/:id/status", ac.UpdateCommissionStatus)

	v.seedUser("admin", models.UserTypeAdmin)
	owner := v.seedUser("owner", models.UserTypeCustomer)
	v.seedUser("stranger", models.UserTypeCustomer)
	v.seedUser("staff", models.UserTypePartnerStaff)

	terms := services.TermsFor(models.TierBronze)
	v.promoter = &models.Promoter{
		UserID:                 owner.ID,
		BusinessName:           "Acme Referrals",
		Tier:                   models.TierBronze,
		CommissionRate:         terms.Rate,
		InvitationQuota:        terms.Quota,
		TotalCommissionsEarned: models.ZeroDecimal(),
		IsActive:               true,
		CreatedAt:              v.clock(),
	}
	require.NoError(t, v.store.Promoters().Create(context.Background(), v.promoter))
	return v
}

func (v *testEnv) seedUser(name, role string) *models.User {
	u := &models.User{
		Email:     name + "@barrim.test",
		FullName:  "Test " + name,
		UserType:  role,
		IsActive:  true,
		CreatedAt: v.clock(),
	}
	require.NoError(v.t, v.store.Users().Create(context.Background(), u))
	v.users[name] = u
	return u
}

func (v *testEnv) do(method, path, user string, body interface{}) (*httptest.ResponseRecorder, envelope) {
	v.t.Helper()
	var reader io.Reader
	switch b := body.(type) {
	case nil:
	case string:
		reader = strings.NewReader(b)
	default:
		raw, err := json.Marshal(b)
		require.NoError(v.t, err)
		reader = bytes.NewReader(raw)
	}
	req := httptest.NewRequest(method, path, reader)
	req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	if user != "" {
		req.Header.Set(testUserHeader, user)
	}
	rec := httptest.NewRecorder()
	v.e.ServeHTTP(rec, req)

	var env envelope
	require.NoError(v.t, json.Unmarshal(rec.Body.Bytes(), &env), rec.Body.String())
	return rec, env
}

func (v *testEnv) createInvitation(email string) models.Invitation {
	v.t.Helper()
	rec, env := v.do(http.MethodPost, "/api/promoter/invitations", "owner", map[string]string{
		"targetEmail":    email,
		"targetName":     "Store Owner",
		"invitationType": "DIRECT",
	})
	require.Equal(v.t, http.StatusCreated, rec.Code, rec.Body.String())
	var created struct {
		Invitation models.Invitation `json:"invitation"`
		ShareURL   string            `json:"shareUrl"`
	}
	require.NoError(v.t, json.Unmarshal(env.Data, &created))
	assert.Equal(v.t, "https://barrim.test/invite/"+created.Invitation.Code, created.ShareURL)
	return created.Invitation
}

func errorCode(t *testing.T, env envelope) string {
	t.Helper()
	var data map[string]string
	require.NoError(t, json.Unmarshal(env.Data, &data))
	return data["code"]
}

func acceptBody(email string, n int) map[string]interface{} {
	return map[string]interface{}{
		"partner": map[string]string{
			"businessName": fmt.Sprintf("Corner Store %d", n),
			"document":     fmt.Sprintf("DOC-%05d", n),
			"email":        email,
			"phone":        "+961 70 000 000",
		},
		"user": map[string]string{
			"fullName": "Store Admin",
			"email":    fmt.Sprintf("admin%d@store.test", n),
			"password": "s3cret-pass",
		},
		"address": map[string]string{
			"street":  "Main Street",
			"city":    "Beirut",
			"country": "LB",
		},
	}
}

func TestInvitationHappyPath(t *testing.T) {
	v := newTestEnv(t)

	inv := v.createInvitation("shop@x.com")
	assert.Equal(t, models.InvitationSent, inv.Status, "delivered invitations are marked sent")
	assert.Equal(t, []string{inv.Code}, v.notifier.created)

	rec, env := v.do(http.MethodGet, "/api/invitations/"+strings.ToLower(inv.Code), "", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var view models.InvitationPublicView
	require.NoError(t, json.Unmarshal(env.Data, &view))
	assert.Equal(t, models.InvitationViewed, view.Status)
	assert.Equal(t, "Acme Referrals", view.PromoterName)

	rec, env = v.do(http.MethodPost, "/api/invitations/"+inv.Code+"/accept", "", acceptBody("other@x.com", 1))
	assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)
	assert.Equal(t, string(services.CodeEmailMismatch), errorCode(t, env))

	rec, _ = v.do(http.MethodPost, "/api/invitations/"+inv.Code+"/accept", "", acceptBody("shop@x.com", 1))
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	assert.Equal(t, []string{inv.Code}, v.notifier.accepted)
	assert.NotContains(t, rec.Body.String(), "s3cret-pass")

	rec, env = v.do(http.MethodPost, "/api/invitations/"+inv.Code+"/decline", "", nil)
	assert.Equal(t, http.StatusConflict, rec.Code)
	assert.Equal(t, string(services.CodeInvalidState), errorCode(t, env))

	p, err := v.store.Promoters().GetByID(context.Background(), v.promoter.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, p.SuccessfulInvitations)
	assert.Equal(t, "50", p.TotalCommissionsEarned.String())
}

func TestInvalidAcceptBodyWritesNothing(t *testing.T) {
	v := newTestEnv(t)
	inv := v.createInvitation("shop@x.com")

	body := acceptBody("shop@x.com", 1)
	body["user"].(map[string]string)["password"] = ""
	rec, env := v.do(http.MethodPost, "/api/invitations/"+inv.Code+"/accept", "", body)
	assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)
	assert.Equal(t, "Validation failed", env.Message)
	assert.Contains(t, string(env.Data), "Password")

	dec := json.NewDecoder(bytes.NewReader(rec.Body.Bytes()))
	responses := 0
	for dec.More() {
		var raw json.RawMessage
		require.NoError(t, dec.Decode(&raw))
		responses++
	}
	assert.Equal(t, 1, responses, rec.Body.String())

	stored, err := v.store.Invitations().GetByID(context.Background(), inv.ID)
	require.NoError(t, err)
	assert.NotEqual(t, models.InvitationAccepted, stored.Status)
	assert.Nil(t, stored.ResultingPartnerID)
	assert.Zero(t, v.store.Counts().Partners)
	assert.Empty(t, v.notifier.accepted)

	rec, _ = v.do(http.MethodPost, "/api/invitations/"+inv.Code+"/accept", "", "{broken")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Zero(t, v.store.Counts().Partners)
}

func TestCreateInvitationWithoutDeliveryStaysPending(t *testing.T) {
	v := newTestEnv(t)
	v.notifier.sendOK = false

	inv := v.createInvitation("shop@x.com")
	assert.Equal(t, models.InvitationPending, inv.Status)
}

func TestCreateInvitationInputErrors(t *testing.T) {
	v := newTestEnv(t)

	rec, _ := v.do(http.MethodPost, "/api/promoter/invitations", "owner", "{not json")
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec, env := v.do(http.MethodPost, "/api/promoter/invitations", "owner", map[string]string{
		"targetEmail":    "not-an-email",
		"invitationType": "DIRECT",
	})
	assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)
	assert.Contains(t, string(env.Data), "TargetEmail")

	rec, _ = v.do(http.MethodPost, "/api/promoter/invitations", "owner", map[string]string{
		"targetEmail":    "shop@x.com",
		"targetPhone":    "12",
		"invitationType": "DIRECT",
	})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec, _ = v.do(http.MethodPost, "/api/promoter/invitations", "", map[string]string{
		"targetEmail":    "shop@x.com",
		"invitationType": "DIRECT",
	})
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	rec, _ = v.do(http.MethodPost, "/api/promoter/invitations", "stranger", map[string]string{
		"targetEmail":    "shop@x.com",
		"invitationType": "DIRECT",
	})
	assert.Equal(t, http.StatusNotFound, rec.Code, "no promoter profile")
}

func TestDuplicateTargetConflicts(t *testing.T) {
	v := newTestEnv(t)
	v.createInvitation("shop@x.com")

	rec, env := v.do(http.MethodPost, "/api/promoter/invitations", "owner", map[string]string{
		"targetEmail":    "shop@x.com",
		"invitationType": "BULK",
	})
	assert.Equal(t, http.StatusConflict, rec.Code)
	assert.Equal(t, string(services.CodeDuplicateTarget), errorCode(t, env))
}

func TestUnknownCodeIsNotFound(t *testing.T) {
	v := newTestEnv(t)
	rec, env := v.do(http.MethodGet, "/api/invitations/ZZZZZZZZZZZZ", "", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Equal(t, string(services.CodeNotFound), errorCode(t, env))
}

func TestExpiredInvitationIsGone(t *testing.T) {
	v := newTestEnv(t)
	inv := v.createInvitation("shop@x.com")

	v.advance(31 * 24 * time.Hour)

	rec, env := v.do(http.MethodPost, "/api/invitations/"+inv.Code+"/accept", "", acceptBody("shop@x.com", 1))
	assert.Equal(t, http.StatusGone, rec.Code)
	assert.Equal(t, string(services.CodeExpired), errorCode(t, env))

	rec, env = v.do(http.MethodGet, "/api/invitations/"+inv.Code, "", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, string(env.Data), `"status":"EXPIRED"`)
}

func TestCancelAndQRCode(t *testing.T) {
	v := newTestEnv(t)
	inv := v.createInvitation("shop@x.com")
	base := "/api/promoter/invitations/" + inv.ID.Hex()

	rec, env := v.do(http.MethodGet, base+"/qrcode", "owner", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var qr map[string]string
	require.NoError(t, json.Unmarshal(env.Data, &qr))
	assert.True(t, strings.HasPrefix(qr["qrCode"], "data:image/png;base64,"))
	assert.Equal(t, inv.Code, qr["code"])

	rec, _ = v.do(http.MethodGet, base, "stranger", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec, _ = v.do(http.MethodPost, "/api/promoter/invitations/nope/cancel", "owner", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec, _ = v.do(http.MethodPost, base+"/cancel", "owner", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	rec, env = v.do(http.MethodPost, base+"/cancel", "owner", nil)
	assert.Equal(t, http.StatusConflict, rec.Code)
	assert.Equal(t, string(services.CodeInvalidState), errorCode(t, env))
}

func TestListInvitations(t *testing.T) {
	v := newTestEnv(t)
	for i := 0; i < 3; i++ {
		v.createInvitation(fmt.Sprintf("shop%d@x.com", i))
	}

	rec, env := v.do(http.MethodGet, "/api/promoter/invitations?page=2&limit=2&status=sent", "owner", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var page struct {
		Invitations []models.Invitation `json:"invitations"`
		Pagination  models.Pagination   `json:"pagination"`
	}
	require.NoError(t, json.Unmarshal(env.Data, &page))
	assert.Len(t, page.Invitations, 1)
	assert.Equal(t, int64(3), page.Pagination.Total)
	assert.Equal(t, int64(2), page.Pagination.TotalPages)

	rec, _ = v.do(http.MethodGet, "/api/promoter/invitations?status=bogus", "owner", nil)
	assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)
}

func TestApply(t *testing.T) {
	v := newTestEnv(t)

	rec, _ := v.do(http.MethodPost, "/api/promoter/apply", "stranger", map[string]string{"businessName": "  Stranger Co  "})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

	rec, env := v.do(http.MethodPost, "/api/promoter/apply", "stranger", map[string]string{"businessName": "Stranger Co"})
	assert.Equal(t, http.StatusConflict, rec.Code)
	assert.Equal(t, string(services.CodeAlreadyExists), errorCode(t, env))

	rec, _ = v.do(http.MethodPost, "/api/promoter/apply", "staff", map[string]string{"businessName": "Staff Co"})
	assert.Equal(t, http.StatusForbidden, rec.Code)

	rec, _ = v.do(http.MethodPost, "/api/promoter/apply", "admin", map[string]string{})
	assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)
}

func TestProfileAnalyticsAndCommissions(t *testing.T) {
	v := newTestEnv(t)
	inv := v.createInvitation("shop@x.com")
	rec, _ := v.do(http.MethodPost, "/api/invitations/"+inv.Code+"/accept", "", acceptBody("shop@x.com", 1))
	require.Equal(t, http.StatusCreated, rec.Code)

	rec, env := v.do(http.MethodGet, "/api/promoter/profile", "owner", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, string(env.Data), `"tierProgress"`)

	rec, env = v.do(http.MethodGet, "/api/promoter/analytics", "owner", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var analytics services.PromoterAnalytics
	require.NoError(t, json.Unmarshal(env.Data, &analytics))
	assert.Equal(t, "1", analytics.ConversionRate.String())
	assert.Equal(t, 1, analytics.QuotaUsage.Used)

	rec, env = v.do(http.MethodGet, "/api/promoter/commissions?from=2000-01-01", "owner", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, string(env.Data), `"INVITATION_BONUS"`)

	rec, _ = v.do(http.MethodGet, "/api/promoter/commissions?from=yesterday", "owner", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestAdminEndpoints(t *testing.T) {
	v := newTestEnv(t)
	inv := v.createInvitation("shop@x.com")
	rec, _ := v.do(http.MethodPost, "/api/invitations/"+inv.Code+"/accept", "", acceptBody("shop@x.com", 1))
	require.Equal(t, http.StatusCreated, rec.Code)

	promoterPath := "/api/admin/promoters/" + v.promoter.ID.Hex()
	rec, _ = v.do(http.MethodPost, promoterPath+"/deactivate", "stranger", nil)
	assert.Equal(t, http.StatusForbidden, rec.Code)

	rec, env := v.do(http.MethodPost, promoterPath+"/deactivate", "admin", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, string(env.Data), `"isActive":false`)

	rec, _ = v.do(http.MethodPost, "/api/promoter/invitations", "owner", map[string]string{
		"targetEmail":    "next@x.com",
		"invitationType": "DIRECT",
	})
	assert.Equal(t, http.StatusForbidden, rec.Code, "inactive promoters cannot invite")

	rec, _ = v.do(http.MethodPost, promoterPath+"/reactivate", "admin", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	rec, _ = v.do(http.MethodGet, promoterPath+"/analytics", "admin", nil)
	assert.Equal(t, http.StatusOK, rec.Code)

	rec, env = v.do(http.MethodGet, promoterPath+"/commissions", "admin", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var page struct {
		Commissions []models.CommissionRecord `json:"commissions"`
	}
	require.NoError(t, json.Unmarshal(env.Data, &page))
	require.Len(t, page.Commissions, 1)
	commissionPath := "/api/admin/commissions/" + page.Commissions[0].ID.Hex() + "/status"

	rec, _ = v.do(http.MethodPost, commissionPath, "admin", map[string]string{"status": "BOGUS"})
	assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)

	rec, env = v.do(http.MethodPost, commissionPath, "admin", map[string]string{"status": "APPROVED"})
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, string(env.Data), `"status":"APPROVED"`)

	rec, _ = v.do(http.MethodPost, "/api/admin/commissions/"+primitive.NewObjectID().Hex()+"/status", "admin", map[string]string{"status": "PAID"})
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec, _ = v.do(http.MethodPost, "/api/admin/promoters/xyz/approve", "admin", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestHTTPStatusMapping(t *testing.T) {
	tests := []struct {
		err  error
		want int
	}{
		{services.ErrNotFound, http.StatusNotFound},
		{services.ErrInvalidState, http.StatusConflict},
		{services.ErrTransientConflict, http.StatusConflict},
		{services.ErrExpired, http.StatusGone},
		{services.ErrQuotaExceeded, http.StatusUnprocessableEntity},
		{services.ErrIneligible, http.StatusForbidden},
		{fmt.Errorf("wrapped: %w", services.ErrDuplicateTarget), http.StatusConflict},
		{context.DeadlineExceeded, http.StatusGatewayTimeout},
		{errors.New("boom"), http.StatusInternalServerError},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, httpStatus(tt.err), tt.err.Error())
	}
}
