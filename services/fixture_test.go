package services

import (
	"context"
	"fmt"
	"io"
	"sync"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/require"
	"go.mongodb.org/mongo-driver/bson/primitive"

	"github.com/HSouheill/barrim_referrals/models"
	"github.com/HSouheill/barrim_referrals/repositories/memory"
)

type testClock struct {
	mu  sync.Mutex
	now time.Time
}

func newTestClock() *testClock {
	return &testClock{now: time.Date(2024, 5, 10, 12, 0, 0, 0, time.UTC)}
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *testClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

type plainHasher struct{}

func (plainHasher) Hash(password string) (string, error) { return "hashed:" + password, nil }

// fixedCodes hands out codes in order, repeating the last one.
type fixedCodes struct {
	mu    sync.Mutex
	codes []string
	calls int
}

func (f *fixedCodes) Generate() (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	i := f.calls
	if i >= len(f.codes) {
		i = len(f.codes) - 1
	}
	f.calls++
	return f.codes[i], nil
}

type recordingCache struct {
	mu          sync.Mutex
	entries     map[primitive.ObjectID]*PromoterAnalytics
	invalidated []primitive.ObjectID
}

func newRecordingCache() *recordingCache {
	return &recordingCache{entries: make(map[primitive.ObjectID]*PromoterAnalytics)}
}

func (c *recordingCache) Get(_ context.Context, id primitive.ObjectID) (*PromoterAnalytics, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	a, ok := c.entries[id]
	return a, ok
}

func (c *recordingCache) Set(_ context.Context, id primitive.ObjectID, a *PromoterAnalytics) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries[id] = a
}

func (c *recordingCache) Invalidate(_ context.Context, id primitive.ObjectID) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.entries, id)
	c.invalidated = append(c.invalidated, id)
}

type fixture struct {
	ctx      context.Context
	store    *memory.Store
	clock    *testClock
	cache    *recordingCache
	orch     *ReferralOrchestrator
	admin    *models.User
	owner    *models.User
	promoter *models.Promoter
}

func quietLogger() *logrus.Logger {
	l := logrus.New()
	l.SetOutput(io.Discard)
	return l
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	f := &fixture{
		ctx:   context.Background(),
		store: memory.New(),
		clock: newTestClock(),
		cache: newRecordingCache(),
	}
	f.orch = NewReferralOrchestrator(ReferralDeps{
		Store:  f.store,
		Hasher: plainHasher{},
		Cache:  f.cache,
		Clock:  f.clock.Now,
		Logger: quietLogger(),
	}, ReferralConfig{BaseURL: "https://barrim.test/"})

	f.admin = f.seedUser(t, "admin@barrim.test", models.UserTypeAdmin)
	f.owner = f.seedUser(t, "promoter@barrim.test", models.UserTypeCustomer)
	f.promoter = f.seedPromoter(t, f.owner, models.TierBronze, 0, true)
	return f
}

func (f *fixture) seedUser(t *testing.T, email, role string) *models.User {
	t.Helper()
	u := &models.User{Email: email, FullName: "Test " + role, UserType: role, IsActive: true, CreatedAt: f.clock.Now()}
	require.NoError(t, f.store.Users().Create(f.ctx, u))
	return u
}

func (f *fixture) seedPromoter(t *testing.T, owner *models.User, tier models.PromoterTier, used int, active bool) *models.Promoter {
	t.Helper()
	terms := TermsFor(tier)
	p := &models.Promoter{
		UserID:                 owner.ID,
		BusinessName:           "Acme Referrals",
		Tier:                   tier,
		CommissionRate:         terms.Rate,
		InvitationQuota:        terms.Quota,
		InvitationsUsed:        used,
		TotalCommissionsEarned: models.ZeroDecimal(),
		IsActive:               active,
		CreatedAt:              f.clock.Now(),
	}
	require.NoError(t, f.store.Promoters().Create(f.ctx, p))
	return p
}

func (f *fixture) actor() Actor {
	return Actor{UserID: f.owner.ID, Role: f.owner.UserType}
}

func (f *fixture) adminActor() Actor {
	return Actor{UserID: f.admin.ID, Role: f.admin.UserType}
}

func (f *fixture) reloadPromoter(t *testing.T) *models.Promoter {
	t.Helper()
	p, err := f.store.Promoters().GetByID(f.ctx, f.promoter.ID)
	require.NoError(t, err)
	return p
}

func (f *fixture) invite(t *testing.T, email string) *models.Invitation {
	t.Helper()
	created, err := f.orch.CreateInvitation(f.ctx, f.actor(), f.promoter.ID, models.CreateInvitationRequest{
		TargetEmail:    email,
		TargetName:     "Store Owner",
		InvitationType: models.InvitationDirect,
	})
	require.NoError(t, err)
	return created.Invitation
}

func acceptRequest(email string, n int) models.AcceptInvitationRequest {
	return models.AcceptInvitationRequest{
		Partner: models.PartnerData{
			BusinessName: fmt.Sprintf("Corner Store %d", n),
			Document:     fmt.Sprintf("DOC-%05d", n),
			Email:        email,
			Phone:        "+96170000000",
			Category:     "grocery",
		},
		User: models.UserData{
			FullName: "Store Admin",
			Email:    fmt.Sprintf("admin%d@store.test", n),
			Password: "s3cret-pass",
		},
		Address: models.AddressInput{
			Street:  "Main Street",
			Number:  "12",
			City:    "Beirut",
			Country: "LB",
		},
	}
}
