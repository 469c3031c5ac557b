package services

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"golang.org/x/crypto/bcrypt"

	"github.com/HSouheill/barrim_referrals/models"
	"github.com/HSouheill/barrim_referrals/repositories"
)

// PasswordHasher hashes the password of the partner admin created on
// acceptance.
type PasswordHasher interface {
	Hash(password string) (string, error)
}

// BcryptHasher hashes with golang.org/x/crypto/bcrypt.
type BcryptHasher struct {
	Cost int
}

func (h BcryptHasher) Hash(password string) (string, error) {
	cost := h.Cost
	if cost == 0 {
		cost = bcrypt.DefaultCost
	}
	hashed, err := bcrypt.GenerateFromPassword([]byte(password), cost)
	if err != nil {
		return "", err
	}
	return string(hashed), nil
}

// ReferralConfig holds the policy constants of the engine.
type ReferralConfig struct {
	BaseURL         string
	InvitationBonus models.Decimal
	InvitationTTL   time.Duration
}

// ReferralDeps are the collaborators of a ReferralOrchestrator. Nil optional
// fields get defaults.
type ReferralDeps struct {
	Store  repositories.Store
	Codes  CodeGenerator
	Policy CapabilityPolicy
	Hasher PasswordHasher
	Cache  AnalyticsCache
	Clock  Clock
	Logger *logrus.Logger
}

// ReferralOrchestrator composes the tier policy, code generator, invitation
// lifecycle, promoter account and commission ledger into the externally
// visible workflows. Every multi-document change runs in one transaction.
type ReferralOrchestrator struct {
	store     repositories.Store
	lifecycle *InvitationLifecycle
	account   *PromoterAccount
	ledger    *CommissionLedger
	codes     CodeGenerator
	policy    CapabilityPolicy
	hasher    PasswordHasher
	cache     AnalyticsCache
	now       Clock
	cfg       ReferralConfig
	log       *logrus.Entry
}

func NewReferralOrchestrator(deps ReferralDeps, cfg ReferralConfig) *ReferralOrchestrator {
	if deps.Codes == nil {
		deps.Codes = RandomCodeGenerator{}
	}
	if deps.Policy == nil {
		deps.Policy = RolePolicy{}
	}
	if deps.Hasher == nil {
		deps.Hasher = BcryptHasher{}
	}
	if deps.Cache == nil {
		deps.Cache = NopAnalyticsCache{}
	}
	if deps.Clock == nil {
		deps.Clock = systemClock
	}
	if deps.Logger == nil {
		deps.Logger = logrus.StandardLogger()
	}
	if cfg.InvitationBonus.IsZero() {
		cfg.InvitationBonus = DefaultInvitationBonus
	}
	if cfg.InvitationTTL <= 0 {
		cfg.InvitationTTL = DefaultInvitationTTL
	}
	return &ReferralOrchestrator{
		store:     deps.Store,
		lifecycle: NewInvitationLifecycle(deps.Store, deps.Clock, cfg.InvitationTTL),
		account:   NewPromoterAccount(deps.Store, deps.Clock, deps.Logger),
		ledger:    NewCommissionLedger(deps.Store, deps.Clock, deps.Logger),
		codes:     deps.Codes,
		policy:    deps.Policy,
		hasher:    deps.Hasher,
		cache:     deps.Cache,
		now:       deps.Clock,
		cfg:       cfg,
		log:       deps.Logger.WithField("component", "referral_orchestrator"),
	}
}

// Accounts exposes the promoter account component.
func (o *ReferralOrchestrator) Accounts() *PromoterAccount { return o.account }

// Ledger exposes the commission ledger component.
func (o *ReferralOrchestrator) Ledger() *CommissionLedger { return o.ledger }

// ShareURL is the link an invitee opens to see the invitation.
func (o *ReferralOrchestrator) ShareURL(code string) string {
	return strings.TrimRight(o.cfg.BaseURL, "/") + "/invite/" + code
}

// CreatedInvitation is the result of CreateInvitation.
type CreatedInvitation struct {
	Invitation *models.Invitation `json:"invitation"`
	ShareURL   string             `json:"shareUrl"`
}

// Apply registers the actor as a pending promoter.
func (o *ReferralOrchestrator) Apply(ctx context.Context, actor Actor, req models.PromoterApplicationRequest) (*models.Promoter, error) {
	user, err := o.store.Users().GetByID(ctx, actor.UserID)
	if err != nil {
		if errors.Is(err, repositories.ErrNotFound) {
			return nil, wrapError(CodeNotFound, "user not found", err)
		}
		return nil, storageError("load user", err)
	}
	if _, err := o.account.GetByUser(ctx, user.ID); err == nil {
		return nil, ErrAlreadyExists
	} else if !errors.Is(err, ErrNotFound) {
		return nil, err
	}
	// The stored role wins over the token claim.
	if err := authorize(o.policy, CapabilityApply, Actor{UserID: user.ID, Role: user.UserType}, nil); err != nil {
		return nil, err
	}
	return o.account.Apply(ctx, user, req)
}

// PromoterFor returns the promoter profile owned by the actor.
func (o *ReferralOrchestrator) PromoterFor(ctx context.Context, actor Actor) (*models.Promoter, error) {
	return o.account.GetByUser(ctx, actor.UserID)
}

// CreateInvitation reserves quota, rejects duplicate targets, draws a unique
// code and stores the invitation, all in one transaction. Any failure after
// the reservation rolls the quota back.
func (o *ReferralOrchestrator) CreateInvitation(ctx context.Context, actor Actor, promoterID primitive.ObjectID, req models.CreateInvitationRequest) (*CreatedInvitation, error) {
	promoter, err := o.account.Get(ctx, promoterID)
	if err != nil {
		return nil, err
	}
	if err := authorize(o.policy, CapabilityManageInvitations, actor, promoter); err != nil {
		return nil, err
	}

	var created *models.Invitation
	err = inTransaction(ctx, o.store, func(ctx context.Context) error {
		p, err := o.account.ReserveInvitationSlot(ctx, promoterID)
		if err != nil {
			return err
		}
		inv, err := o.lifecycle.Draft(p, req)
		if err != nil {
			return err
		}
		if err := o.checkTarget(ctx, inv.TargetEmail); err != nil {
			return err
		}
		code, err := UniqueCode(ctx, o.codes, o.store.Invitations().CodeExists)
		if err != nil {
			return err
		}
		inv.Code = code
		if err := o.store.Invitations().Create(ctx, inv); err != nil {
			if errors.Is(err, repositories.ErrOpenInvitationExists) {
				return wrapError(CodeDuplicateTarget, "target already has an open invitation", err)
			}
			if errors.Is(err, repositories.ErrDuplicateKey) {
				return wrapError(CodeTransientConflict, "invitation code taken concurrently", err)
			}
			return storageError("create invitation", err)
		}
		created = inv
		return nil
	})
	if err != nil {
		o.log.WithContext(ctx).WithError(err).WithField("promoter_id", promoterID.Hex()).Warn("invitation not created")
		return nil, err
	}

	o.cache.Invalidate(ctx, promoterID)
	o.log.WithContext(ctx).WithFields(logrus.Fields{
		"promoter_id":   promoterID.Hex(),
		"invitation_id": created.ID.Hex(),
		"type":          created.Type,
	}).Info("invitation created")
	return &CreatedInvitation{Invitation: created, ShareURL: o.ShareURL(created.Code)}, nil
}

// checkTarget rejects an email that already has a live invitation from any
// promoter or belongs to a registered partner. Overdue invitations to the
// email are expired first so they no longer hold the open-target index.
// The index also catches a concurrent create the reads below cannot see.
func (o *ReferralOrchestrator) checkTarget(ctx context.Context, email string) error {
	now := o.now()
	if _, err := o.store.Invitations().ExpireOverdueForTarget(ctx, email, now); err != nil {
		return storageError("expire overdue invitations for target", err)
	}
	open, err := o.store.Invitations().HasOpenInvitationFor(ctx, email, now)
	if err != nil {
		return storageError("check open invitations", err)
	}
	if open {
		return newError(CodeDuplicateTarget, "target already has an open invitation")
	}
	registered, err := o.store.Partners().ExistsByEmailOrDocument(ctx, email, "")
	if err != nil {
		return storageError("check partner registration", err)
	}
	if registered {
		return newError(CodeDuplicateTarget, "target is already a registered partner")
	}
	return nil
}

// MarkInvitationSent records delivery of the invitation email.
func (o *ReferralOrchestrator) MarkInvitationSent(ctx context.Context, id primitive.ObjectID) (*models.Invitation, error) {
	var out *models.Invitation
	err := inTransaction(ctx, o.store, func(ctx context.Context) error {
		inv, err := o.lifecycle.reload(ctx, id)
		if err != nil {
			return err
		}
		if inv, err = o.lifecycle.ExpireIfPast(ctx, inv); err != nil {
			return err
		}
		out, err = o.lifecycle.MarkSent(ctx, inv)
		return err
	})
	return out, err
}

// GetInvitationByCode returns the public view of an invitation. Overdue
// invitations are expired first; open ones are marked VIEWED. Terminal
// invitations are returned with their final status.
func (o *ReferralOrchestrator) GetInvitationByCode(ctx context.Context, code string) (*models.InvitationPublicView, error) {
	var (
		inv      *models.Invitation
		promoter *models.Promoter
		changed  bool
	)
	err := inTransaction(ctx, o.store, func(ctx context.Context) error {
		stored, err := o.invitationByCode(ctx, code)
		if err != nil {
			return err
		}
		current, err := o.lifecycle.ExpireIfPast(ctx, stored)
		if err != nil {
			return err
		}
		if !current.Status.IsTerminal() {
			if current, err = o.lifecycle.View(ctx, current); err != nil {
				return err
			}
		}
		changed = current.Status != stored.Status
		inv = current
		promoter, err = o.account.Get(ctx, current.PromoterID)
		return err
	})
	if err != nil {
		return nil, err
	}
	if changed {
		o.cache.Invalidate(ctx, inv.PromoterID)
	}
	return &models.InvitationPublicView{
		Code:                inv.Code,
		Status:              inv.Status,
		InvitationType:      inv.Type,
		TargetEmail:         inv.TargetEmail,
		TargetName:          inv.TargetName,
		TargetBusinessName:  inv.TargetBusinessName,
		PersonalizedMessage: inv.PersonalizedMessage,
		PromoterName:        promoter.BusinessName,
		ExpiresAt:           inv.ExpiresAt,
	}, nil
}

// AcceptInvitation registers the invited partner, its address and admin user,
// accepts the invitation, credits the promoter and appends the invitation
// bonus, all in one transaction. A deadline discovered on the way is
// committed separately so later reads observe EXPIRED.
func (o *ReferralOrchestrator) AcceptInvitation(ctx context.Context, code string, req models.AcceptInvitationRequest) (*models.AcceptedInvitation, error) {
	if _, err := o.settleExpiry(ctx, code); err != nil {
		return nil, err
	}

	var out *models.AcceptedInvitation
	err := inTransaction(ctx, o.store, func(ctx context.Context) error {
		inv, err := o.invitationByCode(ctx, code)
		if err != nil {
			return err
		}
		if err := o.lifecycle.CheckAcceptable(ctx, inv, req); err != nil {
			return err
		}
		now := o.now()

		partner := &models.Partner{
			BusinessName:        strings.TrimSpace(req.Partner.BusinessName),
			Document:            strings.TrimSpace(req.Partner.Document),
			Email:               req.Partner.Email,
			Phone:               strings.TrimSpace(req.Partner.Phone),
			Category:            strings.TrimSpace(req.Partner.Category),
			IsActive:            true,
			ApprovedAt:          &now,
			InvitedByPromoterID: &inv.PromoterID,
			InvitationID:        &inv.ID,
			CreatedAt:           now,
			UpdatedAt:           now,
		}
		if err := o.store.Partners().Create(ctx, partner); err != nil {
			if errors.Is(err, repositories.ErrDuplicateKey) {
				return wrapError(CodeAlreadyRegistered, "partner registered concurrently", err)
			}
			return storageError("create partner", err)
		}

		address := &models.PartnerAddress{
			PartnerID:  partner.ID,
			Street:     strings.TrimSpace(req.Address.Street),
			Number:     strings.TrimSpace(req.Address.Number),
			Complement: strings.TrimSpace(req.Address.Complement),
			District:   strings.TrimSpace(req.Address.District),
			City:       strings.TrimSpace(req.Address.City),
			State:      strings.TrimSpace(req.Address.State),
			ZipCode:    strings.TrimSpace(req.Address.ZipCode),
			Country:    strings.TrimSpace(req.Address.Country),
			CreatedAt:  now,
		}
		if err := o.store.Partners().CreateAddress(ctx, address); err != nil {
			return storageError("create address", err)
		}

		hashed, err := o.hasher.Hash(req.User.Password)
		if err != nil {
			return wrapError(CodeValidation, "cannot hash password", err)
		}
		user := &models.User{
			Email:         req.User.Email,
			Password:      hashed,
			FullName:      strings.TrimSpace(req.User.FullName),
			Phone:         strings.TrimSpace(req.User.Phone),
			UserType:      models.UserTypePartnerAdmin,
			IsActive:      true,
			EmailVerified: true,
			PartnerID:     &partner.ID,
			CreatedAt:     now,
			UpdatedAt:     now,
		}
		if err := o.store.Users().Create(ctx, user); err != nil {
			if errors.Is(err, repositories.ErrDuplicateKey) {
				return wrapError(CodeAlreadyRegistered, "user registered concurrently", err)
			}
			return storageError("create user", err)
		}

		accepted, err := o.lifecycle.Accept(ctx, inv, partner.ID)
		if err != nil {
			return err
		}
		if err := o.account.RecordSuccessfulInvitation(ctx, inv.PromoterID); err != nil {
			return err
		}
		if err := o.ledger.Append(ctx, &models.CommissionRecord{
			PromoterID:  inv.PromoterID,
			PartnerID:   &partner.ID,
			Type:        models.CommissionInvitationBonus,
			ReferenceID: inv.ID,
			Amount:      o.cfg.InvitationBonus,
			Percentage:  inv.CommissionPercentage,
			BaseAmount:  o.cfg.InvitationBonus,
			Description: "Invitation bonus for " + partner.BusinessName,
			Metadata: map[string]interface{}{
				"invitationCode": inv.Code,
				"invitationType": string(inv.Type),
			},
		}); err != nil {
			return err
		}
		promoter, _, err := o.account.EvaluateTierPromotion(ctx, inv.PromoterID)
		if err != nil {
			return err
		}

		out = &models.AcceptedInvitation{
			Partner:    partner,
			User:       user.Sanitized(),
			Address:    address,
			Invitation: accepted,
			Promoter:   promoter,
		}
		return nil
	})
	if err != nil {
		if errors.Is(err, ErrExpired) {
			o.expireQuietly(ctx, code)
		}
		return nil, err
	}

	o.cache.Invalidate(ctx, out.Invitation.PromoterID)
	o.log.WithContext(ctx).WithFields(logrus.Fields{
		"promoter_id":   out.Invitation.PromoterID.Hex(),
		"invitation_id": out.Invitation.ID.Hex(),
		"partner_id":    out.Partner.ID.Hex(),
	}).Info("invitation accepted")
	return out, nil
}

// DeclineInvitation ends an open invitation at the invitee's request.
func (o *ReferralOrchestrator) DeclineInvitation(ctx context.Context, code string) (*models.Invitation, error) {
	if _, err := o.settleExpiry(ctx, code); err != nil {
		return nil, err
	}
	var out *models.Invitation
	err := inTransaction(ctx, o.store, func(ctx context.Context) error {
		inv, err := o.invitationByCode(ctx, code)
		if err != nil {
			return err
		}
		out, err = o.lifecycle.Decline(ctx, inv)
		return err
	})
	if err != nil {
		if errors.Is(err, ErrExpired) {
			o.expireQuietly(ctx, code)
		}
		return nil, err
	}
	o.cache.Invalidate(ctx, out.PromoterID)
	o.log.WithContext(ctx).WithField("invitation_id", out.ID.Hex()).Info("invitation declined")
	return out, nil
}

// CancelInvitation lets a promoter withdraw one of its own open invitations.
// Invitations of other promoters are reported as not found.
func (o *ReferralOrchestrator) CancelInvitation(ctx context.Context, actor Actor, promoterID, invitationID primitive.ObjectID) (*models.Invitation, error) {
	promoter, err := o.account.Get(ctx, promoterID)
	if err != nil {
		return nil, err
	}
	if err := authorize(o.policy, CapabilityManageInvitations, actor, promoter); err != nil {
		return nil, err
	}

	load := func(ctx context.Context) (*models.Invitation, error) {
		inv, err := o.lifecycle.reload(ctx, invitationID)
		if err != nil {
			return nil, err
		}
		if inv.PromoterID != promoterID {
			return nil, newError(CodeNotFound, "invitation not found")
		}
		return inv, nil
	}

	var out *models.Invitation
	err = inTransaction(ctx, o.store, func(ctx context.Context) error {
		inv, err := load(ctx)
		if err != nil {
			return err
		}
		if inv.IsPastDeadline(o.now()) && !inv.Status.IsTerminal() {
			// Already over by time; record that instead of a cancellation.
			out, err = o.lifecycle.ExpireIfPast(ctx, inv)
			return err
		}
		out, err = o.lifecycle.Cancel(ctx, inv)
		return err
	})
	if err != nil {
		return nil, err
	}
	if out.ExpiryReason != models.ExpiredByCancellation {
		return nil, newError(CodeInvalidState, "invitation already expired")
	}
	o.cache.Invalidate(ctx, promoterID)
	o.log.WithContext(ctx).WithFields(logrus.Fields{
		"promoter_id":   promoterID.Hex(),
		"invitation_id": invitationID.Hex(),
	}).Info("invitation cancelled")
	return out, nil
}

// GetOwnInvitation loads one invitation of the promoter, expiring it lazily.
func (o *ReferralOrchestrator) GetOwnInvitation(ctx context.Context, actor Actor, promoterID, invitationID primitive.ObjectID) (*models.Invitation, error) {
	promoter, err := o.account.Get(ctx, promoterID)
	if err != nil {
		return nil, err
	}
	if err := authorize(o.policy, CapabilityViewLedger, actor, promoter); err != nil {
		return nil, err
	}
	var out *models.Invitation
	err = inTransaction(ctx, o.store, func(ctx context.Context) error {
		inv, err := o.lifecycle.reload(ctx, invitationID)
		if err != nil {
			return err
		}
		if inv.PromoterID != promoterID {
			return newError(CodeNotFound, "invitation not found")
		}
		out, err = o.lifecycle.ExpireIfPast(ctx, inv)
		return err
	})
	return out, err
}

// ListInvitations returns one page of the promoter's invitations after
// expiring the overdue ones.
func (o *ReferralOrchestrator) ListInvitations(ctx context.Context, actor Actor, filter repositories.InvitationFilter, page repositories.Page) ([]models.Invitation, int64, error) {
	promoter, err := o.account.Get(ctx, filter.PromoterID)
	if err != nil {
		return nil, 0, err
	}
	if err := authorize(o.policy, CapabilityViewLedger, actor, promoter); err != nil {
		return nil, 0, err
	}
	if filter.Status != "" && !filter.Status.Valid() {
		return nil, 0, newError(CodeValidation, "unknown invitation status "+string(filter.Status))
	}
	if filter.Type != "" && !filter.Type.Valid() {
		return nil, 0, newError(CodeValidation, "unknown invitation type "+string(filter.Type))
	}
	if err := o.expireOverdue(ctx, filter.PromoterID); err != nil {
		return nil, 0, err
	}
	items, total, err := o.store.Invitations().List(ctx, filter, page)
	if err != nil {
		return nil, 0, storageError("list invitations", err)
	}
	return items, total, nil
}

// ListCommissions returns one page of the promoter's ledger.
func (o *ReferralOrchestrator) ListCommissions(ctx context.Context, actor Actor, filter repositories.CommissionFilter, page repositories.Page) ([]models.CommissionRecord, int64, error) {
	promoter, err := o.account.Get(ctx, filter.PromoterID)
	if err != nil {
		return nil, 0, err
	}
	if err := authorize(o.policy, CapabilityViewLedger, actor, promoter); err != nil {
		return nil, 0, err
	}
	return o.ledger.List(ctx, filter, page)
}

// QuotaUsage summarises invitation quota consumption.
type QuotaUsage struct {
	Used      int            `json:"used"`
	Quota     int            `json:"quota"`
	Remaining int            `json:"remaining"`
	Unlimited bool           `json:"unlimited"`
	UsageRate models.Decimal `json:"usageRate"`
}

// PromoterAnalytics is the dashboard payload of a promoter.
type PromoterAnalytics struct {
	PromoterID          primitive.ObjectID                `json:"promoterId"`
	Tier                models.PromoterTier               `json:"tier"`
	CommissionRate      models.Decimal                    `json:"commissionRate"`
	QuotaUsage          QuotaUsage                        `json:"quotaUsage"`
	ConversionRate      models.Decimal                    `json:"conversionRate"`
	TierProgress        TierProgress                      `json:"tierProgress"`
	TotalEarned         models.Decimal                    `json:"totalCommissionsEarned"`
	MonthlyCommissions  []models.MonthlyCommissionTotal   `json:"monthlyCommissions"`
	CommissionsByType   []models.CommissionTypeTotal      `json:"commissionsByType"`
	InvitationsByStatus map[models.InvitationStatus]int64 `json:"invitationsByStatus"`
	GeneratedAt         time.Time                         `json:"generatedAt"`
}

// Analytics builds the dashboard of a promoter, served from cache when fresh.
func (o *ReferralOrchestrator) Analytics(ctx context.Context, actor Actor, promoterID primitive.ObjectID) (*PromoterAnalytics, error) {
	promoter, err := o.account.Get(ctx, promoterID)
	if err != nil {
		return nil, err
	}
	if err := authorize(o.policy, CapabilityViewLedger, actor, promoter); err != nil {
		return nil, err
	}
	if cached, ok := o.cache.Get(ctx, promoterID); ok {
		return cached, nil
	}

	if err := o.expireOverdue(ctx, promoterID); err != nil {
		return nil, err
	}
	byStatus, err := o.store.Invitations().CountByStatus(ctx, promoterID)
	if err != nil {
		return nil, storageError("count invitations", err)
	}
	monthly, err := o.ledger.MonthlyTotals(ctx, promoterID, 12)
	if err != nil {
		return nil, err
	}
	byType, err := o.ledger.TotalsByType(ctx, promoterID)
	if err != nil {
		return nil, err
	}

	out := &PromoterAnalytics{
		PromoterID:          promoterID,
		Tier:                promoter.Tier,
		CommissionRate:      promoter.CommissionRate,
		QuotaUsage:          quotaUsage(promoter),
		ConversionRate:      ratio(promoter.SuccessfulInvitations, promoter.InvitationsUsed),
		TierProgress:        Progress(promoter),
		TotalEarned:         promoter.TotalCommissionsEarned,
		MonthlyCommissions:  monthly,
		CommissionsByType:   byType,
		InvitationsByStatus: byStatus,
		GeneratedAt:         o.now(),
	}
	o.cache.Set(ctx, promoterID, out)
	return out, nil
}

func quotaUsage(p *models.Promoter) QuotaUsage {
	q := QuotaUsage{
		Used:      p.InvitationsUsed,
		Quota:     p.InvitationQuota,
		Remaining: p.RemainingInvitations(),
		Unlimited: p.HasUnlimitedQuota(),
		UsageRate: models.ZeroDecimal(),
	}
	if !q.Unlimited {
		q.UsageRate = ratio(p.InvitationsUsed, p.InvitationQuota)
	}
	return q
}

func ratio(num, den int) models.Decimal {
	if den <= 0 {
		return models.ZeroDecimal()
	}
	return models.NewDecimal(decimal.NewFromInt(int64(num)).DivRound(decimal.NewFromInt(int64(den)), 4))
}

// ApprovePromoter activates a pending promoter.
func (o *ReferralOrchestrator) ApprovePromoter(ctx context.Context, actor Actor, promoterID primitive.ObjectID) (*models.Promoter, error) {
	if err := authorize(o.policy, CapabilityAdminister, actor, nil); err != nil {
		return nil, err
	}
	p, err := o.account.Approve(ctx, promoterID, actor.UserID)
	if err == nil {
		o.cache.Invalidate(ctx, promoterID)
	}
	return p, err
}

// DeactivatePromoter soft-disables a promoter.
func (o *ReferralOrchestrator) DeactivatePromoter(ctx context.Context, actor Actor, promoterID primitive.ObjectID) (*models.Promoter, error) {
	if err := authorize(o.policy, CapabilityAdminister, actor, nil); err != nil {
		return nil, err
	}
	p, err := o.account.Deactivate(ctx, promoterID)
	if err == nil {
		o.cache.Invalidate(ctx, promoterID)
	}
	return p, err
}

// ReactivatePromoter re-enables a deactivated promoter.
func (o *ReferralOrchestrator) ReactivatePromoter(ctx context.Context, actor Actor, promoterID primitive.ObjectID) (*models.Promoter, error) {
	if err := authorize(o.policy, CapabilityAdminister, actor, nil); err != nil {
		return nil, err
	}
	p, err := o.account.Reactivate(ctx, promoterID, actor.UserID)
	if err == nil {
		o.cache.Invalidate(ctx, promoterID)
	}
	return p, err
}

// UpdateCommissionStatus moves a ledger record on behalf of an administrator.
func (o *ReferralOrchestrator) UpdateCommissionStatus(ctx context.Context, actor Actor, id primitive.ObjectID, status models.CommissionStatus) (*models.CommissionRecord, error) {
	if err := authorize(o.policy, CapabilityAdminister, actor, nil); err != nil {
		return nil, err
	}
	rec, err := o.ledger.Transition(ctx, id, status)
	if err == nil {
		o.cache.Invalidate(ctx, rec.PromoterID)
	}
	return rec, err
}

func (o *ReferralOrchestrator) invitationByCode(ctx context.Context, code string) (*models.Invitation, error) {
	if !IsValidCode(code) {
		return nil, newError(CodeNotFound, "invitation not found")
	}
	inv, err := o.store.Invitations().GetByCode(ctx, code)
	if err != nil {
		if errors.Is(err, repositories.ErrNotFound) {
			return nil, wrapError(CodeNotFound, "invitation not found", err)
		}
		return nil, storageError("load invitation", err)
	}
	return inv, nil
}

// settleExpiry commits a pending time-based expiry of the invitation in its
// own transaction and reports Expired when the invitation is over by time.
func (o *ReferralOrchestrator) settleExpiry(ctx context.Context, code string) (*models.Invitation, error) {
	var inv *models.Invitation
	err := inTransaction(ctx, o.store, func(ctx context.Context) error {
		stored, err := o.invitationByCode(ctx, code)
		if err != nil {
			return err
		}
		inv, err = o.lifecycle.ExpireIfPast(ctx, stored)
		return err
	})
	if err != nil {
		return nil, err
	}
	if inv.Status == models.InvitationExpired {
		return nil, ErrExpired
	}
	return inv, nil
}

func (o *ReferralOrchestrator) expireQuietly(ctx context.Context, code string) {
	if _, err := o.settleExpiry(ctx, code); err != nil && !errors.Is(err, ErrExpired) {
		o.log.WithContext(ctx).WithError(err).Warn("could not record invitation expiry")
	}
}

func (o *ReferralOrchestrator) expireOverdue(ctx context.Context, promoterID primitive.ObjectID) error {
	n, err := o.store.Invitations().ExpireOverdue(ctx, promoterID, o.now())
	if err != nil {
		return storageError("expire overdue invitations", err)
	}
	if n > 0 {
		o.log.WithContext(ctx).WithFields(logrus.Fields{
			"promoter_id": promoterID.Hex(),
			"expired":     n,
		}).Debug("expired overdue invitations")
	}
	return nil
}
