package services

import (
	"context"
	"errors"
	"strings"

	"github.com/sirupsen/logrus"
	"go.mongodb.org/mongo-driver/bson/primitive"

	"github.com/HSouheill/barrim_referrals/models"
	"github.com/HSouheill/barrim_referrals/repositories"
)

// PromoterAccount owns quota consumption, tier state and the aggregate
// counters of a promoter. Counter changes are single conditional updates in
// storage, never read-modify-write in memory.
type PromoterAccount struct {
	store repositories.Store
	now   Clock
	log   *logrus.Entry
}

func NewPromoterAccount(store repositories.Store, now Clock, logger *logrus.Logger) *PromoterAccount {
	if now == nil {
		now = systemClock
	}
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	return &PromoterAccount{store: store, now: now, log: logger.WithField("component", "promoter_account")}
}

// Apply creates an inactive BRONZE promoter for the user. Only partner
// administrators and customers may apply. An existing profile is reported
// before eligibility, so a user whose role changed after applying still gets
// AlreadyExists.
func (a *PromoterAccount) Apply(ctx context.Context, user *models.User, req models.PromoterApplicationRequest) (*models.Promoter, error) {
	var created *models.Promoter
	err := inTransaction(ctx, a.store, func(ctx context.Context) error {
		if _, err := a.store.Promoters().GetByUserID(ctx, user.ID); err == nil {
			return ErrAlreadyExists
		} else if !errors.Is(err, repositories.ErrNotFound) {
			return storageError("load promoter", err)
		}
		if user.UserType != models.UserTypePartnerAdmin && user.UserType != models.UserTypeCustomer {
			return ErrIneligible
		}
		name := strings.TrimSpace(req.BusinessName)
		if name == "" {
			return newError(CodeValidation, "business name is required")
		}

		now := a.now()
		terms := TermsFor(models.TierBronze)
		p := &models.Promoter{
			UserID:                 user.ID,
			BusinessName:           name,
			Territory:              strings.TrimSpace(req.Territory),
			Specialization:         strings.TrimSpace(req.Specialization),
			Tier:                   models.TierBronze,
			CommissionRate:         terms.Rate,
			InvitationQuota:        terms.Quota,
			TotalCommissionsEarned: models.ZeroDecimal(),
			IsActive:               false,
			CreatedAt:              now,
			UpdatedAt:              now,
		}
		if err := a.store.Promoters().Create(ctx, p); err != nil {
			if errors.Is(err, repositories.ErrDuplicateKey) {
				return ErrAlreadyExists
			}
			return storageError("create promoter", err)
		}
		created = p
		return nil
	})
	if err != nil {
		return nil, err
	}

	a.log.WithContext(ctx).WithFields(logrus.Fields{
		"promoter_id": created.ID.Hex(),
		"user_id":     user.ID.Hex(),
	}).Info("promoter application received")
	return created, nil
}

// Get loads a promoter by id.
func (a *PromoterAccount) Get(ctx context.Context, id primitive.ObjectID) (*models.Promoter, error) {
	p, err := a.store.Promoters().GetByID(ctx, id)
	if err != nil {
		if errors.Is(err, repositories.ErrNotFound) {
			return nil, wrapError(CodeNotFound, "promoter not found", err)
		}
		return nil, storageError("load promoter", err)
	}
	return p, nil
}

// GetByUser loads the promoter owned by userID.
func (a *PromoterAccount) GetByUser(ctx context.Context, userID primitive.ObjectID) (*models.Promoter, error) {
	p, err := a.store.Promoters().GetByUserID(ctx, userID)
	if err != nil {
		if errors.Is(err, repositories.ErrNotFound) {
			return nil, wrapError(CodeNotFound, "promoter profile not found", err)
		}
		return nil, storageError("load promoter", err)
	}
	return p, nil
}

// ReserveInvitationSlot consumes one unit of quota. When the conditional
// update matches nothing the promoter is re-read to tell a missing or
// inactive promoter apart from an exhausted quota.
func (a *PromoterAccount) ReserveInvitationSlot(ctx context.Context, id primitive.ObjectID) (*models.Promoter, error) {
	p, err := a.store.Promoters().ReserveInvitationSlot(ctx, id)
	if err == nil {
		return p, nil
	}
	if !errors.Is(err, repositories.ErrNotFound) {
		return nil, storageError("reserve invitation slot", err)
	}
	current, err := a.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if !current.IsActive {
		return nil, newError(CodeInvalidState, "promoter is not active")
	}
	return nil, ErrQuotaExceeded
}

// RecordSuccessfulInvitation bumps the conversion counters by one.
func (a *PromoterAccount) RecordSuccessfulInvitation(ctx context.Context, id primitive.ObjectID) error {
	return storageError("record successful invitation", a.store.Promoters().RecordSuccessfulInvitation(ctx, id))
}

// EvaluateTierPromotion moves the promoter up one tier when it meets the next
// tier's thresholds. The update is conditional on the tier read here, so two
// concurrent evaluations cannot both promote. Issued invitations keep their
// commission snapshot.
func (a *PromoterAccount) EvaluateTierPromotion(ctx context.Context, id primitive.ObjectID) (*models.Promoter, bool, error) {
	p, err := a.Get(ctx, id)
	if err != nil {
		return nil, false, err
	}
	next, ok := NextTier(p.Tier)
	if !ok || !QualifiesFor(p, next) {
		return p, false, nil
	}
	terms := TermsFor(next)
	changed, err := a.store.Promoters().ChangeTier(ctx, id, repositories.TierChange{
		From:  p.Tier,
		To:    next,
		Quota: terms.Quota,
		Rate:  terms.Rate,
	})
	if err != nil {
		return nil, false, storageError("change tier", err)
	}
	if !changed {
		current, err := a.Get(ctx, id)
		return current, false, err
	}

	a.log.WithContext(ctx).WithFields(logrus.Fields{
		"promoter_id": id.Hex(),
		"from":        p.Tier,
		"to":          next,
	}).Info("promoter promoted")

	current, err := a.Get(ctx, id)
	return current, true, err
}

// Approve activates a promoter. Approving an active promoter is a no-op.
func (a *PromoterAccount) Approve(ctx context.Context, id, adminID primitive.ObjectID) (*models.Promoter, error) {
	return a.setActive(ctx, id, true, &adminID)
}

// Deactivate soft-disables a promoter. Its invitations and ledger stay.
func (a *PromoterAccount) Deactivate(ctx context.Context, id primitive.ObjectID) (*models.Promoter, error) {
	return a.setActive(ctx, id, false, nil)
}

// Reactivate re-enables a deactivated promoter.
func (a *PromoterAccount) Reactivate(ctx context.Context, id, adminID primitive.ObjectID) (*models.Promoter, error) {
	p, err := a.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if p.DeactivatedAt == nil && !p.IsActive {
		return nil, newError(CodeInvalidState, "promoter was never approved")
	}
	return a.setActive(ctx, id, true, &adminID)
}

func (a *PromoterAccount) setActive(ctx context.Context, id primitive.ObjectID, active bool, by *primitive.ObjectID) (*models.Promoter, error) {
	var out *models.Promoter
	err := inTransaction(ctx, a.store, func(ctx context.Context) error {
		p, err := a.Get(ctx, id)
		if err != nil {
			return err
		}
		if p.IsActive == active {
			out = p
			return nil
		}
		if err := a.store.Promoters().SetActive(ctx, id, active, by, a.now()); err != nil {
			return storageError("update promoter status", err)
		}
		out, err = a.Get(ctx, id)
		return err
	})
	if err != nil {
		return nil, err
	}
	a.log.WithContext(ctx).WithFields(logrus.Fields{
		"promoter_id": id.Hex(),
		"active":      out.IsActive,
	}).Info("promoter status updated")
	return out, nil
}
