package services

import (
	"context"
	"errors"
	"time"

	"github.com/sirupsen/logrus"
	"go.mongodb.org/mongo-driver/bson/primitive"

	"github.com/HSouheill/barrim_referrals/models"
	"github.com/HSouheill/barrim_referrals/repositories"
)

// DefaultInvitationBonus is credited for every accepted invitation.
var DefaultInvitationBonus = models.MustDecimal("50.00")

// commissionTransitions lists, per target status, the statuses a record may
// leave to reach it.
var commissionTransitions = map[models.CommissionStatus][]models.CommissionStatus{
	models.CommissionApproved: {models.CommissionPending},
	models.CommissionPaid:     {models.CommissionApproved},
	models.CommissionDisputed: {models.CommissionPending, models.CommissionApproved},
}

// CommissionLedger appends commission records and answers aggregate queries.
// Records are never edited except for their status.
type CommissionLedger struct {
	store repositories.Store
	now   Clock
	log   *logrus.Entry
}

func NewCommissionLedger(store repositories.Store, now Clock, logger *logrus.Logger) *CommissionLedger {
	if now == nil {
		now = systemClock
	}
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	return &CommissionLedger{store: store, now: now, log: logger.WithField("component", "commission_ledger")}
}

// Append inserts rec as PENDING and credits the amount to the promoter's
// running total. It must run inside the caller's transaction. A second record
// for the same (promoter, type, reference) is rejected.
func (l *CommissionLedger) Append(ctx context.Context, rec *models.CommissionRecord) error {
	if !rec.Type.Valid() {
		return newError(CodeValidation, "unknown commission type "+string(rec.Type))
	}
	if rec.Amount.IsNegative() {
		return newError(CodeValidation, "commission amount must not be negative")
	}
	now := l.now()
	rec.Status = models.CommissionPending
	rec.CreatedAt = now
	rec.UpdatedAt = now
	rec.PaidAt = nil

	if err := l.store.Commissions().Create(ctx, rec); err != nil {
		if errors.Is(err, repositories.ErrDuplicateKey) {
			return wrapError(CodeAlreadyExists, "commission already recorded for this event", err)
		}
		return storageError("create commission", err)
	}
	if err := l.store.Promoters().AddCommissionEarned(ctx, rec.PromoterID, rec.Amount); err != nil {
		return storageError("credit promoter", err)
	}
	return nil
}

// Transition moves a record along PENDING -> APPROVED -> PAID, or to
// DISPUTED from any state but PAID.
func (l *CommissionLedger) Transition(ctx context.Context, id primitive.ObjectID, status models.CommissionStatus) (*models.CommissionRecord, error) {
	from, ok := commissionTransitions[status]
	if !ok {
		return nil, newError(CodeValidation, "cannot move a commission to "+string(status))
	}

	var out *models.CommissionRecord
	err := inTransaction(ctx, l.store, func(ctx context.Context) error {
		rec, err := l.get(ctx, id)
		if err != nil {
			return err
		}
		var paidAt *time.Time
		if status == models.CommissionPaid {
			now := l.now()
			paidAt = &now
		}
		moved, err := l.store.Commissions().UpdateStatus(ctx, id, from, status, paidAt)
		if err != nil {
			return storageError("update commission status", err)
		}
		if !moved {
			return newError(CodeInvalidState, "commission is "+string(rec.Status)+", cannot move to "+string(status))
		}
		out, err = l.get(ctx, id)
		return err
	})
	if err != nil {
		return nil, err
	}

	l.log.WithContext(ctx).WithFields(logrus.Fields{
		"commission_id": id.Hex(),
		"promoter_id":   out.PromoterID.Hex(),
		"status":        status,
	}).Info("commission status updated")
	return out, nil
}

// List returns one page of a promoter's records, newest first.
func (l *CommissionLedger) List(ctx context.Context, filter repositories.CommissionFilter, page repositories.Page) ([]models.CommissionRecord, int64, error) {
	if filter.Status != "" && !filter.Status.Valid() {
		return nil, 0, newError(CodeValidation, "unknown commission status "+string(filter.Status))
	}
	if filter.Type != "" && !filter.Type.Valid() {
		return nil, 0, newError(CodeValidation, "unknown commission type "+string(filter.Type))
	}
	records, total, err := l.store.Commissions().List(ctx, filter, page)
	if err != nil {
		return nil, 0, storageError("list commissions", err)
	}
	return records, total, nil
}

// MonthlyTotals sums non-disputed records per calendar month (UTC) for the
// last months months, current month included.
func (l *CommissionLedger) MonthlyTotals(ctx context.Context, promoterID primitive.ObjectID, months int) ([]models.MonthlyCommissionTotal, error) {
	if months <= 0 {
		months = 12
	}
	now := l.now().UTC()
	since := time.Date(now.Year(), now.Month(), 1, 0, 0, 0, 0, time.UTC).AddDate(0, -(months - 1), 0)
	totals, err := l.store.Commissions().MonthlyTotals(ctx, promoterID, since)
	if err != nil {
		return nil, storageError("aggregate monthly commissions", err)
	}
	return totals, nil
}

// TotalsByType sums non-disputed records per commission type.
func (l *CommissionLedger) TotalsByType(ctx context.Context, promoterID primitive.ObjectID) ([]models.CommissionTypeTotal, error) {
	totals, err := l.store.Commissions().TotalsByType(ctx, promoterID)
	if err != nil {
		return nil, storageError("aggregate commissions by type", err)
	}
	return totals, nil
}

func (l *CommissionLedger) get(ctx context.Context, id primitive.ObjectID) (*models.CommissionRecord, error) {
	rec, err := l.store.Commissions().GetByID(ctx, id)
	if err != nil {
		if errors.Is(err, repositories.ErrNotFound) {
			return nil, wrapError(CodeNotFound, "commission not found", err)
		}
		return nil, storageError("load commission", err)
	}
	return rec, nil
}
