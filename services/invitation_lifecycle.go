package services

import (
	"context"
	"errors"
	"strings"
	"time"

	"go.mongodb.org/mongo-driver/bson/primitive"

	"github.com/HSouheill/barrim_referrals/models"
	"github.com/HSouheill/barrim_referrals/repositories"
)

// DefaultInvitationTTL applies when the caller gives no expiration.
const DefaultInvitationTTL = 30 * 24 * time.Hour

// Clock returns the current time. Tests replace it to move time forward.
type Clock func() time.Time

func systemClock() time.Time { return time.Now().UTC() }

// InvitationLifecycle owns the state machine of a single invitation:
//
//	PENDING -> SENT -> VIEWED -> ACCEPTED | DECLINED | EXPIRED
//	PENDING | SENT | VIEWED -> EXPIRED (deadline or cancellation)
//
// Every transition is a conditional update on the stored status. When the
// condition fails another writer won and the invitation is re-read to report
// why. Methods take the ctx of the enclosing transaction.
type InvitationLifecycle struct {
	store repositories.Store
	now   Clock
	ttl   time.Duration
}

func NewInvitationLifecycle(store repositories.Store, now Clock, ttl time.Duration) *InvitationLifecycle {
	if now == nil {
		now = systemClock
	}
	if ttl <= 0 {
		ttl = DefaultInvitationTTL
	}
	return &InvitationLifecycle{store: store, now: now, ttl: ttl}
}

// Draft builds a PENDING invitation for promoter from req. The commission
// percentage is a snapshot of the promoter's current rate.
func (l *InvitationLifecycle) Draft(promoter *models.Promoter, req models.CreateInvitationRequest) (*models.Invitation, error) {
	now := l.now()
	email := strings.TrimSpace(req.TargetEmail)
	if email == "" {
		return nil, newError(CodeValidation, "target email is required")
	}
	typ := req.InvitationType
	if typ == "" {
		typ = models.InvitationDirect
	}
	if !typ.Valid() {
		return nil, newError(CodeValidation, "unknown invitation type "+string(typ))
	}
	expiresAt := now.Add(l.ttl)
	if req.ExpiresAt != nil {
		if !req.ExpiresAt.After(now) {
			return nil, newError(CodeValidation, "expiresAt must be in the future")
		}
		expiresAt = req.ExpiresAt.UTC()
	}
	return &models.Invitation{
		PromoterID:           promoter.ID,
		TargetEmail:          email,
		TargetPhone:          strings.TrimSpace(req.TargetPhone),
		TargetName:           strings.TrimSpace(req.TargetName),
		TargetBusinessName:   strings.TrimSpace(req.TargetBusinessName),
		PersonalizedMessage:  strings.TrimSpace(req.PersonalizedMessage),
		Type:                 typ,
		Status:               models.InvitationPending,
		CommissionPercentage: promoter.CommissionRate,
		ExpiresAt:            expiresAt,
		CreatedAt:            now,
		UpdatedAt:            now,
	}, nil
}

// ExpireIfPast flips a non-terminal invitation whose deadline passed to
// EXPIRED and returns the stored result. Other invitations are returned as is.
func (l *InvitationLifecycle) ExpireIfPast(ctx context.Context, inv *models.Invitation) (*models.Invitation, error) {
	now := l.now()
	if inv.Status.IsTerminal() || !inv.IsPastDeadline(now) {
		return inv, nil
	}
	if _, err := l.store.Invitations().Transition(ctx, inv.ID, models.OpenInvitationStatuses, repositories.InvitationUpdate{
		Status:       models.InvitationExpired,
		ExpiredAt:    &now,
		ExpiryReason: models.ExpiredByTime,
	}); err != nil {
		return nil, storageError("expire invitation", err)
	}
	// Whether this call or a concurrent one won, the stored document is final.
	return l.reload(ctx, inv.ID)
}

// MarkSent records that the invitation was delivered. It is a no-op when the
// invitation already moved past PENDING.
func (l *InvitationLifecycle) MarkSent(ctx context.Context, inv *models.Invitation) (*models.Invitation, error) {
	if inv.Status.IsTerminal() {
		return nil, l.terminalError(inv)
	}
	if inv.Status != models.InvitationPending {
		return inv, nil
	}
	now := l.now()
	ok, err := l.store.Invitations().Transition(ctx, inv.ID, []models.InvitationStatus{models.InvitationPending}, repositories.InvitationUpdate{
		Status: models.InvitationSent,
		SentAt: &now,
	})
	if err != nil {
		return nil, storageError("mark invitation sent", err)
	}
	current, err := l.reload(ctx, inv.ID)
	if err != nil {
		return nil, err
	}
	if !ok && current.Status.IsTerminal() {
		return nil, l.terminalError(current)
	}
	return current, nil
}

// View moves a PENDING or SENT invitation to VIEWED. Viewing a VIEWED
// invitation changes nothing; viewing a terminal one fails.
func (l *InvitationLifecycle) View(ctx context.Context, inv *models.Invitation) (*models.Invitation, error) {
	switch {
	case inv.Status == models.InvitationViewed:
		return inv, nil
	case inv.Status.IsTerminal():
		return nil, l.terminalError(inv)
	}
	now := l.now()
	ok, err := l.store.Invitations().Transition(ctx, inv.ID,
		[]models.InvitationStatus{models.InvitationPending, models.InvitationSent},
		repositories.InvitationUpdate{Status: models.InvitationViewed, ViewedAt: &now})
	if err != nil {
		return nil, storageError("view invitation", err)
	}
	current, err := l.reload(ctx, inv.ID)
	if err != nil {
		return nil, err
	}
	if !ok && current.Status.IsTerminal() {
		return nil, l.terminalError(current)
	}
	return current, nil
}

// CheckAcceptable runs the acceptance preconditions in order: the deadline,
// the case-sensitive target email, then that neither the partner nor its
// admin user is already registered. It writes nothing; a deadline failure
// must be committed by the caller with ExpireIfPast.
func (l *InvitationLifecycle) CheckAcceptable(ctx context.Context, inv *models.Invitation, req models.AcceptInvitationRequest) error {
	if inv.Status.IsTerminal() {
		return l.terminalError(inv)
	}
	if inv.IsPastDeadline(l.now()) {
		return ErrExpired
	}
	if req.Partner.Email != inv.TargetEmail {
		return ErrEmailMismatch
	}
	taken, err := l.store.Partners().ExistsByEmailOrDocument(ctx, req.Partner.Email, req.Partner.Document)
	if err != nil {
		return storageError("check partner registration", err)
	}
	if taken {
		return ErrAlreadyRegistered
	}
	taken, err = l.store.Users().ExistsByEmail(ctx, req.User.Email)
	if err != nil {
		return storageError("check user registration", err)
	}
	if taken {
		return newError(CodeAlreadyRegistered, "user email already registered")
	}
	return nil
}

// Accept moves the invitation to ACCEPTED and links the new partner.
func (l *InvitationLifecycle) Accept(ctx context.Context, inv *models.Invitation, partnerID primitive.ObjectID) (*models.Invitation, error) {
	now := l.now()
	ok, err := l.store.Invitations().Transition(ctx, inv.ID, models.OpenInvitationStatuses, repositories.InvitationUpdate{
		Status:             models.InvitationAccepted,
		AcceptedAt:         &now,
		ResultingPartnerID: &partnerID,
	})
	if err != nil {
		return nil, storageError("accept invitation", err)
	}
	if !ok {
		return nil, l.lostRace(ctx, inv.ID)
	}
	return l.reload(ctx, inv.ID)
}

// Decline moves an open invitation to DECLINED.
func (l *InvitationLifecycle) Decline(ctx context.Context, inv *models.Invitation) (*models.Invitation, error) {
	if inv.Status.IsTerminal() {
		return nil, l.terminalError(inv)
	}
	if inv.IsPastDeadline(l.now()) {
		return nil, ErrExpired
	}
	now := l.now()
	ok, err := l.store.Invitations().Transition(ctx, inv.ID, models.OpenInvitationStatuses, repositories.InvitationUpdate{
		Status:     models.InvitationDeclined,
		DeclinedAt: &now,
	})
	if err != nil {
		return nil, storageError("decline invitation", err)
	}
	if !ok {
		return nil, l.lostRace(ctx, inv.ID)
	}
	return l.reload(ctx, inv.ID)
}

// Cancel ends an open invitation on the operator's request. The invitation
// becomes EXPIRED with the cancellation reason.
func (l *InvitationLifecycle) Cancel(ctx context.Context, inv *models.Invitation) (*models.Invitation, error) {
	if inv.Status.IsTerminal() {
		return nil, newError(CodeInvalidState, "invitation is already "+string(inv.Status))
	}
	now := l.now()
	ok, err := l.store.Invitations().Transition(ctx, inv.ID, models.OpenInvitationStatuses, repositories.InvitationUpdate{
		Status:       models.InvitationExpired,
		ExpiredAt:    &now,
		ExpiryReason: models.ExpiredByCancellation,
	})
	if err != nil {
		return nil, storageError("cancel invitation", err)
	}
	if !ok {
		return nil, newError(CodeInvalidState, "invitation changed concurrently")
	}
	return l.reload(ctx, inv.ID)
}

// terminalError reports why a terminal invitation cannot move. An expired
// invitation reports Expired so invitees see the deadline, not a state name.
func (l *InvitationLifecycle) terminalError(inv *models.Invitation) error {
	if inv.Status == models.InvitationExpired {
		return ErrExpired
	}
	return newError(CodeInvalidState, "invitation is already "+string(inv.Status))
}

// lostRace re-reads an invitation after a conditional update matched nothing.
func (l *InvitationLifecycle) lostRace(ctx context.Context, id primitive.ObjectID) error {
	current, err := l.reload(ctx, id)
	if err != nil {
		return err
	}
	if current.Status.IsTerminal() {
		return l.terminalError(current)
	}
	return newError(CodeInvalidState, "invitation changed concurrently")
}

func (l *InvitationLifecycle) reload(ctx context.Context, id primitive.ObjectID) (*models.Invitation, error) {
	inv, err := l.store.Invitations().GetByID(ctx, id)
	if err != nil {
		if errors.Is(err, repositories.ErrNotFound) {
			return nil, wrapError(CodeNotFound, "invitation not found", err)
		}
		return nil, storageError("load invitation", err)
	}
	return inv, nil
}
