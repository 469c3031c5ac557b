// Package memory is an in-memory implementation of repositories.Store. It is
// safe for concurrent use and is intended for tests and local development.
//
// Transactions are serialised: WithTransaction holds a store-wide lock for the
// whole unit of work and restores a snapshot when fn fails. Calls made
// outside a transaction take the same lock for their own duration, so every
// operation observes a consistent state.
package memory

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"go.mongodb.org/mongo-driver/bson/primitive"

	"github.com/HSouheill/barrim_referrals/models"
	"github.com/HSouheill/barrim_referrals/repositories"
)

type txKey struct{}

// Store holds every collection in maps keyed by document id.
type Store struct {
	txMu sync.Mutex
	mu   sync.RWMutex

	promoters   map[primitive.ObjectID]models.Promoter
	invitations map[primitive.ObjectID]models.Invitation
	commissions map[primitive.ObjectID]models.CommissionRecord
	partners    map[primitive.ObjectID]models.Partner
	addresses   map[primitive.ObjectID]models.PartnerAddress
	users       map[primitive.ObjectID]models.User
}

var _ repositories.Store = (*Store)(nil)

// New creates an empty store.
func New() *Store {
	return &Store{
		promoters:   make(map[primitive.ObjectID]models.Promoter),
		invitations: make(map[primitive.ObjectID]models.Invitation),
		commissions: make(map[primitive.ObjectID]models.CommissionRecord),
		partners:    make(map[primitive.ObjectID]models.Partner),
		addresses:   make(map[primitive.ObjectID]models.PartnerAddress),
		users:       make(map[primitive.ObjectID]models.User),
	}
}

func (s *Store) Promoters() repositories.PromoterRepository     { return promoterRepo{s} }
func (s *Store) Invitations() repositories.InvitationRepository { return invitationRepo{s} }
func (s *Store) Commissions() repositories.CommissionRepository { return commissionRepo{s} }
func (s *Store) Partners() repositories.PartnerRepository       { return partnerRepo{s} }
func (s *Store) Users() repositories.UserRepository             { return userRepo{s} }

func inTx(ctx context.Context) bool {
	v, _ := ctx.Value(txKey{}).(bool)
	return v
}

// WithTransaction runs fn with exclusive access to the store. Nested calls
// join the outer transaction.
func (s *Store) WithTransaction(ctx context.Context, fn func(ctx context.Context) error) error {
	if inTx(ctx) {
		return fn(ctx)
	}

	s.txMu.Lock()
	defer s.txMu.Unlock()

	if err := ctx.Err(); err != nil {
		return err
	}

	snap := s.snapshot()
	if err := fn(context.WithValue(ctx, txKey{}, true)); err != nil {
		s.restore(snap)
		return err
	}
	// A caller that gave up mid-way gets nothing committed.
	if err := ctx.Err(); err != nil {
		s.restore(snap)
		return err
	}
	return nil
}

// lock acquires the data lock, plus the transaction lock when ctx is not
// already inside a transaction.
func (s *Store) lock(ctx context.Context) func() {
	if inTx(ctx) {
		s.mu.Lock()
		return s.mu.Unlock
	}
	s.txMu.Lock()
	s.mu.Lock()
	return func() {
		s.mu.Unlock()
		s.txMu.Unlock()
	}
}

func (s *Store) rlock(ctx context.Context) func() {
	if inTx(ctx) {
		s.mu.RLock()
		return s.mu.RUnlock
	}
	s.txMu.Lock()
	s.mu.RLock()
	return func() {
		s.mu.RUnlock()
		s.txMu.Unlock()
	}
}

type snapshot struct {
	promoters   map[primitive.ObjectID]models.Promoter
	invitations map[primitive.ObjectID]models.Invitation
	commissions map[primitive.ObjectID]models.CommissionRecord
	partners    map[primitive.ObjectID]models.Partner
	addresses   map[primitive.ObjectID]models.PartnerAddress
	users       map[primitive.ObjectID]models.User
}

func (s *Store) snapshot() snapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return snapshot{
		promoters:   cloneMap(s.promoters),
		invitations: cloneMap(s.invitations),
		commissions: cloneMap(s.commissions),
		partners:    cloneMap(s.partners),
		addresses:   cloneMap(s.addresses),
		users:       cloneMap(s.users),
	}
}

func (s *Store) restore(snap snapshot) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.promoters = snap.promoters
	s.invitations = snap.invitations
	s.commissions = snap.commissions
	s.partners = snap.partners
	s.addresses = snap.addresses
	s.users = snap.users
}

func cloneMap[V any](m map[primitive.ObjectID]V) map[primitive.ObjectID]V {
	out := make(map[primitive.ObjectID]V, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}

func timePtr(t time.Time) *time.Time { return &t }

func ensureID(id *primitive.ObjectID) {
	if id.IsZero() {
		*id = primitive.NewObjectID()
	}
}

func paginate[T any](items []T, page repositories.Page) []T {
	start := page.Skip()
	if start >= len(items) {
		return []T{}
	}
	end := len(items)
	if page.Limit > 0 && start+page.Limit < end {
		end = start + page.Limit
	}
	return items[start:end]
}

// Promoters -------------------------------------------------------------------

type promoterRepo struct{ s *Store }

func (r promoterRepo) Create(ctx context.Context, p *models.Promoter) error {
	defer r.s.lock(ctx)()
	for _, existing := range r.s.promoters {
		if existing.UserID == p.UserID {
			return repositories.ErrDuplicateKey
		}
	}
	ensureID(&p.ID)
	r.s.promoters[p.ID] = *p
	return nil
}

func (r promoterRepo) GetByID(ctx context.Context, id primitive.ObjectID) (*models.Promoter, error) {
	defer r.s.rlock(ctx)()
	p, ok := r.s.promoters[id]
	if !ok {
		return nil, repositories.ErrNotFound
	}
	return &p, nil
}

func (r promoterRepo) GetByUserID(ctx context.Context, userID primitive.ObjectID) (*models.Promoter, error) {
	defer r.s.rlock(ctx)()
	for _, p := range r.s.promoters {
		if p.UserID == userID {
			p := p
			return &p, nil
		}
	}
	return nil, repositories.ErrNotFound
}

func (r promoterRepo) ReserveInvitationSlot(ctx context.Context, id primitive.ObjectID) (*models.Promoter, error) {
	defer r.s.lock(ctx)()
	p, ok := r.s.promoters[id]
	if !ok || !p.IsActive {
		return nil, repositories.ErrNotFound
	}
	if !p.HasUnlimitedQuota() && p.InvitationsUsed >= p.InvitationQuota {
		return nil, repositories.ErrNotFound
	}
	p.InvitationsUsed++
	p.UpdatedAt = time.Now().UTC()
	r.s.promoters[id] = p
	return &p, nil
}

func (r promoterRepo) RecordSuccessfulInvitation(ctx context.Context, id primitive.ObjectID) error {
	defer r.s.lock(ctx)()
	p, ok := r.s.promoters[id]
	if !ok {
		return repositories.ErrNotFound
	}
	p.SuccessfulInvitations++
	p.TotalPartnersInvited++
	p.UpdatedAt = time.Now().UTC()
	r.s.promoters[id] = p
	return nil
}

func (r promoterRepo) AddCommissionEarned(ctx context.Context, id primitive.ObjectID, amount models.Decimal) error {
	defer r.s.lock(ctx)()
	p, ok := r.s.promoters[id]
	if !ok {
		return repositories.ErrNotFound
	}
	p.TotalCommissionsEarned = p.TotalCommissionsEarned.Plus(amount)
	p.UpdatedAt = time.Now().UTC()
	r.s.promoters[id] = p
	return nil
}

func (r promoterRepo) ChangeTier(ctx context.Context, id primitive.ObjectID, change repositories.TierChange) (bool, error) {
	defer r.s.lock(ctx)()
	p, ok := r.s.promoters[id]
	if !ok || p.Tier != change.From {
		return false, nil
	}
	p.Tier = change.To
	p.InvitationQuota = change.Quota
	p.CommissionRate = change.Rate
	p.UpdatedAt = time.Now().UTC()
	r.s.promoters[id] = p
	return true, nil
}

func (r promoterRepo) SetActive(ctx context.Context, id primitive.ObjectID, active bool, by *primitive.ObjectID, at time.Time) error {
	defer r.s.lock(ctx)()
	p, ok := r.s.promoters[id]
	if !ok {
		return repositories.ErrNotFound
	}
	p.IsActive = active
	p.UpdatedAt = at
	if active {
		p.ApprovedAt = timePtr(at)
		if by != nil {
			approver := *by
			p.ApprovedBy = &approver
		}
		p.DeactivatedAt = nil
	} else {
		p.DeactivatedAt = timePtr(at)
	}
	r.s.promoters[id] = p
	return nil
}

// Invitations -----------------------------------------------------------------

type invitationRepo struct{ s *Store }

func (r invitationRepo) Create(ctx context.Context, inv *models.Invitation) error {
	defer r.s.lock(ctx)()
	inv.Open = !inv.Status.IsTerminal()
	for _, existing := range r.s.invitations {
		if existing.Code == inv.Code {
			return repositories.ErrDuplicateKey
		}
		if inv.Open && existing.Open && existing.TargetEmail == inv.TargetEmail {
			return repositories.ErrOpenInvitationExists
		}
	}
	ensureID(&inv.ID)
	r.s.invitations[inv.ID] = *inv
	return nil
}

func (r invitationRepo) GetByID(ctx context.Context, id primitive.ObjectID) (*models.Invitation, error) {
	defer r.s.rlock(ctx)()
	inv, ok := r.s.invitations[id]
	if !ok {
		return nil, repositories.ErrNotFound
	}
	return &inv, nil
}

func (r invitationRepo) GetByCode(ctx context.Context, code string) (*models.Invitation, error) {
	defer r.s.rlock(ctx)()
	for _, inv := range r.s.invitations {
		if inv.Code == code {
			inv := inv
			return &inv, nil
		}
	}
	return nil, repositories.ErrNotFound
}

func (r invitationRepo) CodeExists(ctx context.Context, code string) (bool, error) {
	defer r.s.rlock(ctx)()
	for _, inv := range r.s.invitations {
		if inv.Code == code {
			return true, nil
		}
	}
	return false, nil
}

func (r invitationRepo) HasOpenInvitationFor(ctx context.Context, email string, now time.Time) (bool, error) {
	defer r.s.rlock(ctx)()
	for _, inv := range r.s.invitations {
		if inv.TargetEmail == email && !inv.Status.IsTerminal() && inv.ExpiresAt.After(now) {
			return true, nil
		}
	}
	return false, nil
}

func statusIn(status models.InvitationStatus, set []models.InvitationStatus) bool {
	for _, s := range set {
		if s == status {
			return true
		}
	}
	return false
}

func (r invitationRepo) Transition(ctx context.Context, id primitive.ObjectID, from []models.InvitationStatus, u repositories.InvitationUpdate) (bool, error) {
	defer r.s.lock(ctx)()
	inv, ok := r.s.invitations[id]
	if !ok || !statusIn(inv.Status, from) {
		return false, nil
	}
	inv.Status = u.Status
	inv.Open = !u.Status.IsTerminal()
	if u.SentAt != nil {
		inv.SentAt = timePtr(*u.SentAt)
	}
	if u.ViewedAt != nil {
		inv.ViewedAt = timePtr(*u.ViewedAt)
	}
	if u.AcceptedAt != nil {
		inv.AcceptedAt = timePtr(*u.AcceptedAt)
	}
	if u.DeclinedAt != nil {
		inv.DeclinedAt = timePtr(*u.DeclinedAt)
	}
	if u.ExpiredAt != nil {
		inv.ExpiredAt = timePtr(*u.ExpiredAt)
	}
	if u.ExpiryReason != "" {
		inv.ExpiryReason = u.ExpiryReason
	}
	if u.ResultingPartnerID != nil {
		partnerID := *u.ResultingPartnerID
		inv.ResultingPartnerID = &partnerID
	}
	inv.UpdatedAt = time.Now().UTC()
	r.s.invitations[id] = inv
	return true, nil
}

func (r invitationRepo) ExpireOverdue(ctx context.Context, promoterID primitive.ObjectID, now time.Time) (int64, error) {
	return r.expireOverdue(ctx, func(inv models.Invitation) bool { return inv.PromoterID == promoterID }, now)
}

func (r invitationRepo) ExpireOverdueForTarget(ctx context.Context, email string, now time.Time) (int64, error) {
	return r.expireOverdue(ctx, func(inv models.Invitation) bool { return inv.TargetEmail == email }, now)
}

func (r invitationRepo) expireOverdue(ctx context.Context, match func(models.Invitation) bool, now time.Time) (int64, error) {
	defer r.s.lock(ctx)()
	var n int64
	for id, inv := range r.s.invitations {
		if !match(inv) || inv.Status.IsTerminal() || inv.ExpiresAt.After(now) {
			continue
		}
		inv.Status = models.InvitationExpired
		inv.Open = false
		inv.ExpiredAt = timePtr(now)
		inv.ExpiryReason = models.ExpiredByTime
		inv.UpdatedAt = now
		r.s.invitations[id] = inv
		n++
	}
	return n, nil
}

func containsFold(s, substr string) bool {
	return strings.Contains(strings.ToLower(s), strings.ToLower(substr))
}

func (r invitationRepo) List(ctx context.Context, f repositories.InvitationFilter, page repositories.Page) ([]models.Invitation, int64, error) {
	defer r.s.rlock(ctx)()
	var matched []models.Invitation
	for _, inv := range r.s.invitations {
		if inv.PromoterID != f.PromoterID {
			continue
		}
		if f.Status != "" && inv.Status != f.Status {
			continue
		}
		if f.Type != "" && inv.Type != f.Type {
			continue
		}
		if f.Search != "" && !containsFold(inv.TargetEmail, f.Search) &&
			!containsFold(inv.TargetName, f.Search) && !containsFold(inv.TargetBusinessName, f.Search) {
			continue
		}
		matched = append(matched, inv)
	}
	sort.Slice(matched, func(i, j int) bool {
		if matched[i].CreatedAt.Equal(matched[j].CreatedAt) {
			return matched[i].ID.Hex() > matched[j].ID.Hex()
		}
		return matched[i].CreatedAt.After(matched[j].CreatedAt)
	})
	return paginate(matched, page), int64(len(matched)), nil
}

func (r invitationRepo) CountByStatus(ctx context.Context, promoterID primitive.ObjectID) (map[models.InvitationStatus]int64, error) {
	defer r.s.rlock(ctx)()
	counts := make(map[models.InvitationStatus]int64)
	for _, inv := range r.s.invitations {
		if inv.PromoterID == promoterID {
			counts[inv.Status]++
		}
	}
	return counts, nil
}

// Commissions -----------------------------------------------------------------

type commissionRepo struct{ s *Store }

func (r commissionRepo) Create(ctx context.Context, rec *models.CommissionRecord) error {
	defer r.s.lock(ctx)()
	for _, existing := range r.s.commissions {
		if existing.PromoterID == rec.PromoterID && existing.Type == rec.Type && existing.ReferenceID == rec.ReferenceID {
			return repositories.ErrDuplicateKey
		}
	}
	ensureID(&rec.ID)
	stored := *rec
	if rec.Metadata != nil {
		stored.Metadata = make(map[string]interface{}, len(rec.Metadata))
		for k, v := range rec.Metadata {
			stored.Metadata[k] = v
		}
	}
	r.s.commissions[rec.ID] = stored
	return nil
}

func (r commissionRepo) GetByID(ctx context.Context, id primitive.ObjectID) (*models.CommissionRecord, error) {
	defer r.s.rlock(ctx)()
	rec, ok := r.s.commissions[id]
	if !ok {
		return nil, repositories.ErrNotFound
	}
	return &rec, nil
}

func (r commissionRepo) UpdateStatus(ctx context.Context, id primitive.ObjectID, from []models.CommissionStatus, status models.CommissionStatus, paidAt *time.Time) (bool, error) {
	defer r.s.lock(ctx)()
	rec, ok := r.s.commissions[id]
	if !ok {
		return false, nil
	}
	allowed := false
	for _, s := range from {
		if rec.Status == s {
			allowed = true
			break
		}
	}
	if !allowed {
		return false, nil
	}
	rec.Status = status
	if paidAt != nil {
		rec.PaidAt = timePtr(*paidAt)
	}
	rec.UpdatedAt = time.Now().UTC()
	r.s.commissions[id] = rec
	return true, nil
}

func (r commissionRepo) matching(f repositories.CommissionFilter) []models.CommissionRecord {
	var out []models.CommissionRecord
	for _, rec := range r.s.commissions {
		if rec.PromoterID != f.PromoterID {
			continue
		}
		if f.Status != "" && rec.Status != f.Status {
			continue
		}
		if f.Type != "" && rec.Type != f.Type {
			continue
		}
		if f.From != nil && rec.CreatedAt.Before(*f.From) {
			continue
		}
		if f.To != nil && !rec.CreatedAt.Before(*f.To) {
			continue
		}
		out = append(out, rec)
	}
	return out
}

func (r commissionRepo) List(ctx context.Context, f repositories.CommissionFilter, page repositories.Page) ([]models.CommissionRecord, int64, error) {
	defer r.s.rlock(ctx)()
	matched := r.matching(f)
	sort.Slice(matched, func(i, j int) bool {
		if matched[i].CreatedAt.Equal(matched[j].CreatedAt) {
			return matched[i].ID.Hex() > matched[j].ID.Hex()
		}
		return matched[i].CreatedAt.After(matched[j].CreatedAt)
	})
	return paginate(matched, page), int64(len(matched)), nil
}

func (r commissionRepo) CountByReference(ctx context.Context, promoterID primitive.ObjectID, typ models.CommissionType, referenceID primitive.ObjectID) (int64, error) {
	defer r.s.rlock(ctx)()
	var n int64
	for _, rec := range r.s.commissions {
		if rec.PromoterID == promoterID && rec.Type == typ && rec.ReferenceID == referenceID {
			n++
		}
	}
	return n, nil
}

func (r commissionRepo) MonthlyTotals(ctx context.Context, promoterID primitive.ObjectID, since time.Time) ([]models.MonthlyCommissionTotal, error) {
	defer r.s.rlock(ctx)()
	buckets := make(map[string]*models.MonthlyCommissionTotal)
	for _, rec := range r.matching(repositories.CommissionFilter{PromoterID: promoterID, From: &since}) {
		if rec.Status == models.CommissionDisputed {
			continue
		}
		month := rec.CreatedAt.UTC().Format("2006-01")
		b, ok := buckets[month]
		if !ok {
			b = &models.MonthlyCommissionTotal{Month: month, Total: models.ZeroDecimal()}
			buckets[month] = b
		}
		b.Total = b.Total.Plus(rec.Amount)
		b.Count++
	}
	out := make([]models.MonthlyCommissionTotal, 0, len(buckets))
	for _, b := range buckets {
		out = append(out, *b)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Month < out[j].Month })
	return out, nil
}

func (r commissionRepo) TotalsByType(ctx context.Context, promoterID primitive.ObjectID) ([]models.CommissionTypeTotal, error) {
	defer r.s.rlock(ctx)()
	buckets := make(map[models.CommissionType]*models.CommissionTypeTotal)
	for _, rec := range r.matching(repositories.CommissionFilter{PromoterID: promoterID}) {
		if rec.Status == models.CommissionDisputed {
			continue
		}
		b, ok := buckets[rec.Type]
		if !ok {
			b = &models.CommissionTypeTotal{Type: rec.Type, Total: models.ZeroDecimal()}
			buckets[rec.Type] = b
		}
		b.Total = b.Total.Plus(rec.Amount)
		b.Count++
	}
	out := make([]models.CommissionTypeTotal, 0, len(buckets))
	for _, b := range buckets {
		out = append(out, *b)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Type < out[j].Type })
	return out, nil
}

// Partners & users ------------------------------------------------------------

type partnerRepo struct{ s *Store }

func (r partnerRepo) ExistsByEmailOrDocument(ctx context.Context, email, document string) (bool, error) {
	defer r.s.rlock(ctx)()
	for _, p := range r.s.partners {
		if p.Email == email || (document != "" && p.Document == document) {
			return true, nil
		}
	}
	return false, nil
}

func (r partnerRepo) Create(ctx context.Context, p *models.Partner) error {
	defer r.s.lock(ctx)()
	for _, existing := range r.s.partners {
		if existing.Email == p.Email || (p.Document != "" && existing.Document == p.Document) {
			return repositories.ErrDuplicateKey
		}
	}
	ensureID(&p.ID)
	r.s.partners[p.ID] = *p
	return nil
}

func (r partnerRepo) CreateAddress(ctx context.Context, a *models.PartnerAddress) error {
	defer r.s.lock(ctx)()
	ensureID(&a.ID)
	r.s.addresses[a.ID] = *a
	return nil
}

type userRepo struct{ s *Store }

func (r userRepo) GetByID(ctx context.Context, id primitive.ObjectID) (*models.User, error) {
	defer r.s.rlock(ctx)()
	u, ok := r.s.users[id]
	if !ok {
		return nil, repositories.ErrNotFound
	}
	return &u, nil
}

func (r userRepo) ExistsByEmail(ctx context.Context, email string) (bool, error) {
	defer r.s.rlock(ctx)()
	for _, u := range r.s.users {
		if u.Email == email {
			return true, nil
		}
	}
	return false, nil
}

func (r userRepo) Create(ctx context.Context, u *models.User) error {
	defer r.s.lock(ctx)()
	for _, existing := range r.s.users {
		if existing.Email == u.Email {
			return repositories.ErrDuplicateKey
		}
	}
	ensureID(&u.ID)
	r.s.users[u.ID] = *u
	return nil
}

// Counts exposes collection sizes for assertions in tests.
type Counts struct {
	Promoters, Invitations, Commissions, Partners, Addresses, Users int
}

func (s *Store) Counts() Counts {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return Counts{
		Promoters:   len(s.promoters),
		Invitations: len(s.invitations),
		Commissions: len(s.commissions),
		Partners:    len(s.partners),
		Addresses:   len(s.addresses),
		Users:       len(s.users),
	}
}
