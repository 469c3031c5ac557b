package services

import (
	"github.com/shopspring/decimal"

	"github.com/HSouheill/barrim_referrals/models"
)

// TierTerms are the invitation quota and commission rate granted by a tier.
type TierTerms struct {
	Quota int
	Rate  models.Decimal
}

// TierThreshold is what a promoter needs to reach a tier.
type TierThreshold struct {
	SuccessfulInvitations int
	CommissionsEarned     models.Decimal
}

var tierTerms = map[models.PromoterTier]TierTerms{
	models.TierBronze:   {Quota: 10, Rate: models.MustDecimal("0.02")},
	models.TierSilver:   {Quota: 25, Rate: models.MustDecimal("0.03")},
	models.TierGold:     {Quota: 50, Rate: models.MustDecimal("0.04")},
	models.TierPlatinum: {Quota: models.UnlimitedQuota, Rate: models.MustDecimal("0.05")},
}

var tierThresholds = map[models.PromoterTier]TierThreshold{
	models.TierSilver:   {SuccessfulInvitations: 25, CommissionsEarned: models.MustDecimal("5000")},
	models.TierGold:     {SuccessfulInvitations: 100, CommissionsEarned: models.MustDecimal("15000")},
	models.TierPlatinum: {SuccessfulInvitations: 500, CommissionsEarned: models.MustDecimal("50000")},
}

var tierOrder = []models.PromoterTier{models.TierBronze, models.TierSilver, models.TierGold, models.TierPlatinum}

// TermsFor returns quota and rate for tier. Unknown tiers get BRONZE terms.
func TermsFor(tier models.PromoterTier) TierTerms {
	if t, ok := tierTerms[tier]; ok {
		return t
	}
	return tierTerms[models.TierBronze]
}

// NextTier returns the tier above tier, or false at the top.
func NextTier(tier models.PromoterTier) (models.PromoterTier, bool) {
	for i, t := range tierOrder {
		if t == tier && i+1 < len(tierOrder) {
			return tierOrder[i+1], true
		}
	}
	if _, known := tierTerms[tier]; !known {
		return models.TierSilver, true
	}
	return "", false
}

// ThresholdFor returns the promotion requirements of tier. BRONZE has none.
func ThresholdFor(tier models.PromoterTier) (TierThreshold, bool) {
	t, ok := tierThresholds[tier]
	return t, ok
}

// QualifiesFor reports whether p meets both requirements of tier.
func QualifiesFor(p *models.Promoter, tier models.PromoterTier) bool {
	th, ok := tierThresholds[tier]
	if !ok {
		return false
	}
	return p.SuccessfulInvitations >= th.SuccessfulInvitations &&
		p.TotalCommissionsEarned.GreaterThanOrEqual(th.CommissionsEarned.Decimal)
}

// TierProgress is how far a promoter is from the next tier. Fractions are in
// [0, 1]; NextTier is empty at the top tier.
type TierProgress struct {
	CurrentTier         models.PromoterTier `json:"currentTier"`
	NextTier            models.PromoterTier `json:"nextTier,omitempty"`
	InvitationsProgress models.Decimal      `json:"invitationsProgress"`
	EarningsProgress    models.Decimal      `json:"earningsProgress"`
	InvitationsNeeded   int                 `json:"invitationsNeeded"`
	EarningsNeeded      models.Decimal      `json:"earningsNeeded"`
}

// Progress computes p's progress toward its next tier.
func Progress(p *models.Promoter) TierProgress {
	one := models.NewDecimal(decimal.NewFromInt(1))
	out := TierProgress{
		CurrentTier:         p.Tier,
		InvitationsProgress: one,
		EarningsProgress:    one,
		EarningsNeeded:      models.ZeroDecimal(),
	}
	next, ok := NextTier(p.Tier)
	if !ok {
		return out
	}
	out.NextTier = next
	th := tierThresholds[next]

	out.InvitationsProgress = fraction(decimal.NewFromInt(int64(p.SuccessfulInvitations)), decimal.NewFromInt(int64(th.SuccessfulInvitations)))
	out.EarningsProgress = fraction(p.TotalCommissionsEarned.Decimal, th.CommissionsEarned.Decimal)
	if left := th.SuccessfulInvitations - p.SuccessfulInvitations; left > 0 {
		out.InvitationsNeeded = left
	}
	if left := th.CommissionsEarned.Sub(p.TotalCommissionsEarned.Decimal); left.IsPositive() {
		out.EarningsNeeded = models.NewDecimal(left)
	}
	return out
}

func fraction(have, want decimal.Decimal) models.Decimal {
	if !want.IsPositive() {
		return models.NewDecimal(decimal.NewFromInt(1))
	}
	f := have.DivRound(want, 4)
	if f.GreaterThan(decimal.NewFromInt(1)) {
		f = decimal.NewFromInt(1)
	}
	if f.IsNegative() {
		f = decimal.Zero
	}
	return models.NewDecimal(f)
}
