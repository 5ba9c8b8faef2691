package ledger

import "github.com/shopspring/decimal"

// MaxReferralDepth is the number of up-line levels that can earn a bonus
const MaxReferralDepth = 3

// ReferralRates maps referral level (1-based) to its bonus rate.
// A level without an entry pays an explicit zero rate.
type ReferralRates struct {
	byLevel map[int]decimal.Decimal
}

// NewReferralRates takes per-level rates, level 1 first. Entries past MaxReferralDepth are ignored.
func NewReferralRates(levels []decimal.Decimal) ReferralRates {
	r := ReferralRates{byLevel: make(map[int]decimal.Decimal, MaxReferralDepth)}
	for i, rate := range levels {
		if i >= MaxReferralDepth {
			break
		}
		r.byLevel[i+1] = rate
	}
	return r
}

// DefaultReferralRates pays 5%, 3% and 1% on levels 1 to 3
func DefaultReferralRates() ReferralRates {
	return NewReferralRates([]decimal.Decimal{
		decimal.RequireFromString("0.05"),
		decimal.RequireFromString("0.03"),
		decimal.RequireFromString("0.01"),
	})
}

// Rate returns the rate for level, zero when unconfigured
func (r ReferralRates) Rate(level int) decimal.Decimal {
	if rate, ok := r.byLevel[level]; ok {
		return rate
	}
	return decimal.Zero
}
