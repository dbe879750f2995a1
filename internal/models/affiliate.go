package models

import (
	"time"
)

// AffiliateLink ties a referred user to the affiliate whose code they signed
// up with. CommissionPaid flips false->true at most once, inside the same
// transaction as the commission ledger entry.
type AffiliateLink struct {
	ID               int        `json:"id" db:"id"`
	AffiliateUserID  int        `json:"affiliate_user_id" db:"affiliate_user_id"`
	ReferredUserID   int        `json:"referred_user_id" db:"referred_user_id"`
	ReferralCodeUsed string     `json:"referral_code_used" db:"referral_code_used"`
	CommissionPaid   bool       `json:"commission_paid" db:"commission_paid"`
	PaidAt           *time.Time `json:"paid_at" db:"paid_at"`
	CreatedAt        time.Time  `json:"created_at" db:"created_at"`
}
