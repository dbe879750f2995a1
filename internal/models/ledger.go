package models

import (
	"time"
)

// Ledger entry kinds. Every balance-affecting event lands here; the account
// balance is derived from these rows, never trusted on its own.
const (
	EntryKindDeposit             = "deposit"
	EntryKindWithdrawal          = "withdrawal"
	EntryKindCaseDebit           = "case_debit"
	EntryKindPrizeCredit         = "prize_credit"
	EntryKindAffiliateCommission = "affiliate_commission"
)

// LedgerEntry is an immutable fact. Amount is signed and in centavos:
// credits positive, debits negative.
type LedgerEntry struct {
	ID          int       `json:"id" db:"id"`
	UserID      int       `json:"user_id" db:"user_id"`
	Kind        string    `json:"kind" db:"kind"`
	Amount      int64     `json:"amount" db:"amount"` // centavos
	ExternalRef string    `json:"external_ref" db:"external_ref"`
	CreatedAt   time.Time `json:"created_at" db:"created_at"`
}

// Account kinds
const (
	AccountKindNormal        = "normal"
	AccountKindDemo          = "demo"
	AccountKindAffiliateDemo = "affiliate_demo"
)

// Account is the single authoritative balance row per user. CashBalance must
// equal the sum of the user's ledger entries at all times; updates to it are
// only legal inside the same database transaction as the ledger write.
type Account struct {
	UserID           int       `json:"user_id" db:"user_id"`
	CashBalance      int64     `json:"cash_balance" db:"cash_balance"` // centavos
	DemoBalance      int64     `json:"demo_balance" db:"demo_balance"`
	AccountKind      string    `json:"account_kind" db:"account_kind"`
	RolloverRequired int64     `json:"rollover_required" db:"rollover_required"`
	RolloverProgress int64     `json:"rollover_progress" db:"rollover_progress"`
	RolloverUnlocked bool      `json:"rollover_unlocked" db:"rollover_unlocked"`
	FirstDepositDone bool      `json:"first_deposit_done" db:"first_deposit_done"`
	Version          int       `json:"version" db:"version"` // for optimistic locking
	UpdatedAt        time.Time `json:"updated_at" db:"updated_at"`
}
