package models

import (
	"time"
)

// Withdrawal statuses. requested rows have already been debited from the
// ledger; settled rows have been exported to the settlement bank.
const (
	WithdrawalStatusRequested = "requested"
	WithdrawalStatusSettled   = "settled"
	WithdrawalStatusRejected  = "rejected"
)

// PIX key kinds accepted as withdrawal destinations.
const (
	PixKeyCPF    = "cpf"
	PixKeyEmail  = "email"
	PixKeyPhone  = "phone"
	PixKeyRandom = "random"
)

type Withdrawal struct {
	ID         int        `json:"id" db:"id"`
	UserID     int        `json:"user_id" db:"user_id"`
	Amount     int64      `json:"amount" db:"amount"` // centavos
	PixKey     string     `json:"pix_key" db:"pix_key"`
	PixKeyKind string     `json:"pix_key_kind" db:"pix_key_kind"`
	Status     string     `json:"status" db:"status"`
	CreatedAt  time.Time  `json:"created_at" db:"created_at"`
	SettledAt  *time.Time `json:"settled_at" db:"settled_at"`
}
