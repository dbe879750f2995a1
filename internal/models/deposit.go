package models

import (
	"time"
)

// DepositIntent statuses. pending is the only non-terminal state; the
// pending->confirmed transition is the idempotency guard for reconciliation.
const (
	DepositStatusPending   = "pending"
	DepositStatusConfirmed = "confirmed"
	DepositStatusExpired   = "expired"
	DepositStatusFailed    = "failed"
)

// DepositIntent is created when a user requests a PIX charge. Identifier is
// client-facing and unique; GatewayTransactionID stays empty until the
// gateway confirms payment.
type DepositIntent struct {
	ID                   int        `json:"id" db:"id"`
	Identifier           string     `json:"identifier" db:"identifier"`
	UserID               int        `json:"user_id" db:"user_id"`
	Amount               int64      `json:"amount" db:"amount"` // centavos
	GatewayTransactionID string     `json:"gateway_transaction_id" db:"gateway_transaction_id"`
	Status               string     `json:"status" db:"status"`
	CreatedAt            time.Time  `json:"created_at" db:"created_at"`
	ExpiresAt            time.Time  `json:"expires_at" db:"expires_at"`
	ConfirmedAt          *time.Time `json:"confirmed_at" db:"confirmed_at"`
}

// WebhookEvent journals every gateway delivery, raw payload included, so
// reconciliation anomalies can be audited and replayed.
type WebhookEvent struct {
	ID            int       `json:"id" db:"id"`
	EventType     string    `json:"event_type" db:"event_type"`
	Identifier    string    `json:"identifier" db:"identifier"`
	TransactionID string    `json:"transaction_id" db:"transaction_id"`
	Status        string    `json:"status" db:"status"`
	Payload       Metadata  `json:"payload" db:"payload"`
	ReceivedAt    time.Time `json:"received_at" db:"received_at"`
}
