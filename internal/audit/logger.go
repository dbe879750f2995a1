package audit

import (
	"encoding/json"
	"log"
	"time"
)

type Event struct {
	Timestamp   time.Time `json:"timestamp"`
	EventType   string    `json:"event_type"`
	UserID      int       `json:"user_id"`
	ExternalRef string    `json:"external_ref,omitempty"`
	Amount      int64     `json:"amount"`
	Status      string    `json:"status"`
	Details     any       `json:"details,omitempty"`
}

type Logger struct{}

func NewLogger() *Logger {
	return &Logger{}
}

func (a *Logger) LogDepositConfirmed(userID int, identifier, gatewayTxID string, amount int64) {
	a.log(Event{
		Timestamp:   time.Now(),
		EventType:   "DEPOSIT_CONFIRMED",
		UserID:      userID,
		ExternalRef: gatewayTxID,
		Amount:      amount,
		Status:      "SUCCESS",
		Details:     map[string]string{"identifier": identifier},
	})
}

func (a *Logger) LogWager(userID int, amount int64, unlocked bool) {
	a.log(Event{
		Timestamp: time.Now(),
		EventType: "CASE_DEBIT",
		UserID:    userID,
		Amount:    amount,
		Status:    "SUCCESS",
		Details:   map[string]bool{"rollover_unlocked": unlocked},
	})
}

func (a *Logger) LogWithdrawal(userID int, amount int64, pixKeyKind string) {
	a.log(Event{
		Timestamp: time.Now(),
		EventType: "WITHDRAWAL_REQUESTED",
		UserID:    userID,
		Amount:    amount,
		Status:    "SUCCESS",
		Details:   map[string]string{"pix_key_kind": pixKeyKind},
	})
}

func (a *Logger) LogCommission(affiliateUserID, referredUserID int, amount int64) {
	a.log(Event{
		Timestamp: time.Now(),
		EventType: "AFFILIATE_COMMISSION",
		UserID:    affiliateUserID,
		Amount:    amount,
		Status:    "SUCCESS",
		Details:   map[string]int{"referred_user_id": referredUserID},
	})
}

func (a *Logger) LogAnomaly(kind, identifier string, details string) {
	a.log(Event{
		Timestamp:   time.Now(),
		EventType:   kind,
		ExternalRef: identifier,
		Status:      "ANOMALY",
		Details:     map[string]string{"details": details},
	})
}

func (a *Logger) LogError(userID int, externalRef string, err error) {
	a.log(Event{
		Timestamp:   time.Now(),
		EventType:   "ERROR",
		UserID:      userID,
		ExternalRef: externalRef,
		Status:      "FAILED",
		Details:     map[string]string{"error": err.Error()},
	})
}

func (a *Logger) log(event Event) {
	data, _ := json.Marshal(event)
	log.Printf("AUDIT: %s", string(data))
}
