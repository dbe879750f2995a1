package services

import (
	"database/sql"
	"fmt"
	"time"

	"github.com/premiobox/backend/internal/models"
)

// LedgerService owns the append-only ledger and the balance projection on the
// accounts table. The two are only ever written together, inside the caller's
// transaction, so they cannot drift.
type LedgerService struct {
	db *sql.DB
}

func NewLedgerService(db *sql.DB) *LedgerService {
	return &LedgerService{db: db}
}

// AppendTx writes a ledger entry and applies its signed amount to the user's
// cash balance within tx. The account row is locked FOR UPDATE first; a debit
// that would take the balance negative fails the whole transaction.
func (s *LedgerService) AppendTx(tx *sql.Tx, entry *models.LedgerEntry) error {
	account, err := s.lockAccount(tx, entry.UserID)
	if err != nil {
		if err == sql.ErrNoRows {
			return ErrAccountNotFound
		}
		return err
	}

	newBalance := account.CashBalance + entry.Amount
	if newBalance < 0 {
		return ErrInsufficientBalance
	}

	if err := s.createLedgerEntry(tx, entry); err != nil {
		return err
	}

	return s.updateAccountBalance(tx, entry.UserID, newBalance, account.Version)
}

func (s *LedgerService) lockAccount(tx *sql.Tx, userID int) (*models.Account, error) {
	var account models.Account
	err := tx.QueryRow(`
		SELECT user_id, cash_balance, rollover_required, rollover_progress, rollover_unlocked, first_deposit_done, version
		FROM accounts
		WHERE user_id = $1
		FOR UPDATE`, userID).Scan(
		&account.UserID, &account.CashBalance, &account.RolloverRequired,
		&account.RolloverProgress, &account.RolloverUnlocked, &account.FirstDepositDone, &account.Version)
	if err != nil {
		return nil, err
	}
	return &account, nil
}

func (s *LedgerService) createLedgerEntry(tx *sql.Tx, entry *models.LedgerEntry) error {
	_, err := tx.Exec(`
		INSERT INTO ledger_entries (user_id, kind, amount, external_ref, created_at)
		VALUES ($1, $2, $3, $4, $5)`,
		entry.UserID, entry.Kind, entry.Amount, entry.ExternalRef, time.Now())
	return err
}

func (s *LedgerService) updateAccountBalance(tx *sql.Tx, userID int, newBalance int64, version int) error {
	result, err := tx.Exec(`
		UPDATE accounts SET cash_balance = $1, version = version + 1, updated_at = $2
		WHERE user_id = $3 AND version = $4`,
		newBalance, time.Now(), userID, version)
	if err != nil {
		return err
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if rows == 0 {
		return fmt.Errorf("concurrent modification of account %d", userID)
	}
	return nil
}

// CachedBalance reads the projected balance from the accounts row.
func (s *LedgerService) CachedBalance(userID int) (int64, error) {
	var balance int64
	err := s.db.QueryRow(`SELECT cash_balance FROM accounts WHERE user_id = $1`, userID).Scan(&balance)
	if err == sql.ErrNoRows {
		return 0, ErrAccountNotFound
	}
	return balance, err
}

// LedgerBalance derives the authoritative balance by summing the user's
// ledger entries.
func (s *LedgerService) LedgerBalance(userID int) (int64, error) {
	var balance int64
	err := s.db.QueryRow(`SELECT COALESCE(SUM(amount), 0) FROM ledger_entries WHERE user_id = $1`, userID).Scan(&balance)
	return balance, err
}

// VerifyBalance reports whether the projection matches the ledger. Used by
// the reconciliation sweep; a mismatch is an invariant violation.
func (s *LedgerService) VerifyBalance(userID int) (bool, int64, int64, error) {
	cached, err := s.CachedBalance(userID)
	if err != nil {
		return false, 0, 0, err
	}
	derived, err := s.LedgerBalance(userID)
	if err != nil {
		return false, 0, 0, err
	}
	return cached == derived, cached, derived, nil
}

// History returns a user's ledger entries, newest first.
func (s *LedgerService) History(userID, limit, offset int) ([]models.LedgerEntry, error) {
	rows, err := s.db.Query(`
		SELECT id, user_id, kind, amount, external_ref, created_at
		FROM ledger_entries
		WHERE user_id = $1
		ORDER BY created_at DESC, id DESC
		LIMIT $2 OFFSET $3`, userID, limit, offset)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var entries []models.LedgerEntry
	for rows.Next() {
		var e models.LedgerEntry
		if err := rows.Scan(&e.ID, &e.UserID, &e.Kind, &e.Amount, &e.ExternalRef, &e.CreatedAt); err != nil {
			return nil, err
		}
		entries = append(entries, e)
	}
	return entries, rows.Err()
}
