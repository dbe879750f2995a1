package services

import (
	"database/sql"
	"encoding/json"
	"io"
	"log"
	"net/http"

	"github.com/premiobox/backend/internal/audit"
	"github.com/premiobox/backend/internal/models"
)

// RolloverService tracks the wagering requirement armed by the first deposit
// and gates withdrawals on it. Unlocking is monotonic: once rollover_unlocked
// is true it never re-locks.
type RolloverService struct {
	db        *sql.DB
	ledger    *LedgerService
	audit     *audit.Logger
	validator *ValidationHelper
}

func NewRolloverService(db *sql.DB, ledger *LedgerService) *RolloverService {
	return &RolloverService{
		db:        db,
		ledger:    ledger,
		audit:     audit.NewLogger(),
		validator: NewValidationHelper(),
	}
}

// RecordWagerTx advances rollover progress by a case-open debit, inside the
// caller's transaction. Returns whether this wager unlocked withdrawals.
func (s *RolloverService) RecordWagerTx(tx *sql.Tx, userID int, amount int64) (bool, error) {
	if _, err := tx.Exec(`
		UPDATE accounts SET rollover_progress = rollover_progress + $1 WHERE user_id = $2`,
		amount, userID); err != nil {
		return false, err
	}

	result, err := tx.Exec(`
		UPDATE accounts SET rollover_unlocked = TRUE
		WHERE user_id = $1 AND rollover_unlocked = FALSE AND rollover_progress >= rollover_required`,
		userID)
	if err != nil {
		return false, err
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return false, err
	}
	return rows == 1, nil
}

// CanWithdraw reports whether a withdrawal of amount would pass the rollover
// gate and the balance check right now. The withdrawal flow re-checks under a
// row lock; this read is for user-facing status.
func (s *RolloverService) CanWithdraw(userID int, amount int64) error {
	var account models.Account
	err := s.db.QueryRow(`
		SELECT cash_balance, rollover_required, rollover_progress, rollover_unlocked
		FROM accounts WHERE user_id = $1`, userID).Scan(
		&account.CashBalance, &account.RolloverRequired, &account.RolloverProgress, &account.RolloverUnlocked)
	if err == sql.ErrNoRows {
		return ErrAccountNotFound
	}
	if err != nil {
		return err
	}
	return checkWithdrawable(&account, amount)
}

// checkWithdrawable applies the gate to an already-loaded account row.
func checkWithdrawable(account *models.Account, amount int64) error {
	if !account.RolloverUnlocked {
		remaining := account.RolloverRequired - account.RolloverProgress
		if remaining < 0 {
			remaining = 0
		}
		return &RolloverIncompleteError{
			Required:  account.RolloverRequired,
			Progress:  account.RolloverProgress,
			Remaining: remaining,
		}
	}
	if account.CashBalance < amount {
		return ErrInsufficientBalance
	}
	return nil
}

// WagerRequest is the case-open debit payload.
// @Description Case-open wager request
type WagerRequest struct {
	Amount  int64  `json:"amount" validate:"required,gt=0" example:"1500"` // centavos
	CaseRef string `json:"caseRef" validate:"required,max=64" example:"case-silver-01"`
}

// PlaceWager handles the case-open debit
// @Summary Debit a case purchase
// @Description Debits the case price from the balance and advances rollover progress
// @Tags wagers
// @Accept json
// @Produce json
// @Param request body WagerRequest true "Wager"
// @Success 200 {object} map[string]interface{}
// @Failure 400 {object} ErrorResponse
// @Failure 422 {object} ErrorResponse
// @Router /wagers [post]
func (s *RolloverService) PlaceWager(w http.ResponseWriter, r *http.Request) {
	userID, err := UserIDFromRequest(r)
	if err != nil {
		SendErrorResponse(w, "Unauthorized", http.StatusUnauthorized, nil)
		return
	}

	maxBytes := 1_048_576 // 1 MB
	r.Body = http.MaxBytesReader(w, r.Body, int64(maxBytes))

	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()

	var req WagerRequest
	if err := dec.Decode(&req); err != nil {
		SendErrorResponse(w, "Invalid request body", http.StatusBadRequest, nil)
		return
	}

	if err := dec.Decode(&struct{}{}); err != io.EOF {
		SendErrorResponse(w, "Request body must only contain a single JSON object", http.StatusBadRequest, nil)
		return
	}

	if err := s.validator.ValidateStruct(&req); err != nil {
		SendErrorResponse(w, "Validation failed", http.StatusBadRequest, err)
		return
	}

	tx, err := s.db.Begin()
	if err != nil {
		log.Printf("[WAGER] Failed to begin transaction for user %d: %v", userID, err)
		SendErrorResponse(w, "Failed to process wager", http.StatusInternalServerError, nil)
		return
	}
	defer tx.Rollback()

	if err := s.ledger.AppendTx(tx, &models.LedgerEntry{
		UserID:      userID,
		Kind:        models.EntryKindCaseDebit,
		Amount:      -req.Amount,
		ExternalRef: req.CaseRef,
	}); err != nil {
		if err == ErrInsufficientBalance {
			SendErrorCode(w, "Insufficient balance", "INSUFFICIENT_BALANCE", http.StatusUnprocessableEntity)
			return
		}
		log.Printf("[WAGER] Ledger debit failed for user %d: %v", userID, err)
		SendErrorResponse(w, "Failed to process wager", http.StatusInternalServerError, nil)
		return
	}

	unlocked, err := s.RecordWagerTx(tx, userID, req.Amount)
	if err != nil {
		log.Printf("[WAGER] Rollover update failed for user %d: %v", userID, err)
		SendErrorResponse(w, "Failed to process wager", http.StatusInternalServerError, nil)
		return
	}

	if err := tx.Commit(); err != nil {
		log.Printf("[WAGER] Commit failed for user %d: %v", userID, err)
		SendErrorResponse(w, "Failed to process wager", http.StatusInternalServerError, nil)
		return
	}

	s.audit.LogWager(userID, req.Amount, unlocked)

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]any{
		"success":          true,
		"rolloverUnlocked": unlocked,
	})
}
