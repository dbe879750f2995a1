package services

import (
	"database/sql"
	"encoding/json"
	"errors"
	"io"
	"log"
	"net/http"
	"time"

	"github.com/premiobox/backend/internal/audit"
	"github.com/premiobox/backend/internal/config"
	"github.com/premiobox/backend/internal/models"
)

// WithdrawalService debits the ledger and records the payout request in one
// transaction, behind the rollover gate.
type WithdrawalService struct {
	db        *sql.DB
	ledger    *LedgerService
	rules     *config.RulesConfig
	audit     *audit.Logger
	validator *ValidationHelper
}

func NewWithdrawalService(db *sql.DB, ledger *LedgerService, rules *config.RulesConfig) *WithdrawalService {
	return &WithdrawalService{
		db:        db,
		ledger:    ledger,
		rules:     rules,
		audit:     audit.NewLogger(),
		validator: NewValidationHelper(),
	}
}

// WithdrawalRequest is the payout request payload. Amount in centavos.
// @Description Withdrawal request structure
type WithdrawalRequest struct {
	Amount     int64  `json:"amount" validate:"required,gt=0" example:"5000"`
	PixKey     string `json:"pixKey" validate:"required,max=140" example:"user@example.com"`
	PixKeyKind string `json:"pixKeyKind" validate:"required,oneof=cpf email phone random" example:"email"`
}

// RequestWithdrawal handles a payout request
// @Summary Request a withdrawal
// @Description Debit the balance and queue a PIX payout, gated on rollover completion
// @Tags withdrawals
// @Accept json
// @Produce json
// @Param request body WithdrawalRequest true "Withdrawal"
// @Success 201 {object} map[string]interface{}
// @Failure 400 {object} ErrorResponse
// @Failure 422 {object} ErrorResponse
// @Router /withdrawals [post]
func (s *WithdrawalService) RequestWithdrawal(w http.ResponseWriter, r *http.Request) {
	userID, err := UserIDFromRequest(r)
	if err != nil {
		SendErrorResponse(w, "Unauthorized", http.StatusUnauthorized, nil)
		return
	}

	maxBytes := 1_048_576 // 1 MB
	r.Body = http.MaxBytesReader(w, r.Body, int64(maxBytes))

	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()

	var req WithdrawalRequest
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

	if req.Amount < s.rules.MinWithdrawalAmount {
		SendErrorCode(w, "Amount below minimum withdrawal", "AMOUNT_TOO_LOW", http.StatusBadRequest)
		return
	}

	tx, err := s.db.Begin()
	if err != nil {
		log.Printf("[WITHDRAWAL] Failed to begin transaction for user %d: %v", userID, err)
		SendErrorResponse(w, "Failed to process withdrawal", http.StatusInternalServerError, nil)
		return
	}
	defer tx.Rollback()

	// Gate check under the row lock, so a concurrent wager or withdrawal
	// cannot slip between check and debit.
	account, err := s.ledger.lockAccount(tx, userID)
	if err != nil {
		if err == sql.ErrNoRows {
			SendErrorResponse(w, "Account not found", http.StatusNotFound, nil)
			return
		}
		log.Printf("[WITHDRAWAL] Failed to lock account %d: %v", userID, err)
		SendErrorResponse(w, "Failed to process withdrawal", http.StatusInternalServerError, nil)
		return
	}

	if err := checkWithdrawable(account, req.Amount); err != nil {
		var rollover *RolloverIncompleteError
		if errors.As(err, &rollover) {
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(http.StatusUnprocessableEntity)
			json.NewEncoder(w).Encode(map[string]any{
				"error":             "Rollover requirement not met",
				"code":              "ROLLOVER_INCOMPLETE",
				"rolloverRequired":  rollover.Required,
				"rolloverProgress":  rollover.Progress,
				"rolloverRemaining": rollover.Remaining,
			})
			return
		}
		SendErrorCode(w, "Insufficient balance", "INSUFFICIENT_BALANCE", http.StatusUnprocessableEntity)
		return
	}

	if err := s.ledger.AppendTx(tx, &models.LedgerEntry{
		UserID: userID,
		Kind:   models.EntryKindWithdrawal,
		Amount: -req.Amount,
	}); err != nil {
		if err == ErrInsufficientBalance {
			SendErrorCode(w, "Insufficient balance", "INSUFFICIENT_BALANCE", http.StatusUnprocessableEntity)
			return
		}
		log.Printf("[WITHDRAWAL] Ledger debit failed for user %d: %v", userID, err)
		SendErrorResponse(w, "Failed to process withdrawal", http.StatusInternalServerError, nil)
		return
	}

	var withdrawalID int
	if err := tx.QueryRow(`
		INSERT INTO withdrawals (user_id, amount, pix_key, pix_key_kind, status, created_at)
		VALUES ($1, $2, $3, $4, 'requested', $5) RETURNING id`,
		userID, req.Amount, req.PixKey, req.PixKeyKind, time.Now()).Scan(&withdrawalID); err != nil {
		log.Printf("[WITHDRAWAL] Failed to store withdrawal for user %d: %v", userID, err)
		SendErrorResponse(w, "Failed to process withdrawal", http.StatusInternalServerError, nil)
		return
	}

	if err := tx.Commit(); err != nil {
		log.Printf("[WITHDRAWAL] Commit failed for user %d: %v", userID, err)
		SendErrorResponse(w, "Failed to process withdrawal", http.StatusInternalServerError, nil)
		return
	}

	s.audit.LogWithdrawal(userID, req.Amount, req.PixKeyKind)

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusCreated)
	json.NewEncoder(w).Encode(map[string]any{
		"success":      true,
		"withdrawalId": withdrawalID,
		"status":       models.WithdrawalStatusRequested,
	})
}

// ListWithdrawals returns the user's withdrawal history
// @Summary List withdrawals
// @Tags withdrawals
// @Produce json
// @Success 200 {object} map[string]interface{}
// @Router /withdrawals [get]
func (s *WithdrawalService) ListWithdrawals(w http.ResponseWriter, r *http.Request) {
	userID, err := UserIDFromRequest(r)
	if err != nil {
		SendErrorResponse(w, "Unauthorized", http.StatusUnauthorized, nil)
		return
	}

	rows, err := s.db.Query(`
		SELECT id, user_id, amount, pix_key, pix_key_kind, status, created_at, settled_at
		FROM withdrawals WHERE user_id = $1 ORDER BY created_at DESC LIMIT 50`, userID)
	if err != nil {
		log.Printf("[WITHDRAWAL] Failed to list withdrawals for %d: %v", userID, err)
		SendErrorResponse(w, "Failed to list withdrawals", http.StatusInternalServerError, nil)
		return
	}
	defer rows.Close()

	withdrawals := []models.Withdrawal{}
	for rows.Next() {
		var wd models.Withdrawal
		if err := rows.Scan(&wd.ID, &wd.UserID, &wd.Amount, &wd.PixKey, &wd.PixKeyKind,
			&wd.Status, &wd.CreatedAt, &wd.SettledAt); err != nil {
			SendErrorResponse(w, "Failed to list withdrawals", http.StatusInternalServerError, nil)
			return
		}
		withdrawals = append(withdrawals, wd)
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]any{"withdrawals": withdrawals})
}
