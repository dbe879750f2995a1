package handlers

import (
	"database/sql"
	"encoding/json"
	"log"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/premiobox/backend/internal/services"
)

// AccountHandler exposes the balance projection and ledger history.
type AccountHandler struct {
	db     *sql.DB
	ledger *services.LedgerService
}

func NewAccountHandler(db *sql.DB, ledger *services.LedgerService) *AccountHandler {
	return &AccountHandler{db: db, ledger: ledger}
}

// GetAccount returns the user's balance and rollover state
// @Summary Get account balance
// @Description Current cash balance plus rollover requirement and progress
// @Tags account
// @Produce json
// @Security BearerAuth
// @Success 200 {object} map[string]interface{}
// @Failure 401 {object} services.ErrorResponse
// @Failure 404 {object} services.ErrorResponse
// @Router /account [get]
func (h *AccountHandler) GetAccount(w http.ResponseWriter, r *http.Request) {
	userID, err := services.UserIDFromRequest(r)
	if err != nil {
		services.SendErrorResponse(w, "Unauthorized", http.StatusUnauthorized, nil)
		return
	}

	var cashBalance, rolloverRequired, rolloverProgress int64
	var rolloverUnlocked, firstDepositDone bool
	err = h.db.QueryRow(`
		SELECT cash_balance, rollover_required, rollover_progress, rollover_unlocked, first_deposit_done
		FROM accounts WHERE user_id = $1`, userID).
		Scan(&cashBalance, &rolloverRequired, &rolloverProgress, &rolloverUnlocked, &firstDepositDone)
	if err == sql.ErrNoRows {
		services.SendErrorResponse(w, "Account not found", http.StatusNotFound, nil)
		return
	}
	if err != nil {
		log.Printf("[ACCOUNT] Failed to load account %d: %v", userID, err)
		services.SendErrorResponse(w, "Failed to load account", http.StatusInternalServerError, nil)
		return
	}

	remaining := rolloverRequired - rolloverProgress
	if remaining < 0 || rolloverUnlocked {
		remaining = 0
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]any{
		"cashBalance":       cashBalance,
		"rolloverRequired":  rolloverRequired,
		"rolloverProgress":  rolloverProgress,
		"rolloverRemaining": remaining,
		"rolloverUnlocked":  rolloverUnlocked,
		"firstDepositDone":  firstDepositDone,
	})
}

// GetLedgerHistory returns the user's ledger entries
// @Summary Get ledger history
// @Description Page through the user's ledger entries, newest first
// @Tags account
// @Produce json
// @Security BearerAuth
// @Param limit query int false "Page size (max 200)"
// @Param offset query int false "Offset"
// @Success 200 {object} map[string]interface{}
// @Failure 401 {object} services.ErrorResponse
// @Router /account/ledger [get]
func (h *AccountHandler) GetLedgerHistory(w http.ResponseWriter, r *http.Request) {
	userID, err := services.UserIDFromRequest(r)
	if err != nil {
		services.SendErrorResponse(w, "Unauthorized", http.StatusUnauthorized, nil)
		return
	}

	limit := 50
	offset := 0
	if v := r.URL.Query().Get("limit"); v != "" {
		if parsed, err := strconv.Atoi(v); err == nil && parsed > 0 && parsed <= 200 {
			limit = parsed
		}
	}
	if v := r.URL.Query().Get("offset"); v != "" {
		if parsed, err := strconv.Atoi(v); err == nil && parsed >= 0 {
			offset = parsed
		}
	}

	entries, err := h.ledger.History(userID, limit, offset)
	if err != nil {
		log.Printf("[ACCOUNT] Failed to load history for %d: %v", userID, err)
		services.SendErrorResponse(w, "Failed to load ledger history", http.StatusInternalServerError, nil)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]any{"entries": entries})
}

// VerifyBalance reports whether the projection matches the ledger sum
// @Summary Verify balance invariant
// @Description Compare the projected balance against the summed ledger; admin diagnostics
// @Tags account
// @Produce json
// @Security BearerAuth
// @Param userId path int true "User ID"
// @Success 200 {object} map[string]interface{}
// @Router /admin/accounts/{userId}/verify [get]
func (h *AccountHandler) VerifyBalance(w http.ResponseWriter, r *http.Request) {
	userID, err := strconv.Atoi(chi.URLParam(r, "userId"))
	if err != nil {
		services.SendErrorResponse(w, "Invalid user id", http.StatusBadRequest, nil)
		return
	}

	ok, cached, derived, err := h.ledger.VerifyBalance(userID)
	if err != nil {
		if err == services.ErrAccountNotFound {
			services.SendErrorResponse(w, "Account not found", http.StatusNotFound, nil)
			return
		}
		services.SendErrorResponse(w, "Verification failed", http.StatusInternalServerError, nil)
		return
	}

	if !ok {
		log.Printf("[ACCOUNT] BALANCE DRIFT for user %d: projection %d, ledger %d", userID, cached, derived)
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]any{
		"consistent":    ok,
		"cachedBalance": cached,
		"ledgerBalance": derived,
	})
}
