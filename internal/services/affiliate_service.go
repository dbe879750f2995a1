package services

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"log"
	"net/http"
	"strconv"
	"time"

	"github.com/premiobox/backend/internal/audit"
	"github.com/premiobox/backend/internal/config"
	"github.com/premiobox/backend/internal/models"
)

// AffiliateService credits a referring affiliate exactly once, on the
// referred user's first qualifying deposit. The commission_paid flag is
// claimed inside the same transaction as the commission ledger entry, so
// concurrent webhook retries cannot double-pay.
type AffiliateService struct {
	db     *sql.DB
	ledger *LedgerService
	rules  *config.RulesConfig
	audit  *audit.Logger
}

func NewAffiliateService(db *sql.DB, ledger *LedgerService, rules *config.RulesConfig) *AffiliateService {
	return &AffiliateService{
		db:     db,
		ledger: ledger,
		rules:  rules,
		audit:  audit.NewLogger(),
	}
}

// PayCommissionForUser pays the commission owed for a referred user's
// deposit, if any is owed. Safe to call on every confirmed deposit: second
// and later deposits find commission_paid already true and do nothing.
func (s *AffiliateService) PayCommissionForUser(ctx context.Context, referredUserID int, depositAmount int64) error {
	var link models.AffiliateLink
	err := s.db.QueryRowContext(ctx, `
		SELECT id, affiliate_user_id, commission_paid FROM affiliate_links WHERE referred_user_id = $1`,
		referredUserID).Scan(&link.ID, &link.AffiliateUserID, &link.CommissionPaid)
	if err == sql.ErrNoRows {
		return nil
	}
	if err != nil {
		return err
	}
	if link.CommissionPaid {
		return nil
	}

	// Amount is fixed at payment time from configuration, never recomputed.
	amount := s.rules.CommissionFor(depositAmount)

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	result, err := tx.Exec(`
		UPDATE affiliate_links SET commission_paid = TRUE, paid_at = $1
		WHERE id = $2 AND commission_paid = FALSE`,
		time.Now(), link.ID)
	if err != nil {
		return err
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if rows == 0 {
		// A concurrent payment won the claim.
		return nil
	}

	if err := s.ledger.AppendTx(tx, &models.LedgerEntry{
		UserID:      link.AffiliateUserID,
		Kind:        models.EntryKindAffiliateCommission,
		Amount:      amount,
		ExternalRef: fmt.Sprintf("referral:%d", referredUserID),
	}); err != nil {
		if err == ErrAccountNotFound {
			// Non-fatal: the referred user's deposit has already committed.
			// Rolling back here releases the claim so support can retry.
			log.Printf("[AFFILIATE] Warning: affiliate %d has no account, commission for referral %d not paid",
				link.AffiliateUserID, referredUserID)
			return nil
		}
		return err
	}

	if err := tx.Commit(); err != nil {
		return err
	}

	s.audit.LogCommission(link.AffiliateUserID, referredUserID, amount)
	return nil
}

// LinkReferralTx records who referred a newly registered user, inside the
// registration transaction. Self-referrals are rejected.
func (s *AffiliateService) LinkReferralTx(tx *sql.Tx, referredUserID int, code string) error {
	var affiliateUserID int
	err := tx.QueryRow(`SELECT id FROM users WHERE referral_code = $1`, code).Scan(&affiliateUserID)
	if err == sql.ErrNoRows {
		return fmt.Errorf("referral code %q not found", code)
	}
	if err != nil {
		return err
	}
	if affiliateUserID == referredUserID {
		return fmt.Errorf("self-referral rejected")
	}

	_, err = tx.Exec(`
		INSERT INTO affiliate_links (affiliate_user_id, referred_user_id, referral_code_used, commission_paid, created_at)
		VALUES ($1, $2, $3, FALSE, $4)`,
		affiliateUserID, referredUserID, code, time.Now())
	return err
}

// ListReferrals returns the affiliate's referrals
// @Summary List referrals
// @Description List users referred by the authenticated affiliate and their commission status
// @Tags affiliates
// @Produce json
// @Success 200 {object} map[string]interface{}
// @Failure 401 {object} ErrorResponse
// @Router /affiliates/referrals [get]
func (s *AffiliateService) ListReferrals(w http.ResponseWriter, r *http.Request) {
	userID, err := UserIDFromRequest(r)
	if err != nil {
		SendErrorResponse(w, "Unauthorized", http.StatusUnauthorized, nil)
		return
	}

	limit := 50
	if v := r.URL.Query().Get("limit"); v != "" {
		if parsed, err := strconv.Atoi(v); err == nil && parsed > 0 && parsed <= 200 {
			limit = parsed
		}
	}

	rows, err := s.db.Query(`
		SELECT id, referred_user_id, referral_code_used, commission_paid, paid_at, created_at
		FROM affiliate_links
		WHERE affiliate_user_id = $1
		ORDER BY created_at DESC
		LIMIT $2`, userID, limit)
	if err != nil {
		log.Printf("[AFFILIATE] Failed to list referrals for %d: %v", userID, err)
		SendErrorResponse(w, "Failed to list referrals", http.StatusInternalServerError, nil)
		return
	}
	defer rows.Close()

	referrals := []models.AffiliateLink{}
	for rows.Next() {
		link := models.AffiliateLink{AffiliateUserID: userID}
		if err := rows.Scan(&link.ID, &link.ReferredUserID, &link.ReferralCodeUsed,
			&link.CommissionPaid, &link.PaidAt, &link.CreatedAt); err != nil {
			SendErrorResponse(w, "Failed to list referrals", http.StatusInternalServerError, nil)
			return
		}
		referrals = append(referrals, link)
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]any{"referrals": referrals})
}
