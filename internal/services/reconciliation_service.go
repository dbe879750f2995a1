package services

import (
	"context"
	"database/sql"
	"log"
	"time"

	"github.com/premiobox/backend/internal/audit"
	"github.com/premiobox/backend/internal/config"
	"github.com/premiobox/backend/internal/models"
)

// ReconciliationService applies gateway payment events to the ledger exactly
// once per deposit intent. The pending->confirmed row transition is the
// serialization point: whichever concurrent webhook wins the atomic update
// proceeds, every loser observes zero rows affected and short-circuits.
type ReconciliationService struct {
	db         *sql.DB
	ledger     *LedgerService
	affiliates *AffiliateService
	rules      *config.RulesConfig
	audit      *audit.Logger
}

func NewReconciliationService(db *sql.DB, ledger *LedgerService, affiliates *AffiliateService, rules *config.RulesConfig) *ReconciliationService {
	return &ReconciliationService{
		db:         db,
		ledger:     ledger,
		affiliates: affiliates,
		rules:      rules,
		audit:      audit.NewLogger(),
	}
}

// ConfirmDeposit processes a payment-confirmed event. Duplicate deliveries
// return nil without side effects; the webhook caller must always see success
// for them so the gateway stops retrying.
func (s *ReconciliationService) ConfirmDeposit(ctx context.Context, identifier, gatewayTxID string, reportedAmount int64) error {
	var intent models.DepositIntent
	err := s.db.QueryRowContext(ctx, `
		SELECT user_id, amount, status FROM deposit_intents WHERE identifier = $1`,
		identifier).Scan(&intent.UserID, &intent.Amount, &intent.Status)
	if err == sql.ErrNoRows {
		s.audit.LogAnomaly("UNKNOWN_INTENT", identifier, "payment confirmed for an intent never created locally")
		return ErrUnknownIntent
	}
	if err != nil {
		return err
	}

	claimFrom := models.DepositStatusPending
	switch intent.Status {
	case models.DepositStatusPending:
	case models.DepositStatusExpired:
		if !s.rules.AllowLateSettlement {
			// Funds were genuinely received; never drop money silently.
			s.audit.LogAnomaly("LATE_SETTLEMENT", identifier, "payment confirmed after expiry, flagged for manual review")
			return nil
		}
		claimFrom = models.DepositStatusExpired
	default:
		log.Printf("[RECONCILE] Duplicate confirmation for %s (status %s), ignoring", identifier, intent.Status)
		return nil
	}

	// The status transition, not amount matching, is the idempotency guard:
	// duplicate webhooks carry identical amounts. A mismatch is still worth
	// an alert before crediting the intent's own amount.
	if reportedAmount != 0 && reportedAmount != intent.Amount {
		s.audit.LogAnomaly("AMOUNT_MISMATCH", identifier,
			"gateway reported a different amount than the local intent")
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	result, err := tx.Exec(`
		UPDATE deposit_intents SET status = 'confirmed', gateway_transaction_id = $1, confirmed_at = $2
		WHERE identifier = $3 AND status = $4`,
		gatewayTxID, time.Now(), identifier, claimFrom)
	if err != nil {
		return err
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if rows == 0 {
		// A concurrent delivery claimed the intent first.
		log.Printf("[RECONCILE] Intent %s already claimed by a concurrent webhook", identifier)
		return nil
	}

	if err := s.ledger.AppendTx(tx, &models.LedgerEntry{
		UserID:      intent.UserID,
		Kind:        models.EntryKindDeposit,
		Amount:      intent.Amount,
		ExternalRef: gatewayTxID,
	}); err != nil {
		return err
	}

	// First qualifying deposit arms the rollover gate.
	if _, err := tx.Exec(`
		UPDATE accounts SET first_deposit_done = TRUE, rollover_required = $1
		WHERE user_id = $2 AND first_deposit_done = FALSE`,
		intent.Amount*s.rules.RolloverMultiplier, intent.UserID); err != nil {
		return err
	}

	if err := tx.Commit(); err != nil {
		return err
	}

	s.audit.LogDepositConfirmed(intent.UserID, identifier, gatewayTxID, intent.Amount)

	// Affiliate crediting runs after the deposit has committed and must not
	// roll it back on failure.
	if s.affiliates != nil {
		go func() {
			if err := s.affiliates.PayCommissionForUser(context.Background(), intent.UserID, intent.Amount); err != nil {
				log.Printf("[RECONCILE] Affiliate commission for user %d failed: %v", intent.UserID, err)
			}
		}()
	}

	return nil
}

// FailDeposit marks a pending intent failed after the gateway reports the
// charge as failed or refunded. No ledger effect.
func (s *ReconciliationService) FailDeposit(ctx context.Context, identifier string) error {
	result, err := s.db.ExecContext(ctx, `
		UPDATE deposit_intents SET status = 'failed' WHERE identifier = $1 AND status = 'pending'`,
		identifier)
	if err != nil {
		return err
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if rows == 0 {
		log.Printf("[RECONCILE] Failure report for %s ignored (not pending or unknown)", identifier)
	}
	return nil
}

// ExpireStale transitions pending intents past their expiry. Returns how
// many rows were swept.
func (s *ReconciliationService) ExpireStale(ctx context.Context) (int64, error) {
	result, err := s.db.ExecContext(ctx, `
		UPDATE deposit_intents SET status = 'expired' WHERE status = 'pending' AND expires_at < $1`,
		time.Now())
	if err != nil {
		return 0, err
	}
	return result.RowsAffected()
}

// RunExpirySweep loops ExpireStale on the configured interval until ctx is
// cancelled. Started once from main.
func (s *ReconciliationService) RunExpirySweep(ctx context.Context) {
	ticker := time.NewTicker(s.rules.SweepInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			swept, err := s.ExpireStale(ctx)
			if err != nil {
				log.Printf("[SWEEP] Expiry sweep failed: %v", err)
				continue
			}
			if swept > 0 {
				log.Printf("[SWEEP] Expired %d stale deposit intents", swept)
			}
		}
	}
}
