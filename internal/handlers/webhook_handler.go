package handlers

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"net/http"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/premiobox/backend/internal/gateway"
	"github.com/premiobox/backend/internal/services"
	"github.com/spf13/viper"
)

// WebhookHandler receives the PIX gateway's payment notifications. It is the
// only unauthenticated money-moving entry point, so every request is HMAC
// verified before the body is even parsed.
type WebhookHandler struct {
	db    *sql.DB
	redis *redis.Client
	recon *services.ReconciliationService
}

func NewWebhookHandler(db *sql.DB, redisClient *redis.Client, recon *services.ReconciliationService) *WebhookHandler {
	return &WebhookHandler{
		db:    db,
		redis: redisClient,
		recon: recon,
	}
}

// HandlePixWebhook processes a gateway payment event
// @Summary PIX payment webhook
// @Description Receive payment status notifications from the PIX gateway; processed exactly once per deposit
// @Tags webhooks
// @Accept json
// @Produce json
// @Param X-Webhook-Signature header string true "HMAC-SHA256 of the raw body, hex"
// @Success 200 {object} map[string]interface{} "Event received"
// @Failure 400 {object} services.ErrorResponse "Malformed payload"
// @Failure 401 {object} services.ErrorResponse "Bad signature"
// @Failure 500 {object} services.ErrorResponse "Processing failed, gateway should retry"
// @Router /webhook/pix [post]
func (h *WebhookHandler) HandlePixWebhook(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, 1_048_576)
	body, err := io.ReadAll(r.Body)
	if err != nil {
		services.SendErrorResponse(w, "Failed to read body", http.StatusBadRequest, nil)
		return
	}

	signature := r.Header.Get("X-Webhook-Signature")
	secret := viper.GetString("gateway.webhook_secret")
	if !gateway.VerifyWebhookSignature(secret, body, signature) {
		log.Printf("[WEBHOOK] Signature verification failed from %s", r.RemoteAddr)
		services.SendErrorResponse(w, "Invalid signature", http.StatusUnauthorized, nil)
		return
	}

	var payload gateway.WebhookPayload
	if err := json.Unmarshal(body, &payload); err != nil {
		log.Printf("[WEBHOOK] Malformed payload: %v", err)
		services.SendErrorResponse(w, "Malformed payload", http.StatusBadRequest, nil)
		return
	}
	if payload.Transaction.Identifier == "" {
		services.SendErrorResponse(w, "Missing transaction identifier", http.StatusBadRequest, nil)
		return
	}

	// Fast path for redelivery. The database transition remains the real
	// idempotency guard; this only saves work on retry storms.
	dedupKey := fmt.Sprintf("webhook_done:%s:%s", payload.Transaction.Identifier, payload.Status)
	if h.redis != nil {
		if exists, err := h.redis.Exists(r.Context(), dedupKey).Result(); err == nil && exists > 0 {
			log.Printf("[WEBHOOK] Duplicate delivery for %s (%s), short-circuited", payload.Transaction.Identifier, payload.Status)
			h.respondReceived(w, true)
			return
		}
	}

	h.journalEvent(r.Context(), &payload, body)

	switch payload.Status {
	case gateway.StatusPaid:
		err := h.recon.ConfirmDeposit(r.Context(), payload.Transaction.Identifier,
			payload.Transaction.TransactionID, payload.Transaction.Amount)
		if errors.Is(err, services.ErrUnknownIntent) {
			// Already alerted inside reconciliation. Answer 200 so the
			// gateway stops retrying a delivery we can never apply.
			h.respondReceived(w, false)
			return
		}
		if err != nil {
			log.Printf("[WEBHOOK] Confirmation failed for %s: %v", payload.Transaction.Identifier, err)
			services.SendErrorResponse(w, "Processing failed", http.StatusInternalServerError, nil)
			return
		}
	case gateway.StatusFailed, gateway.StatusExpired, gateway.StatusRefunded:
		if err := h.recon.FailDeposit(r.Context(), payload.Transaction.Identifier); err != nil {
			log.Printf("[WEBHOOK] Failure handling for %s: %v", payload.Transaction.Identifier, err)
			services.SendErrorResponse(w, "Processing failed", http.StatusInternalServerError, nil)
			return
		}
	default:
		log.Printf("[WEBHOOK] Unhandled status %q for %s, acknowledged", payload.Status, payload.Transaction.Identifier)
	}

	h.markDone(r.Context(), dedupKey)
	h.respondReceived(w, false)
}

// journalEvent stores the raw delivery for audit and replay. Failures are
// logged, never fatal; the ledger transition must not depend on the journal.
func (h *WebhookHandler) journalEvent(ctx context.Context, payload *gateway.WebhookPayload, body []byte) {
	_, err := h.db.ExecContext(ctx, `
		INSERT INTO webhook_events (event_type, identifier, transaction_id, status, payload, received_at)
		VALUES ($1, $2, $3, $4, $5, $6)`,
		payload.Event, payload.Transaction.Identifier, payload.Transaction.TransactionID,
		payload.Status, string(body), time.Now())
	if err != nil {
		log.Printf("[WEBHOOK] Failed to journal event for %s: %v", payload.Transaction.Identifier, err)
	}
}

func (h *WebhookHandler) markDone(ctx context.Context, key string) {
	if h.redis == nil {
		return
	}
	if err := h.redis.Set(ctx, key, "1", 24*time.Hour).Err(); err != nil {
		log.Printf("[WEBHOOK] Failed to set dedup key %s: %v", key, err)
	}
}

func (h *WebhookHandler) respondReceived(w http.ResponseWriter, duplicate bool) {
	w.Header().Set("Content-Type", "application/json")
	resp := map[string]any{"received": true}
	if duplicate {
		resp["duplicate"] = true
	}
	json.NewEncoder(w).Encode(resp)
}
