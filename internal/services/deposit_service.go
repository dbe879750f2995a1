package services

import (
	"bytes"
	"context"
	"database/sql"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"image/png"
	"io"
	"log"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-redis/redis/v8"
	"github.com/google/uuid"
	"github.com/premiobox/backend/internal/config"
	"github.com/premiobox/backend/internal/gateway"
	"github.com/premiobox/backend/internal/models"
	"github.com/skip2/go-qrcode"
)

// DepositService creates PIX charges. The external call happens first; no
// DepositIntent row exists until the gateway has accepted the charge, so a
// gateway failure leaves no local state behind.
type DepositService struct {
	db        *sql.DB
	gateway   *gateway.Client
	redis     *redis.Client
	rules     *config.RulesConfig
	validator *ValidationHelper
}

func NewDepositService(db *sql.DB, gw *gateway.Client, redisClient *redis.Client, rules *config.RulesConfig) *DepositService {
	return &DepositService{
		db:        db,
		gateway:   gw,
		redis:     redisClient,
		rules:     rules,
		validator: NewValidationHelper(),
	}
}

// DepositRequest is the charge-creation payload.
// @Description Deposit request structure
type DepositRequest struct {
	Amount int64 `json:"amount" validate:"required,gt=0" example:"5000"` // centavos
}

// CreateDeposit creates a PIX charge
// @Summary Create a PIX deposit charge
// @Description Request a PIX QR code for the given amount
// @Tags deposits
// @Accept json
// @Produce json
// @Param request body DepositRequest true "Deposit"
// @Success 201 {object} map[string]interface{}
// @Failure 400 {object} ErrorResponse
// @Failure 503 {object} ErrorResponse
// @Router /deposits [post]
func (s *DepositService) CreateDeposit(w http.ResponseWriter, r *http.Request) {
	userID, err := UserIDFromRequest(r)
	if err != nil {
		SendErrorResponse(w, "Unauthorized", http.StatusUnauthorized, nil)
		return
	}

	maxBytes := 1_048_576 // 1 MB
	r.Body = http.MaxBytesReader(w, r.Body, int64(maxBytes))

	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()

	var req DepositRequest
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

	if req.Amount < s.rules.MinDepositAmount || req.Amount > s.rules.MaxDepositAmount {
		SendErrorCode(w, "Amount outside allowed deposit range", "AMOUNT_OUT_OF_RANGE", http.StatusBadRequest)
		return
	}

	var firstName, lastName, cpf string
	err = s.db.QueryRow(`SELECT first_name, last_name, cpf FROM users WHERE id = $1`, userID).
		Scan(&firstName, &lastName, &cpf)
	if err != nil {
		log.Printf("[DEPOSIT] User %d not found: %v", userID, err)
		SendErrorResponse(w, "User not found", http.StatusNotFound, nil)
		return
	}

	identifier := uuid.New().String()

	charge, err := s.gateway.CreateCharge(r.Context(), &gateway.ChargeRequest{
		Identifier:    identifier,
		Amount:        req.Amount,
		PayerName:     fmt.Sprintf("%s %s", firstName, lastName),
		PayerDocument: cpf,
		ExpiresIn:     int(s.rules.IntentTimeout.Seconds()),
	})
	if err != nil {
		if errors.Is(err, gateway.ErrGatewayDown) || errors.Is(err, gateway.ErrRateLimited) {
			SendErrorCode(w, "Payment service temporarily unavailable, try again shortly",
				"GATEWAY_UNAVAILABLE", http.StatusServiceUnavailable)
			return
		}
		log.Printf("[DEPOSIT] Charge creation failed for user %d: %v", userID, err)
		SendErrorCode(w, "Payment service rejected the request", "GATEWAY_ERROR", http.StatusBadGateway)
		return
	}

	expiresAt := charge.ExpiresAt
	_, err = s.db.Exec(`
		INSERT INTO deposit_intents (identifier, user_id, amount, gateway_transaction_id, status, created_at, expires_at)
		VALUES ($1, $2, $3, $4, 'pending', $5, $6)`,
		identifier, userID, req.Amount, charge.TransactionID, time.Now(), expiresAt)
	if err != nil {
		log.Printf("[DEPOSIT] Failed to store intent %s for user %d: %v", identifier, userID, err)
		SendErrorResponse(w, "Failed to create deposit", http.StatusInternalServerError, nil)
		return
	}

	qrImage, err := renderQRImage(charge.QRCodeText)
	if err != nil {
		log.Printf("[DEPOSIT] QR render failed for %s: %v", identifier, err)
		// The copia-e-cola text alone is still payable.
		qrImage = ""
	}

	s.cacheCharge(r.Context(), identifier, charge)

	log.Printf("[DEPOSIT] Charge created for user %d: %s (gateway tx %s, amount %d)",
		userID, identifier, charge.TransactionID, req.Amount)

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusCreated)
	json.NewEncoder(w).Encode(map[string]any{
		"identifier":  identifier,
		"amount":      req.Amount,
		"qrCodeText":  charge.QRCodeText,
		"qrCodeImage": qrImage,
		"expiresAt":   expiresAt,
	})
}

// GetDeposit reports a deposit intent's status
// @Summary Get deposit status
// @Description Poll a deposit intent; status comes from the local database, the source of truth
// @Tags deposits
// @Produce json
// @Param identifier path string true "Deposit identifier"
// @Success 200 {object} models.DepositIntent
// @Failure 404 {object} ErrorResponse
// @Router /deposits/{identifier} [get]
func (s *DepositService) GetDeposit(w http.ResponseWriter, r *http.Request) {
	userID, err := UserIDFromRequest(r)
	if err != nil {
		SendErrorResponse(w, "Unauthorized", http.StatusUnauthorized, nil)
		return
	}

	identifier := chi.URLParam(r, "identifier")

	var intent models.DepositIntent
	var gatewayTxID sql.NullString
	err = s.db.QueryRow(`
		SELECT identifier, user_id, amount, gateway_transaction_id, status, created_at, expires_at, confirmed_at
		FROM deposit_intents WHERE identifier = $1 AND user_id = $2`,
		identifier, userID).Scan(&intent.Identifier, &intent.UserID, &intent.Amount,
		&gatewayTxID, &intent.Status, &intent.CreatedAt, &intent.ExpiresAt, &intent.ConfirmedAt)
	if err == sql.ErrNoRows {
		SendErrorResponse(w, "Deposit not found", http.StatusNotFound, nil)
		return
	}
	if err != nil {
		log.Printf("[DEPOSIT] Failed to load intent %s: %v", identifier, err)
		SendErrorResponse(w, "Failed to load deposit", http.StatusInternalServerError, nil)
		return
	}
	intent.GatewayTransactionID = gatewayTxID.String

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(intent)
}

// cacheCharge keeps the QR payload in redis so status polling doesn't hit
// the provider. Best effort; redis may be absent.
func (s *DepositService) cacheCharge(ctx context.Context, identifier string, charge *gateway.Charge) {
	if s.redis == nil {
		return
	}
	data, err := json.Marshal(charge)
	if err != nil {
		return
	}
	key := fmt.Sprintf("deposit_qr:%s", identifier)
	if err := s.redis.Set(ctx, key, data, s.rules.IntentTimeout).Err(); err != nil {
		log.Printf("[DEPOSIT] Failed to cache charge %s: %v", identifier, err)
	}
}

// renderQRImage rasterizes the copia-e-cola payload into a base64 PNG.
func renderQRImage(text string) (string, error) {
	qr, err := qrcode.New(text, qrcode.Medium)
	if err != nil {
		return "", err
	}

	var buf bytes.Buffer
	if err := png.Encode(&buf, qr.Image(256)); err != nil {
		return "", err
	}

	return base64.StdEncoding.EncodeToString(buf.Bytes()), nil
}
