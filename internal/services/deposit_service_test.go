package services

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/go-chi/chi/v5"
	"github.com/premiobox/backend/internal/gateway"
	"github.com/stretchr/testify/assert"
)

func newTestRouter(pattern string, handler http.HandlerFunc) *chi.Mux {
	r := chi.NewRouter()
	r.Get(pattern, handler)
	return r
}

func TestDepositService_CreateDeposit(t *testing.T) {
	db, mock, err := sqlmock.New()
	assert.NoError(t, err)
	defer db.Close()

	t.Run("creates a charge and stores the pending intent", func(t *testing.T) {
		provider := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			assert.Equal(t, "/v2/pix/qrcode", r.URL.Path)
			json.NewEncoder(w).Encode(map[string]any{
				"transactionId": "gw-tx-77",
				"qrcode":        "00020126580014br.gov.bcb.pix0136...",
				"status":        "CREATED",
				"expiresAt":     time.Now().Add(30 * time.Minute),
			})
		}))
		defer provider.Close()

		gw := gateway.NewClientWith(provider.URL, "ci", "cs", nil)
		service := NewDepositService(db, gw, nil, testRules())

		mock.ExpectQuery("SELECT first_name, last_name, cpf FROM users").
			WithArgs(7).
			WillReturnRows(sqlmock.NewRows([]string{"first_name", "last_name", "cpf"}).
				AddRow("Joao", "Silva", "12345678901"))
		mock.ExpectExec("INSERT INTO deposit_intents").
			WithArgs(sqlmock.AnyArg(), 7, int64(5000), "gw-tx-77", sqlmock.AnyArg(), sqlmock.AnyArg()).
			WillReturnResult(sqlmock.NewResult(1, 1))

		body, _ := json.Marshal(DepositRequest{Amount: 5000})
		req := authedRequest("POST", "/deposits", body)
		w := httptest.NewRecorder()

		service.CreateDeposit(w, req)

		assert.Equal(t, http.StatusCreated, w.Code)
		var response map[string]interface{}
		json.Unmarshal(w.Body.Bytes(), &response)
		assert.NotEmpty(t, response["identifier"])
		assert.Equal(t, float64(5000), response["amount"])
		assert.NotEmpty(t, response["qrCodeText"])
		assert.NotEmpty(t, response["qrCodeImage"])
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("gateway outage leaves no local state", func(t *testing.T) {
		provider := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusServiceUnavailable)
		}))
		defer provider.Close()

		gw := gateway.NewClientWith(provider.URL, "ci", "cs", nil)
		service := NewDepositService(db, gw, nil, testRules())

		mock.ExpectQuery("SELECT first_name, last_name, cpf FROM users").
			WithArgs(7).
			WillReturnRows(sqlmock.NewRows([]string{"first_name", "last_name", "cpf"}).
				AddRow("Joao", "Silva", "12345678901"))

		body, _ := json.Marshal(DepositRequest{Amount: 5000})
		req := authedRequest("POST", "/deposits", body)
		w := httptest.NewRecorder()

		service.CreateDeposit(w, req)

		assert.Equal(t, http.StatusServiceUnavailable, w.Code)
		var response ErrorResponse
		json.Unmarshal(w.Body.Bytes(), &response)
		assert.Equal(t, "GATEWAY_UNAVAILABLE", response.Code)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("amount outside the configured range", func(t *testing.T) {
		service := NewDepositService(db, gateway.NewClientWith("http://unused", "ci", "cs", nil), nil, testRules())

		body, _ := json.Marshal(DepositRequest{Amount: 100})
		req := authedRequest("POST", "/deposits", body)
		w := httptest.NewRecorder()

		service.CreateDeposit(w, req)

		assert.Equal(t, http.StatusBadRequest, w.Code)
		var response ErrorResponse
		json.Unmarshal(w.Body.Bytes(), &response)
		assert.Equal(t, "AMOUNT_OUT_OF_RANGE", response.Code)
	})

	t.Run("invalid body", func(t *testing.T) {
		service := NewDepositService(db, gateway.NewClientWith("http://unused", "ci", "cs", nil), nil, testRules())

		req := authedRequest("POST", "/deposits", []byte("nope"))
		w := httptest.NewRecorder()

		service.CreateDeposit(w, req)

		assert.Equal(t, http.StatusBadRequest, w.Code)
	})
}

func TestDepositService_GetDeposit(t *testing.T) {
	db, mock, err := sqlmock.New()
	assert.NoError(t, err)
	defer db.Close()

	service := NewDepositService(db, gateway.NewClientWith("http://unused", "ci", "cs", nil), nil, testRules())

	t.Run("local database is the source of truth", func(t *testing.T) {
		now := time.Now()
		mock.ExpectQuery("SELECT identifier, user_id, amount, gateway_transaction_id, status, created_at, expires_at, confirmed_at FROM deposit_intents").
			WithArgs("dep-1", 7).
			WillReturnRows(sqlmock.NewRows([]string{"identifier", "user_id", "amount", "gateway_transaction_id", "status", "created_at", "expires_at", "confirmed_at"}).
				AddRow("dep-1", 7, 5000, "gw-tx-1", "confirmed", now, now.Add(30*time.Minute), now))

		router := newTestRouter("/deposits/{identifier}", service.GetDeposit)
		req := authedRequest("GET", "/deposits/dep-1", nil)
		w := httptest.NewRecorder()

		router.ServeHTTP(w, req)

		assert.Equal(t, http.StatusOK, w.Code)
		var response map[string]interface{}
		json.Unmarshal(w.Body.Bytes(), &response)
		assert.Equal(t, "confirmed", response["status"])
		assert.Equal(t, float64(5000), response["amount"])
	})

	t.Run("other users' deposits invisible", func(t *testing.T) {
		mock.ExpectQuery("SELECT identifier, user_id, amount, gateway_transaction_id, status, created_at, expires_at, confirmed_at FROM deposit_intents").
			WithArgs("dep-2", 7).
			WillReturnRows(sqlmock.NewRows([]string{"identifier"}))

		router := newTestRouter("/deposits/{identifier}", service.GetDeposit)
		req := authedRequest("GET", "/deposits/dep-2", nil)
		w := httptest.NewRecorder()

		router.ServeHTTP(w, req)

		assert.Equal(t, http.StatusNotFound, w.Code)
	})
}
