package services

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
)

func lockedAccountRows(userID int, balance, required, progress int64) *sqlmock.Rows {
	return sqlmock.NewRows([]string{
		"user_id", "cash_balance", "rollover_required", "rollover_progress",
		"rollover_unlocked", "first_deposit_done", "version",
	}).AddRow(userID, balance, required, progress, false, true, 1)
}

func unlockedAccountRows(userID int, balance int64, version int) *sqlmock.Rows {
	return sqlmock.NewRows([]string{
		"user_id", "cash_balance", "rollover_required", "rollover_progress",
		"rollover_unlocked", "first_deposit_done", "version",
	}).AddRow(userID, balance, 10000, 10000, true, true, version)
}

func TestWithdrawalService_RequestWithdrawal(t *testing.T) {
	db, mock, err := sqlmock.New()
	assert.NoError(t, err)
	defer db.Close()

	service := NewWithdrawalService(db, NewLedgerService(db), testRules())

	t.Run("rollover incomplete blocks and reports remaining", func(t *testing.T) {
		mock.ExpectBegin()
		mock.ExpectQuery("SELECT user_id, cash_balance, rollover_required, rollover_progress, rollover_unlocked, first_deposit_done, version FROM accounts").
			WithArgs(7).
			WillReturnRows(lockedAccountRows(7, 20000, 10000, 4000))
		mock.ExpectRollback()

		body, _ := json.Marshal(WithdrawalRequest{Amount: 5000, PixKey: "user@example.com", PixKeyKind: "email"})
		req := authedRequest("POST", "/withdrawals", body)
		w := httptest.NewRecorder()

		service.RequestWithdrawal(w, req)

		assert.Equal(t, http.StatusUnprocessableEntity, w.Code)
		var response map[string]interface{}
		json.Unmarshal(w.Body.Bytes(), &response)
		assert.Equal(t, "ROLLOVER_INCOMPLETE", response["code"])
		assert.Equal(t, float64(6000), response["rolloverRemaining"])
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("unlocked account withdraws", func(t *testing.T) {
		mock.ExpectBegin()
		mock.ExpectQuery("SELECT user_id, cash_balance, rollover_required, rollover_progress, rollover_unlocked, first_deposit_done, version FROM accounts").
			WithArgs(7).
			WillReturnRows(unlockedAccountRows(7, 20000, 1))
		// AppendTx re-locks the same row inside the transaction.
		mock.ExpectQuery("SELECT user_id, cash_balance, rollover_required, rollover_progress, rollover_unlocked, first_deposit_done, version FROM accounts").
			WithArgs(7).
			WillReturnRows(unlockedAccountRows(7, 20000, 1))
		mock.ExpectExec("INSERT INTO ledger_entries").
			WillReturnResult(sqlmock.NewResult(1, 1))
		mock.ExpectExec("UPDATE accounts SET cash_balance").
			WithArgs(int64(15000), sqlmock.AnyArg(), 7, 1).
			WillReturnResult(sqlmock.NewResult(0, 1))
		mock.ExpectQuery("INSERT INTO withdrawals").
			WithArgs(7, int64(5000), "user@example.com", "email", sqlmock.AnyArg()).
			WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow(11))
		mock.ExpectCommit()

		body, _ := json.Marshal(WithdrawalRequest{Amount: 5000, PixKey: "user@example.com", PixKeyKind: "email"})
		req := authedRequest("POST", "/withdrawals", body)
		w := httptest.NewRecorder()

		service.RequestWithdrawal(w, req)

		assert.Equal(t, http.StatusCreated, w.Code)
		var response map[string]interface{}
		json.Unmarshal(w.Body.Bytes(), &response)
		assert.Equal(t, true, response["success"])
		assert.Equal(t, float64(11), response["withdrawalId"])
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("insufficient balance on an unlocked account", func(t *testing.T) {
		mock.ExpectBegin()
		mock.ExpectQuery("SELECT user_id, cash_balance, rollover_required, rollover_progress, rollover_unlocked, first_deposit_done, version FROM accounts").
			WithArgs(7).
			WillReturnRows(unlockedAccountRows(7, 1000, 1))
		mock.ExpectRollback()

		body, _ := json.Marshal(WithdrawalRequest{Amount: 5000, PixKey: "user@example.com", PixKeyKind: "email"})
		req := authedRequest("POST", "/withdrawals", body)
		w := httptest.NewRecorder()

		service.RequestWithdrawal(w, req)

		assert.Equal(t, http.StatusUnprocessableEntity, w.Code)
		var response ErrorResponse
		json.Unmarshal(w.Body.Bytes(), &response)
		assert.Equal(t, "INSUFFICIENT_BALANCE", response.Code)
	})

	t.Run("amount below minimum", func(t *testing.T) {
		body, _ := json.Marshal(WithdrawalRequest{Amount: 500, PixKey: "user@example.com", PixKeyKind: "email"})
		req := authedRequest("POST", "/withdrawals", body)
		w := httptest.NewRecorder()

		service.RequestWithdrawal(w, req)

		assert.Equal(t, http.StatusBadRequest, w.Code)
		var response ErrorResponse
		json.Unmarshal(w.Body.Bytes(), &response)
		assert.Equal(t, "AMOUNT_TOO_LOW", response.Code)
	})

	t.Run("invalid pix key kind", func(t *testing.T) {
		body, _ := json.Marshal(WithdrawalRequest{Amount: 5000, PixKey: "user@example.com", PixKeyKind: "iban"})
		req := authedRequest("POST", "/withdrawals", body)
		w := httptest.NewRecorder()

		service.RequestWithdrawal(w, req)

		assert.Equal(t, http.StatusBadRequest, w.Code)
	})
}

func TestWithdrawalService_ListWithdrawals(t *testing.T) {
	db, mock, err := sqlmock.New()
	assert.NoError(t, err)
	defer db.Close()

	service := NewWithdrawalService(db, NewLedgerService(db), testRules())

	mock.ExpectQuery("SELECT id, user_id, amount, pix_key, pix_key_kind, status, created_at, settled_at FROM withdrawals").
		WithArgs(7).
		WillReturnRows(sqlmock.NewRows([]string{"id", "user_id", "amount", "pix_key", "pix_key_kind", "status", "created_at", "settled_at"}))

	req := authedRequest("GET", "/withdrawals", nil)
	w := httptest.NewRecorder()

	service.ListWithdrawals(w, req)

	assert.Equal(t, http.StatusOK, w.Code)
	var response map[string]interface{}
	json.Unmarshal(w.Body.Bytes(), &response)
	assert.NotNil(t, response["withdrawals"])
}
