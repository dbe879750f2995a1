package services

import (
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/premiobox/backend/internal/models"
	"github.com/stretchr/testify/assert"
)

func accountRows(userID int, balance int64, version int) *sqlmock.Rows {
	return sqlmock.NewRows([]string{
		"user_id", "cash_balance", "rollover_required", "rollover_progress",
		"rollover_unlocked", "first_deposit_done", "version",
	}).AddRow(userID, balance, 0, 0, false, false, version)
}

func TestLedgerService_AppendTx(t *testing.T) {
	db, mock, err := sqlmock.New()
	assert.NoError(t, err)
	defer db.Close()

	service := NewLedgerService(db)

	t.Run("credit appends entry and updates projection", func(t *testing.T) {
		mock.ExpectBegin()
		mock.ExpectQuery("SELECT user_id, cash_balance, rollover_required, rollover_progress, rollover_unlocked, first_deposit_done, version FROM accounts").
			WithArgs(7).
			WillReturnRows(accountRows(7, 1000, 3))
		mock.ExpectExec("INSERT INTO ledger_entries").
			WithArgs(7, models.EntryKindDeposit, int64(5000), "tx-abc", sqlmock.AnyArg()).
			WillReturnResult(sqlmock.NewResult(1, 1))
		mock.ExpectExec("UPDATE accounts SET cash_balance").
			WithArgs(int64(6000), sqlmock.AnyArg(), 7, 3).
			WillReturnResult(sqlmock.NewResult(0, 1))
		mock.ExpectCommit()

		tx, err := db.Begin()
		assert.NoError(t, err)

		err = service.AppendTx(tx, &models.LedgerEntry{
			UserID:      7,
			Kind:        models.EntryKindDeposit,
			Amount:      5000,
			ExternalRef: "tx-abc",
		})
		assert.NoError(t, err)
		assert.NoError(t, tx.Commit())
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("debit below zero fails", func(t *testing.T) {
		mock.ExpectBegin()
		mock.ExpectQuery("SELECT user_id, cash_balance, rollover_required, rollover_progress, rollover_unlocked, first_deposit_done, version FROM accounts").
			WithArgs(7).
			WillReturnRows(accountRows(7, 100, 1))
		mock.ExpectRollback()

		tx, err := db.Begin()
		assert.NoError(t, err)

		err = service.AppendTx(tx, &models.LedgerEntry{
			UserID: 7,
			Kind:   models.EntryKindCaseDebit,
			Amount: -5000,
		})
		assert.Equal(t, ErrInsufficientBalance, err)
		assert.NoError(t, tx.Rollback())
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("missing account", func(t *testing.T) {
		mock.ExpectBegin()
		mock.ExpectQuery("SELECT user_id, cash_balance, rollover_required, rollover_progress, rollover_unlocked, first_deposit_done, version FROM accounts").
			WithArgs(99).
			WillReturnRows(sqlmock.NewRows([]string{"user_id"}))
		mock.ExpectRollback()

		tx, err := db.Begin()
		assert.NoError(t, err)

		err = service.AppendTx(tx, &models.LedgerEntry{UserID: 99, Kind: models.EntryKindDeposit, Amount: 100})
		assert.Equal(t, ErrAccountNotFound, err)
		assert.NoError(t, tx.Rollback())
	})

	t.Run("stale version aborts", func(t *testing.T) {
		mock.ExpectBegin()
		mock.ExpectQuery("SELECT user_id, cash_balance, rollover_required, rollover_progress, rollover_unlocked, first_deposit_done, version FROM accounts").
			WithArgs(7).
			WillReturnRows(accountRows(7, 1000, 3))
		mock.ExpectExec("INSERT INTO ledger_entries").
			WillReturnResult(sqlmock.NewResult(1, 1))
		mock.ExpectExec("UPDATE accounts SET cash_balance").
			WillReturnResult(sqlmock.NewResult(0, 0))
		mock.ExpectRollback()

		tx, err := db.Begin()
		assert.NoError(t, err)

		err = service.AppendTx(tx, &models.LedgerEntry{UserID: 7, Kind: models.EntryKindDeposit, Amount: 100})
		assert.Error(t, err)
		assert.Contains(t, err.Error(), "concurrent modification")
		assert.NoError(t, tx.Rollback())
	})
}

func TestLedgerService_VerifyBalance(t *testing.T) {
	db, mock, err := sqlmock.New()
	assert.NoError(t, err)
	defer db.Close()

	service := NewLedgerService(db)

	t.Run("projection matches ledger", func(t *testing.T) {
		mock.ExpectQuery("SELECT cash_balance FROM accounts").
			WithArgs(7).
			WillReturnRows(sqlmock.NewRows([]string{"cash_balance"}).AddRow(4200))
		mock.ExpectQuery("SELECT COALESCE").
			WithArgs(7).
			WillReturnRows(sqlmock.NewRows([]string{"coalesce"}).AddRow(4200))

		ok, cached, derived, err := service.VerifyBalance(7)
		assert.NoError(t, err)
		assert.True(t, ok)
		assert.Equal(t, int64(4200), cached)
		assert.Equal(t, int64(4200), derived)
	})

	t.Run("drift detected", func(t *testing.T) {
		mock.ExpectQuery("SELECT cash_balance FROM accounts").
			WithArgs(7).
			WillReturnRows(sqlmock.NewRows([]string{"cash_balance"}).AddRow(4200))
		mock.ExpectQuery("SELECT COALESCE").
			WithArgs(7).
			WillReturnRows(sqlmock.NewRows([]string{"coalesce"}).AddRow(3000))

		ok, cached, derived, err := service.VerifyBalance(7)
		assert.NoError(t, err)
		assert.False(t, ok)
		assert.Equal(t, int64(4200), cached)
		assert.Equal(t, int64(3000), derived)
	})
}

func TestLedgerService_History(t *testing.T) {
	db, mock, err := sqlmock.New()
	assert.NoError(t, err)
	defer db.Close()

	service := NewLedgerService(db)

	mock.ExpectQuery("SELECT id, user_id, kind, amount, external_ref, created_at FROM ledger_entries").
		WithArgs(7, 50, 0).
		WillReturnRows(sqlmock.NewRows([]string{"id", "user_id", "kind", "amount", "external_ref", "created_at"}).
			AddRow(2, 7, models.EntryKindCaseDebit, -1500, "case-1", time.Now()).
			AddRow(1, 7, models.EntryKindDeposit, 5000, "tx-abc", time.Now()))

	entries, err := service.History(7, 50, 0)
	assert.NoError(t, err)
	assert.Len(t, entries, 2)
	assert.Equal(t, models.EntryKindCaseDebit, entries[0].Kind)
	assert.Equal(t, int64(5000), entries[1].Amount)
}
