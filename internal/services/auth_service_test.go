package services

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
)

func setAuthTestConfig() {
	viper.Set("argon2.time", 1)
	viper.Set("argon2.memory", 1024)
	viper.Set("argon2.threads", 1)
	viper.Set("argon2.key_length", 32)
	viper.Set("argon2.salt_length", 16)
	viper.Set("jwt.secret_key", "test-secret")
	viper.Set("jwt.expiry_hours", 1)
}

func TestPasswordHashing(t *testing.T) {
	setAuthTestConfig()

	t.Run("roundtrip verifies", func(t *testing.T) {
		hashed, err := hashPassword("password123")
		assert.NoError(t, err)
		assert.True(t, verifyPassword("password123", hashed))
	})

	t.Run("wrong password fails", func(t *testing.T) {
		hashed, err := hashPassword("password123")
		assert.NoError(t, err)
		assert.False(t, verifyPassword("password456", hashed))
	})

	t.Run("same password hashes differently", func(t *testing.T) {
		first, _ := hashPassword("password123")
		second, _ := hashPassword("password123")
		assert.NotEqual(t, first, second)
	})

	t.Run("malformed hash fails closed", func(t *testing.T) {
		assert.False(t, verifyPassword("password123", "garbage"))
		assert.False(t, verifyPassword("password123", "not$base64$parts"))
	})
}

func TestGenerateReferralCode(t *testing.T) {
	code, err := generateReferralCode()
	assert.NoError(t, err)
	assert.Len(t, code, 8)
	assert.Regexp(t, "^[0-9a-f]{8}$", code)

	other, err := generateReferralCode()
	assert.NoError(t, err)
	assert.NotEqual(t, code, other)
}

func TestAuthService_Register(t *testing.T) {
	setAuthTestConfig()

	db, mock, err := sqlmock.New()
	assert.NoError(t, err)
	defer db.Close()

	rules := testRules()
	affiliates := NewAffiliateService(db, NewLedgerService(db), rules)
	service := NewAuthService(db, nil, affiliates)

	validReq := func() map[string]string {
		return map[string]string{
			"Email":       "user@example.com",
			"Password":    "password123",
			"FirstName":   "Joao",
			"LastName":    "Silva",
			"CPF":         "12345678901",
			"PhoneNumber": "+5511987654321",
		}
	}

	t.Run("creates user, account and token", func(t *testing.T) {
		mock.ExpectBegin()
		mock.ExpectQuery("INSERT INTO users").
			WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow(7))
		mock.ExpectExec("INSERT INTO accounts").
			WillReturnResult(sqlmock.NewResult(1, 1))
		mock.ExpectCommit()

		body, _ := json.Marshal(validReq())
		req := httptest.NewRequest("POST", "/auth/register", bytes.NewBuffer(body))
		w := httptest.NewRecorder()

		service.Register(w, req)

		assert.Equal(t, http.StatusOK, w.Code)
		var response AuthResponse
		json.Unmarshal(w.Body.Bytes(), &response)
		assert.NotEmpty(t, response.Token)
		assert.Equal(t, 7, response.User.ID)
		assert.Len(t, response.User.ReferralCode, 8)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("referral code links the affiliate in the same transaction", func(t *testing.T) {
		mock.ExpectBegin()
		mock.ExpectQuery("INSERT INTO users").
			WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow(8))
		mock.ExpectExec("INSERT INTO accounts").
			WillReturnResult(sqlmock.NewResult(1, 1))
		mock.ExpectQuery("SELECT id FROM users WHERE referral_code").
			WithArgs("a3f2c1b0").
			WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow(2))
		mock.ExpectExec("INSERT INTO affiliate_links").
			WithArgs(2, 8, "a3f2c1b0", sqlmock.AnyArg()).
			WillReturnResult(sqlmock.NewResult(1, 1))
		mock.ExpectCommit()

		payload := validReq()
		payload["ReferralCode"] = "a3f2c1b0"
		body, _ := json.Marshal(payload)
		req := httptest.NewRequest("POST", "/auth/register", bytes.NewBuffer(body))
		w := httptest.NewRecorder()

		service.Register(w, req)

		assert.Equal(t, http.StatusOK, w.Code)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("bad referral code does not block signup", func(t *testing.T) {
		mock.ExpectBegin()
		mock.ExpectQuery("INSERT INTO users").
			WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow(9))
		mock.ExpectExec("INSERT INTO accounts").
			WillReturnResult(sqlmock.NewResult(1, 1))
		mock.ExpectQuery("SELECT id FROM users WHERE referral_code").
			WithArgs("deadbeef").
			WillReturnRows(sqlmock.NewRows([]string{"id"}))
		mock.ExpectCommit()

		payload := validReq()
		payload["ReferralCode"] = "deadbeef"
		body, _ := json.Marshal(payload)
		req := httptest.NewRequest("POST", "/auth/register", bytes.NewBuffer(body))
		w := httptest.NewRecorder()

		service.Register(w, req)

		assert.Equal(t, http.StatusOK, w.Code)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("validation failure", func(t *testing.T) {
		payload := validReq()
		payload["CPF"] = "123" // must be 11 digits
		body, _ := json.Marshal(payload)
		req := httptest.NewRequest("POST", "/auth/register", bytes.NewBuffer(body))
		w := httptest.NewRecorder()

		service.Register(w, req)

		assert.Equal(t, http.StatusBadRequest, w.Code)
	})

	t.Run("unknown fields rejected", func(t *testing.T) {
		payload := validReq()
		payload["Admin"] = "true"
		body, _ := json.Marshal(payload)
		req := httptest.NewRequest("POST", "/auth/register", bytes.NewBuffer(body))
		w := httptest.NewRecorder()

		service.Register(w, req)

		assert.Equal(t, http.StatusBadRequest, w.Code)
	})
}

func TestAuthService_Login(t *testing.T) {
	setAuthTestConfig()

	db, mock, err := sqlmock.New()
	assert.NoError(t, err)
	defer db.Close()

	service := NewAuthService(db, nil, nil)

	t.Run("valid credentials", func(t *testing.T) {
		hashed, _ := hashPassword("password123")
		mock.ExpectQuery("SELECT id, email, first_name, last_name, password, referral_code FROM users").
			WithArgs("user@example.com").
			WillReturnRows(sqlmock.NewRows([]string{"id", "email", "first_name", "last_name", "password", "referral_code"}).
				AddRow(7, "user@example.com", "Joao", "Silva", hashed, "a3f2c1b0"))

		body, _ := json.Marshal(LoginRequest{Email: "user@example.com", Password: "password123"})
		req := httptest.NewRequest("POST", "/auth/login", bytes.NewBuffer(body))
		w := httptest.NewRecorder()

		service.Login(w, req)

		assert.Equal(t, http.StatusOK, w.Code)
		var response AuthResponse
		json.Unmarshal(w.Body.Bytes(), &response)
		assert.NotEmpty(t, response.Token)
		assert.Equal(t, 7, response.User.ID)
	})

	t.Run("wrong password", func(t *testing.T) {
		hashed, _ := hashPassword("password123")
		mock.ExpectQuery("SELECT id, email, first_name, last_name, password, referral_code FROM users").
			WithArgs("user@example.com").
			WillReturnRows(sqlmock.NewRows([]string{"id", "email", "first_name", "last_name", "password", "referral_code"}).
				AddRow(7, "user@example.com", "Joao", "Silva", hashed, "a3f2c1b0"))

		body, _ := json.Marshal(LoginRequest{Email: "user@example.com", Password: "wrongpassword"})
		req := httptest.NewRequest("POST", "/auth/login", bytes.NewBuffer(body))
		w := httptest.NewRecorder()

		service.Login(w, req)

		assert.Equal(t, http.StatusUnauthorized, w.Code)
	})

	t.Run("unknown email", func(t *testing.T) {
		mock.ExpectQuery("SELECT id, email, first_name, last_name, password, referral_code FROM users").
			WithArgs("ghost@example.com").
			WillReturnError(assert.AnError)

		body, _ := json.Marshal(LoginRequest{Email: "ghost@example.com", Password: "password123"})
		req := httptest.NewRequest("POST", "/auth/login", bytes.NewBuffer(body))
		w := httptest.NewRecorder()

		service.Login(w, req)

		assert.Equal(t, http.StatusUnauthorized, w.Code)
	})
}
