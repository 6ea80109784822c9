package services

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/go-redis/redismock/v8"
	"github.com/golang-jwt/jwt/v5"
	"github.com/lib/pq"
	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
)

func setupAuthTestConfig() {
	viper.Set("jwt.secret_key", "test-secret-key")
	viper.Set("jwt.expiry_hours", 24)
	viper.Set("argon2.salt_length", 16)
	viper.Set("argon2.time", 1)
	viper.Set("argon2.memory", 64*1024)
	viper.Set("argon2.threads", 4)
	viper.Set("argon2.key_length", 32)
}

func TestAuthService_Register(t *testing.T) {
	setupAuthTestConfig()

	db, mock, err := sqlmock.New()
	assert.NoError(t, err)
	defer db.Close()

	service := NewAuthService(db, nil)

	t.Run("successful registration seeds the starting balance", func(t *testing.T) {
		mock.ExpectQuery("INSERT INTO users").
			WithArgs("user@example.com", "johndoe", sqlmock.AnyArg(), "John Doe", sqlmock.AnyArg()).
			WillReturnRows(sqlmock.NewRows([]string{"id", "created_at"}).AddRow(1, time.Now()))

		body := `{"email":"USER@example.com","username":"johndoe","password":"password123","full_name":"John Doe"}`
		req := httptest.NewRequest("POST", "/auth/register", strings.NewReader(body))
		w := httptest.NewRecorder()
		service.Register(w, req)

		assert.Equal(t, http.StatusOK, w.Code)

		var resp map[string]any
		assert.NoError(t, json.NewDecoder(w.Body).Decode(&resp))
		assert.NotEmpty(t, resp["access_token"])
		assert.Equal(t, "bearer", resp["token_type"])

		user := resp["user"].(map[string]any)
		assert.Equal(t, float64(1), user["id"])
		assert.Equal(t, "user@example.com", user["email"])
		assert.Equal(t, "1000.00", user["balance"])
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("duplicate username", func(t *testing.T) {
		mock.ExpectQuery("INSERT INTO users").
			WillReturnError(&pq.Error{Code: uniqueViolation, Constraint: "users_username_key"})

		body := `{"email":"other@example.com","username":"johndoe","password":"password123"}`
		req := httptest.NewRequest("POST", "/auth/register", strings.NewReader(body))
		w := httptest.NewRecorder()
		service.Register(w, req)

		assert.Equal(t, http.StatusBadRequest, w.Code)

		var resp ErrorResponse
		assert.NoError(t, json.NewDecoder(w.Body).Decode(&resp))
		assert.Contains(t, resp.Error, "username")
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("duplicate email", func(t *testing.T) {
		mock.ExpectQuery("INSERT INTO users").
			WillReturnError(&pq.Error{Code: uniqueViolation, Constraint: "users_email_key"})

		body := `{"email":"user@example.com","username":"someoneelse","password":"password123"}`
		req := httptest.NewRequest("POST", "/auth/register", strings.NewReader(body))
		w := httptest.NewRecorder()
		service.Register(w, req)

		assert.Equal(t, http.StatusBadRequest, w.Code)

		var resp ErrorResponse
		assert.NoError(t, json.NewDecoder(w.Body).Decode(&resp))
		assert.Contains(t, resp.Error, "email")
	})

	t.Run("invalid email", func(t *testing.T) {
		body := `{"email":"not-an-email","username":"johndoe","password":"password123"}`
		req := httptest.NewRequest("POST", "/auth/register", strings.NewReader(body))
		w := httptest.NewRecorder()
		service.Register(w, req)

		assert.Equal(t, http.StatusUnprocessableEntity, w.Code)
	})

	t.Run("short password", func(t *testing.T) {
		body := `{"email":"user@example.com","username":"johndoe","password":"123"}`
		req := httptest.NewRequest("POST", "/auth/register", strings.NewReader(body))
		w := httptest.NewRecorder()
		service.Register(w, req)

		assert.Equal(t, http.StatusUnprocessableEntity, w.Code)
	})
}

func TestAuthService_Login(t *testing.T) {
	setupAuthTestConfig()

	db, mock, err := sqlmock.New()
	assert.NoError(t, err)
	defer db.Close()

	service := NewAuthService(db, nil)

	hashed, err := hashPassword("password123")
	assert.NoError(t, err)

	userColumns := []string{"id", "email", "username", "full_name", "balance", "password", "created_at"}

	t.Run("successful login", func(t *testing.T) {
		mock.ExpectQuery("SELECT id, email, username").
			WithArgs("johndoe").
			WillReturnRows(sqlmock.NewRows(userColumns).
				AddRow(1, "user@example.com", "johndoe", "John Doe", "1000.00", hashed, time.Now()))

		body := `{"username":"johndoe","password":"password123"}`
		req := httptest.NewRequest("POST", "/auth/login", strings.NewReader(body))
		w := httptest.NewRecorder()
		service.Login(w, req)

		assert.Equal(t, http.StatusOK, w.Code)

		var resp map[string]any
		assert.NoError(t, json.NewDecoder(w.Body).Decode(&resp))
		assert.NotEmpty(t, resp["access_token"])
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("wrong password", func(t *testing.T) {
		mock.ExpectQuery("SELECT id, email, username").
			WithArgs("johndoe").
			WillReturnRows(sqlmock.NewRows(userColumns).
				AddRow(1, "user@example.com", "johndoe", "John Doe", "1000.00", hashed, time.Now()))

		body := `{"username":"johndoe","password":"wrongpassword"}`
		req := httptest.NewRequest("POST", "/auth/login", strings.NewReader(body))
		w := httptest.NewRecorder()
		service.Login(w, req)

		assert.Equal(t, http.StatusUnauthorized, w.Code)
	})

	t.Run("unknown username", func(t *testing.T) {
		mock.ExpectQuery("SELECT id, email, username").
			WithArgs("ghost1").
			WillReturnError(sql.ErrNoRows)

		body := `{"username":"ghost1","password":"password123"}`
		req := httptest.NewRequest("POST", "/auth/login", strings.NewReader(body))
		w := httptest.NewRecorder()
		service.Login(w, req)

		assert.Equal(t, http.StatusUnauthorized, w.Code)
	})
}

func TestAuthService_Logout(t *testing.T) {
	setupAuthTestConfig()

	db, _, err := sqlmock.New()
	assert.NoError(t, err)
	defer db.Close()

	redisClient, redisMock := redismock.NewClientMock()
	service := NewAuthService(db, redisClient)

	t.Run("token is blacklisted until expiry", func(t *testing.T) {
		token := "some.jwt.token"
		redisMock.ExpectSet(fmt.Sprintf("blacklist:%s", token), "1", 24*time.Hour).SetVal("OK")

		req := httptest.NewRequest("POST", "/auth/logout", nil)
		req.Header.Set("Authorization", "Bearer "+token)
		w := httptest.NewRecorder()
		service.Logout(w, req)

		assert.Equal(t, http.StatusOK, w.Code)
		assert.NoError(t, redisMock.ExpectationsWereMet())
	})

	t.Run("logout without token still succeeds", func(t *testing.T) {
		req := httptest.NewRequest("POST", "/auth/logout", nil)
		w := httptest.NewRecorder()
		service.Logout(w, req)

		assert.Equal(t, http.StatusOK, w.Code)
	})
}

func TestAuthService_Me(t *testing.T) {
	setupAuthTestConfig()

	db, mock, err := sqlmock.New()
	assert.NoError(t, err)
	defer db.Close()

	service := NewAuthService(db, nil)

	t.Run("returns profile with balance", func(t *testing.T) {
		mock.ExpectQuery("SELECT id, email, username").
			WithArgs(1).
			WillReturnRows(sqlmock.NewRows(
				[]string{"id", "email", "username", "full_name", "balance", "created_at", "updated_at"}).
				AddRow(1, "user@example.com", "johndoe", "John Doe", "849.25", time.Now(), nil))

		req := httptest.NewRequest("GET", "/auth/me", nil)
		req = req.WithContext(context.WithValue(req.Context(), "userID", 1))
		w := httptest.NewRecorder()
		service.Me(w, req)

		assert.Equal(t, http.StatusOK, w.Code)

		var resp map[string]any
		assert.NoError(t, json.NewDecoder(w.Body).Decode(&resp))
		assert.Equal(t, "johndoe", resp["username"])
		assert.Equal(t, "849.25", resp["balance"])
	})

	t.Run("unauthenticated", func(t *testing.T) {
		req := httptest.NewRequest("GET", "/auth/me", nil)
		w := httptest.NewRecorder()
		service.Me(w, req)

		assert.Equal(t, http.StatusUnauthorized, w.Code)
	})
}

func TestPasswordHashing(t *testing.T) {
	setupAuthTestConfig()

	hash, err := hashPassword("password123")
	assert.NoError(t, err)
	assert.NotEmpty(t, hash)
	assert.Contains(t, hash, "$")

	assert.True(t, verifyPassword("password123", hash))
	assert.False(t, verifyPassword("wrongpassword", hash))
	assert.False(t, verifyPassword("password123", "malformed-hash"))

	// Same password, fresh salt, different hash
	hash2, err := hashPassword("password123")
	assert.NoError(t, err)
	assert.NotEqual(t, hash, hash2)
}

func TestGenerateJWT(t *testing.T) {
	setupAuthTestConfig()

	token, err := generateJWT(42)
	assert.NoError(t, err)
	assert.NotEmpty(t, token)

	parsed, err := jwt.Parse(token, func(token *jwt.Token) (interface{}, error) {
		return []byte(viper.GetString("jwt.secret_key")), nil
	})
	assert.NoError(t, err)
	assert.True(t, parsed.Valid)

	claims, ok := parsed.Claims.(jwt.MapClaims)
	assert.True(t, ok)
	assert.Equal(t, float64(42), claims["user_id"])
}
