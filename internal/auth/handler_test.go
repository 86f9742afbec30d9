package auth

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestService(t *testing.T) *Service {
	t.Helper()
	hash, err := HashPassword("hunter22")
	require.NoError(t, err)
	return NewService(NewJWTManager(testSecret, time.Hour), "@Ops", hash)
}

func TestService_Login(t *testing.T) {
	svc := newTestService(t)
	assert.Equal(t, "ops", svc.Username())

	tok, err := svc.Login("ops", "hunter22")
	require.NoError(t, err)
	claims, err := svc.JWT().Validate(tok.AccessToken)
	require.NoError(t, err)
	assert.Equal(t, "ops", claims.Username)

	_, err = svc.Login("ops", "wrong")
	assert.ErrorIs(t, err, ErrInvalidCredentials)
	_, err = svc.Login("mallory", "hunter22")
	assert.ErrorIs(t, err, ErrInvalidCredentials)
}

func TestHandler_Token(t *testing.T) {
	h := NewHandler(newTestService(t))

	t.Run("valid credentials", func(t *testing.T) {
		rec := httptest.NewRecorder()
		h.Token(rec, httptest.NewRequest("POST", "/token", strings.NewReader(`{"username":"ops","password":"hunter22"}`)))
		require.Equal(t, http.StatusOK, rec.Code)

		var body struct {
			Data Token `json:"data"`
		}
		require.NoError(t, json.NewDecoder(rec.Body).Decode(&body))
		assert.NotEmpty(t, body.Data.AccessToken)
	})

	t.Run("wrong password", func(t *testing.T) {
		rec := httptest.NewRecorder()
		h.Token(rec, httptest.NewRequest("POST", "/token", strings.NewReader(`{"username":"ops","password":"nope"}`)))
		assert.Equal(t, http.StatusUnauthorized, rec.Code)
		assert.Contains(t, rec.Body.String(), "invalid username or password")
	})

	t.Run("missing field", func(t *testing.T) {
		rec := httptest.NewRecorder()
		h.Token(rec, httptest.NewRequest("POST", "/token", strings.NewReader(`{"username":"ops"}`)))
		assert.Equal(t, http.StatusBadRequest, rec.Code)
	})

	t.Run("malformed body", func(t *testing.T) {
		rec := httptest.NewRecorder()
		h.Token(rec, httptest.NewRequest("POST", "/token", strings.NewReader(`{`)))
		assert.Equal(t, http.StatusBadRequest, rec.Code)
	})
}

func TestMiddleware(t *testing.T) {
	mgr := NewJWTManager(testSecret, time.Hour)
	var seen *AdminClaims
	h := Middleware(mgr)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen = GetAdminClaims(r.Context())
	}))

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest("GET", "/", nil))
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	req := httptest.NewRequest("GET", "/", nil)
	req.Header.Set("Authorization", "Basic abc")
	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	req = httptest.NewRequest("GET", "/", nil)
	req.Header.Set("Authorization", "Bearer garbage")
	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Contains(t, rec.Body.String(), "invalid or expired token")

	tok, err := mgr.Generate("ops")
	require.NoError(t, err)
	req = httptest.NewRequest("GET", "/", nil)
	req.Header.Set("Authorization", "bearer "+tok.AccessToken)
	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusOK, rec.Code)
	require.NotNil(t, seen)
	assert.Equal(t, "ops", seen.Username)
}
