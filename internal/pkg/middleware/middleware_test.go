package middleware_test

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"paletteledger/internal/domain"
	apperror "paletteledger/internal/errors"
	"paletteledger/internal/pkg/cache"
	"paletteledger/internal/pkg/logger"
	"paletteledger/internal/pkg/middleware"
	"paletteledger/internal/pkg/token"
)

var depotUser = domain.Identity{UserID: "u1", CompanyID: "depot", Role: domain.RoleLogistician}

// echoIdentity devolve a identidade encontrada no contexto.
func echoIdentity(w http.ResponseWriter, r *http.Request) {
	identity, ok := middleware.IdentityFromContext(r.Context())
	if !ok {
		w.WriteHeader(http.StatusTeapot)
		return
	}
	json.NewEncoder(w).Encode(identity)
}

func decodeError(t *testing.T, rec *httptest.ResponseRecorder) domain.ErrorResponse {
	t.Helper()
	var body domain.ErrorResponse
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&body))
	return body
}

// TestAuthMiddleware_AttachesIdentity testa que um token válido chega ao handler como identidade.
func TestAuthMiddleware_AttachesIdentity(t *testing.T) {
	tokens := token.NewService("segredo", "symphonia-auth", time.Hour)
	tok, err := tokens.GenerateToken(depotUser)
	require.NoError(t, err)

	h := middleware.NewAuthMiddleware(tokens, logger.NewNopLogger())(http.HandlerFunc(echoIdentity))
	req := httptest.NewRequest(http.MethodGet, "/palette/sites", nil)
	req.Header.Set("Authorization", "Bearer "+tok)
	rec := httptest.NewRecorder()

	h.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	var got domain.Identity
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&got))
	assert.Equal(t, depotUser, got)
}

// TestAuthMiddleware_Rejects testa header ausente, esquema errado e token inválido.
func TestAuthMiddleware_Rejects(t *testing.T) {
	tokens := token.NewService("segredo", "symphonia-auth", time.Hour)
	h := middleware.NewAuthMiddleware(tokens, logger.NewNopLogger())(http.HandlerFunc(echoIdentity))

	for _, header := range []string{"", "Basic abc", "Bearer ", "Bearer lixo"} {
		req := httptest.NewRequest(http.MethodGet, "/palette/sites", nil)
		if header != "" {
			req.Header.Set("Authorization", header)
		}
		rec := httptest.NewRecorder()

		h.ServeHTTP(rec, req)

		assert.Equal(t, http.StatusUnauthorized, rec.Code, header)
		body := decodeError(t, rec)
		assert.Equal(t, apperror.CategoryUnauthorized, body.Category)
		assert.False(t, body.Retryable)
	}
}

// TestPermissionMiddleware testa a liberação por papel.
func TestPermissionMiddleware(t *testing.T) {
	h := middleware.PermissionMiddleware(logger.NewNopLogger(), domain.RoleAdmin)(http.HandlerFunc(echoIdentity))

	admin := httptest.NewRequest(http.MethodGet, "/palette/admin/cheques", nil)
	admin = admin.WithContext(middleware.WithIdentity(admin.Context(), domain.Identity{UserID: "root", Role: domain.RoleAdmin}))
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, admin)
	assert.Equal(t, http.StatusOK, rec.Code)

	company := httptest.NewRequest(http.MethodGet, "/palette/admin/cheques", nil)
	company = company.WithContext(middleware.WithIdentity(company.Context(), depotUser))
	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, company)
	assert.Equal(t, http.StatusForbidden, rec.Code)
	assert.Equal(t, apperror.CategoryForbidden, decodeError(t, rec).Category)

	anonymous := httptest.NewRequest(http.MethodGet, "/palette/admin/cheques", nil)
	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, anonymous)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

// TestRateLimiter_PerUser testa o limite por usuário e a resposta 429 retentável.
func TestRateLimiter_PerUser(t *testing.T) {
	ok := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) { w.WriteHeader(http.StatusOK) })
	h := middleware.RateLimiter(cache.NewMemoryClient(), 2, time.Minute, logger.NewNopLogger())(ok)

	call := func(identity domain.Identity) *httptest.ResponseRecorder {
		req := httptest.NewRequest(http.MethodGet, "/palette/sites", nil)
		req = req.WithContext(middleware.WithIdentity(req.Context(), identity))
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, req)
		return rec
	}

	assert.Equal(t, http.StatusOK, call(depotUser).Code)
	second := call(depotUser)
	assert.Equal(t, http.StatusOK, second.Code)
	assert.Equal(t, "0", second.Header().Get("X-RateLimit-Remaining"))

	third := call(depotUser)
	assert.Equal(t, http.StatusTooManyRequests, third.Code)
	assert.Equal(t, "60", third.Header().Get("Retry-After"))
	body := decodeError(t, third)
	assert.Equal(t, apperror.CategoryRateLimited, body.Category)
	assert.True(t, body.Retryable)

	// outro usuário tem sua própria janela
	assert.Equal(t, http.StatusOK, call(domain.Identity{UserID: "u2", Role: domain.RoleIndustry}).Code)
}

type brokenCache struct{ cache.Client }

func (brokenCache) Incr(context.Context, string, time.Duration) (int, error) {
	return 0, errors.New("redis: connection refused")
}

// TestRateLimiter_FailsOpen testa que o cache indisponível não bloqueia a API.
func TestRateLimiter_FailsOpen(t *testing.T) {
	var buf bytes.Buffer
	ok := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) { w.WriteHeader(http.StatusNoContent) })
	h := middleware.RateLimiter(brokenCache{}, 1, time.Minute, logger.NewLoggerWithWriter("debug", &buf))(ok)

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/ping", nil))

	assert.Equal(t, http.StatusNoContent, rec.Code)
	assert.True(t, strings.Contains(buf.String(), "Rate limiter indisponível"))
}

// TestRequestLogger testa o registro de status da requisição.
func TestRequestLogger(t *testing.T) {
	var buf bytes.Buffer
	h := middleware.RequestLogger(logger.NewLoggerWithWriter("debug", &buf))(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusCreated)
	}))

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/palette/cheques", nil))

	assert.Equal(t, http.StatusCreated, rec.Code)
	assert.Contains(t, buf.String(), "/palette/cheques")
	assert.Contains(t, buf.String(), "201")
}
