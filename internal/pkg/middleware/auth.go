package middleware

import (
	"context"
	"net/http"
	"strings"

	"paletteledger/internal/domain"
	apperror "paletteledger/internal/errors"
	"paletteledger/internal/pkg/logger"
	"paletteledger/internal/pkg/respond"
	"paletteledger/internal/pkg/token"
)

// ContextKey é o tipo das chaves que o middleware grava no contexto.
type ContextKey int

const (
	IdentityKey ContextKey = iota
)

// TokenService define o contrato de validação necessário para o middleware.
type TokenService interface {
	ValidateToken(tokenString string) (*token.CustomClaims, error)
}

// NewAuthMiddleware valida o JWT do header Authorization e anexa a identidade
// (usuário, empresa e papel) ao contexto da requisição.
func NewAuthMiddleware(tokenSvc TokenService, log logger.Logger) func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {

			// 1. Extrair o Token do Header Authorization: Bearer <token>
			authHeader := r.Header.Get("Authorization")
			tokenString, found := strings.CutPrefix(authHeader, "Bearer ")
			if !found || strings.TrimSpace(tokenString) == "" {
				respond.Error(w, r, log, apperror.NewUnauthorizedError("Token de autorização ausente ou malformado."))
				return
			}

			// 2. Validar o Token
			claims, err := tokenSvc.ValidateToken(strings.TrimSpace(tokenString))
			if err != nil {
				log.Debug("Token recusado.", map[string]interface{}{"path": r.URL.Path, "error": err.Error()})
				respond.Error(w, r, log, apperror.NewUnauthorizedError("Token inválido ou expirado."))
				return
			}

			// 3. Anexar a identidade ao contexto
			ctx := WithIdentity(r.Context(), claims.Identity())
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// WithIdentity grava a identidade no contexto.
func WithIdentity(ctx context.Context, identity domain.Identity) context.Context {
	return context.WithValue(ctx, IdentityKey, identity)
}

// IdentityFromContext é uma função utilitária para extrair a identidade no handler.
func IdentityFromContext(ctx context.Context) (domain.Identity, bool) {
	identity, ok := ctx.Value(IdentityKey).(domain.Identity)
	return identity, ok
}

// PermissionMiddleware libera a rota apenas para os papéis informados.
func PermissionMiddleware(log logger.Logger, requiredRoles ...domain.UserRole) func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {

			// 1. Sem identidade, o AuthMiddleware não rodou
			identity, ok := IdentityFromContext(r.Context())
			if !ok {
				respond.Error(w, r, log, apperror.NewUnauthorizedError("Autorização necessária. Token não processado."))
				return
			}

			// 2. Verificar Permissão (AuthZ)
			for _, requiredRole := range requiredRoles {
				if identity.Role == requiredRole {
					next.ServeHTTP(w, r)
					return
				}
			}

			respond.Error(w, r, log, apperror.NewForbiddenError("Você não tem a permissão necessária."))
		})
	}
}

// RequireIdentity devolve a identidade do contexto ou um UnauthorizedError.
func RequireIdentity(ctx context.Context) (domain.Identity, error) {
	identity, ok := IdentityFromContext(ctx)
	if !ok {
		return domain.Identity{}, apperror.NewUnauthorizedError("Autorização necessária. Token não processado.")
	}
	return identity, nil
}
