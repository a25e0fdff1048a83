package middleware

import (
	"fmt"
	"net"
	"net/http"
	"strconv"
	"time"

	apperror "paletteledger/internal/errors"
	"paletteledger/internal/pkg/cache"
	"paletteledger/internal/pkg/logger"
	"paletteledger/internal/pkg/respond"
)

// RateLimiter limita as requisições por janela fixa. A chave é o usuário autenticado
// quando houver identidade no contexto, senão o IP.
func RateLimiter(client cache.Client, limit int, period time.Duration, log logger.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			key := "rate-limit:" + rateLimitSubject(r)

			count, err := client.Incr(r.Context(), key, period)
			if err != nil {
				// Cache fora do ar não derruba a API.
				log.Warn("Rate limiter indisponível, requisição liberada.", map[string]interface{}{"key": key, "error": err.Error()})
				next.ServeHTTP(w, r)
				return
			}

			remaining := limit - count
			if remaining < 0 {
				remaining = 0
			}
			w.Header().Set("X-RateLimit-Limit", strconv.Itoa(limit))
			w.Header().Set("X-RateLimit-Remaining", strconv.Itoa(remaining))

			if count > limit {
				w.Header().Set("Retry-After", strconv.Itoa(int(period.Seconds())))
				respond.Error(w, r, log, apperror.NewRateLimitedError(fmt.Sprintf("máximo de %d requisições a cada %s.", limit, period)))
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}

func rateLimitSubject(r *http.Request) string {
	if identity, ok := IdentityFromContext(r.Context()); ok && identity.UserID != "" {
		return "user:" + identity.UserID
	}
	ip, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		ip = r.RemoteAddr
	}
	return "ip:" + ip
}
