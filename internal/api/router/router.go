package router

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	httpSwagger "github.com/swaggo/http-swagger/v2"

	"paletteledger/internal/api/cheque"
	"paletteledger/internal/api/dispute"
	"paletteledger/internal/api/evidence"
	"paletteledger/internal/api/ledger"
	"paletteledger/internal/api/site"
	"paletteledger/internal/domain"
	"paletteledger/internal/pkg/cache"
	"paletteledger/internal/pkg/logger"
	"paletteledger/internal/pkg/middleware"
)

// Handlers agrupa os handlers já inicializados por injeção de dependências.
type Handlers struct {
	Cheque   *cheque.Handler
	Site     *site.Handler
	Ledger   *ledger.Handler
	Dispute  *dispute.Handler
	Evidence *evidence.Handler
}

// RateLimit configura o limitador por usuário.
type RateLimit struct {
	Client      cache.Client
	MaxRequests int
	Period      time.Duration
}

// NewRouter configura e retorna o roteador HTTP principal.
func NewRouter(h Handlers, tokenSvc middleware.TokenService, limit RateLimit, log logger.Logger) http.Handler {
	r := chi.NewRouter()

	// --- 1. Middlewares Globais ---
	r.Use(chimw.RequestID)
	r.Use(chimw.RealIP)
	r.Use(middleware.RequestLogger(log))
	r.Use(chimw.Recoverer)

	// --- 2. Rotas públicas ---
	r.Get("/ping", PingHandler)
	r.Get("/swagger/*", httpSwagger.Handler(httpSwagger.URL("/swagger/doc.json")))

	// --- 3. Rotas autenticadas ---
	r.Route("/palette", func(pr chi.Router) {
		pr.Use(middleware.NewAuthMiddleware(tokenSvc, log))
		if limit.Client != nil && limit.MaxRequests > 0 {
			pr.Use(middleware.RateLimiter(limit.Client, limit.MaxRequests, limit.Period, log))
		}

		pr.Route("/cheques", func(cr chi.Router) {
			cr.Post("/", h.Cheque.IssueChequeHandler)
			cr.Get("/{id}", h.Cheque.GetChequeHandler)
			cr.Get("/{id}/verify", h.Cheque.VerifyChequeHandler)
			cr.Post("/{id}/deposit", h.Cheque.DepositHandler)
			cr.Post("/{id}/receipt", h.Cheque.ReceiptHandler)
		})

		pr.Route("/sites", func(sr chi.Router) {
			sr.Get("/", h.Site.ListSitesHandler)
			sr.Post("/", h.Site.CreateSiteHandler)
			sr.Get("/{id}", h.Site.GetSiteHandler)
			sr.Post("/{id}/quota", h.Site.UpdateQuotaHandler)
			sr.Post("/{id}/deactivate", h.Site.DeactivateSiteHandler)
		})

		pr.Route("/ledger/{companyId}", func(lr chi.Router) {
			lr.Get("/", h.Ledger.GetLedgerHandler)
			lr.Get("/export", h.Ledger.ExportLedgerHandler)
			lr.With(middleware.PermissionMiddleware(log, domain.RoleAdmin)).Post("/adjustments", h.Ledger.PostAdjustmentHandler)
		})

		pr.Route("/disputes", func(dr chi.Router) {
			dr.Get("/", h.Dispute.ListDisputesHandler)
			dr.Post("/", h.Dispute.OpenDisputeHandler)
			dr.Get("/{id}", h.Dispute.GetDisputeHandler)
			dr.Post("/{id}/propose", h.Dispute.ProposeHandler)
			dr.Post("/{id}/validate", h.Dispute.ValidateHandler)
			dr.Post("/{id}/escalate", h.Dispute.EscalateHandler)
		})

		pr.Post("/evidence", h.Evidence.UploadPhotoHandler)

		// --- 4. Administração ---
		pr.Group(func(ar chi.Router) {
			ar.Use(middleware.PermissionMiddleware(log, domain.RoleAdmin))
			ar.Get("/admin/cheques", h.Cheque.ListChequesHandler)
			ar.Get("/ledgers", h.Ledger.GetAllLedgersHandler)
		})
	})

	return r
}

// PingHandler é uma função utilitária para o health check.
func PingHandler(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/plain")
	w.WriteHeader(http.StatusOK)
	w.Write([]byte("pong"))
}
