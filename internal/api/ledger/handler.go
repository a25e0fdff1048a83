package ledger

import (
	"context"
	"fmt"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"paletteledger/internal/domain"
	apperror "paletteledger/internal/errors"
	"paletteledger/internal/pkg/logger"
	"paletteledger/internal/pkg/middleware"
	"paletteledger/internal/pkg/respond"
	"paletteledger/internal/pkg/schema"
)

const xlsxContentType = "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet"

// LedgerService define o contrato que o Handler espera da camada de Serviço.
type LedgerService interface {
	Post(ctx context.Context, companyID string, delta int, reason string, chequeID *string) (domain.LedgerEntry, error)
	GetLedger(ctx context.Context, companyID string) (domain.CompanyLedger, error)
	GetAllLedgers(ctx context.Context, companyIDs []string) ([]domain.CompanyLedger, error)
	ExportXLSX(ctx context.Context, companyID string) ([]byte, error)
}

// RequestDecoder valida e decodifica o corpo JSON.
type RequestDecoder interface {
	DecodeRequest(r *http.Request, name string, dst interface{}) error
}

// AdjustmentRequest é uma correção manual lançada por um administrador.
type AdjustmentRequest struct {
	Delta    int     `json:"delta"`
	Reason   string  `json:"reason"`
	ChequeID *string `json:"chequeId,omitempty"`
}

// LedgerResponse envelopa um razão.
type LedgerResponse struct {
	Ledger domain.CompanyLedger `json:"ledger"`
}

// LedgersResponse envelopa a leitura em lote.
type LedgersResponse struct {
	Ledgers []domain.CompanyLedger `json:"ledgers"`
}

// EntryResponse envelopa um lançamento.
type EntryResponse struct {
	Entry domain.LedgerEntry `json:"entry"`
}

// Handler agrupa todos os métodos de Handler do razão.
type Handler struct {
	Service LedgerService
	Decoder RequestDecoder
	Logger  logger.Logger
}

func NewHandler(svc LedgerService, decoder RequestDecoder, log logger.Logger) *Handler {
	return &Handler{
		Service: svc,
		Decoder: decoder,
		Logger:  log,
	}
}

// GetLedgerHandler lida com a requisição GET /palette/ledger/{companyId}.
// @Summary Obtém o razão de uma empresa
// @Description Saldo, histórico e cheques pendentes de recepção.
// @Tags ledger
// @Produce json
// @Param companyId path string true "ID da empresa"
// @Success 200 {object} LedgerResponse "Razão"
// @Failure 403 {object} domain.ErrorResponse "Razão de outra empresa"
// @Security ApiKeyAuth
// @Router /palette/ledger/{companyId} [get]
func (h *Handler) GetLedgerHandler(w http.ResponseWriter, r *http.Request) {
	companyID := chi.URLParam(r, "companyId")
	if err := authorizeCompany(r, companyID); err != nil {
		respond.Error(w, r, h.Logger, err)
		return
	}

	ledger, err := h.Service.GetLedger(r.Context(), companyID)
	respond.Service(w, r, h.Logger, LedgerResponse{Ledger: ledger}, err, http.StatusOK)
}

// ExportLedgerHandler lida com a requisição GET /palette/ledger/{companyId}/export.
// @Summary Exporta o razão em XLSX
// @Tags ledger
// @Produce application/vnd.openxmlformats-officedocument.spreadsheetml.sheet
// @Param companyId path string true "ID da empresa"
// @Success 200 {file} binary "Planilha do razão"
// @Failure 403 {object} domain.ErrorResponse "Razão de outra empresa"
// @Security ApiKeyAuth
// @Router /palette/ledger/{companyId}/export [get]
func (h *Handler) ExportLedgerHandler(w http.ResponseWriter, r *http.Request) {
	companyID := chi.URLParam(r, "companyId")
	if err := authorizeCompany(r, companyID); err != nil {
		respond.Error(w, r, h.Logger, err)
		return
	}

	data, err := h.Service.ExportXLSX(r.Context(), companyID)
	if err != nil {
		respond.Error(w, r, h.Logger, err)
		return
	}

	w.Header().Set("Content-Type", xlsxContentType)
	w.Header().Set("Content-Disposition", fmt.Sprintf(`attachment; filename="razao-%s.xlsx"`, companyID))
	w.WriteHeader(http.StatusOK)
	if _, err := w.Write(data); err != nil {
		h.Logger.Error("Falha ao enviar a planilha do razão.", err)
	}
}

// PostAdjustmentHandler lida com a requisição POST /palette/ledger/{companyId}/adjustments.
// @Summary Lança uma correção manual (administração)
// @Tags admin
// @Accept json
// @Produce json
// @Param companyId path string true "ID da empresa"
// @Param adjustment body AdjustmentRequest true "Delta e motivo"
// @Success 201 {object} EntryResponse "Lançamento criado"
// @Failure 400 {object} domain.ErrorResponse "Delta zero ou motivo ausente"
// @Failure 403 {object} domain.ErrorResponse "Apenas administradores"
// @Security ApiKeyAuth
// @Router /palette/ledger/{companyId}/adjustments [post]
func (h *Handler) PostAdjustmentHandler(w http.ResponseWriter, r *http.Request) {
	var req AdjustmentRequest
	if err := h.Decoder.DecodeRequest(r, schema.LedgerAdjustment, &req); err != nil {
		respond.Error(w, r, h.Logger, err)
		return
	}

	entry, err := h.Service.Post(r.Context(), chi.URLParam(r, "companyId"), req.Delta, req.Reason, req.ChequeID)
	respond.Service(w, r, h.Logger, EntryResponse{Entry: entry}, err, http.StatusCreated)
}

// GetAllLedgersHandler lida com a requisição GET /palette/ledgers?companyIds=a,b.
// @Summary Lê vários razões em paralelo (administração)
// @Tags admin
// @Produce json
// @Param companyIds query string true "IDs separados por vírgula"
// @Success 200 {object} LedgersResponse "Razões na ordem pedida"
// @Failure 400 {object} domain.ErrorResponse "Lista vazia"
// @Failure 403 {object} domain.ErrorResponse "Apenas administradores"
// @Security ApiKeyAuth
// @Router /palette/ledgers [get]
func (h *Handler) GetAllLedgersHandler(w http.ResponseWriter, r *http.Request) {
	var ids []string
	for _, raw := range r.URL.Query()["companyIds"] {
		ids = append(ids, strings.Split(raw, ",")...)
	}

	ledgers, err := h.Service.GetAllLedgers(r.Context(), ids)
	respond.Service(w, r, h.Logger, LedgersResponse{Ledgers: ledgers}, err, http.StatusOK)
}

func authorizeCompany(r *http.Request, companyID string) error {
	identity, err := middleware.RequireIdentity(r.Context())
	if err != nil {
		return err
	}
	if !identity.ActsFor(companyID) {
		return apperror.NewForbiddenError(fmt.Sprintf("o chamador não consulta o razão de %s.", companyID))
	}
	return nil
}
