package cheque

import (
	"context"
	"fmt"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"paletteledger/internal/domain"
	apperror "paletteledger/internal/errors"
	"paletteledger/internal/pkg/logger"
	"paletteledger/internal/pkg/middleware"
	"paletteledger/internal/pkg/respond"
	"paletteledger/internal/pkg/schema"
	"paletteledger/internal/service/chequeservice"
)

// ChequeService define o contrato que o Handler espera da camada de Serviço.
type ChequeService interface {
	Issue(ctx context.Context, req domain.IssueRequest) (domain.Cheque, error)
	ConfirmDeposit(ctx context.Context, chequeID, siteID string, ev domain.Evidence) (chequeservice.DepositResult, error)
	ConfirmReceipt(ctx context.Context, chequeID string, quantityReceived int, ev domain.Evidence) (chequeservice.ReceiptResult, error)
	GetByID(ctx context.Context, chequeID string) (domain.Cheque, error)
	List(ctx context.Context, filter domain.ChequeFilter) (domain.ChequePage, error)
	Verify(ctx context.Context, chequeID string) (chequeservice.VerifyResult, error)
	Parties(ctx context.Context, chequeID string) (string, string, error)
}

// RequestDecoder valida e decodifica o corpo JSON.
type RequestDecoder interface {
	DecodeRequest(r *http.Request, name string, dst interface{}) error
}

// DepositRequest é o corpo de POST /palette/cheques/{id}/deposit.
type DepositRequest struct {
	SiteID string `json:"siteId"`
	domain.Evidence
}

// ReceiptRequest é o corpo de POST /palette/cheques/{id}/receipt.
type ReceiptRequest struct {
	QuantityReceived int `json:"quantityReceived"`
	domain.Evidence
}

// ChequeResponse envelopa um cheque.
type ChequeResponse struct {
	Cheque domain.Cheque `json:"cheque"`
}

// Handler agrupa todos os métodos de Handler de cheques.
type Handler struct {
	Service ChequeService
	Decoder RequestDecoder
	Logger  logger.Logger
}

// NewHandler cria uma nova instância do Handler, injetando o Service, o validador e o Logger.
func NewHandler(svc ChequeService, decoder RequestDecoder, log logger.Logger) *Handler {
	return &Handler{
		Service: svc,
		Decoder: decoder,
		Logger:  log,
	}
}

// IssueChequeHandler lida com a requisição POST /palette/cheques.
// @Summary Emite um cheque-palete
// @Description Emite um cheque EMIS assinado, com QR code, para um site de devolução ativo.
// @Tags cheques
// @Accept json
// @Produce json
// @Param cheque body domain.IssueRequest true "Dados da emissão"
// @Success 201 {object} ChequeResponse "Cheque emitido"
// @Failure 400 {object} domain.ErrorResponse "Payload inválido ou quantidade inválida"
// @Failure 403 {object} domain.ErrorResponse "Empresa emissora diferente da do chamador"
// @Failure 404 {object} domain.ErrorResponse "Site não encontrado"
// @Failure 409 {object} domain.ErrorResponse "Site inativo"
// @Security ApiKeyAuth
// @Router /palette/cheques [post]
func (h *Handler) IssueChequeHandler(w http.ResponseWriter, r *http.Request) {
	identity, err := middleware.RequireIdentity(r.Context())
	if err != nil {
		respond.Error(w, r, h.Logger, err)
		return
	}

	var req domain.IssueRequest
	if err := h.Decoder.DecodeRequest(r, schema.IssueCheque, &req); err != nil {
		respond.Error(w, r, h.Logger, err)
		return
	}
	if !identity.ActsFor(req.FromCompanyID) {
		respond.Error(w, r, h.Logger, apperror.NewForbiddenError(fmt.Sprintf("o chamador não emite cheques em nome de %s.", req.FromCompanyID)))
		return
	}

	cheque, err := h.Service.Issue(r.Context(), req)
	respond.Service(w, r, h.Logger, ChequeResponse{Cheque: cheque}, err, http.StatusCreated)
}

// GetChequeHandler lida com a requisição GET /palette/cheques/{id}.
// @Summary Obtém um cheque por ID
// @Tags cheques
// @Produce json
// @Param id path string true "ID do cheque"
// @Success 200 {object} ChequeResponse "Cheque encontrado"
// @Failure 403 {object} domain.ErrorResponse "Chamador não é parte do cheque"
// @Failure 404 {object} domain.ErrorResponse "Cheque não encontrado"
// @Security ApiKeyAuth
// @Router /palette/cheques/{id} [get]
func (h *Handler) GetChequeHandler(w http.ResponseWriter, r *http.Request) {
	chequeID := chi.URLParam(r, "id")
	if err := h.authorizeParty(r, chequeID); err != nil {
		respond.Error(w, r, h.Logger, err)
		return
	}

	cheque, err := h.Service.GetByID(r.Context(), chequeID)
	respond.Service(w, r, h.Logger, ChequeResponse{Cheque: cheque}, err, http.StatusOK)
}

// VerifyChequeHandler lida com a requisição GET /palette/cheques/{id}/verify.
// Qualquer identidade autenticada pode verificar um QR code lido no pátio.
// @Summary Verifica a assinatura de um cheque
// @Tags cheques
// @Produce json
// @Param id path string true "ID do cheque"
// @Success 200 {object} chequeservice.VerifyResult "Resultado da verificação"
// @Failure 404 {object} domain.ErrorResponse "Cheque não encontrado"
// @Security ApiKeyAuth
// @Router /palette/cheques/{id}/verify [get]
func (h *Handler) VerifyChequeHandler(w http.ResponseWriter, r *http.Request) {
	result, err := h.Service.Verify(r.Context(), chi.URLParam(r, "id"))
	respond.Service(w, r, h.Logger, result, err, http.StatusOK)
}

// DepositHandler lida com a requisição POST /palette/cheques/{id}/deposit.
// @Summary Confirma o depósito físico no site
// @Description Reserva a cota diária do site e move o cheque para DEPOSE.
// @Tags cheques
// @Accept json
// @Produce json
// @Param id path string true "ID do cheque"
// @Param deposit body DepositRequest true "Site e evidências do depósito"
// @Success 200 {object} chequeservice.DepositResult "Depósito aceito"
// @Failure 400 {object} domain.ErrorResponse "Payload inválido"
// @Failure 409 {object} domain.ErrorResponse "Cota excedida, fora do horário ou estado inválido"
// @Security ApiKeyAuth
// @Router /palette/cheques/{id}/deposit [post]
func (h *Handler) DepositHandler(w http.ResponseWriter, r *http.Request) {
	var req DepositRequest
	if err := h.Decoder.DecodeRequest(r, schema.Deposit, &req); err != nil {
		respond.Error(w, r, h.Logger, err)
		return
	}

	result, err := h.Service.ConfirmDeposit(r.Context(), chi.URLParam(r, "id"), req.SiteID, req.Evidence)
	respond.Service(w, r, h.Logger, result, err, http.StatusOK)
}

// ReceiptHandler lida com a requisição POST /palette/cheques/{id}/receipt.
// @Summary Confirma a recepção pelo dono do site
// @Description Quantidade igual lança o par no razão; diferente abre um litígio.
// @Tags cheques
// @Accept json
// @Produce json
// @Param id path string true "ID do cheque"
// @Param receipt body ReceiptRequest true "Quantidade recebida e evidências"
// @Success 200 {object} chequeservice.ReceiptResult "Recepção registrada"
// @Failure 400 {object} domain.ErrorResponse "Payload inválido ou quantidade inválida"
// @Failure 403 {object} domain.ErrorResponse "Chamador não é o dono do site"
// @Failure 409 {object} domain.ErrorResponse "Estado inválido ou modificação concorrente"
// @Security ApiKeyAuth
// @Router /palette/cheques/{id}/receipt [post]
func (h *Handler) ReceiptHandler(w http.ResponseWriter, r *http.Request) {
	identity, err := middleware.RequireIdentity(r.Context())
	if err != nil {
		respond.Error(w, r, h.Logger, err)
		return
	}

	chequeID := chi.URLParam(r, "id")
	var req ReceiptRequest
	if err := h.Decoder.DecodeRequest(r, schema.Receipt, &req); err != nil {
		respond.Error(w, r, h.Logger, err)
		return
	}

	_, owner, err := h.Service.Parties(r.Context(), chequeID)
	if err != nil {
		respond.Error(w, r, h.Logger, err)
		return
	}
	if !identity.ActsFor(owner) {
		respond.Error(w, r, h.Logger, apperror.NewForbiddenError("apenas o dono do site confirma a recepção."))
		return
	}

	result, err := h.Service.ConfirmReceipt(r.Context(), chequeID, req.QuantityReceived, req.Evidence)
	respond.Service(w, r, h.Logger, result, err, http.StatusOK)
}

// ListChequesHandler lida com a requisição GET /palette/admin/cheques.
// @Summary Lista cheques (administração)
// @Description Paginação por cursor opaco, do mais antigo ao mais recente (createdAt, id).
// @Tags admin
// @Produce json
// @Param status query string false "EMIS, DEPOSE, RECU ou LITIGE"
// @Param companyId query string false "Empresa emissora ou dona do site"
// @Param siteId query string false "Site de destino"
// @Param cursor query string false "Cursor devolvido na página anterior"
// @Param limit query int false "Tamanho da página (máx. 200)"
// @Success 200 {object} domain.ChequePage "Página de cheques"
// @Failure 400 {object} domain.ErrorResponse "Filtro inválido"
// @Failure 403 {object} domain.ErrorResponse "Apenas administradores"
// @Security ApiKeyAuth
// @Router /palette/admin/cheques [get]
func (h *Handler) ListChequesHandler(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	filter := domain.ChequeFilter{
		Status:    domain.ChequeStatus(q.Get("status")),
		CompanyID: q.Get("companyId"),
		SiteID:    q.Get("siteId"),
		Cursor:    q.Get("cursor"),
	}
	if raw := q.Get("limit"); raw != "" {
		limit, err := strconv.Atoi(raw)
		if err != nil {
			respond.Error(w, r, h.Logger, apperror.NewValidationError(fmt.Sprintf("limit inválido: %s", raw)))
			return
		}
		filter.Limit = limit
	}

	page, err := h.Service.List(r.Context(), filter)
	respond.Service(w, r, h.Logger, page, err, http.StatusOK)
}

// authorizeParty libera administradores e as duas partes do cheque.
func (h *Handler) authorizeParty(r *http.Request, chequeID string) error {
	identity, err := middleware.RequireIdentity(r.Context())
	if err != nil {
		return err
	}
	if identity.IsAdmin() {
		return nil
	}
	issuer, owner, err := h.Service.Parties(r.Context(), chequeID)
	if err != nil {
		return err
	}
	if identity.ActsFor(issuer) || identity.ActsFor(owner) {
		return nil
	}
	return apperror.NewForbiddenError(fmt.Sprintf("o chamador não é parte do cheque %s.", chequeID))
}
