package dispute

import (
	"context"
	"fmt"
	"net/http"

	"github.com/go-chi/chi/v5"

	"paletteledger/internal/domain"
	apperror "paletteledger/internal/errors"
	"paletteledger/internal/pkg/logger"
	"paletteledger/internal/pkg/middleware"
	"paletteledger/internal/pkg/respond"
	"paletteledger/internal/pkg/schema"
)

// DisputeService define o contrato que o Handler espera da camada de Serviço.
type DisputeService interface {
	Open(ctx context.Context, req domain.OpenDisputeRequest) (domain.Dispute, error)
	Propose(ctx context.Context, disputeID string, solution domain.ProposedSolution, proposerID string) (domain.Dispute, error)
	Validate(ctx context.Context, disputeID, validatorID string) (domain.Dispute, error)
	Escalate(ctx context.Context, disputeID, reason string) (domain.Dispute, error)
	GetByID(ctx context.Context, disputeID string) (domain.Dispute, error)
	List(ctx context.Context, filter domain.DisputeFilter) ([]domain.Dispute, error)
}

// RequestDecoder valida e decodifica o corpo JSON.
type RequestDecoder interface {
	DecodeRequest(r *http.Request, name string, dst interface{}) error
}

// EscalateRequest é o corpo de POST /palette/disputes/{id}/escalate.
type EscalateRequest struct {
	Reason string `json:"reason"`
}

// DisputeResponse envelopa um litígio.
type DisputeResponse struct {
	Dispute domain.Dispute `json:"dispute"`
}

// DisputesResponse envelopa a listagem.
type DisputesResponse struct {
	Disputes []domain.Dispute `json:"disputes"`
}

// Handler agrupa todos os métodos de Handler de litígios.
type Handler struct {
	Service DisputeService
	Decoder RequestDecoder
	Logger  logger.Logger
}

func NewHandler(svc DisputeService, decoder RequestDecoder, log logger.Logger) *Handler {
	return &Handler{
		Service: svc,
		Decoder: decoder,
		Logger:  log,
	}
}

// OpenDisputeHandler lida com a requisição POST /palette/disputes.
// @Summary Abre um litígio sobre um cheque
// @Description O reclamante padrão é a empresa do chamador. O cheque passa a LITIGE.
// @Tags disputes
// @Accept json
// @Produce json
// @Param dispute body domain.OpenDisputeRequest true "Cheque, motivo e evidências"
// @Success 201 {object} DisputeResponse "Litígio aberto"
// @Failure 400 {object} domain.ErrorResponse "Payload inválido"
// @Failure 403 {object} domain.ErrorResponse "Reclamante não é parte do cheque"
// @Failure 409 {object} domain.ErrorResponse "Litígio duplicado ou estado inválido"
// @Security ApiKeyAuth
// @Router /palette/disputes [post]
func (h *Handler) OpenDisputeHandler(w http.ResponseWriter, r *http.Request) {
	identity, err := middleware.RequireIdentity(r.Context())
	if err != nil {
		respond.Error(w, r, h.Logger, err)
		return
	}

	var req domain.OpenDisputeRequest
	if err := h.Decoder.DecodeRequest(r, schema.OpenDispute, &req); err != nil {
		respond.Error(w, r, h.Logger, err)
		return
	}
	if req.ClaimantID == "" {
		req.ClaimantID = identity.CompanyID
	}
	if !identity.ActsFor(req.ClaimantID) {
		respond.Error(w, r, h.Logger, apperror.NewForbiddenError(fmt.Sprintf("o chamador não abre litígios em nome de %s.", req.ClaimantID)))
		return
	}

	dispute, err := h.Service.Open(r.Context(), req)
	respond.Service(w, r, h.Logger, DisputeResponse{Dispute: dispute}, err, http.StatusCreated)
}

// GetDisputeHandler lida com a requisição GET /palette/disputes/{id}.
// @Summary Obtém um litígio por ID
// @Tags disputes
// @Produce json
// @Param id path string true "ID do litígio"
// @Success 200 {object} DisputeResponse "Litígio"
// @Failure 403 {object} domain.ErrorResponse "Chamador não é parte"
// @Failure 404 {object} domain.ErrorResponse "Litígio não encontrado"
// @Security ApiKeyAuth
// @Router /palette/disputes/{id} [get]
func (h *Handler) GetDisputeHandler(w http.ResponseWriter, r *http.Request) {
	dispute, err := h.loadAuthorized(r)
	respond.Service(w, r, h.Logger, DisputeResponse{Dispute: dispute}, err, http.StatusOK)
}

// ListDisputesHandler lida com a requisição GET /palette/disputes.
// Empresas só enxergam os próprios litígios.
// @Summary Lista litígios
// @Tags disputes
// @Produce json
// @Param status query string false "OPEN, PROPOSED, RESOLVED ou ESCALATED"
// @Param chequeId query string false "Cheque"
// @Param companyId query string false "Parte (apenas administradores)"
// @Success 200 {object} DisputesResponse "Litígios"
// @Failure 400 {object} domain.ErrorResponse "Filtro inválido"
// @Security ApiKeyAuth
// @Router /palette/disputes [get]
func (h *Handler) ListDisputesHandler(w http.ResponseWriter, r *http.Request) {
	identity, err := middleware.RequireIdentity(r.Context())
	if err != nil {
		respond.Error(w, r, h.Logger, err)
		return
	}

	q := r.URL.Query()
	filter := domain.DisputeFilter{
		Status:    domain.DisputeStatus(q.Get("status")),
		ChequeID:  q.Get("chequeId"),
		CompanyID: q.Get("companyId"),
	}
	if !identity.IsAdmin() {
		if identity.CompanyID == "" {
			respond.Error(w, r, h.Logger, apperror.NewForbiddenError("identidade sem empresa associada."))
			return
		}
		filter.CompanyID = identity.CompanyID
	}

	disputes, err := h.Service.List(r.Context(), filter)
	respond.Service(w, r, h.Logger, DisputesResponse{Disputes: disputes}, err, http.StatusOK)
}

// ProposeHandler lida com a requisição POST /palette/disputes/{id}/propose.
// @Summary Propõe uma solução
// @Description A empresa do chamador propõe e valida implicitamente a própria proposta.
// @Tags disputes
// @Accept json
// @Produce json
// @Param id path string true "ID do litígio"
// @Param solution body domain.ProposedSolution true "Descrição e quantidade acordada"
// @Success 200 {object} DisputeResponse "Litígio em PROPOSED"
// @Failure 403 {object} domain.ErrorResponse "Chamador não é parte"
// @Failure 409 {object} domain.ErrorResponse "Estado inválido ou modificação concorrente"
// @Security ApiKeyAuth
// @Router /palette/disputes/{id}/propose [post]
func (h *Handler) ProposeHandler(w http.ResponseWriter, r *http.Request) {
	identity, err := middleware.RequireIdentity(r.Context())
	if err != nil {
		respond.Error(w, r, h.Logger, err)
		return
	}

	var solution domain.ProposedSolution
	if err := h.Decoder.DecodeRequest(r, schema.ProposeSolution, &solution); err != nil {
		respond.Error(w, r, h.Logger, err)
		return
	}

	dispute, err := h.Service.Propose(r.Context(), chi.URLParam(r, "id"), solution, identity.CompanyID)
	respond.Service(w, r, h.Logger, DisputeResponse{Dispute: dispute}, err, http.StatusOK)
}

// ValidateHandler lida com a requisição POST /palette/disputes/{id}/validate.
// @Summary Valida a proposta em nome da empresa do chamador
// @Description Com as duas partes de acordo, o litígio é resolvido e o razão lançado.
// @Tags disputes
// @Produce json
// @Param id path string true "ID do litígio"
// @Success 200 {object} DisputeResponse "Litígio validado ou resolvido"
// @Failure 403 {object} domain.ErrorResponse "Chamador não é parte"
// @Failure 409 {object} domain.ErrorResponse "Estado inválido ou modificação concorrente"
// @Security ApiKeyAuth
// @Router /palette/disputes/{id}/validate [post]
func (h *Handler) ValidateHandler(w http.ResponseWriter, r *http.Request) {
	identity, err := middleware.RequireIdentity(r.Context())
	if err != nil {
		respond.Error(w, r, h.Logger, err)
		return
	}

	dispute, err := h.Service.Validate(r.Context(), chi.URLParam(r, "id"), identity.CompanyID)
	respond.Service(w, r, h.Logger, DisputeResponse{Dispute: dispute}, err, http.StatusOK)
}

// EscalateHandler lida com a requisição POST /palette/disputes/{id}/escalate.
// @Summary Escala o litígio para arbitragem
// @Tags disputes
// @Accept json
// @Produce json
// @Param id path string true "ID do litígio"
// @Param escalation body EscalateRequest true "Motivo"
// @Success 200 {object} DisputeResponse "Litígio escalado"
// @Failure 403 {object} domain.ErrorResponse "Chamador não é parte nem administrador"
// @Failure 409 {object} domain.ErrorResponse "Estado inválido"
// @Security ApiKeyAuth
// @Router /palette/disputes/{id}/escalate [post]
func (h *Handler) EscalateHandler(w http.ResponseWriter, r *http.Request) {
	var req EscalateRequest
	if err := h.Decoder.DecodeRequest(r, schema.Escalate, &req); err != nil {
		respond.Error(w, r, h.Logger, err)
		return
	}
	current, err := h.loadAuthorized(r)
	if err != nil {
		respond.Error(w, r, h.Logger, err)
		return
	}

	dispute, err := h.Service.Escalate(r.Context(), current.ID, req.Reason)
	respond.Service(w, r, h.Logger, DisputeResponse{Dispute: dispute}, err, http.StatusOK)
}

// loadAuthorized lê o litígio e libera administradores e as partes.
func (h *Handler) loadAuthorized(r *http.Request) (domain.Dispute, error) {
	identity, err := middleware.RequireIdentity(r.Context())
	if err != nil {
		return domain.Dispute{}, err
	}
	dispute, err := h.Service.GetByID(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		return domain.Dispute{}, err
	}
	if !identity.IsAdmin() && !dispute.IsParty(identity.CompanyID) {
		return domain.Dispute{}, apperror.NewForbiddenError(fmt.Sprintf("o chamador não é parte do litígio %s.", dispute.ID))
	}
	return dispute, nil
}
