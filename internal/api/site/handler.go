package site

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
)

// SiteService define o contrato que o Handler espera da camada de Serviço.
type SiteService interface {
	CreateSite(ctx context.Context, site domain.Site) (domain.Site, error)
	GetSite(ctx context.Context, siteID string) (domain.Site, domain.SiteQuota, error)
	ListSites(ctx context.Context, filter domain.SiteFilter) ([]domain.Site, error)
	UpdateQuota(ctx context.Context, siteID string, update domain.QuotaUpdate) (domain.SiteQuota, error)
	DeactivateSite(ctx context.Context, siteID string) (domain.Site, error)
}

// RequestDecoder valida e decodifica o corpo JSON.
type RequestDecoder interface {
	DecodeRequest(r *http.Request, name string, dst interface{}) error
}

// SiteResponse envelopa um site e, quando lida, a cota do dia.
type SiteResponse struct {
	Site  domain.Site       `json:"site"`
	Quota *domain.SiteQuota `json:"quota,omitempty"`
}

// SitesResponse envelopa a listagem.
type SitesResponse struct {
	Sites []domain.Site `json:"sites"`
}

// QuotaResponse envelopa a cota.
type QuotaResponse struct {
	Quota domain.SiteQuota `json:"quota"`
}

// Handler agrupa todos os métodos de Handler de sites.
type Handler struct {
	Service SiteService
	Decoder RequestDecoder
	Logger  logger.Logger
}

func NewHandler(svc SiteService, decoder RequestDecoder, log logger.Logger) *Handler {
	return &Handler{
		Service: svc,
		Decoder: decoder,
		Logger:  log,
	}
}

// CreateSiteHandler lida com a requisição POST /palette/sites.
// @Summary Cadastra um site de devolução
// @Tags sites
// @Accept json
// @Produce json
// @Param site body domain.Site true "Configuração do site"
// @Success 201 {object} SiteResponse "Site criado"
// @Failure 400 {object} domain.ErrorResponse "Payload inválido"
// @Failure 403 {object} domain.ErrorResponse "Empresa diferente da do chamador"
// @Security ApiKeyAuth
// @Router /palette/sites [post]
func (h *Handler) CreateSiteHandler(w http.ResponseWriter, r *http.Request) {
	identity, err := middleware.RequireIdentity(r.Context())
	if err != nil {
		respond.Error(w, r, h.Logger, err)
		return
	}

	var site domain.Site
	if err := h.Decoder.DecodeRequest(r, schema.CreateSite, &site); err != nil {
		respond.Error(w, r, h.Logger, err)
		return
	}
	if !identity.ActsFor(site.CompanyID) {
		respond.Error(w, r, h.Logger, apperror.NewForbiddenError(fmt.Sprintf("o chamador não cadastra sites de %s.", site.CompanyID)))
		return
	}

	created, err := h.Service.CreateSite(r.Context(), site)
	respond.Service(w, r, h.Logger, SiteResponse{Site: created}, err, http.StatusCreated)
}

// GetSiteHandler lida com a requisição GET /palette/sites/{id}.
// @Summary Obtém um site e a cota do dia
// @Tags sites
// @Produce json
// @Param id path string true "ID do site"
// @Success 200 {object} SiteResponse "Site e cota"
// @Failure 404 {object} domain.ErrorResponse "Site não encontrado"
// @Security ApiKeyAuth
// @Router /palette/sites/{id} [get]
func (h *Handler) GetSiteHandler(w http.ResponseWriter, r *http.Request) {
	site, quota, err := h.Service.GetSite(r.Context(), chi.URLParam(r, "id"))
	respond.Service(w, r, h.Logger, SiteResponse{Site: site, Quota: &quota}, err, http.StatusOK)
}

// ListSitesHandler lida com a requisição GET /palette/sites.
// @Summary Lista os sites
// @Tags sites
// @Produce json
// @Param companyId query string false "Empresa dona"
// @Param includeInactive query bool false "Inclui sites desativados"
// @Success 200 {object} SitesResponse "Sites"
// @Failure 400 {object} domain.ErrorResponse "Filtro inválido"
// @Security ApiKeyAuth
// @Router /palette/sites [get]
func (h *Handler) ListSitesHandler(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	filter := domain.SiteFilter{CompanyID: q.Get("companyId")}
	if raw := q.Get("includeInactive"); raw != "" {
		include, err := strconv.ParseBool(raw)
		if err != nil {
			respond.Error(w, r, h.Logger, apperror.NewValidationError(fmt.Sprintf("includeInactive inválido: %s", raw)))
			return
		}
		filter.IncludeInactive = include
	}

	sites, err := h.Service.ListSites(r.Context(), filter)
	respond.Service(w, r, h.Logger, SitesResponse{Sites: sites}, err, http.StatusOK)
}

// UpdateQuotaHandler lida com a requisição POST /palette/sites/{id}/quota.
// @Summary Altera a política de cota do site
// @Description Não altera o consumo do dia corrente.
// @Tags sites
// @Accept json
// @Produce json
// @Param id path string true "ID do site"
// @Param update body domain.QuotaUpdate true "Campos a alterar"
// @Success 200 {object} QuotaResponse "Cota atualizada"
// @Failure 400 {object} domain.ErrorResponse "Payload inválido"
// @Failure 403 {object} domain.ErrorResponse "Apenas administradores ou o dono do site"
// @Failure 404 {object} domain.ErrorResponse "Site não encontrado"
// @Security ApiKeyAuth
// @Router /palette/sites/{id}/quota [post]
func (h *Handler) UpdateQuotaHandler(w http.ResponseWriter, r *http.Request) {
	siteID := chi.URLParam(r, "id")
	var update domain.QuotaUpdate
	if err := h.Decoder.DecodeRequest(r, schema.UpdateQuota, &update); err != nil {
		respond.Error(w, r, h.Logger, err)
		return
	}
	if err := h.authorizeOwner(r, siteID); err != nil {
		respond.Error(w, r, h.Logger, err)
		return
	}

	quota, err := h.Service.UpdateQuota(r.Context(), siteID, update)
	respond.Service(w, r, h.Logger, QuotaResponse{Quota: quota}, err, http.StatusOK)
}

// DeactivateSiteHandler lida com a requisição POST /palette/sites/{id}/deactivate.
// @Summary Desativa um site
// @Tags sites
// @Produce json
// @Param id path string true "ID do site"
// @Success 200 {object} SiteResponse "Site desativado"
// @Failure 403 {object} domain.ErrorResponse "Apenas administradores ou o dono do site"
// @Failure 404 {object} domain.ErrorResponse "Site não encontrado"
// @Security ApiKeyAuth
// @Router /palette/sites/{id}/deactivate [post]
func (h *Handler) DeactivateSiteHandler(w http.ResponseWriter, r *http.Request) {
	siteID := chi.URLParam(r, "id")
	if err := h.authorizeOwner(r, siteID); err != nil {
		respond.Error(w, r, h.Logger, err)
		return
	}

	site, err := h.Service.DeactivateSite(r.Context(), siteID)
	respond.Service(w, r, h.Logger, SiteResponse{Site: site}, err, http.StatusOK)
}

func (h *Handler) authorizeOwner(r *http.Request, siteID string) error {
	identity, err := middleware.RequireIdentity(r.Context())
	if err != nil {
		return err
	}
	if identity.IsAdmin() {
		return nil
	}
	site, _, err := h.Service.GetSite(r.Context(), siteID)
	if err != nil {
		return err
	}
	if !identity.ActsFor(site.CompanyID) {
		return apperror.NewForbiddenError(fmt.Sprintf("o site %s pertence a outra empresa.", siteID))
	}
	return nil
}
