package quotaservice

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"paletteledger/internal/domain"
	apperror "paletteledger/internal/errors"
	"paletteledger/internal/pkg/clock"
	"paletteledger/internal/pkg/events"
	"paletteledger/internal/pkg/logger"
)

// SiteRepository define o contrato que o controlador de cotas espera da camada de Persistência.
// ReserveQuota e ReleaseQuota são atômicas por (site, dia local).
type SiteRepository interface {
	CreateSite(ctx context.Context, site domain.Site) (domain.Site, error)
	GetSite(ctx context.Context, id string) (domain.Site, error)
	ListSites(ctx context.Context, filter domain.SiteFilter) ([]domain.Site, error)
	UpdateSite(ctx context.Context, site domain.Site) (domain.Site, error)
	GetQuota(ctx context.Context, site domain.Site, at time.Time) (domain.SiteQuota, error)
	ReserveQuota(ctx context.Context, siteID string, quantity int, at time.Time) (domain.Site, domain.SiteQuota, error)
	ReleaseQuota(ctx context.Context, siteID string, quantity int, at time.Time) (domain.SiteQuota, error)
}

// Service é o controlador de admissão de depósitos por site.
type Service struct {
	repo            SiteRepository
	clock           clock.Clock
	events          events.Publisher
	defaultTimezone string
	logger          logger.Logger
}

// NewService cria e retorna uma nova instância do Serviço de Cotas.
func NewService(repo SiteRepository, clk clock.Clock, publisher events.Publisher, defaultTimezone string, logger logger.Logger) *Service {
	if publisher == nil {
		publisher = events.NopPublisher{}
	}
	return &Service{repo: repo, clock: clk, events: publisher, defaultTimezone: defaultTimezone, logger: logger}
}

// CheckAndReserve admite (ou rejeita) um depósito de `quantity` paletes no site,
// no dia local que contém `at`. Uma rejeição não altera o consumo.
func (s *Service) CheckAndReserve(ctx context.Context, siteID string, quantity int, at time.Time) (domain.SiteQuota, error) {
	at = clock.Normalize(at)
	s.logger.Debug("Verificando cota do site.", map[string]interface{}{
		"site_id":  siteID,
		"quantity": quantity,
		"at":       at,
	})

	if quantity <= 0 {
		return domain.SiteQuota{}, apperror.NewInvalidQuantityError(fmt.Sprintf("a quantidade depositada deve ser positiva (recebido %d).", quantity))
	}

	_, quota, err := s.repo.ReserveQuota(ctx, siteID, quantity, at)
	if err != nil {
		if apperror.IsDomainError(err) {
			s.logger.Warn("Depósito rejeitado pelo controle de cota.", map[string]interface{}{
				"site_id":  siteID,
				"quantity": quantity,
				"category": apperror.CategoryOf(err),
			})
			return domain.SiteQuota{}, err
		}
		s.logger.Error("Falha ao reservar cota no repositório.", err)
		return domain.SiteQuota{}, apperror.NewInternalError("Falha interna ao reservar cota.", err)
	}

	s.logger.Info("Cota reservada.", map[string]interface{}{
		"site_id":   siteID,
		"day":       quota.Day,
		"consumed":  quota.Consumed,
		"remaining": quota.Remaining,
	})
	return quota, nil
}

// Release devolve uma reserva (compensação de um depósito que não foi gravado).
func (s *Service) Release(ctx context.Context, siteID string, quantity int, at time.Time) (domain.SiteQuota, error) {
	at = clock.Normalize(at)
	if quantity <= 0 {
		return domain.SiteQuota{}, apperror.NewInvalidQuantityError(fmt.Sprintf("a quantidade liberada deve ser positiva (recebido %d).", quantity))
	}

	quota, err := s.repo.ReleaseQuota(ctx, siteID, quantity, at)
	if err != nil {
		s.logger.Error("Falha ao liberar cota no repositório.", err)
		return domain.SiteQuota{}, translate("liberar cota", err)
	}

	s.logger.Info("Cota liberada.", map[string]interface{}{
		"site_id":  siteID,
		"quantity": quantity,
		"consumed": quota.Consumed,
	})
	return quota, nil
}

// UpdateQuota altera a política de capacidade do site. O consumo do dia é preservado.
func (s *Service) UpdateQuota(ctx context.Context, siteID string, update domain.QuotaUpdate) (domain.SiteQuota, error) {
	s.logger.Debug("Atualizando política de cota.", map[string]interface{}{"site_id": siteID})

	site, err := s.repo.GetSite(ctx, siteID)
	if err != nil {
		return domain.SiteQuota{}, translate("buscar site", err)
	}
	if err := update.Apply(&site); err != nil {
		s.logger.Warn("Alteração de cota inválida.", map[string]interface{}{"site_id": siteID, "error": err.Error()})
		return domain.SiteQuota{}, err
	}
	now := s.clock.Now()
	site.UpdatedAt = now

	site, err = s.repo.UpdateSite(ctx, site)
	if err != nil {
		s.logger.Error("Falha ao gravar a política de cota.", err)
		return domain.SiteQuota{}, translate("atualizar cota", err)
	}

	quota, err := s.repo.GetQuota(ctx, site, now)
	if err != nil {
		return domain.SiteQuota{}, translate("ler cota", err)
	}
	s.publish(ctx, events.SiteUpdated, site)

	s.logger.Info("Política de cota atualizada.", map[string]interface{}{
		"site_id":   site.ID,
		"daily_max": site.QuotaDailyMax,
		"consumed":  quota.Consumed,
	})
	return quota, nil
}

// CreateSite cadastra um site ativo. Sem timezone, vale o padrão configurado.
func (s *Service) CreateSite(ctx context.Context, site domain.Site) (domain.Site, error) {
	if strings.TrimSpace(site.ID) == "" {
		site.ID = uuid.New().String()
	}
	if site.Timezone == "" {
		site.Timezone = s.defaultTimezone
	}
	if site.Priority == "" {
		site.Priority = domain.PriorityNetwork
	}
	if site.AvailableDays == nil {
		site.AvailableDays = []int{}
	}
	if err := site.Validate(); err != nil {
		s.logger.Warn("Site inválido.", map[string]interface{}{"error": err.Error()})
		return domain.Site{}, err
	}

	now := s.clock.Now()
	site.Active = true
	site.Version = 1
	site.CreatedAt = now
	site.UpdatedAt = now

	created, err := s.repo.CreateSite(ctx, site)
	if err != nil {
		s.logger.Error("Falha ao criar site no repositório.", err)
		return domain.Site{}, translate("criar site", err)
	}

	s.logger.Info("Site criado.", map[string]interface{}{
		"site_id":    created.ID,
		"company_id": created.CompanyID,
		"daily_max":  created.QuotaDailyMax,
	})
	return created, nil
}

// GetSite devolve o site e a cota do dia corrente.
func (s *Service) GetSite(ctx context.Context, siteID string) (domain.Site, domain.SiteQuota, error) {
	site, err := s.repo.GetSite(ctx, siteID)
	if err != nil {
		return domain.Site{}, domain.SiteQuota{}, translate("buscar site", err)
	}
	quota, err := s.repo.GetQuota(ctx, site, s.clock.Now())
	if err != nil {
		return domain.Site{}, domain.SiteQuota{}, translate("ler cota", err)
	}
	return site, quota, nil
}

func (s *Service) ListSites(ctx context.Context, filter domain.SiteFilter) ([]domain.Site, error) {
	sites, err := s.repo.ListSites(ctx, filter)
	if err != nil {
		s.logger.Error("Falha ao listar sites.", err)
		return nil, translate("listar sites", err)
	}
	return sites, nil
}

// DeactivateSite marca o site como inativo; o histórico é mantido.
func (s *Service) DeactivateSite(ctx context.Context, siteID string) (domain.Site, error) {
	site, err := s.repo.GetSite(ctx, siteID)
	if err != nil {
		return domain.Site{}, translate("buscar site", err)
	}
	if !site.Active {
		return site, nil
	}
	site.Active = false
	site.UpdatedAt = s.clock.Now()

	site, err = s.repo.UpdateSite(ctx, site)
	if err != nil {
		s.logger.Error("Falha ao desativar site.", err)
		return domain.Site{}, translate("desativar site", err)
	}
	s.publish(ctx, events.SiteUpdated, site)

	s.logger.Info("Site desativado.", map[string]interface{}{"site_id": site.ID})
	return site, nil
}

func (s *Service) publish(ctx context.Context, event string, payload interface{}) {
	if err := s.events.Publish(ctx, event, payload); err != nil {
		s.logger.Warn("Falha ao publicar evento.", map[string]interface{}{"event": event, "error": err.Error()})
	}
}

// translate propaga os erros de domínio e encapsula o resto como erro interno.
func translate(op string, err error) error {
	if apperror.IsDomainError(err) {
		return err
	}
	return apperror.NewInternalError(fmt.Sprintf("Falha interna ao %s.", op), err)
}
