package disputeservice

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"paletteledger/internal/domain"
	apperror "paletteledger/internal/errors"
	"paletteledger/internal/pkg/clock"
	"paletteledger/internal/pkg/events"
	"paletteledger/internal/pkg/logger"
)

// DisputeRepository define o contrato que o Serviço de Litígios espera da camada de Persistência.
// OpenDispute e ResolveDispute gravam o cheque (e os lançamentos) na mesma transação.
type DisputeRepository interface {
	GetDispute(ctx context.Context, id string) (domain.Dispute, error)
	ListDisputes(ctx context.Context, filter domain.DisputeFilter) ([]domain.Dispute, error)
	OpenDispute(ctx context.Context, d domain.Dispute, c domain.Cheque) (domain.Dispute, domain.Cheque, error)
	UpdateDispute(ctx context.Context, d domain.Dispute) (domain.Dispute, error)
	ResolveDispute(ctx context.Context, d domain.Dispute, c domain.Cheque, postings []domain.LedgerPosting, at time.Time) (domain.Dispute, domain.Cheque, []domain.LedgerEntry, error)
}

// ChequeReader lê os cheques contestados.
type ChequeReader interface {
	GetCheque(ctx context.Context, id string) (domain.Cheque, error)
}

// SiteReader lê o site de destino, cuja dona é uma das partes.
type SiteReader interface {
	GetSite(ctx context.Context, id string) (domain.Site, error)
}

// Service é a máquina de estados dos litígios.
type Service struct {
	repo    DisputeRepository
	cheques ChequeReader
	sites   SiteReader
	events  events.Publisher
	clock   clock.Clock
	logger  logger.Logger
}

// NewService cria e retorna uma nova instância do Serviço de Litígios.
func NewService(repo DisputeRepository, cheques ChequeReader, sites SiteReader, publisher events.Publisher, clk clock.Clock, logger logger.Logger) *Service {
	if publisher == nil {
		publisher = events.NopPublisher{}
	}
	return &Service{repo: repo, cheques: cheques, sites: sites, events: publisher, clock: clk, logger: logger}
}

// Open abre um litígio manual. O cheque passa a LITIGE na mesma transação.
func (s *Service) Open(ctx context.Context, req domain.OpenDisputeRequest) (domain.Dispute, error) {
	s.logger.Debug("Abrindo litígio.", map[string]interface{}{"cheque_id": req.ChequeID, "claimant_id": req.ClaimantID})

	c, err := s.cheques.GetCheque(ctx, req.ChequeID)
	if err != nil {
		return domain.Dispute{}, translate("buscar cheque", err)
	}
	site, err := s.sites.GetSite(ctx, c.ToSiteID)
	if err != nil {
		return domain.Dispute{}, translate("buscar site", err)
	}

	d, err := domain.NewDispute(uuid.New().String(), c, site, req, s.clock.Now())
	if err != nil {
		s.logger.Warn("Abertura de litígio recusada.", map[string]interface{}{"cheque_id": c.ID, "error": err.Error()})
		return domain.Dispute{}, err
	}
	if err := c.MarkDisputed(); err != nil {
		return domain.Dispute{}, err
	}
	created, _, err := s.open(ctx, d, c)
	return created, err
}

// OpenForDiscrepancy abre o litígio automático de uma recepção divergente.
// O reclamante é a dona do site; o cheque já está em LITIGE.
func (s *Service) OpenForDiscrepancy(ctx context.Context, c domain.Cheque, site domain.Site) (domain.Dispute, domain.Cheque, error) {
	if c.QuantityReceived == nil {
		return domain.Dispute{}, domain.Cheque{}, apperror.NewInvalidStateError(fmt.Sprintf("o cheque %s não tem quantidade recebida.", c.ID))
	}
	if err := c.MarkDisputed(); err != nil {
		return domain.Dispute{}, domain.Cheque{}, err
	}
	req := domain.OpenDisputeRequest{
		ChequeID:   c.ID,
		ClaimantID: site.CompanyID,
		Reason:     domain.DiscrepancyReason(c.Quantity, *c.QuantityReceived),
		Photos:     c.Photos,
	}
	d, err := domain.NewDispute(uuid.New().String(), c, site, req, s.clock.Now())
	if err != nil {
		return domain.Dispute{}, domain.Cheque{}, err
	}

	return s.open(ctx, d, c)
}

func (s *Service) open(ctx context.Context, d domain.Dispute, c domain.Cheque) (domain.Dispute, domain.Cheque, error) {
	created, cheque, err := s.repo.OpenDispute(ctx, d, c)
	if err != nil {
		if apperror.IsDomainError(err) {
			s.logger.Warn("Litígio não aberto.", map[string]interface{}{"cheque_id": c.ID, "category": apperror.CategoryOf(err)})
			return domain.Dispute{}, domain.Cheque{}, err
		}
		s.logger.Error("Falha ao gravar litígio no repositório.", err)
		return domain.Dispute{}, domain.Cheque{}, apperror.NewInternalError("Falha interna ao abrir litígio.", err)
	}
	s.publish(ctx, events.DisputeOpened, created)

	s.logger.Info("Litígio aberto.", map[string]interface{}{
		"id":              created.ID,
		"cheque_id":       created.ChequeID,
		"claimant_id":     created.ClaimantID,
		"counterparty_id": created.CounterPartyID,
	})
	return created, cheque, nil
}

// Propose registra uma proposta de solução (OPEN -> PROPOSED).
func (s *Service) Propose(ctx context.Context, disputeID string, solution domain.ProposedSolution, proposerID string) (domain.Dispute, error) {
	d, err := s.repo.GetDispute(ctx, disputeID)
	if err != nil {
		return domain.Dispute{}, translate("buscar litígio", err)
	}
	if err := d.Propose(solution, proposerID, s.clock.Now()); err != nil {
		s.logger.Warn("Proposta recusada.", map[string]interface{}{"id": disputeID, "error": err.Error()})
		return domain.Dispute{}, err
	}

	updated, err := s.repo.UpdateDispute(ctx, d)
	if err != nil {
		return domain.Dispute{}, translate("gravar proposta", err)
	}
	s.publish(ctx, events.DisputeProposed, updated)

	s.logger.Info("Solução proposta.", map[string]interface{}{"id": updated.ID, "proposed_by": proposerID})
	return updated, nil
}

// Validate registra o aceite de uma parte. Com as duas partes de acordo o litígio
// é resolvido: o cheque volta a RECU com a quantidade acordada e o razão recebe o
// par (ou o ajuste) correspondente, tudo na mesma transação.
func (s *Service) Validate(ctx context.Context, disputeID, validatorID string) (domain.Dispute, error) {
	d, err := s.repo.GetDispute(ctx, disputeID)
	if err != nil {
		return domain.Dispute{}, translate("buscar litígio", err)
	}
	now := s.clock.Now()
	resolved, err := d.Validate(validatorID, now)
	if err != nil {
		s.logger.Warn("Validação recusada.", map[string]interface{}{"id": disputeID, "validator_id": validatorID, "error": err.Error()})
		return domain.Dispute{}, err
	}

	if !resolved {
		updated, err := s.repo.UpdateDispute(ctx, d)
		if err != nil {
			return domain.Dispute{}, translate("gravar validação", err)
		}
		s.logger.Info("Validação registrada; aguardando a outra parte.", map[string]interface{}{"id": updated.ID, "validated_by": updated.ValidatedBy})
		return updated, nil
	}

	c, err := s.cheques.GetCheque(ctx, d.ChequeID)
	if err != nil {
		return domain.Dispute{}, translate("buscar cheque", err)
	}
	site, err := s.sites.GetSite(ctx, c.ToSiteID)
	if err != nil {
		return domain.Dispute{}, translate("buscar site", err)
	}

	agreed := d.AgreedQuantity()
	debtor, creditor := domain.Parties(c, site)
	postings, err := domain.SettlementPostings(debtor, creditor, c.PostedQuantity, agreed, c.ID)
	if err != nil {
		return domain.Dispute{}, err
	}
	if err := c.ResolveDispute(agreed, *d.ResolvedAt); err != nil {
		return domain.Dispute{}, err
	}
	c.PostedQuantity = agreed

	updated, _, entries, err := s.repo.ResolveDispute(ctx, d, c, postings, *d.ResolvedAt)
	if err != nil {
		s.logger.Error("Falha ao gravar a resolução do litígio.", err)
		return domain.Dispute{}, translate("resolver litígio", err)
	}
	s.publish(ctx, events.DisputeResolved, updated)
	if len(entries) > 0 {
		s.publish(ctx, events.LedgerPosted, entries)
	}

	s.logger.Info("Litígio resolvido por consenso.", map[string]interface{}{
		"id":        updated.ID,
		"cheque_id": c.ID,
		"agreed":    agreed,
		"postings":  len(entries),
	})
	return updated, nil
}

// Escalate envia o litígio para arbitragem humana. O cheque continua em LITIGE.
func (s *Service) Escalate(ctx context.Context, disputeID, reason string) (domain.Dispute, error) {
	d, err := s.repo.GetDispute(ctx, disputeID)
	if err != nil {
		return domain.Dispute{}, translate("buscar litígio", err)
	}
	if err := d.Escalate(reason, s.clock.Now()); err != nil {
		s.logger.Warn("Escalada recusada.", map[string]interface{}{"id": disputeID, "error": err.Error()})
		return domain.Dispute{}, err
	}

	updated, err := s.repo.UpdateDispute(ctx, d)
	if err != nil {
		return domain.Dispute{}, translate("escalar litígio", err)
	}
	s.publish(ctx, events.DisputeEscalated, updated)

	s.logger.Info("Litígio escalado.", map[string]interface{}{"id": updated.ID, "reason": reason})
	return updated, nil
}

func (s *Service) GetByID(ctx context.Context, disputeID string) (domain.Dispute, error) {
	d, err := s.repo.GetDispute(ctx, disputeID)
	if err != nil {
		return domain.Dispute{}, translate("buscar litígio", err)
	}
	return d, nil
}

func (s *Service) List(ctx context.Context, filter domain.DisputeFilter) ([]domain.Dispute, error) {
	if filter.Status != "" && !filter.Status.Valid() {
		return nil, apperror.NewValidationError(fmt.Sprintf("status de litígio desconhecido: %s", filter.Status))
	}
	disputes, err := s.repo.ListDisputes(ctx, filter)
	if err != nil {
		s.logger.Error("Falha ao listar litígios.", err)
		return nil, translate("listar litígios", err)
	}
	return disputes, nil
}

func (s *Service) publish(ctx context.Context, event string, payload interface{}) {
	if err := s.events.Publish(ctx, event, payload); err != nil {
		s.logger.Warn("Falha ao publicar evento.", map[string]interface{}{"event": event, "error": err.Error()})
	}
}

func translate(op string, err error) error {
	if apperror.IsDomainError(err) {
		return err
	}
	return apperror.NewInternalError(fmt.Sprintf("Falha interna ao %s.", op), err)
}
