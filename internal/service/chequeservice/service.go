package chequeservice

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

// ChequeRepository define o contrato que o Serviço de Cheques espera da camada de Persistência.
type ChequeRepository interface {
	CreateCheque(ctx context.Context, c domain.Cheque) (domain.Cheque, error)
	GetCheque(ctx context.Context, id string) (domain.Cheque, error)
	ListCheques(ctx context.Context, filter domain.ChequeFilter) (domain.ChequePage, error)
	UpdateCheque(ctx context.Context, c domain.Cheque) (domain.Cheque, error)
	// UpdateChequeWithPostings grava o cheque e os lançamentos na mesma transação.
	UpdateChequeWithPostings(ctx context.Context, c domain.Cheque, postings []domain.LedgerPosting, at time.Time) (domain.Cheque, []domain.LedgerEntry, error)
}

// SiteReader lê os sites de devolução.
type SiteReader interface {
	GetSite(ctx context.Context, id string) (domain.Site, error)
}

// QuotaController é o controle de admissão de depósitos (quotaservice).
type QuotaController interface {
	CheckAndReserve(ctx context.Context, siteID string, quantity int, at time.Time) (domain.SiteQuota, error)
	Release(ctx context.Context, siteID string, quantity int, at time.Time) (domain.SiteQuota, error)
}

// DisputeOpener abre o litígio automático de uma recepção divergente (disputeservice).
// O cheque chega em LITIGE e é gravado junto com o litígio.
type DisputeOpener interface {
	OpenForDiscrepancy(ctx context.Context, cheque domain.Cheque, site domain.Site) (domain.Dispute, domain.Cheque, error)
}

// Signer assina os campos imutáveis do cheque e gera os QR codes.
type Signer interface {
	Sign(payload []byte) string
	Verify(payload []byte, signature string) bool
	NewQRCode() string
}

// DepositResult é a resposta de um depósito aceito.
type DepositResult struct {
	Cheque domain.Cheque    `json:"cheque"`
	Quota  domain.SiteQuota `json:"quota"`
}

// ReceiptResult é a resposta de uma recepção; Dispute só existe em caso de divergência.
type ReceiptResult struct {
	Cheque  domain.Cheque        `json:"cheque"`
	Dispute *domain.Dispute      `json:"dispute,omitempty"`
	Entries []domain.LedgerEntry `json:"entries,omitempty"`
}

// VerifyResult é o resultado da verificação da assinatura.
type VerifyResult struct {
	ChequeID string `json:"chequeId"`
	Valid    bool   `json:"valid"`
}

// PendingNote é o evento de transferência pendente emitido no depósito.
type PendingNote struct {
	ChequeID      string `json:"chequeId"`
	FromCompanyID string `json:"fromCompanyId"`
	ToCompanyID   string `json:"toCompanyId"`
	SiteID        string `json:"siteId"`
	Quantity      int    `json:"quantity"`
}

// Service é o ciclo de vida dos cheques-palete.
type Service struct {
	repo     ChequeRepository
	sites    SiteReader
	quota    QuotaController
	disputes DisputeOpener
	signer   Signer
	events   events.Publisher
	clock    clock.Clock
	logger   logger.Logger
}

// NewService cria e retorna uma nova instância do Serviço de Cheques.
func NewService(repo ChequeRepository, sites SiteReader, quota QuotaController, disputes DisputeOpener,
	signer Signer, publisher events.Publisher, clk clock.Clock, logger logger.Logger) *Service {
	if publisher == nil {
		publisher = events.NopPublisher{}
	}
	return &Service{
		repo:     repo,
		sites:    sites,
		quota:    quota,
		disputes: disputes,
		signer:   signer,
		events:   publisher,
		clock:    clk,
		logger:   logger,
	}
}

// Issue emite um cheque em EMIS, assinado e com QR code.
func (s *Service) Issue(ctx context.Context, req domain.IssueRequest) (domain.Cheque, error) {
	s.logger.Debug("Iniciando emissão de cheque no serviço.", map[string]interface{}{
		"order_id":        req.OrderID,
		"from_company_id": req.FromCompanyID,
		"to_site_id":      req.ToSiteID,
		"quantity":        req.Quantity,
	})

	if err := req.Validate(); err != nil {
		s.logger.Warn("Falha de validação na emissão.", map[string]interface{}{"error": err.Error()})
		return domain.Cheque{}, err
	}

	site, err := s.sites.GetSite(ctx, req.ToSiteID)
	if err != nil {
		return domain.Cheque{}, translate("buscar site", err)
	}
	if !site.Active {
		return domain.Cheque{}, apperror.NewInvalidStateError(fmt.Sprintf("o site %s está desativado.", site.ID))
	}
	if site.CompanyID == req.FromCompanyID {
		return domain.Cheque{}, apperror.NewValidationError(fmt.Sprintf("a empresa %s é dona do site %s; a transferência não teria contraparte.", req.FromCompanyID, site.ID))
	}

	c := domain.Cheque{
		ID:            uuid.New().String(),
		OrderID:       req.OrderID,
		FromCompanyID: req.FromCompanyID,
		ToSiteID:      req.ToSiteID,
		Quantity:      req.Quantity,
		PalletType:    req.PalletType,
		QRCode:        s.signer.NewQRCode(),
		Photos:        []domain.Photo{},
		Status:        domain.ChequeIssued,
		CreatedAt:     s.clock.Now(),
		Version:       1,
	}
	c.CryptoSignature = s.signer.Sign(c.SignableFields())

	created, err := s.repo.CreateCheque(ctx, c)
	if err != nil {
		s.logger.Error("Falha ao criar cheque no repositório.", err)
		return domain.Cheque{}, translate("criar cheque", err)
	}
	s.publish(ctx, events.ChequeIssued, created)

	s.logger.Info("Cheque emitido com sucesso.", map[string]interface{}{
		"id":       created.ID,
		"qr_code":  created.QRCode,
		"quantity": created.Quantity,
	})
	return created, nil
}

// ConfirmDeposit registra o depósito no site de destino (EMIS -> DEPOSE).
// A cota é reservada antes; se a gravação do cheque falhar, a reserva é devolvida.
func (s *Service) ConfirmDeposit(ctx context.Context, chequeID, siteID string, ev domain.Evidence) (DepositResult, error) {
	s.logger.Debug("Iniciando depósito de cheque.", map[string]interface{}{"id": chequeID, "site_id": siteID})

	c, err := s.repo.GetCheque(ctx, chequeID)
	if err != nil {
		return DepositResult{}, translate("buscar cheque", err)
	}
	if err := c.CheckDeposit(siteID); err != nil {
		s.logger.Warn("Depósito recusado.", map[string]interface{}{"id": chequeID, "error": err.Error()})
		return DepositResult{}, err
	}
	if err := ev.Validate(); err != nil {
		return DepositResult{}, err
	}

	at := s.clock.Now()
	quota, err := s.quota.CheckAndReserve(ctx, siteID, c.Quantity, at)
	if err != nil {
		return DepositResult{}, err
	}

	if err := c.Deposit(siteID, at, ev); err != nil {
		s.compensate(ctx, c, at)
		return DepositResult{}, err
	}
	updated, err := s.repo.UpdateCheque(ctx, c)
	if err != nil {
		s.logger.Error("Falha ao gravar depósito; devolvendo a reserva de cota.", err)
		s.compensate(ctx, c, at)
		return DepositResult{}, translate("gravar depósito", err)
	}

	s.publish(ctx, events.ChequeDeposited, updated)
	if site, err := s.sites.GetSite(ctx, updated.ToSiteID); err == nil {
		s.publish(ctx, events.LedgerPending, PendingNote{
			ChequeID:      updated.ID,
			FromCompanyID: updated.FromCompanyID,
			ToCompanyID:   site.CompanyID,
			SiteID:        site.ID,
			Quantity:      updated.Quantity,
		})
	}

	s.logger.Info("Depósito confirmado.", map[string]interface{}{
		"id":        updated.ID,
		"site_id":   siteID,
		"consumed":  quota.Consumed,
		"remaining": quota.Remaining,
	})
	return DepositResult{Cheque: updated, Quota: quota}, nil
}

func (s *Service) compensate(ctx context.Context, c domain.Cheque, at time.Time) {
	if _, err := s.quota.Release(ctx, c.ToSiteID, c.Quantity, at); err != nil {
		s.logger.Error(fmt.Sprintf("Falha ao devolver a cota do cheque %s.", c.ID), err)
	}
}

// ConfirmReceipt registra a recepção (DEPOSE -> RECU ou LITIGE).
// Quantidade igual: par de lançamentos na mesma transação. Divergente: litígio automático.
func (s *Service) ConfirmReceipt(ctx context.Context, chequeID string, quantityReceived int, ev domain.Evidence) (ReceiptResult, error) {
	s.logger.Debug("Iniciando recepção de cheque.", map[string]interface{}{"id": chequeID, "quantity_received": quantityReceived})

	c, err := s.repo.GetCheque(ctx, chequeID)
	if err != nil {
		return ReceiptResult{}, translate("buscar cheque", err)
	}
	if err := ev.Validate(); err != nil {
		return ReceiptResult{}, err
	}
	site, err := s.sites.GetSite(ctx, c.ToSiteID)
	if err != nil {
		return ReceiptResult{}, translate("buscar site", err)
	}

	matched, err := c.Receive(quantityReceived, s.clock.Now(), ev)
	if err != nil {
		s.logger.Warn("Recepção recusada.", map[string]interface{}{"id": chequeID, "error": err.Error()})
		return ReceiptResult{}, err
	}

	if !matched {
		dispute, updated, err := s.disputes.OpenForDiscrepancy(ctx, c, site)
		if err != nil {
			s.logger.Error("Falha ao abrir o litígio da recepção divergente.", err)
			return ReceiptResult{}, translate("abrir litígio", err)
		}
		s.logger.Info("Recepção divergente; litígio aberto.", map[string]interface{}{
			"id":         updated.ID,
			"dispute_id": dispute.ID,
			"expected":   updated.Quantity,
			"received":   quantityReceived,
		})
		return ReceiptResult{Cheque: updated, Dispute: &dispute}, nil
	}

	debtor, creditor := domain.Parties(c, site)
	postings, err := domain.TransferPostings(debtor, creditor, quantityReceived, c.ID, domain.ReasonChequeTransfer)
	if err != nil {
		return ReceiptResult{}, err
	}
	c.PostedQuantity = quantityReceived

	updated, entries, err := s.repo.UpdateChequeWithPostings(ctx, c, postings, *c.ReceivedAt)
	if err != nil {
		s.logger.Error("Falha ao gravar recepção e lançamentos.", err)
		return ReceiptResult{}, translate("gravar recepção", err)
	}
	s.publish(ctx, events.ChequeReceived, updated)
	s.publish(ctx, events.LedgerPosted, entries)

	s.logger.Info("Recepção confirmada e lançada no razão.", map[string]interface{}{
		"id":       updated.ID,
		"debtor":   debtor,
		"creditor": creditor,
		"quantity": quantityReceived,
	})
	return ReceiptResult{Cheque: updated, Entries: entries}, nil
}

// GetByID busca um cheque.
func (s *Service) GetByID(ctx context.Context, chequeID string) (domain.Cheque, error) {
	c, err := s.repo.GetCheque(ctx, chequeID)
	if err != nil {
		return domain.Cheque{}, translate("buscar cheque", err)
	}
	return c, nil
}

// List devolve uma página de cheques ordenada por (createdAt, id).
func (s *Service) List(ctx context.Context, filter domain.ChequeFilter) (domain.ChequePage, error) {
	filter, err := filter.Normalize()
	if err != nil {
		return domain.ChequePage{}, err
	}
	page, err := s.repo.ListCheques(ctx, filter)
	if err != nil {
		s.logger.Error("Falha ao listar cheques.", err)
		return domain.ChequePage{}, translate("listar cheques", err)
	}
	return page, nil
}

// Verify recalcula a assinatura sobre os campos imutáveis.
func (s *Service) Verify(ctx context.Context, chequeID string) (VerifyResult, error) {
	c, err := s.repo.GetCheque(ctx, chequeID)
	if err != nil {
		return VerifyResult{}, translate("buscar cheque", err)
	}
	valid := s.signer.Verify(c.SignableFields(), c.CryptoSignature)
	if !valid {
		s.logger.Warn("Assinatura de cheque inválida.", map[string]interface{}{"id": c.ID})
	}
	return VerifyResult{ChequeID: c.ID, Valid: valid}, nil
}

// Parties devolve a empresa emissora e a dona do site de destino; usado na autorização.
func (s *Service) Parties(ctx context.Context, chequeID string) (string, string, error) {
	c, err := s.repo.GetCheque(ctx, chequeID)
	if err != nil {
		return "", "", translate("buscar cheque", err)
	}
	site, err := s.sites.GetSite(ctx, c.ToSiteID)
	if err != nil {
		return "", "", translate("buscar site", err)
	}
	issuer, owner := domain.Parties(c, site)
	return issuer, owner, nil
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
