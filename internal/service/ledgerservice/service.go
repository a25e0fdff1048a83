package ledgerservice

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/xuri/excelize/v2"
	"golang.org/x/sync/errgroup"

	"paletteledger/internal/domain"
	apperror "paletteledger/internal/errors"
	"paletteledger/internal/pkg/clock"
	"paletteledger/internal/pkg/events"
	"paletteledger/internal/pkg/logger"
)

// LedgerRepository define o contrato que o Serviço de Razão espera da camada de Persistência.
// AppendLedgerEntries grava todos os lançamentos ou nenhum.
type LedgerRepository interface {
	AppendLedgerEntries(ctx context.Context, postings []domain.LedgerPosting, at time.Time) ([]domain.LedgerEntry, error)
	GetLedger(ctx context.Context, companyID string) (domain.CompanyLedger, error)
}

// ChequeReader lê os cheques referenciados pelo razão e os depositados ainda não lançados.
type ChequeReader interface {
	GetCheque(ctx context.Context, id string) (domain.Cheque, error)
	ListPendingTransfers(ctx context.Context, companyID string) ([]domain.PendingTransfer, error)
}

// maxParallelReads limita as leituras simultâneas em GetAllLedgers.
const maxParallelReads = 8

const exportSheet = "Razão"

// Service é o razão de paletes por empresa.
type Service struct {
	repo    LedgerRepository
	cheques ChequeReader
	events  events.Publisher
	clock   clock.Clock
	logger  logger.Logger
}

// NewService cria e retorna uma nova instância do Serviço de Razão.
func NewService(repo LedgerRepository, cheques ChequeReader, publisher events.Publisher, clk clock.Clock, logger logger.Logger) *Service {
	if publisher == nil {
		publisher = events.NopPublisher{}
	}
	return &Service{repo: repo, cheques: cheques, events: publisher, clock: clk, logger: logger}
}

// Post acrescenta um lançamento avulso (correção manual). O histórico nunca é reescrito.
func (s *Service) Post(ctx context.Context, companyID string, delta int, reason string, chequeID *string) (domain.LedgerEntry, error) {
	s.logger.Debug("Lançamento avulso no razão.", map[string]interface{}{
		"company_id": companyID,
		"delta":      delta,
		"reason":     reason,
	})

	posting := domain.LedgerPosting{CompanyID: companyID, Delta: delta, Reason: reason, ChequeID: chequeID}
	if err := posting.Validate(); err != nil {
		s.logger.Warn("Lançamento inválido.", map[string]interface{}{"error": err.Error()})
		return domain.LedgerEntry{}, err
	}
	if chequeID != nil && s.cheques != nil {
		if _, err := s.cheques.GetCheque(ctx, *chequeID); err != nil {
			s.logger.Warn("Lançamento referencia cheque inexistente.", map[string]interface{}{"cheque_id": *chequeID})
			return domain.LedgerEntry{}, translate("buscar cheque", err)
		}
	}

	entries, err := s.repo.AppendLedgerEntries(ctx, []domain.LedgerPosting{posting}, s.clock.Now())
	if err != nil {
		s.logger.Error("Falha ao gravar lançamento no repositório.", err)
		return domain.LedgerEntry{}, translate("gravar lançamento", err)
	}
	s.publish(ctx, entries)

	s.logger.Info("Lançamento gravado.", map[string]interface{}{
		"company_id":  companyID,
		"entry_id":    entries[0].ID,
		"new_balance": entries[0].NewBalance,
	})
	return entries[0], nil
}

// PostTransferPair grava o par devedor/credor de forma atômica. A soma dos deltas é zero.
func (s *Service) PostTransferPair(ctx context.Context, debtorID, creditorID string, amount int, chequeID string) ([]domain.LedgerEntry, error) {
	postings, err := domain.TransferPostings(debtorID, creditorID, amount, chequeID, domain.ReasonChequeTransfer)
	if err != nil {
		return nil, err
	}

	entries, err := s.repo.AppendLedgerEntries(ctx, postings, s.clock.Now())
	if err != nil {
		s.logger.Error("Falha ao gravar par de lançamentos.", err)
		return nil, translate("gravar par de lançamentos", err)
	}
	s.publish(ctx, entries)

	s.logger.Info("Par de lançamentos gravado.", map[string]interface{}{
		"debtor":    debtorID,
		"creditor":  creditorID,
		"amount":    amount,
		"cheque_id": chequeID,
	})
	return entries, nil
}

// GetLedger devolve o histórico da empresa, o saldo dobrado e as transferências pendentes.
func (s *Service) GetLedger(ctx context.Context, companyID string) (domain.CompanyLedger, error) {
	if strings.TrimSpace(companyID) == "" {
		return domain.CompanyLedger{}, apperror.NewValidationError("companyId é obrigatório.")
	}

	ledger, err := s.repo.GetLedger(ctx, companyID)
	if err != nil {
		return domain.CompanyLedger{}, translate("ler razão", err)
	}
	if err := ledger.Verify(); err != nil {
		s.logger.Error(fmt.Sprintf("Razão da empresa %s inconsistente.", companyID), err)
		return domain.CompanyLedger{}, apperror.NewInternalError("Razão inconsistente.", err)
	}

	if s.cheques != nil {
		pending, err := s.cheques.ListPendingTransfers(ctx, companyID)
		if err != nil {
			return domain.CompanyLedger{}, translate("listar pendências", err)
		}
		ledger.Pending = pending
	}
	return ledger, nil
}

// GetAllLedgers lê os razões em paralelo, na ordem pedida.
func (s *Service) GetAllLedgers(ctx context.Context, companyIDs []string) ([]domain.CompanyLedger, error) {
	ids := dedupe(companyIDs)
	if len(ids) == 0 {
		return nil, apperror.NewValidationError("informe ao menos um companyId.")
	}

	ledgers := make([]domain.CompanyLedger, len(ids))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(maxParallelReads)
	for i, id := range ids {
		i, id := i, id
		g.Go(func() error {
			ledger, err := s.GetLedger(gctx, id)
			if err != nil {
				return err
			}
			ledgers[i] = ledger
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	s.logger.Debug("Razões lidos em lote.", map[string]interface{}{"companies": len(ids)})
	return ledgers, nil
}

// ExportXLSX gera a planilha do histórico da empresa.
func (s *Service) ExportXLSX(ctx context.Context, companyID string) ([]byte, error) {
	start := time.Now()
	ledger, err := s.GetLedger(ctx, companyID)
	if err != nil {
		return nil, err
	}

	f := excelize.NewFile()
	defer f.Close()

	if err := writeLedgerSheet(f, ledger); err != nil {
		s.logger.Error(fmt.Sprintf("Falha ao montar a planilha da empresa %s.", companyID), err)
		return nil, apperror.NewInternalError("Falha ao montar a planilha.", err)
	}

	buf, err := f.WriteToBuffer()
	if err != nil {
		return nil, apperror.NewInternalError("Falha ao gerar a planilha.", err)
	}

	s.logger.Info("Razão exportado.", map[string]interface{}{
		"company_id": companyID,
		"rows":       len(ledger.History),
		"elapsed_ms": time.Since(start).Milliseconds(),
	})
	return buf.Bytes(), nil
}

func (s *Service) publish(ctx context.Context, entries []domain.LedgerEntry) {
	if err := s.events.Publish(ctx, events.LedgerPosted, entries); err != nil {
		s.logger.Warn("Falha ao publicar evento.", map[string]interface{}{"event": events.LedgerPosted, "error": err.Error()})
	}
}

func dedupe(ids []string) []string {
	seen := make(map[string]bool, len(ids))
	out := make([]string, 0, len(ids))
	for _, id := range ids {
		id = strings.TrimSpace(id)
		if id == "" || seen[id] {
			continue
		}
		seen[id] = true
		out = append(out, id)
	}
	return out
}

func translate(op string, err error) error {
	if apperror.IsDomainError(err) {
		return err
	}
	return apperror.NewInternalError(fmt.Sprintf("Falha interna ao %s.", op), err)
}

// sheetWriter guarda o primeiro erro das escritas na planilha.
type sheetWriter struct {
	f   *excelize.File
	err error
}

func (w *sheetWriter) cell(col, row int, v interface{}) {
	if w.err != nil {
		return
	}
	name, err := excelize.CoordinatesToCellName(col, row)
	if err != nil {
		w.err = err
		return
	}
	w.err = w.f.SetCellValue(exportSheet, name, v)
}

func (w *sheetWriter) width(col string, width float64) {
	if w.err != nil {
		return
	}
	w.err = w.f.SetColWidth(exportSheet, col, col, width)
}

// writeLedgerSheet monta a aba do razão e devolve o primeiro erro do excelize.
func writeLedgerSheet(f *excelize.File, ledger domain.CompanyLedger) error {
	if _, err := f.NewSheet(exportSheet); err != nil {
		return err
	}
	index, err := f.GetSheetIndex(exportSheet)
	if err != nil {
		return err
	}
	f.SetActiveSheet(index)
	if err := f.DeleteSheet("Sheet1"); err != nil {
		return err
	}

	w := &sheetWriter{f: f}
	for i, h := range []string{"Data", "Delta", "Motivo", "Cheque", "Saldo"} {
		w.cell(i+1, 1, h)
	}

	row := 2
	for _, r := range ledger.ExportRows() {
		w.cell(1, row, r.Date.Format(time.RFC3339))
		w.cell(2, row, r.Delta)
		w.cell(3, row, r.Reason)
		w.cell(4, row, r.ChequeID)
		w.cell(5, row, r.NewBalance)
		row++
	}

	// linha de total
	w.cell(4, row, "Saldo final")
	w.cell(5, row, ledger.Balance)

	w.width("A", 26)
	w.width("B", 10)
	w.width("C", 32)
	w.width("D", 40)
	w.width("E", 12)
	return w.err
}
