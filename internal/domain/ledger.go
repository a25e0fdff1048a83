package domain

import (
	"fmt"
	"strings"
	"time"

	apperror "paletteledger/internal/errors"
)

// Motivos padronizados dos lançamentos.
const (
	ReasonChequeTransfer    = "cheque-transfer"
	ReasonDisputeResolution = "dispute-resolution"
	ReasonDisputeAdjustment = "dispute-resolution-adjustment"
	ReasonManualAdjustment  = "manual-adjustment"
)

// LedgerPosting é um lançamento ainda não aplicado ao razão.
type LedgerPosting struct {
	CompanyID string  `json:"companyId"`
	Delta     int     `json:"delta"`
	Reason    string  `json:"reason"`
	ChequeID  *string `json:"chequeId,omitempty"`
}

// Validate verifica as regras de um lançamento isolado.
func (p LedgerPosting) Validate() error {
	if strings.TrimSpace(p.CompanyID) == "" {
		return apperror.NewValidationError("companyId do lançamento é obrigatório.")
	}
	if p.Delta == 0 {
		return apperror.NewInvalidQuantityError("o delta de um lançamento não pode ser zero.")
	}
	if strings.TrimSpace(p.Reason) == "" {
		return apperror.NewValidationError("todo lançamento precisa de um motivo.")
	}
	return nil
}

// LedgerEntry é uma linha imutável do histórico de uma empresa.
type LedgerEntry struct {
	ID         string    `json:"id"`
	CompanyID  string    `json:"companyId"`
	Date       time.Time `json:"date"`
	Delta      int       `json:"delta"`
	Reason     string    `json:"reason"`
	ChequeID   *string   `json:"chequeId"`
	NewBalance int       `json:"newBalance"`
}

// Apply materializa o lançamento sobre o saldo anterior.
func (p LedgerPosting) Apply(id string, previousBalance int, at time.Time) LedgerEntry {
	return LedgerEntry{
		ID:         id,
		CompanyID:  p.CompanyID,
		Date:       at,
		Delta:      p.Delta,
		Reason:     p.Reason,
		ChequeID:   p.ChequeID,
		NewBalance: previousBalance + p.Delta,
	}
}

// PendingDirection indica o sentido de uma transferência pendente do ponto de vista da empresa.
type PendingDirection string

const (
	PendingOutgoing PendingDirection = "OUTGOING"
	PendingIncoming PendingDirection = "INCOMING"
)

// PendingTransfer é um cheque depositado ou em litígio ainda não lançado no razão.
type PendingTransfer struct {
	ChequeID  string           `json:"chequeId"`
	Status    ChequeStatus     `json:"status"`
	Quantity  int              `json:"quantity"`
	Direction PendingDirection `json:"direction"`
	SiteID    string           `json:"siteId"`
}

// CompanyLedger é o histórico de uma empresa e seu saldo derivado.
type CompanyLedger struct {
	CompanyID string            `json:"companyId"`
	Balance   int               `json:"balance"`
	History   []LedgerEntry     `json:"history"`
	Pending   []PendingTransfer `json:"pending"`
}

// FoldLedger calcula o saldo a partir do histórico ordenado.
func FoldLedger(companyID string, history []LedgerEntry) CompanyLedger {
	if history == nil {
		history = []LedgerEntry{}
	}
	balance := 0
	for _, e := range history {
		balance += e.Delta
	}
	return CompanyLedger{
		CompanyID: companyID,
		Balance:   balance,
		History:   history,
		Pending:   []PendingTransfer{},
	}
}

// Verify checa o invariante de dobra: cada newBalance é a soma prefixada e o
// saldo é a soma de todos os deltas.
func (l CompanyLedger) Verify() error {
	running := 0
	for i, e := range l.History {
		if e.CompanyID != "" && e.CompanyID != l.CompanyID {
			return fmt.Errorf("ledger %s: entrada %d pertence a %s", l.CompanyID, i, e.CompanyID)
		}
		running += e.Delta
		if e.NewBalance != running {
			return fmt.Errorf("ledger %s: entrada %d tem newBalance %d, esperado %d", l.CompanyID, i, e.NewBalance, running)
		}
	}
	if l.Balance != running {
		return fmt.Errorf("ledger %s: saldo %d difere da soma dos deltas %d", l.CompanyID, l.Balance, running)
	}
	return nil
}

// TransferPostings monta o par de conservação: -amount para o devedor e +amount para o credor.
func TransferPostings(debtorID, creditorID string, amount int, chequeID, reason string) ([]LedgerPosting, error) {
	if amount <= 0 {
		return nil, apperror.NewInvalidQuantityError(fmt.Sprintf("a quantidade transferida deve ser positiva (recebido %d).", amount))
	}
	if debtorID == "" || creditorID == "" {
		return nil, apperror.NewValidationError("devedor e credor são obrigatórios.")
	}
	if debtorID == creditorID {
		return nil, apperror.NewValidationError("devedor e credor de uma transferência devem ser diferentes.")
	}
	if reason == "" {
		reason = ReasonChequeTransfer
	}
	var ref *string
	if chequeID != "" {
		id := chequeID
		ref = &id
	}
	return []LedgerPosting{
		{CompanyID: debtorID, Delta: -amount, Reason: reason, ChequeID: ref},
		{CompanyID: creditorID, Delta: amount, Reason: reason, ChequeID: ref},
	}, nil
}

// SettlementPostings calcula os lançamentos que levam o razão de `alreadyPosted`
// para `agreed` paletes transferidos pelo cheque. Sem lançamento anterior, gera o
// par de resolução; caso contrário, um par de ajuste pela diferença (sentido
// invertido quando a quantidade acordada é menor). Diferença zero não gera nada.
func SettlementPostings(debtorID, creditorID string, alreadyPosted, agreed int, chequeID string) ([]LedgerPosting, error) {
	if agreed < 0 {
		return nil, apperror.NewInvalidQuantityError(fmt.Sprintf("a quantidade acordada não pode ser negativa (recebido %d).", agreed))
	}
	diff := agreed - alreadyPosted
	switch {
	case diff == 0:
		return nil, nil
	case alreadyPosted == 0:
		return TransferPostings(debtorID, creditorID, diff, chequeID, ReasonDisputeResolution)
	case diff > 0:
		return TransferPostings(debtorID, creditorID, diff, chequeID, ReasonDisputeAdjustment)
	default:
		return TransferPostings(creditorID, debtorID, -diff, chequeID, ReasonDisputeAdjustment)
	}
}

// LedgerExportRow é uma linha exportável do histórico.
type LedgerExportRow struct {
	Date       time.Time
	Delta      int
	Reason     string
	ChequeID   string
	NewBalance int
}

// ExportRows achata o histórico para exportação.
func (l CompanyLedger) ExportRows() []LedgerExportRow {
	rows := make([]LedgerExportRow, 0, len(l.History))
	for _, e := range l.History {
		row := LedgerExportRow{Date: e.Date, Delta: e.Delta, Reason: e.Reason, NewBalance: e.NewBalance}
		if e.ChequeID != nil {
			row.ChequeID = *e.ChequeID
		}
		rows = append(rows, row)
	}
	return rows
}
