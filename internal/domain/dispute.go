package domain

import (
	"fmt"
	"strings"
	"time"

	apperror "paletteledger/internal/errors"
)

// DisputeStatus é o estado de um litígio.
type DisputeStatus string

const (
	DisputeOpen      DisputeStatus = "OPEN"
	DisputeProposed  DisputeStatus = "PROPOSED"
	DisputeResolved  DisputeStatus = "RESOLVED"
	DisputeEscalated DisputeStatus = "ESCALATED"
)

func (s DisputeStatus) Valid() bool {
	switch s {
	case DisputeOpen, DisputeProposed, DisputeResolved, DisputeEscalated:
		return true
	}
	return false
}

// Active indica um litígio ainda em negociação (OPEN ou PROPOSED).
func (s DisputeStatus) Active() bool {
	return s == DisputeOpen || s == DisputeProposed
}

// ProposedSolution é a proposta de encerramento: descrição livre e quantidade acordada.
type ProposedSolution struct {
	Description string `json:"description"`
	Quantity    *int   `json:"quantity,omitempty"`
}

// Dispute é um cheque contestado entre a empresa emissora e a dona do site.
type Dispute struct {
	ID               string            `json:"id"`
	ChequeID         string            `json:"chequeId"`
	ClaimantID       string            `json:"claimantId"`
	CounterPartyID   string            `json:"counterPartyId"`
	Reason           string            `json:"reason"`
	Comments         string            `json:"comments,omitempty"`
	Photos           []Photo           `json:"photos"`
	Status           DisputeStatus     `json:"status"`
	ProposedSolution *ProposedSolution `json:"proposedSolution"`
	Resolution       *ProposedSolution `json:"resolution"`
	ValidatedBy      []string          `json:"validatedBy"`
	ProposedBy       string            `json:"proposedBy,omitempty"`
	ExpectedQuantity int               `json:"expectedQuantity"`
	ReceivedQuantity *int              `json:"receivedQuantity,omitempty"`
	EscalationReason string            `json:"escalationReason,omitempty"`
	Version          int               `json:"version"`
	CreatedAt        time.Time         `json:"createdAt"`
	UpdatedAt        time.Time         `json:"updatedAt"`
	ResolvedAt       *time.Time        `json:"resolvedAt,omitempty"`
}

// OpenDisputeRequest é o payload de abertura manual de um litígio.
type OpenDisputeRequest struct {
	ChequeID   string  `json:"chequeId"`
	ClaimantID string  `json:"claimantId"`
	Reason     string  `json:"reason"`
	Comments   string  `json:"comments,omitempty"`
	Photos     []Photo `json:"photos,omitempty"`
}

// Parties devolve as duas partes de um cheque: a emissora e a dona do site.
func Parties(cheque Cheque, site Site) (string, string) {
	return cheque.FromCompanyID, site.CompanyID
}

// NewDispute cria um litígio OPEN. O reclamante precisa ser parte do cheque;
// a contraparte é a outra parte.
func NewDispute(id string, cheque Cheque, site Site, req OpenDisputeRequest, at time.Time) (Dispute, error) {
	if strings.TrimSpace(req.Reason) == "" {
		return Dispute{}, apperror.NewValidationError("o motivo do litígio é obrigatório.")
	}
	issuer, owner := Parties(cheque, site)
	var counterParty string
	switch req.ClaimantID {
	case issuer:
		counterParty = owner
	case owner:
		counterParty = issuer
	default:
		return Dispute{}, apperror.NewForbiddenError(fmt.Sprintf("%s não é parte do cheque %s.", req.ClaimantID, cheque.ID))
	}

	photos := req.Photos
	if photos == nil {
		photos = []Photo{}
	}
	return Dispute{
		ID:               id,
		ChequeID:         cheque.ID,
		ClaimantID:       req.ClaimantID,
		CounterPartyID:   counterParty,
		Reason:           req.Reason,
		Comments:         req.Comments,
		Photos:           photos,
		Status:           DisputeOpen,
		ValidatedBy:      []string{},
		ExpectedQuantity: cheque.Quantity,
		ReceivedQuantity: cheque.QuantityReceived,
		Version:          1,
		CreatedAt:        at,
		UpdatedAt:        at,
	}, nil
}

// DiscrepancyReason descreve a divergência entre quantidade emitida e recebida.
func DiscrepancyReason(expected, received int) string {
	if received < expected {
		return fmt.Sprintf("Divergência na recepção: esperado %d, recebido %d (falta de %d paletes).", expected, received, expected-received)
	}
	return fmt.Sprintf("Divergência na recepção: esperado %d, recebido %d (excedente de %d paletes).", expected, received, received-expected)
}

// IsParty indica se o identificador é o reclamante ou a contraparte.
func (d Dispute) IsParty(id string) bool {
	return id != "" && (id == d.ClaimantID || id == d.CounterPartyID)
}

// Propose aplica OPEN -> PROPOSED. O proponente valida implicitamente a própria
// proposta. Sem quantidade explícita, vale a quantidade recebida (ou a emitida).
func (d *Dispute) Propose(solution ProposedSolution, proposerID string, at time.Time) error {
	if d.Status != DisputeOpen {
		return apperror.NewInvalidStateError(fmt.Sprintf("o litígio %s está em %s; a proposta exige OPEN.", d.ID, d.Status))
	}
	if !d.IsParty(proposerID) {
		return apperror.NewForbiddenError(fmt.Sprintf("%s não é parte do litígio %s.", proposerID, d.ID))
	}
	if strings.TrimSpace(solution.Description) == "" {
		return apperror.NewValidationError("a proposta precisa de uma descrição.")
	}
	if solution.Quantity == nil {
		q := d.ExpectedQuantity
		if d.ReceivedQuantity != nil {
			q = *d.ReceivedQuantity
		}
		solution.Quantity = &q
	} else if *solution.Quantity < 0 {
		return apperror.NewInvalidQuantityError(fmt.Sprintf("a quantidade proposta não pode ser negativa (recebido %d).", *solution.Quantity))
	}

	d.ProposedSolution = &solution
	d.ProposedBy = proposerID
	d.ValidatedBy = []string{proposerID}
	d.Status = DisputeProposed
	d.UpdatedAt = notBefore(at, d.UpdatedAt)
	return nil
}

// Validate registra o aceite de uma parte. Retorna true quando as duas partes
// validaram e o litígio passou a RESOLVED.
func (d *Dispute) Validate(validatorID string, at time.Time) (bool, error) {
	if d.Status != DisputeProposed {
		return false, apperror.NewInvalidStateError(fmt.Sprintf("o litígio %s está em %s; a validação exige PROPOSED.", d.ID, d.Status))
	}
	if !d.IsParty(validatorID) {
		return false, apperror.NewForbiddenError(fmt.Sprintf("%s não é parte do litígio %s.", validatorID, d.ID))
	}
	if !d.validatedBy(validatorID) {
		d.ValidatedBy = append(d.ValidatedBy, validatorID)
	}
	d.UpdatedAt = notBefore(at, d.UpdatedAt)

	if !d.validatedBy(d.ClaimantID) || !d.validatedBy(d.CounterPartyID) {
		return false, nil
	}
	resolution := *d.ProposedSolution
	resolvedAt := d.UpdatedAt
	d.Resolution = &resolution
	d.ResolvedAt = &resolvedAt
	d.Status = DisputeResolved
	return true, nil
}

// AgreedQuantity é a quantidade final da resolução.
func (d Dispute) AgreedQuantity() int {
	if d.Resolution != nil && d.Resolution.Quantity != nil {
		return *d.Resolution.Quantity
	}
	return d.ExpectedQuantity
}

// Escalate aplica OPEN|PROPOSED -> ESCALATED.
func (d *Dispute) Escalate(reason string, at time.Time) error {
	if !d.Status.Active() {
		return apperror.NewInvalidStateError(fmt.Sprintf("o litígio %s está em %s; só litígios OPEN ou PROPOSED podem ser escalados.", d.ID, d.Status))
	}
	if strings.TrimSpace(reason) == "" {
		return apperror.NewValidationError("o motivo da escalada é obrigatório.")
	}
	d.EscalationReason = reason
	d.Status = DisputeEscalated
	d.UpdatedAt = notBefore(at, d.UpdatedAt)
	return nil
}

func (d Dispute) validatedBy(id string) bool {
	for _, v := range d.ValidatedBy {
		if v == id {
			return true
		}
	}
	return false
}

// DisputeFilter filtra a listagem de litígios.
type DisputeFilter struct {
	Status    DisputeStatus
	ChequeID  string
	CompanyID string
}
