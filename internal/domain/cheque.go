package domain

import (
	"encoding/base64"
	"fmt"
	"strconv"
	"strings"
	"time"

	apperror "paletteledger/internal/errors"
)

// ChequeStatus é o estado do ciclo de vida de um cheque-palete.
type ChequeStatus string

const (
	ChequeIssued    ChequeStatus = "EMIS"
	ChequeDeposited ChequeStatus = "DEPOSE"
	ChequeReceived  ChequeStatus = "RECU"
	ChequeDisputed  ChequeStatus = "LITIGE"
)

// Valid indica se o status é conhecido.
func (s ChequeStatus) Valid() bool {
	switch s {
	case ChequeIssued, ChequeDeposited, ChequeReceived, ChequeDisputed:
		return true
	}
	return false
}

// Geolocation é um ponto GPS capturado no momento do depósito ou da recepção.
type Geolocation struct {
	Lat      float64  `json:"lat"`
	Lng      float64  `json:"lng"`
	Accuracy *float64 `json:"accuracy,omitempty"`
}

// Validate verifica os limites de latitude/longitude.
func (g Geolocation) Validate() error {
	if g.Lat < -90 || g.Lat > 90 || g.Lng < -180 || g.Lng > 180 {
		return apperror.NewValidationError("Coordenadas GPS fora dos limites.")
	}
	return nil
}

// Photo é uma evidência fotográfica com data de captura.
type Photo struct {
	URL     string    `json:"url"`
	SHA256  string    `json:"sha256,omitempty"`
	TakenAt time.Time `json:"takenAt"`
}

// Signatures guarda as provas de entrega física (assinatura do transportador e do receptor).
type Signatures struct {
	Transporter *string `json:"transporter,omitempty"`
	Receiver    *string `json:"receiver,omitempty"`
}

// Geolocations guarda os pontos GPS de depósito e recepção.
type Geolocations struct {
	Deposit *Geolocation `json:"deposit,omitempty"`
	Receipt *Geolocation `json:"receipt,omitempty"`
}

// Evidence agrupa as provas opcionais enviadas com um depósito ou uma recepção.
type Evidence struct {
	Geolocation *Geolocation `json:"geolocation,omitempty"`
	Signature   *string      `json:"signature,omitempty"`
	Photos      []Photo      `json:"photos,omitempty"`
}

// Validate verifica a evidência antes de qualquer mutação.
func (e Evidence) Validate() error {
	if e.Geolocation != nil {
		if err := e.Geolocation.Validate(); err != nil {
			return err
		}
	}
	for _, p := range e.Photos {
		if strings.TrimSpace(p.URL) == "" {
			return apperror.NewValidationError("Toda foto de evidência precisa de uma URL.")
		}
	}
	return nil
}

// Cheque representa um cheque-palete: a transferência declarada de uma quantidade
// de paletes de uma empresa para um site de devolução.
type Cheque struct {
	ID               string       `json:"id"`
	OrderID          string       `json:"orderId"`
	FromCompanyID    string       `json:"fromCompanyId"`
	ToSiteID         string       `json:"toSiteId"`
	Quantity         int          `json:"quantity"`
	QuantityReceived *int         `json:"quantityReceived,omitempty"`
	PalletType       string       `json:"palletType"`
	QRCode           string       `json:"qrCode"`
	CryptoSignature  string       `json:"cryptoSignature"`
	Signatures       Signatures   `json:"signatures"`
	Photos           []Photo      `json:"photos"`
	Geolocations     Geolocations `json:"geolocations"`
	Status           ChequeStatus `json:"status"`
	CreatedAt        time.Time    `json:"createdAt"`
	DepositedAt      *time.Time   `json:"depositedAt,omitempty"`
	ReceivedAt       *time.Time   `json:"receivedAt,omitempty"`

	// PostedQuantity é a quantidade já lançada no razão para este cheque (0 = nada lançado).
	PostedQuantity int `json:"postedQuantity"`
	Version        int `json:"version"`
}

// IssueRequest é o payload de emissão de um cheque.
type IssueRequest struct {
	OrderID       string `json:"orderId"`
	FromCompanyID string `json:"fromCompanyId"`
	ToSiteID      string `json:"toSiteId"`
	Quantity      int    `json:"quantity"`
	PalletType    string `json:"palletType"`
}

// Validate aplica as regras de emissão. Quantidade <= 0 é InvalidQuantity.
func (r IssueRequest) Validate() error {
	if r.Quantity <= 0 {
		return apperror.NewInvalidQuantityError(fmt.Sprintf("a quantidade emitida deve ser positiva (recebido %d).", r.Quantity))
	}
	if strings.TrimSpace(r.OrderID) == "" || strings.TrimSpace(r.FromCompanyID) == "" || strings.TrimSpace(r.ToSiteID) == "" {
		return apperror.NewValidationError("orderId, fromCompanyId e toSiteId são obrigatórios.")
	}
	if strings.TrimSpace(r.PalletType) == "" {
		return apperror.NewValidationError("palletType é obrigatório.")
	}
	return nil
}

// SignableFields é a forma canônica dos campos imutáveis cobertos pela assinatura.
func (c Cheque) SignableFields() []byte {
	parts := []string{
		c.ID,
		c.OrderID,
		c.FromCompanyID,
		c.ToSiteID,
		strconv.Itoa(c.Quantity),
		c.PalletType,
		c.CreatedAt.UTC().Format(time.RFC3339Nano),
	}
	return []byte(strings.Join(parts, "|"))
}

// CheckDeposit verifica se o cheque pode ser depositado no site informado, sem mutação.
// É chamado antes da reserva de cota.
func (c Cheque) CheckDeposit(siteID string) error {
	if c.Status != ChequeIssued {
		return apperror.NewInvalidStateError(fmt.Sprintf("o cheque %s está em %s; o depósito exige EMIS.", c.ID, c.Status))
	}
	if siteID != c.ToSiteID {
		return apperror.NewValidationError(fmt.Sprintf("o cheque %s é destinado ao site %s, não a %s.", c.ID, c.ToSiteID, siteID))
	}
	return nil
}

// Deposit aplica EMIS -> DEPOSE.
func (c *Cheque) Deposit(siteID string, at time.Time, ev Evidence) error {
	if err := c.CheckDeposit(siteID); err != nil {
		return err
	}
	depositedAt := notBefore(at, c.CreatedAt)
	c.Status = ChequeDeposited
	c.DepositedAt = &depositedAt
	c.Geolocations.Deposit = ev.Geolocation
	c.Signatures.Transporter = ev.Signature
	c.Photos = append(c.Photos, ev.Photos...)
	return nil
}

// Receive aplica DEPOSE -> RECU (quantidade confere) ou DEPOSE -> LITIGE (divergência).
// Retorna true quando a quantidade recebida confere com a emitida.
func (c *Cheque) Receive(quantityReceived int, at time.Time, ev Evidence) (bool, error) {
	if quantityReceived < 0 {
		return false, apperror.NewInvalidQuantityError(fmt.Sprintf("a quantidade recebida não pode ser negativa (recebido %d).", quantityReceived))
	}
	if c.Status != ChequeDeposited {
		return false, apperror.NewInvalidStateError(fmt.Sprintf("o cheque %s está em %s; a recepção exige DEPOSE.", c.ID, c.Status))
	}

	received := quantityReceived
	receivedAt := notBefore(at, c.milestone())
	c.QuantityReceived = &received
	c.ReceivedAt = &receivedAt
	c.Geolocations.Receipt = ev.Geolocation
	c.Signatures.Receiver = ev.Signature
	c.Photos = append(c.Photos, ev.Photos...)

	if received == c.Quantity {
		c.Status = ChequeReceived
		return true, nil
	}
	c.Status = ChequeDisputed
	return false, nil
}

// MarkDisputed coloca o cheque em LITIGE. Só é permitido depois do depósito.
func (c *Cheque) MarkDisputed() error {
	switch c.Status {
	case ChequeDeposited, ChequeReceived, ChequeDisputed:
		c.Status = ChequeDisputed
		return nil
	}
	return apperror.NewInvalidStateError(fmt.Sprintf("o cheque %s está em %s; só é possível contestar após o depósito.", c.ID, c.Status))
}

// ResolveDispute aplica LITIGE -> RECU com a quantidade acordada entre as partes.
func (c *Cheque) ResolveDispute(agreedQuantity int, at time.Time) error {
	if agreedQuantity < 0 {
		return apperror.NewInvalidQuantityError(fmt.Sprintf("a quantidade acordada não pode ser negativa (recebido %d).", agreedQuantity))
	}
	if c.Status != ChequeDisputed {
		return apperror.NewInvalidStateError(fmt.Sprintf("o cheque %s está em %s; a resolução exige LITIGE.", c.ID, c.Status))
	}
	agreed := agreedQuantity
	c.QuantityReceived = &agreed
	if c.ReceivedAt == nil {
		receivedAt := notBefore(at, c.milestone())
		c.ReceivedAt = &receivedAt
	}
	c.Status = ChequeReceived
	return nil
}

// milestone devolve o último marco temporal já registrado.
func (c Cheque) milestone() time.Time {
	last := c.CreatedAt
	if c.DepositedAt != nil && c.DepositedAt.After(last) {
		last = *c.DepositedAt
	}
	if c.ReceivedAt != nil && c.ReceivedAt.After(last) {
		last = *c.ReceivedAt
	}
	return last
}

// notBefore garante timestamps monotônicos quando o relógio está atrasado.
func notBefore(at, prev time.Time) time.Time {
	if at.Before(prev) {
		return prev
	}
	return at
}

// ChequeFilter define os filtros da listagem administrativa.
type ChequeFilter struct {
	Status    ChequeStatus
	CompanyID string
	SiteID    string
	Cursor    string
	Limit     int
}

// ChequePage é uma página da listagem por cursor.
type ChequePage struct {
	Cheques    []Cheque `json:"cheques"`
	NextCursor string   `json:"nextCursor,omitempty"`
}

const (
	DefaultPageLimit = 50
	MaxPageLimit     = 200
)

// Normalize aplica limites padrão ao filtro.
func (f ChequeFilter) Normalize() (ChequeFilter, error) {
	if f.Status != "" && !f.Status.Valid() {
		return f, apperror.NewValidationError(fmt.Sprintf("status de cheque desconhecido: %s", f.Status))
	}
	if f.Limit <= 0 {
		f.Limit = DefaultPageLimit
	}
	if f.Limit > MaxPageLimit {
		f.Limit = MaxPageLimit
	}
	return f, nil
}

// ChequeCursor é a posição (createdAt, id) do último cheque de uma página.
type ChequeCursor struct {
	CreatedAt time.Time
	ID        string
}

// EncodeChequeCursor serializa a posição do cheque como token opaco.
func EncodeChequeCursor(c Cheque) string {
	raw := c.CreatedAt.UTC().Format(time.RFC3339Nano) + "|" + c.ID
	return base64.RawURLEncoding.EncodeToString([]byte(raw))
}

// DecodeChequeCursor lê um token produzido por EncodeChequeCursor.
func DecodeChequeCursor(token string) (ChequeCursor, error) {
	raw, err := base64.RawURLEncoding.DecodeString(token)
	if err != nil {
		return ChequeCursor{}, apperror.NewValidationError("cursor inválido.")
	}
	ts, id, ok := strings.Cut(string(raw), "|")
	if !ok || id == "" {
		return ChequeCursor{}, apperror.NewValidationError("cursor inválido.")
	}
	createdAt, err := time.Parse(time.RFC3339Nano, ts)
	if err != nil {
		return ChequeCursor{}, apperror.NewValidationError("cursor inválido.")
	}
	return ChequeCursor{CreatedAt: createdAt, ID: id}, nil
}

// After indica se o cheque vem depois do cursor na ordem (createdAt, id).
func (cur ChequeCursor) After(c Cheque) bool {
	if c.CreatedAt.Equal(cur.CreatedAt) {
		return c.ID > cur.ID
	}
	return c.CreatedAt.After(cur.CreatedAt)
}

// Matches indica se o cheque atende aos filtros (sem considerar cursor e limite).
// CompanyID casa com a empresa emissora; o dono do site é resolvido pelo armazenamento.
func (f ChequeFilter) Matches(c Cheque) bool {
	if f.Status != "" && c.Status != f.Status {
		return false
	}
	if f.SiteID != "" && c.ToSiteID != f.SiteID {
		return false
	}
	return true
}
