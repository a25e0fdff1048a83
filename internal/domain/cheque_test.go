package domain_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"paletteledger/internal/domain"
	apperror "paletteledger/internal/errors"
)

var t0 = time.Date(2026, 3, 10, 9, 0, 0, 0, time.UTC)

func issuedCheque() domain.Cheque {
	return domain.Cheque{
		ID:            "c1",
		OrderID:       "o1",
		FromCompanyID: "acme",
		ToSiteID:      "s1",
		Quantity:      10,
		PalletType:    "EUR-EPAL",
		Status:        domain.ChequeIssued,
		CreatedAt:     t0,
		Version:       1,
	}
}

func TestIssueRequest_Validate(t *testing.T) {
	ok := domain.IssueRequest{OrderID: "o1", FromCompanyID: "acme", ToSiteID: "s1", Quantity: 10, PalletType: "EUR"}
	assert.NoError(t, ok.Validate())

	zero := ok
	zero.Quantity = 0
	assert.Equal(t, apperror.CategoryInvalidQuantity, apperror.CategoryOf(zero.Validate()))

	noSite := ok
	noSite.ToSiteID = ""
	assert.Equal(t, apperror.CategoryValidation, apperror.CategoryOf(noSite.Validate()))
}

func TestCheque_DepositThenMatchingReceipt(t *testing.T) {
	c := issuedCheque()
	sig := "transporteur"

	require.NoError(t, c.Deposit("s1", t0.Add(time.Hour), domain.Evidence{Signature: &sig}))
	assert.Equal(t, domain.ChequeDeposited, c.Status)
	require.NotNil(t, c.DepositedAt)
	assert.Equal(t, "transporteur", *c.Signatures.Transporter)

	matched, err := c.Receive(10, t0.Add(2*time.Hour), domain.Evidence{})
	require.NoError(t, err)
	assert.True(t, matched)
	assert.Equal(t, domain.ChequeReceived, c.Status)
	assert.Equal(t, 10, *c.QuantityReceived)
}

func TestCheque_MismatchMovesToLitige(t *testing.T) {
	c := issuedCheque()
	require.NoError(t, c.Deposit("s1", t0, domain.Evidence{}))

	matched, err := c.Receive(7, t0.Add(time.Hour), domain.Evidence{})

	require.NoError(t, err)
	assert.False(t, matched)
	assert.Equal(t, domain.ChequeDisputed, c.Status)
}

func TestCheque_DepositRules(t *testing.T) {
	c := issuedCheque()
	err := c.Deposit("other-site", t0, domain.Evidence{})
	assert.Equal(t, apperror.CategoryValidation, apperror.CategoryOf(err))
	assert.Equal(t, domain.ChequeIssued, c.Status)

	require.NoError(t, c.Deposit("s1", t0, domain.Evidence{}))
	err = c.Deposit("s1", t0, domain.Evidence{})
	assert.Equal(t, apperror.CategoryInvalidState, apperror.CategoryOf(err))
}

func TestCheque_NoBackwardTransitions(t *testing.T) {
	c := issuedCheque()

	_, err := c.Receive(10, t0, domain.Evidence{})
	assert.Equal(t, apperror.CategoryInvalidState, apperror.CategoryOf(err), "EMIS -> RECU é proibido")

	assert.Equal(t, apperror.CategoryInvalidState, apperror.CategoryOf(c.MarkDisputed()), "EMIS não pode ser contestado")

	require.NoError(t, c.Deposit("s1", t0, domain.Evidence{}))
	_, err = c.Receive(10, t0, domain.Evidence{})
	require.NoError(t, err)

	assert.Error(t, c.Deposit("s1", t0, domain.Evidence{}), "RECU -> DEPOSE é proibido")
	_, err = c.Receive(10, t0, domain.Evidence{})
	assert.Error(t, err, "RECU não aceita nova recepção")
	assert.Equal(t, domain.ChequeReceived, c.Status)
}

func TestCheque_NegativeReceivedQuantity(t *testing.T) {
	c := issuedCheque()
	require.NoError(t, c.Deposit("s1", t0, domain.Evidence{}))

	_, err := c.Receive(-1, t0, domain.Evidence{})

	assert.Equal(t, apperror.CategoryInvalidQuantity, apperror.CategoryOf(err))
	assert.Equal(t, domain.ChequeDeposited, c.Status)
}

func TestCheque_TimestampsAreMonotonic(t *testing.T) {
	c := issuedCheque()

	// relógio atrasado em relação à emissão
	require.NoError(t, c.Deposit("s1", t0.Add(-time.Hour), domain.Evidence{}))
	assert.Equal(t, t0, *c.DepositedAt)

	_, err := c.Receive(10, t0.Add(-2*time.Hour), domain.Evidence{})
	require.NoError(t, err)
	assert.False(t, c.ReceivedAt.Before(*c.DepositedAt))
}

func TestCheque_ResolveDispute(t *testing.T) {
	c := issuedCheque()
	require.NoError(t, c.Deposit("s1", t0, domain.Evidence{}))
	_, err := c.Receive(7, t0.Add(time.Hour), domain.Evidence{})
	require.NoError(t, err)
	receivedAt := *c.ReceivedAt

	require.NoError(t, c.ResolveDispute(8, t0.Add(3*time.Hour)))

	assert.Equal(t, domain.ChequeReceived, c.Status)
	assert.Equal(t, 8, *c.QuantityReceived)
	assert.Equal(t, receivedAt, *c.ReceivedAt, "receivedAt é definido uma única vez")
	assert.Error(t, c.ResolveDispute(8, t0), "só LITIGE pode ser resolvido")
}

func TestCheque_MarkDisputedFromReceived(t *testing.T) {
	c := issuedCheque()
	require.NoError(t, c.Deposit("s1", t0, domain.Evidence{}))
	_, err := c.Receive(10, t0, domain.Evidence{})
	require.NoError(t, err)

	require.NoError(t, c.MarkDisputed())
	assert.Equal(t, domain.ChequeDisputed, c.Status)
}

func TestCheque_SignableFieldsIgnoreMutableState(t *testing.T) {
	c := issuedCheque()
	before := c.SignableFields()

	require.NoError(t, c.Deposit("s1", t0, domain.Evidence{}))

	assert.Equal(t, before, c.SignableFields())

	c.Quantity = 11
	assert.NotEqual(t, before, c.SignableFields())
}

func TestEvidence_Validate(t *testing.T) {
	assert.NoError(t, domain.Evidence{Geolocation: &domain.Geolocation{Lat: 48.85, Lng: 2.35}}.Validate())
	assert.Error(t, domain.Evidence{Geolocation: &domain.Geolocation{Lat: 91}}.Validate())
	assert.Error(t, domain.Evidence{Photos: []domain.Photo{{URL: " "}}}.Validate())
}

func TestChequeFilter_Normalize(t *testing.T) {
	f, err := domain.ChequeFilter{}.Normalize()
	require.NoError(t, err)
	assert.Equal(t, domain.DefaultPageLimit, f.Limit)

	f, err = domain.ChequeFilter{Limit: 10_000}.Normalize()
	require.NoError(t, err)
	assert.Equal(t, domain.MaxPageLimit, f.Limit)

	_, err = domain.ChequeFilter{Status: "PERDU"}.Normalize()
	assert.Error(t, err)
}

func TestChequeCursor_RoundTrip(t *testing.T) {
	c := issuedCheque()
	token := domain.EncodeChequeCursor(c)

	cur, err := domain.DecodeChequeCursor(token)
	require.NoError(t, err)
	assert.Equal(t, "c1", cur.ID)
	assert.True(t, cur.CreatedAt.Equal(t0))

	next := issuedCheque()
	next.ID = "c2"
	assert.True(t, cur.After(next))
	assert.False(t, cur.After(c))

	_, err = domain.DecodeChequeCursor("%%%")
	assert.Equal(t, apperror.CategoryValidation, apperror.CategoryOf(err))
}
