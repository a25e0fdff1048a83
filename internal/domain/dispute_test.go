package domain_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"paletteledger/internal/domain"
	apperror "paletteledger/internal/errors"
)

func openDispute(t *testing.T) domain.Dispute {
	t.Helper()
	c := issuedCheque()
	received := 7
	c.QuantityReceived = &received
	c.Status = domain.ChequeDisputed

	d, err := domain.NewDispute("d1", c, parisSite(10), domain.OpenDisputeRequest{
		ChequeID:   c.ID,
		ClaimantID: "depot",
		Reason:     domain.DiscrepancyReason(10, 7),
	}, t0)
	require.NoError(t, err)
	return d
}

func TestNewDispute_Parties(t *testing.T) {
	d := openDispute(t)

	assert.Equal(t, domain.DisputeOpen, d.Status)
	assert.Equal(t, "depot", d.ClaimantID)
	assert.Equal(t, "acme", d.CounterPartyID)
	assert.Equal(t, 10, d.ExpectedQuantity)
	assert.Contains(t, d.Reason, "falta de 3")

	_, err := domain.NewDispute("d2", issuedCheque(), parisSite(10), domain.OpenDisputeRequest{ClaimantID: "intrus", Reason: "x"}, t0)
	assert.Equal(t, apperror.CategoryForbidden, apperror.CategoryOf(err))
}

func TestDispute_ConsensusRequiresBothParties(t *testing.T) {
	d := openDispute(t)

	require.NoError(t, d.Propose(domain.ProposedSolution{Description: "accept 7 as final"}, "depot", t0.Add(time.Minute)))
	assert.Equal(t, domain.DisputeProposed, d.Status)
	assert.Equal(t, []string{"depot"}, d.ValidatedBy)
	assert.Equal(t, 7, *d.ProposedSolution.Quantity, "sem quantidade explícita vale a recebida")

	// a validação repetida do proponente não resolve
	resolved, err := d.Validate("depot", t0.Add(2*time.Minute))
	require.NoError(t, err)
	assert.False(t, resolved)
	assert.Equal(t, domain.DisputeProposed, d.Status)

	resolved, err = d.Validate("acme", t0.Add(3*time.Minute))
	require.NoError(t, err)
	assert.True(t, resolved)
	assert.Equal(t, domain.DisputeResolved, d.Status)
	assert.ElementsMatch(t, []string{"depot", "acme"}, d.ValidatedBy)
	assert.Equal(t, 7, d.AgreedQuantity())
	require.NotNil(t, d.ResolvedAt)
}

func TestDispute_ThirdPartyCannotValidate(t *testing.T) {
	d := openDispute(t)
	require.NoError(t, d.Propose(domain.ProposedSolution{Description: "x"}, "acme", t0))

	_, err := d.Validate("admin-company", t0)

	assert.Equal(t, apperror.CategoryForbidden, apperror.CategoryOf(err))
	assert.Equal(t, domain.DisputeProposed, d.Status)
}

func TestDispute_StateRules(t *testing.T) {
	d := openDispute(t)

	_, err := d.Validate("acme", t0)
	assert.Equal(t, apperror.CategoryInvalidState, apperror.CategoryOf(err), "validar exige PROPOSED")

	require.NoError(t, d.Propose(domain.ProposedSolution{Description: "x"}, "acme", t0))
	err = d.Propose(domain.ProposedSolution{Description: "y"}, "depot", t0)
	assert.Equal(t, apperror.CategoryInvalidState, apperror.CategoryOf(err), "propor exige OPEN")

	require.NoError(t, d.Escalate("sem acordo", t0))
	assert.Equal(t, domain.DisputeEscalated, d.Status)
	assert.Error(t, d.Escalate("de novo", t0), "ESCALATED é terminal")
}

func TestDispute_ProposeNegativeQuantity(t *testing.T) {
	d := openDispute(t)
	neg := -1

	err := d.Propose(domain.ProposedSolution{Description: "x", Quantity: &neg}, "acme", t0)

	assert.Equal(t, apperror.CategoryInvalidQuantity, apperror.CategoryOf(err))
	assert.Equal(t, domain.DisputeOpen, d.Status)
}

func TestDiscrepancyReason_Surplus(t *testing.T) {
	assert.Contains(t, domain.DiscrepancyReason(10, 12), "excedente de 2")
}
