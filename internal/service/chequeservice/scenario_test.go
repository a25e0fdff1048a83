package chequeservice_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"paletteledger/internal/domain"
	apperror "paletteledger/internal/errors"
	"paletteledger/internal/pkg/clock"
	"paletteledger/internal/pkg/events"
	"paletteledger/internal/pkg/logger"
	"paletteledger/internal/pkg/signer"
	"paletteledger/internal/repository/memrepo"
	"paletteledger/internal/service/chequeservice"
	"paletteledger/internal/service/disputeservice"
	"paletteledger/internal/service/ledgerservice"
	"paletteledger/internal/service/quotaservice"
)

// terça-feira 10/03/2026, 10:00 em Paris
var tuesdayMorning = time.Date(2026, 3, 10, 9, 0, 0, 0, time.UTC)

func depotSite(dailyMax int) domain.Site {
	return domain.Site{
		ID:            "s1",
		CompanyID:     "depot",
		Name:          "Dépôt Gennevilliers",
		QuotaDailyMax: dailyMax,
		OpeningHours:  domain.OpeningHours{Start: "06:00", End: "20:00"},
		AvailableDays: []int{1, 2, 3, 4, 5},
		Priority:      domain.PriorityNetwork,
		Timezone:      "Europe/Paris",
		Active:        true,
		Version:       1,
	}
}

func issueRequest(quantity int) domain.IssueRequest {
	return domain.IssueRequest{OrderID: "o-1", FromCompanyID: "acme", ToSiteID: "s1", Quantity: quantity, PalletType: "EUR-EPAL"}
}

type harness struct {
	store    *memrepo.Store
	clock    *clock.Fixed
	events   *events.MemoryPublisher
	cheques  *chequeservice.Service
	ledger   *ledgerservice.Service
	disputes *disputeservice.Service
}

func newHarness(t *testing.T, dailyMax int) *harness {
	t.Helper()
	log := logger.NewNopLogger()
	store := memrepo.NewStore(log)
	clk := clock.NewFixed(tuesdayMorning)
	pub := events.NewMemoryPublisher()
	sig, err := signer.NewBlake2bSigner("segredo-de-teste", "PAL")
	require.NoError(t, err)

	_, err = store.CreateSite(context.Background(), depotSite(dailyMax))
	require.NoError(t, err)

	quota := quotaservice.NewService(store, clk, pub, "Europe/Paris", log)
	disputes := disputeservice.NewService(store, store, store, pub, clk, log)
	return &harness{
		store:    store,
		clock:    clk,
		events:   pub,
		cheques:  chequeservice.NewService(store, store, quota, disputes, sig, pub, clk, log),
		ledger:   ledgerservice.NewService(store, store, pub, clk, log),
		disputes: disputes,
	}
}

func (h *harness) issue(t *testing.T, quantity int) domain.Cheque {
	t.Helper()
	c, err := h.cheques.Issue(context.Background(), issueRequest(quantity))
	require.NoError(t, err)
	return c
}

func (h *harness) deposit(t *testing.T, quantity int) domain.Cheque {
	t.Helper()
	c := h.issue(t, quantity)
	res, err := h.cheques.ConfirmDeposit(context.Background(), c.ID, "s1", domain.Evidence{})
	require.NoError(t, err)
	return res.Cheque
}

func (h *harness) balance(t *testing.T, companyID string) int {
	t.Helper()
	l, err := h.ledger.GetLedger(context.Background(), companyID)
	require.NoError(t, err)
	return l.Balance
}

// TestIssue_SignsAndVerifies testa a emissão e a verificação explícita da assinatura.
func TestIssue_SignsAndVerifies(t *testing.T) {
	h := newHarness(t, 10)

	c := h.issue(t, 10)

	assert.Equal(t, domain.ChequeIssued, c.Status)
	assert.Regexp(t, `^PAL-[0-9A-F]{32}$`, c.QRCode)
	assert.NotEmpty(t, c.CryptoSignature)
	assert.Equal(t, tuesdayMorning, c.CreatedAt)

	res, err := h.cheques.Verify(context.Background(), c.ID)
	require.NoError(t, err)
	assert.True(t, res.Valid)

	// adulteração direta no armazenamento
	c.Quantity = 100
	_, err = h.store.UpdateCheque(context.Background(), c)
	require.NoError(t, err)

	res, err = h.cheques.Verify(context.Background(), c.ID)
	require.NoError(t, err)
	assert.False(t, res.Valid)
}

// TestScenario_DepositConsumesDailyQuota testa o depósito aceito até o máximo diário
// e a recusa do depósito seguinte no mesmo dia.
func TestScenario_DepositConsumesDailyQuota(t *testing.T) {
	h := newHarness(t, 10)
	first := h.issue(t, 10)

	res, err := h.cheques.ConfirmDeposit(context.Background(), first.ID, "s1", domain.Evidence{})
	require.NoError(t, err)
	assert.Equal(t, domain.ChequeDeposited, res.Cheque.Status)
	assert.Equal(t, 10, res.Quota.Consumed)

	second := h.issue(t, 1)
	_, err = h.cheques.ConfirmDeposit(context.Background(), second.ID, "s1", domain.Evidence{})
	assert.Equal(t, apperror.CategoryQuotaExceeded, apperror.CategoryOf(err))

	still, err := h.cheques.GetByID(context.Background(), second.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.ChequeIssued, still.Status)

	// nenhum lançamento no depósito
	assert.Equal(t, 0, h.balance(t, "acme"))
	assert.Equal(t, 0, h.balance(t, "depot"))
}

// TestScenario_MatchingReceiptPostsPair testa a recepção conforme e o par de conservação.
func TestScenario_MatchingReceiptPostsPair(t *testing.T) {
	h := newHarness(t, 10)
	c := h.deposit(t, 10)

	pending, err := h.ledger.GetLedger(context.Background(), "acme")
	require.NoError(t, err)
	require.Len(t, pending.Pending, 1)
	assert.Equal(t, domain.PendingOutgoing, pending.Pending[0].Direction)

	h.clock.Advance(time.Hour)
	res, err := h.cheques.ConfirmReceipt(context.Background(), c.ID, 10, domain.Evidence{})

	require.NoError(t, err)
	assert.Nil(t, res.Dispute)
	assert.Equal(t, domain.ChequeReceived, res.Cheque.Status)
	assert.Equal(t, 10, res.Cheque.PostedQuantity)

	acme, err := h.ledger.GetLedger(context.Background(), "acme")
	require.NoError(t, err)
	require.Len(t, acme.History, 1)
	assert.Equal(t, -10, acme.History[0].Delta)
	assert.Equal(t, c.ID, *acme.History[0].ChequeID)
	assert.Empty(t, acme.Pending)

	depot, err := h.ledger.GetLedger(context.Background(), "depot")
	require.NoError(t, err)
	require.Len(t, depot.History, 1)
	assert.Equal(t, 10, depot.History[0].Delta)

	assert.Equal(t, 0, acme.Balance+depot.Balance)
}

// TestScenario_ShortReceiptOpensDispute testa a recepção com falta: litígio automático e nenhum lançamento.
func TestScenario_ShortReceiptOpensDispute(t *testing.T) {
	h := newHarness(t, 10)
	c := h.deposit(t, 10)

	res, err := h.cheques.ConfirmReceipt(context.Background(), c.ID, 7, domain.Evidence{})

	require.NoError(t, err)
	assert.Equal(t, domain.ChequeDisputed, res.Cheque.Status)
	require.NotNil(t, res.Dispute)
	assert.Equal(t, domain.DisputeOpen, res.Dispute.Status)
	assert.Equal(t, "depot", res.Dispute.ClaimantID)
	assert.Equal(t, "acme", res.Dispute.CounterPartyID)
	assert.Contains(t, res.Dispute.Reason, "falta de 3")

	stored, err := h.cheques.GetByID(context.Background(), c.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.ChequeDisputed, stored.Status)
	assert.Equal(t, 7, *stored.QuantityReceived)

	acme, err := h.ledger.GetLedger(context.Background(), "acme")
	require.NoError(t, err)
	assert.Empty(t, acme.History)
	require.Len(t, acme.Pending, 1)
	assert.Equal(t, domain.ChequeDisputed, acme.Pending[0].Status)
}

// TestScenario_ConcurrentDepositsAdmitOnlyOne testa dois depósitos simultâneos que
// disputam a mesma cota.
func TestScenario_ConcurrentDepositsAdmitOnlyOne(t *testing.T) {
	h := newHarness(t, 5)
	a := h.issue(t, 5)
	b := h.issue(t, 5)

	errs := make([]error, 2)
	var wg sync.WaitGroup
	for i, id := range []string{a.ID, b.ID} {
		wg.Add(1)
		go func(i int, id string) {
			defer wg.Done()
			_, errs[i] = h.cheques.ConfirmDeposit(context.Background(), id, "s1", domain.Evidence{})
		}(i, id)
	}
	wg.Wait()

	succeeded := 0
	for _, err := range errs {
		if err == nil {
			succeeded++
			continue
		}
		assert.Equal(t, apperror.CategoryQuotaExceeded, apperror.CategoryOf(err))
	}
	assert.Equal(t, 1, succeeded)

	site, err := h.store.GetSite(context.Background(), "s1")
	require.NoError(t, err)
	quota, err := h.store.GetQuota(context.Background(), site, tuesdayMorning)
	require.NoError(t, err)
	assert.Equal(t, 5, quota.Consumed)
}

// TestConfirmDeposit_WrongSite testa que o depósito só vale no site de destino.
func TestConfirmDeposit_WrongSite(t *testing.T) {
	h := newHarness(t, 10)
	c := h.issue(t, 3)

	_, err := h.cheques.ConfirmDeposit(context.Background(), c.ID, "s2", domain.Evidence{})

	assert.Equal(t, apperror.CategoryValidation, apperror.CategoryOf(err))
}

// TestConfirmReceipt_RequiresDeposit testa que não se recebe um cheque não depositado.
func TestConfirmReceipt_RequiresDeposit(t *testing.T) {
	h := newHarness(t, 10)
	c := h.issue(t, 3)

	_, err := h.cheques.ConfirmReceipt(context.Background(), c.ID, 3, domain.Evidence{})

	assert.Equal(t, apperror.CategoryInvalidState, apperror.CategoryOf(err))
}

// TestConfirmDeposit_OutsideOpeningHours testa a janela de funcionamento no fuso do site.
func TestConfirmDeposit_OutsideOpeningHours(t *testing.T) {
	h := newHarness(t, 10)
	c := h.issue(t, 3)

	h.clock.Set(time.Date(2026, 3, 10, 20, 30, 0, 0, time.UTC)) // 21:30 em Paris
	_, err := h.cheques.ConfirmDeposit(context.Background(), c.ID, "s1", domain.Evidence{})

	assert.Equal(t, apperror.CategoryOutsideOperatingWindow, apperror.CategoryOf(err))
}

// TestList_PaginatesByCursor testa a paginação por cursor da listagem administrativa.
func TestList_PaginatesByCursor(t *testing.T) {
	h := newHarness(t, 100)
	for i := 0; i < 5; i++ {
		h.issue(t, 1)
		h.clock.Advance(time.Second)
	}

	seen := map[string]bool{}
	cursor := ""
	pages := 0
	for {
		page, err := h.cheques.List(context.Background(), domain.ChequeFilter{CompanyID: "acme", Cursor: cursor, Limit: 2})
		require.NoError(t, err)
		for _, c := range page.Cheques {
			assert.False(t, seen[c.ID])
			seen[c.ID] = true
		}
		pages++
		if page.NextCursor == "" {
			break
		}
		cursor = page.NextCursor
	}

	assert.Len(t, seen, 5)
	assert.Equal(t, 3, pages)
}
