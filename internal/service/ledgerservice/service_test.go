package ledgerservice_test

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"github.com/xuri/excelize/v2"

	"paletteledger/internal/domain"
	apperror "paletteledger/internal/errors"
	"paletteledger/internal/pkg/clock"
	"paletteledger/internal/pkg/logger"
	"paletteledger/internal/repository/memrepo"
	"paletteledger/internal/service/ledgerservice"
)

var t0 = time.Date(2026, 3, 10, 9, 0, 0, 0, time.UTC)

// MockLedgerRepository é uma implementação mock da interface LedgerRepository
type MockLedgerRepository struct {
	mock.Mock
}

func (m *MockLedgerRepository) AppendLedgerEntries(ctx context.Context, postings []domain.LedgerPosting, at time.Time) ([]domain.LedgerEntry, error) {
	args := m.Called(ctx, postings, at)
	return args.Get(0).([]domain.LedgerEntry), args.Error(1)
}

func (m *MockLedgerRepository) GetLedger(ctx context.Context, companyID string) (domain.CompanyLedger, error) {
	args := m.Called(ctx, companyID)
	return args.Get(0).(domain.CompanyLedger), args.Error(1)
}

func newMemService() (*ledgerservice.Service, *memrepo.Store) {
	store := memrepo.NewStore(logger.NewNopLogger())
	return ledgerservice.NewService(store, store, nil, clock.NewFixed(t0), logger.NewNopLogger()), store
}

// TestPost_ManualAdjustment testa um lançamento avulso e o saldo dobrado.
func TestPost_ManualAdjustment(t *testing.T) {
	svc, _ := newMemService()
	ctx := context.Background()

	_, err := svc.Post(ctx, "acme", 12, domain.ReasonManualAdjustment, nil)
	require.NoError(t, err)
	entry, err := svc.Post(ctx, "acme", -5, domain.ReasonManualAdjustment, nil)
	require.NoError(t, err)

	assert.Equal(t, 7, entry.NewBalance)
	assert.Equal(t, t0, entry.Date)

	ledger, err := svc.GetLedger(ctx, "acme")
	require.NoError(t, err)
	assert.Equal(t, 7, ledger.Balance)
	assert.Len(t, ledger.History, 2)
	assert.Empty(t, ledger.Pending)
}

// TestPost_ChequeReferenceMustExist testa a correção manual que aponta para um cheque.
func TestPost_ChequeReferenceMustExist(t *testing.T) {
	svc, store := newMemService()
	ctx := context.Background()

	missing := "cheque-inexistente"
	_, err := svc.Post(ctx, "acme", 5, domain.ReasonManualAdjustment, &missing)
	assert.Equal(t, apperror.CategoryNotFound, apperror.CategoryOf(err))

	ledger, err := svc.GetLedger(ctx, "acme")
	require.NoError(t, err)
	assert.Empty(t, ledger.History)

	_, err = store.CreateCheque(ctx, domain.Cheque{ID: "c-1", QRCode: "PAL-1", Status: domain.ChequeReceived})
	require.NoError(t, err)
	existing := "c-1"
	entry, err := svc.Post(ctx, "acme", 5, domain.ReasonManualAdjustment, &existing)
	require.NoError(t, err)
	assert.Equal(t, 5, entry.NewBalance)
	require.NotNil(t, entry.ChequeID)
	assert.Equal(t, "c-1", *entry.ChequeID)
}

// TestPost_Validation testa as regras de um lançamento.
func TestPost_Validation(t *testing.T) {
	mockRepo := new(MockLedgerRepository)
	svc := ledgerservice.NewService(mockRepo, nil, nil, clock.NewFixed(t0), logger.NewLogger("debug"))

	_, err := svc.Post(context.Background(), "acme", 0, "x", nil)
	assert.Equal(t, apperror.CategoryInvalidQuantity, apperror.CategoryOf(err))

	_, err = svc.Post(context.Background(), "acme", 3, "", nil)
	assert.Equal(t, apperror.CategoryValidation, apperror.CategoryOf(err))

	mockRepo.AssertNotCalled(t, "AppendLedgerEntries", mock.Anything, mock.Anything, mock.Anything)
}

// TestPost_WrapsRepositoryFailure testa a tradução de falhas do repositório.
func TestPost_WrapsRepositoryFailure(t *testing.T) {
	mockRepo := new(MockLedgerRepository)
	svc := ledgerservice.NewService(mockRepo, nil, nil, clock.NewFixed(t0), logger.NewLogger("debug"))
	mockRepo.On("AppendLedgerEntries", mock.Anything, mock.Anything, t0).Return([]domain.LedgerEntry(nil), errors.New("pq: connection refused"))

	_, err := svc.Post(context.Background(), "acme", 3, "x", nil)

	assert.Equal(t, apperror.CategoryInternal, apperror.CategoryOf(err))
	mockRepo.AssertExpectations(t)
}

// TestPostTransferPair_ConcurrentPairsConserve testa a conservação com pares concorrentes
// entre as mesmas empresas, nos dois sentidos.
func TestPostTransferPair_ConcurrentPairsConserve(t *testing.T) {
	svc, _ := newMemService()
	ctx := context.Background()

	var wg sync.WaitGroup
	for i := 0; i < 30; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			debtor, creditor := "acme", "depot"
			if i%3 == 0 {
				debtor, creditor = creditor, debtor
			}
			_, err := svc.PostTransferPair(ctx, debtor, creditor, i+1, fmt.Sprintf("c%d", i))
			assert.NoError(t, err)
		}(i)
	}
	wg.Wait()

	ledgers, err := svc.GetAllLedgers(ctx, []string{"acme", "depot"})
	require.NoError(t, err)
	require.Len(t, ledgers, 2)
	assert.Equal(t, 0, ledgers[0].Balance+ledgers[1].Balance)
	assert.Len(t, ledgers[0].History, 30)
	for _, l := range ledgers {
		assert.NoError(t, l.Verify())
	}
}

// TestPostTransferPair_Rules testa quantidade e partes do par.
func TestPostTransferPair_Rules(t *testing.T) {
	svc, _ := newMemService()

	_, err := svc.PostTransferPair(context.Background(), "acme", "depot", 0, "c1")
	assert.Equal(t, apperror.CategoryInvalidQuantity, apperror.CategoryOf(err))

	_, err = svc.PostTransferPair(context.Background(), "acme", "acme", 1, "c1")
	assert.Equal(t, apperror.CategoryValidation, apperror.CategoryOf(err))
}

// TestGetAllLedgers_KeepsRequestedOrder testa a ordem e a deduplicação dos ids.
func TestGetAllLedgers_KeepsRequestedOrder(t *testing.T) {
	svc, _ := newMemService()
	ctx := context.Background()
	_, err := svc.Post(ctx, "b", 2, "x", nil)
	require.NoError(t, err)

	ledgers, err := svc.GetAllLedgers(ctx, []string{"c", "b", "a", "b", " "})

	require.NoError(t, err)
	require.Len(t, ledgers, 3)
	assert.Equal(t, "c", ledgers[0].CompanyID)
	assert.Equal(t, "b", ledgers[1].CompanyID)
	assert.Equal(t, 2, ledgers[1].Balance)
	assert.Equal(t, 0, ledgers[2].Balance)

	_, err = svc.GetAllLedgers(ctx, nil)
	assert.Equal(t, apperror.CategoryValidation, apperror.CategoryOf(err))
}

// TestGetLedger_DetectsCorruptHistory testa a verificação da dobra na leitura.
func TestGetLedger_DetectsCorruptHistory(t *testing.T) {
	mockRepo := new(MockLedgerRepository)
	svc := ledgerservice.NewService(mockRepo, nil, nil, clock.NewFixed(t0), logger.NewLogger("debug"))

	corrupt := domain.CompanyLedger{
		CompanyID: "acme",
		Balance:   5,
		History:   []domain.LedgerEntry{{ID: "e1", CompanyID: "acme", Delta: 5, Reason: "x", NewBalance: 6}},
	}
	mockRepo.On("GetLedger", mock.Anything, "acme").Return(corrupt, nil)

	_, err := svc.GetLedger(context.Background(), "acme")

	assert.Equal(t, apperror.CategoryInternal, apperror.CategoryOf(err))
}

// TestExportXLSX testa a planilha exportada.
func TestExportXLSX(t *testing.T) {
	svc, _ := newMemService()
	ctx := context.Background()
	_, err := svc.PostTransferPair(ctx, "acme", "depot", 10, "c1")
	require.NoError(t, err)
	_, err = svc.Post(ctx, "acme", 4, domain.ReasonManualAdjustment, nil)
	require.NoError(t, err)

	data, err := svc.ExportXLSX(ctx, "acme")
	require.NoError(t, err)

	f, err := excelize.OpenReader(bytes.NewReader(data))
	require.NoError(t, err)
	defer f.Close()

	rows, err := f.GetRows("Razão")
	require.NoError(t, err)
	require.Len(t, rows, 4)
	assert.Equal(t, []string{"Data", "Delta", "Motivo", "Cheque", "Saldo"}, rows[0])
	assert.Equal(t, "-10", rows[1][1])
	assert.Equal(t, "c1", rows[1][3])
	assert.Equal(t, "-6", rows[2][4])
	assert.Equal(t, "-6", rows[3][4])
}
