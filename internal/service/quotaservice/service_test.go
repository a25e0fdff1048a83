package quotaservice_test

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"paletteledger/internal/domain"
	apperror "paletteledger/internal/errors"
	"paletteledger/internal/pkg/clock"
	"paletteledger/internal/pkg/events"
	"paletteledger/internal/pkg/logger"
	"paletteledger/internal/repository/memrepo"
	"paletteledger/internal/service/quotaservice"
)

// MockSiteRepository é uma implementação mock da interface SiteRepository
type MockSiteRepository struct {
	mock.Mock
}

func (m *MockSiteRepository) CreateSite(ctx context.Context, site domain.Site) (domain.Site, error) {
	args := m.Called(ctx, site)
	return args.Get(0).(domain.Site), args.Error(1)
}

func (m *MockSiteRepository) GetSite(ctx context.Context, id string) (domain.Site, error) {
	args := m.Called(ctx, id)
	return args.Get(0).(domain.Site), args.Error(1)
}

func (m *MockSiteRepository) ListSites(ctx context.Context, filter domain.SiteFilter) ([]domain.Site, error) {
	args := m.Called(ctx, filter)
	return args.Get(0).([]domain.Site), args.Error(1)
}

func (m *MockSiteRepository) UpdateSite(ctx context.Context, site domain.Site) (domain.Site, error) {
	args := m.Called(ctx, site)
	return args.Get(0).(domain.Site), args.Error(1)
}

func (m *MockSiteRepository) GetQuota(ctx context.Context, site domain.Site, at time.Time) (domain.SiteQuota, error) {
	args := m.Called(ctx, site, at)
	return args.Get(0).(domain.SiteQuota), args.Error(1)
}

func (m *MockSiteRepository) ReserveQuota(ctx context.Context, siteID string, quantity int, at time.Time) (domain.Site, domain.SiteQuota, error) {
	args := m.Called(ctx, siteID, quantity, at)
	return args.Get(0).(domain.Site), args.Get(1).(domain.SiteQuota), args.Error(2)
}

func (m *MockSiteRepository) ReleaseQuota(ctx context.Context, siteID string, quantity int, at time.Time) (domain.SiteQuota, error) {
	args := m.Called(ctx, siteID, quantity, at)
	return args.Get(0).(domain.SiteQuota), args.Error(1)
}

// terça-feira 10/03/2026, 10:00 em Paris
var tuesdayMorning = time.Date(2026, 3, 10, 9, 0, 0, 0, time.UTC)

func depot(dailyMax int) domain.Site {
	return domain.Site{
		ID:            "s1",
		CompanyID:     "depot",
		Name:          "Dépôt Gennevilliers",
		QuotaDailyMax: dailyMax,
		OpeningHours:  domain.OpeningHours{Start: "06:00", End: "20:00"},
		AvailableDays: []int{1, 2, 3, 4, 5},
		Timezone:      "Europe/Paris",
	}
}

func newMemService(t *testing.T, dailyMax int) (*quotaservice.Service, *clock.Fixed) {
	t.Helper()
	clk := clock.NewFixed(tuesdayMorning)
	store := memrepo.NewStore(logger.NewNopLogger())
	svc := quotaservice.NewService(store, clk, events.NopPublisher{}, "Europe/Paris", logger.NewNopLogger())
	_, err := svc.CreateSite(context.Background(), depot(dailyMax))
	require.NoError(t, err)
	return svc, clk
}

// TestCheckAndReserve_Success testa uma reserva aceita pelo repositório.
func TestCheckAndReserve_Success(t *testing.T) {
	mockRepo := new(MockSiteRepository)
	svc := quotaservice.NewService(mockRepo, clock.NewFixed(tuesdayMorning), nil, "Europe/Paris", logger.NewLogger("debug"))

	expected := domain.SiteQuota{SiteID: "s1", DailyMax: 10, Consumed: 4, Remaining: 6, Day: "2026-03-10"}
	mockRepo.On("ReserveQuota", mock.Anything, "s1", 4, tuesdayMorning).Return(depot(10), expected, nil)

	quota, err := svc.CheckAndReserve(context.Background(), "s1", 4, tuesdayMorning)

	assert.NoError(t, err)
	assert.Equal(t, expected, quota)
	mockRepo.AssertExpectations(t)
}

// TestCheckAndReserve_InvalidQuantity testa que quantidades não positivas nem chegam ao repositório.
func TestCheckAndReserve_InvalidQuantity(t *testing.T) {
	mockRepo := new(MockSiteRepository)
	svc := quotaservice.NewService(mockRepo, clock.NewFixed(tuesdayMorning), nil, "Europe/Paris", logger.NewLogger("debug"))

	_, err := svc.CheckAndReserve(context.Background(), "s1", 0, tuesdayMorning)

	assert.Equal(t, apperror.CategoryInvalidQuantity, apperror.CategoryOf(err))
	mockRepo.AssertNotCalled(t, "ReserveQuota", mock.Anything, mock.Anything, mock.Anything, mock.Anything)
}

// TestCheckAndReserve_PropagatesRejection testa que a rejeição de domínio chega intacta ao chamador.
func TestCheckAndReserve_PropagatesRejection(t *testing.T) {
	mockRepo := new(MockSiteRepository)
	svc := quotaservice.NewService(mockRepo, clock.NewFixed(tuesdayMorning), nil, "Europe/Paris", logger.NewLogger("debug"))

	mockRepo.On("ReserveQuota", mock.Anything, "s1", 5, tuesdayMorning).
		Return(domain.Site{}, domain.SiteQuota{}, apperror.NewQuotaExceededError("cheio"))

	_, err := svc.CheckAndReserve(context.Background(), "s1", 5, tuesdayMorning)

	assert.Equal(t, apperror.CategoryQuotaExceeded, apperror.CategoryOf(err))
	mockRepo.AssertExpectations(t)
}

// TestCheckAndReserve_WrapsDriverError testa a tradução de falhas de infraestrutura.
func TestCheckAndReserve_WrapsDriverError(t *testing.T) {
	mockRepo := new(MockSiteRepository)
	svc := quotaservice.NewService(mockRepo, clock.NewFixed(tuesdayMorning), nil, "Europe/Paris", logger.NewLogger("debug"))

	mockRepo.On("ReserveQuota", mock.Anything, "s1", 5, tuesdayMorning).
		Return(domain.Site{}, domain.SiteQuota{}, errors.New("connection reset"))

	_, err := svc.CheckAndReserve(context.Background(), "s1", 5, tuesdayMorning)

	assert.Equal(t, apperror.CategoryInternal, apperror.CategoryOf(err))
	mockRepo.AssertExpectations(t)
}

// TestCheckAndReserve_ConcurrentDepositsNeverExceedDailyMax testa o limite de cota
// sob depósitos simultâneos.
func TestCheckAndReserve_ConcurrentDepositsNeverExceedDailyMax(t *testing.T) {
	svc, _ := newMemService(t, 100)

	var accepted, rejected int64
	var wg sync.WaitGroup
	for i := 0; i < 60; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := svc.CheckAndReserve(context.Background(), "s1", 7, tuesdayMorning)
			if err == nil {
				atomic.AddInt64(&accepted, 1)
				return
			}
			if apperror.CategoryOf(err) == apperror.CategoryQuotaExceeded {
				atomic.AddInt64(&rejected, 1)
			}
		}()
	}
	wg.Wait()

	_, quota, err := svc.GetSite(context.Background(), "s1")
	require.NoError(t, err)
	assert.Equal(t, int64(14), accepted)
	assert.Equal(t, int64(46), rejected)
	assert.Equal(t, 98, quota.Consumed)
	assert.LessOrEqual(t, quota.Consumed, quota.DailyMax)
}

// TestCheckAndReserve_ResetsOnNextLocalDay testa o reset preguiçoso do consumo.
func TestCheckAndReserve_ResetsOnNextLocalDay(t *testing.T) {
	svc, clk := newMemService(t, 10)

	_, err := svc.CheckAndReserve(context.Background(), "s1", 10, tuesdayMorning)
	require.NoError(t, err)
	_, err = svc.CheckAndReserve(context.Background(), "s1", 1, tuesdayMorning)
	require.Equal(t, apperror.CategoryQuotaExceeded, apperror.CategoryOf(err))

	wednesday := tuesdayMorning.Add(24 * time.Hour)
	clk.Set(wednesday)
	quota, err := svc.CheckAndReserve(context.Background(), "s1", 3, wednesday)

	require.NoError(t, err)
	assert.Equal(t, 3, quota.Consumed)
	assert.Equal(t, "2026-03-11", quota.Day)
}

// TestRelease_Compensates testa a devolução de uma reserva.
func TestRelease_Compensates(t *testing.T) {
	svc, _ := newMemService(t, 10)

	_, err := svc.CheckAndReserve(context.Background(), "s1", 6, tuesdayMorning)
	require.NoError(t, err)

	quota, err := svc.Release(context.Background(), "s1", 6, tuesdayMorning)

	require.NoError(t, err)
	assert.Equal(t, 0, quota.Consumed)
	assert.Equal(t, 10, quota.Remaining)
}

// TestUpdateQuota_KeepsConsumedToday testa que a nova política não zera o consumo do dia.
func TestUpdateQuota_KeepsConsumedToday(t *testing.T) {
	svc, _ := newMemService(t, 10)
	_, err := svc.CheckAndReserve(context.Background(), "s1", 8, tuesdayMorning)
	require.NoError(t, err)

	max := 5
	quota, err := svc.UpdateQuota(context.Background(), "s1", domain.QuotaUpdate{DailyMax: &max})

	require.NoError(t, err)
	assert.Equal(t, 5, quota.DailyMax)
	assert.Equal(t, 8, quota.Consumed)
	assert.Equal(t, 0, quota.Remaining)

	_, err = svc.CheckAndReserve(context.Background(), "s1", 1, tuesdayMorning)
	assert.Equal(t, apperror.CategoryQuotaExceeded, apperror.CategoryOf(err))
}

// TestUpdateQuota_Invalid testa que uma alteração inválida não é gravada.
func TestUpdateQuota_Invalid(t *testing.T) {
	mockRepo := new(MockSiteRepository)
	svc := quotaservice.NewService(mockRepo, clock.NewFixed(tuesdayMorning), nil, "Europe/Paris", logger.NewLogger("debug"))

	site := depot(10)
	site.Priority = domain.PriorityNetwork
	mockRepo.On("GetSite", mock.Anything, "s1").Return(site, nil)

	bad := -3
	_, err := svc.UpdateQuota(context.Background(), "s1", domain.QuotaUpdate{DailyMax: &bad})

	assert.Equal(t, apperror.CategoryInvalidQuantity, apperror.CategoryOf(err))
	mockRepo.AssertNotCalled(t, "UpdateSite", mock.Anything, mock.Anything)
	mockRepo.AssertExpectations(t)
}

// TestCreateSite_Defaults testa os valores padrão de um novo site.
func TestCreateSite_Defaults(t *testing.T) {
	svc := quotaservice.NewService(memrepo.NewStore(logger.NewNopLogger()), clock.NewFixed(tuesdayMorning), nil, "Europe/Paris", logger.NewNopLogger())

	site, err := svc.CreateSite(context.Background(), domain.Site{CompanyID: "depot", Name: "Quai 3", QuotaDailyMax: 20})

	require.NoError(t, err)
	assert.NotEmpty(t, site.ID)
	assert.Equal(t, "Europe/Paris", site.Timezone)
	assert.Equal(t, domain.PriorityNetwork, site.Priority)
	assert.True(t, site.Active)
	assert.Equal(t, 1, site.Version)
	assert.Equal(t, tuesdayMorning, site.CreatedAt)
}

// TestDeactivateSite_RejectsLaterDeposits testa que um site desativado recusa depósitos.
func TestDeactivateSite_RejectsLaterDeposits(t *testing.T) {
	svc, _ := newMemService(t, 10)

	site, err := svc.DeactivateSite(context.Background(), "s1")
	require.NoError(t, err)
	assert.False(t, site.Active)

	_, err = svc.CheckAndReserve(context.Background(), "s1", 1, tuesdayMorning)
	assert.Equal(t, apperror.CategoryInvalidState, apperror.CategoryOf(err))

	active, err := svc.ListSites(context.Background(), domain.SiteFilter{})
	require.NoError(t, err)
	assert.Empty(t, active)

	all, err := svc.ListSites(context.Background(), domain.SiteFilter{IncludeInactive: true})
	require.NoError(t, err)
	assert.Len(t, all, 1)
}
