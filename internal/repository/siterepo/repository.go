package siterepo

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/lib/pq"

	"paletteledger/internal/domain"
	"paletteledger/internal/errors"
	"paletteledger/internal/pkg/cache"
	"paletteledger/internal/pkg/logger"
)

// SiteRepository persiste os sites e o consumo diário de cota por (site, dia local).
type SiteRepository struct {
	DB        *sql.DB
	Cache     cache.Client
	DBTimeout time.Duration
	CacheTTL  time.Duration
	logger    logger.Logger
}

// NewSiteRepository cria e retorna uma nova instância do Repositório de Sites.
func NewSiteRepository(db *sql.DB, cacheClient cache.Client, dbTimeout, cacheTTL time.Duration, logger logger.Logger) *SiteRepository {
	return &SiteRepository{
		DB:        db,
		Cache:     cacheClient,
		DBTimeout: dbTimeout,
		CacheTTL:  cacheTTL,
		logger:    logger,
	}
}

// Define a chave de cache para sites.
const siteCacheKey = "site:%s"

const siteColumns = `id, company_id, name, address, gps_lat, gps_lng, quota_daily_max, opening_start, opening_end,
        available_days, priority, timezone, active, version, created_at, updated_at`

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanSite(row rowScanner) (domain.Site, error) {
	var s domain.Site
	var lat, lng sql.NullFloat64
	var days []int64
	err := row.Scan(
		&s.ID, &s.CompanyID, &s.Name, &s.Address, &lat, &lng, &s.QuotaDailyMax,
		&s.OpeningHours.Start, &s.OpeningHours.End, pq.Array(&days), &s.Priority, &s.Timezone,
		&s.Active, &s.Version, &s.CreatedAt, &s.UpdatedAt,
	)
	if err != nil {
		return domain.Site{}, err
	}
	if lat.Valid && lng.Valid {
		s.GPS = &domain.GPS{Lat: lat.Float64, Lng: lng.Float64}
	}
	s.AvailableDays = make([]int, len(days))
	for i, d := range days {
		s.AvailableDays[i] = int(d)
	}
	s.CreatedAt = s.CreatedAt.UTC()
	s.UpdatedAt = s.UpdatedAt.UTC()
	return s, nil
}

func daysArray(days []int) interface{} {
	out := make([]int64, len(days))
	for i, d := range days {
		out[i] = int64(d)
	}
	return pq.Array(out)
}

func gpsArgs(g *domain.GPS) (interface{}, interface{}) {
	if g == nil {
		return nil, nil
	}
	return g.Lat, g.Lng
}

// CreateSite insere um novo site.
func (r *SiteRepository) CreateSite(ctx context.Context, s domain.Site) (domain.Site, error) {
	r.logger.Debug("Iniciando CreateSite no repositório.", map[string]interface{}{"id": s.ID, "company_id": s.CompanyID})

	ctxTimeout, cancel := context.WithTimeout(ctx, r.DBTimeout)
	defer cancel()

	lat, lng := gpsArgs(s.GPS)
	query := `
        INSERT INTO sites (id, company_id, name, address, gps_lat, gps_lng, quota_daily_max, opening_start,
            opening_end, available_days, priority, timezone, active, version, created_at, updated_at)
        VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16)`

	_, err := r.DB.ExecContext(ctxTimeout, query,
		s.ID, s.CompanyID, s.Name, s.Address, lat, lng, s.QuotaDailyMax, s.OpeningHours.Start,
		s.OpeningHours.End, daysArray(s.AvailableDays), s.Priority, s.Timezone, s.Active, s.Version,
		s.CreatedAt, s.UpdatedAt,
	)
	if err != nil {
		r.logger.Error("Falha ao inserir site no DB.", err)
		return domain.Site{}, errors.NewDBError("Falha ao criar site", err)
	}

	r.logger.Info("Site criado com sucesso.", map[string]interface{}{"id": s.ID, "name": s.Name})
	return s, nil
}

// GetSite busca um site pelo ID, utilizando a estratégia Cache-Aside.
func (r *SiteRepository) GetSite(ctx context.Context, id string) (domain.Site, error) {
	key := fmt.Sprintf(siteCacheKey, id)

	cached, err := r.Cache.Get(ctx, key)
	if err == nil {
		var s domain.Site
		if json.Unmarshal([]byte(cached), &s) == nil {
			return s, nil
		}
	} else if err != cache.ErrCacheMiss {
		r.logger.Warn("Falha ao ler site do cache; seguindo para o DB.", map[string]interface{}{"id": id, "error": err.Error()})
	}

	ctxTimeout, cancel := context.WithTimeout(ctx, r.DBTimeout)
	defer cancel()

	s, err := getSite(ctxTimeout, r.DB, id, "")
	if err != nil {
		if !errors.IsDomainError(err) {
			r.logger.Error("Falha ao buscar site no DB.", err)
		}
		return domain.Site{}, err
	}

	if b, marshalErr := json.Marshal(s); marshalErr == nil {
		if err := r.Cache.Set(ctx, key, string(b), r.CacheTTL); err != nil {
			r.logger.Warn("Falha ao gravar site no cache.", map[string]interface{}{"id": id, "error": err.Error()})
		}
	}
	return s, nil
}

type querier interface {
	QueryRowContext(ctx context.Context, query string, args ...interface{}) *sql.Row
}

func getSite(ctx context.Context, q querier, id, lock string) (domain.Site, error) {
	query := `SELECT ` + siteColumns + ` FROM sites WHERE id = $1 ` + lock
	s, err := scanSite(q.QueryRowContext(ctx, query, id))
	if err == sql.ErrNoRows {
		return domain.Site{}, errors.NewNotFoundError(fmt.Sprintf("Site com ID %s não encontrado.", id))
	}
	if err != nil {
		return domain.Site{}, errors.NewDBError("Falha ao buscar site", err)
	}
	return s, nil
}

// ListSites lista os sites, opcionalmente de uma empresa.
func (r *SiteRepository) ListSites(ctx context.Context, f domain.SiteFilter) ([]domain.Site, error) {
	r.logger.Debug("Iniciando ListSites no repositório.", map[string]interface{}{"company_id": f.CompanyID})

	ctxTimeout, cancel := context.WithTimeout(ctx, r.DBTimeout)
	defer cancel()

	query := `
        SELECT ` + siteColumns + `
        FROM sites
        WHERE ($1 = '' OR company_id = $1) AND ($2 OR active)
        ORDER BY name, id`

	rows, err := r.DB.QueryContext(ctxTimeout, query, f.CompanyID, f.IncludeInactive)
	if err != nil {
		r.logger.Error("Falha ao executar ListSites query.", err)
		return nil, errors.NewDBError("Falha ao listar sites", err)
	}
	defer rows.Close()

	sites := []domain.Site{}
	for rows.Next() {
		s, err := scanSite(rows)
		if err != nil {
			r.logger.Error("Falha ao mapear site na iteração de ListSites.", err)
			return nil, errors.NewDBError("Falha ao mapear sites do DB", err)
		}
		sites = append(sites, s)
	}
	if err := rows.Err(); err != nil {
		r.logger.Error("Erro após iteração das linhas de sites.", err)
		return nil, errors.NewDBError("Erro após iteração de sites", err)
	}

	r.logger.Info("ListSites concluído com sucesso.", map[string]interface{}{"total_sites": len(sites)})
	return sites, nil
}

// UpdateSite grava a configuração com OCC e invalida o cache.
func (r *SiteRepository) UpdateSite(ctx context.Context, s domain.Site) (domain.Site, error) {
	r.logger.Debug("Iniciando UpdateSite no repositório.", map[string]interface{}{"id": s.ID, "version": s.Version})

	ctxTimeout, cancel := context.WithTimeout(ctx, r.DBTimeout)
	defer cancel()

	lat, lng := gpsArgs(s.GPS)
	query := `
        UPDATE sites
        SET name = $1, address = $2, gps_lat = $3, gps_lng = $4, quota_daily_max = $5, opening_start = $6,
            opening_end = $7, available_days = $8, priority = $9, timezone = $10, active = $11,
            version = version + 1, updated_at = $12
        WHERE id = $13 AND version = $14`

	result, err := r.DB.ExecContext(ctxTimeout, query,
		s.Name, s.Address, lat, lng, s.QuotaDailyMax, s.OpeningHours.Start,
		s.OpeningHours.End, daysArray(s.AvailableDays), s.Priority, s.Timezone, s.Active,
		s.UpdatedAt, s.ID, s.Version,
	)
	if err != nil {
		r.logger.Error("Falha ao atualizar site no DB.", err)
		return domain.Site{}, errors.NewDBError("Falha ao atualizar site", err)
	}
	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return domain.Site{}, errors.NewDBError("Falha ao verificar linhas afetadas", err)
	}

	r.invalidate(ctx, s.ID)

	if rowsAffected == 0 {
		if _, getErr := getSite(ctxTimeout, r.DB, s.ID, ""); getErr != nil {
			return domain.Site{}, getErr
		}
		r.logger.Warn("Falha no controle de concorrência otimista (OCC). Versão do site desatualizada.", map[string]interface{}{"id": s.ID, "expected_version": s.Version})
		return domain.Site{}, errors.NewConflictError(fmt.Sprintf("O site %s foi modificado por outra operação. Tente novamente.", s.ID))
	}

	s.Version++
	r.logger.Info("Site atualizado com sucesso.", map[string]interface{}{"id": s.ID, "new_version": s.Version, "active": s.Active})
	return s, nil
}

func (r *SiteRepository) invalidate(ctx context.Context, id string) {
	if err := r.Cache.Delete(ctx, fmt.Sprintf(siteCacheKey, id)); err != nil {
		r.logger.Warn("Falha ao invalidar site no cache.", map[string]interface{}{"id": id, "error": err.Error()})
	}
}

// GetQuota monta a visão da cota do site para o dia local de `at`.
func (r *SiteRepository) GetQuota(ctx context.Context, site domain.Site, at time.Time) (domain.SiteQuota, error) {
	ctxTimeout, cancel := context.WithTimeout(ctx, r.DBTimeout)
	defer cancel()

	day, _ := site.LocalDay(at)
	var consumed int
	var lastReset time.Time
	err := r.DB.QueryRowContext(ctxTimeout, `
        SELECT consumed, last_reset FROM site_quota_consumption
        WHERE site_id = $1 AND day = $2::date`, site.ID, day).Scan(&consumed, &lastReset)
	if err == sql.ErrNoRows {
		return domain.NewSiteQuota(site, 0, at), nil
	}
	if err != nil {
		r.logger.Error("Falha ao buscar consumo de cota.", err)
		return domain.SiteQuota{}, errors.NewDBError("Falha ao buscar cota", err)
	}
	q := domain.NewSiteQuota(site, consumed, at)
	q.LastReset = lastReset.UTC()
	return q, nil
}

// ReserveQuota executa a admissão de forma atômica por (site, dia): a linha do dia
// é criada se necessário, bloqueada com FOR UPDATE e só então avaliada.
func (r *SiteRepository) ReserveQuota(ctx context.Context, siteID string, quantity int, at time.Time) (domain.Site, domain.SiteQuota, error) {
	r.logger.Debug("Iniciando ReserveQuota no repositório.", map[string]interface{}{"site_id": siteID, "quantity": quantity})

	return r.withQuotaRow(ctx, siteID, at, func(site domain.Site, q *domain.SiteQuota) error {
		return domain.AdmitDeposit(site, q, quantity, at)
	})
}

// ReleaseQuota desfaz uma reserva (compensação), com piso em zero.
func (r *SiteRepository) ReleaseQuota(ctx context.Context, siteID string, quantity int, at time.Time) (domain.SiteQuota, error) {
	r.logger.Debug("Iniciando ReleaseQuota no repositório.", map[string]interface{}{"site_id": siteID, "quantity": quantity})

	_, q, err := r.withQuotaRow(ctx, siteID, at, func(site domain.Site, q *domain.SiteQuota) error {
		domain.ReleaseDeposit(site, q, quantity, at)
		return nil
	})
	return q, err
}

func (r *SiteRepository) withQuotaRow(ctx context.Context, siteID string, at time.Time, apply func(domain.Site, *domain.SiteQuota) error) (domain.Site, domain.SiteQuota, error) {
	ctxTimeout, cancel := context.WithTimeout(ctx, r.DBTimeout)
	defer cancel()

	tx, err := r.DB.BeginTx(ctxTimeout, nil)
	if err != nil {
		r.logger.Error("Falha ao iniciar transação de cota.", err)
		return domain.Site{}, domain.SiteQuota{}, errors.NewDBError("Falha ao iniciar transação", err)
	}
	defer tx.Rollback()

	// FOR SHARE impede que a configuração mude durante a decisão.
	site, err := getSite(ctxTimeout, tx, siteID, "FOR SHARE")
	if err != nil {
		return domain.Site{}, domain.SiteQuota{}, err
	}

	day, dayStart := site.LocalDay(at)
	_, err = tx.ExecContext(ctxTimeout, `
        INSERT INTO site_quota_consumption (site_id, day, consumed, last_reset, updated_at)
        VALUES ($1, $2::date, 0, $3, $4)
        ON CONFLICT (site_id, day) DO NOTHING`, site.ID, day, dayStart, at)
	if err != nil {
		r.logger.Error("Falha ao criar linha de consumo do dia.", err)
		return domain.Site{}, domain.SiteQuota{}, errors.NewDBError("Falha ao preparar cota", err)
	}

	var consumed int
	var lastReset time.Time
	err = tx.QueryRowContext(ctxTimeout, `
        SELECT consumed, last_reset FROM site_quota_consumption
        WHERE site_id = $1 AND day = $2::date
        FOR UPDATE`, site.ID, day).Scan(&consumed, &lastReset)
	if err != nil {
		r.logger.Error("Falha ao bloquear linha de consumo do dia.", err)
		return domain.Site{}, domain.SiteQuota{}, errors.NewDBError("Falha ao bloquear cota", err)
	}

	q := domain.NewSiteQuota(site, consumed, at)
	q.LastReset = lastReset.UTC()
	if err := apply(site, &q); err != nil {
		r.logger.Info("Admissão recusada.", map[string]interface{}{"site_id": site.ID, "day": day, "consumed": consumed, "reason": errors.CategoryOf(err)})
		return domain.Site{}, domain.SiteQuota{}, err
	}

	_, err = tx.ExecContext(ctxTimeout, `
        UPDATE site_quota_consumption
        SET consumed = $1, updated_at = $2
        WHERE site_id = $3 AND day = $4::date`, q.Consumed, at, site.ID, day)
	if err != nil {
		r.logger.Error("Falha ao atualizar consumo de cota.", err)
		return domain.Site{}, domain.SiteQuota{}, errors.NewDBError("Falha ao atualizar cota", err)
	}

	if err := tx.Commit(); err != nil {
		r.logger.Error("Falha ao commitar transação de cota.", err)
		return domain.Site{}, domain.SiteQuota{}, errors.NewDBError("Falha ao commitar transação", err)
	}

	r.logger.Info("Cota atualizada.", map[string]interface{}{"site_id": site.ID, "day": day, "consumed": q.Consumed, "daily_max": q.DailyMax})
	return site, q, nil
}
