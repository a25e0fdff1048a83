package memrepo

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"paletteledger/internal/domain"
	"paletteledger/internal/errors"
	"paletteledger/internal/pkg/logger"
)

// Store é o armazenamento em memória de todas as entidades (STORAGE_DRIVER=memory).
// Um único mutex serializa as operações, o que dá a mesma atomicidade das
// transações do PostgreSQL: reserva de cota por (site, dia), par de lançamentos,
// e as operações compostas de cheque + litígio + razão.
type Store struct {
	mu       sync.Mutex
	cheques  map[string]domain.Cheque
	sites    map[string]domain.Site
	quota    map[quotaKey]domain.SiteQuota
	ledgers  map[string][]domain.LedgerEntry
	disputes map[string]domain.Dispute
	logger   logger.Logger
}

type quotaKey struct {
	siteID string
	day    string
}

// NewStore cria um armazenamento vazio.
func NewStore(logger logger.Logger) *Store {
	return &Store{
		cheques:  make(map[string]domain.Cheque),
		sites:    make(map[string]domain.Site),
		quota:    make(map[quotaKey]domain.SiteQuota),
		ledgers:  make(map[string][]domain.LedgerEntry),
		disputes: make(map[string]domain.Dispute),
		logger:   logger,
	}
}

// --- Cheques ---

func (s *Store) CreateCheque(_ context.Context, c domain.Cheque) (domain.Cheque, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.cheques[c.ID]; exists {
		return domain.Cheque{}, errors.NewConflictError(fmt.Sprintf("cheque %s já existe.", c.ID))
	}
	for _, other := range s.cheques {
		if other.QRCode == c.QRCode {
			return domain.Cheque{}, errors.NewConflictError("qrCode duplicado.")
		}
	}
	s.cheques[c.ID] = cloneCheque(c)
	s.logger.Debug("Cheque criado (memória).", map[string]interface{}{"id": c.ID})
	return cloneCheque(c), nil
}

func (s *Store) GetCheque(_ context.Context, id string) (domain.Cheque, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.getCheque(id)
}

func (s *Store) getCheque(id string) (domain.Cheque, error) {
	c, ok := s.cheques[id]
	if !ok {
		return domain.Cheque{}, errors.NewNotFoundError(fmt.Sprintf("Cheque com ID %s não encontrado.", id))
	}
	return cloneCheque(c), nil
}

func (s *Store) ListCheques(_ context.Context, f domain.ChequeFilter) (domain.ChequePage, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var cursor *domain.ChequeCursor
	if f.Cursor != "" {
		cur, err := domain.DecodeChequeCursor(f.Cursor)
		if err != nil {
			return domain.ChequePage{}, err
		}
		cursor = &cur
	}

	matched := []domain.Cheque{}
	for _, c := range s.cheques {
		if !f.Matches(c) {
			continue
		}
		if f.CompanyID != "" && c.FromCompanyID != f.CompanyID && s.sites[c.ToSiteID].CompanyID != f.CompanyID {
			continue
		}
		if cursor != nil && !cursor.After(c) {
			continue
		}
		matched = append(matched, cloneCheque(c))
	}
	sort.Slice(matched, func(i, j int) bool {
		if matched[i].CreatedAt.Equal(matched[j].CreatedAt) {
			return matched[i].ID < matched[j].ID
		}
		return matched[i].CreatedAt.Before(matched[j].CreatedAt)
	})

	page := domain.ChequePage{Cheques: matched}
	if f.Limit > 0 && len(matched) > f.Limit {
		page.Cheques = matched[:f.Limit]
		page.NextCursor = domain.EncodeChequeCursor(page.Cheques[f.Limit-1])
	}
	return page, nil
}

func (s *Store) UpdateCheque(_ context.Context, c domain.Cheque) (domain.Cheque, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.updateCheque(c)
}

func (s *Store) updateCheque(c domain.Cheque) (domain.Cheque, error) {
	current, ok := s.cheques[c.ID]
	if !ok {
		return domain.Cheque{}, errors.NewNotFoundError(fmt.Sprintf("Cheque com ID %s não encontrado.", c.ID))
	}
	if current.Version != c.Version {
		s.logger.Warn("Falha no controle de concorrência otimista (OCC). Versão do cheque desatualizada.", map[string]interface{}{
			"id": c.ID, "expected_version": c.Version, "current_version": current.Version,
		})
		return domain.Cheque{}, errors.NewConflictError(fmt.Sprintf("O cheque %s foi modificado por outra operação. Tente novamente.", c.ID))
	}
	c.Version++
	s.cheques[c.ID] = cloneCheque(c)
	return cloneCheque(c), nil
}

func (s *Store) UpdateChequeWithPostings(_ context.Context, c domain.Cheque, postings []domain.LedgerPosting, at time.Time) (domain.Cheque, []domain.LedgerEntry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.checkVersion(c); err != nil {
		return domain.Cheque{}, nil, err
	}
	if err := validatePostings(postings); err != nil {
		return domain.Cheque{}, nil, err
	}
	updated, err := s.updateCheque(c)
	if err != nil {
		return domain.Cheque{}, nil, err
	}
	return updated, s.appendEntries(postings, at), nil
}

func (s *Store) checkVersion(c domain.Cheque) error {
	current, ok := s.cheques[c.ID]
	if !ok {
		return errors.NewNotFoundError(fmt.Sprintf("Cheque com ID %s não encontrado.", c.ID))
	}
	if current.Version != c.Version {
		return errors.NewConflictError(fmt.Sprintf("O cheque %s foi modificado por outra operação. Tente novamente.", c.ID))
	}
	return nil
}

func (s *Store) ListPendingTransfers(_ context.Context, companyID string) ([]domain.PendingTransfer, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	cheques := make([]domain.Cheque, 0)
	for _, c := range s.cheques {
		if c.Status != domain.ChequeDeposited && c.Status != domain.ChequeDisputed {
			continue
		}
		if c.PostedQuantity != 0 {
			continue
		}
		if c.FromCompanyID != companyID && s.sites[c.ToSiteID].CompanyID != companyID {
			continue
		}
		cheques = append(cheques, c)
	}
	sort.Slice(cheques, func(i, j int) bool {
		if cheques[i].CreatedAt.Equal(cheques[j].CreatedAt) {
			return cheques[i].ID < cheques[j].ID
		}
		return cheques[i].CreatedAt.Before(cheques[j].CreatedAt)
	})

	pending := make([]domain.PendingTransfer, 0, len(cheques))
	for _, c := range cheques {
		dir := domain.PendingIncoming
		if c.FromCompanyID == companyID {
			dir = domain.PendingOutgoing
		}
		pending = append(pending, domain.PendingTransfer{
			ChequeID: c.ID, Status: c.Status, Quantity: c.Quantity, Direction: dir, SiteID: c.ToSiteID,
		})
	}
	return pending, nil
}

// --- Sites e cota ---

func (s *Store) CreateSite(_ context.Context, site domain.Site) (domain.Site, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.sites[site.ID]; exists {
		return domain.Site{}, errors.NewConflictError(fmt.Sprintf("site %s já existe.", site.ID))
	}
	s.sites[site.ID] = cloneSite(site)
	return cloneSite(site), nil
}

func (s *Store) GetSite(_ context.Context, id string) (domain.Site, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.getSite(id)
}

func (s *Store) getSite(id string) (domain.Site, error) {
	site, ok := s.sites[id]
	if !ok {
		return domain.Site{}, errors.NewNotFoundError(fmt.Sprintf("Site com ID %s não encontrado.", id))
	}
	return cloneSite(site), nil
}

func (s *Store) ListSites(_ context.Context, f domain.SiteFilter) ([]domain.Site, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	sites := []domain.Site{}
	for _, site := range s.sites {
		if f.CompanyID != "" && site.CompanyID != f.CompanyID {
			continue
		}
		if !f.IncludeInactive && !site.Active {
			continue
		}
		sites = append(sites, cloneSite(site))
	}
	sort.Slice(sites, func(i, j int) bool {
		if sites[i].Name == sites[j].Name {
			return sites[i].ID < sites[j].ID
		}
		return sites[i].Name < sites[j].Name
	})
	return sites, nil
}

func (s *Store) UpdateSite(_ context.Context, site domain.Site) (domain.Site, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	current, ok := s.sites[site.ID]
	if !ok {
		return domain.Site{}, errors.NewNotFoundError(fmt.Sprintf("Site com ID %s não encontrado.", site.ID))
	}
	if current.Version != site.Version {
		return domain.Site{}, errors.NewConflictError(fmt.Sprintf("O site %s foi modificado por outra operação. Tente novamente.", site.ID))
	}
	site.Version++
	s.sites[site.ID] = cloneSite(site)
	return cloneSite(site), nil
}

func (s *Store) GetQuota(_ context.Context, site domain.Site, at time.Time) (domain.SiteQuota, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	day, _ := site.LocalDay(at)
	q, ok := s.quota[quotaKey{site.ID, day}]
	if !ok {
		return domain.NewSiteQuota(site, 0, at), nil
	}
	view := domain.NewSiteQuota(site, q.Consumed, at)
	view.LastReset = q.LastReset
	return view, nil
}

func (s *Store) ReserveQuota(_ context.Context, siteID string, quantity int, at time.Time) (domain.Site, domain.SiteQuota, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	site, err := s.getSite(siteID)
	if err != nil {
		return domain.Site{}, domain.SiteQuota{}, err
	}
	key, q := s.quotaRow(site, at)
	if err := domain.AdmitDeposit(site, &q, quantity, at); err != nil {
		return domain.Site{}, domain.SiteQuota{}, err
	}
	s.quota[key] = q
	return site, q, nil
}

func (s *Store) ReleaseQuota(_ context.Context, siteID string, quantity int, at time.Time) (domain.SiteQuota, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	site, err := s.getSite(siteID)
	if err != nil {
		return domain.SiteQuota{}, err
	}
	key, q := s.quotaRow(site, at)
	domain.ReleaseDeposit(site, &q, quantity, at)
	s.quota[key] = q
	return q, nil
}

func (s *Store) quotaRow(site domain.Site, at time.Time) (quotaKey, domain.SiteQuota) {
	day, _ := site.LocalDay(at)
	key := quotaKey{site.ID, day}
	q, ok := s.quota[key]
	if !ok {
		q = domain.NewSiteQuota(site, 0, at)
	}
	return key, q
}

// --- Razão ---

func (s *Store) AppendLedgerEntries(_ context.Context, postings []domain.LedgerPosting, at time.Time) ([]domain.LedgerEntry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := validatePostings(postings); err != nil {
		return nil, err
	}
	return s.appendEntries(postings, at), nil
}

func validatePostings(postings []domain.LedgerPosting) error {
	for _, p := range postings {
		if err := p.Validate(); err != nil {
			return err
		}
	}
	return nil
}

// appendEntries assume os lançamentos já validados e o mutex adquirido.
func (s *Store) appendEntries(postings []domain.LedgerPosting, at time.Time) []domain.LedgerEntry {
	entries := make([]domain.LedgerEntry, 0, len(postings))
	for _, p := range postings {
		history := s.ledgers[p.CompanyID]
		balance := 0
		if n := len(history); n > 0 {
			balance = history[n-1].NewBalance
		}
		entry := p.Apply(uuid.New().String(), balance, at)
		s.ledgers[p.CompanyID] = append(history, entry)
		entries = append(entries, entry)
	}
	return entries
}

func (s *Store) GetLedger(_ context.Context, companyID string) (domain.CompanyLedger, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	history := append([]domain.LedgerEntry(nil), s.ledgers[companyID]...)
	return domain.FoldLedger(companyID, history), nil
}

// --- Litígios ---

func (s *Store) GetDispute(_ context.Context, id string) (domain.Dispute, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	d, ok := s.disputes[id]
	if !ok {
		return domain.Dispute{}, errors.NewNotFoundError(fmt.Sprintf("Litígio com ID %s não encontrado.", id))
	}
	return cloneDispute(d), nil
}

func (s *Store) ListDisputes(_ context.Context, f domain.DisputeFilter) ([]domain.Dispute, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	disputes := []domain.Dispute{}
	for _, d := range s.disputes {
		if f.Status != "" && d.Status != f.Status {
			continue
		}
		if f.ChequeID != "" && d.ChequeID != f.ChequeID {
			continue
		}
		if f.CompanyID != "" && !d.IsParty(f.CompanyID) {
			continue
		}
		disputes = append(disputes, cloneDispute(d))
	}
	sort.Slice(disputes, func(i, j int) bool {
		if disputes[i].CreatedAt.Equal(disputes[j].CreatedAt) {
			return disputes[i].ID < disputes[j].ID
		}
		return disputes[i].CreatedAt.After(disputes[j].CreatedAt)
	})
	return disputes, nil
}

func (s *Store) OpenDispute(_ context.Context, d domain.Dispute, c domain.Cheque) (domain.Dispute, domain.Cheque, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, other := range s.disputes {
		if other.ChequeID != d.ChequeID {
			continue
		}
		if other.Status == domain.DisputeEscalated {
			return domain.Dispute{}, domain.Cheque{}, errors.NewInvalidStateError(fmt.Sprintf("o cheque %s está em arbitragem (litígio %s escalado).", d.ChequeID, other.ID))
		}
		if other.Status.Active() {
			return domain.Dispute{}, domain.Cheque{}, errors.NewDuplicateDisputeError(fmt.Sprintf("já existe um litígio aberto para o cheque %s.", d.ChequeID))
		}
	}
	updated, err := s.updateCheque(c)
	if err != nil {
		return domain.Dispute{}, domain.Cheque{}, err
	}
	s.disputes[d.ID] = cloneDispute(d)
	return cloneDispute(d), updated, nil
}

func (s *Store) UpdateDispute(_ context.Context, d domain.Dispute) (domain.Dispute, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.updateDispute(d)
}

func (s *Store) updateDispute(d domain.Dispute) (domain.Dispute, error) {
	if err := s.checkDisputeVersion(d); err != nil {
		return domain.Dispute{}, err
	}
	d.Version++
	s.disputes[d.ID] = cloneDispute(d)
	return cloneDispute(d), nil
}

func (s *Store) checkDisputeVersion(d domain.Dispute) error {
	current, ok := s.disputes[d.ID]
	if !ok {
		return errors.NewNotFoundError(fmt.Sprintf("Litígio com ID %s não encontrado.", d.ID))
	}
	if current.Version != d.Version {
		return errors.NewConflictError(fmt.Sprintf("O litígio %s foi modificado por outra operação. Tente novamente.", d.ID))
	}
	return nil
}

func (s *Store) ResolveDispute(_ context.Context, d domain.Dispute, c domain.Cheque, postings []domain.LedgerPosting, at time.Time) (domain.Dispute, domain.Cheque, []domain.LedgerEntry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	// Todas as verificações antes da primeira escrita: tudo ou nada.
	if err := s.checkDisputeVersion(d); err != nil {
		return domain.Dispute{}, domain.Cheque{}, nil, err
	}
	if err := s.checkVersion(c); err != nil {
		return domain.Dispute{}, domain.Cheque{}, nil, err
	}
	if err := validatePostings(postings); err != nil {
		return domain.Dispute{}, domain.Cheque{}, nil, err
	}

	updatedDispute, _ := s.updateDispute(d)
	updatedCheque, _ := s.updateCheque(c)
	entries := s.appendEntries(postings, at)
	return updatedDispute, updatedCheque, entries, nil
}

// --- cópias defensivas ---

func cloneCheque(c domain.Cheque) domain.Cheque {
	c.Photos = append([]domain.Photo{}, c.Photos...)
	return c
}

func cloneSite(s domain.Site) domain.Site {
	s.AvailableDays = append([]int{}, s.AvailableDays...)
	return s
}

func cloneDispute(d domain.Dispute) domain.Dispute {
	d.Photos = append([]domain.Photo{}, d.Photos...)
	d.ValidatedBy = append([]string{}, d.ValidatedBy...)
	return d
}
