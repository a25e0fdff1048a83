package domain

import (
	"fmt"
	"strings"
	"time"

	apperror "paletteledger/internal/errors"
)

// SitePriority é a classe de preferência de admissão de um site.
type SitePriority string

const (
	PriorityInternal SitePriority = "INTERNAL"
	PriorityNetwork  SitePriority = "NETWORK"
	PriorityExternal SitePriority = "EXTERNAL"
)

func (p SitePriority) Valid() bool {
	switch p {
	case PriorityInternal, PriorityNetwork, PriorityExternal:
		return true
	}
	return false
}

// DayLayout é o formato do dia local usado como chave da cota.
const DayLayout = "2006-01-02"

// GPS é a posição de um site.
type GPS struct {
	Lat float64 `json:"lat"`
	Lng float64 `json:"lng"`
}

// OpeningHours define a janela diária de funcionamento ("HH:MM", 24h).
// Janela vazia significa sempre aberto.
type OpeningHours struct {
	Start string `json:"start"`
	End   string `json:"end"`
}

// IsZero indica que nenhuma janela foi configurada.
func (h OpeningHours) IsZero() bool {
	return h.Start == "" && h.End == ""
}

// Validate verifica o formato e a ordem start < end.
func (h OpeningHours) Validate() error {
	if h.IsZero() {
		return nil
	}
	start, err := parseClock(h.Start)
	if err != nil {
		return err
	}
	end, err := parseClock(h.End)
	if err != nil {
		return err
	}
	if start >= end {
		return apperror.NewValidationError(fmt.Sprintf("horário de abertura inválido: %s deve ser anterior a %s.", h.Start, h.End))
	}
	return nil
}

// Contains indica se o horário local está dentro da janela [start, end).
func (h OpeningHours) Contains(local time.Time) bool {
	if h.IsZero() {
		return true
	}
	start, err := parseClock(h.Start)
	if err != nil {
		return false
	}
	end, err := parseClock(h.End)
	if err != nil {
		return false
	}
	minute := local.Hour()*60 + local.Minute()
	return minute >= start && minute < end
}

// parseClock converte "HH:MM" em minutos desde a meia-noite.
func parseClock(v string) (int, error) {
	t, err := time.Parse("15:04", strings.TrimSpace(v))
	if err != nil {
		return 0, apperror.NewValidationError(fmt.Sprintf("horário '%s' inválido, use HH:MM.", v))
	}
	return t.Hour()*60 + t.Minute(), nil
}

// Site é um ponto de devolução de paletes pertencente a uma empresa.
type Site struct {
	ID            string       `json:"id"`
	CompanyID     string       `json:"companyId"`
	Name          string       `json:"name"`
	Address       string       `json:"address"`
	GPS           *GPS         `json:"gps,omitempty"`
	QuotaDailyMax int          `json:"quotaDailyMax"`
	OpeningHours  OpeningHours `json:"openingHours"`
	AvailableDays []int        `json:"availableDays"`
	Priority      SitePriority `json:"priority"`
	Timezone      string       `json:"timezone"`
	Active        bool         `json:"active"`
	Version       int          `json:"version"`
	CreatedAt     time.Time    `json:"createdAt"`
	UpdatedAt     time.Time    `json:"updatedAt"`
}

// Validate aplica as regras de configuração do site.
func (s Site) Validate() error {
	if strings.TrimSpace(s.CompanyID) == "" || strings.TrimSpace(s.Name) == "" {
		return apperror.NewValidationError("companyId e name do site são obrigatórios.")
	}
	if s.QuotaDailyMax < 0 {
		return apperror.NewInvalidQuantityError(fmt.Sprintf("quotaDailyMax não pode ser negativo (recebido %d).", s.QuotaDailyMax))
	}
	if err := s.OpeningHours.Validate(); err != nil {
		return err
	}
	if err := validateDays(s.AvailableDays); err != nil {
		return err
	}
	if !s.Priority.Valid() {
		return apperror.NewValidationError(fmt.Sprintf("prioridade desconhecida: %s", s.Priority))
	}
	if _, err := time.LoadLocation(s.Timezone); err != nil {
		return apperror.NewValidationError(fmt.Sprintf("fuso horário desconhecido: %s", s.Timezone))
	}
	return nil
}

func validateDays(days []int) error {
	for _, d := range days {
		if d < 0 || d > 6 {
			return apperror.NewValidationError(fmt.Sprintf("dia da semana inválido: %d (0=domingo ... 6=sábado).", d))
		}
	}
	return nil
}

// Location devolve o fuso do site; UTC quando o nome é inválido.
func (s Site) Location() *time.Location {
	loc, err := time.LoadLocation(s.Timezone)
	if err != nil {
		return time.UTC
	}
	return loc
}

// LocalDay devolve o dia local ("YYYY-MM-DD") e o início desse dia, em UTC.
func (s Site) LocalDay(at time.Time) (string, time.Time) {
	local := at.In(s.Location())
	start := time.Date(local.Year(), local.Month(), local.Day(), 0, 0, 0, 0, local.Location())
	return local.Format(DayLayout), start.UTC()
}

// OpenAt indica se o site aceita depósitos no instante informado.
func (s Site) OpenAt(at time.Time) bool {
	local := at.In(s.Location())
	if len(s.AvailableDays) > 0 {
		open := false
		for _, d := range s.AvailableDays {
			if time.Weekday(d) == local.Weekday() {
				open = true
				break
			}
		}
		if !open {
			return false
		}
	}
	return s.OpeningHours.Contains(local)
}

// SiteQuota é a visão materializada da cota de um site para um dia local.
type SiteQuota struct {
	SiteID    string    `json:"siteId"`
	DailyMax  int       `json:"dailyMax"`
	Consumed  int       `json:"consumed"`
	Remaining int       `json:"remaining"`
	Day       string    `json:"day"`
	LastReset time.Time `json:"lastReset"`
}

// NewSiteQuota monta a visão para o dia que contém `at`.
func NewSiteQuota(site Site, consumed int, at time.Time) SiteQuota {
	day, start := site.LocalDay(at)
	q := SiteQuota{
		SiteID:    site.ID,
		DailyMax:  site.QuotaDailyMax,
		Consumed:  consumed,
		Day:       day,
		LastReset: start,
	}
	q.Remaining = remaining(q.DailyMax, q.Consumed)
	return q
}

func remaining(dailyMax, consumed int) int {
	if consumed >= dailyMax {
		return 0
	}
	return dailyMax - consumed
}

// resetIfStale zera o consumo quando lastReset é anterior ao dia local de `at`.
func (q *SiteQuota) resetIfStale(site Site, at time.Time) {
	day, start := site.LocalDay(at)
	if q.LastReset.Before(start) || q.Day != day {
		q.Consumed = 0
		q.Day = day
		q.LastReset = start
	}
}

// AdmitDeposit decide a admissão de um depósito e, se aceito, incrementa o consumo.
// Em caso de rejeição a cota não é alterada. A função é pura; a atomicidade por
// (site, dia) é responsabilidade do armazenamento.
func AdmitDeposit(site Site, q *SiteQuota, quantity int, at time.Time) error {
	if !site.Active {
		return apperror.NewInvalidStateError(fmt.Sprintf("o site %s está desativado.", site.ID))
	}
	if quantity <= 0 {
		return apperror.NewInvalidQuantityError(fmt.Sprintf("a quantidade depositada deve ser positiva (recebido %d).", quantity))
	}
	if !site.OpenAt(at) {
		return apperror.NewOutsideOperatingWindowError(fmt.Sprintf("o site %s não aceita depósitos em %s.", site.ID, at.In(site.Location()).Format("Mon 15:04")))
	}

	next := *q
	next.SiteID = site.ID
	next.DailyMax = site.QuotaDailyMax
	next.resetIfStale(site, at)

	if next.Consumed+quantity > next.DailyMax {
		return apperror.NewQuotaExceededError(fmt.Sprintf("site %s: %d consumidos + %d solicitados excedem o máximo diário de %d.",
			site.ID, next.Consumed, quantity, next.DailyMax))
	}
	next.Consumed += quantity
	next.Remaining = remaining(next.DailyMax, next.Consumed)
	*q = next
	return nil
}

// ReleaseDeposit desfaz uma reserva, com piso em zero.
func ReleaseDeposit(site Site, q *SiteQuota, quantity int, at time.Time) {
	q.SiteID = site.ID
	q.DailyMax = site.QuotaDailyMax
	q.resetIfStale(site, at)
	q.Consumed -= quantity
	if q.Consumed < 0 {
		q.Consumed = 0
	}
	q.Remaining = remaining(q.DailyMax, q.Consumed)
}

// QuotaUpdate é a alteração administrativa da política de capacidade.
// Campos nulos não são alterados.
type QuotaUpdate struct {
	DailyMax      *int          `json:"dailyMax,omitempty"`
	OpeningHours  *OpeningHours `json:"openingHours,omitempty"`
	AvailableDays *[]int        `json:"availableDays,omitempty"`
	Priority      *SitePriority `json:"priority,omitempty"`
}

// Apply valida e aplica a alteração sobre o site. O consumo do dia não é tocado.
func (u QuotaUpdate) Apply(site *Site) error {
	next := *site
	if u.DailyMax != nil {
		next.QuotaDailyMax = *u.DailyMax
	}
	if u.OpeningHours != nil {
		next.OpeningHours = *u.OpeningHours
	}
	if u.AvailableDays != nil {
		next.AvailableDays = append([]int(nil), (*u.AvailableDays)...)
	}
	if u.Priority != nil {
		next.Priority = *u.Priority
	}
	if err := next.Validate(); err != nil {
		return err
	}
	*site = next
	return nil
}

// SiteFilter filtra a listagem de sites.
type SiteFilter struct {
	CompanyID       string
	IncludeInactive bool
}
