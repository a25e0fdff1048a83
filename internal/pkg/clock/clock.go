package clock

import (
	"sync"
	"time"
)

// Clock fornece o instante atual. Os serviços nunca leem o relógio do processo
// diretamente, o que mantém a admissão de cota determinística nos testes.
type Clock interface {
	Now() time.Time
}

// Normalize converte para UTC com precisão de microssegundo, a mesma do PostgreSQL.
func Normalize(t time.Time) time.Time {
	return t.UTC().Truncate(time.Microsecond)
}

type systemClock struct{}

// NewSystemClock devolve o relógio de parede.
func NewSystemClock() Clock {
	return systemClock{}
}

func (systemClock) Now() time.Time {
	return Normalize(time.Now())
}

// Fixed é um relógio controlado manualmente.
type Fixed struct {
	mu  sync.Mutex
	now time.Time
}

// NewFixed cria um relógio parado em `at`.
func NewFixed(at time.Time) *Fixed {
	return &Fixed{now: Normalize(at)}
}

func (f *Fixed) Now() time.Time {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.now
}

// Set move o relógio para `at`.
func (f *Fixed) Set(at time.Time) {
	f.mu.Lock()
	f.now = Normalize(at)
	f.mu.Unlock()
}

// Advance avança o relógio em d.
func (f *Fixed) Advance(d time.Duration) {
	f.mu.Lock()
	f.now = Normalize(f.now.Add(d))
	f.mu.Unlock()
}
