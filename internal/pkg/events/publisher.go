package events

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/nats-io/nats.go"

	"paletteledger/internal/pkg/logger"
)

// Nomes dos eventos de domínio; o assunto final é "<prefixo>.<nome>".
const (
	ChequeIssued     = "cheque.issued"
	ChequeDeposited  = "cheque.deposited"
	ChequeReceived   = "cheque.received"
	LedgerPending    = "ledger.pending"
	LedgerPosted     = "ledger.posted"
	DisputeOpened    = "dispute.opened"
	DisputeProposed  = "dispute.proposed"
	DisputeResolved  = "dispute.resolved"
	DisputeEscalated = "dispute.escalated"
	SiteUpdated      = "site.updated"
)

// Publisher publica eventos de domínio. A publicação é "best effort": uma falha
// nunca desfaz a operação que já foi confirmada no armazenamento.
type Publisher interface {
	Publish(ctx context.Context, event string, payload interface{}) error
	Close()
}

// Config da conexão NATS.
type Config struct {
	URL            string
	Name           string
	SubjectPrefix  string
	ReconnectWait  time.Duration
	MaxReconnects  int
	ConnectTimeout time.Duration
}

// NATSPublisher publica os eventos em JSON no NATS.
type NATSPublisher struct {
	conn   *nats.Conn
	prefix string
	logger logger.Logger
}

// NewNATSPublisher conecta ao servidor NATS.
func NewNATSPublisher(cfg Config, log logger.Logger) (*NATSPublisher, error) {
	opts := []nats.Option{
		nats.Name(cfg.Name),
		nats.ReconnectWait(cfg.ReconnectWait),
		nats.MaxReconnects(cfg.MaxReconnects),
		nats.Timeout(cfg.ConnectTimeout),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			if err != nil {
				log.Warn("Conexão NATS perdida.", map[string]interface{}{"error": err.Error()})
			}
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			log.Info("Conexão NATS restabelecida.", map[string]interface{}{"url": nc.ConnectedUrl()})
		}),
	}

	conn, err := nats.Connect(cfg.URL, opts...)
	if err != nil {
		return nil, fmt.Errorf("falha ao conectar ao NATS: %w", err)
	}
	return &NATSPublisher{conn: conn, prefix: cfg.SubjectPrefix, logger: log}, nil
}

// Subject monta o assunto completo de um evento.
func Subject(prefix, event string) string {
	if prefix == "" {
		return event
	}
	return prefix + "." + event
}

func (p *NATSPublisher) Publish(_ context.Context, event string, payload interface{}) error {
	data, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("falha ao serializar evento %s: %w", event, err)
	}
	subject := Subject(p.prefix, event)
	if err := p.conn.Publish(subject, data); err != nil {
		return fmt.Errorf("falha ao publicar em %s: %w", subject, err)
	}
	p.logger.Debug("Evento publicado.", map[string]interface{}{"subject": subject, "bytes": len(data)})
	return nil
}

// Close esvazia o buffer de saída e fecha a conexão.
func (p *NATSPublisher) Close() {
	if err := p.conn.Drain(); err != nil {
		p.conn.Close()
	}
}

// NopPublisher descarta os eventos (NATS_URL vazio).
type NopPublisher struct{}

func (NopPublisher) Publish(context.Context, string, interface{}) error { return nil }
func (NopPublisher) Close()                                             {}

// Event é um evento registrado pelo MemoryPublisher.
type Event struct {
	Name    string
	Payload interface{}
}

// MemoryPublisher guarda os eventos em memória; usado nos testes.
type MemoryPublisher struct {
	mu     sync.Mutex
	events []Event
}

func NewMemoryPublisher() *MemoryPublisher {
	return &MemoryPublisher{}
}

func (m *MemoryPublisher) Publish(_ context.Context, event string, payload interface{}) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.events = append(m.events, Event{Name: event, Payload: payload})
	return nil
}

func (m *MemoryPublisher) Close() {}

// Events devolve uma cópia dos eventos publicados.
func (m *MemoryPublisher) Events() []Event {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]Event(nil), m.events...)
}

// Names devolve os nomes dos eventos publicados, em ordem.
func (m *MemoryPublisher) Names() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	names := make([]string, 0, len(m.events))
	for _, e := range m.events {
		names = append(names, e.Name)
	}
	return names
}
