package ledgerrepo

import (
	"context"
	"database/sql"
	"fmt"
	"sort"
	"time"

	"github.com/google/uuid"
	"github.com/lib/pq"

	"paletteledger/internal/domain"
	"paletteledger/internal/errors"
	"paletteledger/internal/pkg/logger"
)

// foreignKeyViolation é o código Postgres de chave estrangeira inexistente.
const foreignKeyViolation = "23503"

// LedgerRepository persiste o histórico somente-inserção de cada empresa.
type LedgerRepository struct {
	DB        *sql.DB
	DBTimeout time.Duration
	logger    logger.Logger
}

// NewLedgerRepository cria e retorna uma nova instância do Repositório de Razão.
func NewLedgerRepository(db *sql.DB, dbTimeout time.Duration, logger logger.Logger) *LedgerRepository {
	return &LedgerRepository{
		DB:        db,
		DBTimeout: dbTimeout,
		logger:    logger,
	}
}

// AppendLedgerEntries grava os lançamentos numa única transação: ou todos entram, ou nenhum.
func (r *LedgerRepository) AppendLedgerEntries(ctx context.Context, postings []domain.LedgerPosting, at time.Time) ([]domain.LedgerEntry, error) {
	r.logger.Debug("Iniciando AppendLedgerEntries no repositório.", map[string]interface{}{"postings": len(postings)})

	ctxTimeout, cancel := context.WithTimeout(ctx, r.DBTimeout)
	defer cancel()

	tx, err := r.DB.BeginTx(ctxTimeout, nil)
	if err != nil {
		r.logger.Error("Falha ao iniciar transação de lançamento.", err)
		return nil, errors.NewDBError("Falha ao iniciar transação", err)
	}
	defer tx.Rollback()

	entries, err := AppendTx(ctxTimeout, tx, postings, at)
	if err != nil {
		r.logger.Error("Falha ao gravar lançamentos no razão.", err)
		return nil, err
	}

	if err := tx.Commit(); err != nil {
		r.logger.Error("Falha ao commitar transação de lançamento.", err)
		return nil, errors.NewDBError("Falha ao commitar transação", err)
	}

	r.logger.Info("Lançamentos gravados no razão.", map[string]interface{}{"entries": len(entries)})
	return entries, nil
}

// AppendTx grava os lançamentos dentro de uma transação existente. As cabeças do
// razão de cada empresa são bloqueadas em ordem de company_id, de modo que duas
// transferências cruzadas (A->B e B->A) nunca entram em deadlock.
func AppendTx(ctx context.Context, tx *sql.Tx, postings []domain.LedgerPosting, at time.Time) ([]domain.LedgerEntry, error) {
	if len(postings) == 0 {
		return nil, nil
	}
	for _, p := range postings {
		if err := p.Validate(); err != nil {
			return nil, err
		}
	}

	companies := make([]string, 0, len(postings))
	seen := make(map[string]bool, len(postings))
	for _, p := range postings {
		if !seen[p.CompanyID] {
			seen[p.CompanyID] = true
			companies = append(companies, p.CompanyID)
		}
	}
	sort.Strings(companies)

	// 1. Garante a existência das cabeças (âncoras de bloqueio)
	_, err := tx.ExecContext(ctx, `
        INSERT INTO company_ledgers (company_id, balance, entry_count, updated_at)
        SELECT unnest($1::text[]), 0, 0, $2::timestamptz
        ON CONFLICT (company_id) DO NOTHING`, pq.Array(companies), at)
	if err != nil {
		return nil, errors.NewDBError("Falha ao criar cabeça do razão", err)
	}

	// 2. Bloqueia as cabeças em ordem determinística
	rows, err := tx.QueryContext(ctx, `
        SELECT company_id, balance
        FROM company_ledgers
        WHERE company_id = ANY($1)
        ORDER BY company_id
        FOR UPDATE`, pq.Array(companies))
	if err != nil {
		return nil, errors.NewDBError("Falha ao bloquear cabeças do razão", err)
	}
	balances := make(map[string]int, len(companies))
	for rows.Next() {
		var companyID string
		var balance int
		if err := rows.Scan(&companyID, &balance); err != nil {
			rows.Close()
			return nil, errors.NewDBError("Falha ao mapear cabeça do razão", err)
		}
		balances[companyID] = balance
	}
	if err := rows.Close(); err != nil {
		return nil, errors.NewDBError("Falha ao ler cabeças do razão", err)
	}

	// 3. Insere as entradas e avança as cabeças
	entries := make([]domain.LedgerEntry, 0, len(postings))
	for _, p := range postings {
		entry := p.Apply(uuid.New().String(), balances[p.CompanyID], at)
		_, err := tx.ExecContext(ctx, `
            INSERT INTO ledger_entries (id, company_id, entry_date, delta, reason, cheque_id, new_balance)
            VALUES ($1, $2, $3, $4, $5, $6, $7)`,
			entry.ID, entry.CompanyID, entry.Date, entry.Delta, entry.Reason, entry.ChequeID, entry.NewBalance)
		if err != nil {
			if pqErr, ok := err.(*pq.Error); ok && pqErr.Code == foreignKeyViolation {
				return nil, errors.NewNotFoundError(fmt.Sprintf("Cheque %s referenciado pelo lançamento não encontrado.", derefOrEmpty(entry.ChequeID)))
			}
			return nil, errors.NewDBError("Falha ao inserir lançamento", err)
		}
		balances[p.CompanyID] = entry.NewBalance
		entries = append(entries, entry)
	}

	for _, companyID := range companies {
		_, err := tx.ExecContext(ctx, `
            UPDATE company_ledgers
            SET balance = $1, entry_count = entry_count + $2, updated_at = $3
            WHERE company_id = $4`,
			balances[companyID], countFor(postings, companyID), at, companyID)
		if err != nil {
			return nil, errors.NewDBError("Falha ao atualizar cabeça do razão", err)
		}
	}

	return entries, nil
}

func countFor(postings []domain.LedgerPosting, companyID string) int {
	n := 0
	for _, p := range postings {
		if p.CompanyID == companyID {
			n++
		}
	}
	return n
}

// GetLedger lê o histórico completo da empresa e calcula o saldo como dobra.
// Empresas sem histórico devolvem um razão vazio.
func (r *LedgerRepository) GetLedger(ctx context.Context, companyID string) (domain.CompanyLedger, error) {
	r.logger.Debug("Iniciando GetLedger no repositório.", map[string]interface{}{"company_id": companyID})

	ctxTimeout, cancel := context.WithTimeout(ctx, r.DBTimeout)
	defer cancel()

	query := `
        SELECT id, company_id, entry_date, delta, reason, cheque_id, new_balance
        FROM ledger_entries
        WHERE company_id = $1
        ORDER BY seq`

	rows, err := r.DB.QueryContext(ctxTimeout, query, companyID)
	if err != nil {
		r.logger.Error("Falha ao executar GetLedger query.", err)
		return domain.CompanyLedger{}, errors.NewDBError("Falha ao buscar razão", err)
	}
	defer rows.Close()

	history := []domain.LedgerEntry{}
	for rows.Next() {
		var e domain.LedgerEntry
		var chequeID sql.NullString
		if err := rows.Scan(&e.ID, &e.CompanyID, &e.Date, &e.Delta, &e.Reason, &chequeID, &e.NewBalance); err != nil {
			r.logger.Error("Falha ao mapear lançamento em GetLedger.", err)
			return domain.CompanyLedger{}, errors.NewDBError("Falha ao mapear lançamentos do DB", err)
		}
		if chequeID.Valid {
			id := chequeID.String
			e.ChequeID = &id
		}
		e.Date = e.Date.UTC()
		history = append(history, e)
	}
	if err := rows.Err(); err != nil {
		r.logger.Error("Erro após iteração dos lançamentos.", err)
		return domain.CompanyLedger{}, errors.NewDBError("Erro após iteração de lançamentos", err)
	}

	ledger := domain.FoldLedger(companyID, history)
	r.logger.Debug("Razão carregado.", map[string]interface{}{"company_id": companyID, "entries": len(history), "balance": ledger.Balance})
	return ledger, nil
}

func derefOrEmpty(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}
