package disputerepo

import (
	"context"
	"database/sql"
	"encoding/json"
	stderrors "errors"
	"fmt"
	"time"

	"github.com/lib/pq"

	"paletteledger/internal/domain"
	"paletteledger/internal/errors"
	"paletteledger/internal/pkg/logger"
	"paletteledger/internal/repository/chequerepo"
	"paletteledger/internal/repository/ledgerrepo"
)

// DisputeRepository persiste os litígios. Abertura e resolução alteram o cheque
// (e o razão) na mesma transação.
type DisputeRepository struct {
	DB        *sql.DB
	DBTimeout time.Duration
	logger    logger.Logger
}

// NewDisputeRepository cria e retorna uma nova instância do Repositório de Litígios.
func NewDisputeRepository(db *sql.DB, dbTimeout time.Duration, logger logger.Logger) *DisputeRepository {
	return &DisputeRepository{
		DB:        db,
		DBTimeout: dbTimeout,
		logger:    logger,
	}
}

// Índice parcial que garante um único litígio ativo por cheque.
const activeDisputeIndex = "uq_disputes_active_cheque"

const disputeColumns = `id, cheque_id, claimant_id, counter_party_id, reason, comments, photos, status,
        proposed_solution, resolution, validated_by, proposed_by, expected_quantity, received_quantity,
        escalation_reason, version, created_at, updated_at, resolved_at`

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanDispute(row rowScanner) (domain.Dispute, error) {
	var d domain.Dispute
	var (
		photos, proposed, resolution []byte
		received                     sql.NullInt64
		resolvedAt                   sql.NullTime
	)
	err := row.Scan(
		&d.ID, &d.ChequeID, &d.ClaimantID, &d.CounterPartyID, &d.Reason, &d.Comments, &photos, &d.Status,
		&proposed, &resolution, pq.Array(&d.ValidatedBy), &d.ProposedBy, &d.ExpectedQuantity, &received,
		&d.EscalationReason, &d.Version, &d.CreatedAt, &d.UpdatedAt, &resolvedAt,
	)
	if err != nil {
		return domain.Dispute{}, err
	}
	if d.ValidatedBy == nil {
		d.ValidatedBy = []string{}
	}
	d.Photos = []domain.Photo{}
	if len(photos) > 0 {
		if err := json.Unmarshal(photos, &d.Photos); err != nil {
			return domain.Dispute{}, fmt.Errorf("photos: %w", err)
		}
	}
	if d.ProposedSolution, err = decodeSolution(proposed); err != nil {
		return domain.Dispute{}, err
	}
	if d.Resolution, err = decodeSolution(resolution); err != nil {
		return domain.Dispute{}, err
	}
	if received.Valid {
		q := int(received.Int64)
		d.ReceivedQuantity = &q
	}
	if resolvedAt.Valid {
		t := resolvedAt.Time.UTC()
		d.ResolvedAt = &t
	}
	d.CreatedAt = d.CreatedAt.UTC()
	d.UpdatedAt = d.UpdatedAt.UTC()
	return d, nil
}

func decodeSolution(raw []byte) (*domain.ProposedSolution, error) {
	if len(raw) == 0 || string(raw) == "null" {
		return nil, nil
	}
	var s domain.ProposedSolution
	if err := json.Unmarshal(raw, &s); err != nil {
		return nil, fmt.Errorf("solution: %w", err)
	}
	return &s, nil
}

func encodeSolution(s *domain.ProposedSolution) (interface{}, error) {
	if s == nil {
		return nil, nil
	}
	b, err := json.Marshal(s)
	if err != nil {
		return nil, err
	}
	return string(b), nil
}

func encodePhotos(photos []domain.Photo) (string, error) {
	if len(photos) == 0 {
		return "[]", nil
	}
	b, err := json.Marshal(photos)
	return string(b), err
}

// GetDispute busca um litígio pelo ID.
func (r *DisputeRepository) GetDispute(ctx context.Context, id string) (domain.Dispute, error) {
	r.logger.Debug("Iniciando GetDispute no repositório.", map[string]interface{}{"id": id})

	ctxTimeout, cancel := context.WithTimeout(ctx, r.DBTimeout)
	defer cancel()

	d, err := scanDispute(r.DB.QueryRowContext(ctxTimeout, `SELECT `+disputeColumns+` FROM disputes WHERE id = $1`, id))
	if err == sql.ErrNoRows {
		r.logger.Info("Litígio não encontrado.", map[string]interface{}{"id": id})
		return domain.Dispute{}, errors.NewNotFoundError(fmt.Sprintf("Litígio com ID %s não encontrado.", id))
	}
	if err != nil {
		r.logger.Error("Falha ao buscar litígio no DB.", err)
		return domain.Dispute{}, errors.NewDBError("Falha ao buscar litígio", err)
	}
	return d, nil
}

// ListDisputes lista litígios por status, cheque ou empresa (reclamante ou contraparte).
func (r *DisputeRepository) ListDisputes(ctx context.Context, f domain.DisputeFilter) ([]domain.Dispute, error) {
	r.logger.Debug("Iniciando ListDisputes no repositório.", map[string]interface{}{"status": f.Status, "cheque_id": f.ChequeID, "company_id": f.CompanyID})

	ctxTimeout, cancel := context.WithTimeout(ctx, r.DBTimeout)
	defer cancel()

	query := `
        SELECT ` + disputeColumns + `
        FROM disputes
        WHERE ($1 = '' OR status = $1)
          AND ($2 = '' OR cheque_id = $2)
          AND ($3 = '' OR claimant_id = $3 OR counter_party_id = $3)
        ORDER BY created_at DESC, id`

	rows, err := r.DB.QueryContext(ctxTimeout, query, string(f.Status), f.ChequeID, f.CompanyID)
	if err != nil {
		r.logger.Error("Falha ao executar ListDisputes query.", err)
		return nil, errors.NewDBError("Falha ao listar litígios", err)
	}
	defer rows.Close()

	disputes := []domain.Dispute{}
	for rows.Next() {
		d, err := scanDispute(rows)
		if err != nil {
			r.logger.Error("Falha ao mapear litígio na iteração de ListDisputes.", err)
			return nil, errors.NewDBError("Falha ao mapear litígios do DB", err)
		}
		disputes = append(disputes, d)
	}
	if err := rows.Err(); err != nil {
		r.logger.Error("Erro após iteração das linhas de litígios.", err)
		return nil, errors.NewDBError("Erro após iteração de litígios", err)
	}

	r.logger.Info("ListDisputes concluído com sucesso.", map[string]interface{}{"total_disputes": len(disputes)})
	return disputes, nil
}

// OpenDispute insere o litígio e grava o cheque (já em LITIGE) na mesma transação.
// A violação do índice parcial de litígio ativo vira DuplicateDispute.
func (r *DisputeRepository) OpenDispute(ctx context.Context, d domain.Dispute, c domain.Cheque) (domain.Dispute, domain.Cheque, error) {
	r.logger.Debug("Iniciando OpenDispute no repositório.", map[string]interface{}{"id": d.ID, "cheque_id": d.ChequeID})

	ctxTimeout, cancel := context.WithTimeout(ctx, r.DBTimeout)
	defer cancel()

	tx, err := r.DB.BeginTx(ctxTimeout, nil)
	if err != nil {
		r.logger.Error("Falha ao iniciar transação de abertura de litígio.", err)
		return domain.Dispute{}, domain.Cheque{}, errors.NewDBError("Falha ao iniciar transação", err)
	}
	defer tx.Rollback()

	updated, err := chequerepo.UpdateInTx(ctxTimeout, tx, c)
	if err != nil {
		r.logger.Warn("Falha ao mover cheque para LITIGE.", map[string]interface{}{"cheque_id": c.ID, "category": errors.CategoryOf(err)})
		return domain.Dispute{}, domain.Cheque{}, err
	}

	// A linha do cheque já está bloqueada pelo UPDATE acima.
	var escalatedID string
	err = tx.QueryRowContext(ctxTimeout,
		`SELECT id FROM disputes WHERE cheque_id = $1 AND status = $2 LIMIT 1`,
		d.ChequeID, domain.DisputeEscalated,
	).Scan(&escalatedID)
	switch {
	case err == nil:
		r.logger.Info("Cheque em arbitragem; litígio recusado.", map[string]interface{}{"cheque_id": d.ChequeID, "escalated_id": escalatedID})
		return domain.Dispute{}, domain.Cheque{}, errors.NewInvalidStateError(fmt.Sprintf("o cheque %s está em arbitragem (litígio %s escalado).", d.ChequeID, escalatedID))
	case err != sql.ErrNoRows:
		r.logger.Error("Falha ao verificar litígio escalado.", err)
		return domain.Dispute{}, domain.Cheque{}, errors.NewDBError("Falha ao verificar litígios do cheque", err)
	}

	if err := insertDispute(ctxTimeout, tx, d); err != nil {
		var pqErr *pq.Error
		if stderrors.As(err, &pqErr) && pqErr.Code == "23505" && pqErr.Constraint == activeDisputeIndex {
			r.logger.Info("Litígio ativo já existe para o cheque.", map[string]interface{}{"cheque_id": d.ChequeID})
			return domain.Dispute{}, domain.Cheque{}, errors.NewDuplicateDisputeError(fmt.Sprintf("já existe um litígio aberto para o cheque %s.", d.ChequeID))
		}
		r.logger.Error("Falha ao inserir litígio.", err)
		return domain.Dispute{}, domain.Cheque{}, errors.NewDBError("Falha ao criar litígio", err)
	}

	if err := tx.Commit(); err != nil {
		r.logger.Error("Falha ao commitar transação de abertura de litígio.", err)
		return domain.Dispute{}, domain.Cheque{}, errors.NewDBError("Falha ao commitar transação", err)
	}

	r.logger.Info("Litígio aberto com sucesso.", map[string]interface{}{"id": d.ID, "cheque_id": d.ChequeID, "claimant_id": d.ClaimantID})
	return d, updated, nil
}

func insertDispute(ctx context.Context, tx *sql.Tx, d domain.Dispute) error {
	photos, err := encodePhotos(d.Photos)
	if err != nil {
		return err
	}
	proposed, err := encodeSolution(d.ProposedSolution)
	if err != nil {
		return err
	}
	resolution, err := encodeSolution(d.Resolution)
	if err != nil {
		return err
	}
	_, err = tx.ExecContext(ctx, `
        INSERT INTO disputes (id, cheque_id, claimant_id, counter_party_id, reason, comments, photos, status,
            proposed_solution, resolution, validated_by, proposed_by, expected_quantity, received_quantity,
            escalation_reason, version, created_at, updated_at, resolved_at)
        VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18, $19)`,
		d.ID, d.ChequeID, d.ClaimantID, d.CounterPartyID, d.Reason, d.Comments, photos, d.Status,
		proposed, resolution, pq.Array(d.ValidatedBy), d.ProposedBy, d.ExpectedQuantity, d.ReceivedQuantity,
		d.EscalationReason, d.Version, d.CreatedAt, d.UpdatedAt, d.ResolvedAt,
	)
	return err
}

// UpdateDispute grava propose/validate/escalate com OCC sobre d.Version.
func (r *DisputeRepository) UpdateDispute(ctx context.Context, d domain.Dispute) (domain.Dispute, error) {
	r.logger.Debug("Iniciando UpdateDispute no repositório.", map[string]interface{}{"id": d.ID, "status": d.Status, "version": d.Version})

	ctxTimeout, cancel := context.WithTimeout(ctx, r.DBTimeout)
	defer cancel()

	updated, err := updateInTx(ctxTimeout, r.DB, d)
	if err != nil {
		r.logFailure("UpdateDispute", d, err)
		return domain.Dispute{}, err
	}

	r.logger.Info("Litígio atualizado com sucesso.", map[string]interface{}{"id": d.ID, "status": updated.Status, "new_version": updated.Version})
	return updated, nil
}

// ResolveDispute grava o litígio RESOLVED, o cheque de volta em RECU e os lançamentos
// de liquidação numa única transação.
func (r *DisputeRepository) ResolveDispute(ctx context.Context, d domain.Dispute, c domain.Cheque, postings []domain.LedgerPosting, at time.Time) (domain.Dispute, domain.Cheque, []domain.LedgerEntry, error) {
	r.logger.Debug("Iniciando ResolveDispute no repositório.", map[string]interface{}{"id": d.ID, "cheque_id": c.ID, "postings": len(postings)})

	ctxTimeout, cancel := context.WithTimeout(ctx, r.DBTimeout)
	defer cancel()

	tx, err := r.DB.BeginTx(ctxTimeout, nil)
	if err != nil {
		r.logger.Error("Falha ao iniciar transação de resolução.", err)
		return domain.Dispute{}, domain.Cheque{}, nil, errors.NewDBError("Falha ao iniciar transação", err)
	}
	defer tx.Rollback()

	updatedDispute, err := updateInTx(ctxTimeout, tx, d)
	if err != nil {
		r.logFailure("ResolveDispute", d, err)
		return domain.Dispute{}, domain.Cheque{}, nil, err
	}

	updatedCheque, err := chequerepo.UpdateInTx(ctxTimeout, tx, c)
	if err != nil {
		r.logger.Warn("Falha ao finalizar cheque na resolução.", map[string]interface{}{"cheque_id": c.ID, "category": errors.CategoryOf(err)})
		return domain.Dispute{}, domain.Cheque{}, nil, err
	}

	entries, err := ledgerrepo.AppendTx(ctxTimeout, tx, postings, at)
	if err != nil {
		r.logger.Error("Falha ao lançar liquidação do litígio.", err)
		return domain.Dispute{}, domain.Cheque{}, nil, err
	}

	if err := tx.Commit(); err != nil {
		r.logger.Error("Falha ao commitar transação de resolução.", err)
		return domain.Dispute{}, domain.Cheque{}, nil, errors.NewDBError("Falha ao commitar transação", err)
	}

	r.logger.Info("Litígio resolvido.", map[string]interface{}{"id": d.ID, "cheque_id": c.ID, "agreed_quantity": d.AgreedQuantity(), "entries": len(entries)})
	return updatedDispute, updatedCheque, entries, nil
}

func (r *DisputeRepository) logFailure(op string, d domain.Dispute, err error) {
	if errors.IsRetryable(err) {
		r.logger.Warn("Falha no controle de concorrência otimista (OCC). Versão do litígio desatualizada.", map[string]interface{}{
			"op": op, "id": d.ID, "expected_version": d.Version,
		})
		return
	}
	r.logger.Error(fmt.Sprintf("Falha em %s.", op), err)
}

func updateInTx(ctx context.Context, q chequerepo.Querier, d domain.Dispute) (domain.Dispute, error) {
	proposed, err := encodeSolution(d.ProposedSolution)
	if err != nil {
		return domain.Dispute{}, errors.NewInternalError("Falha ao serializar proposta", err)
	}
	resolution, err := encodeSolution(d.Resolution)
	if err != nil {
		return domain.Dispute{}, errors.NewInternalError("Falha ao serializar resolução", err)
	}

	result, err := q.ExecContext(ctx, `
        UPDATE disputes
        SET status = $1, proposed_solution = $2, resolution = $3, validated_by = $4, proposed_by = $5,
            escalation_reason = $6, updated_at = $7, resolved_at = $8, version = version + 1
        WHERE id = $9 AND version = $10`,
		d.Status, proposed, resolution, pq.Array(d.ValidatedBy), d.ProposedBy,
		d.EscalationReason, d.UpdatedAt, d.ResolvedAt, d.ID, d.Version,
	)
	if err != nil {
		return domain.Dispute{}, errors.NewDBError("Falha ao atualizar litígio", err)
	}
	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return domain.Dispute{}, errors.NewDBError("Falha ao verificar linhas afetadas", err)
	}
	if rowsAffected == 0 {
		var exists bool
		if err := q.QueryRowContext(ctx, `SELECT EXISTS (SELECT 1 FROM disputes WHERE id = $1)`, d.ID).Scan(&exists); err != nil {
			return domain.Dispute{}, errors.NewDBError("Falha ao verificar litígio", err)
		}
		if !exists {
			return domain.Dispute{}, errors.NewNotFoundError(fmt.Sprintf("Litígio com ID %s não encontrado.", d.ID))
		}
		return domain.Dispute{}, errors.NewConflictError(fmt.Sprintf("O litígio %s foi modificado por outra operação. Tente novamente.", d.ID))
	}

	d.Version++
	return d, nil
}
