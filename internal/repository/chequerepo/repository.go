package chequerepo

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"paletteledger/internal/domain"
	"paletteledger/internal/errors"
	"paletteledger/internal/pkg/logger"
	"paletteledger/internal/repository/ledgerrepo"
)

// ChequeRepository persiste os cheques-palete com controle de concorrência otimista (OCC).
type ChequeRepository struct {
	DB        *sql.DB
	DBTimeout time.Duration
	logger    logger.Logger
}

// NewChequeRepository cria e retorna uma nova instância do Repositório de Cheques.
func NewChequeRepository(db *sql.DB, dbTimeout time.Duration, logger logger.Logger) *ChequeRepository {
	return &ChequeRepository{
		DB:        db,
		DBTimeout: dbTimeout,
		logger:    logger,
	}
}

// Querier é o subconjunto comum de *sql.DB e *sql.Tx usado pelas funções compartilhadas.
type Querier interface {
	ExecContext(ctx context.Context, query string, args ...interface{}) (sql.Result, error)
	QueryRowContext(ctx context.Context, query string, args ...interface{}) *sql.Row
}

const chequeColumns = `c.id, c.order_id, c.from_company_id, c.to_site_id, c.quantity, c.quantity_received,
        c.pallet_type, c.qr_code, c.crypto_signature, c.transporter_signature, c.receiver_signature,
        c.photos, c.deposit_geo, c.receipt_geo, c.status, c.created_at, c.deposited_at, c.received_at,
        c.posted_quantity, c.version`

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanCheque(row rowScanner) (domain.Cheque, error) {
	var c domain.Cheque
	var (
		quantityReceived        sql.NullInt64
		transporter, receiver   sql.NullString
		photos, depGeo, recGeo  []byte
		depositedAt, receivedAt sql.NullTime
	)
	err := row.Scan(
		&c.ID, &c.OrderID, &c.FromCompanyID, &c.ToSiteID, &c.Quantity, &quantityReceived,
		&c.PalletType, &c.QRCode, &c.CryptoSignature, &transporter, &receiver,
		&photos, &depGeo, &recGeo, &c.Status, &c.CreatedAt, &depositedAt, &receivedAt,
		&c.PostedQuantity, &c.Version,
	)
	if err != nil {
		return domain.Cheque{}, err
	}

	c.CreatedAt = c.CreatedAt.UTC()
	if quantityReceived.Valid {
		q := int(quantityReceived.Int64)
		c.QuantityReceived = &q
	}
	if transporter.Valid {
		v := transporter.String
		c.Signatures.Transporter = &v
	}
	if receiver.Valid {
		v := receiver.String
		c.Signatures.Receiver = &v
	}
	if depositedAt.Valid {
		t := depositedAt.Time.UTC()
		c.DepositedAt = &t
	}
	if receivedAt.Valid {
		t := receivedAt.Time.UTC()
		c.ReceivedAt = &t
	}
	c.Photos = []domain.Photo{}
	if len(photos) > 0 {
		if err := json.Unmarshal(photos, &c.Photos); err != nil {
			return domain.Cheque{}, fmt.Errorf("photos: %w", err)
		}
	}
	if c.Geolocations.Deposit, err = decodeGeo(depGeo); err != nil {
		return domain.Cheque{}, err
	}
	if c.Geolocations.Receipt, err = decodeGeo(recGeo); err != nil {
		return domain.Cheque{}, err
	}
	return c, nil
}

func decodeGeo(raw []byte) (*domain.Geolocation, error) {
	if len(raw) == 0 || string(raw) == "null" {
		return nil, nil
	}
	var g domain.Geolocation
	if err := json.Unmarshal(raw, &g); err != nil {
		return nil, fmt.Errorf("geolocation: %w", err)
	}
	return &g, nil
}

// encodeGeo devolve o JSON como string: o lib/pq envia []byte como bytea.
func encodeGeo(g *domain.Geolocation) (interface{}, error) {
	if g == nil {
		return nil, nil
	}
	b, err := json.Marshal(g)
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

// CreateCheque insere um cheque recém-emitido.
func (r *ChequeRepository) CreateCheque(ctx context.Context, c domain.Cheque) (domain.Cheque, error) {
	r.logger.Debug("Iniciando CreateCheque no repositório.", map[string]interface{}{"id": c.ID, "order_id": c.OrderID})

	ctxTimeout, cancel := context.WithTimeout(ctx, r.DBTimeout)
	defer cancel()

	photos, err := encodePhotos(c.Photos)
	if err != nil {
		return domain.Cheque{}, errors.NewInternalError("Falha ao serializar fotos", err)
	}

	query := `
        INSERT INTO cheques (id, order_id, from_company_id, to_site_id, quantity, pallet_type, qr_code,
            crypto_signature, photos, status, created_at, posted_quantity, version)
        VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)`

	_, err = r.DB.ExecContext(ctxTimeout, query,
		c.ID, c.OrderID, c.FromCompanyID, c.ToSiteID, c.Quantity, c.PalletType, c.QRCode,
		c.CryptoSignature, photos, c.Status, c.CreatedAt, c.PostedQuantity, c.Version,
	)
	if err != nil {
		r.logger.Error("Falha ao inserir cheque no DB.", err)
		return domain.Cheque{}, errors.NewDBError("Falha ao criar cheque", err)
	}

	r.logger.Info("Cheque criado com sucesso.", map[string]interface{}{"id": c.ID, "quantity": c.Quantity})
	return c, nil
}

// GetCheque busca um cheque pelo ID.
func (r *ChequeRepository) GetCheque(ctx context.Context, id string) (domain.Cheque, error) {
	r.logger.Debug("Iniciando GetCheque no repositório.", map[string]interface{}{"id": id})

	ctxTimeout, cancel := context.WithTimeout(ctx, r.DBTimeout)
	defer cancel()

	c, err := GetInTx(ctxTimeout, r.DB, id, false)
	if err != nil {
		if errors.IsDomainError(err) {
			r.logger.Info("Cheque não encontrado.", map[string]interface{}{"id": id})
		} else {
			r.logger.Error("Falha ao buscar cheque no DB.", err)
		}
		return domain.Cheque{}, err
	}
	return c, nil
}

// GetInTx lê um cheque usando o querier informado; forUpdate bloqueia a linha.
func GetInTx(ctx context.Context, q Querier, id string, forUpdate bool) (domain.Cheque, error) {
	query := `SELECT ` + chequeColumns + ` FROM cheques c WHERE c.id = $1`
	if forUpdate {
		query += ` FOR UPDATE`
	}
	c, err := scanCheque(q.QueryRowContext(ctx, query, id))
	if err == sql.ErrNoRows {
		return domain.Cheque{}, errors.NewNotFoundError(fmt.Sprintf("Cheque com ID %s não encontrado.", id))
	}
	if err != nil {
		return domain.Cheque{}, errors.NewDBError("Falha ao buscar cheque", err)
	}
	return c, nil
}

// ListCheques lista cheques por cursor (createdAt, id), com filtros opcionais.
// O filtro de empresa casa com a emissora ou com a dona do site de destino.
func (r *ChequeRepository) ListCheques(ctx context.Context, f domain.ChequeFilter) (domain.ChequePage, error) {
	r.logger.Debug("Iniciando ListCheques no repositório.", map[string]interface{}{"status": f.Status, "company_id": f.CompanyID, "site_id": f.SiteID, "limit": f.Limit})

	ctxTimeout, cancel := context.WithTimeout(ctx, r.DBTimeout)
	defer cancel()

	var where []string
	var args []interface{}
	arg := func(v interface{}) string {
		args = append(args, v)
		return fmt.Sprintf("$%d", len(args))
	}

	if f.Status != "" {
		where = append(where, "c.status = "+arg(string(f.Status)))
	}
	if f.SiteID != "" {
		where = append(where, "c.to_site_id = "+arg(f.SiteID))
	}
	if f.CompanyID != "" {
		p := arg(f.CompanyID)
		where = append(where, fmt.Sprintf("(c.from_company_id = %s OR s.company_id = %s)", p, p))
	}
	if f.Cursor != "" {
		cur, err := domain.DecodeChequeCursor(f.Cursor)
		if err != nil {
			return domain.ChequePage{}, err
		}
		where = append(where, fmt.Sprintf("(c.created_at, c.id) > (%s, %s)", arg(cur.CreatedAt), arg(cur.ID)))
	}

	query := `SELECT ` + chequeColumns + ` FROM cheques c JOIN sites s ON s.id = c.to_site_id`
	if len(where) > 0 {
		query += ` WHERE ` + strings.Join(where, " AND ")
	}
	query += ` ORDER BY c.created_at, c.id LIMIT ` + arg(f.Limit+1)

	rows, err := r.DB.QueryContext(ctxTimeout, query, args...)
	if err != nil {
		r.logger.Error("Falha ao executar ListCheques query.", err)
		return domain.ChequePage{}, errors.NewDBError("Falha ao listar cheques", err)
	}
	defer rows.Close()

	cheques := []domain.Cheque{}
	for rows.Next() {
		c, err := scanCheque(rows)
		if err != nil {
			r.logger.Error("Falha ao mapear cheque na iteração de ListCheques.", err)
			return domain.ChequePage{}, errors.NewDBError("Falha ao mapear cheques do DB", err)
		}
		cheques = append(cheques, c)
	}
	if err := rows.Err(); err != nil {
		r.logger.Error("Erro após iteração das linhas de cheques.", err)
		return domain.ChequePage{}, errors.NewDBError("Erro após iteração de cheques", err)
	}

	page := domain.ChequePage{Cheques: cheques}
	if len(cheques) > f.Limit {
		page.Cheques = cheques[:f.Limit]
		page.NextCursor = domain.EncodeChequeCursor(page.Cheques[f.Limit-1])
	}

	r.logger.Info("ListCheques concluído com sucesso.", map[string]interface{}{"total": len(page.Cheques), "has_more": page.NextCursor != ""})
	return page, nil
}

// UpdateCheque grava as mutações de ciclo de vida com OCC sobre c.Version.
func (r *ChequeRepository) UpdateCheque(ctx context.Context, c domain.Cheque) (domain.Cheque, error) {
	r.logger.Debug("Iniciando UpdateCheque no repositório.", map[string]interface{}{"id": c.ID, "status": c.Status, "version": c.Version})

	ctxTimeout, cancel := context.WithTimeout(ctx, r.DBTimeout)
	defer cancel()

	updated, err := UpdateInTx(ctxTimeout, r.DB, c)
	if err != nil {
		r.logAndReturn("UpdateCheque", c, err)
		return domain.Cheque{}, err
	}

	r.logger.Info("Cheque atualizado com sucesso.", map[string]interface{}{"id": c.ID, "status": updated.Status, "new_version": updated.Version})
	return updated, nil
}

// UpdateChequeWithPostings grava o cheque e os lançamentos do razão numa única transação.
func (r *ChequeRepository) UpdateChequeWithPostings(ctx context.Context, c domain.Cheque, postings []domain.LedgerPosting, at time.Time) (domain.Cheque, []domain.LedgerEntry, error) {
	r.logger.Debug("Iniciando UpdateChequeWithPostings no repositório.", map[string]interface{}{"id": c.ID, "status": c.Status, "postings": len(postings)})

	ctxTimeout, cancel := context.WithTimeout(ctx, r.DBTimeout)
	defer cancel()

	tx, err := r.DB.BeginTx(ctxTimeout, nil)
	if err != nil {
		r.logger.Error("Falha ao iniciar transação de recepção.", err)
		return domain.Cheque{}, nil, errors.NewDBError("Falha ao iniciar transação", err)
	}
	defer tx.Rollback()

	updated, err := UpdateInTx(ctxTimeout, tx, c)
	if err != nil {
		r.logAndReturn("UpdateChequeWithPostings", c, err)
		return domain.Cheque{}, nil, err
	}

	entries, err := ledgerrepo.AppendTx(ctxTimeout, tx, postings, at)
	if err != nil {
		r.logger.Error("Falha ao lançar par de conservação.", err)
		return domain.Cheque{}, nil, err
	}

	if err := tx.Commit(); err != nil {
		r.logger.Error("Falha ao commitar transação de recepção.", err)
		return domain.Cheque{}, nil, errors.NewDBError("Falha ao commitar transação", err)
	}

	r.logger.Info("Cheque e lançamentos gravados.", map[string]interface{}{"id": c.ID, "status": updated.Status, "entries": len(entries)})
	return updated, entries, nil
}

func (r *ChequeRepository) logAndReturn(op string, c domain.Cheque, err error) {
	if errors.IsRetryable(err) {
		r.logger.Warn("Falha no controle de concorrência otimista (OCC). Versão do cheque desatualizada.", map[string]interface{}{
			"op": op, "id": c.ID, "expected_version": c.Version,
		})
		return
	}
	r.logger.Error(fmt.Sprintf("Falha em %s.", op), err)
}

// UpdateInTx aplica o UPDATE com OCC usando o querier informado (DB ou transação).
// Zero linhas afetadas vira NotFound ou ConcurrentModification.
func UpdateInTx(ctx context.Context, q Querier, c domain.Cheque) (domain.Cheque, error) {
	photos, err := encodePhotos(c.Photos)
	if err != nil {
		return domain.Cheque{}, errors.NewInternalError("Falha ao serializar fotos", err)
	}
	depGeo, err := encodeGeo(c.Geolocations.Deposit)
	if err != nil {
		return domain.Cheque{}, errors.NewInternalError("Falha ao serializar geolocalização", err)
	}
	recGeo, err := encodeGeo(c.Geolocations.Receipt)
	if err != nil {
		return domain.Cheque{}, errors.NewInternalError("Falha ao serializar geolocalização", err)
	}

	query := `
        UPDATE cheques
        SET quantity_received = $1, transporter_signature = $2, receiver_signature = $3, photos = $4,
            deposit_geo = $5, receipt_geo = $6, status = $7, deposited_at = $8, received_at = $9,
            posted_quantity = $10, version = version + 1
        WHERE id = $11 AND version = $12`

	result, err := q.ExecContext(ctx, query,
		c.QuantityReceived, c.Signatures.Transporter, c.Signatures.Receiver, photos,
		depGeo, recGeo, c.Status, c.DepositedAt, c.ReceivedAt,
		c.PostedQuantity, c.ID, c.Version,
	)
	if err != nil {
		return domain.Cheque{}, errors.NewDBError("Falha ao atualizar cheque", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return domain.Cheque{}, errors.NewDBError("Falha ao verificar linhas afetadas", err)
	}
	if rowsAffected == 0 {
		var exists bool
		if err := q.QueryRowContext(ctx, `SELECT EXISTS (SELECT 1 FROM cheques WHERE id = $1)`, c.ID).Scan(&exists); err != nil {
			return domain.Cheque{}, errors.NewDBError("Falha ao verificar cheque", err)
		}
		if !exists {
			return domain.Cheque{}, errors.NewNotFoundError(fmt.Sprintf("Cheque com ID %s não encontrado.", c.ID))
		}
		return domain.Cheque{}, errors.NewConflictError(fmt.Sprintf("O cheque %s foi modificado por outra operação. Tente novamente.", c.ID))
	}

	c.Version++
	return c, nil
}

// ListPendingTransfers devolve os cheques depositados ou em litígio que envolvem a
// empresa e ainda não foram lançados no razão.
func (r *ChequeRepository) ListPendingTransfers(ctx context.Context, companyID string) ([]domain.PendingTransfer, error) {
	r.logger.Debug("Iniciando ListPendingTransfers no repositório.", map[string]interface{}{"company_id": companyID})

	ctxTimeout, cancel := context.WithTimeout(ctx, r.DBTimeout)
	defer cancel()

	query := `
        SELECT c.id, c.status, c.quantity, c.to_site_id, c.from_company_id
        FROM cheques c
        JOIN sites s ON s.id = c.to_site_id
        WHERE c.status IN ('DEPOSE', 'LITIGE') AND c.posted_quantity = 0
          AND (c.from_company_id = $1 OR s.company_id = $1)
        ORDER BY c.created_at, c.id`

	rows, err := r.DB.QueryContext(ctxTimeout, query, companyID)
	if err != nil {
		r.logger.Error("Falha ao executar ListPendingTransfers query.", err)
		return nil, errors.NewDBError("Falha ao buscar transferências pendentes", err)
	}
	defer rows.Close()

	pending := []domain.PendingTransfer{}
	for rows.Next() {
		var p domain.PendingTransfer
		var fromCompany string
		if err := rows.Scan(&p.ChequeID, &p.Status, &p.Quantity, &p.SiteID, &fromCompany); err != nil {
			r.logger.Error("Falha ao mapear transferência pendente.", err)
			return nil, errors.NewDBError("Falha ao mapear transferências pendentes", err)
		}
		p.Direction = domain.PendingIncoming
		if fromCompany == companyID {
			p.Direction = domain.PendingOutgoing
		}
		pending = append(pending, p)
	}
	if err := rows.Err(); err != nil {
		return nil, errors.NewDBError("Erro após iteração de transferências pendentes", err)
	}
	return pending, nil
}
