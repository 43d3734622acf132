package gateway

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/edutech/uspgateway/gateway/models"
	"github.com/jackc/pgconn"
	"github.com/lib/pq"
	"github.com/shopspring/decimal"
)

var ErrConflict = fmt.Errorf("conflict")

// Repository is the durable transaction store plus the structured audit log.
// Two backends: in-memory for tests/sandbox and postgres for runtime,
// selected at construction.
type Repository struct {
	mu           sync.RWMutex
	transactions map[string]*models.Transaction // keyed by local id
	byGatewayID  map[string]string              // transaction_id -> local id
	audit        []models.AuditEntry

	db *sql.DB
}

func NewRepository() *Repository {
	return &Repository{
		transactions: make(map[string]*models.Transaction),
		byGatewayID:  make(map[string]string),
	}
}

// NewPGRepository constructs a db-backed repository.
func NewPGRepository(db *sql.DB) *Repository {
	return &Repository{db: db}
}

const txnColumns = `id, transaction_id, amount, currency, reference_doctype, reference_docname,
	customer, payment_method, card_token, card_last_four, status, response_data, webhook_data,
	error_message, created_at, updated_at, processed_at, completed_at`

func (r *Repository) CreateTransaction(ctx context.Context, t *models.Transaction) error {
	if r.db == nil {
		r.mu.Lock()
		defer r.mu.Unlock()
		if _, ok := r.transactions[t.ID]; ok {
			return fmt.Errorf("transaction %s exists: %w", t.ID, ErrConflict)
		}
		if other, ok := r.byGatewayID[t.TransactionID]; ok && other != t.ID {
			return fmt.Errorf("transaction id %s exists: %w", t.TransactionID, ErrConflict)
		}
		cp := *t
		r.transactions[t.ID] = &cp
		r.byGatewayID[t.TransactionID] = t.ID
		return nil
	}
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO usp.transactions(`+txnColumns+`)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16,$17,$18)
	`, t.ID, t.TransactionID, t.Amount.String(), t.Currency, t.ReferenceDoctype, t.ReferenceDocname,
		t.Customer, t.PaymentMethod, t.CardToken, t.CardLastFour, string(t.Status), t.ResponseData,
		t.WebhookData, t.ErrorMessage, t.CreatedAt, t.UpdatedAt, t.ProcessedAt, t.CompletedAt)
	if isUniqueViolation(err) {
		return ErrConflict
	}
	return err
}

func (r *Repository) scanTransaction(row interface{ Scan(...any) error }) (*models.Transaction, error) {
	var t models.Transaction
	var amount, status string
	err := row.Scan(&t.ID, &t.TransactionID, &amount, &t.Currency, &t.ReferenceDoctype,
		&t.ReferenceDocname, &t.Customer, &t.PaymentMethod, &t.CardToken, &t.CardLastFour,
		&status, &t.ResponseData, &t.WebhookData, &t.ErrorMessage, &t.CreatedAt, &t.UpdatedAt,
		&t.ProcessedAt, &t.CompletedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, models.ErrNotFound
		}
		return nil, err
	}
	t.Status = models.Status(status)
	t.Amount, err = decimal.NewFromString(amount)
	if err != nil {
		return nil, fmt.Errorf("decode amount %q: %w", amount, err)
	}
	return &t, nil
}

func (r *Repository) GetTransaction(ctx context.Context, id string) (*models.Transaction, error) {
	if r.db == nil {
		r.mu.RLock()
		defer r.mu.RUnlock()
		t, ok := r.transactions[id]
		if !ok {
			return nil, models.ErrNotFound
		}
		cp := *t
		return &cp, nil
	}
	row := r.db.QueryRowContext(ctx, `SELECT `+txnColumns+` FROM usp.transactions WHERE id=$1`, id)
	return r.scanTransaction(row)
}

// GetByTransactionID looks a record up by its gateway-visible id, the key
// used by webhooks and the sweep.
func (r *Repository) GetByTransactionID(ctx context.Context, transactionID string) (*models.Transaction, error) {
	if r.db == nil {
		r.mu.RLock()
		defer r.mu.RUnlock()
		id, ok := r.byGatewayID[transactionID]
		if !ok {
			return nil, models.ErrNotFound
		}
		cp := *r.transactions[id]
		return &cp, nil
	}
	row := r.db.QueryRowContext(ctx, `SELECT `+txnColumns+` FROM usp.transactions WHERE transaction_id=$1`, transactionID)
	return r.scanTransaction(row)
}

// UpdateTransaction persists the full mutable slice of a record. Amount and
// creation metadata are immutable and not touched.
func (r *Repository) UpdateTransaction(ctx context.Context, t *models.Transaction) error {
	if r.db == nil {
		r.mu.Lock()
		defer r.mu.Unlock()
		old, ok := r.transactions[t.ID]
		if !ok {
			return models.ErrNotFound
		}
		if old.TransactionID != t.TransactionID {
			delete(r.byGatewayID, old.TransactionID)
			r.byGatewayID[t.TransactionID] = t.ID
		}
		cp := *t
		r.transactions[t.ID] = &cp
		return nil
	}
	res, err := r.db.ExecContext(ctx, `
		UPDATE usp.transactions
		   SET transaction_id=$2, status=$3, response_data=$4, webhook_data=$5, error_message=$6,
		       updated_at=$7, processed_at=$8, completed_at=$9
		 WHERE id=$1
	`, t.ID, t.TransactionID, string(t.Status), t.ResponseData, t.WebhookData, t.ErrorMessage,
		t.UpdatedAt, t.ProcessedAt, t.CompletedAt)
	if err != nil {
		return err
	}
	if rows, _ := res.RowsAffected(); rows == 0 {
		return models.ErrNotFound
	}
	return nil
}

// ListStalePending returns Pending transactions created before cutoff, oldest
// first, for the reconciliation sweep.
func (r *Repository) ListStalePending(ctx context.Context, cutoff time.Time, limit int) ([]*models.Transaction, error) {
	if r.db == nil {
		r.mu.RLock()
		defer r.mu.RUnlock()
		var out []*models.Transaction
		for _, t := range r.transactions {
			if t.Status == models.StatusPending && t.CreatedAt.Before(cutoff) {
				cp := *t
				out = append(out, &cp)
				if limit > 0 && len(out) >= limit {
					break
				}
			}
		}
		return out, nil
	}
	rows, err := r.db.QueryContext(ctx, `
		SELECT `+txnColumns+` FROM usp.transactions
		 WHERE status=$1 AND created_at < $2
		 ORDER BY created_at ASC
		 LIMIT $3
	`, string(models.StatusPending), cutoff, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []*models.Transaction
	for rows.Next() {
		t, err := r.scanTransaction(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, t)
	}
	return out, rows.Err()
}

// PurgeTerminalFailures permanently deletes Failed and Cancelled records
// created before cutoff. Successful and refunded records are never purged.
func (r *Repository) PurgeTerminalFailures(ctx context.Context, cutoff time.Time) (int, error) {
	if r.db == nil {
		r.mu.Lock()
		defer r.mu.Unlock()
		n := 0
		for id, t := range r.transactions {
			if (t.Status == models.StatusFailed || t.Status == models.StatusCancelled) && t.CreatedAt.Before(cutoff) {
				delete(r.byGatewayID, t.TransactionID)
				delete(r.transactions, id)
				n++
			}
		}
		return n, nil
	}
	res, err := r.db.ExecContext(ctx, `
		DELETE FROM usp.transactions
		 WHERE status IN ($1,$2) AND created_at < $3
	`, string(models.StatusFailed), string(models.StatusCancelled), cutoff)
	if err != nil {
		return 0, err
	}
	rows, _ := res.RowsAffected()
	return int(rows), nil
}

// ListByCustomer returns a customer's transactions, newest first.
func (r *Repository) ListByCustomer(ctx context.Context, customer string) ([]*models.Transaction, error) {
	if r.db == nil {
		r.mu.RLock()
		defer r.mu.RUnlock()
		var out []*models.Transaction
		for _, t := range r.transactions {
			if t.Customer == customer {
				cp := *t
				out = append(out, &cp)
			}
		}
		return out, nil
	}
	rows, err := r.db.QueryContext(ctx, `
		SELECT `+txnColumns+` FROM usp.transactions WHERE customer=$1 ORDER BY created_at DESC
	`, customer)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []*models.Transaction
	for rows.Next() {
		t, err := r.scanTransaction(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, t)
	}
	return out, rows.Err()
}

// AppendAudit appends one audit entry keyed by the local record id.
func (r *Repository) AppendAudit(ctx context.Context, entry models.AuditEntry) error {
	if r.db == nil {
		r.mu.Lock()
		defer r.mu.Unlock()
		r.audit = append(r.audit, entry)
		return nil
	}
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO usp.audit_log(id, transaction_id, event_type, detail, created_at)
		VALUES ($1,$2,$3,$4,$5)
	`, entry.ID, entry.TransactionID, entry.EventType, entry.Detail, entry.CreatedAt)
	return err
}

// ListAudit returns the audit trail for one transaction in append order.
func (r *Repository) ListAudit(ctx context.Context, transactionID string) ([]models.AuditEntry, error) {
	if r.db == nil {
		r.mu.RLock()
		defer r.mu.RUnlock()
		var out []models.AuditEntry
		for _, e := range r.audit {
			if e.TransactionID == transactionID {
				out = append(out, e)
			}
		}
		return out, nil
	}
	rows, err := r.db.QueryContext(ctx, `
		SELECT id, transaction_id, event_type, detail, created_at
		  FROM usp.audit_log WHERE transaction_id=$1 ORDER BY created_at ASC
	`, transactionID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []models.AuditEntry
	for rows.Next() {
		var e models.AuditEntry
		if err := rows.Scan(&e.ID, &e.TransactionID, &e.EventType, &e.Detail, &e.CreatedAt); err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

// Ping returns store readiness.
func (r *Repository) Ping(ctx context.Context) error {
	if r.db == nil {
		return nil
	}
	return r.db.PingContext(ctx)
}

func isUniqueViolation(err error) bool {
	var pe *pq.Error
	if errors.As(err, &pe) && pe.Code == "23505" {
		return true
	}
	var pgerr *pgconn.PgError
	if errors.As(err, &pgerr) && pgerr.Code == "23505" {
		return true
	}
	return false
}
