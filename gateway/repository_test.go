package gateway

import (
	"context"
	"testing"
	"time"

	"github.com/edutech/uspgateway/gateway/models"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
)

func memTransaction(createdAt time.Time) *models.Transaction {
	return &models.Transaction{
		ID:               uuid.NewString(),
		TransactionID:    models.NewTransactionID(createdAt),
		Amount:           decimal.RequireFromString("42.00"),
		Currency:         "USD",
		ReferenceDoctype: "Payment Request",
		ReferenceDocname: "PR-7",
		Customer:         "CUST-7",
		Status:           models.StatusPending,
		CreatedAt:        createdAt,
		UpdatedAt:        createdAt,
	}
}

func TestRepositoryCreateGet(t *testing.T) {
	repo := NewRepository()
	ctx := context.Background()

	txn := memTransaction(time.Now())
	require.NoError(t, repo.CreateTransaction(ctx, txn))

	got, err := repo.GetTransaction(ctx, txn.ID)
	require.NoError(t, err)
	require.Equal(t, txn.TransactionID, got.TransactionID)
	require.True(t, got.Amount.Equal(txn.Amount))

	got, err = repo.GetByTransactionID(ctx, txn.TransactionID)
	require.NoError(t, err)
	require.Equal(t, txn.ID, got.ID)

	_, err = repo.GetTransaction(ctx, "no-such-id")
	require.ErrorIs(t, err, models.ErrNotFound)
}

func TestRepositoryCreateConflict(t *testing.T) {
	repo := NewRepository()
	ctx := context.Background()

	txn := memTransaction(time.Now())
	require.NoError(t, repo.CreateTransaction(ctx, txn))

	err := repo.CreateTransaction(ctx, txn)
	require.ErrorIs(t, err, ErrConflict)

	other := memTransaction(time.Now())
	other.TransactionID = txn.TransactionID
	err = repo.CreateTransaction(ctx, other)
	require.ErrorIs(t, err, ErrConflict)
}

func TestRepositoryUpdateReindexesGatewayID(t *testing.T) {
	repo := NewRepository()
	ctx := context.Background()

	txn := memTransaction(time.Now())
	require.NoError(t, repo.CreateTransaction(ctx, txn))
	oldID := txn.TransactionID

	// The gateway assigned its own id on the sale response.
	txn.TransactionID = "USP-99-REMOTE"
	require.NoError(t, repo.UpdateTransaction(ctx, txn))

	got, err := repo.GetByTransactionID(ctx, "USP-99-REMOTE")
	require.NoError(t, err)
	require.Equal(t, txn.ID, got.ID)

	_, err = repo.GetByTransactionID(ctx, oldID)
	require.ErrorIs(t, err, models.ErrNotFound)
}

func TestRepositoryUpdateUnknown(t *testing.T) {
	repo := NewRepository()
	err := repo.UpdateTransaction(context.Background(), memTransaction(time.Now()))
	require.ErrorIs(t, err, models.ErrNotFound)
}

func TestRepositoryListStalePending(t *testing.T) {
	repo := NewRepository()
	ctx := context.Background()
	now := time.Now()

	stale := memTransaction(now.Add(-time.Hour))
	require.NoError(t, repo.CreateTransaction(ctx, stale))

	fresh := memTransaction(now)
	require.NoError(t, repo.CreateTransaction(ctx, fresh))

	failedOld := memTransaction(now.Add(-time.Hour))
	failedOld.Status = models.StatusFailed
	require.NoError(t, repo.CreateTransaction(ctx, failedOld))

	got, err := repo.ListStalePending(ctx, now.Add(-10*time.Minute), 50)
	require.NoError(t, err)
	require.Len(t, got, 1)
	require.Equal(t, stale.ID, got[0].ID)
}

func TestRepositoryListByCustomer(t *testing.T) {
	repo := NewRepository()
	ctx := context.Background()

	mine := memTransaction(time.Now())
	require.NoError(t, repo.CreateTransaction(ctx, mine))

	theirs := memTransaction(time.Now())
	theirs.Customer = "CUST-OTHER"
	require.NoError(t, repo.CreateTransaction(ctx, theirs))

	got, err := repo.ListByCustomer(ctx, "CUST-7")
	require.NoError(t, err)
	require.Len(t, got, 1)
	require.Equal(t, mine.ID, got[0].ID)
}

func TestRepositoryAudit(t *testing.T) {
	repo := NewRepository()
	ctx := context.Background()

	for _, event := range []string{"payment_submitted", "sale_approved", "settled"} {
		require.NoError(t, repo.AppendAudit(ctx, models.AuditEntry{
			ID:            uuid.NewString(),
			TransactionID: "USP-1-AAAAAA",
			EventType:     event,
			CreatedAt:     time.Now(),
		}))
	}
	require.NoError(t, repo.AppendAudit(ctx, models.AuditEntry{
		ID:            uuid.NewString(),
		TransactionID: "USP-2-BBBBBB",
		EventType:     "payment_submitted",
		CreatedAt:     time.Now(),
	}))

	entries, err := repo.ListAudit(ctx, "USP-1-AAAAAA")
	require.NoError(t, err)
	require.Len(t, entries, 3)
	require.Equal(t, "payment_submitted", entries[0].EventType)
	require.Equal(t, "settled", entries[2].EventType)
}
