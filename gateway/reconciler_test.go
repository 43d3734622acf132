package gateway

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/edutech/uspgateway/gateway/models"
	"github.com/stretchr/testify/require"
	"golang.org/x/exp/slog"
)

const testWebhookSecret = "webhook-secret"

func newTestReconciler(t *testing.T) (*Reconciler, *Service) {
	t.Helper()
	svc, _, _ := newTestService(t)
	rec := NewReconciler(svc, slog.Default(), ReconcilerOptions{
		WebhookSecret: testWebhookSecret,
	})
	return rec, svc
}

func signedWebhook(t *testing.T, fields map[string]string) []byte {
	t.Helper()
	fields["signature"] = WebhookSignature(fields, testWebhookSecret)
	body, err := json.Marshal(fields)
	require.NoError(t, err)
	return body
}

// pendingTransaction persists a Pending record directly, bypassing the sale.
func pendingTransaction(t *testing.T, svc *Service, createdAt time.Time) *models.Transaction {
	t.Helper()
	txn := &models.Transaction{
		ID:               "local-" + models.NewTransactionID(createdAt),
		TransactionID:    models.NewTransactionID(createdAt),
		Amount:           paymentRequest().Amount,
		Currency:         "USD",
		ReferenceDoctype: "Payment Request",
		ReferenceDocname: "PR-0001",
		Customer:         "CUST-0001",
		Status:           models.StatusPending,
		CreatedAt:        createdAt,
		UpdatedAt:        createdAt,
	}
	require.NoError(t, svc.repo.CreateTransaction(context.Background(), txn))
	return txn
}

func TestWebhookAppliesStatus(t *testing.T) {
	rec, svc := newTestReconciler(t)
	ctx := context.Background()

	txn := pendingTransaction(t, svc, time.Now())
	body := signedWebhook(t, map[string]string{
		"transaction_id": txn.TransactionID,
		"status":         "Completed",
	})

	updated, err := rec.HandleWebhook(ctx, body)
	require.NoError(t, err)
	require.Equal(t, models.StatusCompleted, updated.Status)
	require.NotNil(t, updated.ProcessedAt)
	require.NotNil(t, updated.CompletedAt)
	require.JSONEq(t, string(body), updated.WebhookData)
}

func TestWebhookRejectsBadSignature(t *testing.T) {
	rec, svc := newTestReconciler(t)
	ctx := context.Background()

	txn := pendingTransaction(t, svc, time.Now())
	body, err := json.Marshal(map[string]string{
		"transaction_id": txn.TransactionID,
		"status":         "Completed",
		"signature":      "forged",
	})
	require.NoError(t, err)

	_, err = rec.HandleWebhook(ctx, body)
	require.ErrorIs(t, err, models.ErrSignature)

	// No side effects.
	stored, err := svc.repo.GetByTransactionID(ctx, txn.TransactionID)
	require.NoError(t, err)
	require.Equal(t, models.StatusPending, stored.Status)
	require.Empty(t, stored.WebhookData)
}

func TestWebhookRejectsMissingSignature(t *testing.T) {
	rec, svc := newTestReconciler(t)

	txn := pendingTransaction(t, svc, time.Now())
	body, err := json.Marshal(map[string]string{
		"transaction_id": txn.TransactionID,
		"status":         "Completed",
	})
	require.NoError(t, err)

	_, err = rec.HandleWebhook(context.Background(), body)
	require.ErrorIs(t, err, models.ErrSignature)
}

func TestWebhookSettlesExactlyOnce(t *testing.T) {
	svc, _, store := newTestService(t)
	rec := NewReconciler(svc, slog.Default(), ReconcilerOptions{WebhookSecret: testWebhookSecret})
	ctx := context.Background()

	txn := pendingTransaction(t, svc, time.Now())
	body := signedWebhook(t, map[string]string{
		"transaction_id": txn.TransactionID,
		"status":         "Completed",
	})

	_, err := rec.HandleWebhook(ctx, body)
	require.NoError(t, err)
	require.Equal(t, 1, store.PaidCount("Payment Request", "PR-0001"))

	// Re-delivery is acknowledged without another settlement.
	_, err = rec.HandleWebhook(ctx, body)
	require.NoError(t, err)
	require.Equal(t, 1, store.PaidCount("Payment Request", "PR-0001"))
}

func TestWebhookUnknownTransaction(t *testing.T) {
	rec, _ := newTestReconciler(t)

	body := signedWebhook(t, map[string]string{
		"transaction_id": "USP-0-NOSUCH",
		"status":         "Completed",
	})
	_, err := rec.HandleWebhook(context.Background(), body)
	require.ErrorIs(t, err, models.ErrNotFound)
}

func TestWebhookRejectsUnknownStatus(t *testing.T) {
	rec, svc := newTestReconciler(t)

	txn := pendingTransaction(t, svc, time.Now())
	body := signedWebhook(t, map[string]string{
		"transaction_id": txn.TransactionID,
		"status":         "Exploded",
	})
	_, err := rec.HandleWebhook(context.Background(), body)
	require.ErrorIs(t, err, models.ErrValidation)
}

func TestSweepStaleAppliesGatewayStatus(t *testing.T) {
	rec, svc := newTestReconciler(t)
	ctx := context.Background()

	stale := pendingTransaction(t, svc, time.Now().Add(-30*time.Minute))
	fresh := pendingTransaction(t, svc, time.Now())

	updated, err := rec.SweepStale(ctx)
	require.NoError(t, err)
	require.Equal(t, 1, updated)

	// The mock gateway reports Completed for any id.
	got, err := svc.repo.GetByTransactionID(ctx, stale.TransactionID)
	require.NoError(t, err)
	require.Equal(t, models.StatusCompleted, got.Status)

	// Fresh Pending records are left alone.
	got, err = svc.repo.GetByTransactionID(ctx, fresh.TransactionID)
	require.NoError(t, err)
	require.Equal(t, models.StatusPending, got.Status)
}

func TestPurgeRemovesOnlyAgedFailures(t *testing.T) {
	rec, svc := newTestReconciler(t)
	ctx := context.Background()

	old := time.Now().Add(-100 * 24 * time.Hour)

	failed := pendingTransaction(t, svc, old)
	failed.ApplyStatus(models.StatusFailed, old)
	require.NoError(t, svc.repo.UpdateTransaction(ctx, failed))

	completed := pendingTransaction(t, svc, old)
	completed.ApplyStatus(models.StatusCompleted, old)
	require.NoError(t, svc.repo.UpdateTransaction(ctx, completed))

	recentFailed := pendingTransaction(t, svc, time.Now())
	recentFailed.ApplyStatus(models.StatusFailed, time.Now())
	require.NoError(t, svc.repo.UpdateTransaction(ctx, recentFailed))

	n, err := rec.Purge(ctx)
	require.NoError(t, err)
	require.Equal(t, 1, n)

	_, err = svc.repo.GetByTransactionID(ctx, failed.TransactionID)
	require.ErrorIs(t, err, models.ErrNotFound)

	// Completed records are retained forever; recent failures wait their turn.
	_, err = svc.repo.GetByTransactionID(ctx, completed.TransactionID)
	require.NoError(t, err)
	_, err = svc.repo.GetByTransactionID(ctx, recentFailed.TransactionID)
	require.NoError(t, err)
}

func TestWebhookNotifyHook(t *testing.T) {
	svc, _, _ := newTestService(t)
	var notified []*models.Transaction
	rec := NewReconciler(svc, slog.Default(), ReconcilerOptions{
		WebhookSecret: testWebhookSecret,
		Notify:        func(txn *models.Transaction) { notified = append(notified, txn) },
	})
	ctx := context.Background()

	txn := pendingTransaction(t, svc, time.Now())
	body := signedWebhook(t, map[string]string{
		"transaction_id": txn.TransactionID,
		"status":         "Failed",
	})

	_, err := rec.HandleWebhook(ctx, body)
	require.NoError(t, err)
	require.Len(t, notified, 1)
	require.Equal(t, models.StatusFailed, notified[0].Status)

	// A replay of the same status does not notify again.
	_, err = rec.HandleWebhook(ctx, body)
	require.NoError(t, err)
	require.Len(t, notified, 1)
}
