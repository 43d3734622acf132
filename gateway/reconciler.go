package gateway

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/edutech/uspgateway/gateway/models"
	"golang.org/x/exp/slog"
)

// Reconciler brings local records back in line with the gateway: it applies
// signed webhook notifications, polls stale Pending transactions, and purges
// aged-out failures. Sweep and purge run on tickers owned by Run.
type Reconciler struct {
	service       *Service
	logger        *slog.Logger
	webhookSecret string
	notify        func(txn *models.Transaction)

	staleAfter    time.Duration
	sweepEvery    time.Duration
	retention     time.Duration
	purgeEvery    time.Duration
	sweepBatchMax int

	now func() time.Time
}

type ReconcilerOptions struct {
	WebhookSecret string
	StaleAfter    time.Duration // Pending older than this gets polled
	SweepEvery    time.Duration
	Retention     time.Duration // Failed/Cancelled older than this get purged
	PurgeEvery    time.Duration
	// Notify is called after a webhook-driven status change. Optional.
	Notify func(txn *models.Transaction)
}

func NewReconciler(service *Service, logger *slog.Logger, opts ReconcilerOptions) *Reconciler {
	if opts.StaleAfter == 0 {
		opts.StaleAfter = 10 * time.Minute
	}
	if opts.SweepEvery == 0 {
		opts.SweepEvery = time.Hour
	}
	if opts.Retention == 0 {
		opts.Retention = 90 * 24 * time.Hour
	}
	if opts.PurgeEvery == 0 {
		opts.PurgeEvery = 24 * time.Hour
	}
	return &Reconciler{
		service:       service,
		logger:        logger,
		webhookSecret: opts.WebhookSecret,
		notify:        opts.Notify,
		staleAfter:    opts.StaleAfter,
		sweepEvery:    opts.SweepEvery,
		retention:     opts.Retention,
		purgeEvery:    opts.PurgeEvery,
		sweepBatchMax: 100,
		now:           time.Now,
	}
}

// WebhookSignature computes the signature for a decoded webhook payload:
// hex HMAC-SHA256 over the payload's key=value pairs sorted by key and joined
// with '&', the signature field itself excluded.
func WebhookSignature(payload map[string]string, secret string) string {
	keys := make([]string, 0, len(payload))
	for k := range payload {
		if k == "signature" {
			continue
		}
		keys = append(keys, k)
	}
	sort.Strings(keys)
	pairs := make([]string, 0, len(keys))
	for _, k := range keys {
		pairs = append(pairs, k+"="+payload[k])
	}
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write([]byte(strings.Join(pairs, "&")))
	return hex.EncodeToString(mac.Sum(nil))
}

// HandleWebhook verifies and applies one gateway notification. The raw body
// is persisted on the transaction for audit. Re-delivery of an already
// applied status is acknowledged without side effects.
func (r *Reconciler) HandleWebhook(ctx context.Context, body []byte) (*models.Transaction, error) {
	var payload map[string]string
	if err := json.Unmarshal(body, &payload); err != nil {
		return nil, fmt.Errorf("decode webhook: %w", models.ErrValidation)
	}
	sig := payload["signature"]
	if sig == "" || !hmac.Equal([]byte(sig), []byte(WebhookSignature(payload, r.webhookSecret))) {
		r.logger.Warn("webhook signature rejected", "transaction_id", payload["transaction_id"])
		return nil, models.ErrSignature
	}

	transactionID := payload["transaction_id"]
	if transactionID == "" {
		return nil, fmt.Errorf("webhook missing transaction_id: %w", models.ErrValidation)
	}
	next := models.Status(payload["status"])
	if !models.ValidStatus(next) {
		return nil, fmt.Errorf("webhook status %q: %w", payload["status"], models.ErrValidation)
	}

	txn, err := r.service.repo.GetByTransactionID(ctx, transactionID)
	if err != nil {
		return nil, err
	}
	if txn.Status == next {
		r.logger.Info("webhook replay ignored", "transaction_id", transactionID, "status", string(next))
		return txn, nil
	}

	txn.WebhookData = string(body)
	txn.ApplyStatus(next, r.now())
	if err := r.service.repo.UpdateTransaction(ctx, txn); err != nil {
		return nil, err
	}
	r.service.audit(ctx, txn.ID, "webhook_applied", "status="+string(next))
	r.logger.Info("webhook applied", "transaction_id", transactionID, "status", string(next))

	if next == models.StatusCompleted {
		if err := r.service.Settle(ctx, txn); err != nil {
			r.logger.Error("settlement failed", "transaction_id", transactionID, "error", err)
		}
	}
	if r.notify != nil {
		r.notify(txn)
	}
	return txn, nil
}

// SweepStale polls the gateway for Pending transactions older than the stale
// threshold and applies any status the gateway reports. Returns the count of
// records updated.
func (r *Reconciler) SweepStale(ctx context.Context) (int, error) {
	cutoff := r.now().Add(-r.staleAfter)
	stale, err := r.service.repo.ListStalePending(ctx, cutoff, r.sweepBatchMax)
	if err != nil {
		return 0, err
	}
	updated := 0
	for _, txn := range stale {
		res := r.service.client.TransactionStatus(ctx, txn.TransactionID)
		if !res.IsSuccess {
			r.logger.Warn("stale status lookup failed",
				"transaction_id", txn.TransactionID, "code", res.ResponseCode)
			continue
		}
		next := models.Status(res.Status)
		if !models.ValidStatus(next) || next == txn.Status {
			continue
		}
		txn.ResponseData = res.Raw
		txn.ApplyStatus(next, r.now())
		if err := r.service.repo.UpdateTransaction(ctx, txn); err != nil {
			r.logger.Error("stale update failed", "transaction_id", txn.TransactionID, "error", err)
			continue
		}
		r.service.audit(ctx, txn.ID, "sweep_applied", "status="+string(next))
		if next == models.StatusCompleted {
			if err := r.service.Settle(ctx, txn); err != nil {
				r.logger.Error("settlement failed", "transaction_id", txn.TransactionID, "error", err)
			}
		}
		updated++
	}
	if updated > 0 {
		r.logger.Info("stale sweep applied updates", "count", updated)
	}
	return updated, nil
}

// Purge deletes Failed and Cancelled records past retention.
func (r *Reconciler) Purge(ctx context.Context) (int, error) {
	cutoff := r.now().Add(-r.retention)
	n, err := r.service.repo.PurgeTerminalFailures(ctx, cutoff)
	if err != nil {
		return 0, err
	}
	if n > 0 {
		r.logger.Info("purged aged-out failures", "count", n)
	}
	return n, nil
}

// Run drives the sweep and purge tickers until ctx is cancelled.
func (r *Reconciler) Run(ctx context.Context) {
	sweep := time.NewTicker(r.sweepEvery)
	purge := time.NewTicker(r.purgeEvery)
	defer sweep.Stop()
	defer purge.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-sweep.C:
			if _, err := r.SweepStale(ctx); err != nil {
				r.logger.Error("stale sweep failed", "error", err)
			}
		case <-purge.C:
			if _, err := r.Purge(ctx); err != nil {
				r.logger.Error("retention purge failed", "error", err)
			}
		}
	}
}
