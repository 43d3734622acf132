package models

import (
	"fmt"
	"math/rand"
	"time"

	"github.com/shopspring/decimal"
)

// Status is the lifecycle state of a gateway transaction.
type Status string

const (
	StatusPending           Status = "Pending"
	StatusAuthorized        Status = "Authorized"
	StatusCompleted         Status = "Completed"
	StatusFailed            Status = "Failed"
	StatusCancelled         Status = "Cancelled"
	StatusRefunded          Status = "Refunded"
	StatusPartiallyRefunded Status = "Partially Refunded"
)

// ValidStatus reports whether s belongs to the fixed status set.
func ValidStatus(s Status) bool {
	switch s {
	case StatusPending, StatusAuthorized, StatusCompleted, StatusFailed,
		StatusCancelled, StatusRefunded, StatusPartiallyRefunded:
		return true
	}
	return false
}

// Terminal reports whether no further reconciler-driven transition leaves s.
// Partially Refunded stays open because the remainder can still be refunded.
func (s Status) Terminal() bool {
	switch s {
	case StatusCompleted, StatusFailed, StatusCancelled, StatusRefunded:
		return true
	}
	return false
}

// Retryable reports whether a transaction in s may be reset to Pending.
func (s Status) Retryable() bool {
	return s == StatusFailed || s == StatusCancelled
}

// Transaction is the durable record of one payment attempt against the
// acquirer. Amount is immutable after creation; status transitions go through
// the service state machine only.
type Transaction struct {
	ID            string          `json:"id"`
	TransactionID string          `json:"transaction_id"`
	Amount        decimal.Decimal `json:"amount"`
	Currency      string          `json:"currency"`

	// Reference to the business document being paid; opaque to this module.
	ReferenceDoctype string `json:"reference_doctype"`
	ReferenceDocname string `json:"reference_docname"`

	Customer      string `json:"customer"`
	PaymentMethod string `json:"payment_method,omitempty"`
	CardToken     string `json:"card_token,omitempty"`
	CardLastFour  string `json:"card_last_four,omitempty"`

	Status       Status `json:"status"`
	ResponseData string `json:"response_data,omitempty"`
	WebhookData  string `json:"webhook_data,omitempty"`
	ErrorMessage string `json:"error_message,omitempty"`

	CreatedAt   time.Time  `json:"created_at"`
	UpdatedAt   time.Time  `json:"updated_at"`
	ProcessedAt *time.Time `json:"processed_at,omitempty"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`
}

// ApplyStatus mutates the timestamp fields for a transition into next at time
// now. Callers must have validated the transition; this only enforces the
// timestamp invariants: ProcessedAt set once on the first transition out of
// Pending, CompletedAt iff Completed.
func (t *Transaction) ApplyStatus(next Status, now time.Time) {
	if t.Status == StatusPending && next != StatusPending && t.ProcessedAt == nil {
		at := now
		t.ProcessedAt = &at
	}
	if next == StatusCompleted {
		if t.CompletedAt == nil {
			at := now
			t.CompletedAt = &at
		}
	} else {
		t.CompletedAt = nil
	}
	t.Status = next
	t.UpdatedAt = now
}

const txnIDAlphabet = "ABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789"

// NewTransactionID mints a locally unique gateway-visible id for transactions
// the acquirer has not yet identified, e.g. USP-1724999999-X4J9QZ.
func NewTransactionID(now time.Time) string {
	b := make([]byte, 6)
	for i := range b {
		b[i] = txnIDAlphabet[rand.Intn(len(txnIDAlphabet))]
	}
	return fmt.Sprintf("USP-%d-%s", now.Unix(), b)
}

// AuditEntry is one structured audit-log record. TransactionID holds the
// local record id, which is stable even when the acquirer assigns its own
// transaction number during the sale.
type AuditEntry struct {
	ID            string    `json:"id"`
	TransactionID string    `json:"transaction_id"`
	EventType     string    `json:"event_type"`
	Detail        string    `json:"detail,omitempty"`
	CreatedAt     time.Time `json:"created_at"`
}
