// Package acquirer talks to the XpressPago-style card gateway. Two protocol
// dialects exist: the legacy signed-JSON REST API and the SOAP/XML token
// service. Both implementations, plus a deterministic mock, expose the same
// Client interface and the same normalized result shapes; a business decline
// is a result, never an error. Only transport plumbing differs per dialect.
package acquirer

import (
	"context"
	"time"

	"github.com/shopspring/decimal"
)

// CodeTransportFailure is the normalized response code for timeouts and
// connection failures. Callers treat it exactly like a decline.
const CodeTransportFailure = "999"

// CodeSuccess is the gateway's success response code in both dialects.
const CodeSuccess = "00"

// Diagnostics get a short timeout; money movement gets a longer one.
const (
	DiagnosticTimeout = 10 * time.Second
	SaleTimeout       = 30 * time.Second
)

// HealthResult is the outcome of a liveness probe.
type HealthResult struct {
	IsSuccess    bool
	ResponseCode string
	Message      string
}

// TokenDetails describes a stored token looked up by opaque account
// reference. Not-found and transport failure are told apart by ResponseCode.
type TokenDetails struct {
	IsSuccess      bool
	ResponseCode   string
	Message        string
	AccountToken   string
	CardNumber     string
	CardholderName string
	ExpirationDate string
}

// WidgetMarkup carries the hosted tokenization UI fragment. The HTML is
// opaque; it is never parsed here.
type WidgetMarkup struct {
	IsSuccess    bool
	ResponseCode string
	Message      string
	HTML         string
}

// SaleRequest is a one-time charge against a stored card token.
type SaleRequest struct {
	CardToken   string
	Amount      decimal.Decimal
	Currency    string // ISO alpha code; mapped to the numeric code on the wire
	TrackingRef string // client-supplied, used for idempotent gateway-side lookup
	Email       string
	CVV         string
	CustomerID  string
}

// SaleResult is the normalized outcome of sale, refund and status lookups.
type SaleResult struct {
	IsSuccess     bool
	ResponseCode  string
	Message       string
	TransactionID string
	Status        string
	Amount        string
	Raw           string // raw response body, persisted for audit
}

// CardRecord is one card entry in a customer response.
type CardRecord struct {
	Token           string
	Number          string
	Brand           string
	ExpirationMonth int
	ExpirationYear  int
	Status          string
}

// TransactionList is the outcome of a gateway-side transaction search.
type TransactionList struct {
	IsSuccess    bool
	ResponseCode string
	Message      string
	Transactions []SaleResult
	Raw          string
}

// CustomerResult is the normalized outcome of customer search/create/save.
type CustomerResult struct {
	IsSuccess     bool
	Found         bool
	ResponseCode  string
	Message       string
	CustomerToken string
	Cards         []CardRecord
	Raw           string
}

// CustomerPayload is the creation shape built from the local profile.
type CustomerPayload struct {
	UniqueIdentifier string
	FirstName        string
	LastName         string
	Email            string
	Phone            string
	Company          string
}

// CardPayload registers a card against a customer token.
type CardPayload struct {
	CardholderName  string
	Number          string
	ExpirationMonth int
	ExpirationYear  int
	CVV             string
}

// Client is the capability interface for the acquirer. The implementation is
// selected once at construction from configuration; real and mock clients are
// never mixed mid-flow.
type Client interface {
	Ping(ctx context.Context) HealthResult
	TokenDetails(ctx context.Context, accountRef string) TokenDetails
	TokenWidget(ctx context.Context, existingToken, culture string) WidgetMarkup
	Sale(ctx context.Context, req SaleRequest) SaleResult
	Refund(ctx context.Context, transactionID string, amount decimal.Decimal, customerID string) SaleResult
	TransactionStatus(ctx context.Context, transactionID string) SaleResult
	SearchTransactions(ctx context.Context, customerID string, from, to time.Time) TransactionList
	SearchCustomer(ctx context.Context, uniqueIdentifier string) CustomerResult
	CreateCustomer(ctx context.Context, payload CustomerPayload) CustomerResult
	SaveCustomerCards(ctx context.Context, customerToken string, cards []CardPayload) CustomerResult
}

var numericCurrency = map[string]string{
	"USD": "840",
	"EUR": "978",
	"PEN": "604",
	"GBP": "826",
	"CAD": "124",
}

// NumericCurrencyCode maps an ISO alpha currency code to the gateway's
// numeric code, e.g. USD -> "840".
func NumericCurrencyCode(alpha string) (string, bool) {
	code, ok := numericCurrency[alpha]
	return code, ok
}

// WireAmount serializes an amount as a plain decimal with two fraction
// digits, no currency symbol.
func WireAmount(amount decimal.Decimal) string {
	return amount.StringFixed(2)
}
