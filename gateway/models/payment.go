package models

import "github.com/shopspring/decimal"

// CardDetails carries raw card input for the new-card flow. Never persisted;
// only the token and masked suffix survive the call.
type CardDetails struct {
	Number         string `json:"card_number"`
	CardholderName string `json:"cardholder_name"`
	ExpiryMonth    int    `json:"expiry_month"`
	ExpiryYear     int    `json:"expiry_year"`
	CVV            string `json:"cvv"`
}

// PaymentRequest is the inbound shape for submitting a payment. Either
// CardToken or Card must be set; a stored token skips tokenization.
type PaymentRequest struct {
	Amount           decimal.Decimal `json:"amount"`
	Currency         string          `json:"currency"`
	Customer         string          `json:"customer"`
	CardToken        string          `json:"card_token,omitempty"`
	Card             *CardDetails    `json:"card_data,omitempty"`
	ReferenceDoctype string          `json:"reference_doctype"`
	ReferenceDocname string          `json:"reference_docname"`
	Email            string          `json:"email,omitempty"`
}

// PaymentResult is the uniform outcome returned to the platform for every
// submission, decline or approval alike.
type PaymentResult struct {
	Success       bool   `json:"success"`
	TransactionID string `json:"transaction_id,omitempty"`
	Status        Status `json:"status,omitempty"`
	Message       string `json:"message"`
}

// CustomerToken is the ephemeral resume of a remote customer identity.
// Existing distinguishes a found record from one created by this call.
type CustomerToken struct {
	Customer string
	Token    string
	Existing bool
}

// CardToken is the remote card reference extracted from a tokenization
// response.
type CardToken struct {
	Token        string
	MaskedNumber string
	Brand        string
	ExpiryMonth  int
	ExpiryYear   int
}

// StoredCard is one saved card as listed back to the platform.
type StoredCard struct {
	Token    string `json:"token"`
	LastFour string `json:"last_four"`
	Brand    string `json:"brand"`
	Expiry   string `json:"expiry"`
}

// CardValidation is the outcome of offline card-field validation.
type CardValidation struct {
	Valid  bool     `json:"valid"`
	Errors []string `json:"errors"`
}
