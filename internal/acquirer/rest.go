package acquirer

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/edutech/uspgateway/internal/credentials"
	"github.com/shopspring/decimal"
	"golang.org/x/exp/slog"
)

// Base URLs for the legacy REST dialect.
const (
	RESTSandboxURL    = "https://sandbox-api.xpresspago.com/v1"
	RESTProductionURL = "https://api.xpresspago.com/v1"
)

// RESTClient speaks the legacy signed-JSON dialect: every request body is
// canonical JSON (sorted keys) and carries an X-Signature header with the hex
// HMAC-SHA256 of the body keyed by the merchant secret.
type RESTClient struct {
	base    string
	creds   credentials.Credentials
	culture string
	http    *http.Client
	logger  *slog.Logger
}

// NewRESTClient builds a client for the given environment. A nil hc gets a
// default client; per-call deadlines still apply on top.
func NewRESTClient(environment string, creds credentials.Credentials, logger *slog.Logger, hc *http.Client) *RESTClient {
	base := RESTSandboxURL
	if environment == "PRODUCTION" {
		base = RESTProductionURL
	}
	if hc == nil {
		hc = &http.Client{Timeout: SaleTimeout}
	}
	return &RESTClient{
		base:    strings.TrimRight(base, "/"),
		creds:   creds,
		culture: "es",
		http:    hc,
		logger:  logger.With(slog.String("component", "acquirer"), slog.String("dialect", "rest")),
	}
}

// SetBaseURL overrides the dialect base URL. Used by tests and on-prem
// gateway installs.
func (c *RESTClient) SetBaseURL(base string) {
	c.base = strings.TrimRight(base, "/")
}

// SetCulture overrides the X-Culture header value, default "es".
func (c *RESTClient) SetCulture(culture string) {
	if culture != "" {
		c.culture = culture
	}
}

// sign computes the hex HMAC-SHA256 of the canonical body.
func (c *RESTClient) sign(body []byte) string {
	mac := hmac.New(sha256.New, []byte(c.creds.SecretKey))
	mac.Write(body)
	return hex.EncodeToString(mac.Sum(nil))
}

// canonicalJSON marshals payload with deterministically ordered keys.
// Payloads are built as maps, which encoding/json serializes sorted.
func canonicalJSON(payload map[string]any) ([]byte, error) {
	return json.Marshal(payload)
}

type restCard struct {
	Token           string `json:"Token"`
	Number          string `json:"Number"`
	Brand           string `json:"Brand"`
	ExpirationMonth int    `json:"ExpirationMonth"`
	ExpirationYear  int    `json:"ExpirationYear"`
	Status          string `json:"Status"`
}

type restCustomerData struct {
	CustomerToken string     `json:"CustomerToken"`
	CreditCards   []restCard `json:"CreditCards"`
}

type restEnvelope struct {
	IsSuccess       bool              `json:"IsSuccess"`
	ResponseCode    string            `json:"ResponseCode"`
	ResponseMessage string            `json:"ResponseMessage"`
	TransactionID   string            `json:"TransactionId"`
	Status          string            `json:"Status"`
	Amount          json.Number       `json:"Amount"`
	PingResult      string            `json:"PingResult"`
	WidgetHTML      string            `json:"WidgetHTML"`
	AccountToken    string            `json:"AccountToken"`
	CardNumber      string            `json:"CardNumber"`
	CardHolderName  string            `json:"CardHolderName"`
	ExpirationDate  string            `json:"ExpirationDate"`
	CustomerToken   string            `json:"CustomerToken"`
	CreditCards     []restCard        `json:"CreditCards"`
	Data            *restCustomerData `json:"Data"`
	Transactions    []restTransaction `json:"Transactions"`
}

type restTransaction struct {
	TransactionID string      `json:"TransactionId"`
	Status        string      `json:"Status"`
	Amount        json.Number `json:"Amount"`
}

// do executes one signed request and decodes the envelope. A transport error
// is returned as err; HTTP and business outcomes both land in the envelope.
func (c *RESTClient) do(ctx context.Context, timeout time.Duration, endpoint string, payload map[string]any) (restEnvelope, string, error) {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	body, err := canonicalJSON(payload)
	if err != nil {
		return restEnvelope{}, "", fmt.Errorf("encode %s payload: %w", endpoint, err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.base+"/"+endpoint, bytes.NewReader(body))
	if err != nil {
		return restEnvelope{}, "", fmt.Errorf("build %s request: %w", endpoint, err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Merchant-ID", c.creds.MerchantID)
	req.Header.Set("X-Culture", c.culture)
	req.Header.Set("X-Signature", c.sign(body))

	resp, err := c.http.Do(req)
	if err != nil {
		return restEnvelope{}, "", fmt.Errorf("%s: %w", endpoint, err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return restEnvelope{}, "", fmt.Errorf("read %s response: %w", endpoint, err)
	}

	var env restEnvelope
	if jsonErr := json.Unmarshal(raw, &env); jsonErr != nil && resp.StatusCode/100 == 2 {
		return restEnvelope{}, string(raw), fmt.Errorf("decode %s response: %w", endpoint, jsonErr)
	}
	if resp.StatusCode/100 != 2 && env.ResponseCode == "" {
		env.IsSuccess = false
		env.ResponseCode = fmt.Sprintf("%d", resp.StatusCode)
		if env.ResponseMessage == "" {
			env.ResponseMessage = strings.TrimSpace(string(raw))
		}
	}
	return env, string(raw), nil
}

// transportFailure logs and returns the normalized "999" decline fields.
func (c *RESTClient) transportFailure(op string, err error) (string, string) {
	c.logger.Error("gateway transport failure", slog.String("op", op), slog.Any("err", err))
	return CodeTransportFailure, err.Error()
}

func (c *RESTClient) Ping(ctx context.Context) HealthResult {
	env, _, err := c.do(ctx, DiagnosticTimeout, "ping", map[string]any{})
	if err != nil {
		code, msg := c.transportFailure("ping", err)
		return HealthResult{ResponseCode: code, Message: msg}
	}
	return HealthResult{IsSuccess: env.IsSuccess, ResponseCode: env.ResponseCode, Message: env.ResponseMessage}
}

func (c *RESTClient) TokenDetails(ctx context.Context, accountRef string) TokenDetails {
	env, _, err := c.do(ctx, DiagnosticTimeout, "token/details", map[string]any{
		"AccountNumber": accountRef,
	})
	if err != nil {
		code, msg := c.transportFailure("token_details", err)
		return TokenDetails{ResponseCode: code, Message: msg}
	}
	return TokenDetails{
		IsSuccess:      env.IsSuccess,
		ResponseCode:   env.ResponseCode,
		Message:        env.ResponseMessage,
		AccountToken:   env.AccountToken,
		CardNumber:     env.CardNumber,
		CardholderName: env.CardHolderName,
		ExpirationDate: env.ExpirationDate,
	}
}

func (c *RESTClient) TokenWidget(ctx context.Context, existingToken, culture string) WidgetMarkup {
	if culture == "" {
		culture = c.culture
	}
	payload := map[string]any{"Culture": culture}
	if existingToken != "" {
		payload["AccountToken"] = existingToken
	}
	env, _, err := c.do(ctx, DiagnosticTimeout, "token/widget", payload)
	if err != nil {
		code, msg := c.transportFailure("token_widget", err)
		return WidgetMarkup{ResponseCode: code, Message: msg}
	}
	return WidgetMarkup{IsSuccess: env.IsSuccess, ResponseCode: env.ResponseCode, Message: env.ResponseMessage, HTML: env.WidgetHTML}
}

func (c *RESTClient) Sale(ctx context.Context, req SaleRequest) SaleResult {
	numeric, ok := NumericCurrencyCode(req.Currency)
	if !ok {
		return SaleResult{ResponseCode: CodeTransportFailure, Message: fmt.Sprintf("unsupported currency %s", req.Currency)}
	}
	payload := map[string]any{
		"Amount":              WireAmount(req.Amount),
		"CurrencyCode":        numeric,
		"OrderTrackingNumber": req.TrackingRef,
		"CustomerId":          req.CustomerID,
		"CustomerData": map[string]any{
			"CustomerId":  req.CustomerID,
			"CreditCards": []any{map[string]any{"Token": req.CardToken}},
		},
	}
	if req.Email != "" {
		payload["EmailAddress"] = req.Email
	}
	if req.CVV != "" {
		payload["CVV"] = req.CVV
	}
	env, raw, err := c.do(ctx, SaleTimeout, "transaction/sale", payload)
	if err != nil {
		code, msg := c.transportFailure("sale", err)
		return SaleResult{ResponseCode: code, Message: msg}
	}
	return saleFromEnvelope(env, raw)
}

func (c *RESTClient) Refund(ctx context.Context, transactionID string, amount decimal.Decimal, customerID string) SaleResult {
	env, raw, err := c.do(ctx, SaleTimeout, "transaction/refund", map[string]any{
		"Amount":        WireAmount(amount),
		"TransactionId": transactionID,
		"CustomerData":  map[string]any{"CustomerId": customerID},
	})
	if err != nil {
		code, msg := c.transportFailure("refund", err)
		return SaleResult{ResponseCode: code, Message: msg}
	}
	return saleFromEnvelope(env, raw)
}

func (c *RESTClient) TransactionStatus(ctx context.Context, transactionID string) SaleResult {
	env, raw, err := c.do(ctx, DiagnosticTimeout, "transaction/status", map[string]any{
		"TransactionId": transactionID,
	})
	if err != nil {
		code, msg := c.transportFailure("transaction_status", err)
		return SaleResult{ResponseCode: code, Message: msg}
	}
	return saleFromEnvelope(env, raw)
}

func (c *RESTClient) SearchTransactions(ctx context.Context, customerID string, from, to time.Time) TransactionList {
	env, raw, err := c.do(ctx, SaleTimeout, "transaction/search", map[string]any{
		"CustomerId": customerID,
		"BeginDate":  from.Format("2006-01-02"),
		"EndDate":    to.Format("2006-01-02"),
	})
	if err != nil {
		code, msg := c.transportFailure("transaction_search", err)
		return TransactionList{ResponseCode: code, Message: msg}
	}
	list := TransactionList{
		IsSuccess:    env.IsSuccess,
		ResponseCode: env.ResponseCode,
		Message:      env.ResponseMessage,
		Raw:          raw,
	}
	for _, t := range env.Transactions {
		list.Transactions = append(list.Transactions, SaleResult{
			IsSuccess:     env.IsSuccess,
			ResponseCode:  env.ResponseCode,
			TransactionID: t.TransactionID,
			Status:        t.Status,
			Amount:        t.Amount.String(),
		})
	}
	return list
}

func (c *RESTClient) SearchCustomer(ctx context.Context, uniqueIdentifier string) CustomerResult {
	env, raw, err := c.do(ctx, SaleTimeout, "customer/search", map[string]any{
		"UniqueIdentifier": uniqueIdentifier,
		"SearchOption":     map[string]any{"IncludeAll": true},
	})
	if err != nil {
		code, msg := c.transportFailure("customer_search", err)
		return CustomerResult{ResponseCode: code, Message: msg}
	}
	res := CustomerResult{
		IsSuccess:    env.IsSuccess,
		ResponseCode: env.ResponseCode,
		Message:      env.ResponseMessage,
		Raw:          raw,
	}
	if env.Data != nil && env.Data.CustomerToken != "" {
		res.Found = true
		res.CustomerToken = env.Data.CustomerToken
		res.Cards = cardRecords(env.Data.CreditCards)
	}
	return res
}

func (c *RESTClient) CreateCustomer(ctx context.Context, payload CustomerPayload) CustomerResult {
	env, raw, err := c.do(ctx, SaleTimeout, "customer", map[string]any{
		"UniqueIdentifier": payload.UniqueIdentifier,
		"FirstName":        payload.FirstName,
		"LastName":         payload.LastName,
		"Email":            payload.Email,
		"Phone":            payload.Phone,
		"Company":          payload.Company,
	})
	if err != nil {
		code, msg := c.transportFailure("customer_create", err)
		return CustomerResult{ResponseCode: code, Message: msg}
	}
	return CustomerResult{
		IsSuccess:     env.IsSuccess,
		ResponseCode:  env.ResponseCode,
		Message:       env.ResponseMessage,
		CustomerToken: env.CustomerToken,
		Cards:         cardRecords(env.CreditCards),
		Raw:           raw,
	}
}

func (c *RESTClient) SaveCustomerCards(ctx context.Context, customerToken string, cards []CardPayload) CustomerResult {
	wireCards := make([]any, 0, len(cards))
	for _, card := range cards {
		wireCards = append(wireCards, map[string]any{
			"CardholderName":  card.CardholderName,
			"Number":          strings.ReplaceAll(card.Number, " ", ""),
			"ExpirationMonth": card.ExpirationMonth,
			"ExpirationYear":  card.ExpirationYear,
			"CVV":             card.CVV,
			"Status":          "Active",
		})
	}
	env, raw, err := c.do(ctx, SaleTimeout, "customer", map[string]any{
		"CustomerToken": customerToken,
		"CreditCards":   wireCards,
	})
	if err != nil {
		code, msg := c.transportFailure("customer_save_cards", err)
		return CustomerResult{ResponseCode: code, Message: msg}
	}
	return CustomerResult{
		IsSuccess:     env.IsSuccess,
		ResponseCode:  env.ResponseCode,
		Message:       env.ResponseMessage,
		CustomerToken: env.CustomerToken,
		Cards:         cardRecords(env.CreditCards),
		Raw:           raw,
	}
}

func cardRecords(cards []restCard) []CardRecord {
	if len(cards) == 0 {
		return nil
	}
	out := make([]CardRecord, len(cards))
	for i, c := range cards {
		out[i] = CardRecord(c)
	}
	return out
}

func saleFromEnvelope(env restEnvelope, raw string) SaleResult {
	return SaleResult{
		IsSuccess:     env.IsSuccess,
		ResponseCode:  env.ResponseCode,
		Message:       env.ResponseMessage,
		TransactionID: env.TransactionID,
		Status:        env.Status,
		Amount:        env.Amount.String(),
		Raw:           raw,
	}
}

var _ Client = (*RESTClient)(nil)
