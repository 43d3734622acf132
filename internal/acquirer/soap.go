package acquirer

import (
	"bytes"
	"context"
	"encoding/xml"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/edutech/uspgateway/internal/credentials"
	"github.com/shopspring/decimal"
	"golang.org/x/exp/slog"
)

// Endpoints for the SOAP/XML token-service dialect.
const (
	SOAPSandboxURL    = "https://sandbox-token.xpresspago.com/TokenService.svc"
	SOAPProductionURL = "https://token.xpresspago.com/TokenService.svc"
)

// SOAPClient speaks the token-service dialect. Authentication travels in the
// envelope header (API key, access code, merchant account, terminal name);
// every operation reports an operation-specific response code, "00" meaning
// success.
type SOAPClient struct {
	endpoint string
	creds    credentials.Credentials
	culture  string
	http     *http.Client
	logger   *slog.Logger
}

func NewSOAPClient(environment string, creds credentials.Credentials, logger *slog.Logger, hc *http.Client) *SOAPClient {
	endpoint := SOAPSandboxURL
	if environment == "PRODUCTION" {
		endpoint = SOAPProductionURL
	}
	if hc == nil {
		hc = &http.Client{Timeout: SaleTimeout}
	}
	return &SOAPClient{
		endpoint: endpoint,
		creds:    creds,
		culture:  "es",
		http:     hc,
		logger:   logger.With(slog.String("component", "acquirer"), slog.String("dialect", "soap")),
	}
}

// SetEndpoint overrides the service endpoint. Used by tests.
func (c *SOAPClient) SetEndpoint(endpoint string) {
	c.endpoint = endpoint
}

// SetCulture overrides the default widget culture, default "es".
func (c *SOAPClient) SetCulture(culture string) {
	if culture != "" {
		c.culture = culture
	}
}

type soapAuth struct {
	APIKey                string `xml:"APIKey"`
	AccessCode            string `xml:"AccessCode"`
	MerchantAccountNumber string `xml:"MerchantAccountNumber"`
	TerminalName          string `xml:"TerminalName"`
}

type soapHeader struct {
	Authentication soapAuth `xml:"Authentication"`
}

func (c *SOAPClient) header() soapHeader {
	return soapHeader{Authentication: soapAuth{
		APIKey:                c.creds.APIKey,
		AccessCode:            c.creds.AccessCode,
		MerchantAccountNumber: c.creds.MerchantAccountNumber,
		TerminalName:          c.creds.TerminalName,
	}}
}

// call posts one envelope and decodes the response into out. Transport
// failures come back as err and are normalized by the operation wrappers.
func (c *SOAPClient) call(ctx context.Context, timeout time.Duration, action string, envelope, out any) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	body, err := xml.Marshal(envelope)
	if err != nil {
		return "", fmt.Errorf("encode %s envelope: %w", action, err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, bytes.NewReader(append([]byte(xml.Header), body...)))
	if err != nil {
		return "", fmt.Errorf("build %s request: %w", action, err)
	}
	req.Header.Set("Content-Type", "text/xml; charset=utf-8")
	req.Header.Set("SOAPAction", action)

	resp, err := c.http.Do(req)
	if err != nil {
		return "", fmt.Errorf("%s: %w", action, err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fmt.Errorf("read %s response: %w", action, err)
	}
	if resp.StatusCode/100 != 2 {
		return string(raw), fmt.Errorf("%s status=%d body=%s", action, resp.StatusCode, strings.TrimSpace(string(raw)))
	}
	if err := xml.Unmarshal(raw, out); err != nil {
		return string(raw), fmt.Errorf("decode %s response: %w", action, err)
	}
	return string(raw), nil
}

func (c *SOAPClient) transportFailure(op string, err error) (string, string) {
	c.logger.Error("gateway transport failure", slog.String("op", op), slog.Any("err", err))
	return CodeTransportFailure, err.Error()
}

type soapResult struct {
	ResponseCode    string `xml:"ResponseCode"`
	ResponseMessage string `xml:"ResponseMessage"`
}

func (r soapResult) ok() bool { return r.ResponseCode == CodeSuccess }

func (c *SOAPClient) Ping(ctx context.Context) HealthResult {
	envelope := struct {
		XMLName xml.Name   `xml:"Envelope"`
		Header  soapHeader `xml:"Header"`
		Body    struct {
			Ping struct{} `xml:"Ping"`
		} `xml:"Body"`
	}{Header: c.header()}

	var out struct {
		XMLName xml.Name `xml:"Envelope"`
		Result  struct {
			soapResult
			PingResult string `xml:"PingResult"`
		} `xml:"Body>PingResponse"`
	}
	if _, err := c.call(ctx, DiagnosticTimeout, "Ping", envelope, &out); err != nil {
		code, msg := c.transportFailure("ping", err)
		return HealthResult{ResponseCode: code, Message: msg}
	}
	return HealthResult{IsSuccess: out.Result.ok(), ResponseCode: out.Result.ResponseCode, Message: out.Result.ResponseMessage}
}

func (c *SOAPClient) TokenDetails(ctx context.Context, accountRef string) TokenDetails {
	envelope := struct {
		XMLName xml.Name   `xml:"Envelope"`
		Header  soapHeader `xml:"Header"`
		Body    struct {
			GetTokenDetails struct {
				AccountNumber string `xml:"AccountNumber"`
			} `xml:"GetTokenDetails"`
		} `xml:"Body"`
	}{Header: c.header()}
	envelope.Body.GetTokenDetails.AccountNumber = accountRef

	var out struct {
		XMLName xml.Name `xml:"Envelope"`
		Result  struct {
			soapResult
			AccountToken   string `xml:"AccountToken"`
			CardNumber     string `xml:"CardNumber"`
			CardHolderName string `xml:"CardHolderName"`
			ExpirationDate string `xml:"ExpirationDate"`
		} `xml:"Body>GetTokenDetailsResponse"`
	}
	if _, err := c.call(ctx, DiagnosticTimeout, "GetTokenDetails", envelope, &out); err != nil {
		code, msg := c.transportFailure("token_details", err)
		return TokenDetails{ResponseCode: code, Message: msg}
	}
	return TokenDetails{
		IsSuccess:      out.Result.ok(),
		ResponseCode:   out.Result.ResponseCode,
		Message:        out.Result.ResponseMessage,
		AccountToken:   out.Result.AccountToken,
		CardNumber:     out.Result.CardNumber,
		CardholderName: out.Result.CardHolderName,
		ExpirationDate: out.Result.ExpirationDate,
	}
}

func (c *SOAPClient) TokenWidget(ctx context.Context, existingToken, culture string) WidgetMarkup {
	if culture == "" {
		culture = c.culture
	}
	envelope := struct {
		XMLName xml.Name   `xml:"Envelope"`
		Header  soapHeader `xml:"Header"`
		Body    struct {
			CreateTokenWidget struct {
				AccountToken string `xml:"AccountToken,omitempty"`
				Culture      string `xml:"Culture"`
			} `xml:"CreateTokenWidget"`
		} `xml:"Body"`
	}{Header: c.header()}
	envelope.Body.CreateTokenWidget.AccountToken = existingToken
	envelope.Body.CreateTokenWidget.Culture = culture

	var out struct {
		XMLName xml.Name `xml:"Envelope"`
		Result  struct {
			soapResult
			WidgetHTML string `xml:"WidgetHTML"`
		} `xml:"Body>CreateTokenWidgetResponse"`
	}
	if _, err := c.call(ctx, DiagnosticTimeout, "CreateTokenWidget", envelope, &out); err != nil {
		code, msg := c.transportFailure("token_widget", err)
		return WidgetMarkup{ResponseCode: code, Message: msg}
	}
	return WidgetMarkup{IsSuccess: out.Result.ok(), ResponseCode: out.Result.ResponseCode, Message: out.Result.ResponseMessage, HTML: out.Result.WidgetHTML}
}

type soapSaleResponse struct {
	soapResult
	TransactionID string `xml:"TransactionId"`
	Status        string `xml:"Status"`
	Amount        string `xml:"Amount"`
}

func saleFromSOAP(r soapSaleResponse, raw string) SaleResult {
	return SaleResult{
		IsSuccess:     r.ok(),
		ResponseCode:  r.ResponseCode,
		Message:       r.ResponseMessage,
		TransactionID: r.TransactionID,
		Status:        r.Status,
		Amount:        r.Amount,
		Raw:           raw,
	}
}

func (c *SOAPClient) Sale(ctx context.Context, req SaleRequest) SaleResult {
	numeric, ok := NumericCurrencyCode(req.Currency)
	if !ok {
		return SaleResult{ResponseCode: CodeTransportFailure, Message: fmt.Sprintf("unsupported currency %s", req.Currency)}
	}
	envelope := struct {
		XMLName xml.Name   `xml:"Envelope"`
		Header  soapHeader `xml:"Header"`
		Body    struct {
			Sale struct {
				AccountToken   string `xml:"AccountToken"`
				Amount         string `xml:"Amount"`
				CurrencyCode   string `xml:"CurrencyCode"`
				ClientTracking string `xml:"ClientTracking"`
				EmailAddress   string `xml:"EmailAddress,omitempty"`
				CVV            string `xml:"CVV,omitempty"`
			} `xml:"Sale"`
		} `xml:"Body"`
	}{Header: c.header()}
	envelope.Body.Sale.AccountToken = req.CardToken
	envelope.Body.Sale.Amount = WireAmount(req.Amount)
	envelope.Body.Sale.CurrencyCode = numeric
	envelope.Body.Sale.ClientTracking = req.TrackingRef
	envelope.Body.Sale.EmailAddress = req.Email
	envelope.Body.Sale.CVV = req.CVV

	var out struct {
		XMLName xml.Name         `xml:"Envelope"`
		Result  soapSaleResponse `xml:"Body>SaleResponse"`
	}
	raw, err := c.call(ctx, SaleTimeout, "Sale", envelope, &out)
	if err != nil {
		code, msg := c.transportFailure("sale", err)
		return SaleResult{ResponseCode: code, Message: msg}
	}
	return saleFromSOAP(out.Result, raw)
}

func (c *SOAPClient) Refund(ctx context.Context, transactionID string, amount decimal.Decimal, customerID string) SaleResult {
	envelope := struct {
		XMLName xml.Name   `xml:"Envelope"`
		Header  soapHeader `xml:"Header"`
		Body    struct {
			ProcessRefund struct {
				TransactionID string `xml:"TransactionId"`
				Amount        string `xml:"Amount"`
				CustomerID    string `xml:"CustomerId,omitempty"`
			} `xml:"ProcessRefund"`
		} `xml:"Body"`
	}{Header: c.header()}
	envelope.Body.ProcessRefund.TransactionID = transactionID
	envelope.Body.ProcessRefund.Amount = WireAmount(amount)
	envelope.Body.ProcessRefund.CustomerID = customerID

	var out struct {
		XMLName xml.Name         `xml:"Envelope"`
		Result  soapSaleResponse `xml:"Body>ProcessRefundResponse"`
	}
	raw, err := c.call(ctx, SaleTimeout, "ProcessRefund", envelope, &out)
	if err != nil {
		code, msg := c.transportFailure("refund", err)
		return SaleResult{ResponseCode: code, Message: msg}
	}
	return saleFromSOAP(out.Result, raw)
}

func (c *SOAPClient) TransactionStatus(ctx context.Context, transactionID string) SaleResult {
	envelope := struct {
		XMLName xml.Name   `xml:"Envelope"`
		Header  soapHeader `xml:"Header"`
		Body    struct {
			GetTransactionDetails struct {
				TransactionID string `xml:"TransactionId"`
			} `xml:"GetTransactionDetails"`
		} `xml:"Body"`
	}{Header: c.header()}
	envelope.Body.GetTransactionDetails.TransactionID = transactionID

	var out struct {
		XMLName xml.Name         `xml:"Envelope"`
		Result  soapSaleResponse `xml:"Body>GetTransactionDetailsResponse"`
	}
	raw, err := c.call(ctx, DiagnosticTimeout, "GetTransactionDetails", envelope, &out)
	if err != nil {
		code, msg := c.transportFailure("transaction_status", err)
		return SaleResult{ResponseCode: code, Message: msg}
	}
	return saleFromSOAP(out.Result, raw)
}

func (c *SOAPClient) SearchTransactions(ctx context.Context, customerID string, from, to time.Time) TransactionList {
	envelope := struct {
		XMLName xml.Name   `xml:"Envelope"`
		Header  soapHeader `xml:"Header"`
		Body    struct {
			SearchTransactions struct {
				CustomerID string `xml:"CustomerId"`
				BeginDate  string `xml:"BeginDate"`
				EndDate    string `xml:"EndDate"`
			} `xml:"SearchTransactions"`
		} `xml:"Body"`
	}{Header: c.header()}
	envelope.Body.SearchTransactions.CustomerID = customerID
	envelope.Body.SearchTransactions.BeginDate = from.Format("2006-01-02")
	envelope.Body.SearchTransactions.EndDate = to.Format("2006-01-02")

	var out struct {
		XMLName xml.Name `xml:"Envelope"`
		Result  struct {
			soapResult
			Transactions []soapSaleResponse `xml:"Transactions>Transaction"`
		} `xml:"Body>SearchTransactionsResponse"`
	}
	raw, err := c.call(ctx, SaleTimeout, "SearchTransactions", envelope, &out)
	if err != nil {
		code, msg := c.transportFailure("transaction_search", err)
		return TransactionList{ResponseCode: code, Message: msg}
	}
	list := TransactionList{
		IsSuccess:    out.Result.ok(),
		ResponseCode: out.Result.ResponseCode,
		Message:      out.Result.ResponseMessage,
		Raw:          raw,
	}
	for _, t := range out.Result.Transactions {
		list.Transactions = append(list.Transactions, saleFromSOAP(t, ""))
	}
	return list
}

type soapCard struct {
	Token           string `xml:"Token"`
	Number          string `xml:"Number"`
	Brand           string `xml:"Brand"`
	ExpirationMonth int    `xml:"ExpirationMonth"`
	ExpirationYear  int    `xml:"ExpirationYear"`
	Status          string `xml:"Status"`
}

type soapCustomerResponse struct {
	soapResult
	CustomerToken string     `xml:"CustomerToken"`
	CreditCards   []soapCard `xml:"CreditCards>Card"`
}

func customerFromSOAP(r soapCustomerResponse, raw string) CustomerResult {
	cards := make([]CardRecord, 0, len(r.CreditCards))
	for _, card := range r.CreditCards {
		cards = append(cards, CardRecord(card))
	}
	return CustomerResult{
		IsSuccess:     r.ok(),
		Found:         r.ok() && r.CustomerToken != "",
		ResponseCode:  r.ResponseCode,
		Message:       r.ResponseMessage,
		CustomerToken: r.CustomerToken,
		Cards:         cards,
		Raw:           raw,
	}
}

func (c *SOAPClient) SearchCustomer(ctx context.Context, uniqueIdentifier string) CustomerResult {
	envelope := struct {
		XMLName xml.Name   `xml:"Envelope"`
		Header  soapHeader `xml:"Header"`
		Body    struct {
			SearchCustomer struct {
				UniqueIdentifier string `xml:"UniqueIdentifier"`
				IncludeAll       bool   `xml:"IncludeAll"`
			} `xml:"SearchCustomer"`
		} `xml:"Body"`
	}{Header: c.header()}
	envelope.Body.SearchCustomer.UniqueIdentifier = uniqueIdentifier
	envelope.Body.SearchCustomer.IncludeAll = true

	var out struct {
		XMLName xml.Name             `xml:"Envelope"`
		Result  soapCustomerResponse `xml:"Body>SearchCustomerResponse"`
	}
	raw, err := c.call(ctx, SaleTimeout, "SearchCustomer", envelope, &out)
	if err != nil {
		code, msg := c.transportFailure("customer_search", err)
		return CustomerResult{ResponseCode: code, Message: msg}
	}
	res := customerFromSOAP(out.Result, raw)
	// A successful search with no token is simply "not found".
	res.Found = out.Result.CustomerToken != ""
	return res
}

type soapCardPayload struct {
	CardholderName  string `xml:"CardholderName,omitempty"`
	Number          string `xml:"Number"`
	ExpirationMonth int    `xml:"ExpirationMonth"`
	ExpirationYear  int    `xml:"ExpirationYear"`
	CVV             string `xml:"CVV,omitempty"`
	Status          string `xml:"Status"`
}

type soapSaveCustomer struct {
	CustomerToken    string            `xml:"CustomerToken,omitempty"`
	UniqueIdentifier string            `xml:"UniqueIdentifier,omitempty"`
	FirstName        string            `xml:"FirstName,omitempty"`
	LastName         string            `xml:"LastName,omitempty"`
	Email            string            `xml:"Email,omitempty"`
	Phone            string            `xml:"Phone,omitempty"`
	Company          string            `xml:"Company,omitempty"`
	CreditCards      []soapCardPayload `xml:"CreditCards>Card,omitempty"`
}

func (c *SOAPClient) saveCustomer(ctx context.Context, op string, payload soapSaveCustomer) CustomerResult {
	envelope := struct {
		XMLName xml.Name   `xml:"Envelope"`
		Header  soapHeader `xml:"Header"`
		Body    struct {
			SaveCustomer soapSaveCustomer `xml:"SaveCustomer"`
		} `xml:"Body"`
	}{Header: c.header()}
	envelope.Body.SaveCustomer = payload

	var out struct {
		XMLName xml.Name             `xml:"Envelope"`
		Result  soapCustomerResponse `xml:"Body>SaveCustomerResponse"`
	}
	raw, err := c.call(ctx, SaleTimeout, "SaveCustomer", envelope, &out)
	if err != nil {
		code, msg := c.transportFailure(op, err)
		return CustomerResult{ResponseCode: code, Message: msg}
	}
	return customerFromSOAP(out.Result, raw)
}

func (c *SOAPClient) CreateCustomer(ctx context.Context, payload CustomerPayload) CustomerResult {
	return c.saveCustomer(ctx, "customer_create", soapSaveCustomer{
		UniqueIdentifier: payload.UniqueIdentifier,
		FirstName:        payload.FirstName,
		LastName:         payload.LastName,
		Email:            payload.Email,
		Phone:            payload.Phone,
		Company:          payload.Company,
	})
}

func (c *SOAPClient) SaveCustomerCards(ctx context.Context, customerToken string, cards []CardPayload) CustomerResult {
	wireCards := make([]soapCardPayload, 0, len(cards))
	for _, card := range cards {
		wireCards = append(wireCards, soapCardPayload{
			CardholderName:  card.CardholderName,
			Number:          strings.ReplaceAll(card.Number, " ", ""),
			ExpirationMonth: card.ExpirationMonth,
			ExpirationYear:  card.ExpirationYear,
			CVV:             card.CVV,
			Status:          "Active",
		})
	}
	return c.saveCustomer(ctx, "customer_save_cards", soapSaveCustomer{CustomerToken: customerToken, CreditCards: wireCards})
}

var _ Client = (*SOAPClient)(nil)
