package acquirer

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/edutech/uspgateway/internal/credentials"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
	"golang.org/x/exp/slog"
)

func testRESTClient(t *testing.T, handler http.HandlerFunc) *RESTClient {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)

	c := NewRESTClient("SANDBOX", credentials.Credentials{
		Scheme:     credentials.SchemeLegacy,
		MerchantID: "merchant-1",
		SecretKey:  "top-secret",
	}, slog.Default(), srv.Client())
	c.SetBaseURL(srv.URL)
	return c
}

func TestRESTSaleSignsAndEncodes(t *testing.T) {
	var gotPath, gotSignature, gotMerchant string
	var gotBody []byte

	client := testRESTClient(t, func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		gotSignature = r.Header.Get("X-Signature")
		gotMerchant = r.Header.Get("X-Merchant-ID")
		gotBody, _ = io.ReadAll(r.Body)
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"IsSuccess":true,"ResponseCode":"00","TransactionId":"USP-1-ABCDEF","Status":"Completed"}`))
	})

	res := client.Sale(context.Background(), SaleRequest{
		CardToken:   "tok-1",
		Amount:      decimal.RequireFromString("25.50"),
		Currency:    "USD",
		TrackingRef: "USP-LOCAL-1",
		CustomerID:  "CUST-0001",
	})

	require.True(t, res.IsSuccess)
	require.Equal(t, "00", res.ResponseCode)
	require.Equal(t, "USP-1-ABCDEF", res.TransactionID)
	require.Equal(t, "Completed", res.Status)

	require.Equal(t, "/transaction/sale", gotPath)
	require.Equal(t, "merchant-1", gotMerchant)

	mac := hmac.New(sha256.New, []byte("top-secret"))
	mac.Write(gotBody)
	require.Equal(t, hex.EncodeToString(mac.Sum(nil)), gotSignature)

	var payload map[string]any
	require.NoError(t, json.Unmarshal(gotBody, &payload))
	require.Equal(t, "25.50", payload["Amount"])
	require.Equal(t, "840", payload["CurrencyCode"])
	require.Equal(t, "USP-LOCAL-1", payload["OrderTrackingNumber"])
}

func TestRESTDeclineIsResultNotError(t *testing.T) {
	client := testRESTClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"IsSuccess":false,"ResponseCode":"05","ResponseMessage":"Do not honor"}`))
	})

	res := client.Sale(context.Background(), SaleRequest{
		CardToken: "tok-1",
		Amount:    decimal.RequireFromString("10.00"),
		Currency:  "USD",
	})
	require.False(t, res.IsSuccess)
	require.Equal(t, "05", res.ResponseCode)
	require.Equal(t, "Do not honor", res.Message)
}

func TestRESTTransportFailureNormalizedTo999(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	client := NewRESTClient("SANDBOX", credentials.Credentials{SecretKey: "x"}, slog.Default(), nil)
	client.SetBaseURL(srv.URL)
	srv.Close() // connection refused from here on

	res := client.Sale(context.Background(), SaleRequest{
		CardToken: "tok-1",
		Amount:    decimal.RequireFromString("10.00"),
		Currency:  "USD",
	})
	require.False(t, res.IsSuccess)
	require.Equal(t, CodeTransportFailure, res.ResponseCode)
	require.NotEmpty(t, res.Message)
}

func TestRESTHTTPErrorMapsToStatusCode(t *testing.T) {
	client := testRESTClient(t, func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "upstream exploded", http.StatusBadGateway)
	})

	res := client.Ping(context.Background())
	require.False(t, res.IsSuccess)
	require.Equal(t, "502", res.ResponseCode)
}

func TestRESTSearchCustomer(t *testing.T) {
	client := testRESTClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"IsSuccess":true,"ResponseCode":"00","Data":{"CustomerToken":"CT-1","CreditCards":[{"Token":"CARD-1","Number":"************1111","Brand":"Visa","ExpirationMonth":12,"ExpirationYear":2030,"Status":"Active"}]}}`))
	})

	res := client.SearchCustomer(context.Background(), "CUST-0001")
	require.True(t, res.IsSuccess)
	require.True(t, res.Found)
	require.Equal(t, "CT-1", res.CustomerToken)
	require.Len(t, res.Cards, 1)
	require.Equal(t, "CARD-1", res.Cards[0].Token)
}

func TestRESTTokenDetails(t *testing.T) {
	var gotPath string
	var gotBody []byte
	client := testRESTClient(t, func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		gotBody, _ = io.ReadAll(r.Body)
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"IsSuccess":true,"ResponseCode":"00","AccountToken":"AT-9","CardNumber":"************4242","CardHolderName":"J SMITH","ExpirationDate":"0928"}`))
	})

	res := client.TokenDetails(context.Background(), "ACC-9")
	require.True(t, res.IsSuccess)
	require.Equal(t, "AT-9", res.AccountToken)
	require.Equal(t, "J SMITH", res.CardholderName)
	require.Equal(t, "0928", res.ExpirationDate)

	require.Equal(t, "/token/details", gotPath)
	var payload map[string]any
	require.NoError(t, json.Unmarshal(gotBody, &payload))
	require.Equal(t, "ACC-9", payload["AccountNumber"])
}

func TestRESTTokenWidget(t *testing.T) {
	var gotBody []byte
	client := testRESTClient(t, func(w http.ResponseWriter, r *http.Request) {
		gotBody, _ = io.ReadAll(r.Body)
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"IsSuccess":true,"ResponseCode":"00","WidgetHTML":"<form id=\"usp\"></form>"}`))
	})

	res := client.TokenWidget(context.Background(), "", "en")
	require.True(t, res.IsSuccess)
	require.Equal(t, `<form id="usp"></form>`, res.HTML)

	var payload map[string]any
	require.NoError(t, json.Unmarshal(gotBody, &payload))
	require.Equal(t, "en", payload["Culture"])
	_, hasToken := payload["AccountToken"]
	require.False(t, hasToken)
}

func TestRESTUnsupportedCurrency(t *testing.T) {
	called := false
	client := testRESTClient(t, func(w http.ResponseWriter, r *http.Request) { called = true })

	res := client.Sale(context.Background(), SaleRequest{
		CardToken: "tok-1",
		Amount:    decimal.RequireFromString("10.00"),
		Currency:  "XXX",
	})
	require.False(t, res.IsSuccess)
	require.Equal(t, CodeTransportFailure, res.ResponseCode)
	require.False(t, called)
}
