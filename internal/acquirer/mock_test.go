package acquirer

import (
	"context"
	"strings"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
)

func TestMockCustomerLifecycle(t *testing.T) {
	ctx := context.Background()
	client := NewMockClient()

	// Unknown customer is a successful not-found.
	res := client.SearchCustomer(ctx, "CUST-0001")
	require.True(t, res.IsSuccess)
	require.False(t, res.Found)

	created := client.CreateCustomer(ctx, CustomerPayload{UniqueIdentifier: "CUST-0001"})
	require.True(t, created.IsSuccess)
	require.NotEmpty(t, created.CustomerToken)

	// Now the search finds it.
	res = client.SearchCustomer(ctx, "CUST-0001")
	require.True(t, res.Found)
	require.Equal(t, created.CustomerToken, res.CustomerToken)
}

func TestMockSaleCompletes(t *testing.T) {
	client := NewMockClient()

	res := client.Sale(context.Background(), SaleRequest{
		CardToken: "tok-1",
		Amount:    decimal.RequireFromString("25.50"),
		Currency:  "USD",
	})
	require.True(t, res.IsSuccess)
	require.Equal(t, "Completed", res.Status)
	require.True(t, strings.HasPrefix(res.TransactionID, "USP-"))
	require.Equal(t, "25.50", res.Amount)
}

func TestMockSaveCustomerCardsMasksNumbers(t *testing.T) {
	client := NewMockClient()

	res := client.SaveCustomerCards(context.Background(), "CT-1", []CardPayload{{
		Number:          "4111111111111111",
		ExpirationMonth: 12,
		ExpirationYear:  2030,
	}})
	require.True(t, res.IsSuccess)
	require.Len(t, res.Cards, 1)
	require.Equal(t, "************1111", res.Cards[0].Number)
	require.NotEmpty(t, res.Cards[0].Token)
}
