package acquirer

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/shopspring/decimal"
)

// MockClient is the sandbox/test double. Every operation succeeds
// deterministically with synthesized identifiers; customers it creates are
// remembered so search finds them on later calls. It is selected once at
// construction, exactly like the real clients.
type MockClient struct {
	mu        sync.Mutex
	customers map[string]string // unique identifier -> customer token
	seq       int
	now       func() time.Time
}

func NewMockClient() *MockClient {
	return &MockClient{
		customers: make(map[string]string),
		now:       time.Now,
	}
}

func (m *MockClient) nextID(prefix string) string {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.seq++
	return fmt.Sprintf("%s-%d-%06d", prefix, m.now().Unix(), m.seq)
}

func (m *MockClient) Ping(ctx context.Context) HealthResult {
	return HealthResult{IsSuccess: true, ResponseCode: CodeSuccess, Message: "mock gateway alive"}
}

func (m *MockClient) TokenDetails(ctx context.Context, accountRef string) TokenDetails {
	return TokenDetails{
		IsSuccess:      true,
		ResponseCode:   CodeSuccess,
		AccountToken:   "MOCKTOKEN-" + accountRef,
		CardNumber:     "************1111",
		CardholderName: "MOCK HOLDER",
		ExpirationDate: "1230",
	}
}

func (m *MockClient) TokenWidget(ctx context.Context, existingToken, culture string) WidgetMarkup {
	return WidgetMarkup{
		IsSuccess:    true,
		ResponseCode: CodeSuccess,
		HTML:         fmt.Sprintf("<div class=\"usp-widget\" data-culture=%q></div>", culture),
	}
}

func (m *MockClient) Sale(ctx context.Context, req SaleRequest) SaleResult {
	id := m.nextID("USP")
	return SaleResult{
		IsSuccess:     true,
		ResponseCode:  CodeSuccess,
		Message:       "approved",
		TransactionID: id,
		Status:        "Completed",
		Amount:        WireAmount(req.Amount),
		Raw: fmt.Sprintf(`{"IsSuccess":true,"ResponseCode":"00","TransactionId":%q,"Status":"Completed","OrderTrackingNumber":%q}`,
			id, req.TrackingRef),
	}
}

func (m *MockClient) Refund(ctx context.Context, transactionID string, amount decimal.Decimal, customerID string) SaleResult {
	return SaleResult{
		IsSuccess:     true,
		ResponseCode:  CodeSuccess,
		Message:       "refunded",
		TransactionID: transactionID,
		Status:        "Refunded",
		Amount:        WireAmount(amount),
		Raw:           fmt.Sprintf(`{"IsSuccess":true,"ResponseCode":"00","TransactionId":%q,"Status":"Refunded"}`, transactionID),
	}
}

func (m *MockClient) TransactionStatus(ctx context.Context, transactionID string) SaleResult {
	return SaleResult{
		IsSuccess:     true,
		ResponseCode:  CodeSuccess,
		TransactionID: transactionID,
		Status:        "Completed",
		Raw:           fmt.Sprintf(`{"IsSuccess":true,"ResponseCode":"00","TransactionId":%q,"Status":"Completed"}`, transactionID),
	}
}

func (m *MockClient) SearchTransactions(ctx context.Context, customerID string, from, to time.Time) TransactionList {
	return TransactionList{IsSuccess: true, ResponseCode: CodeSuccess, Raw: "[]"}
}

func (m *MockClient) SearchCustomer(ctx context.Context, uniqueIdentifier string) CustomerResult {
	m.mu.Lock()
	token, ok := m.customers[uniqueIdentifier]
	m.mu.Unlock()
	if !ok {
		return CustomerResult{IsSuccess: true, ResponseCode: CodeSuccess, Message: "customer not found"}
	}
	return CustomerResult{
		IsSuccess:     true,
		Found:         true,
		ResponseCode:  CodeSuccess,
		CustomerToken: token,
		Cards: []CardRecord{{
			Token:           "MOCKCARD-" + token,
			Number:          "************1111",
			Brand:           "Visa",
			ExpirationMonth: 12,
			ExpirationYear:  2030,
			Status:          "Active",
		}},
	}
}

func (m *MockClient) CreateCustomer(ctx context.Context, payload CustomerPayload) CustomerResult {
	token := m.nextID("MOCKCUST")
	m.mu.Lock()
	m.customers[payload.UniqueIdentifier] = token
	m.mu.Unlock()
	return CustomerResult{IsSuccess: true, ResponseCode: CodeSuccess, CustomerToken: token}
}

func (m *MockClient) SaveCustomerCards(ctx context.Context, customerToken string, cards []CardPayload) CustomerResult {
	records := make([]CardRecord, 0, len(cards))
	for i, card := range cards {
		number := card.Number
		masked := "************"
		if len(number) >= 4 {
			masked += number[len(number)-4:]
		}
		records = append(records, CardRecord{
			Token:           fmt.Sprintf("MOCKCARD-%s-%d", customerToken, i+1),
			Number:          masked,
			Brand:           "Visa",
			ExpirationMonth: card.ExpirationMonth,
			ExpirationYear:  card.ExpirationYear,
			Status:          "Active",
		})
	}
	return CustomerResult{
		IsSuccess:     true,
		ResponseCode:  CodeSuccess,
		CustomerToken: customerToken,
		Cards:         records,
	}
}

var _ Client = (*MockClient)(nil)
