package gateway

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/edutech/uspgateway/gateway/models"
	"github.com/edutech/uspgateway/internal/acquirer"
	"github.com/go-chi/chi/v5"
	"github.com/shopspring/decimal"
)

// API is the HTTP surface of the payment gateway service.
type API struct {
	service    *Service
	reconciler *Reconciler
}

func NewAPI(service *Service, reconciler *Reconciler) *API {
	return &API{
		service:    service,
		reconciler: reconciler,
	}
}

func (a *API) AppendRoutes(r chi.Router) {
	r.Post("/payments", a.submitPayment)
	r.Post("/payments/new-card", a.submitNewCardPayment)
	r.Post("/cards/validate", a.validateCard)
	r.Get("/token-widget", a.tokenWidget)
	r.Get("/tokens/{ref}", a.tokenDetails)
	r.Get("/customers/{customer}/cards", a.listCustomerCards)
	r.Get("/customers/{customer}/transactions", a.listCustomerTransactions)
	r.Get("/customers/{customer}/gateway-transactions", a.gatewayTransactionHistory)
	r.Route("/transactions/{id}", func(r chi.Router) {
		r.Get("/", a.getTransaction)
		r.Get("/audit", a.getAudit)
		r.Post("/retry", a.retryTransaction)
		r.Post("/cancel", a.cancelTransaction)
		r.Post("/refund", a.refundTransaction)
	})
	r.Post("/webhook", a.handleWebhook)
}

func (a *API) submitPayment(w http.ResponseWriter, r *http.Request) {
	req := models.PaymentRequest{}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	result, err := a.service.SubmitPayment(r.Context(), req)
	if err != nil {
		writeError(w, err)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusCreated)
	json.NewEncoder(w).Encode(result)
}

// submitNewCardPayment is the explicit new-card entry point: raw card fields
// are mandatory here, a stored token is rejected.
func (a *API) submitNewCardPayment(w http.ResponseWriter, r *http.Request) {
	req := models.PaymentRequest{}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	if req.Card == nil {
		http.Error(w, "card_data is required", http.StatusBadRequest)
		return
	}
	req.CardToken = ""

	result, err := a.service.SubmitPayment(r.Context(), req)
	if err != nil {
		writeError(w, err)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusCreated)
	json.NewEncoder(w).Encode(result)
}

func (a *API) validateCard(w http.ResponseWriter, r *http.Request) {
	card := models.CardDetails{}
	if err := json.NewDecoder(r.Body).Decode(&card); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	json.NewEncoder(w).Encode(a.service.ValidateCard(card))
}

// tokenWidget serves the hosted card-entry fragment for checkout embedding.
func (a *API) tokenWidget(w http.ResponseWriter, r *http.Request) {
	html, err := a.service.TokenizationWidget(r.Context(),
		r.URL.Query().Get("token"), r.URL.Query().Get("culture"))
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadGateway)
		return
	}

	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	io.WriteString(w, html)
}

func (a *API) tokenDetails(w http.ResponseWriter, r *http.Request) {
	card, err := a.service.StoredTokenDetails(r.Context(), chi.URLParam(r, "ref"))
	if err != nil {
		writeError(w, err)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	json.NewEncoder(w).Encode(card)
}

func (a *API) listCustomerCards(w http.ResponseWriter, r *http.Request) {
	customer := chi.URLParam(r, "customer")

	cards, err := a.service.ListCustomerCards(r.Context(), customer)
	if err != nil {
		writeError(w, err)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	json.NewEncoder(w).Encode(cards)
}

func (a *API) listCustomerTransactions(w http.ResponseWriter, r *http.Request) {
	customer := chi.URLParam(r, "customer")

	txns, err := a.service.ListCustomerTransactions(r.Context(), customer)
	if err != nil {
		writeError(w, err)
		return
	}
	if txns == nil {
		txns = []*models.Transaction{}
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	json.NewEncoder(w).Encode(txns)
}

// gatewayTransactionHistory cross-checks the acquirer's view of a customer's
// transactions. Accepts from/to query params as YYYY-MM-DD; defaults to the
// last 30 days.
func (a *API) gatewayTransactionHistory(w http.ResponseWriter, r *http.Request) {
	customer := chi.URLParam(r, "customer")

	to := time.Now()
	from := to.AddDate(0, 0, -30)
	if v := r.URL.Query().Get("from"); v != "" {
		parsed, err := time.Parse("2006-01-02", v)
		if err != nil {
			http.Error(w, "from must be YYYY-MM-DD", http.StatusBadRequest)
			return
		}
		from = parsed
	}
	if v := r.URL.Query().Get("to"); v != "" {
		parsed, err := time.Parse("2006-01-02", v)
		if err != nil {
			http.Error(w, "to must be YYYY-MM-DD", http.StatusBadRequest)
			return
		}
		to = parsed
	}

	history, err := a.service.GatewayTransactionHistory(r.Context(), customer, from, to)
	if err != nil {
		writeError(w, err)
		return
	}
	if history == nil {
		history = []acquirer.SaleResult{}
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	json.NewEncoder(w).Encode(history)
}

func (a *API) getTransaction(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	txn, err := a.service.GetTransaction(r.Context(), id)
	if err != nil {
		writeError(w, err)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	json.NewEncoder(w).Encode(txn)
}

func (a *API) getAudit(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	txn, err := a.service.GetTransaction(r.Context(), id)
	if err != nil {
		writeError(w, err)
		return
	}
	entries, err := a.service.repo.ListAudit(r.Context(), txn.ID)
	if err != nil {
		writeError(w, err)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	json.NewEncoder(w).Encode(entries)
}

func (a *API) retryTransaction(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	result, err := a.service.Retry(r.Context(), id)
	if err != nil {
		writeError(w, err)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	json.NewEncoder(w).Encode(result)
}

func (a *API) cancelTransaction(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	txn, err := a.service.Cancel(r.Context(), id)
	if err != nil {
		writeError(w, err)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	json.NewEncoder(w).Encode(txn)
}

func (a *API) refundTransaction(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	var body struct {
		Amount decimal.Decimal `json:"amount"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil && err != io.EOF {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	txn, err := a.service.Refund(r.Context(), id, body.Amount)
	if err != nil {
		writeError(w, err)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	json.NewEncoder(w).Encode(txn)
}

// handleWebhook accepts both JSON and form-encoded notification bodies; the
// form variant is normalized to JSON before verification.
func (a *API) handleWebhook(w http.ResponseWriter, r *http.Request) {
	var body []byte
	if strings.Contains(r.Header.Get("Content-Type"), "application/x-www-form-urlencoded") {
		if err := r.ParseForm(); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		fields := make(map[string]string, len(r.PostForm))
		for k := range r.PostForm {
			fields[k] = r.PostForm.Get(k)
		}
		var err error
		body, err = json.Marshal(fields)
		if err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
	} else {
		var err error
		body, err = io.ReadAll(io.LimitReader(r.Body, 1<<20))
		if err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
	}

	txn, err := a.reconciler.HandleWebhook(r.Context(), body)
	if err != nil {
		writeError(w, err)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	json.NewEncoder(w).Encode(map[string]string{
		"transaction_id": txn.TransactionID,
		"status":         string(txn.Status),
	})
}

// writeError maps the error taxonomy onto HTTP status codes. The body keeps
// the uniform {success, message} shape.
func writeError(w http.ResponseWriter, err error) {
	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, models.ErrNotFound):
		status = http.StatusNotFound
	case errors.Is(err, models.ErrValidation):
		status = http.StatusBadRequest
	case errors.Is(err, models.ErrInvalidState):
		status = http.StatusConflict
	case errors.Is(err, models.ErrSignature):
		status = http.StatusUnauthorized
	case errors.Is(err, models.ErrNotConfigured):
		status = http.StatusServiceUnavailable
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(map[string]any{"success": false, "message": err.Error()})
}
