package gateway

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/edutech/uspgateway/gateway/models"
	"github.com/edutech/uspgateway/internal/acquirer"
	"github.com/edutech/uspgateway/internal/cardcheck"
	"github.com/edutech/uspgateway/internal/docstore"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"golang.org/x/exp/slog"
)

type amountBand struct {
	min decimal.Decimal
	max decimal.Decimal
}

// Per-currency charge limits. A currency absent from this table is rejected
// before any remote call.
var amountBands = map[string]amountBand{
	"USD": {decimal.RequireFromString("0.50"), decimal.RequireFromString("50000")},
	"EUR": {decimal.RequireFromString("0.50"), decimal.RequireFromString("50000")},
	"PEN": {decimal.RequireFromString("2.00"), decimal.RequireFromString("200000")},
}

// Service drives the transaction lifecycle: validate, resolve the remote
// customer, tokenize the card, charge, persist, and settle. All remote access
// goes through the acquirer client picked at construction.
type Service struct {
	repo      *Repository
	client    acquirer.Client
	documents docstore.DocumentStore
	customers docstore.CustomerStore
	logger    *slog.Logger
	now       func() time.Time
}

func NewService(repo *Repository, client acquirer.Client, documents docstore.DocumentStore, customers docstore.CustomerStore, logger *slog.Logger) *Service {
	return &Service{
		repo:      repo,
		client:    client,
		documents: documents,
		customers: customers,
		logger:    logger,
		now:       time.Now,
	}
}

// SubmitPayment runs the full charge flow. A stored token charges directly;
// raw card details go through customer resolution and tokenization first. A
// gateway decline comes back as an unsuccessful PaymentResult with its own
// transaction record, not as an error; errors are reserved for bad input and
// local failures.
func (s *Service) SubmitPayment(ctx context.Context, req models.PaymentRequest) (models.PaymentResult, error) {
	if err := validatePaymentRequest(req); err != nil {
		return models.PaymentResult{}, err
	}

	cardToken := req.CardToken
	lastFour := ""
	if req.Card != nil {
		customer, err := s.resolveCustomer(ctx, req.Customer, req.Email)
		if err != nil {
			return models.PaymentResult{}, err
		}
		tok, err := s.tokenizeCard(ctx, customer.Token, *req.Card)
		if err != nil {
			return models.PaymentResult{}, err
		}
		cardToken = tok.Token
		lastFour = cardcheck.LastFour(req.Card.Number)
	}

	now := s.now()
	txn := &models.Transaction{
		ID:               uuid.NewString(),
		TransactionID:    models.NewTransactionID(now),
		Amount:           req.Amount,
		Currency:         req.Currency,
		ReferenceDoctype: req.ReferenceDoctype,
		ReferenceDocname: req.ReferenceDocname,
		Customer:         req.Customer,
		PaymentMethod:    "Credit Card",
		CardToken:        cardToken,
		CardLastFour:     lastFour,
		Status:           models.StatusPending,
		CreatedAt:        now,
		UpdatedAt:        now,
	}
	if err := s.repo.CreateTransaction(ctx, txn); err != nil {
		return models.PaymentResult{}, fmt.Errorf("create transaction: %w", err)
	}
	s.audit(ctx, txn.ID, "payment_submitted",
		fmt.Sprintf("amount=%s %s customer=%s", txn.Amount.StringFixed(2), txn.Currency, txn.Customer))

	return s.charge(ctx, txn, req.Email)
}

// charge runs one sale attempt for a Pending transaction and persists the
// outcome. Shared by submission and retry.
func (s *Service) charge(ctx context.Context, txn *models.Transaction, email string) (models.PaymentResult, error) {
	res := s.client.Sale(ctx, acquirer.SaleRequest{
		CardToken:   txn.CardToken,
		Amount:      txn.Amount,
		Currency:    txn.Currency,
		TrackingRef: txn.TransactionID,
		Email:       email,
		CustomerID:  txn.Customer,
	})

	now := s.now()
	if res.TransactionID != "" && res.TransactionID != txn.TransactionID {
		txn.TransactionID = res.TransactionID
	}
	txn.ResponseData = res.Raw

	if !res.IsSuccess {
		txn.ErrorMessage = res.Message
		txn.ApplyStatus(models.StatusFailed, now)
		if err := s.repo.UpdateTransaction(ctx, txn); err != nil {
			return models.PaymentResult{}, fmt.Errorf("persist decline: %w", err)
		}
		s.audit(ctx, txn.ID, "sale_declined",
			fmt.Sprintf("code=%s message=%s", res.ResponseCode, res.Message))
		s.logger.Info("sale declined",
			"transaction_id", txn.TransactionID, "code", res.ResponseCode)
		return models.PaymentResult{
			TransactionID: txn.TransactionID,
			Status:        txn.Status,
			Message:       res.Message,
		}, nil
	}

	next := models.Status(res.Status)
	if !models.ValidStatus(next) || next == models.StatusPending {
		next = models.StatusCompleted
	}
	txn.ErrorMessage = ""
	txn.ApplyStatus(next, now)
	if err := s.repo.UpdateTransaction(ctx, txn); err != nil {
		return models.PaymentResult{}, fmt.Errorf("persist approval: %w", err)
	}
	s.audit(ctx, txn.ID, "sale_approved", "status="+string(next))
	s.logger.Info("sale approved",
		"transaction_id", txn.TransactionID, "status", string(next))

	if next == models.StatusCompleted {
		if err := s.Settle(ctx, txn); err != nil {
			s.logger.Error("settlement failed",
				"transaction_id", txn.TransactionID, "error", err)
		}
	}
	return models.PaymentResult{
		Success:       true,
		TransactionID: txn.TransactionID,
		Status:        txn.Status,
		Message:       res.Message,
	}, nil
}

// Settle marks the referenced document paid exactly once. Documents with a
// native paid flag get it flipped; others get a settlement record appended.
func (s *Service) Settle(ctx context.Context, txn *models.Transaction) error {
	if txn.ReferenceDoctype == "" || txn.ReferenceDocname == "" {
		return nil
	}
	doc, err := s.documents.GetDocument(ctx, txn.ReferenceDoctype, txn.ReferenceDocname)
	if err != nil {
		return fmt.Errorf("load reference document: %w", err)
	}
	if doc.Paid {
		return nil
	}
	if txn.ReferenceDoctype == "Payment Request" {
		if err := s.documents.MarkAsPaid(ctx, txn.ReferenceDoctype, txn.ReferenceDocname, txn.TransactionID); err != nil {
			return fmt.Errorf("mark paid: %w", err)
		}
	} else {
		err := s.documents.CreateSettlement(ctx, docstore.Settlement{
			Doctype:       txn.ReferenceDoctype,
			Docname:       txn.ReferenceDocname,
			TransactionID: txn.TransactionID,
			Amount:        txn.Amount,
			CreatedAt:     s.now(),
		})
		if err != nil {
			return fmt.Errorf("create settlement: %w", err)
		}
		if err := s.documents.MarkAsPaid(ctx, txn.ReferenceDoctype, txn.ReferenceDocname, txn.TransactionID); err != nil {
			return fmt.Errorf("mark paid: %w", err)
		}
	}
	s.audit(ctx, txn.ID, "settled", txn.ReferenceDoctype+"/"+txn.ReferenceDocname)
	return nil
}

// Retry resets a Failed or Cancelled transaction to Pending and re-runs the
// charge with the stored card token.
func (s *Service) Retry(ctx context.Context, id string) (models.PaymentResult, error) {
	txn, err := s.GetTransaction(ctx, id)
	if err != nil {
		return models.PaymentResult{}, err
	}
	if !txn.Status.Retryable() {
		return models.PaymentResult{}, fmt.Errorf("retry from %s: %w", txn.Status, models.ErrInvalidState)
	}
	now := s.now()
	txn.Status = models.StatusPending
	txn.ErrorMessage = ""
	txn.ProcessedAt = nil
	txn.CompletedAt = nil
	txn.UpdatedAt = now
	if err := s.repo.UpdateTransaction(ctx, txn); err != nil {
		return models.PaymentResult{}, err
	}
	s.audit(ctx, txn.ID, "retry", "")
	return s.charge(ctx, txn, "")
}

// Cancel moves any non-Completed transaction to Cancelled. Completed money
// must be refunded, not cancelled.
func (s *Service) Cancel(ctx context.Context, id string) (*models.Transaction, error) {
	txn, err := s.GetTransaction(ctx, id)
	if err != nil {
		return nil, err
	}
	switch txn.Status {
	case models.StatusCompleted, models.StatusRefunded, models.StatusPartiallyRefunded:
		return nil, fmt.Errorf("cancel from %s: %w", txn.Status, models.ErrInvalidState)
	case models.StatusCancelled:
		return txn, nil
	}
	txn.ApplyStatus(models.StatusCancelled, s.now())
	if err := s.repo.UpdateTransaction(ctx, txn); err != nil {
		return nil, err
	}
	s.audit(ctx, txn.ID, "cancelled", "")
	return txn, nil
}

// Refund reverses part or all of a Completed transaction. A zero amount means
// full refund. Partial refunds leave the record open for the remainder.
func (s *Service) Refund(ctx context.Context, id string, amount decimal.Decimal) (*models.Transaction, error) {
	txn, err := s.GetTransaction(ctx, id)
	if err != nil {
		return nil, err
	}
	if txn.Status != models.StatusCompleted && txn.Status != models.StatusPartiallyRefunded {
		return nil, fmt.Errorf("refund from %s: %w", txn.Status, models.ErrInvalidState)
	}
	if amount.IsZero() {
		amount = txn.Amount
	}
	if amount.IsNegative() || amount.GreaterThan(txn.Amount) {
		return nil, fmt.Errorf("refund amount %s out of range: %w", amount.StringFixed(2), models.ErrValidation)
	}

	res := s.client.Refund(ctx, txn.TransactionID, amount, txn.Customer)
	if !res.IsSuccess {
		s.audit(ctx, txn.ID, "refund_declined",
			fmt.Sprintf("code=%s message=%s", res.ResponseCode, res.Message))
		return nil, fmt.Errorf("gateway refused refund: %s", res.Message)
	}

	next := models.StatusRefunded
	if amount.LessThan(txn.Amount) {
		next = models.StatusPartiallyRefunded
	}
	txn.ResponseData = res.Raw
	txn.ApplyStatus(next, s.now())
	if err := s.repo.UpdateTransaction(ctx, txn); err != nil {
		return nil, err
	}
	s.audit(ctx, txn.ID, "refunded", "amount="+amount.StringFixed(2))
	s.logger.Info("refund processed",
		"transaction_id", txn.TransactionID, "amount", amount.StringFixed(2), "status", string(next))
	return txn, nil
}

// GetTransaction returns one transaction by local id, falling back to the
// gateway-visible id when the local id is unknown. Store failures are
// returned as-is, never retried against the other key.
func (s *Service) GetTransaction(ctx context.Context, id string) (*models.Transaction, error) {
	txn, err := s.repo.GetTransaction(ctx, id)
	if err == nil {
		return txn, nil
	}
	if !errors.Is(err, models.ErrNotFound) {
		return nil, err
	}
	return s.repo.GetByTransactionID(ctx, id)
}

// ListCustomerCards lists the cards stored at the gateway for a customer.
// A customer unknown to the gateway has no cards.
func (s *Service) ListCustomerCards(ctx context.Context, customer string) ([]models.StoredCard, error) {
	res := s.client.SearchCustomer(ctx, customer)
	if !res.IsSuccess {
		return nil, fmt.Errorf("%w: %s", models.ErrCustomerResolution, res.Message)
	}
	if !res.Found {
		return []models.StoredCard{}, nil
	}
	cards := make([]models.StoredCard, 0, len(res.Cards))
	for _, c := range res.Cards {
		if c.Status != "" && c.Status != "Active" {
			continue
		}
		cards = append(cards, models.StoredCard{
			Token:    c.Token,
			LastFour: cardcheck.LastFour(c.Number),
			Brand:    c.Brand,
			Expiry:   fmt.Sprintf("%02d/%d", c.ExpirationMonth, c.ExpirationYear),
		})
	}
	return cards, nil
}

// ValidateCard runs offline card-field checks. No remote call.
func (s *Service) ValidateCard(card models.CardDetails) models.CardValidation {
	var errs []string
	if err := cardcheck.ValidateNumber(card.Number); err != nil {
		errs = append(errs, err.Error())
	}
	if err := cardcheck.ValidateExpiry(card.ExpiryMonth, card.ExpiryYear, s.now()); err != nil {
		errs = append(errs, err.Error())
	}
	if err := cardcheck.ValidateCVV(card.CVV); err != nil {
		errs = append(errs, err.Error())
	}
	return models.CardValidation{Valid: len(errs) == 0, Errors: errs}
}

// resolveCustomer finds the remote customer token for a local customer,
// creating the remote record from the local profile on first contact.
func (s *Service) resolveCustomer(ctx context.Context, customer, email string) (models.CustomerToken, error) {
	search := s.client.SearchCustomer(ctx, customer)
	if !search.IsSuccess {
		return models.CustomerToken{}, fmt.Errorf("%w: search: %s", models.ErrCustomerResolution, search.Message)
	}
	if search.Found {
		return models.CustomerToken{Customer: customer, Token: search.CustomerToken, Existing: true}, nil
	}

	profile, err := s.customers.GetCustomer(ctx, customer)
	if err != nil {
		return models.CustomerToken{}, fmt.Errorf("%w: load profile: %v", models.ErrCustomerResolution, err)
	}
	if email == "" {
		email = profile.Email
	}
	first, last := splitName(profile.FullName)
	created := s.client.CreateCustomer(ctx, acquirer.CustomerPayload{
		UniqueIdentifier: customer,
		FirstName:        first,
		LastName:         last,
		Email:            email,
		Phone:            profile.Phone,
		Company:          profile.Group,
	})
	if !created.IsSuccess || created.CustomerToken == "" {
		return models.CustomerToken{}, fmt.Errorf("%w: create: %s", models.ErrCustomerResolution, created.Message)
	}
	s.logger.Info("remote customer created", "customer", customer)
	return models.CustomerToken{Customer: customer, Token: created.CustomerToken}, nil
}

// tokenizeCard validates raw card fields and registers the card against the
// remote customer, returning the stored token. Raw card data never outlives
// this call.
func (s *Service) tokenizeCard(ctx context.Context, customerToken string, card models.CardDetails) (models.CardToken, error) {
	if v := s.ValidateCard(card); !v.Valid {
		return models.CardToken{}, fmt.Errorf("%w: %s", models.ErrValidation, strings.Join(v.Errors, "; "))
	}
	res := s.client.SaveCustomerCards(ctx, customerToken, []acquirer.CardPayload{{
		CardholderName:  card.CardholderName,
		Number:          cardcheck.NormalizeNumber(card.Number),
		ExpirationMonth: card.ExpiryMonth,
		ExpirationYear:  card.ExpiryYear,
		CVV:             card.CVV,
	}})
	if !res.IsSuccess {
		return models.CardToken{}, fmt.Errorf("%w: %s", models.ErrCardTokenization, res.Message)
	}
	if len(res.Cards) == 0 || res.Cards[0].Token == "" {
		return models.CardToken{}, fmt.Errorf("%w: gateway returned no card token", models.ErrCardTokenization)
	}
	c := res.Cards[0]
	return models.CardToken{
		Token:        c.Token,
		MaskedNumber: c.Number,
		Brand:        c.Brand,
		ExpiryMonth:  c.ExpirationMonth,
		ExpiryYear:   c.ExpirationYear,
	}, nil
}

// ListCustomerTransactions returns the locally stored transactions for a
// customer, newest first.
func (s *Service) ListCustomerTransactions(ctx context.Context, customer string) ([]*models.Transaction, error) {
	return s.repo.ListByCustomer(ctx, customer)
}

// GatewayTransactionHistory queries the acquirer for a customer's transactions
// in a date window. Used to cross-check local records during reconciliation
// reviews.
func (s *Service) GatewayTransactionHistory(ctx context.Context, customer string, from, to time.Time) ([]acquirer.SaleResult, error) {
	list := s.client.SearchTransactions(ctx, customer, from, to)
	if !list.IsSuccess {
		return nil, fmt.Errorf("gateway transaction search failed: %s", list.Message)
	}
	return list.Transactions, nil
}

// TokenizationWidget fetches the hosted card-entry fragment for embedding in a
// checkout page. The HTML is passed through untouched.
func (s *Service) TokenizationWidget(ctx context.Context, existingToken, culture string) (string, error) {
	res := s.client.TokenWidget(ctx, existingToken, culture)
	if !res.IsSuccess {
		return "", fmt.Errorf("token widget: %s", res.Message)
	}
	return res.HTML, nil
}

// StoredTokenDetails looks up a remote token by its opaque account reference.
// A token the gateway does not know is ErrNotFound, not a transport error.
func (s *Service) StoredTokenDetails(ctx context.Context, accountRef string) (models.StoredCard, error) {
	res := s.client.TokenDetails(ctx, accountRef)
	if !res.IsSuccess {
		if res.ResponseCode == acquirer.CodeTransportFailure {
			return models.StoredCard{}, fmt.Errorf("token lookup: %s", res.Message)
		}
		return models.StoredCard{}, fmt.Errorf("token %s: %w", accountRef, models.ErrNotFound)
	}
	expiry := res.ExpirationDate
	if len(expiry) == 4 {
		expiry = expiry[:2] + "/20" + expiry[2:]
	}
	return models.StoredCard{
		Token:    res.AccountToken,
		LastFour: cardcheck.LastFour(res.CardNumber),
		Expiry:   expiry,
	}, nil
}

// Health probes the acquirer. Used by the readiness and diagnostics endpoints.
func (s *Service) Health(ctx context.Context) acquirer.HealthResult {
	return s.client.Ping(ctx)
}

// StoreHealthy reports whether the transaction store answers.
func (s *Service) StoreHealthy(ctx context.Context) error {
	return s.repo.Ping(ctx)
}

func (s *Service) audit(ctx context.Context, recordID, event, detail string) {
	err := s.repo.AppendAudit(ctx, models.AuditEntry{
		ID:            uuid.NewString(),
		TransactionID: recordID,
		EventType:     event,
		Detail:        detail,
		CreatedAt:     s.now(),
	})
	if err != nil {
		s.logger.Error("audit append failed", "event", event, "error", err)
	}
}

func validatePaymentRequest(req models.PaymentRequest) error {
	if req.Customer == "" {
		return fmt.Errorf("customer is required: %w", models.ErrValidation)
	}
	if req.CardToken == "" && req.Card == nil {
		return fmt.Errorf("card token or card data is required: %w", models.ErrValidation)
	}
	if req.CardToken != "" && req.Card != nil {
		return fmt.Errorf("card token and card data are mutually exclusive: %w", models.ErrValidation)
	}
	band, ok := amountBands[req.Currency]
	if !ok {
		return fmt.Errorf("unsupported currency %q: %w", req.Currency, models.ErrValidation)
	}
	if req.Amount.LessThan(band.min) || req.Amount.GreaterThan(band.max) {
		return fmt.Errorf("amount %s outside %s limits [%s, %s]: %w",
			req.Amount.StringFixed(2), req.Currency, band.min.StringFixed(2), band.max.StringFixed(2),
			models.ErrValidation)
	}
	return nil
}

// splitName splits a display name into first and last on the first blank.
func splitName(full string) (string, string) {
	fields := strings.Fields(full)
	switch len(fields) {
	case 0:
		return "", ""
	case 1:
		return fields[0], ""
	default:
		return fields[0], strings.Join(fields[1:], " ")
	}
}
