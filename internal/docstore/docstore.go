// Package docstore defines the host-platform collaborators this module
// consumes: the document store holding the business documents being paid and
// the customer profile store. Both are opaque durable stores owned by the
// platform; only the interface boundary is specified here. The in-memory
// implementations back tests and sandbox deployments.
package docstore

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/shopspring/decimal"
)

// ReferenceDoc is the slice of a business document this module reads.
type ReferenceDoc struct {
	Doctype      string
	Docname      string
	Customer     string
	ContactEmail string
	Amount       decimal.Decimal
	Currency     string
	Paid         bool
}

// Settlement records a completed payment against a document that has no
// native "paid" flag (the Sales Invoice path in the host platform).
type Settlement struct {
	Doctype       string
	Docname       string
	TransactionID string
	Amount        decimal.Decimal
	CreatedAt     time.Time
}

// DocumentStore is the platform document collaborator.
type DocumentStore interface {
	GetDocument(ctx context.Context, doctype, docname string) (ReferenceDoc, error)
	// MarkAsPaid flips the paid flag on documents that carry one.
	MarkAsPaid(ctx context.Context, doctype, docname, transactionID string) error
	// CreateSettlement appends a settlement record for the document.
	CreateSettlement(ctx context.Context, s Settlement) error
}

// CustomerProfile is the slice of the platform customer record used to build
// remote customer payloads.
type CustomerProfile struct {
	Name     string // stable unique identifier
	FullName string
	Email    string
	Phone    string
	Group    string
}

// CustomerStore is the platform customer collaborator.
type CustomerStore interface {
	GetCustomer(ctx context.Context, name string) (CustomerProfile, error)
}

// MemoryStore implements both collaborators in memory.
type MemoryStore struct {
	mu          sync.Mutex
	documents   map[string]ReferenceDoc
	customers   map[string]CustomerProfile
	settlements []Settlement
	paidMarks   map[string]int // doctype/docname -> times marked paid
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		documents: make(map[string]ReferenceDoc),
		customers: make(map[string]CustomerProfile),
		paidMarks: make(map[string]int),
	}
}

func docKey(doctype, docname string) string { return doctype + "/" + docname }

func (s *MemoryStore) PutDocument(doc ReferenceDoc) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.documents[docKey(doc.Doctype, doc.Docname)] = doc
}

func (s *MemoryStore) PutCustomer(c CustomerProfile) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.customers[c.Name] = c
}

func (s *MemoryStore) GetDocument(ctx context.Context, doctype, docname string) (ReferenceDoc, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	doc, ok := s.documents[docKey(doctype, docname)]
	if !ok {
		return ReferenceDoc{}, fmt.Errorf("document %s/%s not found", doctype, docname)
	}
	return doc, nil
}

func (s *MemoryStore) MarkAsPaid(ctx context.Context, doctype, docname, transactionID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	key := docKey(doctype, docname)
	doc, ok := s.documents[key]
	if !ok {
		return fmt.Errorf("document %s/%s not found", doctype, docname)
	}
	doc.Paid = true
	s.documents[key] = doc
	s.paidMarks[key]++
	return nil
}

func (s *MemoryStore) CreateSettlement(ctx context.Context, settlement Settlement) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.settlements = append(s.settlements, settlement)
	return nil
}

func (s *MemoryStore) GetCustomer(ctx context.Context, name string) (CustomerProfile, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.customers[name]
	if !ok {
		return CustomerProfile{}, fmt.Errorf("customer %s not found", name)
	}
	return c, nil
}

// PaidCount reports how many times a document was marked paid. Test hook for
// the exactly-once settlement property.
func (s *MemoryStore) PaidCount(doctype, docname string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.paidMarks[docKey(doctype, docname)]
}

// Settlements returns a copy of the recorded settlements.
func (s *MemoryStore) Settlements() []Settlement {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Settlement, len(s.settlements))
	copy(out, s.settlements)
	return out
}

var (
	_ DocumentStore = (*MemoryStore)(nil)
	_ CustomerStore = (*MemoryStore)(nil)
)
