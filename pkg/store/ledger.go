// Package store records routed transactions. The router writes a record for
// every transaction the provider answered; nothing is written when the
// provider was never reached. Transaction ids are not unique keys: a client
// may reuse one and each attempt is recorded, the latest wins on read.
package store

import (
	"context"
	"sync"

	"github.com/Mindburn-Labs/aatp-router/pkg/contracts"
)

// Ledger is the metering/audit sink contract.
type Ledger interface {
	Record(ctx context.Context, rec *contracts.TransactionRecord) error
	Get(ctx context.Context, transactionID string) (*contracts.TransactionRecord, error)
}

// MemoryLedger keeps records in process memory.
type MemoryLedger struct {
	mu      sync.RWMutex
	records map[string]*contracts.TransactionRecord
	count   int
}

// NewMemoryLedger creates an empty ledger.
func NewMemoryLedger() *MemoryLedger {
	return &MemoryLedger{records: make(map[string]*contracts.TransactionRecord)}
}

func (l *MemoryLedger) Record(_ context.Context, rec *contracts.TransactionRecord) error {
	cp := *rec
	l.mu.Lock()
	l.records[rec.TransactionID] = &cp
	l.count++
	l.mu.Unlock()
	return nil
}

func (l *MemoryLedger) Get(_ context.Context, transactionID string) (*contracts.TransactionRecord, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	rec, ok := l.records[transactionID]
	if !ok {
		return nil, contracts.ErrTransactionNotFound
	}
	cp := *rec
	return &cp, nil
}

// Count returns how many records were written, including overwritten ids.
func (l *MemoryLedger) Count() int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.count
}
