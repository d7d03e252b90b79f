package approval

import (
	"context"
	"sort"
	"sync"

	"github.com/Mindburn-Labs/aatp-router/pkg/contracts"
)

// Store persists approval requests. Implementations must make
// CompareAndSwap atomic: the update applies only if the stored status still
// equals from, so concurrent deciders have exactly one winner.
type Store interface {
	// Create inserts a new request; ErrDuplicateApprovalID if the id exists.
	Create(ctx context.Context, req *contracts.ApprovalRequest) error
	// Get returns the stored request; ErrApprovalNotFound if absent.
	Get(ctx context.Context, id string) (*contracts.ApprovalRequest, error)
	// CompareAndSwap replaces the record with next if its status is from.
	CompareAndSwap(ctx context.Context, from contracts.ApprovalStatus, next *contracts.ApprovalRequest) (bool, error)
	// List returns requests with the given status, or all when status is empty.
	List(ctx context.Context, status contracts.ApprovalStatus) ([]*contracts.ApprovalRequest, error)
}

// MemoryStore keeps approvals in process memory.
type MemoryStore struct {
	mu    sync.RWMutex
	items map[string]*contracts.ApprovalRequest
}

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{items: make(map[string]*contracts.ApprovalRequest)}
}

func (s *MemoryStore) Create(_ context.Context, req *contracts.ApprovalRequest) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.items[req.ApprovalID]; ok {
		return contracts.ErrDuplicateApprovalID
	}
	s.items[req.ApprovalID] = req.Clone()
	return nil
}

func (s *MemoryStore) Get(_ context.Context, id string) (*contracts.ApprovalRequest, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	req, ok := s.items[id]
	if !ok {
		return nil, contracts.ErrApprovalNotFound
	}
	return req.Clone(), nil
}

func (s *MemoryStore) CompareAndSwap(_ context.Context, from contracts.ApprovalStatus, next *contracts.ApprovalRequest) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	cur, ok := s.items[next.ApprovalID]
	if !ok {
		return false, contracts.ErrApprovalNotFound
	}
	if cur.Status != from {
		return false, nil
	}
	s.items[next.ApprovalID] = next.Clone()
	return true, nil
}

func (s *MemoryStore) List(_ context.Context, status contracts.ApprovalStatus) ([]*contracts.ApprovalRequest, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]*contracts.ApprovalRequest, 0, len(s.items))
	for _, req := range s.items {
		if status == "" || req.Status == status {
			out = append(out, req.Clone())
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}
