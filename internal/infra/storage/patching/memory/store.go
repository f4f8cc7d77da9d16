// Package memory provides an in-memory patching.OperationRepository for
// tests and single-node development without Postgres.
package memory

import (
	"context"
	"sync"

	"github.com/google/uuid"

	"github.com/harborguard/scanhub/internal/domain/patching"
)

var _ patching.OperationRepository = (*OperationStore)(nil)

// OperationStore is an in-memory patching.OperationRepository.
type OperationStore struct {
	mu      sync.RWMutex
	ops     map[uuid.UUID]*patching.Operation
	results map[uuid.UUID][]patching.Result
}

// NewOperationStore creates an empty in-memory operation store.
func NewOperationStore() *OperationStore {
	return &OperationStore{
		ops:     make(map[uuid.UUID]*patching.Operation),
		results: make(map[uuid.UUID][]patching.Result),
	}
}

func (s *OperationStore) CreateOperation(_ context.Context, op *patching.Operation) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.ops[op.ID()] = op
	return nil
}

func (s *OperationStore) UpdateOperation(_ context.Context, op *patching.Operation) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.ops[op.ID()]; !ok {
		return patching.ErrOperationNotFound
	}
	s.ops[op.ID()] = op
	return nil
}

func (s *OperationStore) GetOperation(_ context.Context, id uuid.UUID) (*patching.Operation, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	op, ok := s.ops[id]
	if !ok {
		return nil, patching.ErrOperationNotFound
	}
	return op, nil
}

func (s *OperationStore) AppendResults(_ context.Context, operationID uuid.UUID, results []patching.Result) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.results[operationID] = append(s.results[operationID], results...)
	return nil
}

func (s *OperationStore) ListResults(_ context.Context, operationID uuid.UUID) ([]patching.Result, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]patching.Result(nil), s.results[operationID]...), nil
}
