package automation

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/renderkit/renderkit/pkg/cache"
)

// ExecutionStore persists execution records. Implementations must bound
// their growth: the memory store evicts by capacity and TTL, the sqlite
// store relies on an explicit retention sweep.
type ExecutionStore interface {
	// CreateExecution stores a new execution record
	CreateExecution(ctx context.Context, exec *Execution) error

	// GetExecution retrieves an execution by ID
	GetExecution(ctx context.Context, id uuid.UUID) (*Execution, error)

	// GetExecutionsByAutomation lists an automation's executions, newest first
	GetExecutionsByAutomation(ctx context.Context, automationID uuid.UUID) ([]*Execution, error)

	// SetExecutionJob links the enqueued job to its execution
	SetExecutionJob(ctx context.Context, executionID, jobID uuid.UUID) error

	// ResolveExecutionByJob marks the execution tracking jobID as succeeded
	// or failed and returns the resolved record
	ResolveExecutionByJob(ctx context.Context, jobID uuid.UUID, status ExecutionStatus, errMsg string) (*Execution, error)

	// DeleteExecution removes an execution record
	DeleteExecution(ctx context.Context, executionID uuid.UUID) error
}

const (
	defaultStoreCapacity = 10_000
	defaultStoreTTL      = 24 * time.Hour
)

// MemoryExecutionStore is a bounded in-memory execution store. Capacity
// eviction drops the least recently touched records and the TTL expires
// resolved records that nothing polls anymore, so the store cannot grow
// without limit no matter how many automations fire.
type MemoryExecutionStore struct {
	executions *cache.TTLCache[uuid.UUID, *Execution]

	// Secondary indexes live outside the cache; the eviction callback keeps
	// them consistent when records age out.
	mu           sync.RWMutex
	byAutomation map[uuid.UUID]map[uuid.UUID]struct{}
	byJob        map[uuid.UUID]uuid.UUID
}

var _ ExecutionStore = (*MemoryExecutionStore)(nil)

// NewMemoryExecutionStore creates a store holding at most capacity records,
// each expiring ttl after its last write. Non-positive arguments fall back
// to 10k records and 24h.
func NewMemoryExecutionStore(capacity int, ttl time.Duration) *MemoryExecutionStore {
	if capacity <= 0 {
		capacity = defaultStoreCapacity
	}
	if ttl <= 0 {
		ttl = defaultStoreTTL
	}

	s := &MemoryExecutionStore{
		executions:   cache.NewTTLCache[uuid.UUID, *Execution](capacity, ttl),
		byAutomation: make(map[uuid.UUID]map[uuid.UUID]struct{}),
		byJob:        make(map[uuid.UUID]uuid.UUID),
	}

	s.executions.SetEvictCallback(func(id uuid.UUID, exec *Execution) {
		s.mu.Lock()
		defer s.mu.Unlock()
		s.dropIndexesLocked(id, exec)
	})

	return s
}

// CreateExecution implements ExecutionStore
func (s *MemoryExecutionStore) CreateExecution(ctx context.Context, exec *Execution) error {
	if exec == nil {
		return ErrExecutionNil
	}
	if _, exists := s.executions.Get(exec.ID); exists {
		return ErrExecutionExists
	}

	s.executions.Put(exec.ID, cloneExecution(exec))

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.byAutomation[exec.AutomationID] == nil {
		s.byAutomation[exec.AutomationID] = make(map[uuid.UUID]struct{})
	}
	s.byAutomation[exec.AutomationID][exec.ID] = struct{}{}
	if exec.JobID != uuid.Nil {
		s.byJob[exec.JobID] = exec.ID
	}

	return nil
}

// GetExecution implements ExecutionStore
func (s *MemoryExecutionStore) GetExecution(ctx context.Context, id uuid.UUID) (*Execution, error) {
	exec, ok := s.executions.Get(id)
	if !ok {
		return nil, ErrExecutionNotFound
	}
	return cloneExecution(exec), nil
}

// GetExecutionsByAutomation implements ExecutionStore
func (s *MemoryExecutionStore) GetExecutionsByAutomation(ctx context.Context, automationID uuid.UUID) ([]*Execution, error) {
	s.mu.RLock()
	ids := make([]uuid.UUID, 0, len(s.byAutomation[automationID]))
	for id := range s.byAutomation[automationID] {
		ids = append(ids, id)
	}
	s.mu.RUnlock()

	// Reads go through the cache so expired records drop out here too
	executions := make([]*Execution, 0, len(ids))
	for _, id := range ids {
		if exec, ok := s.executions.Get(id); ok {
			executions = append(executions, cloneExecution(exec))
		}
	}

	sort.Slice(executions, func(i, j int) bool {
		return executions[i].CreatedAt.After(executions[j].CreatedAt)
	})

	return executions, nil
}

// SetExecutionJob implements ExecutionStore
func (s *MemoryExecutionStore) SetExecutionJob(ctx context.Context, executionID, jobID uuid.UUID) error {
	exec, ok := s.executions.Get(executionID)
	if !ok {
		return ErrExecutionNotFound
	}

	updated := cloneExecution(exec)
	updated.JobID = jobID
	s.executions.Put(executionID, updated)

	s.mu.Lock()
	s.byJob[jobID] = executionID
	s.mu.Unlock()

	return nil
}

// ResolveExecutionByJob implements ExecutionStore
func (s *MemoryExecutionStore) ResolveExecutionByJob(ctx context.Context, jobID uuid.UUID, status ExecutionStatus, errMsg string) (*Execution, error) {
	s.mu.RLock()
	executionID, ok := s.byJob[jobID]
	s.mu.RUnlock()
	if !ok {
		return nil, ErrExecutionNotFound
	}

	exec, found := s.executions.Get(executionID)
	if !found {
		return nil, ErrExecutionNotFound
	}

	updated := cloneExecution(exec)
	updated.Status = status
	now := time.Now()
	updated.CompletedAt = &now
	if errMsg != "" {
		updated.Error = &errMsg
	}
	s.executions.Put(executionID, updated)

	return cloneExecution(updated), nil
}

// DeleteExecution implements ExecutionStore
func (s *MemoryExecutionStore) DeleteExecution(ctx context.Context, executionID uuid.UUID) error {
	// Remove fires the eviction callback, which clears the indexes
	if _, existed := s.executions.Remove(executionID); !existed {
		return ErrExecutionNotFound
	}
	return nil
}

// Len reports the number of stored execution records.
func (s *MemoryExecutionStore) Len() int {
	return s.executions.Len()
}

// dropIndexesLocked must be called with s.mu held.
func (s *MemoryExecutionStore) dropIndexesLocked(id uuid.UUID, exec *Execution) {
	if set, ok := s.byAutomation[exec.AutomationID]; ok {
		delete(set, id)
		if len(set) == 0 {
			delete(s.byAutomation, exec.AutomationID)
		}
	}
	if exec.JobID != uuid.Nil {
		delete(s.byJob, exec.JobID)
	}
}

func cloneExecution(e *Execution) *Execution {
	clone := *e
	if e.Error != nil {
		v := *e.Error
		clone.Error = &v
	}
	if e.CompletedAt != nil {
		v := *e.CompletedAt
		clone.CompletedAt = &v
	}
	return &clone
}
