package store

import (
	"context"
	"sync"

	"redeem/internal/redemption/models"
	id "redeem/pkg/domain"
	"redeem/pkg/platform/sentinel"
)

// numShards spreads requests across independent locks so commits on
// different requests never contend.
const numShards = 128

type shard struct {
	mu    sync.RWMutex
	items map[id.RequestID]*models.RedemptionRequest
}

// InMemory is a RequestStore guarded by sharded mutexes keyed by request id.
type InMemory struct {
	shards [numShards]shard
}

func NewInMemory() *InMemory {
	s := &InMemory{}
	for i := range s.shards {
		s.shards[i].items = make(map[id.RequestID]*models.RedemptionRequest)
	}
	return s
}

func (s *InMemory) shardFor(requestID id.RequestID) *shard {
	return &s.shards[hashString(string(requestID))%numShards]
}

// hashString is FNV-1a.
func hashString(str string) uint32 {
	const (
		fnvOffset = 2166136261
		fnvPrime  = 16777619
	)
	h := uint32(fnvOffset)
	for i := 0; i < len(str); i++ {
		h ^= uint32(str[i])
		h *= fnvPrime
	}
	return h
}

// Create stores req at version 1. Fails with sentinel.ErrAlreadyUsed when the
// id exists.
func (s *InMemory) Create(ctx context.Context, req *models.RedemptionRequest) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	sh := s.shardFor(req.ID)
	sh.mu.Lock()
	defer sh.mu.Unlock()

	if _, exists := sh.items[req.ID]; exists {
		return sentinel.ErrAlreadyUsed
	}
	stored := req.Clone()
	stored.Version = 1
	sh.items[req.ID] = stored
	req.Version = 1
	return nil
}

// Get returns a copy of the stored request.
func (s *InMemory) Get(ctx context.Context, requestID id.RequestID) (*models.RedemptionRequest, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	sh := s.shardFor(requestID)
	sh.mu.RLock()
	defer sh.mu.RUnlock()

	req, ok := sh.items[requestID]
	if !ok {
		return nil, sentinel.ErrNotFound
	}
	return req.Clone(), nil
}

// CompareAndSwap applies mutate when the stored version equals
// expectedVersion. The check, the mutation and the version bump happen under
// the request's shard lock.
func (s *InMemory) CompareAndSwap(ctx context.Context, requestID id.RequestID, expectedVersion int64, mutate Mutator) (*models.RedemptionRequest, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	sh := s.shardFor(requestID)
	sh.mu.Lock()
	defer sh.mu.Unlock()

	current, ok := sh.items[requestID]
	if !ok {
		return nil, sentinel.ErrNotFound
	}
	if current.Version != expectedVersion {
		return nil, sentinel.ErrConflict
	}
	next, err := applyMutation(current, mutate)
	if err != nil {
		return nil, err
	}
	sh.items[requestID] = next
	return next.Clone(), nil
}

// List scans every shard. Each shard is read under its own lock, so the
// result is per-request consistent rather than a global snapshot.
func (s *InMemory) List(ctx context.Context, filter ListFilter) ([]*models.RedemptionRequest, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	var out []*models.RedemptionRequest
	for i := range s.shards {
		sh := &s.shards[i]
		sh.mu.RLock()
		for _, req := range sh.items {
			if filter.Matches(req) {
				out = append(out, req.Clone())
			}
		}
		sh.mu.RUnlock()
	}
	return sortAndLimit(out, filter.Limit), nil
}
