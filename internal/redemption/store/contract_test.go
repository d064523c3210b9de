package store_test

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/stretchr/testify/suite"

	"redeem/internal/redemption/models"
	"redeem/internal/redemption/store"
	id "redeem/pkg/domain"
	dErrors "redeem/pkg/domain-errors"
	"redeem/pkg/platform/sentinel"
)

type requestStore interface {
	Create(ctx context.Context, req *models.RedemptionRequest) error
	Get(ctx context.Context, requestID id.RequestID) (*models.RedemptionRequest, error)
	CompareAndSwap(ctx context.Context, requestID id.RequestID, expectedVersion int64, mutate store.Mutator) (*models.RedemptionRequest, error)
	List(ctx context.Context, filter store.ListFilter) ([]*models.RedemptionRequest, error)
}

// ContractSuite is the behavior every backend shares. Backends embed it and
// set store in SetupTest.
type ContractSuite struct {
	suite.Suite
	store requestStore
	ctx   context.Context
}

var baseTime = time.Date(2025, 6, 1, 9, 0, 0, 0, time.UTC)

func (s *ContractSuite) newRequest(investor id.InvestorID, offset time.Duration) *models.RedemptionRequest {
	req, err := models.NewRedemptionRequest(
		id.NewRequestID(),
		investor,
		[]id.ApproverID{"alice", "bob", "carol"},
		2,
		map[string]string{"fund": "alpha"},
		baseTime.Add(offset),
	)
	s.Require().NoError(err)
	return req
}

func (s *ContractSuite) TestCreateAndGet() {
	s.Run("stores at version 1", func() {
		req := s.newRequest("inv-1", 0)
		s.Require().NoError(s.store.Create(s.ctx, req))
		s.Equal(int64(1), req.Version)

		found, err := s.store.Get(s.ctx, req.ID)
		s.Require().NoError(err)
		s.Equal(req.ID, found.ID)
		s.Equal(models.StatusPending, found.Status)
		s.Equal(int64(1), found.Version)
		s.Equal(req.ApproverIDs(), found.ApproverIDs())
		s.Equal("alpha", found.Metadata["fund"])
	})

	s.Run("duplicate id is rejected", func() {
		req := s.newRequest("inv-1", 0)
		s.Require().NoError(s.store.Create(s.ctx, req))
		err := s.store.Create(s.ctx, req.Clone())
		s.ErrorIs(err, sentinel.ErrAlreadyUsed)
	})

	s.Run("unknown id is not found", func() {
		_, err := s.store.Get(s.ctx, id.NewRequestID())
		s.ErrorIs(err, sentinel.ErrNotFound)
	})
}

func (s *ContractSuite) TestCompareAndSwap() {
	s.Run("commits and bumps version", func() {
		req := s.newRequest("", 0)
		s.Require().NoError(s.store.Create(s.ctx, req))

		updated, err := s.store.CompareAndSwap(s.ctx, req.ID, 1, func(r *models.RedemptionRequest) error {
			r.ApplyApproval("alice", baseTime.Add(time.Minute))
			return nil
		})
		s.Require().NoError(err)
		s.Equal(int64(2), updated.Version)
		s.Equal(1, updated.ApprovedCount())

		found, err := s.store.Get(s.ctx, req.ID)
		s.Require().NoError(err)
		s.Equal(int64(2), found.Version)
		s.True(found.Approvers[0].Approved)
	})

	s.Run("returned request is a private copy", func() {
		req := s.newRequest("", 0)
		s.Require().NoError(s.store.Create(s.ctx, req))

		found, err := s.store.Get(s.ctx, req.ID)
		s.Require().NoError(err)
		found.Approvers[0].Approved = true

		again, err := s.store.Get(s.ctx, req.ID)
		s.Require().NoError(err)
		s.False(again.Approvers[0].Approved)
	})

	s.Run("stale version conflicts without committing", func() {
		req := s.newRequest("", 0)
		s.Require().NoError(s.store.Create(s.ctx, req))

		called := false
		_, err := s.store.CompareAndSwap(s.ctx, req.ID, 7, func(*models.RedemptionRequest) error {
			called = true
			return nil
		})
		s.ErrorIs(err, sentinel.ErrConflict)
		s.False(called, "mutator must not run on a version mismatch")
	})

	s.Run("missing request is not found", func() {
		_, err := s.store.CompareAndSwap(s.ctx, id.NewRequestID(), 1, func(*models.RedemptionRequest) error { return nil })
		s.ErrorIs(err, sentinel.ErrNotFound)
	})

	s.Run("mutator error aborts the swap", func() {
		req := s.newRequest("", 0)
		s.Require().NoError(s.store.Create(s.ctx, req))

		boom := errors.New("boom")
		_, err := s.store.CompareAndSwap(s.ctx, req.ID, 1, func(r *models.RedemptionRequest) error {
			r.ApplyApproval("alice", baseTime)
			return boom
		})
		s.ErrorIs(err, boom)

		found, err := s.store.Get(s.ctx, req.ID)
		s.Require().NoError(err)
		s.Equal(int64(1), found.Version)
		s.Zero(found.ApprovedCount())
	})

	s.Run("illegal state is never persisted", func() {
		req := s.newRequest("", 0)
		s.Require().NoError(s.store.Create(s.ctx, req))

		_, err := s.store.CompareAndSwap(s.ctx, req.ID, 1, func(r *models.RedemptionRequest) error {
			r.Status = models.StatusRejected
			return nil
		})
		s.True(dErrors.HasCode(err, dErrors.CodeInternal))

		found, err := s.store.Get(s.ctx, req.ID)
		s.Require().NoError(err)
		s.Equal(models.StatusPending, found.Status)
	})
}

// TestConcurrentSwapsSameVersion verifies that racing writers holding the
// same version produce exactly one commit.
func (s *ContractSuite) TestConcurrentSwapsSameVersion() {
	req := s.newRequest("", 0)
	s.Require().NoError(s.store.Create(s.ctx, req))

	const goroutines = 20
	var (
		wg        sync.WaitGroup
		successes atomic.Int32
		conflicts atomic.Int32
	)
	for i := 0; i < goroutines; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := s.store.CompareAndSwap(s.ctx, req.ID, 1, func(r *models.RedemptionRequest) error {
				r.NextSequence()
				return nil
			})
			switch {
			case err == nil:
				successes.Add(1)
			case errors.Is(err, sentinel.ErrConflict):
				conflicts.Add(1)
			}
		}()
	}
	wg.Wait()

	s.Equal(int32(1), successes.Load())
	s.Equal(int32(goroutines-1), conflicts.Load())

	found, err := s.store.Get(s.ctx, req.ID)
	s.Require().NoError(err)
	s.Equal(int64(2), found.Version)
	s.Equal(int64(1), found.Sequence)
}

func (s *ContractSuite) TestList() {
	first := s.newRequest("inv-a", 0)
	second := s.newRequest("inv-a", time.Minute)
	other := s.newRequest("inv-b", 2*time.Minute)
	for _, r := range []*models.RedemptionRequest{second, other, first} {
		s.Require().NoError(s.store.Create(s.ctx, r))
	}
	_, err := s.store.CompareAndSwap(s.ctx, second.ID, 1, func(r *models.RedemptionRequest) error {
		r.ApplyRejection("bob", "limits", baseTime.Add(time.Hour))
		return nil
	})
	s.Require().NoError(err)

	s.Run("by investor in request order", func() {
		got, err := s.store.List(s.ctx, store.ListFilter{InvestorID: "inv-a"})
		s.Require().NoError(err)
		s.Require().Len(got, 2)
		s.Equal(first.ID, got[0].ID)
		s.Equal(second.ID, got[1].ID)
	})

	s.Run("by status", func() {
		got, err := s.store.List(s.ctx, store.ListFilter{Status: models.StatusRejected})
		s.Require().NoError(err)
		s.Require().Len(got, 1)
		s.Equal(second.ID, got[0].ID)
	})

	s.Run("limit", func() {
		got, err := s.store.List(s.ctx, store.ListFilter{Limit: 2})
		s.Require().NoError(err)
		s.Len(got, 2)
	})

	s.Run("no match", func() {
		got, err := s.store.List(s.ctx, store.ListFilter{InvestorID: "inv-z"})
		s.Require().NoError(err)
		s.Empty(got)
	})
}
