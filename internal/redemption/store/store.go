// Package store holds the RequestStore backends. Every backend offers the
// same contract: reads return private copies, and CompareAndSwap is the only
// way to change a stored request.
package store

import (
	"slices"
	"strings"

	"redeem/internal/redemption/models"
	id "redeem/pkg/domain"
)

// Mutator edits a private copy of the stored request. Returning an error
// aborts the swap with nothing committed.
type Mutator func(req *models.RedemptionRequest) error

// ListFilter narrows List. Zero fields match everything.
type ListFilter struct {
	InvestorID id.InvestorID
	Status     models.Status
	Limit      int
}

// Matches reports whether req passes the filter.
func (f ListFilter) Matches(req *models.RedemptionRequest) bool {
	if f.InvestorID != "" && req.InvestorID != f.InvestorID {
		return false
	}
	if f.Status != "" && req.Status != f.Status {
		return false
	}
	return true
}

// sortAndLimit orders by RequestedAt then ID, and applies the limit.
func sortAndLimit(reqs []*models.RedemptionRequest, limit int) []*models.RedemptionRequest {
	slices.SortFunc(reqs, func(a, b *models.RedemptionRequest) int {
		if c := a.RequestedAt.Compare(b.RequestedAt); c != 0 {
			return c
		}
		return strings.Compare(string(a.ID), string(b.ID))
	})
	if limit > 0 && len(reqs) > limit {
		reqs = reqs[:limit]
	}
	return reqs
}

// applyMutation runs mutate on a copy of current and returns the copy ready to
// be committed at current.Version+1.
func applyMutation(current *models.RedemptionRequest, mutate Mutator) (*models.RedemptionRequest, error) {
	next := current.Clone()
	if err := mutate(next); err != nil {
		return nil, err
	}
	next.ID = current.ID
	next.Version = current.Version + 1
	if err := next.CheckInvariants(); err != nil {
		return nil, err
	}
	return next, nil
}
