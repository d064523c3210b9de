package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/redis/go-redis/v9"

	"redeem/internal/redemption/models"
	id "redeem/pkg/domain"
	"redeem/pkg/platform/sentinel"
)

const (
	requestKeyPrefix  = "redemption:req:"
	investorKeyPrefix = "redemption:investor:"
	// indexKey is a sorted set of every request id scored by requested_at.
	indexKey = "redemption:index"
)

// Redis is a RequestStore using WATCH/MULTI for compare-and-swap.
type Redis struct {
	client redis.UniversalClient
}

func NewRedis(client redis.UniversalClient) *Redis {
	return &Redis{client: client}
}

func requestKey(requestID id.RequestID) string {
	return requestKeyPrefix + string(requestID)
}

func investorKey(investorID id.InvestorID) string {
	return investorKeyPrefix + string(investorID)
}

// Create stores and indexes the request in one MULTI/EXEC under a WATCH on
// the request key, so a concurrent create aborts the transaction instead of
// overwriting. Redis does not roll back a MULTI when one command fails, so a
// server-side error removes whatever the transaction did write.
func (s *Redis) Create(ctx context.Context, req *models.RedemptionRequest) error {
	stored := req.Clone()
	stored.Version = 1
	payload, err := json.Marshal(stored)
	if err != nil {
		return fmt.Errorf("marshal redemption request: %w", err)
	}
	key := requestKey(req.ID)

	err = s.client.Watch(ctx, func(tx *redis.Tx) error {
		exists, err := tx.Exists(ctx, key).Result()
		if err != nil {
			return err
		}
		if exists > 0 {
			return sentinel.ErrAlreadyUsed
		}
		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Set(ctx, key, payload, 0)
			pipe.ZAdd(ctx, indexKey, redis.Z{Score: float64(req.RequestedAt.UnixNano()), Member: string(req.ID)})
			if req.InvestorID != "" {
				pipe.SAdd(ctx, investorKey(req.InvestorID), string(req.ID))
			}
			return nil
		})
		return err
	}, key)

	switch {
	case err == nil:
		req.Version = 1
		return nil
	case errors.Is(err, sentinel.ErrAlreadyUsed), errors.Is(err, redis.TxFailedErr):
		return sentinel.ErrAlreadyUsed
	}

	var replyErr redis.Error
	if errors.As(err, &replyErr) {
		s.undoCreate(ctx, req)
	}
	return fmt.Errorf("create redemption request: %w", err)
}

// undoCreate runs only after EXEC was applied with a failed command, when the
// WATCH guaranteed the key was ours.
func (s *Redis) undoCreate(ctx context.Context, req *models.RedemptionRequest) {
	pipe := s.client.TxPipeline()
	pipe.Del(ctx, requestKey(req.ID))
	pipe.ZRem(ctx, indexKey, string(req.ID))
	if req.InvestorID != "" {
		pipe.SRem(ctx, investorKey(req.InvestorID), string(req.ID))
	}
	_, _ = pipe.Exec(ctx)
}

func (s *Redis) Get(ctx context.Context, requestID id.RequestID) (*models.RedemptionRequest, error) {
	return getRequest(ctx, s.client, requestID)
}

type getter interface {
	Get(ctx context.Context, key string) *redis.StringCmd
}

func getRequest(ctx context.Context, c getter, requestID id.RequestID) (*models.RedemptionRequest, error) {
	raw, err := c.Get(ctx, requestKey(requestID)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, sentinel.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get redemption request: %w", err)
	}
	var req models.RedemptionRequest
	if err := json.Unmarshal(raw, &req); err != nil {
		return nil, fmt.Errorf("unmarshal redemption request: %w", err)
	}
	return &req, nil
}

// CompareAndSwap watches the request key; a write by anyone else between the
// read and EXEC aborts the transaction and surfaces as sentinel.ErrConflict.
func (s *Redis) CompareAndSwap(ctx context.Context, requestID id.RequestID, expectedVersion int64, mutate Mutator) (*models.RedemptionRequest, error) {
	key := requestKey(requestID)
	var committed *models.RedemptionRequest

	err := s.client.Watch(ctx, func(tx *redis.Tx) error {
		current, err := getRequest(ctx, tx, requestID)
		if err != nil {
			return err
		}
		if current.Version != expectedVersion {
			return sentinel.ErrConflict
		}
		next, err := applyMutation(current, mutate)
		if err != nil {
			return err
		}
		payload, err := json.Marshal(next)
		if err != nil {
			return fmt.Errorf("marshal redemption request: %w", err)
		}
		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Set(ctx, key, payload, 0)
			return nil
		})
		if err != nil {
			return err
		}
		committed = next
		return nil
	}, key)

	if errors.Is(err, redis.TxFailedErr) {
		return nil, sentinel.ErrConflict
	}
	if err != nil {
		return nil, err
	}
	return committed, nil
}

func (s *Redis) List(ctx context.Context, filter ListFilter) ([]*models.RedemptionRequest, error) {
	var (
		ids []string
		err error
	)
	if filter.InvestorID != "" {
		ids, err = s.client.SMembers(ctx, investorKey(filter.InvestorID)).Result()
	} else {
		ids, err = s.client.ZRange(ctx, indexKey, 0, -1).Result()
	}
	if err != nil {
		return nil, fmt.Errorf("list redemption ids: %w", err)
	}
	if len(ids) == 0 {
		return nil, nil
	}

	keys := make([]string, len(ids))
	for i, reqID := range ids {
		keys[i] = requestKey(id.RequestID(reqID))
	}
	values, err := s.client.MGet(ctx, keys...).Result()
	if err != nil {
		return nil, fmt.Errorf("load redemption requests: %w", err)
	}

	out := make([]*models.RedemptionRequest, 0, len(values))
	for _, v := range values {
		raw, ok := v.(string)
		if !ok {
			continue
		}
		var req models.RedemptionRequest
		if err := json.Unmarshal([]byte(raw), &req); err != nil {
			return nil, fmt.Errorf("unmarshal redemption request: %w", err)
		}
		if filter.Matches(&req) {
			out = append(out, &req)
		}
	}
	return sortAndLimit(out, filter.Limit), nil
}
