package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/lib/pq"

	"redeem/internal/redemption/models"
	id "redeem/pkg/domain"
	"redeem/pkg/platform/sentinel"
	txcontext "redeem/pkg/platform/tx"
)

// PostgresSchema creates the request table. Applied by the server on startup.
const PostgresSchema = `
CREATE TABLE IF NOT EXISTS redemption_requests (
	id                 TEXT PRIMARY KEY,
	investor_id        TEXT        NOT NULL DEFAULT '',
	status             TEXT        NOT NULL,
	required_approvals INTEGER     NOT NULL,
	approvers          JSONB       NOT NULL,
	rejection          JSONB,
	metadata           JSONB,
	requested_at       TIMESTAMPTZ NOT NULL,
	updated_at         TIMESTAMPTZ NOT NULL,
	version            BIGINT      NOT NULL,
	sequence           BIGINT      NOT NULL DEFAULT 0
);
CREATE INDEX IF NOT EXISTS redemption_requests_investor_idx ON redemption_requests (investor_id, requested_at);
CREATE INDEX IF NOT EXISTS redemption_requests_status_idx ON redemption_requests (status, requested_at);
`

const uniqueViolation = "23505"

// Postgres is a RequestStore with optimistic concurrency on the version column.
type Postgres struct {
	db *sql.DB
}

func NewPostgres(db *sql.DB) *Postgres {
	return &Postgres{db: db}
}

type dbExecutor interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

func (s *Postgres) execer(ctx context.Context) dbExecutor {
	if tx, ok := txcontext.From(ctx); ok {
		return tx
	}
	return s.db
}

// row is the column-level encoding of a request.
type row struct {
	approvers []byte
	rejection []byte
	metadata  []byte
}

func encode(req *models.RedemptionRequest) (row, error) {
	var r row
	var err error
	if r.approvers, err = json.Marshal(req.Approvers); err != nil {
		return r, fmt.Errorf("marshal approvers: %w", err)
	}
	if req.Rejection != nil {
		if r.rejection, err = json.Marshal(req.Rejection); err != nil {
			return r, fmt.Errorf("marshal rejection: %w", err)
		}
	}
	if req.Metadata != nil {
		if r.metadata, err = json.Marshal(req.Metadata); err != nil {
			return r, fmt.Errorf("marshal metadata: %w", err)
		}
	}
	return r, nil
}

func (s *Postgres) Create(ctx context.Context, req *models.RedemptionRequest) error {
	enc, err := encode(req)
	if err != nil {
		return err
	}
	query := `
		INSERT INTO redemption_requests (
			id, investor_id, status, required_approvals, approvers, rejection,
			metadata, requested_at, updated_at, version, sequence
		)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, 1, $10)
		ON CONFLICT (id) DO NOTHING
	`
	res, err := s.execer(ctx).ExecContext(ctx, query,
		string(req.ID),
		string(req.InvestorID),
		string(req.Status),
		req.RequiredApprovals,
		enc.approvers,
		nullableJSON(enc.rejection),
		nullableJSON(enc.metadata),
		req.RequestedAt,
		req.UpdatedAt,
		req.Sequence,
	)
	if err != nil {
		var pqErr *pq.Error
		if errors.As(err, &pqErr) && pqErr.Code == uniqueViolation {
			return sentinel.ErrAlreadyUsed
		}
		return fmt.Errorf("insert redemption request: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("insert redemption request: %w", err)
	}
	if n == 0 {
		return sentinel.ErrAlreadyUsed
	}
	req.Version = 1
	return nil
}

const selectRequest = `
	SELECT id, investor_id, status, required_approvals, approvers, rejection,
		   metadata, requested_at, updated_at, version, sequence
	FROM redemption_requests
`

func (s *Postgres) Get(ctx context.Context, requestID id.RequestID) (*models.RedemptionRequest, error) {
	req, err := scanRequest(s.execer(ctx).QueryRowContext(ctx, selectRequest+` WHERE id = $1`, string(requestID)))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, sentinel.ErrNotFound
	}
	return req, err
}

// CompareAndSwap reads the row, applies mutate, and writes it back only if the
// version column still equals expectedVersion.
func (s *Postgres) CompareAndSwap(ctx context.Context, requestID id.RequestID, expectedVersion int64, mutate Mutator) (*models.RedemptionRequest, error) {
	var committed *models.RedemptionRequest
	err := txcontext.Run(ctx, s.db, func(ctx context.Context) error {
		current, err := s.Get(ctx, requestID)
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
		enc, err := encode(next)
		if err != nil {
			return err
		}
		res, err := s.execer(ctx).ExecContext(ctx, `
			UPDATE redemption_requests
			SET status = $3, approvers = $4, rejection = $5, metadata = $6,
				updated_at = $7, version = $8, sequence = $9
			WHERE id = $1 AND version = $2
		`,
			string(requestID),
			expectedVersion,
			string(next.Status),
			enc.approvers,
			nullableJSON(enc.rejection),
			nullableJSON(enc.metadata),
			next.UpdatedAt,
			next.Version,
			next.Sequence,
		)
		if err != nil {
			return fmt.Errorf("update redemption request: %w", err)
		}
		n, err := res.RowsAffected()
		if err != nil {
			return fmt.Errorf("update redemption request: %w", err)
		}
		if n == 0 {
			return sentinel.ErrConflict
		}
		committed = next
		return nil
	})
	if err != nil {
		return nil, err
	}
	return committed, nil
}

func (s *Postgres) List(ctx context.Context, filter ListFilter) ([]*models.RedemptionRequest, error) {
	var (
		where []string
		args  []any
	)
	if filter.InvestorID != "" {
		args = append(args, string(filter.InvestorID))
		where = append(where, "investor_id = $"+strconv.Itoa(len(args)))
	}
	if filter.Status != "" {
		args = append(args, string(filter.Status))
		where = append(where, "status = $"+strconv.Itoa(len(args)))
	}
	query := selectRequest
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	query += " ORDER BY requested_at ASC, id ASC"
	if filter.Limit > 0 {
		args = append(args, filter.Limit)
		query += " LIMIT $" + strconv.Itoa(len(args))
	}

	rows, err := s.execer(ctx).QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query redemption requests: %w", err)
	}
	defer rows.Close()

	var out []*models.RedemptionRequest
	for rows.Next() {
		req, err := scanRequest(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, req)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate redemption requests: %w", err)
	}
	return out, nil
}

type scanner interface {
	Scan(dest ...any) error
}

func scanRequest(sc scanner) (*models.RedemptionRequest, error) {
	var (
		req                            models.RedemptionRequest
		reqID, investorID, status      string
		approvers, rejection, metadata []byte
	)
	err := sc.Scan(
		&reqID,
		&investorID,
		&status,
		&req.RequiredApprovals,
		&approvers,
		&rejection,
		&metadata,
		&req.RequestedAt,
		&req.UpdatedAt,
		&req.Version,
		&req.Sequence,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, err
		}
		return nil, fmt.Errorf("scan redemption request: %w", err)
	}
	req.ID = id.RequestID(reqID)
	req.InvestorID = id.InvestorID(investorID)
	req.Status = models.Status(status)
	if err := json.Unmarshal(approvers, &req.Approvers); err != nil {
		return nil, fmt.Errorf("unmarshal approvers: %w", err)
	}
	if len(rejection) > 0 {
		req.Rejection = &models.Rejection{}
		if err := json.Unmarshal(rejection, req.Rejection); err != nil {
			return nil, fmt.Errorf("unmarshal rejection: %w", err)
		}
	}
	if len(metadata) > 0 {
		if err := json.Unmarshal(metadata, &req.Metadata); err != nil {
			return nil, fmt.Errorf("unmarshal metadata: %w", err)
		}
	}
	return &req, nil
}

func nullableJSON(b []byte) any {
	if b == nil {
		return nil
	}
	return b
}
