package postgres

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/google/uuid"

	id "redeem/pkg/domain"
	audit "redeem/pkg/platform/audit"
	txcontext "redeem/pkg/platform/tx"
)

// Schema creates the audit table. Applied by the server on startup.
const Schema = `
CREATE TABLE IF NOT EXISTS redemption_audit_events (
	id            UUID PRIMARY KEY,
	category      TEXT        NOT NULL,
	timestamp     TIMESTAMPTZ NOT NULL,
	redemption_id TEXT        NOT NULL,
	investor_id   TEXT        NOT NULL DEFAULT '',
	actor_id      TEXT        NOT NULL DEFAULT '',
	action        TEXT        NOT NULL,
	decision      TEXT        NOT NULL DEFAULT '',
	reason        TEXT        NOT NULL DEFAULT '',
	request_id    TEXT        NOT NULL DEFAULT '',
	sequence      BIGINT      NOT NULL DEFAULT 0,
	client_ip     TEXT        NOT NULL DEFAULT '',
	device        TEXT        NOT NULL DEFAULT ''
);
CREATE INDEX IF NOT EXISTS redemption_audit_events_redemption_idx
	ON redemption_audit_events (redemption_id, sequence);
`

// Store implements audit.Store on database/sql.
type Store struct {
	db *sql.DB
}

// New creates a PostgreSQL audit store.
func New(db *sql.DB) *Store {
	return &Store{db: db}
}

type dbExecutor interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

func (s *Store) execer(ctx context.Context) dbExecutor {
	if tx, ok := txcontext.From(ctx); ok {
		return tx
	}
	return s.db
}

// Append inserts an event. Idempotent on event id via ON CONFLICT DO NOTHING.
func (s *Store) Append(ctx context.Context, event audit.Event) error {
	eventID, err := uuid.Parse(event.ID)
	if err != nil {
		eventID = uuid.New()
	}
	// Always derive category from action
	category := audit.AuditEvent(event.Action).Category()

	query := `
		INSERT INTO redemption_audit_events (
			id, category, timestamp, redemption_id, investor_id,
			actor_id, action, decision, reason, request_id, sequence,
			client_ip, device
		)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)
		ON CONFLICT (id) DO NOTHING
	`
	_, err = s.execer(ctx).ExecContext(ctx, query,
		eventID,
		string(category),
		event.Timestamp,
		string(event.RedemptionID),
		string(event.InvestorID),
		string(event.ActorID),
		event.Action,
		event.Decision,
		event.Reason,
		event.RequestID,
		event.Sequence,
		event.ClientIP,
		event.Device,
	)
	if err != nil {
		return fmt.Errorf("insert audit event: %w", err)
	}
	return nil
}

const selectColumns = `
	SELECT id, category, timestamp, redemption_id, investor_id,
		   actor_id, action, decision, reason, request_id, sequence,
		   client_ip, device
	FROM redemption_audit_events
`

// ListByRedemption returns events for one redemption in sequence order.
func (s *Store) ListByRedemption(ctx context.Context, redemptionID id.RequestID) ([]audit.Event, error) {
	rows, err := s.db.QueryContext(ctx, selectColumns+`
		WHERE redemption_id = $1
		ORDER BY sequence ASC, timestamp ASC
	`, string(redemptionID))
	if err != nil {
		return nil, fmt.Errorf("query audit events: %w", err)
	}
	defer rows.Close()

	return scanEvents(rows)
}

// ListRecent returns the N most recent events.
func (s *Store) ListRecent(ctx context.Context, limit int) ([]audit.Event, error) {
	rows, err := s.db.QueryContext(ctx, selectColumns+`
		ORDER BY timestamp DESC
		LIMIT $1
	`, limit)
	if err != nil {
		return nil, fmt.Errorf("query audit events: %w", err)
	}
	defer rows.Close()

	return scanEvents(rows)
}

func scanEvents(rows *sql.Rows) ([]audit.Event, error) {
	var events []audit.Event

	for rows.Next() {
		var (
			event                                       audit.Event
			eventID                                     uuid.UUID
			category, redemptionID, investorID, actorID string
		)
		err := rows.Scan(
			&eventID,
			&category,
			&event.Timestamp,
			&redemptionID,
			&investorID,
			&actorID,
			&event.Action,
			&event.Decision,
			&event.Reason,
			&event.RequestID,
			&event.Sequence,
			&event.ClientIP,
			&event.Device,
		)
		if err != nil {
			return nil, fmt.Errorf("scan audit event: %w", err)
		}
		event.ID = eventID.String()
		event.Category = audit.EventCategory(category)
		event.RedemptionID = id.RequestID(redemptionID)
		event.InvestorID = id.InvestorID(investorID)
		event.ActorID = id.ApproverID(actorID)
		events = append(events, event)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate audit events: %w", err)
	}
	return events, nil
}
