package audit

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/valinor-ai/haven/internal/platform/database"
)

// Store handles audit event persistence.
type Store struct{}

// NewStore creates an audit Store.
func NewStore() *Store {
	return &Store{}
}

// InsertBatch writes a batch of events to the database.
func (s *Store) InsertBatch(ctx context.Context, db database.Querier, events []Event) error {
	if len(events) == 0 {
		return nil
	}
	sql, args, err := buildBatchInsert(events)
	if err != nil {
		return fmt.Errorf("building batch insert: %w", err)
	}
	_, err = db.Exec(ctx, sql, args...)
	if err != nil {
		return fmt.Errorf("inserting audit events: %w", err)
	}
	return nil
}

func buildBatchInsert(events []Event) (string, []any, error) {
	const cols = "(tenant_id, user_id, action, resource_type, resource_id, metadata, source)"
	placeholders := make([]string, 0, len(events))
	args := make([]any, 0, len(events)*7)

	for i, e := range events {
		base := i * 7
		placeholders = append(placeholders, fmt.Sprintf(
			"($%d, $%d, $%d, $%d, $%d, $%d, $%d)",
			base+1, base+2, base+3, base+4, base+5, base+6, base+7,
		))

		var metaJSON []byte
		if e.Metadata != nil {
			var err error
			metaJSON, err = json.Marshal(e.Metadata)
			if err != nil {
				return "", nil, fmt.Errorf("marshaling metadata: %w", err)
			}
		}

		source := e.Source
		if source == "" {
			source = "api"
		}
		args = append(args, e.TenantID, e.UserID, e.Action, e.ResourceType, e.ResourceID, metaJSON, source)
	}

	sql := fmt.Sprintf("INSERT INTO audit_events %s VALUES %s", cols, strings.Join(placeholders, ", "))
	return sql, args, nil
}

// ListEventsParams defines filters for querying audit events. Zero-valued
// filters are ignored.
type ListEventsParams struct {
	TenantID     *uuid.UUID
	Action       *string
	ResourceType *string
	After        *time.Time
	Before       *time.Time
	Limit        int
}

// StoredEvent is an audit event as read back from the database.
type StoredEvent struct {
	ID           uuid.UUID       `json:"id"`
	TenantID     *uuid.UUID      `json:"tenant_id"`
	UserID       *uuid.UUID      `json:"user_id"`
	Action       string          `json:"action"`
	ResourceType string          `json:"resource_type"`
	ResourceID   *uuid.UUID      `json:"resource_id"`
	Metadata     json.RawMessage `json:"metadata"`
	Source       string          `json:"source"`
	CreatedAt    time.Time       `json:"created_at"`
}

// List returns events matching p, newest first.
func (s *Store) List(ctx context.Context, db database.Querier, p ListEventsParams) ([]StoredEvent, error) {
	sql, args := buildListQuery(p)
	rows, err := db.Query(ctx, sql, args...)
	if err != nil {
		return nil, fmt.Errorf("listing audit events: %w", err)
	}
	defer rows.Close()

	var events []StoredEvent
	for rows.Next() {
		var e StoredEvent
		if err := rows.Scan(&e.ID, &e.TenantID, &e.UserID, &e.Action, &e.ResourceType,
			&e.ResourceID, &e.Metadata, &e.Source, &e.CreatedAt); err != nil {
			return nil, fmt.Errorf("scanning audit event: %w", err)
		}
		events = append(events, e)
	}
	return events, rows.Err()
}

func buildListQuery(p ListEventsParams) (string, []any) {
	var conditions []string
	var args []any
	argN := 1

	add := func(clause string, v any) {
		conditions = append(conditions, fmt.Sprintf(clause, argN))
		args = append(args, v)
		argN++
	}
	if p.TenantID != nil {
		add("tenant_id = $%d", *p.TenantID)
	}
	if p.Action != nil {
		add("action = $%d", *p.Action)
	}
	if p.ResourceType != nil {
		add("resource_type = $%d", *p.ResourceType)
	}
	if p.After != nil {
		add("created_at > $%d", *p.After)
	}
	if p.Before != nil {
		add("created_at < $%d", *p.Before)
	}

	where := ""
	if len(conditions) > 0 {
		where = "WHERE " + strings.Join(conditions, " AND ")
	}

	limit := p.Limit
	if limit <= 0 || limit > 200 {
		limit = 50
	}

	sql := fmt.Sprintf(
		`SELECT id, tenant_id, user_id, action, resource_type, resource_id, metadata, source, created_at
		FROM audit_events
		%s
		ORDER BY created_at DESC
		LIMIT $%d`,
		where, argN,
	)
	args = append(args, limit)

	return sql, args
}
