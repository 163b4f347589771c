package audit

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"admin-auth-service/internal/client"
)

// ClickHouseStore is the durable activity log. It is both a sink and
// the reader behind the recent-events endpoint.
type ClickHouseStore struct {
	client *client.ClickHouseClient
}

func NewClickHouseStore(ch *client.ClickHouseClient) *ClickHouseStore {
	return &ClickHouseStore{client: ch}
}

func (s *ClickHouseStore) Name() string { return "clickhouse" }

func (s *ClickHouseStore) Write(ctx context.Context, ev Event) error {
	details := "{}"
	if ev.Details != nil {
		raw, err := json.Marshal(ev.Details)
		if err != nil {
			return fmt.Errorf("failed to encode details: %w", err)
		}
		details = string(raw)
	}

	err := s.client.Exec(ctx, `
        INSERT INTO admin_activity_log
            (id, action, entity_type, entity_id, admin_id, admin_username,
             ip, user_agent, details, created_at)
        VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		ev.ID, ev.Action, ev.EntityType, ev.EntityID, ev.AdminID,
		ev.AdminUsername, ev.IP, ev.UserAgent, details, ev.CreatedAt)
	if err != nil {
		return fmt.Errorf("failed to insert activity log row: %w", err)
	}
	return nil
}

func (s *ClickHouseStore) RecentEvents(ctx context.Context, limit int) ([]Event, error) {
	if limit <= 0 || limit > 500 {
		limit = 100
	}

	rows, err := s.client.QueryRows(ctx, `
        SELECT id, action, entity_type, entity_id, admin_id, admin_username,
               ip, user_agent, details, created_at
        FROM admin_activity_log
        ORDER BY created_at DESC
        LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query activity log: %w", err)
	}
	defer rows.Close()

	var out []Event
	for rows.Next() {
		var ev Event
		var details string
		var createdAt time.Time
		if err := rows.Scan(&ev.ID, &ev.Action, &ev.EntityType, &ev.EntityID,
			&ev.AdminID, &ev.AdminUsername, &ev.IP, &ev.UserAgent,
			&details, &createdAt); err != nil {
			return nil, fmt.Errorf("failed to scan activity log row: %w", err)
		}
		ev.CreatedAt = createdAt
		if details != "" && details != "{}" {
			_ = json.Unmarshal([]byte(details), &ev.Details)
		}
		out = append(out, ev)
	}
	return out, rows.Err()
}
