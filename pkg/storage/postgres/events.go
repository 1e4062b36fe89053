package postgres

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/platinummonkey/creatorstats/pkg/analytics"
)

// EventSource reads raw events from the tracking system's content_events table
type EventSource struct {
	cm *ConnectionManager
}

var _ analytics.EventSource = (*EventSource)(nil)

// NewEventSource creates a new event source
func NewEventSource(cm *ConnectionManager) *EventSource {
	return &EventSource{cm: cm}
}

// ListActiveContent returns distinct content with events in [w.From, w.To)
func (s *EventSource) ListActiveContent(ctx context.Context, w analytics.Window) ([]analytics.ContentRef, error) {
	query := `
		SELECT DISTINCT content_type, content_id
		FROM content_events
		WHERE occurred_at >= $1 AND occurred_at < $2
		ORDER BY content_type, content_id
	`
	rows, err := s.cm.Replica().QueryContext(ctx, query, w.From, w.To)
	if err != nil {
		return nil, fmt.Errorf("failed to list active content: %w", err)
	}
	defer rows.Close()

	var refs []analytics.ContentRef
	for rows.Next() {
		var contentType, contentID string
		if err := rows.Scan(&contentType, &contentID); err != nil {
			return nil, fmt.Errorf("failed to scan content ref: %w", err)
		}
		refs = append(refs, analytics.ContentRef{Type: analytics.ContentType(contentType), ID: contentID})
	}

	return refs, rows.Err()
}

// eventFilter builds the WHERE clause for q; empty fields are not filtered
func eventFilter(q analytics.EventQuery) (string, []interface{}) {
	var conds []string
	var args []interface{}

	add := func(cond string, arg interface{}) {
		args = append(args, arg)
		conds = append(conds, fmt.Sprintf(cond, len(args)))
	}

	if q.TenantID != "" {
		add("tenant_id = $%d", q.TenantID)
	}
	if q.ContentType != "" {
		add("content_type = $%d", string(q.ContentType))
	}
	if q.ContentID != "" {
		add("content_id = $%d", q.ContentID)
	}
	if !q.From.IsZero() {
		add("occurred_at >= $%d", q.From)
	}
	if !q.To.IsZero() {
		add("occurred_at < $%d", q.To)
	}

	if len(conds) == 0 {
		return "", nil
	}
	return " WHERE " + strings.Join(conds, " AND "), args
}

// QueryEvents returns matching events ordered by time
func (s *EventSource) QueryEvents(ctx context.Context, q analytics.EventQuery) ([]analytics.RawEvent, error) {
	where, args := eventFilter(q)
	query := `SELECT tenant_id, content_type, content_id, action, COALESCE(user_id, ''), occurred_at, metadata
		FROM content_events` + where + ` ORDER BY occurred_at`

	rows, err := s.cm.Replica().QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query events: %w", err)
	}
	defer rows.Close()

	var events []analytics.RawEvent
	for rows.Next() {
		var (
			ev          analytics.RawEvent
			contentType string
			action      string
			metadata    []byte
		)
		if err := rows.Scan(&ev.TenantID, &contentType, &ev.ContentID, &action, &ev.UserID, &ev.Timestamp, &metadata); err != nil {
			return nil, fmt.Errorf("failed to scan event: %w", err)
		}
		ev.ContentType = analytics.ContentType(contentType)
		ev.Action = analytics.ActionType(action)
		if len(metadata) > 0 {
			if err := json.Unmarshal(metadata, &ev.Metadata); err != nil {
				return nil, fmt.Errorf("failed to unmarshal event metadata: %w", err)
			}
		}
		events = append(events, ev)
	}

	return events, rows.Err()
}

// CountByAction groups matching events by action
func (s *EventSource) CountByAction(ctx context.Context, q analytics.EventQuery) (map[analytics.ActionType]int64, error) {
	where, args := eventFilter(q)
	query := `SELECT action, COUNT(*) FROM content_events` + where + ` GROUP BY action`

	rows, err := s.cm.Replica().QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to count events: %w", err)
	}
	defer rows.Close()

	counts := make(map[analytics.ActionType]int64)
	for rows.Next() {
		var action string
		var n int64
		if err := rows.Scan(&action, &n); err != nil {
			return nil, fmt.Errorf("failed to scan action count: %w", err)
		}
		counts[analytics.ActionType(action)] = n
	}

	return counts, rows.Err()
}
