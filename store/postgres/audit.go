package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"

	authgate "github.com/altinors/authgate"
)

// AuditStore is the PostgreSQL implementation of authgate.AuditStore.
// Events are append-only; there is no update or delete path.
type AuditStore struct {
	db *sql.DB
}

func NewAuditStore(db *sql.DB) *AuditStore {
	return &AuditStore{db: db}
}

func (s *AuditStore) Insert(ctx context.Context, event authgate.AuditEvent) error {
	var details any
	if event.Details != nil {
		data, err := json.Marshal(event.Details)
		if err != nil {
			return fmt.Errorf("marshal details: %w", err)
		}
		details = data
	}

	query := `INSERT INTO audit_events
		 (ts, user_id, user_email, action, resource, resource_id, details, ip_address, user_agent, success, error)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)`

	_, err := s.db.ExecContext(ctx, query,
		event.Timestamp,
		event.UserID,
		event.UserEmail,
		event.Action,
		event.Resource,
		event.ResourceID,
		details,
		event.IPAddress,
		event.UserAgent,
		event.Success,
		event.Error,
	)
	if err != nil {
		return fmt.Errorf("db error: %w", err)
	}
	return nil
}

// List returns one page of events, newest first. Action and resource
// filters match case-insensitive substrings; the rest are exact.
func (s *AuditStore) List(ctx context.Context, q authgate.AuditQuery) (*authgate.AuditPage, error) {
	where, args := buildAuditFilter(q)

	var total int64
	countQuery := `SELECT count(*) FROM audit_events` + where
	if err := s.db.QueryRowContext(ctx, countQuery, args...).Scan(&total); err != nil {
		return nil, fmt.Errorf("db error: %w", err)
	}

	listQuery := `SELECT ts, user_id, user_email, action, resource, resource_id, details, ip_address, user_agent, success, error
		 FROM audit_events` + where +
		` ORDER BY ts DESC LIMIT $` + strconv.Itoa(len(args)+1) +
		` OFFSET $` + strconv.Itoa(len(args)+2)
	args = append(args, q.PageSize, (q.Page-1)*q.PageSize)

	rows, err := s.db.QueryContext(ctx, listQuery, args...)
	if err != nil {
		return nil, fmt.Errorf("db error: %w", err)
	}
	defer rows.Close()

	events := make([]authgate.AuditEvent, 0, q.PageSize)
	for rows.Next() {
		var event authgate.AuditEvent
		var details []byte
		err := rows.Scan(
			&event.Timestamp,
			&event.UserID,
			&event.UserEmail,
			&event.Action,
			&event.Resource,
			&event.ResourceID,
			&details,
			&event.IPAddress,
			&event.UserAgent,
			&event.Success,
			&event.Error,
		)
		if err != nil {
			return nil, fmt.Errorf("db error: %w", err)
		}
		if len(details) > 0 {
			if err := json.Unmarshal(details, &event.Details); err != nil {
				return nil, fmt.Errorf("unmarshal details: %w", err)
			}
		}
		events = append(events, event)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("db error: %w", err)
	}

	pages := 0
	if total > 0 {
		pages = int((total + int64(q.PageSize) - 1) / int64(q.PageSize))
	}

	return &authgate.AuditPage{
		Events:   events,
		Total:    total,
		Pages:    pages,
		Page:     q.Page,
		PageSize: q.PageSize,
	}, nil
}

func buildAuditFilter(q authgate.AuditQuery) (string, []any) {
	var clauses []string
	var args []any

	add := func(clause string, arg any) {
		args = append(args, arg)
		clauses = append(clauses, strings.Replace(clause, "?", "$"+strconv.Itoa(len(args)), 1))
	}

	if q.UserID != "" {
		add("user_id = ?", q.UserID)
	}
	if q.Action != "" {
		add("action ILIKE ?", "%"+q.Action+"%")
	}
	if q.Resource != "" {
		add("resource ILIKE ?", "%"+q.Resource+"%")
	}
	if q.Success != nil {
		add("success = ?", *q.Success)
	}
	if q.Start != nil {
		add("ts >= ?", *q.Start)
	}
	if q.End != nil {
		add("ts <= ?", *q.End)
	}

	if len(clauses) == 0 {
		return "", nil
	}
	return " WHERE " + strings.Join(clauses, " AND "), args
}
