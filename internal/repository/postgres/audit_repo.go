package postgres

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	"github.com/xela07ax/intervention-gateway/internal/audit"
)

type AuditRepo struct {
	db *sql.DB
}

func NewAuditRepo(db *sql.DB) *AuditRepo {
	return &AuditRepo{db: db}
}

const auditColumns = "id, transaction_id, client_addr, method, uri, phase, action, status, url, log, pause_ms, duration_ms, timestamp"

// WriteBatch - пакетная вставка одной командой.
func (r *AuditRepo) WriteBatch(ctx context.Context, events []audit.Event) error {
	if len(events) == 0 {
		return nil
	}

	// Количество колонок в таблице waf_audit_log
	const numFields = 13
	var sb strings.Builder
	vals := make([]interface{}, 0, len(events)*numFields)

	for i, e := range events {
		if i > 0 {
			sb.WriteString(",")
		}
		sb.WriteString("(")
		for f := 1; f <= numFields; f++ {
			if f > 1 {
				sb.WriteString(", ")
			}
			fmt.Fprintf(&sb, "$%d", i*numFields+f)
		}
		sb.WriteString(")")

		vals = append(vals,
			e.ID, e.TransactionID, e.ClientAddr, e.Method, e.URI,
			e.Phase, e.Action, e.Status, e.URL, e.Log, e.PauseMs, e.DurationMs, e.Timestamp,
		)
	}

	query := "INSERT INTO waf_audit_log (" + auditColumns + ") VALUES " + sb.String()

	if _, err := r.db.ExecContext(ctx, query, vals...); err != nil {
		return fmt.Errorf("postgres: failed to write audit batch: %w", err)
	}
	return nil
}

// FetchLogs возвращает последние события с фильтрацией по клиенту и действию.
func (r *AuditRepo) FetchLogs(ctx context.Context, f audit.Filter) ([]audit.Event, error) {
	limit := f.Limit
	if limit <= 0 || limit > 1000 {
		limit = 100
	}

	query := `SELECT ` + auditColumns + `
		FROM waf_audit_log
		WHERE ($1 = '' OR client_addr = $1) AND ($2 = '' OR action = $2)
		ORDER BY timestamp DESC
		LIMIT $3`

	rows, err := r.db.QueryContext(ctx, query, f.ClientAddr, f.Action, limit)
	if err != nil {
		return nil, fmt.Errorf("postgres: failed to fetch audit logs: %w", err)
	}
	defer rows.Close()

	var results []audit.Event
	for rows.Next() {
		var e audit.Event
		if err := rows.Scan(
			&e.ID, &e.TransactionID, &e.ClientAddr, &e.Method, &e.URI,
			&e.Phase, &e.Action, &e.Status, &e.URL, &e.Log, &e.PauseMs, &e.DurationMs, &e.Timestamp,
		); err != nil {
			return nil, err
		}
		results = append(results, e)
	}
	return results, rows.Err()
}
