package postgres

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/xela07ax/spaceai-authgate/internal/audit"
)

var auditColumns = []string{
	"id", "trace_id", "channel", "resource", "subject", "token_id",
	"outcome", "status", "reason", "timestamp", "duration_ms",
}

type AuditRepo struct {
	pool *pgxpool.Pool
}

func NewAuditRepo(pool *pgxpool.Pool) *AuditRepo {
	return &AuditRepo{pool: pool}
}

// WriteBatch реализует audit.Storage: пачка уходит одним COPY.
func (r *AuditRepo) WriteBatch(ctx context.Context, events []audit.AuthEvent) error {
	if len(events) == 0 {
		return nil
	}

	rows := make([][]any, 0, len(events))
	for _, e := range events {
		// COPY идет в бинарном формате, строку в UUID колонку pgx не кодирует
		id, err := uuid.Parse(e.ID)
		if err != nil {
			id = uuid.New()
		}
		rows = append(rows, []any{
			id, e.TraceID, e.Channel, e.Resource, e.Subject, e.TokenID,
			e.Outcome, e.Status, e.Reason, e.Timestamp, e.DurationMs,
		})
	}

	n, err := r.pool.CopyFrom(ctx, pgx.Identifier{"auth_audit_logs"}, auditColumns, pgx.CopyFromRows(rows))
	if err != nil {
		return fmt.Errorf("postgres: audit copy failed: %w", err)
	}
	if int(n) != len(events) {
		return fmt.Errorf("postgres: audit copy wrote %d of %d rows", n, len(events))
	}
	return nil
}
