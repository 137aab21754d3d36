package audit

import (
	"context"
	"database/sql"
)

// PostgresRepo appends to the audit_events table. The table has no UPDATE or
// DELETE path in this package.
type PostgresRepo struct {
	db *sql.DB
}

func NewPostgresRepo(db *sql.DB) *PostgresRepo { return &PostgresRepo{db: db} }

func (r *PostgresRepo) Append(ctx context.Context, e Event) error {
	const q = `
INSERT INTO audit_events (id, shop, type, actor_subject, actor_role, ip_address, call_job_id, message, metadata, created_at)
VALUES ($1, $2, $3, $4, $5, NULLIF($6, ''), NULLIF($7, ''), $8, NULLIF($9, '')::jsonb, $10)
`
	_, err := r.db.ExecContext(ctx, q,
		e.ID, e.Shop, e.Type, e.ActorSubject, e.ActorRole, e.IPAddress, e.CallJobID, e.Message, e.Metadata, e.CreatedAt)
	return err
}
