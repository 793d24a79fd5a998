package repository

import (
	"context"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/rollout/internal/audit/domain"
	"gorm.io/gorm"
)

type repo struct{}

func Provide() domain.Repository {
	return &repo{}
}

func (r *repo) Insert(ctx context.Context, db *gorm.DB, entry *domain.FlagAuditLog) error {
	return db.WithContext(ctx).Exec(
		`INSERT INTO flag_audit_logs (
			id, flag_id, tenant_id, action, changes, actor_id, actor_email, created_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		entry.ID,
		entry.FlagID,
		entry.TenantID,
		entry.Action,
		entry.Changes,
		entry.ActorID,
		entry.ActorEmail,
		entry.CreatedAt,
	).Error
}

func (r *repo) ListByFlag(ctx context.Context, db *gorm.DB, tenantID, flagID snowflake.ID, limit int) ([]domain.FlagAuditLog, error) {
	if limit < 1 {
		limit = 50
	}
	var items []domain.FlagAuditLog
	err := db.WithContext(ctx).Raw(
		`SELECT id, flag_id, tenant_id, action, changes, actor_id, actor_email, created_at
		 FROM flag_audit_logs
		 WHERE tenant_id = ? AND flag_id = ?
		 ORDER BY created_at DESC
		 LIMIT ?`,
		tenantID,
		flagID,
		limit,
	).Scan(&items).Error
	if err != nil {
		return nil, err
	}
	return items, nil
}
