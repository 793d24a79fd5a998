package repository

import (
	"context"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/rollout/internal/flag/domain"
	"gorm.io/gorm"
)

type repo struct{}

func Provide() domain.Repository {
	return &repo{}
}

func (r *repo) Insert(ctx context.Context, db *gorm.DB, flag *domain.Flag) error {
	return db.WithContext(ctx).Exec(
		`INSERT INTO flags (
			id, tenant_id, key, name, description, rollout_percentage, is_enabled, status, tags, created_at, updated_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		flag.ID,
		flag.TenantID,
		flag.Key,
		flag.Name,
		flag.Description,
		flag.RolloutPercentage,
		flag.IsEnabled,
		flag.Status,
		flag.Tags,
		flag.CreatedAt,
		flag.UpdatedAt,
	).Error
}

func (r *repo) FindByKey(ctx context.Context, db *gorm.DB, tenantID snowflake.ID, key string) (*domain.Flag, error) {
	var f domain.Flag
	err := db.WithContext(ctx).Raw(
		`SELECT id, tenant_id, key, name, description, rollout_percentage, is_enabled, status, tags, created_at, updated_at
		 FROM flags WHERE tenant_id = ? AND key = ?`,
		tenantID,
		key,
	).Scan(&f).Error
	if err != nil {
		return nil, err
	}
	if f.ID == 0 {
		return nil, nil
	}
	return &f, nil
}

func (r *repo) ListActive(ctx context.Context, db *gorm.DB, tenantID snowflake.ID) ([]domain.Flag, error) {
	var items []domain.Flag
	err := db.WithContext(ctx).Raw(
		`SELECT id, tenant_id, key, name, description, rollout_percentage, is_enabled, status, tags, created_at, updated_at
		 FROM flags WHERE tenant_id = ? AND status = ? ORDER BY key`,
		tenantID,
		domain.StatusActive,
	).Scan(&items).Error
	if err != nil {
		return nil, err
	}
	return items, nil
}

func (r *repo) List(ctx context.Context, db *gorm.DB, tenantID snowflake.ID, filter domain.ListFilter) ([]domain.Flag, int64, error) {
	stmt := db.WithContext(ctx).
		Model(&domain.Flag{}).
		Where("tenant_id = ?", tenantID)

	if filter.Status != nil {
		stmt = stmt.Where("status = ?", *filter.Status)
	}

	var total int64
	if err := stmt.Count(&total).Error; err != nil {
		return nil, 0, err
	}

	page := filter.Page
	if page < 1 {
		page = 1
	}
	pageSize := filter.PageSize
	if pageSize < 1 {
		pageSize = 50
	}

	var items []domain.Flag
	err := stmt.
		Order("created_at DESC").
		Offset((page - 1) * pageSize).
		Limit(pageSize).
		Find(&items).Error
	if err != nil {
		return nil, 0, err
	}
	return items, total, nil
}

func (r *repo) Update(ctx context.Context, db *gorm.DB, flag *domain.Flag) error {
	if flag == nil {
		return gorm.ErrInvalidData
	}
	return db.WithContext(ctx).Exec(
		`UPDATE flags
		 SET name = ?, description = ?, rollout_percentage = ?, is_enabled = ?, status = ?, tags = ?, updated_at = ?
		 WHERE tenant_id = ? AND id = ?`,
		flag.Name,
		flag.Description,
		flag.RolloutPercentage,
		flag.IsEnabled,
		flag.Status,
		flag.Tags,
		flag.UpdatedAt,
		flag.TenantID,
		flag.ID,
	).Error
}

func (r *repo) Delete(ctx context.Context, db *gorm.DB, tenantID, id snowflake.ID) error {
	return db.WithContext(ctx).Exec(
		`DELETE FROM flags WHERE tenant_id = ? AND id = ?`,
		tenantID,
		id,
	).Error
}
