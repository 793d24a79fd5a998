package repository

import (
	"context"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/rollout/internal/apikey/domain"
	"gorm.io/gorm"
)

type repo struct{}

func Provide() domain.Repository {
	return &repo{}
}

func (r *repo) FindByHash(ctx context.Context, db *gorm.DB, keyHash string) (*domain.APIKey, error) {
	var key domain.APIKey
	err := db.WithContext(ctx).Raw(
		`SELECT id, tenant_id, environment, key_hash, is_active, expires_at, last_used_at, created_at
		 FROM api_keys WHERE key_hash = ?`,
		keyHash,
	).Scan(&key).Error
	if err != nil {
		return nil, err
	}
	if key.ID == 0 {
		return nil, nil
	}
	return &key, nil
}

func (r *repo) TouchLastUsed(ctx context.Context, db *gorm.DB, id snowflake.ID, at time.Time) error {
	return db.WithContext(ctx).Exec(
		`UPDATE api_keys SET last_used_at = ? WHERE id = ?`,
		at,
		id,
	).Error
}
