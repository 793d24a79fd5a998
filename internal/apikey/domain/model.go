package domain

import (
	"time"

	"github.com/bwmarrin/snowflake"
)

// APIKey is an SDK credential scoped to one tenant and environment.
// Only the SHA-256 hash of the key material is stored.
type APIKey struct {
	ID       snowflake.ID `gorm:"primaryKey"`
	TenantID snowflake.ID `gorm:"column:tenant_id;not null;index:ix_api_keys_tenant"`

	Name        string `gorm:"type:text;not null;default:''"`
	Environment string `gorm:"type:text;not null;default:'default'"`
	KeyHash     string `gorm:"column:key_hash;type:text;not null;uniqueIndex:ux_api_keys_hash"`
	IsActive    bool   `gorm:"column:is_active;not null;default:true"`

	ExpiresAt  *time.Time `gorm:"column:expires_at"`
	LastUsedAt *time.Time `gorm:"column:last_used_at"`
	CreatedAt  time.Time  `gorm:"not null;default:CURRENT_TIMESTAMP"`
}

func (APIKey) TableName() string { return "api_keys" }
