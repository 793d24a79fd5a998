package domain

import (
	"time"

	"github.com/bwmarrin/snowflake"
	"gorm.io/datatypes"
)

type FlagStatus string

const (
	// StatusActive flags participate in rollout evaluation.
	StatusActive FlagStatus = "active"
	// StatusInactive flags always evaluate false.
	StatusInactive FlagStatus = "inactive"
	// StatusArchived flags are soft-retired and always evaluate false.
	StatusArchived FlagStatus = "archived"
)

// ValidStatus reports whether value is a known flag status.
func ValidStatus(value FlagStatus) bool {
	switch value {
	case StatusActive, StatusInactive, StatusArchived:
		return true
	default:
		return false
	}
}

// Flag is a tenant-scoped feature toggle with percentage rollout.
// The key is immutable after creation and unique within its tenant.
type Flag struct {
	ID       snowflake.ID `gorm:"primaryKey"`
	TenantID snowflake.ID `gorm:"column:tenant_id;not null;uniqueIndex:ux_flags_tenant_key,priority:1"`
	Key      string       `gorm:"type:text;not null;uniqueIndex:ux_flags_tenant_key,priority:2"`

	Name              string            `gorm:"type:text;not null"`
	Description       *string           `gorm:"type:text"`
	RolloutPercentage int               `gorm:"column:rollout_percentage;not null;default:0"`
	IsEnabled         bool              `gorm:"column:is_enabled;not null;default:true"`
	Status            FlagStatus        `gorm:"type:text;not null;default:'active';index:ix_flags_tenant_status"`
	Tags              datatypes.JSONMap `gorm:"type:jsonb"`

	CreatedAt time.Time `gorm:"not null;default:CURRENT_TIMESTAMP"`
	UpdatedAt time.Time `gorm:"not null;default:CURRENT_TIMESTAMP"`
}

func (Flag) TableName() string { return "flags" }
