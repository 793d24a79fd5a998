package domain

import (
	"time"

	"github.com/bwmarrin/snowflake"
	"gorm.io/datatypes"
)

// FlagAuditLog is an immutable record of a single flag mutation.
type FlagAuditLog struct {
	ID       snowflake.ID `gorm:"primaryKey"`
	FlagID   snowflake.ID `gorm:"column:flag_id;not null;index:ix_flag_audit_logs_flag_created,priority:1"`
	TenantID snowflake.ID `gorm:"column:tenant_id;not null;index:ix_flag_audit_logs_tenant_created,priority:1"`

	Action     string            `gorm:"type:text;not null"`
	Changes    datatypes.JSONMap `gorm:"type:jsonb;not null"`
	ActorID    *string           `gorm:"column:actor_id;type:text"`
	ActorEmail *string           `gorm:"column:actor_email;type:text"`

	CreatedAt time.Time `gorm:"not null;default:CURRENT_TIMESTAMP;index:ix_flag_audit_logs_flag_created,priority:2;index:ix_flag_audit_logs_tenant_created,priority:2"`
}

func (FlagAuditLog) TableName() string { return "flag_audit_logs" }
