package domain

import (
	"context"

	"github.com/bwmarrin/snowflake"
	"gorm.io/gorm"
)

type Repository interface {
	Insert(ctx context.Context, db *gorm.DB, entry *FlagAuditLog) error
	ListByFlag(ctx context.Context, db *gorm.DB, tenantID, flagID snowflake.ID, limit int) ([]FlagAuditLog, error)
}
