package domain

import (
	"context"

	"github.com/bwmarrin/snowflake"
	"gorm.io/gorm"
)

type ListFilter struct {
	Status   *FlagStatus
	Page     int
	PageSize int
}

type Repository interface {
	Insert(ctx context.Context, db *gorm.DB, flag *Flag) error
	FindByKey(ctx context.Context, db *gorm.DB, tenantID snowflake.ID, key string) (*Flag, error)
	ListActive(ctx context.Context, db *gorm.DB, tenantID snowflake.ID) ([]Flag, error)
	List(ctx context.Context, db *gorm.DB, tenantID snowflake.ID, filter ListFilter) ([]Flag, int64, error)
	Update(ctx context.Context, db *gorm.DB, flag *Flag) error
	Delete(ctx context.Context, db *gorm.DB, tenantID, id snowflake.ID) error
}
