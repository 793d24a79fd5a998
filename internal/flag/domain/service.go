package domain

import (
	"context"
	"errors"
	"time"
)

type CreateRequest struct {
	Key               string         `json:"key"`
	Name              string         `json:"name"`
	Description       *string        `json:"description"`
	RolloutPercentage *int           `json:"rollout_percentage"`
	IsEnabled         *bool          `json:"is_enabled"`
	Tags              map[string]any `json:"tags"`
}

// UpdateRequest carries a partial update: nil fields keep their prior
// values. The flag key itself is immutable.
type UpdateRequest struct {
	Key               string         `json:"-"`
	Name              *string        `json:"name,omitempty"`
	Description       *string        `json:"description,omitempty"`
	RolloutPercentage *int           `json:"rollout_percentage,omitempty"`
	IsEnabled         *bool          `json:"is_enabled,omitempty"`
	Status            *FlagStatus    `json:"status,omitempty"`
	Tags              map[string]any `json:"tags,omitempty"`
}

type ListRequest struct {
	Status   *FlagStatus
	Page     int
	PageSize int
}

type ListResponse struct {
	Flags    []Response `json:"flags"`
	Total    int64      `json:"total"`
	Page     int        `json:"page"`
	PageSize int        `json:"page_size"`
}

type Response struct {
	ID                string         `json:"id"`
	TenantID          string         `json:"tenant_id"`
	Key               string         `json:"key"`
	Name              string         `json:"name"`
	Description       *string        `json:"description,omitempty"`
	RolloutPercentage int            `json:"rollout_percentage"`
	IsEnabled         bool           `json:"is_enabled"`
	Status            FlagStatus     `json:"status"`
	Tags              map[string]any `json:"tags,omitempty"`
	CreatedAt         time.Time      `json:"created_at"`
	UpdatedAt         time.Time      `json:"updated_at"`
}

type Service interface {
	Create(ctx context.Context, req CreateRequest) (*Response, error)
	Get(ctx context.Context, key string) (*Response, error)
	List(ctx context.Context, req ListRequest) (ListResponse, error)
	Update(ctx context.Context, req UpdateRequest) (*Response, error)
	Delete(ctx context.Context, key string) error
	Toggle(ctx context.Context, key string, isEnabled bool) (*Response, error)
}

var (
	ErrInvalidTenant     = errors.New("invalid_tenant")
	ErrInvalidKey        = errors.New("invalid_key")
	ErrInvalidName       = errors.New("invalid_name")
	ErrInvalidPercentage = errors.New("invalid_rollout_percentage")
	ErrInvalidStatus     = errors.New("invalid_status")
	ErrNotFound          = errors.New("not_found")
	ErrConflict          = errors.New("conflict")
)
