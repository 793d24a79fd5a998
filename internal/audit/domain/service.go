package domain

import (
	"context"
	"errors"

	"github.com/bwmarrin/snowflake"
)

const (
	ActionCreated        = "created"
	ActionUpdated        = "updated"
	ActionDeleted        = "deleted"
	ActionEnabled        = "enabled"
	ActionDisabled       = "disabled"
	ActionRolloutChanged = "rollout_changed"
)

// Entry describes one mutation to record. Before and After hold only the
// fields the mutation actually touched.
type Entry struct {
	FlagID   snowflake.ID
	TenantID snowflake.ID
	Action   string
	Before   map[string]any
	After    map[string]any
}

type Service interface {
	// Record writes an audit entry, resolving the actor from context.
	// Callers on the mutation path treat failures as best-effort.
	Record(ctx context.Context, entry Entry) error
	ListByFlag(ctx context.Context, flagID snowflake.ID, limit int) ([]FlagAuditLog, error)
}

var (
	ErrInvalidTenant = errors.New("invalid_tenant")
	ErrInvalidAction = errors.New("invalid_action")
)
