package domain

import (
	"context"
	"errors"

	"github.com/bwmarrin/snowflake"
)

// Identity is the authenticated principal behind a valid API key.
type Identity struct {
	KeyID       snowflake.ID
	TenantID    snowflake.ID
	Environment string
}

// Resolver authenticates raw API keys presented by SDK clients.
type Resolver interface {
	Resolve(ctx context.Context, raw string) (Identity, error)
}

var ErrInvalidKey = errors.New("invalid_api_key")
