package tenantctx

import (
	"context"
	"strings"

	"github.com/bwmarrin/snowflake"
)

type tenantKey struct{}
type environmentKey struct{}
type actorKey struct{}

// Actor identifies who performed a mutation, for audit attribution.
type Actor struct {
	ID    string
	Email string
}

// WithTenantID stores the tenant ID in the context.
func WithTenantID(ctx context.Context, tenantID snowflake.ID) context.Context {
	return context.WithValue(ctx, tenantKey{}, tenantID)
}

// TenantID returns the tenant ID from context, if set.
func TenantID(ctx context.Context) (snowflake.ID, bool) {
	if ctx == nil {
		return 0, false
	}
	switch typed := ctx.Value(tenantKey{}).(type) {
	case snowflake.ID:
		return typed, true
	case int64:
		return snowflake.ID(typed), true
	case string:
		parsed, err := snowflake.ParseString(strings.TrimSpace(typed))
		if err == nil {
			return parsed, true
		}
	}
	return 0, false
}

// WithEnvironment stores the environment key in the context.
func WithEnvironment(ctx context.Context, environment string) context.Context {
	return context.WithValue(ctx, environmentKey{}, environment)
}

// Environment returns the environment key from context, if set.
func Environment(ctx context.Context) (string, bool) {
	if ctx == nil {
		return "", false
	}
	env, ok := ctx.Value(environmentKey{}).(string)
	if !ok || strings.TrimSpace(env) == "" {
		return "", false
	}
	return env, true
}

// WithActor stores the acting identity in the context.
func WithActor(ctx context.Context, actor Actor) context.Context {
	return context.WithValue(ctx, actorKey{}, actor)
}

// ActorFromContext returns the acting identity from context, if set.
func ActorFromContext(ctx context.Context) (Actor, bool) {
	if ctx == nil {
		return Actor{}, false
	}
	actor, ok := ctx.Value(actorKey{}).(Actor)
	return actor, ok
}
