package flagcache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/bwmarrin/snowflake"
	redis "github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// InvalidationChannel is the single broadcast channel shared by every
// service instance. Subscribers filter by the message's tenant and
// environment fields, not by separate channels.
const InvalidationChannel = "cache:invalidate"

// Store caches flag snapshots with a TTL safety net and broadcasts
// invalidations. Every operation is best-effort: transport failures
// degrade to a cache miss or a no-op and are never surfaced to callers.
type Store interface {
	GetFlag(ctx context.Context, tenantID snowflake.ID, flagKey string) (*Snapshot, bool)
	SetFlag(ctx context.Context, tenantID snowflake.ID, flagKey string, snap Snapshot)
	InvalidateFlag(ctx context.Context, tenantID snowflake.ID, flagKey string)

	GetFlagSet(ctx context.Context, tenantID snowflake.ID, environment string) ([]Snapshot, bool)
	SetFlagSet(ctx context.Context, tenantID snowflake.ID, environment string, snaps []Snapshot)
	// InvalidateFlagSet drops the cached flag set for one environment, or
	// for every environment of the tenant when environment is empty, then
	// publishes an invalidation event on the shared channel.
	InvalidateFlagSet(ctx context.Context, tenantID snowflake.ID, environment string)
}

// InvalidationMessage is the payload broadcast after a flag-set
// invalidation so other instances can drop their own copies.
type InvalidationMessage struct {
	Tenant      string    `json:"tenant"`
	Environment string    `json:"environment,omitempty"`
	Timestamp   time.Time `json:"timestamp"`
}

type store struct {
	client *redis.Client
	log    *zap.Logger
	ttl    time.Duration
}

// NewStore returns a redis-backed snapshot store.
func NewStore(client *redis.Client, log *zap.Logger, ttl time.Duration) Store {
	if ttl <= 0 {
		ttl = 30 * time.Second
	}
	return &store{
		client: client,
		log:    log.Named("flagcache"),
		ttl:    ttl,
	}
}

func flagKey(tenantID snowflake.ID, key string) string {
	return fmt.Sprintf("flag:%s:%s", tenantID, key)
}

func flagSetKey(tenantID snowflake.ID, environment string) string {
	return fmt.Sprintf("flags:%s:%s", tenantID, environment)
}

func flagSetPattern(tenantID snowflake.ID) string {
	return fmt.Sprintf("flags:%s:*", tenantID)
}

func (s *store) GetFlag(ctx context.Context, tenantID snowflake.ID, key string) (*Snapshot, bool) {
	data, err := s.client.Get(ctx, flagKey(tenantID, key)).Bytes()
	if err != nil {
		if !errors.Is(err, redis.Nil) {
			s.log.Warn("cache get failed", zap.String("flag_key", key), zap.Error(err))
		}
		return nil, false
	}

	var snap Snapshot
	if err := json.Unmarshal(data, &snap); err != nil {
		s.log.Warn("cache entry malformed", zap.String("flag_key", key), zap.Error(err))
		return nil, false
	}
	return &snap, true
}

func (s *store) SetFlag(ctx context.Context, tenantID snowflake.ID, key string, snap Snapshot) {
	data, err := json.Marshal(snap)
	if err != nil {
		s.log.Warn("cache encode failed", zap.String("flag_key", key), zap.Error(err))
		return
	}
	if err := s.client.SetEx(ctx, flagKey(tenantID, key), data, s.ttl).Err(); err != nil {
		s.log.Warn("cache set failed", zap.String("flag_key", key), zap.Error(err))
	}
}

func (s *store) InvalidateFlag(ctx context.Context, tenantID snowflake.ID, key string) {
	if err := s.client.Del(ctx, flagKey(tenantID, key)).Err(); err != nil {
		s.log.Warn("cache invalidation failed", zap.String("flag_key", key), zap.Error(err))
	}
}

func (s *store) GetFlagSet(ctx context.Context, tenantID snowflake.ID, environment string) ([]Snapshot, bool) {
	data, err := s.client.Get(ctx, flagSetKey(tenantID, environment)).Bytes()
	if err != nil {
		if !errors.Is(err, redis.Nil) {
			s.log.Warn("cache get failed", zap.String("environment", environment), zap.Error(err))
		}
		return nil, false
	}

	var snaps []Snapshot
	if err := json.Unmarshal(data, &snaps); err != nil {
		s.log.Warn("cache entry malformed", zap.String("environment", environment), zap.Error(err))
		return nil, false
	}
	return snaps, true
}

func (s *store) SetFlagSet(ctx context.Context, tenantID snowflake.ID, environment string, snaps []Snapshot) {
	data, err := json.Marshal(snaps)
	if err != nil {
		s.log.Warn("cache encode failed", zap.String("environment", environment), zap.Error(err))
		return
	}
	if err := s.client.SetEx(ctx, flagSetKey(tenantID, environment), data, s.ttl).Err(); err != nil {
		s.log.Warn("cache set failed", zap.String("environment", environment), zap.Error(err))
	}
}

func (s *store) InvalidateFlagSet(ctx context.Context, tenantID snowflake.ID, environment string) {
	// Local delete first; the publish is fire-and-forget and must not
	// roll back an already-applied invalidation.
	s.dropFlagSet(ctx, tenantID, environment)
	s.publishInvalidation(ctx, tenantID, environment)
}

// dropFlagSet deletes flag-set entries without publishing. The subscriber
// uses it directly so handling a broadcast never re-broadcasts.
func (s *store) dropFlagSet(ctx context.Context, tenantID snowflake.ID, environment string) {
	if environment != "" {
		if err := s.client.Del(ctx, flagSetKey(tenantID, environment)).Err(); err != nil {
			s.log.Warn("cache invalidation failed", zap.String("environment", environment), zap.Error(err))
		}
		return
	}

	iter := s.client.Scan(ctx, 0, flagSetPattern(tenantID), 0).Iterator()
	for iter.Next(ctx) {
		if err := s.client.Del(ctx, iter.Val()).Err(); err != nil {
			s.log.Warn("cache invalidation failed", zap.String("cache_key", iter.Val()), zap.Error(err))
		}
	}
	if err := iter.Err(); err != nil {
		s.log.Warn("cache scan failed", zap.String("tenant_id", tenantID.String()), zap.Error(err))
	}
}

func (s *store) publishInvalidation(ctx context.Context, tenantID snowflake.ID, environment string) {
	msg := InvalidationMessage{
		Tenant:      tenantID.String(),
		Environment: environment,
		Timestamp:   time.Now().UTC(),
	}
	data, err := json.Marshal(msg)
	if err != nil {
		s.log.Warn("invalidation encode failed", zap.Error(err))
		return
	}
	if err := s.client.Publish(ctx, InvalidationChannel, data).Err(); err != nil {
		s.log.Warn("invalidation publish failed", zap.String("tenant_id", msg.Tenant), zap.Error(err))
	}
}
