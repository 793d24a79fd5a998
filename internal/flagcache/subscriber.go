package flagcache

import (
	"context"
	"encoding/json"
	"strings"

	"github.com/bwmarrin/snowflake"
	redis "github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

type localDropper interface {
	dropFlagSet(ctx context.Context, tenantID snowflake.ID, environment string)
}

// Subscriber listens on the shared invalidation channel and drops this
// instance's copy of the named entries. Every instance in a scaled
// deployment runs one; with a single shared cache backend the delete is
// idempotent and harmless.
type Subscriber struct {
	client  *redis.Client
	store   Store
	log     *zap.Logger
	pubsub  *redis.PubSub
	cancel  context.CancelFunc
	stopped chan struct{}
}

// NewSubscriber builds an invalidation subscriber over the given store.
func NewSubscriber(client *redis.Client, st Store, log *zap.Logger) *Subscriber {
	return &Subscriber{
		client:  client,
		store:   st,
		log:     log.Named("flagcache.subscriber"),
		stopped: make(chan struct{}),
	}
}

// Start subscribes to the invalidation channel and consumes messages in
// the background until Stop is called.
func (s *Subscriber) Start(ctx context.Context) error {
	runCtx, cancel := context.WithCancel(context.Background())
	s.cancel = cancel
	s.pubsub = s.client.Subscribe(runCtx, InvalidationChannel)

	// Confirm the subscription before returning so no broadcast published
	// after startup is missed.
	if _, err := s.pubsub.Receive(ctx); err != nil {
		s.log.Warn("invalidation subscribe failed", zap.Error(err))
	}

	go s.run(runCtx)
	return nil
}

// Stop cancels the consumer loop and closes the subscription.
func (s *Subscriber) Stop(ctx context.Context) error {
	if s.cancel != nil {
		s.cancel()
	}
	if s.pubsub != nil {
		_ = s.pubsub.Close()
	}
	select {
	case <-s.stopped:
	case <-ctx.Done():
	}
	return nil
}

func (s *Subscriber) run(ctx context.Context) {
	defer close(s.stopped)

	ch := s.pubsub.Channel()
	for {
		select {
		case <-ctx.Done():
			return
		case msg, ok := <-ch:
			if !ok {
				return
			}
			s.handle(ctx, msg.Payload)
		}
	}
}

func (s *Subscriber) handle(ctx context.Context, payload string) {
	var msg InvalidationMessage
	if err := json.Unmarshal([]byte(payload), &msg); err != nil {
		s.log.Warn("invalidation message malformed", zap.Error(err))
		return
	}

	tenantID, err := snowflake.ParseString(strings.TrimSpace(msg.Tenant))
	if err != nil || tenantID == 0 {
		s.log.Warn("invalidation message missing tenant", zap.String("tenant", msg.Tenant))
		return
	}

	// Drop without re-publishing so a broadcast never echoes back onto
	// the channel.
	if dropper, ok := s.store.(localDropper); ok {
		dropper.dropFlagSet(ctx, tenantID, msg.Environment)
	}

	s.log.Debug("invalidation processed",
		zap.String("tenant_id", msg.Tenant),
		zap.String("environment", msg.Environment),
	)
}
