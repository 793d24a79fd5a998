package flagcache

import (
	"context"
	"encoding/json"
	"sync"
	"testing"
	"time"

	"github.com/bwmarrin/snowflake"
	"go.uber.org/zap"
)

type dropRecord struct {
	tenantID    snowflake.ID
	environment string
}

type droppingStore struct {
	mu    sync.Mutex
	drops []dropRecord
}

func (d *droppingStore) GetFlag(ctx context.Context, tenantID snowflake.ID, key string) (*Snapshot, bool) {
	return nil, false
}

func (d *droppingStore) SetFlag(ctx context.Context, tenantID snowflake.ID, key string, snap Snapshot) {
}

func (d *droppingStore) InvalidateFlag(ctx context.Context, tenantID snowflake.ID, key string) {}

func (d *droppingStore) GetFlagSet(ctx context.Context, tenantID snowflake.ID, environment string) ([]Snapshot, bool) {
	return nil, false
}

func (d *droppingStore) SetFlagSet(ctx context.Context, tenantID snowflake.ID, environment string, snaps []Snapshot) {
}

func (d *droppingStore) InvalidateFlagSet(ctx context.Context, tenantID snowflake.ID, environment string) {
	// The subscriber must never call this: it would re-publish and echo
	// the broadcast back onto the channel.
	panic("subscriber re-published an invalidation")
}

func (d *droppingStore) dropFlagSet(ctx context.Context, tenantID snowflake.ID, environment string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.drops = append(d.drops, dropRecord{tenantID: tenantID, environment: environment})
}

func (d *droppingStore) recorded() []dropRecord {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]dropRecord(nil), d.drops...)
}

func TestSubscriberHandleDropsLocally(t *testing.T) {
	store := &droppingStore{}
	sub := NewSubscriber(nil, store, zap.NewNop())

	node, err := snowflake.NewNode(1)
	if err != nil {
		t.Fatalf("snowflake node: %v", err)
	}
	tenantID := node.Generate()

	payload, err := json.Marshal(InvalidationMessage{
		Tenant:      tenantID.String(),
		Environment: "production",
		Timestamp:   time.Now().UTC(),
	})
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}

	sub.handle(context.Background(), string(payload))

	drops := store.recorded()
	if len(drops) != 1 {
		t.Fatalf("expected one local drop, got %d", len(drops))
	}
	if drops[0].tenantID != tenantID || drops[0].environment != "production" {
		t.Fatalf("unexpected drop: %+v", drops[0])
	}
}

func TestSubscriberHandleMalformedPayload(t *testing.T) {
	store := &droppingStore{}
	sub := NewSubscriber(nil, store, zap.NewNop())

	sub.handle(context.Background(), "{not json")
	sub.handle(context.Background(), `{"tenant":"","timestamp":"2026-01-01T00:00:00Z"}`)
	sub.handle(context.Background(), `{"tenant":"not-a-number"}`)

	if drops := store.recorded(); len(drops) != 0 {
		t.Fatalf("malformed payloads must be ignored, got %d drops", len(drops))
	}
}

func TestCacheKeyLayout(t *testing.T) {
	node, err := snowflake.NewNode(1)
	if err != nil {
		t.Fatalf("snowflake node: %v", err)
	}
	tenantID := node.Generate()

	if got, want := flagKey(tenantID, "dark-mode"), "flag:"+tenantID.String()+":dark-mode"; got != want {
		t.Fatalf("flag key %q, want %q", got, want)
	}
	if got, want := flagSetKey(tenantID, "production"), "flags:"+tenantID.String()+":production"; got != want {
		t.Fatalf("flag set key %q, want %q", got, want)
	}
	if got, want := flagSetPattern(tenantID), "flags:"+tenantID.String()+":*"; got != want {
		t.Fatalf("flag set pattern %q, want %q", got, want)
	}
}
