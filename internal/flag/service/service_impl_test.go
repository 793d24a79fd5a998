package service

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/bwmarrin/snowflake"
	"github.com/glebarez/sqlite"
	auditdomain "github.com/smallbiznis/rollout/internal/audit/domain"
	"github.com/smallbiznis/rollout/internal/flag/domain"
	"github.com/smallbiznis/rollout/internal/flag/repository"
	"github.com/smallbiznis/rollout/internal/flagcache"
	"github.com/smallbiznis/rollout/pkg/tenantctx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

type recordingCache struct {
	mu           sync.Mutex
	flagDrops    []string
	flagSetDrops []string
	onInvalidate func()
}

func (c *recordingCache) GetFlag(ctx context.Context, tenantID snowflake.ID, key string) (*flagcache.Snapshot, bool) {
	return nil, false
}

func (c *recordingCache) SetFlag(ctx context.Context, tenantID snowflake.ID, key string, snap flagcache.Snapshot) {
}

func (c *recordingCache) InvalidateFlag(ctx context.Context, tenantID snowflake.ID, key string) {
	c.mu.Lock()
	callback := c.onInvalidate
	c.flagDrops = append(c.flagDrops, key)
	c.mu.Unlock()
	if callback != nil {
		callback()
	}
}

func (c *recordingCache) GetFlagSet(ctx context.Context, tenantID snowflake.ID, environment string) ([]flagcache.Snapshot, bool) {
	return nil, false
}

func (c *recordingCache) SetFlagSet(ctx context.Context, tenantID snowflake.ID, environment string, snaps []flagcache.Snapshot) {
}

func (c *recordingCache) InvalidateFlagSet(ctx context.Context, tenantID snowflake.ID, environment string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.flagSetDrops = append(c.flagSetDrops, environment)
}

func (c *recordingCache) droppedFlags() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]string(nil), c.flagDrops...)
}

func (c *recordingCache) droppedFlagSets() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]string(nil), c.flagSetDrops...)
}

type recordingAudit struct {
	mu      sync.Mutex
	entries []auditdomain.Entry
	err     error
}

func (a *recordingAudit) Record(ctx context.Context, entry auditdomain.Entry) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.err != nil {
		return a.err
	}
	a.entries = append(a.entries, entry)
	return nil
}

func (a *recordingAudit) ListByFlag(ctx context.Context, flagID snowflake.ID, limit int) ([]auditdomain.FlagAuditLog, error) {
	return nil, nil
}

func (a *recordingAudit) recorded() []auditdomain.Entry {
	a.mu.Lock()
	defer a.mu.Unlock()
	return append([]auditdomain.Entry(nil), a.entries...)
}

func mustNode(t *testing.T) *snowflake.Node {
	t.Helper()
	node, err := snowflake.NewNode(1)
	if err != nil {
		t.Fatalf("snowflake node: %v", err)
	}
	return node
}

func setupFlagService(t *testing.T) (domain.Service, *gorm.DB, *recordingCache, *recordingAudit) {
	t.Helper()

	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{})
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	if err := db.AutoMigrate(&domain.Flag{}); err != nil {
		t.Fatalf("migrate: %v", err)
	}

	cache := &recordingCache{}
	audit := &recordingAudit{}
	svc := New(Params{
		DB:    db,
		Log:   zap.NewNop(),
		GenID: mustNode(t),
		Repo:  repository.Provide(),
		Cache: cache,
		Audit: audit,
	})
	return svc, db, cache, audit
}

func tenantContext(t *testing.T) context.Context {
	t.Helper()
	return tenantctx.WithTenantID(context.Background(), mustNode(t).Generate())
}

func intPtr(v int) *int       { return &v }
func strPtr(v string) *string { return &v }

func TestCreateFlag(t *testing.T) {
	svc, _, cache, audit := setupFlagService(t)
	ctx := tenantContext(t)

	resp, err := svc.Create(ctx, domain.CreateRequest{
		Key:               "New-Checkout-Flow",
		Name:              "New checkout flow",
		RolloutPercentage: intPtr(25),
	})
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if resp.Key != "new-checkout-flow" {
		t.Fatalf("expected lowercased key, got %s", resp.Key)
	}
	if resp.RolloutPercentage != 25 || !resp.IsEnabled || resp.Status != domain.StatusActive {
		t.Fatalf("unexpected defaults: %+v", resp)
	}

	if drops := cache.droppedFlags(); len(drops) != 1 || drops[0] != "new-checkout-flow" {
		t.Fatalf("expected one flag invalidation, got %v", drops)
	}
	if sets := cache.droppedFlagSets(); len(sets) != 1 {
		t.Fatalf("expected one flag-set invalidation, got %v", sets)
	}

	entries := audit.recorded()
	if len(entries) != 1 || entries[0].Action != auditdomain.ActionCreated {
		t.Fatalf("expected created audit entry, got %+v", entries)
	}
}

func TestCreateFlagValidation(t *testing.T) {
	svc, _, _, _ := setupFlagService(t)
	ctx := tenantContext(t)

	cases := []struct {
		name string
		req  domain.CreateRequest
		want error
	}{
		{"empty key", domain.CreateRequest{Key: "", Name: "x"}, domain.ErrInvalidKey},
		{"short key", domain.CreateRequest{Key: "a", Name: "x"}, domain.ErrInvalidKey},
		{"bad characters", domain.CreateRequest{Key: "has_underscore", Name: "x"}, domain.ErrInvalidKey},
		{"leading dash", domain.CreateRequest{Key: "-leading", Name: "x"}, domain.ErrInvalidKey},
		{"empty name", domain.CreateRequest{Key: "valid-key", Name: "  "}, domain.ErrInvalidName},
		{"negative rollout", domain.CreateRequest{Key: "valid-key", Name: "x", RolloutPercentage: intPtr(-1)}, domain.ErrInvalidPercentage},
		{"rollout above 100", domain.CreateRequest{Key: "valid-key", Name: "x", RolloutPercentage: intPtr(101)}, domain.ErrInvalidPercentage},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if _, err := svc.Create(ctx, tc.req); !errors.Is(err, tc.want) {
				t.Fatalf("expected %v, got %v", tc.want, err)
			}
		})
	}
}

func TestCreateFlagConflict(t *testing.T) {
	svc, _, _, _ := setupFlagService(t)
	ctx := tenantContext(t)

	req := domain.CreateRequest{Key: "dup-key", Name: "first"}
	if _, err := svc.Create(ctx, req); err != nil {
		t.Fatalf("create: %v", err)
	}
	if _, err := svc.Create(ctx, req); !errors.Is(err, domain.ErrConflict) {
		t.Fatalf("expected ErrConflict, got %v", err)
	}
}

func TestCreateFlagSameKeyAcrossTenants(t *testing.T) {
	svc, _, _, _ := setupFlagService(t)
	node := mustNode(t)
	ctxA := tenantctx.WithTenantID(context.Background(), node.Generate())
	ctxB := tenantctx.WithTenantID(context.Background(), node.Generate())

	req := domain.CreateRequest{Key: "shared-key", Name: "per tenant"}
	if _, err := svc.Create(ctxA, req); err != nil {
		t.Fatalf("create tenant A: %v", err)
	}
	if _, err := svc.Create(ctxB, req); err != nil {
		t.Fatalf("tenants must not share key uniqueness: %v", err)
	}
}

func TestUpdateFlagPartialMerge(t *testing.T) {
	svc, _, _, audit := setupFlagService(t)
	ctx := tenantContext(t)

	if _, err := svc.Create(ctx, domain.CreateRequest{
		Key:               "merge-me",
		Name:              "original",
		Description:       strPtr("original description"),
		RolloutPercentage: intPtr(10),
	}); err != nil {
		t.Fatalf("create: %v", err)
	}

	resp, err := svc.Update(ctx, domain.UpdateRequest{
		Key:               "merge-me",
		RolloutPercentage: intPtr(60),
	})
	if err != nil {
		t.Fatalf("update: %v", err)
	}
	if resp.RolloutPercentage != 60 {
		t.Fatalf("expected rollout 60, got %d", resp.RolloutPercentage)
	}
	if resp.Name != "original" || resp.Description == nil || *resp.Description != "original description" {
		t.Fatalf("omitted fields must keep prior values: %+v", resp)
	}

	entries := audit.recorded()
	last := entries[len(entries)-1]
	if last.Action != auditdomain.ActionRolloutChanged {
		t.Fatalf("expected rollout_changed, got %s", last.Action)
	}
	if _, ok := last.Before["name"]; ok {
		t.Fatalf("audit diff must only carry changed fields: %+v", last.Before)
	}
	if last.Before["rollout_percentage"] != 10 || last.After["rollout_percentage"] != 60 {
		t.Fatalf("unexpected audit diff: before=%v after=%v", last.Before, last.After)
	}
}

func TestUpdateFlagNoChanges(t *testing.T) {
	svc, _, cache, audit := setupFlagService(t)
	ctx := tenantContext(t)

	if _, err := svc.Create(ctx, domain.CreateRequest{Key: "steady-flag", Name: "same"}); err != nil {
		t.Fatalf("create: %v", err)
	}
	dropsBefore := len(cache.droppedFlags())
	entriesBefore := len(audit.recorded())

	if _, err := svc.Update(ctx, domain.UpdateRequest{Key: "steady-flag", Name: strPtr("same")}); err != nil {
		t.Fatalf("update: %v", err)
	}
	if len(cache.droppedFlags()) != dropsBefore {
		t.Fatal("no-op update must not invalidate the cache")
	}
	if len(audit.recorded()) != entriesBefore {
		t.Fatal("no-op update must not record an audit entry")
	}
}

func TestUpdateFlagNotFound(t *testing.T) {
	svc, _, _, _ := setupFlagService(t)
	ctx := tenantContext(t)

	if _, err := svc.Update(ctx, domain.UpdateRequest{Key: "ghost-flag", Name: strPtr("x")}); !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestUpdateInvalidatesAfterWrite(t *testing.T) {
	svc, db, cache, _ := setupFlagService(t)
	ctx := tenantContext(t)

	if _, err := svc.Create(ctx, domain.CreateRequest{
		Key:               "ordering-check",
		Name:              "ordering",
		RolloutPercentage: intPtr(0),
	}); err != nil {
		t.Fatalf("create: %v", err)
	}

	// When the invalidation fires, the database must already hold the new
	// value, so a racing reader can only repopulate with fresh state.
	var observed int
	cache.onInvalidate = func() {
		var row domain.Flag
		if err := db.Raw(`SELECT rollout_percentage FROM flags WHERE key = ?`, "ordering-check").Scan(&row).Error; err != nil {
			t.Errorf("read during invalidation: %v", err)
			return
		}
		observed = row.RolloutPercentage
	}

	if _, err := svc.Update(ctx, domain.UpdateRequest{
		Key:               "ordering-check",
		RolloutPercentage: intPtr(100),
	}); err != nil {
		t.Fatalf("update: %v", err)
	}
	if observed != 100 {
		t.Fatalf("invalidation fired before the write was durable: observed %d", observed)
	}
}

func TestDeleteFlag(t *testing.T) {
	svc, _, cache, audit := setupFlagService(t)
	ctx := tenantContext(t)

	if _, err := svc.Create(ctx, domain.CreateRequest{Key: "doomed-flag", Name: "doomed"}); err != nil {
		t.Fatalf("create: %v", err)
	}
	if err := svc.Delete(ctx, "doomed-flag"); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if _, err := svc.Get(ctx, "doomed-flag"); !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("expected ErrNotFound after delete, got %v", err)
	}

	drops := cache.droppedFlags()
	if drops[len(drops)-1] != "doomed-flag" {
		t.Fatalf("expected invalidation on delete, got %v", drops)
	}
	entries := audit.recorded()
	if entries[len(entries)-1].Action != auditdomain.ActionDeleted {
		t.Fatalf("expected deleted audit entry, got %+v", entries)
	}
}

func TestToggleFlag(t *testing.T) {
	svc, _, _, audit := setupFlagService(t)
	ctx := tenantContext(t)

	if _, err := svc.Create(ctx, domain.CreateRequest{Key: "kill-switch", Name: "kill switch"}); err != nil {
		t.Fatalf("create: %v", err)
	}

	resp, err := svc.Toggle(ctx, "kill-switch", false)
	if err != nil {
		t.Fatalf("toggle off: %v", err)
	}
	if resp.IsEnabled {
		t.Fatal("expected flag disabled")
	}

	resp, err = svc.Toggle(ctx, "kill-switch", true)
	if err != nil {
		t.Fatalf("toggle on: %v", err)
	}
	if !resp.IsEnabled {
		t.Fatal("expected flag enabled")
	}

	entries := audit.recorded()
	if len(entries) != 3 {
		t.Fatalf("expected 3 audit entries, got %d", len(entries))
	}
	if entries[1].Action != auditdomain.ActionDisabled || entries[2].Action != auditdomain.ActionEnabled {
		t.Fatalf("unexpected toggle actions: %s, %s", entries[1].Action, entries[2].Action)
	}
}

func TestMutationSucceedsWhenAuditFails(t *testing.T) {
	svc, _, _, audit := setupFlagService(t)
	ctx := tenantContext(t)
	audit.err = errors.New("audit store down")

	if _, err := svc.Create(ctx, domain.CreateRequest{Key: "resilient-flag", Name: "resilient"}); err != nil {
		t.Fatalf("audit failure must not fail the mutation: %v", err)
	}
	if _, err := svc.Get(ctx, "resilient-flag"); err != nil {
		t.Fatalf("flag must exist despite audit failure: %v", err)
	}
}

func TestListFlags(t *testing.T) {
	svc, _, _, _ := setupFlagService(t)
	ctx := tenantContext(t)

	for _, key := range []string{"flag-one", "flag-two", "flag-three"} {
		if _, err := svc.Create(ctx, domain.CreateRequest{Key: key, Name: key}); err != nil {
			t.Fatalf("create %s: %v", key, err)
		}
	}
	archived := domain.StatusArchived
	if _, err := svc.Update(ctx, domain.UpdateRequest{Key: "flag-three", Status: &archived}); err != nil {
		t.Fatalf("archive: %v", err)
	}

	all, err := svc.List(ctx, domain.ListRequest{})
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if all.Total != 3 {
		t.Fatalf("expected 3 flags, got %d", all.Total)
	}

	active := domain.StatusActive
	filtered, err := svc.List(ctx, domain.ListRequest{Status: &active})
	if err != nil {
		t.Fatalf("list filtered: %v", err)
	}
	if filtered.Total != 2 {
		t.Fatalf("expected 2 active flags, got %d", filtered.Total)
	}
}
