package service

import (
	"context"
	"regexp"
	"strings"
	"time"

	"github.com/bwmarrin/snowflake"
	auditdomain "github.com/smallbiznis/rollout/internal/audit/domain"
	"github.com/smallbiznis/rollout/internal/flag/domain"
	"github.com/smallbiznis/rollout/internal/flagcache"
	"github.com/smallbiznis/rollout/pkg/db"
	"github.com/smallbiznis/rollout/pkg/tenantctx"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

// keyPattern accepts lowercase kebab-case keys, e.g. "new-checkout-flow".
var keyPattern = regexp.MustCompile(`^[a-z0-9]+(?:-[a-z0-9]+)*$`)

type Params struct {
	fx.In
	DB    *gorm.DB
	Log   *zap.Logger
	GenID *snowflake.Node
	Repo  domain.Repository
	Cache flagcache.Store
	Audit auditdomain.Service
}

type flagService struct {
	db    *gorm.DB
	log   *zap.Logger
	genID *snowflake.Node
	repo  domain.Repository
	cache flagcache.Store
	audit auditdomain.Service
}

func New(p Params) domain.Service {
	return &flagService{
		db:    p.DB,
		log:   p.Log.Named("flag.service"),
		genID: p.GenID,
		repo:  p.Repo,
		cache: p.Cache,
		audit: p.Audit,
	}
}

func normalizeKey(key string) (string, error) {
	key = strings.ToLower(strings.TrimSpace(key))
	if len(key) < 2 || len(key) > 100 || !keyPattern.MatchString(key) {
		return "", domain.ErrInvalidKey
	}
	return key, nil
}

func validPercentage(p int) bool {
	return p >= 0 && p <= 100
}

func (s *flagService) Create(ctx context.Context, req domain.CreateRequest) (*domain.Response, error) {
	tenantID, ok := tenantctx.TenantID(ctx)
	if !ok {
		return nil, domain.ErrInvalidTenant
	}

	key, err := normalizeKey(req.Key)
	if err != nil {
		return nil, err
	}
	name := strings.TrimSpace(req.Name)
	if name == "" {
		return nil, domain.ErrInvalidName
	}

	rollout := 0
	if req.RolloutPercentage != nil {
		if !validPercentage(*req.RolloutPercentage) {
			return nil, domain.ErrInvalidPercentage
		}
		rollout = *req.RolloutPercentage
	}
	isEnabled := true
	if req.IsEnabled != nil {
		isEnabled = *req.IsEnabled
	}

	existing, err := s.repo.FindByKey(ctx, s.db, tenantID, key)
	if err != nil {
		return nil, err
	}
	if existing != nil {
		return nil, domain.ErrConflict
	}

	now := time.Now().UTC()
	flag := domain.Flag{
		ID:                s.genID.Generate(),
		TenantID:          tenantID,
		Key:               key,
		Name:              name,
		Description:       req.Description,
		RolloutPercentage: rollout,
		IsEnabled:         isEnabled,
		Status:            domain.StatusActive,
		Tags:              datatypes.JSONMap(req.Tags),
		CreatedAt:         now,
		UpdatedAt:         now,
	}
	if err := s.repo.Insert(ctx, s.db, &flag); err != nil {
		if db.IsDuplicateKeyErr(err) {
			return nil, domain.ErrConflict
		}
		return nil, err
	}

	s.invalidate(ctx, tenantID, key)
	s.record(ctx, auditdomain.Entry{
		FlagID:   flag.ID,
		TenantID: tenantID,
		Action:   auditdomain.ActionCreated,
		After: map[string]any{
			"key":                flag.Key,
			"name":               flag.Name,
			"rollout_percentage": flag.RolloutPercentage,
			"is_enabled":         flag.IsEnabled,
			"status":             string(flag.Status),
		},
	})

	resp := toResponse(&flag)
	return &resp, nil
}

func (s *flagService) Get(ctx context.Context, key string) (*domain.Response, error) {
	tenantID, ok := tenantctx.TenantID(ctx)
	if !ok {
		return nil, domain.ErrInvalidTenant
	}
	flag, err := s.find(ctx, tenantID, key)
	if err != nil {
		return nil, err
	}
	resp := toResponse(flag)
	return &resp, nil
}

func (s *flagService) List(ctx context.Context, req domain.ListRequest) (domain.ListResponse, error) {
	tenantID, ok := tenantctx.TenantID(ctx)
	if !ok {
		return domain.ListResponse{}, domain.ErrInvalidTenant
	}
	if req.Status != nil && !domain.ValidStatus(*req.Status) {
		return domain.ListResponse{}, domain.ErrInvalidStatus
	}

	page := req.Page
	if page < 1 {
		page = 1
	}
	pageSize := req.PageSize
	if pageSize < 1 {
		pageSize = 50
	}

	items, total, err := s.repo.List(ctx, s.db, tenantID, domain.ListFilter{
		Status:   req.Status,
		Page:     page,
		PageSize: pageSize,
	})
	if err != nil {
		return domain.ListResponse{}, err
	}

	flags := make([]domain.Response, 0, len(items))
	for i := range items {
		flags = append(flags, toResponse(&items[i]))
	}
	return domain.ListResponse{
		Flags:    flags,
		Total:    total,
		Page:     page,
		PageSize: pageSize,
	}, nil
}

func (s *flagService) Update(ctx context.Context, req domain.UpdateRequest) (*domain.Response, error) {
	tenantID, ok := tenantctx.TenantID(ctx)
	if !ok {
		return nil, domain.ErrInvalidTenant
	}
	flag, err := s.find(ctx, tenantID, req.Key)
	if err != nil {
		return nil, err
	}

	before := map[string]any{}
	after := map[string]any{}
	rolloutChanged := false

	if req.Name != nil {
		name := strings.TrimSpace(*req.Name)
		if name == "" {
			return nil, domain.ErrInvalidName
		}
		if name != flag.Name {
			before["name"] = flag.Name
			after["name"] = name
			flag.Name = name
		}
	}
	if req.Description != nil {
		prev := ""
		if flag.Description != nil {
			prev = *flag.Description
		}
		if *req.Description != prev {
			before["description"] = prev
			after["description"] = *req.Description
			flag.Description = req.Description
		}
	}
	if req.RolloutPercentage != nil {
		if !validPercentage(*req.RolloutPercentage) {
			return nil, domain.ErrInvalidPercentage
		}
		if *req.RolloutPercentage != flag.RolloutPercentage {
			before["rollout_percentage"] = flag.RolloutPercentage
			after["rollout_percentage"] = *req.RolloutPercentage
			flag.RolloutPercentage = *req.RolloutPercentage
			rolloutChanged = true
		}
	}
	if req.IsEnabled != nil && *req.IsEnabled != flag.IsEnabled {
		before["is_enabled"] = flag.IsEnabled
		after["is_enabled"] = *req.IsEnabled
		flag.IsEnabled = *req.IsEnabled
	}
	if req.Status != nil {
		if !domain.ValidStatus(*req.Status) {
			return nil, domain.ErrInvalidStatus
		}
		if *req.Status != flag.Status {
			before["status"] = string(flag.Status)
			after["status"] = string(*req.Status)
			flag.Status = *req.Status
		}
	}
	if req.Tags != nil {
		before["tags"] = map[string]any(flag.Tags)
		after["tags"] = req.Tags
		flag.Tags = datatypes.JSONMap(req.Tags)
	}

	if len(after) == 0 {
		resp := toResponse(flag)
		return &resp, nil
	}

	flag.UpdatedAt = time.Now().UTC()
	if err := s.repo.Update(ctx, s.db, flag); err != nil {
		return nil, err
	}

	s.invalidate(ctx, tenantID, flag.Key)

	action := auditdomain.ActionUpdated
	if rolloutChanged {
		action = auditdomain.ActionRolloutChanged
	}
	s.record(ctx, auditdomain.Entry{
		FlagID:   flag.ID,
		TenantID: tenantID,
		Action:   action,
		Before:   before,
		After:    after,
	})

	resp := toResponse(flag)
	return &resp, nil
}

func (s *flagService) Delete(ctx context.Context, key string) error {
	tenantID, ok := tenantctx.TenantID(ctx)
	if !ok {
		return domain.ErrInvalidTenant
	}
	flag, err := s.find(ctx, tenantID, key)
	if err != nil {
		return err
	}

	if err := s.repo.Delete(ctx, s.db, tenantID, flag.ID); err != nil {
		return err
	}

	s.invalidate(ctx, tenantID, flag.Key)
	s.record(ctx, auditdomain.Entry{
		FlagID:   flag.ID,
		TenantID: tenantID,
		Action:   auditdomain.ActionDeleted,
		Before: map[string]any{
			"key":                flag.Key,
			"name":               flag.Name,
			"rollout_percentage": flag.RolloutPercentage,
			"is_enabled":         flag.IsEnabled,
			"status":             string(flag.Status),
		},
	})
	return nil
}

func (s *flagService) Toggle(ctx context.Context, key string, isEnabled bool) (*domain.Response, error) {
	tenantID, ok := tenantctx.TenantID(ctx)
	if !ok {
		return nil, domain.ErrInvalidTenant
	}
	flag, err := s.find(ctx, tenantID, key)
	if err != nil {
		return nil, err
	}

	if flag.IsEnabled == isEnabled {
		resp := toResponse(flag)
		return &resp, nil
	}

	before := map[string]any{"is_enabled": flag.IsEnabled}
	flag.IsEnabled = isEnabled
	flag.UpdatedAt = time.Now().UTC()
	if err := s.repo.Update(ctx, s.db, flag); err != nil {
		return nil, err
	}

	s.invalidate(ctx, tenantID, flag.Key)

	action := auditdomain.ActionDisabled
	if isEnabled {
		action = auditdomain.ActionEnabled
	}
	s.record(ctx, auditdomain.Entry{
		FlagID:   flag.ID,
		TenantID: tenantID,
		Action:   action,
		Before:   before,
		After:    map[string]any{"is_enabled": isEnabled},
	})

	resp := toResponse(flag)
	return &resp, nil
}

func (s *flagService) find(ctx context.Context, tenantID snowflake.ID, key string) (*domain.Flag, error) {
	key = strings.ToLower(strings.TrimSpace(key))
	if key == "" {
		return nil, domain.ErrInvalidKey
	}
	flag, err := s.repo.FindByKey(ctx, s.db, tenantID, key)
	if err != nil {
		return nil, err
	}
	if flag == nil {
		return nil, domain.ErrNotFound
	}
	return flag, nil
}

// invalidate drops cache entries after the durable write has committed.
// Readers may still serve a stale snapshot until the TTL lapses, never
// longer.
func (s *flagService) invalidate(ctx context.Context, tenantID snowflake.ID, key string) {
	s.cache.InvalidateFlag(ctx, tenantID, key)
	s.cache.InvalidateFlagSet(ctx, tenantID, "")
}

func (s *flagService) record(ctx context.Context, entry auditdomain.Entry) {
	if err := s.audit.Record(ctx, entry); err != nil {
		s.log.Warn("audit record failed",
			zap.String("action", entry.Action),
			zap.Error(err),
		)
	}
}

func toResponse(f *domain.Flag) domain.Response {
	return domain.Response{
		ID:                f.ID.String(),
		TenantID:          f.TenantID.String(),
		Key:               f.Key,
		Name:              f.Name,
		Description:       f.Description,
		RolloutPercentage: f.RolloutPercentage,
		IsEnabled:         f.IsEnabled,
		Status:            f.Status,
		Tags:              map[string]any(f.Tags),
		CreatedAt:         f.CreatedAt,
		UpdatedAt:         f.UpdatedAt,
	}
}
