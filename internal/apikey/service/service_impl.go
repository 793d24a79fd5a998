package service

import (
	"context"
	"strings"
	"time"

	"github.com/smallbiznis/rollout/internal/apikey/domain"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

type Params struct {
	fx.In
	DB   *gorm.DB
	Log  *zap.Logger
	Repo domain.Repository
}

type resolver struct {
	db   *gorm.DB
	log  *zap.Logger
	repo domain.Repository
}

func New(p Params) domain.Resolver {
	return &resolver{
		db:   p.DB,
		log:  p.Log.Named("apikey.resolver"),
		repo: p.Repo,
	}
}

func (r *resolver) Resolve(ctx context.Context, raw string) (domain.Identity, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return domain.Identity{}, domain.ErrInvalidKey
	}

	hash := domain.HashKey(raw)
	key, err := r.repo.FindByHash(ctx, r.db, hash)
	if err != nil {
		return domain.Identity{}, err
	}
	if key == nil || !domain.HashEquals(key.KeyHash, hash) {
		return domain.Identity{}, domain.ErrInvalidKey
	}
	if !key.IsActive {
		return domain.Identity{}, domain.ErrInvalidKey
	}
	if key.ExpiresAt != nil && key.ExpiresAt.Before(time.Now().UTC()) {
		return domain.Identity{}, domain.ErrInvalidKey
	}

	if err := r.repo.TouchLastUsed(ctx, r.db, key.ID, time.Now().UTC()); err != nil {
		r.log.Warn("failed to touch api key", zap.Int64("key_id", int64(key.ID)), zap.Error(err))
	}

	return domain.Identity{
		KeyID:       key.ID,
		TenantID:    key.TenantID,
		Environment: key.Environment,
	}, nil
}
