package service

import (
	"context"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/rollout/internal/audit/domain"
	"github.com/smallbiznis/rollout/pkg/tenantctx"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

type Params struct {
	fx.In
	DB    *gorm.DB
	Log   *zap.Logger
	GenID *snowflake.Node
	Repo  domain.Repository
}

type auditService struct {
	db    *gorm.DB
	log   *zap.Logger
	genID *snowflake.Node
	repo  domain.Repository
}

func New(p Params) domain.Service {
	return &auditService{
		db:    p.DB,
		log:   p.Log.Named("audit.service"),
		genID: p.GenID,
		repo:  p.Repo,
	}
}

func (s *auditService) Record(ctx context.Context, entry domain.Entry) error {
	if entry.TenantID == 0 {
		return domain.ErrInvalidTenant
	}
	if entry.Action == "" {
		return domain.ErrInvalidAction
	}

	changes := datatypes.JSONMap{}
	if entry.Before != nil {
		changes["before"] = entry.Before
	}
	if entry.After != nil {
		changes["after"] = entry.After
	}

	row := domain.FlagAuditLog{
		ID:        s.genID.Generate(),
		FlagID:    entry.FlagID,
		TenantID:  entry.TenantID,
		Action:    entry.Action,
		Changes:   changes,
		CreatedAt: time.Now().UTC(),
	}
	if actor, ok := tenantctx.ActorFromContext(ctx); ok {
		if actor.ID != "" {
			id := actor.ID
			row.ActorID = &id
		}
		if actor.Email != "" {
			email := actor.Email
			row.ActorEmail = &email
		}
	}

	if err := s.repo.Insert(ctx, s.db, &row); err != nil {
		s.log.Warn("failed to record audit entry",
			zap.String("action", entry.Action),
			zap.Int64("flag_id", int64(entry.FlagID)),
			zap.Error(err),
		)
		return err
	}
	return nil
}

func (s *auditService) ListByFlag(ctx context.Context, flagID snowflake.ID, limit int) ([]domain.FlagAuditLog, error) {
	tenantID, ok := tenantctx.TenantID(ctx)
	if !ok {
		return nil, domain.ErrInvalidTenant
	}
	return s.repo.ListByFlag(ctx, s.db, tenantID, flagID, limit)
}
