package evaluation

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/rollout/internal/config"
	flagdomain "github.com/smallbiznis/rollout/internal/flag/domain"
	"github.com/smallbiznis/rollout/internal/flagcache"
	"github.com/smallbiznis/rollout/pkg/tenantctx"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// Evaluation reason codes, reported verbatim in API responses so SDK
// consumers can tell a rollout miss from a missing flag.
const (
	ReasonRolloutMatch    = "ROLLOUT_MATCH"
	ReasonRolloutNoMatch  = "ROLLOUT_NO_MATCH"
	ReasonFlagDisabled    = "FLAG_DISABLED"
	ReasonFlagNotFound    = "FLAG_NOT_FOUND"
	ReasonFlagInactive    = "FLAG_INACTIVE"
	ReasonEvaluationError = "EVALUATION_ERROR"
)

var (
	ErrInvalidTenant   = errors.New("invalid_tenant")
	ErrInvalidUser     = errors.New("invalid_user")
	ErrTooManyFlagKeys = errors.New("too_many_flag_keys")
)

// Result is the outcome of evaluating one flag for one user.
type Result struct {
	FlagKey string `json:"flag_key"`
	Value   bool   `json:"value"`
	Reason  string `json:"reason"`
}

// ConfigItem is one entry of the SDK bootstrap payload.
type ConfigItem struct {
	Key               string `json:"key"`
	RolloutPercentage int    `json:"rollout_percentage"`
	IsEnabled         bool   `json:"is_enabled"`
}

type Service interface {
	Evaluate(ctx context.Context, flagKey, userID string, defaultValue bool) (Result, error)
	EvaluateBulk(ctx context.Context, flagKeys []string, userID string, defaultValue bool) ([]Result, error)
	// EvaluateAll returns only booleans: the full-set bootstrap path does
	// not expose per-key reasons.
	EvaluateAll(ctx context.Context, userID string) (map[string]bool, error)
	FlagConfig(ctx context.Context) ([]ConfigItem, error)
}

type Params struct {
	fx.In
	DB    *gorm.DB
	Log   *zap.Logger
	Cfg   config.Config
	Repo  flagdomain.Repository
	Cache flagcache.Store
}

// Engine evaluates flags against cached snapshots, falling back to the
// repository on a miss. Lookup failures degrade to the caller-supplied
// default rather than erroring the request.
type Engine struct {
	db            *gorm.DB
	log           *zap.Logger
	repo          flagdomain.Repository
	cache         flagcache.Store
	maxBulkKeys   int
	lookupTimeout time.Duration
}

func New(p Params) Service {
	maxBulk := p.Cfg.Evaluation.MaxBulkKeys
	if maxBulk < 1 {
		maxBulk = 100
	}
	timeout := p.Cfg.Evaluation.LookupTimeout
	if timeout <= 0 {
		timeout = 2 * time.Second
	}
	return &Engine{
		db:            p.DB,
		log:           p.Log.Named("evaluation.engine"),
		repo:          p.Repo,
		cache:         p.Cache,
		maxBulkKeys:   maxBulk,
		lookupTimeout: timeout,
	}
}

func (e *Engine) Evaluate(ctx context.Context, flagKey, userID string, defaultValue bool) (Result, error) {
	tenantID, ok := tenantctx.TenantID(ctx)
	if !ok {
		return Result{}, ErrInvalidTenant
	}
	// The key is matched as given, so results echo the caller's key
	// verbatim. Keys are stored lowercase, meaning a mixed-case key
	// simply does not resolve.
	flagKey = strings.TrimSpace(flagKey)
	userID = strings.TrimSpace(userID)
	if flagKey == "" || userID == "" {
		return Result{}, ErrInvalidUser
	}

	snap, found, err := e.lookup(ctx, tenantID, flagKey)
	if err != nil {
		e.log.Warn("flag lookup failed",
			zap.String("flag_key", flagKey),
			zap.Error(err),
		)
		return Result{FlagKey: flagKey, Value: defaultValue, Reason: ReasonEvaluationError}, nil
	}
	if !found {
		return Result{FlagKey: flagKey, Value: defaultValue, Reason: ReasonFlagNotFound}, nil
	}
	return decide(*snap, userID, flagKey), nil
}

func (e *Engine) EvaluateBulk(ctx context.Context, flagKeys []string, userID string, defaultValue bool) ([]Result, error) {
	if len(flagKeys) > e.maxBulkKeys {
		return nil, ErrTooManyFlagKeys
	}

	results := make([]Result, 0, len(flagKeys))
	for _, key := range flagKeys {
		res, err := e.Evaluate(ctx, key, userID, defaultValue)
		if err != nil {
			return nil, err
		}
		results = append(results, res)
	}
	return results, nil
}

func (e *Engine) EvaluateAll(ctx context.Context, userID string) (map[string]bool, error) {
	tenantID, ok := tenantctx.TenantID(ctx)
	if !ok {
		return nil, ErrInvalidTenant
	}
	userID = strings.TrimSpace(userID)
	if userID == "" {
		return nil, ErrInvalidUser
	}

	lookupCtx, cancel := context.WithTimeout(ctx, e.lookupTimeout)
	defer cancel()

	flags, err := e.repo.ListActive(lookupCtx, e.db, tenantID)
	if err != nil {
		return nil, err
	}

	results := make(map[string]bool, len(flags))
	for i := range flags {
		snap := toSnapshot(&flags[i])
		results[snap.Key] = decide(snap, userID, snap.Key).Value
	}
	return results, nil
}

func (e *Engine) FlagConfig(ctx context.Context) ([]ConfigItem, error) {
	tenantID, ok := tenantctx.TenantID(ctx)
	if !ok {
		return nil, ErrInvalidTenant
	}
	environment, ok := tenantctx.Environment(ctx)
	if !ok {
		environment = "default"
	}

	cacheCtx, cancelCache := context.WithTimeout(ctx, e.lookupTimeout)
	snaps, hit := e.cache.GetFlagSet(cacheCtx, tenantID, environment)
	cancelCache()
	if hit {
		return toConfigItems(snaps), nil
	}

	repoCtx, cancel := context.WithTimeout(ctx, e.lookupTimeout)
	defer cancel()

	flags, err := e.repo.ListActive(repoCtx, e.db, tenantID)
	if err != nil {
		return nil, err
	}

	snaps = make([]flagcache.Snapshot, 0, len(flags))
	for i := range flags {
		snaps = append(snaps, toSnapshot(&flags[i]))
	}
	e.cache.SetFlagSet(ctx, tenantID, environment, snaps)
	return toConfigItems(snaps), nil
}

// lookup reads a snapshot cache-first and populates the cache on a
// repository hit. A nil error with found=false means the flag does not
// exist for this tenant.
func (e *Engine) lookup(ctx context.Context, tenantID snowflake.ID, flagKey string) (*flagcache.Snapshot, bool, error) {
	// The cache probe and the repository fallback get separate bounded
	// windows: a cache transport that stalls for its whole window must
	// still leave the repository call a full budget, so a cache timeout
	// degrades to a miss instead of poisoning the fallback.
	cacheCtx, cancelCache := context.WithTimeout(ctx, e.lookupTimeout)
	snap, hit := e.cache.GetFlag(cacheCtx, tenantID, flagKey)
	cancelCache()
	if hit {
		return snap, true, nil
	}

	repoCtx, cancel := context.WithTimeout(ctx, e.lookupTimeout)
	defer cancel()

	flag, err := e.repo.FindByKey(repoCtx, e.db, tenantID, flagKey)
	if err != nil {
		return nil, false, err
	}
	if flag == nil {
		return nil, false, nil
	}

	loaded := toSnapshot(flag)
	e.cache.SetFlag(ctx, tenantID, flagKey, loaded)
	return &loaded, true, nil
}

// decide applies the evaluation precedence: enabled check, status check,
// then the rollout bucket. A bucket strictly below the percentage is a
// match, so 0 percent never matches and 100 percent always does.
func decide(snap flagcache.Snapshot, userID, flagKey string) Result {
	if !snap.IsEnabled {
		return Result{FlagKey: flagKey, Value: false, Reason: ReasonFlagDisabled}
	}
	if snap.Status != string(flagdomain.StatusActive) {
		return Result{FlagKey: flagKey, Value: false, Reason: ReasonFlagInactive}
	}
	if Bucket(userID, flagKey) < snap.RolloutPercentage {
		return Result{FlagKey: flagKey, Value: true, Reason: ReasonRolloutMatch}
	}
	return Result{FlagKey: flagKey, Value: false, Reason: ReasonRolloutNoMatch}
}

func toSnapshot(f *flagdomain.Flag) flagcache.Snapshot {
	return flagcache.Snapshot{
		Key:               f.Key,
		RolloutPercentage: f.RolloutPercentage,
		IsEnabled:         f.IsEnabled,
		Status:            string(f.Status),
	}
}

func toConfigItems(snaps []flagcache.Snapshot) []ConfigItem {
	items := make([]ConfigItem, 0, len(snaps))
	for _, snap := range snaps {
		items = append(items, ConfigItem{
			Key:               snap.Key,
			RolloutPercentage: snap.RolloutPercentage,
			IsEnabled:         snap.IsEnabled,
		})
	}
	return items
}
