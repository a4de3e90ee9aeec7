package progress

import (
	"context"
	"time"

	"creatorloyalty/pkg/db/option"
	"creatorloyalty/pkg/repository"
	"creatorloyalty/services/activity"
	"creatorloyalty/services/catalog"
	"creatorloyalty/services/redemption"
	"creatorloyalty/services/tenant"
	"creatorloyalty/services/tier"

	"github.com/bwmarrin/snowflake"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

const recomputeConcurrency = 5

// Service is the progress tracker: it fans recomputation out across a
// tenant's missions and spawns redemptions when progress completes.
type Service struct {
	db          *gorm.DB
	node        *snowflake.Node
	repo        repository.Repository[MissionProgress]
	activity    *activity.Service
	catalog     *catalog.Service
	tiers       *tier.Service
	tenants     *tenant.Service
	redemptions *redemption.Service
}

type ServiceParams struct {
	fx.In
	DB          *gorm.DB
	Node        *snowflake.Node
	Activity    *activity.Service
	Catalog     *catalog.Service
	Tiers       *tier.Service
	Tenants     *tenant.Service
	Redemptions *redemption.Service
}

func NewService(p ServiceParams) *Service {
	return &Service{
		db:          p.DB,
		node:        p.Node,
		repo:        repository.ProvideStore[MissionProgress](p.DB),
		activity:    p.Activity,
		catalog:     p.Catalog,
		tiers:       p.Tiers,
		tenants:     p.Tenants,
		redemptions: p.Redemptions,
	}
}

func traceFields(ctx context.Context) []zap.Field {
	span := trace.SpanFromContext(ctx)
	return []zap.Field{
		zap.String("trace_id", span.SpanContext().TraceID().String()),
		zap.String("span_id", span.SpanContext().SpanID().String()),
	}
}

// CreateProgress seeds one progress row per eligible user for a newly
// activated mission. The (user, mission) unique index makes repeated
// calls create zero additional rows.
func (s *Service) CreateProgress(ctx context.Context, tenantID, missionID string) (int, error) {
	zapLog := zap.L().With(traceFields(ctx)...)

	mission, err := s.catalog.GetMission(ctx, tenantID, missionID)
	if err != nil {
		return 0, err
	}

	var users []*tenant.User
	if err := s.db.WithContext(ctx).Where("tenant_id = ?", tenantID).Find(&users).Error; err != nil {
		zapLog.Error("failed to list users", zap.Error(err))
		return 0, status.Error(codes.Internal, "failed to list users")
	}

	var ladder tier.Ladder
	if mission.TierEligibility != catalog.TierEligibilityAll {
		ladder, err = s.tiers.Load(ctx, tenantID)
		if err != nil {
			return 0, err
		}
	}

	rows := make([]*MissionProgress, 0, len(users))
	for _, u := range users {
		if mission.TierEligibility != catalog.TierEligibilityAll &&
			!ladder.AtOrAbove(u.CurrentTier, mission.TierEligibility) {
			continue
		}
		rows = append(rows, &MissionProgress{
			ID:        s.node.Generate().String(),
			TenantID:  tenantID,
			UserID:    u.ID,
			MissionID: mission.ID,
			Status:    StatusDormant,
		})
	}

	if len(rows) == 0 {
		return 0, nil
	}

	res := s.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "user_id"}, {Name: "mission_id"}},
		DoNothing: true,
	}).Create(rows)
	if res.Error != nil {
		zapLog.Error("failed to seed progress rows", zap.Error(res.Error))
		return 0, status.Error(codes.Internal, "failed to create progress")
	}

	zapLog.Info("progress rows seeded",
		zap.String("tenant_id", tenantID),
		zap.String("mission_id", missionID),
		zap.Int64("created", res.RowsAffected),
	)
	return int(res.RowsAffected), nil
}

// Recompute refreshes every non-completed progress of a tenant, or of
// the given missions only. Completion uses an inclusive boundary and
// never reverts; each newly completed progress spawns its claimable
// redemption. Safe to re-run at any time.
func (s *Service) Recompute(ctx context.Context, tenantID string, missionIDs ...string) error {
	zapLog := zap.L().With(traceFields(ctx)...)

	query := s.db.WithContext(ctx).Where("tenant_id = ? AND type <> ?", tenantID, catalog.MissionRaffle)
	if len(missionIDs) > 0 {
		query = query.Where("id IN ?", missionIDs)
	}

	var missions []*catalog.Mission
	if err := query.Find(&missions).Error; err != nil {
		zapLog.Error("failed to list missions for recompute", zap.Error(err))
		return status.Error(codes.Internal, "failed to list missions")
	}
	if len(missions) == 0 {
		return nil
	}

	var users []*tenant.User
	if err := s.db.WithContext(ctx).Where("tenant_id = ?", tenantID).Find(&users).Error; err != nil {
		zapLog.Error("failed to list users for recompute", zap.Error(err))
		return status.Error(codes.Internal, "failed to list users")
	}
	userByID := make(map[string]*tenant.User, len(users))
	for _, u := range users {
		userByID[u.ID] = u
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(recomputeConcurrency)
	for _, mission := range missions {
		g.Go(func() error {
			return s.recomputeMission(gctx, tenantID, mission, userByID)
		})
	}

	if err := g.Wait(); err != nil {
		zapLog.Error("recompute failed", zap.String("tenant_id", tenantID), zap.Error(err))
		return status.Error(codes.Internal, "failed to recompute progress")
	}
	return nil
}

func (s *Service) recomputeMission(ctx context.Context, tenantID string, mission *catalog.Mission, userByID map[string]*tenant.User) error {
	rows, err := s.repo.Find(ctx, &MissionProgress{TenantID: tenantID, MissionID: mission.ID})
	if err != nil {
		return err
	}

	metric := mission.Type.Metric()
	for _, row := range rows {
		if row.Status == StatusCompleted {
			continue
		}

		user, ok := userByID[row.UserID]
		if !ok {
			continue
		}

		value, err := s.activity.SumSince(ctx, tenantID, row.UserID, metric, user.CheckpointStart)
		if err != nil {
			return err
		}

		if err := s.applyValue(ctx, row, mission, user, value); err != nil {
			return err
		}
	}
	return nil
}

// applyValue writes the recomputed value with a guard on the completion
// latch. The WHERE on status <> completed means a concurrent completion
// wins and this write becomes a no-op.
func (s *Service) applyValue(ctx context.Context, row *MissionProgress, mission *catalog.Mission, user *tenant.User, value int64) error {
	next := StatusDormant
	if value > 0 {
		next = StatusActive
	}

	completed := value >= mission.TargetValue
	updates := map[string]any{
		"current_value": value,
		"updated_at":    time.Now(),
	}
	if completed {
		updates["status"] = StatusCompleted
		updates["completed_at"] = time.Now()
	} else if next == StatusActive {
		updates["status"] = StatusActive
	}

	res := s.db.WithContext(ctx).Model(&MissionProgress{}).
		Where("id = ? AND tenant_id = ? AND status <> ?", row.ID, row.TenantID, StatusCompleted).
		Updates(updates)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 || !completed {
		return nil
	}

	_, err := s.redemptions.Spawn(ctx, redemption.SpawnInput{
		TenantID:          row.TenantID,
		UserID:            row.UserID,
		MissionID:         mission.ID,
		MissionProgressID: row.ID,
		RewardID:          mission.RewardID,
		TierAtClaim:       user.CurrentTier,
	})
	if err != nil {
		return err
	}

	zap.L().Info("mission progress completed",
		zap.String("tenant_id", row.TenantID),
		zap.String("mission_id", mission.ID),
		zap.String("user_id", row.UserID),
		zap.Int64("value", value),
	)
	return nil
}

// Get returns one user's progress on one mission.
func (s *Service) Get(ctx context.Context, tenantID, userID, missionID string) (*MissionProgress, error) {
	row, err := s.repo.FindOne(ctx, &MissionProgress{TenantID: tenantID, UserID: userID, MissionID: missionID})
	if err != nil {
		zap.L().With(traceFields(ctx)...).Error("failed query get progress", zap.Error(err))
		return nil, status.Error(codes.Internal, "failed to get progress")
	}
	if row == nil {
		return nil, status.Error(codes.NotFound, "progress not found")
	}
	return row, nil
}

// ListForUser returns every progress row a user holds in one tenant.
func (s *Service) ListForUser(ctx context.Context, tenantID, userID string) ([]*MissionProgress, error) {
	rows, err := s.repo.Find(ctx, &MissionProgress{UserID: userID}, option.WithTenant(tenantID))
	if err != nil {
		zap.L().With(traceFields(ctx)...).Error("failed to list progress", zap.Error(err))
		return nil, status.Error(codes.Internal, "failed to list progress")
	}
	return rows, nil
}
