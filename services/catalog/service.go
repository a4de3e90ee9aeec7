package catalog

import (
	"context"

	"creatorloyalty/pkg/db/option"
	"creatorloyalty/pkg/repository"

	"github.com/bwmarrin/snowflake"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

// Service is the admin-authored mission/reward catalog store.
type Service struct {
	db       *gorm.DB
	node     *snowflake.Node
	missions repository.Repository[Mission]
	rewards  repository.Repository[Reward]
}

type ServiceParams struct {
	fx.In
	DB   *gorm.DB
	Node *snowflake.Node
}

func NewService(p ServiceParams) *Service {
	return &Service{
		db:       p.DB,
		node:     p.Node,
		missions: repository.ProvideStore[Mission](p.DB),
		rewards:  repository.ProvideStore[Reward](p.DB),
	}
}

func traceFields(ctx context.Context) []zap.Field {
	span := trace.SpanFromContext(ctx)
	return []zap.Field{
		zap.String("trace_id", span.SpanContext().TraceID().String()),
		zap.String("span_id", span.SpanContext().SpanID().String()),
	}
}

type CreateRewardRequest struct {
	TenantID            string
	Type                RewardType
	Description         string
	ValueData           datatypes.JSON
	TierEligibility     string
	PreviewFromTier     *string
	RedemptionFrequency RedemptionFrequency
	RedemptionQuantity  *int
}

func (s *Service) CreateReward(ctx context.Context, req *CreateRewardRequest) (*Reward, error) {
	zapLog := zap.L().With(traceFields(ctx)...)

	if req == nil || req.TenantID == "" || req.Type == "" {
		return nil, status.Error(codes.InvalidArgument, "tenant_id and type are required")
	}

	tierEligibility := req.TierEligibility
	if tierEligibility == "" {
		tierEligibility = TierEligibilityAll
	}

	frequency := req.RedemptionFrequency
	if frequency == "" {
		frequency = FrequencyOneTime
	}

	reward := &Reward{
		ID:                  s.node.Generate().String(),
		TenantID:            req.TenantID,
		Type:                req.Type,
		Description:         req.Description,
		ValueData:           req.ValueData,
		TierEligibility:     tierEligibility,
		PreviewFromTier:     req.PreviewFromTier,
		RedemptionFrequency: frequency,
		RedemptionQuantity:  req.RedemptionQuantity,
		Enabled:             true,
	}

	if err := s.rewards.Create(ctx, reward); err != nil {
		zapLog.Error("failed to create reward", zap.Error(err))
		return nil, status.Error(codes.Internal, "failed to create reward")
	}

	return reward, nil
}

type CreateMissionRequest struct {
	TenantID        string
	Name            string
	Type            MissionType
	TargetValue     int64
	TierEligibility string
	PreviewFromTier *string
	RewardID        string
	DisplayOrder    int
	Featured        bool
}

func (s *Service) CreateMission(ctx context.Context, req *CreateMissionRequest) (*Mission, error) {
	zapLog := zap.L().With(traceFields(ctx)...)

	if req == nil || req.TenantID == "" || req.Type == "" || req.RewardID == "" {
		return nil, status.Error(codes.InvalidArgument, "tenant_id, type, reward_id are required")
	}

	if req.Type == MissionRaffle && req.TargetValue != 0 {
		return nil, status.Error(codes.InvalidArgument, "raffle missions have no target value")
	}

	reward, err := s.GetReward(ctx, req.TenantID, req.RewardID)
	if err != nil {
		return nil, err
	}

	tierEligibility := req.TierEligibility
	if tierEligibility == "" {
		tierEligibility = TierEligibilityAll
	}

	mission := &Mission{
		ID:              s.node.Generate().String(),
		TenantID:        req.TenantID,
		Name:            req.Name,
		Type:            req.Type,
		TargetValue:     req.TargetValue,
		TierEligibility: tierEligibility,
		PreviewFromTier: req.PreviewFromTier,
		Enabled:         true,
		Featured:        req.Featured,
		RewardID:        reward.ID,
		DisplayOrder:    req.DisplayOrder,
	}

	if err := s.missions.Create(ctx, mission); err != nil {
		zapLog.Error("failed to create mission", zap.Error(err))
		return nil, status.Error(codes.Internal, "failed to create mission")
	}

	return mission, nil
}

func (s *Service) GetMission(ctx context.Context, tenantID, missionID string) (*Mission, error) {
	mission, err := s.missions.FindOne(ctx, &Mission{ID: missionID, TenantID: tenantID})
	if err != nil {
		zap.L().With(traceFields(ctx)...).Error("failed query get mission", zap.Error(err))
		return nil, status.Error(codes.Internal, "failed to get mission")
	}

	if mission == nil {
		return nil, status.Error(codes.NotFound, "mission not found")
	}

	return mission, nil
}

func (s *Service) GetReward(ctx context.Context, tenantID, rewardID string) (*Reward, error) {
	reward, err := s.rewards.FindOne(ctx, &Reward{ID: rewardID, TenantID: tenantID})
	if err != nil {
		zap.L().With(traceFields(ctx)...).Error("failed query get reward", zap.Error(err))
		return nil, status.Error(codes.Internal, "failed to get reward")
	}

	if reward == nil {
		return nil, status.Error(codes.NotFound, "reward not found")
	}

	return reward, nil
}

// ListMissions returns a tenant's catalog; disabled missions are
// included so the read model can apply the grandfathering rule itself.
func (s *Service) ListMissions(ctx context.Context, tenantID string) ([]*Mission, error) {
	missions, err := s.missions.Find(ctx, &Mission{},
		option.WithTenant(tenantID),
		option.WithSortBy(option.QuerySortBy{Column: "display_order", OrderBy: "ASC"}),
	)
	if err != nil {
		zap.L().With(traceFields(ctx)...).Error("failed to list missions", zap.Error(err))
		return nil, status.Error(codes.Internal, "failed to list missions")
	}
	return missions, nil
}

// SetActivated flips the live flag; for raffles this opens or closes
// the entry window.
func (s *Service) SetActivated(ctx context.Context, tenantID, missionID string, activated bool) error {
	res := s.db.WithContext(ctx).Model(&Mission{}).
		Where("id = ? AND tenant_id = ?", missionID, tenantID).
		Update("activated", activated)
	if res.Error != nil {
		zap.L().With(traceFields(ctx)...).Error("failed to update mission", zap.Error(res.Error))
		return status.Error(codes.Internal, "failed to update mission")
	}
	if res.RowsAffected == 0 {
		return status.Error(codes.NotFound, "mission not found")
	}
	return nil
}

// SetEnabled toggles catalog visibility without touching in-flight
// redemptions.
func (s *Service) SetEnabled(ctx context.Context, tenantID, missionID string, enabled bool) error {
	res := s.db.WithContext(ctx).Model(&Mission{}).
		Where("id = ? AND tenant_id = ?", missionID, tenantID).
		Update("enabled", enabled)
	if res.Error != nil {
		zap.L().With(traceFields(ctx)...).Error("failed to update mission", zap.Error(res.Error))
		return status.Error(codes.Internal, "failed to update mission")
	}
	if res.RowsAffected == 0 {
		return status.Error(codes.NotFound, "mission not found")
	}
	return nil
}
