package feed

import (
	"context"
	"time"

	"creatorloyalty/services/catalog"
	"creatorloyalty/services/progress"
	"creatorloyalty/services/raffle"
	"creatorloyalty/services/redemption"
	"creatorloyalty/services/tenant"
	"creatorloyalty/services/tier"

	"go.opentelemetry.io/otel/trace"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
	"gorm.io/gorm"
)

// Service is the presentation read model: it joins catalog, progress,
// redemption, and raffle state into one ordered feed per user.
type Service struct {
	db      *gorm.DB
	catalog *catalog.Service
	tenants *tenant.Service
	tiers   *tier.Service
}

type ServiceParams struct {
	fx.In
	DB      *gorm.DB
	Catalog *catalog.Service
	Tenants *tenant.Service
	Tiers   *tier.Service
}

func NewService(p ServiceParams) *Service {
	return &Service{
		db:      p.DB,
		catalog: p.Catalog,
		tenants: p.Tenants,
		tiers:   p.Tiers,
	}
}

func traceFields(ctx context.Context) []zap.Field {
	span := trace.SpanFromContext(ctx)
	return []zap.Field{
		zap.String("trace_id", span.SpanContext().TraceID().String()),
		zap.String("span_id", span.SpanContext().SpanID().String()),
	}
}

type ListMissionsRequest struct {
	TenantID string
	UserID   string
}

// userState is everything the feed needs about one user, loaded in a
// handful of tenant-scoped queries before any per-mission computation.
type userState struct {
	user           *tenant.User
	ladder         tier.Ladder
	rewards        map[string]*catalog.Reward
	progressByMsn  map[string]*progress.MissionProgress
	redemptionByPr map[string]*redemption.Redemption
	boosts         map[string]*redemption.CommissionBoostRedemption
	gifts          map[string]*redemption.PhysicalGiftRedemption
	entries        map[string]*raffle.RaffleParticipation
}

func (s *Service) loadUserState(ctx context.Context, tenantID, userID string) (*userState, error) {
	user, err := s.tenants.GetUser(ctx, tenantID, userID)
	if err != nil {
		return nil, err
	}

	ladder, err := s.tiers.Load(ctx, tenantID)
	if err != nil {
		return nil, err
	}

	st := &userState{
		user:           user,
		ladder:         ladder,
		rewards:        map[string]*catalog.Reward{},
		progressByMsn:  map[string]*progress.MissionProgress{},
		redemptionByPr: map[string]*redemption.Redemption{},
		boosts:         map[string]*redemption.CommissionBoostRedemption{},
		gifts:          map[string]*redemption.PhysicalGiftRedemption{},
		entries:        map[string]*raffle.RaffleParticipation{},
	}

	var rewards []*catalog.Reward
	if err := s.db.WithContext(ctx).Where("tenant_id = ?", tenantID).Find(&rewards).Error; err != nil {
		return nil, err
	}
	for _, r := range rewards {
		st.rewards[r.ID] = r
	}

	var progresses []*progress.MissionProgress
	if err := s.db.WithContext(ctx).Where("tenant_id = ? AND user_id = ?", tenantID, userID).Find(&progresses).Error; err != nil {
		return nil, err
	}
	for _, p := range progresses {
		st.progressByMsn[p.MissionID] = p
	}

	var redemptions []*redemption.Redemption
	if err := s.db.WithContext(ctx).Where("tenant_id = ? AND user_id = ?", tenantID, userID).Find(&redemptions).Error; err != nil {
		return nil, err
	}
	redemptionIDs := make([]string, 0, len(redemptions))
	for _, r := range redemptions {
		redemptionIDs = append(redemptionIDs, r.ID)
		if r.MissionProgressID != nil {
			st.redemptionByPr[*r.MissionProgressID] = r
		}
	}

	if len(redemptionIDs) > 0 {
		var boosts []*redemption.CommissionBoostRedemption
		if err := s.db.WithContext(ctx).Where("tenant_id = ? AND redemption_id IN ?", tenantID, redemptionIDs).Find(&boosts).Error; err != nil {
			return nil, err
		}
		for _, b := range boosts {
			st.boosts[b.RedemptionID] = b
		}

		var gifts []*redemption.PhysicalGiftRedemption
		if err := s.db.WithContext(ctx).Where("tenant_id = ? AND redemption_id IN ?", tenantID, redemptionIDs).Find(&gifts).Error; err != nil {
			return nil, err
		}
		for _, g := range gifts {
			st.gifts[g.RedemptionID] = g
		}
	}

	var entries []*raffle.RaffleParticipation
	if err := s.db.WithContext(ctx).Where("tenant_id = ? AND user_id = ?", tenantID, userID).Find(&entries).Error; err != nil {
		return nil, err
	}
	for _, e := range entries {
		st.entries[e.MissionID] = e
	}

	return st, nil
}

// ListAvailableMissions computes the ordered feed for one user.
func (s *Service) ListAvailableMissions(ctx context.Context, req *ListMissionsRequest) ([]*MissionView, error) {
	zapLog := zap.L().With(traceFields(ctx)...)

	if req == nil || req.TenantID == "" || req.UserID == "" {
		return nil, status.Error(codes.InvalidArgument, "tenant_id and user_id are required")
	}

	st, err := s.loadUserState(ctx, req.TenantID, req.UserID)
	if err != nil {
		if _, ok := status.FromError(err); ok {
			return nil, err
		}
		zapLog.Error("failed to load feed state", zap.Error(err))
		return nil, status.Error(codes.Internal, "failed to load feed")
	}

	missions, err := s.catalog.ListMissions(ctx, req.TenantID)
	if err != nil {
		return nil, err
	}

	now := time.Now()
	views := make([]*MissionView, 0, len(missions))
	for _, mission := range missions {
		reward := st.rewards[mission.RewardID]
		if reward == nil {
			continue
		}

		prog := st.progressByMsn[mission.ID]
		var red *redemption.Redemption
		if prog != nil {
			red = st.redemptionByPr[prog.ID]
		}

		inflight := red != nil &&
			(red.Status == redemption.StatusClaimed || red.Status == redemption.StatusFulfilled)

		vis := catalog.ItemVisibility(st.user.CurrentTier, st.ladder, mission.Eligibility(), inflight)
		if vis == catalog.Hidden {
			continue
		}

		item := itemState{
			mission:    mission,
			reward:     reward,
			visibility: vis,
			progress:   prog,
			redemption: red,
			now:        now,
		}
		if red != nil {
			item.boost = st.boosts[red.ID]
			item.gift = st.gifts[red.ID]
		}
		if entry := st.entries[mission.ID]; entry != nil {
			item.entered = true
			item.isWinner = entry.IsWinner
		}

		displayStatus, class := classify(item)

		view := &MissionView{
			MissionID:         mission.ID,
			Name:              mission.Name,
			Type:              mission.Type,
			RewardID:          reward.ID,
			RewardType:        reward.Type,
			RewardDescription: reward.Description,
			Status:            displayStatus,
			PriorityClass:     class,
			Featured:          mission.Featured,
			DisplayOrder:      mission.DisplayOrder,
			TargetValue:       mission.TargetValue,
			CreatedAt:         mission.CreatedAt,
		}
		if prog != nil {
			view.CurrentValue = prog.CurrentValue
		}
		if red != nil {
			view.RedemptionID = red.ID
		}
		if mission.Type != catalog.MissionRaffle {
			view.ProgressText = formatProgress(mission.Type, view.CurrentValue, mission.TargetValue)
		}

		views = append(views, view)
	}

	sortViews(views)
	return views, nil
}

type HistoryEntry struct {
	RedemptionID      string             `json:"redemption_id"`
	RewardID          string             `json:"reward_id"`
	RewardType        catalog.RewardType `json:"reward_type"`
	RewardDescription string             `json:"reward_description"`
	Status            redemption.Status  `json:"status"`
	IsRaffle          bool               `json:"is_raffle"`
	IsWinner          *bool              `json:"is_winner,omitempty"`
	ConcludedAt       *time.Time         `json:"concluded_at,omitempty"`
	RejectedAt        *time.Time         `json:"rejected_at,omitempty"`
	CreatedAt         time.Time          `json:"created_at"`
}

type HistoryRequest struct {
	TenantID string
	UserID   string
}

// GetMissionHistory returns the user's terminal redemptions with reward
// and raffle-outcome detail, newest first.
func (s *Service) GetMissionHistory(ctx context.Context, req *HistoryRequest) ([]*HistoryEntry, error) {
	zapLog := zap.L().With(traceFields(ctx)...)

	if req == nil || req.TenantID == "" || req.UserID == "" {
		return nil, status.Error(codes.InvalidArgument, "tenant_id and user_id are required")
	}

	var redemptions []*redemption.Redemption
	err := s.db.WithContext(ctx).
		Where("tenant_id = ? AND user_id = ? AND status IN ?", req.TenantID, req.UserID,
			[]string{redemption.StatusConcluded.String(), redemption.StatusRejected.String()}).
		Order("updated_at DESC").
		Find(&redemptions).Error
	if err != nil {
		zapLog.Error("failed to list redemption history", zap.Error(err))
		return nil, status.Error(codes.Internal, "failed to load history")
	}

	var entries []*raffle.RaffleParticipation
	if err := s.db.WithContext(ctx).Where("tenant_id = ? AND user_id = ?", req.TenantID, req.UserID).Find(&entries).Error; err != nil {
		zapLog.Error("failed to list participations", zap.Error(err))
		return nil, status.Error(codes.Internal, "failed to load history")
	}
	entryByRedemption := make(map[string]*raffle.RaffleParticipation, len(entries))
	for _, e := range entries {
		entryByRedemption[e.RedemptionID] = e
	}

	history := make([]*HistoryEntry, 0, len(redemptions))
	for _, red := range redemptions {
		entry := &HistoryEntry{
			RedemptionID: red.ID,
			RewardID:     red.RewardID,
			Status:       red.Status,
			ConcludedAt:  red.ConcludedAt,
			RejectedAt:   red.RejectedAt,
			CreatedAt:    red.CreatedAt,
		}
		if reward, err := s.catalog.GetReward(ctx, req.TenantID, red.RewardID); err == nil {
			entry.RewardType = reward.Type
			entry.RewardDescription = reward.Description
		}
		if part := entryByRedemption[red.ID]; part != nil {
			entry.IsRaffle = true
			entry.IsWinner = part.IsWinner
		}
		history = append(history, entry)
	}

	return history, nil
}
