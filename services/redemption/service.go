package redemption

import (
	"context"
	"time"

	"creatorloyalty/pkg/config"
	"creatorloyalty/pkg/repository"
	"creatorloyalty/pkg/task"
	"creatorloyalty/services/catalog"
	"creatorloyalty/services/tenant"
	"creatorloyalty/services/tier"

	"github.com/bwmarrin/snowflake"
	"github.com/hibiken/asynq"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// Service is the redemption state machine. All mutations are guarded
// conditional updates or unique-index inserts; the affected row count is
// the idempotency signal.
type Service struct {
	db       *gorm.DB
	node     *snowflake.Node
	cfg      *config.Config
	enqueuer task.Enqueuer
	catalog  *catalog.Service
	tenants  *tenant.Service
	tiers    *tier.Service
	repo     repository.Repository[Redemption]
	boosts   repository.Repository[CommissionBoostRedemption]
	gifts    repository.Repository[PhysicalGiftRedemption]
}

type ServiceParams struct {
	fx.In
	DB       *gorm.DB
	Node     *snowflake.Node
	Config   *config.Config
	Enqueuer task.Enqueuer
	Catalog  *catalog.Service
	Tenants  *tenant.Service
	Tiers    *tier.Service
}

func NewService(p ServiceParams) *Service {
	return &Service{
		db:       p.DB,
		node:     p.Node,
		cfg:      p.Config,
		enqueuer: p.Enqueuer,
		catalog:  p.Catalog,
		tenants:  p.Tenants,
		tiers:    p.Tiers,
		repo:     repository.ProvideStore[Redemption](p.DB),
		boosts:   repository.ProvideStore[CommissionBoostRedemption](p.DB),
		gifts:    repository.ProvideStore[PhysicalGiftRedemption](p.DB),
	}
}

func traceFields(ctx context.Context) []zap.Field {
	span := trace.SpanFromContext(ctx)
	return []zap.Field{
		zap.String("trace_id", span.SpanContext().TraceID().String()),
		zap.String("span_id", span.SpanContext().SpanID().String()),
	}
}

// SpawnInput describes the claimable redemption a completed progress or
// raffle entry earns.
type SpawnInput struct {
	TenantID          string
	UserID            string
	MissionID         string
	MissionProgressID string
	RewardID          string
	TierAtClaim       string
}

// Spawn creates the claimable redemption for a completed progress. The
// unique index on mission_progress_id absorbs duplicate triggers as
// no-ops, so upstream may fire at least once.
func (s *Service) Spawn(ctx context.Context, in SpawnInput) (*Redemption, error) {
	return s.SpawnInTx(ctx, s.db, in)
}

// SpawnInTx is Spawn inside a caller-owned transaction; the raffle flow
// uses it to keep progress, redemption, and participation atomic.
func (s *Service) SpawnInTx(ctx context.Context, tx *gorm.DB, in SpawnInput) (*Redemption, error) {
	zapLog := zap.L().With(traceFields(ctx)...)

	if in.TenantID == "" || in.UserID == "" || in.MissionProgressID == "" || in.RewardID == "" {
		return nil, status.Error(codes.InvalidArgument, "tenant_id, user_id, mission_progress_id, reward_id are required")
	}

	progressID := in.MissionProgressID
	row := &Redemption{
		ID:                s.node.Generate().String(),
		TenantID:          in.TenantID,
		UserID:            in.UserID,
		RewardID:          in.RewardID,
		MissionID:         in.MissionID,
		MissionProgressID: &progressID,
		TierAtClaim:       in.TierAtClaim,
		Status:            StatusClaimable,
	}

	res := tx.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "mission_progress_id"}},
		DoNothing: true,
	}).Create(row)
	if res.Error != nil {
		zapLog.Error("failed to spawn redemption", zap.Error(res.Error))
		return nil, status.Error(codes.Internal, "failed to spawn redemption")
	}

	if res.RowsAffected == 0 {
		existing, err := s.repo.WithTrx(tx).FindOne(ctx, &Redemption{TenantID: in.TenantID, MissionProgressID: &progressID})
		if err != nil {
			zapLog.Error("failed query existing redemption", zap.Error(err))
			return nil, status.Error(codes.Internal, "failed to spawn redemption")
		}
		return existing, nil
	}

	return row, nil
}

type SpawnCatalogRequest struct {
	TenantID string
	UserID   string
	RewardID string
	UserTier string
}

// SpawnCatalog creates a claimable redemption for a catalog reward
// claimed outside any mission, enforcing the reward's redemption
// frequency window and quantity cap.
func (s *Service) SpawnCatalog(ctx context.Context, req *SpawnCatalogRequest) (*Redemption, error) {
	zapLog := zap.L().With(traceFields(ctx)...)

	if req == nil || req.TenantID == "" || req.UserID == "" || req.RewardID == "" {
		return nil, status.Error(codes.InvalidArgument, "tenant_id, user_id, reward_id are required")
	}

	reward, err := s.catalog.GetReward(ctx, req.TenantID, req.RewardID)
	if err != nil {
		return nil, err
	}

	now := time.Now()
	if windowStart, bounded := reward.RedemptionFrequency.Window(now); bounded {
		query := s.db.WithContext(ctx).Model(&Redemption{}).
			Where("tenant_id = ? AND user_id = ? AND reward_id = ? AND status <> ?",
				req.TenantID, req.UserID, req.RewardID, StatusRejected)
		if !windowStart.IsZero() {
			query = query.Where("created_at >= ?", windowStart)
		}

		var taken int64
		if err := query.Count(&taken).Error; err != nil {
			zapLog.Error("failed to count prior redemptions", zap.Error(err))
			return nil, status.Error(codes.Internal, "failed to check redemption frequency")
		}
		if taken > 0 {
			return nil, status.Error(codes.AlreadyExists, "reward already redeemed in the current window")
		}
	}

	if reward.RedemptionQuantity != nil {
		var issued int64
		err := s.db.WithContext(ctx).Model(&Redemption{}).
			Where("tenant_id = ? AND reward_id = ? AND status <> ?", req.TenantID, req.RewardID, StatusRejected).
			Count(&issued).Error
		if err != nil {
			zapLog.Error("failed to count issued redemptions", zap.Error(err))
			return nil, status.Error(codes.Internal, "failed to check redemption quantity")
		}
		if issued >= int64(*reward.RedemptionQuantity) {
			return nil, status.Error(codes.ResourceExhausted, "reward quantity exhausted")
		}
	}

	row := &Redemption{
		ID:          s.node.Generate().String(),
		TenantID:    req.TenantID,
		UserID:      req.UserID,
		RewardID:    req.RewardID,
		TierAtClaim: req.UserTier,
		Status:      StatusClaimable,
	}

	if err := s.repo.Create(ctx, row); err != nil {
		zapLog.Error("failed to create catalog redemption", zap.Error(err))
		return nil, status.Error(codes.Internal, "failed to create redemption")
	}

	return row, nil
}

type ClaimRequest struct {
	RedemptionID string
	TenantID     string
	UserID       string
	Options      ClaimOptions
}

type ClaimResponse struct {
	RedemptionID string
	Status       Status
	ClaimedAt    time.Time
}

// Claim is the sole state-changing entry point for users. Options are
// validated before any mutation; the mutation itself is one conditional
// update on status='claimable' so two racing claims resolve to exactly
// one winner.
func (s *Service) Claim(ctx context.Context, req *ClaimRequest) (*ClaimResponse, error) {
	zapLog := zap.L().With(traceFields(ctx)...)

	if req == nil || req.RedemptionID == "" || req.TenantID == "" || req.UserID == "" {
		return nil, status.Error(codes.InvalidArgument, "redemption_id, tenant_id, user_id are required")
	}

	row, err := s.repo.FindOne(ctx, &Redemption{ID: req.RedemptionID, TenantID: req.TenantID})
	if err != nil {
		zapLog.Error("failed query get redemption", zap.Error(err))
		return nil, status.Error(codes.Internal, "failed to get redemption")
	}
	if row == nil || row.UserID != req.UserID {
		return nil, status.Error(codes.NotFound, "redemption not found")
	}

	reward, err := s.catalog.GetReward(ctx, req.TenantID, row.RewardID)
	if err != nil {
		return nil, err
	}

	value, err := reward.Value()
	if err != nil {
		zapLog.Error("failed to decode reward value_data", zap.Error(err))
		return nil, status.Error(codes.Internal, "invalid reward configuration")
	}

	if err := validateClaimOptions(reward.Type, value, req.Options); err != nil {
		return nil, err
	}

	if err := s.checkClaimEligibility(ctx, req.TenantID, req.UserID, reward); err != nil {
		return nil, err
	}

	now := time.Now()
	updates := map[string]any{
		"status":     StatusClaimed,
		"claimed_at": now,
		"updated_at": now,
	}
	if reward.Type.Scheduled() {
		updates["scheduled_activation_at"] = *req.Options.ScheduledActivationAt
	}

	var claimed bool
	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		res := tx.Model(&Redemption{}).
			Where("id = ? AND tenant_id = ? AND status = ?", req.RedemptionID, req.TenantID, StatusClaimable).
			Updates(updates)
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return nil
		}
		claimed = true

		return s.createSatellite(ctx, tx, row, reward, value, req.Options)
	})
	if err != nil {
		zapLog.Error("failed to claim redemption", zap.Error(err))
		return nil, status.Error(codes.Internal, "failed to claim redemption")
	}

	if !claimed {
		return nil, status.Error(codes.AlreadyExists, "reward already claimed")
	}

	s.enqueueFollowUp(ctx, row, reward, req.Options, now)

	zapLog.Info("redemption claimed",
		zap.String("tenant_id", req.TenantID),
		zap.String("redemption_id", req.RedemptionID),
		zap.String("reward_type", reward.Type.String()),
	)

	return &ClaimResponse{RedemptionID: row.ID, Status: StatusClaimed, ClaimedAt: now}, nil
}

func validateClaimOptions(rewardType catalog.RewardType, value catalog.RewardValue, opts ClaimOptions) error {
	if rewardType.Scheduled() && opts.ScheduledActivationAt == nil {
		return status.Error(codes.InvalidArgument, "scheduled rewards require an activation time")
	}

	if rewardType == catalog.RewardPhysicalGift {
		if !opts.Shipping.complete() {
			return status.Error(codes.InvalidArgument, "physical gifts require complete shipping details")
		}
		if value.SizeRequired && opts.Shipping.Size == "" {
			return status.Error(codes.InvalidArgument, "size is required for this reward")
		}
	}

	return nil
}

// checkClaimEligibility re-evaluates tier rights at claim time. The
// frozen tier_at_claim is informational; claim rights follow the user's
// current tier.
func (s *Service) checkClaimEligibility(ctx context.Context, tenantID, userID string, reward *catalog.Reward) error {
	user, err := s.tenants.GetUser(ctx, tenantID, userID)
	if err != nil {
		return err
	}

	ladder, err := s.tiers.Load(ctx, tenantID)
	if err != nil {
		return err
	}

	vis := catalog.ItemVisibility(user.CurrentTier, ladder, reward.Eligibility(), false)
	if vis != catalog.EligibleClaimable {
		return status.Error(codes.PermissionDenied, "tier does not grant claim rights for this reward")
	}

	return nil
}

func (s *Service) createSatellite(ctx context.Context, tx *gorm.DB, row *Redemption, reward *catalog.Reward, value catalog.RewardValue, opts ClaimOptions) error {
	switch reward.Type {
	case catalog.RewardCommissionBoost:
		boost := &CommissionBoostRedemption{
			ID:                    s.node.Generate().String(),
			TenantID:              row.TenantID,
			RedemptionID:          row.ID,
			BoostStatus:           BoostPendingInfo,
			Percent:               value.Percent,
			DurationDays:          value.DurationDays,
			ScheduledActivationAt: opts.ScheduledActivationAt,
		}
		return tx.WithContext(ctx).Create(boost).Error
	case catalog.RewardPhysicalGift:
		shipping := opts.Shipping
		gift := &PhysicalGiftRedemption{
			ID:           s.node.Generate().String(),
			TenantID:     row.TenantID,
			RedemptionID: row.ID,
			FirstName:    shipping.FirstName,
			LastName:     shipping.LastName,
			Line1:        shipping.Line1,
			Line2:        shipping.Line2,
			City:         shipping.City,
			State:        shipping.State,
			PostalCode:   shipping.PostalCode,
			Country:      shipping.Country,
			Phone:        shipping.Phone,
			Size:         shipping.Size,
		}
		return tx.WithContext(ctx).Create(gift).Error
	}
	return nil
}

// enqueueFollowUp hands the claimed redemption to its worker. Handlers
// are conditional updates, so at-least-once delivery is safe.
func (s *Service) enqueueFollowUp(ctx context.Context, row *Redemption, reward *catalog.Reward, opts ClaimOptions, now time.Time) {
	zapLog := zap.L().With(traceFields(ctx)...)

	var (
		t   *asynq.Task
		err error
		at  time.Time
	)

	switch {
	case reward.Type.Instant():
		t, err = NewFulfillInstantTask(FulfillInstantPayload{TenantID: row.TenantID, RedemptionID: row.ID})
		at = now
	case reward.Type == catalog.RewardCommissionBoost:
		t, err = NewBoostActivateTask(BoostActivatePayload{TenantID: row.TenantID, RedemptionID: row.ID})
		at = *opts.ScheduledActivationAt
	case reward.Type == catalog.RewardDiscount:
		t, err = NewDiscountActivateTask(DiscountActivatePayload{TenantID: row.TenantID, RedemptionID: row.ID})
		at = *opts.ScheduledActivationAt
	default:
		return
	}
	if err != nil {
		zapLog.Error("failed to build follow-up task", zap.Error(err))
		return
	}

	if _, err := s.enqueuer.Enqueue(t, asynq.ProcessAt(at), asynq.Queue("fulfillment")); err != nil {
		zapLog.Error("failed to enqueue follow-up task",
			zap.String("redemption_id", row.ID),
			zap.Error(err),
		)
	}
}

// advance moves one redemption forward along the DAG with a guarded
// conditional update. Zero affected rows means the move was already
// made or is not legal from the current state.
func (s *Service) advance(ctx context.Context, tenantID, redemptionID string, from, to Status, extra map[string]any) (bool, error) {
	updates := map[string]any{
		"status":     to,
		"updated_at": time.Now(),
	}
	for k, v := range extra {
		updates[k] = v
	}

	res := s.db.WithContext(ctx).Model(&Redemption{}).
		Where("id = ? AND tenant_id = ? AND status = ?", redemptionID, tenantID, from).
		Updates(updates)
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected > 0, nil
}

// Fulfill moves claimed -> fulfilled, driven by workers or admin action.
func (s *Service) Fulfill(ctx context.Context, tenantID, redemptionID string) error {
	moved, err := s.advance(ctx, tenantID, redemptionID, StatusClaimed, StatusFulfilled,
		map[string]any{"fulfilled_at": time.Now()})
	if err != nil {
		zap.L().With(traceFields(ctx)...).Error("failed to fulfill redemption", zap.Error(err))
		return status.Error(codes.Internal, "failed to fulfill redemption")
	}
	if !moved {
		return status.Error(codes.FailedPrecondition, "redemption is not claimed")
	}
	return nil
}

// Conclude moves fulfilled -> concluded.
func (s *Service) Conclude(ctx context.Context, tenantID, redemptionID string) error {
	moved, err := s.advance(ctx, tenantID, redemptionID, StatusFulfilled, StatusConcluded,
		map[string]any{"concluded_at": time.Now()})
	if err != nil {
		zap.L().With(traceFields(ctx)...).Error("failed to conclude redemption", zap.Error(err))
		return status.Error(codes.Internal, "failed to conclude redemption")
	}
	if !moved {
		return status.Error(codes.FailedPrecondition, "redemption is not fulfilled")
	}
	return nil
}

// Reject moves claimable -> rejected. Raffle losers only.
func (s *Service) Reject(ctx context.Context, tenantID, redemptionID string) error {
	moved, err := s.advance(ctx, tenantID, redemptionID, StatusClaimable, StatusRejected,
		map[string]any{"rejected_at": time.Now()})
	if err != nil {
		zap.L().With(traceFields(ctx)...).Error("failed to reject redemption", zap.Error(err))
		return status.Error(codes.Internal, "failed to reject redemption")
	}
	if !moved {
		return status.Error(codes.FailedPrecondition, "redemption is not claimable")
	}
	return nil
}

type ShipRequest struct {
	TenantID       string
	RedemptionID   string
	Carrier        string
	TrackingNumber string
}

// Ship records the carrier handoff for a physical gift and moves the
// redemption to fulfilled.
func (s *Service) Ship(ctx context.Context, req *ShipRequest) error {
	zapLog := zap.L().With(traceFields(ctx)...)

	if req == nil || req.TenantID == "" || req.RedemptionID == "" {
		return status.Error(codes.InvalidArgument, "tenant_id and redemption_id are required")
	}

	now := time.Now()
	res := s.db.WithContext(ctx).Model(&PhysicalGiftRedemption{}).
		Where("redemption_id = ? AND tenant_id = ? AND shipped_at IS NULL", req.RedemptionID, req.TenantID).
		Updates(map[string]any{
			"carrier":         req.Carrier,
			"tracking_number": req.TrackingNumber,
			"shipped_at":      now,
			"updated_at":      now,
		})
	if res.Error != nil {
		zapLog.Error("failed to mark gift shipped", zap.Error(res.Error))
		return status.Error(codes.Internal, "failed to mark gift shipped")
	}
	if res.RowsAffected == 0 {
		gift, err := s.gifts.FindOne(ctx, &PhysicalGiftRedemption{TenantID: req.TenantID, RedemptionID: req.RedemptionID})
		if err != nil {
			zapLog.Error("failed query get gift redemption", zap.Error(err))
			return status.Error(codes.Internal, "failed to mark gift shipped")
		}
		if gift == nil {
			return status.Error(codes.NotFound, "gift redemption not found")
		}
		// Redelivered carrier notification; the first one already won.
		return status.Error(codes.AlreadyExists, "gift already shipped")
	}

	return s.Fulfill(ctx, req.TenantID, req.RedemptionID)
}

// Deliver records the carrier delivery confirmation and concludes the
// redemption.
func (s *Service) Deliver(ctx context.Context, tenantID, redemptionID string) error {
	zapLog := zap.L().With(traceFields(ctx)...)

	now := time.Now()
	res := s.db.WithContext(ctx).Model(&PhysicalGiftRedemption{}).
		Where("redemption_id = ? AND tenant_id = ? AND shipped_at IS NOT NULL AND delivered_at IS NULL", redemptionID, tenantID).
		Updates(map[string]any{
			"delivered_at": now,
			"updated_at":   now,
		})
	if res.Error != nil {
		zapLog.Error("failed to mark gift delivered", zap.Error(res.Error))
		return status.Error(codes.Internal, "failed to mark gift delivered")
	}
	if res.RowsAffected == 0 {
		gift, err := s.gifts.FindOne(ctx, &PhysicalGiftRedemption{TenantID: tenantID, RedemptionID: redemptionID})
		if err != nil {
			zapLog.Error("failed query get gift redemption", zap.Error(err))
			return status.Error(codes.Internal, "failed to mark gift delivered")
		}
		if gift == nil {
			return status.Error(codes.NotFound, "gift redemption not found")
		}
		if gift.DeliveredAt != nil {
			return status.Error(codes.AlreadyExists, "gift already delivered")
		}
		return status.Error(codes.FailedPrecondition, "gift has not shipped")
	}

	return s.Conclude(ctx, tenantID, redemptionID)
}

// SetPayoutInfo records the creator's payout destination for a boost.
func (s *Service) SetPayoutInfo(ctx context.Context, tenantID, redemptionID string) error {
	res := s.db.WithContext(ctx).Model(&CommissionBoostRedemption{}).
		Where("redemption_id = ? AND tenant_id = ? AND payout_info_set_at IS NULL", redemptionID, tenantID).
		Update("payout_info_set_at", time.Now())
	if res.Error != nil {
		zap.L().With(traceFields(ctx)...).Error("failed to set payout info", zap.Error(res.Error))
		return status.Error(codes.Internal, "failed to set payout info")
	}
	if res.RowsAffected == 0 {
		return status.Error(codes.NotFound, "boost redemption not found")
	}
	return nil
}

// GetBoost returns the boost satellite for one redemption.
func (s *Service) GetBoost(ctx context.Context, tenantID, redemptionID string) (*CommissionBoostRedemption, error) {
	boost, err := s.boosts.FindOne(ctx, &CommissionBoostRedemption{TenantID: tenantID, RedemptionID: redemptionID})
	if err != nil {
		return nil, status.Error(codes.Internal, "failed to get boost redemption")
	}
	if boost == nil {
		return nil, status.Error(codes.NotFound, "boost redemption not found")
	}
	return boost, nil
}

// GetGift returns the physical-gift satellite for one redemption.
func (s *Service) GetGift(ctx context.Context, tenantID, redemptionID string) (*PhysicalGiftRedemption, error) {
	gift, err := s.gifts.FindOne(ctx, &PhysicalGiftRedemption{TenantID: tenantID, RedemptionID: redemptionID})
	if err != nil {
		return nil, status.Error(codes.Internal, "failed to get gift redemption")
	}
	if gift == nil {
		return nil, status.Error(codes.NotFound, "gift redemption not found")
	}
	return gift, nil
}
