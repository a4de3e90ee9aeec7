package raffle

import (
	"context"
	"time"

	"creatorloyalty/pkg/db/option"
	"creatorloyalty/pkg/repository"
	"creatorloyalty/services/catalog"
	"creatorloyalty/services/progress"
	"creatorloyalty/services/redemption"
	"creatorloyalty/services/tenant"
	"creatorloyalty/services/tier"

	"github.com/bwmarrin/snowflake"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// Service manages raffle entries and the single-winner draw.
type Service struct {
	db          *gorm.DB
	node        *snowflake.Node
	repo        repository.Repository[RaffleParticipation]
	catalog     *catalog.Service
	tenants     *tenant.Service
	tiers       *tier.Service
	redemptions *redemption.Service
}

type ServiceParams struct {
	fx.In
	DB          *gorm.DB
	Node        *snowflake.Node
	Catalog     *catalog.Service
	Tenants     *tenant.Service
	Tiers       *tier.Service
	Redemptions *redemption.Service
}

func NewService(p ServiceParams) *Service {
	return &Service{
		db:          p.DB,
		node:        p.Node,
		repo:        repository.ProvideStore[RaffleParticipation](p.DB),
		catalog:     p.Catalog,
		tenants:     p.Tenants,
		tiers:       p.Tiers,
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

type ParticipateRequest struct {
	TenantID  string
	MissionID string
	UserID    string
}

type ParticipateResponse struct {
	ParticipationID string
	RedemptionID    string
}

// Participate enters a user into a raffle. A raffle completes on entry:
// one transaction writes the completed progress row, the claimable
// redemption, and the participation. The unique (mission, user) index
// resolves concurrent entries to exactly one row.
func (s *Service) Participate(ctx context.Context, req *ParticipateRequest) (*ParticipateResponse, error) {
	zapLog := zap.L().With(traceFields(ctx)...)

	if req == nil || req.TenantID == "" || req.MissionID == "" || req.UserID == "" {
		return nil, status.Error(codes.InvalidArgument, "tenant_id, mission_id, user_id are required")
	}

	mission, err := s.catalog.GetMission(ctx, req.TenantID, req.MissionID)
	if err != nil {
		return nil, err
	}
	if mission.Type != catalog.MissionRaffle {
		return nil, status.Error(codes.InvalidArgument, "mission is not a raffle")
	}
	if !mission.Activated {
		return nil, status.Error(codes.FailedPrecondition, "raffle closed")
	}
	if mission.RaffleEndDate != nil && time.Now().After(*mission.RaffleEndDate) {
		return nil, status.Error(codes.FailedPrecondition, "raffle closed")
	}

	user, err := s.tenants.GetUser(ctx, req.TenantID, req.UserID)
	if err != nil {
		return nil, err
	}

	ladder, err := s.tiers.Load(ctx, req.TenantID)
	if err != nil {
		return nil, err
	}

	if catalog.ItemVisibility(user.CurrentTier, ladder, mission.Eligibility(), false) != catalog.EligibleClaimable {
		return nil, status.Error(codes.PermissionDenied, "tier does not grant entry to this raffle")
	}

	now := time.Now()
	participation := &RaffleParticipation{
		ID:             s.node.Generate().String(),
		TenantID:       req.TenantID,
		MissionID:      req.MissionID,
		UserID:         req.UserID,
		ParticipatedAt: now,
	}

	var entered bool
	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		progressRow := &progress.MissionProgress{
			ID:          s.node.Generate().String(),
			TenantID:    req.TenantID,
			UserID:      req.UserID,
			MissionID:   req.MissionID,
			Status:      progress.StatusCompleted,
			CompletedAt: &now,
		}
		res := tx.Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "user_id"}, {Name: "mission_id"}},
			DoNothing: true,
		}).Create(progressRow)
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return nil
		}

		spawned, err := s.redemptions.SpawnInTx(ctx, tx, redemption.SpawnInput{
			TenantID:          req.TenantID,
			UserID:            req.UserID,
			MissionID:         req.MissionID,
			MissionProgressID: progressRow.ID,
			RewardID:          mission.RewardID,
			TierAtClaim:       user.CurrentTier,
		})
		if err != nil {
			return err
		}

		participation.MissionProgressID = progressRow.ID
		participation.RedemptionID = spawned.ID

		res = tx.Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "mission_id"}, {Name: "user_id"}},
			DoNothing: true,
		}).Create(participation)
		if res.Error != nil {
			return res.Error
		}
		entered = res.RowsAffected > 0
		return nil
	})
	if err != nil {
		zapLog.Error("failed to enter raffle", zap.Error(err))
		return nil, status.Error(codes.Internal, "failed to enter raffle")
	}

	if !entered {
		return nil, status.Error(codes.AlreadyExists, "already entered")
	}

	zapLog.Info("raffle entry recorded",
		zap.String("tenant_id", req.TenantID),
		zap.String("mission_id", req.MissionID),
		zap.String("user_id", req.UserID),
	)

	return &ParticipateResponse{
		ParticipationID: participation.ID,
		RedemptionID:    participation.RedemptionID,
	}, nil
}

type SelectWinnerRequest struct {
	TenantID               string
	MissionID              string
	WinningParticipationID string
}

// SelectWinner runs the one draw a raffle gets. A single transaction
// marks the winner, marks every other entry a loser, and rejects the
// losers' redemptions so no participant observes a half-applied draw.
// The winner's redemption stays claimable for the normal claim flow.
func (s *Service) SelectWinner(ctx context.Context, req *SelectWinnerRequest) error {
	zapLog := zap.L().With(traceFields(ctx)...)

	if req == nil || req.TenantID == "" || req.MissionID == "" || req.WinningParticipationID == "" {
		return status.Error(codes.InvalidArgument, "tenant_id, mission_id, winning_participation_id are required")
	}

	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var entries []*RaffleParticipation
		err := tx.Where("tenant_id = ? AND mission_id = ?", req.TenantID, req.MissionID).
			Find(&entries).Error
		if err != nil {
			return err
		}
		if len(entries) == 0 {
			return status.Error(codes.NotFound, "raffle has no participations")
		}

		var winner *RaffleParticipation
		for _, entry := range entries {
			if entry.WinnerSelectedAt != nil || entry.IsWinner != nil {
				return status.Error(codes.FailedPrecondition, "winner already selected")
			}
			if entry.ID == req.WinningParticipationID {
				winner = entry
			}
		}
		if winner == nil {
			return status.Error(codes.NotFound, "participation not found")
		}

		now := time.Now()
		res := tx.Model(&RaffleParticipation{}).
			Where("id = ? AND tenant_id = ? AND is_winner IS NULL", winner.ID, req.TenantID).
			Updates(map[string]any{"is_winner": true, "winner_selected_at": now, "updated_at": now})
		if res.Error != nil {
			return res.Error
		}
		// A draw that committed between the read above and this update
		// leaves zero rows; the second caller must not report success.
		if res.RowsAffected == 0 {
			return status.Error(codes.FailedPrecondition, "winner already selected")
		}

		for _, entry := range entries {
			if entry.ID == winner.ID {
				continue
			}

			err = tx.Model(&RaffleParticipation{}).
				Where("id = ? AND tenant_id = ? AND is_winner IS NULL", entry.ID, req.TenantID).
				Updates(map[string]any{"is_winner": false, "winner_selected_at": now, "updated_at": now}).Error
			if err != nil {
				return err
			}

			err = tx.Model(&redemption.Redemption{}).
				Where("id = ? AND tenant_id = ? AND status = ?", entry.RedemptionID, req.TenantID, redemption.StatusClaimable).
				Updates(map[string]any{"status": redemption.StatusRejected, "rejected_at": now, "updated_at": now}).Error
			if err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		if _, ok := status.FromError(err); ok {
			return err
		}
		zapLog.Error("failed to select raffle winner", zap.Error(err))
		return status.Error(codes.Internal, "failed to select winner")
	}

	zapLog.Info("raffle winner selected",
		zap.String("tenant_id", req.TenantID),
		zap.String("mission_id", req.MissionID),
		zap.String("participation_id", req.WinningParticipationID),
	)
	return nil
}

// ListParticipations returns a raffle's entries, newest first.
func (s *Service) ListParticipations(ctx context.Context, tenantID, missionID string) ([]*RaffleParticipation, error) {
	entries, err := s.repo.Find(ctx, &RaffleParticipation{MissionID: missionID},
		option.WithTenant(tenantID),
		option.WithSortBy(option.QuerySortBy{Column: "created_at", OrderBy: "DESC"}),
	)
	if err != nil {
		zap.L().With(traceFields(ctx)...).Error("failed to list participations", zap.Error(err))
		return nil, status.Error(codes.Internal, "failed to list participations")
	}
	return entries, nil
}

// GetParticipation returns one user's entry for one raffle, if any.
func (s *Service) GetParticipation(ctx context.Context, tenantID, missionID, userID string) (*RaffleParticipation, error) {
	entry, err := s.repo.FindOne(ctx, &RaffleParticipation{TenantID: tenantID, MissionID: missionID, UserID: userID})
	if err != nil {
		zap.L().With(traceFields(ctx)...).Error("failed query get participation", zap.Error(err))
		return nil, status.Error(codes.Internal, "failed to get participation")
	}
	return entry, nil
}
