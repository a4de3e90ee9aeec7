package activity

import (
	"context"
	"time"

	"github.com/bwmarrin/snowflake"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// Service is the write-side boundary the aggregation pipeline lands on.
type Service struct {
	db   *gorm.DB
	node *snowflake.Node
}

type ServiceParams struct {
	fx.In
	DB   *gorm.DB
	Node *snowflake.Node
}

func NewService(p ServiceParams) *Service {
	return &Service{db: p.DB, node: p.Node}
}

type RecordRollupRequest struct {
	TenantID   string
	UserID     string
	Metric     string
	BucketDate time.Time
	Value      int64
}

// RecordRollup upserts one counter bucket. Re-delivery of the same
// bucket overwrites the value rather than double counting.
func (s *Service) RecordRollup(ctx context.Context, req *RecordRollupRequest) error {
	if req == nil || req.TenantID == "" || req.UserID == "" || req.Metric == "" {
		return status.Error(codes.InvalidArgument, "tenant_id, user_id, metric are required")
	}

	rollup := &MetricRollup{
		ID:         s.node.Generate().String(),
		TenantID:   req.TenantID,
		UserID:     req.UserID,
		Metric:     req.Metric,
		BucketDate: req.BucketDate.Truncate(24 * time.Hour),
		Value:      req.Value,
	}

	err := s.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "tenant_id"}, {Name: "user_id"}, {Name: "metric"}, {Name: "bucket_date"}},
		DoUpdates: clause.AssignmentColumns([]string{"value", "updated_at"}),
	}).Create(rollup).Error
	if err != nil {
		zap.L().Error("failed to record metric rollup",
			zap.String("tenant_id", req.TenantID),
			zap.String("metric", req.Metric),
			zap.Error(err),
		)
		return status.Error(codes.Internal, "failed to record metric rollup")
	}

	return nil
}

// SumSince totals a user's metric from the checkpoint start onward.
func (s *Service) SumSince(ctx context.Context, tenantID, userID, metric string, since time.Time) (int64, error) {
	var total int64
	err := s.db.WithContext(ctx).Model(&MetricRollup{}).
		Select("COALESCE(SUM(value), 0)").
		Where("tenant_id = ? AND user_id = ? AND metric = ? AND bucket_date >= ?", tenantID, userID, metric, since).
		Scan(&total).Error
	if err != nil {
		return 0, err
	}
	return total, nil
}
