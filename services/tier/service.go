package tier

import (
	"context"

	"creatorloyalty/pkg/db/option"
	"creatorloyalty/pkg/repository"

	"go.uber.org/fx"
	"go.uber.org/zap"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
	"gorm.io/gorm"
)

type Service struct {
	db   *gorm.DB
	repo repository.Repository[Tier]
}

type ServiceParams struct {
	fx.In
	DB *gorm.DB
}

func NewService(p ServiceParams) *Service {
	return &Service{
		db:   p.DB,
		repo: repository.ProvideStore[Tier](p.DB),
	}
}

// Load returns the tenant's ladder snapshot, ordered bottom to top.
func (s *Service) Load(ctx context.Context, tenantID string) (Ladder, error) {
	if tenantID == "" {
		return Ladder{}, status.Error(codes.InvalidArgument, "tenant_id is required")
	}

	tiers, err := s.repo.Find(ctx, &Tier{},
		option.WithTenant(tenantID),
		option.WithSortBy(option.QuerySortBy{Column: "rank", OrderBy: "ASC"}),
	)
	if err != nil {
		zap.L().Error("failed to load tier ladder", zap.String("tenant_id", tenantID), zap.Error(err))
		return Ladder{}, status.Error(codes.Internal, "failed to load tier ladder")
	}

	return NewLadder(tiers), nil
}
