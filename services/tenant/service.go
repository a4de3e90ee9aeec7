package tenant

import (
	"context"
	"time"

	"creatorloyalty/pkg/db/option"
	"creatorloyalty/pkg/db/pagination"
	"creatorloyalty/pkg/repository"

	"github.com/bwmarrin/snowflake"
	"github.com/gosimple/slug"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
	"gorm.io/gorm"
)

type Service struct {
	db    *gorm.DB
	node  *snowflake.Node
	repo  repository.Repository[Tenant]
	users repository.Repository[User]
}

type ServiceParams struct {
	fx.In
	DB   *gorm.DB
	Node *snowflake.Node
}

func NewService(p ServiceParams) *Service {
	return &Service{
		db:    p.DB,
		node:  p.Node,
		repo:  repository.ProvideStore[Tenant](p.DB),
		users: repository.ProvideStore[User](p.DB),
	}
}

type CreateTenantRequest struct {
	Name        string
	Slug        string
	CountryCode string
	Timezone    string
}

type ListTenantsRequest struct {
	Limit  int
	Cursor string
}

func traceFields(ctx context.Context) []zap.Field {
	span := trace.SpanFromContext(ctx)
	return []zap.Field{
		zap.String("trace_id", span.SpanContext().TraceID().String()),
		zap.String("span_id", span.SpanContext().SpanID().String()),
	}
}

// ListTenants pages through tenants newest first. One extra row is
// fetched past the limit to decide has_more without a second query.
func (s *Service) ListTenants(ctx context.Context, req *ListTenantsRequest) ([]*Tenant, *pagination.PageInfo, error) {
	zapLog := zap.L().With(traceFields(ctx)...)

	limit := req.Limit
	if limit <= 0 {
		limit = 10
	}

	tenants, err := s.repo.Find(ctx, &Tenant{},
		option.ApplyPagination(pagination.Pagination{Limit: limit + 1, Cursor: req.Cursor}),
		option.WithSortBy(option.QuerySortBy{Column: "created_at", OrderBy: "DESC"}),
	)
	if err != nil {
		zapLog.Error("failed to list tenants", zap.Error(err))
		return nil, nil, status.Error(codes.Internal, "failed to list tenants")
	}

	pageInfo := pagination.BuildCursorPageInfo(tenants, int32(limit), func(row *Tenant) string {
		cursor, err := pagination.EncodeCursor(pagination.Cursor{
			CreatedAt: row.CreatedAt.Format(time.RFC3339Nano),
			ID:        row.ID,
		})
		if err != nil {
			return ""
		}
		return cursor
	})
	if len(tenants) > limit {
		tenants = tenants[:limit]
	}

	return tenants, pageInfo, nil
}

func (s *Service) CreateTenant(ctx context.Context, req *CreateTenantRequest) (*Tenant, error) {
	zapLog := zap.L().With(traceFields(ctx)...)

	if req == nil || req.Name == "" {
		return nil, status.Error(codes.InvalidArgument, "name is required")
	}

	slugName := req.Slug
	if slugName == "" {
		slugName = slug.Make(req.Name)
	}

	exist, err := s.repo.FindOne(ctx, &Tenant{Slug: slugName})
	if err != nil {
		zapLog.Error("failed query get tenant by slug", zap.Error(err))
		return nil, status.Error(codes.Internal, "failed to check existing tenant")
	}

	if exist != nil {
		zapLog.Warn("tenant already exists", zap.String("slug", slugName))
		return nil, status.Error(codes.AlreadyExists, "tenant already exists")
	}

	tenant := &Tenant{
		ID:          s.node.Generate().String(),
		Name:        req.Name,
		Slug:        slugName,
		CountryCode: req.CountryCode,
		Timezone:    req.Timezone,
		Status:      Active,
		CreatedAt:   time.Now(),
		UpdatedAt:   time.Now(),
	}

	if err := s.repo.Create(ctx, tenant); err != nil {
		zapLog.Error("failed to create tenant", zap.Error(err))
		return nil, status.Error(codes.Internal, "failed to create tenant")
	}

	return tenant, nil
}

func (s *Service) GetTenant(ctx context.Context, tenantID string) (*Tenant, error) {
	zapLog := zap.L().With(traceFields(ctx)...)

	tenant, err := s.repo.FindOne(ctx, &Tenant{ID: tenantID})
	if err != nil {
		zapLog.Error("failed query get tenant", zap.Error(err))
		return nil, status.Error(codes.Internal, "failed to get tenant")
	}

	if tenant == nil {
		return nil, status.Error(codes.NotFound, "tenant not found")
	}

	return tenant, nil
}

type CreateUserRequest struct {
	TenantID        string
	Handle          string
	Email           string
	CurrentTier     string
	CheckpointStart time.Time
}

func (s *Service) CreateUser(ctx context.Context, req *CreateUserRequest) (*User, error) {
	zapLog := zap.L().With(traceFields(ctx)...)

	if req == nil || req.TenantID == "" || req.Handle == "" {
		return nil, status.Error(codes.InvalidArgument, "tenant_id and handle are required")
	}

	checkpoint := req.CheckpointStart
	if checkpoint.IsZero() {
		checkpoint = time.Now()
	}

	user := &User{
		ID:              s.node.Generate().String(),
		TenantID:        req.TenantID,
		Handle:          req.Handle,
		Email:           req.Email,
		CurrentTier:     req.CurrentTier,
		CheckpointStart: checkpoint,
	}

	if err := s.users.Create(ctx, user); err != nil {
		zapLog.Error("failed to create user", zap.Error(err))
		return nil, status.Error(codes.Internal, "failed to create user")
	}

	return user, nil
}

// GetUser resolves a user inside one tenant; a user id from another
// tenant reads as not found.
func (s *Service) GetUser(ctx context.Context, tenantID, userID string) (*User, error) {
	user, err := s.users.FindOne(ctx, &User{ID: userID, TenantID: tenantID})
	if err != nil {
		zap.L().With(traceFields(ctx)...).Error("failed query get user", zap.Error(err))
		return nil, status.Error(codes.Internal, "failed to get user")
	}

	if user == nil {
		return nil, status.Error(codes.NotFound, "user not found")
	}

	return user, nil
}
