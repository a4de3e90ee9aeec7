package schedule

import (
	"context"
	"time"

	"creatorloyalty/pkg/config"
	"creatorloyalty/pkg/task"
	"creatorloyalty/services/progress"
	"creatorloyalty/services/tenant"

	"github.com/hibiken/asynq"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// Scheduler enqueues the daily per-tenant recompute batch. It runs as
// one loop woken at the configured hour; the work itself happens on the
// asynq workers.
type Scheduler struct {
	db       *gorm.DB
	cfg      *config.Config
	enqueuer task.Enqueuer

	cancel context.CancelFunc
	done   chan struct{}
}

type SchedulerParams struct {
	fx.In
	DB       *gorm.DB
	Config   *config.Config
	Enqueuer task.Enqueuer
}

func NewScheduler(p SchedulerParams) *Scheduler {
	return &Scheduler{
		db:       p.DB,
		cfg:      p.Config,
		enqueuer: p.Enqueuer,
		done:     make(chan struct{}),
	}
}

func (s *Scheduler) Start() {
	ctx, cancel := context.WithCancel(context.Background())
	s.cancel = cancel
	go s.run(ctx)
}

func (s *Scheduler) Stop() {
	if s.cancel != nil {
		s.cancel()
	}
	<-s.done
}

func (s *Scheduler) run(ctx context.Context) {
	defer close(s.done)

	for {
		wait := untilNextRun(time.Now(), s.cfg.Fulfillment.RecomputeHour)
		zap.L().Info("scheduler sleeping until next recompute window",
			zap.Duration("wait", wait))

		select {
		case <-ctx.Done():
			return
		case <-time.After(wait):
		}

		if err := s.EnqueueRecomputeAll(ctx); err != nil {
			zap.L().Error("failed to enqueue recompute batch", zap.Error(err))
		}
	}
}

// untilNextRun returns the wait until the next occurrence of hour.
func untilNextRun(now time.Time, hour int) time.Duration {
	next := time.Date(now.Year(), now.Month(), now.Day(), hour, 0, 0, 0, now.Location())
	if !next.After(now) {
		next = next.AddDate(0, 0, 1)
	}
	return next.Sub(now)
}

// EnqueueRecomputeAll queues one recompute task per active tenant.
func (s *Scheduler) EnqueueRecomputeAll(ctx context.Context) error {
	var tenants []*tenant.Tenant
	if err := s.db.WithContext(ctx).Where("status = ?", tenant.Active).Find(&tenants).Error; err != nil {
		return err
	}

	for _, t := range tenants {
		recompute, err := progress.NewRecomputeTask(progress.RecomputePayload{TenantID: t.ID})
		if err != nil {
			return err
		}
		if _, err := s.enqueuer.Enqueue(recompute, asynq.Queue("loyalty")); err != nil {
			zap.L().Error("failed to enqueue tenant recompute",
				zap.String("tenant_id", t.ID),
				zap.Error(err),
			)
			continue
		}
	}

	zap.L().Info("recompute batch enqueued", zap.Int("tenants", len(tenants)))
	return nil
}

var Module = fx.Module("schedule.module",
	fx.Provide(NewScheduler),
	fx.Invoke(func(lc fx.Lifecycle, s *Scheduler) {
		lc.Append(fx.Hook{
			OnStart: func(ctx context.Context) error {
				s.Start()
				return nil
			},
			OnStop: func(ctx context.Context) error {
				s.Stop()
				return nil
			},
		})
	}),
)
