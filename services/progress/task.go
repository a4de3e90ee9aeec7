package progress

import (
	"context"
	"encoding/json"

	"creatorloyalty/pkg/taskname"

	"github.com/hibiken/asynq"
	"go.uber.org/zap"
)

func (s *Service) RegisterHandlers(mux *asynq.ServeMux) {
	mux.HandleFunc(taskname.ProgressRecompute, s.HandleRecompute)
}

// HandleRecompute runs the per-tenant recompute batch enqueued by the
// daily scheduler.
func (s *Service) HandleRecompute(ctx context.Context, t *asynq.Task) error {
	var p RecomputePayload
	if err := json.Unmarshal(t.Payload(), &p); err != nil {
		return err
	}

	if err := s.Recompute(ctx, p.TenantID, p.MissionIDs...); err != nil {
		zap.L().Error("recompute task failed",
			zap.String("tenant_id", p.TenantID),
			zap.Error(err),
		)
		return err
	}
	return nil
}
