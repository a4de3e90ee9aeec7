package redemption

import (
	"context"
	"encoding/json"
	"time"

	"creatorloyalty/pkg/taskname"

	"github.com/hibiken/asynq"
	"go.uber.org/zap"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

// RegisterHandlers wires the fulfillment workers onto the asynq mux.
func (s *Service) RegisterHandlers(mux *asynq.ServeMux) {
	mux.HandleFunc(taskname.RedemptionFulfillInstant, s.HandleFulfillInstant)
	mux.HandleFunc(taskname.BoostActivate, s.HandleBoostActivate)
	mux.HandleFunc(taskname.BoostClear, s.HandleBoostClear)
	mux.HandleFunc(taskname.DiscountActivate, s.HandleDiscountActivate)
	mux.HandleFunc(taskname.DiscountExpire, s.HandleDiscountExpire)
}

// HandleFulfillInstant stands in for the external fulfillment worker on
// instant reward types. Redelivery after the move is a no-op.
func (s *Service) HandleFulfillInstant(ctx context.Context, t *asynq.Task) error {
	var p FulfillInstantPayload
	if err := json.Unmarshal(t.Payload(), &p); err != nil {
		return err
	}

	moved, err := s.advance(ctx, p.TenantID, p.RedemptionID, StatusClaimed, StatusFulfilled,
		map[string]any{"fulfilled_at": time.Now()})
	if err != nil {
		return err
	}
	if !moved {
		zap.L().Info("instant fulfillment skipped, redemption not claimed",
			zap.String("redemption_id", p.RedemptionID))
	}
	return nil
}

// HandleBoostActivate turns a pending boost live at its scheduled time
// and schedules the expiry sweep.
func (s *Service) HandleBoostActivate(ctx context.Context, t *asynq.Task) error {
	var p BoostActivatePayload
	if err := json.Unmarshal(t.Payload(), &p); err != nil {
		return err
	}

	boost, err := s.boosts.FindOne(ctx, &CommissionBoostRedemption{TenantID: p.TenantID, RedemptionID: p.RedemptionID})
	if err != nil {
		return err
	}
	if boost == nil {
		zap.L().Warn("boost activation skipped, satellite missing",
			zap.String("redemption_id", p.RedemptionID))
		return nil
	}

	now := time.Now()
	expires := now.AddDate(0, 0, boost.DurationDays)

	res := s.db.WithContext(ctx).Model(&CommissionBoostRedemption{}).
		Where("redemption_id = ? AND tenant_id = ? AND boost_status = ?", p.RedemptionID, p.TenantID, BoostPendingInfo).
		Updates(map[string]any{
			"boost_status": BoostActive,
			"activated_at": now,
			"expires_at":   expires,
			"updated_at":   now,
		})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return nil
	}

	err = s.db.WithContext(ctx).Model(&Redemption{}).
		Where("id = ? AND tenant_id = ?", p.RedemptionID, p.TenantID).
		Updates(map[string]any{"activated_at": now, "expires_at": expires, "updated_at": now}).Error
	if err != nil {
		return err
	}

	task, err := NewBoostClearTask(BoostClearPayload{TenantID: p.TenantID, RedemptionID: p.RedemptionID})
	if err != nil {
		return err
	}
	if _, err := s.enqueuer.Enqueue(task, asynq.ProcessAt(expires), asynq.Queue("fulfillment")); err != nil {
		return err
	}

	zap.L().Info("commission boost activated",
		zap.String("tenant_id", p.TenantID),
		zap.String("redemption_id", p.RedemptionID),
		zap.Time("expires_at", expires),
	)
	return nil
}

// HandleBoostClear runs twice per boost: at expiry it parks the boost
// in pending_payout and re-enqueues itself past the returns window; on
// the second pass it clears the payout and fulfills the redemption.
func (s *Service) HandleBoostClear(ctx context.Context, t *asynq.Task) error {
	var p BoostClearPayload
	if err := json.Unmarshal(t.Payload(), &p); err != nil {
		return err
	}

	now := time.Now()

	res := s.db.WithContext(ctx).Model(&CommissionBoostRedemption{}).
		Where("redemption_id = ? AND tenant_id = ? AND boost_status = ?", p.RedemptionID, p.TenantID, BoostActive).
		Updates(map[string]any{"boost_status": BoostPendingPayout, "updated_at": now})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected > 0 {
		task, err := NewBoostClearTask(p)
		if err != nil {
			return err
		}
		clearing := time.Duration(s.cfg.Fulfillment.ClearingDays) * 24 * time.Hour
		if _, err := s.enqueuer.Enqueue(task, asynq.ProcessIn(clearing), asynq.Queue("fulfillment")); err != nil {
			return err
		}
		return nil
	}

	res = s.db.WithContext(ctx).Model(&CommissionBoostRedemption{}).
		Where("redemption_id = ? AND tenant_id = ? AND boost_status = ?", p.RedemptionID, p.TenantID, BoostPendingPayout).
		Updates(map[string]any{"boost_status": BoostFulfilled, "cleared_at": now, "updated_at": now})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return nil
	}

	if err := s.Fulfill(ctx, p.TenantID, p.RedemptionID); err != nil {
		if status.Code(err) == codes.FailedPrecondition {
			return nil
		}
		return err
	}

	zap.L().Info("commission boost payout cleared",
		zap.String("tenant_id", p.TenantID),
		zap.String("redemption_id", p.RedemptionID),
	)
	return nil
}

// HandleDiscountActivate turns a claimed discount live and schedules
// its expiry.
func (s *Service) HandleDiscountActivate(ctx context.Context, t *asynq.Task) error {
	var p DiscountActivatePayload
	if err := json.Unmarshal(t.Payload(), &p); err != nil {
		return err
	}

	row, err := s.repo.FindOne(ctx, &Redemption{ID: p.RedemptionID, TenantID: p.TenantID})
	if err != nil {
		return err
	}
	if row == nil || row.Status != StatusClaimed || row.ActivatedAt != nil {
		return nil
	}

	reward, err := s.catalog.GetReward(ctx, p.TenantID, row.RewardID)
	if err != nil {
		return err
	}
	value, err := reward.Value()
	if err != nil {
		return err
	}

	now := time.Now()
	expires := now.AddDate(0, 0, value.DurationDays)

	err = s.db.WithContext(ctx).Model(&Redemption{}).
		Where("id = ? AND tenant_id = ? AND activated_at IS NULL", p.RedemptionID, p.TenantID).
		Updates(map[string]any{"activated_at": now, "expires_at": expires, "updated_at": now}).Error
	if err != nil {
		return err
	}

	task, err := NewDiscountExpireTask(DiscountExpirePayload(p))
	if err != nil {
		return err
	}
	if _, err := s.enqueuer.Enqueue(task, asynq.ProcessAt(expires), asynq.Queue("fulfillment")); err != nil {
		return err
	}
	return nil
}

// HandleDiscountExpire fulfills a discount once its window closes.
func (s *Service) HandleDiscountExpire(ctx context.Context, t *asynq.Task) error {
	var p DiscountExpirePayload
	if err := json.Unmarshal(t.Payload(), &p); err != nil {
		return err
	}

	moved, err := s.advance(ctx, p.TenantID, p.RedemptionID, StatusClaimed, StatusFulfilled,
		map[string]any{"fulfilled_at": time.Now()})
	if err != nil {
		return err
	}
	if !moved {
		zap.L().Info("discount expiry skipped, redemption not claimed",
			zap.String("redemption_id", p.RedemptionID))
	}
	return nil
}
